// Package config loads the controller configuration and rollout spec files
// from YAML.
package config
