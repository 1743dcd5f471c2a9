/*
Package metrics exposes Prometheus instrumentation for the rollout
controller: transaction outcomes and durations, per-region stage progress,
rollback counts by reason, health probe outcomes, SLO burn rate, and
retention pruning. Collectors are registered at init; Handler serves the
exposition endpoint on the watcher daemon.
*/
package metrics
