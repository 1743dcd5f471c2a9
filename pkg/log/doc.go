/*
Package log provides structured logging for the rollout controller.

It wraps zerolog with a global logger, console or JSON output, and helpers
for attaching the fields used throughout the codebase (component,
transaction_id, region, service).

Usage:

	log.Init(log.Config{Level: log.InfoLevel})
	logger := log.WithComponent("orchestrator")
	logger.Info().Str("transaction_id", tx.ID).Msg("transaction started")
*/
package log
