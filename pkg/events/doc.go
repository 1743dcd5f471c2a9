/*
Package events implements the observability sink for the rollout controller.

A Broker fans rollout events out to subscribers over buffered channels.
Producers (orchestrator, stage engines, rollback controller, SLO watcher)
call Emit; consumers Subscribe and read until Unsubscribe. Slow subscribers
are skipped rather than blocking the rollout.

Event types cover the full lifecycle: transaction start and completion,
per-region deploys and health gates, stage transitions, rollbacks, revision
pruning, and SLO burn signals.
*/
package events
