/*
Package health implements the health monitor for rollout targets.

The Monitor wraps a probe.Prober and maintains an in-memory consecutive
failure streak per target. A streak resets to zero on any success. The
monitor never triggers rollback itself; stage engines and the orchestrator
query ConsecutiveFailures and decide.

Two usage modes:

  - Gate: the initial health gate run before any traffic is shifted to a
    candidate revision. Up to GateAttempts probes, GateInterval apart; one
    success passes, exhaustion fails.
  - Check: a single on-demand probe, used by stage engines at each dwell
    cadence tick. Watched targets are also polled in the background by Run.
*/
package health
