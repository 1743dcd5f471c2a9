/*
Package slo implements the error-budget burn-rate watcher.

Each monitored service has a rolling ErrorBudgetWindow of good/total request
counts fed from a MetricsSource (Prometheus in production). Burn rate is the
observed error rate divided by the budget implied by the SLO goal: with a
99% goal, a 14.4x burn consumes a week's budget in under 12 hours.

The watcher runs as a long-lived loop independent of any deployment
transaction. A fast burn sustained past the configured duration triggers
exactly one emergency rollback of the currently promoted revision through
the shared rollback controller (reason slo_burn). A lower slow-burn
threshold emits a warning-only signal.
*/
package slo
