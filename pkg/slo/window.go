package slo

import (
	"sync"
	"time"
)

type budgetSample struct {
	at    time.Time
	good  float64
	total float64
}

// ErrorBudgetWindow is a rolling window of request outcome counts for one
// service. It is continuously updated by the watcher and never owned by a
// deployment transaction.
type ErrorBudgetWindow struct {
	mu      sync.Mutex
	horizon time.Duration
	samples []budgetSample
}

// NewErrorBudgetWindow creates a window keeping samples for the horizon
func NewErrorBudgetWindow(horizon time.Duration) *ErrorBudgetWindow {
	return &ErrorBudgetWindow{horizon: horizon}
}

// Add records an outcome count batch observed at the given time
func (w *ErrorBudgetWindow) Add(at time.Time, good, total float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.samples = append(w.samples, budgetSample{at: at, good: good, total: total})
	w.prune(at)
}

// ErrorRate returns the observed error rate over the lookback period ending
// at now. ok is false when no requests were observed.
func (w *ErrorBudgetWindow) ErrorRate(now time.Time, lookback time.Duration) (rate float64, ok bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prune(now)

	cutoff := now.Add(-lookback)
	var good, total float64
	for _, s := range w.samples {
		if s.at.Before(cutoff) {
			continue
		}
		good += s.good
		total += s.total
	}
	if total <= 0 {
		return 0, false
	}
	return (total - good) / total, true
}

// prune drops samples older than the horizon; callers hold the lock
func (w *ErrorBudgetWindow) prune(now time.Time) {
	cutoff := now.Add(-w.horizon)
	keep := w.samples[:0]
	for _, s := range w.samples {
		if !s.at.Before(cutoff) {
			keep = append(keep, s)
		}
	}
	w.samples = keep
}

// BurnRate converts an observed error rate into a burn rate against the SLO
// goal: how many times faster than budgeted the error budget is being
// consumed. A goal of 0.99 implies a 1% budget; an observed 14.4% error
// rate burns at 14.4x.
func BurnRate(errorRate, goal float64) float64 {
	budget := 1 - goal
	if budget <= 0 {
		return 0
	}
	return errorRate / budget
}
