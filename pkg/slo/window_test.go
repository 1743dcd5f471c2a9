package slo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestErrorRateOverLookback(t *testing.T) {
	w := NewErrorBudgetWindow(time.Hour)
	now := time.Now()

	w.Add(now.Add(-30*time.Minute), 90, 100)
	w.Add(now.Add(-10*time.Minute), 95, 100)

	rate, ok := w.ErrorRate(now, time.Hour)
	assert.True(t, ok)
	assert.InDelta(t, 0.075, rate, 1e-9) // 15 errors / 200 requests

	// A shorter lookback only sees the recent sample
	rate, ok = w.ErrorRate(now, 15*time.Minute)
	assert.True(t, ok)
	assert.InDelta(t, 0.05, rate, 1e-9)
}

func TestErrorRateNoTraffic(t *testing.T) {
	w := NewErrorBudgetWindow(time.Hour)
	now := time.Now()

	_, ok := w.ErrorRate(now, time.Hour)
	assert.False(t, ok, "empty window has no rate")

	w.Add(now, 0, 0)
	_, ok = w.ErrorRate(now, time.Hour)
	assert.False(t, ok, "zero requests has no rate")
}

func TestWindowPrunesOldSamples(t *testing.T) {
	w := NewErrorBudgetWindow(30 * time.Minute)
	now := time.Now()

	w.Add(now.Add(-time.Hour), 0, 100) // all errors, but too old
	w.Add(now, 100, 100)

	rate, ok := w.ErrorRate(now, time.Hour)
	assert.True(t, ok)
	assert.Zero(t, rate, "expired sample must not count")
}

func TestBurnRate(t *testing.T) {
	tests := []struct {
		name      string
		errorRate float64
		goal      float64
		want      float64
	}{
		{"exactly on budget", 0.01, 0.99, 1.0},
		{"fast burn", 0.144, 0.99, 14.4},
		{"no errors", 0, 0.99, 0},
		{"tighter goal burns faster", 0.01, 0.999, 10.0},
		{"degenerate goal", 0.5, 1.0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, BurnRate(tt.errorRate, tt.goal), 1e-9)
		})
	}
}
