package health

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/n2nstreams/rollout/pkg/probe"
)

// scriptedProber returns a fixed sequence of results, then repeats the last
type scriptedProber struct {
	mu      sync.Mutex
	results []bool
	calls   int
}

func (p *scriptedProber) Ping(ctx context.Context, url string) probe.Result {
	p.mu.Lock()
	defer p.mu.Unlock()

	i := p.calls
	if i >= len(p.results) {
		i = len(p.results) - 1
	}
	p.calls++

	ok := p.results[i]
	msg := ""
	if !ok {
		msg = "scripted failure"
	}
	return probe.Result{OK: ok, Message: msg, CheckedAt: time.Now(), Latency: time.Millisecond}
}

func fastConfig() Config {
	return Config{
		Interval:     10 * time.Millisecond,
		Timeout:      time.Second,
		GateAttempts: 3,
		GateInterval: time.Millisecond,
	}
}

func TestMonitorStreaks(t *testing.T) {
	prober := &scriptedProber{results: []bool{false, false, true, false}}
	m := NewMonitor(prober, fastConfig())
	ctx := context.Background()

	m.Check(ctx, "svc")
	m.Check(ctx, "svc")
	assert.Equal(t, 2, m.ConsecutiveFailures("svc"))

	// A success resets the streak
	sample := m.Check(ctx, "svc")
	assert.True(t, sample.Healthy)
	assert.Equal(t, 0, m.ConsecutiveFailures("svc"))

	m.Check(ctx, "svc")
	assert.Equal(t, 1, m.ConsecutiveFailures("svc"))
}

func TestMonitorStreaksPerTarget(t *testing.T) {
	prober := &scriptedProber{results: []bool{false}}
	m := NewMonitor(prober, fastConfig())
	ctx := context.Background()

	m.Check(ctx, "a")
	m.Check(ctx, "a")
	m.Check(ctx, "b")

	assert.Equal(t, 2, m.ConsecutiveFailures("a"))
	assert.Equal(t, 1, m.ConsecutiveFailures("b"))

	m.Reset("a")
	assert.Equal(t, 0, m.ConsecutiveFailures("a"))
	assert.Equal(t, 1, m.ConsecutiveFailures("b"))
}

func TestGatePassesOnFirstSuccess(t *testing.T) {
	prober := &scriptedProber{results: []bool{true}}
	m := NewMonitor(prober, fastConfig())

	err := m.Gate(context.Background(), "svc")
	require.NoError(t, err)
	assert.Equal(t, 1, prober.calls)
	assert.Equal(t, 0, m.ConsecutiveFailures("svc"))
}

func TestGatePassesAfterTransientFailures(t *testing.T) {
	// Two failures, then healthy on the final allowed attempt
	prober := &scriptedProber{results: []bool{false, false, true}}
	m := NewMonitor(prober, fastConfig())

	err := m.Gate(context.Background(), "svc")
	require.NoError(t, err)
	assert.Equal(t, 3, prober.calls)

	// A passed gate leaves no residual streak
	assert.Equal(t, 0, m.ConsecutiveFailures("svc"))
}

func TestGateFailsAfterAllAttempts(t *testing.T) {
	prober := &scriptedProber{results: []bool{false}}
	m := NewMonitor(prober, fastConfig())

	err := m.Gate(context.Background(), "svc")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "initial health gate")
	assert.Equal(t, 3, prober.calls)
}

func TestGateRespectsCancellation(t *testing.T) {
	prober := &scriptedProber{results: []bool{false}}
	cfg := fastConfig()
	cfg.GateInterval = time.Hour
	m := NewMonitor(prober, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := m.Gate(ctx, "svc")
	require.ErrorIs(t, err, context.Canceled)
}

func TestMonitorRunPollsWatchedTargets(t *testing.T) {
	prober := &scriptedProber{results: []bool{false}}
	m := NewMonitor(prober, fastConfig())
	m.Watch("svc")

	ctx, cancel := context.WithCancel(context.Background())
	go m.Run(ctx)

	assert.Eventually(t, func() bool {
		return m.ConsecutiveFailures("svc") >= 2
	}, time.Second, 5*time.Millisecond)
	cancel()

	m.Unwatch("svc")
	assert.Equal(t, 0, m.ConsecutiveFailures("svc"))
}
