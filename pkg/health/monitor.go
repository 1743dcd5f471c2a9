package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/n2nstreams/rollout/pkg/log"
	"github.com/n2nstreams/rollout/pkg/probe"
	"github.com/n2nstreams/rollout/pkg/types"
)

// Config contains health monitoring configuration
type Config struct {
	// Interval is the time between background polls of a watched target
	Interval time.Duration

	// Timeout is the maximum time for a single probe call
	Timeout time.Duration

	// GateAttempts is how many probes the initial health gate makes before
	// declaring the target unhealthy
	GateAttempts int

	// GateInterval is the wait between initial-gate attempts
	GateInterval time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		Interval:     30 * time.Second,
		Timeout:      10 * time.Second,
		GateAttempts: 10,
		GateInterval: 10 * time.Second,
	}
}

// Monitor tracks per-target consecutive failure streaks from probe samples.
// It only answers queries; it never triggers rollback itself.
type Monitor struct {
	prober probe.Prober
	cfg    Config
	logger zerolog.Logger

	mu      sync.Mutex
	streaks map[string]int
	watched map[string]struct{}
}

// NewMonitor creates a monitor backed by the given prober
func NewMonitor(prober probe.Prober, cfg Config) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if cfg.GateAttempts <= 0 {
		cfg.GateAttempts = DefaultConfig().GateAttempts
	}
	if cfg.GateInterval <= 0 {
		cfg.GateInterval = DefaultConfig().GateInterval
	}
	return &Monitor{
		prober:  prober,
		cfg:     cfg,
		logger:  log.WithComponent("health"),
		streaks: make(map[string]int),
		watched: make(map[string]struct{}),
	}
}

// Check probes the target once and updates its failure streak
func (m *Monitor) Check(ctx context.Context, target string) types.HealthSample {
	cctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	res := m.prober.Ping(cctx, target)

	m.mu.Lock()
	if res.OK {
		m.streaks[target] = 0
	} else {
		m.streaks[target]++
	}
	streak := m.streaks[target]
	m.mu.Unlock()

	if !res.OK {
		m.logger.Debug().
			Str("target", target).
			Int("consecutive_failures", streak).
			Str("message", res.Message).
			Msg("health check failed")
	}

	return types.HealthSample{
		Target:    target,
		Timestamp: res.CheckedAt,
		Healthy:   res.OK,
		Latency:   res.Latency,
		Message:   res.Message,
	}
}

// ConsecutiveFailures returns the current failure streak for the target
func (m *Monitor) ConsecutiveFailures(target string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.streaks[target]
}

// Reset clears the failure streak for the target.
// Stage engines reset streaks deterministically at stage boundaries.
func (m *Monitor) Reset(target string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streaks[target] = 0
}

// Gate runs the initial health gate: the target must answer a probe within
// GateAttempts tries, GateInterval apart. A single success passes the gate and
// resets the streak; exhausting all attempts fails it.
func (m *Monitor) Gate(ctx context.Context, target string) error {
	for attempt := 1; attempt <= m.cfg.GateAttempts; attempt++ {
		sample := m.Check(ctx, target)
		if sample.Healthy {
			m.Reset(target)
			m.logger.Info().
				Str("target", target).
				Int("attempt", attempt).
				Dur("latency", sample.Latency).
				Msg("initial health gate passed")
			return nil
		}

		m.logger.Warn().
			Str("target", target).
			Int("attempt", attempt).
			Int("max_attempts", m.cfg.GateAttempts).
			Str("message", sample.Message).
			Msg("initial health gate attempt failed")

		if attempt == m.cfg.GateAttempts {
			break
		}
		select {
		case <-time.After(m.cfg.GateInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("target %s failed initial health gate after %d attempts", target, m.cfg.GateAttempts)
}

// Watch registers a target for background polling
func (m *Monitor) Watch(target string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.watched[target] = struct{}{}
}

// Unwatch removes a target from background polling and clears its streak
func (m *Monitor) Unwatch(target string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.watched, target)
	delete(m.streaks, target)
}

// Run polls every watched target at the configured interval until the context
// is cancelled. Targets are probed concurrently so a slow target never delays
// the others.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.pollWatched(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (m *Monitor) pollWatched(ctx context.Context) {
	m.mu.Lock()
	targets := make([]string, 0, len(m.watched))
	for t := range m.watched {
		targets = append(targets, t)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, target := range targets {
		wg.Add(1)
		go func(t string) {
			defer wg.Done()
			m.Check(ctx, t)
		}(target)
	}
	wg.Wait()
}
