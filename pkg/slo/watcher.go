package slo

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/n2nstreams/rollout/pkg/events"
	"github.com/n2nstreams/rollout/pkg/log"
	"github.com/n2nstreams/rollout/pkg/metrics"
	"github.com/n2nstreams/rollout/pkg/store"
	"github.com/n2nstreams/rollout/pkg/target"
	"github.com/n2nstreams/rollout/pkg/types"
)

// Config contains SLO watcher tuning. Defaults follow the classic
// fast-burn alert: a 1h lookback against a 99% weekly goal, where 14.4x
// means burning a week's budget in under 12 hours.
type Config struct {
	// Goal is the SLO target, e.g. 0.99 over the Window
	Goal float64

	// Window is the SLO period the goal applies to
	Window time.Duration

	// Lookback is the short horizon burn rate is computed over
	Lookback time.Duration

	// FastBurn triggers emergency rollback when sustained
	FastBurn float64

	// SlowBurn emits a warning-only signal
	SlowBurn float64

	// Sustain is how long FastBurn must hold before rollback
	Sustain time.Duration

	// Interval is the poll cadence of the metrics source
	Interval time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		Goal:     0.99,
		Window:   7 * 24 * time.Hour,
		Lookback: time.Hour,
		FastBurn: 14.4,
		SlowBurn: 6.0,
		Sustain:  10 * time.Minute,
		Interval: time.Minute,
	}
}

// RollbackTrigger is the rollback controller's shared entry point
type RollbackTrigger interface {
	Rollback(ctx context.Context, txID string, plan *types.RegionPlan, reason types.RollbackReason) (*types.RollbackEvent, error)
}

type monitored struct {
	ref       types.ServiceRef
	window    *ErrorBudgetWindow
	burnSince time.Time
	triggered bool
}

// Watcher is the independent, longer-horizon SLO burn-rate monitor. It runs
// outside any deployment transaction and can trigger emergency rollback on
// the currently promoted revision at any time.
type Watcher struct {
	source   MetricsSource
	trigger  RollbackTrigger
	tgt      target.Target
	st       store.Store
	broker   *events.Broker
	cfg      Config
	logger   zerolog.Logger
	nowFn    func() time.Time

	mu       sync.Mutex
	services map[string]*monitored
}

// NewWatcher creates an SLO burn-rate watcher. st may be nil; without it the
// rollback target is resolved from the deployment target's revision list.
func NewWatcher(source MetricsSource, trigger RollbackTrigger, tgt target.Target, st store.Store, broker *events.Broker, cfg Config) *Watcher {
	def := DefaultConfig()
	if cfg.Goal <= 0 || cfg.Goal >= 1 {
		cfg.Goal = def.Goal
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = def.Lookback
	}
	if cfg.FastBurn <= 0 {
		cfg.FastBurn = def.FastBurn
	}
	if cfg.SlowBurn <= 0 {
		cfg.SlowBurn = def.SlowBurn
	}
	if cfg.Sustain <= 0 {
		cfg.Sustain = def.Sustain
	}
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	return &Watcher{
		source:   source,
		trigger:  trigger,
		tgt:      tgt,
		st:       st,
		broker:   broker,
		cfg:      cfg,
		logger:   log.WithComponent("slo"),
		nowFn:    time.Now,
		services: make(map[string]*monitored),
	}
}

// Monitor registers a service for burn-rate watching
func (w *Watcher) Monitor(ref types.ServiceRef) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.services[ref.Name()]; ok {
		return
	}
	w.services[ref.Name()] = &monitored{
		ref:    ref,
		window: NewErrorBudgetWindow(w.cfg.Lookback),
	}
}

// Run polls the metrics source until the context is cancelled
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.evaluateAll(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (w *Watcher) evaluateAll(ctx context.Context) {
	w.mu.Lock()
	svcs := make([]*monitored, 0, len(w.services))
	for _, m := range w.services {
		svcs = append(svcs, m)
	}
	w.mu.Unlock()

	for _, m := range svcs {
		w.evaluate(ctx, m)
	}
}

// evaluate polls one service, updates its budget window and acts on the
// burn rate
func (w *Watcher) evaluate(ctx context.Context, m *monitored) {
	now := w.nowFn()

	good, total, err := w.source.GoodTotalRatio(ctx, m.ref.Service, w.cfg.Interval)
	if err != nil {
		w.logger.Error().Err(err).Str("service", m.ref.String()).Msg("metrics source query failed")
		return
	}
	m.window.Add(now, good, total)

	errorRate, ok := m.window.ErrorRate(now, w.cfg.Lookback)
	if !ok {
		return
	}
	burn := BurnRate(errorRate, w.cfg.Goal)
	metrics.BurnRate.WithLabelValues(m.ref.Service).Set(burn)

	logger := w.logger.With().
		Str("service", m.ref.String()).
		Float64("burn_rate", burn).
		Float64("error_rate", errorRate).
		Logger()

	if burn < w.cfg.FastBurn {
		m.burnSince = time.Time{}
		m.triggered = false
		if burn >= w.cfg.SlowBurn {
			metrics.BurnSignals.WithLabelValues("slow").Inc()
			logger.Warn().Float64("threshold", w.cfg.SlowBurn).Msg("slow budget burn detected")
			w.emit(events.EventSLOSlowBurn, m.ref, fmt.Sprintf("burn rate %.1fx exceeds slow-burn threshold %.1fx", burn, w.cfg.SlowBurn))
		}
		return
	}

	if m.burnSince.IsZero() {
		m.burnSince = now
	}
	sustained := now.Sub(m.burnSince)
	logger.Warn().
		Float64("threshold", w.cfg.FastBurn).
		Dur("sustained", sustained).
		Dur("required", w.cfg.Sustain).
		Msg("fast budget burn detected")

	if sustained < w.cfg.Sustain || m.triggered {
		return
	}

	m.triggered = true
	metrics.BurnSignals.WithLabelValues("fast").Inc()
	w.emit(events.EventSLOFastBurn, m.ref, fmt.Sprintf("burn rate %.1fx sustained for %s, triggering emergency rollback", burn, sustained))

	plan, err := w.resolvePlan(ctx, m.ref)
	if err != nil {
		logger.Error().Err(err).Msg("cannot resolve rollback target for emergency rollback")
		return
	}
	if _, err := w.trigger.Rollback(ctx, "", plan, types.ReasonSLOBurn); err != nil {
		logger.Error().Err(err).Msg("emergency rollback failed")
		return
	}
	logger.Warn().
		Str("reverted_to", plan.StableRevision).
		Msg("emergency rollback executed")
}

// resolvePlan determines which revision is live and what to revert to. The
// latest recorded promotion is authoritative; without one, the revision list
// is consulted: the live revision is drained back to the newest older
// revision.
func (w *Watcher) resolvePlan(ctx context.Context, ref types.ServiceRef) (*types.RegionPlan, error) {
	if w.st != nil {
		if p, err := w.st.LatestPromotion(ref); err == nil {
			return &types.RegionPlan{
				Ref:               ref,
				CandidateRevision: p.PromotedRevision,
				StableRevision:    p.PriorStable,
				Status:            types.RegionShifting,
				TrafficApplied:    true,
			}, nil
		}
	}

	if w.tgt == nil {
		return nil, fmt.Errorf("no promotion record and no target to resolve %s", ref)
	}
	revisions, err := w.tgt.ListRevisions(ctx, ref)
	if err != nil {
		return nil, err
	}
	sort.Slice(revisions, func(i, j int) bool {
		return revisions[i].CreatedAt.After(revisions[j].CreatedAt)
	})

	var live, prior string
	for _, rev := range revisions {
		if rev.TrafficPercent > 0 && live == "" {
			live = rev.Name
			continue
		}
		if live != "" {
			prior = rev.Name
			break
		}
	}
	if live == "" || prior == "" {
		return nil, fmt.Errorf("no rollback target found for %s", ref)
	}
	return &types.RegionPlan{
		Ref:               ref,
		CandidateRevision: live,
		StableRevision:    prior,
		Status:            types.RegionShifting,
		TrafficApplied:    true,
	}, nil
}

func (w *Watcher) emit(t events.EventType, ref types.ServiceRef, msg string) {
	if w.broker == nil {
		return
	}
	w.broker.Emit(&events.Event{
		Type:    t,
		Region:  ref.Region,
		Service: ref.Service,
		Message: msg,
	})
}
