package stage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/n2nstreams/rollout/pkg/events"
	"github.com/n2nstreams/rollout/pkg/health"
	"github.com/n2nstreams/rollout/pkg/log"
	"github.com/n2nstreams/rollout/pkg/metrics"
	"github.com/n2nstreams/rollout/pkg/target"
	"github.com/n2nstreams/rollout/pkg/types"
)

// State is the engine's position in the per-region state machine
type State string

const (
	StateIdle         State = "idle"
	StateHealthGating State = "health_gating"
	StateShifting     State = "shifting"
	StateDwelling     State = "dwelling"
	StateCompleted    State = "completed"
	StateAborted      State = "aborted"
)

// Sentinel errors callers branch on to pick a rollback reason
var (
	ErrGateFailed         = errors.New("initial health gate failed")
	ErrThresholdBreached  = errors.New("health failure threshold breached")
	ErrShiftFailed        = errors.New("traffic shift failed")
	ErrConfirmationFailed = errors.New("final health confirmation failed")
)

// Config contains stage engine tuning
type Config struct {
	// RollbackThreshold is the number of failed samples within one dwell
	// window that aborts the stage
	RollbackThreshold int

	// ShiftAttempts bounds retries of the SetTraffic call per stage
	ShiftAttempts int

	// ShiftBackoff is the initial backoff between shift retries
	ShiftBackoff time.Duration

	// DefaultCadence is used when a stage does not set its own
	DefaultCadence time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		RollbackThreshold: 5,
		ShiftAttempts:     3,
		ShiftBackoff:      2 * time.Second,
		DefaultCadence:    30 * time.Second,
	}
}

// Engine advances a single region's traffic split through a stage sequence,
// consulting the health monitor during each dwell. It never rolls back
// itself; on abort it returns a sentinel error and the orchestrator invokes
// the rollback controller.
type Engine struct {
	target  target.Target
	monitor *health.Monitor
	broker  *events.Broker
	cfg     Config
	logger  zerolog.Logger

	state State
}

// NewEngine creates a stage engine
func NewEngine(tgt target.Target, monitor *health.Monitor, broker *events.Broker, cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.RollbackThreshold <= 0 {
		cfg.RollbackThreshold = def.RollbackThreshold
	}
	if cfg.ShiftAttempts <= 0 {
		cfg.ShiftAttempts = def.ShiftAttempts
	}
	if cfg.ShiftBackoff <= 0 {
		cfg.ShiftBackoff = def.ShiftBackoff
	}
	if cfg.DefaultCadence <= 0 {
		cfg.DefaultCadence = def.DefaultCadence
	}
	return &Engine{
		target:  tgt,
		monitor: monitor,
		broker:  broker,
		cfg:     cfg,
		logger:  log.WithComponent("stage"),
		state:   StateIdle,
	}
}

// State returns the engine's current state
func (e *Engine) State() State {
	return e.state
}

// Run drives the plan through the sequence. On success the plan ends
// RegionPromoted with all traffic on the candidate; on abort the plan ends
// RegionFailed and the returned error wraps one of the sentinel errors.
func (e *Engine) Run(ctx context.Context, txID string, plan *types.RegionPlan, seq types.StageSequence) error {
	logger := e.logger.With().
		Str("transaction_id", txID).
		Str("region", plan.Ref.Region).
		Str("candidate", plan.CandidateRevision).
		Logger()

	e.transition(StateHealthGating)
	plan.Status = types.RegionHealthChecking
	if err := e.monitor.Gate(ctx, plan.URL); err != nil {
		e.transition(StateAborted)
		plan.Status = types.RegionFailed
		e.emit(events.EventRegionGateFailed, txID, plan, "initial health gate failed: "+err.Error())
		return fmt.Errorf("region %s: %w: %s", plan.Ref.Region, ErrGateFailed, err)
	}
	e.emit(events.EventRegionGatePassed, txID, plan, "initial health gate passed")

	for i, st := range seq {
		plan.StageIndex = i

		e.transition(StateShifting)
		plan.Status = types.RegionShifting
		logger.Info().Int("stage", i).Int("percent", st.Percent).Msg("shifting traffic")
		e.emit(events.EventStageShifting, txID, plan, fmt.Sprintf("shifting %d%% to candidate", st.Percent))

		split := target.Split{
			Candidate: plan.CandidateRevision,
			Stable:    plan.StableRevision,
			Percent:   st.Percent,
		}
		err := target.Retry(ctx, e.cfg.ShiftAttempts, e.cfg.ShiftBackoff, func() error {
			return e.target.SetTraffic(ctx, plan.Ref, split)
		})
		if err != nil {
			e.abort(txID, plan, fmt.Sprintf("traffic shift to %d%% failed: %v", st.Percent, err))
			return fmt.Errorf("region %s stage %d: %w: %s", plan.Ref.Region, i, ErrShiftFailed, err)
		}
		plan.TrafficApplied = true
		metrics.StagePercent.WithLabelValues(plan.Ref.Service, plan.Ref.Region).Set(float64(st.Percent))

		if st.Percent == 100 {
			// The final stage has no dwell: one healthy confirmation completes it
			e.monitor.Reset(plan.URL)
			sample := e.monitor.Check(ctx, plan.URL)
			if !sample.Healthy {
				e.abort(txID, plan, "final health confirmation failed: "+sample.Message)
				return fmt.Errorf("region %s: %w: %s", plan.Ref.Region, ErrConfirmationFailed, sample.Message)
			}
			e.transition(StateCompleted)
			plan.Status = types.RegionPromoted
			logger.Info().Msg("stage sequence completed")
			e.emit(events.EventStageCompleted, txID, plan, "all stages completed, candidate at 100%")
			return nil
		}

		if err := e.dwell(ctx, txID, plan, st, logger); err != nil {
			return err
		}
		e.emit(events.EventStageCompleted, txID, plan, fmt.Sprintf("stage %d%% held for %s", st.Percent, st.Dwell))
	}

	// Unreachable when the sequence was validated (last stage is 100)
	return fmt.Errorf("region %s: stage sequence did not end at 100", plan.Ref.Region)
}

// dwell holds the current stage for its duration, sampling health at the
// cadence. The failed-sample count belongs to this window only.
func (e *Engine) dwell(ctx context.Context, txID string, plan *types.RegionPlan, st types.Stage, logger zerolog.Logger) error {
	e.transition(StateDwelling)
	e.monitor.Reset(plan.URL)

	cadence := st.Cadence.Std()
	if cadence <= 0 {
		cadence = e.cfg.DefaultCadence
	}
	dwell := st.Dwell.Std()
	if dwell <= 0 {
		return nil
	}

	failed := 0
	deadline := time.NewTimer(dwell)
	defer deadline.Stop()
	ticker := time.NewTicker(cadence)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			sample := e.monitor.Check(ctx, plan.URL)
			if sample.Healthy {
				metrics.HealthChecksTotal.WithLabelValues("success").Inc()
				continue
			}
			metrics.HealthChecksTotal.WithLabelValues("failure").Inc()
			failed++
			logger.Warn().
				Int("stage_percent", st.Percent).
				Int("failed_samples", failed).
				Int("threshold", e.cfg.RollbackThreshold).
				Msg("unhealthy sample during dwell")
			if failed >= e.cfg.RollbackThreshold {
				e.abort(txID, plan, fmt.Sprintf("%d failed samples at %d%% (threshold %d)", failed, st.Percent, e.cfg.RollbackThreshold))
				return fmt.Errorf("region %s stage %d%%: %w", plan.Ref.Region, st.Percent, ErrThresholdBreached)
			}
		case <-deadline.C:
			return nil
		case <-ctx.Done():
			e.abort(txID, plan, "cancelled during dwell")
			return ctx.Err()
		}
	}
}

func (e *Engine) abort(txID string, plan *types.RegionPlan, msg string) {
	e.transition(StateAborted)
	plan.Status = types.RegionFailed
	metrics.StagesAborted.WithLabelValues(plan.Ref.Service, plan.Ref.Region).Inc()
	e.emit(events.EventStageAborted, txID, plan, msg)
}

func (e *Engine) transition(to State) {
	if e.state != to {
		e.logger.Debug().Str("from", string(e.state)).Str("to", string(to)).Msg("state transition")
		e.state = to
	}
}

func (e *Engine) emit(t events.EventType, txID string, plan *types.RegionPlan, msg string) {
	if e.broker == nil {
		return
	}
	e.broker.Emit(&events.Event{
		Type:          t,
		TransactionID: txID,
		Region:        plan.Ref.Region,
		Service:       plan.Ref.Service,
		Message:       msg,
		Metadata: map[string]string{
			"state":       string(e.state),
			"stage_index": strconv.Itoa(plan.StageIndex),
			"candidate":   plan.CandidateRevision,
			"stable":      plan.StableRevision,
		},
	})
}
