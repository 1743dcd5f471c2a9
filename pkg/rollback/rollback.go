package rollback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/n2nstreams/rollout/pkg/events"
	"github.com/n2nstreams/rollout/pkg/log"
	"github.com/n2nstreams/rollout/pkg/metrics"
	"github.com/n2nstreams/rollout/pkg/target"
	"github.com/n2nstreams/rollout/pkg/types"
)

// ErrRollbackFailed marks a rollback whose traffic call failed after all
// retries. A region left at partial candidate traffic is the worst outcome,
// so this is escalated, never silently dropped.
var ErrRollbackFailed = errors.New("rollback traffic call failed")

// Recorder persists rollback events. Implemented by the audit store.
type Recorder interface {
	AppendRollbackEvent(event *types.RollbackEvent) error
}

// Config contains rollback retry policy
type Config struct {
	// Attempts bounds retries of the destructive traffic call
	Attempts int

	// Backoff is the initial wait between attempts
	Backoff time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		Attempts: 3,
		Backoff:  2 * time.Second,
	}
}

// Controller reverts a region's traffic to its last-known-stable revision.
// It is the shared entry point for stage-failure, manual, and SLO-burn
// rollbacks, safe to invoke concurrently: calls are serialized per target
// and repeating a completed rollback is a no-op.
type Controller struct {
	target   target.Target
	broker   *events.Broker
	recorder Recorder
	cfg      Config
	logger   zerolog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
	done  map[string]bool
}

// NewController creates a rollback controller. recorder may be nil.
func NewController(tgt target.Target, broker *events.Broker, recorder Recorder, cfg Config) *Controller {
	def := DefaultConfig()
	if cfg.Attempts <= 0 {
		cfg.Attempts = def.Attempts
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = def.Backoff
	}
	return &Controller{
		target:   tgt,
		broker:   broker,
		recorder: recorder,
		cfg:      cfg,
		logger:   log.WithComponent("rollback"),
		locks:    make(map[string]*sync.Mutex),
		done:     make(map[string]bool),
	}
}

// Rollback sets the candidate's traffic to 0% and the stable revision to
// 100% in a single idempotent call. A RollbackEvent is emitted and recorded
// whether or not the underlying call succeeds; exhausted retries return
// ErrRollbackFailed.
func (c *Controller) Rollback(ctx context.Context, txID string, plan *types.RegionPlan, reason types.RollbackReason) (*types.RollbackEvent, error) {
	lock := c.targetLock(plan.Ref)
	lock.Lock()
	defer lock.Unlock()

	logger := c.logger.With().
		Str("transaction_id", txID).
		Str("region", plan.Ref.Region).
		Str("service", plan.Ref.Service).
		Str("reason", string(reason)).
		Logger()

	event := &types.RollbackEvent{
		ID:            uuid.New().String(),
		TransactionID: txID,
		Ref:           plan.Ref,
		Reason:        reason,
		RevertedTo:    plan.StableRevision,
		Timestamp:     time.Now(),
	}

	key := plan.Ref.Name() + "@" + plan.CandidateRevision
	switch {
	case c.isDone(key):
		// Already reverted; repeating is a no-op
		logger.Info().Msg("rollback already applied, skipping traffic call")
	case !plan.Shifted():
		// The candidate never received traffic, nothing to revert
		logger.Info().Msg("candidate is traffic-dark, no traffic change needed")
		c.markDone(key)
	default:
		split := target.Split{
			Candidate: plan.CandidateRevision,
			Stable:    plan.StableRevision,
			Percent:   0,
		}
		logger.Warn().
			Str("candidate", plan.CandidateRevision).
			Str("stable", plan.StableRevision).
			Msg("reverting traffic to stable revision")

		err := target.Retry(ctx, c.cfg.Attempts, c.cfg.Backoff, func() error {
			return c.target.SetTraffic(ctx, plan.Ref, split)
		})
		if err != nil {
			event.Error = err.Error()
			c.finish(event, plan, logger)
			metrics.RollbackFailures.Inc()
			logger.Error().Err(err).Int("attempts", c.cfg.Attempts).
				Msg("rollback traffic call failed, region left at partial candidate traffic")
			return event, fmt.Errorf("region %s: %w after %d attempts: %s", plan.Ref.Region, ErrRollbackFailed, c.cfg.Attempts, err)
		}
		c.markDone(key)
		metrics.StagePercent.WithLabelValues(plan.Ref.Service, plan.Ref.Region).Set(0)
	}

	c.finish(event, plan, logger)
	return event, nil
}

// finish emits and records the event and settles the plan status
func (c *Controller) finish(event *types.RollbackEvent, plan *types.RegionPlan, logger zerolog.Logger) {
	if event.Error == "" {
		plan.Status = types.RegionRolledBack
	} else {
		plan.Status = types.RegionFailed
	}
	metrics.RollbacksTotal.WithLabelValues(string(event.Reason)).Inc()

	if c.recorder != nil {
		if err := c.recorder.AppendRollbackEvent(event); err != nil {
			logger.Error().Err(err).Msg("failed to record rollback event")
		}
	}
	if c.broker != nil {
		t := events.EventRollbackExecuted
		if event.Error != "" {
			t = events.EventRollbackFailed
		}
		c.broker.Emit(&events.Event{
			Type:          t,
			TransactionID: event.TransactionID,
			Region:        event.Ref.Region,
			Service:       event.Ref.Service,
			Message:       fmt.Sprintf("rollback (%s) to revision %s", event.Reason, event.RevertedTo),
			Metadata: map[string]string{
				"reason":      string(event.Reason),
				"reverted_to": event.RevertedTo,
				"error":       event.Error,
			},
		})
	}
}

func (c *Controller) isDone(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done[key]
}

func (c *Controller) markDone(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.done[key] = true
}

func (c *Controller) targetLock(ref types.ServiceRef) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := ref.Name()
	if _, ok := c.locks[key]; !ok {
		c.locks[key] = &sync.Mutex{}
	}
	return c.locks[key]
}
