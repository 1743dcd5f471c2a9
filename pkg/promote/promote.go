package promote

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/n2nstreams/rollout/pkg/events"
	"github.com/n2nstreams/rollout/pkg/log"
	"github.com/n2nstreams/rollout/pkg/metrics"
	"github.com/n2nstreams/rollout/pkg/store"
	"github.com/n2nstreams/rollout/pkg/target"
	"github.com/n2nstreams/rollout/pkg/types"
)

// Config contains promotion and retention tuning
type Config struct {
	// Retention is how many revisions to keep per service
	Retention int

	// TagAttempts bounds retries of the stable-label swap
	TagAttempts int

	// TagBackoff is the initial wait between tag retries
	TagBackoff time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		Retention:   5,
		TagAttempts: 3,
		TagBackoff:  2 * time.Second,
	}
}

// Manager re-labels promoted revisions as stable and prunes old unreferenced
// revisions beyond the retention count
type Manager struct {
	target target.Target
	broker *events.Broker
	store  store.Store
	cfg    Config
	logger zerolog.Logger
}

// NewManager creates a promotion manager. st may be nil; without it, failed
// deletions are only logged and promotions are not remembered for the SLO
// watcher.
func NewManager(tgt target.Target, broker *events.Broker, st store.Store, cfg Config) *Manager {
	def := DefaultConfig()
	if cfg.Retention <= 0 {
		cfg.Retention = def.Retention
	}
	if cfg.TagAttempts <= 0 {
		cfg.TagAttempts = def.TagAttempts
	}
	if cfg.TagBackoff <= 0 {
		cfg.TagBackoff = def.TagBackoff
	}
	return &Manager{
		target: tgt,
		broker: broker,
		store:  st,
		cfg:    cfg,
		logger: log.WithComponent("promote"),
	}
}

// Promote swaps the stable label onto the candidate revision. Traffic is
// already fully on the candidate from the final stage; this is a label
// change only. The prior stable revision is recorded as the emergency
// rollback target.
func (m *Manager) Promote(ctx context.Context, txID string, plan *types.RegionPlan) error {
	logger := m.logger.With().
		Str("transaction_id", txID).
		Str("region", plan.Ref.Region).
		Str("service", plan.Ref.Service).
		Logger()

	err := target.Retry(ctx, m.cfg.TagAttempts, m.cfg.TagBackoff, func() error {
		return m.target.Tag(ctx, plan.Ref, plan.CandidateRevision, target.StableTag)
	})
	if err != nil {
		return fmt.Errorf("failed to tag %s as stable in %s: %w", plan.CandidateRevision, plan.Ref, err)
	}
	logger.Info().
		Str("revision", plan.CandidateRevision).
		Str("prior_stable", plan.StableRevision).
		Msg("revision promoted to stable")

	if m.store != nil {
		promotion := &types.Promotion{
			Ref:              plan.Ref,
			TransactionID:    txID,
			PromotedRevision: plan.CandidateRevision,
			PriorStable:      plan.StableRevision,
			Timestamp:        time.Now(),
		}
		if err := m.store.SavePromotion(promotion); err != nil {
			logger.Error().Err(err).Msg("failed to record promotion")
		}
	}

	if m.broker != nil {
		m.broker.Emit(&events.Event{
			Type:          events.EventRegionPromoted,
			TransactionID: txID,
			Region:        plan.Ref.Region,
			Service:       plan.Ref.Service,
			Message:       fmt.Sprintf("revision %s promoted to stable", plan.CandidateRevision),
			Metadata: map[string]string{
				"revision":     plan.CandidateRevision,
				"prior_stable": plan.StableRevision,
			},
		})
	}

	return m.Prune(ctx, plan.Ref)
}

// Prune deletes the oldest zero-traffic revisions until the service is back
// within the retention count. Revisions carrying traffic are never deleted
// regardless of age; the deletion shifts to the next-oldest zero-traffic
// revision instead. Failures are non-fatal and retried on the next cycle.
func (m *Manager) Prune(ctx context.Context, ref types.ServiceRef) error {
	logger := m.logger.With().Str("service", ref.String()).Logger()

	m.retryPending(ctx, ref, logger)

	revisions, err := m.target.ListRevisions(ctx, ref)
	if err != nil {
		return fmt.Errorf("failed to list revisions of %s: %w", ref, err)
	}

	excess := len(revisions) - m.cfg.Retention
	if excess <= 0 {
		return nil
	}

	// Oldest first
	sort.Slice(revisions, func(i, j int) bool {
		return revisions[i].CreatedAt.Before(revisions[j].CreatedAt)
	})

	deleted := 0
	for _, rev := range revisions {
		if deleted >= excess {
			break
		}
		if rev.TrafficPercent > 0 {
			logger.Debug().
				Str("revision", rev.Name).
				Int("traffic_percent", rev.TrafficPercent).
				Msg("revision carries traffic, preserved")
			continue
		}
		if err := m.deleteRevision(ctx, ref, rev.Name, logger); err == nil {
			deleted++
		}
	}
	return nil
}

// retryPending retries deletions that failed on an earlier promotion cycle
func (m *Manager) retryPending(ctx context.Context, ref types.ServiceRef, logger zerolog.Logger) {
	if m.store == nil {
		return
	}
	pending, err := m.store.ListPendingDeletions(ref)
	if err != nil {
		logger.Error().Err(err).Msg("failed to list pending deletions")
		return
	}
	for _, revision := range pending {
		rev, err := m.target.Describe(ctx, ref, revision)
		if err != nil {
			// Already gone; clear the carry-over
			_ = m.store.RemovePendingDeletion(ref, revision)
			continue
		}
		if rev.TrafficPercent > 0 {
			continue
		}
		_ = m.deleteRevision(ctx, ref, revision, logger)
	}
}

func (m *Manager) deleteRevision(ctx context.Context, ref types.ServiceRef, revision string, logger zerolog.Logger) error {
	if err := m.target.DeleteRevision(ctx, ref, revision); err != nil {
		logger.Warn().Err(err).
			Str("revision", revision).
			Msg("revision deletion failed, will retry on next promotion cycle")
		if m.store != nil {
			if serr := m.store.AddPendingDeletion(ref, revision); serr != nil {
				logger.Error().Err(serr).Msg("failed to record pending deletion")
			}
		}
		return err
	}

	metrics.RevisionsPruned.Inc()
	logger.Info().Str("revision", revision).Msg("revision pruned")
	if m.store != nil {
		_ = m.store.RemovePendingDeletion(ref, revision)
	}
	if m.broker != nil {
		m.broker.Emit(&events.Event{
			Type:    events.EventRevisionPruned,
			Region:  ref.Region,
			Service: ref.Service,
			Message: fmt.Sprintf("revision %s pruned", revision),
		})
	}
	return nil
}
