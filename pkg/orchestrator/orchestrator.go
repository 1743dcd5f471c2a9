package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/n2nstreams/rollout/pkg/events"
	"github.com/n2nstreams/rollout/pkg/health"
	"github.com/n2nstreams/rollout/pkg/log"
	"github.com/n2nstreams/rollout/pkg/metrics"
	"github.com/n2nstreams/rollout/pkg/promote"
	"github.com/n2nstreams/rollout/pkg/rollback"
	"github.com/n2nstreams/rollout/pkg/stage"
	"github.com/n2nstreams/rollout/pkg/store"
	"github.com/n2nstreams/rollout/pkg/target"
	"github.com/n2nstreams/rollout/pkg/types"
)

// Config contains orchestrator tuning
type Config struct {
	// Workers bounds the parallelism of the dark-deploy and initial-gate
	// steps; everything after is strictly sequential
	Workers int

	// DeployAttempts bounds retries of the per-region deploy call
	DeployAttempts int

	// DeployBackoff is the initial wait between deploy retries
	DeployBackoff time.Duration

	// HealthPath is appended to each region's service URL to form the
	// probe endpoint
	HealthPath string

	// Stage configures the per-region stage engines
	Stage stage.Config
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		Workers:        4,
		DeployAttempts: 3,
		DeployBackoff:  5 * time.Second,
		HealthPath:     "/healthz",
		Stage:          stage.DefaultConfig(),
	}
}

// Orchestrator sequences a multi-region rollout as a single logical
// transaction: either every targeted region ends promoted or every region
// that carried candidate traffic ends rolled back.
type Orchestrator struct {
	target    target.Target
	monitor   *health.Monitor
	rollbacks *rollback.Controller
	promoter  *promote.Manager
	broker    *events.Broker
	st        store.Store
	cfg       Config
	logger    zerolog.Logger
}

// New creates an orchestrator. st may be nil.
func New(tgt target.Target, monitor *health.Monitor, rollbacks *rollback.Controller, promoter *promote.Manager, broker *events.Broker, st store.Store, cfg Config) *Orchestrator {
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.DeployAttempts <= 0 {
		cfg.DeployAttempts = def.DeployAttempts
	}
	if cfg.DeployBackoff <= 0 {
		cfg.DeployBackoff = def.DeployBackoff
	}
	if cfg.HealthPath == "" {
		cfg.HealthPath = def.HealthPath
	}
	return &Orchestrator{
		target:    tgt,
		monitor:   monitor,
		rollbacks: rollbacks,
		promoter:  promoter,
		broker:    broker,
		st:        st,
		cfg:       cfg,
		logger:    log.WithComponent("orchestrator"),
	}
}

// Execute runs the transaction to a terminal state. The returned
// transaction is always either succeeded or rolled_back; a non-nil error
// describes why a rollback happened.
func (o *Orchestrator) Execute(ctx context.Context, spec *types.TransactionSpec) (*types.DeploymentTransaction, error) {
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid transaction spec: %w", err)
	}

	tx := &types.DeploymentTransaction{
		ID:        uuid.New().String(),
		Spec:      spec,
		Status:    types.TransactionPending,
		StartedAt: time.Now(),
	}
	for _, region := range spec.Regions {
		tx.Plans = append(tx.Plans, &types.RegionPlan{
			Ref: types.ServiceRef{
				Project: spec.Project,
				Region:  region,
				Service: spec.Service,
			},
			Status: types.RegionPending,
		})
	}

	logger := o.logger.With().Str("transaction_id", tx.ID).Logger()
	timer := metrics.NewTimer()

	tx.Status = types.TransactionInProgress
	o.persist(tx, logger)
	o.emit(events.EventTransactionStarted, tx, "", fmt.Sprintf("rollout of %s to %d regions", spec.Image, len(tx.Plans)))
	logger.Info().
		Str("service", spec.Service).
		Str("image", spec.Image).
		Strs("regions", spec.Regions).
		Msg("transaction started")

	// Step 1: snapshot each region's current stable revision
	for _, plan := range tx.Plans {
		if err := o.snapshotStable(ctx, plan); err != nil {
			return o.fail(ctx, tx, types.ReasonStageFailure, timer, logger, err)
		}
	}

	// Step 2: deploy the candidate dark to every region, in parallel
	if err := o.parallel(tx.Plans, func(plan *types.RegionPlan) error {
		return o.deployDark(ctx, tx.ID, plan, spec.Image)
	}); err != nil {
		return o.fail(ctx, tx, types.ReasonStageFailure, timer, logger, err)
	}

	// Step 3: initial health gate on every candidate, in parallel.
	// A failure here aborts the whole transaction before any traffic moves.
	if err := o.parallel(tx.Plans, func(plan *types.RegionPlan) error {
		return o.initialGate(ctx, tx.ID, plan)
	}); err != nil {
		return o.fail(ctx, tx, types.ReasonStageFailure, timer, logger, err)
	}

	// Step 4: stage each region sequentially. An early region absorbs risk
	// before a later region's users are exposed.
	engineCfg := o.cfg.Stage
	if spec.RollbackThreshold > 0 {
		engineCfg.RollbackThreshold = spec.RollbackThreshold
	}
	for _, plan := range tx.Plans {
		engine := stage.NewEngine(o.target, o.monitor, o.broker, engineCfg)
		if err := engine.Run(ctx, tx.ID, plan, spec.Stages); err != nil {
			reason := types.ReasonStageFailure
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				reason = types.ReasonManual
			}
			return o.fail(ctx, tx, reason, timer, logger, err)
		}
	}

	// Step 5: all regions completed, promote and prune each
	for _, plan := range tx.Plans {
		if err := o.promoter.Promote(ctx, tx.ID, plan); err != nil {
			// Traffic is already fully on the candidate; a failed label swap
			// is surfaced but does not unwind the rollout
			logger.Error().Err(err).Str("region", plan.Ref.Region).Msg("promotion label swap failed")
		}
	}

	tx.Status = types.TransactionSucceeded
	tx.EndedAt = time.Now()
	metrics.TransactionsTotal.WithLabelValues(string(tx.Status)).Inc()
	timer.ObserveDuration(metrics.TransactionDuration)
	o.persist(tx, logger)
	o.emit(events.EventTransactionSucceeded, tx, "", "all regions promoted")
	logger.Info().Dur("duration", tx.EndedAt.Sub(tx.StartedAt)).Msg("transaction succeeded")
	return tx, nil
}

// snapshotStable records the region's current stable revision in its plan
func (o *Orchestrator) snapshotStable(ctx context.Context, plan *types.RegionPlan) error {
	revisions, err := o.target.ListRevisions(ctx, plan.Ref)
	if err != nil {
		return fmt.Errorf("failed to snapshot stable revision in %s: %w", plan.Ref, err)
	}

	for _, rev := range revisions {
		if rev.HasTag(target.StableTag) {
			plan.StableRevision = rev.Name
			return nil
		}
	}
	// No stable tag yet: fall back to the revision serving the most traffic
	best := -1
	for _, rev := range revisions {
		if rev.TrafficPercent > best {
			best = rev.TrafficPercent
			plan.StableRevision = rev.Name
		}
	}
	if plan.StableRevision == "" {
		return fmt.Errorf("no stable revision found in %s", plan.Ref)
	}
	return nil
}

// deployDark deploys the candidate with zero traffic and resolves the
// health probe URL
func (o *Orchestrator) deployDark(ctx context.Context, txID string, plan *types.RegionPlan, image string) error {
	err := target.Retry(ctx, o.cfg.DeployAttempts, o.cfg.DeployBackoff, func() error {
		revision, derr := o.target.Deploy(ctx, plan.Ref, image)
		if derr != nil {
			return derr
		}
		plan.CandidateRevision = revision
		return nil
	})
	if err != nil {
		plan.Status = types.RegionFailed
		return fmt.Errorf("failed to deploy candidate in %s: %w", plan.Ref, err)
	}

	url, err := o.target.ServiceURL(ctx, plan.Ref)
	if err != nil {
		plan.Status = types.RegionFailed
		return fmt.Errorf("failed to resolve probe URL for %s: %w", plan.Ref, err)
	}
	plan.URL = strings.TrimSuffix(url, "/") + o.cfg.HealthPath

	o.emit(events.EventRegionDeployed, &types.DeploymentTransaction{ID: txID}, plan.Ref.Region,
		fmt.Sprintf("candidate %s deployed dark", plan.CandidateRevision))
	return nil
}

// initialGate runs the pre-shift health gate for one region
func (o *Orchestrator) initialGate(ctx context.Context, txID string, plan *types.RegionPlan) error {
	plan.Status = types.RegionHealthChecking
	if err := o.monitor.Gate(ctx, plan.URL); err != nil {
		plan.Status = types.RegionFailed
		o.emit(events.EventRegionGateFailed, &types.DeploymentTransaction{ID: txID}, plan.Ref.Region,
			"initial health gate failed: "+err.Error())
		return fmt.Errorf("region %s failed initial health gate: %w", plan.Ref.Region, err)
	}
	o.emit(events.EventRegionGatePassed, &types.DeploymentTransaction{ID: txID}, plan.Ref.Region,
		"initial health gate passed")
	return nil
}

// fail rolls back every region of the transaction and marks it rolled_back.
// The rollback controller skips regions whose candidate never received
// traffic, so a pre-shift abort issues no traffic calls at all.
func (o *Orchestrator) fail(ctx context.Context, tx *types.DeploymentTransaction, reason types.RollbackReason, timer *metrics.Timer, logger zerolog.Logger, cause error) (*types.DeploymentTransaction, error) {
	logger.Warn().Err(cause).Str("reason", string(reason)).Msg("transaction aborting, rolling back all regions")

	// Rollback must proceed even when the abort came from cancellation
	rbCtx := ctx
	if ctx.Err() != nil {
		rbCtx = context.WithoutCancel(ctx)
	}

	for _, plan := range tx.Plans {
		if plan.Status == types.RegionPending {
			continue
		}
		if _, err := o.rollbacks.Rollback(rbCtx, tx.ID, plan, reason); err != nil {
			// Escalated, never silently dropped: the region is left at
			// partial candidate traffic and needs operator attention
			logger.Error().Err(err).Str("region", plan.Ref.Region).Msg("rollback failed for region")
		}
	}

	tx.Status = types.TransactionRolledBack
	tx.EndedAt = time.Now()
	metrics.TransactionsTotal.WithLabelValues(string(tx.Status)).Inc()
	timer.ObserveDuration(metrics.TransactionDuration)
	o.persist(tx, logger)
	o.emit(events.EventTransactionRolledBack, tx, "", "transaction rolled back: "+cause.Error())
	return tx, fmt.Errorf("transaction %s rolled back: %w", tx.ID, cause)
}

// parallel runs fn for every plan on a bounded worker pool and returns the
// first error
func (o *Orchestrator) parallel(plans []*types.RegionPlan, fn func(*types.RegionPlan) error) error {
	sem := make(chan struct{}, o.cfg.Workers)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for _, plan := range plans {
		wg.Add(1)
		sem <- struct{}{}
		go func(p *types.RegionPlan) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := fn(p); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		}(plan)
	}
	wg.Wait()
	return firstErr
}

func (o *Orchestrator) persist(tx *types.DeploymentTransaction, logger zerolog.Logger) {
	if o.st == nil {
		return
	}
	if err := o.st.SaveTransaction(tx); err != nil {
		logger.Error().Err(err).Msg("failed to persist transaction")
	}
}

func (o *Orchestrator) emit(t events.EventType, tx *types.DeploymentTransaction, region, msg string) {
	if o.broker == nil {
		return
	}
	service := ""
	if tx.Spec != nil {
		service = tx.Spec.Service
	}
	o.broker.Emit(&events.Event{
		Type:          t,
		TransactionID: tx.ID,
		Region:        region,
		Service:       service,
		Message:       msg,
	})
}
