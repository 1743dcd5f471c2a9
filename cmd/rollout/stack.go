package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/n2nstreams/rollout/pkg/config"
	"github.com/n2nstreams/rollout/pkg/events"
	"github.com/n2nstreams/rollout/pkg/health"
	"github.com/n2nstreams/rollout/pkg/orchestrator"
	"github.com/n2nstreams/rollout/pkg/probe"
	"github.com/n2nstreams/rollout/pkg/promote"
	"github.com/n2nstreams/rollout/pkg/rollback"
	"github.com/n2nstreams/rollout/pkg/stage"
	"github.com/n2nstreams/rollout/pkg/store"
	"github.com/n2nstreams/rollout/pkg/target"
	"github.com/n2nstreams/rollout/pkg/types"
)

// stack bundles the wired controller components for a CLI command
type stack struct {
	target    target.Target
	monitor   *health.Monitor
	broker    *events.Broker
	store     store.Store
	rollbacks *rollback.Controller
	promoter  *promote.Manager
	orch      *orchestrator.Orchestrator
}

// alwaysHealthy is the prober used in dry-run mode, where there is no real
// endpoint to probe
type alwaysHealthy struct{}

func (alwaysHealthy) Ping(ctx context.Context, url string) probe.Result {
	return probe.Result{OK: true, Message: "dry-run", CheckedAt: time.Now()}
}

// buildStack wires the controller from configuration. In dry-run mode the
// Cloud Run target is replaced with an in-memory fake seeded from the spec,
// and health probes always pass.
func buildStack(ctx context.Context, cfg *config.Config, spec *types.TransactionSpec, dryRun bool) (*stack, error) {
	var (
		tgt    target.Target
		prober probe.Prober
	)
	if dryRun {
		fake := target.NewFake()
		for _, region := range spec.Regions {
			ref := types.ServiceRef{Project: spec.Project, Region: region, Service: spec.Service}
			fake.Seed(ref, spec.Service+"-00001-aaa", fmt.Sprintf("https://%s-%s.example.com", spec.Service, region))
		}
		tgt = fake
		prober = alwaysHealthy{}
	} else {
		cr, err := target.NewCloudRun(ctx, target.CloudRunOptions{
			Endpoint:        cfg.Target.Endpoint,
			CredentialsFile: cfg.Target.CredentialsFile,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create cloud run client: %w", err)
		}
		tgt = cr
		prober = probe.NewHTTPProber().WithTimeout(cfg.Health.Timeout.Std())
	}

	monitor := health.NewMonitor(prober, health.Config{
		Interval:     cfg.Health.Interval.Std(),
		Timeout:      cfg.Health.Timeout.Std(),
		GateAttempts: cfg.Health.GateAttempts,
		GateInterval: cfg.Health.GateInterval.Std(),
	})

	broker := events.NewBroker()
	broker.Start()

	dataDir := cfg.DataDir
	if dryRun {
		dataDir, _ = os.MkdirTemp("", "rollout-dryrun-")
	}
	st, err := store.NewBoltStore(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit store: %w", err)
	}

	rollbacks := rollback.NewController(tgt, broker, st, rollback.DefaultConfig())

	retention := cfg.Retention
	if spec != nil && spec.Retention > 0 {
		retention = spec.Retention
	}
	promoteCfg := promote.DefaultConfig()
	promoteCfg.Retention = retention
	promoter := promote.NewManager(tgt, broker, st, promoteCfg)

	stageCfg := stage.Config{
		RollbackThreshold: cfg.Stage.RollbackThreshold,
		ShiftAttempts:     cfg.Stage.ShiftAttempts,
		ShiftBackoff:      cfg.Stage.ShiftBackoff.Std(),
		DefaultCadence:    cfg.Stage.DefaultCadence.Std(),
	}

	orch := orchestrator.New(tgt, monitor, rollbacks, promoter, broker, st, orchestrator.Config{
		HealthPath: cfg.Health.Path,
		Stage:      stageCfg,
	})

	return &stack{
		target:    tgt,
		monitor:   monitor,
		broker:    broker,
		store:     st,
		rollbacks: rollbacks,
		promoter:  promoter,
		orch:      orch,
	}, nil
}

// close releases the stack's resources
func (s *stack) close() {
	s.broker.Stop()
	if s.store != nil {
		_ = s.store.Close()
	}
}
