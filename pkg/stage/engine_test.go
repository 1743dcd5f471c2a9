package stage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/n2nstreams/rollout/pkg/health"
	"github.com/n2nstreams/rollout/pkg/probe"
	"github.com/n2nstreams/rollout/pkg/target"
	"github.com/n2nstreams/rollout/pkg/types"
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
	return probe.Result{OK: ok, Message: msg, CheckedAt: time.Now()}
}

func testRef() types.ServiceRef {
	return types.ServiceRef{Project: "acme-prod", Region: "us-central1", Service: "checkout"}
}

// setup seeds a fake target with a stable revision and a dark candidate
func setup(t *testing.T, prober probe.Prober) (*Fixture, *types.RegionPlan) {
	t.Helper()
	ref := testRef()

	fake := target.NewFake()
	fake.Seed(ref, "checkout-00001", "https://checkout.example.com")
	candidate, err := fake.Deploy(context.Background(), ref, "gcr.io/acme-prod/checkout:v2")
	require.NoError(t, err)

	monitor := health.NewMonitor(prober, health.Config{
		Timeout:      time.Second,
		GateAttempts: 2,
		GateInterval: time.Millisecond,
	})

	plan := &types.RegionPlan{
		Ref:               ref,
		CandidateRevision: candidate,
		StableRevision:    "checkout-00001",
		URL:               "https://checkout.example.com/healthz",
	}
	return &Fixture{fake: fake, monitor: monitor}, plan
}

type Fixture struct {
	fake    *target.Fake
	monitor *health.Monitor
}

func (f *Fixture) engine(cfg Config) *Engine {
	return NewEngine(f.fake, f.monitor, nil, cfg)
}

func fastCfg() Config {
	return Config{
		RollbackThreshold: 3,
		ShiftAttempts:     2,
		ShiftBackoff:      time.Millisecond,
		DefaultCadence:    5 * time.Millisecond,
	}
}

func TestRunCompletesSequence(t *testing.T) {
	fx, plan := setup(t, &scriptedProber{results: []bool{true}})
	engine := fx.engine(fastCfg())

	seq := types.StageSequence{
		{Percent: 25, Dwell: types.Duration(30 * time.Millisecond), Cadence: types.Duration(5 * time.Millisecond)},
		{Percent: 100},
	}

	err := engine.Run(context.Background(), "tx-1", plan, seq)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, engine.State())
	assert.Equal(t, types.RegionPromoted, plan.Status)
	assert.True(t, plan.Shifted())

	calls := fx.fake.TrafficCallsFor(plan.Ref)
	require.Len(t, calls, 2)
	assert.Equal(t, 25, calls[0].Split.Percent)
	assert.Equal(t, 100, calls[1].Split.Percent)
	assert.Equal(t, plan.CandidateRevision, calls[1].Split.Candidate)
}

func TestRunToleratesFailuresBelowThreshold(t *testing.T) {
	// Gate passes, then two bad samples inside the dwell, then recovery.
	// Threshold is 3, so the stage must survive.
	prober := &scriptedProber{results: []bool{true, false, false, true}}
	fx, plan := setup(t, prober)
	engine := fx.engine(fastCfg())

	seq := types.StageSequence{
		{Percent: 50, Dwell: types.Duration(60 * time.Millisecond), Cadence: types.Duration(5 * time.Millisecond)},
		{Percent: 100},
	}

	err := engine.Run(context.Background(), "tx-1", plan, seq)
	require.NoError(t, err)
	assert.Equal(t, types.RegionPromoted, plan.Status)
}

func TestRunAbortsAtThreshold(t *testing.T) {
	// Gate passes, then every dwell sample fails
	prober := &scriptedProber{results: []bool{true, false}}
	fx, plan := setup(t, prober)
	engine := fx.engine(fastCfg())

	seq := types.StageSequence{
		{Percent: 10, Dwell: types.Duration(time.Second), Cadence: types.Duration(2 * time.Millisecond)},
		{Percent: 100},
	}

	err := engine.Run(context.Background(), "tx-1", plan, seq)
	require.ErrorIs(t, err, ErrThresholdBreached)
	assert.Equal(t, StateAborted, engine.State())
	assert.Equal(t, types.RegionFailed, plan.Status)

	// The 10% shift happened before the abort, so rollback will be needed
	assert.True(t, plan.Shifted())
	calls := fx.fake.TrafficCallsFor(plan.Ref)
	require.Len(t, calls, 1)
	assert.Equal(t, 10, calls[0].Split.Percent)
}

func TestRunGateFailureShiftsNothing(t *testing.T) {
	fx, plan := setup(t, &scriptedProber{results: []bool{false}})
	engine := fx.engine(fastCfg())

	seq := types.StageSequence{{Percent: 100}}

	err := engine.Run(context.Background(), "tx-1", plan, seq)
	require.ErrorIs(t, err, ErrGateFailed)
	assert.Equal(t, types.RegionFailed, plan.Status)

	// The candidate stayed dark
	assert.False(t, plan.Shifted())
	assert.Empty(t, fx.fake.TrafficCallsFor(plan.Ref))
}

func TestRunFinalConfirmationFailureAborts(t *testing.T) {
	// Gate passes, then the single post-100% confirmation fails
	prober := &scriptedProber{results: []bool{true, false}}
	fx, plan := setup(t, prober)
	engine := fx.engine(fastCfg())

	seq := types.StageSequence{{Percent: 100}}

	err := engine.Run(context.Background(), "tx-1", plan, seq)
	require.ErrorIs(t, err, ErrConfirmationFailed)
	assert.Equal(t, types.RegionFailed, plan.Status)
	assert.True(t, plan.Shifted())
}

func TestRunShiftFailureAborts(t *testing.T) {
	fx, plan := setup(t, &scriptedProber{results: []bool{true}})
	fx.fake.FailSetTraffic = 2 // both attempts fail
	engine := fx.engine(fastCfg())

	seq := types.StageSequence{{Percent: 100}}

	err := engine.Run(context.Background(), "tx-1", plan, seq)
	require.ErrorIs(t, err, ErrShiftFailed)
	assert.Equal(t, types.RegionFailed, plan.Status)
	assert.False(t, plan.Shifted())
}

func TestRunCancelledDuringDwell(t *testing.T) {
	fx, plan := setup(t, &scriptedProber{results: []bool{true}})
	engine := fx.engine(fastCfg())

	seq := types.StageSequence{
		{Percent: 50, Dwell: types.Duration(time.Hour), Cadence: types.Duration(10 * time.Millisecond)},
		{Percent: 100},
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	err := engine.Run(ctx, "tx-1", plan, seq)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, types.RegionFailed, plan.Status)
	assert.True(t, plan.Shifted())
}
