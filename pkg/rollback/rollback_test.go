package rollback

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/n2nstreams/rollout/pkg/target"
	"github.com/n2nstreams/rollout/pkg/types"
)

// memRecorder collects rollback events in memory
type memRecorder struct {
	mu     sync.Mutex
	events []*types.RollbackEvent
}

func (r *memRecorder) AppendRollbackEvent(event *types.RollbackEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *memRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func fastCfg() Config {
	return Config{Attempts: 2, Backoff: time.Millisecond}
}

func shiftedPlan(ref types.ServiceRef) *types.RegionPlan {
	return &types.RegionPlan{
		Ref:               ref,
		CandidateRevision: "checkout-00002",
		StableRevision:    "checkout-00001",
		Status:            types.RegionShifting,
		TrafficApplied:    true,
	}
}

func TestRollbackRevertsTraffic(t *testing.T) {
	ref := types.ServiceRef{Project: "acme-prod", Region: "us-central1", Service: "checkout"}
	fake := target.NewFake()
	fake.Seed(ref, "checkout-00001", "https://checkout.example.com")
	_, err := fake.Deploy(context.Background(), ref, "gcr.io/acme-prod/checkout:v2")
	require.NoError(t, err)

	rec := &memRecorder{}
	c := NewController(fake, nil, rec, fastCfg())

	plan := shiftedPlan(ref)
	event, err := c.Rollback(context.Background(), "tx-1", plan, types.ReasonStageFailure)
	require.NoError(t, err)

	assert.Equal(t, types.RegionRolledBack, plan.Status)
	assert.Equal(t, "checkout-00001", event.RevertedTo)
	assert.Equal(t, types.ReasonStageFailure, event.Reason)
	assert.Empty(t, event.Error)
	assert.Equal(t, 1, rec.count())

	calls := fake.TrafficCallsFor(ref)
	require.Len(t, calls, 1)
	assert.Equal(t, 0, calls[0].Split.Percent)
	assert.Equal(t, "checkout-00002", calls[0].Split.Candidate)
}

func TestRollbackIsIdempotent(t *testing.T) {
	ref := types.ServiceRef{Project: "acme-prod", Region: "us-central1", Service: "checkout"}
	fake := target.NewFake()
	fake.Seed(ref, "checkout-00001", "https://checkout.example.com")

	rec := &memRecorder{}
	c := NewController(fake, nil, rec, fastCfg())
	plan := shiftedPlan(ref)

	_, err := c.Rollback(context.Background(), "tx-1", plan, types.ReasonStageFailure)
	require.NoError(t, err)
	_, err = c.Rollback(context.Background(), "", plan, types.ReasonSLOBurn)
	require.NoError(t, err)

	// One effective traffic change, but every invocation leaves an event
	assert.Len(t, fake.TrafficCallsFor(ref), 1)
	assert.Equal(t, 2, rec.count())
}

func TestRollbackConcurrentInvocations(t *testing.T) {
	ref := types.ServiceRef{Project: "acme-prod", Region: "us-central1", Service: "checkout"}
	fake := target.NewFake()
	fake.Seed(ref, "checkout-00001", "https://checkout.example.com")

	c := NewController(fake, nil, nil, fastCfg())
	plan := shiftedPlan(ref)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.Rollback(context.Background(), "tx-1", plan, types.ReasonStageFailure)
		}()
	}
	wg.Wait()

	assert.Len(t, fake.TrafficCallsFor(ref), 1)
}

func TestRollbackSkipsDarkCandidate(t *testing.T) {
	ref := types.ServiceRef{Project: "acme-prod", Region: "us-central1", Service: "checkout"}
	fake := target.NewFake()
	fake.Seed(ref, "checkout-00001", "https://checkout.example.com")

	rec := &memRecorder{}
	c := NewController(fake, nil, rec, fastCfg())

	// Candidate failed its gate: deployed but never shifted
	plan := shiftedPlan(ref)
	plan.TrafficApplied = false
	plan.Status = types.RegionFailed

	event, err := c.Rollback(context.Background(), "tx-1", plan, types.ReasonStageFailure)
	require.NoError(t, err)

	// The event is still recorded even though no traffic call was made
	assert.Empty(t, fake.TrafficCallsFor(ref))
	assert.Equal(t, 1, rec.count())
	assert.Equal(t, types.RegionRolledBack, plan.Status)
	assert.Equal(t, "checkout-00001", event.RevertedTo)
}

func TestRollbackFailureStillEmitsEvent(t *testing.T) {
	ref := types.ServiceRef{Project: "acme-prod", Region: "us-central1", Service: "checkout"}
	fake := target.NewFake()
	fake.Seed(ref, "checkout-00001", "https://checkout.example.com")
	fake.FailSetTraffic = 2 // both attempts

	rec := &memRecorder{}
	c := NewController(fake, nil, rec, fastCfg())
	plan := shiftedPlan(ref)

	event, err := c.Rollback(context.Background(), "tx-1", plan, types.ReasonManual)
	require.ErrorIs(t, err, ErrRollbackFailed)

	require.NotNil(t, event)
	assert.NotEmpty(t, event.Error)
	assert.Equal(t, types.RegionFailed, plan.Status)
	assert.Equal(t, 1, rec.count())

	// A later retry is not suppressed by the failed attempt
	fake.FailSetTraffic = 0
	_, err = c.Rollback(context.Background(), "tx-1", plan, types.ReasonManual)
	require.NoError(t, err)
	assert.Equal(t, types.RegionRolledBack, plan.Status)
}
