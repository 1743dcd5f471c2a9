package events

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrokerDeliversToAllSubscribers(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub1 := b.Subscribe()
	sub2 := b.Subscribe()
	assert.Equal(t, 2, b.SubscriberCount())

	b.Emit(&Event{
		Type:          EventStageShifting,
		TransactionID: "tx-1",
		Region:        "us-central1",
		Message:       "shifting 10% to candidate",
	})

	for _, sub := range []Subscriber{sub1, sub2} {
		select {
		case ev := <-sub:
			assert.Equal(t, EventStageShifting, ev.Type)
			assert.Equal(t, "tx-1", ev.TransactionID)
			assert.NotEmpty(t, ev.ID, "broker assigns missing ids")
			assert.False(t, ev.Timestamp.IsZero(), "broker assigns missing timestamps")
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}
}

func TestBrokerUnsubscribe(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	b.Unsubscribe(sub)
	assert.Equal(t, 0, b.SubscriberCount())

	// Channel is closed on unsubscribe
	_, open := <-sub
	assert.False(t, open)
}

func TestBrokerDropsOverflowWithoutBlocking(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	stalled := b.Subscribe()
	active := b.Subscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			b.Emit(New(EventRegionDeployed, fmt.Sprintf("deploy %d", i)))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("emit blocked behind a full subscriber")
	}

	// Let the broadcast loop work through the burst
	time.Sleep(50 * time.Millisecond)

	// An undrained subscriber keeps the first events up to its buffer, in
	// emit order; the overflow is dropped rather than blocking the broker
	require.Equal(t, cap(stalled), len(stalled))
	for i := 0; i < 3; i++ {
		ev := <-stalled
		assert.Equal(t, fmt.Sprintf("deploy %d", i), ev.Message)
	}

	// A subscriber that empties its buffer keeps receiving
	for len(active) > 0 {
		<-active
	}
	b.Emit(New(EventRegionPromoted, "candidate promoted"))
	select {
	case ev := <-active:
		assert.Equal(t, EventRegionPromoted, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("draining subscriber stopped receiving after a burst")
	}
}
