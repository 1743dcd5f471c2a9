package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of event
type EventType string

const (
	EventTransactionStarted    EventType = "transaction.started"
	EventTransactionSucceeded  EventType = "transaction.succeeded"
	EventTransactionRolledBack EventType = "transaction.rolled_back"
	EventRegionDeployed        EventType = "region.deployed"
	EventRegionGatePassed      EventType = "region.gate_passed"
	EventRegionGateFailed      EventType = "region.gate_failed"
	EventStageShifting         EventType = "stage.shifting"
	EventStageCompleted        EventType = "stage.completed"
	EventStageAborted          EventType = "stage.aborted"
	EventRegionPromoted        EventType = "region.promoted"
	EventRollbackExecuted      EventType = "rollback.executed"
	EventRollbackFailed        EventType = "rollback.failed"
	EventRevisionPruned        EventType = "revision.pruned"
	EventSLOFastBurn           EventType = "slo.fast_burn"
	EventSLOSlowBurn           EventType = "slo.slow_burn"
)

// Event represents a rollout event delivered to the observability sink
type Event struct {
	ID            string
	Type          EventType
	Timestamp     time.Time
	TransactionID string
	Region        string
	Service       string
	Message       string
	Metadata      map[string]string
}

// New builds an event with a fresh id
func New(t EventType, message string) *Event {
	return &Event{
		ID:      uuid.New().String(),
		Type:    t,
		Message: message,
	}
}

// Subscriber is a channel that receives events
type Subscriber chan *Event

// Broker distributes rollout events to subscribers (CLI progress output,
// the audit store, external alert channels)
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
}

// NewBroker creates a new event broker
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Event, 100), // Buffer up to 100 events
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's event distribution loop
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker
func (b *Broker) Stop() {
	close(b.stopCh)
}

// Subscribe creates a new subscription and returns a channel
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50) // Buffer per subscriber
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.subscribers, sub)
	close(sub)
}

// Emit publishes an event to all subscribers
func (b *Broker) Emit(event *Event) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
			// Subscriber buffer full, skip
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
