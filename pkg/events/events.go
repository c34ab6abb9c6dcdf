package events

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType is a triggering event delivered to the agent
type EventType string

const (
	EventInstall          EventType = "install"
	EventConfigChanged    EventType = "config-changed"
	EventStart            EventType = "start"
	EventStop             EventType = "stop"
	EventUpdateStatus     EventType = "update-status"
	EventRelationChanged  EventType = "relation-changed"
	EventRelationDeparted EventType = "relation-departed"
	EventRelationBroken   EventType = "relation-broken"
)

// Types lists every event type in CLI order
var Types = []EventType{
	EventInstall,
	EventConfigChanged,
	EventStart,
	EventStop,
	EventUpdateStatus,
	EventRelationChanged,
	EventRelationDeparted,
	EventRelationBroken,
}

// ParseType validates an event type name
func ParseType(s string) (EventType, error) {
	for _, t := range Types {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown event type %q", s)
}

// Converges reports whether the event runs the convergence algorithm. Stop
// and update-status have their own handling.
func (t EventType) Converges() bool {
	return t != EventStop && t != EventUpdateStatus
}

// IsRelation reports whether the event carries a relation ID
func (t EventType) IsRelation() bool {
	switch t {
	case EventRelationChanged, EventRelationDeparted, EventRelationBroken:
		return true
	}
	return false
}

// Event is one triggering event
type Event struct {
	ID        string
	Type      EventType
	Timestamp time.Time

	// RelationID is set for relation events
	RelationID int

	// Payload is the raw relation data of a relation-changed event
	Payload []byte

	Metadata map[string]string
}

// New creates an event with a fresh ID
func New(t EventType) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Type:      t,
		Timestamp: time.Now(),
	}
}

// NewRelation creates a relation event
func NewRelation(t EventType, relationID int, payload []byte) *Event {
	e := New(t)
	e.RelationID = relationID
	e.Payload = payload
	return e
}

// Subscriber is a channel that receives events
type Subscriber chan *Event

// Broker fans events out to subscribers
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
	stopOnce    sync.Once
}

// NewBroker creates a new event broker
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Event, 100),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's distribution loop
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker
func (b *Broker) Stop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
}

// Subscribe creates a new subscription
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50)
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription and closes its channel
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subscribers[sub] {
		delete(b.subscribers, sub)
		close(sub)
	}
}

// Publish queues an event for distribution. It blocks while the queue is
// full and returns false once the broker is stopped.
func (b *Broker) Publish(event *Event) bool {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.eventCh <- event:
		return true
	case <-b.stopCh:
		return false
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

// broadcast never drops an event for a subscriber; convergence events must
// all be seen by the reconcile loop
func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- event:
		case <-b.stopCh:
			return
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
