// Package events implements a lightweight in-process pub/sub broker for
// pod/container/compose lifecycle notifications, published by PTM, CTM, CT
// and the reconciler and delivered to whoever calls Subscribe.
package events

import (
	"sync"
	"time"
)

// EventType represents the type of event.
type EventType string

const (
	EventPodCreated       EventType = "pod.created"
	EventPodStarted       EventType = "pod.started"
	EventPodFailed        EventType = "pod.failed"
	EventPodDeleted       EventType = "pod.deleted"
	EventContainerCreated EventType = "container.created"
	EventContainerStarted EventType = "container.started"
	EventContainerExited  EventType = "container.exited"
	EventContainerFailed  EventType = "container.failed"
	EventContainerDeleted EventType = "container.deleted"
	EventHealthCheckFailed EventType = "health.check_failed"
	EventReconcileApplied EventType = "reconcile.applied"
	EventProjectUp        EventType = "compose.up"
	EventProjectDown      EventType = "compose.down"
)

// Event represents a node-local lifecycle event.
type Event struct {
	ID        string
	Type      EventType
	Timestamp time.Time
	Message   string
	Metadata  map[string]string
}

// Subscriber is a channel that receives events.
type Subscriber chan *Event

// Broker manages event subscriptions and distribution.
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
}

// NewBroker creates a new event broker.
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Event, 100),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's event distribution loop.
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker.
func (b *Broker) Stop() {
	close(b.stopCh)
}

// Subscribe creates a new subscription and returns a channel.
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50)
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription.
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.subscribers, sub)
	close(sub)
}

// Publish publishes an event to all subscribers.
func (b *Broker) Publish(event *Event) {
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
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
