package events

import (
	"sync"
	"time"
)

// EventType identifies what changed.
type EventType string

const (
	EventConfigPublished       EventType = "config.published"
	EventConfigRemoved         EventType = "config.removed"
	EventConfigRolledBack      EventType = "config.rolled_back"
	EventInstanceRegistered    EventType = "instance.registered"
	EventInstanceDeregistered  EventType = "instance.deregistered"
	EventInstanceHealthChanged EventType = "instance.health_changed"
	EventMemberStateChanged    EventType = "member.state_changed"
	EventMemberJoined          EventType = "member.joined"
	EventMemberLeft            EventType = "member.left"
	EventLockAcquired          EventType = "lock.acquired"
	EventLockReleased          EventType = "lock.released"
	EventSessionExpired        EventType = "session.expired"
)

// Event describes a single state change that subscribers may want pushed
// to them.
type Event struct {
	ID        string
	Type      EventType
	Timestamp time.Time
	Message   string
	Metadata  map[string]string
}

// Subscriber is a channel that receives events.
type Subscriber chan *Event

// Broker distributes published events to every live subscriber; a
// subscriber whose buffer is full misses the event rather than stalling
// the broker.
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
}

// NewBroker creates an idle broker; call Start to begin distribution.
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Event, 100),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's distribution loop.
func (b *Broker) Start() {
	go b.run()
}

// Stop halts distribution.
func (b *Broker) Stop() {
	close(b.stopCh)
}

// Subscribe registers a new subscriber and returns its channel.
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50)
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes and closes a subscriber's channel.
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.subscribers, sub)
	close(sub)
}

// Publish enqueues an event for broadcast. It blocks while the broker's
// queue is full; once the broker is stopped it returns without waiting.
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
			// subscriber buffer full, drop rather than block the broker
		}
	}
}

// SubscriberCount returns the number of currently registered subscribers.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
