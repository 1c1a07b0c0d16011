package service

import (
	"context"
	"sync"
	"time"

	"linkgraph/internal/domain"
)

// EventType defines the type of event
type EventType string

const (
	EventLinkStatusChanged EventType = "link_status_changed"
	EventTopologyUpdated   EventType = "topology_updated"
	EventTopologyCreated   EventType = "topology_created"
	EventSnapshotSaved     EventType = "snapshot_saved"
)

// Event represents an event that occurred in the system
type Event struct {
	Type    EventType   `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// LinkStatusPayload is published on every link status flip
type LinkStatusPayload struct {
	TopologyID    string            `json:"topology_id"`
	LinkID        string            `json:"link_id"`
	Source        string            `json:"source"`
	Target        string            `json:"target"`
	Status        domain.LinkStatus `json:"status"`
	StatusChanged time.Time         `json:"status_changed"`
}

// EventSink receives link status flips right after they are written.
// Implementations must not block.
type EventSink interface {
	LinkStatusChanged(ctx context.Context, link *domain.Link)
}

// NopSink discards every notification
type NopSink struct{}

// LinkStatusChanged implements EventSink
func (NopSink) LinkStatusChanged(context.Context, *domain.Link) {}

// Sinks fans a notification out to several sinks in order
type Sinks []EventSink

// LinkStatusChanged implements EventSink
func (s Sinks) LinkStatusChanged(ctx context.Context, link *domain.Link) {
	for _, sink := range s {
		if sink != nil {
			sink.LinkStatusChanged(ctx, link)
		}
	}
}

// EventBus allows publishing and subscribing to events
type EventBus struct {
	mu          sync.RWMutex
	subscribers []chan<- Event
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make([]chan<- Event, 0),
	}
}

// Subscribe adds a subscriber to receive events
func (eb *EventBus) Subscribe(ch chan<- Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.subscribers = append(eb.subscribers, ch)
}

// Unsubscribe removes a subscriber
func (eb *EventBus) Unsubscribe(ch chan<- Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	for i, sub := range eb.subscribers {
		if sub == ch {
			eb.subscribers = append(eb.subscribers[:i], eb.subscribers[i+1:]...)
			return
		}
	}
}

// Publish sends an event to all subscribers
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	for _, ch := range eb.subscribers {
		select {
		case ch <- event:
		default:
			// Subscriber is slow, skip
		}
	}
}

// LinkStatusChanged implements EventSink
func (eb *EventBus) LinkStatusChanged(_ context.Context, link *domain.Link) {
	eb.Publish(Event{
		Type: EventLinkStatusChanged,
		Payload: LinkStatusPayload{
			TopologyID:    link.TopologyID,
			LinkID:        link.ID,
			Source:        link.SourceAddress,
			Target:        link.TargetAddress,
			Status:        link.Status,
			StatusChanged: link.StatusChanged,
		},
	})
}
