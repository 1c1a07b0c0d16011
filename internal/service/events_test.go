package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linkgraph/internal/domain"
)

func TestEventBusPublish(t *testing.T) {
	bus := NewEventBus()
	fast := make(chan Event, 2)
	slow := make(chan Event)
	bus.Subscribe(fast)
	bus.Subscribe(slow)

	// A subscriber that is not receiving must not block publishers
	bus.Publish(Event{Type: EventTopologyUpdated})
	bus.Publish(Event{Type: EventSnapshotSaved})

	require.Len(t, fast, 2)
	assert.Equal(t, EventTopologyUpdated, (<-fast).Type)
	assert.Equal(t, EventSnapshotSaved, (<-fast).Type)

	bus.Unsubscribe(fast)
	bus.Publish(Event{Type: EventTopologyCreated})
	assert.Empty(t, fast)
}

func TestEventBusLinkStatusChanged(t *testing.T) {
	bus := NewEventBus()
	ch := make(chan Event, 1)
	bus.Subscribe(ch)

	link := &domain.Link{
		ID:            "l1",
		TopologyID:    "t1",
		SourceAddress: "10.0.0.1",
		TargetAddress: "10.0.0.2",
		Status:        domain.LinkStatusDown,
		StatusChanged: t0,
	}
	bus.LinkStatusChanged(context.Background(), link)

	e := <-ch
	assert.Equal(t, EventLinkStatusChanged, e.Type)
	assert.Equal(t, LinkStatusPayload{
		TopologyID:    "t1",
		LinkID:        "l1",
		Source:        "10.0.0.1",
		Target:        "10.0.0.2",
		Status:        domain.LinkStatusDown,
		StatusChanged: t0,
	}, e.Payload)
}

func TestSinksFanOut(t *testing.T) {
	a := &recordingSink{}
	b := &recordingSink{}
	sinks := Sinks{a, nil, b, NopSink{}}

	sinks.LinkStatusChanged(context.Background(), &domain.Link{Status: domain.LinkStatusUp})

	assert.Equal(t, []domain.LinkStatus{domain.LinkStatusUp}, a.statuses())
	assert.Equal(t, []domain.LinkStatus{domain.LinkStatusUp}, b.statuses())
}
