package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// LinkStatus is the observed state of a link
type LinkStatus string

const (
	LinkStatusUp   LinkStatus = "up"
	LinkStatusDown LinkStatus = "down"
)

// Link represents a connection between two nodes of the same topology
type Link struct {
	ID         string         `json:"id"`
	TopologyID string         `json:"topology_id"`
	SourceID   string         `json:"source_id"`
	TargetID   string         `json:"target_id"`
	Cost       float64        `json:"cost"`
	CostText   string         `json:"cost_text,omitempty"`
	Status     LinkStatus     `json:"status"`
	Properties map[string]any `json:"properties,omitempty"`

	// StatusChanged only moves when Status actually flips
	StatusChanged time.Time `json:"status_changed"`
	CreatedAt     time.Time `json:"created"`
	ModifiedAt    time.Time `json:"modified"`

	// Canonical addresses of the endpoints, filled in by the store
	SourceAddress string `json:"source"`
	TargetAddress string `json:"target"`
}

// NewLink creates an up link between two nodes
func NewLink(topologyID string, source, target *Node, cost float64) *Link {
	now := time.Now().UTC()
	return &Link{
		ID:            uuid.NewString(),
		TopologyID:    topologyID,
		SourceID:      source.ID,
		TargetID:      target.ID,
		SourceAddress: source.CanonicalID(),
		TargetAddress: target.CanonicalID(),
		Cost:          cost,
		Status:        LinkStatusUp,
		Properties:    make(map[string]any),
		StatusChanged: now,
		CreatedAt:     now,
		ModifiedAt:    now,
	}
}

// Validate checks link invariants
func (l *Link) Validate() error {
	if l.TopologyID == "" {
		return NewValidationError("link", "topology_id", "required")
	}
	if l.SourceID == "" || l.TargetID == "" {
		return NewValidationError("link", "source/target", "both endpoints required")
	}
	if l.SourceID == l.TargetID {
		return NewValidationError("link", "source/target", "source and target cannot be the same node")
	}
	if l.Status != LinkStatusUp && l.Status != LinkStatusDown {
		return NewValidationError("link", "status", fmt.Sprintf("unknown status %q", l.Status))
	}
	return nil
}

// SetStatus changes the status and returns true if it actually flipped.
// StatusChanged is only moved on a flip.
func (l *Link) SetStatus(status LinkStatus, now time.Time) bool {
	if l.Status == status {
		return false
	}
	l.Status = status
	l.StatusChanged = now
	return true
}

// Key returns the unordered endpoint key of the link
func (l *Link) Key() string {
	return LinkKey(l.SourceAddress, l.TargetAddress)
}

// SetProperty sets a property value
func (l *Link) SetProperty(key string, value any) {
	if l.Properties == nil {
		l.Properties = make(map[string]any)
	}
	l.Properties[key] = value
}

// GetProperty gets a property value
func (l *Link) GetProperty(key string) (any, bool) {
	if l.Properties == nil {
		return nil, false
	}
	val, ok := l.Properties[key]
	return val, ok
}

// Graph serializes the link. Unless original is set, status and timestamps
// are injected into the properties.
func (l *Link) Graph(original bool) GraphLink {
	gl := GraphLink{
		Source:   l.SourceAddress,
		Target:   l.TargetAddress,
		Cost:     l.Cost,
		CostText: l.CostText,
	}
	if original {
		gl.Properties = copyProperties(l.Properties)
		return gl
	}

	props := copyProperties(l.Properties)
	if props == nil {
		props = make(map[string]any)
	}
	props["status"] = string(l.Status)
	props["created"] = formatTime(l.CreatedAt)
	props["modified"] = formatTime(l.ModifiedAt)
	props["status_changed"] = formatTime(l.StatusChanged)
	gl.Properties = props
	return gl
}

func (l *Link) String() string {
	return fmt.Sprintf("link %s -> %s (%s, %s)", l.SourceAddress, l.TargetAddress, l.Status, l.ID)
}

// LinkKey builds an order-independent key for an endpoint pair. Addresses
// never contain NUL, so distinct pairs never share a key.
func LinkKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "\x00" + b
}
