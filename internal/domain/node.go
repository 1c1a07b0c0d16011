package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Node represents a network entity in a topology
type Node struct {
	ID         string `json:"id"`
	TopologyID string `json:"topology_id"`
	Label      string `json:"label"`

	// Addresses[0] is the canonical identifier, the rest are local addresses
	Addresses []string `json:"addresses"`

	// Properties are reported by the routing protocol
	Properties map[string]any `json:"properties,omitempty"`
	// UserProperties are operator-supplied and never touched by reconciliation
	UserProperties map[string]any `json:"user_properties,omitempty"`

	CreatedAt  time.Time `json:"created"`
	ModifiedAt time.Time `json:"modified"`
}

// NewNode creates a new node with initialized properties
func NewNode(topologyID string, addresses []string, label string) *Node {
	now := time.Now().UTC()
	return &Node{
		ID:             uuid.NewString(),
		TopologyID:     topologyID,
		Label:          label,
		Addresses:      addresses,
		Properties:     make(map[string]any),
		UserProperties: make(map[string]any),
		CreatedAt:      now,
		ModifiedAt:     now,
	}
}

// CanonicalID returns the first address, used for cross-snapshot matching
func (n *Node) CanonicalID() string {
	if len(n.Addresses) == 0 {
		return ""
	}
	return n.Addresses[0]
}

// LocalAddresses returns every address after the canonical one
func (n *Node) LocalAddresses() []string {
	if len(n.Addresses) < 2 {
		return nil
	}
	return n.Addresses[1:]
}

// DisplayName returns the label, else the canonical id, else ""
func (n *Node) DisplayName() string {
	if n.Label != "" {
		return n.Label
	}
	return n.CanonicalID()
}

// Validate checks node invariants
func (n *Node) Validate() error {
	if n.TopologyID == "" {
		return NewValidationError("node", "topology_id", "required")
	}
	if n.CanonicalID() == "" {
		return NewValidationError("node", "addresses", "at least one address required")
	}
	seen := make(map[string]struct{}, len(n.Addresses))
	for _, addr := range n.Addresses {
		if addr == "" {
			return NewValidationError("node", "addresses", "empty address")
		}
		if _, dup := seen[addr]; dup {
			return NewValidationError("node", "addresses", fmt.Sprintf("duplicate address %s", addr))
		}
		seen[addr] = struct{}{}
	}
	return nil
}

// SetProperty sets a property value
func (n *Node) SetProperty(key string, value any) {
	if n.Properties == nil {
		n.Properties = make(map[string]any)
	}
	n.Properties[key] = value
}

// GetProperty gets a property value
func (n *Node) GetProperty(key string) (any, bool) {
	if n.Properties == nil {
		return nil, false
	}
	val, ok := n.Properties[key]
	return val, ok
}

// GetUserPropertyString gets an operator-supplied property as a string
func (n *Node) GetUserPropertyString(key string) string {
	if n.UserProperties == nil {
		return ""
	}
	if s, ok := n.UserProperties[key].(string); ok {
		return s
	}
	return ""
}

// Graph serializes the node into its canonical graph form. Unless original
// is set, created/modified timestamps are injected into the properties.
func (n *Node) Graph(original bool, labels LabelResolver) GraphNode {
	gn := GraphNode{
		ID:             n.CanonicalID(),
		Label:          n.Label,
		LocalAddresses: n.LocalAddresses(),
	}
	if original {
		gn.Properties = copyProperties(n.Properties)
		return gn
	}

	if labels != nil {
		gn.Label = labels.NodeLabel(n)
	}
	props := copyProperties(n.Properties)
	if props == nil {
		props = make(map[string]any)
	}
	props["created"] = formatTime(n.CreatedAt)
	props["modified"] = formatTime(n.ModifiedAt)
	gn.Properties = props
	return gn
}

func (n *Node) String() string {
	return fmt.Sprintf("node %s (%s)", n.DisplayName(), n.ID)
}
