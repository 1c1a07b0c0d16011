package domain

import (
	"crypto/subtle"
	"time"

	"github.com/google/uuid"
)

// Strategy defines how a topology obtains its graph
type Strategy string

const (
	// StrategyFetch - topology pulls its graph from URL on a schedule
	StrategyFetch Strategy = "fetch"
	// StrategyReceive - external agents push graphs using the shared key
	StrategyReceive Strategy = "receive"
)

// Topology is one managed network graph
type Topology struct {
	ID       string   `json:"id"`
	Label    string   `json:"label"`
	Parser   string   `json:"parser"`
	Strategy Strategy `json:"strategy"`
	URL      string   `json:"url,omitempty"`
	Key      string   `json:"-"`

	// ExpirationTime is the receive-only decay grace period in seconds
	ExpirationTime int  `json:"expiration_time"`
	Published      bool `json:"published"`

	// Last observed protocol metadata
	Protocol string `json:"protocol,omitempty"`
	Version  string `json:"version,omitempty"`
	Revision string `json:"revision,omitempty"`
	Metric   string `json:"metric,omitempty"`

	OrganizationID string `json:"organization_id,omitempty"`
	// MeshKey tags topologies created by mesh aggregation ("ssid@channel")
	MeshKey string `json:"mesh_key,omitempty"`

	CreatedAt  time.Time `json:"created"`
	ModifiedAt time.Time `json:"modified"`
}

// NewTopology creates a published topology with a fresh id
func NewTopology(label, parser string, strategy Strategy) *Topology {
	now := time.Now().UTC()
	return &Topology{
		ID:         uuid.NewString(),
		Label:      label,
		Parser:     parser,
		Strategy:   strategy,
		Published:  true,
		CreatedAt:  now,
		ModifiedAt: now,
	}
}

// Validate checks the strategy invariants
func (t *Topology) Validate() error {
	if t.Parser == "" {
		return NewValidationError("topology", "parser", "required")
	}
	switch t.Strategy {
	case StrategyFetch:
		if t.URL == "" {
			return NewValidationError("topology", "url", "required for fetch strategy")
		}
	case StrategyReceive:
		if t.Key == "" {
			return NewValidationError("topology", "key", "required for receive strategy")
		}
	default:
		return NewValidationError("topology", "strategy", "must be 'fetch' or 'receive'")
	}
	if t.ExpirationTime < 0 {
		return NewValidationError("topology", "expiration_time", "cannot be negative")
	}
	return nil
}

// Expiration returns the decay grace period as a duration
func (t *Topology) Expiration() time.Duration {
	return time.Duration(t.ExpirationTime) * time.Second
}

// CheckKey compares key against the shared receive key
func (t *Topology) CheckKey(key string) error {
	if t.Key == "" || subtle.ConstantTimeCompare([]byte(t.Key), []byte(key)) != 1 {
		return &AuthorizationError{TopologyID: t.ID}
	}
	return nil
}

// MetadataDiffers reports whether the graph carries protocol metadata that
// differs from what is stored
func (t *Topology) MetadataDiffers(g *Graph) bool {
	return t.Protocol != g.Protocol ||
		t.Version != g.Version ||
		t.Revision != g.Revision ||
		t.Metric != g.Metric
}

// ApplyMetadata copies the graph's protocol metadata onto the topology
func (t *Topology) ApplyMetadata(g *Graph) {
	t.Protocol = g.Protocol
	t.Version = g.Version
	t.Revision = g.Revision
	t.Metric = g.Metric
}

// IsMesh reports whether the topology was created by mesh aggregation
func (t *Topology) IsMesh() bool {
	return t.MeshKey != ""
}

func (t *Topology) String() string {
	if t.Label != "" {
		return t.Label
	}
	return t.ID
}
