package domain

import (
	"encoding/json"
	"fmt"
	"reflect"
	"time"
)

// GraphType is the NetJSON type tag of a network graph
const GraphType = "NetworkGraph"

// Graph is the canonical NetJSON NetworkGraph representation
type Graph struct {
	Type     string      `json:"type" yaml:"type"`
	Protocol string      `json:"protocol" yaml:"protocol"`
	Version  string      `json:"version" yaml:"version"`
	Revision string      `json:"revision,omitempty" yaml:"revision,omitempty"`
	Metric   string      `json:"metric" yaml:"metric"`
	RouterID string      `json:"router_id,omitempty" yaml:"router_id,omitempty"`
	Label    string      `json:"label,omitempty" yaml:"label,omitempty"`
	Nodes    []GraphNode `json:"nodes" yaml:"nodes"`
	Links    []GraphLink `json:"links" yaml:"links"`
}

// GraphNode is a node in the canonical graph
type GraphNode struct {
	ID             string         `json:"id" yaml:"id"`
	Label          string         `json:"label,omitempty" yaml:"label,omitempty"`
	LocalAddresses []string       `json:"local_addresses,omitempty" yaml:"local_addresses,omitempty"`
	Properties     map[string]any `json:"properties,omitempty" yaml:"properties,omitempty"`
}

// GraphLink is a link in the canonical graph
type GraphLink struct {
	Source     string         `json:"source" yaml:"source"`
	Target     string         `json:"target" yaml:"target"`
	Cost       float64        `json:"cost" yaml:"cost"`
	CostText   string         `json:"cost_text,omitempty" yaml:"cost_text,omitempty"`
	Properties map[string]any `json:"properties,omitempty" yaml:"properties,omitempty"`
}

// Key returns the unordered endpoint key of the link
func (l GraphLink) Key() string {
	return LinkKey(l.Source, l.Target)
}

// NewGraph creates an empty graph with protocol metadata
func NewGraph(protocol, version, metric string) *Graph {
	return &Graph{
		Type:     GraphType,
		Protocol: protocol,
		Version:  version,
		Metric:   metric,
		Nodes:    make([]GraphNode, 0),
		Links:    make([]GraphLink, 0),
	}
}

// AddNode adds a node to the graph
func (g *Graph) AddNode(node GraphNode) {
	g.Nodes = append(g.Nodes, node)
}

// AddLink adds a link to the graph
func (g *Graph) AddLink(link GraphLink) {
	g.Links = append(g.Links, link)
}

// Validate checks the structure of a parsed graph
func (g *Graph) Validate() error {
	if g.Type != GraphType {
		return fmt.Errorf("type must be %q, got %q", GraphType, g.Type)
	}
	for i, node := range g.Nodes {
		if node.ID == "" {
			return fmt.Errorf("node %d: missing id", i)
		}
	}
	for i, link := range g.Links {
		if link.Source == "" || link.Target == "" {
			return fmt.Errorf("link %d: missing source or target", i)
		}
	}
	return nil
}

// GraphOptions controls topology serialization
type GraphOptions struct {
	// UpOnly omits links whose status is down
	UpOnly bool
	// Original emits raw protocol properties without computed fields
	Original bool
	// Labels resolves node labels for display; nil uses DefaultLabels
	Labels LabelResolver
}

// BuildGraph serializes a topology and its entities into the canonical
// graph. Node and link order follows the input slices.
func BuildGraph(t *Topology, nodes []Node, links []Link, opts GraphOptions) *Graph {
	labels := opts.Labels
	if labels == nil {
		labels = DefaultLabels{}
	}

	g := NewGraph(t.Protocol, t.Version, t.Metric)
	g.Revision = t.Revision
	g.Label = t.Label

	addrByID := make(map[string]string, len(nodes))
	for i := range nodes {
		addrByID[nodes[i].ID] = nodes[i].CanonicalID()
		g.AddNode(nodes[i].Graph(opts.Original, labels))
	}

	for i := range links {
		link := links[i]
		if opts.UpOnly && link.Status != LinkStatusUp {
			continue
		}
		if link.SourceAddress == "" {
			link.SourceAddress = addrByID[link.SourceID]
		}
		if link.TargetAddress == "" {
			link.TargetAddress = addrByID[link.TargetID]
		}
		g.AddLink(link.Graph(opts.Original))
	}

	return g
}

// LabelResolver computes the display label of a node
type LabelResolver interface {
	NodeLabel(n *Node) string
}

// DefaultLabels uses Node.DisplayName
type DefaultLabels struct{}

// NodeLabel implements LabelResolver
func (DefaultLabels) NodeLabel(n *Node) string {
	return n.DisplayName()
}

// UserPropertyLabels prefers an operator-supplied user property as label
type UserPropertyLabels struct {
	Key      string
	Fallback LabelResolver
}

// NodeLabel implements LabelResolver
func (u UserPropertyLabels) NodeLabel(n *Node) string {
	if label := n.GetUserPropertyString(u.Key); label != "" {
		return label
	}
	if u.Fallback != nil {
		return u.Fallback.NodeLabel(n)
	}
	return n.DisplayName()
}

// NormalizeProperties canonicalizes a property map through JSON so that
// values built in Go (ints, nested structs) compare equal to values decoded
// from storage. Empty maps normalize to nil.
func NormalizeProperties(props map[string]any) map[string]any {
	if len(props) == 0 {
		return nil
	}
	data, err := json.Marshal(props)
	if err != nil {
		return props
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return props
	}
	return out
}

// PropertiesEqual compares two property maps after normalization
func PropertiesEqual(a, b map[string]any) bool {
	return reflect.DeepEqual(NormalizeProperties(a), NormalizeProperties(b))
}

// AddressesEqual compares two address lists, order included
func AddressesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func copyProperties(props map[string]any) map[string]any {
	if props == nil {
		return nil
	}
	out := make(map[string]any, len(props))
	for k, v := range props {
		out[k] = v
	}
	return out
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
