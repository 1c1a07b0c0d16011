package repository

import (
	"context"
	"time"

	"linkgraph/internal/domain"
)

// TopologyFilter narrows a topology scan. Zero values match everything.
type TopologyFilter struct {
	Strategy       domain.Strategy
	OrganizationID string
	Parser         string
	MeshOnly       bool
}

// LinkFilter narrows a link scan. Zero values match everything.
type LinkFilter struct {
	Status domain.LinkStatus
}

// Store defines the data access methods used by linkgraph
type Store interface {
	// Topologies
	CreateTopology(ctx context.Context, t *domain.Topology) error
	UpdateTopology(ctx context.Context, t *domain.Topology) error
	GetTopology(ctx context.Context, id string) (*domain.Topology, error)
	ListTopologies(ctx context.Context, filter TopologyFilter) ([]domain.Topology, error)
	FindMeshTopology(ctx context.Context, organizationID, meshKey string) (*domain.Topology, error)

	// Nodes
	CreateNode(ctx context.Context, n *domain.Node) error
	UpdateNode(ctx context.Context, n *domain.Node) error
	GetNodeByAddress(ctx context.Context, topologyID, address string) (*domain.Node, error)
	SetNodeUserProperties(ctx context.Context, topologyID, address string, props map[string]any) (*domain.Node, error)
	ListNodes(ctx context.Context, topologyID string) ([]domain.Node, error)
	DeleteOrphanNodes(ctx context.Context, modifiedBefore time.Time) (int64, error)

	// Links
	CreateLink(ctx context.Context, l *domain.Link) error
	UpdateLink(ctx context.Context, l *domain.Link) error
	GetLinkByEndpoints(ctx context.Context, topologyID, nodeA, nodeB string) (*domain.Link, error)
	ListLinks(ctx context.Context, topologyID string, filter LinkFilter) ([]domain.Link, error)
	ListMeshLinks(ctx context.Context, organizationID string, filter LinkFilter) ([]domain.Link, error)
	TouchLinks(ctx context.Context, ids []string, at time.Time) (int64, error)
	DeleteDownLinks(ctx context.Context, modifiedBefore time.Time) (int64, error)

	// Snapshots
	SaveSnapshot(ctx context.Context, s *domain.Snapshot) error
	GetSnapshot(ctx context.Context, topologyID, date string) (*domain.Snapshot, error)
	ListSnapshotDates(ctx context.Context, topologyID string) ([]string, error)

	// Device telemetry
	SaveDeviceSample(ctx context.Context, s *domain.DeviceSample) error
	ListDeviceSamples(ctx context.Context, organizationID string) ([]domain.DeviceSample, error)

	// Close releases resources
	Close() error
}
