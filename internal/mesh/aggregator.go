// Package mesh rebuilds wireless mesh topologies from device telemetry.
//
// Every device reports only its own view of the mesh: its interfaces and the
// peer stations they see. The aggregator fuses the latest samples of an
// organization into one graph per mesh group (SSID and channel) and hands
// each graph to the topology service with receive semantics, so the usual
// decay grace period applies to mesh links too.
package mesh

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"linkgraph/internal/domain"
	"linkgraph/internal/metrics"
	"linkgraph/internal/parser"
	"linkgraph/internal/service"
)

// Defaults
const (
	DefaultMode           = "802.11s"
	DefaultCutoff         = 5 * time.Minute
	DefaultExpirationTime = 360
	DefaultCacheSize      = 1024
)

// Repository defines the storage the aggregator reads and writes
type Repository interface {
	SaveDeviceSample(ctx context.Context, s *domain.DeviceSample) error
	ListDeviceSamples(ctx context.Context, organizationID string) ([]domain.DeviceSample, error)
	FindMeshTopology(ctx context.Context, organizationID, meshKey string) (*domain.Topology, error)
}

// Topologies receives the rebuilt graphs. *service.TopologyService
// satisfies it.
type Topologies interface {
	CreateTopology(ctx context.Context, t *domain.Topology) error
	ReceiveGraph(ctx context.Context, id string, g *domain.Graph) (*service.Result, error)
	MarkMeshDown(ctx context.Context, organizationID string) (int, error)
}

// Config holds aggregator settings
type Config struct {
	// Mode selects the wireless interfaces that form a mesh
	Mode string
	// Cutoff discards neighbor data from older samples
	Cutoff time.Duration
	// ExpirationTime is the receive grace period of new mesh topologies, in seconds
	ExpirationTime int
	// CacheSize bounds the mesh key to topology cache
	CacheSize int
}

func (c *Config) applyDefaults() {
	if c.Mode == "" {
		c.Mode = DefaultMode
	}
	if c.Cutoff <= 0 {
		c.Cutoff = DefaultCutoff
	}
	if c.ExpirationTime <= 0 {
		c.ExpirationTime = DefaultExpirationTime
	}
	if c.CacheSize <= 0 {
		c.CacheSize = DefaultCacheSize
	}
}

// OrgResult reports the outcome of one organization batch
type OrgResult struct {
	OrganizationID string `json:"organization_id"`
	Groups         int    `json:"groups"`
	Created        int    `json:"topologies_created"`
	MarkedDown     int    `json:"links_marked_down"`
	// Results are keyed by mesh group key
	Results map[string]*service.Result `json:"results,omitempty"`
	Errors  []string                   `json:"errors,omitempty"`
}

// Aggregator turns device samples into mesh topologies
type Aggregator struct {
	repo       Repository
	topologies Topologies
	cache      *lru.Cache[string, string]
	metrics    *metrics.Collector
	cfg        Config
	logger     *zap.Logger
	now        func() time.Time
}

// NewAggregator creates a new aggregator
func NewAggregator(repo Repository, topologies Topologies, cfg Config, m *metrics.Collector, logger *zap.Logger) (*Aggregator, error) {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	cache, err := lru.New[string, string](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("create topology cache: %w", err)
	}
	return &Aggregator{
		repo:       repo,
		topologies: topologies,
		cache:      cache,
		metrics:    m,
		cfg:        cfg,
		logger:     logger.Named("mesh"),
		now:        func() time.Time { return time.Now().UTC() },
	}, nil
}

// SetClock overrides the time source
func (a *Aggregator) SetClock(now func() time.Time) {
	a.now = now
}

// RecordSample stores the latest telemetry of a device. Older samples
// never replace newer ones.
func (a *Aggregator) RecordSample(ctx context.Context, s *domain.DeviceSample) error {
	s.MACAddress = domain.NormalizeMAC(s.MACAddress)
	for i := range s.Interfaces {
		s.Interfaces[i].MAC = domain.NormalizeMAC(s.Interfaces[i].MAC)
	}
	if s.Timestamp.IsZero() {
		s.Timestamp = a.now()
	}
	if err := s.Validate(); err != nil {
		return err
	}
	return a.repo.SaveDeviceSample(ctx, s)
}

// CreateMeshTopologies rebuilds the mesh topologies of every organization.
// A zero cutoff uses the configured one. Organizations are independent: a
// failure is reported in that organization's result.
func (a *Aggregator) CreateMeshTopologies(ctx context.Context, organizationIDs []string, cutoff time.Duration) ([]OrgResult, error) {
	if cutoff <= 0 {
		cutoff = a.cfg.Cutoff
	}
	results := make([]OrgResult, 0, len(organizationIDs))
	for _, org := range organizationIDs {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		results = append(results, a.createOrg(ctx, org, cutoff))
	}
	return results, nil
}

func (a *Aggregator) createOrg(ctx context.Context, org string, cutoff time.Duration) OrgResult {
	res := OrgResult{OrganizationID: org, Results: make(map[string]*service.Result)}
	logger := a.logger.With(zap.String("organization", org))

	samples, err := a.repo.ListDeviceSamples(ctx, org)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("list device samples: %v", err))
		logger.Error("failed to list device samples", zap.Error(err))
		return res
	}

	b := NewBuilder(a.cfg.Mode, a.now().Add(-cutoff))
	for i := range samples {
		b.Add(&samples[i])
	}
	groups := b.Groups()
	res.Groups = len(groups)
	a.metrics.AddMeshGroups(org, len(groups))

	if len(groups) == 0 {
		n, err := a.topologies.MarkMeshDown(ctx, org)
		res.MarkedDown = n
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("mark mesh down: %v", err))
			logger.Error("failed to mark mesh links down", zap.Error(err))
		}
		return res
	}

	for _, g := range groups {
		graph := b.Graph(g)
		result, created, err := a.receive(ctx, org, g, graph)
		if created {
			res.Created++
		}
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", g.Key, err))
			logger.Warn("mesh group not reconciled", zap.String("mesh", g.Key), zap.Error(err))
			continue
		}
		res.Results[g.Key] = result
	}

	logger.Debug("mesh topologies rebuilt",
		zap.Int("samples", len(samples)),
		zap.Int("groups", res.Groups),
		zap.Int("created", res.Created))
	return res
}

// receive feeds a group graph to its topology, creating it on first sight.
// A cached topology that vanished is looked up again once.
func (a *Aggregator) receive(ctx context.Context, org string, g *Group, graph *domain.Graph) (*service.Result, bool, error) {
	id, created, err := a.topologyID(ctx, org, g)
	if err != nil {
		return nil, created, err
	}

	result, err := a.topologies.ReceiveGraph(ctx, id, graph)
	if err == nil || !domain.IsNotFound(err) {
		return result, created, err
	}

	a.cache.Remove(cacheKey(org, g.Key))
	id, again, err := a.topologyID(ctx, org, g)
	if err != nil {
		return nil, created || again, err
	}
	result, err = a.topologies.ReceiveGraph(ctx, id, graph)
	return result, created || again, err
}

func (a *Aggregator) topologyID(ctx context.Context, org string, g *Group) (string, bool, error) {
	key := cacheKey(org, g.Key)
	if id, ok := a.cache.Get(key); ok {
		return id, false, nil
	}

	t, err := a.repo.FindMeshTopology(ctx, org, g.Key)
	if err != nil {
		return "", false, fmt.Errorf("find mesh topology: %w", err)
	}
	if t != nil {
		a.cache.Add(key, t.ID)
		return t.ID, false, nil
	}

	t = domain.NewTopology(Label(g.SSID, g.Channel), parser.FormatNetJSON, domain.StrategyReceive)
	t.Key = uuid.NewString()
	t.ExpirationTime = a.cfg.ExpirationTime
	t.OrganizationID = org
	t.MeshKey = g.Key
	if err := a.topologies.CreateTopology(ctx, t); err != nil {
		return "", false, fmt.Errorf("create mesh topology: %w", err)
	}
	a.logger.Info("mesh topology created",
		zap.String("organization", org),
		zap.String("mesh", g.Key),
		zap.String("topology", t.ID))
	a.cache.Add(key, t.ID)
	return t.ID, true, nil
}

func cacheKey(org, meshKey string) string {
	return org + "/" + meshKey
}

// Err joins the errors of every organization result
func Err(results []OrgResult) error {
	var errs []error
	for _, r := range results {
		for _, msg := range r.Errors {
			errs = append(errs, fmt.Errorf("organization %s: %s", r.OrganizationID, msg))
		}
	}
	return errors.Join(errs...)
}
