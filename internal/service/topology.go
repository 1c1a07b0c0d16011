package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"linkgraph/internal/domain"
	"linkgraph/internal/repository"
)

// Locker serializes work on one topology. *lock.LocalLocker and
// *lock.EtcdLocker satisfy it.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// TopologyRepository defines the repository interface for topology operations
type TopologyRepository interface {
	CreateTopology(ctx context.Context, t *domain.Topology) error
	GetTopology(ctx context.Context, id string) (*domain.Topology, error)
	ListTopologies(ctx context.Context, filter repository.TopologyFilter) ([]domain.Topology, error)
	ListNodes(ctx context.Context, topologyID string) ([]domain.Node, error)
	SetNodeUserProperties(ctx context.Context, topologyID, address string, props map[string]any) (*domain.Node, error)
	ListLinks(ctx context.Context, topologyID string, filter repository.LinkFilter) ([]domain.Link, error)
	SaveSnapshot(ctx context.Context, s *domain.Snapshot) error
	GetSnapshot(ctx context.Context, topologyID, date string) (*domain.Snapshot, error)
	ListSnapshotDates(ctx context.Context, topologyID string) ([]string, error)
}

// ServiceConfig holds topology service settings
type ServiceConfig struct {
	// Concurrency bounds parallel updates in UpdateAll
	Concurrency int
	// LabelProperty names the user property preferred as node label
	LabelProperty string
}

// BatchResult reports every topology of a batch separately
type BatchResult struct {
	Results map[string]*Result `json:"results"`
	Errors  map[string]error   `json:"-"`
}

// Err joins the per-topology errors in topology id order
func (b *BatchResult) Err() error {
	if len(b.Errors) == 0 {
		return nil
	}
	ids := make([]string, 0, len(b.Errors))
	for id := range b.Errors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	errs := make([]error, 0, len(ids))
	for _, id := range ids {
		errs = append(errs, fmt.Errorf("topology %s: %w", id, b.Errors[id]))
	}
	return errors.Join(errs...)
}

// TopologyService is the entry point for topology operations. Every
// reconciliation holds the topology lock.
type TopologyService struct {
	repo       TopologyRepository
	reconciler *Reconciler
	locker     Locker
	events     *EventBus
	labels     domain.LabelResolver
	cfg        ServiceConfig
	logger     *zap.Logger
	now        func() time.Time
}

// NewTopologyService creates a new topology service. events may be nil.
func NewTopologyService(repo TopologyRepository, reconciler *Reconciler, locker Locker, events *EventBus, cfg ServiceConfig, logger *zap.Logger) *TopologyService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	var labels domain.LabelResolver = domain.DefaultLabels{}
	if cfg.LabelProperty != "" {
		labels = domain.UserPropertyLabels{Key: cfg.LabelProperty, Fallback: labels}
	}
	return &TopologyService{
		repo:       repo,
		reconciler: reconciler,
		locker:     locker,
		events:     events,
		labels:     labels,
		cfg:        cfg,
		logger:     logger.Named("topology"),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// SetLabels replaces the node label resolver used for display graphs
func (s *TopologyService) SetLabels(labels domain.LabelResolver) {
	s.labels = labels
}

// SetClock overrides the time source used for snapshots
func (s *TopologyService) SetClock(now func() time.Time) {
	s.now = now
}

// CreateTopology validates and stores a new topology
func (s *TopologyService) CreateTopology(ctx context.Context, t *domain.Topology) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if err := s.repo.CreateTopology(ctx, t); err != nil {
		return err
	}
	s.publish(Event{Type: EventTopologyCreated, Payload: t})
	return nil
}

// GetTopology returns a topology by id
func (s *TopologyService) GetTopology(ctx context.Context, id string) (*domain.Topology, error) {
	return s.repo.GetTopology(ctx, id)
}

// ListTopologies returns topologies matching the filter
func (s *TopologyService) ListTopologies(ctx context.Context, filter repository.TopologyFilter) ([]domain.Topology, error) {
	return s.repo.ListTopologies(ctx, filter)
}

// Update fetches the topology source and reconciles it
func (s *TopologyService) Update(ctx context.Context, id string) (*Result, error) {
	return s.UpdateWith(ctx, id, nil)
}

// UpdateWith reconciles raw against the topology, fetching the source when
// raw is nil
func (s *TopologyService) UpdateWith(ctx context.Context, id string, raw []byte) (*Result, error) {
	var res *Result
	err := s.withLock(ctx, id, func(t *domain.Topology) error {
		if raw == nil && t.URL == "" {
			return domain.NewValidationError("topology", "url", "required to fetch")
		}
		var err error
		res, err = s.reconciler.Update(ctx, t, raw)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.publish(Event{Type: EventTopologyUpdated, Payload: res})
	return res, nil
}

// Receive authenticates a pushed payload and reconciles it
func (s *TopologyService) Receive(ctx context.Context, id, key string, payload []byte) (*Result, error) {
	var res *Result
	err := s.withLock(ctx, id, func(t *domain.Topology) error {
		if err := t.CheckKey(key); err != nil {
			return err
		}
		if t.Strategy != domain.StrategyReceive {
			return domain.NewValidationError("topology", "strategy", "topology does not accept pushed snapshots")
		}
		var err error
		res, err = s.reconciler.Receive(ctx, t, payload)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.publish(Event{Type: EventTopologyUpdated, Payload: res})
	return res, nil
}

// ReceiveGraph reconciles an aggregated graph with receive semantics
func (s *TopologyService) ReceiveGraph(ctx context.Context, id string, g *domain.Graph) (*Result, error) {
	var res *Result
	err := s.withLock(ctx, id, func(t *domain.Topology) error {
		var err error
		res, err = s.reconciler.ReceiveGraph(ctx, t, g)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.publish(Event{Type: EventTopologyUpdated, Payload: res})
	return res, nil
}

// MarkMeshDown flips every up link of the organization's mesh topologies
// to down. Links are read under each topology's lock.
func (s *TopologyService) MarkMeshDown(ctx context.Context, organizationID string) (int, error) {
	if organizationID == "" {
		return 0, domain.NewValidationError("topology", "organization_id", "required")
	}
	topologies, err := s.repo.ListTopologies(ctx, repository.TopologyFilter{
		OrganizationID: organizationID,
		MeshOnly:       true,
	})
	if err != nil {
		return 0, fmt.Errorf("list mesh topologies: %w", err)
	}

	total := 0
	for _, mt := range topologies {
		err := s.withLock(ctx, mt.ID, func(t *domain.Topology) error {
			links, err := s.repo.ListLinks(ctx, t.ID, repository.LinkFilter{Status: domain.LinkStatusUp})
			if err != nil {
				return fmt.Errorf("list links: %w", err)
			}
			n, err := s.reconciler.MarkDown(ctx, links)
			total += n
			return err
		})
		if err != nil {
			return total, err
		}
	}
	if total > 0 {
		s.logger.Info("mesh links marked down",
			zap.String("organization", organizationID),
			zap.Int("links", total))
	}
	return total, nil
}

// SetNodeProperties replaces the operator-supplied properties of the node
// with the given canonical address. Reconciliation never overwrites them.
func (s *TopologyService) SetNodeProperties(ctx context.Context, id, address string, props map[string]any) (*domain.Node, error) {
	if address == "" {
		return nil, domain.NewValidationError("node", "address", "required")
	}
	var node *domain.Node
	err := s.withLock(ctx, id, func(t *domain.Topology) error {
		var err error
		node, err = s.repo.SetNodeUserProperties(ctx, t.ID, address, props)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("node properties set",
		zap.String("topology", id),
		zap.String("node", address),
		zap.Int("properties", len(props)))
	return node, nil
}

// Graph returns the display graph of a published topology
func (s *TopologyService) Graph(ctx context.Context, id string) (*domain.Graph, error) {
	t, err := s.repo.GetTopology(ctx, id)
	if err != nil {
		return nil, err
	}
	if !t.Published {
		return nil, domain.NewNotFoundError("topology", id)
	}
	return s.buildGraph(ctx, t)
}

func (s *TopologyService) buildGraph(ctx context.Context, t *domain.Topology) (*domain.Graph, error) {
	nodes, err := s.repo.ListNodes(ctx, t.ID)
	if err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}
	links, err := s.repo.ListLinks(ctx, t.ID, repository.LinkFilter{})
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}
	return domain.BuildGraph(t, nodes, links, domain.GraphOptions{Labels: s.labels}), nil
}

// SaveSnapshot stores today's snapshot of a topology, replacing an earlier
// one from the same day
func (s *TopologyService) SaveSnapshot(ctx context.Context, id string) (*domain.Snapshot, error) {
	t, err := s.repo.GetTopology(ctx, id)
	if err != nil {
		return nil, err
	}
	g, err := s.buildGraph(ctx, t)
	if err != nil {
		return nil, err
	}
	snap, err := domain.NewSnapshot(t.ID, g, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.repo.SaveSnapshot(ctx, snap); err != nil {
		return nil, err
	}
	s.publish(Event{Type: EventSnapshotSaved, Payload: map[string]string{"topology_id": t.ID, "date": snap.Date}})
	return snap, nil
}

// SaveSnapshots stores today's snapshot of every published topology
func (s *TopologyService) SaveSnapshots(ctx context.Context) (int, error) {
	topologies, err := s.repo.ListTopologies(ctx, repository.TopologyFilter{})
	if err != nil {
		return 0, err
	}
	saved := 0
	var errs []error
	for _, t := range topologies {
		if !t.Published {
			continue
		}
		if _, err := s.SaveSnapshot(ctx, t.ID); err != nil {
			errs = append(errs, fmt.Errorf("topology %s: %w", t.ID, err))
			continue
		}
		saved++
	}
	return saved, errors.Join(errs...)
}

// Snapshot returns the stored snapshot of a topology for a YYYY-MM-DD date
func (s *TopologyService) Snapshot(ctx context.Context, id, date string) (*domain.Snapshot, error) {
	key, err := domain.ParseSnapshotDate(date)
	if err != nil {
		return nil, err
	}
	if _, err := s.repo.GetTopology(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.GetSnapshot(ctx, id, key)
}

// SnapshotDates lists the days with a stored snapshot, newest first
func (s *TopologyService) SnapshotDates(ctx context.Context, id string) ([]string, error) {
	if _, err := s.repo.GetTopology(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.ListSnapshotDates(ctx, id)
}

// UpdateAll updates every fetch topology in parallel. A failing topology
// does not stop the others; its error is reported in the result.
func (s *TopologyService) UpdateAll(ctx context.Context) (*BatchResult, error) {
	topologies, err := s.repo.ListTopologies(ctx, repository.TopologyFilter{Strategy: domain.StrategyFetch})
	if err != nil {
		return nil, fmt.Errorf("list topologies: %w", err)
	}

	batch := &BatchResult{
		Results: make(map[string]*Result, len(topologies)),
		Errors:  make(map[string]error),
	}
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)
	for _, t := range topologies {
		id := t.ID
		g.Go(func() error {
			res, err := s.Update(ctx, id)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				s.logger.Warn("topology update failed", zap.String("topology", id), zap.Error(err))
				batch.Errors[id] = err
				return nil
			}
			batch.Results[id] = res
			return nil
		})
	}
	_ = g.Wait()

	return batch, nil
}

// withLock loads the topology under its lock and runs fn
func (s *TopologyService) withLock(ctx context.Context, id string, fn func(t *domain.Topology) error) error {
	unlock, err := s.locker.Lock(ctx, lockKey(id))
	if err != nil {
		return fmt.Errorf("lock topology %s: %w", id, err)
	}
	defer unlock()

	t, err := s.repo.GetTopology(ctx, id)
	if err != nil {
		return err
	}
	return fn(t)
}

func (s *TopologyService) publish(e Event) {
	if s.events != nil {
		s.events.Publish(e)
	}
}

func lockKey(topologyID string) string {
	return "topology/" + topologyID
}
