package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"linkgraph/internal/diff"
	"linkgraph/internal/domain"
	"linkgraph/internal/metrics"
	"linkgraph/internal/repository"
)

// ReconcileRepository defines the repository interface for reconciliation
type ReconcileRepository interface {
	UpdateTopology(ctx context.Context, t *domain.Topology) error
	ListNodes(ctx context.Context, topologyID string) ([]domain.Node, error)
	ListLinks(ctx context.Context, topologyID string, filter repository.LinkFilter) ([]domain.Link, error)
	CreateNode(ctx context.Context, n *domain.Node) error
	UpdateNode(ctx context.Context, n *domain.Node) error
	CreateLink(ctx context.Context, l *domain.Link) error
	UpdateLink(ctx context.Context, l *domain.Link) error
	GetLinkByEndpoints(ctx context.Context, topologyID, nodeA, nodeB string) (*domain.Link, error)
	TouchLinks(ctx context.Context, ids []string, at time.Time) (int64, error)
}

// GraphParser resolves a format id and parses a snapshot.
// *parser.Registry satisfies it.
type GraphParser interface {
	Parse(ctx context.Context, format string, raw []byte, url string, timeout time.Duration) (*domain.Graph, error)
}

// ReconcilerConfig holds reconciler settings
type ReconcilerConfig struct {
	// ParseTimeout bounds every parser call
	ParseTimeout time.Duration
}

// EntityError is a per-entity failure that did not abort the batch
type EntityError struct {
	Entity string `json:"entity"`
	Error  string `json:"error"`
}

// Result summarizes one reconciliation run
type Result struct {
	TopologyID   string        `json:"topology_id"`
	NodesCreated int           `json:"nodes_created"`
	NodesUpdated int           `json:"nodes_updated"`
	LinksCreated int           `json:"links_created"`
	LinksUpdated int           `json:"links_updated"`
	LinksUp      int           `json:"links_up"`
	LinksDown    int           `json:"links_down"`
	Deferred     int           `json:"deferred"`
	Touched      int64         `json:"touched"`
	Errors       []EntityError `json:"errors,omitempty"`
}

// Writes returns the number of entity writes performed
func (r *Result) Writes() int {
	return r.NodesCreated + r.NodesUpdated + r.LinksCreated + r.LinksUpdated
}

// Option configures a Reconciler
type Option func(*Reconciler)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) {
		r.now = now
	}
}

// WithMetrics records reconciliation metrics
func WithMetrics(m *metrics.Collector) Option {
	return func(r *Reconciler) {
		r.metrics = m
	}
}

// Reconciler applies snapshots to stored topologies
type Reconciler struct {
	repo    ReconcileRepository
	parsers GraphParser
	sink    EventSink
	metrics *metrics.Collector
	logger  *zap.Logger
	cfg     ReconcilerConfig
	now     func() time.Time
}

// NewReconciler creates a new reconciler
func NewReconciler(repo ReconcileRepository, parsers GraphParser, sink EventSink, cfg ReconcilerConfig, logger *zap.Logger, opts ...Option) *Reconciler {
	if sink == nil {
		sink = NopSink{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Reconciler{
		repo:    repo,
		parsers: parsers,
		sink:    sink,
		logger:  logger.Named("reconcile"),
		cfg:     cfg,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ShouldTransition decides whether a link may move to the proposed status.
//
// Fetch topologies and transitions to up are always authoritative. A receive
// topology only lets a link go down once it has not been modified for the
// topology's expiration time, or immediately when that time is zero.
func ShouldTransition(t *domain.Topology, link *domain.Link, proposed domain.LinkStatus, now time.Time) bool {
	if link.Status == proposed {
		return false
	}
	if t.Strategy == domain.StrategyFetch {
		return true
	}
	if proposed == domain.LinkStatusUp {
		return true
	}
	if t.ExpirationTime == 0 {
		return true
	}
	return link.ModifiedAt.Before(now.Add(-t.Expiration()))
}

// Update parses raw (or fetches the topology url when raw is nil) and
// applies the result.
func (r *Reconciler) Update(ctx context.Context, t *domain.Topology, raw []byte) (res *Result, err error) {
	defer r.observe(t, r.now(), &err)

	g, err := r.parse(ctx, t, raw)
	if err != nil {
		return nil, err
	}
	return r.apply(ctx, t, g)
}

// UpdateGraph applies an already parsed graph
func (r *Reconciler) UpdateGraph(ctx context.Context, t *domain.Topology, g *domain.Graph) (res *Result, err error) {
	defer r.observe(t, r.now(), &err)
	return r.apply(ctx, t, g)
}

// Receive parses a pushed payload and applies it with receive semantics
func (r *Reconciler) Receive(ctx context.Context, t *domain.Topology, raw []byte) (res *Result, err error) {
	defer r.observe(t, r.now(), &err)

	if len(raw) == 0 {
		return nil, domain.NewValidationError("topology", "payload", "empty payload")
	}
	g, err := r.parse(ctx, t, raw)
	if err != nil {
		return nil, err
	}
	return r.receive(ctx, t, g)
}

// ReceiveGraph applies an already parsed graph with receive semantics
func (r *Reconciler) ReceiveGraph(ctx context.Context, t *domain.Topology, g *domain.Graph) (res *Result, err error) {
	defer r.observe(t, r.now(), &err)
	return r.receive(ctx, t, g)
}

// MarkDown flips the given links to down without consulting the transition
// policy and notifies the sink for every flip.
func (r *Reconciler) MarkDown(ctx context.Context, links []domain.Link) (int, error) {
	now := r.now()
	flipped := 0
	for i := range links {
		link := &links[i]
		if !link.SetStatus(domain.LinkStatusDown, now) {
			continue
		}
		link.ModifiedAt = now
		if err := r.repo.UpdateLink(ctx, link); err != nil {
			return flipped, fmt.Errorf("mark %s down: %w", link, err)
		}
		flipped++
		r.sink.LinkStatusChanged(ctx, link)
	}
	return flipped, nil
}

func (r *Reconciler) parse(ctx context.Context, t *domain.Topology, raw []byte) (*domain.Graph, error) {
	if r.parsers == nil {
		return nil, domain.NewParseError(t.Parser, errors.New("no parser registry"))
	}
	g, err := r.parsers.Parse(ctx, t.Parser, raw, t.URL, r.cfg.ParseTimeout)
	if err != nil {
		if !domain.IsParse(err) {
			err = domain.NewParseError(t.Parser, err)
		}
		r.logger.Warn("parse failed",
			zap.String("topology", t.ID),
			zap.String("parser", t.Parser),
			zap.Error(err))
		return nil, err
	}
	return g, nil
}

// receive touches every stored link present in g before applying it so
// links that keep being reported never decay
func (r *Reconciler) receive(ctx context.Context, t *domain.Topology, g *domain.Graph) (*Result, error) {
	var touched int64
	if t.ExpirationTime > 0 {
		n, err := r.touch(ctx, t, g)
		if err != nil {
			return nil, err
		}
		touched = n
	}

	res, err := r.apply(ctx, t, g)
	if err != nil {
		return nil, err
	}
	res.Touched = touched
	return res, nil
}

func (r *Reconciler) touch(ctx context.Context, t *domain.Topology, g *domain.Graph) (int64, error) {
	if len(g.Links) == 0 {
		return 0, nil
	}
	stored, err := r.repo.ListLinks(ctx, t.ID, repository.LinkFilter{})
	if err != nil {
		return 0, fmt.Errorf("list links: %w", err)
	}
	byKey := make(map[string]string, len(stored))
	for i := range stored {
		byKey[stored[i].Key()] = stored[i].ID
	}

	var ids []string
	seen := make(map[string]struct{}, len(g.Links))
	for _, gl := range g.Links {
		id, ok := byKey[gl.Key()]
		if !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	n, err := r.repo.TouchLinks(ctx, ids, r.now())
	if err != nil {
		return 0, fmt.Errorf("touch links: %w", err)
	}
	return n, nil
}

// run carries the state of one apply call
type run struct {
	r      *Reconciler
	topo   *domain.Topology
	now    time.Time
	nodes  map[string]*domain.Node
	links  map[string]*domain.Link
	result *Result
}

func (r *Reconciler) apply(ctx context.Context, t *domain.Topology, g *domain.Graph) (*Result, error) {
	if g == nil {
		return nil, domain.NewParseError(t.Parser, errors.New("nil graph"))
	}
	now := r.now()

	if t.MetadataDiffers(g) {
		t.ApplyMetadata(g)
		t.ModifiedAt = now
		if err := r.repo.UpdateTopology(ctx, t); err != nil {
			return nil, fmt.Errorf("update topology metadata: %w", err)
		}
	}

	nodes, err := r.repo.ListNodes(ctx, t.ID)
	if err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}
	links, err := r.repo.ListLinks(ctx, t.ID, repository.LinkFilter{Status: domain.LinkStatusUp})
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}

	st := &run{
		r:      r,
		topo:   t,
		now:    now,
		nodes:  make(map[string]*domain.Node, len(nodes)),
		links:  make(map[string]*domain.Link, len(links)),
		result: &Result{TopologyID: t.ID},
	}
	for i := range nodes {
		st.nodes[nodes[i].CanonicalID()] = &nodes[i]
	}
	for i := range links {
		st.links[links[i].Key()] = &links[i]
	}

	current := domain.BuildGraph(t, nodes, links, domain.GraphOptions{UpOnly: true, Original: true})
	d := diff.Compute(current, g)

	// Nodes first so links can resolve their endpoints
	for _, gn := range d.Added.Nodes {
		if err := st.ctxErr(ctx); err != nil {
			return nil, err
		}
		if existing, ok := st.nodes[gn.ID]; ok {
			st.updateNode(ctx, existing, gn)
			continue
		}
		st.createNode(ctx, gn)
	}
	for _, gn := range d.Changed.Nodes {
		if existing, ok := st.nodes[gn.ID]; ok {
			st.updateNode(ctx, existing, gn)
		}
	}

	for _, gl := range d.Added.Links {
		if err := st.ctxErr(ctx); err != nil {
			return nil, err
		}
		st.addLink(ctx, gl)
	}
	for _, gl := range d.Changed.Links {
		if existing, ok := st.links[gl.Key()]; ok {
			st.updateLink(ctx, existing, gl)
		}
	}
	for _, gl := range d.Removed.Links {
		if err := st.ctxErr(ctx); err != nil {
			return nil, err
		}
		if existing, ok := st.links[gl.Key()]; ok {
			st.transition(ctx, existing, domain.LinkStatusDown, false)
		}
	}

	r.metrics.AddDeferred(st.result.Deferred)
	if st.result.Writes() > 0 || st.result.Deferred > 0 {
		r.logger.Info("topology reconciled",
			zap.String("topology", t.ID),
			zap.Int("nodes_created", st.result.NodesCreated),
			zap.Int("nodes_updated", st.result.NodesUpdated),
			zap.Int("links_created", st.result.LinksCreated),
			zap.Int("links_updated", st.result.LinksUpdated),
			zap.Int("links_down", st.result.LinksDown),
			zap.Int("deferred", st.result.Deferred),
			zap.Int("errors", len(st.result.Errors)))
	}
	return st.result, nil
}

func (st *run) ctxErr(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("reconcile %s: %w", st.topo.ID, err)
	}
	return nil
}

// fail logs a per-entity failure and records it without aborting the run
func (st *run) fail(kind, entity string, err error) {
	st.r.logger.Warn("entity not reconciled",
		zap.String("topology", st.topo.ID),
		zap.String("entity", entity),
		zap.Error(err))
	st.r.metrics.IncEntityError(kind)
	st.result.Errors = append(st.result.Errors, EntityError{Entity: entity, Error: err.Error()})
}

func (st *run) createNode(ctx context.Context, gn domain.GraphNode) {
	addresses := append([]string{gn.ID}, gn.LocalAddresses...)
	node := domain.NewNode(st.topo.ID, addresses, gn.Label)
	node.Properties = domain.NormalizeProperties(gn.Properties)
	node.CreatedAt = st.now
	node.ModifiedAt = st.now

	if err := node.Validate(); err != nil {
		st.fail("node", node.String(), err)
		return
	}
	if err := st.r.repo.CreateNode(ctx, node); err != nil {
		st.fail("node", node.String(), err)
		return
	}
	st.nodes[gn.ID] = node
	st.result.NodesCreated++
}

func (st *run) updateNode(ctx context.Context, node *domain.Node, gn domain.GraphNode) {
	addresses := append([]string{gn.ID}, gn.LocalAddresses...)
	changed := false

	if node.Label != gn.Label {
		node.Label = gn.Label
		changed = true
	}
	if !domain.AddressesEqual(node.Addresses, addresses) {
		node.Addresses = addresses
		changed = true
	}
	if !domain.PropertiesEqual(node.Properties, gn.Properties) {
		node.Properties = domain.NormalizeProperties(gn.Properties)
		changed = true
	}
	if !changed {
		return
	}

	node.ModifiedAt = st.now
	if err := node.Validate(); err != nil {
		st.fail("node", node.String(), err)
		return
	}
	if err := st.r.repo.UpdateNode(ctx, node); err != nil {
		st.fail("node", node.String(), err)
		return
	}
	st.result.NodesUpdated++
}

// addLink creates a link unless one already joins the endpoints, in which
// case it is updated and driven toward up
func (st *run) addLink(ctx context.Context, gl domain.GraphLink) {
	repr := fmt.Sprintf("link %s -> %s", gl.Source, gl.Target)

	source, ok := st.nodes[gl.Source]
	if !ok {
		st.fail("link", repr, domain.NewValidationError("link", "source", fmt.Sprintf("unknown node %s", gl.Source)))
		return
	}
	target, ok := st.nodes[gl.Target]
	if !ok {
		st.fail("link", repr, domain.NewValidationError("link", "target", fmt.Sprintf("unknown node %s", gl.Target)))
		return
	}

	if existing, ok := st.links[gl.Key()]; ok {
		st.updateLink(ctx, existing, gl)
		return
	}
	existing, err := st.r.repo.GetLinkByEndpoints(ctx, st.topo.ID, source.ID, target.ID)
	if err != nil {
		st.fail("link", repr, err)
		return
	}
	if existing != nil {
		st.links[gl.Key()] = existing
		st.updateLink(ctx, existing, gl)
		return
	}

	link := domain.NewLink(st.topo.ID, source, target, gl.Cost)
	link.CostText = gl.CostText
	link.Properties = domain.NormalizeProperties(gl.Properties)
	link.StatusChanged = st.now
	link.CreatedAt = st.now
	link.ModifiedAt = st.now

	if err := link.Validate(); err != nil {
		st.fail("link", link.String(), err)
		return
	}
	if err := st.r.repo.CreateLink(ctx, link); err != nil {
		st.fail("link", link.String(), err)
		return
	}
	st.links[gl.Key()] = link
	st.result.LinksCreated++
}

// updateLink writes attribute changes and drives the link toward up
func (st *run) updateLink(ctx context.Context, link *domain.Link, gl domain.GraphLink) {
	changed := false
	if link.Cost != gl.Cost {
		link.Cost = gl.Cost
		changed = true
	}
	if link.CostText != gl.CostText {
		link.CostText = gl.CostText
		changed = true
	}
	if !domain.PropertiesEqual(link.Properties, gl.Properties) {
		link.Properties = domain.NormalizeProperties(gl.Properties)
		changed = true
	}
	st.transition(ctx, link, domain.LinkStatusUp, changed)
}

// transition applies the status policy and writes the link when its status
// flipped or its attributes changed
func (st *run) transition(ctx context.Context, link *domain.Link, proposed domain.LinkStatus, changed bool) {
	flipped := false
	if link.Status != proposed {
		if ShouldTransition(st.topo, link, proposed, st.now) {
			link.SetStatus(proposed, st.now)
			flipped = true
		} else {
			st.result.Deferred++
		}
	}
	if !changed && !flipped {
		return
	}

	link.ModifiedAt = st.now
	if err := link.Validate(); err != nil {
		st.fail("link", link.String(), err)
		return
	}
	if err := st.r.repo.UpdateLink(ctx, link); err != nil {
		st.fail("link", link.String(), err)
		return
	}
	st.result.LinksUpdated++

	if flipped {
		if link.Status == domain.LinkStatusUp {
			st.result.LinksUp++
		} else {
			st.result.LinksDown++
		}
		st.r.sink.LinkStatusChanged(ctx, link)
	}
}

func (r *Reconciler) observe(t *domain.Topology, start time.Time, err *error) {
	r.metrics.ObserveReconcile(t.Strategy, *err, r.now().Sub(start))
}
