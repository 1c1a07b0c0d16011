package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linkgraph/internal/domain"
	"linkgraph/internal/lock"
)

func newService(t *testing.T, f *fixture) (*TopologyService, chan Event) {
	t.Helper()
	bus := NewEventBus()
	events := make(chan Event, 64)
	bus.Subscribe(events)

	svc := NewTopologyService(f.repo, f.rec, lock.NewLocalLocker(), bus, ServiceConfig{Concurrency: 2}, nil)
	svc.SetClock(f.clock.Now)
	return svc, events
}

func drain(ch chan Event) []EventType {
	var types []EventType
	for {
		select {
		case e := <-ch:
			types = append(types, e.Type)
		default:
			return types
		}
	}
}

func graphServer(t *testing.T, g *domain.Graph) *httptest.Server {
	t.Helper()
	body, err := json.Marshal(g)
	require.NoError(t, err)

	mux := http.NewServeMux()
	mux.HandleFunc("/graph.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write(body)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestServiceCreateTopology(t *testing.T) {
	f := newFixture(t)
	svc, events := newService(t, f)
	ctx := context.Background()

	topo := domain.NewTopology("lab", "netjson", domain.StrategyFetch)
	err := svc.CreateTopology(ctx, topo)
	require.Error(t, err)
	assert.True(t, domain.IsValidation(err), "fetch requires a url")

	topo.URL = "http://example.net/graph.json"
	require.NoError(t, svc.CreateTopology(ctx, topo))
	assert.Equal(t, []EventType{EventTopologyCreated}, drain(events))

	got, err := svc.GetTopology(ctx, topo.ID)
	require.NoError(t, err)
	assert.Equal(t, "lab", got.Label)
}

func TestServiceUpdateFetches(t *testing.T) {
	f := newFixture(t)
	svc, events := newService(t, f)
	ctx := context.Background()

	srv := graphServer(t, snapshot([]string{"a", "b"}, link("a", "b", 1)))
	topo := f.topology(t, domain.StrategyFetch, 0)
	topo.URL = srv.URL + "/graph.json"
	require.NoError(t, f.repo.UpdateTopology(ctx, topo))

	res, err := svc.Update(ctx, topo.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, res.NodesCreated)
	assert.Equal(t, 1, res.LinksCreated)
	assert.Equal(t, []EventType{EventTopologyUpdated}, drain(events))

	_, err = svc.Update(ctx, "missing")
	require.Error(t, err)
	assert.True(t, domain.IsNotFound(err))
}

func TestServiceUpdateRequiresURL(t *testing.T) {
	f := newFixture(t)
	svc, _ := newService(t, f)
	topo := f.topology(t, domain.StrategyReceive, 0)

	_, err := svc.Update(context.Background(), topo.ID)
	require.Error(t, err)
	assert.True(t, domain.IsValidation(err))
}

func TestServiceReceive(t *testing.T) {
	f := newFixture(t)
	svc, events := newService(t, f)
	ctx := context.Background()

	receive := f.topology(t, domain.StrategyReceive, 0)
	fetch := f.topology(t, domain.StrategyFetch, 0)
	payload, err := json.Marshal(snapshot([]string{"a", "b"}, link("a", "b", 1)))
	require.NoError(t, err)

	_, err = svc.Receive(ctx, receive.ID, "wrong", payload)
	require.Error(t, err)
	assert.True(t, domain.IsAuthorization(err))

	_, err = svc.Receive(ctx, receive.ID, "", payload)
	require.Error(t, err)
	assert.True(t, domain.IsAuthorization(err))

	// A wrong key is rejected the same way whatever the strategy
	_, err = svc.Receive(ctx, fetch.ID, "secret", payload)
	require.Error(t, err)
	assert.True(t, domain.IsAuthorization(err))

	fetch.Key = "fetch-secret"
	require.NoError(t, f.repo.UpdateTopology(ctx, fetch))
	_, err = svc.Receive(ctx, fetch.ID, "fetch-secret", payload)
	require.Error(t, err)
	assert.True(t, domain.IsValidation(err))

	_, err = svc.Receive(ctx, "missing", "secret", payload)
	require.Error(t, err)
	assert.True(t, domain.IsNotFound(err))

	_, err = svc.Receive(ctx, receive.ID, "secret", []byte(`{"type":"Bogus"}`))
	require.Error(t, err)
	assert.True(t, domain.IsParse(err))
	assert.Empty(t, f.links(t, receive))
	assert.Empty(t, drain(events))

	res, err := svc.Receive(ctx, receive.ID, "secret", payload)
	require.NoError(t, err)
	assert.Equal(t, 1, res.LinksCreated)
	assert.Equal(t, []EventType{EventTopologyUpdated}, drain(events))
}

func TestServiceUpdateAll(t *testing.T) {
	f := newFixture(t)
	svc, _ := newService(t, f)
	ctx := context.Background()

	srv := graphServer(t, snapshot([]string{"a", "b"}, link("a", "b", 1)))

	good := f.topology(t, domain.StrategyFetch, 0)
	good.URL = srv.URL + "/graph.json"
	require.NoError(t, f.repo.UpdateTopology(ctx, good))

	bad := f.topology(t, domain.StrategyFetch, 0)
	bad.URL = srv.URL + "/missing.json"
	require.NoError(t, f.repo.UpdateTopology(ctx, bad))

	f.topology(t, domain.StrategyReceive, 0)

	batch, err := svc.UpdateAll(ctx)
	require.NoError(t, err)
	require.Len(t, batch.Results, 1)
	assert.Equal(t, 1, batch.Results[good.ID].LinksCreated)
	require.Len(t, batch.Errors, 1)
	assert.True(t, domain.IsParse(batch.Errors[bad.ID]))

	joined := batch.Err()
	require.Error(t, joined)
	assert.Contains(t, joined.Error(), bad.ID)
	assert.Len(t, f.links(t, good), 1)
}

func TestServiceGraph(t *testing.T) {
	f := newFixture(t)
	svc, _ := newService(t, f)
	ctx := context.Background()

	topo := f.topology(t, domain.StrategyFetch, 0)
	_, err := f.rec.UpdateGraph(ctx, topo, snapshot([]string{"a", "b", "c"}, link("a", "b", 1), link("b", "c", 2)))
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	_, err = f.rec.UpdateGraph(ctx, topo, snapshot([]string{"a", "b", "c"}, link("a", "b", 1)))
	require.NoError(t, err)

	g, err := svc.Graph(ctx, topo.ID)
	require.NoError(t, err)
	assert.Equal(t, "OLSR", g.Protocol)
	assert.Len(t, g.Nodes, 3)
	require.Len(t, g.Links, 2, "display graph includes down links")

	statuses := map[string]any{}
	for _, l := range g.Links {
		statuses[l.Key()] = l.Properties["status"]
	}
	assert.Equal(t, "up", statuses[domain.LinkKey("a", "b")])
	assert.Equal(t, "down", statuses[domain.LinkKey("b", "c")])

	topo.Published = false
	require.NoError(t, f.repo.UpdateTopology(ctx, topo))
	_, err = svc.Graph(ctx, topo.ID)
	require.Error(t, err)
	assert.True(t, domain.IsNotFound(err))
}

func TestServiceSnapshots(t *testing.T) {
	f := newFixture(t)
	svc, events := newService(t, f)
	ctx := context.Background()

	topo := f.topology(t, domain.StrategyFetch, 0)
	_, err := f.rec.UpdateGraph(ctx, topo, snapshot([]string{"a", "b"}, link("a", "b", 1)))
	require.NoError(t, err)

	snap, err := svc.SaveSnapshot(ctx, topo.ID)
	require.NoError(t, err)
	assert.Equal(t, "2026-05-01", snap.Date)
	assert.Equal(t, []EventType{EventSnapshotSaved}, drain(events))

	// Same day replaces the earlier snapshot
	_, err = f.rec.UpdateGraph(ctx, topo, snapshot([]string{"a", "b", "c"}, link("a", "b", 1), link("a", "c", 1)))
	require.NoError(t, err)
	_, err = svc.SaveSnapshot(ctx, topo.ID)
	require.NoError(t, err)

	f.clock.Advance(day)
	saved, err := svc.SaveSnapshots(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, saved)

	dates, err := svc.SnapshotDates(ctx, topo.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"2026-05-02", "2026-05-01"}, dates)

	stored, err := svc.Snapshot(ctx, topo.ID, "2026-05-01")
	require.NoError(t, err)
	g, err := stored.Graph()
	require.NoError(t, err)
	assert.Len(t, g.Nodes, 3)
	assert.Len(t, g.Links, 2)

	_, err = svc.Snapshot(ctx, topo.ID, "01/05/2026")
	require.Error(t, err)
	assert.True(t, domain.IsValidation(err))

	_, err = svc.Snapshot(ctx, topo.ID, "2020-01-01")
	require.Error(t, err)
	assert.True(t, domain.IsNotFound(err))
}

func TestServiceMarkMeshDown(t *testing.T) {
	f := newFixture(t)
	bus := NewEventBus()
	events := make(chan Event, 16)
	bus.Subscribe(events)

	// Route link flips through the bus like the server does
	f.rec.sink = Sinks{f.sink, bus}
	svc := NewTopologyService(f.repo, f.rec, lock.NewLocalLocker(), bus, ServiceConfig{}, nil)
	ctx := context.Background()

	mesh := f.topology(t, domain.StrategyReceive, 360)
	mesh.OrganizationID = "org-1"
	mesh.MeshKey = "backhaul@36"
	require.NoError(t, f.repo.UpdateTopology(ctx, mesh))

	other := f.topology(t, domain.StrategyReceive, 360)
	other.OrganizationID = "org-1"
	require.NoError(t, f.repo.UpdateTopology(ctx, other))

	g := snapshot([]string{"a", "b"}, link("a", "b", 1))
	_, err := svc.ReceiveGraph(ctx, mesh.ID, g)
	require.NoError(t, err)
	_, err = svc.ReceiveGraph(ctx, other.ID, g)
	require.NoError(t, err)
	drain(events)

	n, err := svc.MarkMeshDown(ctx, "org-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, domain.LinkStatusDown, f.links(t, mesh)[domain.LinkKey("a", "b")].Status)
	assert.Equal(t, domain.LinkStatusUp, f.links(t, other)[domain.LinkKey("a", "b")].Status)
	assert.Equal(t, []EventType{EventLinkStatusChanged}, drain(events))

	n, err = svc.MarkMeshDown(ctx, "org-2")
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = svc.MarkMeshDown(ctx, "")
	assert.True(t, domain.IsValidation(err))
}

// blockingLocker records lock keys and can hold one key until released
type blockingLocker struct {
	inner   *lock.LocalLocker
	mu      sync.Mutex
	taken   []string
	holdKey string
	held    chan struct{}
	release chan struct{}
}

func (l *blockingLocker) Lock(ctx context.Context, key string) (func(), error) {
	unlock, err := l.inner.Lock(ctx, key)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	l.taken = append(l.taken, key)
	l.mu.Unlock()
	if key == l.holdKey {
		close(l.held)
		<-l.release
	}
	return unlock, nil
}

func TestServiceMarkMeshDownReadsLinksUnderLock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	mesh := f.topology(t, domain.StrategyReceive, 360)
	mesh.OrganizationID = "org-1"
	mesh.MeshKey = "backhaul@36"
	require.NoError(t, f.repo.UpdateTopology(ctx, mesh))

	locker := &blockingLocker{
		inner:   lock.NewLocalLocker(),
		holdKey: lockKey(mesh.ID),
		held:    make(chan struct{}),
		release: make(chan struct{}),
	}
	svc := NewTopologyService(f.repo, f.rec, locker, nil, ServiceConfig{}, nil)

	done := make(chan int, 1)
	go func() {
		n, err := svc.MarkMeshDown(ctx, "org-1")
		assert.NoError(t, err)
		done <- n
	}()

	// A link created while the sweep waits for the lock is still flipped
	<-locker.held
	_, err := f.rec.ReceiveGraph(ctx, mesh, snapshot([]string{"a", "b"}, link("a", "b", 1)))
	require.NoError(t, err)
	close(locker.release)

	select {
	case n := <-done:
		assert.Equal(t, 1, n)
	case <-time.After(time.Second):
		t.Fatal("mark down did not finish")
	}
	assert.Equal(t, domain.LinkStatusDown, f.links(t, mesh)[domain.LinkKey("a", "b")].Status)
	assert.Equal(t, []string{lockKey(mesh.ID)}, locker.taken)
}

func TestServiceSetNodePropertiesSurvivesReconcile(t *testing.T) {
	f := newFixture(t)
	svc, _ := newService(t, f)
	ctx := context.Background()

	topo := f.topology(t, domain.StrategyReceive, 0)
	g := snapshot([]string{"a", "b"}, link("a", "b", 1))
	_, err := svc.ReceiveGraph(ctx, topo.ID, g)
	require.NoError(t, err)

	node, err := svc.SetNodeProperties(ctx, topo.ID, "a", map[string]any{"name": "Gateway"})
	require.NoError(t, err)
	assert.Equal(t, "Gateway", node.GetUserPropertyString("name"))

	// Reconciliation rewrites the node but keeps the operator edit
	g.Nodes[0].Label = "router-a"
	g.Nodes[0].Properties = map[string]any{"hostname": "router-a"}
	f.clock.Advance(time.Minute)
	res, err := svc.ReceiveGraph(ctx, topo.ID, g)
	require.NoError(t, err)
	assert.Equal(t, 1, res.NodesUpdated)

	stored, err := f.repo.GetNodeByAddress(ctx, topo.ID, "a")
	require.NoError(t, err)
	assert.Equal(t, "router-a", stored.Label)
	assert.Equal(t, "Gateway", stored.GetUserPropertyString("name"))

	_, err = svc.SetNodeProperties(ctx, topo.ID, "zz", map[string]any{"name": "x"})
	assert.True(t, domain.IsNotFound(err))
	_, err = svc.SetNodeProperties(ctx, "missing", "a", nil)
	assert.True(t, domain.IsNotFound(err))
	_, err = svc.SetNodeProperties(ctx, topo.ID, "", nil)
	assert.True(t, domain.IsValidation(err))
}
