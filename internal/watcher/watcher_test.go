package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linkgraph/internal/domain"
	"linkgraph/internal/repository"
	"linkgraph/internal/service"
)

type fakeSource struct {
	topologies []domain.Topology
	filter     repository.TopologyFilter
}

func (f *fakeSource) ListTopologies(_ context.Context, filter repository.TopologyFilter) ([]domain.Topology, error) {
	f.filter = filter
	return f.topologies, nil
}

type fakeUpdater struct {
	mu  sync.Mutex
	ids []string
}

func (f *fakeUpdater) Update(_ context.Context, id string) (*service.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, id)
	return &service.Result{TopologyID: id}, nil
}

func TestLocalPath(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"file:///var/lib/olsr/topology.json", "/var/lib/olsr/topology.json"},
		{"/srv/graph.json", "/srv/graph.json"},
		{"http://router/topology", ""},
		{"ssh://root@router/?cmd=cat", ""},
		{"traceroute://10.0.0.1", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, LocalPath(tt.url), tt.url)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	src := &fakeSource{topologies: []domain.Topology{
		{ID: "t1", URL: "file://" + filepath.Join(dir, "a.json")},
		{ID: "t2", URL: filepath.Join(dir, "a.json")},
		{ID: "t3", URL: "http://router/topology"},
		{ID: "t4", URL: filepath.Join(dir, "b.json")},
	}}

	w := New(0, nil)
	n, err := w.Load(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, domain.StrategyFetch, src.filter.Strategy)
	assert.Equal(t, []string{filepath.Join(dir, "a.json"), filepath.Join(dir, "b.json")}, w.Files())
	assert.Equal(t, []string{"t1", "t2"}, w.owners(filepath.Join(dir, "a.json")))

	require.NoError(t, w.Add(filepath.Join(dir, "a.json"), "t1"))
	assert.Len(t, w.owners(filepath.Join(dir, "a.json")), 2)
}

func TestWatchTriggersUpdate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "topology.json")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0644))

	w := New(20*time.Millisecond, nil)
	require.NoError(t, w.Add(path, "t1"))

	updater := &fakeUpdater{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan []string, 4)
	onChange := UpdateOnChange(ctx, updater, nil)
	done := make(chan error, 1)
	go func() {
		done <- w.Watch(ctx, func(p string, ids []string) {
			onChange(p, ids)
			changed <- ids
		})
	}()

	// Give the watcher time to register the directory
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.json"), []byte("{}"), 0644))
	require.NoError(t, os.WriteFile(path, []byte(`{"type":"NetworkGraph"}`), 0644))

	select {
	case ids := <-changed:
		assert.Equal(t, []string{"t1"}, ids)
	case <-time.After(3 * time.Second):
		t.Fatal("no change detected")
	}

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	updater.mu.Lock()
	defer updater.mu.Unlock()
	assert.Contains(t, updater.ids, "t1")
}

func TestWatchWithoutFiles(t *testing.T) {
	w := New(0, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, w.Watch(ctx, func(string, []string) {}), context.DeadlineExceeded)
}

func TestWatchRejectsSecondRun(t *testing.T) {
	w := New(0, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Watch(ctx, func(string, []string) {}) }()

	require.Eventually(t, func() bool {
		w.mu.Lock()
		defer w.mu.Unlock()
		return w.fsw != nil
	}, time.Second, 10*time.Millisecond)
	assert.Error(t, w.Watch(context.Background(), func(string, []string) {}))

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestFollowWatchesCreatedTopologies(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "late.json")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0644))

	w := New(20*time.Millisecond, nil)
	bus := service.NewEventBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan []string, 4)
	done := make(chan error, 1)
	go func() {
		done <- w.Watch(ctx, func(_ string, ids []string) { changed <- ids })
	}()
	go w.Follow(ctx, bus)

	// Give both goroutines time to start before the topology appears
	time.Sleep(100 * time.Millisecond)
	receive := domain.NewTopology("pushed", "netjson", domain.StrategyReceive)
	receive.URL = filepath.Join(dir, "ignored.json")
	bus.Publish(service.Event{Type: service.EventTopologyCreated, Payload: receive})
	late := domain.NewTopology("late", "netjson", domain.StrategyFetch)
	late.URL = "file://" + path
	bus.Publish(service.Event{Type: service.EventTopologyCreated, Payload: late})

	require.Eventually(t, func() bool {
		return len(w.Files()) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{path}, w.Files())

	require.NoError(t, os.WriteFile(path, []byte(`{"type":"NetworkGraph"}`), 0644))
	select {
	case ids := <-changed:
		assert.Equal(t, []string{late.ID}, ids)
	case <-time.After(3 * time.Second):
		t.Fatal("no change detected for a topology created after Watch started")
	}

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
