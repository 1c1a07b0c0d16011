// Package watcher re-reconciles fetch topologies whose source is a local
// file as soon as the file changes, instead of waiting for the next batch.
package watcher

import (
	"context"
	"errors"
	"net/url"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"linkgraph/internal/domain"
	"linkgraph/internal/parser"
	"linkgraph/internal/repository"
	"linkgraph/internal/service"
)

// Source lists the topologies to watch
type Source interface {
	ListTopologies(ctx context.Context, filter repository.TopologyFilter) ([]domain.Topology, error)
}

// Updater reconciles one topology. *service.TopologyService satisfies it.
type Updater interface {
	Update(ctx context.Context, id string) (*service.Result, error)
}

// ChangeFunc is called once per debounced change with the topologies
// reading the file
type ChangeFunc func(path string, topologyIDs []string)

// Watcher watches topology source files for changes. Files added while
// Watch runs are watched immediately.
type Watcher struct {
	mu       sync.Mutex
	files    map[string][]string // absolute path -> topology ids
	fsw      *fsnotify.Watcher   // set while Watch runs
	dirs     map[string]bool
	debounce time.Duration
	logger   *zap.Logger
}

// New creates a new file watcher
func New(debounce time.Duration, logger *zap.Logger) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	return &Watcher{
		files:    make(map[string][]string),
		dirs:     make(map[string]bool),
		debounce: debounce,
		logger:   logger.Named("watcher"),
	}
}

// LocalPath returns the file a topology url points to, or "" when the
// url is not local
func LocalPath(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "file":
		return parser.FilePath(u)
	case "":
		return u.Path
	default:
		return ""
	}
}

// Add registers a file read by a topology
func (w *Watcher) Add(path, topologyID string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, id := range w.files[abs] {
		if id == topologyID {
			return nil
		}
	}
	w.files[abs] = append(w.files[abs], topologyID)
	if w.fsw != nil {
		w.watchDirLocked(filepath.Dir(abs))
	}
	return nil
}

// watchDirLocked adds dir to the running fsnotify watcher. w.mu must be
// held.
func (w *Watcher) watchDirLocked(dir string) {
	if w.dirs[dir] {
		return
	}
	if err := w.fsw.Add(dir); err != nil {
		w.logger.Warn("failed to watch directory", zap.String("dir", dir), zap.Error(err))
		return
	}
	w.dirs[dir] = true
	w.logger.Info("watching directory", zap.String("dir", dir))
}

// Load registers every fetch topology with a local source. It returns the
// number of topologies registered.
func (w *Watcher) Load(ctx context.Context, src Source) (int, error) {
	topologies, err := src.ListTopologies(ctx, repository.TopologyFilter{Strategy: domain.StrategyFetch})
	if err != nil {
		return 0, err
	}
	n := 0
	for i := range topologies {
		if w.addTopology(&topologies[i]) {
			n++
		}
	}
	return n, nil
}

// addTopology registers the source file of a topology, reporting whether
// it has one
func (w *Watcher) addTopology(t *domain.Topology) bool {
	path := LocalPath(t.URL)
	if path == "" {
		return false
	}
	if err := w.Add(path, t.ID); err != nil {
		w.logger.Warn("cannot watch topology source", zap.String("topology", t.ID), zap.Error(err))
		return false
	}
	return true
}

// Follow registers fetch topologies with a local source as they are
// created. It blocks until ctx is cancelled.
func (w *Watcher) Follow(ctx context.Context, bus *service.EventBus) {
	ch := make(chan service.Event, 64)
	bus.Subscribe(ch)
	defer bus.Unsubscribe(ch)

	for {
		select {
		case event := <-ch:
			if event.Type != service.EventTopologyCreated {
				continue
			}
			t, ok := event.Payload.(*domain.Topology)
			if !ok || t.Strategy != domain.StrategyFetch {
				continue
			}
			if w.addTopology(t) {
				w.logger.Info("following new topology", zap.String("topology", t.ID), zap.String("url", t.URL))
			}
		case <-ctx.Done():
			return
		}
	}
}

// Files returns the watched files in sorted order
func (w *Watcher) Files() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	paths := make([]string, 0, len(w.files))
	for p := range w.files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

func (w *Watcher) owners(path string) []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.files[path]...)
}

// Watch blocks until ctx is cancelled, calling onChange for every debounced
// write to a registered file. Directories are watched so files replaced by
// editors keep being tracked. Only one Watch may run at a time.
func (w *Watcher) Watch(ctx context.Context, onChange ChangeFunc) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	w.mu.Lock()
	if w.fsw != nil {
		w.mu.Unlock()
		fsw.Close()
		return errors.New("watcher already running")
	}
	w.fsw = fsw
	for path := range w.files {
		w.watchDirLocked(filepath.Dir(path))
	}
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.fsw = nil
		w.dirs = make(map[string]bool)
		w.mu.Unlock()
		fsw.Close()
	}()

	timers := make(map[string]*time.Timer)
	defer func() {
		for _, timer := range timers {
			timer.Stop()
		}
	}()

	for {
		select {
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			absPath, err := filepath.Abs(event.Name)
			if err != nil {
				continue
			}
			ids := w.owners(absPath)
			if len(ids) == 0 {
				continue
			}

			if timer, exists := timers[absPath]; exists {
				timer.Stop()
			}
			timers[absPath] = time.AfterFunc(w.debounce, func() {
				w.logger.Info("file changed", zap.String("path", absPath), zap.Strings("topologies", ids))
				onChange(absPath, ids)
			})

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", zap.Error(err))

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// UpdateOnChange returns a ChangeFunc that updates every owning topology
func UpdateOnChange(ctx context.Context, updater Updater, logger *zap.Logger) ChangeFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(path string, ids []string) {
		for _, id := range ids {
			res, err := updater.Update(ctx, id)
			if err != nil {
				logger.Warn("update after file change failed",
					zap.String("path", path),
					zap.String("topology", id),
					zap.Error(err))
				continue
			}
			logger.Debug("topology updated after file change",
				zap.String("topology", id),
				zap.Int("writes", res.Writes()))
		}
	}
}
