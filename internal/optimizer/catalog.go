package optimizer

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/clusterdeck/clusterdeck/internal/storage"
)

// catalogFile is the on-disk node cost catalog format
type catalogFile struct {
	Entries []catalogEntry `yaml:"entries"`
}

type catalogEntry struct {
	Provider     string  `yaml:"provider"`
	InstanceType string  `yaml:"instanceType"`
	CPUHourly    float64 `yaml:"cpuHourly"`
	MemoryHourly float64 `yaml:"memoryHourly"`
}

// LoadCatalogFile parses a YAML pricing catalog and upserts its entries,
// then purges the in-memory pricing cache so fresh prices take effect on
// the next report. Wildcard tiers use "*" for provider or instance type.
func (s *Service) LoadCatalogFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading pricing catalog: %w", err)
	}

	var file catalogFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("parsing pricing catalog: %w", err)
	}

	entries := make([]storage.NodePricingEntry, 0, len(file.Entries))
	for _, e := range file.Entries {
		if e.Provider == "" || e.InstanceType == "" {
			return fmt.Errorf("pricing catalog entry missing provider or instance type")
		}
		if e.CPUHourly < 0 || e.MemoryHourly < 0 {
			return fmt.Errorf("pricing catalog entry %s/%s has negative price", e.Provider, e.InstanceType)
		}
		entries = append(entries, storage.NodePricingEntry{
			Provider:     e.Provider,
			InstanceType: e.InstanceType,
			CPUHourly:    e.CPUHourly,
			MemoryHourly: e.MemoryHourly,
		})
	}

	if err := s.store.UpsertPricing(entries); err != nil {
		return fmt.Errorf("storing pricing catalog: %w", err)
	}
	s.PurgePricingCache()
	s.logger.Info("loaded %d pricing catalog entries from %s", len(entries), path)
	return nil
}

const catalogDebounce = 500 * time.Millisecond

// CatalogWatcher watches the pricing catalog file and reloads it into the
// store on change. Multiple change events within the debounce period are
// coalesced into a single reload; a broken catalog is logged and the
// previous entries stay in effect.
type CatalogWatcher struct {
	path    string
	service *Service
	cancel  context.CancelFunc
	stopped chan struct{}
	ready   chan struct{}
	mu      sync.Mutex

	debounceTimer *time.Timer
}

// NewCatalogWatcher creates a watcher for the given catalog file
func NewCatalogWatcher(path string, service *Service) (*CatalogWatcher, error) {
	if path == "" {
		return nil, fmt.Errorf("catalog path cannot be empty")
	}
	return &CatalogWatcher{
		path:    path,
		service: service,
		stopped: make(chan struct{}),
		ready:   make(chan struct{}),
	}, nil
}

// Start loads the catalog once and then watches it for changes. The initial
// load must succeed; reload failures afterwards only log. Start returns once
// the underlying file watch is established.
func (w *CatalogWatcher) Start(ctx context.Context) error {
	if err := w.service.LoadCatalogFile(w.path); err != nil {
		return fmt.Errorf("initial catalog load: %w", err)
	}

	watchCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	go w.watchLoop(watchCtx)

	select {
	case <-w.ready:
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(5 * time.Second):
		return fmt.Errorf("timeout waiting for catalog watcher to initialize")
	}
	return nil
}

func (w *CatalogWatcher) signalReady() {
	w.mu.Lock()
	defer w.mu.Unlock()
	select {
	case <-w.ready:
	default:
		close(w.ready)
	}
}

func (w *CatalogWatcher) watchLoop(ctx context.Context) {
	defer close(w.stopped)
	defer w.signalReady()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.service.logger.ErrorWithErr("creating catalog file watcher", err)
		return
	}
	defer watcher.Close()

	if err := watcher.Add(w.path); err != nil {
		w.service.logger.ErrorWithErr("watching catalog file %s", err, w.path)
		return
	}

	w.service.logger.Info("watching pricing catalog %s for changes", w.path)
	w.signalReady()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			// Atomic writes unlink the old file before renaming the new one
			// into place, so the watch follows the old inode and must be
			// re-added.
			if event.Op&(fsnotify.Rename|fsnotify.Remove) != 0 {
				time.Sleep(50 * time.Millisecond)
				if err := watcher.Add(w.path); err != nil {
					w.service.logger.Warn("re-adding catalog watch after %s: %v", event.Op, err)
				}
			}
			w.scheduleReload()

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.service.logger.Warn("catalog watcher error: %v", err)
		}
	}
}

func (w *CatalogWatcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(catalogDebounce, func() {
		if err := w.service.LoadCatalogFile(w.path); err != nil {
			w.service.logger.Warn("catalog reload failed, keeping previous entries: %v", err)
		}
	})
}

// Stop cancels the watch loop and waits for it to exit
func (w *CatalogWatcher) Stop() error {
	if w.cancel != nil {
		w.cancel()
	}
	select {
	case <-w.stopped:
		return nil
	case <-time.After(5 * time.Second):
		return fmt.Errorf("timeout waiting for catalog watcher to stop")
	}
}
