// Package recovery holds the catalog of per-component recovery strategies.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/miradorstack/mirador-resilience/internal/models"
)

// Registry is a read-mostly catalog of recovery paths keyed by component.
type Registry struct {
	mu     sync.RWMutex
	paths  map[string][]models.RecoveryPath
	logger *slog.Logger
}

// WeakSpot is a component without a fallback strategy whose observed recovery rate is low.
type WeakSpot struct {
	Component    string  `json:"component"`
	RecoveryRate float64 `json:"recoveryRate"`
	Cataloged    bool    `json:"cataloged"`
}

type catalogFile struct {
	Paths []models.RecoveryPath `yaml:"paths"`
}

// NewRegistry returns an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{paths: make(map[string][]models.RecoveryPath), logger: logger}
}

// Add records a path. A path for the same component and failure type replaces the previous one.
func (r *Registry) Add(path models.RecoveryPath) error {
	if path.Component == "" {
		return errors.New("recovery path requires a component")
	}
	if path.Primary == "" {
		return fmt.Errorf("recovery path for %s requires a primary strategy", path.Component)
	}
	if path.RecoveryTimeMs < 0 {
		return fmt.Errorf("recovery path for %s has negative recovery time", path.Component)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	existing := r.paths[path.Component]
	for i := range existing {
		if existing[i].FailureType == path.FailureType {
			existing[i] = path
			return nil
		}
	}
	r.paths[path.Component] = append(existing, path)
	return nil
}

// Seed adds every path, skipping invalid ones with a warning.
func (r *Registry) Seed(paths []models.RecoveryPath) int {
	added := 0
	for _, p := range paths {
		if err := r.Add(p); err != nil {
			r.logger.Warn("skipping recovery path", slog.Any("error", err))
			continue
		}
		added++
	}
	return added
}

// Replace swaps the whole catalog.
func (r *Registry) Replace(paths []models.RecoveryPath) int {
	r.mu.Lock()
	r.paths = make(map[string][]models.RecoveryPath)
	r.mu.Unlock()
	return r.Seed(paths)
}

// Get returns the paths recorded for component, ordered by failure type.
func (r *Registry) Get(component string) []models.RecoveryPath {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := append([]models.RecoveryPath(nil), r.paths[component]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].FailureType < out[j].FailureType })
	return out
}

// GetUniqueComponents returns the cataloged component names, sorted.
func (r *Registry) GetUniqueComponents() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.paths))
	for name := range r.paths {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// All returns every path ordered by component then failure type; this is the persisted catalog record.
func (r *Registry) All() []models.RecoveryPath {
	out := make([]models.RecoveryPath, 0)
	for _, name := range r.GetUniqueComponents() {
		out = append(out, r.Get(name)...)
	}
	return out
}

// HasFallback reports whether any path of component carries a fallback.
func (r *Registry) HasFallback(component string) bool {
	for _, p := range r.Get(component) {
		if p.HasFallback() {
			return true
		}
	}
	return false
}

// WeakSpots lists tested components with no fallback whose recovery rate is below minRate, worst first.
func (r *Registry) WeakSpots(summary models.Summary, minRate float64) []WeakSpot {
	spots := make([]WeakSpot, 0)
	for component, b := range summary.TestsByComponent {
		if b.Total == 0 || r.HasFallback(component) {
			continue
		}
		rate := b.RecoveryRate()
		if rate >= minRate {
			continue
		}
		spots = append(spots, WeakSpot{
			Component:    component,
			RecoveryRate: rate,
			Cataloged:    len(r.Get(component)) > 0,
		})
	}
	sort.Slice(spots, func(i, j int) bool {
		if spots[i].RecoveryRate != spots[j].RecoveryRate {
			return spots[i].RecoveryRate < spots[j].RecoveryRate
		}
		return spots[i].Component < spots[j].Component
	})
	return spots
}

// LoadFile reads a YAML or JSON catalog. Both a top-level `paths` list and a bare list are accepted.
func LoadFile(path string) ([]models.RecoveryPath, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read recovery catalog: %w", err)
	}

	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err == nil && len(file.Paths) > 0 {
		return file.Paths, nil
	}
	var list []models.RecoveryPath
	if err := yaml.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("decode recovery catalog %s: %w", path, err)
	}
	return list, nil
}

// Watch loads path into the registry and reloads it whenever the file changes, until ctx is done.
// A reload that fails to parse keeps the previous catalog.
func (r *Registry) Watch(ctx context.Context, path string) error {
	paths, err := LoadFile(path)
	if err != nil {
		return err
	}
	r.Replace(paths)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create catalog watcher: %w", err)
	}
	// Watch the directory so editors that replace the file atomically are still seen.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch recovery catalog: %w", err)
	}

	go r.watchLoop(ctx, watcher, path)
	return nil
}

func (r *Registry) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, path string) {
	defer watcher.Close()
	target := filepath.Clean(path)

	debounce := time.NewTimer(time.Hour)
	debounce.Stop()
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				debounce.Reset(100 * time.Millisecond)
			}
		case <-debounce.C:
			paths, err := LoadFile(path)
			if err != nil {
				r.logger.Warn("recovery catalog reload failed", slog.String("path", path), slog.Any("error", err))
				continue
			}
			n := r.Replace(paths)
			r.logger.Info("recovery catalog reloaded", slog.String("path", path), slog.Int("paths", n))
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			r.logger.Warn("recovery catalog watcher error", slog.Any("error", err))
		}
	}
}
