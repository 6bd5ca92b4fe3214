// Package registry holds the worker capability registry. Workers are
// declared by the host environment at process startup and matched to
// tasks by capability; the registry itself never executes anything.
package registry

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"conclave/pkg/models"
)

// defaultTrust is assigned to workers that declare no trust weight.
const defaultTrust = 1.0

// registryFile is the on-disk shape of a workers file.
type registryFile struct {
	Workers []models.WorkerInfo `yaml:"workers"`
}

// Registry is a thread-safe worker capability registry.
// Registration order is preserved so selection among equally qualified
// workers stays deterministic.
type Registry struct {
	mu sync.RWMutex
	// workers in registration order.
	workers []models.WorkerInfo
	// index maps worker ID to its position in workers.
	index map[string]int
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{index: make(map[string]int)}
}

// Load creates a registry from a YAML workers file.
func Load(path string) (*Registry, error) {
	r := New()
	if err := r.ReloadFrom(path); err != nil {
		return nil, err
	}
	return r, nil
}

// ReloadFrom replaces the registry contents with the workers declared
// in the given file. On error the previous contents are kept.
func (r *Registry) ReloadFrom(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read workers file: %w", err)
	}

	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse workers file %s: %w", path, err)
	}

	workers := make([]models.WorkerInfo, 0, len(file.Workers))
	index := make(map[string]int, len(file.Workers))
	for _, w := range file.Workers {
		if w.ID == "" {
			return fmt.Errorf("workers file %s: worker with empty id", path)
		}
		if _, dup := index[w.ID]; dup {
			return fmt.Errorf("workers file %s: duplicate worker id %q", path, w.ID)
		}
		if w.Trust == 0 {
			w.Trust = defaultTrust
		}
		index[w.ID] = len(workers)
		workers = append(workers, w)
	}

	r.mu.Lock()
	r.workers = workers
	r.index = index
	r.mu.Unlock()
	return nil
}

// Register adds a worker programmatically. Duplicate IDs are an error.
func (r *Registry) Register(w models.WorkerInfo) error {
	if w.ID == "" {
		return fmt.Errorf("register worker: empty id")
	}
	if w.Trust == 0 {
		w.Trust = defaultTrust
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.index[w.ID]; dup {
		return fmt.Errorf("register worker: duplicate id %q", w.ID)
	}
	r.index[w.ID] = len(r.workers)
	r.workers = append(r.workers, w)
	return nil
}

// Get returns the worker with the given ID.
func (r *Registry) Get(id string) (models.WorkerInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.index[id]
	if !ok {
		return models.WorkerInfo{}, false
	}
	return r.workers[i], true
}

// Trust returns the trust weight for a worker, or the default weight
// for unknown workers.
func (r *Registry) Trust(id string) float64 {
	w, ok := r.Get(id)
	if !ok {
		return defaultTrust
	}
	return w.Trust
}

// All returns every registered worker in registration order.
func (r *Registry) All() []models.WorkerInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.WorkerInfo, len(r.workers))
	copy(out, r.workers)
	return out
}

// Count returns the number of registered workers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.workers)
}

// Capable returns the workers declaring the given capability, sorted by
// declared priority (highest first) and then registration order. The
// ordering is what keeps delegation plans reproducible for identical
// inputs.
func (r *Registry) Capable(capability string) []models.WorkerInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	type ranked struct {
		worker models.WorkerInfo
		pos    int
	}
	var matches []ranked
	for i, w := range r.workers {
		if w.HasCapability(capability) {
			matches = append(matches, ranked{worker: w, pos: i})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].worker.Priority != matches[j].worker.Priority {
			return matches[i].worker.Priority > matches[j].worker.Priority
		}
		return matches[i].pos < matches[j].pos
	})

	out := make([]models.WorkerInfo, 0, len(matches))
	for _, m := range matches {
		out = append(out, m.worker)
	}
	return out
}
