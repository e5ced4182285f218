package master

import (
	"sync"
	"time"
)

// ClusterRecord is one registered Cluster server as tracked by the Master,
// per spec.md §3. StartTime is the instant registration completed;
// spec.md's "seconds since registration" is derived from it at
// serialization time rather than stored as a fixed count, so the value
// stays accurate no matter how long a record has lived in the registry.
type ClusterRecord struct {
	ID             uint64
	Name           string
	IP             string
	Port           uint16
	MaxConnections uint32
	StartTime      time.Time
}

// Registry is the Master's ordered table of registered clusters. Ordering
// (by registration order, i.e. by ID) matters for the SendClusters
// encoding, which enumerates clusters in a stable sequence — grounded on
// randybias-nightcrier/internal/cluster/registry.go's mutex-guarded map,
// generalized here to also track insertion order (see spec.md §9 and
// DESIGN.md, Open Question 5/registry section).
type Registry struct {
	mu      sync.RWMutex
	byID    map[uint64]*ClusterRecord
	ordered []uint64
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[uint64]*ClusterRecord)}
}

// Register adds rec to the registry, stamping StartTime with the current
// moment regardless of what the caller set (registration, not construction,
// is what spec.md §3 means by "since registration"). It is a no-op if the
// ID is already present (the supervisor is responsible for using fresh
// IDs).
func (r *Registry) Register(rec ClusterRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[rec.ID]; exists {
		return
	}
	rec.StartTime = time.Now()
	r.byID[rec.ID] = &rec
	r.ordered = append(r.ordered, rec.ID)
}

// Remove deletes a cluster by ID.
func (r *Registry) Remove(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[id]; !exists {
		return
	}
	delete(r.byID, id)
	for i, existing := range r.ordered {
		if existing == id {
			r.ordered = append(r.ordered[:i], r.ordered[i+1:]...)
			break
		}
	}
}

// Get returns the record for id, if present.
func (r *Registry) Get(id uint64) (ClusterRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.byID[id]
	if !ok {
		return ClusterRecord{}, false
	}
	return *rec, true
}

// List returns every registered cluster in registration order.
func (r *Registry) List() []ClusterRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ClusterRecord, 0, len(r.ordered))
	for _, id := range r.ordered {
		out = append(out, *r.byID[id])
	}
	return out
}

// Count returns the number of registered clusters.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ordered)
}
