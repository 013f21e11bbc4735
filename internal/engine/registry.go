package engine

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/artpar/rollhost/internal/core/domain"
)

// =============================================================================
// Registry - In-Memory Rollup Records
// =============================================================================

// Registry is the authoritative in-memory view of all rollups. All access
// goes through the mutex; callers only ever see cloned records, so a snapshot
// can be inspected without holding the lock across external work.
type Registry struct {
	mu      sync.RWMutex
	records map[string]*domain.RollupRecord
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		records: make(map[string]*domain.RollupRecord),
	}
}

// Insert adds a new record. The id must not exist yet.
func (r *Registry) Insert(record *domain.RollupRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.records[record.RollupID]; exists {
		return fmt.Errorf("rollup %s: %w", record.RollupID, ErrDuplicateID)
	}
	r.records[record.RollupID] = record.Clone()
	return nil
}

// Get returns a cloned snapshot of one record.
func (r *Registry) Get(rollupID string) (*domain.RollupRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, ok := r.records[rollupID]
	if !ok {
		return nil, fmt.Errorf("rollup %s: %w", rollupID, ErrNotFound)
	}
	return record.Clone(), nil
}

// FindByServiceID returns the newest record for a service id.
func (r *Registry) FindByServiceID(serviceID uint64) (*domain.RollupRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var found *domain.RollupRecord
	for _, record := range r.records {
		if record.ServiceID != serviceID {
			continue
		}
		if found == nil || record.CreatedAt.After(found.CreatedAt) {
			found = record
		}
	}
	if found == nil {
		return nil, fmt.Errorf("service %d: %w", serviceID, ErrNotFound)
	}
	return found.Clone(), nil
}

// FindByVMID returns the record with the given vm id.
func (r *Registry) FindByVMID(vmID string) (*domain.RollupRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, record := range r.records {
		if record.VMID == vmID {
			return record.Clone(), nil
		}
	}
	return nil, fmt.Errorf("vm %s: %w", vmID, ErrNotFound)
}

// SetStatus overwrites a record's status. The write is an idempotent
// overwrite; lifecycle preconditions are the manager's job. A non-failed
// status clears any previous failure reason.
func (r *Registry) SetStatus(rollupID string, status domain.RollupStatus, failureReason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[rollupID]
	if !ok {
		return fmt.Errorf("rollup %s: %w", rollupID, ErrNotFound)
	}
	record.Status = status
	record.FailureReason = failureReason
	record.UpdatedAt = time.Now().UTC()
	return nil
}

// Update applies fn to a record under the lock. fn must not block.
func (r *Registry) Update(rollupID string, fn func(*domain.RollupRecord)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[rollupID]
	if !ok {
		return fmt.Errorf("rollup %s: %w", rollupID, ErrNotFound)
	}
	fn(record)
	record.UpdatedAt = time.Now().UTC()
	return nil
}

// Remove deletes a record.
func (r *Registry) Remove(rollupID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.records[rollupID]; !ok {
		return fmt.Errorf("rollup %s: %w", rollupID, ErrNotFound)
	}
	delete(r.records, rollupID)
	return nil
}

// List returns cloned snapshots of all records, oldest first.
func (r *Registry) List() []domain.RollupRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	records := make([]domain.RollupRecord, 0, len(r.records))
	for _, record := range r.records {
		records = append(records, *record.Clone())
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
	return records
}

// Len returns the number of registered rollups.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}
