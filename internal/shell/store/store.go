package store

import (
	"context"

	"github.com/artpar/rollhost/internal/core/domain"
)

// =============================================================================
// Store Interface
// =============================================================================

// Store persists rollup records. Implementations must be safe for concurrent
// use; callers treat store failures as non-fatal and keep the in-memory
// registry authoritative.
type Store interface {
	// SaveRecord inserts or replaces a record by rollup id.
	SaveRecord(ctx context.Context, record *domain.RollupRecord) error

	// UpdateStatus updates the status and failure reason of a record.
	UpdateStatus(ctx context.Context, rollupID string, status domain.RollupStatus, failureReason string) error

	// DeleteRecord removes a record.
	DeleteRecord(ctx context.Context, rollupID string) error

	// GetRecord returns one record; ErrNotFound when absent.
	GetRecord(ctx context.Context, rollupID string) (*domain.RollupRecord, error)

	// ListRecords returns all records.
	ListRecords(ctx context.Context) ([]domain.RollupRecord, error)

	// LoadForRestart returns all records with transient container states
	// normalized: a record that was Running, Starting or Stopping comes back
	// Stopped, since container state is unknown after a process restart. The
	// normalized status is written back.
	LoadForRestart(ctx context.Context) ([]domain.RollupRecord, error)

	// Lifecycle
	Close() error
}
