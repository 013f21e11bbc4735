package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/artpar/rollhost/internal/core/domain"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// =============================================================================
// SQLiteStore
// =============================================================================

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore creates a new SQLite store and runs migrations.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite3", dsn+"?_foreign_keys=on")
	if err != nil {
		return nil, NewStoreError("NewSQLiteStore", "", "failed to open database", ErrConnectionFailed)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "failed to ping database", ErrConnectionFailed)
	}

	if err := runMigrations(db.DB); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", err.Error(), ErrMigrationFailed)
	}

	return &SQLiteStore{db: db}, nil
}

// runMigrations runs database migrations using embedded SQL files.
func runMigrations(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// =============================================================================
// Row Mapping
// =============================================================================

// rollupRow represents a rollup record row in the database.
type rollupRow struct {
	RollupID      string `db:"rollup_id"`
	ServiceID     int64  `db:"service_id"`
	VMID          string `db:"vm_id"`
	Config        string `db:"config"`
	Status        string `db:"status"`
	FailureReason string `db:"failure_reason"`
	WorkspaceDir  string `db:"workspace_dir"`
	ConfigDir     string `db:"config_dir"`
	CreatedAt     string `db:"created_at"`
	UpdatedAt     string `db:"updated_at"`
}

func toRow(r *domain.RollupRecord) (*rollupRow, error) {
	configJSON, err := json.Marshal(r.Config)
	if err != nil {
		return nil, NewStoreError("toRow", r.RollupID, "failed to marshal config", ErrInvalidData)
	}
	return &rollupRow{
		RollupID:      r.RollupID,
		ServiceID:     int64(r.ServiceID),
		VMID:          r.VMID,
		Config:        string(configJSON),
		Status:        string(r.Status),
		FailureReason: r.FailureReason,
		WorkspaceDir:  r.WorkspaceDir,
		ConfigDir:     r.ConfigDir,
		CreatedAt:     r.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:     r.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}, nil
}

func (row *rollupRow) toRecord() (*domain.RollupRecord, error) {
	var cfg domain.RollupConfig
	if err := json.Unmarshal([]byte(row.Config), &cfg); err != nil {
		return nil, NewStoreError("toRecord", row.RollupID, "failed to unmarshal config", ErrInvalidData)
	}
	createdAt, _ := time.Parse(time.RFC3339Nano, row.CreatedAt)
	updatedAt, _ := time.Parse(time.RFC3339Nano, row.UpdatedAt)

	return &domain.RollupRecord{
		RollupID:      row.RollupID,
		ServiceID:     uint64(row.ServiceID),
		VMID:          row.VMID,
		Config:        cfg,
		Status:        domain.RollupStatus(row.Status),
		FailureReason: row.FailureReason,
		WorkspaceDir:  row.WorkspaceDir,
		ConfigDir:     row.ConfigDir,
		CreatedAt:     createdAt,
		UpdatedAt:     updatedAt,
	}, nil
}

// =============================================================================
// Record Operations
// =============================================================================

// SaveRecord inserts or replaces a record by rollup id.
func (s *SQLiteStore) SaveRecord(ctx context.Context, record *domain.RollupRecord) error {
	row, err := toRow(record)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO rollups (
			rollup_id, service_id, vm_id, config, status, failure_reason,
			workspace_dir, config_dir, created_at, updated_at
		) VALUES (
			:rollup_id, :service_id, :vm_id, :config, :status, :failure_reason,
			:workspace_dir, :config_dir, :created_at, :updated_at
		)
		ON CONFLICT(rollup_id) DO UPDATE SET
			config = excluded.config,
			status = excluded.status,
			failure_reason = excluded.failure_reason,
			workspace_dir = excluded.workspace_dir,
			config_dir = excluded.config_dir,
			updated_at = excluded.updated_at`

	if _, err := s.db.NamedExecContext(ctx, query, row); err != nil {
		return NewStoreError("SaveRecord", record.RollupID, err.Error(), err)
	}
	return nil
}

// UpdateStatus updates the status and failure reason of a record.
func (s *SQLiteStore) UpdateStatus(ctx context.Context, rollupID string, status domain.RollupStatus, failureReason string) error {
	query := `UPDATE rollups SET status = ?, failure_reason = ?, updated_at = ? WHERE rollup_id = ?`
	res, err := s.db.ExecContext(ctx, query,
		string(status), failureReason, time.Now().UTC().Format(time.RFC3339Nano), rollupID)
	if err != nil {
		return NewStoreError("UpdateStatus", rollupID, err.Error(), err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return NewStoreError("UpdateStatus", rollupID, "record not found", ErrNotFound)
	}
	return nil
}

// DeleteRecord removes a record.
func (s *SQLiteStore) DeleteRecord(ctx context.Context, rollupID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM rollups WHERE rollup_id = ?`, rollupID)
	if err != nil {
		return NewStoreError("DeleteRecord", rollupID, err.Error(), err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return NewStoreError("DeleteRecord", rollupID, "record not found", ErrNotFound)
	}
	return nil
}

// GetRecord returns one record; ErrNotFound when absent.
func (s *SQLiteStore) GetRecord(ctx context.Context, rollupID string) (*domain.RollupRecord, error) {
	var row rollupRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM rollups WHERE rollup_id = ?`, rollupID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetRecord", rollupID, "record not found", ErrNotFound)
		}
		return nil, NewStoreError("GetRecord", rollupID, err.Error(), err)
	}
	return row.toRecord()
}

// ListRecords returns all records ordered by creation time.
func (s *SQLiteStore) ListRecords(ctx context.Context) ([]domain.RollupRecord, error) {
	var rows []rollupRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM rollups ORDER BY created_at`); err != nil {
		return nil, NewStoreError("ListRecords", "", err.Error(), err)
	}

	records := make([]domain.RollupRecord, 0, len(rows))
	for i := range rows {
		record, err := rows[i].toRecord()
		if err != nil {
			return nil, err
		}
		records = append(records, *record)
	}
	return records, nil
}

// LoadForRestart returns all records with transient container states
// normalized to Stopped and written back.
func (s *SQLiteStore) LoadForRestart(ctx context.Context) ([]domain.RollupRecord, error) {
	records, err := s.ListRecords(ctx)
	if err != nil {
		return nil, err
	}

	for i := range records {
		switch records[i].Status {
		case domain.StatusRunning, domain.StatusStarting, domain.StatusStopping:
			records[i].Status = domain.StatusStopped
			records[i].UpdatedAt = time.Now().UTC()
			if err := s.UpdateStatus(ctx, records[i].RollupID, domain.StatusStopped, records[i].FailureReason); err != nil {
				return nil, err
			}
		}
	}
	return records, nil
}
