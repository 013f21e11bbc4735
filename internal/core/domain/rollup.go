package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Rollup Errors
// =============================================================================

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrMissingChainID    = errors.New("chain id must be non-zero")
	ErrMissingOwner      = errors.New("initial chain owner must be set")
	ErrNoValidators      = errors.New("at least one validator is required")
	ErrNoBatchPoster     = errors.New("batch poster address must be set")
)

// =============================================================================
// Rollup Status
// =============================================================================

// RollupStatus is the lifecycle state of a rollup.
type RollupStatus string

const (
	StatusCreating RollupStatus = "creating"
	StatusCreated  RollupStatus = "created"
	StatusStarting RollupStatus = "starting"
	StatusRunning  RollupStatus = "running"
	StatusStopping RollupStatus = "stopping"
	StatusStopped  RollupStatus = "stopped"
	StatusDeleting RollupStatus = "deleting"
	StatusFailed   RollupStatus = "failed"
)

// =============================================================================
// Rollup Config
// =============================================================================

// RollupConfig is the immutable configuration a rollup is created with.
type RollupConfig struct {
	ChainID           uint64      `json:"chain_id"`
	InitialChainOwner Address     `json:"initial_chain_owner"`
	Validators        []Address   `json:"validators"`
	BatchPoster       Address     `json:"batch_poster"`
	BatchPosterMgr    Address     `json:"batch_poster_manager"`
	Network           NetworkType `json:"network"`
}

// Validate checks the config is complete enough to deploy.
func (c RollupConfig) Validate() error {
	if c.ChainID == 0 {
		return ErrMissingChainID
	}
	if c.InitialChainOwner.IsZero() {
		return ErrMissingOwner
	}
	if len(c.Validators) == 0 {
		return ErrNoValidators
	}
	if c.BatchPoster.IsZero() {
		return ErrNoBatchPoster
	}
	return nil
}

// =============================================================================
// Rollup Record
// =============================================================================

// RollupRecord is the registry's canonical view of one rollup instance.
type RollupRecord struct {
	RollupID      string       `json:"rollup_id"`
	ServiceID     uint64       `json:"service_id"`
	VMID          string       `json:"vm_id"`
	Config        RollupConfig `json:"config"`
	Status        RollupStatus `json:"status"`
	FailureReason string       `json:"failure_reason,omitempty"`
	WorkspaceDir  string       `json:"workspace_dir"`
	ConfigDir     string       `json:"config_dir"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// NewRollupRecord builds a record in the Creating state with generated ids.
func NewRollupRecord(serviceID uint64, cfg RollupConfig) *RollupRecord {
	rollupID := uuid.New().String()
	now := time.Now().UTC()
	return &RollupRecord{
		RollupID:  rollupID,
		ServiceID: serviceID,
		VMID:      fmt.Sprintf("rollup-%d-%s", serviceID, rollupID),
		Config:    cfg,
		Status:    StatusCreating,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a deep copy. Registry callers only ever see clones.
func (r *RollupRecord) Clone() *RollupRecord {
	cp := *r
	cp.Config.Validators = append([]Address(nil), r.Config.Validators...)
	return &cp
}

// StatusText renders the status for operators; Failed embeds the reason.
func (r *RollupRecord) StatusText() string {
	if r.Status == StatusFailed && r.FailureReason != "" {
		return fmt.Sprintf("%s: %s", StatusFailed, r.FailureReason)
	}
	return string(r.Status)
}

// IsFailedText reports whether a status string rendered by StatusText
// represents a failed rollup.
func IsFailedText(s string) bool {
	return strings.HasPrefix(s, string(StatusFailed))
}

// =============================================================================
// State Machine
// =============================================================================

// validTransitions defines the allowed status transitions.
// Creating, Starting and Stopping may each fail; Failed is terminal apart
// from deletion. Deleting is a transient marker before a delete-triggered
// stop, never a resting state.
var validTransitions = map[RollupStatus][]RollupStatus{
	StatusCreating: {StatusCreated, StatusFailed},
	StatusCreated:  {StatusStarting, StatusDeleting},
	StatusStarting: {StatusRunning, StatusFailed},
	StatusRunning:  {StatusStopping, StatusDeleting},
	StatusStopping: {StatusStopped, StatusFailed},
	StatusStopped:  {StatusStarting, StatusDeleting},
	StatusDeleting: {StatusStopping, StatusStopped},
	StatusFailed:   {StatusDeleting},
}

// ValidateTransition checks if a status transition is allowed.
func ValidateTransition(from, to RollupStatus) error {
	allowed, ok := validTransitions[from]
	if !ok {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	for _, s := range allowed {
		if s == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// CanStart reports whether a start operation may begin from this status.
func CanStart(s RollupStatus) bool {
	return s == StatusCreated || s == StatusStopped
}

// CanStop reports whether a stop operation may begin from this status.
func CanStop(s RollupStatus) bool {
	return s == StatusRunning
}
