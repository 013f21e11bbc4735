package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/artpar/rollhost/internal/core/domain"
	"github.com/artpar/rollhost/internal/core/rollup"
	"github.com/artpar/rollhost/internal/shell/deployer"
	"github.com/artpar/rollhost/internal/shell/docker"
	"github.com/artpar/rollhost/internal/shell/render"
	"github.com/artpar/rollhost/internal/shell/store"
)

// =============================================================================
// Environment Secrets
// =============================================================================

// Secrets are read from the environment at the point of use, never cached at
// startup, so operators can rotate them without a restart.
const (
	EnvDeployerKey    = "DEPLOYER_PRIVATE_KEY"
	EnvArbiscanAPIKey = "ARBISCAN_API_KEY"
	EnvArbitrumRPCURL = "ARBITRUM_RPC_URL"
	EnvValidatorKey   = "VALIDATOR_PRIVATE_KEY"
	EnvBatchPosterKey = "BATCH_POSTER_PRIVATE_KEY"
)

// SecretSource resolves a named secret; the default reads the environment.
type SecretSource func(name string) string

// =============================================================================
// Collaborator Interfaces
// =============================================================================

// Deployer runs a contract deployment pipeline to completion.
type Deployer interface {
	Deploy(ctx context.Context) (*deployer.Result, error)
}

// DeployerFactory builds a pipeline for one rollup's deployment.
type DeployerFactory func(cfg deployer.Config) Deployer

// Renderer writes a rollup's node config file set.
type Renderer interface {
	Render(p render.Params) (string, error)
}

// Orchestrator drives one rollup's container stack.
type Orchestrator interface {
	Up(ctx context.Context) error
	Down(ctx context.Context) error
	ServiceStatus(service string) (docker.ContainerStatus, error)
	ServiceLogs(ctx context.Context, service string) (string, error)
	Exec(ctx context.Context, service string, cmd []string) (string, error)
}

// OrchestratorFactory builds an orchestrator for one rollup stack.
type OrchestratorFactory func(vmID, composeFile string) Orchestrator

// =============================================================================
// Manager
// =============================================================================

// ManagerConfig holds lifecycle-wide settings.
type ManagerConfig struct {
	DataDir     string // root for per-rollup workspace and config dirs
	RepoURL     string // contracts repository; empty uses the pipeline default
	Branch      string // contracts branch; empty uses the pipeline default
	TEEVerifier string // TEE verifier address; empty uses the pipeline default
}

// Manager is the lifecycle façade over the registry, deployment pipeline,
// config renderer, container orchestrator and record store. Conflicting
// operations on one rollup serialize on a per-rollup mutex; operations on
// different rollups run fully in parallel.
type Manager struct {
	registry        *Registry
	recordStore     store.Store // optional; nil disables persistence
	newDeployer     DeployerFactory
	renderer        Renderer
	newOrchestrator OrchestratorFactory
	secrets         SecretSource
	logger          *slog.Logger
	cfg             ManagerConfig

	mu     sync.Mutex
	locks  map[string]*sync.Mutex
	stacks map[string]Orchestrator
}

// NewManager creates a lifecycle manager. recordStore may be nil; secrets
// defaults to the process environment.
func NewManager(
	registry *Registry,
	recordStore store.Store,
	newDeployer DeployerFactory,
	renderer Renderer,
	newOrchestrator OrchestratorFactory,
	secrets SecretSource,
	cfg ManagerConfig,
	logger *slog.Logger,
) *Manager {
	if secrets == nil {
		secrets = os.Getenv
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		registry:        registry,
		recordStore:     recordStore,
		newDeployer:     newDeployer,
		renderer:        renderer,
		newOrchestrator: newOrchestrator,
		secrets:         secrets,
		logger:          logger,
		cfg:             cfg,
		locks:           make(map[string]*sync.Mutex),
		stacks:          make(map[string]Orchestrator),
	}
}

// Restore loads persisted records into the registry on startup. Container
// state is unknown after a restart, so transient statuses come back Stopped.
func (m *Manager) Restore(ctx context.Context) error {
	if m.recordStore == nil {
		return nil
	}
	records, err := m.recordStore.LoadForRestart(ctx)
	if err != nil {
		return fmt.Errorf("restore records: %w", err)
	}
	for i := range records {
		if err := m.registry.Insert(&records[i]); err != nil {
			return fmt.Errorf("restore rollup %s: %w", records[i].RollupID, err)
		}
	}
	m.logger.Info("restored rollup records", "count", len(records))
	return nil
}

// lockFor returns the mutex serializing operations on one rollup id.
func (m *Manager) lockFor(rollupID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[rollupID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[rollupID] = l
	}
	return l
}

// stackFor returns the cached orchestrator for a rollup, creating one bound
// to its compose manifest on first use.
func (m *Manager) stackFor(record *domain.RollupRecord) Orchestrator {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.stacks[record.RollupID]; ok {
		return o
	}
	composeFile := filepath.Join(record.WorkspaceDir, "docker-compose.yml")
	o := m.newOrchestrator(record.VMID, composeFile)
	m.stacks[record.RollupID] = o
	return o
}

func (m *Manager) forget(rollupID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.stacks, rollupID)
	delete(m.locks, rollupID)
}

// =============================================================================
// Create
// =============================================================================

// Create registers a rollup, deploys its contracts and renders its node
// configs. On success the rollup is Created and its id is returned; any
// failure leaves the record Failed with the reason recorded.
func (m *Manager) Create(ctx context.Context, serviceID uint64, cfg domain.RollupConfig) (string, error) {
	if err := cfg.Validate(); err != nil {
		return "", fmt.Errorf("invalid rollup config: %w", err)
	}

	record := domain.NewRollupRecord(serviceID, cfg)
	record.WorkspaceDir = rollup.WorkspaceDir(m.cfg.DataDir, record.VMID)
	record.ConfigDir = rollup.ConfigDir(m.cfg.DataDir, record.VMID)

	if err := m.registry.Insert(record); err != nil {
		return "", err
	}
	m.persistSave(ctx, record)

	lock := m.lockFor(record.RollupID)
	lock.Lock()
	defer lock.Unlock()

	m.logger.Info("creating rollup",
		"rollup_id", record.RollupID,
		"service_id", serviceID,
		"vm_id", record.VMID,
		"chain_id", cfg.ChainID,
	)

	// Deployment credentials, read at the point of use.
	deployerKey, err := m.requireSecret(EnvDeployerKey)
	if err != nil {
		return record.RollupID, m.fail(ctx, record.RollupID, err)
	}
	arbiscanKey, err := m.requireSecret(EnvArbiscanAPIKey)
	if err != nil {
		return record.RollupID, m.fail(ctx, record.RollupID, err)
	}
	rpcURL, err := m.requireSecret(EnvArbitrumRPCURL)
	if err != nil {
		return record.RollupID, m.fail(ctx, record.RollupID, err)
	}

	pipeline := m.newDeployer(deployer.Config{
		WorkspaceDir:   record.WorkspaceDir,
		RepoURL:        m.cfg.RepoURL,
		Branch:         m.cfg.Branch,
		TEEVerifier:    m.cfg.TEEVerifier,
		Rollup:         cfg,
		DeployerKey:    deployerKey,
		ArbiscanAPIKey: arbiscanKey,
	})
	result, err := pipeline.Deploy(ctx)
	if err != nil {
		return record.RollupID, m.fail(ctx, record.RollupID, err)
	}

	// Node signing keys, also read only once deployment succeeded.
	validatorKey, err := m.requireSecret(EnvValidatorKey)
	if err != nil {
		return record.RollupID, m.fail(ctx, record.RollupID, err)
	}
	batchPosterKey, err := m.requireSecret(EnvBatchPosterKey)
	if err != nil {
		return record.RollupID, m.fail(ctx, record.RollupID, err)
	}

	if _, err := m.renderer.Render(render.Params{
		ConfigDir:         record.ConfigDir,
		WorkspaceDir:      record.WorkspaceDir,
		ChainID:           cfg.ChainID,
		ChainName:         record.VMID,
		ParentChainID:     cfg.Network.ParentChainID(),
		RollupAddress:     result.ProxyAddress,
		UpgradeExecutor:   result.UpgradeExecutor,
		InitialChainOwner: cfg.InitialChainOwner.String(),
		DeploymentBlock:   result.DeploymentBlock,
		ValidatorKey:      validatorKey,
		BatchPosterKey:    batchPosterKey,
		ArbitrumRPCURL:    rpcURL,
	}); err != nil {
		return record.RollupID, m.fail(ctx, record.RollupID, err)
	}

	m.setStatus(ctx, record.RollupID, domain.StatusCreated, "")
	m.logger.Info("rollup created",
		"rollup_id", record.RollupID,
		"proxy", result.ProxyAddress,
		"deployment_block", result.DeploymentBlock,
	)
	return record.RollupID, nil
}

// =============================================================================
// Start / Stop
// =============================================================================

// Start brings a rollup's container stack up. The rollup must be Created or
// Stopped; anything else is an explicit precondition error.
func (m *Manager) Start(ctx context.Context, rollupID string) error {
	lock := m.lockFor(rollupID)
	lock.Lock()
	defer lock.Unlock()

	record, err := m.registry.Get(rollupID)
	if err != nil {
		return err
	}
	if !domain.CanStart(record.Status) {
		return fmt.Errorf("start rollup %s in status %s: %w", rollupID, record.Status, ErrInvalidState)
	}

	m.setStatus(ctx, rollupID, domain.StatusStarting, "")
	if err := m.stackFor(record).Up(ctx); err != nil {
		return m.fail(ctx, rollupID, err)
	}
	m.setStatus(ctx, rollupID, domain.StatusRunning, "")
	m.logger.Info("rollup started", "rollup_id", rollupID, "vm_id", record.VMID)
	return nil
}

// Stop tears a running rollup's stack down.
func (m *Manager) Stop(ctx context.Context, rollupID string) error {
	lock := m.lockFor(rollupID)
	lock.Lock()
	defer lock.Unlock()

	record, err := m.registry.Get(rollupID)
	if err != nil {
		return err
	}
	if !domain.CanStop(record.Status) {
		return fmt.Errorf("stop rollup %s in status %s: %w", rollupID, record.Status, ErrInvalidState)
	}

	return m.stopLocked(ctx, record)
}

// stopLocked tears the stack down with the per-rollup lock already held.
func (m *Manager) stopLocked(ctx context.Context, record *domain.RollupRecord) error {
	m.setStatus(ctx, record.RollupID, domain.StatusStopping, "")
	if err := m.stackFor(record).Down(ctx); err != nil {
		return m.fail(ctx, record.RollupID, err)
	}
	m.setStatus(ctx, record.RollupID, domain.StatusStopped, "")
	m.logger.Info("rollup stopped", "rollup_id", record.RollupID, "vm_id", record.VMID)
	return nil
}

// =============================================================================
// Delete
// =============================================================================

// Delete removes a rollup from the registry, stopping its stack first when
// it is running. A failed stop aborts the deletion with the record Failed.
// Workspace and config directories stay on disk.
func (m *Manager) Delete(ctx context.Context, rollupID string) error {
	lock := m.lockFor(rollupID)
	lock.Lock()
	defer lock.Unlock()

	record, err := m.registry.Get(rollupID)
	if err != nil {
		return err
	}

	if record.Status == domain.StatusRunning {
		m.setStatus(ctx, rollupID, domain.StatusDeleting, "")
		if err := m.stopLocked(ctx, record); err != nil {
			return fmt.Errorf("delete rollup %s: %w", rollupID, err)
		}
	}

	if err := m.registry.Remove(rollupID); err != nil {
		return err
	}
	m.persistDelete(ctx, rollupID)
	m.forget(rollupID)
	m.logger.Info("rollup deleted", "rollup_id", rollupID, "vm_id", record.VMID)
	return nil
}

// =============================================================================
// Queries
// =============================================================================

// Status returns the status text of a rollup; Failed embeds the reason.
// Unknown ids are an error, never a default status.
func (m *Manager) Status(rollupID string) (string, error) {
	record, err := m.registry.Get(rollupID)
	if err != nil {
		return "", err
	}
	return record.StatusText(), nil
}

// StatusByVMID returns the status text of the rollup with the given vm id.
func (m *Manager) StatusByVMID(vmID string) (string, error) {
	record, err := m.registry.FindByVMID(vmID)
	if err != nil {
		return "", err
	}
	return record.StatusText(), nil
}

// Get returns a snapshot of one rollup record.
func (m *Manager) Get(rollupID string) (*domain.RollupRecord, error) {
	return m.registry.Get(rollupID)
}

// GetByServiceID returns the newest rollup record for a service.
func (m *Manager) GetByServiceID(serviceID uint64) (*domain.RollupRecord, error) {
	return m.registry.FindByServiceID(serviceID)
}

// List returns snapshots of all rollup records.
func (m *Manager) List() []domain.RollupRecord {
	return m.registry.List()
}

// =============================================================================
// By-Service-ID Lifecycle
// =============================================================================

// StartByServiceID starts the newest rollup of a service.
func (m *Manager) StartByServiceID(ctx context.Context, serviceID uint64) error {
	record, err := m.registry.FindByServiceID(serviceID)
	if err != nil {
		return err
	}
	return m.Start(ctx, record.RollupID)
}

// StopByServiceID stops the newest rollup of a service.
func (m *Manager) StopByServiceID(ctx context.Context, serviceID uint64) error {
	record, err := m.registry.FindByServiceID(serviceID)
	if err != nil {
		return err
	}
	return m.Stop(ctx, record.RollupID)
}

// DeleteByServiceID deletes the newest rollup of a service.
func (m *Manager) DeleteByServiceID(ctx context.Context, serviceID uint64) error {
	record, err := m.registry.FindByServiceID(serviceID)
	if err != nil {
		return err
	}
	return m.Delete(ctx, record.RollupID)
}

// =============================================================================
// Stack Pass-Throughs
// =============================================================================

// ServiceLogs returns logs of one service in a rollup's stack.
func (m *Manager) ServiceLogs(ctx context.Context, rollupID, service string) (string, error) {
	record, err := m.registry.Get(rollupID)
	if err != nil {
		return "", err
	}
	return m.stackFor(record).ServiceLogs(ctx, service)
}

// ExecInService runs a command inside one service of a rollup's stack.
func (m *Manager) ExecInService(ctx context.Context, rollupID, service string, cmd []string) (string, error) {
	record, err := m.registry.Get(rollupID)
	if err != nil {
		return "", err
	}
	return m.stackFor(record).Exec(ctx, service, cmd)
}

// =============================================================================
// Helpers
// =============================================================================

func (m *Manager) requireSecret(name string) (string, error) {
	if v := m.secrets(name); v != "" {
		return v, nil
	}
	return "", fmt.Errorf("%s: %w", name, ErrMissingSecret)
}

// fail records a failure on the rollup and returns the original error.
func (m *Manager) fail(ctx context.Context, rollupID string, cause error) error {
	m.logger.Error("rollup operation failed", "rollup_id", rollupID, "error", cause)
	m.setStatus(ctx, rollupID, domain.StatusFailed, cause.Error())
	return cause
}

// setStatus updates the registry and mirrors the change into the store.
// Store failures are logged and never fail a lifecycle operation.
func (m *Manager) setStatus(ctx context.Context, rollupID string, status domain.RollupStatus, reason string) {
	if err := m.registry.SetStatus(rollupID, status, reason); err != nil {
		m.logger.Error("failed to update registry status", "rollup_id", rollupID, "error", err)
		return
	}
	if m.recordStore == nil {
		return
	}
	if err := m.recordStore.UpdateStatus(ctx, rollupID, status, reason); err != nil {
		m.logger.Warn("failed to persist status", "rollup_id", rollupID, "error", err)
	}
}

func (m *Manager) persistSave(ctx context.Context, record *domain.RollupRecord) {
	if m.recordStore == nil {
		return
	}
	if err := m.recordStore.SaveRecord(ctx, record); err != nil {
		m.logger.Warn("failed to persist record", "rollup_id", record.RollupID, "error", err)
	}
}

func (m *Manager) persistDelete(ctx context.Context, rollupID string) {
	if m.recordStore == nil {
		return
	}
	if err := m.recordStore.DeleteRecord(ctx, rollupID); err != nil {
		m.logger.Warn("failed to delete persisted record", "rollup_id", rollupID, "error", err)
	}
}
