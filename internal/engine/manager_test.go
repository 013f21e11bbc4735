package engine

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/rollhost/internal/core/domain"
	"github.com/artpar/rollhost/internal/shell/deployer"
	"github.com/artpar/rollhost/internal/shell/docker"
	"github.com/artpar/rollhost/internal/shell/render"
	"github.com/artpar/rollhost/internal/shell/store"
)

// =============================================================================
// Fakes
// =============================================================================

type fakeDeployer struct {
	result *deployer.Result
	err    error
	calls  int
	got    deployer.Config
}

func (f *fakeDeployer) Deploy(_ context.Context) (*deployer.Result, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeRenderer struct {
	err    error
	calls  int
	params render.Params
}

func (f *fakeRenderer) Render(p render.Params) (string, error) {
	f.calls++
	f.params = p
	if f.err != nil {
		return "", f.err
	}
	return filepath.Join(p.WorkspaceDir, "docker-compose.yml"), nil
}

type fakeOrchestrator struct {
	mu        sync.Mutex
	upErr     error
	downErr   error
	upCalls   int
	downCalls int
	logs      string
	execOut   string

	// When set, Up signals entry on upEntered and blocks until upRelease.
	upEntered chan struct{}
	upRelease chan struct{}
}

func (f *fakeOrchestrator) Up(_ context.Context) error {
	if f.upEntered != nil {
		close(f.upEntered)
		<-f.upRelease
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upCalls++
	return f.upErr
}

func (f *fakeOrchestrator) Down(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downCalls++
	return f.downErr
}

func (f *fakeOrchestrator) ServiceStatus(_ string) (docker.ContainerStatus, error) {
	return docker.ContainerStatusRunning, nil
}

func (f *fakeOrchestrator) ServiceLogs(_ context.Context, _ string) (string, error) {
	return f.logs, nil
}

func (f *fakeOrchestrator) Exec(_ context.Context, _ string, _ []string) (string, error) {
	return f.execOut, nil
}

// =============================================================================
// Harness
// =============================================================================

type managerHarness struct {
	manager  *Manager
	registry *Registry
	deployer *fakeDeployer
	renderer *fakeRenderer
	orch     *fakeOrchestrator
	secrets  map[string]string
}

func allSecrets() map[string]string {
	return map[string]string{
		EnvDeployerKey:    "0xdeployer",
		EnvArbiscanAPIKey: "scan-key",
		EnvArbitrumRPCURL: "https://sepolia-rollup.arbitrum.io/rpc",
		EnvValidatorKey:   "0xvalidator",
		EnvBatchPosterKey: "0xposter",
	}
}

func newHarness(t *testing.T, secrets map[string]string, recordStore store.Store) *managerHarness {
	t.Helper()

	h := &managerHarness{
		registry: NewRegistry(),
		deployer: &fakeDeployer{result: &deployer.Result{
			CreatorAddress:  "0x1234567890123456789012345678901234567890",
			ProxyAddress:    "0xdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef",
			UpgradeExecutor: "0x0987654321098765432109876543210987654321",
			DeploymentBlock: 424242,
		}},
		renderer: &fakeRenderer{},
		orch:     &fakeOrchestrator{},
		secrets:  secrets,
	}

	h.manager = NewManager(
		h.registry,
		recordStore,
		func(cfg deployer.Config) Deployer {
			h.deployer.got = cfg
			return h.deployer
		},
		h.renderer,
		func(_, _ string) Orchestrator { return h.orch },
		func(name string) string { return h.secrets[name] },
		ManagerConfig{DataDir: t.TempDir()},
		nil,
	)
	return h
}

func validConfig(t *testing.T) domain.RollupConfig {
	t.Helper()
	owner, err := domain.ParseAddress("0x1111111111111111111111111111111111111111")
	require.NoError(t, err)
	validator, err := domain.ParseAddress("0x2222222222222222222222222222222222222222")
	require.NoError(t, err)
	poster, err := domain.ParseAddress("0x3333333333333333333333333333333333333333")
	require.NoError(t, err)
	return domain.RollupConfig{
		ChainID:           42,
		InitialChainOwner: owner,
		Validators:        []domain.Address{validator},
		BatchPoster:       poster,
		Network:           domain.NetworkArbitrumSepolia,
	}
}

// createRollup runs a full successful Create and returns the rollup id.
func (h *managerHarness) createRollup(t *testing.T) string {
	t.Helper()
	id, err := h.manager.Create(context.Background(), 7, validConfig(t))
	require.NoError(t, err)
	return id
}

// =============================================================================
// Create Tests
// =============================================================================

func TestManager_Create_Success(t *testing.T) {
	h := newHarness(t, allSecrets(), nil)

	id, err := h.manager.Create(context.Background(), 7, validConfig(t))
	require.NoError(t, err)

	record, err := h.manager.Get(id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCreated, record.Status)
	assert.Equal(t, uint64(7), record.ServiceID)
	assert.Contains(t, record.VMID, "rollup-7-")
	assert.Contains(t, record.WorkspaceDir, record.VMID)
	assert.Contains(t, record.ConfigDir, record.VMID)

	// Deployer got the workspace and credentials.
	assert.Equal(t, record.WorkspaceDir, h.deployer.got.WorkspaceDir)
	assert.Equal(t, "0xdeployer", h.deployer.got.DeployerKey)
	assert.Equal(t, "scan-key", h.deployer.got.ArbiscanAPIKey)

	// Renderer got the deployment results and node keys.
	assert.Equal(t, "0xdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef", h.renderer.params.RollupAddress)
	assert.Equal(t, uint64(424242), h.renderer.params.DeploymentBlock)
	assert.Equal(t, "0xvalidator", h.renderer.params.ValidatorKey)
	assert.Equal(t, "0xposter", h.renderer.params.BatchPosterKey)
	assert.Equal(t, uint64(11155111), h.renderer.params.ParentChainID)
}

func TestManager_Create_InvalidConfig(t *testing.T) {
	h := newHarness(t, allSecrets(), nil)

	cfg := validConfig(t)
	cfg.ChainID = 0
	_, err := h.manager.Create(context.Background(), 7, cfg)
	require.Error(t, err)
	assert.Zero(t, h.registry.Len())
	assert.Zero(t, h.deployer.calls)
}

func TestManager_Create_MissingSecretFailsFast(t *testing.T) {
	secrets := allSecrets()
	delete(secrets, EnvDeployerKey)
	h := newHarness(t, secrets, nil)

	id, err := h.manager.Create(context.Background(), 7, validConfig(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingSecret)
	assert.Zero(t, h.deployer.calls, "deployment must not run without credentials")

	status, err := h.manager.Status(id)
	require.NoError(t, err)
	assert.True(t, domain.IsFailedText(status))
	assert.Contains(t, status, EnvDeployerKey)
}

func TestManager_Create_DeployFailureRecorded(t *testing.T) {
	h := newHarness(t, allSecrets(), nil)
	h.deployer.err = errors.New("deploy step 6 (deploy contracts): insufficient funds")

	id, err := h.manager.Create(context.Background(), 7, validConfig(t))
	require.Error(t, err)
	assert.Zero(t, h.renderer.calls, "render must not run after a failed deployment")

	record, getErr := h.manager.Get(id)
	require.NoError(t, getErr)
	assert.Equal(t, domain.StatusFailed, record.Status)
	assert.Contains(t, record.FailureReason, "insufficient funds")
}

func TestManager_Create_RenderFailureRecorded(t *testing.T) {
	h := newHarness(t, allSecrets(), nil)
	h.renderer.err = errors.New("disk full")

	id, err := h.manager.Create(context.Background(), 7, validConfig(t))
	require.Error(t, err)

	record, getErr := h.manager.Get(id)
	require.NoError(t, getErr)
	assert.Equal(t, domain.StatusFailed, record.Status)
}

// =============================================================================
// Start / Stop Tests
// =============================================================================

func TestManager_StartStop_HappyPath(t *testing.T) {
	h := newHarness(t, allSecrets(), nil)
	id := h.createRollup(t)
	ctx := context.Background()

	require.NoError(t, h.manager.Start(ctx, id))
	record, err := h.manager.Get(id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRunning, record.Status)
	assert.Equal(t, 1, h.orch.upCalls)

	require.NoError(t, h.manager.Stop(ctx, id))
	record, err = h.manager.Get(id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusStopped, record.Status)
	assert.Equal(t, 1, h.orch.downCalls)

	// Stopped rollups can start again.
	require.NoError(t, h.manager.Start(ctx, id))
	record, err = h.manager.Get(id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRunning, record.Status)
}

func TestManager_Start_WhileRunning(t *testing.T) {
	h := newHarness(t, allSecrets(), nil)
	id := h.createRollup(t)
	ctx := context.Background()

	require.NoError(t, h.manager.Start(ctx, id))
	err := h.manager.Start(ctx, id)
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, 1, h.orch.upCalls)
}

func TestManager_Start_UnknownID(t *testing.T) {
	h := newHarness(t, allSecrets(), nil)
	assert.ErrorIs(t, h.manager.Start(context.Background(), "missing"), ErrNotFound)
}

func TestManager_Start_UpFailure(t *testing.T) {
	h := newHarness(t, allSecrets(), nil)
	id := h.createRollup(t)
	h.orch.upErr = errors.New("network create failed")

	err := h.manager.Start(context.Background(), id)
	require.Error(t, err)

	record, getErr := h.manager.Get(id)
	require.NoError(t, getErr)
	assert.Equal(t, domain.StatusFailed, record.Status)
	assert.Contains(t, record.FailureReason, "network create failed")
}

func TestManager_Stop_NotRunning(t *testing.T) {
	h := newHarness(t, allSecrets(), nil)
	id := h.createRollup(t)

	err := h.manager.Stop(context.Background(), id)
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Zero(t, h.orch.downCalls)
}

func TestManager_Stop_DownFailure(t *testing.T) {
	h := newHarness(t, allSecrets(), nil)
	id := h.createRollup(t)
	ctx := context.Background()
	require.NoError(t, h.manager.Start(ctx, id))

	h.orch.downErr = errors.New("compose fallback failed")
	err := h.manager.Stop(ctx, id)
	require.Error(t, err)

	record, getErr := h.manager.Get(id)
	require.NoError(t, getErr)
	assert.Equal(t, domain.StatusFailed, record.Status)
}

// =============================================================================
// Delete Tests
// =============================================================================

func TestManager_Delete_StoppedRollup(t *testing.T) {
	h := newHarness(t, allSecrets(), nil)
	id := h.createRollup(t)

	require.NoError(t, h.manager.Delete(context.Background(), id))
	_, err := h.manager.Get(id)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Zero(t, h.orch.downCalls)
}

func TestManager_Delete_RunningRollupStopsFirst(t *testing.T) {
	h := newHarness(t, allSecrets(), nil)
	id := h.createRollup(t)
	ctx := context.Background()
	require.NoError(t, h.manager.Start(ctx, id))

	require.NoError(t, h.manager.Delete(ctx, id))
	assert.Equal(t, 1, h.orch.downCalls)
	_, err := h.manager.Get(id)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestManager_Delete_StopFailureAborts(t *testing.T) {
	h := newHarness(t, allSecrets(), nil)
	id := h.createRollup(t)
	ctx := context.Background()
	require.NoError(t, h.manager.Start(ctx, id))

	h.orch.downErr = errors.New("daemon unavailable")
	err := h.manager.Delete(ctx, id)
	require.Error(t, err)

	// Deletion aborted: the record stays, marked failed.
	record, getErr := h.manager.Get(id)
	require.NoError(t, getErr)
	assert.Equal(t, domain.StatusFailed, record.Status)
}

// =============================================================================
// Query Tests
// =============================================================================

func TestManager_Status(t *testing.T) {
	h := newHarness(t, allSecrets(), nil)
	id := h.createRollup(t)

	status, err := h.manager.Status(id)
	require.NoError(t, err)
	assert.Equal(t, "created", status)

	_, err = h.manager.Status("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestManager_Status_FailedEmbedsReason(t *testing.T) {
	h := newHarness(t, allSecrets(), nil)
	h.deployer.err = errors.New("checkout failed")
	id, err := h.manager.Create(context.Background(), 7, validConfig(t))
	require.Error(t, err)

	status, statusErr := h.manager.Status(id)
	require.NoError(t, statusErr)
	assert.True(t, domain.IsFailedText(status))
	assert.Contains(t, status, "checkout failed")
}

func TestManager_StatusByVMID(t *testing.T) {
	h := newHarness(t, allSecrets(), nil)
	id := h.createRollup(t)
	record, err := h.manager.Get(id)
	require.NoError(t, err)

	status, err := h.manager.StatusByVMID(record.VMID)
	require.NoError(t, err)
	assert.Equal(t, "created", status)
}

func TestManager_ByServiceID(t *testing.T) {
	h := newHarness(t, allSecrets(), nil)
	id := h.createRollup(t)
	ctx := context.Background()

	record, err := h.manager.GetByServiceID(7)
	require.NoError(t, err)
	assert.Equal(t, id, record.RollupID)

	require.NoError(t, h.manager.StartByServiceID(ctx, 7))
	require.NoError(t, h.manager.StopByServiceID(ctx, 7))
	require.NoError(t, h.manager.DeleteByServiceID(ctx, 7))

	_, err = h.manager.GetByServiceID(7)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestManager_ServicePassThroughs(t *testing.T) {
	h := newHarness(t, allSecrets(), nil)
	id := h.createRollup(t)
	h.orch.logs = "node started\n"
	h.orch.execOut = "ok\n"
	ctx := context.Background()

	logs, err := h.manager.ServiceLogs(ctx, id, "nitro")
	require.NoError(t, err)
	assert.Equal(t, "node started\n", logs)

	out, err := h.manager.ExecInService(ctx, id, "nitro", []string{"echo", "ok"})
	require.NoError(t, err)
	assert.Equal(t, "ok\n", out)

	_, err = h.manager.ServiceLogs(ctx, "missing", "nitro")
	assert.ErrorIs(t, err, ErrNotFound)
}

// =============================================================================
// Persistence Tests
// =============================================================================

func TestManager_WriteThroughStore(t *testing.T) {
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer s.Close()

	h := newHarness(t, allSecrets(), s)
	id := h.createRollup(t)
	ctx := context.Background()

	persisted, err := s.GetRecord(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCreated, persisted.Status)

	require.NoError(t, h.manager.Start(ctx, id))
	persisted, err = s.GetRecord(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRunning, persisted.Status)

	require.NoError(t, h.manager.Delete(ctx, id))
	_, err = s.GetRecord(ctx, id)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestManager_Restore(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "test.db")
	s, err := store.NewSQLiteStore(dsn)
	require.NoError(t, err)
	defer s.Close()

	h := newHarness(t, allSecrets(), s)
	id := h.createRollup(t)
	ctx := context.Background()
	require.NoError(t, h.manager.Start(ctx, id))

	// A fresh manager over the same store sees the rollup as stopped.
	h2 := newHarness(t, allSecrets(), s)
	require.NoError(t, h2.manager.Restore(ctx))

	record, err := h2.manager.Get(id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusStopped, record.Status)
}

// =============================================================================
// Serialization Tests
// =============================================================================

func TestManager_SameRollupOpsSerialize(t *testing.T) {
	h := newHarness(t, allSecrets(), nil)
	id := h.createRollup(t)
	ctx := context.Background()

	h.orch.upEntered = make(chan struct{})
	h.orch.upRelease = make(chan struct{})

	startDone := make(chan error, 1)
	go func() { startDone <- h.manager.Start(ctx, id) }()

	// Wait until Start is inside Up, then issue a conflicting Stop. It must
	// queue behind the in-flight Start, not observe a half-done transition.
	<-h.orch.upEntered
	stopDone := make(chan error, 1)
	go func() { stopDone <- h.manager.Stop(ctx, id) }()

	select {
	case err := <-stopDone:
		t.Fatalf("stop finished while start was in flight: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(h.orch.upRelease)
	require.NoError(t, <-startDone)
	require.NoError(t, <-stopDone)

	record, err := h.manager.Get(id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusStopped, record.Status)
}
