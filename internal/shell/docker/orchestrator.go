package docker

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/docker/docker/pkg/stdcopy"

	"github.com/artpar/rollhost/internal/core/compose"
	"github.com/artpar/rollhost/internal/core/rollup"
	"github.com/artpar/rollhost/internal/shell/exec"
)

// =============================================================================
// Orchestrator Config
// =============================================================================

// OrchestratorConfig tunes stack bring-up and teardown behavior.
type OrchestratorConfig struct {
	NetworkRetryAttempts int
	NetworkRetryBackoff  time.Duration
	StopTimeout          time.Duration
}

// DefaultOrchestratorConfig returns the default tuning.
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		NetworkRetryAttempts: 3,
		NetworkRetryBackoff:  2 * time.Second,
		StopTimeout:          30 * time.Second,
	}
}

// =============================================================================
// Compose Orchestrator - One Rollup Stack
// =============================================================================

// ComposeOrchestrator drives one rollup's container stack. The Docker API is
// the primary path; the docker-compose CLI is the teardown and log fallback
// when the API path fails or the stack is not tracked in this process.
type ComposeOrchestrator struct {
	docker      Client
	cli         ComposeCLI
	logger      *slog.Logger
	cfg         OrchestratorConfig
	vmID        string
	composeFile string

	mu         sync.Mutex
	networkID  string
	containers map[string]string // serviceName -> containerID
	order      []string          // start order, reversed for teardown
}

// NewComposeOrchestrator creates an orchestrator for one rollup stack.
func NewComposeOrchestrator(docker Client, cli ComposeCLI, vmID, composeFile string, cfg OrchestratorConfig, logger *slog.Logger) *ComposeOrchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.NetworkRetryAttempts <= 0 {
		cfg.NetworkRetryAttempts = 3
	}
	if cfg.NetworkRetryBackoff <= 0 {
		cfg.NetworkRetryBackoff = 2 * time.Second
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 30 * time.Second
	}
	return &ComposeOrchestrator{
		docker:      docker,
		cli:         cli,
		logger:      logger,
		cfg:         cfg,
		vmID:        vmID,
		composeFile: composeFile,
		containers:  make(map[string]string),
	}
}

// =============================================================================
// Up
// =============================================================================

// Up parses the compose manifest and brings the whole stack up: network,
// volumes, images, then containers in dependency order. Any failure tears
// down everything created so far.
func (o *ComposeOrchestrator) Up(ctx context.Context) error {
	data, err := os.ReadFile(o.composeFile)
	if err != nil {
		return fmt.Errorf("read compose manifest: %w", err)
	}
	manifest, err := compose.ParseManifest(string(data))
	if err != nil {
		return fmt.Errorf("parse compose manifest: %w", err)
	}

	o.logger.Info("bringing stack up",
		"vm_id", o.vmID,
		"services", len(manifest.Services),
	)

	// Network creation is retried; transient daemon errors here are common
	// right after a previous stack's teardown.
	networkName := rollup.NetworkName(o.vmID)
	var networkID string
	err = exec.Retry(ctx, o.cfg.NetworkRetryAttempts, o.cfg.NetworkRetryBackoff, func() error {
		var createErr error
		networkID, createErr = o.docker.CreateNetwork(NetworkSpec{
			Name:   networkName,
			Driver: "bridge",
			Labels: o.stackLabels(""),
		})
		return createErr
	})
	if err != nil {
		return fmt.Errorf("create network %s: %w", networkName, err)
	}
	o.logger.Debug("created network", "network_id", networkID, "network_name", networkName)

	// Named volumes
	for _, vol := range manifest.Volumes {
		if vol.External {
			continue
		}
		volumeName := rollup.VolumeName(o.vmID, vol.Name)
		if _, err := o.docker.CreateVolume(VolumeSpec{
			Name:   volumeName,
			Labels: o.stackLabels(""),
		}); err != nil {
			_ = o.docker.RemoveNetwork(networkID)
			return fmt.Errorf("create volume %s: %w", vol.Name, err)
		}
	}

	// Pull missing images
	for _, svc := range manifest.Services {
		exists, _ := o.docker.ImageExists(svc.Image)
		if !exists {
			o.logger.Info("pulling image", "image", svc.Image)
			if err := o.docker.PullImage(svc.Image, PullOptions{}); err != nil {
				o.logger.Warn("failed to pull image, trying anyway", "image", svc.Image, "error", err)
			}
		}
	}

	// Create and start containers in dependency order.
	created := make(map[string]string)
	var order []string
	for _, svc := range rollup.TopologicalSort(manifest.Services) {
		spec := o.buildContainerSpec(svc, networkName)

		containerID, err := o.docker.CreateContainer(spec)
		if err != nil {
			o.cleanup(created, networkID)
			return fmt.Errorf("create container for service %s: %w", svc.Name, err)
		}
		created[svc.Name] = containerID
		order = append(order, svc.Name)

		if err := o.docker.StartContainer(containerID); err != nil {
			o.cleanup(created, networkID)
			return fmt.Errorf("start container for service %s: %w", svc.Name, err)
		}
		o.logger.Debug("started service", "service", svc.Name, "container_id", shortID(containerID))
	}

	o.mu.Lock()
	o.networkID = networkID
	o.containers = created
	o.order = order
	o.mu.Unlock()

	o.logger.Info("stack up", "vm_id", o.vmID, "containers", len(created))
	return nil
}

// =============================================================================
// Down
// =============================================================================

// Down tears the stack down. The Docker API path stops and removes each
// container and then the network; on any API failure the whole teardown is
// retried once through the docker-compose CLI, and a CLI failure is surfaced.
func (o *ComposeOrchestrator) Down(ctx context.Context) error {
	o.mu.Lock()
	containers := o.containers
	order := append([]string(nil), o.order...)
	networkID := o.networkID
	o.mu.Unlock()

	if len(containers) == 0 {
		// Nothing tracked in this process: the API path has nothing to work
		// with, so go straight to the CLI.
		return o.downViaCLI(ctx, nil)
	}

	stopTimeout := o.cfg.StopTimeout
	for i := len(order) - 1; i >= 0; i-- {
		service := order[i]
		containerID := containers[service]

		if err := o.docker.StopContainer(containerID, &stopTimeout); err != nil {
			return o.downViaCLI(ctx, fmt.Errorf("stop service %s: %w", service, err))
		}
		if err := o.docker.RemoveContainer(containerID, RemoveOptions{Force: true}); err != nil {
			return o.downViaCLI(ctx, fmt.Errorf("remove service %s: %w", service, err))
		}
		o.logger.Debug("removed service", "service", service, "container_id", shortID(containerID))
	}

	if networkID != "" {
		if err := o.docker.RemoveNetwork(networkID); err != nil {
			return o.downViaCLI(ctx, fmt.Errorf("remove network: %w", err))
		}
	}

	o.reset()
	o.logger.Info("stack down", "vm_id", o.vmID)
	return nil
}

// downViaCLI is the CLI fallback teardown. apiErr is the API-path failure
// that triggered the fallback, nil when the stack was simply untracked.
func (o *ComposeOrchestrator) downViaCLI(ctx context.Context, apiErr error) error {
	if apiErr != nil {
		o.logger.Warn("api teardown failed, falling back to docker-compose",
			"vm_id", o.vmID, "error", apiErr)
	}

	project := rollup.ProjectName(o.vmID)
	if err := o.cli.Down(ctx, o.composeFile, project); err != nil {
		if apiErr != nil {
			return fmt.Errorf("compose fallback after api failure (%v): %w", apiErr, err)
		}
		return fmt.Errorf("compose teardown: %w", err)
	}

	o.reset()
	o.logger.Info("stack down via compose cli", "vm_id", o.vmID)
	return nil
}

func (o *ComposeOrchestrator) reset() {
	o.mu.Lock()
	o.networkID = ""
	o.containers = make(map[string]string)
	o.order = nil
	o.mu.Unlock()
}

// =============================================================================
// Service Operations
// =============================================================================

// ServiceStatus returns the container status of a tracked service. A service
// this process never started is an explicit error, never a default status.
func (o *ComposeOrchestrator) ServiceStatus(service string) (ContainerStatus, error) {
	containerID, ok := o.tracked(service)
	if !ok {
		return "", fmt.Errorf("service %s: %w", service, ErrServiceNotTracked)
	}

	info, err := o.docker.InspectContainer(containerID)
	if err != nil {
		return "", fmt.Errorf("inspect service %s: %w", service, err)
	}
	return info.Status, nil
}

// ServiceLogs returns the logs of a service: via the API when the container
// is tracked, via the compose CLI otherwise.
func (o *ComposeOrchestrator) ServiceLogs(ctx context.Context, service string) (string, error) {
	containerID, ok := o.tracked(service)
	if !ok {
		return o.cli.Logs(ctx, o.composeFile, rollup.ProjectName(o.vmID), service)
	}

	reader, err := o.docker.ContainerLogs(containerID, LogOptions{Tail: "all"})
	if err != nil {
		return "", fmt.Errorf("logs for service %s: %w", service, err)
	}
	defer reader.Close()

	// API log streams are stdout/stderr multiplexed.
	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, reader); err != nil {
		return "", fmt.Errorf("read logs for service %s: %w", service, err)
	}
	return stdout.String() + stderr.String(), nil
}

// Exec runs a command inside a tracked service's container.
func (o *ComposeOrchestrator) Exec(ctx context.Context, service string, cmd []string) (string, error) {
	containerID, ok := o.tracked(service)
	if !ok {
		return "", fmt.Errorf("service %s: %w", service, ErrServiceNotTracked)
	}
	return o.docker.ExecInContainer(containerID, cmd)
}

func (o *ComposeOrchestrator) tracked(service string) (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	id, ok := o.containers[service]
	return id, ok
}

// =============================================================================
// Helpers
// =============================================================================

// stackLabels returns the resource labels for this stack; service is empty
// for networks and volumes.
func (o *ComposeOrchestrator) stackLabels(service string) map[string]string {
	labels := map[string]string{
		LabelManaged: "true",
		LabelRollup:  o.vmID,
	}
	if service != "" {
		labels[LabelService] = service
	}
	return labels
}

// buildContainerSpec converts a parsed compose service to a container spec
// scoped and labeled for this stack.
func (o *ComposeOrchestrator) buildContainerSpec(svc compose.Service, networkName string) ContainerSpec {
	labels := o.stackLabels(svc.Name)
	for k, v := range svc.Labels {
		labels[k] = v
	}

	var ports []PortBinding
	for _, p := range svc.Ports {
		ports = append(ports, PortBinding{
			ContainerPort: int(p.Target),
			HostPort:      int(p.Published),
			Protocol:      p.Protocol,
			HostIP:        p.HostIP,
		})
	}

	var volumes []VolumeMount
	for _, v := range svc.Volumes {
		source := v.Source
		if v.Type == compose.VolumeMountTypeVolume {
			source = rollup.VolumeName(o.vmID, v.Source)
		}
		volumes = append(volumes, VolumeMount{
			Source:   source,
			Target:   v.Target,
			ReadOnly: v.ReadOnly,
		})
	}

	var health *HealthCheck
	if svc.HealthCheck != nil {
		health = &HealthCheck{
			Test:        svc.HealthCheck.Test,
			Interval:    parseDuration(svc.HealthCheck.Interval),
			Timeout:     parseDuration(svc.HealthCheck.Timeout),
			Retries:     svc.HealthCheck.Retries,
			StartPeriod: parseDuration(svc.HealthCheck.StartPeriod),
		}
	}

	return ContainerSpec{
		Name:       rollup.ContainerName(o.vmID, svc.Name),
		Image:      svc.Image,
		Command:    svc.Command,
		Entrypoint: svc.Entrypoint,
		User:       svc.User,
		Env:        svc.Environment,
		Labels:     labels,
		Ports:      ports,
		Volumes:    volumes,
		Networks:   []string{networkName},
		NetworkAliases: map[string][]string{
			networkName: {svc.Name},
		},
		RestartPolicy: RestartPolicy{Name: string(svc.Restart)},
		HealthCheck:   health,
	}
}

// cleanup removes containers created during a failed Up, then the network.
func (o *ComposeOrchestrator) cleanup(created map[string]string, networkID string) {
	stopTimeout := 5 * time.Second
	for service, containerID := range created {
		_ = o.docker.StopContainer(containerID, &stopTimeout)
		if err := o.docker.RemoveContainer(containerID, RemoveOptions{Force: true}); err != nil {
			o.logger.Warn("cleanup: failed to remove container",
				"service", service, "container_id", shortID(containerID), "error", err)
		}
	}
	if err := o.docker.RemoveNetwork(networkID); err != nil {
		o.logger.Warn("cleanup: failed to remove network", "network_id", networkID, "error", err)
	}
}

func parseDuration(s string) time.Duration {
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
