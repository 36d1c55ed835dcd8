package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shehryarbajwa/smokeharness/pkg/models"
)

const (
	HeadlessShellImage = "chromedp/headless-shell:latest"
	ManagedByLabel     = "managed-by"
	ManagedByValue     = "smokeharness"
	devtoolsPort       = "9222/tcp"
)

// DockerDriver runs Chromium inside a headless-shell container and drives it
// over the remote debugging port. Containers are always headless.
type DockerDriver struct {
	client *client.Client
	http   *http.Client
	logger *zap.Logger
}

// NewDockerDriver connects to the docker daemon from the environment
func NewDockerDriver(logger *zap.Logger) (*DockerDriver, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &DockerDriver{
		client: cli,
		http:   &http.Client{Timeout: 2 * time.Second},
		logger: logger,
	}, nil
}

func (d *DockerDriver) Name() string {
	return "docker"
}

func (d *DockerDriver) Supports(kind models.EngineKind) bool {
	return kind == models.EngineChromium
}

func (d *DockerDriver) Probe(ctx context.Context, kind models.EngineKind) error {
	if !d.Supports(kind) {
		return ErrUnsupportedEngine
	}
	if _, err := d.client.Ping(ctx); err != nil {
		return fmt.Errorf("%w: docker daemon: %v", ErrEngineUnavailable, err)
	}
	return nil
}

func (d *DockerDriver) Launch(ctx context.Context, kind models.EngineKind, profile models.EnvironmentProfile) (Browser, error) {
	if err := d.Probe(ctx, kind); err != nil {
		return nil, &LaunchError{Engine: kind, Backend: d.Name(), Err: err}
	}
	capability, _ := CapabilityFor(kind)
	timeout := capability.LaunchTimeoutFor(profile)

	if !profile.Headless {
		d.logger.Warn("containerized chromium is always headless; visible mode only affects timing")
	}
	if profile.ProfileDir != "" {
		d.logger.Warn("containerized chromium starts from an empty profile; storage is not shared with other sessions",
			zap.String("profile_dir", profile.ProfileDir))
	}

	if err := d.EnsureImage(ctx); err != nil {
		return nil, &LaunchError{Engine: kind, Backend: d.Name(), Err: fmt.Errorf("%w: %v", ErrEngineUnavailable, err)}
	}

	launchID := uuid.New().String()
	containerConfig := &container.Config{
		Image: HeadlessShellImage,
		Labels: map[string]string{
			ManagedByLabel: ManagedByValue,
			"launch-id":    launchID,
			"engine":       string(kind),
		},
		Cmd: append([]string{fmt.Sprintf("--window-size=%d,%d", profile.Viewport.Width, profile.Viewport.Height)},
			capability.LaunchArgs(profile)...),
		ExposedPorts: nat.PortSet{
			devtoolsPort: struct{}{},
		},
	}

	hostConfig := &container.HostConfig{
		PortBindings: nat.PortMap{
			devtoolsPort: []nat.PortBinding{
				{
					HostIP:   "127.0.0.1",
					HostPort: "0",
				},
			},
		},
		AutoRemove: false,
	}

	resp, err := d.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil,
		fmt.Sprintf("smokeharness-%s", launchID[:8]))
	if err != nil {
		return nil, &LaunchError{Engine: kind, Backend: d.Name(), Err: fmt.Errorf("failed to create container: %w", err)}
	}

	fail := func(err error) (Browser, error) {
		stopCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if stopErr := d.StopBrowser(stopCtx, resp.ID); stopErr != nil {
			d.logger.Warn("failed to clean up container", zap.String("container", resp.ID[:12]), zap.Error(stopErr))
		}
		return nil, &LaunchError{Engine: kind, Backend: d.Name(), Err: err}
	}

	if err := d.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return fail(fmt.Errorf("failed to start container: %w", err))
	}

	inspect, err := d.client.ContainerInspect(ctx, resp.ID)
	if err != nil {
		return fail(fmt.Errorf("failed to inspect container: %w", err))
	}
	bindings := inspect.NetworkSettings.Ports[devtoolsPort]
	if len(bindings) == 0 {
		return fail(fmt.Errorf("container exposes no devtools port"))
	}

	wsURL, err := d.waitForBrowserReady(ctx, bindings[0].HostPort, timeout)
	if err != nil {
		return fail(err)
	}

	allocCtx, allocCancel := chromedp.NewRemoteAllocator(context.Background(), wsURL)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	containerID := resp.ID
	b := &chromedpBrowser{
		backend: d.Name(),
		ctx:     browserCtx,
		slowMo:  profile.SlowMo,
		cancel: func() {
			browserCancel()
			allocCancel()
			stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := d.StopBrowser(stopCtx, containerID); err != nil {
				d.logger.Warn("failed to stop container", zap.String("container", containerID[:12]), zap.Error(err))
			}
		},
	}

	if err := startBrowser(ctx, browserCtx, timeout); err != nil {
		b.Close()
		return nil, &LaunchError{Engine: kind, Backend: d.Name(), Err: err}
	}

	d.logger.Debug("container browser ready",
		zap.String("container", containerID[:12]),
		zap.String("ws", wsURL))

	return b, nil
}

// StopBrowser stops and removes a container
func (d *DockerDriver) StopBrowser(ctx context.Context, containerID string) error {
	timeout := 10
	stopOptions := container.StopOptions{
		Timeout: &timeout,
	}

	if err := d.client.ContainerStop(ctx, containerID, stopOptions); err != nil {
		return fmt.Errorf("failed to stop container: %w", err)
	}

	if err := d.client.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil {
		return fmt.Errorf("failed to remove container: %w", err)
	}

	return nil
}

func (d *DockerDriver) managedFilter() container.ListOptions {
	return container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", ManagedByLabel+"="+ManagedByValue)),
	}
}

// CountManaged returns the number of harness containers, running or not
func (d *DockerDriver) CountManaged(ctx context.Context) (int, error) {
	containers, err := d.client.ContainerList(ctx, d.managedFilter())
	if err != nil {
		return 0, err
	}
	return len(containers), nil
}

// RemoveManaged force-removes every harness container. Each removal is
// attempted even when an earlier one fails.
func (d *DockerDriver) RemoveManaged(ctx context.Context) []models.KillAttempt {
	containers, err := d.client.ContainerList(ctx, d.managedFilter())
	if err != nil {
		return []models.KillAttempt{{
			Pattern: "container label " + ManagedByLabel + "=" + ManagedByValue,
			Outcome: models.KillError,
			Detail:  err.Error(),
		}}
	}

	attempts := make([]models.KillAttempt, 0, len(containers))
	for _, c := range containers {
		attempt := models.KillAttempt{Pattern: "container " + c.ID[:12], Outcome: models.KillKilled}
		if err := d.client.ContainerRemove(ctx, c.ID, container.RemoveOptions{Force: true}); err != nil {
			attempt.Outcome = models.KillError
			if strings.Contains(strings.ToLower(err.Error()), "permission denied") {
				attempt.Outcome = models.KillPermissionDenied
			}
			attempt.Detail = err.Error()
		}
		attempts = append(attempts, attempt)
	}
	return attempts
}

// EnsureImage pulls the headless-shell image when it is not present locally
func (d *DockerDriver) EnsureImage(ctx context.Context) error {
	images, err := d.client.ImageList(ctx, image.ListOptions{})
	if err != nil {
		return err
	}

	for _, img := range images {
		for _, tag := range img.RepoTags {
			if tag == HeadlessShellImage {
				return nil
			}
		}
	}

	d.logger.Info("pulling browser image", zap.String("image", HeadlessShellImage))
	reader, err := d.client.ImagePull(ctx, HeadlessShellImage, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}
	defer reader.Close()

	_, err = io.Copy(io.Discard, reader)
	return err
}

func (d *DockerDriver) Close() error {
	return d.client.Close()
}

// waitForBrowserReady polls /json/version until the debugger answers and
// returns a websocket URL reachable from the host
func (d *DockerDriver) waitForBrowserReady(ctx context.Context, port string, timeout time.Duration) (string, error) {
	url := fmt.Sprintf("http://127.0.0.1:%s/json/version", port)
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return "", err
		}
		resp, err := d.http.Do(req)
		if err == nil {
			var version struct {
				WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
			}
			decodeErr := json.NewDecoder(resp.Body).Decode(&version)
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK && decodeErr == nil && version.WebSocketDebuggerURL != "" {
				// the advertised URL carries the container port; chromedp re-resolves it from the host port
				return fmt.Sprintf("ws://127.0.0.1:%s/", port), nil
			}
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}

	return "", fmt.Errorf("%w: browser did not answer on port %s within %v", ErrLaunchTimeout, port, timeout)
}
