// Package runner executes evaluation tasks in isolated Docker containers.
package runner

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// Client wraps the Docker SDK with the operations the harness needs.
type Client struct {
	docker *client.Client
}

// NewClient creates a Docker client and verifies the daemon is reachable.
func NewClient() (*Client, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := cli.Ping(ctx); err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("docker daemon not accessible (is Docker running?): %w", err)
	}

	return &Client{docker: cli}, nil
}

// Close closes the underlying Docker client.
func (c *Client) Close() error {
	return c.docker.Close()
}

// EnsureImage makes the task environment image available locally, pulling it
// when allowed. Concurrent pulls of large images are exactly the cold-start
// pressure the harness staggers first-wave launches around.
func (c *Client) EnsureImage(ctx context.Context, imageName string, autoPull bool) error {
	images, err := c.docker.ImageList(ctx, image.ListOptions{})
	if err != nil {
		return fmt.Errorf("listing images: %w", err)
	}
	for _, img := range images {
		for _, tag := range img.RepoTags {
			if tag == imageName {
				return nil
			}
		}
	}

	if !autoPull {
		return fmt.Errorf("image %s not found locally and auto-pull is disabled", imageName)
	}

	reader, err := c.docker.ImagePull(ctx, imageName, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pulling image %s: %w", imageName, err)
	}
	defer func() { _ = reader.Close() }()
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("reading pull response: %w", err)
	}
	return nil
}

// EnvironmentSpec describes one task's container environment.
type EnvironmentSpec struct {
	Image        string
	Name         string
	WorkspaceDir string // Bind-mounted at /workspace
	Env          []string
}

// Provision creates and starts a task environment container, returning its ID.
func (c *Client) Provision(ctx context.Context, spec EnvironmentSpec) (string, error) {
	created, err := c.docker.ContainerCreate(ctx,
		&container.Config{
			Image: spec.Image,
			Cmd:   []string{"sleep", "infinity"},
			Env:   spec.Env,
		},
		&container.HostConfig{
			Mounts: []mount.Mount{{
				Type:   mount.TypeBind,
				Source: spec.WorkspaceDir,
				Target: "/workspace",
			}},
		},
		nil, nil, spec.Name)
	if err != nil {
		return "", fmt.Errorf("creating container: %w", err)
	}

	if err := c.docker.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		_ = c.Teardown(context.Background(), created.ID)
		return "", fmt.Errorf("starting container: %w", err)
	}
	return created.ID, nil
}

// Teardown force-removes a task environment container.
func (c *Client) Teardown(ctx context.Context, containerID string) error {
	if err := c.docker.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil {
		return fmt.Errorf("removing container: %w", err)
	}
	return nil
}

// ExecResult holds the outcome of a command run inside a container.
type ExecResult struct {
	ExitCode int
	Output   string // Interleaved stdout and stderr
	Duration time.Duration
	TimedOut bool
}

// Exec runs a command in the container with a deadline. A deadline hit is
// reported through TimedOut with the output captured so far, not as an
// error; errors mean the exec itself could not run.
func (c *Client) Exec(ctx context.Context, containerID string, cmd []string, timeout time.Duration) (*ExecResult, error) {
	start := time.Now()

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	created, err := c.docker.ContainerExecCreate(execCtx, containerID, container.ExecOptions{
		Cmd:          cmd,
		AttachStdout: true,
		AttachStderr: true,
		WorkingDir:   "/workspace",
	})
	if err != nil {
		return nil, fmt.Errorf("creating exec: %w", err)
	}

	attach, err := c.docker.ContainerExecAttach(execCtx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return nil, fmt.Errorf("attaching to exec: %w", err)
	}

	// stdcopy.StdCopy blocks until the process exits and ignores context
	// cancellation, so the copy runs in a goroutine and the connection is
	// closed to unblock it when the deadline fires. The mutex guards the
	// buffer against the timed-out read below.
	var buf bytes.Buffer
	var bufMu sync.Mutex
	copyDone := make(chan error, 1)
	go func() {
		bufMu.Lock()
		_, copyErr := stdcopy.StdCopy(&buf, &buf, attach.Reader)
		bufMu.Unlock()
		copyDone <- copyErr
	}()

	select {
	case copyErr := <-copyDone:
		attach.Close()
		if copyErr != nil {
			return nil, fmt.Errorf("reading exec output: %w", copyErr)
		}
	case <-execCtx.Done():
		attach.Close()
		<-copyDone
		bufMu.Lock()
		output := buf.String()
		bufMu.Unlock()
		return &ExecResult{
			ExitCode: -1,
			Output:   output,
			Duration: time.Since(start),
			TimedOut: true,
		}, nil
	}

	exitCode, err := c.waitExitCode(created.ID)
	if err != nil {
		return nil, err
	}

	return &ExecResult{
		ExitCode: exitCode,
		Output:   buf.String(),
		Duration: time.Since(start),
	}, nil
}

// waitExitCode polls the exec until the process is reported stopped. Uses a
// fresh context because the exec deadline may be about to expire.
func (c *Client) waitExitCode(execID string) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for {
		inspect, err := c.docker.ContainerExecInspect(ctx, execID)
		if err != nil {
			return 0, fmt.Errorf("inspecting exec: %w", err)
		}
		if !inspect.Running {
			return inspect.ExitCode, nil
		}
		select {
		case <-ctx.Done():
			return 0, fmt.Errorf("timeout waiting for exec exit code")
		case <-time.After(50 * time.Millisecond):
		}
	}
}
