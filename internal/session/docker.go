package session

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// dockerImage is the image coding sessions run inside when the configured
// session_backend is "docker" instead of "tmux".
const dockerImage = "orchestrator-agent:latest"

// DockerBackend launches sessions as containers instead of tmux panes, for
// hosts where stronger filesystem/network isolation between projects is
// wanted at the cost of a container runtime dependency.
type DockerBackend struct {
	cli *client.Client
}

// NewDockerBackend connects to the local Docker daemon using the standard
// environment-derived connection options.
func NewDockerBackend() (*DockerBackend, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("session: docker client: %w", err)
	}
	return &DockerBackend{cli: cli}, nil
}

// Launch starts a container named sessionName running agentCmd with workDir
// bind-mounted as the container's workspace.
func (b *DockerBackend) Launch(ctx context.Context, sessionName, agentCmd, workDir string) error {
	ctxDir := filepath.Join(os.TempDir(), "orchestrator-ctx-"+sessionName)
	if err := os.MkdirAll(ctxDir, 0755); err != nil {
		return fmt.Errorf("session: create context dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(ctxDir, "cmd.sh"), []byte("exec "+agentCmd+"\n"), 0755); err != nil {
		return fmt.Errorf("session: write command script: %w", err)
	}

	workDirAbs, err := filepath.Abs(workDir)
	if err != nil {
		return fmt.Errorf("session: resolve workdir: %w", err)
	}
	if err := os.MkdirAll(workDirAbs, 0755); err != nil {
		return fmt.Errorf("session: create workdir: %w", err)
	}

	containerConfig := &container.Config{
		Image:      dockerImage,
		Cmd:        []string{"sh", "/orch-ctx/cmd.sh"},
		Tty:        false,
		WorkingDir: "/workspace",
	}
	hostConfig := &container.HostConfig{
		Mounts: []mount.Mount{
			{Type: mount.TypeBind, Source: ctxDir, Target: "/orch-ctx", ReadOnly: true},
			{Type: mount.TypeBind, Source: workDirAbs, Target: "/workspace"},
		},
		AutoRemove: false,
	}

	resp, err := b.cli.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, sessionName)
	if err != nil {
		return fmt.Errorf("session: create container %q: %w", sessionName, err)
	}
	if err := b.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return fmt.Errorf("session: start container %q: %w", sessionName, err)
	}
	return nil
}

// IsAlive reports whether the named container is currently running.
func (b *DockerBackend) IsAlive(sessionName string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	inspect, err := b.cli.ContainerInspect(ctx, sessionName)
	if err != nil {
		return false
	}
	return inspect.State.Running
}

// Status mirrors the tmux backend's three-way classification.
func (b *DockerBackend) Status(sessionName string) (status string, exitCode int) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	inspect, err := b.cli.ContainerInspect(ctx, sessionName)
	if err != nil {
		return "gone", -1
	}
	if inspect.State.Running {
		return "running", 0
	}
	return "exited", inspect.State.ExitCode
}

// CaptureOutput returns the container's combined stdout/stderr logs.
func (b *DockerBackend) CaptureOutput(sessionName string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	logs, err := b.cli.ContainerLogs(ctx, sessionName, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return "", fmt.Errorf("session: container logs %q: %w", sessionName, err)
	}
	defer logs.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, logs); err != nil {
		return "", fmt.Errorf("session: demux container logs %q: %w", sessionName, err)
	}
	return strings.TrimSpace(stdout.String() + "\n" + stderr.String()), nil
}

// Kill force-removes the container and its temp context directory.
func (b *DockerBackend) Kill(sessionName string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := b.cli.ContainerRemove(ctx, sessionName, container.RemoveOptions{Force: true, RemoveVolumes: true}); err != nil {
		return fmt.Errorf("session: remove container %q: %w", sessionName, err)
	}
	os.RemoveAll(filepath.Join(os.TempDir(), "orchestrator-ctx-"+sessionName))
	return nil
}

// CleanDeadSessions removes every supervisor-managed, non-running container.
func (b *DockerBackend) CleanDeadSessions() int {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	containers, err := b.cli.ContainerList(ctx, container.ListOptions{All: true})
	if err != nil {
		return 0
	}
	cleaned := 0
	for _, c := range containers {
		managed := false
		for _, name := range c.Names {
			if strings.HasPrefix(strings.TrimPrefix(name, "/"), Prefix) {
				managed = true
				break
			}
		}
		if managed && c.State != "running" {
			b.cli.ContainerRemove(ctx, c.ID, container.RemoveOptions{Force: true, RemoveVolumes: true})
			cleaned++
		}
	}
	return cleaned
}

// IsDockerAvailable reports whether a Docker daemon is reachable.
func IsDockerAvailable() bool {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return false
	}
	defer cli.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = cli.Ping(ctx)
	return err == nil
}
