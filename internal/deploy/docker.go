package deploy

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/go-connections/nat"
)

// sshPort is the honeypot daemon's SSH listener inside the container.
const sshPort = "2222/tcp"

// startHealthTimeout bounds the post-start poll for a running
// container.
const startHealthTimeout = 30 * time.Second

// startContainer creates and starts the honeypot container for a
// deployment, bind-mounting the deployment directory and publishing
// the SSH port, then waits until the container reports running.
func (m *Manager) startContainer(ctx context.Context, d *Deployment) (string, error) {
	containerConfig := &container.Config{
		Image:    d.Image,
		Hostname: d.Hostname,
		ExposedPorts: nat.PortSet{
			sshPort: struct{}{},
		},
	}

	hostConfig := &container.HostConfig{
		Binds: []string{
			d.Dir + ":/honeymesh",
		},
		PortBindings: nat.PortMap{
			sshPort: []nat.PortBinding{
				{HostIP: "0.0.0.0", HostPort: strconv.Itoa(d.SSHPort)},
			},
		},
		RestartPolicy: container.RestartPolicy{Name: container.RestartPolicyUnlessStopped},
	}

	resp, err := m.docker.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, "honeymesh-"+d.Name)
	if err != nil {
		return "", fmt.Errorf("create container: %w", err)
	}

	if err := m.docker.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		// Clean up the created-but-unstarted container.
		m.docker.ContainerRemove(context.Background(), resp.ID, container.RemoveOptions{Force: true})
		return "", fmt.Errorf("start container: %w", err)
	}

	if err := m.waitRunning(ctx, resp.ID); err != nil {
		m.docker.ContainerRemove(context.Background(), resp.ID, container.RemoveOptions{Force: true})
		return "", err
	}

	m.logger.Printf("container %s running for deployment %s", resp.ID[:12], d.Name)
	return resp.ID, nil
}

// waitRunning polls the container until it reports running, it exits,
// or the timeout elapses.
func (m *Manager) waitRunning(ctx context.Context, containerID string) error {
	deadline := time.Now().Add(startHealthTimeout)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		inspect, err := m.docker.ContainerInspect(ctx, containerID)
		if err != nil {
			return fmt.Errorf("inspect container: %w", err)
		}
		if inspect.State != nil {
			if inspect.State.Running {
				return nil
			}
			if inspect.State.Status == "exited" || inspect.State.Status == "dead" {
				return fmt.Errorf("container exited during startup (status=%s, exit=%d)",
					inspect.State.Status, inspect.State.ExitCode)
			}
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("container not running after %s", startHealthTimeout)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// stopContainer stops and removes a container.
func (m *Manager) stopContainer(ctx context.Context, containerID string) error {
	timeout := 10 // seconds
	if err := m.docker.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout}); err != nil {
		m.logger.Printf("warning: stop container %s: %v", containerID[:12], err)
	}
	if err := m.docker.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil {
		return fmt.Errorf("remove container: %w", err)
	}
	return nil
}
