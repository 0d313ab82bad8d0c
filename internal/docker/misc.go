package docker

import (
	"context"
	"fmt"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/events"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
)

// EngineAPI is the subset of the docker client wharf uses for container control
type EngineAPI interface {
	ContainerList(ctx context.Context, options container.ListOptions) ([]container.Summary, error)
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	VolumeRemove(ctx context.Context, volumeID string, force bool) error
	Events(ctx context.Context, options events.ListOptions) (<-chan events.Message, <-chan error)
}

// Engine controls instance containers through the Docker Engine API
type Engine struct {
	cli EngineAPI
}

// NewClient connects to the daemon configured by the environment (DOCKER_HOST etc.)
func NewClient() (*client.Client, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return cli, nil
}

func NewEngine(cli EngineAPI) *Engine {
	return &Engine{cli: cli}
}

// ContainerVolumes returns the names of the named volumes mounted into a container
func (e *Engine) ContainerVolumes(ctx context.Context, name string) ([]string, error) {
	ctrJSON, err := e.cli.ContainerInspect(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("inspect %s: %w", name, err)
	}
	var vols []string
	for _, m := range ctrJSON.Mounts {
		if m.Type == "volume" && m.Name != "" {
			vols = append(vols, m.Name)
		}
	}
	return vols, nil
}

func (e *Engine) StopContainer(ctx context.Context, name string) error {
	timeout := 10 // seconds
	if err := e.cli.ContainerStop(ctx, name, container.StopOptions{Timeout: &timeout}); err != nil {
		return fmt.Errorf("stop %s: %w", name, err)
	}
	return nil
}

// RemoveContainer removes a stopped container; an already missing one is not an error
func (e *Engine) RemoveContainer(ctx context.Context, name string) error {
	err := e.cli.ContainerRemove(ctx, name, container.RemoveOptions{Force: true})
	if err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("remove %s: %w", name, err)
	}
	return nil
}

// RemoveVolume removes a named volume; an already missing one is not an error
func (e *Engine) RemoveVolume(ctx context.Context, name string) error {
	err := e.cli.VolumeRemove(ctx, name, true)
	if err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("remove volume %s: %w", name, err)
	}
	return nil
}
