package executor

import (
	"context"
	"fmt"
	"io"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/pkg/stdcopy"
)

// ExecAPI is the subset of the docker client used for exec
type ExecAPI interface {
	ContainerExecCreate(ctx context.Context, containerID string, options container.ExecOptions) (container.ExecCreateResponse, error)
	ContainerExecAttach(ctx context.Context, execID string, config container.ExecAttachOptions) (types.HijackedResponse, error)
	ContainerExecInspect(ctx context.Context, execID string) (container.ExecInspect, error)
}

// Docker runs scripts inside containers through the Engine exec API
type Docker struct {
	Client ExecAPI
}

func (d *Docker) Name() string { return "docker" }

func (d *Docker) Run(ctx context.Context, target Target, script string, stdout, stderr io.Writer) (int, error) {
	options := container.ExecOptions{
		Cmd:          []string{"/bin/sh", "-c", script},
		AttachStdout: true,
		AttachStderr: true,
	}
	execIDResp, err := d.Client.ContainerExecCreate(ctx, target.Container, options)
	if err != nil {
		return -1, fmt.Errorf("exec create in %s: %w", target.Container, err)
	}

	resp, err := d.Client.ContainerExecAttach(ctx, execIDResp.ID, container.ExecAttachOptions{})
	if err != nil {
		return -1, fmt.Errorf("exec attach in %s: %w", target.Container, err)
	}
	defer resp.Close()

	// the hijacked connection ignores ctx; close it to unblock the copy
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			resp.Close()
		case <-done:
		}
	}()

	if _, err := stdcopy.StdCopy(stdout, stderr, resp.Reader); err != nil {
		if ctx.Err() != nil {
			return -1, ctx.Err()
		}
		return -1, fmt.Errorf("exec read output in %s: %w", target.Container, err)
	}

	inspectResp, err := d.Client.ContainerExecInspect(ctx, execIDResp.ID)
	if err != nil {
		return -1, fmt.Errorf("exec inspect in %s: %w", target.Container, err)
	}
	return inspectResp.ExitCode, nil
}
