package docker

import (
	"context"
	"fmt"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"

	"github.com/polarfoxDev/wharf/internal/labels"
)

// FindContainer returns the name of the running container of a compose
// service, or "" when none is running (yet). A non-empty token must match
// the container's wharf token label.
func (e *Engine) FindContainer(ctx context.Context, project, token, service string) (string, error) {
	f := filters.NewArgs()
	f.Add("label", labels.LComposeProject+"="+project)
	f.Add("label", labels.LComposeService+"="+service)
	if token != "" {
		f.Add("label", labels.LToken+"="+token)
	}

	containers, err := e.cli.ContainerList(ctx, container.ListOptions{Filters: f})
	if err != nil {
		return "", fmt.Errorf("list containers of %s/%s: %w", project, service, err)
	}
	for _, c := range containers {
		if name := strings.TrimPrefix(firstNonEmpty(c.Names...), "/"); name != "" {
			return name, nil
		}
	}
	return "", nil
}

// ManagedContainers lists every wharf-managed container, running or not,
// keyed by name with the instance token as value.
func (e *Engine) ManagedContainers(ctx context.Context) (map[string]string, error) {
	f := filters.NewArgs()
	f.Add("label", labels.LManaged+"=true")

	containers, err := e.cli.ContainerList(ctx, container.ListOptions{All: true, Filters: f})
	if err != nil {
		return nil, fmt.Errorf("list managed containers: %w", err)
	}
	out := make(map[string]string, len(containers))
	for _, c := range containers {
		name := strings.TrimPrefix(firstNonEmpty(c.Names...), "/")
		if name == "" {
			continue
		}
		out[name] = c.Labels[labels.LToken]
	}
	return out, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
