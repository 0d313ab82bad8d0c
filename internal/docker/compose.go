package docker

import (
	"context"
	"fmt"
	"strings"

	"github.com/alessio/shellescape"

	"github.com/polarfoxDev/wharf/internal/executor"
)

// Compose drives the docker compose CLI on the local host
type Compose struct {
	Exec executor.Executor
	Bin  string // e.g. "docker compose"; split on spaces, never escaped
}

func (c *Compose) command(project, file string, args ...string) string {
	bin := c.Bin
	if bin == "" {
		bin = "docker compose"
	}
	parts := []string{bin, "-p", shellescape.Quote(project), "-f", shellescape.Quote(file)}
	for _, a := range args {
		parts = append(parts, shellescape.Quote(a))
	}
	return strings.Join(parts, " ")
}

// Up starts the project detached
func (c *Compose) Up(ctx context.Context, project, file string) error {
	if _, err := c.Exec.Execute(ctx, executor.Target{}, c.command(project, file, "up", "-d")); err != nil {
		return fmt.Errorf("compose up %s: %w", project, err)
	}
	return nil
}

// Down stops the project and removes its containers and volumes
func (c *Compose) Down(ctx context.Context, project, file string) error {
	if _, err := c.Exec.Execute(ctx, executor.Target{}, c.command(project, file, "down", "-v", "--remove-orphans")); err != nil {
		return fmt.Errorf("compose down %s: %w", project, err)
	}
	return nil
}
