package executor

import (
	"context"
	"errors"
	"io"
	"os/exec"
)

// Local runs scripts on the host through /bin/sh
type Local struct {
	Dir string   // working directory; empty = inherit
	Env []string // extra environment, appended to the process environment
}

func (l *Local) Name() string { return "local" }

func (l *Local) Run(ctx context.Context, _ Target, script string, stdout, stderr io.Writer) (int, error) {
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", script)
	cmd.Dir = l.Dir
	if len(l.Env) > 0 {
		cmd.Env = append(cmd.Environ(), l.Env...)
	}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	err := cmd.Run()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && ctx.Err() == nil {
		return exitErr.ExitCode(), nil
	}
	if ctx.Err() != nil {
		return -1, ctx.Err()
	}
	return -1, err
}
