package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/polarfoxDev/wharf/internal/helpers"
	"github.com/polarfoxDev/wharf/internal/metrics"
	"github.com/polarfoxDev/wharf/internal/model"
)

// Target addresses where a script runs. The zero Target is the local host.
type Target struct {
	Namespace string // compose project or kubernetes namespace
	Pod       string // kubernetes pod; empty for docker
	Container string // docker container name or container inside the pod
}

// Local reports whether the target is the host running wharf
func (t Target) Local() bool {
	return t.Pod == "" && t.Container == ""
}

func (t Target) String() string {
	switch {
	case t.Local():
		return "local"
	case t.Pod != "":
		return t.Namespace + "/" + t.Pod + "/" + t.Container
	default:
		return t.Container
	}
}

// Executor runs shell scripts against a target
type Executor interface {
	// Execute runs script and returns its standard output
	Execute(ctx context.Context, target Target, script string) (string, error)
	// Stream runs script and copies its standard output into w
	Stream(ctx context.Context, target Target, script string, w io.Writer) error
}

// Backend runs one script on one kind of target. stdout and stderr are
// never nil. A non-zero exit is reported through the exit code, not err.
type Backend interface {
	Name() string
	Run(ctx context.Context, target Target, script string, stdout, stderr io.Writer) (exitCode int, err error)
}

// ExecError describes a failed command
type ExecError struct {
	Target   Target
	Script   string
	ExitCode int
	Stdout   string
	Stderr   string
	Err      error
}

func (e *ExecError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "exec on %s failed", e.Target)
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	} else {
		fmt.Fprintf(&b, ": exit code %d", e.ExitCode)
	}
	if msg := strings.TrimSpace(e.Stderr); msg != "" {
		fmt.Fprintf(&b, ": %s", helpers.TruncateString(msg, 512))
	}
	return b.String()
}

func (e *ExecError) Unwrap() error { return e.Err }

func (e *ExecError) Is(target error) bool { return target == model.ErrExecution }

// stderr lines that mean failure even when the exit code is zero
var errorPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?m)^Error:`),
	regexp.MustCompile(`Fatal error`),
	regexp.MustCompile(`ERROR \d+ \(`),
}

func stderrFailed(stderr string) bool {
	for _, re := range errorPatterns {
		if re.MatchString(stderr) {
			return true
		}
	}
	return false
}

// Pool routes scripts to the local or the remote backend, bounds how many
// run at once and gives each its own deadline.
type Pool struct {
	local   Backend
	remote  Backend
	sem     *semaphore.Weighted
	timeout time.Duration
}

// NewPool creates a Pool. concurrency <= 0 means 1; timeout <= 0 disables
// the per-command deadline (the caller's context still applies).
func NewPool(local, remote Backend, concurrency int, timeout time.Duration) *Pool {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Pool{
		local:   local,
		remote:  remote,
		sem:     semaphore.NewWeighted(int64(concurrency)),
		timeout: timeout,
	}
}

func (p *Pool) Execute(ctx context.Context, target Target, script string) (string, error) {
	var stdout bytes.Buffer
	err := p.run(ctx, target, script, &stdout)
	if err != nil {
		var ee *ExecError
		if errors.As(err, &ee) {
			ee.Stdout = stdout.String()
		}
		return stdout.String(), err
	}
	return stdout.String(), nil
}

func (p *Pool) Stream(ctx context.Context, target Target, script string, w io.Writer) error {
	return p.run(ctx, target, script, w)
}

func (p *Pool) run(ctx context.Context, target Target, script string, stdout io.Writer) error {
	backend := p.remote
	if target.Local() {
		backend = p.local
	}
	if backend == nil {
		return &ExecError{Target: target, Script: script, ExitCode: -1, Err: errors.New("no backend configured for target")}
	}

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return &ExecError{Target: target, Script: script, ExitCode: -1, Err: err}
	}
	defer p.sem.Release(1)
	metrics.ExecInFlight.Inc()
	defer metrics.ExecInFlight.Dec()

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	started := time.Now()
	var stderr bytes.Buffer
	code, err := backend.Run(ctx, target, script, stdout, &stderr)
	metrics.ExecDuration.WithLabelValues(backend.Name()).Observe(time.Since(started).Seconds())

	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err != nil || code != 0 || stderrFailed(stderr.String()) {
		metrics.ExecTotal.WithLabelValues(backend.Name(), "error").Inc()
		if err != nil && code == 0 {
			code = -1
		}
		return &ExecError{Target: target, Script: script, ExitCode: code, Stderr: stderr.String(), Err: err}
	}
	metrics.ExecTotal.WithLabelValues(backend.Name(), "ok").Inc()
	return nil
}
