package executor

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polarfoxDev/wharf/internal/model"
)

type backendFunc struct {
	name string
	fn   func(ctx context.Context, target Target, script string, stdout, stderr io.Writer) (int, error)
}

func (b *backendFunc) Name() string { return b.name }

func (b *backendFunc) Run(ctx context.Context, target Target, script string, stdout, stderr io.Writer) (int, error) {
	return b.fn(ctx, target, script, stdout, stderr)
}

func TestPool_RoutesByTarget(t *testing.T) {
	var localCalls, remoteCalls []string
	local := &backendFunc{name: "local", fn: func(_ context.Context, _ Target, s string, out, _ io.Writer) (int, error) {
		localCalls = append(localCalls, s)
		io.WriteString(out, "host")
		return 0, nil
	}}
	remote := &backendFunc{name: "remote", fn: func(_ context.Context, tg Target, s string, out, _ io.Writer) (int, error) {
		remoteCalls = append(remoteCalls, tg.Container+":"+s)
		io.WriteString(out, "container")
		return 0, nil
	}}
	p := NewPool(local, remote, 2, time.Second)

	out, err := p.Execute(context.Background(), Target{}, "uname")
	require.NoError(t, err)
	assert.Equal(t, "host", out)

	out, err = p.Execute(context.Background(), Target{Container: "wp-1"}, "wp core version")
	require.NoError(t, err)
	assert.Equal(t, "container", out)

	assert.Equal(t, []string{"uname"}, localCalls)
	assert.Equal(t, []string{"wp-1:wp core version"}, remoteCalls)
}

func TestPool_FailureClassification(t *testing.T) {
	tests := []struct {
		name   string
		code   int
		stderr string
		err    error
		fail   bool
	}{
		{name: "clean", code: 0, stderr: "", fail: false},
		{name: "warning only", code: 0, stderr: "Warning: something deprecated\n", fail: false},
		{name: "non-zero exit", code: 2, fail: true},
		{name: "wp-cli error line", code: 0, stderr: "Error: Site not found.\n", fail: true},
		{name: "php fatal", code: 0, stderr: "PHP Fatal error: Allowed memory size\n", fail: true},
		{name: "mysql error", code: 0, stderr: "ERROR 1045 (28000): Access denied\n", fail: true},
		{name: "transport error", code: 0, err: errors.New("connection refused"), fail: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			remote := &backendFunc{name: "remote", fn: func(_ context.Context, _ Target, _ string, out, errw io.Writer) (int, error) {
				io.WriteString(out, "partial")
				io.WriteString(errw, tt.stderr)
				return tt.code, tt.err
			}}
			p := NewPool(nil, remote, 1, 0)
			out, err := p.Execute(context.Background(), Target{Container: "c"}, "do-something")
			if !tt.fail {
				require.NoError(t, err)
				assert.Equal(t, "partial", out)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, model.ErrExecution))
			var ee *ExecError
			require.True(t, errors.As(err, &ee))
			assert.Equal(t, "do-something", ee.Script)
			assert.Equal(t, "partial", ee.Stdout)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				assert.Equal(t, -1, ee.ExitCode)
			}
		})
	}
}

func TestPool_Timeout(t *testing.T) {
	remote := &backendFunc{name: "remote", fn: func(ctx context.Context, _ Target, _ string, _, _ io.Writer) (int, error) {
		<-ctx.Done()
		return -1, ctx.Err()
	}}
	p := NewPool(nil, remote, 1, 20*time.Millisecond)

	start := time.Now()
	_, err := p.Execute(context.Background(), Target{Container: "c"}, "sleep 3600")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.ErrorIs(t, err, model.ErrExecution)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestPool_BoundsConcurrency(t *testing.T) {
	var running, peak int32
	remote := &backendFunc{name: "remote", fn: func(_ context.Context, _ Target, _ string, _, _ io.Writer) (int, error) {
		n := atomic.AddInt32(&running, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		return 0, nil
	}}
	p := NewPool(nil, remote, 2, time.Second)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = p.Execute(context.Background(), Target{Container: "c"}, "work")
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestPool_NoBackend(t *testing.T) {
	p := NewPool(nil, nil, 1, 0)
	_, err := p.Execute(context.Background(), Target{Container: "c"}, "x")
	assert.ErrorIs(t, err, model.ErrExecution)
}

func TestLocal_Run(t *testing.T) {
	p := NewPool(&Local{}, nil, 1, 5*time.Second)

	out, err := p.Execute(context.Background(), Target{}, "printf hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", out)

	_, err = p.Execute(context.Background(), Target{}, "echo broken >&2; exit 3")
	require.Error(t, err)
	var ee *ExecError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, 3, ee.ExitCode)
	assert.Contains(t, ee.Stderr, "broken")

	var buf bytes.Buffer
	require.NoError(t, p.Stream(context.Background(), Target{}, "printf 'a\\nb'", &buf))
	assert.Equal(t, "a\nb", buf.String())
}

func TestTarget_String(t *testing.T) {
	assert.Equal(t, "local", Target{}.String())
	assert.Equal(t, "wp-1", Target{Namespace: "p", Container: "wp-1"}.String())
	assert.Equal(t, "ns/pod-0/wordpress", Target{Namespace: "ns", Pod: "pod-0", Container: "wordpress"}.String())
}

func TestResolver_App(t *testing.T) {
	inst := &model.Instance{Namespace: "wharf-abc", AppContainer: "wharf-abc-wordpress-1"}
	assert.Equal(t, Target{Namespace: "wharf-abc", Container: "wharf-abc-wordpress-1"}, Resolver{}.App(inst))

	inst = &model.Instance{Namespace: "sites", AppContainer: "blog-0"}
	assert.Equal(t, Target{Namespace: "sites", Pod: "blog-0", Container: "wordpress"}, Resolver{Kubernetes: true}.App(inst))
}
