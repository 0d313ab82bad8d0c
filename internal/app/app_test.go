package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polarfoxDev/wharf/internal/archive/archivetest"
	"github.com/polarfoxDev/wharf/internal/config"
	"github.com/polarfoxDev/wharf/internal/executor"
	"github.com/polarfoxDev/wharf/internal/executor/executortest"
	"github.com/polarfoxDev/wharf/internal/logging"
	"github.com/polarfoxDev/wharf/internal/model"
	"github.com/polarfoxDev/wharf/internal/provision"
)

type stubFinder struct{}

func (stubFinder) FindContainer(_ context.Context, namespace, _, member string) (string, error) {
	return namespace + "-" + member + "-1", nil
}

type stubCompose struct{ up, down int }

func (s *stubCompose) Up(context.Context, string, string) error   { s.up++; return nil }
func (s *stubCompose) Down(context.Context, string, string) error { s.down++; return nil }

type stubRuntime struct{}

func (stubRuntime) ContainerVolumes(context.Context, string) ([]string, error) { return nil, nil }
func (stubRuntime) StopContainer(context.Context, string) error                { return nil }
func (stubRuntime) RemoveContainer(context.Context, string) error              { return nil }
func (stubRuntime) RemoveVolume(context.Context, string) error                 { return nil }

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Database = filepath.Join(t.TempDir(), "wharf.db")
	cfg.WorkDir = t.TempDir()
	cfg.StagingDir = t.TempDir()
	cfg.WordPress.StabilizeDelay.Duration = time.Millisecond
	cfg.WordPress.DiscoveryDelay.Duration = time.Millisecond
	cfg.Archive.Bucket = "test-bucket"
	return cfg
}

func testExec() *executortest.Fake {
	return executortest.New().
		Reply("core version", "6.5.2\n").
		Reply("PHP_VERSION", "8.2.18").
		Reply("plugin list", `[{"name":"akismet","status":"active","version":"5.3","update":"none"}]`).
		Reply("theme list", `[{"name":"twentytwentyfour","status":"active","version":"1.1","update":"none"}]`).
		On("cat -- ", func(_ executor.Target, script string) (string, error) {
			return "contents of " + strings.TrimPrefix(script, "cat -- "), nil
		})
}

func newTestApp(t *testing.T, cfg *config.Config, fx *executortest.Fake, store *archivetest.Memory) *App {
	t.Helper()
	a, err := New(context.Background(), cfg, Options{
		Exec:    fx,
		Finder:  stubFinder{},
		Compose: &stubCompose{},
		Runtime: stubRuntime{},
		Store:   store,
		Console: &strings.Builder{},
	})
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestProvisionArchiveBackupAndRestore(t *testing.T) {
	fx := testExec()
	store := archivetest.New()
	a := newTestApp(t, testConfig(t), fx, store)
	ctx := context.Background()

	inst, err := a.Provisioner.Create(ctx, provision.Request{Title: "Demo", AdminUser: "admin", AdminPassword: "secret123"})
	require.NoError(t, err)
	assert.Equal(t, "6.5.2", inst.WPVersion)

	res, err := a.Backups.CreateArchiveBackup(ctx, inst.ID, "nightly")
	require.NoError(t, err)
	assert.Equal(t, "nightly", res.Backup.Note)
	assert.Equal(t, 2, store.Len())
	require.Len(t, res.Backup.Plugins, 1)
	assert.Equal(t, "akismet", res.Backup.Plugins[0].Name)

	msg, err := a.Backups.RestoreArchiveBackup(ctx, res.Backup.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, msg)
	assert.Equal(t, 1, fx.Count("db import"))

	_, err = a.Backups.Get(ctx, res.Backup.ID)
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.Equal(t, 2, store.Len())

	entries, err := a.Log.Query(logging.QueryOptions{InstanceID: inst.ID})
	require.NoError(t, err)
	assert.NotEmpty(t, entries, "flows log into the database")
}

func TestAPI_OverWiredApp(t *testing.T) {
	cfg := testConfig(t)
	cfg.API.Token = "s3cret"
	a := newTestApp(t, cfg, testExec(), archivetest.New())

	srv := httptest.NewServer(a.API().Handler())
	defer srv.Close()

	body := strings.NewReader(`{"title":"Demo","adminUser":"admin","adminPassword":"secret123"}`)
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/instances", body)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer s3cret")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	req, err = http.NewRequest(http.MethodGet, srv.URL+"/api/instances/42", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer s3cret")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestKubernetesModeRejectsCreate(t *testing.T) {
	cfg := testConfig(t)
	cfg.Runtime.Executor = "kubernetes"
	cfg.Runtime.Namespace = "sites"

	a, err := New(context.Background(), cfg, Options{
		Exec:    testExec(),
		Finder:  stubFinder{},
		Store:   archivetest.New(),
		Console: &strings.Builder{},
	})
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.Provisioner.Compose)
	assert.Nil(t, a.Provisioner.Runtime)
	_, err = a.Provisioner.Create(context.Background(), provision.Request{Title: "Demo", AdminUser: "admin", AdminPassword: "secret123"})
	assert.ErrorIs(t, err, model.ErrInvalidRequest)

	inst, err := a.Provisioner.Adopt(context.Background(), provision.AdoptRequest{
		Token: "blog", Title: "Blog", AdminUser: "admin", Port: 4100, SiteURL: "https://blog.example.com"})
	require.NoError(t, err)
	assert.Equal(t, "sites", inst.Namespace, "runtime.namespace is the default")
	assert.Equal(t, "sites-wordpress-1", inst.AppContainer)
}
