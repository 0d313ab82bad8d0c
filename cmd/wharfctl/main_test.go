package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polarfoxDev/wharf/internal/database"
	"github.com/polarfoxDev/wharf/internal/logging"
)

type recorded struct {
	method string
	path   string
	auth   string
	body   map[string]any
}

// fakeWharfd answers every request with status and reply, recording what it saw
func fakeWharfd(t *testing.T, status int, reply any) (*httptest.Server, *[]recorded) {
	t.Helper()
	var seen []recorded
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recorded{method: r.Method, path: r.URL.RequestURI(), auth: r.Header.Get("Authorization")}
		if raw, _ := io.ReadAll(r.Body); len(raw) > 0 {
			require.NoError(t, json.Unmarshal(raw, &rec.body))
		}
		seen = append(seen, rec)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if reply != nil {
			_ = json.NewEncoder(w).Encode(reply)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &seen
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestInstanceCreate(t *testing.T) {
	srv, seen := fakeWharfd(t, http.StatusCreated, map[string]any{
		"id": 7, "siteUrl": "http://localhost:8101", "wpVersion": "6.6.2", "phpVersion": "8.2.24",
	})

	out, err := run(t, "--server", srv.URL, "--token", "s3cret",
		"instance", "create", "--title", "Demo", "--admin-password", "hunter22")
	require.NoError(t, err)
	assert.Contains(t, out, "Instance 7 is up at http://localhost:8101")

	require.Len(t, *seen, 1)
	req := (*seen)[0]
	assert.Equal(t, http.MethodPost, req.method)
	assert.Equal(t, "/api/instances", req.path)
	assert.Equal(t, "Bearer s3cret", req.auth)
	assert.Equal(t, "Demo", req.body["title"])
	assert.Equal(t, "admin", req.body["adminUser"])
	assert.Equal(t, "hunter22", req.body["adminPassword"])
}

func TestInstanceCreate_RequiresTitle(t *testing.T) {
	srv, seen := fakeWharfd(t, http.StatusCreated, nil)

	_, err := run(t, "--server", srv.URL, "instance", "create")
	require.Error(t, err)
	assert.Empty(t, *seen)
}

func TestServerErrorIsSurfaced(t *testing.T) {
	srv, _ := fakeWharfd(t, http.StatusNotFound, map[string]string{"error": "instance 9: not found"})

	_, err := run(t, "--server", srv.URL, "instance", "get", "9")
	require.Error(t, err)

	var apiErr *apiError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, "instance 9: not found", apiErr.Message)
}

func TestBackupCreate(t *testing.T) {
	t.Run("archive", func(t *testing.T) {
		srv, seen := fakeWharfd(t, http.StatusCreated, map[string]any{"backup": map[string]any{"id": 3}})

		out, err := run(t, "--server", srv.URL, "backup", "create", "4", "--destination", "archive", "--note", "before upgrade")
		require.NoError(t, err)
		assert.Contains(t, out, `"id": 3`)

		req := (*seen)[0]
		assert.Equal(t, "/api/instances/4/backups", req.path)
		assert.Equal(t, "archive", req.body["destination"])
		assert.Equal(t, "manual", req.body["type"])
		assert.Equal(t, "before upgrade", req.body["note"])
	})

	t.Run("limited quota full", func(t *testing.T) {
		srv, _ := fakeWharfd(t, http.StatusConflict, map[string]any{
			"accepted": false, "reason": "capacity exceeded", "used": 5, "cap": 5,
		})

		_, err := run(t, "--server", srv.URL, "backup", "create", "4", "--type", "manual-limited")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "backup rejected: capacity exceeded (5 of 5 used)")
	})
}

func TestBackupList(t *testing.T) {
	tests := []struct {
		name string
		args []string
		path string
	}{
		{"by instance", []string{"--instance", "2"}, "/api/instances/2/backups"},
		{"by type", []string{"--type", "six-hourly"}, "/api/backups?type=six-hourly"},
		{"downloadable", []string{"--downloadable"}, "/api/backups?downloadable=true"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, seen := fakeWharfd(t, http.StatusOK, []map[string]any{
				{"id": 1, "instanceId": 2, "name": "nightly", "type": "six-hourly", "destination": "pod"},
			})

			out, err := run(t, append([]string{"--server", srv.URL, "backup", "list"}, tt.args...)...)
			require.NoError(t, err)
			assert.Equal(t, tt.path, (*seen)[0].path)
			assert.Contains(t, out, "nightly")
		})
	}

	t.Run("filter required", func(t *testing.T) {
		srv, seen := fakeWharfd(t, http.StatusOK, nil)
		_, err := run(t, "--server", srv.URL, "backup", "list")
		require.Error(t, err)
		assert.Empty(t, *seen)
	})
}

func TestScheduleCommands(t *testing.T) {
	srv, seen := fakeWharfd(t, http.StatusCreated, nil)

	out, err := run(t, "--server", srv.URL, "schedule", "six-hourly", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "Instance 5 now gets six-hourly backups")

	_, err = run(t, "--server", srv.URL, "schedule", "remove", "5", "--type", "six-hourly")
	require.NoError(t, err)

	require.Len(t, *seen, 2)
	assert.Equal(t, "/api/instances/5/schedules", (*seen)[0].path)
	assert.Equal(t, "six-hourly", (*seen)[0].body["type"])
	assert.Equal(t, http.MethodDelete, (*seen)[1].method)
	assert.Equal(t, "/api/instances/5/schedules/six-hourly", (*seen)[1].path)
}

func TestSiteCommands(t *testing.T) {
	t.Run("plugin", func(t *testing.T) {
		srv, seen := fakeWharfd(t, http.StatusOK, []map[string]any{
			{"name": "akismet", "status": "active", "version": "5.3"},
		})

		out, err := run(t, "--server", srv.URL, "site", "plugin", "3", "activate", "akismet")
		require.NoError(t, err)
		assert.Equal(t, "/api/instances/3/plugins/akismet/activate", (*seen)[0].path)
		assert.Contains(t, out, "akismet")
		assert.Contains(t, out, "active")
	})

	t.Run("maintenance", func(t *testing.T) {
		srv, seen := fakeWharfd(t, http.StatusOK, map[string]bool{"enabled": true})

		_, err := run(t, "--server", srv.URL, "site", "maintenance", "3", "on")
		require.NoError(t, err)
		assert.Equal(t, http.MethodPut, (*seen)[0].method)
		assert.Equal(t, true, (*seen)[0].body["enabled"])
	})

	t.Run("search-replace dry run", func(t *testing.T) {
		srv, seen := fakeWharfd(t, http.StatusOK, map[string]any{"replacements": 12, "dryRun": true})

		out, err := run(t, "--server", srv.URL, "site", "search-replace", "3", "old.example", "new.example", "--dry-run")
		require.NoError(t, err)
		assert.Contains(t, out, "Would replace 12 occurrences")
		assert.Equal(t, "old.example", (*seen)[0].body["from"])
		assert.Equal(t, true, (*seen)[0].body["dryRun"])
	})
}

func TestLogsCommand(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "wharf.db")
	db, err := database.InitDB(dbPath)
	require.NoError(t, err)
	logger, err := logging.New(db.GetDB(), io.Discard, "debug")
	require.NoError(t, err)
	logger.Log(logging.LevelInfo, "provision", 1, 0, "instance is up")
	logger.Log(logging.LevelError, "backup.archive", 1, 4, "upload failed")
	logger.Log(logging.LevelInfo, "provision", 2, 0, "other instance")
	require.NoError(t, db.Close())

	out, err := run(t, "logs", "--db", dbPath, "--instance", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "instance is up")
	assert.Contains(t, out, "upload failed")
	assert.NotContains(t, out, "other instance")
	assert.Contains(t, out, "Showing 2 results")

	out, err = run(t, "logs", "--db", dbPath, "--level", "error")
	require.NoError(t, err)
	assert.Contains(t, out, "upload failed")
	assert.Contains(t, out, "Showing 1 results")

	out, err = run(t, "logs", "--db", dbPath, "--flow", "teardown")
	require.NoError(t, err)
	assert.Contains(t, out, "No logs found")

	out, err = run(t, "logs", "--db", dbPath, "--prune", "1d")
	require.NoError(t, err)
	assert.Contains(t, out, "Pruned 0 log entries")
}

func TestParseID(t *testing.T) {
	id, err := parseID("42")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	for _, bad := range []string{"", "0", "-1", "abc"} {
		_, err := parseID(bad)
		assert.Error(t, err, bad)
	}
}
