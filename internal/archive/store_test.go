package archive

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polarfoxDev/wharf/internal/config"
)

type s3Request struct {
	Method string
	Path   string
	Body   string
}

func fakeS3(t *testing.T) (*httptest.Server, func() []s3Request) {
	t.Helper()
	var mu sync.Mutex
	var reqs []s3Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		reqs = append(reqs, s3Request{Method: r.Method, Path: r.URL.Path, Body: string(body)})
		mu.Unlock()
		switch r.Method {
		case http.MethodPut:
			w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
			w.WriteHeader(http.StatusOK)
		case http.MethodDelete:
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, func() []s3Request {
		mu.Lock()
		defer mu.Unlock()
		return append([]s3Request(nil), reqs...)
	}
}

func newTestStore(t *testing.T, endpoint string) *S3Store {
	t.Helper()
	s, err := New(context.Background(), config.ArchiveConfig{
		Endpoint:     endpoint,
		Region:       "us-east-1",
		Bucket:       "wharf-backups",
		Prefix:       "/sites/",
		AccessKey:    "key",
		SecretKey:    "secret",
		UsePathStyle: true,
		URLExpiry:    config.Duration{Duration: time.Hour},
	})
	require.NoError(t, err)
	s.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	return s
}

func TestNew_Disabled(t *testing.T) {
	_, err := New(context.Background(), config.ArchiveConfig{})
	assert.ErrorIs(t, err, ErrDisabled)
}

func TestUploadPresignDelete(t *testing.T) {
	srv, requests := fakeS3(t)
	s := newTestStore(t, srv.URL)

	path := filepath.Join(t.TempDir(), "demo-abc.sql")
	require.NoError(t, os.WriteFile(path, []byte("-- dump"), 0o600))
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	obj, err := s.Upload(context.Background(), f, 7, "demo-abc.sql")
	require.NoError(t, err)

	assert.Equal(t, "wharf-backups", obj.Bucket)
	assert.True(t, strings.HasPrefix(obj.Key, "sites/2024/05/01/"), obj.Key)
	assert.True(t, strings.HasSuffix(obj.Key, "-demo-abc.sql"), obj.Key)

	u, err := url.Parse(obj.Location)
	require.NoError(t, err)
	assert.Equal(t, "/wharf-backups/"+obj.Key, u.Path)
	assert.NotEmpty(t, u.Query().Get("X-Amz-Signature"))
	assert.Equal(t, "3600", u.Query().Get("X-Amz-Expires"))

	require.NoError(t, s.Delete(context.Background(), obj.Key))

	reqs := requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, http.MethodPut, reqs[0].Method)
	assert.Equal(t, "/wharf-backups/"+obj.Key, reqs[0].Path)
	assert.Contains(t, reqs[0].Body, "-- dump")
	assert.Equal(t, http.MethodDelete, reqs[1].Method)
}

func TestURL_PresignsLocally(t *testing.T) {
	srv, requests := fakeS3(t)
	s := newTestStore(t, srv.URL)

	u1, err := s.URL(context.Background(), "sites/k.zip")
	require.NoError(t, err)
	assert.Contains(t, u1, "/wharf-backups/sites/k.zip")
	assert.Empty(t, requests(), "presigning is local")
}
