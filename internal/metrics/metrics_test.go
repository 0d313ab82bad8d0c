package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveFlow(t *testing.T) {
	before := testutil.ToFloat64(FlowTotal.WithLabelValues("test.flow", "error"))

	err := errors.New("boom")
	ObserveFlow("test.flow", time.Now(), &err)
	ObserveFlow("test.flow", time.Now(), nil)

	assert.Equal(t, before+1, testutil.ToFloat64(FlowTotal.WithLabelValues("test.flow", "error")))
	assert.Equal(t, float64(1), testutil.ToFloat64(FlowTotal.WithLabelValues("test.flow", "ok")))
}

func TestServer(t *testing.T) {
	srv := NewServer(":0")

	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
	assert.Equal(t, 200, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	ExecTotal.WithLabelValues("local", "ok").Inc()
	rec = httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "wharf_exec_total")
}
