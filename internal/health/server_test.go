package health

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(fn StatusFunc) *Server {
	return NewServer(Config{Port: 0}, fn, nil)
}

func TestHealthz_OKWhenAliveAndNotDegraded(t *testing.T) {
	now := time.Now()
	s := newTestServer(func() Status {
		return Status{Alive: true, Degraded: false, LastCycleEnd: now, OpenCount: 2}
	})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
	assert.Contains(t, rec.Body.String(), `"open_count":2`)
}

func TestHealthz_ServiceUnavailableWhenDegraded(t *testing.T) {
	s := newTestServer(func() Status {
		return Status{Alive: true, Degraded: true}
	})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"degraded"`)
}

func TestHealthz_StartingBeforeFirstCycle(t *testing.T) {
	s := newTestServer(func() Status {
		return Status{Alive: false}
	})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"starting"`)
}
