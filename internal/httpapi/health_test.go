package httpapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(checks ...Check) *mux.Router {
	checker := NewChecker("test-service", time.Second, checks...)
	r := mux.NewRouter()
	checker.Register(r, "")
	return r
}

func TestRegister_MountsUnderPrefix(t *testing.T) {
	checker := NewChecker("test-service", time.Second)
	r := mux.NewRouter()
	checker.Register(r, "analyzer")

	req := httptest.NewRequest(http.MethodGet, "/analyzer/health/live", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/health/live", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleHealth_AllPass(t *testing.T) {
	r := newTestRouter(Check{Name: "redis", Critical: true, Probe: func(ctx context.Context) error { return nil }})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandleHealth_CriticalFailureIsUnhealthy(t *testing.T) {
	r := newTestRouter(Check{Name: "db", Critical: true, Probe: func(ctx context.Context) error {
		return errors.New("connection refused")
	}})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHandleReady_NonCriticalFailureStillReady(t *testing.T) {
	r := newTestRouter(
		Check{Name: "db", Critical: true, Probe: func(ctx context.Context) error { return nil }},
		Check{Name: "rss_feed_0", Critical: false, Probe: func(ctx context.Context) error {
			return errors.New("timeout")
		}},
	)
	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandleLive_AlwaysOK(t *testing.T) {
	r := newTestRouter()
	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
}
