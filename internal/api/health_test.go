package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPinger struct {
	err error
}

func (p stubPinger) Ping(context.Context) error { return p.err }

func newHealthRouter(t *testing.T, pg Pinger, rdb *redis.Client) http.Handler {
	t.Helper()
	return NewRouter(RouterConfig{
		Service: &fakeScheduler{},
		Health:  NewHealthHandler(pg, rdb, "test", "v1.2.3"),
		Logger:  zerolog.Nop(),
	})
}

func readiness(t *testing.T, h http.Handler) (int, ReadinessResponse) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	var resp ReadinessResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec.Code, resp
}

func TestLiveness(t *testing.T) {
	h := newHealthRouter(t, stubPinger{}, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp LivenessResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "v1.2.3", resp.Version)
}

func TestReadiness(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	t.Run("all up", func(t *testing.T) {
		code, resp := readiness(t, newHealthRouter(t, stubPinger{}, rdb))
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, "ok", resp.Status)
		assert.Equal(t, map[string]string{"postgres": "ok", "redis": "ok"}, resp.Dependencies)
	})

	t.Run("postgres down", func(t *testing.T) {
		code, resp := readiness(t, newHealthRouter(t, stubPinger{err: errors.New("refused")}, rdb))
		assert.Equal(t, http.StatusServiceUnavailable, code)
		assert.Equal(t, "error", resp.Status)
		assert.Equal(t, "down", resp.Dependencies["postgres"])
	})

	t.Run("redis down is degraded", func(t *testing.T) {
		broken := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
		t.Cleanup(func() { _ = broken.Close() })

		code, resp := readiness(t, newHealthRouter(t, stubPinger{}, broken))
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, "degraded", resp.Status)
		assert.Equal(t, "down", resp.Dependencies["redis"])
	})
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "clinic_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	h := NewRouter(RouterConfig{
		Service: &fakeScheduler{},
		Metrics: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Logger:  zerolog.Nop(),
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "clinic_test_total 1")
}

func TestLoggingMiddlewareAddsRequestID(t *testing.T) {
	h := newHealthRouter(t, stubPinger{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))
}
