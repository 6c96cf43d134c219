package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerHealthz(t *testing.T) {
	m := NewMonitor(MonitorOptions{
		Probe:     func(ctx context.Context) error { return nil },
		PoolStats: quietPool,
	})
	m.Check(context.Background())

	srv := httptest.NewServer(NewHandler(m))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var result Result
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.Equal(t, StatusHealthy, result.Status)
	assert.Equal(t, 10, result.Metrics.MaxConnections)
}

func TestHandlerHealthzProbesWhenNothingRetained(t *testing.T) {
	var probes int
	m := NewMonitor(MonitorOptions{
		Probe: func(ctx context.Context) error {
			probes++
			return nil
		},
		PoolStats: quietPool,
	})

	srv := httptest.NewServer(NewHandler(m))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, probes, "no retained result forces a live probe")
}

func TestHandlerReadyzUnhealthy(t *testing.T) {
	m := NewMonitor(MonitorOptions{
		Probe:     func(ctx context.Context) error { return errors.New("connection refused") },
		PoolStats: quietPool,
	})

	srv := httptest.NewServer(NewHandler(m))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/readyz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	var result Result
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.Equal(t, StatusUnhealthy, result.Status)
	assert.Equal(t, "connection refused", result.Checks["database"].Error)
}

func TestHandlerMetrics(t *testing.T) {
	m := NewMonitor(MonitorOptions{
		Probe:     func(ctx context.Context) error { return nil },
		PoolStats: quietPool,
	})

	srv := httptest.NewServer(NewHandler(m))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
