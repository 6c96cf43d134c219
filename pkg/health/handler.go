package health

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/moneta/pgclient/logger"
	"github.com/moneta/pgclient/pkg/metrics"
)

// NewHandler returns an HTTP handler exposing the monitor for load
// balancers and orchestration probes:
//
//	GET /healthz  last retained result (cheap, no database round trip)
//	GET /readyz   fresh on-demand probe
//	GET /metrics  prometheus collectors
//
// Healthy and degraded map to 200, unhealthy to 503.
func NewHandler(m *Monitor) http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, req *http.Request) {
		result := m.LastResult()
		if result == nil {
			// Nothing retained yet; fall back to a live probe.
			result = m.Check(req.Context())
		}
		writeResult(w, result)
	}).Methods(http.MethodGet)

	r.HandleFunc("/readyz", func(w http.ResponseWriter, req *http.Request) {
		writeResult(w, m.Check(req.Context()))
	}).Methods(http.MethodGet)

	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	return r
}

func writeResult(w http.ResponseWriter, result *Result) {
	code := http.StatusOK
	if result.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(result); err != nil {
		logger.Error("failed to encode health response", "error", err)
	}
}
