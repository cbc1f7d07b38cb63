// SPDX-License-Identifier: Apache-2.0

package server

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// handleHealth reports liveness: 204 when the session store answers.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	opCtx, cancel := storeCtx(r.Context())
	defer cancel()
	if s.Sessions == nil || !s.Sessions.Healthy(opCtx) {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleReady reports readiness: 417 until the session store exists, and
// again after a fatal loader error.
func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if !s.ready.Load() || s.loaderFailed.Load() {
		w.WriteHeader(http.StatusExpectationFailed)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleMetrics serves the Prometheus registry. Scrapers must announce the
// openmetrics content type.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if !strings.Contains(r.Header.Get("Accept"), "application/openmetrics-text") {
		w.WriteHeader(http.StatusNotAcceptable)
		return
	}
	promhttp.HandlerFor(s.Metrics.Registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}).ServeHTTP(w, r)
}
