// SPDX-License-Identifier: Apache-2.0

package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/uitsmijter/uitsmijter/pkg/entities"
	"github.com/uitsmijter/uitsmijter/pkg/httperr"
	"github.com/uitsmijter/uitsmijter/pkg/logger"
)

// respondError maps any error onto an HTTP response: JSON when the client
// accepts it, otherwise the tenant's error page. Operator detail stays out
// of release responses.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, tenant *entities.Tenant, err error) {
	e := httperr.From(err)
	if e.Status >= http.StatusInternalServerError {
		logger.Errorw("request failed", "path", r.URL.Path, "code", e.Code, "error", e.Error())
	} else {
		logger.Debugw("request rejected", "path", r.URL.Path, "code", e.Code, "status", e.Status)
	}

	if wantsJSON(r) {
		body := map[string]any{"error": true, "reason": e.Code}
		if !s.Settings.IsRelease() {
			body["message"] = e.Message
		}
		writeJSON(w, e.Status, body)
		return
	}
	s.Views.Render(w, e.Status, tenant, ViewError, ViewData{ErrorCode: e.Code})
}

// wantsJSON inspects Accept; HTML wins when both are acceptable because
// browsers send both.
func wantsJSON(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	if strings.Contains(accept, "text/html") {
		return false
	}
	return strings.Contains(accept, "application/json") || strings.Contains(accept, "*/*") ||
		strings.Contains(r.Header.Get("Content-Type"), "application/json")
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Errorw("cannot encode response", "error", err)
	}
}
