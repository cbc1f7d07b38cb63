// SPDX-License-Identifier: Apache-2.0

package server

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/uitsmijter/uitsmijter/pkg/httperr"
)

// handleInterceptor is the auth_request endpoint a reverse proxy calls for
// every protected request. 200 lets the request pass, 307 sends the browser
// to the login page of the protected host.
func (s *Server) handleInterceptor(w http.ResponseWriter, r *http.Request) {
	ci, err := s.resolver.Resolve(r)
	if err != nil {
		s.Metrics.InterceptorFailure.Inc()
		var e *httperr.Error
		// A host no tenant claims is a proxy misconfiguration, not a
		// missing resource.
		if errors.As(err, &e) && e.Code == httperr.CodeNoTenant {
			s.respondError(w, r, nil, httperr.BadRequest("no tenant is responsible for this host"))
			return
		}
		s.respondError(w, r, s.tenantForRequest(r), err)
		return
	}

	if !ci.Tenant.InterceptorEnabled() {
		s.Metrics.InterceptorFailure.Inc()
		s.respondError(w, r, ci.Tenant, httperr.Forbidden("interceptor mode is disabled for this tenant"))
		return
	}
	if !ci.Tenant.HasHost(ci.ResponsibleDomain) {
		s.Metrics.InterceptorFailure.Inc()
		s.respondError(w, r, ci.Tenant, httperr.BadRequest("host does not belong to the tenant"))
		return
	}

	if ci.Payload == nil {
		s.Metrics.InterceptorFailure.Inc()
		target := url.URL{
			Path: "/login",
			RawQuery: url.Values{"for": {
				ci.Scheme + "://" + ci.ResponsibleDomain + r.Header.Get("X-Forwarded-Uri"),
			}}.Encode(),
		}
		http.Redirect(w, r, target.String(), http.StatusTemporaryRedirect)
		return
	}

	// Pass. Renew the cookie when the token is about to run out so active
	// users never hit the form.
	if s.nearExpiry(ci.Payload) {
		payload := *ci.Payload
		if refreshed, err := s.Tokens.Build(&payload, s.Settings.TokenExpiration); err == nil {
			s.setSSOCookie(w, ci, refreshed)
		}
	}

	w.Header().Set("X-Uitsmijter-User", ci.Payload.User)
	w.Header().Set("X-Uitsmijter-Subject", ci.Payload.Subject)
	s.Metrics.InterceptorSuccess.Inc()
	w.WriteHeader(http.StatusOK)
}
