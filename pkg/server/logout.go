// SPDX-License-Identifier: Apache-2.0

package server

import (
	"net/http"
	"net/url"

	"github.com/uitsmijter/uitsmijter/pkg/logger"
)

// handleLogout renders a page that immediately navigates to the finalize
// endpoint, carrying the requested post-logout redirect along.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	target := url.URL{Path: "/logout/finalize"}
	if redirect := r.URL.Query().Get("post_logout_redirect_uri"); redirect != "" {
		target.RawQuery = url.Values{"post_logout_redirect_uri": {redirect}}.Encode()
	}
	s.Views.Render(w, http.StatusOK, s.tenantForRequest(r), ViewLogout, ViewData{
		RedirectURI: target.String(),
	})
}

// handleLogoutFinalize clears the cookie and revokes every session of the
// subject across all clients of the tenant.
func (s *Server) handleLogoutFinalize(w http.ResponseWriter, r *http.Request) {
	ci, err := s.resolver.Resolve(r)
	if err != nil {
		s.respondError(w, r, s.tenantForRequest(r), err)
		return
	}

	if ci.Payload != nil {
		opCtx, cancel := storeCtx(r.Context())
		err := s.Sessions.Wipe(opCtx, ci.Payload.Tenant, ci.Payload.Subject)
		cancel()
		if err != nil {
			s.Metrics.RevokeFailure.Inc()
			logger.Errorw("session wipe failed",
				"tenant", ci.Payload.Tenant, "subject", ci.Payload.Subject, "error", err)
		} else {
			s.Metrics.RevokeSuccess.Inc()
		}
	}

	s.clearSSOCookie(w, ci)
	s.Metrics.Logout.Inc()

	// Only hosts of the tenant are valid logout destinations.
	if redirect := r.URL.Query().Get("post_logout_redirect_uri"); redirect != "" && ci.Tenant != nil {
		if u, err := url.Parse(redirect); err == nil && ci.Tenant.HasHost(u.Host) {
			http.Redirect(w, r, redirect, http.StatusSeeOther)
			return
		}
		logger.Debugw("post_logout_redirect_uri rejected",
			"tenant", ci.Tenant.Name, "redirect", redirect)
	}
	s.Views.Render(w, http.StatusOK, ci.Tenant, ViewLogout, ViewData{})
}
