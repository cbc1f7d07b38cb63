// SPDX-License-Identifier: Apache-2.0

package server

import (
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/uitsmijter/uitsmijter/pkg/clientinfo"
	"github.com/uitsmijter/uitsmijter/pkg/httperr"
	"github.com/uitsmijter/uitsmijter/pkg/logger"
	"github.com/uitsmijter/uitsmijter/pkg/profile"
	"github.com/uitsmijter/uitsmijter/pkg/provider"
	"github.com/uitsmijter/uitsmijter/pkg/session"
	"github.com/uitsmijter/uitsmijter/pkg/token"
)

// handleLoginPage renders the login form for interceptor logins. The
// hidden location is the protected URL from the `for` parameter, so a
// successful POST returns the browser to where it came from.
func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	location := r.URL.Query().Get("for")
	if location == "" {
		s.renderLogin(w, r, nil, "")
		return
	}

	login := session.NewLoginSession()
	opCtx, cancel := storeCtx(r.Context())
	defer cancel()
	if err := s.Sessions.Push(opCtx, login); err != nil {
		logger.Warnw("cannot store login session", "error", err)
	}

	tenant := s.tenantForRequest(r)
	if u, err := url.Parse(location); err == nil && u.Host != "" {
		if t, ok := s.Store.FindTenantForHost(u.Host); ok {
			tenant = &t
		}
	}
	s.Views.Render(w, http.StatusOK, tenant, ViewLogin, ViewData{
		Location: location,
		LoginID:  login.ID.String(),
	})
}

// handleLogin validates the posted credentials against the tenant's
// provider scripts, sets the SSO cookie and resumes the flow stored in the
// hidden location field.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	defer func() { s.Metrics.LoginAttempts.Observe(time.Since(started).Seconds()) }()

	ci, err := s.resolver.Resolve(r)
	if err != nil {
		s.Metrics.LoginFailure.Inc()
		s.respondError(w, r, s.tenantForRequest(r), err)
		return
	}

	location := r.PostFormValue("location")
	if location == "" {
		s.Metrics.LoginFailure.Inc()
		s.respondError(w, r, ci.Tenant, httperr.MissingLocation())
		return
	}

	// The loginid proves the form was rendered by us. A stale or missing
	// one is logged but does not reject the credentials.
	if loginID := r.PostFormValue("loginid"); loginID != "" {
		if id, err := uuid.Parse(loginID); err == nil {
			opCtx, cancel := storeCtx(r.Context())
			known, err := s.Sessions.Pull(opCtx, id)
			cancel()
			if err != nil || !known {
				logger.Debugw("login session unknown or expired", "loginid", loginID)
			}
		}
	}

	username := r.PostFormValue("username")
	password := r.PostFormValue("password")

	verdict, err := s.Chain.Login(r.Context(), ci.Tenant.Config.Providers, username, password)
	if err != nil {
		s.Metrics.LoginFailure.Inc()
		if !errors.Is(err, provider.ErrNotAllowed) {
			logger.Errorw("provider chain failed", "tenant", ci.Tenant.Name, "error", err)
		}
		if wantsJSON(r) {
			s.respondError(w, r, ci.Tenant, httperr.WrongCredentials())
			return
		}
		// Show the form again with the error, keeping the location.
		s.Views.Render(w, http.StatusForbidden, ci.Tenant, ViewLogin, ViewData{
			Location:  location,
			ErrorCode: httperr.CodeWrongCredentials,
		})
		return
	}

	payload := payloadForVerdict(verdict, ci)
	signed, err := s.Tokens.Build(payload, s.Settings.TokenExpiration)
	if err != nil {
		s.Metrics.LoginFailure.Inc()
		s.respondError(w, r, ci.Tenant, httperr.Internal(err))
		return
	}

	s.setSSOCookie(w, ci, signed)
	s.Metrics.LoginSuccess.Inc()
	logger.Infow("login succeeded", "tenant", ci.Tenant.Name, "subject", payload.Subject)

	// When the location is an authorize URL, complete the flow right away:
	// the browser leaves with the code instead of bouncing through
	// /authorize again.
	if ci.Client != nil {
		if u, err := url.Parse(location); err == nil {
			q := u.Query()
			if redirectURI := q.Get("redirect_uri"); redirectURI != "" && ci.Client.RedirectAllowed(redirectURI) {
				challenge := q.Get("code_challenge")
				method := q.Get("code_challenge_method")
				if method == "none" {
					challenge = ""
				}
				scopes := ci.Client.AllowedScopes(splitScopes(q.Get("scope")))
				s.issueCode(w, r, ci, payload, redirectURI, challenge, method, scopes, q.Get("state"))
				return
			}
		}
	}
	http.Redirect(w, r, location, http.StatusSeeOther)
}

// payloadForVerdict builds the token payload for a fresh interactive login.
func payloadForVerdict(verdict *provider.Verdict, ci *clientinfo.ClientInfo) *token.Payload {
	payload := &token.Payload{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: verdict.Subject,
		},
		Tenant:         ci.Tenant.Name,
		Role:           verdict.Role,
		User:           verdict.Username,
		Profile:        profile.FromMap(verdict.Profile),
		Responsibility: ci.ResponsibilityHash(),
	}
	if ci.Client != nil {
		payload.Audience = jwt.ClaimStrings{ci.Client.Name}
	}
	return payload
}
