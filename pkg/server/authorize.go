// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/uitsmijter/uitsmijter/pkg/clientinfo"
	"github.com/uitsmijter/uitsmijter/pkg/config"
	"github.com/uitsmijter/uitsmijter/pkg/httperr"
	"github.com/uitsmijter/uitsmijter/pkg/logger"
	"github.com/uitsmijter/uitsmijter/pkg/session"
	"github.com/uitsmijter/uitsmijter/pkg/token"
)

// codeChallengeMethods accepted on /authorize. "none" is treated as no
// challenge.
var codeChallengeMethods = map[string]bool{"": true, "plain": true, "S256": true, "none": true}

// handleAuthorize implements the authorization-code front door. An
// authenticated browser leaves with a fresh single-use code; everyone else
// gets the tenant's login form carrying the full authorize URL.
func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	defer func() { s.Metrics.AuthorizeAttempts.Observe(time.Since(started).Seconds()) }()

	query := r.URL.Query()

	method := query.Get("code_challenge_method")
	if !codeChallengeMethods[method] {
		s.respondError(w, r, s.tenantForRequest(r), httperr.ChallengeMethodUnknown(method))
		return
	}

	ci, err := s.resolver.Resolve(r)
	if err != nil {
		e := httperr.From(err)
		// A cookie bound to another tenant falls through to a fresh login
		// instead of failing the request.
		if e.Code == httperr.CodeTenantMismatch && r.Header.Get("Authorization") == "" {
			s.renderLogin(w, r, nil, "")
			return
		}
		s.respondError(w, r, s.tenantForRequest(r), err)
		return
	}

	if rt := query.Get("response_type"); rt != "" && rt != "code" {
		s.respondError(w, r, ci.Tenant, httperr.BadRequest("unsupported response_type"))
		return
	}
	if ci.Client == nil {
		s.respondError(w, r, ci.Tenant, httperr.NoClient())
		return
	}

	redirectURI := query.Get("redirect_uri")
	if redirectURI == "" || !ci.Client.RedirectAllowed(redirectURI) {
		s.respondError(w, r, ci.Tenant, httperr.RedirectMismatch())
		return
	}

	challenge := query.Get("code_challenge")
	if method == "none" {
		challenge = ""
	}
	if ci.Client.Config.IsPKCEOnly && challenge == "" {
		s.respondError(w, r, ci.Tenant, httperr.Forbidden("client requires a code challenge"))
		return
	}

	if referer := r.Header.Get("Referer"); !ci.Client.RefererAllowed(referer) {
		s.respondError(w, r, ci.Tenant, httperr.WrongReferer())
		return
	}

	scopes := ci.Client.AllowedScopes(splitScopes(query.Get("scope")))

	if ci.Payload == nil {
		if ci.Expired && wantsJSON(r) {
			s.respondError(w, r, ci.Tenant, httperr.Unauthorized("token expired"))
			return
		}
		s.renderLogin(w, r, ci, "")
		return
	}

	// Silent login lets a session issued for another client of the same
	// tenant pass without re-authentication. When disabled, only the
	// original audience may skip the form.
	if !ci.Tenant.SilentLoginEnabled() &&
		len(ci.Payload.Audience) > 0 && !ci.Payload.HasAudience(ci.Client.Name) {
		s.renderLogin(w, r, ci, "")
		return
	}

	s.issueCode(w, r, ci, ci.Payload, redirectURI, challenge, method, scopes, query.Get("state"))
}

// issueCode persists an AuthSession for the payload and bounces the browser
// back to the client with code and state.
func (s *Server) issueCode(w http.ResponseWriter, r *http.Request, ci *clientinfo.ClientInfo,
	presented *token.Payload, redirectURI, challenge, challengeMethod string, scopes []string, state string) {

	payload := *presented
	payload.Audience = []string{ci.Client.Name}
	payload.Tenant = ci.Tenant.Name
	payload.Responsibility = ci.ResponsibilityHash()

	authSession, err := s.storeAuthSession(r.Context(), &session.AuthSession{
		Type:                session.TypeCode,
		State:               state,
		Scopes:              scopes,
		Payload:             &payload,
		RedirectURI:         redirectURI,
		CodeChallenge:       challenge,
		CodeChallengeMethod: challengeMethod,
		TTL:                 int64(config.AuthCodeTTL.Seconds()),
	})
	if err != nil {
		s.respondError(w, r, ci.Tenant, err)
		return
	}

	// Hand the caller a refreshed access token and renew the cookie when
	// the presented one is about to run out.
	if refreshed, err := s.Tokens.Build(&payload, s.Settings.TokenExpiration); err == nil {
		w.Header().Set("Authorization", "Bearer "+refreshed)
		if s.nearExpiry(presented) {
			s.setSSOCookie(w, ci, refreshed)
		}
	}

	target, err := url.Parse(redirectURI)
	if err != nil {
		s.respondError(w, r, ci.Tenant, httperr.RedirectMismatch())
		return
	}
	q := target.Query()
	q.Set("code", authSession.Code)
	if state != "" {
		q.Set("state", state)
	}
	target.RawQuery = q.Encode()

	http.Redirect(w, r, target.String(), http.StatusSeeOther)
}

// storeAuthSession generates a code and stores the session, retrying on the
// rare code collision.
func (s *Server) storeAuthSession(ctx context.Context, authSession *session.AuthSession) (*session.AuthSession, error) {
	stored := time.Now()
	defer func() { s.Metrics.TokenStored.Observe(time.Since(stored).Seconds()) }()

	for attempt := 0; attempt < 3; attempt++ {
		code, err := session.GenerateCode()
		if err != nil {
			return nil, httperr.Internal(err)
		}
		authSession.Code = code
		authSession.GeneratedAt = time.Now()

		opCtx, cancel := storeCtx(ctx)
		err = s.Sessions.Set(opCtx, authSession)
		cancel()
		switch {
		case err == nil:
			return authSession, nil
		case errors.Is(err, session.ErrCodeTaken):
			continue
		default:
			return nil, httperr.Internal(err)
		}
	}
	return nil, httperr.Internal(errors.New("could not place auth session"))
}

// renderLogin shows the login form. The hidden location field carries the
// full authorize URL so the POST can resume the flow. No cookie is set.
func (s *Server) renderLogin(w http.ResponseWriter, r *http.Request, ci *clientinfo.ClientInfo, errorCode string) {
	var tenant = s.tenantForRequest(r)
	scheme := "http"
	if ci != nil {
		tenant = ci.Tenant
		scheme = ci.Scheme
	}

	login := session.NewLoginSession()
	opCtx, cancel := storeCtx(r.Context())
	defer cancel()
	if err := s.Sessions.Push(opCtx, login); err != nil {
		logger.Warnw("cannot store login session", "error", err)
	}

	host := r.Header.Get(clientinfo.HeaderForwardedHost)
	if host == "" {
		host = r.Host
	}
	location := scheme + "://" + host + r.URL.RequestURI()

	status := http.StatusOK
	if errorCode != "" {
		status = http.StatusForbidden
	}
	s.Views.Render(w, status, tenant, ViewLogin, ViewData{
		Location:  location,
		LoginID:   login.ID.String(),
		ErrorCode: errorCode,
	})
}

// nearExpiry reports whether the payload runs out within half the token
// lifetime.
func (s *Server) nearExpiry(payload *token.Payload) bool {
	if payload.ExpiresAt == nil {
		return false
	}
	return time.Until(payload.ExpiresAt.Time) < s.Settings.TokenExpiration/2
}

func splitScopes(raw string) []string {
	if raw == "" {
		return nil
	}
	return strings.FieldsFunc(raw, func(r rune) bool { return r == ' ' || r == ',' || r == '+' })
}
