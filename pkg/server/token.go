// SPDX-License-Identifier: Apache-2.0

package server

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/uitsmijter/uitsmijter/pkg/entities"
	"github.com/uitsmijter/uitsmijter/pkg/httperr"
	"github.com/uitsmijter/uitsmijter/pkg/logger"
	"github.com/uitsmijter/uitsmijter/pkg/profile"
	"github.com/uitsmijter/uitsmijter/pkg/provider"
	"github.com/uitsmijter/uitsmijter/pkg/session"
	"github.com/uitsmijter/uitsmijter/pkg/token"
)

// tokenRequest is the JSON body of POST /token, fields keyed by grant.
type tokenRequest struct {
	GrantType    string `json:"grant_type"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret,omitempty"`
	Code         string `json:"code,omitempty"`
	CodeVerifier string `json:"code_verifier,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
	Username     string `json:"username,omitempty"`
	Password     string `json:"password,omitempty"`
}

// tokenResponse is the success body of POST /token.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// handleToken exchanges authorization codes, refresh tokens and resource
// owner credentials for access tokens.
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.failGrant(w, r, nil, httperr.BadRequest("request body is not valid json"))
		return
	}

	ident, err := uuid.Parse(req.ClientID)
	if err != nil {
		s.failGrant(w, r, nil, httperr.NoClient())
		return
	}
	client, ok := s.Store.FindClientByIdent(ident)
	if !ok {
		s.failGrant(w, r, nil, httperr.NoClient())
		return
	}
	tenant, ok := s.Store.FindTenantByName(client.Config.TenantName)
	if !ok {
		s.failGrant(w, r, nil, httperr.NoTenant())
		return
	}

	if client.Config.Secret != "" {
		if subtle.ConstantTimeCompare([]byte(client.Config.Secret), []byte(req.ClientSecret)) != 1 {
			s.failGrant(w, r, &tenant, httperr.Unauthorized("client secret missing or wrong"))
			return
		}
	}

	switch entities.GrantType(req.GrantType) {
	case entities.GrantTypeAuthorizationCode:
		s.grantAuthorizationCode(w, r, &req, &client, &tenant)
	case entities.GrantTypeRefreshToken:
		s.grantRefreshToken(w, r, &req, &client, &tenant)
	case entities.GrantTypePassword:
		s.grantPassword(w, r, &req, &client, &tenant)
	default:
		s.failGrant(w, r, &tenant, httperr.BadRequest("unknown grant_type"))
	}
}

func (s *Server) grantAuthorizationCode(w http.ResponseWriter, r *http.Request,
	req *tokenRequest, client *entities.Client, tenant *entities.Tenant) {

	if req.Code == "" {
		s.failGrant(w, r, tenant, httperr.BadRequest("code is missing"))
		return
	}

	authSession, err := s.consumeSession(r, session.TypeCode, req.Code)
	if err != nil {
		s.failGrant(w, r, tenant, err)
		return
	}
	if authSession.Payload == nil || authSession.Payload.Tenant != tenant.Name {
		s.failGrant(w, r, tenant, httperr.TenantMismatch())
		return
	}
	if err := verifyChallenge(authSession, req.CodeVerifier); err != nil {
		s.failGrant(w, r, tenant, err)
		return
	}

	scopes := authSession.Scopes
	if req.Scope != "" {
		scopes = client.AllowedScopes(splitScopes(req.Scope))
	}
	s.issueTokenPair(w, r, client, tenant, authSession.Payload, scopes)
}

func (s *Server) grantRefreshToken(w http.ResponseWriter, r *http.Request,
	req *tokenRequest, client *entities.Client, tenant *entities.Tenant) {

	if req.RefreshToken == "" {
		s.failGrant(w, r, tenant, httperr.BadRequest("refresh_token is missing"))
		return
	}

	authSession, err := s.consumeSession(r, session.TypeRefresh, req.RefreshToken)
	if err != nil {
		s.failGrant(w, r, tenant, err)
		return
	}
	payload := authSession.Payload
	if payload == nil || payload.Tenant != tenant.Name {
		s.failGrant(w, r, tenant, httperr.TenantMismatch())
		return
	}
	if !payload.HasAudience(client.Name) {
		s.failGrant(w, r, tenant, httperr.Forbidden("refresh token belongs to another client"))
		return
	}
	s.issueTokenPair(w, r, client, tenant, payload, authSession.Scopes)
}

func (s *Server) grantPassword(w http.ResponseWriter, r *http.Request,
	req *tokenRequest, client *entities.Client, tenant *entities.Tenant) {

	if !client.HasGrantType(entities.GrantTypePassword) {
		s.failGrant(w, r, tenant, httperr.Forbidden("password grant is not allowed for this client"))
		return
	}

	verdict, err := s.Chain.Login(r.Context(), tenant.Config.Providers, req.Username, req.Password)
	if err != nil {
		if !errors.Is(err, provider.ErrNotAllowed) {
			logger.Errorw("provider chain failed", "tenant", tenant.Name, "error", err)
		}
		s.failGrant(w, r, tenant, httperr.WrongCredentials())
		return
	}

	payload := &token.Payload{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  verdict.Subject,
			Audience: jwt.ClaimStrings{client.Name},
		},
		Tenant:  tenant.Name,
		Role:    verdict.Role,
		User:    verdict.Username,
		Profile: profile.FromMap(verdict.Profile),
	}
	s.issueTokenPair(w, r, client, tenant, payload, client.AllowedScopes(splitScopes(req.Scope)))
}

// consumeSession removes and returns the session for the code. Unknown and
// expired codes surface as 401.
func (s *Server) consumeSession(r *http.Request, t session.Type, code string) (*session.AuthSession, error) {
	opCtx, cancel := storeCtx(r.Context())
	defer cancel()

	authSession, err := s.Sessions.Get(opCtx, t, code, true)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, httperr.Unauthorized("code is unknown or already used")
		}
		return nil, httperr.Internal(err)
	}
	if authSession.Expired(time.Now()) {
		return nil, httperr.Unauthorized("code is expired")
	}
	return authSession, nil
}

// verifyChallenge checks the PKCE verifier against the challenge the code
// was issued with.
func verifyChallenge(authSession *session.AuthSession, verifier string) error {
	if authSession.CodeChallenge == "" {
		return nil
	}
	if verifier == "" {
		return httperr.Forbidden("code_verifier is missing")
	}
	switch authSession.CodeChallengeMethod {
	case "S256":
		sum := sha256.Sum256([]byte(verifier))
		encoded := base64.RawURLEncoding.EncodeToString(sum[:])
		if subtle.ConstantTimeCompare([]byte(encoded), []byte(authSession.CodeChallenge)) != 1 {
			return httperr.Forbidden("code_verifier does not match the challenge")
		}
	default: // plain
		if subtle.ConstantTimeCompare([]byte(verifier), []byte(authSession.CodeChallenge)) != 1 {
			return httperr.Forbidden("code_verifier does not match the challenge")
		}
	}
	return nil
}

// issueTokenPair signs a fresh access token for the payload and stores a
// new refresh session. auth_time survives because Build leaves it alone.
func (s *Server) issueTokenPair(w http.ResponseWriter, r *http.Request,
	client *entities.Client, tenant *entities.Tenant, payload *token.Payload, scopes []string) {

	fresh := *payload
	fresh.Audience = jwt.ClaimStrings{client.Name}
	fresh.Tenant = tenant.Name

	access, err := s.Tokens.Build(&fresh, s.Settings.TokenExpiration)
	if err != nil {
		s.failGrant(w, r, tenant, httperr.Internal(err))
		return
	}

	refreshSession, err := s.storeAuthSession(r.Context(), &session.AuthSession{
		Type:    session.TypeRefresh,
		Scopes:  scopes,
		Payload: &fresh,
		TTL:     int64(s.Settings.TokenRefreshExpiration.Seconds()),
	})
	if err != nil {
		s.failGrant(w, r, tenant, err)
		return
	}

	s.Metrics.OAuthSuccess.Inc()
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:  access,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.Settings.TokenExpiration.Seconds()),
		RefreshToken: refreshSession.Code,
		Scope:        strings.Join(scopes, " "),
	})
}

func (s *Server) failGrant(w http.ResponseWriter, r *http.Request, tenant *entities.Tenant, err error) {
	s.Metrics.OAuthFailure.Inc()
	s.respondError(w, r, tenant, err)
}

// handleTokenInfo returns the non-sensitive subset of a verified payload.
func (s *Server) handleTokenInfo(w http.ResponseWriter, r *http.Request) {
	ci, err := s.resolver.Resolve(r)
	if err != nil {
		s.respondError(w, r, s.tenantForRequest(r), err)
		return
	}
	if ci.Payload == nil {
		s.respondError(w, r, ci.Tenant, httperr.Unauthorized("token missing or invalid"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    ci.Payload.User,
		"role":    ci.Payload.Role,
		"profile": ci.Payload.Profile,
	})
}

