// SPDX-License-Identifier: Apache-2.0

package server

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uitsmijter/uitsmijter/pkg/config"
	"github.com/uitsmijter/uitsmijter/pkg/session"
	"github.com/uitsmijter/uitsmijter/pkg/token"
)

func postToken(s *Server, body map[string]any) *httptest.ResponseRecorder {
	raw, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, "https://id.example.com/token", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Forwarded-Host", "id.example.com")
	return doRequest(s, req)
}

// obtainCode walks the authenticated authorize step and returns the issued
// code.
func obtainCode(t *testing.T, s *Server, clientIdent, redirectURI, extra string) string {
	t.Helper()
	raw := signedPayload(t, s, "cheese/cheese", "user@example.com", "api", "api.example.com", 2*time.Hour)
	req := httptest.NewRequest(http.MethodGet, authorizeURL(clientIdent, redirectURI, extra), nil)
	req.Header.Set("X-Forwarded-Host", "id.example.com")
	req.AddCookie(&http.Cookie{Name: config.CookieName, Value: raw})
	rec := doRequest(s, req)
	require.Equal(t, http.StatusSeeOther, rec.Code)
	target, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	code := target.Query().Get("code")
	require.Regexp(t, codePattern, code)
	return code
}

// seedSession places an AuthSession directly into the store.
func seedSession(t *testing.T, s *Server, as *session.AuthSession) {
	t.Helper()
	if as.GeneratedAt.IsZero() {
		as.GeneratedAt = time.Now()
	}
	require.NoError(t, s.Sessions.Set(context.Background(), as))
}

func grantPayload(tenant, audience string) *token.Payload {
	return &token.Payload{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  "user@example.com",
			Audience: jwt.ClaimStrings{audience},
		},
		Tenant: tenant,
		User:   "user@example.com",
	}
}

func TestTokenAuthorizationCodeExchange(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	code := obtainCode(t, s, apiClientIdent.String(), "https://api.example.com/", "")
	rec := postToken(s, map[string]any{
		"grant_type": "authorization_code",
		"client_id":  apiClientIdent.String(),
		"code":       code,
	})

	require.Equal(t, http.StatusOK, rec.Code)
	var resp tokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.AccessToken)
	assert.Equal(t, "Bearer", resp.TokenType)
	assert.Equal(t, int64((2 * time.Hour).Seconds()), resp.ExpiresIn)
	assert.Regexp(t, codePattern, resp.RefreshToken)
	assert.Equal(t, "access", resp.Scope)

	payload, err := s.Tokens.Verify(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "cheese/cheese", payload.Tenant)
	assert.True(t, payload.HasAudience("api"))
}

func TestTokenCodeIsSingleUse(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	code := obtainCode(t, s, apiClientIdent.String(), "https://api.example.com/", "")
	body := map[string]any{
		"grant_type": "authorization_code",
		"client_id":  apiClientIdent.String(),
		"code":       code,
	}
	require.Equal(t, http.StatusOK, postToken(s, body).Code)

	rec := postToken(s, body)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), `"error":true`)
}

func TestTokenUnknownCode(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	rec := postToken(s, map[string]any{
		"grant_type": "authorization_code",
		"client_id":  apiClientIdent.String(),
		"code":       "AAAAAAAAAAAAAAAA",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestTokenExpiredCode(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	seedSession(t, s, &session.AuthSession{
		Type:        session.TypeCode,
		Code:        "expiredexpired12",
		Payload:     grantPayload("cheese/cheese", "api"),
		TTL:         int64(config.AuthCodeTTL.Seconds()),
		GeneratedAt: time.Now().Add(-time.Hour),
	})

	rec := postToken(s, map[string]any{
		"grant_type": "authorization_code",
		"client_id":  apiClientIdent.String(),
		"code":       "expiredexpired12",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestTokenConfidentialClientSecret(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	seed := func(code string) {
		seedSession(t, s, &session.AuthSession{
			Type:    session.TypeCode,
			Code:    code,
			Scopes:  []string{"access"},
			Payload: grantPayload("cheese/cheese", "confidential"),
			TTL:     int64(config.AuthCodeTTL.Seconds()),
		})
	}

	seed("secretcode000001")
	rec := postToken(s, map[string]any{
		"grant_type": "authorization_code",
		"client_id":  secretClientIdent.String(),
		"code":       "secretcode000001",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "missing secret")

	rec = postToken(s, map[string]any{
		"grant_type":    "authorization_code",
		"client_id":     secretClientIdent.String(),
		"client_secret": "wrong",
		"code":          "secretcode000001",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "wrong secret")

	rec = postToken(s, map[string]any{
		"grant_type":    "authorization_code",
		"client_id":     secretClientIdent.String(),
		"client_secret": "sup3r-secret",
		"code":          "secretcode000001",
	})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTokenPKCES256(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	sum := sha256.Sum256([]byte(verifier))
	challenge := base64.RawURLEncoding.EncodeToString(sum[:])

	code := obtainCode(t, s, pkceClientIdent.String(), "https://api.example.com/cb",
		"&code_challenge="+challenge+"&code_challenge_method=S256")

	rec := postToken(s, map[string]any{
		"grant_type":    "authorization_code",
		"client_id":     pkceClientIdent.String(),
		"code":          code,
		"code_verifier": "not-the-verifier",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	code = obtainCode(t, s, pkceClientIdent.String(), "https://api.example.com/cb",
		"&code_challenge="+challenge+"&code_challenge_method=S256")
	rec = postToken(s, map[string]any{
		"grant_type":    "authorization_code",
		"client_id":     pkceClientIdent.String(),
		"code":          code,
		"code_verifier": verifier,
	})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTokenPKCEPlain(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	code := obtainCode(t, s, pkceClientIdent.String(), "https://api.example.com/cb",
		"&code_challenge=plain-challenge&code_challenge_method=plain")

	rec := postToken(s, map[string]any{
		"grant_type": "authorization_code",
		"client_id":  pkceClientIdent.String(),
		"code":       code,
	})
	assert.Equal(t, http.StatusForbidden, rec.Code, "verifier missing")

	code = obtainCode(t, s, pkceClientIdent.String(), "https://api.example.com/cb",
		"&code_challenge=plain-challenge&code_challenge_method=plain")
	rec = postToken(s, map[string]any{
		"grant_type":    "authorization_code",
		"client_id":     pkceClientIdent.String(),
		"code":          code,
		"code_verifier": "plain-challenge",
	})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTokenRefreshGrant(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	seedSession(t, s, &session.AuthSession{
		Type:    session.TypeRefresh,
		Code:    "refreshrefresh01",
		Scopes:  []string{"access"},
		Payload: grantPayload("cheese/cheese", "api"),
		TTL:     int64((720 * time.Hour).Seconds()),
	})

	rec := postToken(s, map[string]any{
		"grant_type":    "refresh_token",
		"client_id":     apiClientIdent.String(),
		"refresh_token": "refreshrefresh01",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp tokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.AccessToken)
	assert.NotEqual(t, "refreshrefresh01", resp.RefreshToken, "refresh tokens rotate")

	// The consumed refresh token is gone.
	rec = postToken(s, map[string]any{
		"grant_type":    "refresh_token",
		"client_id":     apiClientIdent.String(),
		"refresh_token": "refreshrefresh01",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestTokenRefreshAcrossTenants(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	seedSession(t, s, &session.AuthSession{
		Type:    session.TypeRefresh,
		Code:    "refreshcheese001",
		Payload: grantPayload("cheese/cheese", "api"),
		TTL:     int64((720 * time.Hour).Seconds()),
	})

	// A client of another tenant must never redeem the session.
	rec := postToken(s, map[string]any{
		"grant_type":    "refresh_token",
		"client_id":     hamClientIdent.String(),
		"refresh_token": "refreshcheese001",
	})
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "TENANT_MISMATCH")
}

func TestTokenRefreshAudienceMismatch(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	seedSession(t, s, &session.AuthSession{
		Type:    session.TypeRefresh,
		Code:    "refreshreports01",
		Payload: grantPayload("cheese/cheese", "reports"),
		TTL:     int64((720 * time.Hour).Seconds()),
	})

	rec := postToken(s, map[string]any{
		"grant_type":    "refresh_token",
		"client_id":     apiClientIdent.String(),
		"refresh_token": "refreshreports01",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestTokenPasswordGrant(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	rec := postToken(s, map[string]any{
		"grant_type": "password",
		"client_id":  apiClientIdent.String(),
		"username":   "user@example.com",
		"password":   "hunter2",
		"scope":      "access",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp tokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "access", resp.Scope)

	payload, err := s.Tokens.Verify(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", payload.Subject)
	assert.Equal(t, "user", payload.Role)
}

func TestTokenPasswordGrantNotAllowed(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	rec := postToken(s, map[string]any{
		"grant_type": "password",
		"client_id":  secondClientIdent.String(),
		"username":   "user@example.com",
		"password":   "hunter2",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestTokenPasswordGrantWrongCredentials(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	rec := postToken(s, map[string]any{
		"grant_type": "password",
		"client_id":  apiClientIdent.String(),
		"username":   "user@elsewhere.org",
		"password":   "hunter2",
	})
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "WRONG_CREDENTIALS")
}

func TestTokenBadRequests(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "https://id.example.com/token",
		bytes.NewReader([]byte("grant_type=authorization_code")))
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Forwarded-Host", "id.example.com")
	rec := doRequest(s, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "body must be json")

	rec = postToken(s, map[string]any{
		"grant_type": "device_code",
		"client_id":  apiClientIdent.String(),
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "unknown grant")

	rec = postToken(s, map[string]any{
		"grant_type": "authorization_code",
		"client_id":  "not-a-uuid",
		"code":       "AAAAAAAAAAAAAAAA",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code, "unparseable client_id")

	rec = postToken(s, map[string]any{
		"grant_type": "authorization_code",
		"client_id":  "00000000-0000-4000-8000-000000000000",
		"code":       "AAAAAAAAAAAAAAAA",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code, "unknown client")
}

func TestTokenInfo(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	raw := signedPayload(t, s, "cheese/cheese", "user@example.com", "api", "id.example.com", time.Hour)
	req := httptest.NewRequest(http.MethodGet, "https://id.example.com/token/info", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Forwarded-Host", "id.example.com")
	rec := doRequest(s, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var info map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, "user@example.com", info["name"])

	req = httptest.NewRequest(http.MethodGet, "https://id.example.com/token/info", nil)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Forwarded-Host", "id.example.com")
	rec = doRequest(s, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
