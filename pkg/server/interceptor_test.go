// SPDX-License-Identifier: Apache-2.0

package server

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uitsmijter/uitsmijter/pkg/clientinfo"
	"github.com/uitsmijter/uitsmijter/pkg/config"
)

func interceptorRequest(host, uri, bearer string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "https://id.example.com/interceptor", nil)
	req.Header.Set(clientinfo.HeaderMode, "interceptor")
	req.Header.Set(clientinfo.HeaderForwardedHost, host)
	req.Header.Set(clientinfo.HeaderForwardedProc, "https")
	if uri != "" {
		req.Header.Set("X-Forwarded-Uri", uri)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	return req
}

func TestInterceptorPassesAuthenticatedRequest(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	raw := signedPayload(t, s, "cheese/cheese", "user@example.com", "", "cookbooks.example.com", 2*time.Hour)
	rec := doRequest(s, interceptorRequest("cookbooks.example.com", "/recipes", raw))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user@example.com", rec.Header().Get("X-Uitsmijter-User"))
	assert.Equal(t, "user@example.com", rec.Header().Get("X-Uitsmijter-Subject"))
	assert.Empty(t, rec.Result().Cookies(), "a fresh token needs no renewal")
}

func TestInterceptorRenewsExpiringToken(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	// Within half the token lifetime the cookie is reissued.
	raw := signedPayload(t, s, "cheese/cheese", "user@example.com", "", "cookbooks.example.com", 30*time.Minute)
	rec := doRequest(s, interceptorRequest("cookbooks.example.com", "/recipes", raw))

	require.Equal(t, http.StatusOK, rec.Code)
	var sso *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == config.CookieName {
			sso = c
		}
	}
	require.NotNil(t, sso)
	assert.NotEqual(t, raw, sso.Value)

	payload, err := s.Tokens.Verify(sso.Value)
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", payload.Subject)
}

func TestInterceptorRedirectsAnonymousToLogin(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	rec := doRequest(s, interceptorRequest("cookbooks.example.com", "/recipes?page=2", ""))

	require.Equal(t, http.StatusTemporaryRedirect, rec.Code)
	target, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "/login", target.Path)
	assert.Equal(t, "https://cookbooks.example.com/recipes?page=2", target.Query().Get("for"))
}

func TestInterceptorUnknownHost(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	req := interceptorRequest("unclaimed.example.org", "/", "")
	req.Header.Set("Accept", "application/json")
	rec := doRequest(s, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"error":true`)
}

func TestInterceptorDisabledTenant(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	req := interceptorRequest("id.ham.example", "/", "")
	req.Header.Set("Accept", "application/json")
	rec := doRequest(s, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestInterceptorIgnoresForeignToken(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	// A token minted for another domain carries the wrong responsibility
	// and counts as anonymous.
	raw := signedPayload(t, s, "cheese/cheese", "user@example.com", "", "id.example.com", 2*time.Hour)
	rec := doRequest(s, interceptorRequest("cookbooks.example.com", "/", raw))

	assert.Equal(t, http.StatusTemporaryRedirect, rec.Code)
}
