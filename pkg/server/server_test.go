// SPDX-License-Identifier: Apache-2.0

package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/uitsmijter/uitsmijter/pkg/config"
	"github.com/uitsmijter/uitsmijter/pkg/entities"
	"github.com/uitsmijter/uitsmijter/pkg/metrics"
	"github.com/uitsmijter/uitsmijter/pkg/provider"
	"github.com/uitsmijter/uitsmijter/pkg/session"
	"github.com/uitsmijter/uitsmijter/pkg/token"
)

// Fixture idents, mirroring a two-tenant setup with several client shapes.
var (
	apiClientIdent    = uuid.MustParse("143A3135-5DE2-46D4-828F-DDCF20C72060")
	secondClientIdent = uuid.MustParse("E942DF47-3D0B-4AFE-A3DF-3A3BCE1F14E5")
	secretClientIdent = uuid.MustParse("7F9A6A3E-41E3-4D2A-9F8B-2C6E92E0B1D4")
	pkceClientIdent   = uuid.MustParse("3B6C8B8A-0F55-4E53-8E3F-6E7C2A9D11A0")
	hamClientIdent    = uuid.MustParse("A2B4C6D8-1234-4CDE-9876-FEDCBA987654")
)

const testLoginProvider = `
class UserLoginProvider {
	constructor(credentials) {
		commit(credentials.username.endsWith("@example.com") && credentials.password !== "");
	}
	get canLogin() { return true; }
	get userProfile() { return {name: "Cee Esh"}; }
	get role() { return "user"; }
}
`

func newTestServer(t *testing.T) *Server {
	t.Helper()

	store := entities.NewStore()
	store.InsertTenant(entities.Tenant{
		Name: "cheese/cheese",
		Config: entities.TenantSpec{
			Hosts:     []string{"id.example.com", "api.example.com", "cookbooks.example.com"},
			Providers: []string{testLoginProvider},
			Interceptor: &entities.TenantInterceptor{
				Enabled: true,
				Domain:  "id.example.com",
			},
			Informations: &entities.TenantInformations{
				ImprintURL: "https://example.com/imprint",
				PrivacyURL: "https://example.com/privacy",
			},
		},
		Ref: entities.FileRef("cheese.yaml"),
	})
	store.InsertTenant(entities.Tenant{
		Name: "ham",
		Config: entities.TenantSpec{
			Hosts:     []string{"id.ham.example"},
			Providers: []string{testLoginProvider},
		},
		Ref: entities.FileRef("ham.yaml"),
	})

	store.InsertClient(entities.Client{
		Name: "api",
		Config: entities.ClientSpec{
			Ident:        apiClientIdent,
			TenantName:   "cheese/cheese",
			RedirectURLs: []string{`https?://api\.example\.com(:8080)?/?(.+)?`},
			GrantTypes: []entities.GrantType{
				entities.GrantTypeAuthorizationCode,
				entities.GrantTypeRefreshToken,
				entities.GrantTypePassword,
			},
			Scopes: []string{"access", "read.*"},
		},
		Ref: entities.FileRef("api.yaml"),
	})
	store.InsertClient(entities.Client{
		Name: "reports",
		Config: entities.ClientSpec{
			Ident:        secondClientIdent,
			TenantName:   "cheese/cheese",
			RedirectURLs: []string{`https://reports\.example\.com/.*`},
			GrantTypes:   []entities.GrantType{entities.GrantTypeAuthorizationCode},
			Scopes:       []string{"reporting"},
		},
		Ref: entities.FileRef("reports.yaml"),
	})
	store.InsertClient(entities.Client{
		Name: "confidential",
		Config: entities.ClientSpec{
			Ident:        secretClientIdent,
			TenantName:   "cheese/cheese",
			RedirectURLs: []string{`https://api\.example\.com/.*`},
			GrantTypes:   []entities.GrantType{entities.GrantTypeAuthorizationCode},
			Secret:       "sup3r-secret",
			Scopes:       []string{"access"},
		},
		Ref: entities.FileRef("confidential.yaml"),
	})
	store.InsertClient(entities.Client{
		Name: "spa",
		Config: entities.ClientSpec{
			Ident:        pkceClientIdent,
			TenantName:   "cheese/cheese",
			RedirectURLs: []string{`https://api\.example\.com/.*`},
			GrantTypes:   []entities.GrantType{entities.GrantTypeAuthorizationCode},
			IsPKCEOnly:   true,
			Scopes:       []string{"access"},
		},
		Ref: entities.FileRef("spa.yaml"),
	})
	store.InsertClient(entities.Client{
		Name: "hamshop",
		Config: entities.ClientSpec{
			Ident:        hamClientIdent,
			TenantName:   "ham",
			RedirectURLs: []string{`https://shop\.ham\.example/.*`},
			GrantTypes: []entities.GrantType{
				entities.GrantTypeAuthorizationCode,
				entities.GrantTypeRefreshToken,
			},
			Scopes: []string{"access"},
		},
		Ref: entities.FileRef("hamshop.yaml"),
	})

	views, err := NewViews(t.TempDir())
	require.NoError(t, err)

	keys := token.NewGeneratingProvider()
	settings := &config.Settings{
		PublicDomain:           "id.example.com",
		CookieExpiration:       7 * 24 * time.Hour,
		TokenExpiration:        2 * time.Hour,
		TokenRefreshExpiration: 720 * time.Hour,
		Version:                "test-dev",
	}

	s := New(settings, store, session.NewMemoryStore(), token.NewService(keys), keys,
		&provider.Chain{}, metrics.New(), views)
	t.Cleanup(func() { _ = s.Sessions.Close() })
	return s
}

// signedPayload signs a token for the fixture tenant bound to the given
// domain.
func signedPayload(t *testing.T, s *Server, tenant, subject, audience, domain string, ttl time.Duration) string {
	t.Helper()
	payload := &token.Payload{
		RegisteredClaims: jwt.RegisteredClaims{Subject: subject},
		Tenant:           tenant,
		User:             subject,
		Responsibility:   token.ResponsibilityHash(domain),
	}
	if audience != "" {
		payload.Audience = jwt.ClaimStrings{audience}
	}
	raw, err := s.Tokens.Build(payload, ttl)
	require.NoError(t, err)
	return raw
}

func doRequest(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}
