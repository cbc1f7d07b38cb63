// SPDX-License-Identifier: Apache-2.0

package server

import (
	"net/http"
	"sort"

	"github.com/uitsmijter/uitsmijter/pkg/entities"
	"github.com/uitsmijter/uitsmijter/pkg/httperr"
	"github.com/uitsmijter/uitsmijter/pkg/logger"
)

// discoveryDocument is the OIDC discovery response, built per tenant.
type discoveryDocument struct {
	Issuer                           string   `json:"issuer"`
	AuthorizationEndpoint            string   `json:"authorization_endpoint"`
	TokenEndpoint                    string   `json:"token_endpoint"`
	JWKSURI                          string   `json:"jwks_uri"`
	UserinfoEndpoint                 string   `json:"userinfo_endpoint"`
	EndSessionEndpoint               string   `json:"end_session_endpoint"`
	ResponseTypesSupported           []string `json:"response_types_supported"`
	SubjectTypesSupported            []string `json:"subject_types_supported"`
	IDTokenSigningAlgValuesSupported []string `json:"id_token_signing_alg_values_supported"`
	ScopesSupported                  []string `json:"scopes_supported"`
	GrantTypesSupported              []string `json:"grant_types_supported"`
	CodeChallengeMethodsSupported    []string `json:"code_challenge_methods_supported"`
	OpPolicyURI                      string   `json:"op_policy_uri,omitempty"`
	ServiceDocumentation             string   `json:"service_documentation,omitempty"`
}

// handleDiscovery serves the per-tenant OIDC discovery document.
func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	tenant := s.tenantForRequest(r)
	if tenant == nil {
		s.respondError(w, r, nil, httperr.NoTenant())
		return
	}

	scheme := "https"
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	} else if r.TLS == nil {
		scheme = "http"
	}
	host := r.Header.Get("X-Forwarded-Host")
	if host == "" {
		host = r.Host
	}
	issuer := scheme + "://" + host

	doc := discoveryDocument{
		Issuer:                           issuer,
		AuthorizationEndpoint:            issuer + "/authorize",
		TokenEndpoint:                    issuer + "/token",
		JWKSURI:                          issuer + "/.well-known/jwks.json",
		UserinfoEndpoint:                 issuer + "/token/info",
		EndSessionEndpoint:               issuer + "/logout",
		ResponseTypesSupported:           []string{"code"},
		SubjectTypesSupported:            []string{"public"},
		IDTokenSigningAlgValuesSupported: []string{"RS256"},
	}

	clients := s.Store.ClientsForTenant(tenant.Name)

	scopes := map[string]bool{"openid": true, "profile": true, "email": true}
	grants := map[string]bool{
		string(entities.GrantTypeAuthorizationCode): true,
		string(entities.GrantTypeRefreshToken):      true,
	}
	pkceOnly := false
	for _, client := range clients {
		for _, scope := range client.Config.Scopes {
			scopes[scope] = true
		}
		for _, grant := range client.Config.GrantTypes {
			grants[string(grant)] = true
		}
		if client.Config.IsPKCEOnly {
			pkceOnly = true
		}
	}
	doc.ScopesSupported = sortedKeys(scopes)
	doc.GrantTypesSupported = sortedKeys(grants)
	if pkceOnly {
		doc.CodeChallengeMethodsSupported = []string{"S256"}
	} else {
		doc.CodeChallengeMethodsSupported = []string{"S256", "plain"}
	}

	if info := tenant.Config.Informations; info != nil {
		doc.OpPolicyURI = info.PrivacyURL
		doc.ServiceDocumentation = info.ImprintURL
	}

	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	writeJSON(w, http.StatusOK, doc)
}

// handleJWKS publishes the public signing keys.
func (s *Server) handleJWKS(w http.ResponseWriter, r *http.Request) {
	set, err := s.Keys.PublicKeys()
	if err != nil {
		logger.Errorw("cannot build jwks", "error", err)
		s.respondError(w, r, nil, httperr.Internal(err))
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	writeJSON(w, http.StatusOK, set)
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
