// SPDX-License-Identifier: Apache-2.0

// Package clientinfo resolves the acting client, tenant and token payload
// of an incoming request in a single pass. Every protected handler runs on
// top of the resolved ClientInfo instead of re-deriving request facts.
package clientinfo

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/uitsmijter/uitsmijter/pkg/config"
	"github.com/uitsmijter/uitsmijter/pkg/entities"
	"github.com/uitsmijter/uitsmijter/pkg/httperr"
	"github.com/uitsmijter/uitsmijter/pkg/logger"
	"github.com/uitsmijter/uitsmijter/pkg/token"
)

// Mode is the operating mode of a request.
type Mode string

// Request modes.
const (
	ModeOAuth       Mode = "oauth"
	ModeInterceptor Mode = "interceptor"
)

// Header names consumed by the resolver.
const (
	HeaderMode          = "X-Uitsmijter-Mode"
	HeaderClientID      = "X-Client-Id"
	HeaderForwardedHost = "X-Forwarded-Host"
	HeaderForwardedProc = "X-Forwarded-Proto"
)

// ClientInfo is the resolved request context.
type ClientInfo struct {
	Mode   Mode
	Scheme string

	// Host is the request host after applying the resolution order.
	Host string

	// ResponsibleDomain is the domain authentication is scoped to.
	ResponsibleDomain string

	// Client is set when the request carried a client_id.
	Client *entities.Client

	// Tenant is always set on success.
	Tenant *entities.Tenant

	// Payload is the verified token payload, nil when absent, invalid or
	// downgraded because the responsibility hash did not match.
	Payload *token.Payload

	// Expired reports that a token was presented but failed verification.
	Expired bool

	// RawToken is the presented bearer or cookie token, verified or not.
	RawToken string
}

// ResponsibilityHash of the responsible domain.
func (ci *ClientInfo) ResponsibilityHash() string {
	return token.ResponsibilityHash(ci.ResponsibleDomain)
}

// Resolver derives ClientInfo from requests.
type Resolver struct {
	Store    *entities.Store
	Tokens   *token.Service
	Settings *config.Settings
}

// Resolve executes the resolution pass. The returned error is always a
// *httperr.Error carrying the HTTP status for the failure.
func (r *Resolver) Resolve(req *http.Request) (*ClientInfo, error) {
	ci := &ClientInfo{
		Mode:   resolveMode(req),
		Scheme: resolveScheme(req),
	}

	form, err := parseForm(req)
	if err != nil {
		return nil, err
	}

	ci.Host = r.resolveHost(req, form)
	ci.ResponsibleDomain = resolveResponsibleDomain(req, ci)

	if raw := presentedToken(req); raw != "" {
		ci.RawToken = raw
		payload, err := r.Tokens.Verify(raw)
		if err != nil {
			ci.Expired = true
		} else {
			ci.Payload = payload
		}
	}

	if err := r.resolveClient(req, form, ci); err != nil {
		return nil, err
	}
	if err := r.resolveTenant(req, ci); err != nil {
		return nil, err
	}

	// A payload bound to a different domain is silently downgraded: the
	// request proceeds unauthenticated for this domain instead of failing.
	if ci.Payload != nil && ci.Payload.Responsibility != "" &&
		ci.Payload.Responsibility != ci.ResponsibilityHash() {
		logger.Debugw("payload responsibility does not cover domain, downgrading",
			"domain", ci.ResponsibleDomain, "subject", ci.Payload.Subject)
		ci.Payload = nil
	}

	return ci, nil
}

func resolveMode(req *http.Request) Mode {
	if mode := req.Header.Get(HeaderMode); mode != "" {
		return normalizeMode(mode)
	}
	if mode := req.URL.Query().Get("mode"); mode != "" {
		return normalizeMode(mode)
	}
	if strings.HasPrefix(req.URL.Path, "/interceptor") {
		return ModeInterceptor
	}
	return ModeOAuth
}

func normalizeMode(mode string) Mode {
	if strings.EqualFold(mode, string(ModeInterceptor)) {
		return ModeInterceptor
	}
	return ModeOAuth
}

func resolveScheme(req *http.Request) string {
	if proto := req.Header.Get(HeaderForwardedProc); proto != "" {
		return strings.ToLower(proto)
	}
	if req.TLS != nil {
		return "https"
	}
	return "http"
}

// parseForm reads the form of POST requests. Anything unparseable is a 400
// FORM_NOT_PARSEABLE; GET requests return empty values.
func parseForm(req *http.Request) (url.Values, error) {
	if req.Method != http.MethodPost {
		return url.Values{}, nil
	}
	contentType := req.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "application/x-www-form-urlencoded") &&
		!strings.HasPrefix(contentType, "multipart/form-data") {
		return url.Values{}, nil
	}
	if err := req.ParseForm(); err != nil {
		e := httperr.FormNotParseable()
		e.Cause = err
		return nil, e
	}
	return req.PostForm, nil
}

// resolveHost applies the host resolution order: query `for`, the
// redirect_uri inside the form location, query redirect_uri, query
// location, X-Forwarded-Host, configured public domain.
func (r *Resolver) resolveHost(req *http.Request, form url.Values) string {
	query := req.URL.Query()

	if h := query.Get("for"); h != "" {
		return hostOf(h)
	}
	if location := form.Get("location"); location != "" {
		if u, err := url.Parse(location); err == nil {
			if redirect := u.Query().Get("redirect_uri"); redirect != "" {
				if h := hostOf(redirect); h != "" {
					return h
				}
			}
			if u.Host != "" {
				return u.Host
			}
		}
	}
	if redirect := query.Get("redirect_uri"); redirect != "" {
		if h := hostOf(redirect); h != "" {
			return h
		}
	}
	if location := query.Get("location"); location != "" {
		if h := hostOf(location); h != "" {
			return h
		}
	}
	if h := req.Header.Get(HeaderForwardedHost); h != "" {
		return h
	}
	return r.Settings.PublicDomain
}

// resolveResponsibleDomain: oauth mode authenticates against the request
// host; interceptor logout requests are scoped to the referer's host.
func resolveResponsibleDomain(req *http.Request, ci *ClientInfo) string {
	if ci.Mode == ModeInterceptor && strings.Contains(req.URL.Path, "/logout") {
		if referer := req.Header.Get("Referer"); referer != "" {
			if h := hostOf(referer); h != "" {
				return h
			}
		}
	}
	return ci.Host
}

// presentedToken returns the bearer token, falling back to the SSO cookie.
func presentedToken(req *http.Request) string {
	if auth := req.Header.Get("Authorization"); auth != "" {
		if rest, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return strings.TrimSpace(rest)
		}
	}
	if cookie, err := req.Cookie(config.CookieName); err == nil {
		return cookie.Value
	}
	return ""
}

func (r *Resolver) resolveClient(req *http.Request, form url.Values, ci *ClientInfo) error {
	id := req.Header.Get(HeaderClientID)
	if id == "" {
		id = req.URL.Query().Get("client_id")
	}
	if id == "" {
		if location := form.Get("location"); location != "" {
			if u, err := url.Parse(location); err == nil {
				id = u.Query().Get("client_id")
			}
		}
	}
	if id == "" {
		return nil
	}

	ident, err := uuid.Parse(id)
	if err != nil {
		return httperr.NoClient()
	}
	client, ok := r.Store.FindClientByIdent(ident)
	if !ok {
		return httperr.NoClient()
	}
	ci.Client = &client
	return nil
}

func (r *Resolver) resolveTenant(req *http.Request, ci *ClientInfo) error {
	hostTenant, hostTenantKnown := r.Store.FindTenantForHost(ci.ResponsibleDomain)

	switch {
	case ci.Client != nil:
		tenant, ok := r.Store.FindTenantByName(ci.Client.Config.TenantName)
		if !ok {
			return httperr.NoTenant()
		}
		ci.Tenant = &tenant
	case ci.Payload != nil && ci.Payload.Tenant != "":
		tenant, ok := r.Store.FindTenantByName(ci.Payload.Tenant)
		if !ok {
			return httperr.NoTenant()
		}
		ci.Tenant = &tenant
	case hostTenantKnown:
		ci.Tenant = &hostTenant
	default:
		return httperr.NoTenant()
	}

	// The tenant of the host and the tenant acting on it must line up,
	// except on logout and local development hosts.
	if strings.Contains(req.URL.Path, "/logout") || isLocalhost(ci.ResponsibleDomain) {
		return nil
	}
	if ci.Client != nil && hostTenantKnown && ci.Tenant.Name != hostTenant.Name {
		return httperr.TenantMismatch()
	}
	if ci.Payload != nil && ci.Payload.Tenant != "" {
		if !hostTenantKnown {
			return httperr.NoTenant()
		}
		if ci.Payload.Tenant != hostTenant.Name {
			return httperr.TenantMismatch()
		}
	}
	return nil
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Host
}

func isLocalhost(host string) bool {
	name := host
	if u, err := url.Parse("//" + host); err == nil && u.Hostname() != "" {
		name = u.Hostname()
	}
	return name == "localhost" || name == "127.0.0.1" || name == "::1"
}
