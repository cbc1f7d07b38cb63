// SPDX-License-Identifier: Apache-2.0

package entities

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// GrantType enumerates the OAuth grant types a client may use.
type GrantType string

// Supported grant types.
const (
	GrantTypeAuthorizationCode GrantType = "authorization_code"
	GrantTypeRefreshToken      GrantType = "refresh_token"
	GrantTypePassword          GrantType = "password"
	GrantTypeInterceptor       GrantType = "interceptor"
)

// ClientSpec is the configurable part of a client, shared between the YAML
// file schema and the CRD schema.
type ClientSpec struct {
	// Ident is the OAuth client_id.
	Ident uuid.UUID `json:"ident" yaml:"ident"`

	// TenantName resolves to the owning tenant by name. Modelled as a
	// lookup over the entity store, never as an owning pointer.
	TenantName string `json:"tenantname" yaml:"tenantname"`

	// RedirectURLs is a regex allow-list for redirect_uri values.
	RedirectURLs []string `json:"redirect_urls" yaml:"redirect_urls"`

	// GrantTypes lists the grants this client may exercise.
	GrantTypes []GrantType `json:"grant_types,omitempty" yaml:"grant_types,omitempty"`

	// Scopes is an allow-list of scope patterns; "*" is permitted inside
	// a pattern.
	Scopes []string `json:"scopes,omitempty" yaml:"scopes,omitempty"`

	// Referrers is a regex allow-list for the Referer header. Empty means
	// no referrer check.
	Referrers []string `json:"referrers,omitempty" yaml:"referrers,omitempty"`

	// Secret turns the client into a confidential client when set.
	Secret string `json:"secret,omitempty" yaml:"secret,omitempty"`

	// IsPKCEOnly requires a code challenge on every authorization request.
	IsPKCEOnly bool `json:"isPkceOnly,omitempty" yaml:"isPkceOnly,omitempty"`
}

// Client is an OAuth relying party belonging to a single tenant. Identity is
// the Ident UUID.
type Client struct {
	Name   string     `json:"name" yaml:"name"`
	Config ClientSpec `json:"config" yaml:"config"`
	Ref    Ref        `json:"ref" yaml:"ref"`
}

// Validate checks the parts of the spec that can fail at load time, so that
// loaders can reject malformed resources without aborting.
func (c *Client) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("client has no name")
	}
	if c.Config.Ident == uuid.Nil {
		return fmt.Errorf("client %s has no ident", c.Name)
	}
	if c.Config.TenantName == "" {
		return fmt.Errorf("client %s has no tenantname", c.Name)
	}
	for _, pattern := range c.Config.RedirectURLs {
		if _, err := regexp.Compile(pattern); err != nil {
			return fmt.Errorf("client %s redirect pattern %q: %w", c.Name, pattern, err)
		}
	}
	for _, pattern := range c.Config.Referrers {
		if _, err := regexp.Compile(pattern); err != nil {
			return fmt.Errorf("client %s referrer pattern %q: %w", c.Name, pattern, err)
		}
	}
	return nil
}

// HasGrantType reports whether the client may use the given grant.
func (c *Client) HasGrantType(grant GrantType) bool {
	for _, g := range c.Config.GrantTypes {
		if g == grant {
			return true
		}
	}
	return false
}

// RedirectAllowed matches a redirect_uri against the client's allow-list.
// Patterns are anchored on both ends.
func (c *Client) RedirectAllowed(uri string) bool {
	return matchAny(c.Config.RedirectURLs, uri)
}

// RefererAllowed matches a referer against the client's allow-list. An empty
// list allows everything.
func (c *Client) RefererAllowed(referer string) bool {
	if len(c.Config.Referrers) == 0 {
		return true
	}
	return matchAny(c.Config.Referrers, referer)
}

func matchAny(patterns []string, value string) bool {
	for _, pattern := range patterns {
		re, err := regexp.Compile("^" + pattern + "$")
		if err != nil {
			continue
		}
		if re.MatchString(value) {
			return true
		}
	}
	return false
}

// AllowedScopes intersects the requested scopes with the client's scope
// patterns. A client without declared scopes grants nothing beyond an empty
// list. Patterns may contain "*" matching any run of characters.
func (c *Client) AllowedScopes(requested []string) []string {
	if len(requested) == 0 || len(c.Config.Scopes) == 0 {
		return nil
	}
	var granted []string
	for _, scope := range requested {
		for _, pattern := range c.Config.Scopes {
			if matchScope(pattern, scope) {
				granted = append(granted, scope)
				break
			}
		}
	}
	return granted
}

func matchScope(pattern, scope string) bool {
	if pattern == scope {
		return true
	}
	if !strings.Contains(pattern, "*") {
		return false
	}
	re, err := regexp.Compile("^" + strings.ReplaceAll(regexp.QuoteMeta(pattern), `\*`, ".*") + "$")
	if err != nil {
		return false
	}
	return re.MatchString(scope)
}
