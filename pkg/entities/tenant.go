// SPDX-License-Identifier: Apache-2.0

package entities

import "strings"

// TenantInformations carries the optional legal links rendered on login
// pages and published in the discovery document.
type TenantInformations struct {
	ImprintURL  string `json:"imprint_url,omitempty" yaml:"imprint_url,omitempty"`
	PrivacyURL  string `json:"privacy_url,omitempty" yaml:"privacy_url,omitempty"`
	RegisterURL string `json:"register_url,omitempty" yaml:"register_url,omitempty"`
}

// TenantInterceptor configures the reverse-proxy interceptor mode for a
// tenant.
type TenantInterceptor struct {
	Enabled      bool   `json:"enabled" yaml:"enabled"`
	Domain       string `json:"domain,omitempty" yaml:"domain,omitempty"`
	CookieDomain string `json:"cookie,omitempty" yaml:"cookie,omitempty"`
}

// TenantTemplates points at the object-store location the tenant's UI
// templates are fetched from.
type TenantTemplates struct {
	Host      string `json:"host" yaml:"host"`
	Bucket    string `json:"bucket" yaml:"bucket"`
	Path      string `json:"path,omitempty" yaml:"path,omitempty"`
	AccessKey string `json:"access_key_id" yaml:"access_key_id"`
	SecretKey string `json:"secret_access_key" yaml:"secret_access_key"`
	Region    string `json:"region,omitempty" yaml:"region,omitempty"`
}

// TenantSpec is the configurable part of a tenant, shared between the YAML
// file schema and the CRD schema.
type TenantSpec struct {
	Hosts        []string            `json:"hosts" yaml:"hosts"`
	Informations *TenantInformations `json:"informations,omitempty" yaml:"informations,omitempty"`
	Interceptor  *TenantInterceptor  `json:"interceptor,omitempty" yaml:"interceptor,omitempty"`
	Templates    *TenantTemplates    `json:"templates,omitempty" yaml:"templates,omitempty"`
	Providers    []string            `json:"providers,omitempty" yaml:"providers,omitempty"`
	SilentLogin  *bool               `json:"silent_login,omitempty" yaml:"silent_login,omitempty"`
}

// Tenant is the top-level isolation unit. Identity is the Name; for
// CRD-sourced tenants the name takes the namespaced form "namespace/name".
type Tenant struct {
	Name   string     `json:"name" yaml:"name"`
	Config TenantSpec `json:"config" yaml:"config"`
	Ref    Ref        `json:"ref" yaml:"ref"`
}

// SilentLoginEnabled reports whether an existing session cookie may be
// reused across clients of this tenant. Defaults to true.
func (t *Tenant) SilentLoginEnabled() bool {
	if t.Config.SilentLogin == nil {
		return true
	}
	return *t.Config.SilentLogin
}

// InterceptorEnabled reports whether the tenant accepts interceptor-mode
// requests.
func (t *Tenant) InterceptorEnabled() bool {
	return t.Config.Interceptor != nil && t.Config.Interceptor.Enabled
}

// Slug returns the tenant name in a form safe for directory names.
func (t *Tenant) Slug() string {
	s := strings.ToLower(t.Name)
	s = strings.ReplaceAll(s, "/", "-")
	s = strings.ReplaceAll(s, " ", "-")
	return s
}

// HasHost reports whether the tenant is responsible for the given host.
// Patterns with a leading "*." wildcard match exactly one label, so
// "*.example.com" matches "id.example.com" but not "a.b.example.com".
func (t *Tenant) HasHost(host string) bool {
	for _, pattern := range t.Config.Hosts {
		if MatchHost(pattern, host) {
			return true
		}
	}
	return false
}

// MatchHost matches a single host pattern against a host. An asterisk label
// matches exactly one label at its position.
func MatchHost(pattern, host string) bool {
	if pattern == host {
		return true
	}
	if !strings.Contains(pattern, "*") {
		return false
	}
	patternLabels := strings.Split(pattern, ".")
	hostLabels := strings.Split(host, ".")
	if len(patternLabels) != len(hostLabels) {
		return false
	}
	for i, label := range patternLabels {
		if label == "*" {
			continue
		}
		if !strings.EqualFold(label, hostLabels[i]) {
			return false
		}
	}
	return true
}
