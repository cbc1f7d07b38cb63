// SPDX-License-Identifier: Apache-2.0

// Package config resolves the runtime configuration from environment
// variables. A Settings value is constructed once at startup and passed
// explicitly to the components that need it.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Defaults for durations that are not exposed as environment variables.
const (
	// AuthCodeTTL is the lifetime of a single-use authorization code.
	AuthCodeTTL = 600 * time.Second

	// LoginSessionTTL binds a rendered login form to the subsequent POST.
	LoginSessionTTL = 2 * time.Hour

	// StoreTimeout bounds every session-store round trip.
	StoreTimeout = 5 * time.Second

	// ProviderTimeout is the hard cap on a provider script execution.
	ProviderTimeout = 30 * time.Second

	// CookieName is the name of the SSO cookie set on successful login.
	CookieName = "uitsmijter-sso"
)

// Settings holds every runtime knob read from the environment.
type Settings struct {
	// PublicDomain is the domain the server itself is reachable on. Used as
	// the request-host fallback when no forwarding headers are present.
	PublicDomain string

	// Secure marks cookies as Secure and enables release behavior.
	Secure bool

	// CookieExpiration is the Max-Age of the SSO cookie.
	CookieExpiration time.Duration

	// TokenExpiration is the access-token lifetime.
	TokenExpiration time.Duration

	// TokenRefreshExpiration is the refresh-session lifetime.
	TokenRefreshExpiration time.Duration

	// SupportKubernetesCRD enables the Kubernetes entity loader.
	SupportKubernetesCRD bool

	// ScopedKubernetesCRD restricts the CRD watch to Namespace instead of
	// all namespaces.
	ScopedKubernetesCRD bool

	// Namespace is the namespace watched when ScopedKubernetesCRD is set.
	Namespace string

	// Version is the operator-facing version string.
	Version string

	// AllowMissingProviders treats tenants without provider scripts as
	// always-valid. Dangerous; see ProviderChain.
	AllowMissingProviders bool

	// RedisHost switches the session store to the redis backend when set.
	RedisHost string

	// RedisPassword authenticates against the redis backend.
	RedisPassword string

	// Directory is the root watched by the filesystem entity loader.
	Directory string
}

// Load reads all settings from the environment, applying defaults.
func Load() *Settings {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("COOKIE_EXPIRATION_IN_DAYS", 7)
	v.SetDefault("TOKEN_EXPIRATION_IN_HOURS", 2)
	v.SetDefault("TOKEN_REFRESH_EXPIRATION_IN_HOURS", 720)
	v.SetDefault("PUBLIC_DOMAIN", "localhost")
	v.SetDefault("UITSMIJTER_NAMESPACE", "uitsmijter")
	v.SetDefault("DIRECTORY", "./config")

	s := &Settings{
		PublicDomain:           v.GetString("PUBLIC_DOMAIN"),
		Secure:                 v.GetBool("SECURE"),
		CookieExpiration:       time.Duration(v.GetInt("COOKIE_EXPIRATION_IN_DAYS")) * 24 * time.Hour,
		TokenExpiration:        time.Duration(v.GetInt("TOKEN_EXPIRATION_IN_HOURS")) * time.Hour,
		TokenRefreshExpiration: time.Duration(v.GetInt("TOKEN_REFRESH_EXPIRATION_IN_HOURS")) * time.Hour,
		SupportKubernetesCRD:   v.GetBool("SUPPORT_KUBERNETES_CRD"),
		ScopedKubernetesCRD:    v.GetBool("SCOPED_KUBERNETES_CRD"),
		Namespace:              v.GetString("UITSMIJTER_NAMESPACE"),
		Version:                v.GetString("DISPLAY_VERSION"),
		RedisHost:              v.GetString("REDIS_HOST"),
		RedisPassword:          v.GetString("REDIS_PASSWORD"),
		Directory:              v.GetString("DIRECTORY"),
	}

	// ALLOW_MISSING_PROVIDERS defaults to true outside release builds only.
	if v.IsSet("ALLOW_MISSING_PROVIDERS") {
		s.AllowMissingProviders = v.GetBool("ALLOW_MISSING_PROVIDERS")
	} else {
		s.AllowMissingProviders = !s.IsRelease()
	}

	return s
}

// IsRelease reports whether this build should behave like a tagged release.
// A version string without a pre-release marker counts as a release.
func (s *Settings) IsRelease() bool {
	if s.Version == "" {
		return false
	}
	return !strings.Contains(s.Version, "dev") && !strings.Contains(s.Version, "snapshot")
}
