// SPDX-License-Identifier: Apache-2.0

// Package token builds, signs, verifies and refreshes the JWT access tokens
// issued by the authorization server.
package token

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/uitsmijter/uitsmijter/pkg/profile"
)

// Payload is the claim set of an access token. It doubles as the session
// payload persisted alongside authorization codes and refresh sessions.
type Payload struct {
	jwt.RegisteredClaims

	// AuthTime is the unix time of the interactive login that produced
	// this token. Preserved across refreshes.
	AuthTime int64 `json:"auth_time,omitempty"`

	// Tenant is the name of the tenant the token was issued for.
	Tenant string `json:"tenant"`

	// Responsibility is the hash of the domain the payload is bound to.
	Responsibility string `json:"responsibility,omitempty"`

	// Role is the role the provider script resolved for the user.
	Role string `json:"role,omitempty"`

	// User is the display name of the authenticated user.
	User string `json:"user,omitempty"`

	// Profile is the free-form profile the provider script returned.
	Profile profile.Value `json:"profile,omitempty"`
}

// HasAudience reports whether the payload's audience contains the given
// client name.
func (p *Payload) HasAudience(name string) bool {
	for _, aud := range p.Audience {
		if aud == name {
			return true
		}
	}
	return false
}

// ResponsibilityHash computes the responsibility claim for a domain. The
// domain is lowercased before hashing so header casing cannot split a
// session.
func ResponsibilityHash(domain string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(domain)))
	return hex.EncodeToString(sum[:])
}
