// SPDX-License-Identifier: Apache-2.0

// Package session stores the short-lived state of the OAuth flows:
// single-use authorization codes, long-lived refresh sessions and the
// ephemeral login sessions that bind a rendered login form to its POST.
//
// Two interchangeable backends exist: an in-process store for single-node
// deployments and a redis-backed store for everything else.
package session

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/uitsmijter/uitsmijter/pkg/token"
)

// Type discriminates authorization codes from refresh sessions.
type Type string

// Session types.
const (
	TypeCode    Type = "code"
	TypeRefresh Type = "refresh"
)

// Sentinel errors of the session store.
var (
	// ErrCodeTaken is returned by Set when the (type, code) key exists.
	ErrCodeTaken = errors.New("code already taken")

	// ErrNotFound is returned by Get when no session exists for the key,
	// including after TTL expiry or single-use removal.
	ErrNotFound = errors.New("session not found")
)

// LoginSessionTTL binds a rendered login form to the subsequent POST.
const LoginSessionTTL = 2 * time.Hour

// AuthSession carries an authorization code or refresh token together with
// the state needed to complete the flow. Keyed by (Type, Code).
type AuthSession struct {
	Type        Type           `json:"type"`
	State       string         `json:"state,omitempty"`
	Code        string         `json:"code"`
	Scopes      []string       `json:"scopes,omitempty"`
	Payload     *token.Payload `json:"payload,omitempty"`
	RedirectURI string         `json:"redirect_uri,omitempty"`

	// CodeChallenge and CodeChallengeMethod carry the PKCE challenge the
	// code was issued with, verified at token exchange.
	CodeChallenge       string `json:"code_challenge,omitempty"`
	CodeChallengeMethod string `json:"code_challenge_method,omitempty"`

	// TTL is the lifetime in seconds counted from GeneratedAt.
	TTL         int64     `json:"ttl"`
	GeneratedAt time.Time `json:"generated_at"`
}

// ExpiresAt returns the absolute expiry of the session.
func (s *AuthSession) ExpiresAt() time.Time {
	return s.GeneratedAt.Add(time.Duration(s.TTL) * time.Second)
}

// Expired reports whether the session is past its TTL.
func (s *AuthSession) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt())
}

// LoginSession is the ephemeral marker created when a login form is
// rendered. Pull consumes it, proving the form was ours.
type LoginSession struct {
	ID          uuid.UUID `json:"id"`
	GeneratedAt time.Time `json:"generated_at"`
}

// NewLoginSession creates a login session with a fresh UUID.
func NewLoginSession() *LoginSession {
	return &LoginSession{ID: uuid.New(), GeneratedAt: time.Now()}
}

func storageKey(t Type, code string) string {
	return string(t) + "~" + code
}

func loginKey(id uuid.UUID) string {
	return "loginid~" + id.String()
}
