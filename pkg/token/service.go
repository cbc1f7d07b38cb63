// SPDX-License-Identifier: Apache-2.0

package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Verification errors.
var (
	// ErrTokenExpired is returned when the token signature is valid but
	// the exp claim is in the past.
	ErrTokenExpired = errors.New("token expired")

	// ErrTokenInvalid is returned for every other verification failure.
	ErrTokenInvalid = errors.New("token invalid")
)

// Service signs and verifies access tokens with RS256.
type Service struct {
	keys KeyProvider
}

// NewService creates a token service over the given key provider.
func NewService(keys KeyProvider) *Service {
	return &Service{keys: keys}
}

// Build signs the payload as an RS256 JWT with the given lifetime. The iat
// and exp claims are set from the current time; auth_time is set only when
// the payload carries none, so refreshes preserve the original login time.
func (s *Service) Build(payload *Payload, ttl time.Duration) (string, error) {
	key, kid, err := s.keys.SigningKey()
	if err != nil {
		return "", fmt.Errorf("no signing key: %w", err)
	}

	now := time.Now()
	claims := *payload
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	if claims.AuthTime == 0 {
		claims.AuthTime = now.Unix()
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, &claims)
	tok.Header["kid"] = kid

	signed, err := tok.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify checks signature and expiry and returns the payload.
func (s *Service) Verify(tokenString string) (*Payload, error) {
	key, _, err := s.keys.SigningKey()
	if err != nil {
		return nil, fmt.Errorf("no signing key: %w", err)
	}

	var payload Payload
	_, err = jwt.ParseWithClaims(tokenString, &payload, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return key.Public(), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}
	return &payload, nil
}
