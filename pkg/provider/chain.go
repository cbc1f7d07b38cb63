// SPDX-License-Identifier: Apache-2.0

package provider

import (
	"context"
	"errors"
	"time"

	"github.com/uitsmijter/uitsmijter/pkg/logger"
)

// ErrNotAllowed is returned when no provider validates the credentials.
var ErrNotAllowed = errors.New("credentials not allowed")

// Verdict is the merged outcome of a provider chain run.
type Verdict struct {
	// Subject is the identifier the token is issued for.
	Subject string

	// Username is the display name, defaulting to the subject.
	Username string

	// Role is the role resolved by the winning login provider.
	Role string

	// Profile is the free-form profile of the winning login provider.
	Profile map[string]any
}

// Chain runs a tenant's provider scripts in declared order.
type Chain struct {
	// AllowMissing treats tenants without provider scripts as always
	// valid. Dangerous outside development; the caller logs a startup
	// warning when enabling it.
	AllowMissing bool

	// Timeout caps each script execution; zero means DefaultTimeout.
	Timeout time.Duration
}

// Login validates credentials against the provider scripts. Validation
// providers run first with {username}; every one that commits must report
// the subject valid. Login providers then run with {username, password};
// the first one that commits ok with canLogin wins and contributes profile
// and role.
func (c *Chain) Login(ctx context.Context, scripts []string, username, password string) (*Verdict, error) {
	if len(scripts) == 0 {
		if c.AllowMissing {
			logger.Warnw("tenant has no providers, accepting any credentials", "username", username)
			return &Verdict{Subject: username, Username: username}, nil
		}
		return nil, ErrNotAllowed
	}

	for _, script := range scripts {
		if !HasClass(ctx, script, ValidationClassName, c.Timeout) {
			continue
		}
		res, err := Run(ctx, script, ValidationClassName, Input{"username": username}, c.Timeout)
		if err != nil {
			return nil, err
		}
		if !res.Committed || !res.OK || !res.IsValid {
			return nil, ErrNotAllowed
		}
	}

	for _, script := range scripts {
		if !HasClass(ctx, script, LoginClassName, c.Timeout) {
			continue
		}
		res, err := Run(ctx, script, LoginClassName, Input{"username": username, "password": password}, c.Timeout)
		if err != nil {
			return nil, err
		}
		if res.Committed && res.OK && res.CanLogin {
			verdict := &Verdict{
				Subject:  username,
				Username: username,
				Role:     res.Role,
				Profile:  res.Profile,
			}
			if name, ok := res.Profile["name"].(string); ok && name != "" {
				verdict.Username = name
			}
			return verdict, nil
		}
	}

	return nil, ErrNotAllowed
}

// Validate re-checks an existing subject against the validation providers,
// e.g. before silently reusing a session. Tenants without validation
// providers accept the subject.
func (c *Chain) Validate(ctx context.Context, scripts []string, username string) (bool, error) {
	if len(scripts) == 0 {
		return c.AllowMissing, nil
	}

	checked := false
	for _, script := range scripts {
		if !HasClass(ctx, script, ValidationClassName, c.Timeout) {
			continue
		}
		checked = true
		res, err := Run(ctx, script, ValidationClassName, Input{"username": username}, c.Timeout)
		if err != nil {
			return false, err
		}
		if !res.Committed || !res.OK || !res.IsValid {
			return false, nil
		}
	}
	if !checked {
		// Only login providers are declared; nothing vetoes the subject.
		return true, nil
	}
	return true, nil
}
