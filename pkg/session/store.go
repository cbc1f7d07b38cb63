// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"

	"github.com/google/uuid"

	"github.com/uitsmijter/uitsmijter/pkg/config"
	"github.com/uitsmijter/uitsmijter/pkg/logger"
)

// Store is the session store contract shared by both backends.
//
// Consistency: Set followed by Get with the same key observes the value;
// Get with remove=true is single-use (of two concurrent calls exactly one
// wins); after TTL expiry or Delete, Get returns ErrNotFound.
type Store interface {
	// Set stores an auth session. Fails with ErrCodeTaken when the
	// (type, code) key already exists.
	Set(ctx context.Context, s *AuthSession) error

	// Get returns the session for (t, code). With remove=true the deletion
	// is atomic with the return.
	Get(ctx context.Context, t Type, code string, remove bool) (*AuthSession, error)

	// Push stores a login session.
	Push(ctx context.Context, login *LoginSession) error

	// Pull consumes a login session, reporting whether it existed.
	Pull(ctx context.Context, id uuid.UUID) (bool, error)

	// Delete removes a session. Unknown keys are a no-op.
	Delete(ctx context.Context, t Type, code string) error

	// Wipe removes every session belonging to (tenant, subject). Login
	// sessions are not affected.
	Wipe(ctx context.Context, tenant, subject string) error

	// Count returns the total number of stored sessions.
	Count(ctx context.Context) (int, error)

	// CountForTenant counts sessions of the given type for a tenant.
	CountForTenant(ctx context.Context, tenant string, t Type) (int, error)

	// CountForClient counts sessions of the given type whose payload
	// audience contains the client name.
	CountForClient(ctx context.Context, clientName string, t Type) (int, error)

	// Healthy reports whether the backend is reachable.
	Healthy(ctx context.Context) bool

	// Close releases backend resources.
	Close() error
}

// NewFromSettings picks the backend: redis when REDIS_HOST is configured,
// in-process otherwise.
func NewFromSettings(ctx context.Context, settings *config.Settings) (Store, error) {
	if settings.RedisHost != "" {
		logger.Infow("using redis session store", "host", settings.RedisHost)
		return NewRedisStore(ctx, settings.RedisHost, settings.RedisPassword)
	}
	logger.Info("using in-process session store")
	return NewMemoryStore(), nil
}
