// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/uitsmijter/uitsmijter/pkg/logger"
)

// Default timeouts for redis operations.
const (
	defaultDialTimeout  = 5 * time.Second
	defaultReadTimeout  = 3 * time.Second
	defaultWriteTimeout = 3 * time.Second
)

// RedisStore keeps sessions in an external redis instance, enabling
// horizontal scaling. Keys are "<type>~<code>" for auth sessions and
// "loginid~<uuid>" for login sessions; key TTL equals session TTL.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore connects to redis and verifies the connection.
func NewRedisStore(ctx context.Context, host, password string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         host,
		Password:     password,
		DialTimeout:  defaultDialTimeout,
		ReadTimeout:  defaultReadTimeout,
		WriteTimeout: defaultWriteTimeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

// NewRedisStoreWithClient wraps a pre-configured client. Used by tests with
// miniredis.
func NewRedisStoreWithClient(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// Set stores an auth session with the session TTL as key TTL.
func (r *RedisStore) Set(ctx context.Context, s *AuthSession) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	ttl := time.Until(s.ExpiresAt())
	if ttl <= 0 {
		return nil
	}

	ok, err := r.client.SetNX(ctx, storageKey(s.Type, s.Code), data, ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	if !ok {
		return ErrCodeTaken
	}
	return nil
}

// Get returns the session for (t, code). With remove=true the value is
// consumed with GETDEL, making the read single-use.
func (r *RedisStore) Get(ctx context.Context, t Type, code string, remove bool) (*AuthSession, error) {
	key := storageKey(t, code)

	var data string
	var err error
	if remove {
		data, err = r.client.GetDel(ctx, key).Result()
	} else {
		data, err = r.client.Get(ctx, key).Result()
	}
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}

	var s AuthSession
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &s, nil
}

// Push stores a login session under "loginid~<uuid>".
func (r *RedisStore) Push(ctx context.Context, login *LoginSession) error {
	data, err := json.Marshal(login)
	if err != nil {
		return fmt.Errorf("failed to marshal login session: %w", err)
	}
	ttl := time.Until(login.GeneratedAt.Add(LoginSessionTTL))
	if ttl <= 0 {
		return nil
	}
	return r.client.Set(ctx, loginKey(login.ID), data, ttl).Err()
}

// Pull consumes a login session.
func (r *RedisStore) Pull(ctx context.Context, id uuid.UUID) (bool, error) {
	_, err := r.client.GetDel(ctx, loginKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to pull login session: %w", err)
	}
	return true, nil
}

// Delete removes a session; unknown keys are a no-op.
func (r *RedisStore) Delete(ctx context.Context, t Type, code string) error {
	return r.client.Del(ctx, storageKey(t, code)).Err()
}

// Wipe removes every session belonging to (tenant, subject). Uses a full
// key scan, skipping login sessions, and decodes each value to match the
// payload.
func (r *RedisStore) Wipe(ctx context.Context, tenant, subject string) error {
	return r.scanSessions(ctx, func(key string, s *AuthSession) error {
		if s.Payload == nil {
			return nil
		}
		if s.Payload.Tenant == tenant && s.Payload.Subject == subject {
			return r.client.Del(ctx, key).Err()
		}
		return nil
	})
}

// Count returns the number of stored auth sessions.
func (r *RedisStore) Count(ctx context.Context) (int, error) {
	var n int
	err := r.scanSessions(ctx, func(string, *AuthSession) error {
		n++
		return nil
	})
	return n, err
}

// CountForTenant counts sessions of the given type for a tenant.
func (r *RedisStore) CountForTenant(ctx context.Context, tenant string, t Type) (int, error) {
	var n int
	err := r.scanSessions(ctx, func(_ string, s *AuthSession) error {
		if s.Type == t && s.Payload != nil && s.Payload.Tenant == tenant {
			n++
		}
		return nil
	})
	return n, err
}

// CountForClient counts sessions whose payload audience contains the client
// name.
func (r *RedisStore) CountForClient(ctx context.Context, clientName string, t Type) (int, error) {
	var n int
	err := r.scanSessions(ctx, func(_ string, s *AuthSession) error {
		if s.Type == t && s.Payload != nil && s.Payload.HasAudience(clientName) {
			n++
		}
		return nil
	})
	return n, err
}

// Healthy reports whether redis answers a ping.
func (r *RedisStore) Healthy(ctx context.Context) bool {
	return r.client.Ping(ctx).Err() == nil
}

// Close closes the redis client.
func (r *RedisStore) Close() error {
	return r.client.Close()
}

// scanSessions iterates every auth session in the store. Values that fail
// to decode are logged and skipped; a stale key may disappear between scan
// and read, which is not an error.
func (r *RedisStore) scanSessions(ctx context.Context, fn func(key string, s *AuthSession) error) error {
	iter := r.client.Scan(ctx, 0, "*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		if strings.HasPrefix(key, "loginid~") {
			continue
		}
		data, err := r.client.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to read session %s: %w", key, err)
		}
		var s AuthSession
		if err := json.Unmarshal([]byte(data), &s); err != nil {
			logger.Warnw("skipping undecodable session value", "key", key, "error", err.Error())
			continue
		}
		if err := fn(key, &s); err != nil {
			return err
		}
	}
	return iter.Err()
}

var _ Store = (*RedisStore)(nil)
