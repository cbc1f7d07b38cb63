// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uitsmijter/uitsmijter/pkg/token"
)

func newSession(t Type, code string, ttl int64) *AuthSession {
	return &AuthSession{
		Type:        t,
		Code:        code,
		State:       "123",
		Scopes:      []string{"access"},
		RedirectURI: "https://api.example.com/",
		TTL:         ttl,
		GeneratedAt: time.Now(),
	}
}

func withPayload(s *AuthSession, tenant, subject string, audience ...string) *AuthSession {
	s.Payload = &token.Payload{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  subject,
			Audience: jwt.ClaimStrings(audience),
		},
		Tenant: tenant,
	}
	return s
}

func TestMemorySetGet(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, newSession(TypeCode, "abc123", 600)))

	got, err := store.Get(ctx, TypeCode, "abc123", false)
	require.NoError(t, err)
	assert.Equal(t, "abc123", got.Code)
	assert.Equal(t, "123", got.State)

	// Same key, same type: taken.
	err = store.Set(ctx, newSession(TypeCode, "abc123", 600))
	assert.ErrorIs(t, err, ErrCodeTaken)

	// Same code under a different type is a different key.
	require.NoError(t, store.Set(ctx, newSession(TypeRefresh, "abc123", 600)))
}

func TestMemoryGetRemoveIsSingleUse(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, newSession(TypeCode, "once", 600)))

	_, err := store.Get(ctx, TypeCode, "once", true)
	require.NoError(t, err)

	_, err = store.Get(ctx, TypeCode, "once", false)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryConcurrentSingleUse(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, newSession(TypeCode, "race", 600)))

	const readers = 16
	var wg sync.WaitGroup
	var hits int32
	var mu sync.Mutex

	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.Get(ctx, TypeCode, "race", true); err == nil {
				mu.Lock()
				hits++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	// Exactly one reader observes the code.
	assert.Equal(t, int32(1), hits)
}

func TestMemoryTTLExpiry(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	s := newSession(TypeCode, "shortlived", 600)
	s.GeneratedAt = time.Now().Add(-601 * time.Second)
	require.NoError(t, store.Set(ctx, s))

	_, err := store.Get(ctx, TypeCode, "shortlived", false)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryTimerEviction(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	s := newSession(TypeCode, "evictme", 1)
	s.GeneratedAt = time.Now().Add(-990 * time.Millisecond)
	require.NoError(t, store.Set(ctx, s))
	require.NoError(t, store.Set(ctx, newSession(TypeCode, "keeper", 600)))

	assert.Eventually(t, func() bool {
		n, err := store.Count(ctx)
		return err == nil && n == 1
	}, 2*time.Second, 10*time.Millisecond)

	_, err := store.Get(ctx, TypeCode, "keeper", false)
	assert.NoError(t, err)
}

func TestMemoryWipe(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, withPayload(newSession(TypeRefresh, "r1", 600), "cheese", "user@example.com")))
	require.NoError(t, store.Set(ctx, withPayload(newSession(TypeRefresh, "r2", 600), "cheese", "user@example.com")))
	require.NoError(t, store.Set(ctx, withPayload(newSession(TypeRefresh, "r3", 600), "cheese", "other@example.com")))
	require.NoError(t, store.Set(ctx, withPayload(newSession(TypeRefresh, "r4", 600), "ham", "user@example.com")))

	require.NoError(t, store.Wipe(ctx, "cheese", "user@example.com"))

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = store.Get(ctx, TypeRefresh, "r3", false)
	assert.NoError(t, err)
	_, err = store.Get(ctx, TypeRefresh, "r1", false)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryCounts(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, withPayload(newSession(TypeRefresh, "c1", 600), "cheese", "a", "shop-client")))
	require.NoError(t, store.Set(ctx, withPayload(newSession(TypeRefresh, "c2", 600), "cheese", "b", "other-client")))
	require.NoError(t, store.Set(ctx, withPayload(newSession(TypeCode, "c3", 600), "cheese", "a", "shop-client")))

	n, err := store.CountForTenant(ctx, "cheese", TypeRefresh)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = store.CountForClient(ctx, "shop-client", TypeRefresh)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMemoryLoginSessions(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	login := NewLoginSession()
	require.NoError(t, store.Push(ctx, login))

	ok, err := store.Pull(ctx, login.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	// Pull consumes.
	ok, err = store.Pull(ctx, login.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}
