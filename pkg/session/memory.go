// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/uitsmijter/uitsmijter/pkg/logger"
)

// MemoryStore keeps sessions in process memory. A single mutex owns all
// state; expiry is driven by one timer armed for the earliest absolute
// expiry, re-armed after every mutation. Bounded timer count, no wall-clock
// polling.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*AuthSession
	logins   map[uuid.UUID]time.Time
	timer    *time.Timer
	closed   bool
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*AuthSession),
		logins:   make(map[uuid.UUID]time.Time),
	}
}

// Set stores an auth session, failing with ErrCodeTaken on key collision.
func (m *MemoryStore) Set(_ context.Context, s *AuthSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := storageKey(s.Type, s.Code)
	if _, exists := m.sessions[key]; exists {
		return ErrCodeTaken
	}
	copied := *s
	m.sessions[key] = &copied
	m.rearmLocked()
	return nil
}

// Get returns the session for (t, code). With remove=true the deletion is
// atomic with the return; of two concurrent single-use reads exactly one
// observes the session.
func (m *MemoryStore) Get(_ context.Context, t Type, code string, remove bool) (*AuthSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := storageKey(t, code)
	s, ok := m.sessions[key]
	if !ok {
		return nil, ErrNotFound
	}
	if s.Expired(time.Now()) {
		delete(m.sessions, key)
		m.rearmLocked()
		return nil, ErrNotFound
	}
	if remove {
		delete(m.sessions, key)
		m.rearmLocked()
	}
	copied := *s
	return &copied, nil
}

// Push stores a login session.
func (m *MemoryStore) Push(_ context.Context, login *LoginSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.logins[login.ID] = login.GeneratedAt.Add(LoginSessionTTL)
	m.rearmLocked()
	return nil
}

// Pull consumes a login session.
func (m *MemoryStore) Pull(_ context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	expiry, ok := m.logins[id]
	if !ok {
		return false, nil
	}
	delete(m.logins, id)
	m.rearmLocked()
	if time.Now().After(expiry) {
		return false, nil
	}
	return true, nil
}

// Delete removes a session; unknown keys are a no-op.
func (m *MemoryStore) Delete(_ context.Context, t Type, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, storageKey(t, code))
	m.rearmLocked()
	return nil
}

// Wipe removes every session belonging to (tenant, subject).
func (m *MemoryStore) Wipe(_ context.Context, tenant, subject string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, s := range m.sessions {
		if s.Payload == nil {
			continue
		}
		if s.Payload.Tenant == tenant && s.Payload.Subject == subject {
			delete(m.sessions, key)
		}
	}
	m.rearmLocked()
	return nil
}

// Count returns the number of stored auth sessions.
func (m *MemoryStore) Count(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions), nil
}

// CountForTenant counts sessions of the given type for a tenant.
func (m *MemoryStore) CountForTenant(_ context.Context, tenant string, t Type) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int
	for _, s := range m.sessions {
		if s.Type == t && s.Payload != nil && s.Payload.Tenant == tenant {
			n++
		}
	}
	return n, nil
}

// CountForClient counts sessions whose payload audience contains the client
// name.
func (m *MemoryStore) CountForClient(_ context.Context, clientName string, t Type) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int
	for _, s := range m.sessions {
		if s.Type == t && s.Payload != nil && s.Payload.HasAudience(clientName) {
			n++
		}
	}
	return n, nil
}

// Healthy always reports true for the in-process store.
func (*MemoryStore) Healthy(_ context.Context) bool {
	return true
}

// Close stops the expiry timer.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	return nil
}

// rearmLocked schedules the expiry timer for the earliest absolute expiry
// across all entries. Must be called with the mutex held.
func (m *MemoryStore) rearmLocked() {
	if m.closed {
		return
	}
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}

	var earliest time.Time
	for _, s := range m.sessions {
		if exp := s.ExpiresAt(); earliest.IsZero() || exp.Before(earliest) {
			earliest = exp
		}
	}
	for _, exp := range m.logins {
		if earliest.IsZero() || exp.Before(earliest) {
			earliest = exp
		}
	}
	if earliest.IsZero() {
		return
	}

	m.timer = time.AfterFunc(time.Until(earliest), m.evict)
}

// evict removes everything past its expiry and re-arms the timer.
func (m *MemoryStore) evict() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for key, s := range m.sessions {
		if s.Expired(now) {
			logger.Debugw("session expired", "type", string(s.Type))
			delete(m.sessions, key)
		}
	}
	for id, exp := range m.logins {
		if now.After(exp) {
			delete(m.logins, id)
		}
	}
	m.rearmLocked()
}

var _ Store = (*MemoryStore)(nil)
