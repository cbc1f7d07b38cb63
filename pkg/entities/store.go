// SPDX-License-Identifier: Apache-2.0

package entities

import (
	"sync"

	"github.com/google/uuid"

	"github.com/uitsmijter/uitsmijter/pkg/logger"
)

// TenantOp names a tenant lifecycle transition emitted by the store.
type TenantOp string

// Tenant lifecycle operations.
const (
	TenantCreated TenantOp = "create"
	TenantRemoved TenantOp = "remove"
)

// hostClaim records which tenant claimed a host pattern, in insertion order.
// Wildcard patterns cannot live in a map, and first-insert-wins requires
// order anyway.
type hostClaim struct {
	pattern string
	tenant  string
}

// Store is the authoritative in-memory index of tenants and clients.
//
// All mutators and accessors serialize on one RWMutex; accessors return
// value copies so readers never observe partial updates. Writes come
// exclusively from loaders.
type Store struct {
	mu      sync.RWMutex
	tenants map[string]Tenant
	clients map[uuid.UUID]Client
	hosts   []hostClaim

	// hook is invoked after every committed mutation. Used by tests to
	// synchronize on loader activity.
	hook func()

	// tenantObserver receives tenant lifecycle events, e.g. the template
	// loader fetching per-tenant UI templates.
	tenantObserver func(TenantOp, Tenant)
}

// NewStore creates an empty entity store.
func NewStore() *Store {
	return &Store{
		tenants: make(map[string]Tenant),
		clients: make(map[uuid.UUID]Client),
	}
}

// SetChangeHook registers a function invoked after every committed mutation.
func (s *Store) SetChangeHook(fn func()) {
	s.mu.Lock()
	s.hook = fn
	s.mu.Unlock()
}

// SetTenantObserver registers a callback for tenant lifecycle events. The
// callback runs outside the store lock.
func (s *Store) SetTenantObserver(fn func(TenantOp, Tenant)) {
	s.mu.Lock()
	s.tenantObserver = fn
	s.mu.Unlock()
}

// InsertTenant adds a tenant. It reports false when a tenant with the same
// name already exists; the duplicate insert is a no-op. Host patterns
// already claimed by another tenant stay with the first claimant.
func (s *Store) InsertTenant(t Tenant) bool {
	s.mu.Lock()
	if _, exists := s.tenants[t.Name]; exists {
		s.mu.Unlock()
		logger.Warnw("duplicate tenant insert ignored", "tenant", t.Name, "ref", t.Ref.String())
		return false
	}

	s.tenants[t.Name] = t
	for _, pattern := range t.Config.Hosts {
		if owner := s.lookupHostLocked(pattern); owner != "" && owner != t.Name {
			logger.Warnw("host already claimed by another tenant",
				"host", pattern, "tenant", t.Name, "claimed_by", owner)
			continue
		}
		s.hosts = append(s.hosts, hostClaim{pattern: pattern, tenant: t.Name})
	}
	hook, observer := s.hook, s.tenantObserver
	s.mu.Unlock()

	if observer != nil {
		observer(TenantCreated, t)
	}
	if hook != nil {
		hook()
	}
	return true
}

// RemoveTenant deletes the tenant identified by the given ref. Unknown refs
// are a no-op.
func (s *Store) RemoveTenant(ref Ref) {
	s.mu.Lock()
	var removed *Tenant
	for name, t := range s.tenants {
		if t.Ref.SameResource(ref) {
			removed = &t
			delete(s.tenants, name)
			break
		}
	}
	if removed == nil {
		s.mu.Unlock()
		return
	}
	claims := s.hosts[:0]
	for _, c := range s.hosts {
		if c.tenant != removed.Name {
			claims = append(claims, c)
		}
	}
	s.hosts = claims
	hook, observer := s.hook, s.tenantObserver
	s.mu.Unlock()

	if observer != nil {
		observer(TenantRemoved, *removed)
	}
	if hook != nil {
		hook()
	}
}

// InsertClient adds a client. It reports false when a client with the same
// ident already exists. A client whose tenantname does not resolve is still
// loaded but unusable until the tenant appears.
func (s *Store) InsertClient(c Client) bool {
	s.mu.Lock()
	if _, exists := s.clients[c.Config.Ident]; exists {
		s.mu.Unlock()
		logger.Warnw("duplicate client insert ignored", "client", c.Name, "ident", c.Config.Ident.String())
		return false
	}
	if _, ok := s.tenants[c.Config.TenantName]; !ok {
		logger.Warnw("client references unknown tenant",
			"client", c.Name, "tenant", c.Config.TenantName)
	}
	s.clients[c.Config.Ident] = c
	hook := s.hook
	s.mu.Unlock()

	if hook != nil {
		hook()
	}
	return true
}

// RemoveClient deletes the client identified by the given ref. Unknown refs
// are a no-op.
func (s *Store) RemoveClient(ref Ref) {
	s.mu.Lock()
	var found bool
	for ident, c := range s.clients {
		if c.Ref.SameResource(ref) {
			delete(s.clients, ident)
			found = true
			break
		}
	}
	hook := s.hook
	s.mu.Unlock()

	if found && hook != nil {
		hook()
	}
}

// FindTenantByName returns a copy of the tenant with the given name.
func (s *Store) FindTenantByName(name string) (Tenant, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tenants[name]
	return t, ok
}

// FindTenantByRef returns a copy of the tenant loaded from the given
// resource, ignoring the revision.
func (s *Store) FindTenantByRef(ref Ref) (Tenant, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.tenants {
		if t.Ref.SameResource(ref) {
			return t, true
		}
	}
	return Tenant{}, false
}

// FindTenantForHost resolves the tenant responsible for a host. Exact
// patterns win over wildcard patterns; within a class, the first-inserted
// claim wins.
func (s *Store) FindTenantForHost(host string) (Tenant, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.hosts {
		if c.pattern == host {
			return s.tenants[c.tenant], true
		}
	}
	for _, c := range s.hosts {
		if MatchHost(c.pattern, host) {
			return s.tenants[c.tenant], true
		}
	}
	return Tenant{}, false
}

// FindClientByIdent returns a copy of the client with the given client_id.
func (s *Store) FindClientByIdent(ident uuid.UUID) (Client, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.clients[ident]
	return c, ok
}

// FindClientByRef returns a copy of the client loaded from the given
// resource, ignoring the revision.
func (s *Store) FindClientByRef(ref Ref) (Client, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.clients {
		if c.Ref.SameResource(ref) {
			return c, true
		}
	}
	return Client{}, false
}

// Tenants returns a snapshot of all tenants.
func (s *Store) Tenants() []Tenant {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Tenant, 0, len(s.tenants))
	for _, t := range s.tenants {
		out = append(out, t)
	}
	return out
}

// Clients returns a snapshot of all clients.
func (s *Store) Clients() []Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Client, 0, len(s.clients))
	for _, c := range s.clients {
		out = append(out, c)
	}
	return out
}

// ClientsForTenant returns a snapshot of the clients belonging to a tenant.
func (s *Store) ClientsForTenant(tenantName string) []Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Client
	for _, c := range s.clients {
		if c.Config.TenantName == tenantName {
			out = append(out, c)
		}
	}
	return out
}

// Counts returns the number of tenants and clients.
func (s *Store) Counts() (tenants int, clients int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tenants), len(s.clients)
}

func (s *Store) lookupHostLocked(pattern string) string {
	for _, c := range s.hosts {
		if c.pattern == pattern {
			return c.tenant
		}
	}
	return ""
}
