// SPDX-License-Identifier: Apache-2.0

// Package loader feeds the entity store from two sources: YAML files on
// disk and Kubernetes custom resources. Both sources emit add, modify and
// delete events that a shared reconciler applies with revision-aware
// de-duplication.
package loader

import (
	"context"

	"github.com/uitsmijter/uitsmijter/pkg/entities"
	"github.com/uitsmijter/uitsmijter/pkg/logger"
)

// Loader is a long-running entity source.
type Loader interface {
	// Start performs the initial load and begins watching for changes.
	Start(ctx context.Context) error

	// Shutdown stops watching and releases resources.
	Shutdown(ctx context.Context) error
}

// EventType classifies a change emitted by a loader.
type EventType string

// Loader event types.
const (
	Added    EventType = "added"
	Modified EventType = "modified"
	Deleted  EventType = "deleted"
)

// Reconciler applies loader events to the entity store.
//
// An added entity whose resource is already present with an identical
// revision is skipped; a different revision replaces the old version by
// removing it first. Modified always replaces, deleted always removes.
type Reconciler struct {
	Store *entities.Store
}

// ApplyTenant applies a tenant event.
func (r *Reconciler) ApplyTenant(event EventType, t entities.Tenant) {
	switch event {
	case Added:
		if existing, ok := r.Store.FindTenantByRef(t.Ref); ok {
			if existing.Ref.Equal(t.Ref) {
				logger.Debugw("tenant revision already loaded", "tenant", t.Name, "ref", t.Ref.String())
				return
			}
			r.Store.RemoveTenant(existing.Ref)
		}
		r.Store.InsertTenant(t)
	case Modified:
		r.Store.RemoveTenant(t.Ref)
		r.Store.InsertTenant(t)
	case Deleted:
		r.Store.RemoveTenant(t.Ref)
	}
}

// ApplyClient applies a client event.
func (r *Reconciler) ApplyClient(event EventType, c entities.Client) {
	switch event {
	case Added:
		if existing, ok := r.Store.FindClientByRef(c.Ref); ok {
			if existing.Ref.Equal(c.Ref) {
				logger.Debugw("client revision already loaded", "client", c.Name, "ref", c.Ref.String())
				return
			}
			r.Store.RemoveClient(existing.Ref)
		}
		r.Store.InsertClient(c)
	case Modified:
		r.Store.RemoveClient(c.Ref)
		r.Store.InsertClient(c)
	case Deleted:
		r.Store.RemoveClient(c.Ref)
	}
}

// RemoveTenantByRef forwards a deletion for which only the ref is known,
// e.g. a file that vanished from disk.
func (r *Reconciler) RemoveTenantByRef(ref entities.Ref) {
	r.Store.RemoveTenant(ref)
}

// RemoveClientByRef forwards a deletion for which only the ref is known.
func (r *Reconciler) RemoveClientByRef(ref entities.Ref) {
	r.Store.RemoveClient(ref)
}
