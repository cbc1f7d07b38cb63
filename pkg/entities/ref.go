// SPDX-License-Identifier: Apache-2.0

// Package entities holds the domain model of the authorization server:
// tenants, clients and the in-memory entity store the rest of the system
// reads from. Entities are created and destroyed by loaders only.
package entities

import "fmt"

// RefKind names the source an entity was loaded from.
type RefKind string

// Known ref kinds.
const (
	RefKindFile       RefKind = "file"
	RefKindKubernetes RefKind = "kubernetes"
)

// Ref records the provenance of an entity. For file-sourced entities the
// path identifies the resource; for Kubernetes-sourced entities the UID
// identifies the resource and the revision its version.
type Ref struct {
	Kind     RefKind `json:"kind" yaml:"kind"`
	Path     string  `json:"path,omitempty" yaml:"path,omitempty"`
	UID      string  `json:"uid,omitempty" yaml:"uid,omitempty"`
	Revision string  `json:"revision,omitempty" yaml:"revision,omitempty"`
}

// FileRef builds a Ref for a filesystem-sourced entity.
func FileRef(path string) Ref {
	return Ref{Kind: RefKindFile, Path: path}
}

// KubernetesRef builds a Ref for a CRD-sourced entity.
func KubernetesRef(uid, revision string) Ref {
	return Ref{Kind: RefKindKubernetes, UID: uid, Revision: revision}
}

// SameResource reports whether two refs point at the same underlying
// resource, ignoring the revision.
func (r Ref) SameResource(other Ref) bool {
	if r.Kind != other.Kind {
		return false
	}
	switch r.Kind {
	case RefKindFile:
		return r.Path == other.Path
	case RefKindKubernetes:
		return r.UID == other.UID
	default:
		return false
	}
}

// Equal reports whether two refs identify the same resource version.
func (r Ref) Equal(other Ref) bool {
	return r.SameResource(other) && r.Revision == other.Revision
}

// String renders the ref for logs.
func (r Ref) String() string {
	switch r.Kind {
	case RefKindFile:
		return fmt.Sprintf("file(%s)", r.Path)
	case RefKindKubernetes:
		return fmt.Sprintf("kubernetes(%s, %s)", r.UID, r.Revision)
	default:
		return "unknown"
	}
}
