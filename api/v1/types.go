// SPDX-License-Identifier: Apache-2.0

// Package v1 contains the uitsmijter.io/v1 API types consumed by the
// Kubernetes entity loader. The spec structs are shared with the YAML file
// schema and live in pkg/entities.
package v1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime/schema"

	"github.com/uitsmijter/uitsmijter/pkg/entities"
)

// Group and version of the uitsmijter API.
const (
	Group   = "uitsmijter.io"
	Version = "v1"
)

// GroupVersionResources of the watched kinds.
var (
	TenantGVR = schema.GroupVersionResource{Group: Group, Version: Version, Resource: "tenants"}
	ClientGVR = schema.GroupVersionResource{Group: Group, Version: Version, Resource: "clients"}
)

// Tenant is the Schema for the tenants API.
type Tenant struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec entities.TenantSpec `json:"spec,omitempty"`
}

// TenantList contains a list of Tenant.
type TenantList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`

	Items []Tenant `json:"items"`
}

// Client is the Schema for the clients API.
type Client struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec entities.ClientSpec `json:"spec,omitempty"`
}

// ClientList contains a list of Client.
type ClientList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`

	Items []Client `json:"items"`
}
