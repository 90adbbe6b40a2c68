/*
This file is part of Cloud Native PostgreSQL.

Copyright (C) 2019-2021 EnterpriseDB Corporation.
*/

package v1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// ProjectSpec defines the desired state of a Project: a tenant inside a
// Cluster's data plane.
type ProjectSpec struct {
	// ClusterName is the name of the owning Cluster in the same namespace.
	ClusterName string `json:"clusterName"`

	// ID is the external identifier of this project, as known to whatever
	// system created the CR (a billing/console id, typically).
	ID string `json:"id"`

	// Name is a human display name.
	// +optional
	Name string `json:"name,omitempty"`

	// TenantID is the 32-hex-char tenant identity in the data plane. Left
	// empty, the project controller allocates one and merge-patches it
	// back; once set it is never rewritten.
	// +kubebuilder:validation:Pattern=`^[0-9a-f]{32}$`
	// +optional
	TenantID string `json:"tenantId,omitempty"`

	// PgVersion is the Postgres version for this project's branches,
	// defaulting to the Cluster's DefaultPgVersion when unset.
	// +optional
	PgVersion PostgresVersion `json:"pgVersion,omitempty"`

	// DefaultComputeSize names the default compute flavor for branches
	// that don't request one (t-shirt size, e.g. "0.25", "1", "4" vCPU).
	// +optional
	DefaultComputeSize string `json:"defaultComputeSize,omitempty"`

	// DefaultDatabaseName is the database created for new branches.
	// +kubebuilder:default=postgres
	DefaultDatabaseName string `json:"defaultDatabaseName,omitempty"`

	// SuperuserName is the default superuser role name.
	// +kubebuilder:default=cloud_admin
	SuperuserName string `json:"superuserName,omitempty"`
}

// ProjectStatus defines the observed state of a Project.
type ProjectStatus struct {
	ConditionedStatus `json:",inline"`

	// Phase is a coarse summary of where the Project is in its lifecycle.
	// +optional
	Phase Phase `json:"phase,omitempty"`
}

// Condition type names used on Project.Status.Conditions.
const (
	ConditionTenantCreated = "TenantCreated"
)

// ProjectFinalizerName is the finalizer added by the project controller.
const ProjectFinalizerName = "oltp.molnett.org/project-finalizer"

// +kubebuilder:object:root=true
// +kubebuilder:subresource:status
// +kubebuilder:printcolumn:name="Tenant",type=string,JSONPath=`.spec.tenantId`
// +kubebuilder:printcolumn:name="Phase",type=string,JSONPath=`.status.phase`
// +kubebuilder:printcolumn:name="Age",type=date,JSONPath=`.metadata.creationTimestamp`

// Project is a tenant inside a Cluster, identified in the data plane by a
// 32-hex-character TenantID.
type Project struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   ProjectSpec   `json:"spec,omitempty"`
	Status ProjectStatus `json:"status,omitempty"`
}

// +kubebuilder:object:root=true

// ProjectList contains a list of Project.
type ProjectList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []Project `json:"items"`
}

func init() {
	SchemeBuilder.Register(&Project{}, &ProjectList{})
}

// GetConditions implements status.ConditionedObject.
func (p *Project) GetConditions() []Condition { return p.Status.Conditions }

// SetConditions implements status.ConditionedObject.
func (p *Project) SetConditions(conditions []Condition) { p.Status.Conditions = conditions }

// GetPhase implements status.ConditionedObject.
func (p *Project) GetPhase() Phase { return p.Status.Phase }

// SetPhase implements status.ConditionedObject.
func (p *Project) SetPhase(phase Phase) { p.Status.Phase = phase }
