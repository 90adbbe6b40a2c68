/*
This file is part of Cloud Native PostgreSQL.

Copyright (C) 2019-2021 EnterpriseDB Corporation.
*/

package v1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// BranchSpec defines the desired state of a Branch: a timeline inside a
// Project, backed by one compute pod.
type BranchSpec struct {
	// ProjectID is the name of the owning Project in the same namespace.
	ProjectID string `json:"projectId"`

	// ID is the external identifier of this branch.
	ID string `json:"id"`

	// Name is a human display name.
	// +optional
	Name string `json:"name,omitempty"`

	// TimelineID is the 32-hex-char timeline identity in the data plane.
	// Left empty, the branch controller allocates one and merge-patches it
	// back; once set it is never rewritten.
	// +kubebuilder:validation:Pattern=`^[0-9a-f]{32}$`
	// +optional
	TimelineID string `json:"timelineId,omitempty"`

	// PgVersion is the Postgres version for the compute pod backing this
	// branch, defaulting to the Project's PgVersion when unset.
	// +optional
	PgVersion PostgresVersion `json:"pgVersion,omitempty"`

	// DefaultBranch marks this as the project's primary (non-ephemeral)
	// branch.
	// +optional
	DefaultBranch bool `json:"defaultBranch,omitempty"`
}

// BranchStatus defines the observed state of a Branch.
type BranchStatus struct {
	ConditionedStatus `json:",inline"`

	// Phase is a coarse summary of where the Branch is in its lifecycle.
	// +optional
	Phase Phase `json:"phase,omitempty"`
}

// Condition type names used on Branch.Status.Conditions.
const (
	ConditionComputeNodeReady     = "ComputeNodeReady"
	ConditionDefaultUserCreated   = "DefaultUserCreated"
	ConditionDefaultDatabaseCreated = "DefaultDatabaseCreated"
)

// BranchFinalizerName is the finalizer added by the branch controller.
const BranchFinalizerName = "oltp.molnett.org/branch-finalizer"

// +kubebuilder:object:root=true
// +kubebuilder:subresource:status
// +kubebuilder:printcolumn:name="Timeline",type=string,JSONPath=`.spec.timelineId`
// +kubebuilder:printcolumn:name="Phase",type=string,JSONPath=`.status.phase`
// +kubebuilder:printcolumn:name="Age",type=date,JSONPath=`.metadata.creationTimestamp`

// Branch is a timeline inside a Project, backed by exactly one compute pod.
type Branch struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   BranchSpec   `json:"spec,omitempty"`
	Status BranchStatus `json:"status,omitempty"`
}

// +kubebuilder:object:root=true

// BranchList contains a list of Branch.
type BranchList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []Branch `json:"items"`
}

func init() {
	SchemeBuilder.Register(&Branch{}, &BranchList{})
}

// GetConditions implements status.ConditionedObject.
func (b *Branch) GetConditions() []Condition { return b.Status.Conditions }

// SetConditions implements status.ConditionedObject.
func (b *Branch) SetConditions(conditions []Condition) { b.Status.Conditions = conditions }

// GetPhase implements status.ConditionedObject.
func (b *Branch) GetPhase() Phase { return b.Status.Phase }

// SetPhase implements status.ConditionedObject.
func (b *Branch) SetPhase(phase Phase) { b.Status.Phase = phase }

// ComputeNodeName returns the name of the Deployment running this branch's
// compute pod: "{branch}-compute-node".
func (b *Branch) ComputeNodeName() string {
	return b.Name + "-compute-node"
}

// ComputeSpecConfigMapName returns the name of the ConfigMap carrying the
// serialized compute spec for this branch: "{branch}-compute-spec".
func (b *Branch) ComputeSpecConfigMapName() string {
	return b.Name + "-compute-spec"
}
