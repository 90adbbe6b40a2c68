/*
This file is part of Cloud Native PostgreSQL.

Copyright (C) 2019-2021 EnterpriseDB Corporation.
*/

package v1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// Phase is the lifecycle phase of a reconciled resource.
type Phase string

const (
	// PhasePending means the object has been observed but convergence has
	// not started yet.
	PhasePending Phase = "Pending"

	// PhaseCreating means subresources are being created or patched.
	PhaseCreating Phase = "Creating"

	// PhaseReady means every condition the controller cares about is True.
	PhaseReady Phase = "Ready"

	// PhaseFailed means a non-transient error stopped convergence.
	PhaseFailed Phase = "Failed"

	// PhaseTerminating means the object carries a deletion timestamp and
	// cleanup is in progress.
	PhaseTerminating Phase = "Terminating"
)

// ConditionStatus mirrors corev1.ConditionStatus without importing corev1
// into every API package that only needs the three string values.
type ConditionStatus string

const (
	// ConditionTrue means the condition holds.
	ConditionTrue ConditionStatus = "True"
	// ConditionFalse means the condition does not hold.
	ConditionFalse ConditionStatus = "False"
	// ConditionUnknown means the condition could not be evaluated.
	ConditionUnknown ConditionStatus = "Unknown"
)

// Condition is a Kubernetes-style status condition: {type, status, reason,
// message, lastTransitionTime, observedGeneration}.
type Condition struct {
	// Type of condition, e.g. "StorageBrokerReady".
	Type string `json:"type"`

	// Status of the condition, one of True, False, Unknown.
	Status ConditionStatus `json:"status"`

	// ObservedGeneration is the .metadata.generation the condition was set against.
	// +optional
	ObservedGeneration int64 `json:"observedGeneration,omitempty"`

	// LastTransitionTime is the last time Status changed for this Type. It
	// never moves backwards and only advances when Status actually changes.
	LastTransitionTime metav1.Time `json:"lastTransitionTime"`

	// Reason is a short machine-readable tag, e.g. "ProjectNotFound".
	// +optional
	Reason string `json:"reason,omitempty"`

	// Message is a human-readable explanation.
	// +optional
	Message string `json:"message,omitempty"`
}

// ConditionedStatus is embedded by every CRD's Status struct, giving the
// shared status manager (internal/status) a uniform surface to walk: "has a
// status-conditions collection addressable by type string".
type ConditionedStatus struct {
	// Conditions holds the current service state.
	// +optional
	// +patchMergeKey=type
	// +patchStrategy=merge
	Conditions []Condition `json:"conditions,omitempty" patchStrategy:"merge" patchMergeKey:"type"`
}

// FindCondition returns the condition of the given type, or nil.
func (s *ConditionedStatus) FindCondition(conditionType string) *Condition {
	for i := range s.Conditions {
		if s.Conditions[i].Type == conditionType {
			return &s.Conditions[i]
		}
	}
	return nil
}
