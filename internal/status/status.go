/*
This file is part of Cloud Native PostgreSQL.

Copyright (C) 2019-2021 EnterpriseDB Corporation.
*/

// Package status implements the shared condition-list and phase management
// used by all four controllers. Per the design note in the specification
// ("dynamic polymorphism over typed resources"), it dispatches on a small
// interface rather than on concrete CR types, so the merge/patch logic is
// written exactly once.
package status

import (
	"context"
	"fmt"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/util/retry"
	"sigs.k8s.io/controller-runtime/pkg/client"

	neonv1 "oltp.molnett.org/neon-operator/api/v1"
)

// ConditionedObject is satisfied by every CRD this control plane manages: it
// exposes a conditions collection addressable by type string, and a coarse
// phase, alongside the usual client.Object surface.
type ConditionedObject interface {
	client.Object
	GetConditions() []neonv1.Condition
	SetConditions(conditions []neonv1.Condition)
	GetPhase() neonv1.Phase
	SetPhase(phase neonv1.Phase)
}

// FieldManager is the fixed field-manager identity a controller writes
// status with. Per §3's invariant, cross-controller writes to the same
// field are forbidden; using one constant field manager per controller
// kind is how server-side apply enforces that.
type FieldManager string

const (
	// FieldManagerCluster is used by the cluster controller.
	FieldManagerCluster FieldManager = "neon-cluster-controller"
	// FieldManagerPageserver is used by the pageserver controller.
	FieldManagerPageserver FieldManager = "neon-pageserver-controller"
	// FieldManagerProject is used by the project controller.
	FieldManagerProject FieldManager = "neon-project-controller"
	// FieldManagerBranch is used by the branch controller.
	FieldManagerBranch FieldManager = "neon-branch-controller"
)

// Manager applies condition and phase transitions to a ConditionedObject and
// persists them with a status-subresource patch, retrying on conflict the
// way the teacher's PKI code retries secret writes with
// k8s.io/client-go/util/retry.
type Manager struct {
	Client client.Client
	Owner  FieldManager
}

// NewManager builds a Manager bound to the given field-manager identity.
func NewManager(c client.Client, owner FieldManager) *Manager {
	return &Manager{Client: c, Owner: owner}
}

// SetCondition merges a condition into obj's condition list (reading the
// latest version from the API server first) and patches the status
// subresource. last_transition_time only advances when Status actually
// changes, per §3's invariant; the condition list never holds more than one
// entry of the same Type, per §8.
//
// The status manager never errors fatally: on a write conflict it retries
// within the call; any other error is returned for the caller's reconcile
// to surface, and the next reconcile will simply retry the whole patch.
func (m *Manager) SetCondition(
	ctx context.Context,
	obj ConditionedObject,
	conditionType string,
	conditionStatus neonv1.ConditionStatus,
	reason, message string,
) error {
	return retry.RetryOnConflict(retry.DefaultBackoff, func() error {
		if err := m.Client.Get(ctx, client.ObjectKeyFromObject(obj), obj); err != nil {
			return fmt.Errorf("re-reading object before status patch: %w", err)
		}

		original := obj.DeepCopyObject().(ConditionedObject) //nolint:forcetypeassert

		mergeCondition(obj, conditionType, conditionStatus, reason, message, obj.GetGeneration())

		return m.Client.Status().Patch(ctx, obj, client.MergeFrom(original), client.FieldOwner(m.Owner))
	})
}

// SetPhase patches only the phase field, via the same get-modify-patch
// protocol as SetCondition.
func (m *Manager) SetPhase(ctx context.Context, obj ConditionedObject, phase neonv1.Phase) error {
	return retry.RetryOnConflict(retry.DefaultBackoff, func() error {
		if err := m.Client.Get(ctx, client.ObjectKeyFromObject(obj), obj); err != nil {
			return fmt.Errorf("re-reading object before status patch: %w", err)
		}

		original := obj.DeepCopyObject().(ConditionedObject) //nolint:forcetypeassert
		obj.SetPhase(phase)

		return m.Client.Status().Patch(ctx, obj, client.MergeFrom(original), client.FieldOwner(m.Owner))
	})
}

// mergeCondition inserts or updates the condition of the given type,
// advancing LastTransitionTime only when Status changes.
func mergeCondition(
	obj ConditionedObject,
	conditionType string,
	conditionStatus neonv1.ConditionStatus,
	reason, message string,
	generation int64,
) {
	conditions := obj.GetConditions()
	now := metav1.Now()

	for i := range conditions {
		if conditions[i].Type != conditionType {
			continue
		}
		if conditions[i].Status != conditionStatus {
			conditions[i].LastTransitionTime = now
		}
		conditions[i].Status = conditionStatus
		conditions[i].Reason = reason
		conditions[i].Message = message
		conditions[i].ObservedGeneration = generation
		obj.SetConditions(conditions)
		return
	}

	conditions = append(conditions, neonv1.Condition{
		Type:               conditionType,
		Status:             conditionStatus,
		Reason:             reason,
		Message:            message,
		ObservedGeneration: generation,
		LastTransitionTime: now,
	})
	obj.SetConditions(conditions)
}

// IsTrue reports whether obj carries a True condition of the given type.
func IsTrue(obj ConditionedObject, conditionType string) bool {
	for _, c := range obj.GetConditions() {
		if c.Type == conditionType {
			return c.Status == neonv1.ConditionTrue
		}
	}
	return false
}
