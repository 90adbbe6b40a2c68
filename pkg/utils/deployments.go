/*
This file is part of Cloud Native PostgreSQL.

Copyright (C) 2019-2021 EnterpriseDB Corporation.
*/

package utils

import (
	"reflect"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
)

// DeploymentNeedsUpdate reports whether desired's replica count, container
// images/commands/args/env, or volume identities differ from existing's —
// the closed diff-set a Deployment reconcile actually cares about. Fields
// the API server fills in on read-back (container ports' default protocol,
// security context, restart policy, ...) are deliberately left out, the
// same way applyService only compares Selector and Ports rather than the
// whole Spec.
func DeploymentNeedsUpdate(existing, desired *appsv1.Deployment) bool {
	if !replicasEqual(existing.Spec.Replicas, desired.Spec.Replicas) {
		return true
	}
	if !containersEqual(existing.Spec.Template.Spec.InitContainers, desired.Spec.Template.Spec.InitContainers) {
		return true
	}
	if !containersEqual(existing.Spec.Template.Spec.Containers, desired.Spec.Template.Spec.Containers) {
		return true
	}
	return !volumesEqual(existing.Spec.Template.Spec.Volumes, desired.Spec.Template.Spec.Volumes)
}

func replicasEqual(a, b *int32) bool {
	av, bv := int32(1), int32(1)
	if a != nil {
		av = *a
	}
	if b != nil {
		bv = *b
	}
	return av == bv
}

func containersEqual(existing, desired []corev1.Container) bool {
	if len(existing) != len(desired) {
		return false
	}
	byName := make(map[string]corev1.Container, len(existing))
	for _, c := range existing {
		byName[c.Name] = c
	}
	for _, want := range desired {
		have, ok := byName[want.Name]
		if !ok {
			return false
		}
		if have.Image != want.Image ||
			!StringSlicesEqual(have.Command, want.Command) ||
			!StringSlicesEqual(have.Args, want.Args) ||
			!reflect.DeepEqual(have.Env, want.Env) {
			return false
		}
	}
	return true
}

func volumesEqual(existing, desired []corev1.Volume) bool {
	if len(existing) != len(desired) {
		return false
	}
	byName := make(map[string]corev1.Volume, len(existing))
	for _, v := range existing {
		byName[v.Name] = v
	}
	for _, want := range desired {
		have, ok := byName[want.Name]
		if !ok || !volumeSourceEqual(have.VolumeSource, want.VolumeSource) {
			return false
		}
	}
	return true
}

// volumeSourceEqual compares only the reference each source carries (which
// ConfigMap/PVC/Secret it points at), not size or mode fields that would
// otherwise drift from server-side defaults applied after creation.
func volumeSourceEqual(existing, desired corev1.VolumeSource) bool {
	return configMapNameOf(existing.ConfigMap) == configMapNameOf(desired.ConfigMap) &&
		pvcClaimNameOf(existing.PersistentVolumeClaim) == pvcClaimNameOf(desired.PersistentVolumeClaim) &&
		secretNameOf(existing.Secret) == secretNameOf(desired.Secret) &&
		(existing.EmptyDir == nil) == (desired.EmptyDir == nil)
}

func configMapNameOf(s *corev1.ConfigMapVolumeSource) string {
	if s == nil {
		return ""
	}
	return s.Name
}

func pvcClaimNameOf(s *corev1.PersistentVolumeClaimVolumeSource) string {
	if s == nil {
		return ""
	}
	return s.ClaimName
}

func secretNameOf(s *corev1.SecretVolumeSource) string {
	if s == nil {
		return ""
	}
	return s.SecretName
}
