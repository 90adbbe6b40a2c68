/*
This file is part of Cloud Native PostgreSQL.

Copyright (C) 2019-2021 EnterpriseDB Corporation.
*/

package specs

import (
	corev1 "k8s.io/api/core/v1"
)

// PodSecurityContext returns the restricted, non-root security context every
// managed Pod in this control plane runs under.
func PodSecurityContext(user, group int64) *corev1.PodSecurityContext {
	trueValue := true
	return &corev1.PodSecurityContext{
		RunAsNonRoot: &trueValue,
		RunAsUser:    &user,
		RunAsGroup:   &group,
		FSGroup:      &group,
		SeccompProfile: &corev1.SeccompProfile{
			Type: corev1.SeccompProfileTypeRuntimeDefault,
		},
	}
}

// ContainerSecurityContext returns the container-level hardening applied
// uniformly to every container this package builds.
func ContainerSecurityContext() *corev1.SecurityContext {
	falseValue := false
	trueValue := true
	return &corev1.SecurityContext{
		AllowPrivilegeEscalation: &falseValue,
		ReadOnlyRootFilesystem:   &trueValue,
		Privileged:               &falseValue,
		Capabilities: &corev1.Capabilities{
			Drop: []corev1.Capability{"ALL"},
		},
	}
}
