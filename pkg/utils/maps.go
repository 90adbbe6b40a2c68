/*
This file is part of Cloud Native PostgreSQL.

Copyright (C) 2019-2021 EnterpriseDB Corporation.
*/

// Package utils holds small helpers shared by the controllers and the
// specs package for deciding whether a subcomponent needs a
// server-side-apply patch.
package utils

import (
	"golang.org/x/exp/slices"

	corev1 "k8s.io/api/core/v1"
)

// MapsEqual reports whether two string maps hold exactly the same
// key/value pairs. Used to compare a Service's selector or a
// Deployment's labels against the desired value before issuing a patch.
func MapsEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if bv, ok := b[k]; !ok || bv != v {
			return false
		}
	}
	return true
}

// StringSlicesEqual reports whether two string slices hold the same
// elements in the same order, e.g. a container's Command or Args.
func StringSlicesEqual(a, b []string) bool {
	return slices.Equal(a, b)
}

// ServicePortsEqual reports whether two Service port lists describe the
// same ports in the same order, used to skip a Service update when a
// reconcile's desired spec didn't actually change anything.
func ServicePortsEqual(a, b []corev1.ServicePort) bool {
	return slices.EqualFunc(a, b, func(x, y corev1.ServicePort) bool {
		return x.Name == y.Name &&
			x.Protocol == y.Protocol &&
			x.Port == y.Port &&
			x.TargetPort == y.TargetPort &&
			x.NodePort == y.NodePort &&
			stringPtrEqual(x.AppProtocol, y.AppProtocol)
	})
}

func stringPtrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
