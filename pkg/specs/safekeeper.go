/*
This file is part of Cloud Native PostgreSQL.

Copyright (C) 2019-2021 EnterpriseDB Corporation.
*/

package specs

import (
	"fmt"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	resource "k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"

	neonv1 "oltp.molnett.org/neon-operator/api/v1"
)

const (
	safekeeperPGPort   = 5454
	safekeeperHTTPPort = 7676
)

// SafekeeperName returns the name shared by the i-th safekeeper replica's
// Deployment and Service: safekeeper-{cluster}-{i}.
func SafekeeperName(cluster *neonv1.Cluster, i int) string {
	return cluster.SafekeeperServiceName(i)
}

// SafekeeperDeployment builds the i-th safekeeper replica's Deployment. Each
// replica is its own single-replica Deployment rather than one ordinal of a
// StatefulSet, matching spec.md's "StatefulSet-like ordered replica set with
// individual services"; stable identity comes from the Deployment/Service
// name, not from StatefulSet pod ordinals.
func SafekeeperDeployment(cluster *neonv1.Cluster, i int) *appsv1.Deployment {
	name := SafekeeperName(cluster, i)
	replicas := int32(1)
	labels := SelectorLabels(cluster.Name, ComponentSafekeeper, map[string]string{
		LabelSafekeeperOrdinal: fmt.Sprintf("%d", i),
	})

	storage := cluster.Spec.SafekeeperStorage
	size := storage.Size
	if size == "" {
		size = "10Gi"
	}

	return &appsv1.Deployment{
		TypeMeta:   metav1.TypeMeta{APIVersion: "apps/v1", Kind: "Deployment"},
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: cluster.Namespace, Labels: labels},
		Spec: appsv1.DeploymentSpec{
			Replicas: &replicas,
			Selector: &metav1.LabelSelector{MatchLabels: labels},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec: corev1.PodSpec{
					SecurityContext: PodSecurityContext(1000, 1000),
					Containers: []corev1.Container{
						{
							Name:    ComponentSafekeeper,
							Image:   cluster.Spec.NeonImage,
							Command: []string{"/bin/sh", "-c"},
							Args: []string{fmt.Sprintf(
								"exec safekeeper --listen-pg=0.0.0.0:%d --listen-http=0.0.0.0:%d "+
									"--broker-endpoint=http://%s:50051 --advertise-pg=%s.%s:%d "+
									"--id=${POD_NAME}",
								safekeeperPGPort, safekeeperHTTPPort,
								cluster.BrokerServiceName(), name, cluster.Namespace, safekeeperPGPort,
							)},
							Env: []corev1.EnvVar{
								{Name: "POD_NAME", ValueFrom: &corev1.EnvVarSource{
									FieldRef: &corev1.ObjectFieldSelector{FieldPath: "metadata.name"},
								}},
							},
							SecurityContext: ContainerSecurityContext(),
							Ports: []corev1.ContainerPort{
								{Name: "pg", ContainerPort: safekeeperPGPort},
								{Name: "http", ContainerPort: safekeeperHTTPPort},
							},
							VolumeMounts: []corev1.VolumeMount{
								{Name: "data", MountPath: "/data"},
							},
						},
					},
					Volumes: []corev1.Volume{
						{
							Name: "data",
							VolumeSource: corev1.VolumeSource{
								PersistentVolumeClaim: &corev1.PersistentVolumeClaimVolumeSource{
									ClaimName: name,
								},
							},
						},
					},
				},
			},
		},
	}
}

// SafekeeperPVC builds the i-th safekeeper replica's PersistentVolumeClaim,
// sized per the Cluster's SafekeeperStorage spec.
func SafekeeperPVC(cluster *neonv1.Cluster, i int) *corev1.PersistentVolumeClaim {
	name := SafekeeperName(cluster, i)
	labels := SelectorLabels(cluster.Name, ComponentSafekeeper, map[string]string{
		LabelSafekeeperOrdinal: fmt.Sprintf("%d", i),
	})

	storage := cluster.Spec.SafekeeperStorage
	size := storage.Size
	if size == "" {
		size = "10Gi"
	}

	pvc := &corev1.PersistentVolumeClaim{
		TypeMeta:   metav1.TypeMeta{APIVersion: "v1", Kind: "PersistentVolumeClaim"},
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: cluster.Namespace, Labels: labels},
		Spec: corev1.PersistentVolumeClaimSpec{
			AccessModes: []corev1.PersistentVolumeAccessMode{corev1.ReadWriteOnce},
			Resources: corev1.VolumeResourceRequirements{
				Requests: corev1.ResourceList{corev1.ResourceStorage: *resourceQuantityPtr(size)},
			},
		},
	}
	if storage.StorageClass != "" {
		pvc.Spec.StorageClassName = &storage.StorageClass
	}
	return pvc
}

// SafekeeperServiceObject builds the i-th safekeeper replica's Service,
// advertised at safekeeper-{cluster}-{i} within the namespace.
func SafekeeperServiceObject(cluster *neonv1.Cluster, i int) *corev1.Service {
	name := SafekeeperName(cluster, i)
	labels := SelectorLabels(cluster.Name, ComponentSafekeeper, map[string]string{
		LabelSafekeeperOrdinal: fmt.Sprintf("%d", i),
	})

	return &corev1.Service{
		TypeMeta:   metav1.TypeMeta{APIVersion: "v1", Kind: "Service"},
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: cluster.Namespace, Labels: labels},
		Spec: corev1.ServiceSpec{
			Selector: labels,
			Ports: []corev1.ServicePort{
				{Name: "pg", Port: safekeeperPGPort, TargetPort: intstr.FromString("pg")},
				{Name: "http", Port: safekeeperHTTPPort, TargetPort: intstr.FromString("http")},
			},
		},
	}
}

func resourceQuantityPtr(s string) *resource.Quantity {
	q, err := resource.ParseQuantity(s)
	if err != nil {
		q = resource.MustParse("10Gi")
	}
	return &q
}
