/*
This file is part of Cloud Native PostgreSQL.

Copyright (C) 2019-2021 EnterpriseDB Corporation.
*/

package specs

import (
	"fmt"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"

	neonv1 "oltp.molnett.org/neon-operator/api/v1"
)

const storageControllerHTTPPort = 8080

// StorageControllerDeployment builds the desired storage-controller
// Deployment for a Cluster, wired with the Postgres DSN it persists
// placement state to and the compute-hook URL it calls back into on
// tenant-shard movement (§4.2, §4.7).
func StorageControllerDeployment(cluster *neonv1.Cluster, computeHookBaseURL string) *appsv1.Deployment {
	name := cluster.StorageControllerServiceName()
	replicas := int32(1)
	labels := SelectorLabels(cluster.Name, ComponentStorageController, nil)

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
							Name:    ComponentStorageController,
							Image:   cluster.Spec.NeonImage,
							Command: []string{"storage_controller"},
							Args: []string{
								fmt.Sprintf("--database-url=%s", cluster.Spec.StorageControllerDatabaseURL),
								fmt.Sprintf("--compute-hook-url=%s/notify-attach", computeHookBaseURL),
								fmt.Sprintf("--listen=0.0.0.0:%d", storageControllerHTTPPort),
							},
							SecurityContext: ContainerSecurityContext(),
							Ports: []corev1.ContainerPort{
								{Name: "http", ContainerPort: storageControllerHTTPPort},
							},
						},
					},
				},
			},
		},
	}
}

// StorageControllerService builds the Service fronting the storage
// controller, advertised at storage-controller-{cluster}:8080.
func StorageControllerService(cluster *neonv1.Cluster) *corev1.Service {
	name := cluster.StorageControllerServiceName()
	labels := SelectorLabels(cluster.Name, ComponentStorageController, nil)

	return &corev1.Service{
		TypeMeta:   metav1.TypeMeta{APIVersion: "v1", Kind: "Service"},
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: cluster.Namespace, Labels: labels},
		Spec: corev1.ServiceSpec{
			Selector: labels,
			Ports: []corev1.ServicePort{
				{Name: "http", Port: storageControllerHTTPPort, TargetPort: intstr.FromString("http")},
			},
		},
	}
}
