/*
This file is part of Cloud Native PostgreSQL.

Copyright (C) 2019-2021 EnterpriseDB Corporation.
*/

package specs

import (
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"

	neonv1 "oltp.molnett.org/neon-operator/api/v1"
)

const brokerGRPCPort = 50051

// BrokerDeployment builds the desired storage-broker Deployment for a
// Cluster: the rendezvous service pageservers and safekeepers use to
// discover each other, per the GLOSSARY.
func BrokerDeployment(cluster *neonv1.Cluster) *appsv1.Deployment {
	name := cluster.BrokerServiceName()
	replicas := int32(1)
	labels := SelectorLabels(cluster.Name, ComponentBroker, nil)

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
							Name:            ComponentBroker,
							Image:           cluster.Spec.NeonImage,
							Command:         []string{"storage_broker"},
							Args:            []string{"--listen-addr=0.0.0.0:50051"},
							SecurityContext: ContainerSecurityContext(),
							Ports: []corev1.ContainerPort{
								{Name: "grpc", ContainerPort: brokerGRPCPort},
							},
						},
					},
				},
			},
		},
	}
}

// BrokerService builds the Service fronting the broker Deployment, advertised
// at storage-broker-{cluster}:50051 per §4.2's service-name contract.
func BrokerService(cluster *neonv1.Cluster) *corev1.Service {
	name := cluster.BrokerServiceName()
	labels := SelectorLabels(cluster.Name, ComponentBroker, nil)

	return &corev1.Service{
		TypeMeta:   metav1.TypeMeta{APIVersion: "v1", Kind: "Service"},
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: cluster.Namespace, Labels: labels},
		Spec: corev1.ServiceSpec{
			Selector: labels,
			Ports: []corev1.ServicePort{
				{Name: "grpc", Port: brokerGRPCPort, TargetPort: intstr.FromString("grpc")},
			},
		},
	}
}
