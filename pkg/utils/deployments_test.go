/*
This file is part of Cloud Native PostgreSQL.

Copyright (C) 2019-2021 EnterpriseDB Corporation.
*/

package utils

import (
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("DeploymentNeedsUpdate", func() {
	newDeployment := func(image string) *appsv1.Deployment {
		replicas := int32(1)
		return &appsv1.Deployment{
			Spec: appsv1.DeploymentSpec{
				Replicas: &replicas,
				Template: corev1.PodTemplateSpec{
					Spec: corev1.PodSpec{
						Containers: []corev1.Container{
							{Name: "main", Image: image, Args: []string{"--flag"}},
						},
						Volumes: []corev1.Volume{
							{Name: "data", VolumeSource: corev1.VolumeSource{
								PersistentVolumeClaim: &corev1.PersistentVolumeClaimVolumeSource{ClaimName: "data-pvc"},
							}},
						},
					},
				},
			},
		}
	}

	It("is false for two deployments with identical image/args/volumes", func() {
		a := newDeployment("neon:latest")
		b := newDeployment("neon:latest")
		Expect(DeploymentNeedsUpdate(a, b)).To(BeFalse())
	})

	It("is true when the image differs", func() {
		a := newDeployment("neon:latest")
		b := newDeployment("neon:v2")
		Expect(DeploymentNeedsUpdate(a, b)).To(BeTrue())
	})

	It("ignores fields the API server fills in on read-back, like container ports", func() {
		a := newDeployment("neon:latest")
		a.Spec.Template.Spec.Containers[0].Ports = []corev1.ContainerPort{
			{Name: "pg", ContainerPort: 5432, Protocol: corev1.ProtocolTCP},
		}
		b := newDeployment("neon:latest")
		Expect(DeploymentNeedsUpdate(a, b)).To(BeFalse())
	})

	It("is true when a volume's backing ConfigMap/PVC/Secret changes", func() {
		a := newDeployment("neon:latest")
		b := newDeployment("neon:latest")
		b.Spec.Template.Spec.Volumes[0].PersistentVolumeClaim.ClaimName = "other-pvc"
		Expect(DeploymentNeedsUpdate(a, b)).To(BeTrue())
	})

	It("is true when replica count changes", func() {
		a := newDeployment("neon:latest")
		b := newDeployment("neon:latest")
		two := int32(2)
		b.Spec.Replicas = &two
		Expect(DeploymentNeedsUpdate(a, b)).To(BeTrue())
	})
})
