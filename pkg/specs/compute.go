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
	computePGPort    = 55433
	computeAdminPort = 3080
)

// ComputeSpecConfigMap builds the ConfigMap a compute pod mounts at /var,
// carrying the serialized compute spec the branch controller (or the
// compute-hook's notify-attach handler) generated for it.
func ComputeSpecConfigMap(branch *neonv1.Branch, specJSON []byte) *corev1.ConfigMap {
	name := branch.ComputeSpecConfigMapName()
	labels := SelectorLabels(branch.Spec.ProjectID, ComponentCompute, nil)

	return &corev1.ConfigMap{
		TypeMeta:   metav1.TypeMeta{APIVersion: "v1", Kind: "ConfigMap"},
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: branch.Namespace, Labels: labels},
		Data: map[string]string{
			"spec.json": string(specJSON),
		},
	}
}

// ComputeDeployment builds the single-replica compute pod Deployment backing
// one Branch. Its labels carry the tenant/timeline identity so the
// compute-hook pipeline can find every pod for a tenant by selector alone,
// and its annotations carry the cluster name and compute id so the pipeline
// can rehydrate context from the Deployment without another API round trip.
func ComputeDeployment(
	branch *neonv1.Branch,
	project *neonv1.Project,
	cluster *neonv1.Cluster,
	controlPlaneHost string,
	image string,
) *appsv1.Deployment {
	name := branch.ComputeNodeName()
	replicas := int32(1)
	labels := SelectorLabels(cluster.Name, ComponentCompute, map[string]string{
		LabelTenantID:   project.Spec.TenantID,
		LabelTimelineID: branch.Spec.TimelineID,
	})
	annotations := map[string]string{
		AnnotationClusterName: cluster.Name,
		AnnotationComputeID:   branch.Name,
	}

	args := []string{
		"--pgdata", "/.neon/data/pgdata",
		"--connstr", fmt.Sprintf("postgresql://%s:@0.0.0.0:%d/%s", project.Spec.SuperuserName, computePGPort, project.Spec.DefaultDatabaseName),
		"--compute-id", branch.Name,
		"-p", fmt.Sprintf("http://%s:8080", controlPlaneHost),
		"--pgbin", "/usr/local/bin/postgres",
	}

	sizeLimit := resource.MustParse("10Gi")

	return &appsv1.Deployment{
		TypeMeta: metav1.TypeMeta{APIVersion: "apps/v1", Kind: "Deployment"},
		ObjectMeta: metav1.ObjectMeta{
			Name:        name,
			Namespace:   branch.Namespace,
			Labels:      labels,
			Annotations: annotations,
		},
		Spec: appsv1.DeploymentSpec{
			Replicas: &replicas,
			Selector: &metav1.LabelSelector{MatchLabels: labels},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels, Annotations: annotations},
				Spec: corev1.PodSpec{
					SecurityContext: PodSecurityContext(1000, 1000),
					Containers: []corev1.Container{
						{
							Name:            ComponentCompute,
							Image:           image,
							ImagePullPolicy: corev1.PullIfNotPresent,
							Command:         []string{"/usr/local/bin/compute_ctl"},
							Args:            args,
							SecurityContext: ContainerSecurityContext(),
							Ports: []corev1.ContainerPort{
								{Name: "pg", ContainerPort: computePGPort},
								{Name: "admin", ContainerPort: computeAdminPort},
							},
							VolumeMounts: []corev1.VolumeMount{
								{Name: "spec-volume", MountPath: "/var"},
								{Name: "pgdata", MountPath: "/.neon/data"},
							},
						},
					},
					Volumes: []corev1.Volume{
						{
							Name: "spec-volume",
							VolumeSource: corev1.VolumeSource{
								ConfigMap: &corev1.ConfigMapVolumeSource{
									LocalObjectReference: corev1.LocalObjectReference{Name: branch.ComputeSpecConfigMapName()},
								},
							},
						},
						{
							Name: "pgdata",
							VolumeSource: corev1.VolumeSource{
								EmptyDir: &corev1.EmptyDirVolumeSource{SizeLimit: &sizeLimit},
							},
						},
					},
				},
			},
		},
	}
}

// ComputeAdminService builds the Service fronting a compute pod's admin port
// (3080), labeled with the tenant id so the compute-hook pipeline can list
// every admin service for a tenant in one call.
func ComputeAdminService(branch *neonv1.Branch, project *neonv1.Project, cluster *neonv1.Cluster) *corev1.Service {
	name := branch.Name + "-admin"
	labels := SelectorLabels(cluster.Name, ComponentCompute, map[string]string{
		LabelTenantID: project.Spec.TenantID,
	})
	selector := SelectorLabels(cluster.Name, ComponentCompute, map[string]string{
		LabelTenantID:   project.Spec.TenantID,
		LabelTimelineID: branch.Spec.TimelineID,
	})

	return &corev1.Service{
		TypeMeta:   metav1.TypeMeta{APIVersion: "v1", Kind: "Service"},
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: branch.Namespace, Labels: labels},
		Spec: corev1.ServiceSpec{
			Selector: selector,
			Ports: []corev1.ServicePort{
				{Name: "admin", Port: computeAdminPort, TargetPort: intstr.FromString("admin")},
			},
		},
	}
}
