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
	"oltp.molnett.org/neon-operator/api/v1alpha1"
)

const (
	pageserverLibpqPort = 6400
	pageserverHTTPPort  = 9898
)

// PageserverConfigMap builds the ConfigMap carrying the pageserver.toml for
// one Pageserver, templated from the owning Cluster's bucket-credentials
// secret, the broker endpoint and the storage controller's control_plane_api
// URL.
func PageserverConfigMap(
	ps *v1alpha1.Pageserver,
	cluster *neonv1.Cluster,
	bucketName, bucketRegion, bucketEndpoint string,
) *corev1.ConfigMap {
	name := ps.ResourceBaseName()
	labels := pageserverLabels(ps)

	toml := fmt.Sprintf(`listen_pg_addr = "0.0.0.0:%d"
listen_http_addr = "0.0.0.0:%d"
broker_endpoint = "http://%s:50051"
control_plane_api = "http://%s:8080/upcall/v1/"

[remote_storage]
bucket_name = "%s"
bucket_region = "%s"
endpoint = "%s"
prefix_in_bucket = "pageserver/%s"
`,
		pageserverLibpqPort, pageserverHTTPPort,
		cluster.BrokerServiceName(),
		cluster.StorageControllerServiceName(),
		bucketName, bucketRegion, bucketEndpoint, name,
	)

	return &corev1.ConfigMap{
		TypeMeta:   metav1.TypeMeta{APIVersion: "v1", Kind: "ConfigMap"},
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: ps.Namespace, Labels: labels},
		Data: map[string]string{
			"pageserver.toml": toml,
		},
	}
}

// PageserverPVC builds the PersistentVolumeClaim backing one Pageserver's
// tenant-shard storage.
func PageserverPVC(ps *v1alpha1.Pageserver) *corev1.PersistentVolumeClaim {
	name := ps.ResourceBaseName()
	labels := pageserverLabels(ps)

	size := ps.Spec.StorageConfig.Size
	if size == "" {
		size = "50Gi"
	}

	pvc := &corev1.PersistentVolumeClaim{
		TypeMeta:   metav1.TypeMeta{APIVersion: "v1", Kind: "PersistentVolumeClaim"},
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: ps.Namespace, Labels: labels},
		Spec: corev1.PersistentVolumeClaimSpec{
			AccessModes: []corev1.PersistentVolumeAccessMode{corev1.ReadWriteOnce},
			Resources: corev1.VolumeResourceRequirements{
				Requests: corev1.ResourceList{corev1.ResourceStorage: *resourceQuantityPtr(size)},
			},
		},
	}
	if ps.Spec.StorageConfig.StorageClass != "" {
		pvc.Spec.StorageClassName = &ps.Spec.StorageConfig.StorageClass
	}
	return pvc
}

// PageserverDeployment builds the Deployment running one Pageserver's
// process. It carries the drain finalizer and an init container that writes
// identity.toml and metadata.json ahead of the main container's start, per
// the pageserver controller's on-disk identity contract.
func PageserverDeployment(ps *v1alpha1.Pageserver, cluster *neonv1.Cluster, image string) *appsv1.Deployment {
	name := ps.ResourceBaseName()
	replicas := int32(1)
	labels := pageserverLabels(ps)

	bucketSecret := ps.Spec.BucketCredentialsSecret
	if bucketSecret == "" {
		bucketSecret = cluster.Spec.BucketCredentialsSecret
	}

	metadataJSON := fmt.Sprintf(
		`{"host":"%s.%s","http_host":"%s.%s","http_port":%d,"port":%d,"availability_zone_id":"unknown"}`,
		name, ps.Namespace, name, ps.Namespace, pageserverHTTPPort, pageserverLibpqPort,
	)

	initScript := fmt.Sprintf(`set -eu
printf 'id=%d\n' > /data/.neon/identity.toml
cat > /data/.neon/metadata.json <<'EOF'
%s
EOF
cp /configmap/pageserver.toml /data/.neon/pageserver.toml
`, ps.Spec.ID, metadataJSON)

	return &appsv1.Deployment{
		TypeMeta: metav1.TypeMeta{APIVersion: "apps/v1", Kind: "Deployment"},
		ObjectMeta: metav1.ObjectMeta{
			Name:       name,
			Namespace:  ps.Namespace,
			Labels:     labels,
			Finalizers: []string{v1alpha1.DrainFinalizerName},
		},
		Spec: appsv1.DeploymentSpec{
			Replicas: &replicas,
			Selector: &metav1.LabelSelector{MatchLabels: labels},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec: corev1.PodSpec{
					SecurityContext: PodSecurityContext(1000, 1000),
					InitContainers: []corev1.Container{
						{
							Name:            "setup-identity",
							Image:           "busybox:1.36",
							Command:         []string{"/bin/sh", "-c"},
							Args:            []string{initScript},
							SecurityContext: ContainerSecurityContext(),
							VolumeMounts: []corev1.VolumeMount{
								{Name: "pageserver-config", MountPath: "/configmap"},
								{Name: "config", MountPath: "/data/.neon"},
							},
						},
					},
					Containers: []corev1.Container{
						{
							Name:            ComponentPageserver,
							Image:           image,
							ImagePullPolicy: corev1.PullIfNotPresent,
							Command:         []string{"/usr/local/bin/pageserver", "-D", "/data/.neon"},
							SecurityContext: ContainerSecurityContext(),
							Ports: []corev1.ContainerPort{
								{Name: "libpq", ContainerPort: pageserverLibpqPort},
								{Name: "http", ContainerPort: pageserverHTTPPort},
							},
							Env: []corev1.EnvVar{
								{Name: "RUST_LOG", Value: "info"},
								{Name: "AWS_ACCESS_KEY_ID", ValueFrom: secretEnvSource(bucketSecret, "AWS_ACCESS_KEY_ID")},
								{Name: "AWS_SECRET_ACCESS_KEY", ValueFrom: secretEnvSource(bucketSecret, "AWS_SECRET_ACCESS_KEY")},
								{Name: "AWS_REGION", ValueFrom: secretEnvSource(bucketSecret, "AWS_REGION")},
								{Name: "AWS_ENDPOINT_URL", ValueFrom: secretEnvSource(bucketSecret, "AWS_ENDPOINT_URL")},
								{Name: "BUCKET_NAME", ValueFrom: secretEnvSource(bucketSecret, "BUCKET_NAME")},
							},
							VolumeMounts: []corev1.VolumeMount{
								{Name: "pageserver-storage", MountPath: "/data/.neon/tenants"},
								{Name: "config", MountPath: "/data/.neon"},
							},
						},
					},
					Volumes: []corev1.Volume{
						{
							Name: "pageserver-storage",
							VolumeSource: corev1.VolumeSource{
								PersistentVolumeClaim: &corev1.PersistentVolumeClaimVolumeSource{ClaimName: name},
							},
						},
						{
							Name: "pageserver-config",
							VolumeSource: corev1.VolumeSource{
								ConfigMap: &corev1.ConfigMapVolumeSource{
									LocalObjectReference: corev1.LocalObjectReference{Name: name},
								},
							},
						},
						{
							Name:         "config",
							VolumeSource: corev1.VolumeSource{EmptyDir: &corev1.EmptyDirVolumeSource{}},
						},
					},
				},
			},
		},
	}
}

// PageserverService builds the Service advertising one Pageserver's libpq
// and HTTP ports at {cluster}-pageserver-{id}.{namespace}.
func PageserverService(ps *v1alpha1.Pageserver) *corev1.Service {
	name := ps.ResourceBaseName()
	labels := pageserverLabels(ps)

	return &corev1.Service{
		TypeMeta:   metav1.TypeMeta{APIVersion: "v1", Kind: "Service"},
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: ps.Namespace, Labels: labels},
		Spec: corev1.ServiceSpec{
			Selector: labels,
			Ports: []corev1.ServicePort{
				{Name: "libpq", Port: pageserverLibpqPort, TargetPort: intstr.FromString("libpq")},
				{Name: "http", Port: pageserverHTTPPort, TargetPort: intstr.FromString("http")},
			},
		},
	}
}

func pageserverLabels(ps *v1alpha1.Pageserver) map[string]string {
	return SelectorLabels(ps.Spec.Cluster, ComponentPageserver, map[string]string{
		LabelPageserverID: fmt.Sprintf("%d", ps.Spec.ID),
	})
}

func secretEnvSource(secretName, key string) *corev1.EnvVarSource {
	return &corev1.EnvVarSource{
		SecretKeyRef: &corev1.SecretKeySelector{
			LocalObjectReference: corev1.LocalObjectReference{Name: secretName},
			Key:                  key,
		},
	}
}
