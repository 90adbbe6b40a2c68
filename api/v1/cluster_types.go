/*
This file is part of Cloud Native PostgreSQL.

Copyright (C) 2019-2021 EnterpriseDB Corporation.
*/

package v1

import (
	"strconv"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// PostgresVersion enumerates the major Postgres versions this control plane
// knows how to run.
type PostgresVersion string

const (
	// PG14 is Postgres 14.
	PG14 PostgresVersion = "PG14"
	// PG15 is Postgres 15.
	PG15 PostgresVersion = "PG15"
	// PG16 is Postgres 16.
	PG16 PostgresVersion = "PG16"
	// PG17 is Postgres 17.
	PG17 PostgresVersion = "PG17"
)

// StorageSpec describes a persistent volume request.
type StorageSpec struct {
	// StorageClass to request the volume from. Leaving it empty uses the
	// cluster's default storage class.
	// +optional
	StorageClass string `json:"storageClass,omitempty"`

	// Size is a resource.Quantity-parseable string, e.g. "10Gi".
	// +kubebuilder:default="10Gi"
	Size string `json:"size,omitempty"`
}

// ClusterSpec defines the desired state of a Cluster: the set of shared
// data-plane components (broker, safekeepers, storage controller) that every
// Project/Branch in the cluster is built on top of.
type ClusterSpec struct {
	// NumSafekeepers is the number of safekeeper replicas. Fixed to 3 by the
	// design of this system (see the safekeeper collection contract); the
	// field exists for forward compatibility but is validated against 3.
	// +kubebuilder:default=3
	NumSafekeepers int32 `json:"numSafekeepers,omitempty"`

	// DefaultPgVersion is the Postgres version used by Branches in this
	// cluster that don't request one explicitly.
	// +kubebuilder:validation:Enum=PG14;PG15;PG16;PG17
	// +kubebuilder:default=PG16
	DefaultPgVersion PostgresVersion `json:"defaultPgVersion,omitempty"`

	// NeonImage is the container image shared by the broker, safekeepers,
	// storage controller and pageservers.
	NeonImage string `json:"neonImage"`

	// BucketCredentialsSecret is the name of a namespace-local secret
	// carrying AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY, AWS_REGION,
	// AWS_ENDPOINT_URL and BUCKET_NAME.
	BucketCredentialsSecret string `json:"bucketCredentialsSecret"`

	// StorageControllerDatabaseURL is the Postgres DSN the storage
	// controller persists its placement state to.
	StorageControllerDatabaseURL string `json:"storageControllerDatabaseUrl"`

	// SafekeeperStorage is the persistent-volume class and size used for
	// each safekeeper replica.
	// +optional
	SafekeeperStorage StorageSpec `json:"safekeeperStorage,omitempty"`
}

// SubcomponentStatus captures the observed readiness of one managed
// subcomponent (broker, safekeepers, storage controller).
type SubcomponentStatus struct {
	// Ready is true once the subcomponent's Deployment/collection reports
	// ready replicas equal to desired replicas.
	Ready bool `json:"ready"`

	// Replicas is the number of replicas currently observed ready.
	Replicas int32 `json:"replicas"`

	// DesiredReplicas is the number of replicas the spec calls for.
	DesiredReplicas int32 `json:"desiredReplicas"`
}

// ClusterStatus defines the observed state of a Cluster.
type ClusterStatus struct {
	ConditionedStatus `json:",inline"`

	// Phase is a coarse summary of where the Cluster is in its lifecycle.
	// +optional
	Phase Phase `json:"phase,omitempty"`

	// Broker is the observed status of the storage-broker subcomponent.
	// +optional
	Broker SubcomponentStatus `json:"broker,omitempty"`

	// Safekeepers is the observed status of the safekeeper collection.
	// +optional
	Safekeepers SubcomponentStatus `json:"safekeepers,omitempty"`

	// StorageController is the observed status of the storage-controller
	// subcomponent.
	// +optional
	StorageController SubcomponentStatus `json:"storageController,omitempty"`
}

// Condition type names used on Cluster.Status.Conditions.
const (
	ConditionStorageBrokerReady   = "StorageBrokerReady"
	ConditionSafeKeeperReady      = "SafeKeeperReady"
	ConditionPageServerReady      = "PageServerReady"
	ConditionStorageControllerReady = "StorageControllerReady"
)

// Finalizer applied by the cluster controller.
const ClusterFinalizerName = "oltp.molnett.org/cluster-finalizer"

// +kubebuilder:object:root=true
// +kubebuilder:subresource:status
// +kubebuilder:printcolumn:name="Phase",type=string,JSONPath=`.status.phase`
// +kubebuilder:printcolumn:name="Age",type=date,JSONPath=`.metadata.creationTimestamp`

// Cluster is the root resource of a Neon deployment: it owns a
// storage-controller, a broker, a safekeeper collection and the JWT-keys
// secret that compute pods verify against.
type Cluster struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   ClusterSpec   `json:"spec,omitempty"`
	Status ClusterStatus `json:"status,omitempty"`
}

// +kubebuilder:object:root=true

// ClusterList contains a list of Cluster.
type ClusterList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []Cluster `json:"items"`
}

func init() {
	SchemeBuilder.Register(&Cluster{}, &ClusterList{})
}

// GetConditions implements status.ConditionedObject.
func (c *Cluster) GetConditions() []Condition { return c.Status.Conditions }

// SetConditions implements status.ConditionedObject.
func (c *Cluster) SetConditions(conditions []Condition) { c.Status.Conditions = conditions }

// GetPhase implements status.ConditionedObject.
func (c *Cluster) GetPhase() Phase { return c.Status.Phase }

// SetPhase implements status.ConditionedObject.
func (c *Cluster) SetPhase(phase Phase) { c.Status.Phase = phase }

// JWTKeysSecretName returns the deterministic name of the per-cluster
// JWT-keys secret: "{cluster}-jwt-keys".
func (c *Cluster) JWTKeysSecretName() string {
	return c.Name + "-jwt-keys"
}

// BrokerServiceName returns the DNS name of the storage-broker gRPC
// endpoint within the namespace: "storage-broker-{cluster}".
func (c *Cluster) BrokerServiceName() string {
	return "storage-broker-" + c.Name
}

// StorageControllerServiceName returns the DNS name of the storage
// controller's HTTP endpoint within the namespace.
func (c *Cluster) StorageControllerServiceName() string {
	return "storage-controller-" + c.Name
}

// SafekeeperServiceName returns the DNS name of the i-th safekeeper
// replica's advertised service: "safekeeper-{cluster}-{i}".
func (c *Cluster) SafekeeperServiceName(i int) string {
	return safekeeperServiceName(c.Name, i)
}

func safekeeperServiceName(cluster string, i int) string {
	return "safekeeper-" + cluster + "-" + strconv.Itoa(i)
}
