/*
This file is part of Cloud Native PostgreSQL.

Copyright (C) 2019-2021 EnterpriseDB Corporation.
*/

package v1alpha1

import (
	"strconv"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	neonv1 "oltp.molnett.org/neon-operator/api/v1"
)

// StorageConfig carries the pageserver's persistent-volume request. It is
// immutable after creation (enforced by the admission validator), along
// with ID and Cluster.
type StorageConfig struct {
	// StorageClass to request the volume from.
	// +optional
	StorageClass string `json:"storageClass,omitempty"`

	// Size is a resource.Quantity-parseable string, e.g. "50Gi".
	Size string `json:"size"`
}

// PageserverSpec defines the desired state of a Pageserver: one data-plane
// process holding one or more tenant shards, addressed by a 64-bit id that
// is unique within its owning Cluster.
type PageserverSpec struct {
	// ID is the 64-bit unsigned pageserver identity, unique per Cluster.
	// Immutable after creation.
	ID uint64 `json:"id"`

	// Cluster is the name of the owning Cluster in the same namespace.
	// Immutable after creation.
	Cluster string `json:"cluster"`

	// BucketCredentialsSecret overrides the Cluster's bucket-credentials
	// secret for this pageserver, if set.
	// +optional
	BucketCredentialsSecret string `json:"bucketCredentialsSecret,omitempty"`

	// StorageConfig is the persistent-volume request. Immutable after
	// creation.
	StorageConfig StorageConfig `json:"storageConfig"`
}

// PageserverStatus defines the observed state of a Pageserver.
type PageserverStatus struct {
	neonv1.ConditionedStatus `json:",inline"`

	// Phase is a coarse summary of where the Pageserver is in its
	// lifecycle.
	// +optional
	Phase neonv1.Phase `json:"phase,omitempty"`
}

// Condition type names used on Pageserver.Status.Conditions.
const (
	ConditionReady = "Ready"
)

// DrainFinalizerName is the finalizer carried by the pageserver's managed
// Deployment (not the CR itself) that blocks garbage collection until the
// tenant shards it hosts have been drained elsewhere.
const DrainFinalizerName = "neon.io/drain-required"

// DrainedAnnotation, once set to "true" on the managed Deployment, tells the
// pageserver controller it is safe to remove DrainFinalizerName.
const DrainedAnnotation = "neon.io/drained"

// +kubebuilder:object:root=true
// +kubebuilder:subresource:status
// +kubebuilder:printcolumn:name="ID",type=string,JSONPath=`.spec.id`
// +kubebuilder:printcolumn:name="Cluster",type=string,JSONPath=`.spec.cluster`
// +kubebuilder:printcolumn:name="Phase",type=string,JSONPath=`.status.phase`
// +kubebuilder:printcolumn:name="Age",type=date,JSONPath=`.metadata.creationTimestamp`

// Pageserver is a data-plane process holding one or more tenant shards.
type Pageserver struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   PageserverSpec   `json:"spec,omitempty"`
	Status PageserverStatus `json:"status,omitempty"`
}

// +kubebuilder:object:root=true

// PageserverList contains a list of Pageserver.
type PageserverList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []Pageserver `json:"items"`
}

func init() {
	SchemeBuilder.Register(&Pageserver{}, &PageserverList{})
}

// GetConditions implements status.ConditionedObject.
func (p *Pageserver) GetConditions() []neonv1.Condition { return p.Status.Conditions }

// SetConditions implements status.ConditionedObject.
func (p *Pageserver) SetConditions(conditions []neonv1.Condition) { p.Status.Conditions = conditions }

// GetPhase implements status.ConditionedObject.
func (p *Pageserver) GetPhase() neonv1.Phase { return p.Status.Phase }

// SetPhase implements status.ConditionedObject.
func (p *Pageserver) SetPhase(phase neonv1.Phase) { p.Status.Phase = phase }

// ResourceBaseName returns the deterministic name shared by the ConfigMap,
// PVC, Deployment and Service managed for this pageserver:
// "{cluster}-pageserver-{id}".
func (p *Pageserver) ResourceBaseName() string {
	return resourceBaseName(p.Spec.Cluster, p.Spec.ID)
}

func resourceBaseName(cluster string, id uint64) string {
	return cluster + "-pageserver-" + strconv.FormatUint(id, 10)
}
