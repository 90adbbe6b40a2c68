/*
This file is part of Cloud Native PostgreSQL.

Copyright (C) 2019-2021 EnterpriseDB Corporation.
*/

// Package specs builds the Kubernetes object graph the four controllers
// converge towards: Deployments, Services, PersistentVolumeClaims and
// ConfigMaps for the broker, safekeepers, storage controller, pageservers
// and compute pods described in §3/§4 of the specification.
package specs

const (
	// LabelAppName is the standard Kubernetes recommended app-name label.
	LabelAppName = "app.kubernetes.io/name"

	// LabelComponent identifies which subcomponent a managed object belongs
	// to: broker, safekeeper, storage-controller, pageserver or compute.
	LabelComponent = "app.kubernetes.io/component"

	// LabelCluster names the owning Cluster.
	LabelCluster = "neon.io/cluster"

	// LabelPageserverID carries a Pageserver's 64-bit identity, as a decimal
	// string, for selector matching in §4.3.
	LabelPageserverID = "neon.io/pageserver-id"

	// LabelSafekeeperOrdinal carries a safekeeper replica's ordinal index.
	LabelSafekeeperOrdinal = "neon.io/safekeeper-ordinal"

	// LabelTenantID is the compute pod label the compute-hook pipeline
	// selects on to find every pod belonging to a tenant (§4.5/§4.7).
	LabelTenantID = "neon.tenant_id"

	// LabelTimelineID is the compute pod label carrying its timeline id.
	LabelTimelineID = "neon.timeline_id"

	// AnnotationClusterName lets the compute-hook pipeline rehydrate a
	// compute Deployment's owning cluster without another API round trip.
	AnnotationClusterName = "neon.cluster_name"

	// AnnotationComputeID carries the compute pod's own identity, equal to
	// the owning Branch's name.
	AnnotationComputeID = "neon.compute_id"

	// ComponentBroker identifies the storage-broker subcomponent.
	ComponentBroker = "broker"
	// ComponentSafekeeper identifies a safekeeper replica.
	ComponentSafekeeper = "safekeeper"
	// ComponentStorageController identifies the storage-controller subcomponent.
	ComponentStorageController = "storage-controller"
	// ComponentPageserver identifies a pageserver.
	ComponentPageserver = "pageserver"
	// ComponentCompute identifies a compute pod.
	ComponentCompute = "compute"

	// AppName is used for LabelAppName on every object this package builds.
	AppName = "neon"
)

// SelectorLabels returns the label set used both on a managed workload's pod
// template and on the Service/selector that targets it.
func SelectorLabels(cluster, component string, extra map[string]string) map[string]string {
	labels := map[string]string{
		LabelAppName:   AppName,
		LabelComponent: component,
		LabelCluster:   cluster,
	}
	for k, v := range extra {
		labels[k] = v
	}
	return labels
}
