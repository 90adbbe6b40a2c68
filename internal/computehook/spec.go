/*
This file is part of Cloud Native PostgreSQL.

Copyright (C) 2019-2021 EnterpriseDB Corporation.
*/

// Package computehook implements the compute-spec generation and
// live-reconfiguration pipeline described in §4.7: joining a compute pod's
// Deployment metadata with its owning Project/Branch/Cluster state and the
// storage controller's tenant-shard placement into the JSON document
// compute_ctl ingests, and pushing a freshly generated spec to every compute
// pod affected by a storage-controller notify-attach call.
package computehook

import (
	"context"
	"encoding/json"
	"fmt"

	retry "github.com/avast/retry-go/v4"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"

	neonv1 "oltp.molnett.org/neon-operator/api/v1"
	"oltp.molnett.org/neon-operator/internal/jwtkeys"
	"oltp.molnett.org/neon-operator/internal/storagecontroller"
	"oltp.molnett.org/neon-operator/pkg/specs"
)

// NotifyRequest is the body the storage controller POSTs to /notify-attach,
// and the override a caller may pass through to spec generation in its
// place. Unknown fields are accepted and ignored.
type NotifyRequest struct {
	TenantID   string         `json:"tenant_id"`
	StripeSize *uint32        `json:"stripe_size,omitempty"`
	Shards     []NotifyShard  `json:"shards"`
}

// NotifyShard is one shard's new placement, as reported by the storage
// controller.
type NotifyShard struct {
	NodeID      uint64 `json:"node_id"`
	ShardNumber uint32 `json:"shard_number"`
}

// ComputeSpec is the full document handed to a compute pod, matching the
// top-level keys in §4.7 step 7.
type ComputeSpec struct {
	Spec             InnerSpec        `json:"spec"`
	ComputeCtlConfig ComputeCtlConfig `json:"compute_ctl_config"`
	Status           string           `json:"status"`
}

// InnerSpec is the "spec" key of a ComputeSpec.
type InnerSpec struct {
	FormatVersion            float64                     `json:"format_version"`
	SuspendTimeoutSeconds     int                         `json:"suspend_timeout_seconds"`
	Cluster                   ClusterSettings             `json:"cluster"`
	DeltaOperations           []any                       `json:"delta_operations"`
	SafekeeperConnstrings     []string                    `json:"safekeeper_connstrings"`
	PageserverConnectionInfo  map[string]ShardPageservers `json:"pageserver_connection_info"`
}

// ClusterSettings carries the Postgres settings list, §4.7 step 5.
type ClusterSettings struct {
	Settings []Setting `json:"settings"`
}

// Setting is one Postgres GUC in the compute spec's settings list.
type Setting struct {
	Name    string `json:"name"`
	Value   string `json:"value"`
	Vartype string `json:"vartype"`
}

// ShardPageservers is the value type of pageserver_connection_info, keyed by
// a shard index string.
type ShardPageservers struct {
	Pageservers []PageserverConn `json:"pageservers"`
}

// PageserverConn is one pageserver's connection information for a shard.
type PageserverConn struct {
	ID       uint64 `json:"id"`
	LibpqURL string `json:"libpq_url"`
	GrpcURL  string `json:"grpc_url"`
}

// ComputeCtlConfig carries the JWKS compute_ctl verifies admin requests
// against.
type ComputeCtlConfig struct {
	JWKS json.RawMessage `json:"jwks"`
}

// ErrMetadataMissing marks the fatal "MetadataMissing" error class of §4.7
// step 1/2: a required label, annotation or referenced object was absent.
type ErrMetadataMissing struct {
	Message string
}

func (e *ErrMetadataMissing) Error() string { return "MetadataMissing: " + e.Message }

// Generator builds compute specs for a named compute_id.
type Generator struct {
	Client client.Client
}

// NewGenerator builds a Generator over the given client.
func NewGenerator(c client.Client) *Generator {
	return &Generator{Client: c}
}

// GenerateSpec runs the algorithm in §4.7 steps 1-7 for the Deployment
// {computeID}-compute-node. When override is non-nil its shard placement is
// used in place of a storage-controller lookup (step 6).
func (g *Generator) GenerateSpec(ctx context.Context, computeID string, override *NotifyRequest) (*ComputeSpec, error) {
	dep, err := g.findComputeDeployment(ctx, computeID)
	if err != nil {
		return nil, err
	}

	clusterName, ok := dep.Annotations[specs.AnnotationClusterName]
	if !ok || clusterName == "" {
		return nil, &ErrMetadataMissing{Message: fmt.Sprintf("deployment %s missing annotation %s", dep.Name, specs.AnnotationClusterName)}
	}
	tenantID, ok := dep.Labels[specs.LabelTenantID]
	if !ok || tenantID == "" {
		return nil, &ErrMetadataMissing{Message: fmt.Sprintf("deployment %s missing label %s", dep.Name, specs.LabelTenantID)}
	}
	timelineID, ok := dep.Labels[specs.LabelTimelineID]
	if !ok || timelineID == "" {
		return nil, &ErrMetadataMissing{Message: fmt.Sprintf("deployment %s missing label %s", dep.Name, specs.LabelTimelineID)}
	}

	var cluster neonv1.Cluster
	if err := g.Client.Get(ctx, client.ObjectKey{Namespace: dep.Namespace, Name: clusterName}, &cluster); err != nil {
		return nil, &ErrMetadataMissing{Message: fmt.Sprintf("cluster %s not found: %v", clusterName, err)}
	}

	// Step 2: the Project/Branch must exist, even though their only
	// contribution to the spec (tenant_id/timeline_id) already came from
	// the Deployment's own labels.
	if _, err := g.findProjectByTenant(ctx, dep.Namespace, tenantID); err != nil {
		return nil, err
	}
	if _, err := g.findBranchByTimeline(ctx, dep.Namespace, timelineID); err != nil {
		return nil, err
	}

	var secret corev1.Secret
	if err := g.Client.Get(ctx, client.ObjectKey{Namespace: dep.Namespace, Name: jwtkeys.SecretName(cluster.Name)}, &secret); err != nil {
		return nil, fmt.Errorf("reading jwt-keys secret: %w", err)
	}
	keyPair, err := jwtkeys.FromSecretData(secret.Data)
	if err != nil {
		return nil, fmt.Errorf("decoding jwt-keys secret: %w", err)
	}
	jwks, err := keyPair.JWKSJSON()
	if err != nil {
		return nil, fmt.Errorf("marshaling jwks: %w", err)
	}

	safekeeperConns := safekeeperConnstrings(&cluster, dep.Namespace)

	placement, err := g.resolvePlacement(ctx, &cluster, dep.Namespace, tenantID, override)
	if err != nil {
		return nil, err
	}

	return &ComputeSpec{
		Spec: InnerSpec{
			FormatVersion:            1.0,
			SuspendTimeoutSeconds:    -1,
			Cluster:                  ClusterSettings{Settings: computeSettings(tenantID, timelineID, safekeeperConns)},
			DeltaOperations:          []any{},
			SafekeeperConnstrings:    safekeeperConns,
			PageserverConnectionInfo: placement,
		},
		ComputeCtlConfig: ComputeCtlConfig{JWKS: jwks},
		Status:           "attached",
	}, nil
}

func (g *Generator) findComputeDeployment(ctx context.Context, computeID string) (*appsv1.Deployment, error) {
	var list appsv1.DeploymentList
	if err := g.Client.List(ctx, &list); err != nil {
		return nil, fmt.Errorf("listing deployments: %w", err)
	}
	name := computeID + "-compute-node"
	for i := range list.Items {
		if list.Items[i].Name == name {
			return &list.Items[i], nil
		}
	}
	return nil, &ErrMetadataMissing{Message: fmt.Sprintf("deployment %s not found", name)}
}

func (g *Generator) findProjectByTenant(ctx context.Context, namespace, tenantID string) (*neonv1.Project, error) {
	var list neonv1.ProjectList
	if err := g.Client.List(ctx, &list, client.InNamespace(namespace)); err != nil {
		return nil, fmt.Errorf("listing projects: %w", err)
	}
	for i := range list.Items {
		if list.Items[i].Spec.TenantID == tenantID {
			return &list.Items[i], nil
		}
	}
	return nil, &ErrMetadataMissing{Message: fmt.Sprintf("no project with tenant_id %s", tenantID)}
}

func (g *Generator) findBranchByTimeline(ctx context.Context, namespace, timelineID string) (*neonv1.Branch, error) {
	var list neonv1.BranchList
	if err := g.Client.List(ctx, &list, client.InNamespace(namespace)); err != nil {
		return nil, fmt.Errorf("listing branches: %w", err)
	}
	for i := range list.Items {
		if list.Items[i].Spec.TimelineID == timelineID {
			return &list.Items[i], nil
		}
	}
	return nil, &ErrMetadataMissing{Message: fmt.Sprintf("no branch with timeline_id %s", timelineID)}
}

func safekeeperConnstrings(cluster *neonv1.Cluster, namespace string) []string {
	conns := make([]string, 0, 3)
	for i := 0; i < 3; i++ {
		conns = append(conns, fmt.Sprintf("postgresql://postgres:@%s.%s:5454", cluster.SafekeeperServiceName(i), namespace))
	}
	return conns
}

func computeSettings(tenantID, timelineID string, safekeeperConns []string) []Setting {
	names := make([]string, 0, 3)
	for i := 0; i < 3; i++ {
		names = append(names, fmt.Sprintf("safekeeper-%d", i))
	}

	return []Setting{
		{Name: "fsync", Value: "off", Vartype: "bool"},
		{Name: "wal_level", Value: "logical", Vartype: "enum"},
		{Name: "wal_log_hints", Value: "on", Vartype: "bool"},
		{Name: "port", Value: "55433", Vartype: "integer"},
		{Name: "shared_buffers", Value: "1MB", Vartype: "string"},
		{Name: "max_connections", Value: "100", Vartype: "integer"},
		{Name: "listen_addresses", Value: "0.0.0.0", Vartype: "string"},
		{Name: "restart_after_crash", Value: "off", Vartype: "bool"},
		{Name: "synchronous_standby_names", Value: "walproposer", Vartype: "string"},
		{Name: "shared_preload_libraries", Value: "neon", Vartype: "string"},
		{Name: "max_wal_senders", Value: "10", Vartype: "integer"},
		{Name: "max_replication_slots", Value: "10", Vartype: "integer"},
		{Name: "wal_sender_timeout", Value: "0", Vartype: "integer"},
		{Name: "password_encryption", Value: "md5", Vartype: "enum"},
		{Name: "maintenance_work_mem", Value: "65536", Vartype: "integer"},
		{Name: "max_parallel_workers", Value: "8", Vartype: "integer"},
		{Name: "max_worker_processes", Value: "8", Vartype: "integer"},
		{Name: "neon.tenant_id", Value: tenantID, Vartype: "string"},
		{Name: "neon.timeline_id", Value: timelineID, Vartype: "string"},
		{Name: "neon.safekeepers", Value: joinComma(safekeeperConns), Vartype: "string"},
		{Name: "effective_io_concurrency", Value: "100", Vartype: "integer"},
		{Name: "log_connections", Value: "on", Vartype: "bool"},
		{Name: "log_disconnections", Value: "on", Vartype: "bool"},
	}
}

func joinComma(items []string) string {
	out := ""
	for i, s := range items {
		if i > 0 {
			out += ","
		}
		out += s
	}
	return out
}

// resolvePlacement implements §4.7 step 6, including the literal
// shard-index-zero behavior flagged as an open question in DESIGN.md: every
// shard, regardless of its real shard number, is mapped into the
// "0000"-keyed entry of the result.
func (g *Generator) resolvePlacement(
	ctx context.Context,
	cluster *neonv1.Cluster,
	namespace, tenantID string,
	override *NotifyRequest,
) (map[string]ShardPageservers, error) {
	var nodeIDs []uint64
	if override != nil {
		for _, s := range override.Shards {
			nodeIDs = append(nodeIDs, s.NodeID)
		}
	} else {
		sc := storagecontroller.New(fmt.Sprintf("http://%s:8080", cluster.StorageControllerServiceName()))
		var resp *storagecontroller.TenantShardResponse
		err := retry.Do(
			func() error {
				var callErr error
				resp, callErr = sc.GetTenantShards(ctx, tenantID)
				return callErr
			},
			retry.Attempts(3),
			retry.Context(ctx),
		)
		if err != nil {
			return nil, fmt.Errorf("fetching tenant shard placement: %w", err)
		}
		for _, s := range resp.Shards {
			nodeIDs = append(nodeIDs, s.NodeAttached)
		}
	}

	conns := make([]PageserverConn, 0, len(nodeIDs))
	for _, nodeID := range nodeIDs {
		conns = append(conns, PageserverConn{
			ID: nodeID,
			LibpqURL: fmt.Sprintf("postgres://no_user@%s-pageserver-%d.%s:6400",
				cluster.Name, nodeID, namespace),
		})
	}

	return map[string]ShardPageservers{
		"0000": {Pageservers: conns},
	}, nil
}
