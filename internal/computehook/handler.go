/*
This file is part of Cloud Native PostgreSQL.

Copyright (C) 2019-2021 EnterpriseDB Corporation.
*/

package computehook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-logr/logr"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"

	neonv1 "oltp.molnett.org/neon-operator/api/v1"
	"oltp.molnett.org/neon-operator/internal/jwtkeys"
	"oltp.molnett.org/neon-operator/internal/metrics"
	"oltp.molnett.org/neon-operator/pkg/specs"
)

// adminPort is the compute pod's admin HTTP port, per §4.5.
const adminPort = 3080

// configureTimeout is the explicit per-call timeout for the /configure push,
// per §5.
const configureTimeout = 2 * time.Second

// Handler implements the control plane's HTTP surface for compute-spec
// delivery: PUT /notify-attach and GET
// /compute/api/v2/computes/{compute_id}/spec.
type Handler struct {
	Client     client.Client
	Generator  *Generator
	Log        logr.Logger
	HTTPClient *http.Client
}

// NewHandler builds a Handler bound to the given client.
func NewHandler(c client.Client, log logr.Logger) *Handler {
	return &Handler{
		Client:     c,
		Generator:  NewGenerator(c),
		Log:        log,
		HTTPClient: &http.Client{Timeout: configureTimeout},
	}
}

// NotifyAttach implements PUT /notify-attach: it pushes a freshly generated
// spec to every compute pod belonging to the notified tenant. Per §4.7,
// there is no partial success — the first pod that fails to accept the new
// spec fails the whole request.
func (h *Handler) NotifyAttach(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() {
		metrics.NotifyAttachDuration.Observe(time.Since(start).Seconds())
		metrics.TouchLastEvent()
	}()

	var req NotifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("decoding notify-attach body: %v", err), http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	deployments, err := h.deploymentsForTenant(ctx, req.TenantID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if len(deployments) == 0 {
		http.Error(w, "no compute pods found for tenant", http.StatusNotFound)
		return
	}

	updated := 0
	for _, dep := range deployments {
		computeName := strings.TrimSuffix(dep.Name, "-compute-node")
		clusterName := dep.Annotations[specs.AnnotationClusterName]
		if err := h.pushSpec(ctx, dep.Namespace, computeName, clusterName, req.TenantID, &req); err != nil {
			h.Log.Error(err, "pushing spec to compute pod", "compute_id", computeName)
			http.Error(w, fmt.Sprintf("updating compute pod %s: %v", computeName, err), http.StatusInternalServerError)
			return
		}
		updated++
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]int{"updated": updated})
}

// GetSpec implements GET /compute/api/v2/computes/{compute_id}/spec: it
// generates and returns the spec for one compute pod, without a notify
// override, falling back to a storage-controller shard lookup.
func (h *Handler) GetSpec(w http.ResponseWriter, r *http.Request) {
	computeID := strings.TrimPrefix(r.URL.Path, "/compute/api/v2/computes/")
	computeID = strings.TrimSuffix(computeID, "/spec")
	if computeID == "" {
		http.Error(w, "missing compute_id", http.StatusBadRequest)
		return
	}

	spec, err := h.Generator.GenerateSpec(r.Context(), computeID, nil)
	if err != nil {
		if _, ok := err.(*ErrMetadataMissing); ok {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(spec)
}

func (h *Handler) deploymentsForTenant(ctx context.Context, tenantID string) ([]appsv1.Deployment, error) {
	var list appsv1.DeploymentList
	if err := h.Client.List(ctx, &list, client.MatchingLabels{specs.LabelTenantID: tenantID}); err != nil {
		return nil, fmt.Errorf("listing deployments for tenant %s: %w", tenantID, err)
	}
	return list.Items, nil
}

func (h *Handler) pushSpec(ctx context.Context, namespace, computeName, clusterName, tenantID string, override *NotifyRequest) error {
	spec, err := h.Generator.GenerateSpec(ctx, computeName, override)
	if err != nil {
		return fmt.Errorf("generating spec: %w", err)
	}

	var cluster neonv1.Cluster
	if err := h.Client.Get(ctx, client.ObjectKey{Namespace: namespace, Name: clusterName}, &cluster); err != nil {
		return fmt.Errorf("looking up cluster %s: %w", clusterName, err)
	}

	var secret corev1.Secret
	if err := h.Client.Get(ctx, client.ObjectKey{Namespace: namespace, Name: jwtkeys.SecretName(cluster.Name)}, &secret); err != nil {
		return fmt.Errorf("reading jwt-keys secret: %w", err)
	}
	keyPair, err := jwtkeys.FromSecretData(secret.Data)
	if err != nil {
		return fmt.Errorf("decoding jwt-keys secret: %w", err)
	}
	token, err := keyPair.MintComputeToken(computeName, time.Now())
	if err != nil {
		return fmt.Errorf("minting compute token: %w", err)
	}

	var services corev1.ServiceList
	if err := h.Client.List(ctx, &services, client.InNamespace(namespace), client.MatchingLabels{specs.LabelTenantID: tenantID}); err != nil {
		return fmt.Errorf("listing admin services: %w", err)
	}

	body, err := json.Marshal(spec)
	if err != nil {
		return fmt.Errorf("marshaling spec: %w", err)
	}

	for _, svc := range services.Items {
		if svc.Name != computeName+"-admin" {
			continue
		}
		url := fmt.Sprintf("http://%s.%s:%d/configure", svc.Name, namespace, adminPort)
		if err := h.postConfigure(ctx, url, token, body); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) postConfigure(ctx context.Context, url, token string, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, configureTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building configure request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := h.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("calling %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("compute pod at %s returned status %d", url, resp.StatusCode)
	}
	return nil
}
