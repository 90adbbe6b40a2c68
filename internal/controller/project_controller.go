/*
This file is part of Cloud Native PostgreSQL.

Copyright (C) 2019-2021 EnterpriseDB Corporation.
*/

package controller

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	apierrs "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/tools/record"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	logf "sigs.k8s.io/controller-runtime/pkg/log"

	neonv1 "oltp.molnett.org/neon-operator/api/v1"
	"oltp.molnett.org/neon-operator/internal/engine"
	"oltp.molnett.org/neon-operator/internal/metrics"
	"oltp.molnett.org/neon-operator/internal/status"
	"oltp.molnett.org/neon-operator/internal/storagecontroller"
)

// projectTenantIDBytes is the byte length of a generated tenant id, which is
// rendered as 32 hex characters.
const projectTenantIDBytes = 16

// ProjectSuccessRequeueAfter is how long a fully attached Project waits
// before the next reconcile, per §4.6.
const ProjectSuccessRequeueAfter = 60 * time.Second

// ProjectFailureRequeueAfter is how long a Project waits after a failed
// location_config call before retrying.
const ProjectFailureRequeueAfter = 5 * time.Second

// ProjectReconciler reconciles a Project object: tenant id allocation and
// storage-controller tenant attachment.
type ProjectReconciler struct {
	client.Client
	Scheme        *runtime.Scheme
	StatusManager *status.Manager
	Recorder      record.EventRecorder
}

// +kubebuilder:rbac:groups=oltp.molnett.org,resources=projects,verbs=get;list;watch;create;update;patch;delete
// +kubebuilder:rbac:groups=oltp.molnett.org,resources=projects/status,verbs=get;update;patch
// +kubebuilder:rbac:groups=oltp.molnett.org,resources=projects/finalizers,verbs=update
// +kubebuilder:rbac:groups=oltp.molnett.org,resources=clusters,verbs=get;list;watch

func (r *ProjectReconciler) Reconcile(ctx context.Context, req ctrl.Request) (result ctrl.Result, err error) {
	defer func() { metrics.ObserveReconcile("project", result.Requeue || result.RequeueAfter > 0, err) }()
	log := logf.FromContext(ctx)

	var project neonv1.Project
	if err := r.Get(ctx, req.NamespacedName, &project); err != nil {
		if apierrs.IsNotFound(err) {
			return ctrl.Result{}, nil
		}
		return ctrl.Result{}, fmt.Errorf("fetching project: %w", err)
	}

	if handled, result, err := engine.HandleDeletion(ctx, r.Client, &project, neonv1.ProjectFinalizerName, r.cleanup); handled {
		return result, err
	}

	if _, err := engine.EnsureFinalizer(ctx, r.Client, &project, neonv1.ProjectFinalizerName); err != nil {
		return engine.Outcome(fmt.Errorf("adding finalizer: %w", err))
	}

	var cluster neonv1.Cluster
	if err := r.Get(ctx, client.ObjectKey{Namespace: project.Namespace, Name: project.Spec.ClusterName}, &cluster); err != nil {
		if apierrs.IsNotFound(err) {
			_ = r.StatusManager.SetCondition(ctx, &project, neonv1.ConditionTenantCreated, neonv1.ConditionFalse,
				"ClusterNotFound", fmt.Sprintf("cluster %s not found", project.Spec.ClusterName))
			_ = r.StatusManager.SetPhase(ctx, &project, neonv1.PhaseFailed)
			return ctrl.Result{RequeueAfter: ProjectFailureRequeueAfter}, nil
		}
		return ctrl.Result{}, fmt.Errorf("fetching cluster: %w", err)
	}

	if project.Spec.TenantID == "" {
		tenantID, err := generateHexID(projectTenantIDBytes)
		if err != nil {
			return ctrl.Result{}, fmt.Errorf("generating tenant id: %w", err)
		}
		patch := client.MergeFrom(project.DeepCopy())
		project.Spec.TenantID = tenantID
		if err := r.Patch(ctx, &project, patch); err != nil {
			return ctrl.Result{}, fmt.Errorf("patching allocated tenant id: %w", err)
		}
		return ctrl.Result{Requeue: true}, nil
	}

	sc := storagecontroller.New(fmt.Sprintf("http://%s:8080", cluster.StorageControllerServiceName()))
	err := sc.SetLocationConfig(ctx, project.Spec.TenantID, storagecontroller.LocationConfigRequest{
		Mode:       "AttachedSingle",
		Generation: 1,
		TenantConf: map[string]any{},
	})
	if err != nil {
		log.Error(err, "setting tenant location config")
		_ = r.StatusManager.SetCondition(ctx, &project, neonv1.ConditionTenantCreated, neonv1.ConditionFalse,
			"LocationConfigFailed", err.Error())
		return ctrl.Result{RequeueAfter: ProjectFailureRequeueAfter}, nil
	}

	if err := r.StatusManager.SetCondition(ctx, &project, neonv1.ConditionTenantCreated, neonv1.ConditionTrue, "", ""); err != nil {
		log.Error(err, "patching TenantCreated condition")
	}
	if err := r.StatusManager.SetPhase(ctx, &project, neonv1.PhaseReady); err != nil {
		log.Error(err, "patching phase")
	}

	return ctrl.Result{RequeueAfter: ProjectSuccessRequeueAfter}, nil
}

// cleanup has no data-plane teardown for a Project: the tenant's data
// remains in object storage, matching the retention policy of the other
// three resource kinds.
func (r *ProjectReconciler) cleanup(ctx context.Context, obj client.Object) (bool, ctrl.Result, error) {
	if r.Recorder != nil {
		r.Recorder.Event(obj, "Normal", "DeleteRequested", "project deletion requested, no data-plane teardown performed")
	}
	return true, ctrl.Result{}, nil
}

func generateHexID(byteLen int) (string, error) {
	buf := make([]byte, byteLen)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// SetupWithManager registers the reconciler with the controller manager.
func (r *ProjectReconciler) SetupWithManager(mgr ctrl.Manager) error {
	return ctrl.NewControllerManagedBy(mgr).
		For(&neonv1.Project{}).
		Named("project").
		Complete(r)
}
