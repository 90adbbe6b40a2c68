/*
This file is part of Cloud Native PostgreSQL.

Copyright (C) 2019-2021 EnterpriseDB Corporation.
*/

package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrs "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/tools/record"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"
	logf "sigs.k8s.io/controller-runtime/pkg/log"

	neonv1 "oltp.molnett.org/neon-operator/api/v1"
	"oltp.molnett.org/neon-operator/internal/computehook"
	"oltp.molnett.org/neon-operator/internal/engine"
	"oltp.molnett.org/neon-operator/internal/metrics"
	"oltp.molnett.org/neon-operator/internal/status"
	"oltp.molnett.org/neon-operator/internal/storagecontroller"
	"oltp.molnett.org/neon-operator/pkg/specs"
	"oltp.molnett.org/neon-operator/pkg/utils"
)

// branchTimelineIDBytes is the byte length of a generated timeline id,
// rendered as 32 hex characters.
const branchTimelineIDBytes = 16

const (
	// BranchProjectNotFoundRequeueAfter is the wait after a missing Project.
	BranchProjectNotFoundRequeueAfter = 15 * time.Second
	// BranchAllocateRequeueAfter is the wait after allocating a timeline id.
	BranchAllocateRequeueAfter = 1 * time.Second
	// BranchTimelineHTTPErrorRequeueAfter is the wait after a non-2xx/409
	// response from the timeline-create call.
	BranchTimelineHTTPErrorRequeueAfter = 5 * time.Second
	// BranchTimelineConnectErrorRequeueAfter is the wait after a connect
	// error talking to the storage controller.
	BranchTimelineConnectErrorRequeueAfter = 10 * time.Second
	// BranchReadyRequeueAfter is the wait once every condition is true.
	BranchReadyRequeueAfter = 60 * time.Second
)

// BranchReconciler reconciles a Branch object: timeline allocation, timeline
// creation on the storage controller, and the compute pod backing it.
type BranchReconciler struct {
	client.Client
	Scheme           *runtime.Scheme
	StatusManager    *status.Manager
	Recorder         record.EventRecorder
	Generator        *computehook.Generator
	Image            string
	ControlPlaneHost string
}

// +kubebuilder:rbac:groups=oltp.molnett.org,resources=branches,verbs=get;list;watch;create;update;patch;delete
// +kubebuilder:rbac:groups=oltp.molnett.org,resources=branches/status,verbs=get;update;patch
// +kubebuilder:rbac:groups=oltp.molnett.org,resources=branches/finalizers,verbs=update
// +kubebuilder:rbac:groups=oltp.molnett.org,resources=projects;clusters,verbs=get;list;watch
// +kubebuilder:rbac:groups=apps,resources=deployments,verbs=get;list;watch;create;update;patch;delete
// +kubebuilder:rbac:groups="",resources=configmaps;services,verbs=get;list;watch;create;update;patch;delete

func (r *BranchReconciler) Reconcile(ctx context.Context, req ctrl.Request) (result ctrl.Result, err error) {
	defer func() { metrics.ObserveReconcile("branch", result.Requeue || result.RequeueAfter > 0, err) }()
	log := logf.FromContext(ctx)

	var branch neonv1.Branch
	if err := r.Get(ctx, req.NamespacedName, &branch); err != nil {
		if apierrs.IsNotFound(err) {
			return ctrl.Result{}, nil
		}
		return ctrl.Result{}, fmt.Errorf("fetching branch: %w", err)
	}

	if handled, result, err := engine.HandleDeletion(ctx, r.Client, &branch, neonv1.BranchFinalizerName, r.cleanup); handled {
		return result, err
	}

	if _, err := engine.EnsureFinalizer(ctx, r.Client, &branch, neonv1.BranchFinalizerName); err != nil {
		return engine.Outcome(fmt.Errorf("adding finalizer: %w", err))
	}

	var project neonv1.Project
	if err := r.Get(ctx, client.ObjectKey{Namespace: branch.Namespace, Name: branch.Spec.ProjectID}, &project); err != nil {
		if apierrs.IsNotFound(err) {
			_ = r.StatusManager.SetCondition(ctx, &branch, neonv1.ConditionComputeNodeReady, neonv1.ConditionFalse,
				"ProjectNotFound", fmt.Sprintf("project %s not found", branch.Spec.ProjectID))
			_ = r.StatusManager.SetPhase(ctx, &branch, neonv1.PhaseFailed)
			return ctrl.Result{RequeueAfter: BranchProjectNotFoundRequeueAfter}, nil
		}
		return ctrl.Result{}, fmt.Errorf("fetching project: %w", err)
	}

	var cluster neonv1.Cluster
	if err := r.Get(ctx, client.ObjectKey{Namespace: branch.Namespace, Name: project.Spec.ClusterName}, &cluster); err != nil {
		if apierrs.IsNotFound(err) {
			_ = r.StatusManager.SetCondition(ctx, &branch, neonv1.ConditionComputeNodeReady, neonv1.ConditionFalse,
				"ClusterNotFound", fmt.Sprintf("cluster %s not found", project.Spec.ClusterName))
			_ = r.StatusManager.SetPhase(ctx, &branch, neonv1.PhaseFailed)
			return ctrl.Result{RequeueAfter: BranchProjectNotFoundRequeueAfter}, nil
		}
		return ctrl.Result{}, fmt.Errorf("fetching cluster: %w", err)
	}

	if branch.Spec.TimelineID == "" {
		timelineID, err := generateHexID(branchTimelineIDBytes)
		if err != nil {
			return ctrl.Result{}, fmt.Errorf("generating timeline id: %w", err)
		}
		patch := client.MergeFrom(branch.DeepCopy())
		branch.Spec.TimelineID = timelineID
		if err := r.Patch(ctx, &branch, patch); err != nil {
			return ctrl.Result{}, fmt.Errorf("patching allocated timeline id: %w", err)
		}
		return ctrl.Result{RequeueAfter: BranchAllocateRequeueAfter}, nil
	}

	pgVersion := branch.Spec.PgVersion
	if pgVersion == "" {
		pgVersion = project.Spec.PgVersion
	}

	sc := storagecontroller.New(fmt.Sprintf("http://%s:8080", cluster.StorageControllerServiceName()))
	err := sc.CreateTimeline(ctx, project.Spec.TenantID, storagecontroller.CreateTimelineRequest{
		NewTimelineID: branch.Spec.TimelineID,
		PgVersion:     pgVersionNumber(pgVersion),
	})
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) {
			log.Error(err, "connecting to storage controller for timeline creation")
			return ctrl.Result{RequeueAfter: BranchTimelineConnectErrorRequeueAfter}, nil
		}
		log.Error(err, "creating timeline")
		return ctrl.Result{RequeueAfter: BranchTimelineHTTPErrorRequeueAfter}, nil
	}

	if err := r.reconcileComputePod(ctx, &branch, &project, &cluster); err != nil {
		return ctrl.Result{}, fmt.Errorf("reconciling compute pod: %w", err)
	}

	ready, err := r.deploymentReady(ctx, branch.Namespace, branch.ComputeNodeName())
	if err != nil {
		log.Error(err, "checking compute deployment readiness")
	}

	computeReadyStatus := neonv1.ConditionFalse
	phase := neonv1.PhaseCreating
	if ready {
		computeReadyStatus = neonv1.ConditionTrue
		phase = neonv1.PhaseReady
	}
	if err := r.StatusManager.SetCondition(ctx, &branch, neonv1.ConditionComputeNodeReady, computeReadyStatus, "", ""); err != nil {
		log.Error(err, "patching ComputeNodeReady condition")
	}

	if ready {
		// Default-user/database provisioning is not yet implemented against a
		// real Postgres connection; the conditions are set true immediately
		// once the compute pod itself is serving, matching the "current
		// implementation stubbed" note.
		if err := r.StatusManager.SetCondition(ctx, &branch, neonv1.ConditionDefaultUserCreated, neonv1.ConditionTrue, "", ""); err != nil {
			log.Error(err, "patching DefaultUserCreated condition")
		}
		if err := r.StatusManager.SetCondition(ctx, &branch, neonv1.ConditionDefaultDatabaseCreated, neonv1.ConditionTrue, "", ""); err != nil {
			log.Error(err, "patching DefaultDatabaseCreated condition")
		}
	}

	if err := r.StatusManager.SetPhase(ctx, &branch, phase); err != nil {
		log.Error(err, "patching phase")
	}

	if !ready {
		return ctrl.Result{}, nil
	}
	return ctrl.Result{RequeueAfter: BranchReadyRequeueAfter}, nil
}

func (r *BranchReconciler) reconcileComputePod(ctx context.Context, branch *neonv1.Branch, project *neonv1.Project, cluster *neonv1.Cluster) error {
	image := r.Image
	if image == "" {
		image = cluster.Spec.NeonImage
	}
	controlPlaneHost := r.ControlPlaneHost
	if controlPlaneHost == "" {
		controlPlaneHost = "compute-hook." + branch.Namespace
	}

	// The Deployment is applied first: its annotations/labels (cluster name,
	// tenant id, timeline id) are exactly what Generator.GenerateSpec reads
	// back to build the compute spec below, the same way the notify-attach
	// and get-spec handlers rehydrate context from the Deployment alone.
	desired := specs.ComputeDeployment(branch, project, cluster, controlPlaneHost, image)
	if err := controllerutil.SetControllerReference(branch, desired, r.Scheme); err != nil {
		return err
	}
	var existingDep appsv1.Deployment
	err := r.Get(ctx, client.ObjectKeyFromObject(desired), &existingDep)
	if apierrs.IsNotFound(err) {
		if err := r.Create(ctx, desired); err != nil {
			return fmt.Errorf("creating compute deployment: %w", err)
		}
	} else if err != nil {
		return err
	} else if utils.DeploymentNeedsUpdate(&existingDep, desired) {
		existingDep.Spec.Replicas = desired.Spec.Replicas
		existingDep.Spec.Template = desired.Spec.Template
		if err := r.Update(ctx, &existingDep); err != nil {
			return fmt.Errorf("updating compute deployment: %w", err)
		}
	}

	generator := r.Generator
	if generator == nil {
		generator = computehook.NewGenerator(r.Client)
	}
	spec, err := generator.GenerateSpec(ctx, branch.Name, nil)
	if err != nil {
		return fmt.Errorf("generating compute spec: %w", err)
	}
	specJSON, err := json.Marshal(spec)
	if err != nil {
		return fmt.Errorf("marshaling compute spec: %w", err)
	}

	configMap := specs.ComputeSpecConfigMap(branch, specJSON)
	if err := controllerutil.SetControllerReference(branch, configMap, r.Scheme); err != nil {
		return err
	}
	var existingCM corev1.ConfigMap
	err = r.Get(ctx, client.ObjectKeyFromObject(configMap), &existingCM)
	if apierrs.IsNotFound(err) {
		if err := r.Create(ctx, configMap); err != nil {
			return fmt.Errorf("creating compute-spec configmap: %w", err)
		}
	} else if err != nil {
		return err
	} else if !utils.MapsEqual(existingCM.Data, configMap.Data) {
		existingCM.Data = configMap.Data
		if err := r.Update(ctx, &existingCM); err != nil {
			return fmt.Errorf("updating compute-spec configmap: %w", err)
		}
	}

	svc := specs.ComputeAdminService(branch, project, cluster)
	if err := controllerutil.SetControllerReference(branch, svc, r.Scheme); err != nil {
		return err
	}
	var existingSvc corev1.Service
	err = r.Get(ctx, client.ObjectKeyFromObject(svc), &existingSvc)
	if apierrs.IsNotFound(err) {
		return r.Create(ctx, svc)
	}
	if err != nil {
		return err
	}
	if utils.MapsEqual(existingSvc.Spec.Selector, svc.Spec.Selector) && utils.ServicePortsEqual(existingSvc.Spec.Ports, svc.Spec.Ports) {
		return nil
	}
	existingSvc.Spec.Selector = svc.Spec.Selector
	existingSvc.Spec.Ports = svc.Spec.Ports
	return r.Update(ctx, &existingSvc)
}

func (r *BranchReconciler) deploymentReady(ctx context.Context, namespace, name string) (bool, error) {
	var dep appsv1.Deployment
	if err := r.Get(ctx, client.ObjectKey{Namespace: namespace, Name: name}, &dep); err != nil {
		if apierrs.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	desired := int32(1)
	if dep.Spec.Replicas != nil {
		desired = *dep.Spec.Replicas
	}
	return dep.Status.ReadyReplicas == desired, nil
}

// pgVersionNumber maps the PostgresVersion enum to the numeric major
// version the storage controller expects, defaulting to PG16.
func pgVersionNumber(v neonv1.PostgresVersion) int {
	switch v {
	case neonv1.PG14:
		return 14
	case neonv1.PG15:
		return 15
	case neonv1.PG17:
		return 17
	default:
		return 16
	}
}

// cleanup emits a DeleteRequested event; the tenant and its timeline data
// remain in object storage, owned by the Project. Only the compute pod is
// removed, via owner references.
func (r *BranchReconciler) cleanup(ctx context.Context, obj client.Object) (bool, ctrl.Result, error) {
	if r.Recorder != nil {
		r.Recorder.Event(obj, "Normal", "DeleteRequested", "branch deletion requested, no data-plane teardown performed")
	}
	return true, ctrl.Result{}, nil
}

// SetupWithManager registers the reconciler with the controller manager.
func (r *BranchReconciler) SetupWithManager(mgr ctrl.Manager) error {
	return ctrl.NewControllerManagedBy(mgr).
		For(&neonv1.Branch{}).
		Owns(&appsv1.Deployment{}).
		Owns(&corev1.Service{}).
		Owns(&corev1.ConfigMap{}).
		Named("branch").
		Complete(r)
}
