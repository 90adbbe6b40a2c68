/*
This file is part of Cloud Native PostgreSQL.

Copyright (C) 2019-2021 EnterpriseDB Corporation.
*/

// Package controller holds the four reconcilers of the control plane, one
// per custom resource kind: Cluster, Pageserver, Project and Branch.
package controller

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrs "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/runtime"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"
	logf "sigs.k8s.io/controller-runtime/pkg/log"

	neonv1 "oltp.molnett.org/neon-operator/api/v1"
	"oltp.molnett.org/neon-operator/api/v1alpha1"
	"oltp.molnett.org/neon-operator/internal/engine"
	"oltp.molnett.org/neon-operator/internal/jwtkeys"
	"oltp.molnett.org/neon-operator/internal/metrics"
	"oltp.molnett.org/neon-operator/internal/status"
	"oltp.molnett.org/neon-operator/pkg/specs"
	"oltp.molnett.org/neon-operator/pkg/utils"
)

var clusterLog = ctrl.Log.WithName("cluster-controller")

// ClusterReconciler reconciles a Cluster object: the broker, safekeeper
// collection, storage controller and per-cluster JWT-keys secret, in that
// fixed order, per §4.2.
type ClusterReconciler struct {
	client.Client
	Scheme             *runtime.Scheme
	StatusManager      *status.Manager
	ComputeHookBaseURL string
}

// +kubebuilder:rbac:groups=oltp.molnett.org,resources=clusters,verbs=get;list;watch;create;update;patch;delete
// +kubebuilder:rbac:groups=oltp.molnett.org,resources=clusters/status,verbs=get;update;patch
// +kubebuilder:rbac:groups=oltp.molnett.org,resources=clusters/finalizers,verbs=update
// +kubebuilder:rbac:groups=apps,resources=deployments,verbs=get;list;watch;create;update;patch;delete
// +kubebuilder:rbac:groups="",resources=services;persistentvolumeclaims;configmaps;secrets,verbs=get;list;watch;create;update;patch;delete

func (r *ClusterReconciler) Reconcile(ctx context.Context, req ctrl.Request) (result ctrl.Result, err error) {
	defer func() { metrics.ObserveReconcile("cluster", result.Requeue || result.RequeueAfter > 0, err) }()
	log := logf.FromContext(ctx)

	var cluster neonv1.Cluster
	if err := r.Get(ctx, req.NamespacedName, &cluster); err != nil {
		if apierrs.IsNotFound(err) {
			return ctrl.Result{}, nil
		}
		return ctrl.Result{}, fmt.Errorf("fetching cluster: %w", err)
	}

	if handled, result, err := engine.HandleDeletion(ctx, r.Client, &cluster, neonv1.ClusterFinalizerName, r.cleanup); handled {
		return result, err
	}

	if _, err := engine.EnsureFinalizer(ctx, r.Client, &cluster, neonv1.ClusterFinalizerName); err != nil {
		return engine.Outcome(fmt.Errorf("adding finalizer: %w", err))
	}

	if err := r.validateDatabaseURL(cluster.Spec.StorageControllerDatabaseURL); err != nil {
		_ = r.StatusManager.SetCondition(ctx, &cluster, neonv1.ConditionStorageControllerReady,
			neonv1.ConditionFalse, "InvalidDatabaseURL", err.Error())
		_ = r.StatusManager.SetPhase(ctx, &cluster, neonv1.PhaseFailed)
		return ctrl.Result{}, nil
	}

	if err := r.reconcileJWTKeys(ctx, &cluster); err != nil {
		return engine.Outcome(fmt.Errorf("reconciling jwt-keys secret: %w", err))
	}

	brokerReady, err := r.reconcileBroker(ctx, &cluster)
	if err != nil {
		return engine.Outcome(fmt.Errorf("reconciling broker: %w", err))
	}

	safekeepersReady, err := r.reconcileSafekeepers(ctx, &cluster)
	if err != nil {
		return engine.Outcome(fmt.Errorf("reconciling safekeepers: %w", err))
	}

	storageControllerReady, err := r.reconcileStorageController(ctx, &cluster)
	if err != nil {
		return engine.Outcome(fmt.Errorf("reconciling storage controller: %w", err))
	}

	pageserversReady, err := r.pageserversReady(ctx, &cluster)
	if err != nil {
		log.Error(err, "listing pageservers for readiness")
	}

	if err := r.StatusManager.SetCondition(ctx, &cluster, neonv1.ConditionStorageBrokerReady, conditionStatus(brokerReady), "", ""); err != nil {
		log.Error(err, "patching StorageBrokerReady condition")
	}
	if err := r.StatusManager.SetCondition(ctx, &cluster, neonv1.ConditionSafeKeeperReady, conditionStatus(safekeepersReady), "", ""); err != nil {
		log.Error(err, "patching SafeKeeperReady condition")
	}
	if err := r.StatusManager.SetCondition(ctx, &cluster, neonv1.ConditionStorageControllerReady, conditionStatus(storageControllerReady), "", ""); err != nil {
		log.Error(err, "patching StorageControllerReady condition")
	}
	if err := r.StatusManager.SetCondition(ctx, &cluster, neonv1.ConditionPageServerReady, conditionStatus(pageserversReady), "", ""); err != nil {
		log.Error(err, "patching PageServerReady condition")
	}

	phase := neonv1.PhaseCreating
	if brokerReady && safekeepersReady && storageControllerReady && pageserversReady {
		phase = neonv1.PhaseReady
	}
	if err := r.StatusManager.SetPhase(ctx, &cluster, phase); err != nil {
		log.Error(err, "patching phase")
	}

	return ctrl.Result{RequeueAfter: engine.DefaultRequeueAfter}, nil
}

func (r *ClusterReconciler) cleanup(ctx context.Context, obj client.Object) (bool, ctrl.Result, error) {
	// Subcomponents carry owner references to the Cluster; Kubernetes
	// garbage-collects them once the finalizer is removed. No data-plane
	// teardown is defined for a Cluster deletion.
	return true, ctrl.Result{}, nil
}

func (r *ClusterReconciler) validateDatabaseURL(dsn string) error {
	if dsn == "" {
		return fmt.Errorf("storageControllerDatabaseUrl must not be empty")
	}
	if _, err := pgconn.ParseConfig(dsn); err != nil {
		return fmt.Errorf("storageControllerDatabaseUrl is not a valid postgres DSN: %w", err)
	}
	return nil
}

func (r *ClusterReconciler) reconcileJWTKeys(ctx context.Context, cluster *neonv1.Cluster) error {
	var secret corev1.Secret
	err := r.Get(ctx, client.ObjectKey{Namespace: cluster.Namespace, Name: jwtkeys.SecretName(cluster.Name)}, &secret)
	if err == nil {
		return nil
	}
	if !apierrs.IsNotFound(err) {
		return fmt.Errorf("reading jwt-keys secret: %w", err)
	}

	keyPair, err := jwtkeys.Generate()
	if err != nil {
		return fmt.Errorf("generating jwt keypair: %w", err)
	}
	newSecret, err := jwtkeys.BuildSecret(cluster.Namespace, cluster.Name, keyPair)
	if err != nil {
		return fmt.Errorf("building jwt-keys secret: %w", err)
	}
	if err := controllerutil.SetControllerReference(cluster, newSecret, r.Scheme); err != nil {
		return fmt.Errorf("setting owner reference: %w", err)
	}
	if err := r.Create(ctx, newSecret); err != nil && !apierrs.IsAlreadyExists(err) {
		return fmt.Errorf("creating jwt-keys secret: %w", err)
	}
	return nil
}

func (r *ClusterReconciler) reconcileBroker(ctx context.Context, cluster *neonv1.Cluster) (bool, error) {
	desired := specs.BrokerDeployment(cluster)
	if err := r.applyDeployment(ctx, cluster, desired); err != nil {
		return false, err
	}
	if err := r.applyService(ctx, cluster, specs.BrokerService(cluster)); err != nil {
		return false, err
	}
	return r.deploymentReady(ctx, cluster.Namespace, desired.Name)
}

func (r *ClusterReconciler) reconcileSafekeepers(ctx context.Context, cluster *neonv1.Cluster) (bool, error) {
	n := int(cluster.Spec.NumSafekeepers)
	if n <= 0 {
		n = 3
	}

	allReady := true
	for i := 0; i < n; i++ {
		dep := specs.SafekeeperDeployment(cluster, i)
		if err := r.applyDeployment(ctx, cluster, dep); err != nil {
			return false, err
		}
		if err := r.applyPVC(ctx, cluster, specs.SafekeeperPVC(cluster, i)); err != nil {
			return false, err
		}
		if err := r.applyService(ctx, cluster, specs.SafekeeperServiceObject(cluster, i)); err != nil {
			return false, err
		}
		ready, err := r.deploymentReady(ctx, cluster.Namespace, dep.Name)
		if err != nil {
			return false, err
		}
		allReady = allReady && ready
	}
	return allReady, nil
}

func (r *ClusterReconciler) reconcileStorageController(ctx context.Context, cluster *neonv1.Cluster) (bool, error) {
	desired := specs.StorageControllerDeployment(cluster, r.ComputeHookBaseURL)
	if err := r.applyDeployment(ctx, cluster, desired); err != nil {
		return false, err
	}
	if err := r.applyService(ctx, cluster, specs.StorageControllerService(cluster)); err != nil {
		return false, err
	}
	return r.deploymentReady(ctx, cluster.Namespace, desired.Name)
}

func (r *ClusterReconciler) pageserversReady(ctx context.Context, cluster *neonv1.Cluster) (bool, error) {
	var list v1alpha1.PageserverList
	if err := r.List(ctx, &list, client.InNamespace(cluster.Namespace)); err != nil {
		return false, fmt.Errorf("listing pageservers: %w", err)
	}
	for _, ps := range list.Items {
		if ps.Spec.Cluster != cluster.Name {
			continue
		}
		if !status.IsTrue(&ps, v1alpha1.ConditionReady) {
			return false, nil
		}
	}
	return true, nil
}

func (r *ClusterReconciler) applyDeployment(ctx context.Context, cluster *neonv1.Cluster, desired *appsv1.Deployment) error {
	if err := controllerutil.SetControllerReference(cluster, desired, r.Scheme); err != nil {
		return err
	}
	var existing appsv1.Deployment
	err := r.Get(ctx, client.ObjectKeyFromObject(desired), &existing)
	if apierrs.IsNotFound(err) {
		return r.Create(ctx, desired)
	}
	if err != nil {
		return err
	}
	if !utils.DeploymentNeedsUpdate(&existing, desired) {
		return nil
	}
	existing.Spec.Replicas = desired.Spec.Replicas
	existing.Spec.Template = desired.Spec.Template
	return r.Update(ctx, &existing)
}

func (r *ClusterReconciler) applyService(ctx context.Context, cluster *neonv1.Cluster, desired *corev1.Service) error {
	if err := controllerutil.SetControllerReference(cluster, desired, r.Scheme); err != nil {
		return err
	}
	var existing corev1.Service
	err := r.Get(ctx, client.ObjectKeyFromObject(desired), &existing)
	if apierrs.IsNotFound(err) {
		return r.Create(ctx, desired)
	}
	if err != nil {
		return err
	}
	if utils.MapsEqual(existing.Spec.Selector, desired.Spec.Selector) &&
		utils.ServicePortsEqual(existing.Spec.Ports, desired.Spec.Ports) {
		return nil
	}
	existing.Spec.Selector = desired.Spec.Selector
	existing.Spec.Ports = desired.Spec.Ports
	return r.Update(ctx, &existing)
}

func (r *ClusterReconciler) applyPVC(ctx context.Context, cluster *neonv1.Cluster, desired *corev1.PersistentVolumeClaim) error {
	if err := controllerutil.SetControllerReference(cluster, desired, r.Scheme); err != nil {
		return err
	}
	var existing corev1.PersistentVolumeClaim
	err := r.Get(ctx, client.ObjectKeyFromObject(desired), &existing)
	if apierrs.IsNotFound(err) {
		return r.Create(ctx, desired)
	}
	return err
}

func (r *ClusterReconciler) deploymentReady(ctx context.Context, namespace, name string) (bool, error) {
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

func conditionStatus(ready bool) neonv1.ConditionStatus {
	if ready {
		return neonv1.ConditionTrue
	}
	return neonv1.ConditionFalse
}

// SetupWithManager registers the reconciler with the controller manager.
func (r *ClusterReconciler) SetupWithManager(mgr ctrl.Manager) error {
	return ctrl.NewControllerManagedBy(mgr).
		For(&neonv1.Cluster{}).
		Owns(&appsv1.Deployment{}).
		Owns(&corev1.Service{}).
		Owns(&corev1.PersistentVolumeClaim{}).
		Owns(&corev1.Secret{}).
		Named("cluster").
		Complete(r)
}
