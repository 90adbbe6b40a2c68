/*
This file is part of Cloud Native PostgreSQL.

Copyright (C) 2019-2021 EnterpriseDB Corporation.
*/

package controller

import (
	"context"
	"fmt"
	"time"

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
	"oltp.molnett.org/neon-operator/internal/apierrors"
	"oltp.molnett.org/neon-operator/internal/metrics"
	"oltp.molnett.org/neon-operator/internal/status"
	"oltp.molnett.org/neon-operator/pkg/specs"
	"oltp.molnett.org/neon-operator/pkg/utils"
)

var pageserverLog = ctrl.Log.WithName("pageserver-controller")

// PageserverDrainRequeueAfter is the fixed requeue interval while a
// pageserver's managed Deployment awaits drain completion.
const PageserverDrainRequeueAfter = 30 * time.Second

// PageserverReconciler reconciles a Pageserver object: one ConfigMap, PVC,
// Deployment and Service, plus the drain-finalizer protocol on the
// Deployment itself.
type PageserverReconciler struct {
	client.Client
	Scheme        *runtime.Scheme
	StatusManager *status.Manager
	Image         string
}

// +kubebuilder:rbac:groups=oltp.molnett.org,resources=pageservers,verbs=get;list;watch;create;update;patch;delete
// +kubebuilder:rbac:groups=oltp.molnett.org,resources=pageservers/status,verbs=get;update;patch
// +kubebuilder:rbac:groups="",resources=persistentvolumeclaims;services;configmaps;secrets,verbs=get;list;watch;create;update;patch;delete
// +kubebuilder:rbac:groups=apps,resources=deployments,verbs=get;list;watch;create;update;patch;delete

func (r *PageserverReconciler) Reconcile(ctx context.Context, req ctrl.Request) (result ctrl.Result, err error) {
	defer func() { metrics.ObserveReconcile("pageserver", result.Requeue || result.RequeueAfter > 0, err) }()
	log := logf.FromContext(ctx)

	var ps v1alpha1.Pageserver
	if err := r.Get(ctx, req.NamespacedName, &ps); err != nil {
		if apierrs.IsNotFound(err) {
			return ctrl.Result{}, nil
		}
		return ctrl.Result{}, fmt.Errorf("fetching pageserver: %w", err)
	}

	var cluster neonv1.Cluster
	if err := r.Get(ctx, client.ObjectKey{Namespace: ps.Namespace, Name: ps.Spec.Cluster}, &cluster); err != nil {
		if apierrs.IsNotFound(err) {
			_ = r.StatusManager.SetCondition(ctx, &ps, v1alpha1.ConditionReady, neonv1.ConditionFalse,
				"ClusterNotFound", fmt.Sprintf("cluster %s not found", ps.Spec.Cluster))
			_ = r.StatusManager.SetPhase(ctx, &ps, neonv1.PhaseFailed)
			return ctrl.Result{RequeueAfter: apierrors.DefaultRequeueAfter}, nil
		}
		return ctrl.Result{}, fmt.Errorf("fetching cluster: %w", err)
	}

	name := ps.ResourceBaseName()

	// Drain protocol: the Deployment, not the Pageserver CR, carries the
	// drain finalizer.
	var dep appsv1.Deployment
	err := r.Get(ctx, client.ObjectKey{Namespace: ps.Namespace, Name: name}, &dep)
	if err == nil && !dep.DeletionTimestamp.IsZero() && controllerutil.ContainsFinalizer(&dep, v1alpha1.DrainFinalizerName) {
		return r.reconcileDrain(ctx, &dep)
	}

	configMap := specs.PageserverConfigMap(&ps, &cluster, "", "", "")
	if err := r.applyConfigMap(ctx, &ps, configMap); err != nil {
		return ctrl.Result{}, fmt.Errorf("reconciling pageserver configmap: %w", err)
	}

	if err := r.applyPVC(ctx, &ps, specs.PageserverPVC(&ps)); err != nil {
		return ctrl.Result{}, fmt.Errorf("reconciling pageserver pvc: %w", err)
	}

	image := r.Image
	if image == "" {
		image = cluster.Spec.NeonImage
	}
	desiredDep := specs.PageserverDeployment(&ps, &cluster, image)
	if err := r.applyDeployment(ctx, &ps, desiredDep); err != nil {
		return ctrl.Result{}, fmt.Errorf("reconciling pageserver deployment: %w", err)
	}

	if err := r.applyService(ctx, &ps, specs.PageserverService(&ps)); err != nil {
		return ctrl.Result{}, fmt.Errorf("reconciling pageserver service: %w", err)
	}

	ready, err := r.deploymentReady(ctx, ps.Namespace, name)
	if err != nil {
		log.Error(err, "checking deployment readiness")
	}

	readyStatus := neonv1.ConditionFalse
	phase := neonv1.PhaseCreating
	if ready {
		readyStatus = neonv1.ConditionTrue
		phase = neonv1.PhaseReady
	}
	if err := r.StatusManager.SetCondition(ctx, &ps, v1alpha1.ConditionReady, readyStatus, "", ""); err != nil {
		log.Error(err, "patching Ready condition")
	}
	if err := r.StatusManager.SetPhase(ctx, &ps, phase); err != nil {
		log.Error(err, "patching phase")
	}

	return ctrl.Result{}, nil
}

// reconcileDrain implements the drain protocol of §4.3: while the
// Deployment's neon.io/drained annotation is not "true", the drain trigger
// is invoked (a placeholder in this implementation, per the spec's own open
// question) and the reconcile fails with a fixed 30-second requeue without
// removing the finalizer. Once drained, the finalizer is removed and
// Kubernetes garbage-collects the Deployment.
func (r *PageserverReconciler) reconcileDrain(ctx context.Context, dep *appsv1.Deployment) (ctrl.Result, error) {
	if dep.Annotations[v1alpha1.DrainedAnnotation] != "true" {
		pageserverLog.Info("pageserver deployment awaiting drain", "deployment", dep.Name)
		return ctrl.Result{RequeueAfter: PageserverDrainRequeueAfter}, nil
	}

	controllerutil.RemoveFinalizer(dep, v1alpha1.DrainFinalizerName)
	if err := r.Update(ctx, dep); err != nil && !apierrs.IsNotFound(err) {
		return ctrl.Result{}, fmt.Errorf("removing drain finalizer: %w", err)
	}
	return ctrl.Result{}, nil
}

func (r *PageserverReconciler) applyConfigMap(ctx context.Context, ps *v1alpha1.Pageserver, desired *corev1.ConfigMap) error {
	if err := controllerutil.SetControllerReference(ps, desired, r.Scheme); err != nil {
		return err
	}
	var existing corev1.ConfigMap
	err := r.Get(ctx, client.ObjectKeyFromObject(desired), &existing)
	if apierrs.IsNotFound(err) {
		return r.Create(ctx, desired)
	}
	if err != nil {
		return err
	}
	if utils.MapsEqual(existing.Data, desired.Data) {
		return nil
	}
	existing.Data = desired.Data
	return r.Update(ctx, &existing)
}

func (r *PageserverReconciler) applyPVC(ctx context.Context, ps *v1alpha1.Pageserver, desired *corev1.PersistentVolumeClaim) error {
	if err := controllerutil.SetControllerReference(ps, desired, r.Scheme); err != nil {
		return err
	}
	var existing corev1.PersistentVolumeClaim
	err := r.Get(ctx, client.ObjectKeyFromObject(desired), &existing)
	if apierrs.IsNotFound(err) {
		return r.Create(ctx, desired)
	}
	return err
}

func (r *PageserverReconciler) applyDeployment(ctx context.Context, ps *v1alpha1.Pageserver, desired *appsv1.Deployment) error {
	if err := controllerutil.SetControllerReference(ps, desired, r.Scheme); err != nil {
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

func (r *PageserverReconciler) applyService(ctx context.Context, ps *v1alpha1.Pageserver, desired *corev1.Service) error {
	if err := controllerutil.SetControllerReference(ps, desired, r.Scheme); err != nil {
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

func (r *PageserverReconciler) deploymentReady(ctx context.Context, namespace, name string) (bool, error) {
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

// SetupWithManager registers the reconciler with the controller manager.
func (r *PageserverReconciler) SetupWithManager(mgr ctrl.Manager) error {
	return ctrl.NewControllerManagedBy(mgr).
		For(&v1alpha1.Pageserver{}).
		Owns(&appsv1.Deployment{}).
		Owns(&corev1.Service{}).
		Owns(&corev1.PersistentVolumeClaim{}).
		Owns(&corev1.ConfigMap{}).
		Named("pageserver").
		Complete(r)
}
