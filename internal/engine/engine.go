/*
This file is part of Cloud Native PostgreSQL.

Copyright (C) 2019-2021 EnterpriseDB Corporation.
*/

// Package engine layers the finalizer and requeue-policy conventions of
// §4.1 on top of controller-runtime's own Reconciler/workqueue machinery,
// so the four controllers in internal/controller share one implementation
// of "add finalizer before any other work", "cleanup before finalizer
// removal", and "errors tagged with an explicit requeue duration are
// honored verbatim".
package engine

import (
	"context"
	"time"

	apierrs "k8s.io/apimachinery/pkg/api/errors"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"

	"oltp.molnett.org/neon-operator/internal/apierrors"
)

// DefaultRequeueAfter is the requeue duration used on success when a
// controller has no better-informed interval of its own.
const DefaultRequeueAfter = apierrors.DefaultRequeueAfter

// CleanupFunc runs a controller's deletion-time cleanup. It returns
// drained=true once cleanup has fully succeeded and the finalizer may be
// removed; drained=false (with no error) asks the engine to requeue and try
// again later without removing the finalizer.
type CleanupFunc func(ctx context.Context, obj client.Object) (done bool, result ctrl.Result, err error)

// EnsureFinalizer adds the finalizer to obj if it is not already present,
// persisting the change immediately. Per §4.1: "when an object lacks the
// controller's finalizer, it is added before any other work is done".
func EnsureFinalizer(ctx context.Context, c client.Client, obj client.Object, finalizer string) (added bool, err error) {
	if controllerutil.ContainsFinalizer(obj, finalizer) {
		return false, nil
	}
	controllerutil.AddFinalizer(obj, finalizer)
	if err := c.Update(ctx, obj); err != nil {
		return false, err
	}
	return true, nil
}

// HandleDeletion implements the finalizer protocol: if obj is not being
// deleted, it is a no-op (handled=false) and the caller proceeds with
// normal reconciliation. If obj is being deleted and carries the
// finalizer, cleanup runs; only on success is the finalizer removed.
func HandleDeletion(
	ctx context.Context,
	c client.Client,
	obj client.Object,
	finalizer string,
	cleanup CleanupFunc,
) (handled bool, result ctrl.Result, err error) {
	if obj.GetDeletionTimestamp().IsZero() {
		return false, ctrl.Result{}, nil
	}

	if !controllerutil.ContainsFinalizer(obj, finalizer) {
		// Nothing of ours left to clean up.
		return true, ctrl.Result{}, nil
	}

	done, result, err := cleanup(ctx, obj)
	if err != nil {
		return true, ctrl.Result{}, err
	}
	if !done {
		return true, result, nil
	}

	controllerutil.RemoveFinalizer(obj, finalizer)
	if err := c.Update(ctx, obj); err != nil && !apierrs.IsNotFound(err) {
		return true, ctrl.Result{}, err
	}
	return true, ctrl.Result{}, nil
}

// Outcome turns an error from the taxonomy in internal/apierrors into the
// ctrl.Result/error pair the controller-runtime manager expects, honoring
// an explicit RequeueableError duration verbatim and falling back to
// DefaultRequeueAfter for anything else. A nil error always means "await
// the next change" (ctrl.Result{}, nil).
func Outcome(err error) (ctrl.Result, error) {
	if err == nil {
		return ctrl.Result{}, nil
	}
	if re, ok := apierrors.AsRequeueable(err); ok {
		return ctrl.Result{RequeueAfter: re.After}, nil
	}
	// A 404 on a subresource or a 409 on create are not fatal by
	// themselves; callers are expected to have already translated those
	// into either success or a RequeueableError before reaching here. Any
	// other error is a transient API error or a programming error:
	// surface it so controller-runtime's rate limiter backs off.
	return ctrl.Result{}, err
}

// RequeueAfter is a small convenience matching the Requeue() constructor in
// internal/apierrors, kept here so controllers only need one import for
// common cases.
func RequeueAfter(reason string, after time.Duration) error {
	return apierrors.Requeue(reason, after, nil)
}
