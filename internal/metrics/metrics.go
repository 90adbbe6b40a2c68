/*
This file is part of Cloud Native PostgreSQL.

Copyright (C) 2019-2021 EnterpriseDB Corporation.
*/

// Package metrics holds the control plane's own Prometheus collectors,
// registered into the same registry controller-runtime serves its
// reconcile metrics from.
package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	ctrlmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"
)

var (
	// ReconcileTotal counts reconcile outcomes per controller, mirroring
	// controller-runtime's own workqueue metrics but keyed by our
	// domain-level result instead of just error/no-error.
	ReconcileTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "neon_reconcile_total",
		Help: "Total reconciles per controller, labeled by outcome.",
	}, []string{"controller", "result"})

	// NotifyAttachDuration tracks how long the compute-hook's notify-attach
	// handler takes to push a spec to every affected compute pod.
	NotifyAttachDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "neon_notify_attach_duration_seconds",
		Help:    "Duration of PUT /notify-attach requests, including all downstream /configure pushes.",
		Buckets: prometheus.DefBuckets,
	})
)

func init() {
	ctrlmetrics.Registry.MustRegister(ReconcileTotal, NotifyAttachDuration)
}

var lastEventUnixNano atomic.Int64

// ObserveReconcile records the outcome of one reconcile call: "error" if err
// is non-nil, "requeue" if no error but a requeue was requested, "ok"
// otherwise. It also marks the reconcile as the most recent control-plane
// event for the diagnostics endpoint.
func ObserveReconcile(controller string, requeue bool, err error) {
	switch {
	case err != nil:
		ReconcileTotal.WithLabelValues(controller, "error").Inc()
	case requeue:
		ReconcileTotal.WithLabelValues(controller, "requeue").Inc()
	default:
		ReconcileTotal.WithLabelValues(controller, "ok").Inc()
	}
	touchLastEvent()
}

// touchLastEvent marks now as the most recent control-plane event.
func touchLastEvent() {
	lastEventUnixNano.Store(time.Now().UnixNano())
}

// TouchLastEvent is exported for callers outside this package, such as the
// compute-hook handler, that also count as control-plane activity.
func TouchLastEvent() {
	touchLastEvent()
}

// LastEvent returns the timestamp of the most recent recorded event, or the
// zero time if none has happened yet this process.
func LastEvent() time.Time {
	nanos := lastEventUnixNano.Load()
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos)
}
