/*
This file is part of Cloud Native PostgreSQL.

Copyright (C) 2019-2021 EnterpriseDB Corporation.
*/

package controller

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	appsv1 "k8s.io/api/apps/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	neonv1 "oltp.molnett.org/neon-operator/api/v1"
	"oltp.molnett.org/neon-operator/api/v1alpha1"
	"oltp.molnett.org/neon-operator/internal/status"
)

var _ = Describe("PageserverReconciler", func() {
	var (
		ctx     context.Context
		cluster *neonv1.Cluster
		c       client.Client
		r       *PageserverReconciler
	)

	BeforeEach(func() {
		ctx = context.Background()
		cluster = &neonv1.Cluster{
			ObjectMeta: metav1.ObjectMeta{Name: "basic", Namespace: "default"},
			Spec:       neonv1.ClusterSpec{NeonImage: "neon:latest", StorageControllerDatabaseURL: "postgres://u:p@host/db"},
		}
		c = fake.NewClientBuilder().
			WithScheme(testScheme()).
			WithStatusSubresource(&v1alpha1.Pageserver{}).
			WithObjects(cluster).
			Build()
		r = &PageserverReconciler{
			Client:        c,
			Scheme:        testScheme(),
			StatusManager: status.NewManager(c, status.FieldManagerPageserver),
			Image:         "neon:latest",
		}
	})

	It("creates the managed Deployment and reports not-ready until it has a ready replica", func() {
		ps := &v1alpha1.Pageserver{
			ObjectMeta: metav1.ObjectMeta{Name: "ps1", Namespace: "default"},
			Spec: v1alpha1.PageserverSpec{
				ID:            7,
				Cluster:       "basic",
				StorageConfig: v1alpha1.StorageConfig{Size: "10Gi"},
			},
		}
		Expect(c.Create(ctx, ps)).To(Succeed())

		_, err := r.Reconcile(ctx, ctrl.Request{NamespacedName: client.ObjectKeyFromObject(ps)})
		Expect(err).NotTo(HaveOccurred())

		var dep appsv1.Deployment
		Expect(c.Get(ctx, client.ObjectKey{Namespace: "default", Name: ps.ResourceBaseName()}, &dep)).To(Succeed())

		var got v1alpha1.Pageserver
		Expect(c.Get(ctx, client.ObjectKeyFromObject(ps), &got)).To(Succeed())
		Expect(got.Status.Phase).To(Equal(neonv1.PhaseCreating))
		Expect(status.IsTrue(&got, v1alpha1.ConditionReady)).To(BeFalse())
	})

	It("issues no further writes to the Deployment/ConfigMap on a second, unchanged reconcile", func() {
		ps := &v1alpha1.Pageserver{
			ObjectMeta: metav1.ObjectMeta{Name: "ps3", Namespace: "default"},
			Spec: v1alpha1.PageserverSpec{
				ID:            9,
				Cluster:       "basic",
				StorageConfig: v1alpha1.StorageConfig{Size: "10Gi"},
			},
		}
		Expect(c.Create(ctx, ps)).To(Succeed())

		_, err := r.Reconcile(ctx, ctrl.Request{NamespacedName: client.ObjectKeyFromObject(ps)})
		Expect(err).NotTo(HaveOccurred())

		var depAfterFirst appsv1.Deployment
		Expect(c.Get(ctx, client.ObjectKey{Namespace: "default", Name: ps.ResourceBaseName()}, &depAfterFirst)).To(Succeed())

		_, err = r.Reconcile(ctx, ctrl.Request{NamespacedName: client.ObjectKeyFromObject(ps)})
		Expect(err).NotTo(HaveOccurred())

		var depAfterSecond appsv1.Deployment
		Expect(c.Get(ctx, client.ObjectKey{Namespace: "default", Name: ps.ResourceBaseName()}, &depAfterSecond)).To(Succeed())
		Expect(depAfterSecond.ResourceVersion).To(Equal(depAfterFirst.ResourceVersion))
	})

	It("fails the phase when the owning cluster is missing", func() {
		ps := &v1alpha1.Pageserver{
			ObjectMeta: metav1.ObjectMeta{Name: "ps2", Namespace: "default"},
			Spec: v1alpha1.PageserverSpec{
				ID:            1,
				Cluster:       "missing",
				StorageConfig: v1alpha1.StorageConfig{Size: "10Gi"},
			},
		}
		Expect(c.Create(ctx, ps)).To(Succeed())

		result, err := r.Reconcile(ctx, ctrl.Request{NamespacedName: client.ObjectKeyFromObject(ps)})
		Expect(err).NotTo(HaveOccurred())
		Expect(result.RequeueAfter).NotTo(BeZero())

		var got v1alpha1.Pageserver
		Expect(c.Get(ctx, client.ObjectKeyFromObject(ps), &got)).To(Succeed())
		Expect(got.Status.Phase).To(Equal(neonv1.PhaseFailed))
	})
})
