/*
This file is part of Cloud Native PostgreSQL.

Copyright (C) 2019-2021 EnterpriseDB Corporation.
*/

package controller

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	neonv1 "oltp.molnett.org/neon-operator/api/v1"
	"oltp.molnett.org/neon-operator/internal/status"
)

var _ = Describe("ProjectReconciler", func() {
	var (
		ctx     context.Context
		cluster *neonv1.Cluster
		c       client.Client
		r       *ProjectReconciler
	)

	BeforeEach(func() {
		ctx = context.Background()
		cluster = &neonv1.Cluster{
			ObjectMeta: metav1.ObjectMeta{Name: "basic", Namespace: "default"},
			Spec:       neonv1.ClusterSpec{NeonImage: "neon:latest", StorageControllerDatabaseURL: "postgres://u:p@host/db"},
		}
		c = fake.NewClientBuilder().
			WithScheme(testScheme()).
			WithStatusSubresource(&neonv1.Project{}).
			WithObjects(cluster).
			Build()
		r = &ProjectReconciler{
			Client:        c,
			Scheme:        testScheme(),
			StatusManager: status.NewManager(c, status.FieldManagerProject),
		}
	})

	It("allocates a 32-hex tenant id and requeues immediately", func() {
		project := &neonv1.Project{
			ObjectMeta: metav1.ObjectMeta{Name: "proj1", Namespace: "default"},
			Spec:       neonv1.ProjectSpec{ClusterName: "basic", ID: "ext-1"},
		}
		Expect(c.Create(ctx, project)).To(Succeed())

		result, err := r.Reconcile(ctx, ctrl.Request{NamespacedName: client.ObjectKeyFromObject(project)})
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Requeue).To(BeTrue())

		var got neonv1.Project
		Expect(c.Get(ctx, client.ObjectKeyFromObject(project), &got)).To(Succeed())
		Expect(got.Spec.TenantID).To(HaveLen(32))
	})

	It("marks the cluster not found and fails the phase when the cluster is missing", func() {
		project := &neonv1.Project{
			ObjectMeta: metav1.ObjectMeta{Name: "proj2", Namespace: "default"},
			Spec:       neonv1.ProjectSpec{ClusterName: "missing", ID: "ext-2"},
		}
		Expect(c.Create(ctx, project)).To(Succeed())

		result, err := r.Reconcile(ctx, ctrl.Request{NamespacedName: client.ObjectKeyFromObject(project)})
		Expect(err).NotTo(HaveOccurred())
		Expect(result.RequeueAfter).To(Equal(ProjectFailureRequeueAfter))

		var got neonv1.Project
		Expect(c.Get(ctx, client.ObjectKeyFromObject(project), &got)).To(Succeed())
		Expect(got.Status.Phase).To(Equal(neonv1.PhaseFailed))
	})

	It("does nothing for an object that no longer exists", func() {
		result, err := r.Reconcile(ctx, ctrl.Request{NamespacedName: client.ObjectKey{Namespace: "default", Name: "gone"}})
		Expect(err).NotTo(HaveOccurred())
		Expect(result).To(Equal(ctrl.Result{}))
	})
})

var _ = Describe("generateHexID", func() {
	It("produces the requested number of hex-encoded bytes", func() {
		id, err := generateHexID(16)
		Expect(err).NotTo(HaveOccurred())
		Expect(id).To(HaveLen(32))
	})
})
