/*
This file is part of Cloud Native PostgreSQL.

Copyright (C) 2019-2021 EnterpriseDB Corporation.
*/

package controller

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	neonv1 "oltp.molnett.org/neon-operator/api/v1"
	"oltp.molnett.org/neon-operator/internal/status"
)

var _ = Describe("BranchReconciler", func() {
	var (
		ctx     context.Context
		cluster *neonv1.Cluster
		project *neonv1.Project
		c       client.Client
		r       *BranchReconciler
	)

	BeforeEach(func() {
		ctx = context.Background()
		cluster = &neonv1.Cluster{
			ObjectMeta: metav1.ObjectMeta{Name: "basic", Namespace: "default"},
			Spec:       neonv1.ClusterSpec{NeonImage: "neon:latest", StorageControllerDatabaseURL: "postgres://u:p@host/db"},
		}
		project = &neonv1.Project{
			ObjectMeta: metav1.ObjectMeta{Name: "proj1", Namespace: "default"},
			Spec:       neonv1.ProjectSpec{ClusterName: "basic", ID: "ext-1", TenantID: "0123456789abcdef0123456789abcdef"},
		}
		c = fake.NewClientBuilder().
			WithScheme(testScheme()).
			WithStatusSubresource(&neonv1.Branch{}).
			WithObjects(cluster, project).
			Build()
		r = &BranchReconciler{
			Client:        c,
			Scheme:        testScheme(),
			StatusManager: status.NewManager(c, status.FieldManagerBranch),
		}
	})

	It("allocates a 32-hex timeline id and requeues shortly after", func() {
		branch := &neonv1.Branch{
			ObjectMeta: metav1.ObjectMeta{Name: "br1", Namespace: "default"},
			Spec:       neonv1.BranchSpec{ProjectID: "proj1", ID: "bext-1"},
		}
		Expect(c.Create(ctx, branch)).To(Succeed())

		result, err := r.Reconcile(ctx, ctrl.Request{NamespacedName: client.ObjectKeyFromObject(branch)})
		Expect(err).NotTo(HaveOccurred())
		Expect(result.RequeueAfter).To(Equal(BranchAllocateRequeueAfter))

		var got neonv1.Branch
		Expect(c.Get(ctx, client.ObjectKeyFromObject(branch), &got)).To(Succeed())
		Expect(got.Spec.TimelineID).To(HaveLen(32))
	})

	It("propagates a compute-spec generation failure instead of mounting an empty spec.json", func() {
		branch := &neonv1.Branch{
			ObjectMeta: metav1.ObjectMeta{Name: "br3", Namespace: "default"},
			Spec:       neonv1.BranchSpec{ProjectID: "proj1", ID: "bext-3", TimelineID: "abcdef0123456789abcdef0123456789"},
		}
		Expect(c.Create(ctx, branch)).To(Succeed())

		// No jwt-keys secret exists for "basic", so Generator.GenerateSpec
		// fails before ever reaching the storage-controller placement call.
		// reconcileComputePod must surface that failure rather than fall
		// back to a hardcoded empty spec.
		err := r.reconcileComputePod(ctx, branch, project, cluster)
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("generating compute spec"))

		var cm corev1.ConfigMap
		getErr := c.Get(ctx, client.ObjectKey{Namespace: "default", Name: branch.ComputeSpecConfigMapName()}, &cm)
		Expect(apierrors.IsNotFound(getErr)).To(BeTrue())
	})

	It("fails the phase when the owning project is missing", func() {
		branch := &neonv1.Branch{
			ObjectMeta: metav1.ObjectMeta{Name: "br2", Namespace: "default"},
			Spec:       neonv1.BranchSpec{ProjectID: "missing", ID: "bext-2"},
		}
		Expect(c.Create(ctx, branch)).To(Succeed())

		result, err := r.Reconcile(ctx, ctrl.Request{NamespacedName: client.ObjectKeyFromObject(branch)})
		Expect(err).NotTo(HaveOccurred())
		Expect(result.RequeueAfter).To(Equal(BranchProjectNotFoundRequeueAfter))

		var got neonv1.Branch
		Expect(c.Get(ctx, client.ObjectKeyFromObject(branch), &got)).To(Succeed())
		Expect(got.Status.Phase).To(Equal(neonv1.PhaseFailed))
	})
})

var _ = Describe("pgVersionNumber", func() {
	It("maps every enum value to its numeric major version and defaults to 16", func() {
		Expect(pgVersionNumber(neonv1.PG14)).To(Equal(14))
		Expect(pgVersionNumber(neonv1.PG15)).To(Equal(15))
		Expect(pgVersionNumber(neonv1.PG16)).To(Equal(16))
		Expect(pgVersionNumber(neonv1.PG17)).To(Equal(17))
		Expect(pgVersionNumber("")).To(Equal(16))
	})
})
