/*
This file is part of Cloud Native PostgreSQL.

Copyright (C) 2019-2021 EnterpriseDB Corporation.
*/

package specs

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	neonv1 "oltp.molnett.org/neon-operator/api/v1"
	"oltp.molnett.org/neon-operator/api/v1alpha1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

var _ = Describe("Pageserver object graph", func() {
	cluster := &neonv1.Cluster{
		ObjectMeta: metav1.ObjectMeta{Name: "basic", Namespace: "default"},
		Spec: neonv1.ClusterSpec{
			NeonImage:                "neon:latest",
			BucketCredentialsSecret:  "creds",
		},
	}
	ps := &v1alpha1.Pageserver{
		ObjectMeta: metav1.ObjectMeta{Name: "ps-a", Namespace: "default"},
		Spec: v1alpha1.PageserverSpec{
			ID:      42,
			Cluster: "basic",
			StorageConfig: v1alpha1.StorageConfig{
				Size: "50Gi",
			},
		},
	}

	It("names every managed object {cluster}-pageserver-{id}", func() {
		Expect(ps.ResourceBaseName()).To(Equal("basic-pageserver-42"))
		Expect(PageserverPVC(ps).Name).To(Equal("basic-pageserver-42"))
		Expect(PageserverDeployment(ps, cluster, cluster.Spec.NeonImage).Name).To(Equal("basic-pageserver-42"))
		Expect(PageserverService(ps).Name).To(Equal("basic-pageserver-42"))
	})

	It("carries the drain finalizer on the Deployment, not the CR", func() {
		dep := PageserverDeployment(ps, cluster, cluster.Spec.NeonImage)
		Expect(dep.Finalizers).To(ContainElement(v1alpha1.DrainFinalizerName))
	})

	It("selects on pageserver id alongside component and cluster", func() {
		dep := PageserverDeployment(ps, cluster, cluster.Spec.NeonImage)
		Expect(dep.Spec.Selector.MatchLabels).To(HaveKeyWithValue(LabelPageserverID, "42"))
		Expect(dep.Spec.Selector.MatchLabels).To(HaveKeyWithValue(LabelCluster, "basic"))
	})

	It("exposes both the libpq and http ports", func() {
		svc := PageserverService(ps)
		ports := map[string]int32{}
		for _, p := range svc.Spec.Ports {
			ports[p.Name] = p.Port
		}
		Expect(ports).To(HaveKeyWithValue("libpq", int32(6400)))
		Expect(ports).To(HaveKeyWithValue("http", int32(9898)))
	})

	It("falls back to the cluster's bucket-credentials secret when unset", func() {
		dep := PageserverDeployment(ps, cluster, cluster.Spec.NeonImage)
		container := dep.Spec.Template.Spec.Containers[0]
		found := false
		for _, env := range container.Env {
			if env.Name == "BUCKET_NAME" {
				Expect(env.ValueFrom.SecretKeyRef.Name).To(Equal("creds"))
				found = true
			}
		}
		Expect(found).To(BeTrue())
	})
})
