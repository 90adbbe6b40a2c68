/*
This file is part of Cloud Native PostgreSQL.

Copyright (C) 2019-2021 EnterpriseDB Corporation.
*/

package specs

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	neonv1 "oltp.molnett.org/neon-operator/api/v1"
)

var _ = Describe("Compute pod object graph", func() {
	cluster := &neonv1.Cluster{
		ObjectMeta: metav1.ObjectMeta{Name: "basic", Namespace: "default"},
		Spec:       neonv1.ClusterSpec{NeonImage: "neon:latest"},
	}
	project := &neonv1.Project{
		ObjectMeta: metav1.ObjectMeta{Name: "proj-a", Namespace: "default"},
		Spec: neonv1.ProjectSpec{
			ClusterName:         "basic",
			TenantID:            "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
			SuperuserName:       "cloud_admin",
			DefaultDatabaseName: "postgres",
		},
	}
	branch := &neonv1.Branch{
		ObjectMeta: metav1.ObjectMeta{Name: "branch-a", Namespace: "default"},
		Spec: neonv1.BranchSpec{
			ProjectID:  "proj-a",
			TimelineID: "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb",
		},
	}

	It("names the Deployment {branch}-compute-node", func() {
		dep := ComputeDeployment(branch, project, cluster, "control-plane.default", cluster.Spec.NeonImage)
		Expect(dep.Name).To(Equal("branch-a-compute-node"))
	})

	It("labels the pod with tenant and timeline ids", func() {
		dep := ComputeDeployment(branch, project, cluster, "control-plane.default", cluster.Spec.NeonImage)
		Expect(dep.Spec.Template.Labels).To(HaveKeyWithValue(LabelTenantID, project.Spec.TenantID))
		Expect(dep.Spec.Template.Labels).To(HaveKeyWithValue(LabelTimelineID, branch.Spec.TimelineID))
	})

	It("annotates the Deployment with cluster name and compute id", func() {
		dep := ComputeDeployment(branch, project, cluster, "control-plane.default", cluster.Spec.NeonImage)
		Expect(dep.Annotations).To(HaveKeyWithValue(AnnotationClusterName, "basic"))
		Expect(dep.Annotations).To(HaveKeyWithValue(AnnotationComputeID, "branch-a"))
	})

	It("passes the compute-id and control-plane flags literally", func() {
		dep := ComputeDeployment(branch, project, cluster, "control-plane.default", cluster.Spec.NeonImage)
		args := dep.Spec.Template.Spec.Containers[0].Args
		Expect(args).To(ContainElement("--compute-id"))
		Expect(args).To(ContainElement("branch-a"))
		Expect(args).To(ContainElement("http://control-plane.default:8080"))
	})

	It("mounts the compute-spec ConfigMap at /var", func() {
		dep := ComputeDeployment(branch, project, cluster, "control-plane.default", cluster.Spec.NeonImage)
		var found bool
		for _, v := range dep.Spec.Template.Spec.Volumes {
			if v.Name == "spec-volume" {
				Expect(v.ConfigMap.Name).To(Equal(branch.ComputeSpecConfigMapName()))
				found = true
			}
		}
		Expect(found).To(BeTrue())
	})
})
