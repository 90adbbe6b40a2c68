/*
This file is part of Cloud Native PostgreSQL.

Copyright (C) 2019-2021 EnterpriseDB Corporation.
*/

package webhook

import (
	"context"
	"encoding/json"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	admissionv1 "k8s.io/api/admission/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	"oltp.molnett.org/neon-operator/api/v1alpha1"
)

func pageserverScheme() *runtime.Scheme {
	scheme := runtime.NewScheme()
	_ = v1alpha1.AddToScheme(scheme)
	return scheme
}

var _ = Describe("Validator", func() {
	It("rejects a missing admission request", func() {
		v := NewValidator(fake.NewClientBuilder().WithScheme(pageserverScheme()).Build())
		resp := v.Review(context.Background(), &admissionv1.AdmissionReview{})
		Expect(resp.Response.Allowed).To(BeFalse())
		Expect(resp.Response.Result.Message).To(Equal("Missing admission request"))
	})

	It("allows delete unconditionally", func() {
		v := NewValidator(fake.NewClientBuilder().WithScheme(pageserverScheme()).Build())
		resp := v.Review(context.Background(), &admissionv1.AdmissionReview{
			Request: &admissionv1.AdmissionRequest{Operation: admissionv1.Delete},
		})
		Expect(resp.Response.Allowed).To(BeTrue())
	})

	It("rejects create when id+cluster collide in a different namespace", func() {
		existing := &v1alpha1.Pageserver{
			ObjectMeta: metav1.ObjectMeta{Name: "ps1", Namespace: "ns-a"},
			Spec:       v1alpha1.PageserverSpec{ID: 7, Cluster: "basic"},
		}
		c := fake.NewClientBuilder().WithScheme(pageserverScheme()).WithObjects(existing).Build()
		v := NewValidator(c)

		incoming := v1alpha1.Pageserver{
			ObjectMeta: metav1.ObjectMeta{Name: "ps1", Namespace: "ns-b"},
			Spec:       v1alpha1.PageserverSpec{ID: 7, Cluster: "basic"},
		}
		raw, _ := json.Marshal(incoming)

		resp := v.Review(context.Background(), &admissionv1.AdmissionReview{
			Request: &admissionv1.AdmissionRequest{
				Operation: admissionv1.Create,
				Object:    runtime.RawExtension{Raw: raw},
			},
		})
		Expect(resp.Response.Allowed).To(BeFalse())
		Expect(resp.Response.Result.Message).To(ContainSubstring("already exists in cluster 'basic'"))
	})

	It("rejects update that changes the immutable cluster field", func() {
		v := NewValidator(fake.NewClientBuilder().WithScheme(pageserverScheme()).Build())

		oldObj := v1alpha1.Pageserver{Spec: v1alpha1.PageserverSpec{ID: 1, Cluster: "basic"}}
		newObj := v1alpha1.Pageserver{Spec: v1alpha1.PageserverSpec{ID: 1, Cluster: "other"}}
		oldRaw, _ := json.Marshal(oldObj)
		newRaw, _ := json.Marshal(newObj)

		resp := v.Review(context.Background(), &admissionv1.AdmissionReview{
			Request: &admissionv1.AdmissionRequest{
				Operation: admissionv1.Update,
				OldObject: runtime.RawExtension{Raw: oldRaw},
				Object:    runtime.RawExtension{Raw: newRaw},
			},
		})
		Expect(resp.Response.Allowed).To(BeFalse())
		Expect(resp.Response.Result.Message).To(Equal("cluster is immutable"))
	})

	It("allows update that only changes a mutable field", func() {
		v := NewValidator(fake.NewClientBuilder().WithScheme(pageserverScheme()).Build())

		oldObj := v1alpha1.Pageserver{Spec: v1alpha1.PageserverSpec{ID: 1, Cluster: "basic", BucketCredentialsSecret: "old-secret"}}
		newObj := v1alpha1.Pageserver{Spec: v1alpha1.PageserverSpec{ID: 1, Cluster: "basic", BucketCredentialsSecret: "new-secret"}}
		oldRaw, _ := json.Marshal(oldObj)
		newRaw, _ := json.Marshal(newObj)

		resp := v.Review(context.Background(), &admissionv1.AdmissionReview{
			Request: &admissionv1.AdmissionRequest{
				Operation: admissionv1.Update,
				OldObject: runtime.RawExtension{Raw: oldRaw},
				Object:    runtime.RawExtension{Raw: newRaw},
			},
		})
		Expect(resp.Response.Allowed).To(BeTrue())
	})
})
