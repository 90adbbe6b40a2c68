/*
This file is part of Cloud Native PostgreSQL.

Copyright (C) 2019-2021 EnterpriseDB Corporation.
*/

// Package webhook implements the admission validator for Pageserver custom
// resources: identity uniqueness on create, immutability of the fields the
// data plane cannot safely move out from under, and a hot-reloading HTTPS
// listener in front of it.
package webhook

import (
	"context"
	"encoding/json"
	"fmt"

	jsonpatch "github.com/evanphx/json-patch/v5"

	admissionv1 "k8s.io/api/admission/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"oltp.molnett.org/neon-operator/api/v1alpha1"
)

// immutablePageserverFields are the PageserverSpec JSON keys that cannot
// move out from under the data plane once set.
var immutablePageserverFields = []string{"id", "cluster", "storageConfig"}

// Validator decides whether a Pageserver admission request is allowed.
type Validator struct {
	Client client.Client
}

// NewValidator builds a Validator bound to the given client.
func NewValidator(c client.Client) *Validator {
	return &Validator{Client: c}
}

// Review runs the validation rules against one AdmissionReview and returns
// the response half, ready to be marshaled back to the API server.
func (v *Validator) Review(ctx context.Context, review *admissionv1.AdmissionReview) *admissionv1.AdmissionReview {
	response := &admissionv1.AdmissionReview{
		TypeMeta: metav1.TypeMeta{APIVersion: "admission.k8s.io/v1", Kind: "AdmissionReview"},
	}

	if review.Request == nil {
		response.Response = &admissionv1.AdmissionResponse{
			Allowed: false,
			Result:  &metav1.Status{Message: "Missing admission request"},
		}
		return response
	}

	req := review.Request
	response.Response = &admissionv1.AdmissionResponse{UID: req.UID}

	switch req.Operation {
	case admissionv1.Create:
		response.Response.Allowed, response.Response.Result = v.validateCreate(ctx, req)
	case admissionv1.Update:
		response.Response.Allowed, response.Response.Result = v.validateUpdate(req)
	case admissionv1.Delete:
		response.Response.Allowed = true
	default:
		response.Response.Allowed = true
	}

	return response
}

func (v *Validator) validateCreate(ctx context.Context, req *admissionv1.AdmissionRequest) (bool, *metav1.Status) {
	var incoming v1alpha1.Pageserver
	if err := json.Unmarshal(req.Object.Raw, &incoming); err != nil {
		return false, &metav1.Status{Message: fmt.Sprintf("decoding incoming object: %v", err)}
	}

	var existing v1alpha1.PageserverList
	if err := v.Client.List(ctx, &existing); err != nil {
		return false, &metav1.Status{Message: fmt.Sprintf("listing existing pageservers: %v", err)}
	}

	for _, other := range existing.Items {
		if other.Namespace == incoming.Namespace && other.Name == incoming.Name {
			continue
		}
		if other.Spec.ID == incoming.Spec.ID && other.Spec.Cluster == incoming.Spec.Cluster {
			return false, &metav1.Status{Message: fmt.Sprintf(
				"NeonPageserver with id=%d already exists in cluster '%s' (namespace: %s)",
				incoming.Spec.ID, incoming.Spec.Cluster, other.Namespace,
			)}
		}
	}

	return true, nil
}

// validateUpdate rejects a change to any immutable PageserverSpec field. The
// comparison runs on a JSON merge patch of old vs. new spec rather than a
// field-by-field switch, so a new immutable field only needs adding to
// immutablePageserverFields, not another branch here.
func (v *Validator) validateUpdate(req *admissionv1.AdmissionRequest) (bool, *metav1.Status) {
	var oldObj, newObj v1alpha1.Pageserver
	if err := json.Unmarshal(req.OldObject.Raw, &oldObj); err != nil {
		return false, &metav1.Status{Message: fmt.Sprintf("decoding old object: %v", err)}
	}
	if err := json.Unmarshal(req.Object.Raw, &newObj); err != nil {
		return false, &metav1.Status{Message: fmt.Sprintf("decoding new object: %v", err)}
	}

	oldSpec, err := json.Marshal(oldObj.Spec)
	if err != nil {
		return false, &metav1.Status{Message: fmt.Sprintf("marshaling old spec: %v", err)}
	}
	newSpec, err := json.Marshal(newObj.Spec)
	if err != nil {
		return false, &metav1.Status{Message: fmt.Sprintf("marshaling new spec: %v", err)}
	}

	diff, err := jsonpatch.CreateMergePatch(oldSpec, newSpec)
	if err != nil {
		return false, &metav1.Status{Message: fmt.Sprintf("diffing spec: %v", err)}
	}

	var changed map[string]any
	if err := json.Unmarshal(diff, &changed); err != nil {
		return false, &metav1.Status{Message: fmt.Sprintf("decoding spec diff: %v", err)}
	}

	for _, field := range immutablePageserverFields {
		if _, touched := changed[field]; touched {
			return false, &metav1.Status{Message: fmt.Sprintf("%s is immutable", field)}
		}
	}

	return true, nil
}
