/*
This file is part of Cloud Native PostgreSQL.

Copyright (C) 2019-2021 EnterpriseDB Corporation.
*/

// Package apierrors implements the error taxonomy of the control plane:
// transient API errors, missing-metadata errors, and errors carrying an
// explicit requeue duration that the reconciliation engine honors verbatim.
package apierrors

import (
	"errors"
	"fmt"
	"time"
)

// DefaultRequeueAfter is the requeue duration used when an error carries no
// explicit one.
const DefaultRequeueAfter = 5 * time.Minute

// RequeueableError is a typed error carrying its own requeue duration. The
// engine honors the duration verbatim, overriding default backoff.
type RequeueableError struct {
	// Err is the underlying cause, may be nil for a plain "come back later".
	Err error

	// After is how long the engine should wait before the next reconcile.
	After time.Duration

	// Reason is a short machine-readable tag suitable for a status
	// condition (e.g. "ProjectNotFound").
	Reason string
}

func (e *RequeueableError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("requeue after %s: %s", e.After, e.Reason)
	}
	return fmt.Sprintf("requeue after %s: %s: %v", e.After, e.Reason, e.Err)
}

func (e *RequeueableError) Unwrap() error {
	return e.Err
}

// Requeue builds a RequeueableError with the given reason, duration and
// optional underlying cause.
func Requeue(reason string, after time.Duration, cause error) error {
	return &RequeueableError{Err: cause, After: after, Reason: reason}
}

// AsRequeueable extracts a *RequeueableError from err, if any is present in
// its chain.
func AsRequeueable(err error) (*RequeueableError, bool) {
	var re *RequeueableError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}

// MissingMetadataError marks a required label, annotation, spec field or
// referenced object that could not be found. It fails the current
// reconcile and is typically requeued at the controller's default rate.
type MissingMetadataError struct {
	// Reason is the condition reason tag, e.g. "ProjectNotFound".
	Reason string
	// Message is a human-readable explanation.
	Message string
}

func (e *MissingMetadataError) Error() string {
	return fmt.Sprintf("%s: %s", e.Reason, e.Message)
}

// MissingMetadata builds a MissingMetadataError.
func MissingMetadata(reason, format string, args ...any) error {
	return &MissingMetadataError{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// IsMissingMetadata reports whether err is (or wraps) a MissingMetadataError.
func IsMissingMetadata(err error) bool {
	var mm *MissingMetadataError
	return errors.As(err, &mm)
}

// ReasonOf extracts a condition reason tag from any error in the taxonomy,
// falling back to a generic tag when the error carries none.
func ReasonOf(err error) string {
	var mm *MissingMetadataError
	if errors.As(err, &mm) {
		return mm.Reason
	}
	if re, ok := AsRequeueable(err); ok && re.Reason != "" {
		return re.Reason
	}
	return "ReconcileError"
}
