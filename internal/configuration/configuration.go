/*
This file is part of Cloud Native PostgreSQL.

Copyright (C) 2019-2021 EnterpriseDB Corporation.
*/

// Package configuration holds process-wide settings for the control plane,
// populated from environment variables at startup the way the teacher
// project's internal/configuration.Current is populated.
package configuration

import "os"

// Data holds the configuration for the control-plane process. Fields are
// deliberately few: per §6 of the specification, the control-plane process
// itself consumes no environment variables beyond standard logging filters,
// so everything here has a sane zero-config default and exists only to let
// operators override the compute-hook's own externally-visible address.
type Data struct {
	// OperatorNamespace is the namespace the control plane itself runs in.
	OperatorNamespace string

	// ComputeHookBaseURL is the base URL compute pods are told to reach the
	// control plane at (the `-p` flag in §4.5 and the webhook's
	// --compute-hook-url wiring in §4.2).
	ComputeHookBaseURL string

	// WebhookCertDir is where the admission validator expects tls.crt and
	// tls.key to live.
	WebhookCertDir string
}

// Current is the configuration used by the running process. It is
// populated once at startup by NewFromEnvironment and never mutated
// concurrently with reconciles.
var Current = NewDefault()

// NewDefault returns the zero-config defaults.
func NewDefault() *Data {
	return &Data{
		OperatorNamespace:  "neon-system",
		ComputeHookBaseURL: "http://neon-operator-hook.neon-system.svc:8080",
		WebhookCertDir:     "/etc/certs",
	}
}

// NewFromEnvironment overlays environment variables onto the defaults. Only
// three knobs are exposed, all optional, matching §6's statement that the
// control plane itself needs no environment to function.
func NewFromEnvironment() *Data {
	data := NewDefault()
	if v := os.Getenv("OPERATOR_NAMESPACE"); v != "" {
		data.OperatorNamespace = v
	}
	if v := os.Getenv("COMPUTE_HOOK_BASE_URL"); v != "" {
		data.ComputeHookBaseURL = v
	}
	if v := os.Getenv("WEBHOOK_CERT_DIR"); v != "" {
		data.WebhookCertDir = v
	}
	return data
}
