/*
This file is part of Cloud Native PostgreSQL.

Copyright (C) 2019-2021 EnterpriseDB Corporation.
*/

// Package webhook implements the "webhook" subcommand of the operator: the
// Pageserver admission validator.
package webhook

import (
	"fmt"

	"github.com/spf13/cobra"

	"k8s.io/apimachinery/pkg/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/config"

	"oltp.molnett.org/neon-operator/api/v1alpha1"
	"oltp.molnett.org/neon-operator/internal/configuration"
	neonwebhook "oltp.molnett.org/neon-operator/internal/webhook"
)

var scheme = runtime.NewScheme()

func init() {
	_ = clientgoscheme.AddToScheme(scheme)
	_ = v1alpha1.AddToScheme(scheme)
}

// NewCmd creates the "webhook" subcommand.
func NewCmd() *cobra.Command {
	var certDir string

	cmd := &cobra.Command{
		Use:   "webhook",
		Short: "Start the Pageserver admission validator",
		RunE: func(cmd *cobra.Command, _ []string) error {
			restConfig, err := config.GetConfig()
			if err != nil {
				return fmt.Errorf("loading kubeconfig: %w", err)
			}
			c, err := client.New(restConfig, client.Options{Scheme: scheme})
			if err != nil {
				return fmt.Errorf("building client: %w", err)
			}

			validator := neonwebhook.NewValidator(c)
			server := neonwebhook.NewServer(validator, ctrl.Log.WithName("webhook"), certDir)
			return server.Run(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&certDir, "cert-dir", configuration.NewFromEnvironment().WebhookCertDir,
		"Directory containing tls.crt and tls.key for the admission server")

	return cmd
}
