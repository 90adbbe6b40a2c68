/*
This file is part of Cloud Native PostgreSQL.

Copyright (C) 2019-2021 EnterpriseDB Corporation.
*/

// Package generate implements the "generate" subcommand of the operator:
// one-off bootstrap helpers an operator runs before applying a Cluster CR.
package generate

import (
	"fmt"

	"github.com/spf13/cobra"

	"k8s.io/apimachinery/pkg/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/config"

	"oltp.molnett.org/neon-operator/internal/jwtkeys"
)

var scheme = runtime.NewScheme()

func init() {
	_ = clientgoscheme.AddToScheme(scheme)
}

// NewCmd creates the "generate" subcommand and its "jwt-keys" child.
func NewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Bootstrap helpers run before applying a Cluster",
	}
	cmd.AddCommand(newJWTKeysCmd())
	return cmd
}

func newJWTKeysCmd() *cobra.Command {
	var clusterName string
	var namespace string
	var apply bool

	cmd := &cobra.Command{
		Use:   "jwt-keys",
		Short: "Generate a fresh Ed25519 keypair for a Cluster's compute-token signing",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if clusterName == "" {
				return fmt.Errorf("--cluster is required")
			}
			if namespace == "" {
				return fmt.Errorf("--namespace is required")
			}

			keyPair, err := jwtkeys.Generate()
			if err != nil {
				return fmt.Errorf("generating keypair: %w", err)
			}
			secret, err := jwtkeys.BuildSecret(namespace, clusterName, keyPair)
			if err != nil {
				return fmt.Errorf("building secret: %w", err)
			}

			if !apply {
				fmt.Printf("secret/%s\n", secret.Name)
				fmt.Printf("  kid: %s\n", keyPair.Kid)
				fmt.Println("(dry run; pass --apply to create it in the cluster)")
				return nil
			}

			restConfig, err := config.GetConfig()
			if err != nil {
				return fmt.Errorf("loading kubeconfig: %w", err)
			}
			c, err := client.New(restConfig, client.Options{Scheme: scheme})
			if err != nil {
				return fmt.Errorf("building client: %w", err)
			}
			if err := c.Create(cmd.Context(), secret); err != nil {
				return fmt.Errorf("creating secret %s/%s: %w", namespace, secret.Name, err)
			}
			fmt.Printf("secret/%s created\n", secret.Name)
			return nil
		},
	}

	cmd.Flags().StringVar(&clusterName, "cluster", "", "Name of the Cluster the keypair belongs to")
	cmd.Flags().StringVar(&namespace, "namespace", "", "Namespace the Cluster lives in")
	cmd.Flags().BoolVar(&apply, "apply", false, "Create the secret in the cluster instead of printing a dry run")

	return cmd
}
