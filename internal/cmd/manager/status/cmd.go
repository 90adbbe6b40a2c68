/*
This file is part of Cloud Native PostgreSQL.

Copyright (C) 2019-2021 EnterpriseDB Corporation.
*/

// Package status implements the "status" subcommand of the operator: a
// tabular view over a Cluster's Pageservers.
package status

import (
	"fmt"

	"github.com/cheynewallace/tabby"
	"github.com/spf13/cobra"

	"k8s.io/apimachinery/pkg/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/config"

	"oltp.molnett.org/neon-operator/api/v1alpha1"
	neonstatus "oltp.molnett.org/neon-operator/internal/status"
)

var scheme = runtime.NewScheme()

func init() {
	_ = clientgoscheme.AddToScheme(scheme)
	_ = v1alpha1.AddToScheme(scheme)
}

// NewCmd creates the "status" subcommand.
func NewCmd() *cobra.Command {
	var clusterName string
	var namespace string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the pageservers belonging to a cluster and their readiness",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if clusterName == "" {
				return fmt.Errorf("--cluster is required")
			}

			restConfig, err := config.GetConfig()
			if err != nil {
				return fmt.Errorf("loading kubeconfig: %w", err)
			}
			c, err := client.New(restConfig, client.Options{Scheme: scheme})
			if err != nil {
				return fmt.Errorf("building client: %w", err)
			}

			var list v1alpha1.PageserverList
			if err := c.List(cmd.Context(), &list, client.InNamespace(namespace)); err != nil {
				return fmt.Errorf("listing pageservers: %w", err)
			}

			t := tabby.New()
			t.AddHeader("ID", "Name", "Phase", "Ready")
			for _, ps := range list.Items {
				if ps.Spec.Cluster != clusterName {
					continue
				}
				t.AddLine(ps.Spec.ID, ps.Name, ps.Status.Phase, boolToCheck(neonstatus.IsTrue(&ps, v1alpha1.ConditionReady)))
			}
			t.Print()
			return nil
		},
	}

	cmd.Flags().StringVar(&clusterName, "cluster", "", "Name of the Cluster to inspect")
	cmd.Flags().StringVar(&namespace, "namespace", "", "Namespace to list pageservers in; empty means all namespaces")

	return cmd
}

func boolToCheck(ready bool) string {
	if ready {
		return "✓"
	}
	return "✗"
}
