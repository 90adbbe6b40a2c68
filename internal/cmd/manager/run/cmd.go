/*
This file is part of Cloud Native PostgreSQL.

Copyright (C) 2019-2021 EnterpriseDB Corporation.
*/

// Package run implements the "run" subcommand of the operator: the
// reconcile loop for all four custom resource kinds plus the control
// plane's own HTTP surface, in one process.
package run

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	apiextensionsclientset "k8s.io/apiextensions-apiserver/pkg/client/clientset/clientset"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client/config"
	metricsserver "sigs.k8s.io/controller-runtime/pkg/metrics/server"

	neonv1 "oltp.molnett.org/neon-operator/api/v1"
	"oltp.molnett.org/neon-operator/api/v1alpha1"
	"oltp.molnett.org/neon-operator/internal/computehook"
	"oltp.molnett.org/neon-operator/internal/configuration"
	"oltp.molnett.org/neon-operator/internal/controller"
	"oltp.molnett.org/neon-operator/internal/controlplane"
	"oltp.molnett.org/neon-operator/internal/status"
	"oltp.molnett.org/neon-operator/pkg/multicache"
)

var scheme = runtime.NewScheme()

func init() {
	_ = clientgoscheme.AddToScheme(scheme)
	_ = neonv1.AddToScheme(scheme)
	_ = v1alpha1.AddToScheme(scheme)
}

// requiredCRDs is every custom resource definition the control plane must
// find installed before it starts reconciling, per §6.
var requiredCRDs = []string{
	"clusters.oltp.molnett.org",
	"projects.oltp.molnett.org",
	"branches.oltp.molnett.org",
	"pageservers.oltp.molnett.org",
}

// NewCmd creates the "run" subcommand.
func NewCmd() *cobra.Command {
	envDefaults := configuration.NewFromEnvironment()

	var controlPlaneAddr string
	var computeHookURL string
	var defaultImage string
	var watchNamespaces string
	var operatorNamespace string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the control plane reconcile loop and HTTP surface",
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return checkCRDsInstalled(cmd.Context())
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			var namespaces []string
			if watchNamespaces != "" {
				namespaces = strings.Split(watchNamespaces, ",")
			}
			return runOperator(cmd.Context(), options{
				controlPlaneAddr:  controlPlaneAddr,
				computeHookURL:    computeHookURL,
				defaultImage:      defaultImage,
				namespaces:        namespaces,
				operatorNamespace: operatorNamespace,
			})
		},
	}

	cmd.Flags().StringVar(&controlPlaneAddr, "control-plane-bind-address", ":8090",
		"Address the control plane's HTTP surface (health, diagnostics, metrics, compute hook) listens on")
	cmd.Flags().StringVar(&computeHookURL, "compute-hook-url", envDefaults.ComputeHookBaseURL,
		"URL the storage controller is told to call back on shard movement")
	cmd.Flags().StringVar(&defaultImage, "default-image", "",
		"Fallback container image for pageserver and compute pods when a Cluster does not set one")
	cmd.Flags().StringVar(&watchNamespaces, "watch-namespaces", "",
		"Comma-separated list of namespaces to watch; empty means cluster-wide")
	cmd.Flags().StringVar(&operatorNamespace, "operator-namespace", envDefaults.OperatorNamespace,
		"Namespace the operator itself runs in, used for cross-namespace lookups")

	return cmd
}

type options struct {
	controlPlaneAddr  string
	computeHookURL    string
	defaultImage      string
	namespaces        []string
	operatorNamespace string
}

func checkCRDsInstalled(ctx context.Context) error {
	restConfig, err := config.GetConfig()
	if err != nil {
		return fmt.Errorf("loading kubeconfig: %w", err)
	}
	clientset, err := apiextensionsclientset.NewForConfig(restConfig)
	if err != nil {
		return fmt.Errorf("building apiextensions client: %w", err)
	}

	for _, name := range requiredCRDs {
		if _, err := clientset.ApiextensionsV1().CustomResourceDefinitions().Get(ctx, name, metav1.GetOptions{}); err != nil {
			return fmt.Errorf("required custom resource definition %s is not installed: %w", name, err)
		}
	}
	return nil
}

func runOperator(ctx context.Context, opts options) error {
	setupLog := ctrl.Log.WithName("setup")

	restConfig, err := config.GetConfig()
	if err != nil {
		return fmt.Errorf("loading kubeconfig: %w", err)
	}

	mgrOptions := ctrl.Options{
		Scheme: scheme,
		// The control plane serves its own /metrics off the compute-hook
		// listener; disable the manager's built-in metrics bind.
		Metrics: metricsserver.Options{BindAddress: "0"},
	}
	if len(opts.namespaces) > 0 {
		mgrOptions.NewCache = multicache.DelegatingMultiNamespacedCacheBuilder(opts.namespaces, opts.operatorNamespace)
	}

	mgr, err := ctrl.NewManager(restConfig, mgrOptions)
	if err != nil {
		setupLog.Error(err, "unable to set up controller manager")
		return err
	}

	clusterReconciler := &controller.ClusterReconciler{
		Client:             mgr.GetClient(),
		Scheme:             mgr.GetScheme(),
		StatusManager:      status.NewManager(mgr.GetClient(), status.FieldManagerCluster),
		ComputeHookBaseURL: opts.computeHookURL,
	}
	if err := clusterReconciler.SetupWithManager(mgr); err != nil {
		setupLog.Error(err, "unable to create cluster controller")
		return err
	}

	pageserverReconciler := &controller.PageserverReconciler{
		Client:        mgr.GetClient(),
		Scheme:        mgr.GetScheme(),
		StatusManager: status.NewManager(mgr.GetClient(), status.FieldManagerPageserver),
		Image:         opts.defaultImage,
	}
	if err := pageserverReconciler.SetupWithManager(mgr); err != nil {
		setupLog.Error(err, "unable to create pageserver controller")
		return err
	}

	projectReconciler := &controller.ProjectReconciler{
		Client:        mgr.GetClient(),
		Scheme:        mgr.GetScheme(),
		StatusManager: status.NewManager(mgr.GetClient(), status.FieldManagerProject),
		Recorder:      mgr.GetEventRecorderFor("project-controller"),
	}
	if err := projectReconciler.SetupWithManager(mgr); err != nil {
		setupLog.Error(err, "unable to create project controller")
		return err
	}

	hook := computehook.NewHandler(mgr.GetClient(), ctrl.Log.WithName("compute-hook"))

	branchReconciler := &controller.BranchReconciler{
		Client:        mgr.GetClient(),
		Scheme:        mgr.GetScheme(),
		StatusManager: status.NewManager(mgr.GetClient(), status.FieldManagerBranch),
		Recorder:      mgr.GetEventRecorderFor("branch-controller"),
		Generator:     hook.Generator,
		Image:         opts.defaultImage,
	}
	if err := branchReconciler.SetupWithManager(mgr); err != nil {
		setupLog.Error(err, "unable to create branch controller")
		return err
	}

	cpServer := controlplane.NewServer(opts.controlPlaneAddr, hook, ctrl.Log.WithName("control-plane-http"))
	if err := mgr.Add(cpServer); err != nil {
		setupLog.Error(err, "unable to add control plane HTTP server")
		return err
	}

	setupLog.Info("starting controller-runtime manager")
	if err := mgr.Start(ctx); err != nil {
		setupLog.Error(err, "manager exited with error")
		return err
	}
	return nil
}
