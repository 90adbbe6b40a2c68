/*
This file is part of Cloud Native PostgreSQL.

Copyright (C) 2019-2021 EnterpriseDB Corporation.
*/

// Command manager is the neon-operator control plane entrypoint: the
// "run" reconcile loop, the "webhook" admission validator, and a handful
// of operator-facing CLI utilities, as cobra subcommands of one binary.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"oltp.molnett.org/neon-operator/internal/cmd/manager/generate"
	"oltp.molnett.org/neon-operator/internal/cmd/manager/run"
	"oltp.molnett.org/neon-operator/internal/cmd/manager/status"
	"oltp.molnett.org/neon-operator/internal/cmd/manager/webhook"
)

func main() {
	var logLevel string

	root := &cobra.Command{
		Use:   "manager",
		Short: "neon-operator control plane",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			level, err := parseLevel(logLevel)
			if err != nil {
				return err
			}
			ctrl.SetLogger(zap.New(zap.UseDevMode(false), zap.Level(level)))
			return nil
		},
	}

	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "One of debug, info, error")

	root.AddCommand(run.NewCmd())
	root.AddCommand(webhook.NewCmd())
	root.AddCommand(generate.NewCmd())
	root.AddCommand(status.NewCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func parseLevel(s string) (zapcore.LevelEnabler, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return nil, fmt.Errorf("parsing log level %q: %w", s, err)
	}
	return level, nil
}
