// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/relabs-tech/tilt_monitor/internal/config"
	"github.com/relabs-tech/tilt_monitor/internal/logging"
)

var (
	configFlag string

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:           "tiltmon",
	Short:         "Head-tilt telemetry monitor",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.InitGlobal(configFlag); err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		l, err := logging.New(config.Get().Logging)
		if err != nil {
			return err
		}
		logger = l
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "YAML config file (defaults apply when empty)")
	rootCmd.AddCommand(monitorCmd, replayCmd, consoleCmd, chartCmd, summaryCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
