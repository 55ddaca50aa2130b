// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"github.com/spf13/cobra"

	"github.com/relabs-tech/tilt_monitor/internal/app"
	"github.com/relabs-tech/tilt_monitor/internal/config"
)

var chartOutFlag string

func init() {
	chartCmd.Flags().StringVarP(&chartOutFlag, "out", "o", "", "output HTML file (stdout when empty)")
}

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Run the live monitor with the web UI and MQTT mirror",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return app.RunMonitor(cmd.Context(), config.Get(), logger)
	},
}

var replayCmd = &cobra.Command{
	Use:   "replay <log file>",
	Short: "Play a recorded session in the terminal",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return app.RunReplay(cmd.Context(), config.Get(), args[0], cmd.OutOrStdout(), logger)
	},
}

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Print frames published by a running monitor",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return app.RunConsole(cmd.Context(), config.Get().MQTT, cmd.OutOrStdout(), logger)
	},
}

var chartCmd = &cobra.Command{
	Use:   "chart <log file>",
	Short: "Export a recorded session as an HTML chart",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return app.RunChart(args[0], chartOutFlag, config.Get(), logger)
	},
}

var summaryCmd = &cobra.Command{
	Use:   "summary <log file>",
	Short: "Print per-axis statistics of a recorded session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return app.RunSummary(args[0], cmd.OutOrStdout(), config.Get(), logger)
	},
}
