// Package main provides the CLI entry point for the lorekeep assistant
// service: a conversational agent embedded in a narrative-authoring tool
// that turns free-text requests into tool invocations against world data,
// streaming output over SSE and pausing for human approval before writes.
//
// Start the server:
//
//	lorekeep serve --config lorekeep.yaml
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lorekeep",
		Short: "Conversational assistant service for narrative worldbuilding",
		Long: `lorekeep runs the assistant subsystem of a narrative-authoring tool.

It exposes compose and approval endpoints that stream assistant output as
Server-Sent Events, executes narrative record tools on the model's behalf,
and pauses for human approval before mutating tools run in ask mode.`,
		SilenceUsage: true,
	}

	cmd.AddCommand(buildServeCmd())
	cmd.AddCommand(buildVersionCmd())

	return cmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("lorekeep %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}
