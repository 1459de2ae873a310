// Package cmd is bfted's cobra command tree: the composition root that
// wires internal/config, internal/telemetry, store, transport, module, and
// driver together into a running peer. Grounded on the pack's cobra+pflag
// CLI shape (kocubinski-gcosmos's main.go, luxfi-vm's command tree).
package cmd

import (
	"github.com/spf13/cobra"
)

var configPath string

// Execute builds and runs bfted's root command.
func Execute() error {
	root := &cobra.Command{
		Use:   "bfted",
		Short: "bfted runs a BFTE federation peer",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config.yaml")

	root.AddCommand(newRunCmd())
	root.AddCommand(newInitCmd())
	root.AddCommand(newKeygenCmd())

	return root.Execute()
}
