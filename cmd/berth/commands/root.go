// Package commands implements the berth CLI.
package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	hostName   string
	verbose    bool
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "berth",
		Short: "Berth - Resource Allocation and Reconciliation Engine",
		Long: `Berth allocates ports and cache slots inside environment-scoped
ranges, provisions project resources on managed hosts over SSH, and
reconciles three sources of truth: the deployment manifest, the
provisioning registry, and the host's observed state.

Features:
  - Deterministic port allocation within per-environment ranges
  - Conflict validation with automatic substitution suggestions
  - Idempotent database, cache, and storage provisioning
  - Three-way drift detection with classified findings
  - Local SQLite ledger of allocations and run history
  - Rego policy gate over provisioning requests`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVarP(&hostName, "host", "H", "", "managed host name from the config")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	// Add subcommands
	rootCmd.AddCommand(newProvisionCommand())
	rootCmd.AddCommand(newScanCommand())
	rootCmd.AddCommand(newDriftCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newEnvCommand())
	rootCmd.AddCommand(newRegistryCommand())
	rootCmd.AddCommand(newRunsCommand())

	return rootCmd
}
