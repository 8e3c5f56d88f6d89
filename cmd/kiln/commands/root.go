package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	settingsPath string
	verbose      bool
	jsonOutput   bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "kiln",
		Short: "kiln - PHP container image build pipeline",
		Long: `kiln turns a small set of selections (PHP version, platform, architecture)
into a fully validated build configuration, renders the container artifacts
and drives the docker buildx build/push pipeline.

Features:
  - Layered configuration validation (base, platform, final)
  - Alpine and Ubuntu platform families
  - Multi-architecture builds with manifest lists
  - Policy enforcement (OPA/rego)
  - Build matrix expansion via Starlark
  - SQLite build history`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&settingsPath, "settings", "s", "", "tool settings file path (kiln.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	// Add subcommands
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newRenderCommand())
	rootCmd.AddCommand(newBuildCommand())
	rootCmd.AddCommand(newMatrixCommand())
	rootCmd.AddCommand(newPlatformsCommand())
	rootCmd.AddCommand(newHistoryCommand())

	return rootCmd
}
