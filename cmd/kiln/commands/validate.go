package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/phpkiln/phpkiln/pkg/config"
	"github.com/phpkiln/phpkiln/pkg/faults"
)

func newValidateCommand() *cobra.Command {
	var (
		failFast bool
	)

	cmd := &cobra.Command{
		Use:   "validate <config>",
		Short: "Validate a build configuration",
		Long: `Validate a build configuration document through all three layers.

The document is checked layer by layer:
  - base:     PHP runtime, FPM pool, security posture, nginx, supervisor
  - platform: platform family and its Alpine or Ubuntu payload
  - final:    architecture and build parameters

Validation stops at the first failing layer and reports every violated
field of that layer.`,
		Example: `  # Validate a JSON configuration
  kiln validate build.json

  # Validate a CUE configuration, reporting only the first error
  kiln validate --fail-fast build.cue

  # Machine-readable report
  kiln validate --json build.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]

			log.Info().
				Str("path", path).
				Bool("fail_fast", failFast).
				Msg("Validating configuration")

			loader := config.NewLoader(log.Logger)
			doc, err := loader.LoadDocument(path)
			if err != nil {
				return err
			}

			classifier := faults.NewClassifier(0)
			engine := config.NewEngine(log.Logger, config.Options{
				FailFast:   failFast,
				Classifier: classifier,
			})

			reports, cfg := engine.ValidateLayers(doc)

			if jsonOutput {
				if err := json.NewEncoder(os.Stdout).Encode(reports); err != nil {
					return fmt.Errorf("failed to encode report: %w", err)
				}
			} else {
				printReports(reports)
			}

			if cfg == nil {
				os.Exit(1)
			}

			if !jsonOutput {
				fmt.Printf("\nConfiguration is valid: PHP %s on %s/%s\n",
					cfg.PHP.Version, cfg.Platform, cfg.Architecture)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&failFast, "fail-fast", false, "report only the first error per layer")

	return cmd
}

func printReports(reports []config.ValidationReport) {
	for _, r := range reports {
		status := "ok"
		if !r.Valid {
			status = "FAILED"
		}
		fmt.Printf("layer %-8s %s\n", r.Layer, status)
		for _, e := range r.Errors {
			fmt.Printf("  error:   %s\n", e)
		}
		for _, w := range r.Warnings {
			fmt.Printf("  warning: %s\n", w)
		}
	}
}
