package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/phpkiln/phpkiln/pkg/config"
)

func newMatrixCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "matrix <script.star>",
		Short: "Expand a Starlark build matrix",
		Long: `Evaluate a Starlark matrix script and print the variants it declares.

The script runs in a sandbox with no file or network access and must
declare a global "variants": a list of dicts (or a function returning
one). The keys phpVersion, platform and architecture select the variant;
any other keys become document overrides. The predeclared lists
php_versions, platforms and architectures hold the supported sets.`,
		Example: `  # Print the matrix as a table
  kiln matrix matrix.star

  # Machine-readable output
  kiln matrix --json matrix.star`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]

			evaluator := config.NewMatrixEvaluator(log.Logger, 0)
			variants, err := evaluator.EvaluateFile(cmd.Context(), path)
			if err != nil {
				return err
			}

			if jsonOutput {
				return json.NewEncoder(os.Stdout).Encode(variants)
			}

			fmt.Printf("%-4s %-8s %-8s %-8s %s\n", "#", "PHP", "PLATFORM", "ARCH", "OVERRIDES")
			for i, v := range variants {
				fmt.Printf("%-4d %-8s %-8s %-8s %d\n",
					i, orDash(v.PHPVersion), orDash(v.Platform), orDash(v.Architecture), len(v.Overrides))
			}
			fmt.Printf("\n%d variant(s)\n", len(variants))
			return nil
		},
	}

	return cmd
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
