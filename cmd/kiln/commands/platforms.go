package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/phpkiln/phpkiln/pkg/config"
)

func newPlatformsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "platforms",
		Short: "List supported PHP versions, platform families and architectures",
		RunE: func(cmd *cobra.Command, args []string) error {
			if jsonOutput {
				return json.NewEncoder(os.Stdout).Encode(map[string][]string{
					"phpVersions":   config.SupportedPHPVersions,
					"platforms":     config.PlatformFamilies,
					"architectures": config.SupportedArchitectures,
				})
			}

			fmt.Printf("PHP versions:  %s\n", strings.Join(config.SupportedPHPVersions, ", "))
			fmt.Printf("Platforms:     %s\n", strings.Join(config.PlatformFamilies, ", "))
			fmt.Printf("Architectures: %s\n", strings.Join(config.SupportedArchitectures, ", "))

			var eol []string
			for _, v := range config.SupportedPHPVersions {
				if config.EOLPHPVersions[v] {
					eol = append(eol, v)
				}
			}
			if len(eol) > 0 {
				fmt.Printf("\nEnd of life (accepted with a warning): %s\n", strings.Join(eol, ", "))
			}
			return nil
		},
	}

	return cmd
}
