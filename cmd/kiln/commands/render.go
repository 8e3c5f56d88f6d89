package commands

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/phpkiln/phpkiln/pkg/config"
	"github.com/phpkiln/phpkiln/pkg/render"
)

func newRenderCommand() *cobra.Command {
	var (
		outDir string
	)

	cmd := &cobra.Command{
		Use:   "render <config>",
		Short: "Render build artifacts for a configuration",
		Long: `Validate a build configuration and render its artifacts: the Dockerfile
for the selected platform family, nginx.conf, php-fpm.conf, supervisord.conf
and the entrypoint script.`,
		Example: `  # Render into ./build
  kiln render build.json --out ./build

  # Render to stdout
  kiln render build.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]

			loader := config.NewLoader(log.Logger)
			doc, err := loader.LoadDocument(path)
			if err != nil {
				return err
			}

			engine := config.NewEngine(log.Logger, config.Options{})
			cfg, res := engine.ValidateConfig(doc)
			if cfg == nil {
				for _, msg := range res.Messages() {
					fmt.Printf("error: %s\n", msg)
				}
				return fmt.Errorf("configuration %s is invalid", path)
			}
			for _, w := range res.Warnings {
				log.Warn().Msg(w.String())
			}

			artifacts, err := render.NewRenderer(log.Logger).Render(cfg)
			if err != nil {
				return fmt.Errorf("failed to render artifacts: %w", err)
			}

			if outDir == "" {
				for _, a := range artifacts {
					fmt.Printf("# ---- %s ----\n%s\n", a.Name, strings.TrimRight(string(a.Content), "\n"))
				}
				return nil
			}

			if err := render.WriteTo(outDir, artifacts); err != nil {
				return err
			}

			log.Info().
				Str("dir", outDir).
				Int("artifacts", len(artifacts)).
				Msg("Artifacts written")
			for _, a := range artifacts {
				fmt.Printf("wrote %s/%s\n", outDir, a.Name)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outDir, "out", "o", "", "output directory (stdout when empty)")

	return cmd
}
