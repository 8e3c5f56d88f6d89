package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/phpkiln/phpkiln/pkg/config"
	"github.com/phpkiln/phpkiln/pkg/stores"
)

func newHistoryCommand() *cobra.Command {
	var (
		limit  int
		events bool
		prune  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show past builds from the history store",
		Long: `Read the SQLite build history configured through the settings file
(storePath) and print past builds, newest first.`,
		Example: `  # Last 20 builds
  kiln history --settings kiln.yaml

  # Run-level event log
  kiln history --settings kiln.yaml --events

  # Drop records older than 30 days
  kiln history --settings kiln.yaml --prune 720h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			loader := config.NewLoader(log.Logger)
			settings, err := loader.LoadSettings(settingsPath)
			if err != nil {
				return err
			}
			if settings.StorePath == "" {
				return fmt.Errorf("no history store configured (set storePath in the settings file)")
			}

			store, err := openStore(ctx, settings.StorePath)
			if err != nil {
				return err
			}
			defer store.Close()

			if prune > 0 {
				n, err := store.PruneOlderThan(ctx, prune)
				if err != nil {
					return fmt.Errorf("failed to prune history: %w", err)
				}
				fmt.Printf("pruned %d record(s) older than %s\n", n, prune)
			}

			if events {
				return printEvents(cmd, store, limit)
			}

			builds, err := store.ListBuilds(ctx, limit, 0)
			if err != nil {
				return fmt.Errorf("failed to list builds: %w", err)
			}

			if jsonOutput {
				return json.NewEncoder(os.Stdout).Encode(builds)
			}

			if len(builds) == 0 {
				fmt.Println("no builds recorded")
				return nil
			}
			fmt.Printf("%-36s %-10s %-6s %-8s %-8s %s\n",
				"ID", "STATUS", "PHP", "PLATFORM", "ARCH", "IMAGE")
			for _, b := range builds {
				fmt.Printf("%-36s %-10s %-6s %-8s %-8s %s\n",
					b.ID, b.Status, b.PHPVersion, b.Platform, b.Architecture, b.ImageRef)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum records to show")
	cmd.Flags().BoolVar(&events, "events", false, "show the event log instead of build records")
	cmd.Flags().DurationVar(&prune, "prune", 0, "prune records older than this age first")

	return cmd
}

func printEvents(cmd *cobra.Command, store stores.Store, limit int) error {
	entries, err := store.GetEvents(cmd.Context(), nil, nil, limit, 0)
	if err != nil {
		return fmt.Errorf("failed to list events: %w", err)
	}

	if jsonOutput {
		return json.NewEncoder(os.Stdout).Encode(entries)
	}

	for _, e := range entries {
		fmt.Printf("%s %-7s %s\n", e.Timestamp.Format(time.RFC3339), e.Level, e.Message)
	}
	return nil
}
