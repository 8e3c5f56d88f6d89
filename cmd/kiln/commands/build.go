package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/phpkiln/phpkiln/pkg/builder"
	"github.com/phpkiln/phpkiln/pkg/config"
	"github.com/phpkiln/phpkiln/pkg/faults"
	"github.com/phpkiln/phpkiln/pkg/policy"
	"github.com/phpkiln/phpkiln/pkg/render"
	"github.com/phpkiln/phpkiln/pkg/stores"
	"github.com/phpkiln/phpkiln/pkg/telemetry"
	sshtransport "github.com/phpkiln/phpkiln/pkg/transports/ssh"
)

func newBuildCommand() *cobra.Command {
	var (
		push         bool
		allPlatforms bool
		dryRun       bool
		noPolicy     bool
		parallel     int
		matrixPath   string
		registry     string
		repository   string
		tag          string
		environment  string
		outDir       string
	)

	cmd := &cobra.Command{
		Use:   "build <config>",
		Short: "Build container images from a configuration",
		Long: `Validate a build configuration, check it against the policy gate, render
its artifacts and execute the docker buildx pipeline.

Multi-architecture pushes get arch-suffixed tags plus a manifest list
under the base tag. With --matrix, a Starlark script expands the
configuration into multiple variants that build back to back.`,
		Example: `  # Build the image described by build.json
  kiln build build.json

  # Build and push every supported architecture
  kiln build build.json --push --all-platforms

  # Show the commands without executing them
  kiln build build.json --dry-run

  # Expand a build matrix
  kiln build build.json --matrix matrix.star --push`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			path := args[0]

			loader := config.NewLoader(log.Logger)
			settings, err := loader.LoadSettings(settingsPath)
			if err != nil {
				return err
			}
			doc, err := loader.LoadDocument(path)
			if err != nil {
				return err
			}

			// Flags override settings.
			if registry == "" {
				registry = settings.Registry
			}
			if repository == "" {
				repository = settings.Repository
			}
			if tag == "" {
				tag = settings.Tag
			}
			if parallel == 0 {
				parallel = settings.Parallel
			}

			variants := []config.Variant{{}}
			trigger := "cli"
			if matrixPath != "" {
				evaluator := config.NewMatrixEvaluator(log.Logger, 0)
				variants, err = evaluator.EvaluateFile(ctx, matrixPath)
				if err != nil {
					return err
				}
				if len(variants) == 0 {
					return fmt.Errorf("matrix script %s produced no variants", matrixPath)
				}
				trigger = "matrix"
				log.Info().Int("variants", len(variants)).Msg("Build matrix expanded")
			}

			tel, err := telemetry.NewTelemetry(telemetryConfig())
			if err != nil {
				return fmt.Errorf("failed to initialize telemetry: %w", err)
			}
			defer func() {
				sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = tel.Shutdown(sctx)
			}()

			classifier := faults.NewClassifier(faults.DefaultHistoryLimit)
			engine := config.NewEngine(log.Logger, config.Options{
				Classifier: classifier,
				Metrics:    tel.Metrics,
				Events:     tel.Events,
			})

			var gate *policy.Engine
			if !noPolicy {
				gate, err = policy.NewEngine(log.Logger)
				if err != nil {
					return fmt.Errorf("failed to initialize policy engine: %w", err)
				}
				if settings.PolicyDir != "" {
					if err := gate.LoadPolicies(ctx, []string{settings.PolicyDir}); err != nil {
						return fmt.Errorf("failed to load policies: %w", err)
					}
				}
			}

			store, err := openStore(ctx, settings.StorePath)
			if err != nil {
				return err
			}
			if store != nil {
				defer store.Close()
			}

			executor, remote, err := newExecutor(ctx, settings)
			if err != nil {
				return err
			}
			defer executor.Close()

			runner, err := builder.NewRunner(log.Logger, builder.RunnerConfig{
				Executor:   executor,
				Classifier: classifier,
				Events:     tel.Events,
				Metrics:    tel.Metrics,
				Store:      store,
				Parallel:   parallel,
				MaxRetries: settings.MaxRetries,
				DryRun:     dryRun,
				Trigger:    trigger,
			})
			if err != nil {
				return err
			}

			renderer := render.NewRenderer(log.Logger)
			var failed int
			for i, variant := range variants {
				variantDoc := variant.Apply(doc)
				cfg, res := engine.ValidateConfig(variantDoc)
				if cfg == nil {
					failed++
					log.Error().Int("variant", i).Msg("Variant failed validation")
					for _, msg := range res.Messages() {
						fmt.Printf("variant %d error: %s\n", i, msg)
					}
					continue
				}
				for _, w := range res.Warnings {
					log.Warn().Int("variant", i).Msg(w.String())
				}

				if err := runVariant(ctx, runVariantParams{
					cfg:       cfg,
					doc:       variantDoc,
					gate:      gate,
					renderer:  renderer,
					runner:    runner,
					metrics:   tel.Metrics,
					events:    tel.Events,
					remote:    remote,
					registry:  registry,
					repo:      repository,
					tag:       tag,
					push:      push,
					allPlats:  allPlatforms,
					dryRun:    dryRun,
					env:       environment,
					outDir:    outDir,
					variantID: i,
					single:    len(variants) == 1,
				}); err != nil {
					failed++
					log.Error().Err(err).Int("variant", i).Msg("Variant build failed")
				}
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d variants failed", failed, len(variants))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&push, "push", false, "push images to the registry")
	cmd.Flags().BoolVar(&allPlatforms, "all-platforms", false, "build every supported architecture")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print commands without executing them")
	cmd.Flags().BoolVar(&noPolicy, "no-policy", false, "skip the policy gate")
	cmd.Flags().IntVar(&parallel, "parallel", 0, "concurrent build jobs (default from settings)")
	cmd.Flags().StringVar(&matrixPath, "matrix", "", "Starlark build matrix script")
	cmd.Flags().StringVar(&registry, "registry", "", "registry prefix for image references")
	cmd.Flags().StringVar(&repository, "repository", "", "image repository, e.g. phpkiln/app")
	cmd.Flags().StringVar(&tag, "tag", "", "image tag (default <php>-<platform>)")
	cmd.Flags().StringVar(&environment, "env", "development", "target environment for policy evaluation")
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "build context directory (temporary when empty)")

	return cmd
}

type runVariantParams struct {
	cfg       *config.FinalConfig
	doc       map[string]any
	gate      *policy.Engine
	renderer  *render.Renderer
	runner    *builder.Runner
	metrics   *telemetry.Metrics
	events    *telemetry.EventPublisher
	remote    *sshtransport.Client
	registry  string
	repo      string
	tag       string
	push      bool
	allPlats  bool
	dryRun    bool
	env       string
	outDir    string
	variantID int
	single    bool
}

// runVariant drives one validated configuration through gate, render, plan
// and execution.
func runVariant(ctx context.Context, p runVariantParams) error {
	digest := config.Digest(p.doc)

	if p.gate != nil {
		result, err := p.gate.Evaluate(ctx, p.cfg, &policy.PolicyContext{
			Environment: p.env,
			Operation:   "build",
			DryRun:      p.dryRun,
			Timestamp:   time.Now().UTC(),
		})
		if err != nil {
			return fmt.Errorf("policy evaluation failed: %w", err)
		}
		imageRef := p.repo
		if imageRef == "" {
			imageRef = fmt.Sprintf("%s-%s", p.cfg.PHP.Version, p.cfg.Platform)
		}
		for _, v := range result.Violations {
			if p.metrics != nil {
				p.metrics.RecordPolicyViolation(v.Policy, string(v.Severity))
			}
			if p.events != nil {
				_ = p.events.PublishPolicyViolation(imageRef, v.Policy, v.Message)
			}
		}
		for _, v := range result.Advisory() {
			log.Warn().
				Str("policy", v.Policy).
				Str("path", v.Path).
				Msg(v.Message)
		}
		if !result.Allowed {
			for _, v := range result.Blocking() {
				fmt.Printf("policy %s: %s", v.Policy, v.Message)
				if v.Remediation != "" {
					fmt.Printf(" (%s)", v.Remediation)
				}
				fmt.Println()
			}
			return fmt.Errorf("configuration blocked by policy")
		}
	}

	contextDir := p.cfg.Build.Context
	if contextDir == "" {
		contextDir = p.outDir
	}
	if contextDir == "" {
		tmp, err := os.MkdirTemp("", "kiln-build-")
		if err != nil {
			return fmt.Errorf("failed to create build context: %w", err)
		}
		defer os.RemoveAll(tmp)
		contextDir = tmp
	}

	artifacts, err := p.renderer.Render(p.cfg)
	if err != nil {
		return fmt.Errorf("failed to render artifacts: %w", err)
	}
	if err := render.WriteTo(contextDir, artifacts); err != nil {
		return err
	}

	planContext := contextDir
	if p.remote != nil && !p.dryRun {
		remoteDir := "/tmp/kiln-" + shortDigest(digest)
		if err := p.remote.UploadDir(ctx, contextDir, remoteDir); err != nil {
			return fmt.Errorf("failed to upload build context: %w", err)
		}
		planContext = remoteDir
	}

	tag := p.tag
	if !p.single && tag != "" {
		// Matrix variants must not collide under one explicit tag.
		tag = ""
	}

	plan, err := builder.Plan(p.cfg, builder.PlanOptions{
		Registry:     p.registry,
		Repository:   p.repo,
		Tag:          tag,
		Push:         p.push,
		AllPlatforms: p.allPlats,
		ContextDir:   planContext,
		ConfigDigest: digest,
	})
	if err != nil {
		return err
	}

	result, err := p.runner.Run(ctx, plan)
	if err != nil {
		return err
	}

	for _, jr := range result.Jobs {
		fmt.Printf("%-10s %s (%s, %d attempt(s))\n",
			jr.Status, jr.Job.ImageRef, jr.Job.Architecture, jr.Attempts)
	}
	if result.Manifest != nil {
		fmt.Printf("%-10s %s (manifest list)\n", result.Manifest.Status, result.Manifest.ImageRef)
	}
	return nil
}

// openStore opens the build history store when a path is configured.
func openStore(ctx context.Context, path string) (stores.Store, error) {
	if path == "" {
		return nil, nil
	}
	store, err := stores.NewSQLiteStore(stores.Config{Path: path})
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return store, nil
}

// newExecutor picks the local docker CLI or an SSH build host from the
// settings. The SSH client is also returned typed, for context uploads.
func newExecutor(ctx context.Context, settings *config.Settings) (builder.Executor, *sshtransport.Client, error) {
	if settings.Remote.Host == "" {
		return builder.NewLocalExecutor(log.Logger), nil, nil
	}

	sshCfg := sshtransport.DefaultConfig(settings.Remote.Host, settings.Remote.User)
	if settings.Remote.Port != 0 {
		sshCfg.Port = settings.Remote.Port
	}
	if settings.Remote.KeyPath != "" {
		sshCfg.PrivateKeyPath = settings.Remote.KeyPath
	}
	client, err := sshtransport.NewClient(log.Logger, sshCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create SSH client: %w", err)
	}
	if err := client.Connect(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to connect to build host: %w", err)
	}
	return client, client, nil
}

// telemetryConfig derives the telemetry configuration from the global flags.
func telemetryConfig() *telemetry.Config {
	cfg := telemetry.DefaultConfig()
	if verbose {
		cfg.Logging.Level = "debug"
	}
	if jsonOutput {
		cfg.Logging.Format = "json"
	}
	return cfg
}

func shortDigest(digest string) string {
	if len(digest) > 12 {
		return digest[:12]
	}
	return digest
}
