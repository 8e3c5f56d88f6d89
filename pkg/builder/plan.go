package builder

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/phpkiln/phpkiln/pkg/config"
)

// Stage names used in metrics, events and failure classification.
const (
	StageBuild    = "build"
	StageManifest = "manifest"
)

// PlanOptions shape the build plan derived from one configuration.
type PlanOptions struct {
	// Registry prefixes the image reference when set.
	Registry string

	// Repository is the image path, e.g. "phpkiln/app". Required.
	Repository string

	// Tag overrides the derived "<php>-<platform>" tag.
	Tag string

	// Push publishes images to the registry after building.
	Push bool

	// AllPlatforms builds every supported architecture instead of the one
	// named in the configuration.
	AllPlatforms bool

	// ContextDir is the docker build context holding the rendered
	// artifacts. Defaults to ".".
	ContextDir string

	// ConfigDigest links build records back to the validated document.
	ConfigDigest string
}

// BuildJob is one buildx invocation producing a single-architecture image.
type BuildJob struct {
	ID           string
	ImageRef     string
	PHPVersion   string
	Platform     string // platform family: alpine or ubuntu
	Architecture string

	// DockerPlatform is the buildx --platform value, e.g. "linux/arm/v7".
	DockerPlatform string

	ContextDir   string
	BuildArgs    map[string]string
	NoCache      bool
	Push         bool
	ConfigDigest string
}

// Command is the buildx invocation for this job. Build args render in
// sorted key order so the command line is deterministic.
func (j BuildJob) Command() Command {
	args := []string{"buildx", "build",
		"--platform", j.DockerPlatform,
		"--tag", j.ImageRef,
	}
	if j.NoCache {
		args = append(args, "--no-cache")
	}

	keys := make([]string, 0, len(j.BuildArgs))
	for k := range j.BuildArgs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "--build-arg", k+"="+j.BuildArgs[k])
	}

	if j.ConfigDigest != "" {
		args = append(args, "--label", "io.phpkiln.config-digest="+j.ConfigDigest)
	}

	if j.Push {
		args = append(args, "--push")
	} else {
		args = append(args, "--load")
	}

	args = append(args, j.ContextDir)
	return Command{Name: "docker", Args: args}
}

// ManifestJob assembles per-architecture images into one multi-arch
// reference.
type ManifestJob struct {
	ID       string
	ImageRef string
	Sources  []string
}

// Command is the imagetools invocation for this manifest.
func (m ManifestJob) Command() Command {
	args := []string{"buildx", "imagetools", "create", "--tag", m.ImageRef}
	args = append(args, m.Sources...)
	return Command{Name: "docker", Args: args}
}

// BuildPlan is the work derived from one configuration: independent build
// jobs, then at most one manifest job that runs strictly after all of them
// succeeded.
type BuildPlan struct {
	Builds   []BuildJob
	Manifest *ManifestJob
}

// Plan expands a validated configuration into a build plan. One job per
// architecture; multi-architecture sets get arch-suffixed tags and, when
// pushing, a manifest job under the base tag. A manifest list is only
// planned for pushes, since its sources have to live in a registry.
func Plan(cfg *config.FinalConfig, opts PlanOptions) (*BuildPlan, error) {
	if cfg == nil {
		return nil, fmt.Errorf("plan: nil configuration")
	}
	if opts.Repository == "" {
		return nil, fmt.Errorf("plan: repository is required")
	}
	if opts.ContextDir == "" {
		opts.ContextDir = "."
	}

	archs := []string{cfg.Architecture}
	if opts.AllPlatforms {
		archs = config.SupportedArchitectures
	}

	tag := opts.Tag
	if tag == "" {
		tag = fmt.Sprintf("%s-%s", cfg.PHP.Version, cfg.Platform)
	}

	repo := opts.Repository
	if opts.Registry != "" {
		repo = strings.TrimSuffix(opts.Registry, "/") + "/" + repo
	}
	baseRef := repo + ":" + tag

	noCache := cfg.Build.UseCache != nil && !*cfg.Build.UseCache

	plan := &BuildPlan{}
	for _, arch := range archs {
		ref := baseRef
		if len(archs) > 1 {
			ref = baseRef + "-" + archTag(arch)
		}
		plan.Builds = append(plan.Builds, BuildJob{
			ID:             uuid.New().String(),
			ImageRef:       ref,
			PHPVersion:     cfg.PHP.Version,
			Platform:       cfg.Platform,
			Architecture:   arch,
			DockerPlatform: "linux/" + arch,
			ContextDir:     opts.ContextDir,
			BuildArgs:      cfg.Build.BuildArgs,
			NoCache:        noCache,
			Push:           opts.Push,
			ConfigDigest:   opts.ConfigDigest,
		})
	}

	if opts.Push && len(plan.Builds) > 1 {
		sources := make([]string, 0, len(plan.Builds))
		for _, j := range plan.Builds {
			sources = append(sources, j.ImageRef)
		}
		plan.Manifest = &ManifestJob{
			ID:       uuid.New().String(),
			ImageRef: baseRef,
			Sources:  sources,
		}
	}

	return plan, nil
}

// archTag flattens an architecture name into a tag-safe suffix: "arm/v7"
// becomes "armv7".
func archTag(arch string) string {
	return strings.ReplaceAll(arch, "/", "")
}
