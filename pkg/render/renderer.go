package render

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"text/template"

	"github.com/rs/zerolog"

	"github.com/phpkiln/phpkiln/pkg/config"
)

//go:embed templates/*.tmpl
var templatesFS embed.FS

var templates = template.Must(template.New("render").
	Funcs(template.FuncMap{"join": strings.Join}).
	ParseFS(templatesFS, "templates/*.tmpl"))

// Artifact is a single rendered file. Name is relative to the build context
// root; Mode is applied by WriteTo.
type Artifact struct {
	Name    string
	Mode    fs.FileMode
	Content []byte
}

// Renderer renders the build artifacts for a final configuration.
type Renderer struct {
	logger zerolog.Logger
}

// NewRenderer returns a Renderer that logs through the given logger.
func NewRenderer(logger zerolog.Logger) *Renderer {
	return &Renderer{
		logger: logger.With().Str("component", "render").Logger(),
	}
}

// Render produces the artifact set for cfg. The set and its order are fixed:
// Dockerfile, nginx.conf, php-fpm.conf, supervisord.conf,
// docker-entrypoint.sh. Rendering the same configuration twice yields
// byte-identical output.
func (r *Renderer) Render(cfg *config.FinalConfig) ([]Artifact, error) {
	if cfg == nil {
		return nil, fmt.Errorf("render: nil configuration")
	}

	var dockerfile string
	switch cfg.Platform {
	case "alpine":
		dockerfile = "dockerfile.alpine.tmpl"
	case "ubuntu":
		dockerfile = "dockerfile.ubuntu.tmpl"
	default:
		return nil, fmt.Errorf("render: unknown platform %q", cfg.Platform)
	}

	data := newTemplateData(cfg)

	plan := []struct {
		template string
		name     string
		mode     fs.FileMode
	}{
		{dockerfile, "Dockerfile", 0o644},
		{"nginx.conf.tmpl", "nginx.conf", 0o644},
		{"php-fpm.conf.tmpl", "php-fpm.conf", 0o644},
		{"supervisord.conf.tmpl", "supervisord.conf", 0o644},
		{"docker-entrypoint.sh.tmpl", "docker-entrypoint.sh", 0o755},
	}

	artifacts := make([]Artifact, 0, len(plan))
	for _, p := range plan {
		var buf bytes.Buffer
		if err := templates.ExecuteTemplate(&buf, p.template, data); err != nil {
			return nil, fmt.Errorf("rendering %s: %w", p.name, err)
		}
		artifacts = append(artifacts, Artifact{Name: p.name, Mode: p.mode, Content: buf.Bytes()})
	}

	r.logger.Debug().
		Str("platform", cfg.Platform).
		Str("php_version", cfg.PHP.Version).
		Str("architecture", cfg.Architecture).
		Int("artifacts", len(artifacts)).
		Msg("rendered build artifacts")

	return artifacts, nil
}

// WriteTo writes the artifacts under dir, creating it if needed. Each file
// gets the mode recorded on its artifact.
func WriteTo(dir string, artifacts []Artifact) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	for _, a := range artifacts {
		path := filepath.Join(dir, a.Name)
		if err := os.WriteFile(path, a.Content, a.Mode); err != nil {
			return fmt.Errorf("writing %s: %w", a.Name, err)
		}
	}
	return nil
}

// kv is a key/value pair with a stable render order.
type kv struct {
	Key   string
	Value string
}

// templateData is the single view handed to every template. It embeds the
// configuration and precomputes everything that needs distribution-specific
// naming or a stable iteration order.
type templateData struct {
	*config.FinalConfig

	// PHPPackages lists the distribution packages for the PHP runtime and
	// the selected extensions, in declaration order.
	PHPPackages []string

	// SystemPackages are the non-PHP packages every image carries.
	SystemPackages []string

	// FPMBinary is the distribution's php-fpm executable name.
	FPMBinary string

	// Maintainer is metadata.maintainer, falling back to the deprecated
	// metadata.author.
	Maintainer string

	// Dereferenced platform flags. A nil pointer renders as false.
	ApkNoCache    bool
	AptUpdate     bool
	AptUpgrade    bool
	AptCleanCache bool

	Environment    []kv
	BuildArgNames  []string
	RuntimeOptions []kv

	// RateLimit is non-nil when the nginx limit_req zone is on.
	RateLimit *rateLimitData
}

type rateLimitData struct {
	Rate  string
	Burst int
}

func newTemplateData(cfg *config.FinalConfig) *templateData {
	prefix := phpPackagePrefix(cfg.Platform, cfg.PHP.Version)

	pkgs := make([]string, 0, len(cfg.PHP.Extensions)+2)
	if cfg.Platform == "alpine" {
		pkgs = append(pkgs, prefix, prefix+"-fpm")
	} else {
		pkgs = append(pkgs, prefix+"-cli", prefix+"-fpm")
	}
	for _, ext := range cfg.PHP.Extensions {
		pkgs = append(pkgs, prefix+"-"+ext)
	}

	return &templateData{
		FinalConfig:    cfg,
		PHPPackages:    pkgs,
		SystemPackages: []string{"ca-certificates", "curl", "nginx", "supervisor"},
		FPMBinary:      fpmBinary(cfg.Platform, cfg.PHP.Version),
		Maintainer:     maintainer(cfg.Metadata),
		ApkNoCache:     boolValue(cfg.PlatformSpecific.ApkNoCache),
		AptUpdate:      boolValue(cfg.PlatformSpecific.AptUpdate),
		AptUpgrade:     boolValue(cfg.PlatformSpecific.AptUpgrade),
		AptCleanCache:  boolValue(cfg.PlatformSpecific.AptCleanCache),
		Environment:    sortedPairs(cfg.PlatformSpecific.Environment),
		BuildArgNames:  sortedKeys(cfg.Build.BuildArgs),
		RuntimeOptions: sortedPairs(cfg.PHP.RuntimeOptions),
		RateLimit:      rateLimit(cfg.Nginx.Options),
	}
}

// phpPackagePrefix names the distribution package family for a PHP series:
// Alpine drops the dot ("php83"), Ubuntu keeps it ("php8.3").
func phpPackagePrefix(platform, version string) string {
	if platform == "alpine" {
		return "php" + strings.ReplaceAll(version, ".", "")
	}
	return "php" + version
}

// fpmBinary names the php-fpm executable the same way the packages are
// named: php-fpm83 on Alpine, php-fpm8.3 on Ubuntu.
func fpmBinary(platform, version string) string {
	if platform == "alpine" {
		return "php-fpm" + strings.ReplaceAll(version, ".", "")
	}
	return "php-fpm" + version
}

func maintainer(md *config.Metadata) string {
	if md == nil {
		return ""
	}
	if md.Maintainer != "" {
		return md.Maintainer
	}
	return md.Author
}

func boolValue(p *bool) bool {
	return p != nil && *p
}

func sortedKeys(m map[string]string) []string {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedPairs(m map[string]string) []kv {
	keys := sortedKeys(m)
	if keys == nil {
		return nil
	}
	pairs := make([]kv, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, kv{Key: k, Value: m[k]})
	}
	return pairs
}

// rateLimit converts the requests-per-window pair into nginx limit_req
// notation. nginx only accepts integer r/s and r/m rates, so windows of a
// minute or longer become a per-minute rate and shorter windows a per-second
// rate, rounding up so the configured budget is never undercut.
func rateLimit(opts *config.NginxOptions) *rateLimitData {
	if opts == nil || opts.RateLimit == nil || !opts.RateLimit.Enabled {
		return nil
	}
	requests := opts.RateLimit.Requests
	if requests <= 0 {
		return nil
	}
	secs := windowSeconds(opts.RateLimit.Window)

	var rate string
	if secs >= 60 {
		per := (requests*60 + secs - 1) / secs
		if per < 1 {
			per = 1
		}
		rate = strconv.Itoa(per) + "r/m"
	} else {
		per := (requests + secs - 1) / secs
		if per < 1 {
			per = 1
		}
		rate = strconv.Itoa(per) + "r/s"
	}

	return &rateLimitData{Rate: rate, Burst: requests}
}

// windowSeconds parses a duration in configuration notation: digits with an
// optional s/m/h suffix, bare digits meaning seconds. Empty or invalid
// windows fall back to one minute.
func windowSeconds(window string) int {
	if window == "" {
		return 60
	}
	digits, mult := window, 1
	switch window[len(window)-1] {
	case 's':
		digits = window[:len(window)-1]
	case 'm':
		digits, mult = window[:len(window)-1], 60
	case 'h':
		digits, mult = window[:len(window)-1], 3600
	}
	v, err := strconv.Atoi(digits)
	if err != nil || v <= 0 {
		return 60
	}
	return v * mult
}
