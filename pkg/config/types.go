package config

import "time"

// PHPConfig describes the PHP runtime baked into the image.
type PHPConfig struct {
	// Version is the PHP release series, e.g. "8.3".
	Version string `json:"version"`

	// Extensions lists the PHP extensions to install.
	Extensions []string `json:"extensions"`

	// FPM sizes the php-fpm process manager pool.
	FPM FPMConfig `json:"fpm"`

	// RuntimeOptions are extra php.ini directives.
	RuntimeOptions map[string]string `json:"runtimeOptions,omitempty"`
}

// FPMConfig sizes the php-fpm dynamic process manager.
type FPMConfig struct {
	// MaxChildren caps the pool size.
	MaxChildren int `json:"maxChildren"`

	// StartServers is the number of children created on startup.
	StartServers int `json:"startServers"`

	// MinSpareServers is the minimum number of idle children.
	MinSpareServers int `json:"minSpareServers"`

	// MaxSpareServers is the maximum number of idle children.
	MaxSpareServers int `json:"maxSpareServers"`

	// MaxRequests recycles a child after this many requests. Zero keeps
	// children alive indefinitely.
	MaxRequests int `json:"maxRequests,omitempty"`

	// ProcessIdleTimeout is the idle child timeout in seconds.
	ProcessIdleTimeout int `json:"processIdleTimeout,omitempty"`
}

// SecurityConfig captures the runtime hardening posture of the image.
type SecurityConfig struct {
	// User is the runtime user the services run as.
	User string `json:"user"`

	// Group is the runtime group.
	Group string `json:"group"`

	// NonRoot requires the container to run unprivileged.
	NonRoot bool `json:"nonRoot"`

	// ReadOnlyRoot marks the root filesystem read-only.
	ReadOnlyRoot bool `json:"readOnlyRoot"`

	// Capabilities lists Linux capabilities to retain.
	Capabilities []string `json:"capabilities,omitempty"`
}

// NginxConfig describes the web server in front of php-fpm.
type NginxConfig struct {
	// WorkerProcesses is either the literal "auto" or a non-negative
	// integer, kept as a string and passed verbatim into nginx.conf.
	WorkerProcesses string `json:"workerProcesses"`

	// WorkerConnections is the per-worker connection limit.
	WorkerConnections int `json:"workerConnections"`

	// Gzip enables response compression.
	Gzip bool `json:"gzip"`

	// SSL enables the TLS listener.
	SSL bool `json:"ssl"`

	// Options are optional tunables.
	Options *NginxOptions `json:"options,omitempty"`
}

// NginxOptions are the optional nginx tunables. Sizes use nginx notation
// (digits with an optional K/M/G suffix), durations use digits with an
// optional s/m/h suffix.
type NginxOptions struct {
	ClientMaxBodySize string           `json:"clientMaxBodySize,omitempty"`
	ConnectTimeout    string           `json:"connectTimeout,omitempty"`
	SendTimeout       string           `json:"sendTimeout,omitempty"`
	ReadTimeout       string           `json:"readTimeout,omitempty"`
	RateLimit         *RateLimitConfig `json:"rateLimit,omitempty"`
}

// RateLimitConfig bounds request rates at the nginx layer.
type RateLimitConfig struct {
	// Enabled switches the limit_req zone on.
	Enabled bool `json:"enabled"`

	// Requests is the number of requests allowed per window.
	Requests int `json:"requests,omitempty"`

	// Window is the rate window, digits with an optional s/m/h suffix.
	Window string `json:"window,omitempty"`
}

// SupervisorConfig configures the process supervisor that runs nginx and
// php-fpm side by side.
type SupervisorConfig struct {
	LogLevel string `json:"logLevel,omitempty"`
	NoDaemon bool   `json:"nodaemon,omitempty"`
	User     string `json:"user,omitempty"`
}

// Metadata labels the produced image. Author is accepted for compatibility
// but deprecated in favor of Maintainer, mirroring the retirement of the
// Dockerfile MAINTAINER instruction.
type Metadata struct {
	Version     string `json:"version,omitempty"`
	Description string `json:"description,omitempty"`
	Maintainer  string `json:"maintainer,omitempty"`
	Author      string `json:"author,omitempty"`
	BuildDate   string `json:"buildDate,omitempty"`
}

// BaseConfig is the platform-independent layer of a build configuration.
type BaseConfig struct {
	PHP        PHPConfig        `json:"php"`
	Security   SecurityConfig   `json:"security"`
	Nginx      NginxConfig      `json:"nginx"`
	Supervisor SupervisorConfig `json:"supervisor"`
	Metadata   *Metadata        `json:"metadata,omitempty"`
}

// PlatformSpecific holds whichever platform family payload validated.
// Exactly one family's required flags are set: ApkNoCache for Alpine, the
// Apt* triple for Debian/Ubuntu. The optional fields are shared by both.
type PlatformSpecific struct {
	ApkNoCache *bool `json:"apkNoCache,omitempty"`

	AptUpdate     *bool `json:"aptUpdate,omitempty"`
	AptUpgrade    *bool `json:"aptUpgrade,omitempty"`
	AptCleanCache *bool `json:"aptCleanCache,omitempty"`

	Repositories    []string          `json:"repositories,omitempty"`
	OptimizeSize    bool              `json:"optimizeSize,omitempty"`
	CleanupCommands []string          `json:"cleanupCommands,omitempty"`
	Environment     map[string]string `json:"environment,omitempty"`
}

// IsAlpine reports whether the payload carries the Alpine family shape.
func (p *PlatformSpecific) IsAlpine() bool {
	return p != nil && p.ApkNoCache != nil
}

// PlatformConfig is the base layer plus the platform overlay.
type PlatformConfig struct {
	BaseConfig
	Platform         string           `json:"platform"`
	PlatformSpecific PlatformSpecific `json:"platformSpecific"`
}

// BuildConfig carries the image build parameters of the final layer.
type BuildConfig struct {
	// BaseImage is the FROM reference.
	BaseImage string `json:"baseImage"`

	// BuildArgs become ARG values at build time.
	BuildArgs map[string]string `json:"buildArgs,omitempty"`

	// Context is the build context path.
	Context string `json:"context,omitempty"`

	// UseCache toggles the docker layer cache; nil means the docker default.
	UseCache *bool `json:"useCache,omitempty"`
}

// FinalConfig is the fully composed, fully validated build configuration.
type FinalConfig struct {
	PlatformConfig
	Architecture string      `json:"architecture"`
	Build        BuildConfig `json:"build"`
}

// Settings are kiln's tool-level options, loaded from an optional settings
// file next to the build configuration. They are validated with struct tags
// rather than the combinator engine: these knobs configure the tool, not the
// image.
type Settings struct {
	Registry   string `json:"registry,omitempty" yaml:"registry" validate:"omitempty,max=200"`
	Repository string `json:"repository,omitempty" yaml:"repository" validate:"omitempty,max=200"`
	Tag        string `json:"tag,omitempty" yaml:"tag" validate:"omitempty,max=100"`
	StorePath  string `json:"storePath,omitempty" yaml:"storePath" validate:"omitempty,max=500"`
	PolicyDir  string `json:"policyDir,omitempty" yaml:"policyDir" validate:"omitempty,max=500"`
	Parallel   int    `json:"parallel,omitempty" yaml:"parallel" validate:"omitempty,min=1,max=16"`
	MaxRetries int    `json:"maxRetries,omitempty" yaml:"maxRetries" validate:"omitempty,min=0,max=10"`
	LogLevel   string `json:"logLevel,omitempty" yaml:"logLevel" validate:"omitempty,oneof=trace debug info warn error"`

	Remote RemoteSettings `json:"remote,omitempty" yaml:"remote"`
}

// RemoteSettings select an SSH build host instead of the local docker CLI.
type RemoteSettings struct {
	Host    string `json:"host,omitempty" yaml:"host" validate:"omitempty,hostname|ip"`
	Port    int    `json:"port,omitempty" yaml:"port" validate:"omitempty,min=1,max=65535"`
	User    string `json:"user,omitempty" yaml:"user" validate:"omitempty,max=32"`
	KeyPath string `json:"keyPath,omitempty" yaml:"keyPath" validate:"omitempty,max=500"`
}

// DefaultSettings returns the settings used when no settings file exists.
func DefaultSettings() *Settings {
	return &Settings{
		Repository: "phpkiln/app",
		Tag:        "latest",
		Parallel:   2,
		MaxRetries: 2,
		LogLevel:   "info",
	}
}

// ValidationReport summarizes one engine layer for logs and the CLI.
type ValidationReport struct {
	Layer       string        `json:"layer"`
	Valid       bool          `json:"valid"`
	Errors      []string      `json:"errors,omitempty"`
	Warnings    []string      `json:"warnings,omitempty"`
	Duration    time.Duration `json:"duration"`
	EvaluatedAt time.Time     `json:"evaluatedAt"`
}
