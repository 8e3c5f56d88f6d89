package config

import "github.com/phpkiln/phpkiln/pkg/schema"

// SupportedPHPVersions is the closed set of PHP release series kiln can
// build. Order matters: enum failure messages list it verbatim.
var SupportedPHPVersions = []string{"7.4", "8.0", "8.1", "8.2", "8.3", "8.4"}

// EOLPHPVersions are accepted series that no longer receive security fixes.
// Selecting one validates but emits an advisory warning.
var EOLPHPVersions = map[string]bool{
	"7.4": true,
	"8.0": true,
	"8.1": true,
}

// SupportedArchitectures is the closed set of target architectures.
var SupportedArchitectures = []string{"amd64", "arm64", "arm/v7", "arm/v6"}

// PlatformFamilies is the closed set of platform discriminator values.
var PlatformFamilies = []string{"alpine", "ubuntu"}

// SupervisorLogLevels matches supervisord's loglevel directive values.
var SupervisorLogLevels = []string{"critical", "error", "warn", "info", "debug"}

// Pattern messages are fixed so reports stay deterministic and greppable.
const (
	durationMessage = "must be a valid duration (digits with optional s/m/h suffix)"
	sizeMessage     = "must be a valid size (digits with optional K/M/G suffix)"
)

// PHPSchema validates the php block: version, extensions and FPM sizing.
func PHPSchema() *schema.ObjectRule {
	return schema.Object(
		schema.Field{Name: "version", Rule: schema.Enum(SupportedPHPVersions...), Required: true},
		schema.Field{Name: "extensions", Rule: schema.Array(schema.String(1, 50), 1, 50), Required: true},
		schema.Field{Name: "fpm", Rule: FPMSchema(), Required: true},
		schema.Field{Name: "runtimeOptions", Rule: schema.StringMap(50, 50, 200)},
	)
}

// FPMSchema validates php-fpm pool sizing. The spare-server fields share the
// 1-100 range; maxChildren allows up to 1000 workers.
func FPMSchema() *schema.ObjectRule {
	return schema.Object(
		schema.Field{Name: "maxChildren", Rule: schema.Int(1, 1000), Required: true},
		schema.Field{Name: "startServers", Rule: schema.Int(1, 100), Required: true},
		schema.Field{Name: "minSpareServers", Rule: schema.Int(1, 100), Required: true},
		schema.Field{Name: "maxSpareServers", Rule: schema.Int(1, 100), Required: true},
		schema.Field{Name: "maxRequests", Rule: schema.Int(1, 100000)},
		schema.Field{Name: "processIdleTimeout", Rule: schema.Int(1, 3600)},
	)
}

// SecuritySchema validates the runtime hardening block.
func SecuritySchema() *schema.ObjectRule {
	return schema.Object(
		schema.Field{Name: "user", Rule: schema.String(1, 32), Required: true},
		schema.Field{Name: "group", Rule: schema.String(1, 32), Required: true},
		schema.Field{Name: "nonRoot", Rule: schema.Bool(), Required: true},
		schema.Field{Name: "readOnlyRoot", Rule: schema.Bool(), Required: true},
		schema.Field{Name: "capabilities", Rule: schema.Array(schema.String(1, 50), 0, 20)},
	)
}

// NginxSchema validates the web server block. workerProcesses stays a
// string: nginx accepts "auto" or a worker count, and the value is passed
// through to the rendered nginx.conf verbatim.
func NginxSchema() *schema.ObjectRule {
	return schema.Object(
		schema.Field{
			Name:     "workerProcesses",
			Rule:     schema.StringMatch(1, 10, `^(auto|\d+)$`, `must be "auto" or a non-negative integer string`),
			Required: true,
		},
		schema.Field{Name: "workerConnections", Rule: schema.Int(1, 65535), Required: true},
		schema.Field{Name: "gzip", Rule: schema.Bool(), Required: true},
		schema.Field{Name: "ssl", Rule: schema.Bool(), Required: true},
		schema.Field{Name: "options", Rule: NginxOptionsSchema()},
	)
}

// NginxOptionsSchema validates the optional nginx tunables.
func NginxOptionsSchema() *schema.ObjectRule {
	duration := func() *schema.StringRule {
		return schema.StringMatch(1, 10, `^\d+[smh]?$`, durationMessage)
	}
	return schema.Object(
		schema.Field{Name: "clientMaxBodySize", Rule: schema.StringMatch(1, 10, `^\d+[KMG]?$`, sizeMessage)},
		schema.Field{Name: "connectTimeout", Rule: duration()},
		schema.Field{Name: "sendTimeout", Rule: duration()},
		schema.Field{Name: "readTimeout", Rule: duration()},
		schema.Field{Name: "rateLimit", Rule: RateLimitSchema()},
	)
}

// RateLimitSchema validates the nginx request rate limit block.
func RateLimitSchema() *schema.ObjectRule {
	return schema.Object(
		schema.Field{Name: "enabled", Rule: schema.Bool(), Required: true},
		schema.Field{Name: "requests", Rule: schema.Int(1, 10000)},
		schema.Field{Name: "window", Rule: schema.StringMatch(1, 10, `^\d+[smh]?$`, durationMessage)},
	)
}

// SupervisorSchema validates the process supervisor block. Everything is
// optional with defaults matching the rendered supervisord.conf.
func SupervisorSchema() *schema.ObjectRule {
	return schema.Object(
		schema.Field{Name: "logLevel", Rule: schema.Enum(SupervisorLogLevels...), Default: "info"},
		schema.Field{Name: "nodaemon", Rule: schema.Bool(), Default: true},
		schema.Field{Name: "user", Rule: schema.String(1, 32)},
	)
}

// MetadataSchema validates the optional image metadata block.
func MetadataSchema() *schema.ObjectRule {
	return schema.Object(
		schema.Field{Name: "version", Rule: schema.String(1, 50)},
		schema.Field{Name: "description", Rule: schema.String(1, 200)},
		schema.Field{Name: "maintainer", Rule: schema.String(1, 100)},
		schema.Field{Name: "author", Rule: schema.String(1, 100), Deprecated: "use metadata.maintainer"},
		schema.Field{
			Name: "buildDate",
			Rule: schema.StringMatch(20, 20, `^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}Z$`, "must be an ISO-8601 UTC timestamp"),
		},
	)
}

// platformOptionalFields are shared by both platform families.
func platformOptionalFields() []schema.Field {
	return []schema.Field{
		{Name: "repositories", Rule: schema.Array(schema.String(1, 200), 0, 10)},
		{Name: "optimizeSize", Rule: schema.Bool()},
		{Name: "cleanupCommands", Rule: schema.Array(schema.String(1, 200), 0, 20)},
		{Name: "environment", Rule: schema.StringMap(50, 50, 200)},
	}
}

// AlpineSchema validates the Alpine family payload. Its required key set
// (apkNoCache) is disjoint from the Ubuntu family's, so a payload can never
// satisfy both.
func AlpineSchema() *schema.ObjectRule {
	fields := []schema.Field{
		{Name: "apkNoCache", Rule: schema.Bool(), Required: true},
	}
	return schema.Object(append(fields, platformOptionalFields()...)...)
}

// UbuntuSchema validates the Debian/Ubuntu family payload.
func UbuntuSchema() *schema.ObjectRule {
	fields := []schema.Field{
		{Name: "aptUpdate", Rule: schema.Bool(), Required: true},
		{Name: "aptUpgrade", Rule: schema.Bool(), Required: true},
		{Name: "aptCleanCache", Rule: schema.Bool(), Required: true},
	}
	return schema.Object(append(fields, platformOptionalFields()...)...)
}

// PlatformSpecificMessage is the single synthetic error reported when a
// payload matches neither platform family.
const PlatformSpecificMessage = "must be a valid Alpine or Ubuntu configuration"

// BuildSchema validates the image build parameters of the final layer.
func BuildSchema() *schema.ObjectRule {
	return schema.Object(
		schema.Field{Name: "baseImage", Rule: schema.String(1, 200), Required: true},
		schema.Field{Name: "buildArgs", Rule: schema.StringMap(50, 50, 200)},
		schema.Field{Name: "context", Rule: schema.String(1, 500)},
		schema.Field{Name: "useCache", Rule: schema.Bool()},
	)
}

// BaseSchema composes the platform-independent layer.
func BaseSchema() *schema.ObjectRule {
	return schema.Object(
		schema.Field{Name: "php", Rule: PHPSchema(), Required: true},
		schema.Field{Name: "security", Rule: SecuritySchema(), Required: true},
		schema.Field{Name: "nginx", Rule: NginxSchema(), Required: true},
		schema.Field{Name: "supervisor", Rule: SupervisorSchema(), Default: map[string]any{"logLevel": "info", "nodaemon": true}},
		schema.Field{Name: "metadata", Rule: MetadataSchema()},
	)
}

// PlatformSchema composes the base layer with the platform overlay, so
// validating it re-checks every base constraint on the same document.
// Alpine is attempted before Ubuntu; when neither family matches, the
// alternatives rule reports the single synthetic error rather than the
// per-family field errors.
func PlatformSchema() *schema.ObjectRule {
	overlay := schema.Object(
		schema.Field{Name: "platform", Rule: schema.Enum(PlatformFamilies...), Required: true},
		schema.Field{
			Name:     "platformSpecific",
			Rule:     schema.Alternatives(PlatformSpecificMessage, AlpineSchema(), UbuntuSchema()),
			Required: true,
		},
	)
	return schema.Concat(BaseSchema(), overlay)
}

// FinalSchema composes the platform layer with the architecture and build
// parameters. This is the schema a complete build document must satisfy.
func FinalSchema() *schema.ObjectRule {
	overlay := schema.Object(
		schema.Field{Name: "architecture", Rule: schema.Enum(SupportedArchitectures...), Required: true},
		schema.Field{Name: "build", Rule: BuildSchema(), Required: true},
	)
	return schema.Concat(PlatformSchema(), overlay)
}
