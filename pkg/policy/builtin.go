package policy

import (
	"time"
)

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		runtimeUserPolicy(),
		imageProvenancePolicy(),
		capabilityBoundsPolicy(),
		productionTLSPolicy(),
		packageCachePolicy(),
	}
}

// runtimeUserPolicy requires production images to drop root.
func runtimeUserPolicy() Policy {
	return Policy{
		Name:        "runtime-user",
		Description: "Requires production images to run services as an unprivileged user",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"security", "runtime"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package kiln.policies.runtime

import rego.v1

deny contains violation if {
	input.context.environment == "production"
	not input.config.security.nonRoot
	violation := {
		"message": "production images must run as a non-root user",
		"severity": "error",
		"path": "security.nonRoot",
		"remediation": "set security.nonRoot to true",
	}
}

deny contains violation if {
	input.context.environment == "production"
	input.config.security.user == "root"
	violation := {
		"message": "production images must not run services as root",
		"severity": "error",
		"path": "security.user",
	}
}`,
	}
}

// imageProvenancePolicy forbids floating base image tags.
func imageProvenancePolicy() Policy {
	return Policy{
		Name:        "image-provenance",
		Description: "Forbids base images pinned to the floating :latest tag",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"images", "provenance"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package kiln.policies.provenance

import rego.v1

deny contains violation if {
	ref := input.config.build.baseImage
	endswith(ref, ":latest")
	violation := {
		"message": sprintf("base image %s uses the floating :latest tag", [ref]),
		"severity": "error",
		"path": "build.baseImage",
		"remediation": "pin the base image to a versioned tag or digest",
	}
}

deny contains violation if {
	ref := input.config.build.baseImage
	ref != ""
	not contains(ref, ":")
	not contains(ref, "@")
	violation := {
		"message": sprintf("base image %s carries no tag and defaults to :latest", [ref]),
		"severity": "error",
		"path": "build.baseImage",
		"remediation": "pin the base image to a versioned tag or digest",
	}
}`,
	}
}

// capabilityBoundsPolicy bounds the Linux capabilities an image may retain.
func capabilityBoundsPolicy() Policy {
	return Policy{
		Name:        "capability-bounds",
		Description: "Bounds retained Linux capabilities to the set a web image needs",
		Severity:    SeverityCritical,
		Enabled:     true,
		Tags:        []string{"security", "capabilities"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package kiln.policies.capabilities

import rego.v1

# Capabilities an nginx plus php-fpm image legitimately needs.
allowed_capabilities := {
	"CHOWN",
	"DAC_OVERRIDE",
	"FOWNER",
	"KILL",
	"NET_BIND_SERVICE",
	"SETGID",
	"SETUID",
}

deny contains violation if {
	some cap in input.config.security.capabilities
	not cap in allowed_capabilities
	violation := {
		"message": sprintf("capability %s is outside the allowed set for web images", [cap]),
		"severity": "critical",
		"path": "security.capabilities",
		"remediation": "drop the capability or run the workload outside this image",
	}
}`,
	}
}

// productionTLSPolicy requires the TLS listener in production.
func productionTLSPolicy() Policy {
	return Policy{
		Name:        "production-tls",
		Description: "Requires the nginx TLS listener when the image targets production",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"tls", "production"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package kiln.policies.tls

import rego.v1

deny contains violation if {
	input.context.environment == "production"
	not input.config.nginx.ssl
	violation := {
		"message": "production images must enable the nginx TLS listener",
		"severity": "error",
		"path": "nginx.ssl",
		"remediation": "set nginx.ssl to true or terminate TLS outside the image and document it",
	}
}`,
	}
}

// packageCachePolicy flags images that keep their package manager cache.
func packageCachePolicy() Policy {
	return Policy{
		Name:        "package-cache",
		Description: "Flags images that retain the apk or apt package cache",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"hygiene", "size"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package kiln.policies.cache

import rego.v1

deny contains violation if {
	input.config.platformSpecific.apkNoCache == false
	violation := {
		"message": "alpine images should not keep the apk package cache",
		"severity": "warning",
		"path": "platformSpecific.apkNoCache",
		"remediation": "set platformSpecific.apkNoCache to true",
	}
}

deny contains violation if {
	input.config.platformSpecific.aptCleanCache == false
	violation := {
		"message": "debian and ubuntu images should clean the apt cache after install",
		"severity": "warning",
		"path": "platformSpecific.aptCleanCache",
		"remediation": "set platformSpecific.aptCleanCache to true",
	}
}`,
	}
}
