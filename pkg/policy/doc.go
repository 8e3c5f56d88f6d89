// Package policy gates build configurations with Open Policy Agent (OPA).
//
// A configuration that passed structural validation still has to clear the
// policy gate before kiln plans and runs image builds. Policies are written
// in the Rego language and evaluate the composed configuration JSON together
// with an evaluation context (target environment, operation, dry run).
// Violations at error or critical severity block the build; warnings are
// surfaced but never block.
//
// # Architecture
//
// The policy system consists of four main components:
//
//  1. Engine - Compiles and evaluates Rego policies
//  2. Loader - Loads policies from files, directories, and bundles
//  3. Types - Data structures for policies, violations, and results
//  4. Built-in Policies - Pre-defined posture checks for PHP web images
//
// # Usage
//
// Creating a policy engine and gating a configuration:
//
//	logger := zerolog.New(os.Stdout)
//	gate, err := policy.NewEngine(logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	result, err := gate.Evaluate(ctx, cfg, &policy.PolicyContext{
//	    Environment: "production",
//	    Operation:   "build",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	if !result.Allowed {
//	    for _, violation := range result.Blocking() {
//	        fmt.Printf("Policy %s violated: %s\n", violation.Policy, violation.Message)
//	    }
//	}
//
// Loading custom policies:
//
//	paths := []string{
//	    "/etc/kiln/policies",
//	    "/opt/policies/custom.rego",
//	}
//
//	err = gate.LoadPolicies(ctx, paths)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// # Built-in Policies
//
// The following policies are included by default:
//
//  1. runtime-user - Production images must run as a non-root user
//  2. image-provenance - Base images must not use the floating :latest tag
//  3. capability-bounds - Retained Linux capabilities stay inside an allowed set
//  4. production-tls - Production images must enable the nginx TLS listener
//  5. package-cache - Images should not retain the apk or apt package cache
//
// # Input Document
//
// Policies see the composed configuration under input.config with the same
// field names the configuration file uses, and the evaluation context under
// input.context:
//
//	{
//	    "config": {
//	        "php": {...},
//	        "security": {"nonRoot": true, ...},
//	        "nginx": {"ssl": true, ...},
//	        "platform": "alpine",
//	        "platformSpecific": {"apkNoCache": true},
//	        "architecture": "amd64",
//	        "build": {"baseImage": "alpine:3.20", ...}
//	    },
//	    "context": {"environment": "production", "operation": "build", "dry_run": false}
//	}
//
// # Custom Policies
//
// Custom policies can be written in Rego and loaded from files. The leading
// comment block may carry a description plus "severity:" and "tags:" lines:
//
//	# flags PHP series that no longer receive security fixes
//	# severity: error
//	# tags: php, lifecycle
//	package kiln.policies.eol
//
//	import rego.v1
//
//	eol_versions := {"7.4", "8.0"}
//
//	deny contains violation if {
//	    input.config.php.version in eol_versions
//	    violation := {
//	        "message": sprintf("PHP %s is end of life", [input.config.php.version]),
//	        "severity": "error",
//	        "path": "php.version",
//	    }
//	}
//
// Each deny result may be a bare message string or an object with message,
// severity, path and remediation keys.
//
// # Severity Levels
//
// Violations have four severity levels:
//
//   - info: Informational messages
//   - warning: Issues that should be reviewed but don't block builds
//   - error: Issues that block builds
//   - critical: Severe posture problems that block builds
//
// # Hot Reload
//
// The loader supports watching policy files for changes and reloading
// automatically:
//
//	loader := policy.NewLoader(logger)
//	err = loader.Watch(ctx, paths, func(policies []policy.Policy) error {
//	    return gate.ReloadPolicies(ctx, paths...)
//	})
//
// # Performance
//
// Policies are parsed and compiled once; each policy's deny query is
// prepared with OPA's PreparedEvalQuery and reused for every evaluation.
// The loader caches parsed files by path and modification time.
package policy
