// Package builder plans and executes image builds from validated
// configurations.
//
// Plan expands one final configuration into a BuildPlan: one BuildJob per
// target architecture and, when pushing more than one architecture, a
// ManifestJob that stitches the per-architecture images into a single
// multi-arch reference. Jobs are docker buildx invocations expressed as
// Commands, so they can run against the local daemon or a remote build host
// through the Executor interface.
//
// Runner drains a plan through a bounded worker pool. Failures are handed
// to the fault classifier; retryable kinds (network, registry, push,
// transient build errors) are retried with the classifier's backoff
// strategy, everything else fails fast. The manifest job runs strictly
// after every build job succeeded. Progress is reported through the
// telemetry event publisher and metrics registry, and build records land in
// the history store when one is configured.
package builder
