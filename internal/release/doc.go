// Package release is the orchestration core: it sequences a commit
// through build, registry publish, manifest append, reconciliation and
// health verification, and reverts automatically when verification fails.
//
// The Coordinator serializes releases per deployable unit. Each unit has
// at most one in-flight release; later triggers queue behind it and
// duplicate triggers for a known commit are no-ops. Transitions are
// one-directional:
//
//	Pending -> Building -> Scanning -> Publishing -> ManifestUpdated ->
//	Syncing -> Healthy
//
// with a single automatic detour on failure:
//
//	-> Degraded -> RollingBack -> Syncing -> Healthy | Fatal
//
// Rollback appends a fresh revision carrying the last known-good artifact
// references; it never rewrites history. A rollback that itself degrades
// ends Fatal, which blocks the unit from automatic triggers until an
// operator clears it. Releases that fail before anything reached the
// manifest or the cluster rest Degraded with nothing to revert.
//
// Every transition is recorded as a typed event.
package release
