// Package reconciler is the GitOps loop: it converges live cluster state
// toward the manifest store head for each deployable unit.
//
// Sync passes are triggered three ways: a poll timer, store head-changed
// events, and explicit SyncNow requests. All triggers funnel into one
// deduplicating work queue keyed by unit, so a unit has at most one pass
// in flight and concurrent triggers coalesce rather than race.
//
// A pass diffs declared resources against live state, applies differing
// resources in fixed dependency order (namespaces first, services last),
// and optionally prunes live resources absent from the revision. Pruning
// is disabled by default and restricted to an allow-list of kinds.
//
// Failed passes retry with capped exponential backoff; an exhausted
// retry budget marks the sync operation stuck for operator attention.
package reconciler
