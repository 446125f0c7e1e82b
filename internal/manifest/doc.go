// Package manifest owns the declarative side of the release pipeline: the
// Revision model (a unit's linear, append-only history of desired state),
// the Store client interface, a file-backed store implementation, and the
// Updater that appends new revisions by digest substitution.
//
// # Mutation protocol
//
// All writers use optimistic concurrency: an Append names the prior
// sequence number it observed, and the store rejects it with ErrConflict
// if the head has advanced. Contention resolves by retry-with-reread,
// never by locks or overwrites, which keeps per-unit history strictly
// increasing and gapless. Rollbacks are ordinary appends that record the
// sequence they revert; history is never edited in place.
//
// # Head watching
//
// FileStore.Watch emits debounced HeadEvents when a unit's HEAD pointer
// changes, backed by fsnotify. The reconciler uses this alongside its poll
// timer; consumers re-read the head rather than trusting event payloads.
package manifest
