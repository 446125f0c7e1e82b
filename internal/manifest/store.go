package manifest

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrConflict means the store head advanced past the expected prior
	// sequence. Callers re-read the head and retry; they never force.
	ErrConflict = errors.New("manifest head conflict")

	// ErrNotFound means the unit or sequence number has no revision.
	ErrNotFound = errors.New("revision not found")
)

// HeadEvent reports that a unit's head revision changed.
type HeadEvent struct {
	Unit      string
	Seq       int64
	Timestamp time.Time
}

// Store is the manifest store client. The store owns revision content; the
// orchestration core only appends, using optimistic concurrency on the
// prior sequence number.
type Store interface {
	// Head returns the latest revision for a unit, or ErrNotFound.
	Head(ctx context.Context, unit string) (Revision, error)

	// Get returns one revision by sequence number, or ErrNotFound.
	Get(ctx context.Context, unit string, seq int64) (Revision, error)

	// Append writes rev as the next revision if the current head sequence
	// equals priorSeq (0 for an empty history), returning the assigned
	// sequence number or ErrConflict. A failed or cancelled append leaves
	// no orphaned revision behind.
	Append(ctx context.Context, unit string, priorSeq int64, rev Revision) (int64, error)

	// Units lists units with at least one revision.
	Units(ctx context.Context) ([]string, error)

	// Watch emits a HeadEvent whenever any unit's head changes, until ctx
	// is done. Events are debounced; consumers re-read the head rather
	// than trusting event payloads for anything but the unit name.
	Watch(ctx context.Context, events chan<- HeadEvent) error
}
