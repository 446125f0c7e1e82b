package manifest

import (
	"context"
	"errors"
	"fmt"

	"caravel/internal/artifact"
	"caravel/pkg/logging"
)

// maxConflictRetries bounds the optimistic-concurrency retry loop. A
// conflict signals normal concurrent activity, not an outage, so retries
// are immediate; the bound only guards against livelock.
const maxConflictRetries = 10

// Updater appends new revisions to the manifest store. It substitutes
// artifact digests into the prior revision's resource templates and
// carries every other field through unchanged. It never touches the
// cluster.
type Updater struct {
	store Store
}

// NewUpdater creates an updater on top of a store.
func NewUpdater(store Store) *Updater {
	return &Updater{store: store}
}

// Append builds and appends the revision for a commit's artifact set. On
// head conflict it re-reads the head and re-substitutes against the fresh
// revision; it never force-overwrites.
func (u *Updater) Append(ctx context.Context, unit, commit string, artifacts artifact.Set) (Revision, error) {
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		prior, err := u.store.Head(ctx, unit)
		priorSeq := int64(0)
		switch {
		case err == nil:
			priorSeq = prior.Seq
		case errors.Is(err, ErrNotFound):
			// First release of this unit: start from the default template.
			prior = Revision{Unit: unit, Resources: DefaultTemplate(unit)}
		default:
			return Revision{}, err
		}

		next := substitute(prior, commit, artifacts)
		next.RollbackOf = 0

		seq, err := u.store.Append(ctx, unit, priorSeq, next)
		if err == nil {
			next.Seq = seq
			next.Parent = priorSeq
			logging.Info("Manifest", "Appended revision %d for %s referencing commit %s", seq, unit, commit)
			return next, nil
		}
		if !errors.Is(err, ErrConflict) {
			return Revision{}, err
		}
		logging.Debug("Manifest", "Head conflict appending for %s, re-reading (attempt %d)", unit, attempt+1)
	}

	return Revision{}, fmt.Errorf("append for %s: %w after %d attempts", unit, ErrConflict, maxConflictRetries)
}

// AppendRollback appends a new revision whose resources are a pure copy of
// the prior-good target revision. History stays linear and auditable: the
// rollback earns a fresh sequence number and records which revision it
// reverts.
func (u *Updater) AppendRollback(ctx context.Context, unit string, target Revision, failedSeq int64) (Revision, error) {
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		head, err := u.store.Head(ctx, unit)
		if err != nil {
			return Revision{}, err
		}

		next := target.Copy()
		next.RollbackOf = failedSeq

		seq, err := u.store.Append(ctx, unit, head.Seq, next)
		if err == nil {
			next.Seq = seq
			next.Parent = head.Seq
			logging.Info("Manifest", "Appended rollback revision %d for %s restoring seq %d", seq, unit, target.Seq)
			return next, nil
		}
		if !errors.Is(err, ErrConflict) {
			return Revision{}, err
		}
	}

	return Revision{}, fmt.Errorf("rollback append for %s: %w after %d attempts", unit, ErrConflict, maxConflictRetries)
}

// substitute produces the next revision from a prior one: workload
// resources referencing a built artifact get the new pinned image, every
// other field is preserved verbatim.
func substitute(prior Revision, commit string, artifacts artifact.Set) Revision {
	next := prior.Copy()
	next.Commit = commit

	for i := range next.Resources {
		res := &next.Resources[i]
		if res.Artifact == "" {
			continue
		}
		a, ok := artifacts[res.Artifact]
		if !ok {
			// No artifact built for this reference; the resource keeps its
			// previously pinned image.
			continue
		}
		res.Image = a.Ref()
	}

	return next
}
