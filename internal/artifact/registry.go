package artifact

import (
	"context"
	"fmt"
	"sync"

	"caravel/pkg/logging"
)

// Registry is the artifact registry client consumed by the build
// coordinator. Implementations must be safe for concurrent use.
//
// The core never assumes the registry and the manifest store are
// transactional with each other; ordering (publish before reference) is the
// release coordinator's job.
type Registry interface {
	// Push publishes an artifact and returns its content digest. Pushing
	// identical content twice returns the same digest without error.
	Push(ctx context.Context, a Artifact) (Digest, error)

	// Pull retrieves an artifact by digest.
	Pull(ctx context.Context, d Digest) (Artifact, error)

	// Exists reports whether an artifact for the given commit and unit is
	// already published, returning its digest if so. This is the
	// content-addressed cache check behind build idempotency.
	Exists(ctx context.Context, commit, unit string) (Digest, bool, error)

	// Tag attaches a mutable alias to an existing digest.
	Tag(ctx context.Context, d Digest, alias string) error
}

// ErrNotFound is returned by Pull and Tag for unknown digests.
var ErrNotFound = fmt.Errorf("artifact not found")

// MemRegistry is an in-memory Registry used by tests and local mode.
// Digests are computed from payload content, so it behaves like a real
// content-addressed registry under duplicate pushes.
type MemRegistry struct {
	mu sync.RWMutex

	// byDigest holds published artifacts keyed by content digest.
	byDigest map[Digest]Artifact

	// byCommitUnit indexes digests by "commit/unit" for Exists lookups.
	byCommitUnit map[string]Digest

	// failPushes, when positive, makes the next N pushes fail. Used by
	// tests to exercise publish retry behavior.
	failPushes int
}

// NewMemRegistry creates an empty in-memory registry.
func NewMemRegistry() *MemRegistry {
	return &MemRegistry{
		byDigest:     make(map[Digest]Artifact),
		byCommitUnit: make(map[string]Digest),
	}
}

// FailNextPushes makes the next n Push calls return an error.
func (r *MemRegistry) FailNextPushes(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failPushes = n
}

// Push implements Registry.
func (r *MemRegistry) Push(ctx context.Context, a Artifact) (Digest, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.failPushes > 0 {
		r.failPushes--
		return "", fmt.Errorf("registry unreachable")
	}

	if a.Digest == "" {
		a.Digest = ComputeDigest(a.Payload)
	}
	if err := a.Digest.Validate(); err != nil {
		return "", err
	}

	// Re-pushing identical content is a no-op apart from tag updates.
	if existing, ok := r.byDigest[a.Digest]; ok {
		existing.Tags = mergeTags(existing.Tags, a.Tags)
		r.byDigest[a.Digest] = existing
		return a.Digest, nil
	}

	r.byDigest[a.Digest] = a
	r.byCommitUnit[commitUnitKey(a.Commit, a.Unit)] = a.Digest
	logging.Debug("Registry", "Pushed %s for %s@%s", a.Digest.Short(), a.Unit, a.Commit)
	return a.Digest, nil
}

// Pull implements Registry.
func (r *MemRegistry) Pull(ctx context.Context, d Digest) (Artifact, error) {
	if err := ctx.Err(); err != nil {
		return Artifact{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.byDigest[d]
	if !ok {
		return Artifact{}, fmt.Errorf("pull %s: %w", d.Short(), ErrNotFound)
	}
	return a, nil
}

// Exists implements Registry.
func (r *MemRegistry) Exists(ctx context.Context, commit, unit string) (Digest, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.byCommitUnit[commitUnitKey(commit, unit)]
	return d, ok, nil
}

// Tag implements Registry.
func (r *MemRegistry) Tag(ctx context.Context, d Digest, alias string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.byDigest[d]
	if !ok {
		return fmt.Errorf("tag %s: %w", d.Short(), ErrNotFound)
	}
	a.Tags = mergeTags(a.Tags, []string{alias})
	r.byDigest[d] = a
	return nil
}

// Len returns the number of distinct artifacts in the registry.
func (r *MemRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byDigest)
}

func commitUnitKey(commit, unit string) string {
	return commit + "/" + unit
}

func mergeTags(existing, extra []string) []string {
	seen := make(map[string]bool, len(existing))
	out := existing
	for _, t := range existing {
		seen[t] = true
	}
	for _, t := range extra {
		if !seen[t] {
			out = append(out, t)
			seen[t] = true
		}
	}
	return out
}
