package build

import (
	"context"
	"fmt"
	"sync"

	"caravel/internal/artifact"
)

// StubBuilder is a deterministic Builder for local mode and tests: the
// artifact payload is derived from commit and unit, so rebuilding the same
// commit always yields the same digest.
type StubBuilder struct {
	mu sync.Mutex

	// failUnits maps unit names that should fail to compile.
	failUnits map[string]bool

	// builds counts Build invocations per commit/unit, for idempotency
	// assertions in tests.
	builds map[string]int
}

// NewStubBuilder creates a stub builder.
func NewStubBuilder() *StubBuilder {
	return &StubBuilder{
		failUnits: make(map[string]bool),
		builds:    make(map[string]int),
	}
}

// FailUnit makes subsequent builds of the unit fail to compile.
func (b *StubBuilder) FailUnit(unit string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failUnits[unit] = true
}

// BuildCount returns how often the commit/unit pair was actually built.
func (b *StubBuilder) BuildCount(commit, unit string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.builds[commit+"/"+unit]
}

// Build implements Builder.
func (b *StubBuilder) Build(ctx context.Context, commit, unit string) (artifact.Artifact, error) {
	if err := ctx.Err(); err != nil {
		return artifact.Artifact{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.failUnits[unit] {
		return artifact.Artifact{}, fmt.Errorf("compile failed for %s", unit)
	}

	b.builds[commit+"/"+unit]++
	return artifact.Artifact{
		Unit:    unit,
		Commit:  commit,
		Payload: []byte(fmt.Sprintf("artifact:%s:%s", unit, commit)),
	}, nil
}
