package build

import (
	"context"
	"fmt"

	"caravel/internal/artifact"
)

// ErrorKind classifies build failures. The kind decides the retry policy:
// publish failures are retried with backoff, compile failures and policy
// rejections are not.
type ErrorKind string

const (
	// KindCompileFailure means the unit failed to compile or package.
	KindCompileFailure ErrorKind = "CompileFailure"

	// KindPolicyRejected means the scan gate blocked the artifact.
	KindPolicyRejected ErrorKind = "PolicyRejected"

	// KindPublishFailure means the registry could not be reached after the
	// configured retry budget.
	KindPublishFailure ErrorKind = "PublishFailure"
)

// Error is the typed build failure returned by the coordinator.
type Error struct {
	// Kind classifies the failure.
	Kind ErrorKind

	// Unit is the deployable unit the failure belongs to.
	Unit string

	// Err is the underlying cause.
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("build %s for %s: %v", e.Kind, e.Unit, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether retriggering the same commit could succeed
// without a source change.
func (e *Error) Retryable() bool {
	return e.Kind == KindPublishFailure
}

// Builder turns one commit and unit into artifact content. It is the
// external build system collaborator; the coordinator owns idempotency and
// publishing, not compilation.
type Builder interface {
	Build(ctx context.Context, commit, unit string) (artifact.Artifact, error)
}

// Finding is a single scan result for a published artifact.
type Finding struct {
	// Unit is the deployable unit the finding belongs to.
	Unit string `json:"unit"`

	// Severity is the severity class (critical, high, medium, low).
	Severity string `json:"severity"`

	// ID identifies the vulnerability or policy rule.
	ID string `json:"id"`

	// Description is a human-readable summary.
	Description string `json:"description,omitempty"`
}

// Scanner runs the vulnerability/compliance scan on an artifact before it
// is published. NoopScanner is the default.
type Scanner interface {
	Scan(ctx context.Context, a artifact.Artifact) ([]Finding, error)
}

// NoopScanner reports no findings.
type NoopScanner struct{}

// Scan implements Scanner.
func (NoopScanner) Scan(ctx context.Context, a artifact.Artifact) ([]Finding, error) {
	return nil, nil
}
