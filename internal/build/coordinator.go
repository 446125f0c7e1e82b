package build

import (
	"context"
	"errors"
	"time"

	"caravel/internal/artifact"
	"caravel/internal/config"
	"caravel/pkg/logging"
)

// Coordinator turns a commit into published artifacts, one per deployable
// unit. Builds are idempotent per commit: a registry cache hit skips the
// rebuild and returns the existing digest, so at-least-once webhook
// delivery never double-publishes.
type Coordinator struct {
	registry artifact.Registry
	builder  Builder
	scanner  Scanner
	cfg      config.BuildConfig
}

// Result carries everything a release needs from one build: the artifact
// set (possibly partial on failure) and all scan findings that were not
// ignored by policy.
type Result struct {
	Artifacts artifact.Set
	Findings  []Finding
}

// NewCoordinator creates a build coordinator. A nil scanner defaults to
// NoopScanner.
func NewCoordinator(registry artifact.Registry, builder Builder, scanner Scanner, cfg config.BuildConfig) *Coordinator {
	if scanner == nil {
		scanner = NoopScanner{}
	}
	return &Coordinator{
		registry: registry,
		builder:  builder,
		scanner:  scanner,
		cfg:      cfg,
	}
}

// Build produces and publishes artifacts for every unit at the given
// commit. Sibling units keep building after one fails; the first error is
// returned alongside the partial result so the caller can mark the overall
// build failed while the registry still holds the siblings.
func (c *Coordinator) Build(ctx context.Context, commit string, units []string) (Result, error) {
	result := Result{Artifacts: make(artifact.Set, len(units))}
	var firstErr error

	for _, unit := range units {
		a, findings, err := c.buildUnit(ctx, commit, unit)
		result.Findings = append(result.Findings, findings...)
		if err != nil {
			logging.Error("Builder", err, "Build failed for %s@%s", unit, commit)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		result.Artifacts[unit] = a
	}

	return result, firstErr
}

// buildUnit handles one unit: cache check, compile, scan gate, publish.
func (c *Coordinator) buildUnit(ctx context.Context, commit, unit string) (artifact.Artifact, []Finding, error) {
	// Content-addressed cache hit: this commit/unit is already published.
	if digest, ok, err := c.registry.Exists(ctx, commit, unit); err == nil && ok {
		logging.Info("Builder", "Reusing published artifact %s for %s@%s", digest.Short(), unit, commit)
		a, err := c.registry.Pull(ctx, digest)
		if err != nil {
			return artifact.Artifact{}, nil, &Error{Kind: KindPublishFailure, Unit: unit, Err: err}
		}
		return a, nil, nil
	} else if err != nil {
		return artifact.Artifact{}, nil, &Error{Kind: KindPublishFailure, Unit: unit, Err: err}
	}

	a, err := c.builder.Build(ctx, commit, unit)
	if err != nil {
		return artifact.Artifact{}, nil, &Error{Kind: KindCompileFailure, Unit: unit, Err: err}
	}
	a.Unit = unit
	a.Commit = commit

	findings, err := c.scan(ctx, a)
	if err != nil {
		// No publish for a blocked artifact; findings still surface.
		return artifact.Artifact{}, findings, err
	}

	digest, err := c.publish(ctx, a)
	if err != nil {
		return artifact.Artifact{}, findings, err
	}
	a.Digest = digest

	logging.Info("Builder", "Published %s for %s@%s", digest.Short(), unit, commit)
	return a, findings, nil
}

// scan runs the scan gate and applies the configured per-severity policy.
// Findings whose severity maps to "ignore" are dropped; "warn" findings are
// returned; any "block" finding makes the whole artifact fail with
// PolicyRejected.
func (c *Coordinator) scan(ctx context.Context, a artifact.Artifact) ([]Finding, error) {
	findings, err := c.scanner.Scan(ctx, a)
	if err != nil {
		// A broken scanner must not silently wave artifacts through.
		return nil, &Error{Kind: KindPolicyRejected, Unit: a.Unit, Err: err}
	}

	var kept []Finding
	var blocking []Finding
	for _, f := range findings {
		switch c.cfg.ScanPolicy[f.Severity] {
		case config.ScanActionBlock:
			kept = append(kept, f)
			blocking = append(blocking, f)
		case config.ScanActionWarn:
			kept = append(kept, f)
		default:
			// ignore, or severity not in policy
		}
	}

	if len(blocking) > 0 {
		return kept, &Error{
			Kind: KindPolicyRejected,
			Unit: a.Unit,
			Err:  errors.New(blocking[0].ID + " blocked by scan policy"),
		}
	}
	return kept, nil
}

// publish pushes the artifact with bounded exponential backoff, then tags
// it with the commit id and the advisory "latest" alias.
func (c *Coordinator) publish(ctx context.Context, a artifact.Artifact) (artifact.Digest, error) {
	a.Tags = append(a.Tags, a.Commit)

	var digest artifact.Digest
	var lastErr error
	for attempt := 1; attempt <= c.cfg.PublishAttempts; attempt++ {
		digest, lastErr = c.registry.Push(ctx, a)
		if lastErr == nil {
			break
		}
		if ctx.Err() != nil {
			return "", &Error{Kind: KindPublishFailure, Unit: a.Unit, Err: ctx.Err()}
		}
		if attempt == c.cfg.PublishAttempts {
			return "", &Error{Kind: KindPublishFailure, Unit: a.Unit, Err: lastErr}
		}

		backoff := c.calculateBackoff(attempt)
		logging.Warn("Builder", "Publish attempt %d/%d for %s failed, retrying in %v: %v",
			attempt, c.cfg.PublishAttempts, a.Unit, backoff, lastErr)

		select {
		case <-ctx.Done():
			return "", &Error{Kind: KindPublishFailure, Unit: a.Unit, Err: ctx.Err()}
		case <-time.After(backoff):
		}
	}

	// The alias is advisory only; a tag failure does not fail the build.
	if err := c.registry.Tag(ctx, digest, "latest"); err != nil {
		logging.Warn("Builder", "Failed to move latest alias to %s: %v", digest.Short(), err)
	}

	return digest, nil
}

// calculateBackoff computes exponential backoff: initial * 2^(attempt-1),
// capped at the configured maximum.
func (c *Coordinator) calculateBackoff(attempt int) time.Duration {
	backoff := c.cfg.PublishBackoff.Std() * time.Duration(1<<uint(attempt-1))
	if cap := c.cfg.PublishBackoffCap.Std(); backoff > cap {
		backoff = cap
	}
	return backoff
}
