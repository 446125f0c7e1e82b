package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Digest is a content address of the form "sha256:<hex>". It is the
// authoritative identity of an artifact; tags are advisory aliases.
type Digest string

// Validate checks that the digest has the expected algorithm prefix and a
// full-length hex payload.
func (d Digest) Validate() error {
	s := string(d)
	if !strings.HasPrefix(s, "sha256:") {
		return fmt.Errorf("digest %q missing sha256 prefix", s)
	}
	hexPart := strings.TrimPrefix(s, "sha256:")
	if len(hexPart) != 64 {
		return fmt.Errorf("digest %q has %d hex chars, want 64", s, len(hexPart))
	}
	if _, err := hex.DecodeString(hexPart); err != nil {
		return fmt.Errorf("digest %q is not valid hex: %w", s, err)
	}
	return nil
}

// Short returns an abbreviated digest for log and table output.
func (d Digest) Short() string {
	s := string(d)
	hexPart := strings.TrimPrefix(s, "sha256:")
	if len(hexPart) < 12 {
		return s
	}
	return "sha256:" + hexPart[:12]
}

// ComputeDigest derives the content address for a payload.
func ComputeDigest(payload []byte) Digest {
	sum := sha256.Sum256(payload)
	return Digest("sha256:" + hex.EncodeToString(sum[:]))
}

// Artifact is an immutable build output for one deployable unit at one
// commit. Once pushed, the registry owns it; the digest never changes.
type Artifact struct {
	// Unit is the deployable unit this artifact belongs to (e.g. "backend").
	Unit string

	// Commit is the source commit the artifact was built from.
	Commit string

	// Digest is the content address. Empty until computed on push.
	Digest Digest

	// Tags are mutable aliases attached at publish time (commit id, "latest").
	Tags []string

	// Payload is the artifact content. The orchestration core treats it as
	// opaque bytes; only the digest matters downstream.
	Payload []byte
}

// Ref returns the pinned image reference "unit@digest" used in manifests.
func (a Artifact) Ref() string {
	return a.Unit + "@" + string(a.Digest)
}

// Set maps deployable unit names to their artifact for a single commit.
type Set map[string]Artifact

// Digests returns the unit-to-digest mapping of the set.
func (s Set) Digests() map[string]Digest {
	out := make(map[string]Digest, len(s))
	for unit, a := range s {
		out[unit] = a.Digest
	}
	return out
}

// Units returns the unit names in the set, order unspecified.
func (s Set) Units() []string {
	out := make([]string, 0, len(s))
	for unit := range s {
		out = append(out, unit)
	}
	return out
}
