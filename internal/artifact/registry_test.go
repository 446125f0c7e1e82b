package artifact

import (
	"context"
	"errors"
	"testing"
)

func TestComputeDigestIsStable(t *testing.T) {
	d1 := ComputeDigest([]byte("backend build output"))
	d2 := ComputeDigest([]byte("backend build output"))

	if d1 != d2 {
		t.Errorf("identical payloads produced different digests: %s vs %s", d1, d2)
	}
	if err := d1.Validate(); err != nil {
		t.Errorf("computed digest failed validation: %v", err)
	}
}

func TestMemRegistry_PushIsContentAddressed(t *testing.T) {
	r := NewMemRegistry()
	ctx := context.Background()

	a := Artifact{Unit: "backend", Commit: "c1", Payload: []byte("layer-data"), Tags: []string{"c1"}}

	d1, err := r.Push(ctx, a)
	if err != nil {
		t.Fatalf("first push failed: %v", err)
	}

	// Duplicate push (webhook fired twice) must not create a second artifact.
	d2, err := r.Push(ctx, a)
	if err != nil {
		t.Fatalf("duplicate push failed: %v", err)
	}

	if d1 != d2 {
		t.Errorf("duplicate push changed digest: %s vs %s", d1, d2)
	}
	if r.Len() != 1 {
		t.Errorf("expected 1 artifact after duplicate push, got %d", r.Len())
	}
}

func TestMemRegistry_Exists(t *testing.T) {
	r := NewMemRegistry()
	ctx := context.Background()

	if _, ok, _ := r.Exists(ctx, "c1", "backend"); ok {
		t.Fatal("Exists reported true on empty registry")
	}

	d, err := r.Push(ctx, Artifact{Unit: "backend", Commit: "c1", Payload: []byte("x")})
	if err != nil {
		t.Fatalf("push failed: %v", err)
	}

	got, ok, err := r.Exists(ctx, "c1", "backend")
	if err != nil || !ok {
		t.Fatalf("Exists = (%v, %v), want found", ok, err)
	}
	if got != d {
		t.Errorf("Exists digest = %s, want %s", got, d)
	}

	// Different unit at same commit is a different artifact.
	if _, ok, _ := r.Exists(ctx, "c1", "frontend"); ok {
		t.Error("Exists reported true for unpublished unit")
	}
}

func TestMemRegistry_Tag(t *testing.T) {
	r := NewMemRegistry()
	ctx := context.Background()

	d, err := r.Push(ctx, Artifact{Unit: "frontend", Commit: "c1", Payload: []byte("y")})
	if err != nil {
		t.Fatalf("push failed: %v", err)
	}

	if err := r.Tag(ctx, d, "latest"); err != nil {
		t.Fatalf("tag failed: %v", err)
	}

	a, err := r.Pull(ctx, d)
	if err != nil {
		t.Fatalf("pull failed: %v", err)
	}
	found := false
	for _, tag := range a.Tags {
		if tag == "latest" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected latest tag on artifact, got %v", a.Tags)
	}

	if err := r.Tag(ctx, Digest("sha256:0000"), "latest"); !errors.Is(err, ErrNotFound) {
		t.Errorf("tag of unknown digest = %v, want ErrNotFound", err)
	}
}

func TestMemRegistry_FailureInjection(t *testing.T) {
	r := NewMemRegistry()
	ctx := context.Background()
	r.FailNextPushes(2)

	a := Artifact{Unit: "backend", Commit: "c1", Payload: []byte("z")}
	if _, err := r.Push(ctx, a); err == nil {
		t.Fatal("expected injected push failure")
	}
	if _, err := r.Push(ctx, a); err == nil {
		t.Fatal("expected second injected push failure")
	}
	if _, err := r.Push(ctx, a); err != nil {
		t.Fatalf("expected push to succeed after failures drained: %v", err)
	}
}
