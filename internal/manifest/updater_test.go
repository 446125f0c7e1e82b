package manifest

import (
	"context"
	"testing"
	"time"

	"caravel/internal/artifact"
)

func testArtifacts(t *testing.T, commit string, units ...string) artifact.Set {
	t.Helper()
	set := make(artifact.Set, len(units))
	for _, unit := range units {
		payload := []byte(commit + "/" + unit)
		set[unit] = artifact.Artifact{
			Unit:   unit,
			Commit: commit,
			Digest: artifact.ComputeDigest(payload),
		}
	}
	return set
}

func TestUpdater_FirstAppendUsesTemplate(t *testing.T) {
	s := newTestStore(t)
	u := NewUpdater(s)
	ctx := context.Background()

	rev, err := u.Append(ctx, "backend", "c1", testArtifacts(t, "c1", "backend"))
	if err != nil {
		t.Fatalf("append failed: %v", err)
	}

	if rev.Seq != 1 {
		t.Errorf("first revision seq = %d, want 1", rev.Seq)
	}

	var deployment *Resource
	for i := range rev.Resources {
		if rev.Resources[i].Kind == KindDeployment {
			deployment = &rev.Resources[i]
		}
	}
	if deployment == nil {
		t.Fatal("template produced no deployment")
	}
	want := testArtifacts(t, "c1", "backend")["backend"].Ref()
	if deployment.Image != want {
		t.Errorf("deployment image = %q, want %q", deployment.Image, want)
	}
}

func TestUpdater_SubstitutionPreservesOtherFields(t *testing.T) {
	s := newTestStore(t)
	u := NewUpdater(s)
	ctx := context.Background()

	// Seed a revision with hand-tuned fields the updater must not touch.
	seeded := Revision{
		Commit: "c1",
		Resources: []Resource{
			{Kind: KindNamespace, Name: "backend"},
			{
				Kind: KindDeployment, Name: "backend", Namespace: "backend",
				Artifact: "backend", Replicas: 7,
				Image: "backend@sha256:old",
				Spec: map[string]interface{}{
					"resources": map[string]interface{}{"memory": "512Mi"},
					"secretRef": "backend-registry",
				},
			},
		},
	}
	if _, err := s.Append(ctx, "backend", 0, seeded); err != nil {
		t.Fatalf("seeding failed: %v", err)
	}

	artifacts := testArtifacts(t, "c2", "backend")
	rev, err := u.Append(ctx, "backend", "c2", artifacts)
	if err != nil {
		t.Fatalf("append failed: %v", err)
	}

	if rev.Seq != 2 {
		t.Errorf("seq = %d, want 2", rev.Seq)
	}

	dep := rev.Resources[1]
	if dep.Image != artifacts["backend"].Ref() {
		t.Errorf("image not substituted: %q", dep.Image)
	}
	if dep.Replicas != 7 {
		t.Errorf("replica count changed: %d, want 7", dep.Replicas)
	}
	if dep.Spec["secretRef"] != "backend-registry" {
		t.Errorf("spec fields changed: %+v", dep.Spec)
	}
	mem := dep.Spec["resources"].(map[string]interface{})["memory"]
	if mem != "512Mi" {
		t.Errorf("nested spec changed: %v", mem)
	}
}

func TestUpdater_ConflictRetriesWithFreshHead(t *testing.T) {
	s := newTestStore(t)
	u := NewUpdater(s)
	ctx := context.Background()

	if _, err := u.Append(ctx, "backend", "c1", testArtifacts(t, "c1", "backend")); err != nil {
		t.Fatalf("seed append failed: %v", err)
	}

	// conflictingStore forces ErrConflict on the first append attempt by
	// sneaking in a concurrent append between Head and Append.
	cs := &conflictingStore{Store: s, inner: s, sneak: func() {
		rev := testRevision("sneaky")
		head, _ := s.Head(ctx, "backend")
		s.Append(ctx, "backend", head.Seq, rev)
	}}

	u2 := NewUpdater(cs)
	rev, err := u2.Append(ctx, "backend", "c2", testArtifacts(t, "c2", "backend"))
	if err != nil {
		t.Fatalf("append after conflict failed: %v", err)
	}
	if rev.Seq != 3 {
		t.Errorf("post-conflict seq = %d, want 3 (seed, sneak, ours)", rev.Seq)
	}
}

func TestUpdater_AppendRollbackGetsFreshSequence(t *testing.T) {
	s := newTestStore(t)
	u := NewUpdater(s)
	ctx := context.Background()

	good, err := u.Append(ctx, "backend", "c1", testArtifacts(t, "c1", "backend"))
	if err != nil {
		t.Fatalf("append failed: %v", err)
	}
	bad, err := u.Append(ctx, "backend", "c2", testArtifacts(t, "c2", "backend"))
	if err != nil {
		t.Fatalf("append failed: %v", err)
	}

	rb, err := u.AppendRollback(ctx, "backend", good, bad.Seq)
	if err != nil {
		t.Fatalf("rollback append failed: %v", err)
	}

	if rb.Seq != 3 {
		t.Errorf("rollback seq = %d, want 3 (never reuse 1 or 2)", rb.Seq)
	}
	if rb.RollbackOf != bad.Seq {
		t.Errorf("rollbackOf = %d, want %d", rb.RollbackOf, bad.Seq)
	}

	// Rollback restores the prior-good digests.
	var img string
	for _, res := range rb.Resources {
		if res.Kind == KindDeployment {
			img = res.Image
		}
	}
	if want := testArtifacts(t, "c1", "backend")["backend"].Ref(); img != want {
		t.Errorf("rollback image = %q, want prior-good %q", img, want)
	}
}

// conflictingStore wraps a store and runs sneak between the caller's Head
// read and its first Append, simulating a concurrent writer.
type conflictingStore struct {
	Store
	inner *FileStore
	sneak func()
	done  bool
}

func (c *conflictingStore) Append(ctx context.Context, unit string, priorSeq int64, rev Revision) (int64, error) {
	if !c.done && c.sneak != nil {
		c.done = true
		c.sneak()
	}
	return c.inner.Append(ctx, unit, priorSeq, rev)
}

func TestDefaultTemplateApplyOrder(t *testing.T) {
	resources := DefaultTemplate("backend")

	lastRank := -1
	for _, res := range resources {
		rank := ApplyRank(res.Kind)
		if rank < lastRank {
			t.Errorf("template out of apply order at %s", res.Key())
		}
		lastRank = rank
	}

	// Namespace and secret must precede the workload.
	if resources[0].Kind != KindNamespace {
		t.Errorf("template must start with a namespace, got %s", resources[0].Kind)
	}
}

func TestRevisionCopyIsDeep(t *testing.T) {
	orig := Revision{
		CreatedAt: time.Now(),
		Resources: []Resource{{
			Kind: KindDeployment, Name: "x",
			Spec: map[string]interface{}{"a": map[string]interface{}{"b": 1}},
		}},
	}

	cp := orig.Copy()
	cp.Resources[0].Spec["a"].(map[string]interface{})["b"] = 2

	if orig.Resources[0].Spec["a"].(map[string]interface{})["b"] != 1 {
		t.Error("copy shares nested spec maps with the original")
	}
}

func TestResourceCopyPreservesNilSpec(t *testing.T) {
	orig := Resource{Kind: KindNamespace, Name: "backend"}

	cp := orig.Copy()

	if cp.Spec != nil {
		t.Errorf("copy spec = %#v, want nil", cp.Spec)
	}
	if !cp.Equal(orig) {
		t.Error("copy of a spec-less resource does not compare equal to the original")
	}
}
