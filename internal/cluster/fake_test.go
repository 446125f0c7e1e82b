package cluster

import (
	"context"
	"errors"
	"testing"

	"caravel/internal/manifest"
)

func backendDeployment() manifest.Resource {
	return manifest.Resource{
		Kind: manifest.KindDeployment, Name: "backend", Namespace: "backend",
		Artifact: "backend", Image: "backend@sha256:aa", Replicas: 2,
	}
}

func TestFakeCluster_ApplyIsUpsert(t *testing.T) {
	f := NewFakeCluster()
	ctx := context.Background()
	res := backendDeployment()
	key := KeyFor(res)

	if err := f.Apply(ctx, res); err != nil {
		t.Fatalf("apply failed: %v", err)
	}

	res.Image = "backend@sha256:bb"
	if err := f.Apply(ctx, res); err != nil {
		t.Fatalf("re-apply failed: %v", err)
	}

	got, err := f.Get(ctx, key)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Image != "backend@sha256:bb" {
		t.Errorf("upsert did not replace image: %s", got.Image)
	}
	if f.Len() != 1 {
		t.Errorf("upsert created a second resource: %d live", f.Len())
	}
}

func TestFakeCluster_StatusAutoReady(t *testing.T) {
	f := NewFakeCluster()
	ctx := context.Background()
	res := backendDeployment()

	if err := f.Apply(ctx, res); err != nil {
		t.Fatalf("apply failed: %v", err)
	}

	st, err := f.Status(ctx, KeyFor(res))
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if !st.Ready || st.ReadyReplicas != 2 {
		t.Errorf("auto-ready status = %+v", st)
	}

	// Injected status overrides auto-ready.
	f.SetStatus(KeyFor(res), Status{Ready: false, DesiredReplicas: 2, ReadyReplicas: 0, Restarts: 5})
	st, _ = f.Status(ctx, KeyFor(res))
	if st.Ready || st.Restarts != 5 {
		t.Errorf("injected status not honored: %+v", st)
	}
}

func TestFakeCluster_FailApplyInjection(t *testing.T) {
	f := NewFakeCluster()
	ctx := context.Background()
	res := backendDeployment()
	key := KeyFor(res)

	f.FailApply(key, 1)

	err := f.Apply(ctx, res)
	var applyErr *ApplyError
	if !errors.As(err, &applyErr) || applyErr.Key != key {
		t.Fatalf("expected ApplyError for %s, got %v", key, err)
	}

	if err := f.Apply(ctx, res); err != nil {
		t.Fatalf("expected apply to succeed after injected failure drained: %v", err)
	}
}

func TestFakeCluster_DeleteAndDrift(t *testing.T) {
	f := NewFakeCluster()
	ctx := context.Background()
	res := backendDeployment()
	key := KeyFor(res)

	f.Apply(ctx, res)

	f.RemoveLive(key)
	if _, err := f.Get(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Errorf("drift removal not visible: %v", err)
	}

	if err := f.Delete(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Errorf("delete of missing resource = %v, want ErrNotFound", err)
	}
}

func TestFakeCluster_ListByNamespace(t *testing.T) {
	f := NewFakeCluster()
	ctx := context.Background()

	f.Apply(ctx, backendDeployment())
	f.Apply(ctx, manifest.Resource{Kind: manifest.KindService, Name: "frontend", Namespace: "frontend"})

	all, err := f.List(ctx, "")
	if err != nil || len(all) != 2 {
		t.Fatalf("list all = %d (%v), want 2", len(all), err)
	}

	backendOnly, err := f.List(ctx, "backend")
	if err != nil || len(backendOnly) != 1 {
		t.Fatalf("list backend = %d (%v), want 1", len(backendOnly), err)
	}
}
