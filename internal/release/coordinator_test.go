package release

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"caravel/internal/artifact"
	"caravel/internal/build"
	"caravel/internal/cluster"
	"caravel/internal/config"
	"caravel/internal/events"
	"caravel/internal/health"
	"caravel/internal/manifest"
	"caravel/internal/reconciler"
)

// fixture wires a coordinator over fully in-memory collaborators with
// short timing so the full release path runs in milliseconds.
type fixture struct {
	store    *manifest.FileStore
	registry *artifact.MemRegistry
	builder  *build.StubBuilder
	fake     *cluster.FakeCluster
	recorder *events.Recorder
	coord    *Coordinator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store, err := manifest.NewFileStore(t.TempDir(), 20*time.Millisecond)
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}

	registry := artifact.NewMemRegistry()
	builder := build.NewStubBuilder()
	buildCoord := build.NewCoordinator(registry, builder, nil, config.BuildConfig{
		PublishAttempts:   2,
		PublishBackoff:    config.Duration(5 * time.Millisecond),
		PublishBackoffCap: config.Duration(20 * time.Millisecond),
	})

	fake := cluster.NewFakeCluster()
	rec := reconciler.New(store, fake, config.ReconcileConfig{
		Interval:       config.Duration(time.Hour),
		MaxAttempts:    2,
		InitialBackoff: config.Duration(10 * time.Millisecond),
		MaxBackoff:     config.Duration(20 * time.Millisecond),
	})
	if err := rec.Start(context.Background()); err != nil {
		t.Fatalf("starting reconciler: %v", err)
	}
	t.Cleanup(func() { _ = rec.Stop() })

	verifier := health.NewVerifier(fake, config.HealthConfig{
		Window:           config.Duration(400 * time.Millisecond),
		PollInterval:     config.Duration(10 * time.Millisecond),
		StabilityWindow:  config.Duration(30 * time.Millisecond),
		RestartThreshold: 3,
	})

	recorder := events.NewRecorder(200)
	coord := NewCoordinator(store, manifest.NewUpdater(store), buildCoord, rec, verifier, recorder, config.ReleaseConfig{
		HistoryLimit: 5,
		BuildTimeout: config.Duration(2 * time.Second),
		SyncTimeout:  config.Duration(3 * time.Second),
	})
	if err := coord.Start(context.Background()); err != nil {
		t.Fatalf("starting coordinator: %v", err)
	}
	t.Cleanup(func() { _ = coord.Stop() })

	return &fixture{
		store:    store,
		registry: registry,
		builder:  builder,
		fake:     fake,
		recorder: recorder,
		coord:    coord,
	}
}

// waitForRelease polls until the release with the given ID reaches one of
// the wanted states.
func waitForRelease(t *testing.T, c *Coordinator, unit, id string, states ...State) Release {
	t.Helper()

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		rel, err := c.Get(unit)
		if err == nil && rel.ID == id {
			for _, s := range states {
				if rel.State == s {
					return rel
				}
			}
		}
		// Finished releases may already be displaced by a later one.
		for _, h := range c.History(unit, 0) {
			if h.ID == id {
				for _, s := range states {
					if h.State == s {
						return h
					}
				}
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	rel, _ := c.Get(unit)
	t.Fatalf("release %s never reached %v, last seen %+v", id, states, rel)
	return Release{}
}

func deploymentKey() cluster.Key {
	return cluster.Key{Kind: manifest.KindDeployment, Namespace: "backend", Name: "backend"}
}

func TestCoordinator_HappyPath(t *testing.T) {
	f := newFixture(t)

	rel, err := f.coord.Trigger("backend", "c1")
	if err != nil {
		t.Fatalf("trigger failed: %v", err)
	}
	if rel.State != StatePending {
		t.Errorf("fresh release state = %s, want Pending", rel.State)
	}

	got := waitForRelease(t, f.coord, "backend", rel.ID, StateHealthy)
	if got.RevisionSeq != 1 || got.HealthySeq != 1 {
		t.Errorf("release seq = %d healthy = %d, want 1/1", got.RevisionSeq, got.HealthySeq)
	}
	if got.LastError != "" {
		t.Errorf("healthy release carries error %q", got.LastError)
	}
	if got.HealthClass != health.ClassHealthy {
		t.Errorf("health class = %s", got.HealthClass)
	}

	// The deployed image is pinned to the c1 artifact digest.
	dep, err := f.fake.Get(context.Background(), deploymentKey())
	if err != nil {
		t.Fatalf("deployment missing: %v", err)
	}
	if !strings.HasPrefix(dep.Image, "backend@sha256:") {
		t.Errorf("deployment image = %q, want digest-pinned reference", dep.Image)
	}

	head, err := f.store.Head(context.Background(), "backend")
	if err != nil || head.Seq != 1 || head.Commit != "c1" {
		t.Errorf("store head = %+v (%v)", head, err)
	}
}

func TestCoordinator_DuplicateTriggerIsNoop(t *testing.T) {
	f := newFixture(t)

	first, err := f.coord.Trigger("backend", "c1")
	if err != nil {
		t.Fatalf("trigger failed: %v", err)
	}
	second, err := f.coord.Trigger("backend", "c1")
	if err != nil {
		t.Fatalf("duplicate trigger errored: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("duplicate trigger created a new release: %s vs %s", second.ID, first.ID)
	}

	waitForRelease(t, f.coord, "backend", first.ID, StateHealthy)

	// A trigger for an already-finished commit is also a no-op.
	third, err := f.coord.Trigger("backend", "c1")
	if err != nil {
		t.Fatalf("post-terminal trigger errored: %v", err)
	}
	if third.ID != first.ID {
		t.Errorf("terminal commit re-triggered a release: %s vs %s", third.ID, first.ID)
	}
	if f.builder.BuildCount("c1", "backend") != 1 {
		t.Errorf("commit built %d times, want 1", f.builder.BuildCount("c1", "backend"))
	}
}

func TestCoordinator_QueuesCommitsPerUnit(t *testing.T) {
	f := newFixture(t)

	first, err := f.coord.Trigger("backend", "c1")
	if err != nil {
		t.Fatalf("trigger c1 failed: %v", err)
	}
	second, err := f.coord.Trigger("backend", "c2")
	if err != nil {
		t.Fatalf("trigger c2 failed: %v", err)
	}

	waitForRelease(t, f.coord, "backend", first.ID, StateHealthy)
	waitForRelease(t, f.coord, "backend", second.ID, StateHealthy)

	hist := f.coord.History("backend", 0)
	if len(hist) != 2 {
		t.Fatalf("history holds %d releases, want 2", len(hist))
	}
	// Newest first: c2 then c1.
	if hist[0].Commit != "c2" || hist[1].Commit != "c1" {
		t.Errorf("history order: %s, %s", hist[0].Commit, hist[1].Commit)
	}
	if hist[0].RevisionSeq != 2 || hist[1].RevisionSeq != 1 {
		t.Errorf("revision seqs: %d, %d", hist[0].RevisionSeq, hist[1].RevisionSeq)
	}
}

func TestCoordinator_BuildFailureRestsDegraded(t *testing.T) {
	f := newFixture(t)
	f.builder.FailUnit("backend")

	rel, err := f.coord.Trigger("backend", "c1")
	if err != nil {
		t.Fatalf("trigger failed: %v", err)
	}

	got := waitForRelease(t, f.coord, "backend", rel.ID, StateDegraded)
	if got.RevisionSeq != 0 {
		t.Errorf("failed build appended revision %d", got.RevisionSeq)
	}
	if !strings.Contains(got.LastError, "CompileFailure") {
		t.Errorf("last error = %q, want compile failure", got.LastError)
	}

	// Nothing reached the store or the cluster.
	if _, err := f.store.Head(context.Background(), "backend"); !errors.Is(err, manifest.ErrNotFound) {
		t.Errorf("store head after failed build: %v", err)
	}
	if f.fake.Len() != 0 {
		t.Errorf("cluster holds %d resources after failed build", f.fake.Len())
	}

	// The unit is not blocked: a fixed commit goes through.
	if f.coord.IsFatal("backend") {
		t.Fatal("build failure marked the unit fatal")
	}
}

func TestCoordinator_RollbackRestoresPriorGood(t *testing.T) {
	f := newFixture(t)

	// c1 deploys healthy.
	first, err := f.coord.Trigger("backend", "c1")
	if err != nil {
		t.Fatalf("trigger c1 failed: %v", err)
	}
	waitForRelease(t, f.coord, "backend", first.ID, StateHealthy)

	goodDep, err := f.fake.Get(context.Background(), deploymentKey())
	if err != nil {
		t.Fatalf("deployment missing after c1: %v", err)
	}

	// c2 syncs but never becomes ready; once rollback starts, readiness
	// recovers (the prior-good artifact works).
	f.fake.SetStatus(deploymentKey(), cluster.Status{Ready: false, DesiredReplicas: 2})

	transitions := f.coord.Subscribe()
	defer f.coord.Unsubscribe(transitions)

	second, err := f.coord.Trigger("backend", "c2")
	if err != nil {
		t.Fatalf("trigger c2 failed: %v", err)
	}

	sawRollingBack := false
	timeout := time.After(10 * time.Second)
	for !sawRollingBack {
		select {
		case rel := <-transitions:
			if rel.ID == second.ID && rel.State == StateRollingBack {
				sawRollingBack = true
			}
		case <-timeout:
			t.Fatal("release never entered RollingBack")
		}
	}
	f.fake.SetStatus(deploymentKey(), cluster.Status{Ready: true, DesiredReplicas: 2, ReadyReplicas: 2})

	got := waitForRelease(t, f.coord, "backend", second.ID, StateHealthy, StateFatal)
	if got.State != StateHealthy {
		t.Fatalf("rollback ended %s: %s", got.State, got.LastError)
	}
	if got.RolledBackFrom != 2 || got.RollbackSeq != 3 || got.HealthySeq != 3 {
		t.Errorf("rollback bookkeeping: from=%d seq=%d healthy=%d, want 2/3/3",
			got.RolledBackFrom, got.RollbackSeq, got.HealthySeq)
	}

	// Revision 3 is a fresh sequence number restoring c1's digests.
	rb, err := f.store.Get(context.Background(), "backend", 3)
	if err != nil {
		t.Fatalf("rollback revision missing: %v", err)
	}
	if rb.RollbackOf != 2 {
		t.Errorf("rollback revision reverts seq %d, want 2", rb.RollbackOf)
	}

	dep, err := f.fake.Get(context.Background(), deploymentKey())
	if err != nil {
		t.Fatalf("deployment missing after rollback: %v", err)
	}
	if dep.Image != goodDep.Image {
		t.Errorf("live image %q, want prior-good %q", dep.Image, goodDep.Image)
	}
}

func TestCoordinator_SecondDegradedGoesFatal(t *testing.T) {
	f := newFixture(t)

	first, err := f.coord.Trigger("backend", "c1")
	if err != nil {
		t.Fatalf("trigger c1 failed: %v", err)
	}
	waitForRelease(t, f.coord, "backend", first.ID, StateHealthy)

	// Readiness never recovers, so the rollback degrades too.
	f.fake.SetStatus(deploymentKey(), cluster.Status{Ready: false, DesiredReplicas: 2})

	second, err := f.coord.Trigger("backend", "c2")
	if err != nil {
		t.Fatalf("trigger c2 failed: %v", err)
	}

	got := waitForRelease(t, f.coord, "backend", second.ID, StateFatal)
	if got.RolledBackFrom != 2 {
		t.Errorf("fatal release rolled back from %d, want 2", got.RolledBackFrom)
	}
	if !f.coord.IsFatal("backend") {
		t.Fatal("unit not blocked after fatal release")
	}

	// Fatal blocks new triggers until cleared.
	if _, err := f.coord.Trigger("backend", "c3"); !errors.Is(err, ErrUnitFatal) {
		t.Fatalf("trigger on fatal unit = %v, want ErrUnitFatal", err)
	}

	f.fake.SetStatus(deploymentKey(), cluster.Status{Ready: true, DesiredReplicas: 2, ReadyReplicas: 2})
	if err := f.coord.ClearFatal("backend"); err != nil {
		t.Fatalf("clear fatal failed: %v", err)
	}

	third, err := f.coord.Trigger("backend", "c3")
	if err != nil {
		t.Fatalf("trigger after clear failed: %v", err)
	}
	waitForRelease(t, f.coord, "backend", third.ID, StateHealthy)
}

func TestCoordinator_NoPriorGoodRevisionIsFatal(t *testing.T) {
	f := newFixture(t)

	// The very first deployment degrades; there is nothing to revert to.
	f.fake.SetStatus(deploymentKey(), cluster.Status{Ready: false, DesiredReplicas: 2})

	rel, err := f.coord.Trigger("backend", "c1")
	if err != nil {
		t.Fatalf("trigger failed: %v", err)
	}

	got := waitForRelease(t, f.coord, "backend", rel.ID, StateFatal)
	if !strings.Contains(got.LastError, "no prior good revision") {
		t.Errorf("last error = %q, want no-prior-good", got.LastError)
	}
	if got.RolledBackFrom != 0 {
		t.Errorf("release claims a rollback from %d", got.RolledBackFrom)
	}
	if !f.coord.IsFatal("backend") {
		t.Error("unit not blocked")
	}
}

func TestCoordinator_ClearFatalRequiresFatalUnit(t *testing.T) {
	f := newFixture(t)

	if err := f.coord.ClearFatal("backend"); !errors.Is(err, ErrNotFound) {
		t.Errorf("clear on healthy unit = %v, want ErrNotFound", err)
	}
}

func TestCoordinator_HistoryBounded(t *testing.T) {
	f := newFixture(t)

	var last Release
	for _, commit := range []string{"c1", "c2", "c3", "c4", "c5", "c6", "c7"} {
		rel, err := f.coord.Trigger("backend", commit)
		if err != nil {
			t.Fatalf("trigger %s failed: %v", commit, err)
		}
		last = waitForRelease(t, f.coord, "backend", rel.ID, StateHealthy)
	}

	hist := f.coord.History("backend", 0)
	if len(hist) != 5 {
		t.Fatalf("history holds %d releases, want limit 5", len(hist))
	}
	if hist[0].ID != last.ID {
		t.Errorf("newest history entry is %s, want %s", hist[0].Commit, last.Commit)
	}
	if hist[len(hist)-1].Commit != "c3" {
		t.Errorf("oldest retained commit = %s, want c3", hist[len(hist)-1].Commit)
	}
}

func TestCoordinator_ManualRollback(t *testing.T) {
	f := newFixture(t)

	first, err := f.coord.Trigger("backend", "c1")
	if err != nil {
		t.Fatalf("trigger c1 failed: %v", err)
	}
	waitForRelease(t, f.coord, "backend", first.ID, StateHealthy)

	c1Dep, _ := f.fake.Get(context.Background(), deploymentKey())

	second, err := f.coord.Trigger("backend", "c2")
	if err != nil {
		t.Fatalf("trigger c2 failed: %v", err)
	}
	waitForRelease(t, f.coord, "backend", second.ID, StateHealthy)

	// Operator decides c2 is bad despite passing verification.
	rb, err := f.coord.Rollback("backend")
	if err != nil {
		t.Fatalf("manual rollback failed: %v", err)
	}
	if !rb.Manual {
		t.Error("rollback release not marked manual")
	}

	got := waitForRelease(t, f.coord, "backend", rb.ID, StateHealthy, StateFatal)
	if got.State != StateHealthy {
		t.Fatalf("manual rollback ended %s: %s", got.State, got.LastError)
	}
	if got.RolledBackFrom != 2 || got.RollbackSeq != 3 {
		t.Errorf("rollback bookkeeping: from=%d seq=%d, want 2/3", got.RolledBackFrom, got.RollbackSeq)
	}

	dep, err := f.fake.Get(context.Background(), deploymentKey())
	if err != nil {
		t.Fatalf("deployment missing: %v", err)
	}
	if dep.Image != c1Dep.Image {
		t.Errorf("live image %q, want c1's %q", dep.Image, c1Dep.Image)
	}
}

func TestCoordinator_ManualRollbackNeedsHistory(t *testing.T) {
	f := newFixture(t)

	if _, err := f.coord.Rollback("backend"); !errors.Is(err, ErrNotFound) {
		t.Errorf("rollback with no history = %v, want ErrNotFound", err)
	}
}

func TestCoordinator_EventsRecorded(t *testing.T) {
	f := newFixture(t)

	rel, err := f.coord.Trigger("backend", "c1")
	if err != nil {
		t.Fatalf("trigger failed: %v", err)
	}
	waitForRelease(t, f.coord, "backend", rel.ID, StateHealthy)

	wantReasons := map[events.EventReason]bool{
		events.ReasonReleaseQueued:     false,
		events.ReasonBuildStarted:      false,
		events.ReasonArtifactPublished: false,
		events.ReasonRevisionAppended:  false,
		events.ReasonSyncStarted:       false,
		events.ReasonReleaseHealthy:    false,
	}
	for _, event := range f.recorder.List("backend", 0) {
		if _, ok := wantReasons[event.Reason]; ok {
			wantReasons[event.Reason] = true
		}
	}
	for reason, seen := range wantReasons {
		if !seen {
			t.Errorf("no %s event recorded", reason)
		}
	}
}
