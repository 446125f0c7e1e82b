package health

import (
	"context"
	"strings"
	"testing"
	"time"

	"caravel/internal/cluster"
	"caravel/internal/config"
	"caravel/internal/manifest"
)

func testHealthConfig() config.HealthConfig {
	return config.HealthConfig{
		Window:           config.Duration(300 * time.Millisecond),
		PollInterval:     config.Duration(10 * time.Millisecond),
		StabilityWindow:  config.Duration(50 * time.Millisecond),
		RestartThreshold: 3,
	}
}

func testRevision() manifest.Revision {
	return manifest.Revision{
		Unit:      "backend",
		Seq:       1,
		Commit:    "c1",
		Resources: manifest.DefaultTemplate("backend"),
	}
}

func applyAll(t *testing.T, fake *cluster.FakeCluster, rev manifest.Revision) {
	t.Helper()
	for _, res := range rev.Resources {
		if err := fake.Apply(context.Background(), res); err != nil {
			t.Fatalf("applying %s: %v", cluster.KeyFor(res), err)
		}
	}
}

func deploymentKey() cluster.Key {
	return cluster.Key{Kind: manifest.KindDeployment, Namespace: "backend", Name: "backend"}
}

func TestVerifier_HealthyAfterStability(t *testing.T) {
	fake := cluster.NewFakeCluster()
	rev := testRevision()
	applyAll(t, fake, rev)

	v := NewVerifier(fake, testHealthConfig())

	start := time.Now()
	report := v.Check(context.Background(), rev)

	if report.Class != ClassHealthy {
		t.Fatalf("class = %s (%s), want Healthy", report.Class, report.Message)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("classified Healthy in %v, before the stability window", elapsed)
	}
	if len(report.Resources) != len(rev.Resources) {
		t.Errorf("report covers %d resources, want %d", len(report.Resources), len(rev.Resources))
	}
}

func TestVerifier_HealthyAfterDelayedReadiness(t *testing.T) {
	fake := cluster.NewFakeCluster()
	rev := testRevision()
	applyAll(t, fake, rev)

	// Deployment starts unready and becomes ready mid-window.
	fake.SetStatus(deploymentKey(), cluster.Status{Ready: false, DesiredReplicas: 2})
	go func() {
		time.Sleep(40 * time.Millisecond)
		fake.SetStatus(deploymentKey(), cluster.Status{Ready: true, DesiredReplicas: 2, ReadyReplicas: 2})
	}()

	v := NewVerifier(fake, testHealthConfig())
	report := v.Check(context.Background(), rev)

	if report.Class != ClassHealthy {
		t.Fatalf("class = %s (%s), want Healthy", report.Class, report.Message)
	}
}

func TestVerifier_DegradedOnWindowExpiry(t *testing.T) {
	fake := cluster.NewFakeCluster()
	rev := testRevision()
	applyAll(t, fake, rev)

	fake.SetStatus(deploymentKey(), cluster.Status{Ready: false, DesiredReplicas: 2, ReadyReplicas: 1})

	v := NewVerifier(fake, testHealthConfig())
	report := v.Check(context.Background(), rev)

	if report.Class != ClassDegraded {
		t.Fatalf("class = %s, want Degraded", report.Class)
	}
	if !strings.Contains(report.Message, "Deployment/backend/backend") {
		t.Errorf("message does not name the unready resource: %q", report.Message)
	}
	if !strings.Contains(report.Message, "1/2 replicas ready") {
		t.Errorf("message does not carry replica state: %q", report.Message)
	}
}

func TestVerifier_DegradedOnMissingResource(t *testing.T) {
	fake := cluster.NewFakeCluster()
	rev := testRevision()
	applyAll(t, fake, rev)
	fake.RemoveLive(deploymentKey())

	v := NewVerifier(fake, testHealthConfig())
	report := v.Check(context.Background(), rev)

	if report.Class != ClassDegraded {
		t.Fatalf("class = %s, want Degraded", report.Class)
	}
	if !strings.Contains(report.Message, "not found") {
		t.Errorf("message = %q, want not-found detail", report.Message)
	}
}

func TestVerifier_DegradedOnCrashLoop(t *testing.T) {
	fake := cluster.NewFakeCluster()
	rev := testRevision()
	applyAll(t, fake, rev)

	fake.SetStatus(deploymentKey(), cluster.Status{Ready: true, DesiredReplicas: 2, ReadyReplicas: 2, Restarts: 0})
	go func() {
		time.Sleep(30 * time.Millisecond)
		fake.SetStatus(deploymentKey(), cluster.Status{Ready: true, DesiredReplicas: 2, ReadyReplicas: 2, Restarts: 10})
	}()

	v := NewVerifier(fake, testHealthConfig())
	report := v.Check(context.Background(), rev)

	if report.Class != ClassDegraded {
		t.Fatalf("class = %s (%s), want Degraded", report.Class, report.Message)
	}
	if !strings.Contains(report.Message, "crash-looping") {
		t.Errorf("message = %q, want crash-loop detail", report.Message)
	}
}

func TestVerifier_OldRestartsDoNotDegrade(t *testing.T) {
	fake := cluster.NewFakeCluster()
	rev := testRevision()
	applyAll(t, fake, rev)

	// Cumulative restarts far above the threshold, but no new restarts
	// inside the window.
	fake.SetStatus(deploymentKey(), cluster.Status{Ready: true, DesiredReplicas: 2, ReadyReplicas: 2, Restarts: 100})

	v := NewVerifier(fake, testHealthConfig())
	report := v.Check(context.Background(), rev)

	if report.Class != ClassHealthy {
		t.Fatalf("class = %s (%s), want Healthy despite historical restarts", report.Class, report.Message)
	}
}

func TestVerifier_UnknownOnCancel(t *testing.T) {
	fake := cluster.NewFakeCluster()
	rev := testRevision()
	applyAll(t, fake, rev)
	fake.SetStatus(deploymentKey(), cluster.Status{Ready: false, DesiredReplicas: 2})

	cfg := testHealthConfig()
	cfg.Window = config.Duration(time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	v := NewVerifier(fake, cfg)
	report := v.Check(ctx, rev)

	if report.Class != ClassUnknown {
		t.Fatalf("class = %s, want Unknown after cancel", report.Class)
	}
}

func TestVerifier_ObserveProgressing(t *testing.T) {
	fake := cluster.NewFakeCluster()
	rev := testRevision()
	applyAll(t, fake, rev)
	fake.SetStatus(deploymentKey(), cluster.Status{Ready: false, DesiredReplicas: 2})

	v := NewVerifier(fake, testHealthConfig())
	report := v.Observe(context.Background(), rev)

	if report.Class != ClassProgressing {
		t.Fatalf("class = %s, want Progressing", report.Class)
	}
	if report.Message == "" {
		t.Error("progressing observation carries no detail about unready resources")
	}
}

func TestVerifier_ObserveAllReady(t *testing.T) {
	fake := cluster.NewFakeCluster()
	rev := testRevision()
	applyAll(t, fake, rev)

	v := NewVerifier(fake, testHealthConfig())
	report := v.Observe(context.Background(), rev)

	// A single poll never claims Healthy; stability needs Check.
	if report.Class != ClassProgressing || report.Message != "" {
		t.Fatalf("report = %s (%q), want clean Progressing", report.Class, report.Message)
	}
}
