package cli

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"caravel/internal/events"
	"caravel/internal/release"
	"caravel/internal/server"
)

func TestRenderStatusTable(t *testing.T) {
	var buf bytes.Buffer
	RenderStatusTable(&buf, []server.UnitStatus{
		{
			Unit: "backend",
			Release: &release.Release{
				Unit:        "backend",
				Commit:      "0123456789abcdef",
				State:       release.StateHealthy,
				RevisionSeq: 3,
				HealthClass: "Healthy",
			},
			HeadSeq: 3,
		},
		{Unit: "frontend", Fatal: true},
	})

	out := buf.String()
	for _, want := range []string{"backend", "Healthy", "0123456789ab", "frontend", "Fatal"} {
		if !strings.Contains(out, want) {
			t.Errorf("output lacks %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "0123456789abcdef") {
		t.Error("commit was not shortened")
	}
}

func TestRenderEventsTable(t *testing.T) {
	var buf bytes.Buffer
	RenderEventsTable(&buf, []events.Event{
		{
			Time:    time.Date(2026, 8, 25, 12, 30, 0, 0, time.UTC),
			Type:    events.EventTypeWarning,
			Reason:  events.ReasonSyncStuck,
			Unit:    "backend",
			Message: "sync stuck after 5 attempts",
		},
	})

	out := buf.String()
	for _, want := range []string{"12:30:00", "SyncStuck", "backend"} {
		if !strings.Contains(out, want) {
			t.Errorf("output lacks %q:\n%s", want, out)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate short = %q", got)
	}
	long := strings.Repeat("x", 100)
	if got := truncate(long, 10); got != "xxxxxxx..." || len(got) != 10 {
		t.Errorf("truncate long = %q", got)
	}
}
