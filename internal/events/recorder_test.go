package events

import (
	"testing"
	"time"
)

func TestGetEventType(t *testing.T) {
	tests := []struct {
		reason EventReason
		want   EventType
	}{
		{ReasonReleaseQueued, EventTypeNormal},
		{ReasonArtifactPublished, EventTypeNormal},
		{ReasonSyncConverged, EventTypeNormal},
		{ReasonRollbackSucceeded, EventTypeNormal},
		{ReasonFatalCleared, EventTypeNormal},
		{ReasonBuildFailed, EventTypeWarning},
		{ReasonSyncStuck, EventTypeWarning},
		{ReasonReleaseDegraded, EventTypeWarning},
		{ReasonRollbackStarted, EventTypeWarning},
		{ReasonReleaseFatal, EventTypeWarning},
	}

	for _, tt := range tests {
		if got := getEventType(tt.reason); got != tt.want {
			t.Errorf("getEventType(%s) = %s, want %s", tt.reason, got, tt.want)
		}
	}
}

func TestRecorder_RecordFillsMetadata(t *testing.T) {
	r := NewRecorder(10)

	before := time.Now()
	event := r.RecordRelease(ReasonRevisionAppended, "backend", "c1", "rel-1", 4, "revision %d appended", 4)

	if event.ID == "" {
		t.Error("event has no ID")
	}
	if event.Time.Before(before) {
		t.Error("event timestamp not set")
	}
	if event.Type != EventTypeNormal {
		t.Errorf("type = %s, want Normal", event.Type)
	}
	if event.Message != "revision 4 appended" {
		t.Errorf("message = %q", event.Message)
	}
	if event.Commit != "c1" || event.ReleaseID != "rel-1" || event.RevisionSeq != 4 {
		t.Errorf("release identifiers not carried: %+v", event)
	}
}

func TestRecorder_ListNewestFirstFiltered(t *testing.T) {
	r := NewRecorder(10)

	r.Record(ReasonSyncStarted, "backend", "pass 1")
	r.Record(ReasonSyncStarted, "frontend", "pass 1")
	r.Record(ReasonSyncConverged, "backend", "pass 1 done")

	backend := r.List("backend", 0)
	if len(backend) != 2 {
		t.Fatalf("backend events = %d, want 2", len(backend))
	}
	if backend[0].Reason != ReasonSyncConverged || backend[1].Reason != ReasonSyncStarted {
		t.Errorf("events not newest first: %s, %s", backend[0].Reason, backend[1].Reason)
	}

	all := r.List("", 2)
	if len(all) != 2 {
		t.Errorf("limited list = %d entries, want 2", len(all))
	}
}

func TestRecorder_RingEvictsOldest(t *testing.T) {
	r := NewRecorder(3)

	for i := 0; i < 5; i++ {
		r.Record(ReasonSyncStarted, "backend", "pass %d", i)
	}

	got := r.List("backend", 0)
	if len(got) != 3 {
		t.Fatalf("retained %d events, want 3", len(got))
	}
	if got[0].Message != "pass 4" || got[2].Message != "pass 2" {
		t.Errorf("wrong events retained: %q .. %q", got[0].Message, got[2].Message)
	}
}

func TestRecorder_Subscribe(t *testing.T) {
	r := NewRecorder(10)

	ch := r.Subscribe()
	defer r.Unsubscribe(ch)

	r.Record(ReasonSyncStuck, "backend", "retries exhausted")

	select {
	case event := <-ch:
		if event.Reason != ReasonSyncStuck || event.Type != EventTypeWarning {
			t.Errorf("subscriber got %+v", event)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber received nothing")
	}
}

func TestRecorder_SlowSubscriberDoesNotBlock(t *testing.T) {
	r := NewRecorder(10)

	ch := r.Subscribe()
	defer r.Unsubscribe(ch)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			r.Record(ReasonSyncStarted, "backend", "pass %d", i)
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("recording blocked on a slow subscriber")
	}
}
