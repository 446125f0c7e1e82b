package manifest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	s, err := NewFileStore(t.TempDir(), 10*time.Millisecond)
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	return s
}

func testRevision(commit string) Revision {
	return Revision{
		Commit: commit,
		Resources: []Resource{
			{Kind: KindDeployment, Name: "backend", Namespace: "backend", Artifact: "backend", Replicas: 2},
		},
	}
}

func TestFileStore_AppendAssignsSequence(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seq, err := s.Append(ctx, "backend", 0, testRevision("c1"))
	if err != nil {
		t.Fatalf("first append failed: %v", err)
	}
	if seq != 1 {
		t.Errorf("first sequence = %d, want 1", seq)
	}

	seq, err = s.Append(ctx, "backend", 1, testRevision("c2"))
	if err != nil {
		t.Fatalf("second append failed: %v", err)
	}
	if seq != 2 {
		t.Errorf("second sequence = %d, want 2", seq)
	}

	head, err := s.Head(ctx, "backend")
	if err != nil {
		t.Fatalf("head failed: %v", err)
	}
	if head.Seq != 2 || head.Commit != "c2" || head.Parent != 1 {
		t.Errorf("head = seq %d commit %s parent %d, want 2/c2/1", head.Seq, head.Commit, head.Parent)
	}
}

func TestFileStore_StaleAppendConflicts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Append(ctx, "backend", 0, testRevision("c1")); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	// Writer with a stale prior sequence must conflict, not overwrite.
	_, err := s.Append(ctx, "backend", 0, testRevision("c2"))
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("stale append = %v, want ErrConflict", err)
	}

	head, _ := s.Head(ctx, "backend")
	if head.Commit != "c1" {
		t.Errorf("conflict overwrote head: commit %s", head.Commit)
	}
}

func TestFileStore_ConcurrentAppendsStayLinear(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Many writers all racing from the same observed head; exactly one may
	// win each sequence number, the rest conflict and re-read.
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Append(ctx, "backend", 0, testRevision("race")); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("expected exactly one winner for prior seq 0, got %d", wins)
	}
	head, err := s.Head(ctx, "backend")
	if err != nil || head.Seq != 1 {
		t.Errorf("head seq = %d (%v), want 1", head.Seq, err)
	}
}

func TestFileStore_GetAndNotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Head(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("head of unknown unit = %v, want ErrNotFound", err)
	}
	if _, err := s.Get(ctx, "ghost", 7); !errors.Is(err, ErrNotFound) {
		t.Errorf("get of unknown revision = %v, want ErrNotFound", err)
	}

	if _, err := s.Append(ctx, "backend", 0, testRevision("c1")); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	rev, err := s.Get(ctx, "backend", 1)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if rev.Commit != "c1" || len(rev.Resources) != 1 {
		t.Errorf("round-tripped revision lost data: %+v", rev)
	}
}

func TestFileStore_CancelledAppendHasNoEffect(t *testing.T) {
	s := newTestStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.Append(ctx, "backend", 0, testRevision("c1")); err == nil {
		t.Fatal("expected cancelled append to fail")
	}

	// No orphaned revision may be visible afterwards.
	if _, err := s.Head(context.Background(), "backend"); !errors.Is(err, ErrNotFound) {
		t.Errorf("cancelled append left state behind: %v", err)
	}
}

func TestFileStore_Units(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.Append(ctx, "backend", 0, testRevision("c1"))
	s.Append(ctx, "frontend", 0, testRevision("c1"))

	units, err := s.Units(ctx)
	if err != nil {
		t.Fatalf("units failed: %v", err)
	}
	if len(units) != 2 {
		t.Errorf("units = %v, want backend and frontend", units)
	}
}

func TestFileStore_WatchEmitsHeadEvents(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := make(chan HeadEvent, 10)
	if err := s.Watch(ctx, events); err != nil {
		t.Fatalf("watch failed: %v", err)
	}

	if _, err := s.Append(ctx, "backend", 0, testRevision("c1")); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	select {
	case ev := <-events:
		if ev.Unit != "backend" || ev.Seq != 1 {
			t.Errorf("head event = %+v, want backend seq 1", ev)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for head event")
	}
}
