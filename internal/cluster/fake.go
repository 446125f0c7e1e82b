package cluster

import (
	"context"
	"fmt"
	"sync"

	"caravel/internal/manifest"
)

// FakeCluster is an in-memory Client for tests and local mode. Live state
// is scriptable: tests can mark resources ready or crash-looping, inject
// apply failures, and mutate or delete live resources to simulate drift.
type FakeCluster struct {
	mu sync.RWMutex

	// live holds applied resources by identity key.
	live map[Key]manifest.Resource

	// status holds injected status per key. Keys without an entry derive a
	// default from AutoReady.
	status map[Key]Status

	// failApply maps keys whose Apply should fail; the int is how many
	// more times to fail (negative means always).
	failApply map[Key]int

	// AutoReady, when true, reports every applied resource as ready with
	// desired == ready replicas. The default for tests that do not care
	// about health timing.
	AutoReady bool

	// applies counts Apply calls per key, for idempotency assertions.
	applies map[Key]int
}

// NewFakeCluster creates an empty fake cluster with AutoReady enabled.
func NewFakeCluster() *FakeCluster {
	return &FakeCluster{
		live:      make(map[Key]manifest.Resource),
		status:    make(map[Key]Status),
		failApply: make(map[Key]int),
		applies:   make(map[Key]int),
		AutoReady: true,
	}
}

// Apply implements Client.
func (f *FakeCluster) Apply(ctx context.Context, r manifest.Resource) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	key := KeyFor(r)
	if n, ok := f.failApply[key]; ok && n != 0 {
		if n > 0 {
			f.failApply[key] = n - 1
		}
		return &ApplyError{Key: key, Err: fmt.Errorf("injected apply failure")}
	}

	f.applies[key]++
	f.live[key] = r.Copy()
	return nil
}

// Get implements Client.
func (f *FakeCluster) Get(ctx context.Context, key Key) (manifest.Resource, error) {
	if err := ctx.Err(); err != nil {
		return manifest.Resource{}, err
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	r, ok := f.live[key]
	if !ok {
		return manifest.Resource{}, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	return r.Copy(), nil
}

// List implements Client. An empty namespace lists everything.
func (f *FakeCluster) List(ctx context.Context, namespace string) ([]manifest.Resource, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	var out []manifest.Resource
	for key, r := range f.live {
		if namespace != "" && key.Namespace != namespace {
			continue
		}
		out = append(out, r.Copy())
	}
	return out, nil
}

// Delete implements Client.
func (f *FakeCluster) Delete(ctx context.Context, key Key) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.live[key]; !ok {
		return fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	delete(f.live, key)
	delete(f.status, key)
	return nil
}

// Status implements Client.
func (f *FakeCluster) Status(ctx context.Context, key Key) (Status, error) {
	if err := ctx.Err(); err != nil {
		return Status{}, err
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	r, ok := f.live[key]
	if !ok {
		return Status{}, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	if st, ok := f.status[key]; ok {
		return st, nil
	}
	if f.AutoReady {
		return Status{Ready: true, DesiredReplicas: r.Replicas, ReadyReplicas: r.Replicas}, nil
	}
	return Status{Ready: false, DesiredReplicas: r.Replicas}, nil
}

// SetStatus injects a status for a key, overriding AutoReady.
func (f *FakeCluster) SetStatus(key Key, st Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status[key] = st
}

// FailApply makes Apply for the key fail n times (negative: always).
func (f *FakeCluster) FailApply(key Key, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failApply[key] = n
}

// RemoveLive deletes a live resource out-of-band, simulating manual drift.
func (f *FakeCluster) RemoveLive(key Key) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.live, key)
	delete(f.status, key)
}

// MutateLive edits a live resource out-of-band, simulating manual drift.
func (f *FakeCluster) MutateLive(key Key, mutate func(*manifest.Resource)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.live[key]; ok {
		mutate(&r)
		f.live[key] = r
	}
}

// ApplyCount returns how often a key was successfully applied.
func (f *FakeCluster) ApplyCount(key Key) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.applies[key]
}

// Len returns the number of live resources.
func (f *FakeCluster) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.live)
}
