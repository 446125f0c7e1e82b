package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"caravel/internal/cluster"
	"caravel/internal/config"
	"caravel/internal/manifest"
	"caravel/pkg/logging"
)

// waiter blocks one Await call until a terminal operation matches.
type waiter struct {
	unit   string
	minSeq int64
	ch     chan SyncOperation
}

// Reconciler drives the declared manifest head into the cluster.
//
// It runs:
//   - A store head watcher and a poll timer, both funneling into one
//     deduplicating work queue
//   - A worker pool executing sync passes (diff, ordered apply, gated
//     prune)
//   - Retry logic with exponential backoff, surfacing exhausted retries
//     as stuck
type Reconciler struct {
	mu sync.RWMutex

	store   manifest.Store
	cluster cluster.Client
	cfg     config.ReconcileConfig

	// queue is the work queue for sync requests
	queue *delayedQueue

	// headCh receives head-changed events from the store watcher
	headCh chan manifest.HeadEvent

	// states tracks the latest pass state per unit
	states map[string]PassState

	// lastOps tracks the most recent finished operation per unit
	lastOps map[string]SyncOperation

	// waiters are pending Await calls
	waiters []*waiter

	// subscribers receive every finished operation
	subscribers map[chan SyncOperation]struct{}

	ctx        context.Context
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	running    bool
}

// workerCount is the sync worker pool size. Per-unit serialization comes
// from the queue, not the pool size; workers only bound cross-unit
// parallelism.
const workerCount = 2

// New creates a reconciler over a manifest store and a cluster client.
func New(store manifest.Store, clusterClient cluster.Client, cfg config.ReconcileConfig) *Reconciler {
	if cfg.Interval == 0 {
		cfg.Interval = config.Duration(3 * time.Minute)
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.InitialBackoff == 0 {
		cfg.InitialBackoff = config.Duration(5 * time.Second)
	}
	if cfg.MaxBackoff == 0 {
		cfg.MaxBackoff = config.Duration(3 * time.Minute)
	}

	return &Reconciler{
		store:       store,
		cluster:     clusterClient,
		cfg:         cfg,
		queue:       newDelayedQueue(),
		headCh:      make(chan manifest.HeadEvent, 100),
		states:      make(map[string]PassState),
		lastOps:     make(map[string]SyncOperation),
		subscribers: make(map[chan SyncOperation]struct{}),
	}
}

// Start begins the reconciliation loop.
func (r *Reconciler) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil
	}
	r.ctx, r.cancelFunc = context.WithCancel(ctx)
	r.running = true
	r.mu.Unlock()

	// Store watcher feeds head-changed events into the queue.
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.store.Watch(r.ctx, r.headCh); err != nil && r.ctx.Err() == nil {
			logging.Error("Reconciler", err, "Store watcher stopped")
		}
	}()

	r.wg.Add(1)
	go r.processHeadEvents()

	r.wg.Add(1)
	go r.pollLoop()

	for i := 0; i < workerCount; i++ {
		r.wg.Add(1)
		go r.worker(i)
	}

	logging.Info("Reconciler", "Started with %d workers, poll interval %s", workerCount, r.cfg.Interval.Std())
	return nil
}

// Stop gracefully shuts down the reconciler.
func (r *Reconciler) Stop() error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	r.mu.Unlock()

	if r.cancelFunc != nil {
		r.cancelFunc()
	}
	r.queue.Shutdown()
	r.wg.Wait()

	r.mu.Lock()
	for _, w := range r.waiters {
		close(w.ch)
	}
	r.waiters = nil
	r.mu.Unlock()

	logging.Info("Reconciler", "Stopped")
	return nil
}

// IsRunning returns whether the reconciler is active.
func (r *Reconciler) IsRunning() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.running
}

// SyncNow enqueues an immediate sync pass for a unit. A zero seq syncs
// the current head; a nonzero seq pins the pass to that revision, which
// rollback uses so retries cannot drift to a newer head.
func (r *Reconciler) SyncNow(unit string, seq int64) {
	r.queue.Add(SyncRequest{Unit: unit, TargetSeq: seq, Attempt: 1, Source: SourceManual})
}

// Await blocks until a terminal sync operation (converged or stuck) for
// unit covers at least revision minSeq, or ctx expires.
func (r *Reconciler) Await(ctx context.Context, unit string, minSeq int64) (SyncOperation, error) {
	r.mu.Lock()
	if op, ok := r.lastOps[unit]; ok && op.Terminal() && op.RevisionSeq >= minSeq {
		r.mu.Unlock()
		return op, nil
	}
	w := &waiter{unit: unit, minSeq: minSeq, ch: make(chan SyncOperation, 1)}
	r.waiters = append(r.waiters, w)
	r.mu.Unlock()

	select {
	case op, ok := <-w.ch:
		if !ok {
			return SyncOperation{}, errors.New("reconciler stopped")
		}
		return op, nil
	case <-ctx.Done():
		r.removeWaiter(w)
		return SyncOperation{}, ctx.Err()
	}
}

func (r *Reconciler) removeWaiter(target *waiter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, w := range r.waiters {
		if w == target {
			r.waiters = append(r.waiters[:i], r.waiters[i+1:]...)
			return
		}
	}
}

// Subscribe returns a channel receiving every finished sync operation.
// Slow consumers drop events rather than blocking the reconciler.
func (r *Reconciler) Subscribe() chan SyncOperation {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch := make(chan SyncOperation, 64)
	r.subscribers[ch] = struct{}{}
	return ch
}

// Unsubscribe removes a subscription channel.
func (r *Reconciler) Unsubscribe(ch chan SyncOperation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subscribers, ch)
}

// LastOperation returns the most recent finished operation for a unit.
func (r *Reconciler) LastOperation(unit string) (SyncOperation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	op, ok := r.lastOps[unit]
	return op, ok
}

// State returns the latest pass state for a unit.
func (r *Reconciler) State(unit string) PassState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if st, ok := r.states[unit]; ok {
		return st
	}
	return StateIdle
}

// QueueLen returns the current queue length.
func (r *Reconciler) QueueLen() int {
	return r.queue.Len()
}

// processHeadEvents converts store head events to sync requests.
func (r *Reconciler) processHeadEvents() {
	defer r.wg.Done()

	for {
		select {
		case <-r.ctx.Done():
			return
		case event, ok := <-r.headCh:
			if !ok {
				return
			}
			logging.Debug("Reconciler", "Head changed for %s (seq %d)", event.Unit, event.Seq)
			r.queue.Add(SyncRequest{Unit: event.Unit, Attempt: 1, Source: SourceWatch})
		}
	}
}

// pollLoop periodically enqueues a head sync for every known unit, so
// drift converges even when no head event fires.
func (r *Reconciler) pollLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.Interval.Std())
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			units, err := r.store.Units(r.ctx)
			if err != nil {
				logging.Warn("Reconciler", "Poll could not list units: %v", err)
				continue
			}
			for _, unit := range units {
				r.queue.Add(SyncRequest{Unit: unit, Attempt: 1, Source: SourcePoll})
			}
		}
	}
}

// worker processes sync requests from the queue.
func (r *Reconciler) worker(id int) {
	defer r.wg.Done()

	logging.Debug("Reconciler", "Worker %d started", id)

	for {
		req, ok := r.queue.Get(r.ctx)
		if !ok {
			logging.Debug("Reconciler", "Worker %d shutting down", id)
			return
		}

		r.processRequest(req)
		r.queue.Done(req)
	}
}

// processRequest executes a single sync pass.
func (r *Reconciler) processRequest(req SyncRequest) {
	ctx := r.ctx

	rev, err := r.resolveRevision(ctx, req)
	if errors.Is(err, manifest.ErrNotFound) {
		logging.Debug("Reconciler", "No revision to sync for %s", req.Unit)
		return
	}
	if err != nil {
		r.finishPass(req, SyncOperation{
			ID:      uuid.New().String(),
			Unit:    req.Unit,
			Source:  req.Source,
			Attempt: req.Attempt,
			Start:   time.Now(),
		}, err)
		return
	}

	op := SyncOperation{
		ID:          uuid.New().String(),
		Unit:        req.Unit,
		RevisionSeq: rev.Seq,
		Source:      req.Source,
		Attempt:     req.Attempt,
		Start:       time.Now(),
	}

	logging.Debug("Reconciler", "Syncing %s to seq %d (attempt %d)", req.Unit, rev.Seq, req.Attempt)

	r.setState(req.Unit, StateDiffing)
	toApply, toPrune, err := r.diff(ctx, rev)
	if err != nil {
		r.finishPass(req, op, fmt.Errorf("diffing %s: %w", req.Unit, err))
		return
	}

	r.setState(req.Unit, StateApplying)
	applied, err := r.applyAll(ctx, toApply)
	op.Applied = applied
	if err != nil {
		r.finishPass(req, op, err)
		return
	}

	pruned, err := r.pruneAll(ctx, toPrune)
	op.Pruned = pruned
	r.finishPass(req, op, err)
}

// resolveRevision picks the revision a request targets.
func (r *Reconciler) resolveRevision(ctx context.Context, req SyncRequest) (manifest.Revision, error) {
	if req.TargetSeq > 0 {
		return r.store.Get(ctx, req.Unit, req.TargetSeq)
	}
	return r.store.Head(ctx, req.Unit)
}

// diff computes the resources to apply and the live resources eligible
// for pruning. A resource is applied when it is missing live or its live
// shape differs from the declared one, which is also how out-of-band
// drift heals.
func (r *Reconciler) diff(ctx context.Context, rev manifest.Revision) ([]manifest.Resource, []cluster.Key, error) {
	desired := make(map[cluster.Key]manifest.Resource, len(rev.Resources))
	ordered := make([]manifest.Resource, len(rev.Resources))
	copy(ordered, rev.Resources)
	sort.SliceStable(ordered, func(i, j int) bool {
		return manifest.ApplyRank(ordered[i].Kind) < manifest.ApplyRank(ordered[j].Kind)
	})

	var toApply []manifest.Resource
	for _, res := range ordered {
		key := cluster.KeyFor(res)
		desired[key] = res

		live, err := r.cluster.Get(ctx, key)
		if errors.Is(err, cluster.ErrNotFound) {
			toApply = append(toApply, res)
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		if !live.Equal(res) {
			toApply = append(toApply, res)
		}
	}

	toPrune, err := r.pruneCandidates(ctx, rev, desired)
	if err != nil {
		return nil, nil, err
	}
	return toApply, toPrune, nil
}

// pruneCandidates lists live resources absent from the target revision.
// Pruning is off by default; when on, it is restricted to the allow-list
// of kinds and to the namespaces the revision itself declares, so one
// unit's pass can never delete another unit's resources.
func (r *Reconciler) pruneCandidates(ctx context.Context, rev manifest.Revision, desired map[cluster.Key]manifest.Resource) ([]cluster.Key, error) {
	if !r.cfg.Prune {
		return nil, nil
	}

	allowed := make(map[manifest.Kind]bool, len(r.cfg.PruneAllowKinds))
	for _, kind := range r.cfg.PruneAllowKinds {
		allowed[manifest.Kind(kind)] = true
	}

	namespaces := make(map[string]bool)
	for _, res := range rev.Resources {
		if res.Kind == manifest.KindNamespace {
			namespaces[res.Name] = true
		}
		if res.Namespace != "" {
			namespaces[res.Namespace] = true
		}
	}

	live, err := r.cluster.List(ctx, "")
	if err != nil {
		return nil, err
	}

	var candidates []cluster.Key
	for _, res := range live {
		key := cluster.KeyFor(res)
		if _, ok := desired[key]; ok {
			continue
		}
		inScope := namespaces[key.Namespace] ||
			(key.Kind == manifest.KindNamespace && namespaces[key.Name])
		if !inScope || !allowed[key.Kind] {
			continue
		}
		candidates = append(candidates, key)
	}

	// Delete in reverse dependency order.
	sort.SliceStable(candidates, func(i, j int) bool {
		return manifest.ApplyRank(candidates[i].Kind) > manifest.ApplyRank(candidates[j].Kind)
	})
	return candidates, nil
}

// applyAll applies resources in dependency order, stopping at the first
// failure so later resources never apply before what they depend on.
func (r *Reconciler) applyAll(ctx context.Context, toApply []manifest.Resource) ([]string, error) {
	var applied []string
	for _, res := range toApply {
		if err := r.cluster.Apply(ctx, res); err != nil {
			return applied, err
		}
		applied = append(applied, cluster.KeyFor(res).String())
	}
	return applied, nil
}

func (r *Reconciler) pruneAll(ctx context.Context, toPrune []cluster.Key) ([]string, error) {
	var pruned []string
	for _, key := range toPrune {
		err := r.cluster.Delete(ctx, key)
		if errors.Is(err, cluster.ErrNotFound) {
			continue
		}
		if err != nil {
			return pruned, fmt.Errorf("pruning %s: %w", key, err)
		}
		pruned = append(pruned, key.String())
		logging.Info("Reconciler", "Pruned %s", key)
	}
	return pruned, nil
}

// finishPass records the pass outcome, notifies waiters and subscribers,
// and schedules a retry when the pass failed with budget remaining.
func (r *Reconciler) finishPass(req SyncRequest, op SyncOperation, passErr error) {
	op.End = time.Now()

	if passErr == nil {
		op.Outcome = OutcomeConverged
		r.setState(req.Unit, StateConverged)
		logging.Debug("Reconciler", "Converged %s at seq %d (%d applied, %d pruned)",
			req.Unit, op.RevisionSeq, len(op.Applied), len(op.Pruned))
		r.record(op)
		return
	}

	op.Outcome = OutcomeFailed
	op.Error = passErr.Error()
	r.setState(req.Unit, StateFailed)

	if req.Attempt >= r.cfg.MaxAttempts {
		op.Stuck = true
		logging.Error("Reconciler", passErr, "Sync stuck for %s after %d attempts", req.Unit, req.Attempt)
		r.record(op)
		return
	}

	backoff := r.calculateBackoff(req.Attempt)
	logging.Warn("Reconciler", "Sync failed for %s, retrying in %v (attempt %d): %v",
		req.Unit, backoff, req.Attempt, passErr)
	r.record(op)

	req.Attempt++
	req.LastError = passErr
	r.queue.AddAfter(req, backoff)
}

// calculateBackoff computes capped exponential backoff.
func (r *Reconciler) calculateBackoff(attempt int) time.Duration {
	backoff := r.cfg.InitialBackoff.Std() * time.Duration(1<<uint(attempt-1))
	if backoff > r.cfg.MaxBackoff.Std() {
		backoff = r.cfg.MaxBackoff.Std()
	}
	return backoff
}

func (r *Reconciler) setState(unit string, state PassState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states[unit] = state
}

// record stores the finished operation and fans it out.
func (r *Reconciler) record(op SyncOperation) {
	r.mu.Lock()
	r.lastOps[op.Unit] = op

	var matched []*waiter
	if op.Terminal() {
		remaining := r.waiters[:0]
		for _, w := range r.waiters {
			if w.unit == op.Unit && op.RevisionSeq >= w.minSeq {
				matched = append(matched, w)
				continue
			}
			remaining = append(remaining, w)
		}
		r.waiters = remaining
	}

	for ch := range r.subscribers {
		select {
		case ch <- op:
		default:
		}
	}
	r.mu.Unlock()

	for _, w := range matched {
		w.ch <- op
	}
}
