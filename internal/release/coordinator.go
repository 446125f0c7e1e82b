package release

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"caravel/internal/build"
	"caravel/internal/config"
	"caravel/internal/events"
	"caravel/internal/health"
	"caravel/internal/manifest"
	"caravel/internal/reconciler"
	"caravel/pkg/logging"
)

// Coordinator sequences releases through build, manifest append, sync and
// health verification, one unit at a time. It is the single writer of
// release state; everything else observes copies.
type Coordinator struct {
	mu sync.RWMutex

	store      manifest.Store
	updater    *manifest.Updater
	builder    *build.Coordinator
	reconciler *reconciler.Reconciler
	verifier   *health.Verifier
	recorder   *events.Recorder
	cfg        config.ReleaseConfig

	// active holds the unit's in-flight release; at most one per unit.
	active map[string]*Release

	// pending queues triggered releases behind the in-flight one, FIFO.
	pending map[string][]*Release

	// history retains finished releases per unit, oldest first, bounded by
	// HistoryLimit. Rollback target selection scans it newest first.
	history map[string][]*Release

	// fatal marks units blocked by a fatal release.
	fatal map[string]bool

	// workerRunning tracks which units have a drain goroutine.
	workerRunning map[string]bool

	// subscribers receive a copy of the release on every transition.
	subscribers map[chan Release]struct{}

	ctx        context.Context
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	running    bool
}

// NewCoordinator wires the release coordinator to its collaborators.
func NewCoordinator(
	store manifest.Store,
	updater *manifest.Updater,
	builder *build.Coordinator,
	rec *reconciler.Reconciler,
	verifier *health.Verifier,
	recorder *events.Recorder,
	cfg config.ReleaseConfig,
) *Coordinator {
	if cfg.HistoryLimit < 2 {
		cfg.HistoryLimit = 20
	}
	if cfg.BuildTimeout == 0 {
		cfg.BuildTimeout = config.Duration(10 * time.Minute)
	}
	if cfg.SyncTimeout == 0 {
		cfg.SyncTimeout = config.Duration(15 * time.Minute)
	}

	return &Coordinator{
		store:         store,
		updater:       updater,
		builder:       builder,
		reconciler:    rec,
		verifier:      verifier,
		recorder:      recorder,
		cfg:           cfg,
		active:        make(map[string]*Release),
		pending:       make(map[string][]*Release),
		history:       make(map[string][]*Release),
		fatal:         make(map[string]bool),
		workerRunning: make(map[string]bool),
		subscribers:   make(map[chan Release]struct{}),
	}
}

// Start makes the coordinator accept triggers.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return nil
	}
	c.ctx, c.cancelFunc = context.WithCancel(ctx)
	c.running = true
	logging.Info("Release", "Coordinator started")
	return nil
}

// Stop cancels in-flight work and waits for unit workers to drain.
func (c *Coordinator) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	c.mu.Unlock()

	if c.cancelFunc != nil {
		c.cancelFunc()
	}
	c.wg.Wait()
	logging.Info("Release", "Coordinator stopped")
	return nil
}

// Trigger accepts a new commit for a unit and queues a release for it.
// Duplicate triggers are no-ops returning the existing release: in-flight
// or queued commits are matched directly, and a commit already finished is
// matched from history. A fatal unit rejects triggers until cleared.
func (c *Coordinator) Trigger(unit, commit string) (Release, error) {
	c.mu.Lock()

	if !c.running {
		c.mu.Unlock()
		return Release{}, ErrNotRunning
	}
	if c.fatal[unit] {
		c.mu.Unlock()
		return Release{}, ErrUnitFatal
	}

	if existing := c.findCommitLocked(unit, commit); existing != nil {
		out := existing.Copy()
		c.mu.Unlock()
		logging.Debug("Release", "Duplicate trigger for %s@%s ignored", unit, commit)
		return out, nil
	}

	now := time.Now()
	rel := &Release{
		ID:        uuid.New().String(),
		Unit:      unit,
		Commit:    commit,
		State:     StatePending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	c.pending[unit] = append(c.pending[unit], rel)

	if !c.workerRunning[unit] {
		c.workerRunning[unit] = true
		c.wg.Add(1)
		go c.drainUnit(unit)
	}

	out := rel.Copy()
	c.mu.Unlock()

	c.recorder.RecordRelease(events.ReasonReleaseQueued, unit, commit, rel.ID, 0,
		"release queued for commit %s", commit)
	return out, nil
}

// Rollback queues an operator-requested rollback of the unit's current
// head to the most recent prior good revision. It refuses to preempt an
// in-flight release. A fatal unit does not block it: rollback is one of
// the interventions a fatal unit waits for, though only ClearFatal lifts
// the block on automatic triggers.
func (c *Coordinator) Rollback(unit string) (Release, error) {
	c.mu.Lock()

	if !c.running {
		c.mu.Unlock()
		return Release{}, ErrNotRunning
	}
	if c.active[unit] != nil || len(c.pending[unit]) > 0 {
		c.mu.Unlock()
		return Release{}, ErrReleaseInProgress
	}
	if len(c.history[unit]) == 0 {
		c.mu.Unlock()
		return Release{}, ErrNotFound
	}

	now := time.Now()
	rel := &Release{
		ID:        uuid.New().String(),
		Unit:      unit,
		State:     StatePending,
		Manual:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	c.pending[unit] = append(c.pending[unit], rel)

	if !c.workerRunning[unit] {
		c.workerRunning[unit] = true
		c.wg.Add(1)
		go c.drainUnit(unit)
	}

	out := rel.Copy()
	c.mu.Unlock()

	c.recorder.RecordRelease(events.ReasonReleaseQueued, unit, "", rel.ID, 0,
		"manual rollback queued")
	return out, nil
}

// findCommitLocked returns the release already tracking a commit, if any.
func (c *Coordinator) findCommitLocked(unit, commit string) *Release {
	if a := c.active[unit]; a != nil && a.Commit == commit {
		return a
	}
	for _, p := range c.pending[unit] {
		if p.Commit == commit {
			return p
		}
	}
	hist := c.history[unit]
	for i := len(hist) - 1; i >= 0; i-- {
		if hist[i].Commit == commit {
			return hist[i]
		}
	}
	return nil
}

// drainUnit processes the unit's queue one release at a time, which is
// what serializes releases per unit. It exits when the queue is empty and
// restarts on the next trigger.
func (c *Coordinator) drainUnit(unit string) {
	defer c.wg.Done()

	for {
		c.mu.Lock()
		if c.ctx.Err() != nil || len(c.pending[unit]) == 0 {
			c.workerRunning[unit] = false
			c.mu.Unlock()
			return
		}

		rel := c.pending[unit][0]
		c.pending[unit] = c.pending[unit][1:]

		// A fatal release ahead in the queue blocks everything behind it.
		// A manual rollback is operator intervention and runs regardless.
		if c.fatal[unit] && !rel.Manual {
			rel.State = StateFatal
			rel.LastError = "abandoned: unit blocked by an earlier fatal release"
			rel.UpdatedAt = time.Now()
			c.appendHistoryLocked(rel)
			c.mu.Unlock()
			continue
		}

		c.active[unit] = rel
		c.mu.Unlock()

		if rel.Manual {
			c.runManualRollback(rel)
		} else {
			c.run(rel)
		}

		c.mu.Lock()
		delete(c.active, unit)
		c.appendHistoryLocked(rel)
		c.mu.Unlock()
	}
}

// run drives one release through its stages.
func (c *Coordinator) run(rel *Release) {
	c.transition(rel, StateBuilding)
	c.recorder.RecordRelease(events.ReasonBuildStarted, rel.Unit, rel.Commit, rel.ID, 0,
		"building artifacts for commit %s", rel.Commit)

	buildCtx, cancel := context.WithTimeout(c.ctx, c.cfg.BuildTimeout.Std())
	result, err := c.builder.Build(buildCtx, rel.Commit, []string{rel.Unit})
	cancel()

	c.update(rel, func(r *Release) { r.Findings = result.Findings })

	if err != nil {
		// The build never touched the manifest or the cluster; live state is
		// still the prior revision, so there is nothing to roll back. The
		// release rests Degraded and the unit stays open for new triggers.
		c.update(rel, func(r *Release) {
			r.State = buildFailureState(err)
			r.LastError = err.Error()
		})
		c.recorder.RecordRelease(events.ReasonBuildFailed, rel.Unit, rel.Commit, rel.ID, 0,
			"build failed: %v", err)
		c.transition(rel, StateDegraded)
		return
	}

	c.transition(rel, StateScanning)
	c.transition(rel, StatePublishing)
	c.recorder.RecordRelease(events.ReasonArtifactPublished, rel.Unit, rel.Commit, rel.ID, 0,
		"published %d artifact(s)", len(result.Artifacts))

	rev, err := c.updater.Append(c.ctx, rel.Unit, rel.Commit, result.Artifacts)
	if err != nil {
		c.update(rel, func(r *Release) { r.LastError = "manifest append: " + err.Error() })
		c.transition(rel, StateDegraded)
		return
	}

	c.update(rel, func(r *Release) { r.RevisionSeq = rev.Seq })
	c.transition(rel, StateManifestUpdated)
	c.recorder.RecordRelease(events.ReasonRevisionAppended, rel.Unit, rel.Commit, rel.ID, rev.Seq,
		"appended revision %d", rev.Seq)

	if c.syncAndVerify(rel, rev) {
		c.update(rel, func(r *Release) { r.HealthySeq = rev.Seq })
		c.transition(rel, StateHealthy)
		c.recorder.RecordRelease(events.ReasonReleaseHealthy, rel.Unit, rel.Commit, rel.ID, rev.Seq,
			"revision %d verified healthy", rev.Seq)
		return
	}

	c.transition(rel, StateDegraded)
	c.recorder.RecordRelease(events.ReasonReleaseDegraded, rel.Unit, rel.Commit, rel.ID, rev.Seq,
		"revision %d degraded: %s", rev.Seq, rel.LastError)

	c.rollback(rel, rev)
}

// buildFailureState maps a build error to the stage where it surfaced.
// The state is transitional; the release rests Degraded right after.
func buildFailureState(err error) State {
	var berr *build.Error
	if errors.As(err, &berr) {
		switch berr.Kind {
		case build.KindPolicyRejected:
			return StateScanning
		case build.KindPublishFailure:
			return StatePublishing
		}
	}
	return StateBuilding
}

// syncAndVerify converges a revision and verifies its health. It returns
// true only when the reconciler converged and the verifier classified the
// revision Healthy; any other outcome leaves the reason in rel.LastError.
func (c *Coordinator) syncAndVerify(rel *Release, rev manifest.Revision) bool {
	c.transition(rel, StateSyncing)
	c.recorder.RecordRelease(events.ReasonSyncStarted, rel.Unit, rel.Commit, rel.ID, rev.Seq,
		"syncing revision %d", rev.Seq)

	c.reconciler.SyncNow(rel.Unit, rev.Seq)

	syncCtx, cancel := context.WithTimeout(c.ctx, c.cfg.SyncTimeout.Std())
	op, err := c.reconciler.Await(syncCtx, rel.Unit, rev.Seq)
	cancel()

	if err != nil {
		c.update(rel, func(r *Release) { r.LastError = "sync did not finish: " + err.Error() })
		return false
	}
	if op.Outcome != reconciler.OutcomeConverged {
		c.update(rel, func(r *Release) { r.LastError = "sync stuck: " + op.Error })
		return false
	}

	verifyCtx := c.ctx
	if c.cfg.VerifyTimeout > 0 {
		var cancelVerify context.CancelFunc
		verifyCtx, cancelVerify = context.WithTimeout(c.ctx, c.cfg.VerifyTimeout.Std())
		defer cancelVerify()
	}

	report := c.verifier.Check(verifyCtx, rev)
	c.update(rel, func(r *Release) { r.HealthClass = report.Class })

	if report.Class == health.ClassHealthy {
		return true
	}
	c.update(rel, func(r *Release) { r.LastError = "health " + string(report.Class) + ": " + report.Message })
	return false
}

// ClearFatal unblocks a fatal unit. Operator action only.
func (c *Coordinator) ClearFatal(unit string) error {
	c.mu.Lock()
	if !c.fatal[unit] {
		c.mu.Unlock()
		return ErrNotFound
	}
	delete(c.fatal, unit)
	c.mu.Unlock()

	c.recorder.Record(events.ReasonFatalCleared, unit, "fatal state cleared by operator")
	return nil
}

// IsFatal reports whether the unit is blocked.
func (c *Coordinator) IsFatal(unit string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fatal[unit]
}

// Get returns the unit's current release: the in-flight one, or the most
// recently finished.
func (c *Coordinator) Get(unit string) (Release, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if a := c.active[unit]; a != nil {
		return a.Copy(), nil
	}
	if hist := c.history[unit]; len(hist) > 0 {
		return hist[len(hist)-1].Copy(), nil
	}
	return Release{}, ErrNotFound
}

// History returns finished releases for a unit, newest first.
func (c *Coordinator) History(unit string, limit int) []Release {
	c.mu.RLock()
	defer c.mu.RUnlock()

	hist := c.history[unit]
	var out []Release
	for i := len(hist) - 1; i >= 0; i-- {
		out = append(out, hist[i].Copy())
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// Units lists every unit with release activity, sorted.
func (c *Coordinator) Units() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	seen := make(map[string]bool)
	for unit := range c.active {
		seen[unit] = true
	}
	for unit := range c.history {
		seen[unit] = true
	}
	for unit := range c.pending {
		if len(c.pending[unit]) > 0 {
			seen[unit] = true
		}
	}

	units := make([]string, 0, len(seen))
	for unit := range seen {
		units = append(units, unit)
	}
	sort.Strings(units)
	return units
}

// Subscribe returns a channel receiving a release copy on every state
// transition. Slow consumers drop updates.
func (c *Coordinator) Subscribe() chan Release {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan Release, 64)
	c.subscribers[ch] = struct{}{}
	return ch
}

// Unsubscribe removes a subscription channel.
func (c *Coordinator) Unsubscribe(ch chan Release) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subscribers, ch)
}

// update mutates a release under the lock and stamps UpdatedAt.
func (c *Coordinator) update(rel *Release, fn func(*Release)) {
	c.mu.Lock()
	fn(rel)
	rel.UpdatedAt = time.Now()
	c.mu.Unlock()
}

// transition moves the release to a new state and notifies subscribers.
func (c *Coordinator) transition(rel *Release, state State) {
	c.mu.Lock()
	old := rel.State
	rel.State = state
	rel.UpdatedAt = time.Now()
	out := rel.Copy()
	for ch := range c.subscribers {
		select {
		case ch <- out:
		default:
		}
	}
	c.mu.Unlock()

	logging.Debug("Release", "%s@%s: %s -> %s", rel.Unit, rel.Commit, old, state)
}

// appendHistoryLocked retains a finished release, evicting the oldest
// beyond the history limit. Caller holds the lock.
func (c *Coordinator) appendHistoryLocked(rel *Release) {
	hist := append(c.history[rel.Unit], rel)
	if len(hist) > c.cfg.HistoryLimit {
		hist = hist[len(hist)-c.cfg.HistoryLimit:]
	}
	c.history[rel.Unit] = hist
}
