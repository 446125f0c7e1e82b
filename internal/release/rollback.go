package release

import (
	"caravel/internal/events"
	"caravel/internal/manifest"
	"caravel/pkg/logging"
)

// rollback reverts a degraded release to the most recent prior good
// revision. It runs at most once per release: a rollback that itself
// degrades transitions the unit to Fatal instead of rolling back again.
func (c *Coordinator) rollback(rel *Release, failedRev manifest.Revision) {
	c.rollbackFrom(rel, failedRev, 0)
}

// rollbackFrom reverts failedRev to the most recent prior good revision,
// skipping excludeSeq when selecting the target.
func (c *Coordinator) rollbackFrom(rel *Release, failedRev manifest.Revision, excludeSeq int64) {
	target, ok := c.rollbackTarget(rel.Unit, excludeSeq)
	if !ok {
		c.failFatal(rel, ErrNoPriorGoodRevision.Error())
		return
	}

	c.transition(rel, StateRollingBack)
	c.recorder.RecordRelease(events.ReasonRollbackStarted, rel.Unit, rel.Commit, rel.ID, failedRev.Seq,
		"rolling back revision %d to the artifacts of revision %d", failedRev.Seq, target.HealthySeq)

	targetRev, err := c.store.Get(c.ctx, rel.Unit, target.HealthySeq)
	if err != nil {
		c.failFatal(rel, "reading rollback target revision: "+err.Error())
		return
	}

	rbRev, err := c.updater.AppendRollback(c.ctx, rel.Unit, targetRev, failedRev.Seq)
	if err != nil {
		c.failFatal(rel, "appending rollback revision: "+err.Error())
		return
	}

	c.update(rel, func(r *Release) {
		r.RolledBackFrom = failedRev.Seq
		r.RollbackSeq = rbRev.Seq
	})
	c.recorder.RecordRelease(events.ReasonRevisionAppended, rel.Unit, rel.Commit, rel.ID, rbRev.Seq,
		"appended rollback revision %d restoring revision %d", rbRev.Seq, targetRev.Seq)

	// The rollback revision goes through the same convergence and health
	// contract as any other revision.
	if c.syncAndVerify(rel, rbRev) {
		c.update(rel, func(r *Release) { r.HealthySeq = rbRev.Seq })
		c.transition(rel, StateHealthy)
		c.recorder.RecordRelease(events.ReasonRollbackSucceeded, rel.Unit, rel.Commit, rel.ID, rbRev.Seq,
			"rollback revision %d verified healthy", rbRev.Seq)
		return
	}

	// Second consecutive degradation: stop the thrash.
	c.recorder.RecordRelease(events.ReasonRollbackFailed, rel.Unit, rel.Commit, rel.ID, rbRev.Seq,
		"rollback revision %d did not restore health: %s", rbRev.Seq, rel.LastError)
	c.failFatal(rel, "rollback did not restore health: "+rel.LastError)
}

// runManualRollback reverts the unit's head to the most recent prior good
// revision on operator request, bypassing build and manifest stages.
func (c *Coordinator) runManualRollback(rel *Release) {
	head, err := c.store.Head(c.ctx, rel.Unit)
	if err != nil {
		c.update(rel, func(r *Release) { r.LastError = "reading head: " + err.Error() })
		c.transition(rel, StateDegraded)
		return
	}

	c.update(rel, func(r *Release) {
		r.Commit = head.Commit
		r.RevisionSeq = head.Seq
	})
	c.rollbackFrom(rel, head, head.Seq)
}

// rollbackTarget picks the most recent finished release that ended with a
// verified-healthy revision, skipping excludeSeq (nonzero for manual
// rollbacks, where the current head must not be its own target).
func (c *Coordinator) rollbackTarget(unit string, excludeSeq int64) (Release, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	hist := c.history[unit]
	for i := len(hist) - 1; i >= 0; i-- {
		if hist[i].State == StateHealthy && hist[i].HealthySeq > 0 && hist[i].HealthySeq != excludeSeq {
			return hist[i].Copy(), true
		}
	}
	return Release{}, false
}

// failFatal ends the release Fatal and blocks the unit from further
// automatic triggers until an operator clears it.
func (c *Coordinator) failFatal(rel *Release, reason string) {
	c.mu.Lock()
	rel.LastError = reason
	c.fatal[rel.Unit] = true
	c.mu.Unlock()

	c.transition(rel, StateFatal)
	logging.Error("Release", nil, "Release %s for %s@%s fatal: %s", rel.ID, rel.Unit, rel.Commit, reason)
	c.recorder.RecordRelease(events.ReasonReleaseFatal, rel.Unit, rel.Commit, rel.ID, rel.RevisionSeq,
		"release fatal, unit blocked: %s", reason)
}
