package release

import (
	"errors"
	"time"

	"caravel/internal/build"
	"caravel/internal/health"
)

var (
	// ErrUnitFatal means the unit is blocked by a fatal release and needs an
	// operator ClearFatal before new triggers are accepted.
	ErrUnitFatal = errors.New("unit is fatal and blocked until cleared")

	// ErrNoPriorGoodRevision means rollback found no previously healthy
	// release to revert to. Never retried automatically.
	ErrNoPriorGoodRevision = errors.New("no prior good revision to roll back to")

	// ErrNotFound means the unit has no known release.
	ErrNotFound = errors.New("release not found")

	// ErrNotRunning means the coordinator has not been started.
	ErrNotRunning = errors.New("release coordinator not running")

	// ErrReleaseInProgress means the unit already has a release in flight or
	// queued, which a manual rollback must not preempt.
	ErrReleaseInProgress = errors.New("release in progress for unit")
)

// State is one stage of the release lifecycle.
type State string

const (
	// StatePending means the trigger is queued behind earlier releases.
	StatePending State = "Pending"

	// StateBuilding means artifacts are compiling.
	StateBuilding State = "Building"

	// StateScanning means artifacts passed compilation and the scan gate ran.
	StateScanning State = "Scanning"

	// StatePublishing means artifacts are being pushed to the registry.
	StatePublishing State = "Publishing"

	// StateManifestUpdated means a new revision was appended to the store.
	StateManifestUpdated State = "ManifestUpdated"

	// StateSyncing means the reconciler is converging the revision.
	StateSyncing State = "Syncing"

	// StateHealthy is the terminal success state.
	StateHealthy State = "Healthy"

	// StateDegraded means a stage failed or verification classified the
	// revision degraded. Releases that never touched the cluster rest here;
	// deployed releases continue into rollback.
	StateDegraded State = "Degraded"

	// StateRollingBack means the automatic rollback revision is in flight.
	StateRollingBack State = "RollingBack"

	// StateFatal is the terminal failure state. The unit is blocked until an
	// operator clears it.
	StateFatal State = "Fatal"
)

// Terminal reports whether the state ends the release lifecycle.
func (s State) Terminal() bool {
	return s == StateHealthy || s == StateFatal
}

// Release tracks one commit's journey from trigger to verified (or fatal).
type Release struct {
	ID     string `json:"id"`
	Unit   string `json:"unit"`
	Commit string `json:"commit"`
	State  State  `json:"state"`

	// RevisionSeq is the manifest revision this release appended, zero if
	// the release failed before the manifest stage.
	RevisionSeq int64 `json:"revisionSeq,omitempty"`

	// HealthySeq is the revision that was live and verified healthy when the
	// release ended Healthy. It equals RevisionSeq on the direct path and the
	// rollback revision after a successful rollback. Rollback target
	// selection reads this field.
	HealthySeq int64 `json:"healthySeq,omitempty"`

	// RolledBackFrom is the degraded revision this release reverted, set
	// only when an automatic rollback ran.
	RolledBackFrom int64 `json:"rolledBackFrom,omitempty"`

	// RollbackSeq is the fresh revision the rollback appended.
	RollbackSeq int64 `json:"rollbackSeq,omitempty"`

	// Manual marks an operator-requested rollback release, which skips the
	// build and manifest stages and goes straight to reverting the head.
	Manual bool `json:"manual,omitempty"`

	// LastError describes the most recent failure, empty on the happy path.
	LastError string `json:"lastError,omitempty"`

	// HealthClass is the verifier's classification of the last checked
	// revision.
	HealthClass health.Class `json:"healthClass,omitempty"`

	// Findings are scan findings retained by policy (warn severity).
	Findings []build.Finding `json:"findings,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Copy returns a snapshot safe to hand outside the coordinator's lock.
func (r *Release) Copy() Release {
	out := *r
	if r.Findings != nil {
		out.Findings = make([]build.Finding, len(r.Findings))
		copy(out.Findings, r.Findings)
	}
	return out
}
