package events

import (
	"time"
)

// EventType represents the severity class of an event.
type EventType string

const (
	// EventTypeNormal indicates normal, non-problematic events.
	EventTypeNormal EventType = "Normal"

	// EventTypeWarning indicates events that may require attention.
	EventTypeWarning EventType = "Warning"
)

// EventReason represents the reason code for an event.
type EventReason string

// Release lifecycle event reasons
const (
	// ReasonReleaseQueued indicates a trigger was accepted and queued.
	ReasonReleaseQueued EventReason = "ReleaseQueued"

	// ReasonBuildStarted indicates artifact builds began for a commit.
	ReasonBuildStarted EventReason = "BuildStarted"

	// ReasonBuildFailed indicates the build or scan gate failed.
	ReasonBuildFailed EventReason = "BuildFailed"

	// ReasonArtifactPublished indicates artifacts reached the registry.
	ReasonArtifactPublished EventReason = "ArtifactPublished"

	// ReasonRevisionAppended indicates a new manifest revision was written.
	ReasonRevisionAppended EventReason = "RevisionAppended"

	// ReasonReleaseHealthy indicates a release reached its terminal good state.
	ReasonReleaseHealthy EventReason = "ReleaseHealthy"

	// ReasonReleaseDegraded indicates verification classified the release degraded.
	ReasonReleaseDegraded EventReason = "ReleaseDegraded"

	// ReasonReleaseFatal indicates a release ended fatal and the unit is blocked.
	ReasonReleaseFatal EventReason = "ReleaseFatal"

	// ReasonFatalCleared indicates an operator unblocked a fatal unit.
	ReasonFatalCleared EventReason = "FatalCleared"
)

// Sync event reasons
const (
	// ReasonSyncStarted indicates a sync pass began for a unit.
	ReasonSyncStarted EventReason = "SyncStarted"

	// ReasonSyncConverged indicates live state matches the target revision.
	ReasonSyncConverged EventReason = "SyncConverged"

	// ReasonSyncFailed indicates a sync pass failed and will retry.
	ReasonSyncFailed EventReason = "SyncFailed"

	// ReasonSyncStuck indicates sync retries are exhausted.
	ReasonSyncStuck EventReason = "SyncStuck"
)

// Rollback event reasons
const (
	// ReasonRollbackStarted indicates automatic rollback began.
	ReasonRollbackStarted EventReason = "RollbackStarted"

	// ReasonRollbackSucceeded indicates the rollback revision verified healthy.
	ReasonRollbackSucceeded EventReason = "RollbackSucceeded"

	// ReasonRollbackFailed indicates rollback could not restore health.
	ReasonRollbackFailed EventReason = "RollbackFailed"
)

// Event is one recorded occurrence in the release and sync lifecycle.
type Event struct {
	ID          string      `json:"id"`
	Time        time.Time   `json:"time"`
	Type        EventType   `json:"type"`
	Reason      EventReason `json:"reason"`
	Unit        string      `json:"unit"`
	Commit      string      `json:"commit,omitempty"`
	ReleaseID   string      `json:"releaseId,omitempty"`
	RevisionSeq int64       `json:"revisionSeq,omitempty"`
	Message     string      `json:"message"`
}

// getEventType determines the event type based on the reason.
func getEventType(reason EventReason) EventType {
	switch reason {
	case ReasonBuildFailed, ReasonReleaseDegraded, ReasonReleaseFatal,
		ReasonSyncFailed, ReasonSyncStuck, ReasonRollbackStarted,
		ReasonRollbackFailed:
		return EventTypeWarning
	default:
		return EventTypeNormal
	}
}
