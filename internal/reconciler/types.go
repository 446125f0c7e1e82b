package reconciler

import "time"

// Source identifies what enqueued a sync pass.
type Source string

const (
	// SourcePoll is the periodic head re-read.
	SourcePoll Source = "poll"

	// SourceWatch is a store head-changed event.
	SourceWatch Source = "watch"

	// SourceManual is an operator- or coordinator-requested sync.
	SourceManual Source = "manual"
)

// PassState is the lifecycle of the latest sync pass for one unit.
type PassState string

const (
	StateIdle      PassState = "Idle"
	StateDiffing   PassState = "Diffing"
	StateApplying  PassState = "Applying"
	StateConverged PassState = "Converged"
	StateFailed    PassState = "Failed"
)

// Outcome classifies a finished sync pass.
type Outcome string

const (
	OutcomeConverged Outcome = "Converged"
	OutcomeFailed    Outcome = "Failed"
)

// SyncRequest asks for one sync pass of a unit.
type SyncRequest struct {
	// Unit is the deployable unit to sync.
	Unit string

	// TargetSeq pins the revision to sync. Zero means the current head,
	// re-read at pass time, so retries of an unpinned request self-heal to
	// the newest revision.
	TargetSeq int64

	// Attempt counts pass attempts for this request, starting at 1.
	Attempt int

	// Source records what enqueued the request.
	Source Source

	// LastError holds the error from the previous attempt, if any.
	LastError error
}

// requestKey generates the dedup key for a sync request. Keying by unit
// alone is what serializes passes per unit: a second request for a unit
// already queued or in flight coalesces instead of running concurrently.
func requestKey(req SyncRequest) string {
	return req.Unit
}

// SyncOperation is the record of one finished sync pass.
type SyncOperation struct {
	ID          string    `json:"id"`
	Unit        string    `json:"unit"`
	RevisionSeq int64     `json:"revisionSeq"`
	Source      Source    `json:"source"`
	Attempt     int       `json:"attempt"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Outcome     Outcome   `json:"outcome"`

	// Applied and Pruned list the resource keys the pass changed, in the
	// order they were changed.
	Applied []string `json:"applied,omitempty"`
	Pruned  []string `json:"pruned,omitempty"`

	// Error describes why the pass failed, empty on convergence.
	Error string `json:"error,omitempty"`

	// Stuck marks a failed pass whose retry budget is exhausted. No further
	// automatic retries happen until a new request arrives for the unit.
	Stuck bool `json:"stuck,omitempty"`
}

// Terminal reports whether the operation ended the request: either the
// pass converged or retries are exhausted.
func (op SyncOperation) Terminal() bool {
	return op.Outcome == OutcomeConverged || op.Stuck
}
