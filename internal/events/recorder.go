package events

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"caravel/pkg/logging"
)

// defaultLimit bounds the in-memory ring when no limit is configured.
const defaultLimit = 256

// Recorder keeps a bounded in-memory ring of events and mirrors each one
// to the structured log. The ring is the observability surface the HTTP
// API serves; the log is what operators grep.
type Recorder struct {
	mu sync.RWMutex

	ring  []Event
	limit int

	subscribers map[chan Event]struct{}
}

// NewRecorder creates a recorder retaining at most limit events.
func NewRecorder(limit int) *Recorder {
	if limit <= 0 {
		limit = defaultLimit
	}
	return &Recorder{
		limit:       limit,
		subscribers: make(map[chan Event]struct{}),
	}
}

// Record stores an event, assigning ID, timestamp and type. The message
// may be a format string with args.
func (r *Recorder) Record(reason EventReason, unit string, format string, args ...interface{}) Event {
	return r.record(Event{
		Reason:  reason,
		Unit:    unit,
		Message: fmt.Sprintf(format, args...),
	})
}

// RecordRelease stores an event carrying release identifiers.
func (r *Recorder) RecordRelease(reason EventReason, unit, commit, releaseID string, revisionSeq int64, format string, args ...interface{}) Event {
	return r.record(Event{
		Reason:      reason,
		Unit:        unit,
		Commit:      commit,
		ReleaseID:   releaseID,
		RevisionSeq: revisionSeq,
		Message:     fmt.Sprintf(format, args...),
	})
}

func (r *Recorder) record(event Event) Event {
	event.ID = uuid.New().String()
	event.Time = time.Now()
	event.Type = getEventType(event.Reason)

	switch event.Type {
	case EventTypeWarning:
		logging.Warn("Events", "%s %s: %s", event.Unit, event.Reason, event.Message)
	default:
		logging.Info("Events", "%s %s: %s", event.Unit, event.Reason, event.Message)
	}

	r.mu.Lock()
	r.ring = append(r.ring, event)
	if len(r.ring) > r.limit {
		r.ring = r.ring[len(r.ring)-r.limit:]
	}
	for ch := range r.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
	r.mu.Unlock()

	return event
}

// List returns retained events, newest first. An empty unit matches all
// units; limit <= 0 returns everything retained.
func (r *Recorder) List(unit string, limit int) []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Event
	for i := len(r.ring) - 1; i >= 0; i-- {
		if unit != "" && r.ring[i].Unit != unit {
			continue
		}
		out = append(out, r.ring[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// Subscribe returns a channel receiving every event recorded after the
// call. Slow consumers drop events rather than blocking recording.
func (r *Recorder) Subscribe() chan Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch := make(chan Event, 64)
	r.subscribers[ch] = struct{}{}
	return ch
}

// Unsubscribe removes a subscription channel.
func (r *Recorder) Unsubscribe(ch chan Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subscribers, ch)
}
