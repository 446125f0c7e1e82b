package health

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"caravel/internal/cluster"
	"caravel/internal/config"
	"caravel/internal/manifest"
	"caravel/pkg/logging"
)

// Class is the health classification of a synced revision.
type Class string

const (
	// ClassHealthy means every resource was ready continuously for the
	// stability window.
	ClassHealthy Class = "Healthy"

	// ClassProgressing means the window has not expired and readiness is
	// still converging.
	ClassProgressing Class = "Progressing"

	// ClassDegraded means the window expired without stable readiness, or a
	// workload crossed the restart threshold.
	ClassDegraded Class = "Degraded"

	// ClassUnknown means resource status could not be read.
	ClassUnknown Class = "Unknown"
)

// ResourceHealth is the observed state of one resource at poll time.
type ResourceHealth struct {
	Key      cluster.Key `json:"key"`
	Ready    bool        `json:"ready"`
	Restarts int         `json:"restarts"`
	Message  string      `json:"message,omitempty"`
}

// Report is the result of verifying one revision.
type Report struct {
	Unit        string           `json:"unit"`
	RevisionSeq int64            `json:"revisionSeq"`
	Class       Class            `json:"class"`
	Start       time.Time        `json:"start"`
	End         time.Time        `json:"end"`
	Message     string           `json:"message,omitempty"`
	Resources   []ResourceHealth `json:"resources,omitempty"`
}

// Verifier classifies a synced revision by polling live resource status.
// It reads only; it never mutates cluster or manifest state.
type Verifier struct {
	cluster cluster.Client
	cfg     config.HealthConfig
}

// NewVerifier creates a verifier over a cluster client.
func NewVerifier(clusterClient cluster.Client, cfg config.HealthConfig) *Verifier {
	if cfg.Window == 0 {
		cfg.Window = config.Duration(5 * time.Minute)
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = config.Duration(2 * time.Second)
	}
	if cfg.StabilityWindow == 0 {
		cfg.StabilityWindow = config.Duration(30 * time.Second)
	}
	if cfg.RestartThreshold == 0 {
		cfg.RestartThreshold = 3
	}
	return &Verifier{cluster: clusterClient, cfg: cfg}
}

// snapshot is one poll across all resources of a revision.
type snapshot struct {
	resources []ResourceHealth
	allReady  bool
	unknown   bool
	crashLoop *ResourceHealth
}

// Check polls the revision's resources until it can classify the revision
// as Healthy, Degraded or Unknown, or until ctx is cancelled. Healthy
// requires continuous readiness for the stability window; a readiness flap
// restarts that clock.
func (v *Verifier) Check(ctx context.Context, rev manifest.Revision) Report {
	report := Report{
		Unit:        rev.Unit,
		RevisionSeq: rev.Seq,
		Start:       time.Now(),
	}

	deadline := report.Start.Add(v.cfg.Window.Std())

	// Restart counts are cumulative, so crash-loop detection works on the
	// delta from the first observation inside the window.
	baseline := make(map[cluster.Key]int)

	ticker := time.NewTicker(v.cfg.PollInterval.Std())
	defer ticker.Stop()

	var stableSince time.Time
	var last snapshot

	for {
		last = v.poll(ctx, rev, baseline)
		now := time.Now()

		if last.crashLoop != nil {
			report.End = now
			report.Class = ClassDegraded
			report.Resources = last.resources
			report.Message = fmt.Sprintf("%s crash-looping: %d restarts within the window",
				last.crashLoop.Key, last.crashLoop.Restarts)
			logging.Warn("Health", "Revision %s/%d degraded: %s", rev.Unit, rev.Seq, report.Message)
			return report
		}

		if last.allReady {
			if stableSince.IsZero() {
				stableSince = now
			}
			if now.Sub(stableSince) >= v.cfg.StabilityWindow.Std() {
				report.End = now
				report.Class = ClassHealthy
				report.Resources = last.resources
				logging.Info("Health", "Revision %s/%d healthy after %s", rev.Unit, rev.Seq, now.Sub(report.Start).Round(time.Millisecond))
				return report
			}
		} else {
			stableSince = time.Time{}
		}

		if now.After(deadline) {
			report.End = now
			report.Resources = last.resources
			if last.unknown {
				report.Class = ClassUnknown
				report.Message = "resource status unavailable: " + notReadySummary(last.resources)
			} else {
				report.Class = ClassDegraded
				report.Message = "health window expired: " + notReadySummary(last.resources)
			}
			logging.Warn("Health", "Revision %s/%d %s: %s", rev.Unit, rev.Seq, strings.ToLower(string(report.Class)), report.Message)
			return report
		}

		select {
		case <-ctx.Done():
			report.End = time.Now()
			report.Class = ClassUnknown
			report.Resources = last.resources
			report.Message = "verification cancelled: " + ctx.Err().Error()
			return report
		case <-ticker.C:
		}
	}
}

// Observe takes a single status poll and classifies it without waiting for
// stability: all ready is Progressing toward Healthy confirmation, so the
// instantaneous view never claims more than Progressing unless something
// is already wrong.
func (v *Verifier) Observe(ctx context.Context, rev manifest.Revision) Report {
	now := time.Now()
	snap := v.poll(ctx, rev, nil)

	report := Report{
		Unit:        rev.Unit,
		RevisionSeq: rev.Seq,
		Start:       now,
		End:         now,
		Resources:   snap.resources,
	}

	switch {
	case snap.crashLoop != nil:
		report.Class = ClassDegraded
		report.Message = fmt.Sprintf("%s crash-looping", snap.crashLoop.Key)
	case snap.unknown:
		report.Class = ClassUnknown
	default:
		report.Class = ClassProgressing
		if !snap.allReady {
			report.Message = notReadySummary(snap.resources)
		}
	}
	return report
}

// poll reads the status of every resource in the revision. A nil baseline
// means crash-loop detection uses absolute restart counts.
func (v *Verifier) poll(ctx context.Context, rev manifest.Revision, baseline map[cluster.Key]int) snapshot {
	snap := snapshot{allReady: true}

	for _, res := range rev.Resources {
		key := cluster.KeyFor(res)
		rh := ResourceHealth{Key: key}

		st, err := v.cluster.Status(ctx, key)
		switch {
		case errors.Is(err, cluster.ErrNotFound):
			rh.Message = "not found"
			snap.allReady = false
		case err != nil:
			rh.Message = err.Error()
			snap.allReady = false
			snap.unknown = true
		default:
			rh.Ready = st.Ready
			rh.Restarts = st.Restarts
			if !st.Ready {
				rh.Message = fmt.Sprintf("%d/%d replicas ready", st.ReadyReplicas, st.DesiredReplicas)
				snap.allReady = false
			}
			if res.Kind.IsWorkload() {
				restarts := st.Restarts
				if baseline != nil {
					if base, ok := baseline[key]; ok {
						restarts = st.Restarts - base
					} else {
						baseline[key] = st.Restarts
						restarts = 0
					}
				}
				if restarts > v.cfg.RestartThreshold && snap.crashLoop == nil {
					rh.Message = fmt.Sprintf("%d restarts", restarts)
					crash := rh
					crash.Restarts = restarts
					snap.crashLoop = &crash
				}
			}
		}

		snap.resources = append(snap.resources, rh)
	}

	sort.Slice(snap.resources, func(i, j int) bool {
		return snap.resources[i].Key.String() < snap.resources[j].Key.String()
	})
	return snap
}

// notReadySummary names the resources still holding the revision back.
func notReadySummary(resources []ResourceHealth) string {
	var parts []string
	for _, rh := range resources {
		if rh.Ready {
			continue
		}
		msg := rh.Message
		if msg == "" {
			msg = "not ready"
		}
		parts = append(parts, fmt.Sprintf("%s (%s)", rh.Key, msg))
	}
	if len(parts) == 0 {
		return "all resources ready"
	}
	return strings.Join(parts, ", ")
}
