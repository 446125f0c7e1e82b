package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/briandowns/spinner"
	"github.com/jedib0t/go-pretty/v6/text"

	"caravel/internal/release"
)

const watchPollInterval = 200 * time.Millisecond

// WaitForRelease polls the server until the release with the given ID
// reaches a terminal state, showing a progress spinner unless quiet mode is
// enabled. It returns the final release; reaching Fatal is not an error
// here, callers decide how to present it.
func WaitForRelease(ctx context.Context, client *Client, unit, id string, quiet bool) (release.Release, error) {
	var s *spinner.Spinner
	if !quiet {
		s = spinner.New(spinner.CharSets[14], 100*time.Millisecond)
		s.Suffix = " Waiting for release..."
		s.Start()
		defer s.Stop()
	}

	ticker := time.NewTicker(watchPollInterval)
	defer ticker.Stop()

	for {
		rel, found, err := findRelease(ctx, client, unit, id)
		if err != nil {
			return release.Release{}, err
		}
		if found {
			if s != nil {
				s.Suffix = fmt.Sprintf(" %s: %s...", unit, rel.State)
			}
			if rel.State.Terminal() {
				if s != nil {
					s.FinalMSG = finalMessage(rel)
				}
				return rel, nil
			}
		}

		select {
		case <-ctx.Done():
			return release.Release{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// findRelease locates the release by ID, checking the current release first
// and the history after it finished.
func findRelease(ctx context.Context, client *Client, unit, id string) (release.Release, bool, error) {
	status, err := client.Status(ctx, unit)
	if err != nil {
		if apiErr, ok := err.(*APIError); ok && apiErr.StatusCode == 404 {
			return release.Release{}, false, nil
		}
		return release.Release{}, false, err
	}
	if status.Release != nil && status.Release.ID == id {
		return *status.Release, true, nil
	}

	history, err := client.History(ctx, unit, 0)
	if err != nil {
		return release.Release{}, false, err
	}
	for _, rel := range history {
		if rel.ID == id {
			return rel, true, nil
		}
	}
	return release.Release{}, false, nil
}

func finalMessage(rel release.Release) string {
	switch rel.State {
	case release.StateHealthy:
		if rel.RolledBackFrom != 0 {
			return text.FgYellow.Sprintf("%s rolled back to revision %d (revision %d was unhealthy)\n",
				rel.Unit, rel.RollbackSeq, rel.RolledBackFrom)
		}
		return text.FgGreen.Sprintf("%s is healthy at revision %d\n", rel.Unit, rel.RevisionSeq)
	default:
		return text.FgRed.Sprintf("%s ended %s: %s\n", rel.Unit, rel.State, rel.LastError)
	}
}
