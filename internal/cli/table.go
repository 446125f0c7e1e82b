package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"caravel/internal/events"
	"caravel/internal/release"
	"caravel/internal/server"
)

// RenderStatusTable writes unit statuses as a table.
func RenderStatusTable(w io.Writer, statuses []server.UnitStatus) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"UNIT", "STATE", "REVISION", "COMMIT", "HEALTH", "LAST ERROR"})

	for _, s := range statuses {
		state, commit, health, lastErr := "-", "-", "-", "-"
		seq := int64(0)
		if s.Release != nil {
			state = colorizeState(s.Release.State)
			commit = shortCommit(s.Release.Commit)
			seq = s.Release.RevisionSeq
			if s.Release.HealthClass != "" {
				health = string(s.Release.HealthClass)
			}
			if s.Release.LastError != "" {
				lastErr = truncate(s.Release.LastError, 60)
			}
		}
		if s.Fatal {
			state = text.FgRed.Sprint("Fatal")
		}
		t.AppendRow(table.Row{s.Unit, state, seq, commit, health, lastErr})
	}

	t.Render()
}

// RenderHistoryTable writes a unit's release history as a table, newest
// first.
func RenderHistoryTable(w io.Writer, history []release.Release) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"ID", "STATE", "REVISION", "COMMIT", "ROLLED BACK FROM", "UPDATED"})

	for _, rel := range history {
		from := "-"
		if rel.RolledBackFrom != 0 {
			from = fmt.Sprintf("%d", rel.RolledBackFrom)
		}
		t.AppendRow(table.Row{
			shortID(rel.ID),
			colorizeState(rel.State),
			rel.RevisionSeq,
			shortCommit(rel.Commit),
			from,
			rel.UpdatedAt.Format(time.RFC3339),
		})
	}

	t.Render()
}

// RenderEventsTable writes events as a table, newest first.
func RenderEventsTable(w io.Writer, list []events.Event) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"TIME", "TYPE", "REASON", "UNIT", "MESSAGE"})

	for _, ev := range list {
		typ := string(ev.Type)
		if ev.Type == events.EventTypeWarning {
			typ = text.FgYellow.Sprint(typ)
		}
		t.AppendRow(table.Row{
			ev.Time.Format("15:04:05"),
			typ,
			string(ev.Reason),
			ev.Unit,
			truncate(ev.Message, 80),
		})
	}

	t.Render()
}

// colorizeState renders terminal and failure states in color so they stand
// out in a scrolling terminal.
func colorizeState(s release.State) string {
	switch s {
	case release.StateHealthy:
		return text.FgGreen.Sprint(string(s))
	case release.StateFatal:
		return text.FgRed.Sprint(string(s))
	case release.StateDegraded, release.StateRollingBack:
		return text.FgYellow.Sprint(string(s))
	default:
		return string(s)
	}
}

func shortCommit(commit string) string {
	if len(commit) > 12 {
		return commit[:12]
	}
	if commit == "" {
		return "-"
	}
	return commit
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
