// Package logging provides a structured logging system for caravel built on
// Go's standard slog package.
//
// All log entries carry a subsystem identifier so that the output of the
// release pipeline can be filtered per component:
//
//   - **Bootstrap**: application initialization and startup
//   - **Config**: configuration loading and validation
//   - **Builder**: artifact builds, scans, and registry publishes
//   - **Manifest**: manifest store appends and head watching
//   - **Reconciler**: sync passes against the cluster
//   - **Health**: post-sync health verification
//   - **Coordinator**: release state machine transitions
//   - **Server**: HTTP trigger and operator API
//
// Usage:
//
//	logging.Init(logging.LevelInfo, os.Stdout)
//	logging.Info("Coordinator", "Release %s entered %s", id, state)
//	logging.Error("Builder", err, "Publish failed for %s", unit)
//
// The logging system is safe for concurrent use from multiple goroutines.
package logging
