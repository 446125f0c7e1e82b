// Package events defines the typed event vocabulary of the release and
// sync lifecycle and a bounded in-memory recorder.
//
// Every state transition the coordinator or reconciler makes records one
// event. Reasons map to Normal or Warning types the way Kubernetes Events
// do; the recorder mirrors each event to the structured log and retains a
// bounded ring that the HTTP API serves to operators.
package events
