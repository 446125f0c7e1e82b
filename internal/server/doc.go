// Package server is the HTTP operator and webhook surface.
//
// It exposes the release coordinator and reconciler over a small JSON
// API: POST /api/v1/trigger accepts commit webhooks, GET /api/v1/status
// reports release and sync state per unit, and POST /api/v1/{sync,
// rollback,clear-fatal} are the operator actions. GET /api/v1/events
// serves the bounded event ring and /healthz answers probes.
//
// The server holds no state of its own; every response is derived from
// the coordinator, the reconciler and the manifest store at request time.
package server
