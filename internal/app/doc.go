// Package app bootstraps and runs the caravel daemon.
//
// New performs the two-phase initialization: logging and configuration
// first, then every component in dependency order (manifest store, build
// pipeline, cluster client, reconciler, health verifier, release
// coordinator, HTTP server). Run starts the components, bridges terminal
// reconciler passes into the event ring, and blocks until the context is
// cancelled, then shuts everything down in reverse order.
package app
