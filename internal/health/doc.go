// Package health classifies synced revisions by polling live resource
// status over a bounded window.
//
// A revision is Healthy only after every resource stays ready for a
// continuous stability window; a readiness flap restarts that clock.
// Crash loops are detected from the restart-count delta inside the
// window, so long-lived workloads with old restarts are not penalized.
// An expired window yields Degraded, or Unknown when status itself could
// not be read.
//
// Verification is read-only: it never touches cluster or manifest state.
package health
