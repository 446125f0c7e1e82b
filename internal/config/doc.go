// Package config defines caravel's yaml configuration surface: the HTTP
// server bind address, the manifest store location, the cluster client mode,
// and the tuning knobs of the build, reconcile, health and release stages.
//
// Loading is a single-directory affair: LoadConfig reads config.yaml from the
// given path, fills every unset field from GetDefaultConfig, and validates
// the result. A missing file is fine; a malformed or inconsistent one is not.
//
// All timing knobs are Duration fields accepting Go duration strings ("3m",
// "30s"). Destructive behavior (pruning) must be switched on explicitly and
// requires an allow-list of kinds; validation rejects a bare enable.
package config
