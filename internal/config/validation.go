package config

import (
	"errors"
	"fmt"
)

// ValidationError describes a single invalid config field.
type ValidationError struct {
	// Field is the yaml path of the offending field.
	Field string

	// Message describes what is wrong with it.
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks a fully-defaulted config for inconsistencies.
// It returns a joined error listing every problem found, not just the first.
func Validate(cfg Config) error {
	var errs []error

	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		errs = append(errs, &ValidationError{"server.port", fmt.Sprintf("must be 1-65535, got %d", cfg.Server.Port)})
	}

	switch cfg.Cluster.Mode {
	case ClusterModeFake, ClusterModeKubernetes, ClusterModeAuto:
	default:
		errs = append(errs, &ValidationError{"cluster.mode", fmt.Sprintf("unknown mode %q", cfg.Cluster.Mode)})
	}

	for severity, action := range cfg.Build.ScanPolicy {
		switch action {
		case ScanActionBlock, ScanActionWarn, ScanActionIgnore:
		default:
			errs = append(errs, &ValidationError{
				Field:   "build.scanPolicy." + severity,
				Message: fmt.Sprintf("action must be block, warn or ignore, got %q", action),
			})
		}
	}

	if cfg.Build.PublishAttempts < 1 {
		errs = append(errs, &ValidationError{"build.publishAttempts", "must be at least 1"})
	}
	if cfg.Reconcile.MaxAttempts < 1 {
		errs = append(errs, &ValidationError{"reconcile.maxAttempts", "must be at least 1"})
	}
	if cfg.Reconcile.InitialBackoff > cfg.Reconcile.MaxBackoff {
		errs = append(errs, &ValidationError{"reconcile.initialBackoff", "must not exceed reconcile.maxBackoff"})
	}
	if cfg.Reconcile.Prune && len(cfg.Reconcile.PruneAllowKinds) == 0 {
		errs = append(errs, &ValidationError{"reconcile.pruneAllowKinds", "must list at least one kind when prune is enabled"})
	}
	if cfg.Health.StabilityWindow >= cfg.Health.Window {
		errs = append(errs, &ValidationError{"health.stabilityWindow", "must be shorter than health.window"})
	}
	if cfg.Release.HistoryLimit < 2 {
		// Rollback needs at least the failed release plus one prior.
		errs = append(errs, &ValidationError{"release.historyLimit", "must be at least 2"})
	}

	return errors.Join(errs...)
}
