package config

import "time"

// GetDefaultConfig returns the default configuration for caravel.
// Every field a loader may leave zero gets a working default here, so the
// rest of the system never needs to re-check for zero values.
func GetDefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Host: "localhost",
			Port: 8484,
		},
		Store: StoreConfig{
			Path:     ".caravel/manifests",
			Debounce: Duration(500 * time.Millisecond),
		},
		Cluster: ClusterConfig{
			Mode: ClusterModeAuto,
		},
		Build: BuildConfig{
			PublishAttempts:   5,
			PublishBackoff:    Duration(time.Second),
			PublishBackoffCap: Duration(time.Minute),
			ScanPolicy: map[string]ScanAction{
				"critical": ScanActionWarn,
			},
		},
		Reconcile: ReconcileConfig{
			Interval:       Duration(3 * time.Minute),
			MaxAttempts:    5,
			InitialBackoff: Duration(5 * time.Second),
			MaxBackoff:     Duration(3 * time.Minute),
			Prune:          false,
		},
		Health: HealthConfig{
			Window:           Duration(5 * time.Minute),
			PollInterval:     Duration(2 * time.Second),
			StabilityWindow:  Duration(30 * time.Second),
			RestartThreshold: 3,
		},
		Release: ReleaseConfig{
			HistoryLimit: 20,
			BuildTimeout: Duration(10 * time.Minute),
			SyncTimeout:  Duration(15 * time.Minute),
		},
	}
}

// applyDefaults fills zero-valued fields of cfg from the defaults.
func applyDefaults(cfg *Config) {
	def := GetDefaultConfig()

	if cfg.Server.Host == "" {
		cfg.Server.Host = def.Server.Host
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = def.Server.Port
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = def.Store.Path
	}
	if cfg.Store.Debounce == 0 {
		cfg.Store.Debounce = def.Store.Debounce
	}
	if cfg.Cluster.Mode == "" {
		cfg.Cluster.Mode = def.Cluster.Mode
	}
	if cfg.Build.PublishAttempts == 0 {
		cfg.Build.PublishAttempts = def.Build.PublishAttempts
	}
	if cfg.Build.PublishBackoff == 0 {
		cfg.Build.PublishBackoff = def.Build.PublishBackoff
	}
	if cfg.Build.PublishBackoffCap == 0 {
		cfg.Build.PublishBackoffCap = def.Build.PublishBackoffCap
	}
	if cfg.Build.ScanPolicy == nil {
		cfg.Build.ScanPolicy = def.Build.ScanPolicy
	}
	if cfg.Reconcile.Interval == 0 {
		cfg.Reconcile.Interval = def.Reconcile.Interval
	}
	if cfg.Reconcile.MaxAttempts == 0 {
		cfg.Reconcile.MaxAttempts = def.Reconcile.MaxAttempts
	}
	if cfg.Reconcile.InitialBackoff == 0 {
		cfg.Reconcile.InitialBackoff = def.Reconcile.InitialBackoff
	}
	if cfg.Reconcile.MaxBackoff == 0 {
		cfg.Reconcile.MaxBackoff = def.Reconcile.MaxBackoff
	}
	if cfg.Health.Window == 0 {
		cfg.Health.Window = def.Health.Window
	}
	if cfg.Health.PollInterval == 0 {
		cfg.Health.PollInterval = def.Health.PollInterval
	}
	if cfg.Health.StabilityWindow == 0 {
		cfg.Health.StabilityWindow = def.Health.StabilityWindow
	}
	if cfg.Health.RestartThreshold == 0 {
		cfg.Health.RestartThreshold = def.Health.RestartThreshold
	}
	if cfg.Release.HistoryLimit == 0 {
		cfg.Release.HistoryLimit = def.Release.HistoryLimit
	}
	if cfg.Release.BuildTimeout == 0 {
		cfg.Release.BuildTimeout = def.Release.BuildTimeout
	}
	if cfg.Release.SyncTimeout == 0 {
		cfg.Release.SyncTimeout = def.Release.SyncTimeout
	}
	if cfg.Release.VerifyTimeout == 0 {
		// Health window plus slack for the final stability check.
		cfg.Release.VerifyTimeout = cfg.Health.Window + cfg.Health.StabilityWindow + Duration(time.Minute)
	}
}
