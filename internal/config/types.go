package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so config files can use "5m" / "30s" strings.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// ScanAction is what the build gate does with findings of a severity class.
type ScanAction string

const (
	// ScanActionBlock fails the build and withholds the artifact publish.
	ScanActionBlock ScanAction = "block"

	// ScanActionWarn publishes but records the findings on the release.
	ScanActionWarn ScanAction = "warn"

	// ScanActionIgnore discards findings of this severity.
	ScanActionIgnore ScanAction = "ignore"
)

// ClusterMode selects the cluster client implementation.
type ClusterMode string

const (
	// ClusterModeFake uses the in-memory cluster (local mode and tests).
	ClusterModeFake ClusterMode = "fake"

	// ClusterModeKubernetes talks to a real cluster via client-go.
	ClusterModeKubernetes ClusterMode = "kubernetes"

	// ClusterModeAuto picks kubernetes when a rest config is reachable.
	ClusterModeAuto ClusterMode = "auto"
)

// Config is the top-level configuration structure for caravel.
type Config struct {
	Server    ServerConfig    `yaml:"server,omitempty"`
	Store     StoreConfig     `yaml:"store,omitempty"`
	Cluster   ClusterConfig   `yaml:"cluster,omitempty"`
	Build     BuildConfig     `yaml:"build,omitempty"`
	Reconcile ReconcileConfig `yaml:"reconcile,omitempty"`
	Health    HealthConfig    `yaml:"health,omitempty"`
	Release   ReleaseConfig   `yaml:"release,omitempty"`
}

// ServerConfig configures the HTTP trigger/operator endpoint.
type ServerConfig struct {
	Host string `yaml:"host,omitempty"` // default: localhost
	Port int    `yaml:"port,omitempty"` // default: 8484
}

// Address returns the host:port bind address.
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// StoreConfig configures the manifest store.
type StoreConfig struct {
	// Path is the root directory of the file-backed manifest store
	// (a git worktree in production, a plain directory in local mode).
	Path string `yaml:"path,omitempty"`

	// Debounce is how long the head watcher waits for additional writes
	// before emitting a head-changed event.
	Debounce Duration `yaml:"debounce,omitempty"` // default: 500ms
}

// ClusterConfig configures the cluster client.
type ClusterConfig struct {
	Mode      ClusterMode `yaml:"mode,omitempty"`      // default: auto
	Namespace string      `yaml:"namespace,omitempty"` // empty: all namespaces
}

// BuildConfig configures the build coordinator.
type BuildConfig struct {
	// PublishAttempts bounds publish retries on registry errors.
	PublishAttempts int `yaml:"publishAttempts,omitempty"` // default: 5

	// PublishBackoff is the initial backoff between publish retries.
	PublishBackoff Duration `yaml:"publishBackoff,omitempty"` // default: 1s

	// PublishBackoffCap caps the exponential publish backoff.
	PublishBackoffCap Duration `yaml:"publishBackoffCap,omitempty"` // default: 1m

	// ScanPolicy maps a severity class (critical, high, medium, low) to the
	// gate action. Severities not listed are ignored. The gate is explicit
	// configuration; nothing is inferred at runtime.
	ScanPolicy map[string]ScanAction `yaml:"scanPolicy,omitempty"`
}

// ReconcileConfig configures the GitOps loop.
type ReconcileConfig struct {
	// Interval is the poll timer that re-reads the store head.
	Interval Duration `yaml:"interval,omitempty"` // default: 3m

	// MaxAttempts bounds retries of a failed apply pass before the sync is
	// surfaced as stuck.
	MaxAttempts int `yaml:"maxAttempts,omitempty"` // default: 5

	// InitialBackoff is the base delay for pass retries.
	InitialBackoff Duration `yaml:"initialBackoff,omitempty"` // default: 5s

	// MaxBackoff caps the exponential pass retry backoff.
	MaxBackoff Duration `yaml:"maxBackoff,omitempty"` // default: 3m

	// Prune enables deletion of live resources absent from the target
	// revision. Destructive; disabled unless explicitly enabled.
	Prune bool `yaml:"prune,omitempty"`

	// PruneAllowKinds is the allow-list of resource kinds eligible for
	// pruning. Ignored while Prune is false.
	PruneAllowKinds []string `yaml:"pruneAllowKinds,omitempty"`
}

// HealthConfig configures post-sync health verification.
type HealthConfig struct {
	// Window bounds how long a revision may take to become healthy.
	Window Duration `yaml:"window,omitempty"` // default: 5m

	// PollInterval is the status poll cadence inside the window.
	PollInterval Duration `yaml:"pollInterval,omitempty"` // default: 2s

	// StabilityWindow is how long every resource must stay ready before the
	// revision is classified Healthy, to avoid flapping false positives.
	StabilityWindow Duration `yaml:"stabilityWindow,omitempty"` // default: 30s

	// RestartThreshold is the number of container restarts within the
	// window that classifies a workload as crash-looping.
	RestartThreshold int `yaml:"restartThreshold,omitempty"` // default: 3
}

// ReleaseConfig configures the release coordinator.
type ReleaseConfig struct {
	// HistoryLimit bounds retained releases per unit (rollback targets).
	HistoryLimit int `yaml:"historyLimit,omitempty"` // default: 20

	// BuildTimeout bounds the Building/Scanning/Publishing stages.
	BuildTimeout Duration `yaml:"buildTimeout,omitempty"` // default: 10m

	// SyncTimeout bounds one Syncing stage.
	SyncTimeout Duration `yaml:"syncTimeout,omitempty"` // default: 15m

	// VerifyTimeout bounds one health verification stage. Zero means the
	// health window plus slack.
	VerifyTimeout Duration `yaml:"verifyTimeout,omitempty"`
}
