package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	dir := t.TempDir()

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 8484, cfg.Server.Port)
	assert.Equal(t, 3*time.Minute, cfg.Reconcile.Interval.Std())
	assert.Equal(t, 5, cfg.Reconcile.MaxAttempts)
	assert.Equal(t, 5*time.Minute, cfg.Health.Window.Std())
	assert.False(t, cfg.Reconcile.Prune, "prune must default to disabled")
}

func TestLoadConfig_PartialFileKeepsDefaults(t *testing.T) {
	dir := t.TempDir()
	content := `
server:
  port: 9999
reconcile:
  interval: 30s
build:
  scanPolicy:
    critical: block
    high: warn
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0644))

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Server.Host, "unset fields keep defaults")
	assert.Equal(t, 30*time.Second, cfg.Reconcile.Interval.Std())
	assert.Equal(t, ScanActionBlock, cfg.Build.ScanPolicy["critical"])
	assert.Equal(t, ScanActionWarn, cfg.Build.ScanPolicy["high"])
}

func TestLoadConfig_MalformedYAML(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("server: ["), 0644))

	_, err := LoadConfig(dir)
	assert.Error(t, err)
}

func TestLoadConfig_InvalidDuration(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("health:\n  window: sideways\n"), 0644))

	_, err := LoadConfig(dir)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "sideways")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "bad port",
			mutate:  func(c *Config) { c.Server.Port = -1 },
			wantErr: "server.port",
		},
		{
			name:    "unknown cluster mode",
			mutate:  func(c *Config) { c.Cluster.Mode = "simulation" },
			wantErr: "cluster.mode",
		},
		{
			name:    "bad scan action",
			mutate:  func(c *Config) { c.Build.ScanPolicy = map[string]ScanAction{"critical": "explode"} },
			wantErr: "build.scanPolicy.critical",
		},
		{
			name:    "prune without allow-list",
			mutate:  func(c *Config) { c.Reconcile.Prune = true },
			wantErr: "reconcile.pruneAllowKinds",
		},
		{
			name: "stability window exceeds health window",
			mutate: func(c *Config) {
				c.Health.StabilityWindow = c.Health.Window + 1
			},
			wantErr: "health.stabilityWindow",
		},
		{
			name:    "history too small for rollback",
			mutate:  func(c *Config) { c.Release.HistoryLimit = 1 },
			wantErr: "release.historyLimit",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GetDefaultConfig()
			applyDefaults(&cfg)
			tt.mutate(&cfg)

			err := Validate(cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}
