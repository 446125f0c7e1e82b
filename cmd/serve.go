package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"caravel/internal/app"
	"caravel/pkg/logging"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"
)

// serveDebug enables verbose logging across the application.
var serveDebug bool

// serveSilent suppresses all log output. Useful for scripted runs.
var serveSilent bool

// serveConfigPath specifies a custom configuration directory path.
// When set, config.yaml is loaded from this directory instead of the
// default user config directory.
var serveConfigPath string

// serveCmd defines the serve command structure.
// This is the main command of caravel: it starts the manifest store, the
// reconciler, the release coordinator and the HTTP API.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the caravel server",
	Long: `Starts the caravel server: the manifest store watcher, the GitOps
reconciler, the health verifier, the release coordinator and the HTTP API
that webhooks and the other caravel commands talk to.

The server runs until interrupted (Ctrl+C or SIGTERM) and shuts down
gracefully, draining in-flight requests.

Configuration:
  caravel loads config.yaml from ~/.config/caravel by default. A missing
  file is not an error; built-in defaults apply. Use --config-path to load
  from a different directory.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

// runServe is the main entry point for the serve command.
func runServe(cmd *cobra.Command, args []string) error {
	application, err := app.New(app.Options{
		ConfigPath: serveConfigPath,
		Debug:      serveDebug,
		Silent:     serveSilent,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Tell systemd we are up. A no-op outside a systemd unit.
	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		logging.Warn("Serve", "systemd ready notification failed: %v", err)
	} else if sent {
		logging.Debug("Serve", "Notified systemd that caravel is ready")
	}
	defer func() {
		_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	}()

	return application.Run(ctx)
}

// init registers the serve command and its flags with the root command.
func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&serveDebug, "debug", false, "Enable debug logging")
	serveCmd.Flags().BoolVar(&serveSilent, "silent", false, "Suppress all log output")
	serveCmd.Flags().StringVar(&serveConfigPath, "config-path", "", "Custom configuration directory path")
}
