package cmd

import (
	"errors"
	"os"

	"caravel/internal/cli"

	"github.com/spf13/cobra"
)

// Exit codes for CLI commands.
// These follow common conventions for scripting and automation.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (command failed, invalid arguments).
	ExitCodeError = 1
	// ExitCodeConnection indicates the caravel server could not be reached.
	ExitCodeConnection = 2
	// ExitCodeConflict indicates the unit's state rejected the request
	// (fatal unit, release in progress, no rollback target).
	ExitCodeConflict = 3
)

// endpoint is the caravel server every client command talks to.
var endpoint string

// rootCmd represents the base command for the caravel application.
// It is the entry point when the application is called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "caravel",
	Short: "Release orchestration with GitOps reconciliation and automatic rollback",
	Long: `caravel drives commits through build, scan, publish and manifest update,
then reconciles the declared state against the cluster and verifies the
workload's health. Revisions that fail verification are rolled back to the
last known-good revision automatically.`,
	// SilenceUsage prevents Cobra from printing the usage message on errors
	// that are handled by the application.
	SilenceUsage: true,
}

// SetVersion sets the version for the root command.
// This function is typically called from the main package to inject the application version at build time.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the current version of the application.
func GetVersion() string {
	return rootCmd.Version
}

// Execute is the main entry point for the CLI application.
// It initializes and executes the root command, which in turn handles subcommands and flags.
// This function is called by main.main().
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "caravel version %s\n" .Version}}`)

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(getExitCode(err))
	}
}

// getExitCode determines the appropriate exit code based on the error type.
// This provides semantic exit codes for scripting and automation.
func getExitCode(err error) int {
	var connErr *cli.ConnectionError
	if errors.As(err, &connErr) {
		return ExitCodeConnection
	}

	var apiErr *cli.APIError
	if errors.As(err, &apiErr) && apiErr.Conflict() {
		return ExitCodeConflict
	}

	return ExitCodeError
}

// newClient builds the API client for the configured endpoint.
func newClient() *cli.Client {
	return cli.NewClient(endpoint)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&endpoint, "endpoint", "http://localhost:8484", "Address of the caravel server")

	rootCmd.AddCommand(newVersionCmd())
}
