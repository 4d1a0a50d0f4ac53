package cmd

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"gitsync/internal/cli"
)

// Exit codes for CLI commands.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (command failed, invalid arguments).
	ExitCodeError = 1
	// ExitCodeUnreachable indicates the gitsync server could not be reached.
	ExitCodeUnreachable = 2
	// ExitCodeSyncFailed indicates a waited-for sync ended Failed or Degraded.
	ExitCodeSyncFailed = 3
)

// rootCmd represents the base command for the gitsync application.
var rootCmd = &cobra.Command{
	Use:   "gitsync",
	Short: "Keep Kubernetes clusters in sync with manifests in git",
	Long: `gitsync continuously reconciles applications, each a directory of
Kubernetes manifests in a git repository, against their destination
clusters. It detects drift, plans ordered create/update/delete actions and
reports sync history and health.

Run 'gitsync serve' to start the controller. The other commands talk to a
running server over its MCP endpoint.`,
	// SilenceUsage prevents Cobra from printing the usage message on errors that are handled by the application.
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
// This function is called by main.main().
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "gitsync version %s\n" .Version}}`)

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(getExitCode(err))
	}
}

// getExitCode determines the appropriate exit code based on the error type.
// This provides semantic exit codes for scripting and automation.
func getExitCode(err error) int {
	if err == nil {
		return ExitCodeSuccess
	}

	var connErr *cli.ConnectionError
	if errors.As(err, &connErr) {
		return ExitCodeUnreachable
	}

	var syncErr *cli.SyncFailedError
	if errors.As(err, &syncErr) {
		return ExitCodeSyncFailed
	}

	return ExitCodeError
}

func init() {
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newSelfUpdateCmd())
}
