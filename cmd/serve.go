package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"gitsync/internal/app"
	"gitsync/internal/config"
)

// serveDebug enables verbose logging across the application.
var serveDebug bool

// serveConfigPath is the directory holding config.yaml and applications/.
var serveConfigPath string

// serveCmd starts the sync controller and its MCP endpoint.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sync controller",
	Long: `Starts the gitsync controller in the foreground.

The controller loads its configuration, connects to the configured
destination clusters, registers the configured applications and keeps them
reconciled until interrupted with SIGINT or SIGTERM. Client commands such as
'gitsync apps' and 'gitsync sync' talk to it over the MCP endpoint it serves.

Configuration:
  The --config-path directory may contain:
  - config.yaml (server, controller, executor, source, logging, clusters)
  - applications/ (one application definition per YAML file)

  A missing config.yaml yields the defaults: MCP on localhost:8095/mcp,
  metrics on /metrics and a single Kubernetes destination named
  in-cluster using the current kubeconfig context.

Under a systemd Type=notify unit the server reports readiness once the
endpoint is listening.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

// runServe is the main entry point for the serve command
func runServe(cmd *cobra.Command, args []string) error {
	cfg := app.NewConfig(serveDebug, serveConfigPath, GetVersion())

	application, err := app.NewApplication(cfg)
	if err != nil {
		var configErrs *config.ConfigurationErrorCollection
		if errors.As(err, &configErrs) && configErrs.Count() > 1 {
			fmt.Fprintln(cmd.ErrOrStderr(), configErrs.Report())
		}
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return application.Run(ctx)
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&serveDebug, "debug", false, "Enable debug logging")
	serveCmd.Flags().StringVar(&serveConfigPath, "config-path", config.GetDefaultConfigPathOrPanic(), "Configuration directory")
}
