package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"gitsync/internal/cli"
)

var statusFlags cli.CommandFlags

// statusCmd shows the full status of one application
var statusCmd = &cobra.Command{
	Use:   "status NAME",
	Short: "Show the status of an application",
	Long: `Show the phase, health, revisions, last operation and per-resource state
of an application.

Examples:
  gitsync status guestbook
  gitsync status guestbook -o yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	cli.RegisterCommonFlags(statusCmd, &statusFlags)
}

func runStatus(cmd *cobra.Command, args []string) error {
	return runWithExecutor(cmd, &statusFlags, func(ctx context.Context, executor *cli.ToolExecutor) error {
		status, err := executor.Status(ctx, args[0])
		if err != nil {
			return err
		}
		return executor.Printer().Status(status)
	})
}
