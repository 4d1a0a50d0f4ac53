package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"gitsync/internal/cli"
)

var appsFlags cli.CommandFlags

// appsCmd lists the registered applications
var appsCmd = &cobra.Command{
	Use:     "apps",
	Aliases: []string{"applications", "ls"},
	Short:   "List registered applications",
	Long: `List every application registered with the running controller together
with its phase, health and last synced revision.

Examples:
  gitsync apps
  gitsync apps -o wide
  gitsync apps -o json`,
	Args: cobra.NoArgs,
	RunE: runApps,
}

func init() {
	rootCmd.AddCommand(appsCmd)
	cli.RegisterCommonFlags(appsCmd, &appsFlags)
}

func runApps(cmd *cobra.Command, args []string) error {
	return runWithExecutor(cmd, &appsFlags, func(ctx context.Context, executor *cli.ToolExecutor) error {
		apps, err := executor.Applications(ctx)
		if err != nil {
			return err
		}
		return executor.Printer().Applications(apps)
	})
}
