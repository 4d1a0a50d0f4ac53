package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"gitsync/internal/cli"
)

var diffFlags cli.CommandFlags

// diffCmd shows the latest comparison result
var diffCmd = &cobra.Command{
	Use:   "diff NAME",
	Short: "Show how live resources differ from the source",
	Long: `Show the per-resource result of the latest comparison between the desired
state and the live cluster. Run 'gitsync refresh NAME' first to compare
against the current state.`,
	Args: cobra.ExactArgs(1),
	RunE: runDiff,
}

func init() {
	rootCmd.AddCommand(diffCmd)
	cli.RegisterCommonFlags(diffCmd, &diffFlags)
}

func runDiff(cmd *cobra.Command, args []string) error {
	return runWithExecutor(cmd, &diffFlags, func(ctx context.Context, executor *cli.ToolExecutor) error {
		diffs, err := executor.Diff(ctx, args[0])
		if err != nil {
			return err
		}
		return executor.Printer().Diff(diffs)
	})
}
