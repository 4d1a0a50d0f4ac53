package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"gitsync/internal/cli"
)

var (
	historyFlags cli.CommandFlags
	historyLimit int
)

// historyCmd lists past sync operations or shows a single one
var historyCmd = &cobra.Command{
	Use:   "history NAME [OPERATION_ID]",
	Short: "Show the sync history of an application",
	Long: `Without an operation ID, list the recorded sync operations of an
application, newest first. With an operation ID, show that operation and
every action it executed.

Examples:
  gitsync history guestbook
  gitsync history guestbook --limit 5
  gitsync history guestbook 3f1c9a2e-0d4b-4f7e-9a55-1b2c3d4e5f60`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	cli.RegisterCommonFlags(historyCmd, &historyFlags)
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum number of operations to list (0 for all)")
}

func runHistory(cmd *cobra.Command, args []string) error {
	return runWithExecutor(cmd, &historyFlags, func(ctx context.Context, executor *cli.ToolExecutor) error {
		if len(args) == 2 {
			op, err := executor.Operation(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			return executor.Printer().Operation(op)
		}

		ops, err := executor.History(ctx, args[0], historyLimit)
		if err != nil {
			return err
		}
		return executor.Printer().History(ops)
	})
}
