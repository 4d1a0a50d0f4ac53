package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"gitsync/internal/cli"
)

var (
	rollbackFlags   cli.CommandFlags
	rollbackWait    bool
	rollbackTimeout time.Duration
)

// rollbackCmd re-syncs the revision of an earlier operation
var rollbackCmd = &cobra.Command{
	Use:   "rollback NAME OPERATION_ID",
	Short: "Roll an application back to the revision of a past operation",
	Long: `Queue a sync to the revision recorded by an earlier sync operation.
Rollback is refused while automated sync is enabled, since the controller
would move the application forward again.

Use 'gitsync history NAME' to find operation IDs.`,
	Args: cobra.ExactArgs(2),
	RunE: runRollback,
}

func init() {
	rootCmd.AddCommand(rollbackCmd)
	cli.RegisterCommonFlags(rollbackCmd, &rollbackFlags)
	rollbackCmd.Flags().BoolVar(&rollbackWait, "wait", false, "Wait for the operation to finish")
	rollbackCmd.Flags().DurationVar(&rollbackTimeout, "timeout", 10*time.Minute, "Maximum time to wait with --wait (0 waits forever)")
}

func runRollback(cmd *cobra.Command, args []string) error {
	name, operationID := args[0], args[1]
	return runWithExecutor(cmd, &rollbackFlags, func(ctx context.Context, executor *cli.ToolExecutor) error {
		var previous string
		if rollbackWait {
			id, err := executor.LastOperationID(ctx, name)
			if err != nil {
				return err
			}
			previous = id
		}

		res, err := executor.Rollback(ctx, name, operationID)
		if err != nil {
			return err
		}
		if !rollbackWait {
			return executor.Printer().Message(res.Application, res.Message)
		}
		return waitAndPrint(ctx, executor, name, previous, rollbackTimeout)
	})
}
