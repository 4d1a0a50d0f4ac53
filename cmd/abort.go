package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"gitsync/internal/cli"
)

var abortFlags cli.CommandFlags

// abortCmd cancels the running sync operation
var abortCmd = &cobra.Command{
	Use:   "abort NAME",
	Short: "Abort the running sync of an application",
	Long: `Request cancellation of the sync operation currently running for an
application. Actions already applied are not reverted and the operation
ends Failed.`,
	Args: cobra.ExactArgs(1),
	RunE: runAbort,
}

func init() {
	rootCmd.AddCommand(abortCmd)
	cli.RegisterCommonFlags(abortCmd, &abortFlags)
}

func runAbort(cmd *cobra.Command, args []string) error {
	return runWithExecutor(cmd, &abortFlags, func(ctx context.Context, executor *cli.ToolExecutor) error {
		res, err := executor.Abort(ctx, args[0])
		if err != nil {
			return err
		}
		return executor.Printer().Message(res.Application, res.Message)
	})
}
