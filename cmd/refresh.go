package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"gitsync/internal/cli"
)

var refreshFlags cli.CommandFlags

var refreshCmd = &cobra.Command{
	Use:   "refresh NAME",
	Short: "Compare an application against its source now",
	Args:  cobra.ExactArgs(1),
	RunE:  runRefresh,
}

func init() {
	rootCmd.AddCommand(refreshCmd)
	cli.RegisterCommonFlags(refreshCmd, &refreshFlags)
}

func runRefresh(cmd *cobra.Command, args []string) error {
	return runWithExecutor(cmd, &refreshFlags, func(ctx context.Context, executor *cli.ToolExecutor) error {
		res, err := executor.Refresh(ctx, args[0])
		if err != nil {
			return err
		}
		return executor.Printer().Message(res.Application, res.Message)
	})
}
