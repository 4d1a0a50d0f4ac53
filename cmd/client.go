package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"gitsync/internal/cli"
)

// runWithExecutor connects to the server selected by flags, runs fn and
// closes the session again.
func runWithExecutor(cmd *cobra.Command, flags *cli.CommandFlags, fn func(ctx context.Context, executor *cli.ToolExecutor) error) error {
	opts, err := flags.ToExecutorOptions()
	if err != nil {
		return err
	}
	opts.Version = GetVersion()
	opts.Out = cmd.OutOrStdout()
	opts.ErrOut = cmd.ErrOrStderr()

	executor, err := cli.NewToolExecutor(opts)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := executor.Connect(ctx); err != nil {
		return err
	}
	defer executor.Close()

	return fn(ctx, executor)
}

// waitAndPrint blocks until the operation started after previousID ends and
// prints it. A zero timeout waits until ctx is cancelled.
func waitAndPrint(ctx context.Context, executor *cli.ToolExecutor, name, previousID string, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	op, err := executor.WaitForOperation(ctx, name, previousID)
	if op != nil {
		if printErr := executor.Printer().Operation(op); printErr != nil {
			return printErr
		}
	}
	return err
}
