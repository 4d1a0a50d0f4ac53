package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"gitsync/internal/api"
	"gitsync/internal/cli"
)

var (
	syncFlags    cli.CommandFlags
	syncPrune    bool
	syncDryRun   bool
	syncRevision string
	syncWait     bool
	syncTimeout  time.Duration
)

// syncCmd requests a sync operation
var syncCmd = &cobra.Command{
	Use:   "sync NAME",
	Short: "Sync an application with its source",
	Long: `Queue a sync operation for an application. The controller fetches the
desired state, plans the required actions and applies them in dependency
order.

Deleting resources that left the source only happens with --prune or when
the application's sync policy allows pruning. --dry-run records the plan
without touching the cluster.

With --wait the command blocks until the operation ends and exits with
code 3 when it ends Failed or Degraded.

Examples:
  gitsync sync guestbook
  gitsync sync guestbook --prune --wait
  gitsync sync guestbook --revision v1.4.0 --dry-run --wait`,
	Args: cobra.ExactArgs(1),
	RunE: runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)
	cli.RegisterCommonFlags(syncCmd, &syncFlags)
	syncCmd.Flags().BoolVar(&syncPrune, "prune", false, "Delete tracked resources that are no longer in the source")
	syncCmd.Flags().BoolVar(&syncDryRun, "dry-run", false, "Plan and record the operation without applying it")
	syncCmd.Flags().StringVar(&syncRevision, "revision", "", "Sync this revision instead of the target revision")
	syncCmd.Flags().BoolVar(&syncWait, "wait", false, "Wait for the operation to finish")
	syncCmd.Flags().DurationVar(&syncTimeout, "timeout", 10*time.Minute, "Maximum time to wait with --wait (0 waits forever)")
}

func runSync(cmd *cobra.Command, args []string) error {
	name := args[0]
	return runWithExecutor(cmd, &syncFlags, func(ctx context.Context, executor *cli.ToolExecutor) error {
		var previous string
		if syncWait {
			id, err := executor.LastOperationID(ctx, name)
			if err != nil {
				return err
			}
			previous = id
		}

		res, err := executor.TriggerSync(ctx, name, api.TriggerOptions{
			Prune:    syncPrune,
			DryRun:   syncDryRun,
			Revision: syncRevision,
		})
		if err != nil {
			return err
		}
		if !syncWait {
			return executor.Printer().Message(res.Application, res.Message)
		}
		return waitAndPrint(ctx, executor, name, previous, syncTimeout)
	})
}
