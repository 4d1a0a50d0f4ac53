package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"gitsync/internal/cli"
)

var (
	eventsFlags cli.CommandFlags
	eventsLimit int
)

// eventsCmd lists recent lifecycle events
var eventsCmd = &cobra.Command{
	Use:   "events [NAME]",
	Short: "List recent controller events",
	Long: `List the most recent lifecycle events kept by the controller: phase
changes, sync operations and their actions, registration and removal.
Pass an application name to only show its events.

Examples:
  gitsync events
  gitsync events guestbook --limit 20`,
	Args: cobra.MaximumNArgs(1),
	RunE: runEvents,
}

func init() {
	rootCmd.AddCommand(eventsCmd)
	cli.RegisterCommonFlags(eventsCmd, &eventsFlags)
	eventsCmd.Flags().IntVar(&eventsLimit, "limit", 50, "Limit number of events returned")
}

func runEvents(cmd *cobra.Command, args []string) error {
	var name string
	if len(args) == 1 {
		name = args[0]
	}
	return runWithExecutor(cmd, &eventsFlags, func(ctx context.Context, executor *cli.ToolExecutor) error {
		evs, err := executor.Events(ctx, name, eventsLimit)
		if err != nil {
			return err
		}
		return executor.Printer().Events(evs)
	})
}
