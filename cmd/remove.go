package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"gitsync/internal/api"
	"gitsync/internal/cli"
)

var (
	removeFlags  cli.CommandFlags
	removePolicy string
)

// removeCmd unregisters an application
var removeCmd = &cobra.Command{
	Use:     "remove NAME",
	Aliases: []string{"rm"},
	Short:   "Unregister an application",
	Long: `Unregister an application from the controller.

With --policy Orphan (the default) live resources are left in place. With
--policy Cascade every tracked resource is deleted first, in reverse
dependency order; the application stays registered if that fails.`,
	Args: cobra.ExactArgs(1),
	RunE: runRemove,
}

func init() {
	rootCmd.AddCommand(removeCmd)
	cli.RegisterCommonFlags(removeCmd, &removeFlags)
	removeCmd.Flags().StringVar(&removePolicy, "policy", string(api.TeardownOrphan), "Teardown policy (Orphan, Cascade)")
}

func runRemove(cmd *cobra.Command, args []string) error {
	policy, err := api.ParseTeardownPolicy(removePolicy)
	if err != nil {
		return err
	}
	return runWithExecutor(cmd, &removeFlags, func(ctx context.Context, executor *cli.ToolExecutor) error {
		res, err := executor.Remove(ctx, args[0], policy)
		if err != nil {
			return err
		}
		return executor.Printer().Message(res.Application, res.Message)
	})
}
