package cli

import (
	"github.com/spf13/cobra"

	"gitsync/internal/config"
	"gitsync/internal/formatting"
)

// CommandFlags holds the flag values shared by the commands that talk to a
// running server.
type CommandFlags struct {
	// OutputFormat specifies the desired output format (table, wide, json, yaml)
	OutputFormat string
	// NoHeaders suppresses the header row in table output
	NoHeaders bool
	// Quiet suppresses progress indicators and non-essential output
	Quiet bool
	// ConfigPath specifies a custom configuration directory path
	ConfigPath string
	// Endpoint overrides the server endpoint URL
	Endpoint string
}

// RegisterCommonFlags registers the flags used by every client command.
//
// The registered flags are:
//   - --output/-o: Output format (table, wide, json, yaml), default: "table"
//   - --no-headers: Suppress header row in table output
//   - --quiet/-q: Suppress non-essential output
//   - --config-path: Configuration directory
//   - --endpoint: gitsync server endpoint URL (env: GITSYNC_ENDPOINT)
func RegisterCommonFlags(cmd *cobra.Command, flags *CommandFlags) {
	cmd.PersistentFlags().StringVarP(&flags.OutputFormat, "output", "o", "table", "Output format (table, wide, json, yaml)")
	cmd.PersistentFlags().BoolVar(&flags.NoHeaders, "no-headers", false, "Suppress header row in table output")
	cmd.PersistentFlags().BoolVarP(&flags.Quiet, "quiet", "q", false, "Suppress non-essential output")
	cmd.PersistentFlags().StringVar(&flags.ConfigPath, "config-path", config.GetDefaultConfigPathOrPanic(), "Configuration directory")
	cmd.PersistentFlags().StringVar(&flags.Endpoint, "endpoint", GetDefaultEndpoint(), "gitsync server endpoint URL (env: GITSYNC_ENDPOINT)")
}

// ToExecutorOptions converts CommandFlags to ExecutorOptions for use with NewToolExecutor.
func (f *CommandFlags) ToExecutorOptions() (ExecutorOptions, error) {
	format, err := formatting.ParseFormat(f.OutputFormat)
	if err != nil {
		return ExecutorOptions{}, err
	}
	return ExecutorOptions{
		Format:     format,
		NoHeaders:  f.NoHeaders,
		Quiet:      f.Quiet,
		ConfigPath: f.ConfigPath,
		Endpoint:   f.Endpoint,
	}, nil
}
