package cli

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitsync/internal/formatting"
)

func TestCommandFlags_ToExecutorOptions_ValidatesFormat(t *testing.T) {
	tests := []struct {
		name         string
		outputFormat string
		want         formatting.OutputFormat
		wantErr      bool
	}{
		{name: "valid table format", outputFormat: "table", want: formatting.FormatTable},
		{name: "valid wide format", outputFormat: "wide", want: formatting.FormatWide},
		{name: "valid json format", outputFormat: "json", want: formatting.FormatJSON},
		{name: "valid yaml format", outputFormat: "yaml", want: formatting.FormatYAML},
		{name: "invalid format returns error", outputFormat: "invalid", wantErr: true},
		{name: "empty format returns error", outputFormat: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flags := &CommandFlags{OutputFormat: tt.outputFormat, Endpoint: "http://x/mcp", Quiet: true}
			opts, err := flags.ToExecutorOptions()
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "unsupported output format")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, opts.Format)
			assert.Equal(t, "http://x/mcp", opts.Endpoint)
			assert.True(t, opts.Quiet)
		})
	}
}

func TestRegisterCommonFlags(t *testing.T) {
	t.Setenv(EndpointEnvVar, "http://env:1/mcp")

	var flags CommandFlags
	cmd := &cobra.Command{Use: "test"}
	RegisterCommonFlags(cmd, &flags)

	require.NoError(t, cmd.PersistentFlags().Parse([]string{"-o", "json", "--no-headers"}))
	assert.Equal(t, "json", flags.OutputFormat)
	assert.True(t, flags.NoHeaders)
	assert.Equal(t, "http://env:1/mcp", flags.Endpoint)
	assert.NotEmpty(t, flags.ConfigPath)
}
