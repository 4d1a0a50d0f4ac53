package app

import (
	"gitsync/internal/config"
)

// Config holds the application configuration
type Config struct {
	// Debug forces debug logging regardless of the configured level
	Debug bool

	// Silent discards all log output
	Silent bool

	// ConfigPath is the directory holding config.yaml and applications/
	ConfigPath string

	// Version is reported by the MCP server
	Version string

	// GitsyncConfig is loaded from ConfigPath when nil
	GitsyncConfig *config.GitsyncConfig
}

// NewConfig creates a new application configuration
func NewConfig(debug bool, configPath, version string) *Config {
	return &Config{
		Debug:      debug,
		ConfigPath: configPath,
		Version:    version,
	}
}
