package app

import (
	"context"
	"fmt"
	"io"
	"os"

	"gitsync/internal/config"
	"gitsync/pkg/logging"
)

// Application is the gitsync server process.
type Application struct {
	config   *Config
	services *Services
}

// NewApplication initializes logging, loads the configuration and builds
// all services. Nothing is started until Run.
func NewApplication(cfg *Config) (*Application, error) {
	var logOutput io.Writer = os.Stdout
	if cfg.Silent {
		logOutput = io.Discard
	}

	bootLevel := logging.LevelInfo
	if cfg.Debug {
		bootLevel = logging.LevelDebug
	}
	logging.InitForCLI(bootLevel, logOutput)

	if cfg.GitsyncConfig == nil {
		if cfg.ConfigPath == "" {
			cfg.ConfigPath = config.GetDefaultConfigPathOrPanic()
		}
		loaded, err := config.LoadConfig(cfg.ConfigPath)
		if err != nil {
			logging.Error("Bootstrap", err, "Failed to load configuration from %s", cfg.ConfigPath)
			return nil, fmt.Errorf("failed to load configuration from %s: %w", cfg.ConfigPath, err)
		}
		cfg.GitsyncConfig = &loaded
	}

	if err := initLogging(cfg, logOutput); err != nil {
		return nil, err
	}

	services, err := InitializeServices(cfg)
	if err != nil {
		logging.Error("Bootstrap", err, "Failed to initialize services")
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	return &Application{
		config:   cfg,
		services: services,
	}, nil
}

// initLogging switches to the level and format from the configuration
// file. --debug wins over the configured level.
func initLogging(cfg *Config, out io.Writer) error {
	level, err := logging.ParseLevel(cfg.GitsyncConfig.Logging.Level)
	if err != nil {
		return fmt.Errorf("invalid logging.level: %w", err)
	}
	if cfg.Debug {
		level = logging.LevelDebug
	}

	format := logging.FormatText
	if cfg.GitsyncConfig.Logging.Format == string(logging.FormatJSON) {
		format = logging.FormatJSON
	}
	logging.Init(level, format, out)
	return nil
}

// Services returns the wired services.
func (a *Application) Services() *Services {
	return a.services
}

// Run starts the server and blocks until ctx is cancelled or a termination
// signal arrives.
func (a *Application) Run(ctx context.Context) error {
	return runServer(ctx, a.config, a.services)
}
