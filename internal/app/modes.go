package app

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"gitsync/internal/events"
	"gitsync/pkg/logging"
)

const defaultShutdownTimeout = 30 * time.Second

// runServer executes the server in the foreground until ctx is cancelled
// or SIGINT/SIGTERM is received.
//
// Startup order:
//   - the sync controller and its workers
//   - the applications from the configuration
//   - the event log sink
//   - the MCP listener
//
// Once the listener is up, systemd is told the service is ready when
// running under a Type=notify unit. Outside systemd the notification is a
// no-op.
func runServer(ctx context.Context, config *Config, services *Services) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := services.Controller.Start(ctx); err != nil {
		logging.Error("Server", err, "Failed to start sync controller")
		return fmt.Errorf("failed to start sync controller: %w", err)
	}

	registered := 0
	for _, app := range config.GitsyncConfig.Applications {
		if err := services.Controller.RegisterApplication(app); err != nil {
			logging.Error("Server", err, "Failed to register application %s", app.Name)
			continue
		}
		registered++
	}
	logging.Info("Server", "Registered %d of %d configured application(s)", registered, len(config.GitsyncConfig.Applications))

	go events.RunLogSink(ctx, services.Bus, config.GitsyncConfig.Controller.EventBuffer)

	if err := services.Server.Start(ctx); err != nil {
		_ = services.Controller.Stop()
		services.Bus.Close()
		return fmt.Errorf("failed to start MCP server: %w", err)
	}
	logging.Info("Server", "Serving MCP on http://%s%s", services.Server.Addr(), config.GitsyncConfig.Server.EndpointPath)

	notify(daemon.SdNotifyReady)

	<-ctx.Done()

	logging.Info("Server", "Shutting down")
	notify(daemon.SdNotifyStopping)

	timeout := config.GitsyncConfig.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var firstErr error
	if err := services.Server.Stop(shutdownCtx); err != nil {
		logging.Error("Server", err, "Error stopping MCP server")
		firstErr = err
	}
	if err := services.Controller.Stop(); err != nil && firstErr == nil {
		firstErr = err
	}
	services.Bus.Close()

	logging.Info("Server", "Shutdown complete")
	return firstErr
}

func notify(state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		logging.Warn("Server", "sd_notify %q failed: %v", state, err)
		return
	}
	if sent {
		logging.Debug("Server", "Notified systemd: %s", state)
	}
}
