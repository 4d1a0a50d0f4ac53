package config

import (
	"time"

	"gitsync/internal/executor"
	"gitsync/internal/reconciler"
)

const (
	// DefaultPort is the port of the MCP endpoint.
	DefaultPort = 8095

	// DefaultEndpointPath is the path of the streamable HTTP endpoint.
	DefaultEndpointPath = "/mcp"

	// DefaultMetricsPath is where Prometheus metrics are served.
	DefaultMetricsPath = "/metrics"

	// DefaultClusterName is the destination created when none is configured.
	DefaultClusterName = "in-cluster"
)

// GetDefaultConfig returns the default configuration. It registers a single
// Kubernetes destination that uses the current kubeconfig context.
func GetDefaultConfig() GitsyncConfig {
	exec := executor.DefaultOptions()
	return GitsyncConfig{
		Server: ServerConfig{
			Host:            "localhost",
			Port:            DefaultPort,
			EndpointPath:    DefaultEndpointPath,
			MetricsPath:     DefaultMetricsPath,
			ShutdownTimeout: 30 * time.Second,
		},
		Controller: ControllerConfig{
			Workers:         reconciler.DefaultWorkers,
			TriggerBuffer:   reconciler.DefaultTriggerBuffer,
			RefreshInterval: reconciler.DefaultRefreshInterval,
			MaxHistory:      reconciler.DefaultMaxHistory,
			FetchTimeout:    reconciler.DefaultFetchTimeout,
			EventHistory:    500,
			EventBuffer:     256,
		},
		Executor: ExecutorConfig{
			MaxConcurrentActions: exec.MaxConcurrentActions,
			MaxAttempts:          exec.MaxAttempts,
			InitialBackoff:       exec.InitialBackoff,
			MaxBackoff:           exec.MaxBackoff,
			ActionTimeout:        exec.ActionTimeout,
			HealthTimeout:        exec.HealthTimeout,
			HealthInterval:       exec.HealthInterval,
		},
		Source: SourceConfig{
			WatchDebounce: 500 * time.Millisecond,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Clusters: []ClusterConfig{
			{Name: DefaultClusterName, Type: ClusterTypeKubernetes},
		},
	}
}

// ExecutorOptions converts the executor settings.
func (c ExecutorConfig) ExecutorOptions() executor.Options {
	return executor.Options{
		MaxConcurrentActions: c.MaxConcurrentActions,
		MaxAttempts:          c.MaxAttempts,
		InitialBackoff:       c.InitialBackoff,
		MaxBackoff:           c.MaxBackoff,
		ActionTimeout:        c.ActionTimeout,
		HealthTimeout:        c.HealthTimeout,
		HealthInterval:       c.HealthInterval,
	}
}

// ReconcilerConfig converts the controller settings.
func (c GitsyncConfig) ReconcilerConfig() reconciler.Config {
	return reconciler.Config{
		Workers:         c.Controller.Workers,
		TriggerBuffer:   c.Controller.TriggerBuffer,
		RefreshInterval: c.Controller.RefreshInterval,
		MaxHistory:      c.Controller.MaxHistory,
		FetchTimeout:    c.Controller.FetchTimeout,
		Executor:        c.Executor.ExecutorOptions(),
	}
}
