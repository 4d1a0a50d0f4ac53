package config

import (
	"time"

	"gitsync/internal/api"
)

// GitsyncConfig is the top-level configuration structure for gitsync.
type GitsyncConfig struct {
	Server     ServerConfig     `yaml:"server"`
	Controller ControllerConfig `yaml:"controller"`
	Executor   ExecutorConfig   `yaml:"executor"`
	Source     SourceConfig     `yaml:"source"`
	Logging    LoggingConfig    `yaml:"logging"`

	// Clusters are the destinations applications can target.
	Clusters []ClusterConfig `yaml:"clusters"`

	// Applications registered at startup. More are read from
	// applications/*.yaml next to config.yaml.
	Applications []api.Application `yaml:"applications,omitempty"`
}

// ServerConfig configures the MCP endpoint and the metrics listener.
type ServerConfig struct {
	Host string `yaml:"host,omitempty"` // Host to bind to (default: localhost)
	Port int    `yaml:"port,omitempty"` // Port of the MCP endpoint (default: 8095)

	// EndpointPath is the path of the streamable HTTP MCP endpoint.
	EndpointPath string `yaml:"endpointPath,omitempty"`

	// MetricsPath serves Prometheus metrics on the same listener. Empty
	// disables it.
	MetricsPath string `yaml:"metricsPath,omitempty"`

	ShutdownTimeout time.Duration `yaml:"shutdownTimeout,omitempty"`
}

// ControllerConfig holds the settings of the sync controller.
type ControllerConfig struct {
	Workers         int           `yaml:"workers,omitempty"`
	TriggerBuffer   int           `yaml:"triggerBuffer,omitempty"`
	RefreshInterval time.Duration `yaml:"refreshInterval,omitempty"`
	MaxHistory      int           `yaml:"maxHistory,omitempty"`
	FetchTimeout    time.Duration `yaml:"fetchTimeout,omitempty"`

	// EventHistory is how many events the bus remembers for list queries.
	EventHistory int `yaml:"eventHistory,omitempty"`

	// EventBuffer is the channel size of the logging sink subscription.
	EventBuffer int `yaml:"eventBuffer,omitempty"`
}

// ExecutorConfig tunes plan execution.
type ExecutorConfig struct {
	MaxConcurrentActions int           `yaml:"maxConcurrentActions,omitempty"`
	MaxAttempts          int           `yaml:"maxAttempts,omitempty"`
	InitialBackoff       time.Duration `yaml:"initialBackoff,omitempty"`
	MaxBackoff           time.Duration `yaml:"maxBackoff,omitempty"`
	ActionTimeout        time.Duration `yaml:"actionTimeout,omitempty"`
	HealthTimeout        time.Duration `yaml:"healthTimeout,omitempty"`
	HealthInterval       time.Duration `yaml:"healthInterval,omitempty"`
}

// SourceConfig configures how desired state is fetched.
type SourceConfig struct {
	// WorkDir holds the clones of remote repositories.
	WorkDir string `yaml:"workDir,omitempty"`

	// WatchDebounce coalesces bursts of filesystem events of directory
	// sources. Zero disables watching.
	WatchDebounce time.Duration `yaml:"watchDebounce,omitempty"`

	// Username and PasswordEnv enable HTTP basic auth for git remotes. The
	// password is read from the named environment variable.
	Username    string `yaml:"username,omitempty"`
	PasswordEnv string `yaml:"passwordEnv,omitempty"`
}

// LoggingConfig selects the log level and format of serve.
type LoggingConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"`
}

// ClusterType selects the runtime behind a destination cluster.
type ClusterType string

const (
	// ClusterTypeKubernetes talks to an API server.
	ClusterTypeKubernetes ClusterType = "kubernetes"

	// ClusterTypeMemory keeps objects in process. Useful for demos and
	// dry runs of repository layouts.
	ClusterTypeMemory ClusterType = "memory"
)

// ClusterConfig defines one destination cluster.
type ClusterConfig struct {
	Name string      `yaml:"name"`
	Type ClusterType `yaml:"type,omitempty"`

	Kubeconfig string `yaml:"kubeconfig,omitempty"` // Path to a kubeconfig file (default: $KUBECONFIG or ~/.kube/config)
	Context    string `yaml:"context,omitempty"`    // Kubeconfig context (default: current context)
	InCluster  bool   `yaml:"inCluster,omitempty"`  // Use the service account of the pod
}
