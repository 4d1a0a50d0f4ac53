package app

import (
	"fmt"
	"os"

	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gitsync/internal/cluster"
	"gitsync/internal/config"
	"gitsync/internal/events"
	"gitsync/internal/mcpserver"
	"gitsync/internal/reconciler"
	"gitsync/internal/source"
	"gitsync/pkg/logging"
)

// Services holds the components of a running server.
type Services struct {
	// Controller reconciles the registered applications
	Controller *reconciler.Controller

	// Server exposes the controller as MCP tools
	Server *mcpserver.Server

	// Bus carries lifecycle events to the log sink and the list_events tool
	Bus *events.Bus

	Clusters *cluster.Registry
	Metrics  *reconciler.Metrics
	Registry *prometheus.Registry
}

// InitializeServices builds every service from cfg.GitsyncConfig. The
// controller is registered as the process-wide SyncController so the MCP
// tools can reach it.
func InitializeServices(cfg *Config) (*Services, error) {
	gc := cfg.GitsyncConfig
	if gc == nil {
		return nil, fmt.Errorf("configuration not loaded")
	}

	clusters, err := buildClusters(gc.Clusters)
	if err != nil {
		return nil, err
	}
	logging.Info("Services", "Registered %d destination cluster(s): %v", len(clusters.Names()), clusters.Names())

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := reconciler.NewMetrics(registry)

	bus := events.NewBus(gc.Controller.EventHistory)
	bus.OnDrop(func(events.Event) { metrics.RecordEventDropped() })

	var watcher *source.Watcher
	if gc.Source.WatchDebounce > 0 {
		watcher = source.NewWatcher(gc.Source.WatchDebounce)
	}

	controller := reconciler.New(gc.ReconcilerConfig(), reconciler.Dependencies{
		Fetcher:  buildFetcher(gc.Source),
		Clusters: clusters,
		Events:   events.NewEventGenerator(bus),
		Watcher:  watcher,
		Metrics:  metrics,
	})
	controller.Register()

	server := mcpserver.New(mcpserver.Config{
		Host:           gc.Server.Host,
		Port:           gc.Server.Port,
		EndpointPath:   gc.Server.EndpointPath,
		MetricsPath:    gc.Server.MetricsPath,
		MetricsHandler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}),
		Version:        cfg.Version,
	}, bus)

	return &Services{
		Controller: controller,
		Server:     server,
		Bus:        bus,
		Clusters:   clusters,
		Metrics:    metrics,
		Registry:   registry,
	}, nil
}

// buildClusters creates a runtime for each configured destination.
func buildClusters(cfgs []config.ClusterConfig) (*cluster.Registry, error) {
	registry := cluster.NewRegistry()
	for _, c := range cfgs {
		switch c.EffectiveType() {
		case config.ClusterTypeMemory:
			registry.Register(c.Name, cluster.NewMemoryRuntime(c.Name))
		case config.ClusterTypeKubernetes:
			restCfg, err := cluster.RESTConfig(c.Kubeconfig, c.Context, c.InCluster)
			if err != nil {
				return nil, fmt.Errorf("cluster %s: %w", c.Name, err)
			}
			rt, err := cluster.NewKubernetesRuntime(c.Name, restCfg)
			if err != nil {
				return nil, fmt.Errorf("cluster %s: %w", c.Name, err)
			}
			registry.Register(c.Name, rt)
		default:
			return nil, fmt.Errorf("cluster %s: unsupported type %q", c.Name, c.Type)
		}
		logging.Debug("Services", "Cluster %s uses the %s runtime", c.Name, c.EffectiveType())
	}
	return registry, nil
}

// buildFetcher serves local paths from disk and everything else through
// git. Basic auth is used for remotes when a username is configured.
func buildFetcher(cfg config.SourceConfig) source.Fetcher {
	var opts []source.GitOption
	if cfg.Username != "" {
		password := ""
		if cfg.PasswordEnv != "" {
			password = os.Getenv(cfg.PasswordEnv)
			if password == "" {
				logging.Warn("Services", "Environment variable %s for git credentials is empty", cfg.PasswordEnv)
			}
		}
		opts = append(opts, source.WithAuth(&githttp.BasicAuth{Username: cfg.Username, Password: password}))
	}
	return source.NewMultiSource(source.NewDirSource(), source.NewGitSource(cfg.WorkDir, opts...))
}
