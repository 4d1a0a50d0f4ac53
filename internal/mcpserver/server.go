package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"gitsync/internal/events"
	"gitsync/pkg/logging"
)

const (
	// ServerName is announced to MCP clients during initialization.
	ServerName = "gitsync"

	// HealthPath answers 200 while the listener is up.
	HealthPath = "/healthz"
)

// Config holds the listener settings of the tool server.
type Config struct {
	Host         string
	Port         int
	EndpointPath string

	// MetricsPath and MetricsHandler are mounted on the same listener when
	// both are set.
	MetricsPath    string
	MetricsHandler http.Handler

	Version string
}

// Addr returns host:port of the listener.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, fmt.Sprintf("%d", c.Port))
}

// Server serves the sync controller tools over streamable HTTP.
type Server struct {
	cfg      Config
	bus      *events.Bus
	server   *server.MCPServer
	handlers map[string]toolHandler

	mu         sync.Mutex
	httpServer *http.Server
	listener   net.Listener
	done       chan struct{}
}

// New creates the tool server and registers every tool. bus may be nil, in
// which case list_events returns an empty list.
func New(cfg Config, bus *events.Bus) *Server {
	if cfg.EndpointPath == "" {
		cfg.EndpointPath = "/mcp"
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}

	mcpServer := server.NewMCPServer(
		ServerName,
		cfg.Version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)

	s := &Server{
		cfg:      cfg,
		bus:      bus,
		server:   mcpServer,
		handlers: make(map[string]toolHandler),
	}
	s.registerTools()
	return s
}

// MCPServer returns the underlying protocol server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.server
}

func (s *Server) addTool(tool mcp.Tool, handler toolHandler) {
	s.handlers[tool.Name] = handler
	s.server.AddTool(tool, server.ToolHandlerFunc(handler))
}

// ToolNames returns the names of the registered tools.
func (s *Server) ToolNames() []string {
	names := make([]string, 0, len(s.handlers))
	for name := range s.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Handler returns the HTTP handler with the MCP endpoint, the health
// endpoint and, when configured, the metrics endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	streamable := server.NewStreamableHTTPServer(s.server,
		server.WithEndpointPath(s.cfg.EndpointPath),
	)
	mux.Handle(s.cfg.EndpointPath, streamable)
	if s.cfg.MetricsPath != "" && s.cfg.MetricsHandler != nil {
		mux.Handle(s.cfg.MetricsPath, s.cfg.MetricsHandler)
	}
	mux.HandleFunc(HealthPath, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return mux
}

// Start binds the listener and serves in the background. Bind errors are
// returned synchronously.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.httpServer != nil {
		return fmt.Errorf("tool server already started")
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr(), err)
	}

	s.listener = ln
	s.done = make(chan struct{})
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	logging.Info("MCPServer", "Serving tools on http://%s%s", ln.Addr(), s.cfg.EndpointPath)
	if s.cfg.MetricsHandler != nil && s.cfg.MetricsPath != "" {
		logging.Info("MCPServer", "Serving metrics on http://%s%s", ln.Addr(), s.cfg.MetricsPath)
	}

	httpServer, done := s.httpServer, s.done
	go func() {
		defer close(done)
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("MCPServer", err, "HTTP server error")
		}
	}()
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop shuts the listener down, waiting for open requests until ctx is done.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	httpServer, done := s.httpServer, s.done
	s.httpServer = nil
	s.listener = nil
	s.mu.Unlock()

	if httpServer == nil {
		return nil
	}

	logging.Info("MCPServer", "Stopping tool server")
	if err := httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down tool server: %w", err)
	}
	<-done
	return nil
}
