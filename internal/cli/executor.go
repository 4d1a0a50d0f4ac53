package cli

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/briandowns/spinner"
	"github.com/jedib0t/go-pretty/v6/text"

	"gitsync/internal/api"
	"gitsync/internal/config"
	"gitsync/internal/events"
	"gitsync/internal/formatting"
	"gitsync/internal/mcpserver"
)

// EndpointEnvVar is the environment variable name for setting the default endpoint.
const EndpointEnvVar = "GITSYNC_ENDPOINT"

// DefaultPollInterval is how often waits poll the application status.
const DefaultPollInterval = 500 * time.Millisecond

// GetDefaultEndpoint returns the endpoint from environment variable if set.
func GetDefaultEndpoint() string {
	return os.Getenv(EndpointEnvVar)
}

// ExecutorOptions contains configuration options for tool execution.
type ExecutorOptions struct {
	// Format specifies the desired output format (table, wide, json, yaml)
	Format formatting.OutputFormat
	// NoHeaders suppresses the header row in table output
	NoHeaders bool
	// Quiet suppresses progress indicators and non-essential output
	Quiet bool
	// ConfigPath is used to derive the endpoint when none is given
	ConfigPath string
	// Endpoint overrides the server endpoint URL
	Endpoint string
	// Version is announced to the server
	Version string

	// Out and ErrOut default to stdout and stderr.
	Out    io.Writer
	ErrOut io.Writer

	// PollInterval overrides DefaultPollInterval.
	PollInterval time.Duration
}

// ToolExecutor runs gitsync tools against a server and prints the results.
type ToolExecutor struct {
	client  *Client
	options ExecutorOptions
	printer *formatting.Printer
}

// NewToolExecutor resolves the endpoint and prepares the client. It does
// not connect.
func NewToolExecutor(options ExecutorOptions) (*ToolExecutor, error) {
	if options.Out == nil {
		options.Out = os.Stdout
	}
	if options.ErrOut == nil {
		options.ErrOut = os.Stderr
	}
	if options.PollInterval <= 0 {
		options.PollInterval = DefaultPollInterval
	}

	endpoint, err := ResolveEndpoint(options.Endpoint, options.ConfigPath)
	if err != nil {
		return nil, err
	}

	return &ToolExecutor{
		client:  NewClient(endpoint, options.Version),
		options: options,
		printer: formatting.NewPrinter(options.Out, formatting.Options{
			Format:    options.Format,
			NoHeaders: options.NoHeaders,
			Color:     isTerminal(options.Out),
		}),
	}, nil
}

// ResolveEndpoint picks the endpoint in this order: explicit value, the
// GITSYNC_ENDPOINT variable, then the server section of the configuration.
func ResolveEndpoint(explicit, configPath string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if env := GetDefaultEndpoint(); env != "" {
		return env, nil
	}

	cfg := config.GetDefaultConfig()
	if configPath != "" {
		loaded, err := config.LoadConfig(configPath)
		if err != nil {
			return "", fmt.Errorf("cannot derive server endpoint from configuration: %w", err)
		}
		cfg = loaded
	}
	return EndpointFromConfig(cfg.Server), nil
}

// EndpointFromConfig builds the local URL of a server configuration.
// Wildcard listen addresses are dialed on localhost.
func EndpointFromConfig(s config.ServerConfig) string {
	host := s.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(s.Port)) + s.EndpointPath
}

// Endpoint returns the resolved server URL.
func (e *ToolExecutor) Endpoint() string {
	return e.client.Endpoint()
}

// Printer returns the printer used for output.
func (e *ToolExecutor) Printer() *formatting.Printer {
	return e.printer
}

// Connect establishes the MCP session, showing a spinner unless quiet.
func (e *ToolExecutor) Connect(ctx context.Context) error {
	s := e.startSpinner(" Connecting to gitsync server...")
	err := e.client.Connect(ctx)
	if s != nil {
		if err != nil {
			s.FinalMSG = text.FgRed.Sprint("Failed to connect to gitsync server") + "\n"
		}
		s.Stop()
	}
	return err
}

// Close gracefully closes the connection to the server.
func (e *ToolExecutor) Close() error {
	return e.client.Close()
}

func (e *ToolExecutor) startSpinner(suffix string) *spinner.Spinner {
	if e.options.Quiet || !isTerminal(e.options.ErrOut) {
		return nil
	}
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(e.options.ErrOut))
	s.Suffix = suffix
	s.Start()
	return s
}

// Applications lists every application.
func (e *ToolExecutor) Applications(ctx context.Context) ([]api.AppStatus, error) {
	var apps []api.AppStatus
	err := e.client.CallToolJSON(ctx, mcpserver.ToolListApplications, nil, &apps)
	return apps, err
}

// Status returns the status of one application.
func (e *ToolExecutor) Status(ctx context.Context, name string) (*api.AppStatus, error) {
	var status api.AppStatus
	if err := e.client.CallToolJSON(ctx, mcpserver.ToolGetStatus, map[string]interface{}{"name": name}, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// History returns past operations, newest first.
func (e *ToolExecutor) History(ctx context.Context, name string, limit int) ([]api.SyncOperation, error) {
	args := map[string]interface{}{"name": name}
	if limit > 0 {
		args["limit"] = limit
	}
	var ops []api.SyncOperation
	err := e.client.CallToolJSON(ctx, mcpserver.ToolListHistory, args, &ops)
	return ops, err
}

// Operation returns one operation.
func (e *ToolExecutor) Operation(ctx context.Context, name, id string) (*api.SyncOperation, error) {
	var op api.SyncOperation
	if err := e.client.CallToolJSON(ctx, mcpserver.ToolGetOperation, map[string]interface{}{"name": name, "operation_id": id}, &op); err != nil {
		return nil, err
	}
	return &op, nil
}

// Diff returns the resource diffs of the last compare.
func (e *ToolExecutor) Diff(ctx context.Context, name string) ([]api.DiffSummary, error) {
	var diffs []api.DiffSummary
	err := e.client.CallToolJSON(ctx, mcpserver.ToolGetDiff, map[string]interface{}{"name": name}, &diffs)
	return diffs, err
}

// Events returns recent events, optionally of one application.
func (e *ToolExecutor) Events(ctx context.Context, name string, limit int) ([]events.Event, error) {
	args := map[string]interface{}{}
	if name != "" {
		args["name"] = name
	}
	if limit > 0 {
		args["limit"] = limit
	}
	var evs []events.Event
	err := e.client.CallToolJSON(ctx, mcpserver.ToolListEvents, args, &evs)
	return evs, err
}

// TriggerSync queues a manual sync.
func (e *ToolExecutor) TriggerSync(ctx context.Context, name string, opts api.TriggerOptions) (*mcpserver.ActionResult, error) {
	args := map[string]interface{}{
		"name":    name,
		"prune":   opts.Prune,
		"dry_run": opts.DryRun,
	}
	if opts.Revision != "" {
		args["revision"] = opts.Revision
	}
	return e.action(ctx, mcpserver.ToolTriggerSync, args)
}

// Abort stops dispatching the running operation.
func (e *ToolExecutor) Abort(ctx context.Context, name string) (*mcpserver.ActionResult, error) {
	return e.action(ctx, mcpserver.ToolAbortSync, map[string]interface{}{"name": name})
}

// Rollback queues a sync of the revision of a past operation.
func (e *ToolExecutor) Rollback(ctx context.Context, name, operationID string) (*mcpserver.ActionResult, error) {
	return e.action(ctx, mcpserver.ToolRollback, map[string]interface{}{"name": name, "operation_id": operationID})
}

// Refresh queues a compare.
func (e *ToolExecutor) Refresh(ctx context.Context, name string) (*mcpserver.ActionResult, error) {
	return e.action(ctx, mcpserver.ToolRefresh, map[string]interface{}{"name": name})
}

// Remove unregisters an application.
func (e *ToolExecutor) Remove(ctx context.Context, name string, policy api.TeardownPolicy) (*mcpserver.ActionResult, error) {
	return e.action(ctx, mcpserver.ToolRemoveApplication, map[string]interface{}{"name": name, "policy": string(policy)})
}

func (e *ToolExecutor) action(ctx context.Context, tool string, args map[string]interface{}) (*mcpserver.ActionResult, error) {
	var res mcpserver.ActionResult
	if err := e.client.CallToolJSON(ctx, tool, args, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// LastOperationID returns the ID of the newest operation of an application,
// or "" when none ran yet. Take it before triggering work to wait for.
func (e *ToolExecutor) LastOperationID(ctx context.Context, name string) (string, error) {
	status, err := e.Status(ctx, name)
	if err != nil {
		return "", err
	}
	if status.LastSyncOperation == nil {
		return "", nil
	}
	return status.LastSyncOperation.ID, nil
}

// WaitForOperation polls until an operation newer than previousID has
// finished and returns it. A Failed or Degraded operation is returned
// together with a *SyncFailedError.
func (e *ToolExecutor) WaitForOperation(ctx context.Context, name, previousID string) (*api.SyncOperation, error) {
	s := e.startSpinner(" Waiting for sync of " + name + "...")
	stop := func() {
		if s != nil {
			s.Stop()
		}
	}
	defer stop()

	ticker := time.NewTicker(e.options.PollInterval)
	defer ticker.Stop()

	for {
		status, err := e.Status(ctx, name)
		if err != nil {
			return nil, err
		}
		if op := status.LastSyncOperation; op != nil && op.ID != previousID {
			if s != nil {
				s.Suffix = fmt.Sprintf(" Sync %s of %s: %s", op.ID, name, op.Status)
			}
			if op.Status.IsTerminal() {
				final, err := e.Operation(ctx, name, op.ID)
				if err != nil {
					return nil, err
				}
				if final.Status == api.OperationFailed || final.Status == api.OperationDegraded {
					return final, &SyncFailedError{Application: name, Operation: final}
				}
				return final, nil
			}
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("gave up waiting for sync of %s: %w", name, ctx.Err())
		case <-ticker.C:
		}
	}
}

// isTerminal reports whether w is a character device, used to decide on
// spinners and colors.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
