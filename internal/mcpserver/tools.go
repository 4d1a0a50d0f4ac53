package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"gitsync/internal/api"
	"gitsync/internal/events"
	"gitsync/pkg/logging"
)

// Tool names, shared with the CLI client.
const (
	ToolListApplications  = "list_applications"
	ToolGetStatus         = "get_status"
	ToolListHistory       = "list_history"
	ToolGetOperation      = "get_operation"
	ToolTriggerSync       = "trigger_sync"
	ToolAbortSync         = "abort_sync"
	ToolRollback          = "rollback"
	ToolRefresh           = "refresh"
	ToolGetDiff           = "get_diff"
	ToolListEvents        = "list_events"
	ToolRemoveApplication = "remove_application"
)

// ActionResult is returned by the tools that only queue work.
type ActionResult struct {
	Application string `json:"application"`
	Accepted    bool   `json:"accepted"`
	Message     string `json:"message"`
}

type toolHandler func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)

func (s *Server) registerTools() {
	s.addTool(mcp.NewTool(ToolListApplications,
		mcp.WithDescription("List every registered application with its sync phase, revision and health"),
		mcp.WithReadOnlyHintAnnotation(true),
	), s.withController(s.handleListApplications))

	s.addTool(mcp.NewTool(ToolGetStatus,
		mcp.WithDescription("Get the status of one application, including per-resource diff and health"),
		mcp.WithString("name", mcp.Required(), mcp.Description("Application name")),
		mcp.WithReadOnlyHintAnnotation(true),
	), s.withController(s.handleGetStatus))

	s.addTool(mcp.NewTool(ToolListHistory,
		mcp.WithDescription("List past sync operations of an application, newest first"),
		mcp.WithString("name", mcp.Required(), mcp.Description("Application name")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of operations (default: all retained)")),
		mcp.WithReadOnlyHintAnnotation(true),
	), s.withController(s.handleListHistory))

	s.addTool(mcp.NewTool(ToolGetOperation,
		mcp.WithDescription("Get one sync operation with its actions"),
		mcp.WithString("name", mcp.Required(), mcp.Description("Application name")),
		mcp.WithString("operation_id", mcp.Required(), mcp.Description("Operation ID")),
		mcp.WithReadOnlyHintAnnotation(true),
	), s.withController(s.handleGetOperation))

	s.addTool(mcp.NewTool(ToolTriggerSync,
		mcp.WithDescription("Queue a manual sync of an application"),
		mcp.WithString("name", mcp.Required(), mcp.Description("Application name")),
		mcp.WithBoolean("prune", mcp.Description("Delete orphaned resources even if the policy does not prune")),
		mcp.WithBoolean("dry_run", mcp.Description("Plan and record actions without applying them")),
		mcp.WithString("revision", mcp.Description("Sync this revision instead of the target revision")),
	), s.withController(s.handleTriggerSync))

	s.addTool(mcp.NewTool(ToolAbortSync,
		mcp.WithDescription("Abort the running sync operation of an application"),
		mcp.WithString("name", mcp.Required(), mcp.Description("Application name")),
	), s.withController(s.handleAbortSync))

	s.addTool(mcp.NewTool(ToolRollback,
		mcp.WithDescription("Sync the revision recorded by a past operation"),
		mcp.WithString("name", mcp.Required(), mcp.Description("Application name")),
		mcp.WithString("operation_id", mcp.Required(), mcp.Description("ID of the operation to roll back to")),
	), s.withController(s.handleRollback))

	s.addTool(mcp.NewTool(ToolRefresh,
		mcp.WithDescription("Queue a compare of desired and live state"),
		mcp.WithString("name", mcp.Required(), mcp.Description("Application name")),
	), s.withController(s.handleRefresh))

	s.addTool(mcp.NewTool(ToolGetDiff,
		mcp.WithDescription("Get the resource diffs computed by the last compare"),
		mcp.WithString("name", mcp.Required(), mcp.Description("Application name")),
		mcp.WithReadOnlyHintAnnotation(true),
	), s.withController(s.handleGetDiff))

	s.addTool(mcp.NewTool(ToolListEvents,
		mcp.WithDescription("List recent controller events, newest first"),
		mcp.WithString("name", mcp.Description("Only events of this application")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of events (default: 50)")),
		mcp.WithReadOnlyHintAnnotation(true),
	), s.handleListEvents)

	s.addTool(mcp.NewTool(ToolRemoveApplication,
		mcp.WithDescription("Unregister an application"),
		mcp.WithString("name", mcp.Required(), mcp.Description("Application name")),
		mcp.WithString("policy",
			mcp.Description("orphan keeps live resources, cascade deletes them first"),
			mcp.Enum(string(api.TeardownOrphan), string(api.TeardownCascade)),
		),
		mcp.WithDestructiveHintAnnotation(true),
	), s.withController(s.handleRemoveApplication))
}

// withController resolves the registered controller for each call.
func (s *Server) withController(fn func(ctx context.Context, ctrl api.SyncController, request mcp.CallToolRequest) (*mcp.CallToolResult, error)) toolHandler {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ctrl := api.GetSyncController()
		if ctrl == nil {
			return mcp.NewToolResultError("sync controller is not available"), nil
		}
		return fn(ctx, ctrl, request)
	}
}

func (s *Server) handleListApplications(_ context.Context, ctrl api.SyncController, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(ctrl.ListApplications())
}

func (s *Server) handleGetStatus(_ context.Context, ctrl api.SyncController, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := request.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError("name argument is required"), nil
	}
	status, err := ctrl.GetStatus(name)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(status)
}

func (s *Server) handleListHistory(_ context.Context, ctrl api.SyncController, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := request.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError("name argument is required"), nil
	}
	history, err := ctrl.ListHistory(name, request.GetInt("limit", 0))
	if err != nil {
		return errorResult(err), nil
	}
	if history == nil {
		history = []api.SyncOperation{}
	}
	return jsonResult(history)
}

func (s *Server) handleGetOperation(_ context.Context, ctrl api.SyncController, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := request.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError("name argument is required"), nil
	}
	id, err := request.RequireString("operation_id")
	if err != nil {
		return mcp.NewToolResultError("operation_id argument is required"), nil
	}
	op, err := ctrl.GetOperation(name, id)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(op)
}

func (s *Server) handleTriggerSync(_ context.Context, ctrl api.SyncController, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := request.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError("name argument is required"), nil
	}
	opts := api.TriggerOptions{
		Prune:    request.GetBool("prune", false),
		DryRun:   request.GetBool("dry_run", false),
		Revision: request.GetString("revision", ""),
	}
	if err := ctrl.TriggerSync(name, opts); err != nil {
		return errorResult(err), nil
	}
	return jsonResult(ActionResult{Application: name, Accepted: true, Message: "sync queued"})
}

func (s *Server) handleAbortSync(_ context.Context, ctrl api.SyncController, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := request.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError("name argument is required"), nil
	}
	if err := ctrl.AbortSync(name); err != nil {
		return errorResult(err), nil
	}
	return jsonResult(ActionResult{Application: name, Accepted: true, Message: "abort requested"})
}

func (s *Server) handleRollback(_ context.Context, ctrl api.SyncController, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := request.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError("name argument is required"), nil
	}
	id, err := request.RequireString("operation_id")
	if err != nil {
		return mcp.NewToolResultError("operation_id argument is required"), nil
	}
	if err := ctrl.Rollback(name, id); err != nil {
		return errorResult(err), nil
	}
	return jsonResult(ActionResult{Application: name, Accepted: true, Message: "rollback to " + id + " queued"})
}

func (s *Server) handleRefresh(_ context.Context, ctrl api.SyncController, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := request.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError("name argument is required"), nil
	}
	if err := ctrl.Refresh(name); err != nil {
		return errorResult(err), nil
	}
	return jsonResult(ActionResult{Application: name, Accepted: true, Message: "refresh queued"})
}

func (s *Server) handleGetDiff(_ context.Context, ctrl api.SyncController, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := request.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError("name argument is required"), nil
	}
	diffs, err := ctrl.GetDiff(name)
	if err != nil {
		return errorResult(err), nil
	}
	if diffs == nil {
		diffs = []api.DiffSummary{}
	}
	return jsonResult(diffs)
}

func (s *Server) handleListEvents(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.bus == nil {
		return jsonResult([]events.Event{})
	}
	recent := s.bus.Recent(request.GetString("name", ""), request.GetInt("limit", 50))
	if recent == nil {
		recent = []events.Event{}
	}
	return jsonResult(recent)
}

func (s *Server) handleRemoveApplication(_ context.Context, ctrl api.SyncController, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := request.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError("name argument is required"), nil
	}
	policy, err := api.ParseTeardownPolicy(request.GetString("policy", string(api.TeardownOrphan)))
	if err != nil {
		return errorResult(err), nil
	}
	if err := ctrl.RemoveApplication(name, policy); err != nil {
		return errorResult(err), nil
	}
	return jsonResult(ActionResult{Application: name, Accepted: true, Message: fmt.Sprintf("application removed (%s)", policy)})
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to format result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// errorResult turns a controller error into a tool error. The first line
// carries a stable code the CLI maps to exit codes.
func errorResult(err error) *mcp.CallToolResult {
	code := errorCode(err)
	logging.Debug("MCPServer", "Tool call failed (%s): %v", code, err)
	return mcp.NewToolResultError(code + ": " + err.Error())
}

// Error codes prefixed to tool error messages.
const (
	CodeNotFound     = "NotFound"
	CodeInvalid      = "Invalid"
	CodeUnavailable  = "Unavailable"
	CodeConflict    = "Conflict"
	CodeInternal    = "Internal"
)

func errorCode(err error) string {
	switch {
	case api.IsNotFound(err):
		return CodeNotFound
	case api.IsValidationError(err):
		return CodeInvalid
	case errors.Is(err, api.ErrTriggerQueueFull), errors.Is(err, api.ErrControllerStopped):
		return CodeUnavailable
	case errors.Is(err, api.ErrAlreadyRegistered), errors.Is(err, api.ErrRollbackAutomated), errors.Is(err, api.ErrNoOperationInProgress):
		return CodeConflict
	default:
		return CodeInternal
	}
}
