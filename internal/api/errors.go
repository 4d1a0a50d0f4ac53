package api

import (
	"errors"
	"fmt"
	"strings"
)

// NotFoundError reports a missing application or operation.
type NotFoundError struct {
	// ResourceType is "application" or "operation".
	ResourceType string
	ResourceName string
}

// Error implements the error interface for NotFoundError.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.ResourceType, e.ResourceName)
}

// IsNotFound checks if an error is or wraps a NotFoundError.
//
// Example:
//
//	status, err := ctrl.GetStatus("guestbook")
//	if api.IsNotFound(err) {
//	    return fmt.Errorf("application is not registered")
//	}
func IsNotFound(err error) bool {
	var notFoundErr *NotFoundError
	return errors.As(err, &notFoundErr)
}

// NewApplicationNotFoundError creates the error returned for unknown application names.
func NewApplicationNotFoundError(name string) *NotFoundError {
	return &NotFoundError{ResourceType: "application", ResourceName: name}
}

// NewOperationNotFoundError creates the error returned for unknown operation IDs.
func NewOperationNotFoundError(id string) *NotFoundError {
	return &NotFoundError{ResourceType: "operation", ResourceName: id}
}

// ValidationError reports an invalid field in a request or definition.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// IsValidationError checks if an error is or wraps a ValidationError.
func IsValidationError(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

var (
	// ErrAlreadyRegistered is returned when an application name is taken.
	ErrAlreadyRegistered = errors.New("application already registered")

	// ErrTriggerQueueFull is returned when the bounded trigger channel cannot
	// accept another request. Callers may retry later.
	ErrTriggerQueueFull = errors.New("trigger queue is full")

	// ErrRollbackAutomated is returned by Rollback while automated sync is on,
	// since the next automated sync would undo it.
	ErrRollbackAutomated = errors.New("rollback is not allowed while automated sync is enabled")

	// ErrNoOperationInProgress is returned by AbortSync when nothing runs.
	ErrNoOperationInProgress = errors.New("no sync operation in progress")

	// ErrControllerStopped is returned once the controller has shut down.
	ErrControllerStopped = errors.New("sync controller is stopped")
)

// SourceReason classifies desired-state failures.
type SourceReason string

const (
	SourceUnavailable SourceReason = "SourceUnavailable"
	InvalidManifest   SourceReason = "InvalidManifest"
)

// ManifestError locates one malformed document.
type ManifestError struct {
	Path    string `json:"path"`
	Index   int    `json:"index"`
	Message string `json:"message"`
}

func (m ManifestError) String() string {
	return fmt.Sprintf("%s[%d]: %s", m.Path, m.Index, m.Message)
}

// SourceError is returned when desired state cannot be fetched or parsed.
type SourceError struct {
	Reason   SourceReason
	RepoURL  string
	Revision string
	Path     string

	// Manifests lists every malformed document for InvalidManifest.
	Manifests []ManifestError

	Err error
}

func (e *SourceError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", e.Reason, e.RepoURL)
	if e.Revision != "" {
		fmt.Fprintf(&b, "@%s", e.Revision)
	}
	if e.Path != "" {
		fmt.Fprintf(&b, " path %s", e.Path)
	}
	if len(e.Manifests) > 0 {
		parts := make([]string, len(e.Manifests))
		for i, m := range e.Manifests {
			parts[i] = m.String()
		}
		fmt.Fprintf(&b, ": %s", strings.Join(parts, "; "))
	} else if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *SourceError) Unwrap() error { return e.Err }

// IsSourceError checks if an error is or wraps a SourceError.
func IsSourceError(err error) bool {
	var s *SourceError
	return errors.As(err, &s)
}

// RuntimeReason classifies destination runtime failures.
type RuntimeReason string

const (
	RuntimeUnreachable      RuntimeReason = "Unreachable"
	RuntimeRateLimited      RuntimeReason = "RateLimited"
	RuntimeTimeout          RuntimeReason = "Timeout"
	RuntimeConflict         RuntimeReason = "Conflict"
	RuntimePermissionDenied RuntimeReason = "PermissionDenied"
	RuntimeRejected         RuntimeReason = "Rejected"
	RuntimeNotFound         RuntimeReason = "NotFound"
	RuntimeAlreadyExists    RuntimeReason = "AlreadyExists"
	RuntimeUnknownKind      RuntimeReason = "UnknownKind"
)

// IsTransient reports whether retrying can help.
func (r RuntimeReason) IsTransient() bool {
	switch r {
	case RuntimeUnreachable, RuntimeRateLimited, RuntimeTimeout, RuntimeConflict:
		return true
	default:
		return false
	}
}

// RuntimeError wraps a failure reported by a destination runtime.
type RuntimeError struct {
	Reason    RuntimeReason
	Transient bool
	Cluster   string
	Key       *ResourceKey
	Err       error
}

func NewRuntimeError(reason RuntimeReason, cluster string, key *ResourceKey, err error) *RuntimeError {
	return &RuntimeError{
		Reason:    reason,
		Transient: reason.IsTransient(),
		Cluster:   cluster,
		Key:       key,
		Err:       err,
	}
}

func (e *RuntimeError) Error() string {
	target := e.Cluster
	if e.Key != nil {
		target = e.Cluster + " " + e.Key.String()
	}
	if e.Err != nil {
		return fmt.Sprintf("runtime %s (%s): %v", e.Reason, target, e.Err)
	}
	return fmt.Sprintf("runtime %s (%s)", e.Reason, target)
}

func (e *RuntimeError) Unwrap() error { return e.Err }

// IsRuntimeError checks if an error is or wraps a RuntimeError.
func IsRuntimeError(err error) bool {
	var r *RuntimeError
	return errors.As(err, &r)
}

// IsRuntimeReason checks if err wraps a RuntimeError with the given reason.
func IsRuntimeReason(err error, reason RuntimeReason) bool {
	var r *RuntimeError
	return errors.As(err, &r) && r.Reason == reason
}

// PlanReason classifies planning failures.
type PlanReason string

const CyclicDependency PlanReason = "CyclicDependency"

// PlanError is returned when no valid action order exists.
type PlanError struct {
	Reason PlanReason
	// Cycle lists the resources involved, in dependency order when known.
	Cycle   []ResourceKey
	Message string
}

func (e *PlanError) Error() string {
	keys := make([]string, len(e.Cycle))
	for i, k := range e.Cycle {
		keys[i] = k.String()
	}
	msg := string(e.Reason)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if len(keys) > 0 {
		msg += " [" + strings.Join(keys, " -> ") + "]"
	}
	return msg
}

// IsPlanError checks if an error is or wraps a PlanError.
func IsPlanError(err error) bool {
	var p *PlanError
	return errors.As(err, &p)
}

// ActionError is the failure of a single action.
type ActionError struct {
	ActionID  int
	Type      ActionType
	Key       ResourceKey
	Transient bool
	Cause     error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("action #%d %s %s failed: %v", e.ActionID, e.Type, e.Key, e.Cause)
}

func (e *ActionError) Unwrap() error { return e.Cause }

// IsActionError checks if an error is or wraps an ActionError.
func IsActionError(err error) bool {
	var a *ActionError
	return errors.As(err, &a)
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	var a *ActionError
	if errors.As(err, &a) && a.Transient {
		return true
	}
	var r *RuntimeError
	return errors.As(err, &r) && r.Transient
}

// ErrorInfo is the serializable form of an error attached to records.
type ErrorInfo struct {
	// Type is one of action, plan, runtime, source, validation or internal.
	Type    string `json:"type"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message"`
}

func (e *ErrorInfo) DeepCopy() *ErrorInfo {
	if e == nil {
		return nil
	}
	c := *e
	return &c
}

func (e *ErrorInfo) Error() string {
	if e.Reason != "" {
		return e.Reason + ": " + e.Message
	}
	return e.Message
}

// Error types, from most to least specific.
const (
	ErrorTypeAction     = "action"
	ErrorTypePlan       = "plan"
	ErrorTypeRuntime    = "runtime"
	ErrorTypeSource     = "source"
	ErrorTypeValidation = "validation"
	ErrorTypeInternal   = "internal"
)

var errorTypeRank = map[string]int{
	ErrorTypeAction:     5,
	ErrorTypePlan:       4,
	ErrorTypeRuntime:    3,
	ErrorTypeSource:     2,
	ErrorTypeValidation: 1,
	ErrorTypeInternal:   0,
}

// ToErrorInfo converts err into an ErrorInfo, classified by the most specific
// taxonomy type it wraps.
func ToErrorInfo(err error) *ErrorInfo {
	if err == nil {
		return nil
	}
	var (
		actionErr  *ActionError
		planErr    *PlanError
		runtimeErr *RuntimeError
		sourceErr  *SourceError
		validErr   *ValidationError
		info       *ErrorInfo
	)
	switch {
	case errors.As(err, &info):
		return info.DeepCopy()
	case errors.As(err, &actionErr):
		reason := ""
		if errors.As(actionErr.Cause, &runtimeErr) {
			reason = string(runtimeErr.Reason)
		}
		return &ErrorInfo{Type: ErrorTypeAction, Reason: reason, Message: err.Error()}
	case errors.As(err, &planErr):
		return &ErrorInfo{Type: ErrorTypePlan, Reason: string(planErr.Reason), Message: err.Error()}
	case errors.As(err, &runtimeErr):
		return &ErrorInfo{Type: ErrorTypeRuntime, Reason: string(runtimeErr.Reason), Message: err.Error()}
	case errors.As(err, &sourceErr):
		return &ErrorInfo{Type: ErrorTypeSource, Reason: string(sourceErr.Reason), Message: err.Error()}
	case errors.As(err, &validErr):
		return &ErrorInfo{Type: ErrorTypeValidation, Reason: validErr.Field, Message: err.Error()}
	default:
		return &ErrorInfo{Type: ErrorTypeInternal, Message: err.Error()}
	}
}

// MostSpecific picks the highest ranked error (action > plan > runtime >
// source). Ties keep the first one. Nil entries are ignored.
func MostSpecific(infos ...*ErrorInfo) *ErrorInfo {
	var best *ErrorInfo
	for _, info := range infos {
		if info == nil {
			continue
		}
		if best == nil || errorTypeRank[info.Type] > errorTypeRank[best.Type] {
			best = info
		}
	}
	return best.DeepCopy()
}
