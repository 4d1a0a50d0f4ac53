package cli

import (
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"gitsync/internal/api"
)

// ConnectionErrorType categorizes the type of connection error.
type ConnectionErrorType int

const (
	// ConnectionErrorUnknown indicates an unclassified connection error.
	ConnectionErrorUnknown ConnectionErrorType = iota
	// ConnectionErrorTLS indicates a TLS/certificate verification error.
	ConnectionErrorTLS
	// ConnectionErrorNetwork indicates a network connectivity error (e.g., refused, unreachable).
	ConnectionErrorNetwork
	// ConnectionErrorTimeout indicates a connection timeout.
	ConnectionErrorTimeout
	// ConnectionErrorDNS indicates a DNS resolution failure.
	ConnectionErrorDNS
)

// String returns a human-readable name for the connection error type.
func (t ConnectionErrorType) String() string {
	switch t {
	case ConnectionErrorTLS:
		return "TLS certificate error"
	case ConnectionErrorNetwork:
		return "Network error"
	case ConnectionErrorTimeout:
		return "Connection timeout"
	case ConnectionErrorDNS:
		return "DNS resolution error"
	default:
		return "Connection error"
	}
}

// ConnectionError indicates that the gitsync server could not be reached.
type ConnectionError struct {
	// Endpoint is the URL that could not be reached.
	Endpoint string
	// Type categorizes the connection error.
	Type ConnectionErrorType
	// Reason is the underlying error.
	Reason error
}

// Error returns the failure with a hint on how to start the server.
func (e *ConnectionError) Error() string {
	hint := "Is the server running? Start it with: gitsync serve"
	if e.Type == ConnectionErrorTLS {
		hint = "Check the server certificate or use an http:// endpoint"
	}
	return fmt.Sprintf("%s: cannot reach gitsync server at %s: %v\n%s", e.Type, e.Endpoint, e.Reason, hint)
}

// Unwrap returns the underlying error.
func (e *ConnectionError) Unwrap() error {
	return e.Reason
}

// ClassifyConnectionError analyzes an error and returns a ConnectionError with the appropriate type.
// If the error is nil, returns nil.
func ClassifyConnectionError(err error, endpoint string) error {
	if err == nil {
		return nil
	}
	var existing *ConnectionError
	if errors.As(err, &existing) {
		return err
	}

	typ := ConnectionErrorUnknown
	var dnsErr *net.DNSError
	switch {
	case isTLSError(err):
		typ = ConnectionErrorTLS
	case errors.As(err, &dnsErr):
		typ = ConnectionErrorDNS
	case isTimeoutError(err):
		typ = ConnectionErrorTimeout
	case isNetworkError(err.Error()):
		typ = ConnectionErrorNetwork
	}
	return &ConnectionError{Endpoint: endpoint, Type: typ, Reason: err}
}

// isTLSError checks if the error is related to TLS/certificate issues.
func isTLSError(err error) bool {
	var certErr *x509.CertificateInvalidError
	var hostErr *x509.HostnameError
	var unknownAuthErr *x509.UnknownAuthorityError
	if errors.As(err, &certErr) || errors.As(err, &hostErr) || errors.As(err, &unknownAuthErr) {
		return true
	}

	errStr := err.Error()
	for _, keyword := range []string{"x509:", "certificate", "tls:", "TLS handshake"} {
		if strings.Contains(errStr, keyword) {
			return true
		}
	}
	return false
}

// isTimeoutError checks if the error is a timeout.
func isTimeoutError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline exceeded")
}

// isNetworkError checks if the error string indicates a network connectivity issue.
func isNetworkError(errStr string) bool {
	for _, keyword := range []string{
		"connection refused",
		"connection reset",
		"network is unreachable",
		"no route to host",
		"dial tcp",
		"connect:",
	} {
		if strings.Contains(errStr, keyword) {
			return true
		}
	}
	return false
}

// Tool error codes, matching the prefixes written by the tool server.
const (
	CodeNotFound    = "NotFound"
	CodeInvalid     = "Invalid"
	CodeUnavailable = "Unavailable"
	CodeConflict    = "Conflict"
	CodeInternal    = "Internal"
)

var knownCodes = map[string]bool{
	CodeNotFound:    true,
	CodeInvalid:     true,
	CodeUnavailable: true,
	CodeConflict:    true,
	CodeInternal:    true,
}

// ToolError is a failure reported by a tool, as opposed to a transport failure.
type ToolError struct {
	Tool    string
	Code    string
	Message string
}

func (e *ToolError) Error() string {
	return e.Message
}

// ParseToolError splits the "Code: message" form written by the server.
// Messages without a known code get CodeInternal.
func ParseToolError(tool, text string) *ToolError {
	if code, msg, ok := strings.Cut(text, ": "); ok && knownCodes[code] {
		return &ToolError{Tool: tool, Code: code, Message: msg}
	}
	return &ToolError{Tool: tool, Code: CodeInternal, Message: text}
}

// IsNotFound reports whether err is a NotFound tool error.
func IsNotFound(err error) bool {
	var te *ToolError
	return errors.As(err, &te) && te.Code == CodeNotFound
}

// SyncFailedError is returned by waits that end in a failed or degraded
// operation.
type SyncFailedError struct {
	Application string
	Operation   *api.SyncOperation
}

func (e *SyncFailedError) Error() string {
	op := e.Operation
	msg := fmt.Sprintf("sync %s of %s ended %s", op.ID, e.Application, op.Status)
	if op.Message != "" {
		msg += ": " + op.Message
	}
	if op.Error != nil && op.Error.Message != "" && op.Error.Message != op.Message {
		msg += " (" + op.Error.Message + ")"
	}
	return msg
}
