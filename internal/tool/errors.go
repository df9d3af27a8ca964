package tool

import (
	"errors"
	"fmt"
)

// JSON-RPC-compatible error codes for registry and permission failures.
// The transport serializes these directly into JSON-RPC error objects.
const (
	CodeToolNotFound     = -32601
	CodeInvalidParams    = -32602
	CodeExecutionError   = -32603
	CodePermissionDenied = -32604
	CodeApprovalTimeout  = -32605
	CodeApprovalRejected = -32606
	CodeApprovalPending  = -32607
)

// Error is the typed failure returned by the registry's call path. Code is
// one of the Code* constants; Details carries structured context such as
// the approval id and approver for pending approvals.
type Error struct {
	Code    int
	Message string
	Details any
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("tool error %d: %s", e.Code, e.Message)
}

// Detail converts the typed error into the wire-facing ErrorDetail shape.
func (e *Error) Detail() *ErrorDetail {
	return &ErrorDetail{Code: e.Code, Message: e.Message, Details: e.Details}
}

// ErrNotFound builds a CodeToolNotFound error for the given tool name.
func ErrNotFound(name string) *Error {
	return &Error{Code: CodeToolNotFound, Message: fmt.Sprintf("tool not found: %s", name)}
}

// ErrPermissionDenied builds a CodePermissionDenied error with the
// checker's human-readable reason.
func ErrPermissionDenied(name, reason string) *Error {
	return &Error{
		Code:    CodePermissionDenied,
		Message: fmt.Sprintf("permission denied for tool %s: %s", name, reason),
	}
}

// ErrApprovalPending builds the control-flow error raised when a call is
// gated on human approval. Callers branch on CodeApprovalPending and route
// the request to an approval workflow using the details.
func ErrApprovalPending(name, approvalID, condition, approver string) *Error {
	return &Error{
		Code:    CodeApprovalPending,
		Message: fmt.Sprintf("tool %s requires approval before execution", name),
		Details: map[string]any{
			"approvalId": approvalID,
			"condition":  condition,
			"approver":   approver,
		},
	}
}

// ErrNoExecutor builds the error for calling a definition-only catalog
// entry (e.g. a placeholder created by the permissions file before a real
// registration arrived).
func ErrNoExecutor(name string) *Error {
	return &Error{
		Code:    CodeExecutionError,
		Message: fmt.Sprintf("no executor bound for tool %s", name),
	}
}

// ErrExecution wraps an executor failure.
func ErrExecution(name string, cause error) *Error {
	return &Error{
		Code:    CodeExecutionError,
		Message: fmt.Sprintf("tool %s execution failed: %v", name, cause),
	}
}

// AsToolError returns the *Error inside err's chain, or nil if there is none.
func AsToolError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return nil
}
