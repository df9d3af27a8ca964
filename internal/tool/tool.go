// Package tool defines the tool catalog, the typed call errors, and the
// registry that orchestrates every tool invocation through permission
// checking, approval gating, execution, and audit. Tools are the primary
// security boundary: every action an agent takes goes through a
// registered tool with a permission-gated call path.
package tool

import (
	"context"
	"encoding/json"

	"github.com/toolgate/toolgate/internal/permission"
)

// Tool is an immutable catalog entry describing a capability an agent may
// invoke. The executor is tracked separately by the registry and is never
// exposed through catalog queries.
type Tool struct {
	// Name is the unique catalog key.
	Name string `json:"name"`

	// Provider identifies the upstream system the tool talks to
	// (e.g. "linear", "asana", "external").
	Provider string `json:"provider"`

	// Description is a human-readable summary of what the tool does.
	Description string `json:"description"`

	// InputSchema and OutputSchema are JSON-Schema-shaped documents
	// describing the tool's arguments and result.
	InputSchema  json.RawMessage `json:"inputSchema,omitempty"`
	OutputSchema json.RawMessage `json:"outputSchema,omitempty"`

	// RequiresAuth marks tools whose provider needs per-org credentials.
	RequiresAuth bool `json:"requiresAuth"`

	// Permissions is the tool's access-control block.
	Permissions permission.Permissions `json:"permissions"`
}

// Executor runs a tool call against its provider. Any returned error (or
// panic) is converted by the registry into a typed execution error.
// Executors are supplied by provider packages; if an executor is not
// internally concurrency-safe, that safety is the provider's problem.
type Executor func(ctx context.Context, args map[string]any, cc CallContext) (any, error)

// CallContext carries the caller identity for one invocation. It is
// passed by value through the whole call path and never mutated.
type CallContext struct {
	AgentID        string            `json:"agentId"`
	UserID         string            `json:"userId"`
	OrganizationID string            `json:"organizationId"`
	SessionID      string            `json:"sessionId,omitempty"`
	RequestID      string            `json:"requestId,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Result is the only shape returned to a caller for a completed call.
type Result struct {
	Success  bool         `json:"success"`
	Data     any          `json:"data,omitempty"`
	Error    *ErrorDetail `json:"error,omitempty"`
	Metadata ResultMeta   `json:"metadata"`
}

// ErrorDetail is the structured error carried inside a Result.
type ErrorDetail struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ResultMeta carries per-call bookkeeping.
type ResultMeta struct {
	DurationMS int64  `json:"durationMs"`
	Cached     bool   `json:"cached"`
	ApprovalID string `json:"approvalId,omitempty"`
}
