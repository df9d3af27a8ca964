package tool

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/toolgate/toolgate/internal/audit"
	"github.com/toolgate/toolgate/internal/permission"
	"github.com/toolgate/toolgate/internal/security"
)

// placeholderProvider marks catalog rows created by the permissions file
// for tool names no code registration has claimed yet.
const placeholderProvider = "external"

// entry pairs a catalog row with its optional executor. A nil executor
// means the entry is definition-only: it can be listed and permission-
// checked, but calling it is an explicit error.
type entry struct {
	tool Tool
	exec Executor
}

// Registry holds the tool catalog and orchestrates every call through
// permission checking, approval gating, execution, and audit emission.
// It is instance-based (not global) so tests can construct isolated ones.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
	checker *permission.Checker
	auditor audit.Auditor
	logger  *slog.Logger
}

// NewRegistry creates an empty registry. A nil checker gets a default
// one; a nil logger falls back to slog.Default(). Audit is off until
// SetAuditor is called.
func NewRegistry(checker *permission.Checker, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if checker == nil {
		checker = permission.NewChecker(logger)
	}
	return &Registry{
		entries: make(map[string]entry),
		checker: checker,
		logger:  logger,
	}
}

// SetAuditor configures the audit collaborator for call outcomes.
func (r *Registry) SetAuditor(a audit.Auditor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.auditor = a
}

// Register upserts a tool by name, optionally binding an executor. A nil
// executor registers a definition-only entry. Re-registration replaces
// the catalog row wholesale.
func (r *Registry) Register(t Tool, exec Executor) error {
	name := strings.TrimSpace(t.Name)
	if name == "" {
		return fmt.Errorf("register: tool name must not be empty")
	}
	t.Name = name

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[name] = entry{tool: t, exec: exec}
	return nil
}

// Unregister removes a tool from the catalog.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[name]; !ok {
		return ErrNotFound(name)
	}
	delete(r.entries, name)
	return nil
}

// Get returns the catalog row for name. The executor is never exposed.
func (r *Registry) Get(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return Tool{}, ErrNotFound(name)
	}
	return e.tool, nil
}

// All returns every catalog row sorted by name.
func (r *Registry) All() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tools := make([]Tool, 0, len(r.entries))
	for _, e := range r.entries {
		tools = append(tools, e.tool)
	}
	sortTools(tools)
	return tools
}

// ForAgent returns the catalog rows the given agent is allowed to call,
// sorted by name.
func (r *Registry) ForAgent(agentID string) []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var tools []Tool
	for _, e := range r.entries {
		if r.checker.Check(e.tool.Permissions, agentID).Allowed {
			tools = append(tools, e.tool)
		}
	}
	sortTools(tools)
	return tools
}

// ByProvider returns the catalog rows for one provider, sorted by name.
func (r *Registry) ByProvider(provider string) []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var tools []Tool
	for _, e := range r.entries {
		if e.tool.Provider == provider {
			tools = append(tools, e.tool)
		}
	}
	sortTools(tools)
	return tools
}

// LoadPermissionsFile reconciles the catalog with a YAML permissions
// document. The file wins for tools that exist in both sources; file
// entries for unknown tool names create definition-only placeholder rows
// whose executor stays absent until a real registration arrives. The
// operation is idempotent and safe to call once at startup.
func (r *Registry) LoadPermissionsFile(path string) error {
	perms, err := permission.LoadFile(path)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for name, p := range perms {
		if e, ok := r.entries[name]; ok {
			e.tool.Permissions = p
			r.entries[name] = e
			continue
		}
		r.entries[name] = entry{tool: Tool{
			Name:        name,
			Provider:    placeholderProvider,
			Description: "declared by permissions file; awaiting registration",
			Permissions: p,
		}}
		r.logger.Debug("permissions file declared unknown tool, created placeholder", "tool", name)
	}
	r.logger.Info("permissions loaded", "path", path, "tools", len(perms))
	return nil
}

// Call runs the full gated call path: lookup → permission check →
// approval-condition evaluation → executor invocation. Every terminal
// outcome, success or failure, emits exactly one audit entry carrying
// masked arguments and a truncated result.
func (r *Registry) Call(ctx context.Context, name string, args map[string]any, cc CallContext) (Result, error) {
	start := time.Now()

	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()

	if !ok {
		callErr := ErrNotFound(name)
		r.emitAudit(ctx, Tool{Name: name}, args, cc, nil, callErr, time.Since(start), nil, "")
		return Result{}, callErr
	}
	t := e.tool

	decision := r.checker.Check(t.Permissions, cc.AgentID)
	if !decision.Allowed {
		callErr := ErrPermissionDenied(name, decision.Reason)
		r.emitAudit(ctx, t, args, cc, nil, callErr, time.Since(start), nil, "")
		return Result{}, callErr
	}

	if req := r.checker.ApprovalForArgs(t.Permissions, args); req != nil {
		approvalID := uuid.NewString()
		approver := r.checker.ResolveApprover(req.Approver, cc.OrganizationID)
		callErr := ErrApprovalPending(name, approvalID, req.Condition, approver)
		r.emitAudit(ctx, t, args, cc, nil, callErr, time.Since(start), req, approver)
		return Result{}, callErr
	}

	if e.exec == nil {
		callErr := ErrNoExecutor(name)
		r.emitAudit(ctx, t, args, cc, nil, callErr, time.Since(start), nil, "")
		return Result{}, callErr
	}

	data, execErr := invoke(ctx, e.exec, args, cc)
	elapsed := time.Since(start)

	if execErr != nil {
		callErr := ErrExecution(name, execErr)
		r.emitAudit(ctx, t, args, cc, nil, callErr, elapsed, nil, "")
		return Result{}, callErr
	}

	r.emitAudit(ctx, t, args, cc, data, nil, elapsed, nil, "")
	return Result{
		Success:  true,
		Data:     data,
		Metadata: ResultMeta{DurationMS: elapsed.Milliseconds()},
	}, nil
}

// invoke runs the executor, converting panics into errors so a misbehaving
// provider cannot take down the call path.
func invoke(ctx context.Context, exec Executor, args map[string]any, cc CallContext) (data any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("executor panic: %v", rec)
		}
	}()
	return exec(ctx, args, cc)
}

// emitAudit records one terminal call outcome. Audit failures are logged
// and never affect the call's own result: observability must not become a
// new failure mode.
func (r *Registry) emitAudit(
	ctx context.Context,
	t Tool,
	args map[string]any,
	cc CallContext,
	data any,
	callErr *Error,
	elapsed time.Duration,
	req *permission.ApprovalRequirement,
	approver string,
) {
	r.mu.RLock()
	auditor := r.auditor
	r.mu.RUnlock()
	if auditor == nil {
		return
	}

	details := map[string]any{
		"tool":        t.Name,
		"provider":    t.Provider,
		"agentId":     cc.AgentID,
		"arguments":   security.MaskArgs(args),
		"duration_ms": elapsed.Milliseconds(),
	}
	if data != nil {
		details["result"] = truncateResult(data)
	}
	if req != nil {
		details["condition"] = req.Condition
		details["approver"] = approver
	}

	entry := audit.Entry{
		Action:         "tool_call",
		OrganizationID: cc.OrganizationID,
		UserID:         cc.UserID,
		ResourceType:   "tool",
		ResourceID:     t.Name,
		Details:        details,
		Success:        callErr == nil,
	}
	if callErr != nil {
		entry.ErrorMessage = callErr.Message
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("audit sink panicked", "tool", t.Name, "panic", rec)
		}
	}()
	if err := auditor.Log(ctx, entry); err != nil {
		r.logger.Error("audit emission failed", "tool", t.Name, "error", err)
	}
}

// maxResultAuditBytes caps the serialized result size recorded in audit
// entries. Oversized payloads are replaced by a preview plus a marker
// carrying the original length.
const maxResultAuditBytes = 4096

// truncateResult serializes a tool result for auditing, applying the byte
// cap. The cut walks back to a UTF-8 rune boundary so multi-byte
// characters are never split.
func truncateResult(data any) string {
	raw, err := json.Marshal(data)
	if err != nil {
		raw = []byte(fmt.Sprintf("%v", data))
	}
	if len(raw) <= maxResultAuditBytes {
		return string(raw)
	}
	i := maxResultAuditBytes
	for i > 0 && !utf8.RuneStart(raw[i]) {
		i--
	}
	return fmt.Sprintf("%s...(truncated, %d bytes total)", raw[:i], len(raw))
}

func sortTools(tools []Tool) {
	slices.SortFunc(tools, func(a, b Tool) int {
		return cmp.Compare(a.Name, b.Name)
	})
}
