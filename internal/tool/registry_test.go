package tool

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/toolgate/toolgate/internal/audit"
	"github.com/toolgate/toolgate/internal/permission"
	"github.com/toolgate/toolgate/internal/security"
)

// captureAuditor records entries in memory for assertions.
type captureAuditor struct {
	entries []audit.Entry
	err     error
}

func (c *captureAuditor) Log(_ context.Context, e audit.Entry) error {
	c.entries = append(c.entries, e)
	return c.err
}

func openTool(name string, agents ...string) Tool {
	if len(agents) == 0 {
		agents = []string{permission.WildcardAgent}
	}
	return Tool{
		Name:        name,
		Provider:    "testprov",
		Description: name + " test tool",
		Permissions: permission.Permissions{AllowedAgents: agents},
	}
}

func echoExecutor(_ context.Context, args map[string]any, _ CallContext) (any, error) {
	return args, nil
}

func TestRegister_UpsertByName(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil, nil)
	if err := r.Register(openTool("a"), echoExecutor); err != nil {
		t.Fatalf("Register: %v", err)
	}

	replacement := openTool("a")
	replacement.Description = "replaced"
	if err := r.Register(replacement, nil); err != nil {
		t.Fatalf("re-Register: %v", err)
	}

	got, err := r.Get("a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Description != "replaced" {
		t.Errorf("Description = %q, want replaced row", got.Description)
	}

	// The replacement had no executor, so calling is now an explicit error.
	_, callErr := r.Call(context.Background(), "a", nil, CallContext{AgentID: "x"})
	te := AsToolError(callErr)
	if te == nil || !strings.Contains(te.Message, "no executor") {
		t.Errorf("expected no-executor error, got %v", callErr)
	}
}

func TestRegister_EmptyName(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil, nil)
	if err := r.Register(openTool("   "), nil); err == nil {
		t.Error("expected error for blank name")
	}
}

func TestUnregister(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil, nil)
	if err := r.Register(openTool("a"), nil); err != nil {
		t.Fatal(err)
	}
	if err := r.Unregister("a"); err != nil {
		t.Fatalf("Unregister: %v", err)
	}
	if _, err := r.Get("a"); err == nil {
		t.Error("tool should be gone")
	}
	if err := r.Unregister("a"); err == nil {
		t.Error("second Unregister should fail")
	}
}

func TestCatalogQueries(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil, nil)
	mustRegister(t, r, openTool("zeta", "agent-1"), nil)
	mustRegister(t, r, openTool("alpha", "agent-2"), nil)
	wild := openTool("mid")
	wild.Provider = "other"
	mustRegister(t, r, wild, nil)

	all := r.All()
	if len(all) != 3 {
		t.Fatalf("All() len = %d", len(all))
	}
	if all[0].Name != "alpha" || all[2].Name != "zeta" {
		t.Errorf("All() not sorted: %v", all)
	}

	forA1 := r.ForAgent("agent-1")
	if len(forA1) != 2 {
		t.Fatalf("ForAgent(agent-1) len = %d, want 2 (own + wildcard)", len(forA1))
	}

	byProv := r.ByProvider("other")
	if len(byProv) != 1 || byProv[0].Name != "mid" {
		t.Errorf("ByProvider = %v", byProv)
	}
}

func TestLoadPermissionsFile_Reconciliation(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "perms.yaml")
	doc := `
tool_permissions:
  registered_tool:
    allowed_agents: [file-agent]
  unknown_tool:
    allowed_agents: ["all"]
    requires_approval:
      condition: amount > 100
      approver: admin
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}

	r := NewRegistry(nil, nil)
	mustRegister(t, r, openTool("registered_tool", "code-agent"), echoExecutor)

	if err := r.LoadPermissionsFile(path); err != nil {
		t.Fatalf("LoadPermissionsFile: %v", err)
	}

	// YAML wins for tools that exist in both sources.
	reg, _ := r.Get("registered_tool")
	if got := reg.Permissions.AllowedAgents; len(got) != 1 || got[0] != "file-agent" {
		t.Errorf("registered_tool agents = %v, want file override", got)
	}

	// The registered executor survives the permissions override.
	if _, err := r.Call(context.Background(), "registered_tool", nil, CallContext{AgentID: "file-agent"}); err != nil {
		t.Errorf("call after reconcile: %v", err)
	}

	// Unknown names create definition-only placeholders.
	ph, err := r.Get("unknown_tool")
	if err != nil {
		t.Fatalf("placeholder missing: %v", err)
	}
	if ph.Provider != "external" {
		t.Errorf("placeholder provider = %q", ph.Provider)
	}
	_, callErr := r.Call(context.Background(), "unknown_tool", map[string]any{"amount": float64(1)}, CallContext{AgentID: "any"})
	te := AsToolError(callErr)
	if te == nil || te.Code != CodeExecutionError || !strings.Contains(te.Message, "no executor") {
		t.Errorf("placeholder call error = %v, want explicit no-executor", callErr)
	}

	// Idempotent: a second load leaves the catalog unchanged.
	if err := r.LoadPermissionsFile(path); err != nil {
		t.Fatalf("second LoadPermissionsFile: %v", err)
	}
	if got := len(r.All()); got != 2 {
		t.Errorf("catalog size after reload = %d, want 2", got)
	}
}

func TestCall_NotFound(t *testing.T) {
	t.Parallel()

	cap := &captureAuditor{}
	r := NewRegistry(nil, nil)
	r.SetAuditor(cap)

	_, err := r.Call(context.Background(), "missing", nil, CallContext{AgentID: "a"})
	te := AsToolError(err)
	if te == nil || te.Code != CodeToolNotFound {
		t.Fatalf("err = %v, want CodeToolNotFound", err)
	}
	assertOneAudit(t, cap, false)
}

func TestCall_PermissionDenied(t *testing.T) {
	t.Parallel()

	cap := &captureAuditor{}
	r := NewRegistry(nil, nil)
	r.SetAuditor(cap)

	executed := false
	mustRegister(t, r, openTool("restricted", "billing-agent"),
		func(context.Context, map[string]any, CallContext) (any, error) {
			executed = true
			return nil, nil
		})

	_, err := r.Call(context.Background(), "restricted", nil, CallContext{AgentID: "other-agent"})
	te := AsToolError(err)
	if te == nil || te.Code != CodePermissionDenied {
		t.Fatalf("err = %v, want CodePermissionDenied", err)
	}
	if executed {
		t.Error("executor must not run for denied calls")
	}
	entry := assertOneAudit(t, cap, false)
	if entry.ErrorMessage == "" {
		t.Error("denial audit should carry the reason")
	}
}

func TestCall_ApprovalGate(t *testing.T) {
	t.Parallel()

	cap := &captureAuditor{}
	r := NewRegistry(nil, nil)
	r.SetAuditor(cap)

	executed := 0
	gated := openTool("create_invoice", "billing-agent")
	gated.Permissions.RequiresApproval = &permission.ApprovalRequirement{
		Condition: "amount > 1000",
		Approver:  "admin",
	}
	mustRegister(t, r, gated, func(context.Context, map[string]any, CallContext) (any, error) {
		executed++
		return "created", nil
	})

	cc := CallContext{AgentID: "billing-agent", OrganizationID: "org-9", UserID: "u1"}

	// Below the threshold: executes.
	res, err := r.Call(context.Background(), "create_invoice", map[string]any{"amount": float64(500)}, cc)
	if err != nil {
		t.Fatalf("small amount should execute: %v", err)
	}
	if !res.Success || res.Data != "created" {
		t.Errorf("result = %+v", res)
	}
	if executed != 1 {
		t.Fatalf("executed = %d, want 1", executed)
	}

	// Above the threshold: APPROVAL_PENDING, executor never invoked.
	_, err = r.Call(context.Background(), "create_invoice", map[string]any{"amount": float64(5000)}, cc)
	te := AsToolError(err)
	if te == nil || te.Code != CodeApprovalPending {
		t.Fatalf("err = %v, want CodeApprovalPending", err)
	}
	if executed != 1 {
		t.Error("executor must not run while approval is pending")
	}

	details, ok := te.Details.(map[string]any)
	if !ok {
		t.Fatalf("Details type %T", te.Details)
	}
	if details["approvalId"] == "" || details["approvalId"] == nil {
		t.Error("approval id missing")
	}
	if details["approver"] != "admin@org-9" {
		t.Errorf("approver = %v, want resolved admin@org-9", details["approver"])
	}
	if details["condition"] != "amount > 1000" {
		t.Errorf("condition = %v", details["condition"])
	}

	// The gating audit entry carries condition and approver.
	last := cap.entries[len(cap.entries)-1]
	if last.Success {
		t.Error("approval-pending audit entry should be unsuccessful")
	}
	if last.Details["condition"] != "amount > 1000" || last.Details["approver"] != "admin@org-9" {
		t.Errorf("audit details = %v", last.Details)
	}
}

func TestCall_ExecutionError(t *testing.T) {
	t.Parallel()

	cap := &captureAuditor{}
	r := NewRegistry(nil, nil)
	r.SetAuditor(cap)

	mustRegister(t, r, openTool("flaky"),
		func(context.Context, map[string]any, CallContext) (any, error) {
			return nil, errors.New("upstream 502")
		})

	_, err := r.Call(context.Background(), "flaky", nil, CallContext{AgentID: "a"})
	te := AsToolError(err)
	if te == nil || te.Code != CodeExecutionError {
		t.Fatalf("err = %v, want CodeExecutionError", err)
	}
	if !strings.Contains(te.Message, "upstream 502") {
		t.Errorf("wrapped error should carry the original message: %q", te.Message)
	}
	assertOneAudit(t, cap, false)
}

func TestCall_ExecutorPanic(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil, nil)
	mustRegister(t, r, openTool("boomer"),
		func(context.Context, map[string]any, CallContext) (any, error) {
			panic("boom")
		})

	_, err := r.Call(context.Background(), "boomer", nil, CallContext{AgentID: "a"})
	te := AsToolError(err)
	if te == nil || te.Code != CodeExecutionError {
		t.Fatalf("err = %v, want CodeExecutionError from panic", err)
	}
}

func TestCall_Success_AuditMaskingAndDuration(t *testing.T) {
	t.Parallel()

	cap := &captureAuditor{}
	r := NewRegistry(nil, nil)
	r.SetAuditor(cap)
	mustRegister(t, r, openTool("echo"), echoExecutor)

	args := map[string]any{"apiKey": "secret", "userId": "u1"}
	cc := CallContext{AgentID: "a", UserID: "u1", OrganizationID: "org-1"}

	res, err := r.Call(context.Background(), "echo", args, cc)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if !res.Success {
		t.Error("expected success")
	}
	if res.Metadata.DurationMS < 0 {
		t.Error("duration must be non-negative")
	}

	entry := assertOneAudit(t, cap, true)
	masked, ok := entry.Details["arguments"].(map[string]any)
	if !ok {
		t.Fatalf("arguments type %T", entry.Details["arguments"])
	}
	if masked["apiKey"] != security.RedactPlaceholder {
		t.Errorf("apiKey = %v, want redacted", masked["apiKey"])
	}
	if masked["userId"] != "u1" {
		t.Errorf("userId = %v, want unchanged", masked["userId"])
	}
	if entry.OrganizationID != "org-1" || entry.UserID != "u1" {
		t.Errorf("identity fields = %q/%q", entry.OrganizationID, entry.UserID)
	}
	// The caller's arguments are untouched.
	if args["apiKey"] != "secret" {
		t.Error("caller args were mutated")
	}
}

func TestCall_AuditFailureDoesNotPropagate(t *testing.T) {
	t.Parallel()

	cap := &captureAuditor{err: errors.New("sink down")}
	r := NewRegistry(nil, nil)
	r.SetAuditor(cap)
	mustRegister(t, r, openTool("echo"), echoExecutor)

	res, err := r.Call(context.Background(), "echo", nil, CallContext{AgentID: "a"})
	if err != nil {
		t.Fatalf("audit failure leaked into the call: %v", err)
	}
	if !res.Success {
		t.Error("call should have succeeded")
	}
}

func TestTruncateResult(t *testing.T) {
	t.Parallel()

	small := truncateResult(map[string]any{"ok": true})
	if strings.Contains(small, "truncated") {
		t.Errorf("small result should not be truncated: %s", small)
	}

	big := truncateResult(strings.Repeat("é", 5000))
	if len(big) > maxResultAuditBytes+64 {
		t.Errorf("truncated result too large: %d bytes", len(big))
	}
	if !strings.Contains(big, "truncated") || !strings.Contains(big, "bytes total") {
		t.Errorf("missing truncation marker: %s", big[:80])
	}
	// The preview must remain valid UTF-8 after the cut.
	if strings.ContainsRune(big, '�') {
		t.Error("truncation split a multi-byte rune")
	}
}

func mustRegister(t *testing.T, r *Registry, tool Tool, exec Executor) {
	t.Helper()
	if err := r.Register(tool, exec); err != nil {
		t.Fatalf("Register(%s): %v", tool.Name, err)
	}
}

func assertOneAudit(t *testing.T, cap *captureAuditor, success bool) audit.Entry {
	t.Helper()
	if len(cap.entries) != 1 {
		t.Fatalf("audit entries = %d, want exactly 1", len(cap.entries))
	}
	e := cap.entries[0]
	if e.Success != success {
		t.Errorf("audit success = %v, want %v", e.Success, success)
	}
	if e.Action != "tool_call" || e.ResourceType != "tool" {
		t.Errorf("audit shape = %q/%q", e.Action, e.ResourceType)
	}
	return e
}

func TestCall_ConcurrentAcrossTools(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil, nil)
	for i := 0; i < 8; i++ {
		name := fmt.Sprintf("tool-%d", i)
		mustRegister(t, r, openTool(name), echoExecutor)
	}

	done := make(chan error, 64)
	for i := 0; i < 64; i++ {
		go func(i int) {
			name := fmt.Sprintf("tool-%d", i%8)
			_, err := r.Call(context.Background(), name, map[string]any{"i": i}, CallContext{AgentID: "a"})
			done <- err
		}(i)
	}
	for j := 0; j < 64; j++ {
		if err := <-done; err != nil {
			t.Errorf("concurrent call failed: %v", err)
		}
	}
}
