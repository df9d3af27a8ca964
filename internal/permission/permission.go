// Package permission decides whether an agent may call a tool and whether
// the call needs human approval first. Permissions come from two sources
// that the tool registry reconciles: in-process registration and a YAML
// permissions file (the file wins for tools present in both).
package permission

import (
	"log/slog"
	"slices"

	"github.com/toolgate/toolgate/internal/condition"
)

// WildcardAgent in an allow-list grants every agent access to the tool.
const WildcardAgent = "all"

// ApprovalRequirement pairs a condition over call arguments with the
// approver who must sign off when the condition holds.
type ApprovalRequirement struct {
	Condition string `yaml:"condition" json:"condition"`
	Approver  string `yaml:"approver" json:"approver"`
}

// Permissions is a tool's access-control block.
type Permissions struct {
	AllowedAgents    []string             `yaml:"allowed_agents" json:"allowedAgents"`
	RequiresApproval *ApprovalRequirement `yaml:"requires_approval,omitempty" json:"requiresApproval,omitempty"`
}

// Decision is the outcome of a permission check. RequiresApproval is the
// tool's approval requirement definition, not yet evaluated against live
// arguments; use Checker.ApprovalForArgs for that.
type Decision struct {
	Allowed          bool
	Reason           string
	RequiresApproval *ApprovalRequirement
}

// Checker evaluates tool permissions against calling agents.
type Checker struct {
	logger *slog.Logger
}

// NewChecker creates a permission checker. A nil logger falls back to
// slog.Default().
func NewChecker(logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{logger: logger}
}

// Check reports whether agentID may call a tool with the given
// permissions. Disallowed calls short-circuit: no approval information is
// surfaced for them.
func (c *Checker) Check(perms Permissions, agentID string) Decision {
	if !slices.Contains(perms.AllowedAgents, WildcardAgent) &&
		!slices.Contains(perms.AllowedAgents, agentID) {
		return Decision{
			Allowed: false,
			Reason:  "agent " + agentID + " is not in the tool's allowed agents",
		}
	}
	return Decision{
		Allowed:          true,
		RequiresApproval: perms.RequiresApproval,
	}
}

// ApprovalForArgs returns the tool's approval requirement if its condition
// is satisfied by the given arguments, or nil when no approval is needed
// for this invocation. Unparseable conditions gate the call and are logged
// as warnings so broken rules surface instead of silently always firing.
func (c *Checker) ApprovalForArgs(perms Permissions, args map[string]any) *ApprovalRequirement {
	req := perms.RequiresApproval
	if req == nil {
		return nil
	}
	if !condition.Supported(req.Condition) {
		c.logger.Warn("unparseable approval condition, requiring approval",
			"condition", req.Condition,
			"approver", req.Approver,
		)
		return req
	}
	if condition.Evaluate(req.Condition, args) {
		return req
	}
	return nil
}

// ResolveApprover maps symbolic approver references to concrete,
// organization-scoped approver identifiers. References that are not
// symbolic pass through unchanged (they are already concrete ids).
func (c *Checker) ResolveApprover(ref, organizationID string) string {
	switch ref {
	case "function_owner":
		return "owner@" + organizationID
	case "tech_lead":
		return "tech-lead@" + organizationID
	case "admin":
		return "admin@" + organizationID
	default:
		return ref
	}
}
