package permission

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// fileSchema is the top-level shape of the permissions YAML document.
type fileSchema struct {
	ToolPermissions map[string]Permissions `yaml:"tool_permissions"`
}

// LoadFile reads a YAML permissions document and returns the per-tool
// permissions map. The expected shape is:
//
//	tool_permissions:
//	  create_invoice:
//	    allowed_agents: [billing-agent]
//	    requires_approval:
//	      condition: amount > 1000
//	      approver: tech_lead
func LoadFile(path string) (map[string]Permissions, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("permissions: reading %s: %w", path, err)
	}

	var doc fileSchema
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("permissions: parsing %s: %w", path, err)
	}

	for name, perms := range doc.ToolPermissions {
		if len(perms.AllowedAgents) == 0 {
			return nil, fmt.Errorf("permissions: tool %q has no allowed_agents", name)
		}
		if req := perms.RequiresApproval; req != nil {
			if req.Condition == "" || req.Approver == "" {
				return nil, fmt.Errorf("permissions: tool %q has an incomplete requires_approval block", name)
			}
		}
	}

	return doc.ToolPermissions, nil
}
