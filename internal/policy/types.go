// Package policy implements the Permission & Toggle Store (C2):
// per-tool and per-skill enablement flags backed by toggles.json, plus
// a profile/allow/deny permission model used by the Tool Registry's
// dispatch pipeline (required_permissions ⊆ ctx.permissions). Adapted
// from the teacher's internal/tools/policy package — kept its
// Profile/Policy/Resolver/group-expansion/pattern-matching idiom, and
// dropped the MCP-server and edge-daemon identity machinery (ByProvider
// routing, TrustLevel, ApprovalManager keyed on proto.RiskLevel) since
// the spec has no MCP or edge-device concept; tool approval here is
// expressed purely through ToolsConfig.Approval's allow/deny lists.
package policy

import "strings"

// Profile is a pre-configured tool access level.
type Profile string

const (
	ProfileMinimal   Profile = "minimal"
	ProfileCoding    Profile = "coding"
	ProfileMessaging Profile = "messaging"
	ProfileFull      Profile = "full"
)

// Policy combines a profile baseline with explicit allow/deny overrides.
// Deny always wins over allow.
type Policy struct {
	Profile Profile  `json:"profile,omitempty" yaml:"profile,omitempty"`
	Allow   []string `json:"allow,omitempty" yaml:"allow,omitempty"`
	Deny    []string `json:"deny,omitempty" yaml:"deny,omitempty"`
}

// NewPolicy creates a policy rooted at the given profile.
func NewPolicy(profile Profile) *Policy {
	return &Policy{Profile: profile}
}

// WithAllow adds tools to the allow list and returns the policy for chaining.
func (p *Policy) WithAllow(tools ...string) *Policy {
	p.Allow = append(p.Allow, tools...)
	return p
}

// WithDeny adds tools to the deny list and returns the policy for chaining.
func (p *Policy) WithDeny(tools ...string) *Policy {
	p.Deny = append(p.Deny, tools...)
	return p
}

// DefaultGroups are the built-in tool groups referenceable from a
// Policy's Allow/Deny lists as "group:<name>", covering the core tools
// and illustrative tool bindings the runtime ships.
var DefaultGroups = map[string][]string{
	"group:fs":        {"read", "write", "edit", "exec"},
	"group:web":       {"websearch", "webfetch"},
	"group:runtime":   {"sandbox", "exec"},
	"group:memory":    {"memory_query", "memory_upsert", "memory_forget"},
	"group:messaging": {"send_message"},
	"group:tasks":     {"task_status", "task_spawn"},
	"group:cron":      {"cron_create", "cron_list", "cron_cancel"},
	"group:nexus": {
		"read", "write", "edit", "exec",
		"websearch", "webfetch", "sandbox",
		"memory_query", "memory_upsert", "memory_forget",
		"send_message", "task_status", "task_spawn",
		"cron_create", "cron_list", "cron_cancel",
	},
}

// ProfileDefaults defines the default allow list for each named profile.
var ProfileDefaults = map[Profile]*Policy{
	ProfileMinimal: {
		Allow: []string{"memory_query"},
	},
	ProfileCoding: {
		Allow: []string{"group:fs", "group:runtime", "group:web", "group:memory"},
	},
	ProfileMessaging: {
		Allow: []string{"group:messaging"},
	},
	ProfileFull: {
		// Everything not explicitly denied.
	},
}

// ToolAliases maps alternative names to the canonical tool name used by
// the registry and by policy matching.
var ToolAliases = map[string]string{
	"bash":      "exec",
	"shell":     "exec",
	"websearch": "web_search",
	"webfetch":  "web_fetch",
}

// NormalizeTool lowercases and resolves a tool name to its canonical form.
func NormalizeTool(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if alias, ok := ToolAliases[normalized]; ok {
		return alias
	}
	return normalized
}
