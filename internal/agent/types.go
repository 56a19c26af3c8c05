// Package agent implements the agent registry: creating, listing, and
// deleting agent workspaces, and parsing/writing their manifests.
package agent

// Type distinguishes agents that may delegate work from individual
// contributors.
type Type string

const (
	TypeManager    Type = "manager"
	TypeIndividual Type = "individual"
)

// Delegation flags whether an agent may receive delegated work and whether
// it may delegate work onward to its reports.
type Delegation struct {
	CanReceive  bool `json:"canReceive" yaml:"canReceive"`
	CanDelegate bool `json:"canDelegate" yaml:"canDelegate"`
}

// Manifest describes a single agent: identity, place in the reports-to
// hierarchy, bound provider, and routing metadata.
type Manifest struct {
	ID            string     `json:"id" yaml:"id"`
	DisplayName   string     `json:"displayName" yaml:"displayName"`
	Description   string     `json:"description" yaml:"description"`
	Type          Type       `json:"type" yaml:"type"`
	ReportsTo     string     `json:"reportsTo,omitempty" yaml:"reportsTo,omitempty"` // "" means head of org
	Provider      string     `json:"provider" yaml:"provider"`
	Discoverable  bool       `json:"discoverable" yaml:"discoverable"`
	Delegation    Delegation `json:"delegation" yaml:"delegation"`
	Tags          []string   `json:"tags,omitempty" yaml:"tags,omitempty"`
	Skills        []string   `json:"skills,omitempty" yaml:"skills,omitempty"`
	Priority      int        `json:"priority" yaml:"priority"` // 0-100
	WorkspaceAccess WorkspaceAccess `json:"workspaceAccess,omitempty" yaml:"workspaceAccess,omitempty"`
	WorkspaceBody string     `json:"-" yaml:"-"`               // markdown body following the front matter
}

// IsHead reports whether this manifest is the organization head (no manager).
func (m *Manifest) IsHead() bool {
	return m.ReportsTo == ""
}

// WorkspaceAccess controls what cwd the orchestrator passes to this agent's
// provider invocation.
type WorkspaceAccess string

const (
	WorkspaceAccessProviderDefault WorkspaceAccess = "provider-default"
	WorkspaceAccessAgentWorkspace  WorkspaceAccess = "agent-workspace"
	WorkspaceAccessExternal        WorkspaceAccess = "external"
)

// CreateRequest is the input to ensureAgent.
type CreateRequest struct {
	Name      string
	Type      Type
	ReportsTo string
	Provider  string
	Skills    []string
}

// agentsIndex is the persisted shape of <home>/agents.json.
type agentsIndex struct {
	SchemaVersion int      `json:"schemaVersion"`
	Agents        []string `json:"agents"`
	UpdatedAt     string   `json:"updatedAt"`
}

// workspaceMeta is the persisted shape of <home>/workspaces/<id>/workspace.json.
type workspaceMeta struct {
	SchemaVersion int    `json:"schemaVersion"`
	ID            string `json:"id"`
	DisplayName   string `json:"displayName"`
	Kind          string `json:"kind"`
}

// agentConfig is the persisted shape of <home>/agents/<id>/config.json.
type agentConfig struct {
	SchemaVersion int        `json:"schemaVersion"`
	ID            string     `json:"id"`
	Provider      string     `json:"provider"`
	Type          Type       `json:"type"`
	ReportsTo     string     `json:"reportsTo,omitempty"`
	Discoverable  bool       `json:"discoverable"`
	Delegation    Delegation `json:"delegation"`
	Tags          []string   `json:"tags,omitempty"`
	Skills        []string   `json:"skills,omitempty"`
	Priority      int        `json:"priority"`
}
