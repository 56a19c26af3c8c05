package agent

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

const defaultWorkspaceBody = "This is the agent's workspace. Notes and working files live here.\n"

// frontMatter is the YAML-encodable subset of Manifest persisted in
// AGENTS.md's header.
type frontMatter struct {
	ID              string          `yaml:"id"`
	DisplayName     string          `yaml:"displayName"`
	Description     string          `yaml:"description,omitempty"`
	Type            Type            `yaml:"type"`
	ReportsTo       string          `yaml:"reportsTo,omitempty"`
	Provider        string          `yaml:"provider,omitempty"`
	Discoverable    bool            `yaml:"discoverable"`
	Delegation      Delegation      `yaml:"delegation"`
	Tags            []string        `yaml:"tags,omitempty"`
	Skills          []string        `yaml:"skills,omitempty"`
	Priority        int             `yaml:"priority"`
	WorkspaceAccess WorkspaceAccess `yaml:"workspaceAccess,omitempty"`
}

// RenderWorkspaceManifest encodes a Manifest as YAML front matter followed
// by its markdown body, the contents written to <home>/workspaces/<id>/AGENTS.md.
func RenderWorkspaceManifest(m *Manifest) ([]byte, error) {
	fm := frontMatter{
		ID:              m.ID,
		DisplayName:     m.DisplayName,
		Description:     m.Description,
		Type:            m.Type,
		ReportsTo:       m.ReportsTo,
		Provider:        m.Provider,
		Discoverable:    m.Discoverable,
		Delegation:      m.Delegation,
		Tags:            m.Tags,
		Skills:          m.Skills,
		Priority:        m.Priority,
		WorkspaceAccess: m.WorkspaceAccess,
	}

	header, err := yaml.Marshal(fm)
	if err != nil {
		return nil, fmt.Errorf("marshal manifest front matter: %w", err)
	}

	body := m.WorkspaceBody
	if body == "" {
		body = defaultWorkspaceBody
	}

	var out strings.Builder
	out.WriteString("---\n")
	out.Write(header)
	out.WriteString("---\n\n")
	out.WriteString(body)

	return []byte(out.String()), nil
}

// ParseWorkspaceManifest decodes an AGENTS.md file into a Manifest.
func ParseWorkspaceManifest(data []byte) (*Manifest, error) {
	content := string(data)
	if !strings.HasPrefix(content, "---\n") {
		return nil, fmt.Errorf("manifest missing YAML front matter")
	}

	rest := content[len("---\n"):]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return nil, fmt.Errorf("manifest front matter not terminated")
	}

	header := rest[:end]
	body := strings.TrimPrefix(rest[end+len("\n---"):], "\n")
	body = strings.TrimPrefix(body, "\n")

	var fm frontMatter
	if err := yaml.Unmarshal([]byte(header), &fm); err != nil {
		return nil, fmt.Errorf("parse manifest front matter: %w", err)
	}

	access := fm.WorkspaceAccess
	if access == "" {
		access = WorkspaceAccessAgentWorkspace
	}

	return &Manifest{
		ID:              fm.ID,
		DisplayName:     fm.DisplayName,
		Description:     fm.Description,
		Type:            fm.Type,
		ReportsTo:       fm.ReportsTo,
		Provider:        fm.Provider,
		Discoverable:    fm.Discoverable,
		Delegation:      fm.Delegation,
		Tags:            fm.Tags,
		Skills:          fm.Skills,
		Priority:        fm.Priority,
		WorkspaceAccess: access,
		WorkspaceBody:   body,
	}, nil
}
