// Package paths resolves the on-disk layout of an OpenGoat home directory
// and provides the filesystem port every other component writes through.
package paths

import "path/filepath"

// Layout resolves the well-known paths under an OpenGoat home directory.
// Home defaults to ~/.opengoat (see internal/common/config.HomeConfig).
type Layout struct {
	Home string
}

// New returns a Layout rooted at home.
func New(home string) *Layout {
	return &Layout{Home: home}
}

// ConfigPath is <home>/config.json: {schemaVersion, defaultAgent, createdAt, updatedAt}.
func (l *Layout) ConfigPath() string {
	return filepath.Join(l.Home, "config.json")
}

// AgentsPath is <home>/agents.json: {schemaVersion, agents:[id...], updatedAt}.
func (l *Layout) AgentsPath() string {
	return filepath.Join(l.Home, "agents.json")
}

// WorkspaceDir is <home>/workspaces/<id>/.
func (l *Layout) WorkspaceDir(agentID string) string {
	return filepath.Join(l.Home, "workspaces", agentID)
}

// WorkspaceManifestPath is <home>/workspaces/<id>/AGENTS.md.
func (l *Layout) WorkspaceManifestPath(agentID string) string {
	return filepath.Join(l.WorkspaceDir(agentID), "AGENTS.md")
}

// WorkspaceMetaPath is <home>/workspaces/<id>/workspace.json.
func (l *Layout) WorkspaceMetaPath(agentID string) string {
	return filepath.Join(l.WorkspaceDir(agentID), "workspace.json")
}

// AgentDir is <home>/agents/<id>/.
func (l *Layout) AgentDir(agentID string) string {
	return filepath.Join(l.Home, "agents", agentID)
}

// AgentConfigPath is <home>/agents/<id>/config.json: internal agent config.
func (l *Layout) AgentConfigPath(agentID string) string {
	return filepath.Join(l.AgentDir(agentID), "config.json")
}

// AgentSessionsDir is <home>/agents/<id>/sessions/.
func (l *Layout) AgentSessionsDir(agentID string) string {
	return filepath.Join(l.AgentDir(agentID), "sessions")
}

// SessionTranscriptPath is <home>/agents/<id>/sessions/<sessionKey>/transcript.jsonl.
func (l *Layout) SessionTranscriptPath(agentID, sessionKey string) string {
	return filepath.Join(l.AgentSessionsDir(agentID), sanitizeKey(sessionKey), "transcript.jsonl")
}

// SessionsIndexPath is <home>/agents/<id>/sessions/sessions.json.
func (l *Layout) SessionsIndexPath(agentID string) string {
	return filepath.Join(l.AgentSessionsDir(agentID), "sessions.json")
}

// ProviderDir is <home>/providers/<id>/.
func (l *Layout) ProviderDir(providerID string) string {
	return filepath.Join(l.Home, "providers", providerID)
}

// ProviderConfigPath is <home>/providers/<id>/config.json: {providerId, env}.
func (l *Layout) ProviderConfigPath(providerID string) string {
	return filepath.Join(l.ProviderDir(providerID), "config.json")
}

// RunsDir is <home>/runs/.
func (l *Layout) RunsDir() string {
	return filepath.Join(l.Home, "runs")
}

// RunTracePath is <home>/runs/<runId>.json.
func (l *Layout) RunTracePath(runID string) string {
	return filepath.Join(l.RunsDir(), runID+".json")
}

// BoardsDBPath is <home>/boards.sqlite.
func (l *Layout) BoardsDBPath() string {
	return filepath.Join(l.Home, "boards.sqlite")
}

// sanitizeKey replaces path separators in a sessionKey (e.g. "agent:ceo:main")
// so it can be used as a directory component.
func sanitizeKey(sessionKey string) string {
	out := make([]rune, 0, len(sessionKey))
	for _, r := range sessionKey {
		switch r {
		case '/', '\\', ':':
			out = append(out, '_')
		default:
			out = append(out, r)
		}
	}
	return string(out)
}
