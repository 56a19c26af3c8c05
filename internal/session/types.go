// Package session implements the session engine: per-sessionKey transcript
// storage, reset policies, pruning, compaction, and the active-run claim
// that guarantees at most one run per session.
package session

import "time"

// ResetMode selects when a session's sessionId rotates automatically.
type ResetMode string

const (
	ResetDaily  ResetMode = "daily"
	ResetIdle   ResetMode = "idle"
	ResetManual ResetMode = "manual"
)

// ResetPolicy controls automatic session rotation.
type ResetPolicy struct {
	Mode        ResetMode `json:"mode"`
	AtHour      int       `json:"atHour,omitempty"`      // local wall-clock hour, for ResetDaily
	IdleMinutes int       `json:"idleMinutes,omitempty"` // for ResetIdle
}

// DefaultResetPolicy never rotates automatically.
func DefaultResetPolicy() ResetPolicy {
	return ResetPolicy{Mode: ResetManual}
}

// PruningPolicy bounds transcript size without summarization.
type PruningPolicy struct {
	MaxMessages        int `json:"maxMessages"`
	MaxChars           int `json:"maxChars"`
	KeepRecentMessages int `json:"keepRecentMessages"`
}

// DefaultPruningPolicy is generous enough to rarely trigger in tests.
func DefaultPruningPolicy() PruningPolicy {
	return PruningPolicy{MaxMessages: 500, MaxChars: 400_000, KeepRecentMessages: 10}
}

// CompactionPolicy bounds transcript size via summarization of the prefix.
type CompactionPolicy struct {
	TriggerMessageCount int `json:"triggerMessageCount"`
	TriggerChars        int `json:"triggerChars"`
	KeepRecentMessages  int `json:"keepRecentMessages"`
	SummaryMaxChars     int `json:"summaryMaxChars"`
}

// DefaultCompactionPolicy is generous enough to rarely trigger in tests.
func DefaultCompactionPolicy() CompactionPolicy {
	return CompactionPolicy{TriggerMessageCount: 200, TriggerChars: 200_000, KeepRecentMessages: 10, SummaryMaxChars: 4000}
}

// EntryKind distinguishes transcript entry types.
type EntryKind string

const (
	EntryUserMessage       EntryKind = "user_message"
	EntryAssistantMessage  EntryKind = "assistant_message"
	EntryCompactionSummary EntryKind = "compaction_summary"
)

// TranscriptEntry is one line of a session's transcript.jsonl.
type TranscriptEntry struct {
	Ts      time.Time `json:"ts"`
	Kind    EntryKind `json:"kind"`
	Content string    `json:"content"`
}

// Meta is the persisted-per-sessionKey metadata kept in sessions.json.
type Meta struct {
	SessionKey      string            `json:"sessionKey"`
	SessionID       string            `json:"sessionId"`
	AgentID         string            `json:"agentId"`
	CreatedAt       time.Time         `json:"createdAt"`
	LastActivityAt  time.Time         `json:"lastActivityAt"`
	TranscriptPath  string            `json:"transcriptPath"`
	CompactionCount int               `json:"compactionCount"`
	Rotations       int               `json:"rotations"`
	Title           string            `json:"title,omitempty"`
	ProjectPath     string            `json:"projectPath,omitempty"`
	ResetPolicy     ResetPolicy       `json:"resetPolicy"`
	Pruning         PruningPolicy     `json:"pruning"`
	Compaction      CompactionPolicy  `json:"compaction"`
}

// Index is the persisted shape of agents/<id>/sessions/sessions.json.
type Index struct {
	SchemaVersion int             `json:"schemaVersion"`
	Sessions      map[string]Meta `json:"sessions"`
}

// SessionSummary is the read-side shape returned by ListSessions.
type SessionSummary struct {
	SessionKey     string    `json:"sessionKey"`
	SessionID      string    `json:"sessionId"`
	AgentID        string    `json:"agentId"`
	Title          string    `json:"title,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	LastActivityAt time.Time `json:"lastActivityAt"`
	MessageCount   int       `json:"messageCount"`
}

// PrepareOptions is the input to PrepareRunSession.
type PrepareOptions struct {
	SessionRef         string // defaults to "main"
	ForceNew           bool
	Disable            bool
	UserMessage        string
	ProjectPath        string // caller's cwd, compared against the agent workspace
	WorkspaceDir       string // the agent's own workspace directory
	SessionKeyOverride string // set by the ACP façade, which owns its own sessionKey form
}

// SessionKeyOverrideOrDefault returns o.SessionKeyOverride if set, otherwise
// the default "agent:<agentID>:<ref>" form.
func (o PrepareOptions) SessionKeyOverrideOrDefault(agentID, ref string) string {
	if o.SessionKeyOverride != "" {
		return o.SessionKeyOverride
	}
	return BuildAgentSessionKey(agentID, ref)
}

// Info describes a prepared session to the orchestrator.
type Info struct {
	SessionKey     string
	SessionID      string
	AgentID        string
	TranscriptPath string
	WorkspaceDir   string
	ProjectPath    string
	IsNewSession   bool
}

// PrepareResult is the output of PrepareRunSession.
type PrepareResult struct {
	Enabled           bool
	Info              Info
	CompactionApplied bool
	ContextPrompt     string
	Cancelled         bool
}

// CompactionResult is returned by RecordAssistantReply.
type CompactionResult struct {
	Applied            bool
	CompactedMessages  int
	Summary            string
}

// HistoryOptions is the input to GetSessionHistory.
type HistoryOptions struct {
	SessionRef         string
	Limit              int
	IncludeCompaction  bool
	SessionKeyOverride string // set by the ACP façade, mirroring PrepareOptions
}

// SessionKeyOverrideOrDefault returns o.SessionKeyOverride if set, otherwise
// the default "agent:<agentID>:<ref>" form.
func (o HistoryOptions) SessionKeyOverrideOrDefault(agentID, ref string) string {
	if o.SessionKeyOverride != "" {
		return o.SessionKeyOverride
	}
	return BuildAgentSessionKey(agentID, ref)
}

// History is the output of GetSessionHistory.
type History struct {
	SessionKey string
	Messages   []TranscriptEntry
}

// buildSessionKey joins the ("agent"|"acp") kind, an id, and a ref suffix
// into the wire-format sessionKey, per spec.md §3.
func buildSessionKey(kind, id, ref string) string {
	if ref == "" {
		ref = "main"
	}
	return kind + ":" + id + ":" + ref
}

// BuildAgentSessionKey returns "agent:<id>:<ref>".
func BuildAgentSessionKey(agentID, ref string) string {
	return buildSessionKey("agent", agentID, ref)
}

// BuildACPSessionKey returns "acp:<sessionId>:<ref>".
func BuildACPSessionKey(acpSessionID, ref string) string {
	return buildSessionKey("acp", acpSessionID, ref)
}
