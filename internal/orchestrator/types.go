// Package orchestrator implements runAgent: resolving the entry agent,
// routing, preparing a session, invoking a provider, and recording the
// result, per spec.md §4.4.
package orchestrator

import (
	"time"

	"github.com/opengoat/opengoat/internal/routing"
	"github.com/opengoat/opengoat/internal/session"
)

// StopReason classifies how a run ended.
type StopReason string

const (
	StopCompleted StopReason = "completed"
	StopCancelled StopReason = "cancelled"
)

// RunOptions is the input to runAgent.
type RunOptions struct {
	Message            string
	SystemPrompt       string
	Model              string
	Cwd                string // caller cwd, used when the target agent's workspaceAccess is "external"
	SessionRef         string
	SessionKeyOverride string // set by the ACP façade, which owns its own "acp:<id>:main" sessionKey form
	ForceNewSession    bool
	DisableSession     bool
	Env                map[string]string
	PassthroughArgs    []string
	OnStdout           func(chunk string)
	OnStderr           func(chunk string)
}

// RunResult is the output of runAgent.
type RunResult struct {
	RunID         string           `json:"runId"`
	Code          int              `json:"code"`
	Stdout        string           `json:"stdout"`
	Stderr        string           `json:"stderr"`
	ProviderID    string           `json:"providerId"`
	EntryAgentID  string           `json:"entryAgentId"`
	TargetAgentID string           `json:"targetAgentId"`
	TracePath     string           `json:"tracePath"`
	StopReason    StopReason       `json:"stopReason"`
	Session       *session.Info    `json:"session,omitempty"`
	Routing       *routing.Decision `json:"routing,omitempty"`
}

// RunTrace is the JSON shape persisted to runs/<runId>.json.
type RunTrace struct {
	RunID         string            `json:"runId"`
	EntryAgentID  string            `json:"entryAgentId"`
	TargetAgentID string            `json:"targetAgentId"`
	ProviderID    string            `json:"providerId"`
	StartedAt     time.Time         `json:"startedAt"`
	CompletedAt   time.Time         `json:"completedAt"`
	Code          int               `json:"code"`
	Stdout        string            `json:"stdout"`
	Stderr        string            `json:"stderr"`
	StopReason    StopReason        `json:"stopReason"`
	Routing       *routing.Decision `json:"routing,omitempty"`
	Session       *session.Info     `json:"session,omitempty"`
}
