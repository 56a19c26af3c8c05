// Package routing implements the pure message-routing algorithm that picks
// which agent a free-text message should be delegated to.
package routing

// Candidate is one scored manifest considered during routing.
type Candidate struct {
	AgentID  string  `json:"agentId"`
	Score    float64 `json:"score"`
}

// Decision is the output of Route.
type Decision struct {
	EntryAgentID     string      `json:"entryAgentId"`
	TargetAgentID    string      `json:"targetAgentId"`
	Confidence       float64     `json:"confidence"`
	Reason           string      `json:"reason"`
	RewrittenMessage string      `json:"rewrittenMessage"`
	Candidates       []Candidate `json:"candidates"`
}

// Manifest is the subset of agent.Manifest the router scores against. Kept
// narrow so this package has no import-time dependency on internal/agent.
type Manifest struct {
	ID           string
	DisplayName  string
	Description  string
	Tags         []string
	Priority     int
	Discoverable bool
	IsHead       bool
	Body         string
}
