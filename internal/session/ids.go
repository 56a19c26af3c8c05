package session

import "github.com/google/uuid"

// newSessionID mints a new wire-visible session id, handed to providers and
// ACP clients on session rotation.
func newSessionID() string {
	return uuid.New().String()
}

// NewID mints a UUID for use outside this package, e.g. the orchestrator's
// runId.
func NewID() string {
	return uuid.New().String()
}
