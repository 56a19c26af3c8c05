package acp

import (
	"sync"

	"github.com/opengoat/opengoat/internal/session"
)

// acpSession is one ACP-protocol session: a stable acpSessionID bound to a
// mutable target agent (changed via setSessionMode) and the internal
// sessionKey it maps onto, per spec.md §6's
// "acp:<sessionId>:main" scheme.
type acpSession struct {
	mu sync.Mutex

	id       string
	agentID  string
	busy     bool
	cancelled bool // buffered cancel on an idle session, consumed by the next prompt
}

func (s *acpSession) sessionKey() string {
	return session.BuildACPSessionKey(s.id, "main")
}

// sessionRegistry tracks every live ACP session by id, mirroring the
// teacher's SessionManager{sessions map[string]*Session, mu sync.RWMutex}
// shape, generalized from one session per agent container instance to one
// session per ACP client connection.
type sessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*acpSession
}

func newSessionRegistry() *sessionRegistry {
	return &sessionRegistry{sessions: make(map[string]*acpSession)}
}

func (r *sessionRegistry) create(id, agentID string) *acpSession {
	s := &acpSession{id: id, agentID: agentID}
	r.mu.Lock()
	r.sessions[id] = s
	r.mu.Unlock()
	return s
}

func (r *sessionRegistry) get(id string) (*acpSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

func (r *sessionRegistry) list() []*acpSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*acpSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}
