// Package acp implements the Agent-Client-Protocol façade of spec.md §6: a
// JSON-RPC 2.0 server over stdio wrapping a single orchestrator instance,
// mapping ACP sessionIds onto internal sessionKeys and streaming prompt
// replies back as agent_message_chunk notifications.
package acp

import (
	"context"
	"encoding/json"

	"github.com/opengoat/opengoat/internal/agent"
	goerrors "github.com/opengoat/opengoat/internal/common/errors"
	"github.com/opengoat/opengoat/internal/common/logger"
	"github.com/opengoat/opengoat/internal/orchestrator"
	"github.com/opengoat/opengoat/internal/provider"
	"github.com/opengoat/opengoat/internal/session"
	"github.com/opengoat/opengoat/pkg/acp/jsonrpc"
)

const protocolVersion = 1

// Server implements the nine ACP operations named in spec.md §6:
// initialize, newSession, loadSession, resumeSession, listSessions,
// setSessionMode, prompt, cancel, authenticate.
type Server struct {
	conn         *jsonrpc.Conn
	orchestrator *orchestrator.Orchestrator
	sessions     *session.Engine
	agents       *agent.Registry
	providers    *provider.Registry
	logger       *logger.Logger

	registry *sessionRegistry
}

// NewServer constructs a Server. conn is wired by the caller (cmd/opengoatd)
// over the process's real stdin/stdout; tests use an in-memory jsonrpc.Conn.
func NewServer(conn *jsonrpc.Conn, orch *orchestrator.Orchestrator, sessions *session.Engine, agents *agent.Registry, providers *provider.Registry, log *logger.Logger) *Server {
	s := &Server{
		conn:         conn,
		orchestrator: orch,
		sessions:     sessions,
		agents:       agents,
		providers:    providers,
		logger:       log,
		registry:     newSessionRegistry(),
	}
	s.registerHandlers()
	return s
}

func (s *Server) registerHandlers() {
	s.conn.Handle(jsonrpc.MethodInitialize, s.handleInitialize)
	s.conn.Handle(jsonrpc.MethodNewSession, s.handleNewSession)
	s.conn.Handle(jsonrpc.MethodLoadSession, s.handleLoadSession)
	s.conn.Handle(jsonrpc.MethodResumeSession, s.handleResumeSession)
	s.conn.Handle(jsonrpc.MethodListSessions, s.handleListSessions)
	s.conn.Handle(jsonrpc.MethodSetSessionMode, s.handleSetSessionMode)
	s.conn.Handle(jsonrpc.MethodPrompt, s.handlePrompt)
	s.conn.Handle(jsonrpc.MethodCancel, s.handleCancel)
	s.conn.Handle(jsonrpc.MethodAuthenticate, s.handleAuthenticate)
}

// Serve blocks reading and dispatching requests until ctx is cancelled or
// the transport closes.
func (s *Server) Serve(ctx context.Context) error {
	return s.conn.Serve(ctx)
}

type initializeResult struct {
	ProtocolVersion    int  `json:"protocolVersion"`
	LoadSessionSupport bool `json:"loadSessionSupport"`
}

func (s *Server) handleInitialize(ctx context.Context, _ json.RawMessage) (interface{}, *jsonrpc.Error) {
	return initializeResult{ProtocolVersion: protocolVersion, LoadSessionSupport: true}, nil
}

type newSessionParams struct {
	AgentID string `json:"agentId"`
}

type sessionResult struct {
	SessionID string `json:"sessionId"`
	AgentID   string `json:"agentId"`
}

func (s *Server) handleNewSession(ctx context.Context, raw json.RawMessage) (interface{}, *jsonrpc.Error) {
	var p newSessionParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, invalidParams(err)
	}

	agentID, rpcErr := s.resolveAgentID(p.AgentID)
	if rpcErr != nil {
		return nil, rpcErr
	}

	sess := s.registry.create(session.NewID(), agentID)
	return sessionResult{SessionID: sess.id, AgentID: sess.agentID}, nil
}

type loadSessionParams struct {
	SessionID string `json:"sessionId"`
	AgentID   string `json:"agentId"`
}

// handleLoadSession replays an existing session's transcript as a stream of
// agent_message_chunk notifications, per spec.md §6.
func (s *Server) handleLoadSession(ctx context.Context, raw json.RawMessage) (interface{}, *jsonrpc.Error) {
	return s.loadOrResume(ctx, raw)
}

// handleResumeSession re-attaches an in-memory acpSession to a sessionKey
// whose transcript may already exist from before a process restart; the
// façade's sessionRegistry is purely in-memory, so resuming just means
// recreating the wrapper and replaying history exactly like loadSession.
func (s *Server) handleResumeSession(ctx context.Context, raw json.RawMessage) (interface{}, *jsonrpc.Error) {
	return s.loadOrResume(ctx, raw)
}

func (s *Server) loadOrResume(ctx context.Context, raw json.RawMessage) (interface{}, *jsonrpc.Error) {
	var p loadSessionParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, invalidParams(err)
	}
	if p.SessionID == "" {
		return nil, &jsonrpc.Error{Code: jsonrpc.InvalidParams, Message: "sessionId is required"}
	}

	agentID, rpcErr := s.resolveAgentID(p.AgentID)
	if rpcErr != nil {
		return nil, rpcErr
	}

	sess, ok := s.registry.get(p.SessionID)
	if !ok {
		sess = s.registry.create(p.SessionID, agentID)
	} else if p.AgentID != "" {
		sess.mu.Lock()
		sess.agentID = agentID
		sess.mu.Unlock()
	}

	history, err := s.sessions.GetSessionHistory(sess.agentID, session.HistoryOptions{
		SessionKeyOverride: sess.sessionKey(),
	})
	if err != nil {
		return nil, toRPCError(err)
	}
	for _, entry := range history.Messages {
		s.notifyChunk(sess.id, entry.Content)
	}

	return sessionResult{SessionID: sess.id, AgentID: sess.agentID}, nil
}

type listSessionsResult struct {
	Sessions []sessionResult `json:"sessions"`
}

func (s *Server) handleListSessions(ctx context.Context, _ json.RawMessage) (interface{}, *jsonrpc.Error) {
	sessions := s.registry.list()
	out := make([]sessionResult, 0, len(sessions))
	for _, sess := range sessions {
		sess.mu.Lock()
		out = append(out, sessionResult{SessionID: sess.id, AgentID: sess.agentID})
		sess.mu.Unlock()
	}
	return listSessionsResult{Sessions: out}, nil
}

type setSessionModeParams struct {
	SessionID string `json:"sessionId"`
	AgentID   string `json:"agentId"`
}

// handleSetSessionMode retargets an existing ACP session at a different
// agent, per spec.md §6.
func (s *Server) handleSetSessionMode(ctx context.Context, raw json.RawMessage) (interface{}, *jsonrpc.Error) {
	var p setSessionModeParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, invalidParams(err)
	}
	sess, ok := s.registry.get(p.SessionID)
	if !ok {
		return nil, &jsonrpc.Error{Code: jsonrpc.InvalidParams, Message: "unknown sessionId"}
	}
	agentID, rpcErr := s.resolveAgentID(p.AgentID)
	if rpcErr != nil {
		return nil, rpcErr
	}

	sess.mu.Lock()
	sess.agentID = agentID
	sess.mu.Unlock()

	return sessionResult{SessionID: sess.id, AgentID: agentID}, nil
}

type promptParams struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
}

type promptResult struct {
	StopReason jsonrpc.StopReason `json:"stopReason"`
}

// handlePrompt implements spec.md §6's prompt contract: at most one
// in-flight prompt per sessionId, a single streamed agent_message_chunk,
// then a terminal stopReason.
func (s *Server) handlePrompt(ctx context.Context, raw json.RawMessage) (interface{}, *jsonrpc.Error) {
	var p promptParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, invalidParams(err)
	}
	sess, ok := s.registry.get(p.SessionID)
	if !ok {
		return nil, &jsonrpc.Error{Code: jsonrpc.InvalidParams, Message: "unknown sessionId"}
	}

	sess.mu.Lock()
	if sess.busy {
		sess.mu.Unlock()
		return nil, &jsonrpc.Error{Code: jsonrpc.InvalidRequest, Message: "a prompt is already in flight for this session"}
	}
	consumeCancel := sess.cancelled
	sess.cancelled = false
	sess.busy = true
	agentID := sess.agentID
	sess.mu.Unlock()

	defer func() {
		sess.mu.Lock()
		sess.busy = false
		sess.mu.Unlock()
	}()

	if consumeCancel {
		s.orchestrator.Cancel(sess.sessionKey())
	}

	result, err := s.orchestrator.RunAgent(ctx, agentID, orchestrator.RunOptions{
		Message:            p.Message,
		SessionKeyOverride: sess.sessionKey(),
	})
	if err != nil {
		return nil, toRPCError(err)
	}

	if result.StopReason == orchestrator.StopCancelled {
		return promptResult{StopReason: jsonrpc.StopCancelled}, nil
	}
	s.notifyChunk(sess.id, result.Stdout)
	if result.Code != 0 {
		return promptResult{StopReason: jsonrpc.StopRefusal}, nil
	}
	return promptResult{StopReason: jsonrpc.StopEndTurn}, nil
}

type cancelParams struct {
	SessionID string `json:"sessionId"`
}

// handleCancel cancels an in-flight prompt immediately, or buffers the
// cancel for the next prompt if the session is currently idle, per
// spec.md §6.
func (s *Server) handleCancel(ctx context.Context, raw json.RawMessage) (interface{}, *jsonrpc.Error) {
	var p cancelParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, invalidParams(err)
	}
	sess, ok := s.registry.get(p.SessionID)
	if !ok {
		return nil, &jsonrpc.Error{Code: jsonrpc.InvalidParams, Message: "unknown sessionId"}
	}

	sess.mu.Lock()
	busy := sess.busy
	if !busy {
		sess.cancelled = true
	}
	sess.mu.Unlock()

	if busy {
		s.orchestrator.Cancel(sess.sessionKey())
	}
	return struct{}{}, nil
}

type authenticateParams struct {
	ProviderID string            `json:"providerId"`
	Env        map[string]string `json:"env"`
}

func (s *Server) handleAuthenticate(ctx context.Context, raw json.RawMessage) (interface{}, *jsonrpc.Error) {
	var p authenticateParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, invalidParams(err)
	}
	exec, err := s.providers.Authenticate(ctx, p.ProviderID, provider.InvokeOptions{Env: p.Env})
	if err != nil {
		return nil, toRPCError(err)
	}
	return authenticateResult{Code: exec.Code}, nil
}

type authenticateResult struct {
	Code int `json:"code"`
}

func (s *Server) resolveAgentID(requested string) (string, *jsonrpc.Error) {
	if requested != "" {
		if _, ok := s.agents.Get(requested); !ok {
			return "", &jsonrpc.Error{Code: jsonrpc.InvalidParams, Message: "unknown agentId"}
		}
		return requested, nil
	}
	head, err := s.agents.DefaultHead()
	if err != nil {
		return "", toRPCError(err)
	}
	return head.ID, nil
}

type sessionUpdateNotification struct {
	SessionID string `json:"sessionId"`
	Update    struct {
		SessionUpdate string `json:"sessionUpdate"`
		Content       string `json:"content"`
	} `json:"update"`
}

func (s *Server) notifyChunk(sessionID, content string) {
	n := sessionUpdateNotification{SessionID: sessionID}
	n.Update.SessionUpdate = "agent_message_chunk"
	n.Update.Content = content
	if err := s.conn.Notify(jsonrpc.NotificationSessionUpdate, n); err != nil {
		s.logger.Warn("failed to send session/update notification")
	}
}

func invalidParams(err error) *jsonrpc.Error {
	return &jsonrpc.Error{Code: jsonrpc.InvalidParams, Message: err.Error()}
}

// toRPCError maps the AppError taxonomy onto JSON-RPC error codes.
func toRPCError(err error) *jsonrpc.Error {
	if goerrors.IsNotFound(err) {
		return &jsonrpc.Error{Code: jsonrpc.InvalidParams, Message: err.Error()}
	}
	if goerrors.IsConflict(err) || goerrors.IsSessionBusy(err) {
		return &jsonrpc.Error{Code: jsonrpc.InvalidRequest, Message: err.Error()}
	}
	return &jsonrpc.Error{Code: jsonrpc.InternalError, Message: err.Error()}
}
