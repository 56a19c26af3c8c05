package acp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/opengoat/opengoat/internal/agent"
	"github.com/opengoat/opengoat/internal/common/logger"
	"github.com/opengoat/opengoat/internal/orchestrator"
	"github.com/opengoat/opengoat/internal/paths"
	"github.com/opengoat/opengoat/internal/provider"
	"github.com/opengoat/opengoat/internal/session"
	"github.com/opengoat/opengoat/pkg/acp/jsonrpc"
)

type fakeProvider struct {
	id    string
	execs []provider.Execution
	calls int
}

func (p *fakeProvider) Metadata() provider.Metadata {
	return provider.Metadata{ID: p.id, DisplayName: p.id, Kind: provider.KindCLI, Capabilities: provider.Capabilities{Agent: true}}
}

func (p *fakeProvider) Invoke(ctx context.Context, opts provider.InvokeOptions) (provider.Execution, error) {
	if p.calls >= len(p.execs) {
		return provider.Execution{Code: 0}, nil
	}
	exec := p.execs[p.calls]
	p.calls++
	return exec, nil
}

func (p *fakeProvider) Authenticate(ctx context.Context, opts provider.InvokeOptions) (provider.Execution, error) {
	return provider.Execution{Code: 0}, nil
}

func (p *fakeProvider) CreateExternalAgent(ctx context.Context, opts provider.InvokeOptions) (provider.Execution, error) {
	return provider.Execution{Code: 0}, nil
}

func (p *fakeProvider) DeleteExternalAgent(ctx context.Context, opts provider.InvokeOptions) (provider.Execution, error) {
	return provider.Execution{Code: 0}, nil
}

type testRig struct {
	t      *testing.T
	agents *agent.Registry
	out    *bytes.Buffer
	srv    *Server
}

func newRig(t *testing.T) *testRig {
	t.Helper()
	fs := paths.NewMemoryFilesystem()
	layout := paths.New("/home/.opengoat")
	log, err := logger.New(logger.Config{Level: "error", Format: "text", OutputPath: "stdout"})
	if err != nil {
		t.Fatalf("logger.New() error = %v", err)
	}

	agents := agent.NewRegistry(fs, layout, log)
	providers := provider.NewRegistry(fs, layout)
	clock := session.NewFixedClock(time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC))
	sessions := session.New(fs, layout, log, clock)
	orch := orchestrator.New(agents, providers, sessions, layout, fs, log, nil, 8)

	providers.Register(&fakeProvider{id: "echo", execs: []provider.Execution{
		{Code: 0, Stdout: "hello from ceo"},
		{Code: 0, Stdout: "second reply"},
	}})

	if _, err := agents.EnsureAgent(agent.CreateRequest{Name: "ceo", Provider: "echo"}); err != nil {
		t.Fatalf("EnsureAgent() error = %v", err)
	}

	out := &bytes.Buffer{}
	conn := jsonrpc.NewConn(nil, out, log)
	srv := NewServer(conn, orch, sessions, agents, providers, log)

	return &testRig{t: t, agents: agents, out: out, srv: srv}
}

// call feeds a single request line directly through the server's registered
// handler and returns the decoded result or error.
func (r *testRig) call(method string, params interface{}) (json.RawMessage, *jsonrpc.Error) {
	r.t.Helper()
	data, err := json.Marshal(params)
	if err != nil {
		r.t.Fatalf("marshal params: %v", err)
	}

	req := struct {
		ID     int             `json:"id"`
		Method string          `json:"method"`
		Params json.RawMessage `json:"params"`
	}{ID: 1, Method: method, Params: data}
	line, err := json.Marshal(req)
	if err != nil {
		r.t.Fatalf("marshal request: %v", err)
	}

	in := bytes.NewReader(append(line, '\n'))
	conn := jsonrpc.NewConn(in, r.out, r.srv.logger)
	r.srv.conn = conn
	r.srv.registerHandlers()

	if err := conn.Serve(context.Background()); err != nil {
		r.t.Fatalf("Serve() error = %v", err)
	}

	return r.lastResponse()
}

// lastResponse scans r.out for the most recent response (has "id"), leaving
// notifications in place for inspection via notifications().
func (r *testRig) lastResponse() (json.RawMessage, *jsonrpc.Error) {
	r.t.Helper()
	lines := splitLines(r.out.String())
	for i := len(lines) - 1; i >= 0; i-- {
		var resp jsonrpc.Response
		if err := json.Unmarshal([]byte(lines[i]), &resp); err != nil {
			continue
		}
		if resp.ID != nil {
			return resp.Result, resp.Error
		}
	}
	r.t.Fatalf("no response found in output: %q", r.out.String())
	return nil, nil
}

func (r *testRig) notifications() []string {
	var out []string
	for _, line := range splitLines(r.out.String()) {
		var n jsonrpc.Notification
		if err := json.Unmarshal([]byte(line), &n); err != nil {
			continue
		}
		if n.Method == jsonrpc.NotificationSessionUpdate {
			out = append(out, string(n.Params))
		}
	}
	return out
}

func splitLines(s string) []string {
	var lines []string
	sc := bufio.NewScanner(strings.NewReader(s))
	for sc.Scan() {
		if line := sc.Text(); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func TestInitializeReportsProtocolVersion(t *testing.T) {
	r := newRig(t)
	result, rpcErr := r.call(jsonrpc.MethodInitialize, struct{}{})
	if rpcErr != nil {
		t.Fatalf("initialize error = %+v", rpcErr)
	}
	var got initializeResult
	if err := json.Unmarshal(result, &got); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if got.ProtocolVersion != protocolVersion || !got.LoadSessionSupport {
		t.Fatalf("unexpected initialize result: %+v", got)
	}
}

func TestNewSessionDefaultsToHeadAgent(t *testing.T) {
	r := newRig(t)
	result, rpcErr := r.call(jsonrpc.MethodNewSession, newSessionParams{})
	if rpcErr != nil {
		t.Fatalf("newSession error = %+v", rpcErr)
	}
	var got sessionResult
	if err := json.Unmarshal(result, &got); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if got.AgentID != "ceo" || got.SessionID == "" {
		t.Fatalf("unexpected newSession result: %+v", got)
	}
}

func TestPromptReturnsEndTurnAndStreamsChunk(t *testing.T) {
	r := newRig(t)
	newSess, rpcErr := r.call(jsonrpc.MethodNewSession, newSessionParams{})
	if rpcErr != nil {
		t.Fatalf("newSession error = %+v", rpcErr)
	}
	var sess sessionResult
	json.Unmarshal(newSess, &sess)

	result, rpcErr := r.call(jsonrpc.MethodPrompt, promptParams{SessionID: sess.SessionID, Message: "hi"})
	if rpcErr != nil {
		t.Fatalf("prompt error = %+v", rpcErr)
	}
	var got promptResult
	if err := json.Unmarshal(result, &got); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if got.StopReason != jsonrpc.StopEndTurn {
		t.Fatalf("StopReason = %q, want %q", got.StopReason, jsonrpc.StopEndTurn)
	}

	notifs := r.notifications()
	if len(notifs) == 0 {
		t.Fatalf("expected at least one session/update notification")
	}
	found := false
	for _, n := range notifs {
		if strings.Contains(n, "hello from ceo") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a chunk containing the reply, got %v", notifs)
	}
}

func TestCancelOnIdleSessionIsBufferedForNextPrompt(t *testing.T) {
	r := newRig(t)
	newSess, _ := r.call(jsonrpc.MethodNewSession, newSessionParams{})
	var sess sessionResult
	json.Unmarshal(newSess, &sess)

	if _, rpcErr := r.call(jsonrpc.MethodCancel, cancelParams{SessionID: sess.SessionID}); rpcErr != nil {
		t.Fatalf("cancel error = %+v", rpcErr)
	}

	result, rpcErr := r.call(jsonrpc.MethodPrompt, promptParams{SessionID: sess.SessionID, Message: "hi"})
	if rpcErr != nil {
		t.Fatalf("prompt error = %+v", rpcErr)
	}
	var got promptResult
	json.Unmarshal(result, &got)
	if got.StopReason != jsonrpc.StopCancelled {
		t.Fatalf("StopReason = %q, want %q", got.StopReason, jsonrpc.StopCancelled)
	}
}

func TestSetSessionModeRejectsUnknownAgent(t *testing.T) {
	r := newRig(t)
	newSess, _ := r.call(jsonrpc.MethodNewSession, newSessionParams{})
	var sess sessionResult
	json.Unmarshal(newSess, &sess)

	_, rpcErr := r.call(jsonrpc.MethodSetSessionMode, setSessionModeParams{SessionID: sess.SessionID, AgentID: "nonexistent"})
	if rpcErr == nil {
		t.Fatalf("expected an error for an unknown agentId")
	}
}
