package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/opengoat/opengoat/internal/agent"
	"github.com/opengoat/opengoat/internal/common/logger"
	"github.com/opengoat/opengoat/internal/paths"
	"github.com/opengoat/opengoat/internal/provider"
	"github.com/opengoat/opengoat/internal/session"
)

// fakeProvider scripts an Execution (or error) per Invoke call, keyed by
// call index, for deterministic orchestrator tests.
type fakeProvider struct {
	id       string
	scripted []provider.Execution
	calls    int
}

func (p *fakeProvider) Metadata() provider.Metadata {
	return provider.Metadata{ID: p.id, DisplayName: p.id, Kind: provider.KindCLI, Capabilities: provider.Capabilities{Agent: true}}
}

func (p *fakeProvider) Invoke(ctx context.Context, opts provider.InvokeOptions) (provider.Execution, error) {
	if p.calls >= len(p.scripted) {
		return provider.Execution{Code: 0}, nil
	}
	exec := p.scripted[p.calls]
	p.calls++
	return exec, nil
}

func (p *fakeProvider) Authenticate(ctx context.Context, opts provider.InvokeOptions) (provider.Execution, error) {
	return provider.Execution{}, nil
}

func (p *fakeProvider) CreateExternalAgent(ctx context.Context, opts provider.InvokeOptions) (provider.Execution, error) {
	return provider.Execution{Code: 0}, nil
}

func (p *fakeProvider) DeleteExternalAgent(ctx context.Context, opts provider.InvokeOptions) (provider.Execution, error) {
	return provider.Execution{Code: 0}, nil
}

type testHarness struct {
	t            *testing.T
	fs           paths.Filesystem
	layout       *paths.Layout
	agents       *agent.Registry
	providers    *provider.Registry
	sessions     *session.Engine
	clock        *session.FixedClock
	orchestrator *Orchestrator
}

func newHarness(t *testing.T) *testHarness {
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

	orch := New(agents, providers, sessions, layout, fs, log, nil, 4)

	return &testHarness{t: t, fs: fs, layout: layout, agents: agents, providers: providers, sessions: sessions, clock: clock, orchestrator: orch}
}
