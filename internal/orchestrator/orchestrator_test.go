package orchestrator

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/opengoat/opengoat/internal/agent"
	"github.com/opengoat/opengoat/internal/provider"
)

func TestRunAgentDirectSingleAgentRun(t *testing.T) {
	h := newHarness(t)

	ceo, err := h.agents.EnsureAgent(agent.CreateRequest{Name: "ceo", Provider: "echo"})
	if err != nil {
		t.Fatalf("EnsureAgent() error = %v", err)
	}

	h.providers.Register(&fakeProvider{
		id:       "echo",
		scripted: []provider.Execution{{Code: 0, Stdout: "hello from ceo\n"}},
	})

	result, err := h.orchestrator.RunAgent(context.Background(), "ceo", RunOptions{Message: "hello", Cwd: "/tmp/proj"})
	if err != nil {
		t.Fatalf("RunAgent() error = %v", err)
	}
	if result.Code != 0 {
		t.Fatalf("Code = %d, want 0", result.Code)
	}
	if !strings.Contains(result.Stdout, "hello from ceo") {
		t.Fatalf("Stdout = %q, want to contain %q", result.Stdout, "hello from ceo")
	}
	if result.EntryAgentID != ceo.ID {
		t.Fatalf("EntryAgentID = %q, want %q", result.EntryAgentID, ceo.ID)
	}
	if result.TracePath == "" || !h.fs.Exists(result.TracePath) {
		t.Fatalf("expected a trace file to exist at %q", result.TracePath)
	}

	trace, err := ReadRunTrace(h.fs, h.layout, result.RunID)
	if err != nil {
		t.Fatalf("ReadRunTrace() error = %v", err)
	}
	if trace.EntryAgentID != "ceo" || trace.Code != 0 {
		t.Fatalf("unexpected trace: %+v", trace)
	}

	summaries, err := h.sessions.ListSessions("ceo")
	if err != nil {
		t.Fatalf("ListSessions() error = %v", err)
	}
	if len(summaries) != 1 {
		t.Fatalf("len(summaries) = %d, want 1", len(summaries))
	}
	if summaries[0].SessionKey != "agent:ceo:main" {
		t.Fatalf("SessionKey = %q, want agent:ceo:main", summaries[0].SessionKey)
	}
	if summaries[0].MessageCount != 2 {
		t.Fatalf("MessageCount = %d, want 2 (one user, one assistant)", summaries[0].MessageCount)
	}
}

func TestRunAgentRoutesToSpecialist(t *testing.T) {
	h := newHarness(t)

	if _, err := h.agents.EnsureAgent(agent.CreateRequest{Name: "ceo"}); err != nil {
		t.Fatalf("EnsureAgent(ceo) error = %v", err)
	}
	writer, err := h.agents.EnsureAgent(agent.CreateRequest{Name: "writer", ReportsTo: "ceo", Provider: "echo-writer"})
	if err != nil {
		t.Fatalf("EnsureAgent(writer) error = %v", err)
	}
	writer.Tags = []string{"docs", "markdown"}
	writer.Description = "drafts project documentation"

	h.providers.Register(&fakeProvider{
		id:       "echo-writer",
		scripted: []provider.Execution{{Code: 0, Stdout: "ABOUT.md drafted"}},
	})

	result, err := h.orchestrator.RunAgent(context.Background(), "ceo", RunOptions{Message: "Please create ABOUT.md with markdown docs"})
	if err != nil {
		t.Fatalf("RunAgent() error = %v", err)
	}
	if result.TargetAgentID != "writer" {
		t.Fatalf("TargetAgentID = %q, want writer", result.TargetAgentID)
	}
	if !strings.Contains(result.Stdout, "ABOUT.md drafted") {
		t.Fatalf("Stdout = %q, want to contain %q", result.Stdout, "ABOUT.md drafted")
	}
	if result.Routing == nil || result.Routing.TargetAgentID != "writer" {
		t.Fatalf("expected routing decision naming writer, got %+v", result.Routing)
	}

	summaries, err := h.sessions.ListSessions("writer")
	if err != nil {
		t.Fatalf("ListSessions(writer) error = %v", err)
	}
	if len(summaries) != 1 {
		t.Fatalf("expected exactly one writer session, got %d", len(summaries))
	}
}

func TestRunAgentCancellationSkipsReplyRecording(t *testing.T) {
	h := newHarness(t)

	if _, err := h.agents.EnsureAgent(agent.CreateRequest{Name: "ceo", Provider: "echo"}); err != nil {
		t.Fatalf("EnsureAgent() error = %v", err)
	}
	h.providers.Register(&fakeProvider{
		id:       "echo",
		scripted: []provider.Execution{{Code: 0, Stdout: "should not be recorded"}},
	})

	h.orchestrator.Cancel("agent:ceo:main")

	result, err := h.orchestrator.RunAgent(context.Background(), "ceo", RunOptions{Message: "hello"})
	if err != nil {
		t.Fatalf("RunAgent() error = %v", err)
	}
	if result.StopReason != StopCancelled {
		t.Fatalf("StopReason = %q, want %q", result.StopReason, StopCancelled)
	}

	summaries, err := h.sessions.ListSessions("ceo")
	if err != nil {
		t.Fatalf("ListSessions() error = %v", err)
	}
	if len(summaries) != 0 {
		t.Fatalf("expected no session to have been created for a pre-cancelled run, got %+v", summaries)
	}
}

func TestRunAgentMaxParallelFlowsBlocksUntilSlotFrees(t *testing.T) {
	h := newHarness(t)
	h.orchestrator.slots = make(chan struct{}, 1)
	h.orchestrator.slots <- struct{}{} // saturate the single slot

	if _, err := h.agents.EnsureAgent(agent.CreateRequest{Name: "ceo", Provider: "echo"}); err != nil {
		t.Fatalf("EnsureAgent() error = %v", err)
	}
	h.providers.Register(&fakeProvider{
		id:       "echo",
		scripted: []provider.Execution{{Code: 0, Stdout: "done"}},
	})

	// A context that is never cancelled: RunAgent must block on the
	// saturated slot rather than returning an error immediately.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := h.orchestrator.RunAgent(ctx, "ceo", RunOptions{Message: "hello"})
		done <- err
	}()

	select {
	case err := <-done:
		t.Fatalf("expected RunAgent to block while saturated, got err=%v", err)
	case <-time.After(20 * time.Millisecond):
	}

	h.orchestrator.releaseSlot() // free the slot held above

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("RunAgent() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("RunAgent did not unblock after a slot freed")
	}
}

func TestRunAgentMaxParallelFlowsCancelledWhileWaiting(t *testing.T) {
	h := newHarness(t)
	h.orchestrator.slots = make(chan struct{}, 1)
	h.orchestrator.slots <- struct{}{} // saturate the single slot

	if _, err := h.agents.EnsureAgent(agent.CreateRequest{Name: "ceo", Provider: "echo"}); err != nil {
		t.Fatalf("EnsureAgent() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.orchestrator.RunAgent(ctx, "ceo", RunOptions{Message: "hello"})
	if err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRunAgentUnknownEntryFallsBackToHead(t *testing.T) {
	h := newHarness(t)

	ceo, err := h.agents.EnsureAgent(agent.CreateRequest{Name: "ceo", Provider: "echo"})
	if err != nil {
		t.Fatalf("EnsureAgent() error = %v", err)
	}
	h.providers.Register(&fakeProvider{
		id:       "echo",
		scripted: []provider.Execution{{Code: 0, Stdout: "hi"}},
	})

	result, err := h.orchestrator.RunAgent(context.Background(), "nonexistent", RunOptions{Message: "hello"})
	if err != nil {
		t.Fatalf("RunAgent() error = %v", err)
	}
	if result.EntryAgentID != ceo.ID {
		t.Fatalf("EntryAgentID = %q, want fallback to head %q", result.EntryAgentID, ceo.ID)
	}
}

func TestRunAgentEmptyRegistryIsNotFound(t *testing.T) {
	h := newHarness(t)

	_, err := h.orchestrator.RunAgent(context.Background(), "nonexistent", RunOptions{Message: "hello"})
	if err == nil {
		t.Fatalf("expected an error when no agents exist")
	}
}
