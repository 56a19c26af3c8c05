package session

import (
	"testing"
	"time"

	goerrors "github.com/opengoat/opengoat/internal/common/errors"
)

func TestPrepareRunSessionCreatesAndRoundTrips(t *testing.T) {
	e, _ := newTestEngine(t)

	result, err := e.PrepareRunSession("ceo", "run-1", PrepareOptions{UserMessage: "hello"})
	if err != nil {
		t.Fatalf("PrepareRunSession() error = %v", err)
	}
	if !result.Enabled {
		t.Fatalf("expected session enabled")
	}
	if !result.Info.IsNewSession {
		t.Fatalf("expected first prepare to report a new session")
	}
	if result.Info.SessionKey != "agent:ceo:main" {
		t.Fatalf("SessionKey = %q, want agent:ceo:main", result.Info.SessionKey)
	}

	if _, err := e.RecordAssistantReply(result.Info, "hi there"); err != nil {
		t.Fatalf("RecordAssistantReply() error = %v", err)
	}

	history, err := e.GetSessionHistory("ceo", HistoryOptions{})
	if err != nil {
		t.Fatalf("GetSessionHistory() error = %v", err)
	}
	if len(history.Messages) != 2 {
		t.Fatalf("len(Messages) = %d, want 2", len(history.Messages))
	}
	if history.Messages[0].Content != "hello" || history.Messages[0].Kind != EntryUserMessage {
		t.Fatalf("unexpected first entry: %+v", history.Messages[0])
	}
	if history.Messages[1].Content != "hi there" || history.Messages[1].Kind != EntryAssistantMessage {
		t.Fatalf("unexpected second entry: %+v", history.Messages[1])
	}
}

func TestPrepareRunSessionBusyWhenClaimHeld(t *testing.T) {
	e, _ := newTestEngine(t)

	result, err := e.PrepareRunSession("ceo", "run-1", PrepareOptions{UserMessage: "first"})
	if err != nil {
		t.Fatalf("PrepareRunSession() error = %v", err)
	}

	_, err = e.PrepareRunSession("ceo", "run-2", PrepareOptions{UserMessage: "second"})
	if !goerrors.IsSessionBusy(err) {
		t.Fatalf("expected SessionBusy error, got %v", err)
	}

	if _, err := e.RecordAssistantReply(result.Info, "reply"); err != nil {
		t.Fatalf("RecordAssistantReply() error = %v", err)
	}

	if _, err := e.PrepareRunSession("ceo", "run-3", PrepareOptions{UserMessage: "third"}); err != nil {
		t.Fatalf("expected claim to be free after reply, got %v", err)
	}
}

func TestPruningBoundsTranscriptLength(t *testing.T) {
	e, clock := newTestEngine(t)
	_ = clock

	idx := Index{SchemaVersion: 1, Sessions: map[string]Meta{}}
	sessionKey := BuildAgentSessionKey("ceo", "main")
	idx.Sessions[sessionKey] = Meta{
		SessionKey:     sessionKey,
		SessionID:      newSessionID(),
		AgentID:        "ceo",
		TranscriptPath: e.layout.SessionTranscriptPath("ceo", sessionKey),
		ResetPolicy:    DefaultResetPolicy(),
		Pruning:        PruningPolicy{MaxMessages: 5, KeepRecentMessages: 2},
		Compaction:     CompactionPolicy{KeepRecentMessages: 2},
	}
	if err := writeIndex(e.fs, e.layout, "ceo", idx); err != nil {
		t.Fatalf("writeIndex() error = %v", err)
	}

	for i := 0; i < 10; i++ {
		result, err := e.PrepareRunSession("ceo", "run", PrepareOptions{UserMessage: "msg"})
		if err != nil {
			t.Fatalf("PrepareRunSession() iteration %d error = %v", i, err)
		}
		if _, err := e.RecordAssistantReply(result.Info, "reply"); err != nil {
			t.Fatalf("RecordAssistantReply() iteration %d error = %v", i, err)
		}
	}

	history, err := e.GetSessionHistory("ceo", HistoryOptions{IncludeCompaction: true})
	if err != nil {
		t.Fatalf("GetSessionHistory() error = %v", err)
	}
	if len(history.Messages) > 5 {
		t.Fatalf("len(Messages) = %d, want <= 5 (maxMessages bound)", len(history.Messages))
	}
}

func TestCompactionKeepsTailAndSingleSummary(t *testing.T) {
	e, _ := newTestEngine(t)

	idx := Index{SchemaVersion: 1, Sessions: map[string]Meta{}}
	sessionKey := BuildAgentSessionKey("ceo", "main")
	idx.Sessions[sessionKey] = Meta{
		SessionKey:     sessionKey,
		SessionID:      newSessionID(),
		AgentID:        "ceo",
		TranscriptPath: e.layout.SessionTranscriptPath("ceo", sessionKey),
		ResetPolicy:    DefaultResetPolicy(),
		Pruning:        DefaultPruningPolicy(),
		Compaction:     CompactionPolicy{TriggerMessageCount: 6, KeepRecentMessages: 2, SummaryMaxChars: 2000},
	}
	if err := writeIndex(e.fs, e.layout, "ceo", idx); err != nil {
		t.Fatalf("writeIndex() error = %v", err)
	}

	for i := 0; i < 4; i++ {
		result, err := e.PrepareRunSession("ceo", "run", PrepareOptions{UserMessage: "msg"})
		if err != nil {
			t.Fatalf("PrepareRunSession() iteration %d error = %v", i, err)
		}
		if _, err := e.RecordAssistantReply(result.Info, "reply"); err != nil {
			t.Fatalf("RecordAssistantReply() iteration %d error = %v", i, err)
		}
	}

	history, err := e.GetSessionHistory("ceo", HistoryOptions{IncludeCompaction: true})
	if err != nil {
		t.Fatalf("GetSessionHistory() error = %v", err)
	}

	summaries := 0
	for i, m := range history.Messages {
		if m.Kind == EntryCompactionSummary {
			summaries++
			if i != 0 {
				t.Fatalf("compaction summary must precede the kept tail, found at index %d", i)
			}
		}
	}
	if summaries > 1 {
		t.Fatalf("summaries = %d, want at most 1", summaries)
	}

	tailStart := len(history.Messages) - 2
	if tailStart < 0 {
		tailStart = 0
	}
	for _, m := range history.Messages[tailStart:] {
		if m.Kind == EntryCompactionSummary {
			t.Fatalf("compaction summary leaked into the protected recent tail")
		}
	}
}

func TestIdleResetRotatesSessionID(t *testing.T) {
	e, clock := newTestEngine(t)

	first, err := e.PrepareRunSession("ceo", "run-1", PrepareOptions{UserMessage: "hello"})
	if err != nil {
		t.Fatalf("PrepareRunSession() error = %v", err)
	}
	if _, err := e.RecordAssistantReply(first.Info, "hi"); err != nil {
		t.Fatalf("RecordAssistantReply() error = %v", err)
	}

	idx, err := readIndex(e.fs, e.layout, "ceo")
	if err != nil {
		t.Fatalf("readIndex() error = %v", err)
	}
	meta := idx.Sessions[first.Info.SessionKey]
	meta.ResetPolicy = ResetPolicy{Mode: ResetIdle, IdleMinutes: 30}
	idx.Sessions[first.Info.SessionKey] = meta
	if err := writeIndex(e.fs, e.layout, "ceo", idx); err != nil {
		t.Fatalf("writeIndex() error = %v", err)
	}

	clock.Advance(31 * time.Minute)

	second, err := e.PrepareRunSession("ceo", "run-2", PrepareOptions{UserMessage: "back"})
	if err != nil {
		t.Fatalf("PrepareRunSession() error = %v", err)
	}
	if !second.Info.IsNewSession {
		t.Fatalf("expected idle timeout to rotate the session")
	}
	if second.Info.SessionID == first.Info.SessionID {
		t.Fatalf("expected a new session id after idle reset")
	}

	history, err := e.GetSessionHistory("ceo", HistoryOptions{})
	if err != nil {
		t.Fatalf("GetSessionHistory() error = %v", err)
	}
	if len(history.Messages) != 1 || history.Messages[0].Content != "back" {
		t.Fatalf("expected idle reset to clear prior transcript, got %+v", history.Messages)
	}
}

func TestCancelBeforeClaimShortCircuitsNextPrepare(t *testing.T) {
	e, _ := newTestEngine(t)

	sessionKey := BuildAgentSessionKey("ceo", "main")
	e.Cancel(sessionKey)

	result, err := e.PrepareRunSession("ceo", "run-1", PrepareOptions{UserMessage: "hello"})
	if err != nil {
		t.Fatalf("PrepareRunSession() error = %v", err)
	}
	if !result.Cancelled {
		t.Fatalf("expected buffered cancel to short-circuit this prepare")
	}
	if e.IsBusy(sessionKey) {
		t.Fatalf("expected claim to be released after a cancelled prepare")
	}
}

func TestCancelDuringActiveRunSkipsRecordingReply(t *testing.T) {
	e, _ := newTestEngine(t)

	result, err := e.PrepareRunSession("ceo", "run-1", PrepareOptions{UserMessage: "hello"})
	if err != nil {
		t.Fatalf("PrepareRunSession() error = %v", err)
	}

	e.Cancel(result.Info.SessionKey)
	if !e.IsCancelled(result.Info.SessionKey) {
		t.Fatalf("expected claim to be marked cancelled")
	}

	if _, err := e.RecordAssistantReply(result.Info, "late reply"); err != nil {
		t.Fatalf("RecordAssistantReply() error = %v", err)
	}

	history, err := e.GetSessionHistory("ceo", HistoryOptions{})
	if err != nil {
		t.Fatalf("GetSessionHistory() error = %v", err)
	}
	if len(history.Messages) != 1 {
		t.Fatalf("expected the cancelled run's reply to be dropped, got %+v", history.Messages)
	}
	if e.IsBusy(result.Info.SessionKey) {
		t.Fatalf("expected claim to be released even when cancelled")
	}
}

func TestRemoveSessionDeletesTranscriptAndMeta(t *testing.T) {
	e, _ := newTestEngine(t)

	result, err := e.PrepareRunSession("ceo", "run-1", PrepareOptions{UserMessage: "hello"})
	if err != nil {
		t.Fatalf("PrepareRunSession() error = %v", err)
	}
	if _, err := e.RecordAssistantReply(result.Info, "hi"); err != nil {
		t.Fatalf("RecordAssistantReply() error = %v", err)
	}

	if err := e.RemoveSession("ceo", "main"); err != nil {
		t.Fatalf("RemoveSession() error = %v", err)
	}

	idx, err := readIndex(e.fs, e.layout, "ceo")
	if err != nil {
		t.Fatalf("readIndex() error = %v", err)
	}
	if _, ok := idx.Sessions[result.Info.SessionKey]; ok {
		t.Fatalf("expected session to be removed from the index")
	}

	if err := e.RemoveSession("ceo", "main"); !goerrors.IsNotFound(err) {
		t.Fatalf("expected NotFound removing an already-removed session, got %v", err)
	}
}

func TestResetSessionRotatesOnDemand(t *testing.T) {
	e, _ := newTestEngine(t)

	result, err := e.PrepareRunSession("ceo", "run-1", PrepareOptions{UserMessage: "hello"})
	if err != nil {
		t.Fatalf("PrepareRunSession() error = %v", err)
	}
	if _, err := e.RecordAssistantReply(result.Info, "hi"); err != nil {
		t.Fatalf("RecordAssistantReply() error = %v", err)
	}

	if err := e.ResetSession("ceo", "main"); err != nil {
		t.Fatalf("ResetSession() error = %v", err)
	}

	history, err := e.GetSessionHistory("ceo", HistoryOptions{})
	if err != nil {
		t.Fatalf("GetSessionHistory() error = %v", err)
	}
	if len(history.Messages) != 0 {
		t.Fatalf("expected ResetSession to clear the transcript, got %+v", history.Messages)
	}

	idx, err := readIndex(e.fs, e.layout, "ceo")
	if err != nil {
		t.Fatalf("readIndex() error = %v", err)
	}
	if idx.Sessions[result.Info.SessionKey].SessionID == result.Info.SessionID {
		t.Fatalf("expected ResetSession to rotate the session id")
	}
}

func TestListSessionsReportsMessageCounts(t *testing.T) {
	e, _ := newTestEngine(t)

	for _, ref := range []string{"main", "scratch"} {
		result, err := e.PrepareRunSession("ceo", "run-"+ref, PrepareOptions{SessionRef: ref, UserMessage: "hi " + ref})
		if err != nil {
			t.Fatalf("PrepareRunSession(%q) error = %v", ref, err)
		}
		if _, err := e.RecordAssistantReply(result.Info, "reply"); err != nil {
			t.Fatalf("RecordAssistantReply(%q) error = %v", ref, err)
		}
	}

	summaries, err := e.ListSessions("ceo")
	if err != nil {
		t.Fatalf("ListSessions() error = %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("len(summaries) = %d, want 2", len(summaries))
	}
	for _, s := range summaries {
		if s.MessageCount != 2 {
			t.Fatalf("MessageCount for %q = %d, want 2", s.SessionKey, s.MessageCount)
		}
	}
}

func TestACPSessionKeyOverrideIsHonored(t *testing.T) {
	e, _ := newTestEngine(t)

	override := BuildACPSessionKey("acp-sess-1", "main")
	result, err := e.PrepareRunSession("ceo", "run-1", PrepareOptions{
		SessionKeyOverride: override,
		UserMessage:        "hello from acp",
	})
	if err != nil {
		t.Fatalf("PrepareRunSession() error = %v", err)
	}
	if result.Info.SessionKey != override {
		t.Fatalf("SessionKey = %q, want %q", result.Info.SessionKey, override)
	}
}
