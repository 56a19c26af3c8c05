package session

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	goerrors "github.com/opengoat/opengoat/internal/common/errors"
	"github.com/opengoat/opengoat/internal/common/logger"
	"github.com/opengoat/opengoat/internal/paths"
)

// Engine owns every transcript and session metadata record. Per spec.md §3
// ("Session Engine exclusively owns transcripts and session metadata"),
// every other component reads through this API only.
type Engine struct {
	fs     paths.Filesystem
	layout *paths.Layout
	logger *logger.Logger
	clock  Clock

	claims *claimStore

	fileLocksMu sync.Mutex
	fileLocks   map[string]*sync.Mutex
}

// New constructs a session Engine.
func New(fs paths.Filesystem, layout *paths.Layout, log *logger.Logger, clock Clock) *Engine {
	if clock == nil {
		clock = RealClock{}
	}
	return &Engine{
		fs:        fs,
		layout:    layout,
		logger:    log,
		clock:     clock,
		claims:    newClaimStore(),
		fileLocks: make(map[string]*sync.Mutex),
	}
}

func (e *Engine) lockFor(sessionKey string) *sync.Mutex {
	e.fileLocksMu.Lock()
	defer e.fileLocksMu.Unlock()
	l, ok := e.fileLocks[sessionKey]
	if !ok {
		l = &sync.Mutex{}
		e.fileLocks[sessionKey] = l
	}
	return l
}

// PrepareRunSession resolves (or lazily creates) the session for agentID,
// applies reset/pruning/compaction, and takes the exclusive active-run
// claim. Per spec.md §4.2.
func (e *Engine) PrepareRunSession(agentID, runID string, opts PrepareOptions) (PrepareResult, error) {
	if opts.Disable {
		return PrepareResult{Enabled: false}, nil
	}

	ref := opts.SessionRef
	if ref == "" {
		ref = "main"
	}
	sessionKey := opts.SessionKeyOverrideOrDefault(agentID, ref)

	cancelled, ok := e.claims.tryClaim(sessionKey, runID)
	if !ok {
		return PrepareResult{}, goerrors.SessionBusy(sessionKey)
	}
	if cancelled {
		e.claims.release(sessionKey)
		return PrepareResult{Cancelled: true}, nil
	}

	lock := e.lockFor(sessionKey)
	lock.Lock()
	defer lock.Unlock()

	idx, err := readIndex(e.fs, e.layout, agentID)
	if err != nil {
		e.claims.release(sessionKey)
		return PrepareResult{}, err
	}

	now := e.clock.Now()
	meta, existed := idx.Sessions[sessionKey]
	isNew := !existed

	if !existed {
		meta = Meta{
			SessionKey:     sessionKey,
			SessionID:      newSessionID(),
			AgentID:        agentID,
			CreatedAt:      now,
			LastActivityAt: now,
			TranscriptPath: e.layout.SessionTranscriptPath(agentID, sessionKey),
			ResetPolicy:    DefaultResetPolicy(),
			Pruning:        DefaultPruningPolicy(),
			Compaction:     DefaultCompactionPolicy(),
		}
	}

	rotated := opts.ForceNew || shouldReset(meta, now)
	if rotated {
		meta.SessionID = newSessionID()
		meta.Rotations++
		isNew = true
	}
	meta.ProjectPath = opts.ProjectPath

	entries, err := readTranscript(e.fs, meta.TranscriptPath)
	if err != nil {
		e.claims.release(sessionKey)
		return PrepareResult{}, err
	}
	if rotated {
		entries = nil
	}

	if opts.UserMessage != "" {
		entries = append(entries, TranscriptEntry{Ts: now, Kind: EntryUserMessage, Content: opts.UserMessage})
	}

	entries = prune(entries, meta.Pruning)

	compactionApplied := false
	result := compact(entries, meta.Compaction, func() TranscriptEntry { return TranscriptEntry{Ts: now} })
	if result.applied {
		entries = result.entries
		meta.CompactionCount++
		compactionApplied = true
	}

	if err := rewriteTranscript(e.fs, meta.TranscriptPath, entries); err != nil {
		e.claims.release(sessionKey)
		return PrepareResult{}, err
	}

	meta.LastActivityAt = now
	idx.Sessions[sessionKey] = meta
	if err := writeIndex(e.fs, e.layout, agentID, idx); err != nil {
		e.claims.release(sessionKey)
		return PrepareResult{}, err
	}

	e.logger.Debug("session prepared",
		zap.String("session_key", sessionKey),
		zap.Bool("new_session", isNew),
		zap.Bool("compaction_applied", compactionApplied))

	return PrepareResult{
		Enabled: true,
		Info: Info{
			SessionKey:     sessionKey,
			SessionID:      meta.SessionID,
			AgentID:        agentID,
			TranscriptPath: meta.TranscriptPath,
			WorkspaceDir:   opts.WorkspaceDir,
			ProjectPath:    opts.ProjectPath,
			IsNewSession:   isNew,
		},
		CompactionApplied: compactionApplied,
		ContextPrompt:     renderContextPrompt(entries),
	}, nil
}

// RecordAssistantReply appends the assistant's reply, updates
// lastActivityAt, optionally compacts, and releases the active-run claim.
// If the claim was cancelled in the meantime, the reply is not recorded.
func (e *Engine) RecordAssistantReply(info Info, content string) (CompactionResult, error) {
	defer e.claims.release(info.SessionKey)

	if e.claims.isCancelled(info.SessionKey) {
		return CompactionResult{}, nil
	}

	lock := e.lockFor(info.SessionKey)
	lock.Lock()
	defer lock.Unlock()

	idx, err := readIndex(e.fs, e.layout, info.AgentID)
	if err != nil {
		return CompactionResult{}, err
	}
	meta, ok := idx.Sessions[info.SessionKey]
	if !ok {
		return CompactionResult{}, goerrors.NotFound("session", info.SessionKey)
	}

	entries, err := readTranscript(e.fs, meta.TranscriptPath)
	if err != nil {
		return CompactionResult{}, err
	}

	now := e.clock.Now()
	entries = append(entries, TranscriptEntry{Ts: now, Kind: EntryAssistantMessage, Content: content})
	entries = prune(entries, meta.Pruning)

	result := compact(entries, meta.Compaction, func() TranscriptEntry { return TranscriptEntry{Ts: now} })
	compactionResult := CompactionResult{}
	if result.applied {
		entries = result.entries
		meta.CompactionCount++
		compactionResult = CompactionResult{Applied: true, CompactedMessages: result.count, Summary: result.summary}
	}

	if err := rewriteTranscript(e.fs, meta.TranscriptPath, entries); err != nil {
		return CompactionResult{}, err
	}

	meta.LastActivityAt = now
	idx.Sessions[info.SessionKey] = meta
	if err := writeIndex(e.fs, e.layout, info.AgentID, idx); err != nil {
		return CompactionResult{}, err
	}

	return compactionResult, nil
}

// GetSessionHistory returns the ordered transcript for agentID's session,
// trimmed to opts.Limit and optionally excluding compaction summaries.
func (e *Engine) GetSessionHistory(agentID string, opts HistoryOptions) (History, error) {
	ref := opts.SessionRef
	if ref == "" {
		ref = "main"
	}
	sessionKey := opts.SessionKeyOverrideOrDefault(agentID, ref)

	idx, err := readIndex(e.fs, e.layout, agentID)
	if err != nil {
		return History{}, err
	}
	meta, ok := idx.Sessions[sessionKey]
	if !ok {
		return History{SessionKey: sessionKey}, nil
	}

	entries, err := readTranscript(e.fs, meta.TranscriptPath)
	if err != nil {
		return History{}, err
	}
	if !opts.IncludeCompaction {
		filtered := entries[:0:0]
		for _, entry := range entries {
			if entry.Kind != EntryCompactionSummary {
				filtered = append(filtered, entry)
			}
		}
		entries = filtered
	}
	if opts.Limit > 0 && len(entries) > opts.Limit {
		entries = entries[len(entries)-opts.Limit:]
	}

	return History{SessionKey: sessionKey, Messages: entries}, nil
}

// ListSessions returns a summary of every session under agentID.
func (e *Engine) ListSessions(agentID string) ([]SessionSummary, error) {
	idx, err := readIndex(e.fs, e.layout, agentID)
	if err != nil {
		return nil, err
	}

	out := make([]SessionSummary, 0, len(idx.Sessions))
	for _, meta := range idx.Sessions {
		entries, err := readTranscript(e.fs, meta.TranscriptPath)
		if err != nil {
			return nil, err
		}
		out = append(out, SessionSummary{
			SessionKey:     meta.SessionKey,
			SessionID:      meta.SessionID,
			AgentID:        meta.AgentID,
			Title:          meta.Title,
			CreatedAt:      meta.CreatedAt,
			LastActivityAt: meta.LastActivityAt,
			MessageCount:   len(entries),
		})
	}
	return out, nil
}

// ResetSession forces a sessionId rotation, independent of the configured
// reset policy.
func (e *Engine) ResetSession(agentID, sessionRef string) error {
	ref := defaultRef(sessionRef)
	sessionKey := BuildAgentSessionKey(agentID, ref)

	lock := e.lockFor(sessionKey)
	lock.Lock()
	defer lock.Unlock()

	idx, err := readIndex(e.fs, e.layout, agentID)
	if err != nil {
		return err
	}
	meta, ok := idx.Sessions[sessionKey]
	if !ok {
		return goerrors.NotFound("session", sessionKey)
	}

	meta.SessionID = newSessionID()
	meta.Rotations++
	idx.Sessions[sessionKey] = meta
	if err := writeIndex(e.fs, e.layout, agentID, idx); err != nil {
		return err
	}
	return rewriteTranscript(e.fs, meta.TranscriptPath, nil)
}

// CompactSession forces compaction to run now, regardless of triggers.
func (e *Engine) CompactSession(agentID, sessionRef string) error {
	ref := defaultRef(sessionRef)
	sessionKey := BuildAgentSessionKey(agentID, ref)

	lock := e.lockFor(sessionKey)
	lock.Lock()
	defer lock.Unlock()

	idx, err := readIndex(e.fs, e.layout, agentID)
	if err != nil {
		return err
	}
	meta, ok := idx.Sessions[sessionKey]
	if !ok {
		return goerrors.NotFound("session", sessionKey)
	}

	entries, err := readTranscript(e.fs, meta.TranscriptPath)
	if err != nil {
		return err
	}

	forced := meta.Compaction
	forced.TriggerMessageCount = 0
	forced.TriggerChars = 0
	if forced.KeepRecentMessages >= len(entries) {
		return nil // nothing to compact
	}

	now := e.clock.Now()
	result := compact(entries, CompactionPolicy{
		TriggerMessageCount: 1, // force the trigger to fire
		KeepRecentMessages:  meta.Compaction.KeepRecentMessages,
		SummaryMaxChars:     meta.Compaction.SummaryMaxChars,
	}, func() TranscriptEntry { return TranscriptEntry{Ts: now} })

	if !result.applied {
		return nil
	}
	meta.CompactionCount++
	idx.Sessions[sessionKey] = meta
	if err := writeIndex(e.fs, e.layout, agentID, idx); err != nil {
		return err
	}
	return rewriteTranscript(e.fs, meta.TranscriptPath, result.entries)
}

// RemoveSession deletes a session's transcript and metadata entirely.
func (e *Engine) RemoveSession(agentID, sessionRef string) error {
	ref := defaultRef(sessionRef)
	sessionKey := BuildAgentSessionKey(agentID, ref)

	lock := e.lockFor(sessionKey)
	lock.Lock()
	defer lock.Unlock()

	idx, err := readIndex(e.fs, e.layout, agentID)
	if err != nil {
		return err
	}
	meta, ok := idx.Sessions[sessionKey]
	if !ok {
		return goerrors.NotFound("session", sessionKey)
	}

	if err := e.fs.RemoveAll(filepath.Dir(meta.TranscriptPath)); err != nil {
		return goerrors.IO("failed to remove session transcript dir", err)
	}
	delete(idx.Sessions, sessionKey)
	return writeIndex(e.fs, e.layout, agentID, idx)
}

// RenameSession sets a human-readable title on a session.
func (e *Engine) RenameSession(agentID, sessionRef, title string) error {
	ref := defaultRef(sessionRef)
	sessionKey := BuildAgentSessionKey(agentID, ref)

	lock := e.lockFor(sessionKey)
	lock.Lock()
	defer lock.Unlock()

	idx, err := readIndex(e.fs, e.layout, agentID)
	if err != nil {
		return err
	}
	meta, ok := idx.Sessions[sessionKey]
	if !ok {
		return goerrors.NotFound("session", sessionKey)
	}
	meta.Title = title
	idx.Sessions[sessionKey] = meta
	return writeIndex(e.fs, e.layout, agentID, idx)
}

// Now returns the engine's clock time, so callers can timestamp records
// (e.g. the orchestrator's run trace) consistently with session state.
func (e *Engine) Now() time.Time {
	return e.clock.Now()
}

// Cancel marks sessionKey's active run (if any) as cancelled, or buffers
// the cancel for the next PrepareRunSession call on that key.
func (e *Engine) Cancel(sessionKey string) {
	e.claims.cancel(sessionKey)
}

// IsBusy reports whether sessionKey currently holds an active-run claim.
func (e *Engine) IsBusy(sessionKey string) bool {
	return e.claims.isBusy(sessionKey)
}

// IsCancelled reports whether the active claim on sessionKey has been
// cancelled, for the orchestrator to poll at suspension-point boundaries.
func (e *Engine) IsCancelled(sessionKey string) bool {
	return e.claims.isCancelled(sessionKey)
}

func defaultRef(ref string) string {
	if ref == "" {
		return "main"
	}
	return ref
}

// shouldReset evaluates meta's ResetPolicy against now, per spec.md §4.2's
// reset rules.
func shouldReset(meta Meta, now time.Time) bool {
	switch meta.ResetPolicy.Mode {
	case ResetDaily:
		return crossedDailyBoundary(meta.LastActivityAt, now, meta.ResetPolicy.AtHour)
	case ResetIdle:
		idle := time.Duration(meta.ResetPolicy.IdleMinutes) * time.Minute
		return idle > 0 && now.Sub(meta.LastActivityAt) > idle
	case ResetManual:
		fallthrough
	default:
		return false
	}
}

// crossedDailyBoundary reports whether local wall-clock hour atHour has
// been crossed between last and now.
func crossedDailyBoundary(last, now time.Time, atHour int) bool {
	if !now.After(last) {
		return false
	}
	boundary := time.Date(last.Year(), last.Month(), last.Day(), atHour, 0, 0, 0, last.Location())
	if !boundary.After(last) {
		boundary = boundary.Add(24 * time.Hour)
	}
	return !now.Before(boundary)
}

// renderContextPrompt builds a replay of recent transcript entries for use
// as system context on cold starts (new ACP clients, compacted sessions).
func renderContextPrompt(entries []TranscriptEntry) string {
	if len(entries) == 0 {
		return ""
	}
	var out string
	for _, entry := range entries {
		out += fmt.Sprintf("[%s] %s\n", entry.Kind, entry.Content)
	}
	return out
}
