package session

import "sync"

// activeRun is the in-memory claim a running orchestration holds on a
// sessionKey. Per spec.md §4.2/§5: prepareRunSession takes an exclusive
// claim; recordAssistantReply clears it; cancel sets Cancelled and is
// observed at the orchestrator's suspension-point boundaries.
type activeRun struct {
	RunID     string
	Cancelled bool
}

// claimStore is a per-sessionKey lock, mirroring the teacher's
// map-plus-mutex idiom used throughout (lifecycle.Manager.instances,
// executor.Executor.executions) rather than a channel-based semaphore.
type claimStore struct {
	mu     sync.Mutex
	claims map[string]*activeRun

	// pendingCancel buffers a cancel call against a sessionKey with no
	// active run, so the next prepare on that key short-circuits to
	// cancelled without invoking the provider.
	pendingCancel map[string]bool
}

func newClaimStore() *claimStore {
	return &claimStore{
		claims:        make(map[string]*activeRun),
		pendingCancel: make(map[string]bool),
	}
}

// tryClaim attempts to take the exclusive claim for sessionKey. ok is false
// if another run already holds it. If a cancel was buffered for this key,
// the claim is granted but reports cancelled=true so the caller can
// short-circuit without invoking the provider.
func (s *claimStore) tryClaim(sessionKey, runID string) (cancelled bool, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, busy := s.claims[sessionKey]; busy {
		return false, false
	}

	cancelled = s.pendingCancel[sessionKey]
	delete(s.pendingCancel, sessionKey)

	s.claims[sessionKey] = &activeRun{RunID: runID, Cancelled: cancelled}
	return cancelled, true
}

// release clears the claim for sessionKey.
func (s *claimStore) release(sessionKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.claims, sessionKey)
}

// isCancelled reports whether the current claim (if any) has been
// cancelled, for the orchestrator to poll at its suspension-point
// boundaries.
func (s *claimStore) isCancelled(sessionKey string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.claims[sessionKey]
	return ok && run.Cancelled
}

// cancel marks the active claim on sessionKey as cancelled. If no claim is
// held, the cancel is buffered for the next tryClaim on this key.
func (s *claimStore) cancel(sessionKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if run, ok := s.claims[sessionKey]; ok {
		run.Cancelled = true
		return
	}
	s.pendingCancel[sessionKey] = true
}

// isBusy reports whether sessionKey currently has an active claim.
func (s *claimStore) isBusy(sessionKey string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.claims[sessionKey]
	return ok
}
