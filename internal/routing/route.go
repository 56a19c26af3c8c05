package routing

import (
	"fmt"
	"sort"
	"strings"

	goerrors "github.com/opengoat/opengoat/internal/common/errors"
)

const (
	fallbackConfidence = 0.35
	maxConfidence       = 0.99
	bodyTokenWindow     = 80
)

// Route picks a target agent for message, entering the organization at
// entryAgentID. Per spec.md §4.3: non-head entry agents are returned
// unchanged; at the head, candidates are scored by token overlap, explicit
// name mentions, and priority.
func Route(entryAgentID, message string, manifests []Manifest) (Decision, error) {
	entry := findByID(manifests, entryAgentID)
	if entry == nil {
		return Decision{}, goerrors.NotFound("agent", entryAgentID)
	}

	if !entry.IsHead {
		return Decision{
			EntryAgentID:     entryAgentID,
			TargetAgentID:    entryAgentID,
			Confidence:       1,
			Reason:           "entry agent is not the organization head; handling directly",
			RewrittenMessage: message,
		}, nil
	}

	tokens := tokenize(message)
	tokenSet := toSet(tokens)

	var candidates []Candidate
	explicitMatch := map[string]bool{}
	for _, m := range manifests {
		if m.IsHead || !m.Discoverable {
			continue
		}
		score, explicit := scoreCandidate(m, tokenSet)
		candidates = append(candidates, Candidate{AgentID: m.ID, Score: score})
		explicitMatch[m.ID] = explicit
	}

	byID := make(map[string]*Manifest, len(manifests))
	for i := range manifests {
		byID[manifests[i].ID] = &manifests[i]
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if explicitMatch[a.AgentID] != explicitMatch[b.AgentID] {
			return explicitMatch[a.AgentID]
		}
		pa, pb := byID[a.AgentID].Priority, byID[b.AgentID].Priority
		if pa != pb {
			return pa > pb
		}
		return a.AgentID < b.AgentID
	})

	if len(candidates) == 0 || candidates[0].Score <= 0 {
		reason := "no discoverable candidate scored above zero; falling back to the organization head"
		return Decision{
			EntryAgentID:     entryAgentID,
			TargetAgentID:    entryAgentID,
			Confidence:       fallbackConfidence,
			Reason:           reason,
			RewrittenMessage: rewriteMessage(message, entryAgentID, reason),
			Candidates:       candidates,
		}, nil
	}

	top := candidates[0]
	target := byID[top.AgentID]
	confidence := top.Score / float64(max(4, len(tokens)+1))
	if confidence > maxConfidence {
		confidence = maxConfidence
	}

	reason := fmt.Sprintf("best token/priority match among discoverable agents (score=%.2f)", top.Score)
	return Decision{
		EntryAgentID:     entryAgentID,
		TargetAgentID:    target.ID,
		Confidence:       confidence,
		Reason:           reason,
		RewrittenMessage: rewriteMessage(message, target.ID, reason),
		Candidates:       candidates,
	}, nil
}

// scoreCandidate implements spec.md §4.3's scoring formula:
// 2×matched_tokens + 4×explicit_name_match + clamp(priority/50, 0, 3).
func scoreCandidate(m Manifest, tokenSet map[string]bool) (score float64, explicitMatch bool) {
	candidateTokens := toSet(candidateCorpus(m))
	matched := 0
	for t := range tokenSet {
		if candidateTokens[t] {
			matched++
		}
	}

	explicitMatch = tokenSet[strings.ToLower(m.ID)] || nameTokensAllPresent(m.DisplayName, tokenSet)

	priorityTerm := clamp(float64(m.Priority)/50, 0, 3)

	score = 2*float64(matched) + priorityTerm
	if explicitMatch {
		score += 4
	}
	return score, explicitMatch
}

// nameTokensAllPresent reports whether every token of a multi-word display
// name appears in the message's token set, so "Research Analyst" counts as
// an explicit match only when both words are mentioned.
func nameTokensAllPresent(displayName string, tokenSet map[string]bool) bool {
	nameTokens := tokenize(displayName)
	if len(nameTokens) == 0 {
		return false
	}
	for _, t := range nameTokens {
		if !tokenSet[t] {
			return false
		}
	}
	return true
}

// candidateCorpus gathers the tokens a candidate manifest is matched
// against: id, display name, description, tags, and the first
// bodyTokenWindow tokens of its workspace body.
func candidateCorpus(m Manifest) []string {
	var out []string
	out = append(out, tokenize(m.ID)...)
	out = append(out, tokenize(m.DisplayName)...)
	out = append(out, tokenize(m.Description)...)
	for _, tag := range m.Tags {
		out = append(out, tokenize(tag)...)
	}
	bodyTokens := tokenize(m.Body)
	if len(bodyTokens) > bodyTokenWindow {
		bodyTokens = bodyTokens[:bodyTokenWindow]
	}
	out = append(out, bodyTokens...)
	return out
}

// tokenize lowercases s, splits on runs of non-alphanumeric characters, and
// drops tokens shorter than two characters.
func tokenize(s string) []string {
	var tokens []string
	var b strings.Builder
	flush := func() {
		if b.Len() >= 2 {
			tokens = append(tokens, b.String())
		}
		b.Reset()
	}
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return tokens
}

func toSet(tokens []string) map[string]bool {
	set := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		set[t] = true
	}
	return set
}

func findByID(manifests []Manifest, id string) *Manifest {
	for i := range manifests {
		if manifests[i].ID == id {
			return &manifests[i]
		}
	}
	return nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// rewriteMessage wraps the original message with a delegation preamble
// naming the target agent and the routing reason, per spec.md §4.3.
func rewriteMessage(message, targetAgentID, reason string) string {
	return fmt.Sprintf("[delegated to %s: %s]\n\n%s", targetAgentID, reason, message)
}
