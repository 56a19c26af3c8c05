package session

import (
	"strconv"
	"strings"
)

// prune drops the oldest non-compaction entries while messages.length >
// maxMessages or sum(chars) > maxChars, always keeping the last
// keepRecentMessages entries intact. Per spec.md §4.2's pruning rule.
func prune(entries []TranscriptEntry, policy PruningPolicy) []TranscriptEntry {
	keep := policy.KeepRecentMessages
	if keep < 0 {
		keep = 0
	}
	if keep >= len(entries) {
		return entries
	}

	out := make([]TranscriptEntry, len(entries))
	copy(out, entries)

	for len(out) > keep && (overMaxMessages(out, policy) || overMaxChars(out, policy)) {
		// Drop the oldest entry that is not part of the protected recent tail.
		cut := len(out) - keep
		idx := -1
		for i := 0; i < cut; i++ {
			if out[i].Kind != EntryCompactionSummary {
				idx = i
				break
			}
		}
		if idx < 0 {
			break
		}
		out = append(out[:idx], out[idx+1:]...)
	}
	return out
}

func overMaxMessages(entries []TranscriptEntry, policy PruningPolicy) bool {
	return policy.MaxMessages > 0 && len(entries) > policy.MaxMessages
}

func overMaxChars(entries []TranscriptEntry, policy PruningPolicy) bool {
	return policy.MaxChars > 0 && sumChars(entries) > policy.MaxChars
}

// compactionResult is the internal shape produced by compact, before the
// caller wraps it as a public CompactionResult.
type compactionResult struct {
	entries  []TranscriptEntry
	applied  bool
	count    int
	summary  string
}

// compact replaces the transcript prefix (everything before the last
// keepRecentMessages entries) with a single compaction_summary entry when
// the configured triggers are exceeded. Per spec.md §4.2's compaction rule
// and §8 invariant 5: the recent tail is untouched, and exactly one summary
// entry precedes it.
func compact(entries []TranscriptEntry, policy CompactionPolicy, now func() TranscriptEntry) compactionResult {
	if !overTriggerMessages(entries, policy) && !overTriggerChars(entries, policy) {
		return compactionResult{entries: entries}
	}

	keep := policy.KeepRecentMessages
	if keep < 0 {
		keep = 0
	}
	if keep >= len(entries) {
		return compactionResult{entries: entries}
	}

	splitAt := len(entries) - keep
	prefix := entries[:splitAt]
	tail := entries[splitAt:]

	summaryText := summarize(prefix, policy.SummaryMaxChars)
	summaryEntry := now()
	summaryEntry.Kind = EntryCompactionSummary
	summaryEntry.Content = summaryText

	out := make([]TranscriptEntry, 0, len(tail)+1)
	out = append(out, summaryEntry)
	out = append(out, tail...)

	return compactionResult{entries: out, applied: true, count: len(prefix), summary: summaryText}
}

func overTriggerMessages(entries []TranscriptEntry, policy CompactionPolicy) bool {
	return policy.TriggerMessageCount > 0 && len(entries) > policy.TriggerMessageCount
}

func overTriggerChars(entries []TranscriptEntry, policy CompactionPolicy) bool {
	return policy.TriggerChars > 0 && sumChars(entries) > policy.TriggerChars
}

// summarize produces a deterministic, summaryMaxChars-bounded textual
// summary of a transcript prefix by concatenating each entry's role and a
// truncated snippet of its content. Per spec.md §4.2 and SPEC_FULL.md's
// Open Question decision: no secondary provider call, just a bounded
// deterministic concatenation.
func summarize(entries []TranscriptEntry, maxChars int) string {
	if maxChars <= 0 {
		maxChars = 4000
	}

	var b strings.Builder
	b.WriteString("[compacted ")
	b.WriteString(strconv.Itoa(len(entries)))
	b.WriteString(" messages] ")

	for _, e := range entries {
		if b.Len() >= maxChars {
			break
		}
		line := string(e.Kind) + ": " + e.Content
		remaining := maxChars - b.Len()
		if len(line) > remaining {
			line = line[:remaining]
		}
		b.WriteString(line)
		b.WriteString(" ")
	}

	out := b.String()
	if len(out) > maxChars {
		out = out[:maxChars]
	}
	return out
}
