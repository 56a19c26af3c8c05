package session

import (
	"bytes"
	"encoding/json"
	"strings"

	goerrors "github.com/opengoat/opengoat/internal/common/errors"
	"github.com/opengoat/opengoat/internal/paths"
)

// readTranscript loads every entry of a session's transcript.jsonl. A
// missing file is treated as an empty transcript.
func readTranscript(fs paths.Filesystem, path string) ([]TranscriptEntry, error) {
	if !fs.Exists(path) {
		return nil, nil
	}
	data, err := fs.ReadFile(path)
	if err != nil {
		return nil, goerrors.IO("failed to read transcript", err)
	}

	var entries []TranscriptEntry
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var entry TranscriptEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			return nil, goerrors.IO("failed to parse transcript entry", err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// appendTranscript appends a single entry as one JSONL line by reading the
// existing transcript and rewriting the whole file through
// rewriteTranscript; the file is not opened in append mode.
func appendTranscript(fs paths.Filesystem, path string, entry TranscriptEntry) error {
	existing, err := readTranscript(fs, path)
	if err != nil {
		return err
	}
	existing = append(existing, entry)
	return rewriteTranscript(fs, path, existing)
}

// rewriteTranscript replaces the whole transcript file via the atomic
// write-tempfile-then-rename filesystem port. Used by append (simple, file-
// backed reimplementation) and by compaction/pruning (which must replace a
// prefix of the file).
func rewriteTranscript(fs paths.Filesystem, path string, entries []TranscriptEntry) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, entry := range entries {
		if err := enc.Encode(entry); err != nil {
			return goerrors.Internal("failed to encode transcript entry", err)
		}
	}
	if err := fs.WriteFileAtomic(path, buf.Bytes(), 0o644); err != nil {
		return goerrors.IO("failed to write transcript", err)
	}
	return nil
}

// sumChars returns the total content length across entries, the unit
// pruning and compaction triggers measure against.
func sumChars(entries []TranscriptEntry) int {
	total := 0
	for _, e := range entries {
		total += len(e.Content)
	}
	return total
}
