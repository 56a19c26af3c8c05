package orchestrator

import (
	"encoding/json"
	"sort"
	"strings"

	goerrors "github.com/opengoat/opengoat/internal/common/errors"
	"github.com/opengoat/opengoat/internal/paths"
)

// writeRunTrace persists trace to runs/<runId>.json via the atomic
// filesystem port, per spec.md §4.4 step 9.
func writeRunTrace(fs paths.Filesystem, layout *paths.Layout, trace RunTrace) (string, error) {
	data, err := json.MarshalIndent(trace, "", "  ")
	if err != nil {
		return "", goerrors.Internal("failed to marshal run trace", err)
	}
	path := layout.RunTracePath(trace.RunID)
	if err := fs.WriteFileAtomic(path, data, 0o644); err != nil {
		return "", goerrors.IO("failed to write run trace", err)
	}
	return path, nil
}

// ReadRunTrace loads a single persisted run trace by id.
func ReadRunTrace(fs paths.Filesystem, layout *paths.Layout, runID string) (RunTrace, error) {
	path := layout.RunTracePath(runID)
	if !fs.Exists(path) {
		return RunTrace{}, goerrors.NotFound("run trace", runID)
	}
	data, err := fs.ReadFile(path)
	if err != nil {
		return RunTrace{}, goerrors.IO("failed to read run trace", err)
	}
	var trace RunTrace
	if err := json.Unmarshal(data, &trace); err != nil {
		return RunTrace{}, goerrors.IO("failed to parse run trace", err)
	}
	return trace, nil
}

// ListRunTraces returns every persisted run trace, most recent first.
// Supplements spec.md §4.4 with run-history querying (SPEC_FULL.md).
func ListRunTraces(fs paths.Filesystem, layout *paths.Layout) ([]RunTrace, error) {
	entries, err := fs.ReadDir(layout.RunsDir())
	if err != nil {
		if !fs.Exists(layout.RunsDir()) {
			return nil, nil
		}
		return nil, goerrors.IO("failed to list run traces", err)
	}

	var traces []RunTrace
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		runID := strings.TrimSuffix(e.Name(), ".json")
		trace, err := ReadRunTrace(fs, layout, runID)
		if err != nil {
			continue
		}
		traces = append(traces, trace)
	}
	sort.Slice(traces, func(i, j int) bool { return traces[i].StartedAt.After(traces[j].StartedAt) })
	return traces, nil
}
