package session

import (
	"encoding/json"

	goerrors "github.com/opengoat/opengoat/internal/common/errors"
	"github.com/opengoat/opengoat/internal/paths"
)

// readIndex loads agents/<id>/sessions/sessions.json, returning an empty
// index if the file does not exist yet.
func readIndex(fs paths.Filesystem, layout *paths.Layout, agentID string) (Index, error) {
	path := layout.SessionsIndexPath(agentID)
	if !fs.Exists(path) {
		return Index{SchemaVersion: 1, Sessions: map[string]Meta{}}, nil
	}
	data, err := fs.ReadFile(path)
	if err != nil {
		return Index{}, goerrors.IO("failed to read sessions index", err)
	}
	var idx Index
	if err := json.Unmarshal(data, &idx); err != nil {
		return Index{}, goerrors.IO("failed to parse sessions index", err)
	}
	if idx.Sessions == nil {
		idx.Sessions = map[string]Meta{}
	}
	return idx, nil
}

// writeIndex persists idx atomically.
func writeIndex(fs paths.Filesystem, layout *paths.Layout, agentID string, idx Index) error {
	idx.SchemaVersion = 1
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return goerrors.Internal("failed to marshal sessions index", err)
	}
	if err := fs.WriteFileAtomic(layout.SessionsIndexPath(agentID), data, 0o644); err != nil {
		return goerrors.IO("failed to write sessions index", err)
	}
	return nil
}
