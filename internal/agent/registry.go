package agent

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	goerrors "github.com/opengoat/opengoat/internal/common/errors"
	"github.com/opengoat/opengoat/internal/common/logger"
	"github.com/opengoat/opengoat/internal/paths"
)

// Registry owns every agent manifest: creation, lookup, reports-to
// mutation, and deletion. It is the exclusive writer of manifests; the
// orchestrator and router read through Get/List only.
type Registry struct {
	fs     paths.Filesystem
	layout *paths.Layout
	logger *logger.Logger

	mu        sync.RWMutex
	manifests map[string]*Manifest
}

// NewRegistry constructs an empty Registry. Call Load to populate it from disk.
func NewRegistry(fs paths.Filesystem, layout *paths.Layout, log *logger.Logger) *Registry {
	return &Registry{
		fs:        fs,
		layout:    layout,
		logger:    log,
		manifests: make(map[string]*Manifest),
	}
}

// Load reads agents.json and each listed agent's AGENTS.md workspace manifest.
func (r *Registry) Load() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := r.fs.ReadFile(r.layout.AgentsPath())
	if err != nil {
		if !r.fs.Exists(r.layout.AgentsPath()) {
			return nil
		}
		return goerrors.IO("failed to read agents index", err)
	}

	var idx agentsIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		return goerrors.IO("failed to parse agents index", err)
	}

	for _, id := range idx.Agents {
		manifestData, err := r.fs.ReadFile(r.layout.WorkspaceManifestPath(id))
		if err != nil {
			r.logger.Warn("skipping agent with unreadable manifest", zap.String("id", id), zap.Error(err))
			continue
		}
		manifest, err := ParseWorkspaceManifest(manifestData)
		if err != nil {
			r.logger.Warn("skipping agent with invalid manifest", zap.String("id", id), zap.Error(err))
			continue
		}
		r.manifests[manifest.ID] = manifest
	}

	return nil
}

// Get returns the manifest for id, if present.
func (r *Registry) Get(id string) (*Manifest, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.manifests[id]
	return m, ok
}

// List returns every manifest, sorted by id for deterministic output.
func (r *Registry) List() []*Manifest {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Manifest, 0, len(r.manifests))
	for _, m := range r.manifests {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// DefaultHead returns the single manifest with ReportsTo == "".
func (r *Registry) DefaultHead() (*Manifest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, m := range r.manifests {
		if m.IsHead() {
			return m, nil
		}
	}
	return nil, goerrors.NotFound("agent", "head")
}

// reportsToEdgesLocked builds the current reportsTo map. Caller must hold r.mu.
func (r *Registry) reportsToEdgesLocked() map[string]string {
	edges := make(map[string]string, len(r.manifests))
	for id, m := range r.manifests {
		edges[id] = m.ReportsTo
	}
	return edges
}

// EnsureAgent creates a new agent workspace, or returns the existing one if
// the normalized id already exists. The first agent ever created becomes
// the organization head (ReportsTo == "").
func (r *Registry) EnsureAgent(req CreateRequest) (*Manifest, error) {
	id, err := NormalizeID(req.Name)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.manifests[id]; ok {
		return existing, nil
	}

	agentType := req.Type
	if agentType == "" {
		agentType = TypeIndividual
	}

	reportsTo := req.ReportsTo
	if len(r.manifests) == 0 {
		// The first agent in a fresh home is the organization head.
		reportsTo = ""
		agentType = TypeManager
	} else if reportsTo == "" {
		// reportsTo is optional per the createAgent contract; defaulting it
		// to the current head (rather than leaving it empty) keeps
		// countHeads(edges) == 1 instead of minting a second head.
		edges := r.reportsToEdgesLocked()
		if countHeads(edges) != 1 {
			return nil, goerrors.Internal("organization head invariant violated", nil)
		}
		head, ok := headID(edges)
		if !ok {
			return nil, goerrors.NotFound("agent", "head")
		}
		reportsTo = head
	} else if _, ok := r.manifests[reportsTo]; !ok {
		return nil, goerrors.NotFound("agent", reportsTo)
	}

	manifest := &Manifest{
		ID:           id,
		DisplayName:  req.Name,
		Type:         agentType,
		ReportsTo:    reportsTo,
		Provider:     req.Provider,
		Discoverable: true,
		Delegation: Delegation{
			CanReceive:  true,
			CanDelegate: agentType == TypeManager,
		},
		Skills:          req.Skills,
		Priority:        50,
		WorkspaceAccess: WorkspaceAccessAgentWorkspace,
	}

	r.manifests[id] = manifest
	if err := r.persistLocked(manifest); err != nil {
		delete(r.manifests, id)
		return nil, err
	}

	r.logger.Info("agent created", zap.String("id", id), zap.String("reportsTo", reportsTo))
	return manifest, nil
}

// SetAgentManager mutates id's reportsTo, rejecting the change if it would
// create a cycle or orphan the organization head.
func (r *Registry) SetAgentManager(id, reportsTo string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	manifest, ok := r.manifests[id]
	if !ok {
		return goerrors.NotFound("agent", id)
	}
	if manifest.IsHead() && reportsTo != "" {
		return goerrors.Conflict("cannot assign a manager to the organization head")
	}
	if reportsTo != "" {
		if _, ok := r.manifests[reportsTo]; !ok {
			return goerrors.NotFound("agent", reportsTo)
		}
	}

	edges := r.reportsToEdgesLocked()
	if wouldCreateCycle(edges, id, reportsTo) {
		return goerrors.Conflict(fmt.Sprintf("assigning %q to report to %q would create a cycle", id, reportsTo))
	}

	manifest.ReportsTo = reportsTo
	return r.persistLocked(manifest)
}

// SetAgentProvider binds id to providerID.
func (r *Registry) SetAgentProvider(id, providerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	manifest, ok := r.manifests[id]
	if !ok {
		return goerrors.NotFound("agent", id)
	}

	manifest.Provider = providerID
	return r.persistLocked(manifest)
}

// DeleteAgent removes id's workspace and manifest. The organization head
// may not be deleted.
func (r *Registry) DeleteAgent(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	manifest, ok := r.manifests[id]
	if !ok {
		return goerrors.NotFound("agent", id)
	}
	if manifest.IsHead() {
		return goerrors.Conflict("cannot delete the organization head")
	}

	for other, m := range r.manifests {
		if other != id && m.ReportsTo == id {
			m.ReportsTo = manifest.ReportsTo
			if err := r.persistLocked(m); err != nil {
				return err
			}
		}
	}

	delete(r.manifests, id)

	if err := r.fs.RemoveAll(r.layout.WorkspaceDir(id)); err != nil {
		return goerrors.IO("failed to remove agent workspace", err)
	}
	if err := r.fs.RemoveAll(r.layout.AgentDir(id)); err != nil {
		return goerrors.IO("failed to remove agent config dir", err)
	}

	return r.persistIndexLocked()
}

// persistLocked writes manifest's workspace files, config, and the agents
// index. Caller must hold r.mu.
func (r *Registry) persistLocked(manifest *Manifest) error {
	manifestBytes, err := RenderWorkspaceManifest(manifest)
	if err != nil {
		return goerrors.Internal("failed to render manifest", err)
	}
	if err := r.fs.WriteFileAtomic(r.layout.WorkspaceManifestPath(manifest.ID), manifestBytes, 0o644); err != nil {
		return goerrors.IO("failed to write workspace manifest", err)
	}

	meta := workspaceMeta{SchemaVersion: 1, ID: manifest.ID, DisplayName: manifest.DisplayName, Kind: "workspace"}
	metaBytes, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return goerrors.Internal("failed to marshal workspace meta", err)
	}
	if err := r.fs.WriteFileAtomic(r.layout.WorkspaceMetaPath(manifest.ID), metaBytes, 0o644); err != nil {
		return goerrors.IO("failed to write workspace meta", err)
	}

	cfg := agentConfig{
		SchemaVersion: 1,
		ID:            manifest.ID,
		Provider:      manifest.Provider,
		Type:          manifest.Type,
		ReportsTo:     manifest.ReportsTo,
		Discoverable:  manifest.Discoverable,
		Delegation:    manifest.Delegation,
		Tags:          manifest.Tags,
		Skills:        manifest.Skills,
		Priority:      manifest.Priority,
	}
	cfgBytes, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return goerrors.Internal("failed to marshal agent config", err)
	}
	if err := r.fs.WriteFileAtomic(r.layout.AgentConfigPath(manifest.ID), cfgBytes, 0o644); err != nil {
		return goerrors.IO("failed to write agent config", err)
	}

	return r.persistIndexLocked()
}

func (r *Registry) persistIndexLocked() error {
	ids := make([]string, 0, len(r.manifests))
	for id := range r.manifests {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	idx := agentsIndex{SchemaVersion: 1, Agents: ids, UpdatedAt: time.Now().UTC().Format(time.RFC3339)}
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return goerrors.Internal("failed to marshal agents index", err)
	}
	if err := r.fs.WriteFileAtomic(r.layout.AgentsPath(), data, 0o644); err != nil {
		return goerrors.IO("failed to write agents index", err)
	}
	return nil
}
