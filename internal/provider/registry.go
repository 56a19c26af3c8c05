package provider

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	goerrors "github.com/opengoat/opengoat/internal/common/errors"
	"github.com/opengoat/opengoat/internal/paths"
)

// Config is the persisted shape of providers/<id>/config.json.
type Config struct {
	ProviderID string            `json:"providerId"`
	Env        map[string]string `json:"env"`
}

// Registry maps provider ids to instances, mirroring agent.Registry's
// mutex-guarded map shape. Concrete providers are compiled in via Register,
// never dynamically loaded.
type Registry struct {
	fs     paths.Filesystem
	layout *paths.Layout

	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry constructs an empty provider Registry.
func NewRegistry(fs paths.Filesystem, layout *paths.Layout) *Registry {
	return &Registry{fs: fs, layout: layout, providers: make(map[string]Provider)}
}

// Register adds p under its own metadata id, replacing any existing entry.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Metadata().ID] = p
}

// Get returns the provider registered under id.
func (r *Registry) Get(id string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	if !ok {
		return nil, goerrors.NotFound("provider", id)
	}
	return p, nil
}

// List returns every registered provider's metadata, sorted by id.
func (r *Registry) List() []Metadata {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Metadata, 0, len(r.providers))
	for _, p := range r.providers {
		out = append(out, p.Metadata())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// GetConfig reads providers/<id>/config.json, returning a zero-value Config
// if it has never been written.
func (r *Registry) GetConfig(id string) (Config, error) {
	path := r.layout.ProviderConfigPath(id)
	if !r.fs.Exists(path) {
		return Config{ProviderID: id, Env: map[string]string{}}, nil
	}
	data, err := r.fs.ReadFile(path)
	if err != nil {
		return Config{}, goerrors.IO("failed to read provider config", err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, goerrors.IO("failed to parse provider config", err)
	}
	return cfg, nil
}

// SetConfig persists env under providers/<id>/config.json via the atomic
// filesystem port.
func (r *Registry) SetConfig(id string, env map[string]string) error {
	cfg := Config{ProviderID: id, Env: env}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return goerrors.Internal("failed to marshal provider config", err)
	}
	if err := r.fs.WriteFileAtomic(r.layout.ProviderConfigPath(id), data, 0o600); err != nil {
		return goerrors.IO("failed to write provider config", err)
	}
	return nil
}

// Authenticate runs id's Authenticate operation, merging the persisted
// config env with opts.Env before invocation (opts.Env wins on conflict).
func (r *Registry) Authenticate(ctx context.Context, id string, opts InvokeOptions) (Execution, error) {
	p, err := r.Get(id)
	if err != nil {
		return Execution{}, err
	}
	cfg, err := r.GetConfig(id)
	if err != nil {
		return Execution{}, err
	}
	opts.Env = mergeEnv(cfg.Env, opts.Env)
	return p.Authenticate(ctx, opts)
}

// Invoke runs id's Invoke operation, merging the persisted config env with
// opts.Env before invocation (opts.Env wins on conflict).
func (r *Registry) Invoke(ctx context.Context, id string, opts InvokeOptions) (Execution, error) {
	p, err := r.Get(id)
	if err != nil {
		return Execution{}, err
	}
	cfg, err := r.GetConfig(id)
	if err != nil {
		return Execution{}, err
	}
	opts.Env = mergeEnv(cfg.Env, opts.Env)
	return p.Invoke(ctx, opts)
}

// CreateExternalAgent runs id's CreateExternalAgent operation, merging the
// persisted config env with opts.Env.
func (r *Registry) CreateExternalAgent(ctx context.Context, id string, opts InvokeOptions) (Execution, error) {
	p, err := r.Get(id)
	if err != nil {
		return Execution{}, err
	}
	cfg, err := r.GetConfig(id)
	if err != nil {
		return Execution{}, err
	}
	opts.Env = mergeEnv(cfg.Env, opts.Env)
	return p.CreateExternalAgent(ctx, opts)
}

// mergeEnv layers override on top of base, returning a new map.
func mergeEnv(base, override map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}
