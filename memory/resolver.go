package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
)

// Surface is the prefix of the default space name for a calling surface, so
// automatic capture and explicit tools do not share a space by accident.
type Surface string

const (
	SurfaceChat    Surface = "adk_chat_"
	SurfaceTool    Surface = "adk_tool_"
	SurfaceService Surface = "adk_memory_"
)

// DefaultSpaceName derives the space name used when none is configured.
// Empty identity parts are dropped; no identity at all yields "default".
func DefaultSpaceName(surface Surface, identity ...string) string {
	parts := make([]string, 0, len(identity))
	for _, p := range identity {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		parts = append(parts, "default")
	}
	return string(surface) + strings.Join(parts, "_")
}

// Resolved is a concrete space and embedder pair.
type Resolved struct {
	SpaceID    string
	SpaceName  string
	EmbedderID string

	// SpaceCreated and EmbedderCreated report what this resolution provisioned.
	SpaceCreated    bool
	EmbedderCreated bool
}

// Resolver turns a Config into a Resolved pair once and caches it. Failed
// resolutions are not cached, so a later call after a configuration or
// backend fix can succeed.
type Resolver struct {
	backend     Backend
	cfg         Config
	defaultName string
	logger      *slog.Logger

	sem      chan struct{}
	resolved atomic.Pointer[Resolved]
}

// NewResolver creates a resolver. defaultName is used when cfg pins neither a
// space id nor a space name; see DefaultSpaceName.
func NewResolver(backend Backend, cfg Config, defaultName string, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		backend:     backend,
		cfg:         cfg,
		defaultName: defaultName,
		logger:      logger,
		sem:         make(chan struct{}, 1),
	}
}

// Resolve returns the cached pair, resolving it on first use. Concurrent
// callers wait for the first resolution and share its outcome, giving up
// when ctx is done.
func (r *Resolver) Resolve(ctx context.Context) (*Resolved, error) {
	if res := r.resolved.Load(); res != nil {
		return res, nil
	}

	select {
	case r.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-r.sem }()
	if res := r.resolved.Load(); res != nil {
		return res, nil
	}

	res, err := r.resolve(ctx)
	if err != nil {
		return nil, err
	}
	r.resolved.Store(res)
	r.logger.Info("memory: resolved space",
		"space_id", res.SpaceID,
		"space_name", res.SpaceName,
		"embedder_id", res.EmbedderID,
		"space_created", res.SpaceCreated,
		"embedder_created", res.EmbedderCreated)
	return res, nil
}

// Cached returns the resolved pair without touching the backend.
func (r *Resolver) Cached() (*Resolved, bool) {
	res := r.resolved.Load()
	return res, res != nil
}

// SpaceName is the name this resolver looks up or creates when no space id
// is pinned.
func (r *Resolver) SpaceName() string {
	if r.cfg.SpaceName != "" {
		return r.cfg.SpaceName
	}
	return r.defaultName
}

func (r *Resolver) resolve(ctx context.Context) (*Resolved, error) {
	res := &Resolved{}

	// A pinned embedder is validated up front, whether or not a space gets
	// created, so a bad pin fails the same way every time.
	if r.cfg.EmbedderID != "" {
		id, err := pinnedEmbedder(ctx, r.backend, r.cfg.EmbedderID)
		if err != nil {
			return nil, err
		}
		res.EmbedderID = id
	}

	space, err := r.resolveSpace(ctx, res)
	if err != nil {
		return nil, err
	}
	res.SpaceID = space.ID
	res.SpaceName = space.Name

	if res.EmbedderID == "" && len(space.EmbedderIDs) > 0 {
		res.EmbedderID = space.EmbedderIDs[0]
	}
	if res.EmbedderID == "" {
		if err := r.ensureEmbedder(ctx, res); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (r *Resolver) resolveSpace(ctx context.Context, res *Resolved) (*Space, error) {
	if r.cfg.SpaceID != "" {
		space, err := r.backend.GetSpace(ctx, r.cfg.SpaceID)
		if errors.Is(err, ErrNotFound) {
			return nil, configErrorf(ErrSpaceNotFound,
				"space_id %q not found; a space pinned by id must already exist", r.cfg.SpaceID)
		}
		if err != nil {
			return nil, fmt.Errorf("get space %q: %w", r.cfg.SpaceID, err)
		}
		if r.cfg.SpaceName != "" && space.Name != r.cfg.SpaceName {
			return nil, configErrorf(ErrSpaceMismatch,
				"space_id %q and space_name %q refer to different spaces (space %q is named %q)",
				r.cfg.SpaceID, r.cfg.SpaceName, space.ID, space.Name)
		}
		return space, nil
	}
	return r.lookupOrCreate(ctx, r.SpaceName(), res)
}

func (r *Resolver) lookupOrCreate(ctx context.Context, name string, res *Resolved) (*Space, error) {
	space, err := r.backend.FindSpaceByName(ctx, name)
	if err == nil {
		return space, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("find space %q: %w", name, err)
	}

	if err := r.ensureEmbedder(ctx, res); err != nil {
		return nil, err
	}

	space, err = r.backend.CreateSpace(ctx, SpaceSpec{Name: name, EmbedderID: res.EmbedderID})
	if errors.Is(err, ErrConflict) {
		// Lost a creation race; the existing space wins.
		existing, findErr := r.backend.FindSpaceByName(ctx, name)
		if findErr != nil {
			return nil, fmt.Errorf("create space %q: %w (re-query: %v)", name, err, findErr)
		}
		r.logger.Debug("memory: space created concurrently, using existing", "space_name", name, "space_id", existing.ID)
		return existing, nil
	}
	if err != nil {
		return nil, fmt.Errorf("create space %q: %w", name, err)
	}
	res.SpaceCreated = true
	return space, nil
}

func (r *Resolver) ensureEmbedder(ctx context.Context, res *Resolved) error {
	if res.EmbedderID != "" {
		return nil
	}
	id, created, err := firstOrCreateEmbedder(ctx, r.backend, r.cfg.EmbedderAPIKey)
	if err != nil {
		return err
	}
	res.EmbedderID = id
	res.EmbedderCreated = created
	return nil
}

// Resolvers hands out one Resolver per identity. With an explicitly pinned
// space every identity shares a single resolver.
type Resolvers struct {
	backend Backend
	cfg     Config
	surface Surface
	logger  *slog.Logger

	mu  sync.Mutex
	set map[string]*Resolver
}

// NewResolvers creates a resolver set for a calling surface.
func NewResolvers(backend Backend, cfg Config, surface Surface, logger *slog.Logger) *Resolvers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolvers{
		backend: backend,
		cfg:     cfg,
		surface: surface,
		logger:  logger,
		set:     make(map[string]*Resolver),
	}
}

// For returns the resolver of an identity, creating it on first use.
func (rs *Resolvers) For(identity ...string) *Resolver {
	key := ""
	if !rs.cfg.HasExplicitSpace() {
		key = strings.Join(identity, "\x00")
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()
	if r, ok := rs.set[key]; ok {
		return r
	}
	r := NewResolver(rs.backend, rs.cfg, DefaultSpaceName(rs.surface, identity...), rs.logger)
	rs.set[key] = r
	return r
}
