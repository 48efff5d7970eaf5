package memory_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/becomeliminal/nim-goodmem/memory"
	"github.com/becomeliminal/nim-goodmem/memory/store/chromem"
)

// spyBackend wraps a real in-process store, counting calls and injecting
// failures where a test asks for them.
type spyBackend struct {
	memory.Backend

	mu    sync.Mutex
	calls map[string]int

	findErr     error
	insertErr   error
	retrieveErr error
	metadataErr error

	beforeCreate func(spec memory.SpaceSpec)
	findHook     func(ctx context.Context) error
	retrieveHook func(ctx context.Context) error
}

func newSpy() (*spyBackend, *chromem.Store) {
	store := chromem.New(chromem.WithLogger(quietLogger()))
	return &spyBackend{Backend: store, calls: make(map[string]int)}, store
}

func (b *spyBackend) hit(name string) {
	b.mu.Lock()
	b.calls[name]++
	b.mu.Unlock()
}

func (b *spyBackend) Calls(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[name]
}

func (b *spyBackend) CreateSpace(ctx context.Context, spec memory.SpaceSpec) (*memory.Space, error) {
	b.hit("CreateSpace")
	if b.beforeCreate != nil {
		b.beforeCreate(spec)
	}
	return b.Backend.CreateSpace(ctx, spec)
}

func (b *spyBackend) GetSpace(ctx context.Context, id string) (*memory.Space, error) {
	b.hit("GetSpace")
	return b.Backend.GetSpace(ctx, id)
}

func (b *spyBackend) FindSpaceByName(ctx context.Context, name string) (*memory.Space, error) {
	b.hit("FindSpaceByName")
	if b.findHook != nil {
		if err := b.findHook(ctx); err != nil {
			return nil, err
		}
	}
	if b.findErr != nil {
		return nil, b.findErr
	}
	return b.Backend.FindSpaceByName(ctx, name)
}

func (b *spyBackend) ListEmbedders(ctx context.Context) ([]memory.Embedder, error) {
	b.hit("ListEmbedders")
	return b.Backend.ListEmbedders(ctx)
}

func (b *spyBackend) GetEmbedder(ctx context.Context, id string) (*memory.Embedder, error) {
	b.hit("GetEmbedder")
	return b.Backend.GetEmbedder(ctx, id)
}

func (b *spyBackend) CreateEmbedder(ctx context.Context, spec memory.EmbedderSpec) (*memory.Embedder, error) {
	b.hit("CreateEmbedder")
	return b.Backend.CreateEmbedder(ctx, spec)
}

func (b *spyBackend) InsertMemory(ctx context.Context, item memory.MemoryItem) (*memory.Receipt, error) {
	b.hit("InsertMemory")
	if b.insertErr != nil {
		return nil, b.insertErr
	}
	return b.Backend.InsertMemory(ctx, item)
}

func (b *spyBackend) Retrieve(ctx context.Context, req memory.RetrieveRequest) ([]memory.Fragment, error) {
	b.hit("Retrieve")
	if b.retrieveHook != nil {
		if err := b.retrieveHook(ctx); err != nil {
			return nil, err
		}
	}
	if b.retrieveErr != nil {
		return nil, b.retrieveErr
	}
	return b.Backend.Retrieve(ctx, req)
}

func (b *spyBackend) GetMemories(ctx context.Context, ids []string) ([]memory.MemoryRecord, error) {
	b.hit("GetMemories")
	if b.metadataErr != nil {
		return nil, b.metadataErr
	}
	return b.Backend.GetMemories(ctx, ids)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// clearEnv blanks every variable Load consults so the host environment
// cannot leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		memory.EnvBaseURL, memory.EnvAPIKey, memory.EnvSpaceID, memory.EnvSpaceName,
		memory.EnvEmbedderID, memory.EnvTopK, memory.EnvTimeout, memory.EnvDebug,
		memory.EnvGoogleAPIKey, memory.EnvGeminiAPIKey,
	} {
		t.Setenv(k, "")
	}
}

func mustEmbedder(t *testing.T, b memory.Backend, name string) *memory.Embedder {
	t.Helper()
	e, err := b.CreateEmbedder(context.Background(), memory.EmbedderSpec{DisplayName: name})
	if err != nil {
		t.Fatalf("create embedder: %v", err)
	}
	return e
}

func mustSpace(t *testing.T, b memory.Backend, name, embedderID string) *memory.Space {
	t.Helper()
	sp, err := b.CreateSpace(context.Background(), memory.SpaceSpec{Name: name, EmbedderID: embedderID})
	if err != nil {
		t.Fatalf("create space: %v", err)
	}
	return sp
}
