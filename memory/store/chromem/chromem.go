// Package chromem is an in-process memory.Backend built on chromem-go. Each
// space is a chromem collection; embeddings come from a local TextEmbedder.
// It backs offline runs of the chat demo, the dev server and tests.
package chromem

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	chromem "github.com/philippgille/chromem-go"

	"github.com/becomeliminal/nim-goodmem/memory"
	"github.com/becomeliminal/nim-goodmem/memory/embedder/hashing"
)

// Chunking mirrors the recursive chunking configuration sent to the remote
// service when it creates a space.
const (
	ChunkSize    = 512
	ChunkOverlap = 64
)

// TextEmbedder turns text into a vector.
type TextEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Option configures a Store.
type Option func(*Store)

// WithEmbedder replaces the default hashing embedder.
func WithEmbedder(e TextEmbedder) Option {
	return func(s *Store) {
		s.embedder = e
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

type space struct {
	info memory.Space
	col  *chromem.Collection
}

// Store implements memory.Backend in process memory.
type Store struct {
	db       *chromem.DB
	embedder TextEmbedder
	logger   *slog.Logger
	now      func() time.Time

	mu        sync.RWMutex
	spaces    map[string]*space // by space id
	byName    map[string]string // space name -> id
	embedders []memory.Embedder
	memories  map[string]memory.MemoryRecord
}

var _ memory.Backend = (*Store)(nil)

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		db:       chromem.NewDB(),
		embedder: hashing.New(hashing.DefaultDimensions),
		logger:   slog.Default(),
		now:      time.Now,
		spaces:   make(map[string]*space),
		byName:   make(map[string]string),
		memories: make(map[string]memory.MemoryRecord),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateSpace creates a collection for the space. Names are unique.
func (s *Store) CreateSpace(ctx context.Context, spec memory.SpaceSpec) (*memory.Space, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byName[spec.Name]; taken {
		return nil, fmt.Errorf("space %q: %w", spec.Name, memory.ErrConflict)
	}
	if spec.EmbedderID != "" && s.embedderIndex(spec.EmbedderID) < 0 {
		return nil, fmt.Errorf("embedder %q: %w", spec.EmbedderID, memory.ErrNotFound)
	}

	id := uuid.NewString()
	col, err := s.db.CreateCollection(id, map[string]string{"name": spec.Name}, nil)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}

	info := memory.Space{ID: id, Name: spec.Name, CreatedAt: s.now().UTC()}
	if spec.EmbedderID != "" {
		info.EmbedderIDs = []string{spec.EmbedderID}
	}
	s.spaces[id] = &space{info: info, col: col}
	s.byName[spec.Name] = id

	s.logger.Debug("chromem: space created", "space_id", id, "space_name", spec.Name)
	return cloneSpace(info), nil
}

// GetSpace returns a space by id.
func (s *Store) GetSpace(ctx context.Context, spaceID string) (*memory.Space, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sp, ok := s.spaces[spaceID]
	if !ok {
		return nil, fmt.Errorf("space %q: %w", spaceID, memory.ErrNotFound)
	}
	return cloneSpace(sp.info), nil
}

// FindSpaceByName returns the space with exactly this name.
func (s *Store) FindSpaceByName(ctx context.Context, name string) (*memory.Space, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byName[name]
	if !ok {
		return nil, fmt.Errorf("space named %q: %w", name, memory.ErrNotFound)
	}
	return cloneSpace(s.spaces[id].info), nil
}

// ListSpaces returns spaces whose name contains filter, ordered by name.
func (s *Store) ListSpaces(ctx context.Context, filter string) ([]memory.Space, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]memory.Space, 0, len(s.spaces))
	for _, sp := range s.spaces {
		if strings.Contains(sp.info.Name, filter) {
			out = append(out, *cloneSpace(sp.info))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// DeleteSpace drops a space and every memory stored in it.
func (s *Store) DeleteSpace(ctx context.Context, spaceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sp, ok := s.spaces[spaceID]
	if !ok {
		return fmt.Errorf("space %q: %w", spaceID, memory.ErrNotFound)
	}
	if err := s.db.DeleteCollection(spaceID); err != nil {
		return fmt.Errorf("delete collection: %w", err)
	}
	delete(s.spaces, spaceID)
	delete(s.byName, sp.info.Name)
	for id, m := range s.memories {
		if m.SpaceID == spaceID {
			delete(s.memories, id)
		}
	}
	return nil
}

// ListEmbedders returns embedders in creation order.
func (s *Store) ListEmbedders(ctx context.Context) ([]memory.Embedder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]memory.Embedder(nil), s.embedders...), nil
}

// GetEmbedder returns an embedder by id.
func (s *Store) GetEmbedder(ctx context.Context, embedderID string) (*memory.Embedder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i := s.embedderIndex(embedderID)
	if i < 0 {
		return nil, fmt.Errorf("embedder %q: %w", embedderID, memory.ErrNotFound)
	}
	e := s.embedders[i]
	return &e, nil
}

// CreateEmbedder registers an embedder. All embedders of the store compute
// vectors with the store's TextEmbedder; the spec is kept as a description.
func (s *Store) CreateEmbedder(ctx context.Context, spec memory.EmbedderSpec) (*memory.Embedder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := memory.Embedder{
		ID:              uuid.NewString(),
		DisplayName:     spec.DisplayName,
		ProviderType:    spec.ProviderType,
		ModelIdentifier: spec.ModelIdentifier,
		Dimensionality:  spec.Dimensionality,
	}
	s.embedders = append(s.embedders, e)
	return &e, nil
}

// InsertMemory chunks, embeds and stores an item. Binary items whose type is
// not textual are indexed by a short description of the attachment.
func (s *Store) InsertMemory(ctx context.Context, item memory.MemoryItem) (*memory.Receipt, error) {
	s.mu.RLock()
	sp, ok := s.spaces[item.SpaceID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("space %q: %w", item.SpaceID, memory.ErrNotFound)
	}

	metadata := item.MetadataWithSource()
	memoryID := uuid.NewString()
	created := s.now().UTC()

	for i, chunk := range chunkText(indexableText(item, metadata), ChunkSize, ChunkOverlap) {
		emb, err := s.embedder.Embed(ctx, chunk)
		if err != nil {
			return nil, fmt.Errorf("embed chunk %d: %w", i, err)
		}
		doc := chromem.Document{
			ID:        uuid.NewString(),
			Content:   chunk,
			Embedding: emb,
			Metadata: map[string]string{
				"memory_id":  memoryID,
				"updated_at": created.Format(time.RFC3339Nano),
			},
		}
		if err := sp.col.AddDocument(ctx, doc); err != nil {
			return nil, fmt.Errorf("add document: %w", err)
		}
	}

	contentType := item.ContentType
	if contentType == "" {
		contentType = "text/plain"
	}

	s.mu.Lock()
	s.memories[memoryID] = memory.MemoryRecord{
		ID:          memoryID,
		SpaceID:     item.SpaceID,
		ContentType: contentType,
		Metadata:    metadata,
		CreatedAt:   created,
	}
	s.mu.Unlock()

	return &memory.Receipt{MemoryID: memoryID, ProcessingStatus: "COMPLETED"}, nil
}

// Retrieve returns the TopK most similar chunks across the requested spaces.
func (s *Store) Retrieve(ctx context.Context, req memory.RetrieveRequest) ([]memory.Fragment, error) {
	if req.TopK <= 0 {
		return nil, nil
	}
	emb, err := s.embedder.Embed(ctx, req.Query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	var out []memory.Fragment
	for _, id := range req.SpaceIDs {
		s.mu.RLock()
		sp, ok := s.spaces[id]
		s.mu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("space %q: %w", id, memory.ErrNotFound)
		}

		// chromem-go requires nResults <= collection size
		n := min(req.TopK, sp.col.Count())
		if n == 0 {
			continue
		}
		results, err := sp.col.QueryEmbedding(ctx, emb, n, nil, nil)
		if err != nil {
			return nil, fmt.Errorf("chromem query: %w", err)
		}
		for _, r := range results {
			f := memory.Fragment{
				ChunkID:  r.ID,
				MemoryID: r.Metadata["memory_id"],
				Text:     r.Content,
				Score:    float64(r.Similarity),
			}
			f.UpdatedAt, _ = time.Parse(time.RFC3339Nano, r.Metadata["updated_at"])
			out = append(out, f)
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > req.TopK {
		out = out[:req.TopK]
	}
	return out, nil
}

// GetMemories returns the records of known ids; unknown ids are omitted.
func (s *Store) GetMemories(ctx context.Context, memoryIDs []string) ([]memory.MemoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]memory.MemoryRecord, 0, len(memoryIDs))
	for _, id := range memoryIDs {
		if m, ok := s.memories[id]; ok {
			out = append(out, m)
		}
	}
	return out, nil
}

// Close releases resources. chromem-go keeps everything in memory.
func (s *Store) Close() error {
	return nil
}

func (s *Store) embedderIndex(id string) int {
	for i, e := range s.embedders {
		if e.ID == id {
			return i
		}
	}
	return -1
}

func cloneSpace(info memory.Space) *memory.Space {
	info.EmbedderIDs = append([]string(nil), info.EmbedderIDs...)
	return &info
}

func indexableText(item memory.MemoryItem, metadata map[string]string) string {
	if !item.IsBinary() {
		return item.Text
	}
	if isTextual(item.ContentType) {
		return string(item.Data)
	}
	name := metadata["filename"]
	if name == "" {
		name = "attachment"
	}
	return fmt.Sprintf("[%s attachment %s, %d bytes]", item.ContentType, name, len(item.Data))
}

func isTextual(contentType string) bool {
	ct := strings.ToLower(contentType)
	return strings.HasPrefix(ct, "text/") || strings.HasPrefix(ct, "application/json")
}

// chunkText splits text into runs of at most size runes, each overlapping
// the previous one by overlap runes. Short text yields a single chunk.
func chunkText(text string, size, overlap int) []string {
	runes := []rune(text)
	if len(runes) <= size {
		return []string{text}
	}

	var chunks []string
	step := size - overlap
	for start := 0; start < len(runes); start += step {
		end := min(start+size, len(runes))
		chunks = append(chunks, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return chunks
}
