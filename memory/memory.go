package memory

import (
	"context"
	"maps"
	"time"
)

// Backend is the surface of the remote memory service that resolution,
// capture and recall depend on. Implementations: goodmem.Client (HTTP),
// chromem.Store (in-process).
//
// Lookups that find nothing return an error wrapping ErrNotFound. CreateSpace
// returns an error wrapping ErrConflict when the name is already taken.
type Backend interface {
	// Spaces
	CreateSpace(ctx context.Context, spec SpaceSpec) (*Space, error)
	GetSpace(ctx context.Context, spaceID string) (*Space, error)
	FindSpaceByName(ctx context.Context, name string) (*Space, error)
	DeleteSpace(ctx context.Context, spaceID string) error

	// Embedders
	ListEmbedders(ctx context.Context) ([]Embedder, error)
	GetEmbedder(ctx context.Context, embedderID string) (*Embedder, error)
	CreateEmbedder(ctx context.Context, spec EmbedderSpec) (*Embedder, error)

	// Content
	InsertMemory(ctx context.Context, item MemoryItem) (*Receipt, error)
	Retrieve(ctx context.Context, req RetrieveRequest) ([]Fragment, error)
	GetMemories(ctx context.Context, memoryIDs []string) ([]MemoryRecord, error)
}

// Space is a backend-owned partition of memory content.
type Space struct {
	ID          string
	Name        string
	EmbedderIDs []string // Embedders attached to the space, in attachment order.
	CreatedAt   time.Time
}

// SpaceSpec describes a space to create.
type SpaceSpec struct {
	Name       string
	EmbedderID string
}

// Embedder is a backend-owned reference to an embedding model.
type Embedder struct {
	ID              string
	DisplayName     string
	ProviderType    string
	ModelIdentifier string
	Dimensionality  int
}

// EmbedderSpec describes an embedder to create. APIKey is the credential of
// the embedding provider, not of the memory backend.
type EmbedderSpec struct {
	DisplayName      string
	ProviderType     string
	EndpointURL      string
	ModelIdentifier  string
	Dimensionality   int
	DistributionType string
	APIKey           string
}

// MemoryItem is a unit of content destined for a space. Exactly one of Text
// or Data is expected to be set; Data items carry their MIME type in
// ContentType.
type MemoryItem struct {
	SpaceID     string
	EmbedderID  string
	Text        string
	Data        []byte
	ContentType string
	Source      string // Who produced the content, e.g. "user" or "LLM".
	Metadata    map[string]string
}

// IsBinary reports whether the item carries raw bytes instead of text.
func (m *MemoryItem) IsBinary() bool {
	return m.Data != nil
}

// MetadataWithSource returns a copy of the item metadata with the source
// label recorded under "role" unless the caller already set one.
func (m *MemoryItem) MetadataWithSource() map[string]string {
	out := make(map[string]string, len(m.Metadata)+1)
	maps.Copy(out, m.Metadata)
	if _, ok := out["role"]; !ok && m.Source != "" {
		out["role"] = m.Source
	}
	return out
}

// Receipt acknowledges a write.
type Receipt struct {
	MemoryID         string
	ProcessingStatus string
}

// RetrieveRequest is a semantic query over one or more spaces.
type RetrieveRequest struct {
	SpaceIDs []string
	Query    string
	TopK     int
}

// Fragment is a retrieved chunk of a stored memory.
type Fragment struct {
	ChunkID   string
	MemoryID  string
	Text      string
	Score     float64
	UpdatedAt time.Time // Zero when the backend did not report it.
}

// MemoryRecord is the stored metadata of a memory, used to enrich fragments.
type MemoryRecord struct {
	ID          string
	SpaceID     string
	ContentType string
	Metadata    map[string]string
	CreatedAt   time.Time
}
