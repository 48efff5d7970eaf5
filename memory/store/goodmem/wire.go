package goodmem

import (
	"fmt"
	"time"

	"github.com/becomeliminal/nim-goodmem/memory"
)

// Wire types of the Goodmem REST API. The dev server speaks the same shapes.

// Chunking defaults applied to every space created through the client.
const (
	DefaultChunkSize         = 512
	DefaultChunkOverlap      = 64
	DefaultKeepStrategy      = "KEEP_END"
	DefaultLengthMeasurement = "CHARACTER_COUNT"
)

type SpaceEmbedder struct {
	EmbedderID             string  `json:"embedderId"`
	DefaultRetrievalWeight float64 `json:"defaultRetrievalWeight,omitempty"`
}

type RecursiveChunking struct {
	ChunkSize         int    `json:"chunkSize"`
	ChunkOverlap      int    `json:"chunkOverlap"`
	KeepStrategy      string `json:"keepStrategy"`
	LengthMeasurement string `json:"lengthMeasurement"`
}

type ChunkingConfig struct {
	Recursive *RecursiveChunking `json:"recursive,omitempty"`
}

type SpaceResource struct {
	SpaceID        string          `json:"spaceId"`
	Name           string          `json:"name"`
	SpaceEmbedders []SpaceEmbedder `json:"spaceEmbedders,omitempty"`
	CreatedAt      int64           `json:"createdAt,omitempty"` // Unix millis.
}

type CreateSpaceRequest struct {
	Name                  string          `json:"name"`
	SpaceEmbedders        []SpaceEmbedder `json:"spaceEmbedders,omitempty"`
	DefaultChunkingConfig *ChunkingConfig `json:"defaultChunkingConfig,omitempty"`
}

type ListSpacesResponse struct {
	Spaces    []SpaceResource `json:"spaces"`
	NextToken string          `json:"nextToken,omitempty"`
}

type EmbedderResource struct {
	EmbedderID       string `json:"embedderId"`
	DisplayName      string `json:"displayName,omitempty"`
	ProviderType     string `json:"providerType,omitempty"`
	EndpointURL      string `json:"endpointUrl,omitempty"`
	ModelIdentifier  string `json:"modelIdentifier,omitempty"`
	Dimensionality   int    `json:"dimensionality,omitempty"`
	DistributionType string `json:"distributionType,omitempty"`
}

type APIKeyCredential struct {
	InlineSecret string `json:"inlineSecret"`
}

type EmbedderCredentials struct {
	Kind   string            `json:"kind"`
	APIKey *APIKeyCredential `json:"apiKey,omitempty"`
}

type CreateEmbedderRequest struct {
	DisplayName      string              `json:"displayName"`
	ProviderType     string              `json:"providerType"`
	EndpointURL      string              `json:"endpointUrl"`
	ModelIdentifier  string              `json:"modelIdentifier"`
	Dimensionality   int                 `json:"dimensionality"`
	DistributionType string              `json:"distributionType"`
	Credentials      EmbedderCredentials `json:"credentials"`
}

type ListEmbeddersResponse struct {
	Embedders []EmbedderResource `json:"embedders"`
}

// InsertMemoryRequest is sent as JSON for text, and as the "request" field
// of a multipart upload for binary content.
type InsertMemoryRequest struct {
	SpaceID         string         `json:"spaceId"`
	OriginalContent string         `json:"originalContent,omitempty"`
	ContentType     string         `json:"contentType"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

type MemoryResource struct {
	MemoryID         string         `json:"memoryId"`
	SpaceID          string         `json:"spaceId,omitempty"`
	ContentType      string         `json:"contentType,omitempty"`
	ProcessingStatus string         `json:"processingStatus,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	CreatedAt        int64          `json:"createdAt,omitempty"` // Unix millis.
}

type SpaceKey struct {
	SpaceID string `json:"spaceId"`
}

type RetrieveRequest struct {
	Message       string     `json:"message"`
	SpaceKeys     []SpaceKey `json:"spaceKeys"`
	RequestedSize int        `json:"requestedSize"`
}

// RetrieveEvent is one NDJSON line of a retrieval stream. Only lines that
// carry a RetrievedItem hold results.
type RetrieveEvent struct {
	ResultSetBoundary *ResultSetBoundary `json:"resultSetBoundary,omitempty"`
	RetrievedItem     *RetrievedItem     `json:"retrievedItem,omitempty"`
}

type ResultSetBoundary struct {
	Kind        string `json:"kind"` // BEGIN or END
	ResultSetID string `json:"resultSetId,omitempty"`
}

type RetrievedItem struct {
	Chunk ScoredChunk `json:"chunk"`
}

type ScoredChunk struct {
	Chunk          Chunk   `json:"chunk"`
	RelevanceScore float64 `json:"relevanceScore"`
}

type Chunk struct {
	ChunkID   string `json:"chunkId"`
	MemoryID  string `json:"memoryId"`
	ChunkText string `json:"chunkText"`
	UpdatedAt int64  `json:"updatedAt,omitempty"` // Unix millis.
}

type BatchGetRequest struct {
	MemoryIDs []string `json:"memoryIds"`
}

type BatchGetResponse struct {
	Memories []MemoryResource `json:"memories"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// DefaultChunkingConfig is the chunking sent with every space creation.
func DefaultChunkingConfig() *ChunkingConfig {
	return &ChunkingConfig{Recursive: &RecursiveChunking{
		ChunkSize:         DefaultChunkSize,
		ChunkOverlap:      DefaultChunkOverlap,
		KeepStrategy:      DefaultKeepStrategy,
		LengthMeasurement: DefaultLengthMeasurement,
	}}
}

// Conversions between wire and domain types.

func (s SpaceResource) Space() *memory.Space {
	out := &memory.Space{ID: s.SpaceID, Name: s.Name, CreatedAt: fromMillis(s.CreatedAt)}
	for _, e := range s.SpaceEmbedders {
		out.EmbedderIDs = append(out.EmbedderIDs, e.EmbedderID)
	}
	return out
}

func SpaceResourceFrom(s *memory.Space) SpaceResource {
	out := SpaceResource{SpaceID: s.ID, Name: s.Name, CreatedAt: toMillis(s.CreatedAt)}
	for _, id := range s.EmbedderIDs {
		out.SpaceEmbedders = append(out.SpaceEmbedders, SpaceEmbedder{EmbedderID: id, DefaultRetrievalWeight: 1})
	}
	return out
}

func (e EmbedderResource) Embedder() memory.Embedder {
	return memory.Embedder{
		ID:              e.EmbedderID,
		DisplayName:     e.DisplayName,
		ProviderType:    e.ProviderType,
		ModelIdentifier: e.ModelIdentifier,
		Dimensionality:  e.Dimensionality,
	}
}

func EmbedderResourceFrom(e *memory.Embedder) EmbedderResource {
	return EmbedderResource{
		EmbedderID:      e.ID,
		DisplayName:     e.DisplayName,
		ProviderType:    e.ProviderType,
		ModelIdentifier: e.ModelIdentifier,
		Dimensionality:  e.Dimensionality,
	}
}

func (r CreateEmbedderRequest) Spec() memory.EmbedderSpec {
	spec := memory.EmbedderSpec{
		DisplayName:      r.DisplayName,
		ProviderType:     r.ProviderType,
		EndpointURL:      r.EndpointURL,
		ModelIdentifier:  r.ModelIdentifier,
		Dimensionality:   r.Dimensionality,
		DistributionType: r.DistributionType,
	}
	if r.Credentials.APIKey != nil {
		spec.APIKey = r.Credentials.APIKey.InlineSecret
	}
	return spec
}

func CreateEmbedderRequestFrom(spec memory.EmbedderSpec) CreateEmbedderRequest {
	return CreateEmbedderRequest{
		DisplayName:      spec.DisplayName,
		ProviderType:     spec.ProviderType,
		EndpointURL:      spec.EndpointURL,
		ModelIdentifier:  spec.ModelIdentifier,
		Dimensionality:   spec.Dimensionality,
		DistributionType: spec.DistributionType,
		Credentials: EmbedderCredentials{
			Kind:   "CREDENTIAL_KIND_API_KEY",
			APIKey: &APIKeyCredential{InlineSecret: spec.APIKey},
		},
	}
}

func (m MemoryResource) Record() memory.MemoryRecord {
	return memory.MemoryRecord{
		ID:          m.MemoryID,
		SpaceID:     m.SpaceID,
		ContentType: m.ContentType,
		Metadata:    StringMetadata(m.Metadata),
		CreatedAt:   fromMillis(m.CreatedAt),
	}
}

func MemoryResourceFrom(r memory.MemoryRecord) MemoryResource {
	return MemoryResource{
		MemoryID:         r.ID,
		SpaceID:          r.SpaceID,
		ContentType:      r.ContentType,
		ProcessingStatus: "COMPLETED",
		Metadata:         AnyMetadata(r.Metadata),
		CreatedAt:        toMillis(r.CreatedAt),
	}
}

func RetrieveEventFrom(f memory.Fragment) RetrieveEvent {
	return RetrieveEvent{RetrievedItem: &RetrievedItem{Chunk: ScoredChunk{
		Chunk: Chunk{
			ChunkID:   f.ChunkID,
			MemoryID:  f.MemoryID,
			ChunkText: f.Text,
			UpdatedAt: toMillis(f.UpdatedAt),
		},
		RelevanceScore: f.Score,
	}}}
}

// StringMetadata flattens server metadata into strings. Non-string values
// keep their default formatting.
func StringMetadata(md map[string]any) map[string]string {
	if len(md) == 0 {
		return nil
	}
	out := make(map[string]string, len(md))
	for k, v := range md {
		if s, ok := v.(string); ok {
			out[k] = s
			continue
		}
		out[k] = fmt.Sprint(v)
	}
	return out
}

func AnyMetadata(md map[string]string) map[string]any {
	if len(md) == 0 {
		return nil
	}
	out := make(map[string]any, len(md))
	for k, v := range md {
		out[k] = v
	}
	return out
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
