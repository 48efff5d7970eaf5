package memory

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/ristretto"
)

// Recollection is a retrieved fragment enriched with the metadata of the
// memory it belongs to.
type Recollection struct {
	MemoryID  string
	ChunkID   string
	Text      string
	Score     float64
	Timestamp time.Time
	Role      string
	Filename  string
}

// Recall runs semantic queries against a resolved space. Memory metadata is
// cached per instance since it never changes once written.
type Recall struct {
	backend Backend
	cache   *ristretto.Cache
	logger  *slog.Logger
}

// NewRecall creates a recall adapter.
func NewRecall(backend Backend, logger *slog.Logger) (*Recall, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e5,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("memory: metadata cache: %w", err)
	}
	return &Recall{backend: backend, cache: cache, logger: logger}, nil
}

// Retrieve returns up to topK fragments relevant to query. A failure to load
// memory metadata only drops the enrichment; a failed query is an error.
func (r *Recall) Retrieve(ctx context.Context, res *Resolved, query string, topK int) ([]Recollection, error) {
	frags, err := r.backend.Retrieve(ctx, RetrieveRequest{
		SpaceIDs: []string{res.SpaceID},
		Query:    query,
		TopK:     topK,
	})
	if err != nil {
		return nil, fmt.Errorf("retrieve: %w", err)
	}
	if len(frags) > topK && topK > 0 {
		frags = frags[:topK]
	}

	records := r.records(ctx, frags)

	out := make([]Recollection, 0, len(frags))
	for _, f := range frags {
		rec := Recollection{
			MemoryID:  f.MemoryID,
			ChunkID:   f.ChunkID,
			Text:      f.Text,
			Score:     f.Score,
			Timestamp: f.UpdatedAt,
		}
		if m, ok := records[f.MemoryID]; ok {
			rec.Role = m.Metadata["role"]
			rec.Filename = m.Metadata["filename"]
			if rec.Timestamp.IsZero() {
				rec.Timestamp = m.CreatedAt
			}
		}
		out = append(out, rec)
	}
	return out, nil
}

func (r *Recall) records(ctx context.Context, frags []Fragment) map[string]MemoryRecord {
	found := make(map[string]MemoryRecord, len(frags))
	var missing []string
	seen := make(map[string]bool, len(frags))
	for _, f := range frags {
		if f.MemoryID == "" || seen[f.MemoryID] {
			continue
		}
		seen[f.MemoryID] = true
		if v, ok := r.cache.Get(f.MemoryID); ok {
			found[f.MemoryID] = v.(MemoryRecord)
			continue
		}
		missing = append(missing, f.MemoryID)
	}
	if len(missing) == 0 {
		return found
	}

	recs, err := r.backend.GetMemories(ctx, missing)
	if err != nil {
		r.logger.Warn("memory: metadata lookup failed", "err", err, "memories", len(missing))
		return found
	}
	for _, m := range recs {
		found[m.ID] = m
		r.cache.Set(m.ID, m, 1)
	}
	r.cache.Wait()
	return found
}

// Close releases the metadata cache.
func (r *Recall) Close() {
	r.cache.Close()
}
