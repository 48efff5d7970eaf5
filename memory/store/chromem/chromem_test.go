package chromem_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/nim-goodmem/memory"
	"github.com/becomeliminal/nim-goodmem/memory/store/chromem"
)

func newSpace(t *testing.T, s *chromem.Store, name string) *memory.Space {
	t.Helper()
	ctx := context.Background()
	e, err := s.CreateEmbedder(ctx, memory.DefaultEmbedderSpec("key"))
	require.NoError(t, err)
	sp, err := s.CreateSpace(ctx, memory.SpaceSpec{Name: name, EmbedderID: e.ID})
	require.NoError(t, err)
	return sp
}

func TestStore_SpaceLifecycle(t *testing.T) {
	ctx := context.Background()
	s := chromem.New()

	sp := newSpace(t, s, "alpha")
	assert.Equal(t, "alpha", sp.Name)
	assert.Len(t, sp.EmbedderIDs, 1)

	got, err := s.GetSpace(ctx, sp.ID)
	require.NoError(t, err)
	assert.Equal(t, sp.ID, got.ID)

	byName, err := s.FindSpaceByName(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, sp.ID, byName.ID)

	_, err = s.CreateSpace(ctx, memory.SpaceSpec{Name: "alpha"})
	assert.ErrorIs(t, err, memory.ErrConflict)

	require.NoError(t, s.DeleteSpace(ctx, sp.ID))
	_, err = s.GetSpace(ctx, sp.ID)
	assert.ErrorIs(t, err, memory.ErrNotFound)
	_, err = s.FindSpaceByName(ctx, "alpha")
	assert.ErrorIs(t, err, memory.ErrNotFound)
	assert.ErrorIs(t, s.DeleteSpace(ctx, sp.ID), memory.ErrNotFound)
}

func TestStore_Embedders(t *testing.T) {
	ctx := context.Background()
	s := chromem.New()

	list, err := s.ListEmbedders(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	first, err := s.CreateEmbedder(ctx, memory.EmbedderSpec{DisplayName: "one"})
	require.NoError(t, err)
	_, err = s.CreateEmbedder(ctx, memory.EmbedderSpec{DisplayName: "two"})
	require.NoError(t, err)

	list, err = s.ListEmbedders(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, first.ID, list[0].ID)

	_, err = s.GetEmbedder(ctx, "missing")
	assert.ErrorIs(t, err, memory.ErrNotFound)

	_, err = s.CreateSpace(ctx, memory.SpaceSpec{Name: "x", EmbedderID: "missing"})
	assert.ErrorIs(t, err, memory.ErrNotFound)
}

func TestStore_InsertAndRetrieve(t *testing.T) {
	ctx := context.Background()
	s := chromem.New()
	sp := newSpace(t, s, "notes")

	_, err := s.Retrieve(ctx, memory.RetrieveRequest{SpaceIDs: []string{sp.ID}, Query: "anything", TopK: 5})
	require.NoError(t, err, "empty space must not error")

	r1, err := s.InsertMemory(ctx, memory.MemoryItem{SpaceID: sp.ID, Text: "User: I am a goldfish", Source: "user"})
	require.NoError(t, err)
	_, err = s.InsertMemory(ctx, memory.MemoryItem{SpaceID: sp.ID, Text: "User: quarterly taxes are due in april", Source: "user"})
	require.NoError(t, err)

	frags, err := s.Retrieve(ctx, memory.RetrieveRequest{SpaceIDs: []string{sp.ID}, Query: "am I a goldfish", TopK: 5})
	require.NoError(t, err)
	require.Len(t, frags, 2)
	assert.Equal(t, r1.MemoryID, frags[0].MemoryID)
	assert.Equal(t, "User: I am a goldfish", frags[0].Text)
	assert.False(t, frags[0].UpdatedAt.IsZero())

	frags, err = s.Retrieve(ctx, memory.RetrieveRequest{SpaceIDs: []string{sp.ID}, Query: "goldfish", TopK: 1})
	require.NoError(t, err)
	assert.Len(t, frags, 1)

	recs, err := s.GetMemories(ctx, []string{r1.MemoryID, "unknown"})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "user", recs[0].Metadata["role"])
	assert.Equal(t, sp.ID, recs[0].SpaceID)
}

func TestStore_SpacesAreIsolated(t *testing.T) {
	ctx := context.Background()
	s := chromem.New()
	a := newSpace(t, s, "a")
	b := newSpace(t, s, "b")

	_, err := s.InsertMemory(ctx, memory.MemoryItem{SpaceID: a.ID, Text: "secret of a"})
	require.NoError(t, err)

	frags, err := s.Retrieve(ctx, memory.RetrieveRequest{SpaceIDs: []string{b.ID}, Query: "secret", TopK: 5})
	require.NoError(t, err)
	assert.Empty(t, frags)
}

func TestStore_BinaryItems(t *testing.T) {
	ctx := context.Background()
	s := chromem.New()
	sp := newSpace(t, s, "files")

	_, err := s.InsertMemory(ctx, memory.MemoryItem{
		SpaceID:     sp.ID,
		Data:        []byte("meeting notes about the launch"),
		ContentType: "text/plain",
		Metadata:    map[string]string{"filename": "notes.txt"},
	})
	require.NoError(t, err)
	_, err = s.InsertMemory(ctx, memory.MemoryItem{
		SpaceID:     sp.ID,
		Data:        []byte{0x25, 0x50, 0x44, 0x46},
		ContentType: "application/pdf",
		Metadata:    map[string]string{"filename": "report.pdf"},
	})
	require.NoError(t, err)

	frags, err := s.Retrieve(ctx, memory.RetrieveRequest{SpaceIDs: []string{sp.ID}, Query: "launch meeting notes", TopK: 1})
	require.NoError(t, err)
	require.Len(t, frags, 1)
	assert.Equal(t, "meeting notes about the launch", frags[0].Text)

	frags, err = s.Retrieve(ctx, memory.RetrieveRequest{SpaceIDs: []string{sp.ID}, Query: "report pdf", TopK: 1})
	require.NoError(t, err)
	require.Len(t, frags, 1)
	assert.Contains(t, frags[0].Text, "report.pdf")
}

func TestStore_InsertIntoUnknownSpace(t *testing.T) {
	_, err := chromem.New().InsertMemory(context.Background(), memory.MemoryItem{SpaceID: "nope", Text: "x"})
	assert.ErrorIs(t, err, memory.ErrNotFound)
}
