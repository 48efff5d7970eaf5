package memory_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/nim-goodmem/core"
	"github.com/becomeliminal/nim-goodmem/memory"
)

func TestRecall_EnrichesWithMetadata(t *testing.T) {
	ctx := context.Background()
	b, _ := newSpy()
	res := resolvedSpace(t, b)
	c, err := memory.NewCapture(b, memory.DefaultAttachmentTypes, quietLogger())
	require.NoError(t, err)
	_, err = c.Write(ctx, res, memory.Entry{Text: "LLM: blue is a calm color", Source: core.RoleAgent})
	require.NoError(t, err)

	r, err := memory.NewRecall(b, quietLogger())
	require.NoError(t, err)
	defer r.Close()

	recs, err := r.Retrieve(ctx, res, "favorite color", 5)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "LLM: blue is a calm color", recs[0].Text)
	assert.Equal(t, "LLM", recs[0].Role)
	assert.False(t, recs[0].Timestamp.IsZero())

	// Metadata is cached per instance.
	_, err = r.Retrieve(ctx, res, "calm", 5)
	require.NoError(t, err)
	assert.Equal(t, 1, b.Calls("GetMemories"))
}

func TestRecall_MetadataFailureKeepsFragments(t *testing.T) {
	ctx := context.Background()
	b, _ := newSpy()
	res := resolvedSpace(t, b)
	_, err := b.InsertMemory(ctx, memory.MemoryItem{SpaceID: res.SpaceID, Text: "User: hello"})
	require.NoError(t, err)
	b.metadataErr = errors.New("batch get failed")

	r, err := memory.NewRecall(b, quietLogger())
	require.NoError(t, err)
	defer r.Close()

	recs, err := r.Retrieve(ctx, res, "hello", 5)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Empty(t, recs[0].Role)
}

func TestRecall_QueryFailure(t *testing.T) {
	b, _ := newSpy()
	res := resolvedSpace(t, b)
	b.retrieveErr = errors.New("timeout")

	r, err := memory.NewRecall(b, quietLogger())
	require.NoError(t, err)
	defer r.Close()

	_, err = r.Retrieve(context.Background(), res, "anything", 5)
	assert.ErrorContains(t, err, "timeout")
}
