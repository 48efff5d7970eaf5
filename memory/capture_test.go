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

func resolvedSpace(t *testing.T, b memory.Backend) *memory.Resolved {
	t.Helper()
	e := mustEmbedder(t, b, "e")
	sp := mustSpace(t, b, "capture", e.ID)
	return &memory.Resolved{SpaceID: sp.ID, SpaceName: sp.Name, EmbedderID: e.ID}
}

func TestCapture_Supports(t *testing.T) {
	c, err := memory.NewCapture(nil, memory.DefaultAttachmentTypes, quietLogger())
	require.NoError(t, err)

	for ct, want := range map[string]bool{
		"application/pdf":          true,
		"text/plain; charset=utf-8": true,
		"image/png":                true,
		"application/json":         true,
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
		"application/zip": false,
		"video/mp4":       false,
		"":                false,
	} {
		assert.Equal(t, want, c.Supports(ct), ct)
	}
}

func TestCapture_TextAndAttachments(t *testing.T) {
	ctx := context.Background()
	b, store := newSpy()
	res := resolvedSpace(t, b)
	c, err := memory.NewCapture(b, memory.DefaultAttachmentTypes, quietLogger())
	require.NoError(t, err)

	report, err := c.Write(ctx, res, memory.Entry{
		Text:   "User: see attached",
		Source: core.RoleUser,
		Attachments: []core.Attachment{
			{Name: "notes.txt", MIMEType: "text/plain", Data: []byte("launch plan")},
			{Name: "archive.zip", MIMEType: "application/zip", Data: []byte{1, 2}},
			{Name: "empty.pdf", MIMEType: "application/pdf"},
		},
		Metadata: map[string]string{"session_id": "s1"},
	})
	require.NoError(t, err)
	assert.Len(t, report.MemoryIDs, 2)
	assert.Equal(t, []string{"archive.zip", "empty.pdf"}, report.Skipped)
	assert.Empty(t, report.Failed)

	recs, err := store.GetMemories(ctx, report.MemoryIDs)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	for _, r := range recs {
		assert.Equal(t, "user", r.Metadata["role"])
		assert.Equal(t, "s1", r.Metadata["session_id"])
	}
	assert.Equal(t, "notes.txt", recs[1].Metadata["filename"])
	assert.Equal(t, "text/plain", recs[1].ContentType)
}

func TestCapture_TextFailureIsReported(t *testing.T) {
	b, _ := newSpy()
	res := resolvedSpace(t, b)
	b.insertErr = errors.New("backend down")
	c, err := memory.NewCapture(b, memory.DefaultAttachmentTypes, quietLogger())
	require.NoError(t, err)

	_, err = c.Write(context.Background(), res, memory.Entry{Text: "User: hi", Source: core.RoleUser})
	assert.ErrorContains(t, err, "backend down")
}

func TestCapture_AttachmentFailureDoesNotAbort(t *testing.T) {
	ctx := context.Background()
	b, _ := newSpy()
	res := resolvedSpace(t, b)
	c, err := memory.NewCapture(b, memory.DefaultAttachmentTypes, quietLogger())
	require.NoError(t, err)

	// Only attachments: every write fails, so the whole entry failed.
	b.insertErr = errors.New("too large")
	report, err := c.Write(ctx, res, memory.Entry{
		Source:      core.RoleUser,
		Attachments: []core.Attachment{{Name: "big.pdf", MIMEType: "application/pdf", Data: []byte("%PDF")}},
	})
	assert.Error(t, err)
	assert.Equal(t, []string{"big.pdf"}, report.Failed)
}
