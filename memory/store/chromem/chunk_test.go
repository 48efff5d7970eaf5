package chromem

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChunkText(t *testing.T) {
	assert.Equal(t, []string{"short"}, chunkText("short", 10, 2))

	chunks := chunkText(strings.Repeat("a", 25), 10, 2)
	assert.Len(t, chunks, 3)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), 10)
	}
	// 0-10, 8-18, 16-25
	assert.Len(t, chunks[2], 9)
}
