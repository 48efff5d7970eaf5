package memory

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatTimestamp(t *testing.T) {
	assert.Equal(t, "2009-02-13 23:31", formatTimestamp(time.UnixMilli(1234567890000)))
	assert.Equal(t, "", formatTimestamp(time.Time{}))
}

func TestWrapContent(t *testing.T) {
	assert.Equal(t, []string{"Short"}, wrapContent("Short", 55))
	assert.Equal(t, []string{""}, wrapContent("   ", 55))

	long := "This is a very long content that should definitely wrap because " +
		"it exceeds the maximum width of 55 characters"
	lines := wrapContent(long, 55)
	assert.Greater(t, len(lines), 1)
	for _, l := range lines {
		assert.LessOrEqual(t, len([]rune(l)), 55)
	}
	assert.Equal(t, strings.Fields(long), strings.Fields(strings.Join(lines, " ")))

	word := strings.Repeat("x", 120)
	lines = wrapContent(word, 55)
	assert.Equal(t, []string{word[:55], word[55:110], word[110:]}, lines)
}

func TestFormatDebugTable(t *testing.T) {
	assert.Equal(t, "", FormatDebugTable(nil))

	table := FormatDebugTable([]Recollection{{
		MemoryID:  "mem-1",
		Timestamp: time.UnixMilli(1234567890000),
		Role:      "user",
		Text:      "hello",
	}})
	assert.Contains(t, table, "mem-1")
	assert.Contains(t, table, "user")
	assert.Contains(t, table, "hello")
	assert.Contains(t, table, "2009-02-13 23:31")
}

func TestFormatMemoryBlock(t *testing.T) {
	empty := FormatMemoryBlock(nil)
	assert.True(t, strings.HasPrefix(empty, "BEGIN MEMORY"))
	assert.True(t, strings.HasSuffix(empty, "END MEMORY"))

	block := FormatMemoryBlock([]Recollection{
		{
			MemoryID:  "mem-123",
			Text:      "User: My favorite color is blue.\nLLM: I'll remember.",
			Timestamp: time.Date(2025, 2, 5, 14, 30, 0, 0, time.UTC),
			Role:      "user",
		},
		{MemoryID: "mem-456", Text: "[application/pdf attachment]", Filename: "report.pdf"},
	})
	assert.Contains(t, block, "- id: mem-123")
	assert.Contains(t, block, "datetime_utc: 2025-02-05 14:30")
	assert.Contains(t, block, "role: user")
	assert.Contains(t, block, "    User: My favorite color is blue.\n    LLM: I'll remember.")
	assert.Contains(t, block, "- id: mem-456")
	assert.Contains(t, block, "- filename: report.pdf")
}
