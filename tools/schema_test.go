package tools_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/nim-goodmem/tools"
)

func TestWithThought(t *testing.T) {
	base := tools.ObjectSchema(map[string]any{"query": tools.StringProperty("q")}, "query")

	optional := tools.WithThought(base, false)
	assert.Contains(t, optional["properties"], "thought")
	assert.Equal(t, []string{"query"}, optional["required"])
	assert.NotContains(t, base["properties"], "thought", "input schema is not mutated")

	required := tools.WithThought(base, true)
	assert.Equal(t, []string{"query", "thought"}, required["required"])
}

func TestValidator(t *testing.T) {
	schema := tools.BuildSchemaWithThought(map[string]any{
		"query": tools.NonEmptyStringProperty("q"),
		"top_k": tools.IntegerProperty("k", 1),
	}, false, "query")
	v, err := tools.NewValidator("fetch", schema)
	require.NoError(t, err)

	assert.NoError(t, v.Validate(json.RawMessage(`{"query":"x"}`)))
	assert.NoError(t, v.Validate(json.RawMessage(`{"query":"x","top_k":3,"thought":"why"}`)))
	assert.Error(t, v.Validate(json.RawMessage(`{"query":"x","top_k":0}`)))
	assert.Error(t, v.Validate(json.RawMessage(`{"query":"x","top_k":1.5}`)))
	assert.Error(t, v.Validate(json.RawMessage(`{"top_k":3}`)))
	assert.Error(t, v.Validate(nil))
	assert.Error(t, v.Validate(json.RawMessage(`{`)))
}

func TestMemoryToolDefinitions(t *testing.T) {
	defs := tools.MemoryToolDefinitions()
	require.Len(t, defs, 2)
	for _, d := range defs {
		_, err := tools.NewValidator(d.ToolName, d.InputSchema)
		assert.NoError(t, err, d.ToolName)
	}
}
