package tools

import "github.com/becomeliminal/nim-goodmem/core"

// Tool names.
const (
	SaveToolName  = "goodmem_save"
	FetchToolName = "goodmem_fetch"
)

// MaxFetchTopK caps how many memories a single fetch may return.
const MaxFetchTopK = 20

// MemoryToolDefinitions returns the definitions of the explicit memory tools.
func MemoryToolDefinitions() []core.ToolDefinition {
	return []core.ToolDefinition{
		{
			ToolName: SaveToolName,
			ToolDescription: "Save important information to long-term memory so it can be recalled in later conversations. " +
				"Use it for facts, preferences and decisions the user wants remembered. " +
				"Files the user attached to the current message are saved along with the text.",
			InputSchema: BuildSchemaWithThought(map[string]any{
				"content": NonEmptyStringProperty("The information to remember, written so it makes sense on its own later."),
			}, false, "content"),
		},
		{
			ToolName: FetchToolName,
			ToolDescription: "Search long-term memory for information saved in earlier conversations. " +
				"Returns the most relevant memories with when and by whom they were recorded.",
			InputSchema: BuildSchemaWithThought(map[string]any{
				"query": NonEmptyStringProperty("What to look for, phrased as a question or keywords."),
				"top_k": IntegerProperty("Maximum number of memories to return (default 5, at most 20).", 1),
			}, false, "query"),
		},
	}
}

func definition(name string) core.ToolDefinition {
	for _, d := range MemoryToolDefinitions() {
		if d.ToolName == name {
			return d
		}
	}
	panic("tools: unknown tool definition " + name)
}
