package engine

import (
	"sort"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/becomeliminal/nim-goodmem/core"
)

// ToolRegistry holds the tools the engine may offer to the model.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]core.Tool
}

// NewToolRegistry creates a registry pre-populated with tools.
func NewToolRegistry(tools ...core.Tool) *ToolRegistry {
	r := &ToolRegistry{tools: make(map[string]core.Tool)}
	for _, t := range tools {
		r.Register(t)
	}
	return r
}

// Register adds a tool, replacing any tool with the same name.
func (r *ToolRegistry) Register(t core.Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Get returns the named tool.
func (r *ToolRegistry) Get(name string) (core.Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Tools returns every registered tool sorted by name.
func (r *ToolRegistry) Tools() []core.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// ToolFilter selects a subset of the registry.
type ToolFilter func(core.Tool) bool

// FilterByNames keeps only the named tools.
func FilterByNames(names ...string) ToolFilter {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return func(t core.Tool) bool { return set[t.Name()] }
}

// ToAPITools converts every registered tool to its API definition.
func (r *ToolRegistry) ToAPITools() []anthropic.ToolUnionParam {
	return r.ToAPIToolsFiltered(nil)
}

// ToAPIToolsFiltered converts the tools accepted by keep. A nil filter
// accepts all of them.
func (r *ToolRegistry) ToAPIToolsFiltered(keep ToolFilter) []anthropic.ToolUnionParam {
	var out []anthropic.ToolUnionParam
	for _, t := range r.Tools() {
		if keep != nil && !keep(t) {
			continue
		}
		out = append(out, toAPITool(t))
	}
	return out
}

func toAPITool(t core.Tool) anthropic.ToolUnionParam {
	schema := t.Schema()
	input := anthropic.ToolInputSchemaParam{Properties: schema["properties"]}
	switch req := schema["required"].(type) {
	case []string:
		input.Required = req
	case []any:
		for _, v := range req {
			if s, ok := v.(string); ok {
				input.Required = append(input.Required, s)
			}
		}
	}
	return anthropic.ToolUnionParam{OfTool: &anthropic.ToolParam{
		Name:        t.Name(),
		Description: anthropic.String(t.Description()),
		InputSchema: input,
	}}
}
