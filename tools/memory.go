package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/becomeliminal/nim-goodmem/core"
	"github.com/becomeliminal/nim-goodmem/memory"
	"github.com/becomeliminal/nim-goodmem/memory/store/goodmem"
)

// SaveInput is the argument of goodmem_save.
type SaveInput struct {
	core.BaseInput
	Content string `json:"content"`
}

// SaveResult is the data of a successful save.
type SaveResult struct {
	MemoryID  string   `json:"memory_id"`
	MemoryIDs []string `json:"memory_ids,omitempty"`
	SpaceID   string   `json:"space_id"`
	Message   string   `json:"message"`
	Skipped   []string `json:"skipped_attachments,omitempty"`
	Failed    []string `json:"failed_attachments,omitempty"`
}

// FetchInput is the argument of goodmem_fetch.
type FetchInput struct {
	core.BaseInput
	Query string `json:"query"`
	TopK  int    `json:"top_k,omitempty"`
}

// FetchedMemory is one memory returned by a fetch.
type FetchedMemory struct {
	MemoryID  string  `json:"memory_id"`
	Content   string  `json:"content"`
	Role      string  `json:"role,omitempty"`
	Filename  string  `json:"filename,omitempty"`
	Timestamp string  `json:"timestamp,omitempty"`
	Score     float64 `json:"score"`
}

// FetchResult is the data of a successful fetch.
type FetchResult struct {
	Count    int             `json:"count"`
	Memories []FetchedMemory `json:"memories"`
	Message  string          `json:"message,omitempty"`
}

// memoryTool holds what both memory tools share: their definition, input
// validation and per-user space resolution.
type memoryTool struct {
	def       core.ToolDefinition
	validator *Validator
	cfg       memory.Config
	resolvers *memory.Resolvers
	logger    *slog.Logger
}

func newMemoryTool(name string, backend memory.Backend, cfg memory.Config, opts ...memory.Option) (*memoryTool, error) {
	logger := memory.BuildOptions(opts...)
	cfg = memory.Load(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	def := definition(name)
	v, err := NewValidator(name, def.InputSchema)
	if err != nil {
		return nil, err
	}
	return &memoryTool{
		def:       def,
		validator: v,
		cfg:       cfg,
		resolvers: memory.NewResolvers(backend, cfg, memory.SurfaceTool, logger),
		logger:    logger,
	}, nil
}

func (t *memoryTool) Name() string           { return t.def.ToolName }
func (t *memoryTool) Description() string    { return t.def.ToolDescription }
func (t *memoryTool) Schema() map[string]any { return t.def.InputSchema }

// prepare validates and decodes the input and resolves the caller's space.
// A non-nil result is the failure to hand back to the model.
func (t *memoryTool) prepare(ctx context.Context, params *core.ToolParams, input any) (*memory.Resolved, *core.ToolResult) {
	if params == nil || params.Invocation == nil {
		return nil, failure("tool invocation context is required")
	}
	if err := t.validator.Validate(params.Input); err != nil {
		return nil, failure("invalid input: %v", err)
	}
	if len(params.Input) > 0 {
		if err := json.Unmarshal(params.Input, input); err != nil {
			return nil, failure("invalid input: %v", err)
		}
	}

	res, err := t.resolvers.For(params.Invocation.UserID).Resolve(ctx)
	if err != nil {
		t.logger.Warn("memory tool: resolve failed", "tool", t.def.ToolName, "err", err)
		return nil, failure("%v", err)
	}
	return res, nil
}

func failure(format string, args ...any) *core.ToolResult {
	return &core.ToolResult{Success: false, Error: fmt.Sprintf(format, args...)}
}

// SaveTool lets the agent save information, plus any files attached to the
// current turn, to memory.
type SaveTool struct {
	*memoryTool
	capture *memory.Capture
}

var _ core.Tool = (*SaveTool)(nil)

// NewSaveTool creates the save tool. cfg is the explicit configuration layer.
func NewSaveTool(backend memory.Backend, cfg memory.Config, opts ...memory.Option) (*SaveTool, error) {
	base, err := newMemoryTool(SaveToolName, backend, cfg, opts...)
	if err != nil {
		return nil, err
	}
	capture, err := memory.NewCapture(backend, base.cfg.AttachmentTypes, base.logger)
	if err != nil {
		return nil, err
	}
	return &SaveTool{memoryTool: base, capture: capture}, nil
}

// Execute saves the content. Failures come back as an unsuccessful result.
func (t *SaveTool) Execute(ctx context.Context, params *core.ToolParams) (*core.ToolResult, error) {
	var in SaveInput
	res, fail := t.prepare(ctx, params, &in)
	if fail != nil {
		return fail, nil
	}

	inv := params.Invocation
	entry := memory.Entry{
		Text:     in.Content,
		Source:   core.RoleUser,
		Metadata: map[string]string{"user_id": inv.UserID, "session_id": inv.SessionID},
	}
	if inv.Input != nil {
		entry.Attachments = inv.Input.Attachments
	}

	report, err := t.capture.Write(ctx, res, entry)
	if err != nil {
		t.logger.Warn("memory tool: save failed", "space_id", res.SpaceID, "err", err)
		return failure("failed to write memory: %v", err), nil
	}
	if len(report.MemoryIDs) == 0 {
		return failure("nothing to save: content is blank and no supported attachments were found"), nil
	}

	msg := fmt.Sprintf("Successfully wrote %d memory item(s) to space %s", len(report.MemoryIDs), res.SpaceName)
	if len(report.Skipped) > 0 {
		msg += fmt.Sprintf("; skipped empty or unsupported attachments: %s", strings.Join(report.Skipped, ", "))
	}
	if len(report.Failed) > 0 {
		msg += fmt.Sprintf("; failed attachments: %s", strings.Join(report.Failed, ", "))
	}

	return &core.ToolResult{Success: true, Data: SaveResult{
		MemoryID:  report.MemoryIDs[0],
		MemoryIDs: report.MemoryIDs,
		SpaceID:   res.SpaceID,
		Message:   msg,
		Skipped:   report.Skipped,
		Failed:    report.Failed,
	}}, nil
}

// FetchTool lets the agent search memory.
type FetchTool struct {
	*memoryTool
	recall *memory.Recall
}

var _ core.Tool = (*FetchTool)(nil)

// NewFetchTool creates the fetch tool. cfg is the explicit configuration layer.
func NewFetchTool(backend memory.Backend, cfg memory.Config, opts ...memory.Option) (*FetchTool, error) {
	base, err := newMemoryTool(FetchToolName, backend, cfg, opts...)
	if err != nil {
		return nil, err
	}
	recall, err := memory.NewRecall(backend, base.logger)
	if err != nil {
		return nil, err
	}
	return &FetchTool{memoryTool: base, recall: recall}, nil
}

// Execute runs the search. Failures come back as an unsuccessful result.
func (t *FetchTool) Execute(ctx context.Context, params *core.ToolParams) (*core.ToolResult, error) {
	var in FetchInput
	res, fail := t.prepare(ctx, params, &in)
	if fail != nil {
		return fail, nil
	}

	topK := in.TopK
	if topK <= 0 {
		topK = t.cfg.TopK
	}
	topK = min(topK, MaxFetchTopK)

	ctx, cancel := context.WithTimeout(ctx, t.cfg.Timeout)
	defer cancel()

	recs, err := t.recall.Retrieve(ctx, res, in.Query, topK)
	if err != nil {
		t.logger.Warn("memory tool: fetch failed", "space_id", res.SpaceID, "err", err)
		return failure("failed to fetch memories: %v", err), nil
	}
	if t.cfg.Debug {
		if table := memory.FormatDebugTable(recs); table != "" {
			t.logger.Debug("memory tool: fetched memories\n" + table)
		}
	}

	out := FetchResult{Count: len(recs), Memories: make([]FetchedMemory, 0, len(recs))}
	for _, r := range recs {
		m := FetchedMemory{
			MemoryID: r.MemoryID,
			Content:  r.Text,
			Role:     r.Role,
			Filename: r.Filename,
			Score:    r.Score,
		}
		if !r.Timestamp.IsZero() {
			m.Timestamp = r.Timestamp.UTC().Format("2006-01-02T15:04:05Z")
		}
		out.Memories = append(out.Memories, m)
	}
	if len(recs) == 0 {
		out.Message = fmt.Sprintf("No memories found for query %q", in.Query)
	}
	return &core.ToolResult{Success: true, Data: out}, nil
}

// Close releases the fetch tool's metadata cache.
func (t *FetchTool) Close() error {
	t.recall.Close()
	return nil
}

// NewMemoryTools connects to the Goodmem server named by cfg (or the
// environment) and returns the save and fetch tools.
func NewMemoryTools(cfg memory.Config, opts ...memory.Option) ([]core.Tool, error) {
	layered := memory.Load(cfg)
	client, err := goodmem.NewFromConfig(layered, goodmem.WithLogger(memory.BuildOptions(opts...)))
	if err != nil {
		return nil, err
	}
	return NewMemoryToolsWithBackend(client, cfg, opts...)
}

// NewMemoryToolsWithBackend returns the save and fetch tools over backend.
func NewMemoryToolsWithBackend(backend memory.Backend, cfg memory.Config, opts ...memory.Option) ([]core.Tool, error) {
	save, err := NewSaveTool(backend, cfg, opts...)
	if err != nil {
		return nil, err
	}
	fetch, err := NewFetchTool(backend, cfg, opts...)
	if err != nil {
		return nil, err
	}
	return []core.Tool{save, fetch}, nil
}
