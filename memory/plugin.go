package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/becomeliminal/nim-goodmem/core"
)

// Option configures a Plugin, Service or memory tool.
type Option func(*options)

type options struct {
	logger *slog.Logger
}

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// BuildOptions applies opts over the defaults. Exposed for packages that
// build on this one and accept the same options.
func BuildOptions(opts ...Option) (logger *slog.Logger) {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o.logger
}

// Plugin is the automatic memory path. The host loop calls OnUserMessage
// for each inbound turn, BeforeModel before each inference and AfterModel
// with each final response.
//
// Writes run in the background and never fail a turn. Recall is bounded by
// the configured timeout and degrades to no augmentation. Only
// configuration errors, which retrying cannot fix, are returned.
type Plugin struct {
	cfg       Config
	resolvers *Resolvers
	capture   *Capture
	recall    *Recall
	logger    *slog.Logger

	wg sync.WaitGroup
}

// NewPlugin creates the automatic memory plugin. cfg is the explicit layer;
// environment values and defaults fill whatever it leaves unset.
func NewPlugin(backend Backend, cfg Config, opts ...Option) (*Plugin, error) {
	logger := BuildOptions(opts...)
	cfg = Load(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	capture, err := NewCapture(backend, cfg.AttachmentTypes, logger)
	if err != nil {
		return nil, err
	}
	recall, err := NewRecall(backend, logger)
	if err != nil {
		return nil, err
	}

	return &Plugin{
		cfg:       cfg,
		resolvers: NewResolvers(backend, cfg, SurfaceChat, logger),
		capture:   capture,
		recall:    recall,
		logger:    logger,
	}, nil
}

// Name identifies the plugin in host logs.
func (p *Plugin) Name() string {
	return "goodmem"
}

// Config returns the layered configuration the plugin was built with.
func (p *Plugin) Config() Config {
	return p.cfg
}

// Resolve returns the space and embedder of the invocation's user.
func (p *Plugin) Resolve(ctx context.Context, inv *core.Invocation) (*Resolved, error) {
	return p.resolvers.For(userOf(inv)).Resolve(ctx)
}

// OnUserMessage persists the user's text and supported attachments.
func (p *Plugin) OnUserMessage(ctx context.Context, inv *core.Invocation, msg *core.Content) error {
	if msg == nil || (!msg.HasText() && len(msg.Attachments) == 0) {
		return nil
	}

	entry := Entry{
		Source:      core.RoleUser,
		Attachments: msg.Attachments,
		Metadata:    turnMetadata(inv),
	}
	if msg.HasText() {
		entry.Text = UserPrefix + msg.Text
	}
	return p.persist(ctx, inv, entry)
}

// AfterModel persists the agent's response text.
func (p *Plugin) AfterModel(ctx context.Context, inv *core.Invocation, resp *core.Content) error {
	if resp == nil || !resp.HasText() {
		return nil
	}
	return p.persist(ctx, inv, Entry{
		Text:     AgentPrefix + resp.Text,
		Source:   core.RoleAgent,
		Metadata: turnMetadata(inv),
	})
}

func (p *Plugin) persist(ctx context.Context, inv *core.Invocation, entry Entry) error {
	rctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	res, err := p.Resolve(rctx, inv)
	cancel()
	if err != nil {
		if IsConfigError(err) {
			return fmt.Errorf("goodmem: %w", err)
		}
		p.logger.Warn("memory: resolve failed, skipping write", "err", err, "user_id", userOf(inv))
		return nil
	}

	// Detach from the turn so the write outlives it, but keep it bounded.
	wctx := context.WithoutCancel(ctx)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		wctx, cancel := context.WithTimeout(wctx, p.cfg.Timeout)
		defer cancel()

		report, err := p.capture.Write(wctx, res, entry)
		if err != nil {
			p.logger.Warn("memory: write failed", "err", err, "space_id", res.SpaceID, "source", entry.Source)
			return
		}
		p.logger.Debug("memory: stored",
			"space_id", res.SpaceID,
			"source", entry.Source,
			"memories", len(report.MemoryIDs),
			"skipped", len(report.Skipped))
	}()
	return nil
}

// BeforeModel prepends relevant memories to the turn's prompt. It blocks
// until augmentation is applied or the timeout elapses.
func (p *Plugin) BeforeModel(ctx context.Context, inv *core.Invocation, req *core.ModelRequest) error {
	if req == nil || strings.TrimSpace(req.Prompt) == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	res, err := p.Resolve(ctx, inv)
	if err != nil {
		if IsConfigError(err) {
			return fmt.Errorf("goodmem: %w", err)
		}
		p.logger.Warn("memory: resolve failed, continuing without memory", "err", err, "user_id", userOf(inv))
		return nil
	}

	recs, err := p.recall.Retrieve(ctx, res, req.Prompt, p.cfg.TopK)
	if err != nil {
		p.logger.Warn("memory: retrieval failed, continuing without memory", "err", err, "space_id", res.SpaceID)
		return nil
	}

	p.logger.Info("memory: retrieved", "space_id", res.SpaceID, "count", len(recs))
	if p.cfg.Debug {
		if table := FormatDebugTable(recs); table != "" {
			p.logger.Debug("memory: retrieved memories\n" + table)
		}
	}
	if len(recs) == 0 {
		return nil
	}

	req.Prompt = FormatMemoryBlock(recs) + "\n\n" + req.Prompt
	return nil
}

// Wait blocks until background writes have finished.
func (p *Plugin) Wait() {
	p.wg.Wait()
}

// Close drains pending writes and releases the recall cache.
func (p *Plugin) Close() error {
	p.wg.Wait()
	p.recall.Close()
	return nil
}

func userOf(inv *core.Invocation) string {
	if inv == nil {
		return ""
	}
	return inv.UserID
}

func turnMetadata(inv *core.Invocation) map[string]string {
	md := map[string]string{}
	if inv == nil {
		return md
	}
	if inv.UserID != "" {
		md["user_id"] = inv.UserID
	}
	if inv.SessionID != "" {
		md["session_id"] = inv.SessionID
	}
	return md
}
