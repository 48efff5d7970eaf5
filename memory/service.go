package memory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/becomeliminal/nim-goodmem/core"
)

// ServiceConfig tunes the session memory service.
type ServiceConfig struct {
	TopK    int           `yaml:"top_k" json:"top_k,omitempty"`
	Timeout time.Duration `yaml:"timeout" json:"timeout,omitempty"`

	// SplitTurn stores each user turn together with the agent replies that
	// follow it as its own memory, instead of one memory per session.
	SplitTurn bool `yaml:"split_turn" json:"split_turn,omitempty"`
}

// DefaultServiceConfig returns the service defaults.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{TopK: DefaultTopK, Timeout: DefaultTimeout}
}

// Validate checks value ranges.
func (c ServiceConfig) Validate() error {
	if c.TopK < 1 || c.TopK > MaxTopK {
		return fmt.Errorf("%w: %d (must be 1..%d)", ErrInvalidTopK, c.TopK, MaxTopK)
	}
	if c.Timeout <= 0 {
		return errors.New("memory: timeout must be positive")
	}
	return nil
}

// SearchResult is the outcome of a Service search.
type SearchResult struct {
	Memories []Recollection
}

// Service stores whole sessions and searches them, one space per app and
// user unless a space is pinned.
type Service struct {
	backend   Backend
	svc       ServiceConfig
	resolvers *Resolvers
	capture   *Capture
	recall    *Recall
	logger    *slog.Logger
}

// NewService creates a session memory service.
func NewService(backend Backend, cfg Config, svc ServiceConfig, opts ...Option) (*Service, error) {
	logger := BuildOptions(opts...)
	if err := svc.Validate(); err != nil {
		return nil, err
	}
	cfg = Load(cfg)

	capture, err := NewCapture(backend, cfg.AttachmentTypes, logger)
	if err != nil {
		return nil, err
	}
	recall, err := NewRecall(backend, logger)
	if err != nil {
		return nil, err
	}
	return &Service{
		backend:   backend,
		svc:       svc,
		resolvers: NewResolvers(backend, cfg, SurfaceService, logger),
		capture:   capture,
		recall:    recall,
		logger:    logger,
	}, nil
}

// AddSession stores the text of a session. Sessions without text are
// ignored.
func (s *Service) AddSession(ctx context.Context, sess *core.Session) error {
	if sess == nil {
		return nil
	}
	turns := sessionTurns(sess.Events, s.svc.SplitTurn)
	if len(turns) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.svc.Timeout)
	defer cancel()

	res, err := s.resolvers.For(sess.AppName, sess.UserID).Resolve(ctx)
	if err != nil {
		return fmt.Errorf("add session %s: %w", sess.ID, err)
	}

	md := map[string]string{"session_id": sess.ID, "user_id": sess.UserID, "app_name": sess.AppName}
	var errs []error
	for _, text := range turns {
		if _, err := s.capture.Write(ctx, res, Entry{Text: text, Source: core.RoleUser, Metadata: md}); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("add session %s: %w", sess.ID, err)
	}
	s.logger.Debug("memory: session stored", "session_id", sess.ID, "space_id", res.SpaceID, "memories", len(turns))
	return nil
}

// Search returns memories of an app and user relevant to query. Failures
// are logged and yield an empty result.
func (s *Service) Search(ctx context.Context, appName, userID, query string) (*SearchResult, error) {
	out := &SearchResult{}
	if strings.TrimSpace(query) == "" {
		return out, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.svc.Timeout)
	defer cancel()

	res, err := s.resolvers.For(appName, userID).Resolve(ctx)
	if err != nil {
		s.logger.Warn("memory: search resolve failed", "err", err, "app_name", appName, "user_id", userID)
		return out, nil
	}
	recs, err := s.recall.Retrieve(ctx, res, query, s.svc.TopK)
	if err != nil {
		s.logger.Warn("memory: search failed", "err", err, "space_id", res.SpaceID)
		return out, nil
	}
	out.Memories = recs
	return out, nil
}

// Close releases the recall cache and the backend if it holds resources.
func (s *Service) Close() error {
	s.recall.Close()
	if c, ok := s.backend.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// sessionTurns renders events as prefixed lines, either as one block or as
// one block per user turn and its replies.
func sessionTurns(events []core.Event, split bool) []string {
	var blocks []string
	var cur []string
	flush := func() {
		if len(cur) > 0 {
			blocks = append(blocks, strings.Join(cur, "\n"))
			cur = nil
		}
	}

	for _, ev := range events {
		text := strings.TrimSpace(ev.Text)
		if text == "" {
			continue
		}
		prefix := AgentPrefix
		if ev.Author == core.RoleUser {
			prefix = UserPrefix
			if split {
				flush()
			}
		}
		cur = append(cur, prefix+text)
	}
	flush()
	return blocks
}
