package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"mime"
	"strings"

	"github.com/gobwas/glob"

	"github.com/becomeliminal/nim-goodmem/core"
)

// Text labels prepended to captured conversation turns.
const (
	UserPrefix  = "User: "
	AgentPrefix = "LLM: "
)

// Entry is one contribution to persist: its text plus any attachments.
type Entry struct {
	Text        string
	Source      core.Role
	Attachments []core.Attachment
	Metadata    map[string]string
}

// WriteReport lists what a Capture.Write stored and what it left out.
type WriteReport struct {
	MemoryIDs []string
	Skipped   []string // Attachments with an unsupported content type.
	Failed    []string // Attachments whose write errored.
}

// Capture writes entries into a resolved space.
type Capture struct {
	backend Backend
	allow   []glob.Glob
	logger  *slog.Logger
}

// NewCapture creates a capture adapter accepting attachments whose MIME type
// matches one of attachmentTypes (glob patterns such as "image/*").
func NewCapture(backend Backend, attachmentTypes []string, logger *slog.Logger) (*Capture, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Capture{backend: backend, logger: logger}
	for _, p := range attachmentTypes {
		g, err := glob.Compile(strings.ToLower(strings.TrimSpace(p)), '/')
		if err != nil {
			return nil, fmt.Errorf("memory: invalid attachment type pattern %q: %w", p, err)
		}
		c.allow = append(c.allow, g)
	}
	return c, nil
}

// Supports reports whether an attachment of the given MIME type is stored.
func (c *Capture) Supports(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	for _, g := range c.allow {
		if g.Match(mt) {
			return true
		}
	}
	return false
}

// Write stores the entry text and each supported attachment as separate
// memories. Unsupported or failing attachments never abort the write; they
// are reported in the WriteReport. The error is non-nil when the text could
// not be stored, or when only attachments were given and none was stored.
func (c *Capture) Write(ctx context.Context, res *Resolved, e Entry) (*WriteReport, error) {
	report := &WriteReport{}
	source := string(e.Source)

	var textErr error
	if strings.TrimSpace(e.Text) != "" {
		receipt, err := c.backend.InsertMemory(ctx, MemoryItem{
			SpaceID:     res.SpaceID,
			EmbedderID:  res.EmbedderID,
			Text:        e.Text,
			ContentType: "text/plain",
			Source:      source,
			Metadata:    e.Metadata,
		})
		if err != nil {
			textErr = fmt.Errorf("insert text memory: %w", err)
		} else {
			report.MemoryIDs = append(report.MemoryIDs, receipt.MemoryID)
		}
	}

	var attachErrs []error
	for _, a := range e.Attachments {
		name := a.Name
		if name == "" {
			name = "attachment"
		}
		if len(a.Data) == 0 {
			c.logger.Debug("memory: skipping empty attachment", "filename", name)
			report.Skipped = append(report.Skipped, name)
			continue
		}
		if !c.Supports(a.MIMEType) {
			c.logger.Debug("memory: skipping unsupported attachment", "filename", name, "mime_type", a.MIMEType)
			report.Skipped = append(report.Skipped, name)
			continue
		}

		md := make(map[string]string, len(e.Metadata)+1)
		maps.Copy(md, e.Metadata)
		md["filename"] = name

		receipt, err := c.backend.InsertMemory(ctx, MemoryItem{
			SpaceID:     res.SpaceID,
			EmbedderID:  res.EmbedderID,
			Data:        a.Data,
			ContentType: a.MIMEType,
			Source:      source,
			Metadata:    md,
		})
		if err != nil {
			c.logger.Warn("memory: attachment write failed", "filename", name, "err", err)
			report.Failed = append(report.Failed, name)
			attachErrs = append(attachErrs, fmt.Errorf("insert %s: %w", name, err))
			continue
		}
		report.MemoryIDs = append(report.MemoryIDs, receipt.MemoryID)
	}

	if textErr != nil {
		return report, textErr
	}
	if len(report.MemoryIDs) == 0 && len(attachErrs) > 0 {
		return report, errors.Join(attachErrs...)
	}
	return report, nil
}
