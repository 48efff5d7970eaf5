// Package core holds the types shared between the host agent loop, the
// memory plugin and the explicit memory tools.
package core

import (
	"strings"
	"time"
)

// Role identifies who produced a piece of conversational content.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "LLM"
)

// Attachment is a binary part of a turn (PDF, image, document).
type Attachment struct {
	Name     string // Original filename, if known.
	MIMEType string
	Data     []byte
}

// Content is one conversational contribution: free text plus any binary
// attachments that arrived with it.
type Content struct {
	Role        Role
	Text        string
	Attachments []Attachment
}

// HasText reports whether the content carries non-blank text.
func (c *Content) HasText() bool {
	return strings.TrimSpace(c.Text) != ""
}

// Invocation identifies who a turn belongs to. It is passed to every hook
// and tool call so memory can be partitioned per user.
type Invocation struct {
	AppName   string
	UserID    string
	SessionID string

	// Input is the user content of the current turn. Tools use it to pick up
	// attachments the user sent alongside their message.
	Input *Content
}

// Event is a single recorded contribution inside a session.
type Event struct {
	Author    Role
	Text      string
	Timestamp time.Time
}

// Session is a completed conversation handed to the memory service.
type Session struct {
	ID      string
	AppName string
	UserID  string
	Events  []Event
}

// ModelRequest is the part of an inference request that hooks may rewrite
// before the model is called.
type ModelRequest struct {
	System string

	// Prompt is the user text of the current turn. It is empty on follow-up
	// inferences within the same turn (after tool results).
	Prompt string
}
