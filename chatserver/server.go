// Package chatserver exposes the memory-enabled agent over WebSocket. Each
// connection is one conversation for the user named in the query string.
package chatserver

import (
	"log/slog"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/becomeliminal/nim-goodmem/core"
	"github.com/becomeliminal/nim-goodmem/engine"
)

// Message types exchanged over the socket.
const (
	TypeMessage             = "message"
	TypeConversationStarted = "conversation_started"
	TypeText                = "text"
	TypeError               = "error"
)

// ClientMessage is sent by the client for each user turn.
type ClientMessage struct {
	Type        string       `json:"type"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Attachment is a file sent with a turn. Data is base64 in JSON.
type Attachment struct {
	Name     string `json:"name"`
	MIMEType string `json:"mime_type"`
	Data     []byte `json:"data"`
}

// ServerMessage is sent by the server.
type ServerMessage struct {
	Type           string   `json:"type"`
	ConversationID string   `json:"conversation_id,omitempty"`
	Content        string   `json:"content,omitempty"`
	ToolsUsed      []string `json:"tools_used,omitempty"`
}

// Config holds per-turn engine settings.
type Config struct {
	AppName      string
	SystemPrompt string
	Model        string
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// WithCheckOrigin overrides the upgrader's origin check.
func WithCheckOrigin(fn func(r *http.Request) bool) Option {
	return func(s *Server) {
		s.upgrader.CheckOrigin = fn
	}
}

// Server runs one engine conversation per WebSocket connection.
type Server struct {
	engine   *engine.Engine
	cfg      Config
	logger   *slog.Logger
	upgrader websocket.Upgrader
	router   chi.Router
}

// New creates the server.
func New(eng *engine.Engine, cfg Config, opts ...Option) *Server {
	s := &Server{
		engine: eng,
		cfg:    cfg,
		logger: slog.Default(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Get("/ws", s.handleWS)
	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("chatserver: upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	user := r.URL.Query().Get("user")
	if user == "" {
		user = "anonymous"
	}
	inv := &core.Invocation{AppName: s.cfg.AppName, UserID: user, SessionID: uuid.NewString()}
	logger := s.logger.With("user_id", user, "session_id", inv.SessionID)

	if err := conn.WriteJSON(ServerMessage{Type: TypeConversationStarted, ConversationID: inv.SessionID}); err != nil {
		return
	}
	logger.Info("chatserver: conversation started")

	var history []anthropic.MessageParam
	for {
		var msg ClientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("chatserver: read failed", "err", err)
			}
			return
		}
		if msg.Type != TypeMessage {
			if err := conn.WriteJSON(ServerMessage{Type: TypeError, Content: "unsupported message type: " + msg.Type}); err != nil {
				return
			}
			continue
		}

		content := core.Content{Text: msg.Content}
		for _, a := range msg.Attachments {
			content.Attachments = append(content.Attachments, core.Attachment{Name: a.Name, MIMEType: a.MIMEType, Data: a.Data})
		}

		out, err := s.engine.Run(r.Context(), &engine.Input{
			Invocation:   inv,
			Message:      content,
			History:      history,
			SystemPrompt: s.cfg.SystemPrompt,
			Model:        s.cfg.Model,
		})
		if err != nil {
			logger.Warn("chatserver: turn failed", "err", err)
			if err := conn.WriteJSON(ServerMessage{Type: TypeError, Content: err.Error()}); err != nil {
				return
			}
			continue
		}
		history = out.History

		reply := ServerMessage{Type: TypeText, Content: out.Text}
		for _, t := range out.ToolsUsed {
			reply.ToolsUsed = append(reply.ToolsUsed, t.Tool)
		}
		if err := conn.WriteJSON(reply); err != nil {
			return
		}
	}
}
