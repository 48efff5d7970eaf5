// Package devserver serves a memory.Backend over the Goodmem REST surface,
// so the HTTP client can run against an in-process store.
package devserver

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/becomeliminal/nim-goodmem/memory"
	"github.com/becomeliminal/nim-goodmem/memory/store/goodmem"
)

const (
	defaultPageSize = 1000
	maxUploadBytes  = 32 << 20
)

// Backend is the store the server exposes. Listing is needed for the
// paged spaces endpoint.
type Backend interface {
	memory.Backend
	ListSpaces(ctx context.Context, nameFilter string) ([]memory.Space, error)
}

// Option configures a Server.
type Option func(*Server)

// WithAPIKey requires every request to carry this key in x-api-key.
func WithAPIKey(key string) Option {
	return func(s *Server) {
		s.apiKey = key
	}
}

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// Server is an http.Handler over a Backend.
type Server struct {
	backend Backend
	apiKey  string
	logger  *slog.Logger
	router  chi.Router
}

// New builds the router.
func New(backend Backend, opts ...Option) *Server {
	s := &Server{backend: backend, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, s.requestLogger, middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.authenticate)

		r.Post("/spaces", s.createSpace)
		r.Get("/spaces", s.listSpaces)
		r.Get("/spaces/{spaceID}", s.getSpace)
		r.Delete("/spaces/{spaceID}", s.deleteSpace)

		r.Get("/embedders", s.listEmbedders)
		r.Post("/embedders", s.createEmbedder)
		r.Get("/embedders/{embedderID}", s.getEmbedder)

		r.Post("/memories", s.insertMemory)
		r.Post("/memories:retrieve", s.retrieve)
		r.Post("/memories:batchGet", s.batchGet)
		r.Get("/memories/{memoryID}", s.getMemory)
	})

	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey != "" && subtle.ConstantTimeCompare([]byte(r.Header.Get("x-api-key")), []byte(s.apiKey)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid or missing x-api-key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("devserver: request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

func (s *Server) createSpace(w http.ResponseWriter, r *http.Request) {
	var in goodmem.CreateSpaceRequest
	if !decode(w, r, &in) {
		return
	}
	if strings.TrimSpace(in.Name) == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	spec := memory.SpaceSpec{Name: in.Name}
	if len(in.SpaceEmbedders) > 0 {
		spec.EmbedderID = in.SpaceEmbedders[0].EmbedderID
	}
	space, err := s.backend.CreateSpace(r.Context(), spec)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, goodmem.SpaceResourceFrom(space))
}

func (s *Server) listSpaces(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	pageSize := defaultPageSize
	if v := q.Get("maxResults"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "maxResults must be a positive integer")
			return
		}
		pageSize = n
	}
	offset := 0
	if v := q.Get("nextToken"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid nextToken")
			return
		}
		offset = n
	}

	spaces, err := s.backend.ListSpaces(r.Context(), q.Get("nameFilter"))
	if err != nil {
		s.fail(w, err)
		return
	}

	out := goodmem.ListSpacesResponse{Spaces: []goodmem.SpaceResource{}}
	end := min(offset+pageSize, len(spaces))
	for i := offset; i < end; i++ {
		out.Spaces = append(out.Spaces, goodmem.SpaceResourceFrom(&spaces[i]))
	}
	if end < len(spaces) {
		out.NextToken = strconv.Itoa(end)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getSpace(w http.ResponseWriter, r *http.Request) {
	space, err := s.backend.GetSpace(r.Context(), chi.URLParam(r, "spaceID"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, goodmem.SpaceResourceFrom(space))
}

func (s *Server) deleteSpace(w http.ResponseWriter, r *http.Request) {
	if err := s.backend.DeleteSpace(r.Context(), chi.URLParam(r, "spaceID")); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listEmbedders(w http.ResponseWriter, r *http.Request) {
	list, err := s.backend.ListEmbedders(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	out := goodmem.ListEmbeddersResponse{Embedders: make([]goodmem.EmbedderResource, 0, len(list))}
	for i := range list {
		out.Embedders = append(out.Embedders, goodmem.EmbedderResourceFrom(&list[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) createEmbedder(w http.ResponseWriter, r *http.Request) {
	var in goodmem.CreateEmbedderRequest
	if !decode(w, r, &in) {
		return
	}
	if in.ModelIdentifier == "" {
		writeError(w, http.StatusBadRequest, "modelIdentifier is required")
		return
	}
	e, err := s.backend.CreateEmbedder(r.Context(), in.Spec())
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, goodmem.EmbedderResourceFrom(e))
}

func (s *Server) getEmbedder(w http.ResponseWriter, r *http.Request) {
	e, err := s.backend.GetEmbedder(r.Context(), chi.URLParam(r, "embedderID"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, goodmem.EmbedderResourceFrom(e))
}

// insertMemory accepts a JSON body for text and a multipart upload (a
// "request" JSON field plus a "file" part) for binary content.
func (s *Server) insertMemory(w http.ResponseWriter, r *http.Request) {
	var (
		in   goodmem.InsertMemoryRequest
		data []byte
	)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("parse multipart: %v", err))
			return
		}
		if err := json.Unmarshal([]byte(r.FormValue("request")), &in); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("decode request field: %v", err))
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("file part: %v", err))
			return
		}
		defer file.Close()
		if data, err = io.ReadAll(file); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("read file part: %v", err))
			return
		}
		if in.ContentType == "" {
			in.ContentType = header.Header.Get("Content-Type")
		}
	} else if !decode(w, r, &in) {
		return
	}

	if in.SpaceID == "" {
		writeError(w, http.StatusBadRequest, "spaceId is required")
		return
	}
	if data == nil && strings.TrimSpace(in.OriginalContent) == "" {
		writeError(w, http.StatusBadRequest, "originalContent or a file part is required")
		return
	}

	receipt, err := s.backend.InsertMemory(r.Context(), memory.MemoryItem{
		SpaceID:     in.SpaceID,
		Text:        in.OriginalContent,
		Data:        data,
		ContentType: in.ContentType,
		Metadata:    goodmem.StringMetadata(in.Metadata),
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, goodmem.MemoryResource{
		MemoryID:         receipt.MemoryID,
		SpaceID:          in.SpaceID,
		ContentType:      in.ContentType,
		ProcessingStatus: receipt.ProcessingStatus,
		Metadata:         in.Metadata,
	})
}

// retrieve streams results as NDJSON framed by result set boundaries.
func (s *Server) retrieve(w http.ResponseWriter, r *http.Request) {
	var in goodmem.RetrieveRequest
	if !decode(w, r, &in) {
		return
	}
	if len(in.SpaceKeys) == 0 {
		writeError(w, http.StatusBadRequest, "at least one space key is required")
		return
	}
	req := memory.RetrieveRequest{Query: in.Message, TopK: in.RequestedSize}
	if req.TopK <= 0 {
		req.TopK = memory.DefaultTopK
	}
	for _, k := range in.SpaceKeys {
		req.SpaceIDs = append(req.SpaceIDs, k.SpaceID)
	}

	fragments, err := s.backend.Retrieve(r.Context(), req)
	if err != nil {
		s.fail(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	enc := json.NewEncoder(w)
	setID := uuid.NewString()
	_ = enc.Encode(goodmem.RetrieveEvent{ResultSetBoundary: &goodmem.ResultSetBoundary{Kind: "BEGIN", ResultSetID: setID}})
	for _, f := range fragments {
		if err := enc.Encode(goodmem.RetrieveEventFrom(f)); err != nil {
			s.logger.Warn("devserver: write retrieve event", "err", err)
			return
		}
	}
	_ = enc.Encode(goodmem.RetrieveEvent{ResultSetBoundary: &goodmem.ResultSetBoundary{Kind: "END", ResultSetID: setID}})
}

func (s *Server) batchGet(w http.ResponseWriter, r *http.Request) {
	var in goodmem.BatchGetRequest
	if !decode(w, r, &in) {
		return
	}
	recs, err := s.backend.GetMemories(r.Context(), in.MemoryIDs)
	if err != nil {
		s.fail(w, err)
		return
	}
	out := goodmem.BatchGetResponse{Memories: make([]goodmem.MemoryResource, 0, len(recs))}
	for _, rec := range recs {
		out.Memories = append(out.Memories, goodmem.MemoryResourceFrom(rec))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getMemory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "memoryID")
	recs, err := s.backend.GetMemories(r.Context(), []string{id})
	if err != nil {
		s.fail(w, err)
		return
	}
	if len(recs) == 0 {
		writeError(w, http.StatusNotFound, fmt.Sprintf("memory %q not found", id))
		return
	}
	writeJSON(w, http.StatusOK, goodmem.MemoryResourceFrom(recs[0]))
}

// fail maps backend errors onto HTTP statuses.
func (s *Server) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, memory.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, memory.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error("devserver: backend error", "err", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("decode body: %v", err))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, goodmem.ErrorResponse{Error: msg})
}
