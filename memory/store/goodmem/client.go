// Package goodmem is the HTTP client of the Goodmem memory service. It
// implements memory.Backend over the service's REST API: JSON for resource
// calls, multipart for binary uploads and NDJSON for retrieval.
package goodmem

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/becomeliminal/nim-goodmem/memory"
)

const (
	defaultTimeout = 30 * time.Second
	uploadTimeout  = 120 * time.Second

	listPageSize = 1000

	// Retrieval lines can carry whole chunks; allow well beyond the scanner default.
	maxNDJSONLine = 4 << 20
)

// APIError is a non-success response that maps to no memory sentinel.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("goodmem: %s %s: HTTP %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		c.http = h
	}
}

// WithTimeout bounds resource calls. Binary uploads use a longer timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithLogger sets the logger; request tracing is logged at debug level.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// Client talks to a Goodmem server.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	timeout time.Duration
	logger  *slog.Logger
}

var _ memory.Backend = (*Client)(nil)

// New creates a client. baseURL is the server root without the /v1 suffix.
func New(baseURL, apiKey string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("goodmem: %w (set %s)", memory.ErrMissingBaseURL, memory.EnvBaseURL)
	}
	if apiKey == "" {
		return nil, fmt.Errorf("goodmem: %w (set %s)", memory.ErrMissingAPIKey, memory.EnvAPIKey)
	}

	c := &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{},
		timeout: defaultTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// NewFromConfig creates a client from a layered memory configuration.
func NewFromConfig(cfg memory.Config, opts ...Option) (*Client, error) {
	if cfg.Timeout > 0 {
		opts = append([]Option{WithTimeout(cfg.Timeout)}, opts...)
	}
	return New(cfg.BaseURL, cfg.APIKey, opts...)
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

// CreateSpace creates a space attached to spec.EmbedderID with the default
// chunking configuration.
func (c *Client) CreateSpace(ctx context.Context, spec memory.SpaceSpec) (*memory.Space, error) {
	req := CreateSpaceRequest{
		Name:                  spec.Name,
		DefaultChunkingConfig: DefaultChunkingConfig(),
	}
	if spec.EmbedderID != "" {
		req.SpaceEmbedders = []SpaceEmbedder{{EmbedderID: spec.EmbedderID, DefaultRetrievalWeight: 1}}
	}

	var out SpaceResource
	if err := c.doJSON(ctx, http.MethodPost, "/v1/spaces", req, &out); err != nil {
		return nil, err
	}
	if out.Name == "" {
		out.Name = spec.Name
	}
	if len(out.SpaceEmbedders) == 0 {
		out.SpaceEmbedders = req.SpaceEmbedders
	}
	return out.Space(), nil
}

// GetSpace fetches a space by id.
func (c *Client) GetSpace(ctx context.Context, spaceID string) (*memory.Space, error) {
	var out SpaceResource
	if err := c.doJSON(ctx, http.MethodGet, "/v1/spaces/"+url.PathEscape(spaceID), nil, &out); err != nil {
		return nil, err
	}
	return out.Space(), nil
}

// ListSpaces pages through spaces matching nameFilter.
func (c *Client) ListSpaces(ctx context.Context, nameFilter string) ([]memory.Space, error) {
	var all []memory.Space
	token := ""
	for {
		q := url.Values{}
		q.Set("maxResults", strconv.Itoa(listPageSize))
		if nameFilter != "" {
			q.Set("nameFilter", nameFilter)
		}
		if token != "" {
			q.Set("nextToken", token)
		}

		var page ListSpacesResponse
		if err := c.doJSON(ctx, http.MethodGet, "/v1/spaces?"+q.Encode(), nil, &page); err != nil {
			return nil, err
		}
		for _, s := range page.Spaces {
			all = append(all, *s.Space())
		}
		if page.NextToken == "" || page.NextToken == token {
			return all, nil
		}
		token = page.NextToken
	}
}

// FindSpaceByName returns the first listed space whose name matches exactly.
// The server filter is not exact, so results are checked here.
func (c *Client) FindSpaceByName(ctx context.Context, name string) (*memory.Space, error) {
	spaces, err := c.ListSpaces(ctx, name)
	if err != nil {
		return nil, err
	}
	for i := range spaces {
		if spaces[i].Name == name {
			return &spaces[i], nil
		}
	}
	return nil, fmt.Errorf("space named %q: %w", name, memory.ErrNotFound)
}

// DeleteSpace deletes a space and its content.
func (c *Client) DeleteSpace(ctx context.Context, spaceID string) error {
	return c.doJSON(ctx, http.MethodDelete, "/v1/spaces/"+url.PathEscape(spaceID), nil, nil)
}

// ListEmbedders returns embedders in server order.
func (c *Client) ListEmbedders(ctx context.Context) ([]memory.Embedder, error) {
	var out ListEmbeddersResponse
	if err := c.doJSON(ctx, http.MethodGet, "/v1/embedders", nil, &out); err != nil {
		return nil, err
	}
	list := make([]memory.Embedder, 0, len(out.Embedders))
	for _, e := range out.Embedders {
		list = append(list, e.Embedder())
	}
	return list, nil
}

// GetEmbedder fetches an embedder by id.
func (c *Client) GetEmbedder(ctx context.Context, embedderID string) (*memory.Embedder, error) {
	var out EmbedderResource
	if err := c.doJSON(ctx, http.MethodGet, "/v1/embedders/"+url.PathEscape(embedderID), nil, &out); err != nil {
		return nil, err
	}
	e := out.Embedder()
	return &e, nil
}

// CreateEmbedder registers an embedder with an inline provider credential.
func (c *Client) CreateEmbedder(ctx context.Context, spec memory.EmbedderSpec) (*memory.Embedder, error) {
	var out EmbedderResource
	if err := c.doJSON(ctx, http.MethodPost, "/v1/embedders", CreateEmbedderRequestFrom(spec), &out); err != nil {
		return nil, err
	}
	e := out.Embedder()
	return &e, nil
}

// InsertMemory stores text as JSON or binary content as a multipart upload.
func (c *Client) InsertMemory(ctx context.Context, item memory.MemoryItem) (*memory.Receipt, error) {
	req := InsertMemoryRequest{
		SpaceID:     item.SpaceID,
		ContentType: item.ContentType,
		Metadata:    AnyMetadata(item.MetadataWithSource()),
	}

	var out MemoryResource
	if item.IsBinary() {
		if err := c.upload(ctx, req, item.Data, &out); err != nil {
			return nil, err
		}
	} else {
		req.OriginalContent = item.Text
		if req.ContentType == "" {
			req.ContentType = "text/plain"
		}
		if err := c.doJSON(ctx, http.MethodPost, "/v1/memories", req, &out); err != nil {
			return nil, err
		}
	}
	return &memory.Receipt{MemoryID: out.MemoryID, ProcessingStatus: out.ProcessingStatus}, nil
}

// Retrieve streams the NDJSON retrieval response and keeps the lines that
// carry a retrieved chunk.
func (c *Client) Retrieve(ctx context.Context, req memory.RetrieveRequest) ([]memory.Fragment, error) {
	body := RetrieveRequest{Message: req.Query, RequestedSize: req.TopK}
	for _, id := range req.SpaceIDs {
		body.SpaceKeys = append(body.SpaceKeys, SpaceKey{SpaceID: id})
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("goodmem: marshal retrieve request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	const path = "/v1/memories:retrieve"
	httpReq, err := c.newRequest(ctx, http.MethodPost, path, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/x-ndjson")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("goodmem: POST %s: %w", path, err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, http.MethodPost, path); err != nil {
		return nil, err
	}

	var out []memory.Fragment
	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), maxNDJSONLine)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 || !gjson.ValidBytes(line) {
			continue
		}
		item := gjson.GetBytes(line, "retrievedItem")
		if !item.Exists() {
			continue
		}
		chunk := item.Get("chunk.chunk")
		f := memory.Fragment{
			ChunkID:  chunk.Get("chunkId").String(),
			MemoryID: chunk.Get("memoryId").String(),
			Text:     chunk.Get("chunkText").String(),
			Score:    item.Get("chunk.relevanceScore").Float(),
		}
		if ms := chunk.Get("updatedAt").Int(); ms > 0 {
			f.UpdatedAt = time.UnixMilli(ms).UTC()
		}
		out = append(out, f)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("goodmem: read retrieve stream: %w", err)
	}

	c.logger.Debug("goodmem: retrieved", "query_len", len(req.Query), "spaces", len(req.SpaceIDs), "results", len(out))
	return out, nil
}

// GetMemories batch-fetches memory records. Missing ids are omitted.
func (c *Client) GetMemories(ctx context.Context, memoryIDs []string) ([]memory.MemoryRecord, error) {
	if len(memoryIDs) == 0 {
		return nil, nil
	}
	var out BatchGetResponse
	if err := c.doJSON(ctx, http.MethodPost, "/v1/memories:batchGet", BatchGetRequest{MemoryIDs: memoryIDs}, &out); err != nil {
		return nil, err
	}
	recs := make([]memory.MemoryRecord, 0, len(out.Memories))
	for _, m := range out.Memories {
		recs = append(recs, m.Record())
	}
	return recs, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("goodmem: create request: %w", err)
	}
	req.Header.Set("x-api-key", c.apiKey)
	return req, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("goodmem: marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	return c.send(req, method, path, out)
}

func (c *Client) upload(ctx context.Context, meta InsertMemoryRequest, data []byte, out any) error {
	const path = "/v1/memories"

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	reqJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("goodmem: marshal upload request: %w", err)
	}
	if err := w.WriteField("request", string(reqJSON)); err != nil {
		return fmt.Errorf("goodmem: write upload request: %w", err)
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="upload"`)
	h.Set("Content-Type", meta.ContentType)
	part, err := w.CreatePart(h)
	if err != nil {
		return fmt.Errorf("goodmem: create upload part: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return fmt.Errorf("goodmem: write upload part: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("goodmem: close multipart: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, max(c.timeout, uploadTimeout))
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodPost, path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	c.logger.Debug("goodmem: uploading binary memory",
		"space_id", meta.SpaceID, "content_type", meta.ContentType, "bytes", len(data))
	return c.send(req, http.MethodPost, path, out)
}

func (c *Client) send(req *http.Request, method, path string, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("goodmem: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, method, path); err != nil {
		return err
	}
	if out == nil {
		return nil
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("goodmem: read response body: %w", err)
	}
	if len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("goodmem: decode %s %s response: %w", method, path, err)
	}
	return nil
}

// checkStatus maps 404 and 409 onto the memory sentinels and any other
// failure onto an APIError.
func checkStatus(resp *http.Response, method, path string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	apiErr := &APIError{
		Method:     method,
		Path:       path,
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(body)),
	}
	switch resp.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %w", memory.ErrNotFound, apiErr)
	case http.StatusConflict:
		return fmt.Errorf("%w: %w", memory.ErrConflict, apiErr)
	}
	return apiErr
}
