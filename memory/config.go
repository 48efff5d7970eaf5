package memory

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Environment variables consulted by FromEnv.
const (
	EnvBaseURL    = "GOODMEM_BASE_URL"
	EnvAPIKey     = "GOODMEM_API_KEY"
	EnvSpaceID    = "GOODMEM_SPACE_ID"
	EnvSpaceName  = "GOODMEM_SPACE_NAME"
	EnvEmbedderID = "GOODMEM_EMBEDDER_ID"
	EnvTopK       = "GOODMEM_TOP_K"
	EnvTimeout    = "GOODMEM_TIMEOUT"
	EnvDebug      = "GOODMEM_DEBUG"

	// Secondary credential used only to auto-create the default embedder.
	EnvGoogleAPIKey = "GOOGLE_API_KEY"
	EnvGeminiAPIKey = "GEMINI_API_KEY"
)

const (
	DefaultTopK    = 5
	MaxTopK        = 100
	DefaultTimeout = 30 * time.Second
)

// DefaultAttachmentTypes lists the MIME patterns accepted for binary capture.
var DefaultAttachmentTypes = []string{
	"application/pdf",
	"application/json",
	"application/msword",
	"application/vnd.openxmlformats-officedocument.*",
	"text/*",
	"image/*",
}

// Config is the layered configuration of a plugin, tool or service
// instance. Build it with Load; treat the result as immutable.
type Config struct {
	BaseURL    string `yaml:"base_url" json:"base_url,omitempty"`
	APIKey     string `yaml:"api_key" json:"api_key,omitempty"`
	SpaceID    string `yaml:"space_id" json:"space_id,omitempty"`
	SpaceName  string `yaml:"space_name" json:"space_name,omitempty"`
	EmbedderID string `yaml:"embedder_id" json:"embedder_id,omitempty"`

	// EmbedderAPIKey provisions the default embedder when the backend has none.
	EmbedderAPIKey string `yaml:"embedder_api_key" json:"embedder_api_key,omitempty"`

	TopK            int           `yaml:"top_k" json:"top_k,omitempty"`
	Timeout         time.Duration `yaml:"timeout" json:"timeout,omitempty"`
	Debug           bool          `yaml:"debug" json:"debug,omitempty"`
	AttachmentTypes []string      `yaml:"attachment_types" json:"attachment_types,omitempty"`
}

// DefaultConfig returns the computed-default layer.
func DefaultConfig() Config {
	return Config{
		TopK:            DefaultTopK,
		Timeout:         DefaultTimeout,
		AttachmentTypes: append([]string(nil), DefaultAttachmentTypes...),
	}
}

// Merge applies non-zero values from source into c.
func (c *Config) Merge(source *Config) {
	if source.BaseURL != "" {
		c.BaseURL = source.BaseURL
	}
	if source.APIKey != "" {
		c.APIKey = source.APIKey
	}
	if source.SpaceID != "" {
		c.SpaceID = source.SpaceID
	}
	if source.SpaceName != "" {
		c.SpaceName = source.SpaceName
	}
	if source.EmbedderID != "" {
		c.EmbedderID = source.EmbedderID
	}
	if source.EmbedderAPIKey != "" {
		c.EmbedderAPIKey = source.EmbedderAPIKey
	}
	if source.TopK > 0 {
		c.TopK = source.TopK
	}
	if source.Timeout > 0 {
		c.Timeout = source.Timeout
	}
	if source.Debug {
		c.Debug = true
	}
	if len(source.AttachmentTypes) > 0 {
		c.AttachmentTypes = append([]string(nil), source.AttachmentTypes...)
	}
}

// FromEnv reads the environment layer. Unparseable numeric values are
// ignored so the lower layer applies.
func FromEnv() Config {
	cfg := Config{
		BaseURL:    strings.TrimSpace(os.Getenv(EnvBaseURL)),
		APIKey:     strings.TrimSpace(os.Getenv(EnvAPIKey)),
		SpaceID:    strings.TrimSpace(os.Getenv(EnvSpaceID)),
		SpaceName:  strings.TrimSpace(os.Getenv(EnvSpaceName)),
		EmbedderID: strings.TrimSpace(os.Getenv(EnvEmbedderID)),
	}

	cfg.EmbedderAPIKey = os.Getenv(EnvGoogleAPIKey)
	if cfg.EmbedderAPIKey == "" {
		cfg.EmbedderAPIKey = os.Getenv(EnvGeminiAPIKey)
	}

	if v := os.Getenv(EnvTopK); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.TopK = n
		}
	}
	if v := os.Getenv(EnvTimeout); v != "" {
		cfg.Timeout = parseTimeout(v)
	}
	if v := os.Getenv(EnvDebug); v != "" {
		cfg.Debug, _ = strconv.ParseBool(v)
	}
	return cfg
}

// parseTimeout accepts Go durations ("10s") or bare seconds ("2.5").
func parseTimeout(v string) time.Duration {
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil && secs > 0 {
		return time.Duration(secs * float64(time.Second))
	}
	return 0
}

// Load layers explicit over environment over defaults. The environment is
// read once, here; nothing consults it afterwards.
func Load(explicit Config) Config {
	cfg := DefaultConfig()
	env := FromEnv()
	cfg.Merge(&env)
	cfg.Merge(&explicit)
	return cfg
}

// Validate checks the values that do not depend on the backend.
func (c *Config) Validate() error {
	if c.TopK < 1 || c.TopK > MaxTopK {
		return fmt.Errorf("%w: %d (must be 1..%d)", ErrInvalidTopK, c.TopK, MaxTopK)
	}
	return nil
}

// HasExplicitSpace reports whether the space is pinned by id or name, in
// which case the identity of the caller no longer selects the space.
func (c *Config) HasExplicitSpace() bool {
	return c.SpaceID != "" || c.SpaceName != ""
}
