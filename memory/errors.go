package memory

import (
	"errors"
	"fmt"
)

// Backend lookup and creation outcomes.
var (
	ErrNotFound = errors.New("memory: not found")
	ErrConflict = errors.New("memory: already exists")
)

// Configuration failures. These are never transient: retrying without a
// configuration change yields the same result.
var (
	ErrSpaceNotFound        = errors.New("memory: space not found")
	ErrSpaceMismatch        = errors.New("memory: space_id/space_name mismatch")
	ErrEmbedderNotFound     = errors.New("memory: embedder not found")
	ErrNoEmbedderCredential = errors.New("memory: no embedders available")
	ErrMissingBaseURL       = errors.New("memory: base_url is required")
	ErrMissingAPIKey        = errors.New("memory: api_key is required")
	ErrInvalidTopK          = errors.New("memory: top_k out of range")
)

// ConfigError reports a configuration that cannot be resolved against the
// backend. It wraps one of the configuration sentinels above.
type ConfigError struct {
	Err error
	Msg string
}

func (e *ConfigError) Error() string {
	return e.Msg
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

func configErrorf(sentinel error, format string, args ...any) *ConfigError {
	return &ConfigError{Err: sentinel, Msg: fmt.Sprintf(format, args...)}
}

// IsConfigError reports whether err stems from configuration rather than a
// transient backend failure.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
