package memory

import (
	"context"
	"errors"
	"fmt"
)

// Default embedder provisioned when the backend has none.
const (
	DefaultEmbedderDisplayName  = "gemini-embedding-001"
	DefaultEmbedderModel        = "gemini-embedding-001"
	DefaultEmbedderProvider     = "OPENAI"
	DefaultEmbedderEndpoint     = "https://generativelanguage.googleapis.com/v1beta/openai"
	DefaultEmbedderDimensions   = 1536
	DefaultEmbedderDistribution = "DENSE"
)

// DefaultEmbedderSpec returns the spec of the auto-created embedder using the
// given provider credential.
func DefaultEmbedderSpec(apiKey string) EmbedderSpec {
	return EmbedderSpec{
		DisplayName:      DefaultEmbedderDisplayName,
		ProviderType:     DefaultEmbedderProvider,
		EndpointURL:      DefaultEmbedderEndpoint,
		ModelIdentifier:  DefaultEmbedderModel,
		Dimensionality:   DefaultEmbedderDimensions,
		DistributionType: DefaultEmbedderDistribution,
		APIKey:           apiKey,
	}
}

// pinnedEmbedder validates an explicitly configured embedder id.
func pinnedEmbedder(ctx context.Context, b Backend, id string) (string, error) {
	e, err := b.GetEmbedder(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return "", configErrorf(ErrEmbedderNotFound,
			"embedder_id %q not found; pin an existing embedder or unset %s", id, EnvEmbedderID)
	}
	if err != nil {
		return "", fmt.Errorf("get embedder %q: %w", id, err)
	}
	return e.ID, nil
}

// firstOrCreateEmbedder returns the first embedder the backend lists, or
// provisions the default one with the secondary credential.
func firstOrCreateEmbedder(ctx context.Context, b Backend, credential string) (id string, created bool, err error) {
	list, err := b.ListEmbedders(ctx)
	if err != nil {
		return "", false, fmt.Errorf("list embedders: %w", err)
	}
	if len(list) > 0 {
		return list[0].ID, false, nil
	}

	if credential == "" {
		return "", false, configErrorf(ErrNoEmbedderCredential,
			"no embedders available; set %s or %s to auto-create %s, or create an embedder on the server",
			EnvGoogleAPIKey, EnvGeminiAPIKey, DefaultEmbedderModel)
	}

	e, err := b.CreateEmbedder(ctx, DefaultEmbedderSpec(credential))
	if err != nil {
		return "", false, fmt.Errorf("create default embedder: %w", err)
	}
	if e.ID == "" {
		return "", false, errors.New("create default embedder: backend returned no embedder id")
	}
	return e.ID, true, nil
}
