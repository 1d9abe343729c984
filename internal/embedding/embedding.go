// Package embedding provides the text-to-vector function behind the index:
// a deterministic local feature-hashing embedder and an OpenAI-compatible
// remote embedder, plus a rate-limiting wrapper.
package embedding

import (
	"errors"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/mesh-intelligence/quotebot/internal/index"
	"github.com/mesh-intelligence/quotebot/pkg/types"
)

// ErrEmptyEmbedding is returned when a provider answers without a vector.
var ErrEmptyEmbedding = errors.New("provider returned no embedding")

// New creates the embedder selected by cfg.Provider, rate limited to
// cfg.RPS calls per second when RPS is positive.
func New(cfg types.EmbeddingConfig, logger *log.Logger) (types.Embedder, error) {
	var e types.Embedder
	switch cfg.Provider {
	case types.EmbeddingHash:
		e = NewHash(cfg.Dimensions)
	case types.EmbeddingOpenAI:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("openai embedder: api_key is required")
		}
		e = NewOpenAI(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.Dimensions)
	default:
		return nil, fmt.Errorf("%w: %s", types.ErrProviderUnknown, cfg.Provider)
	}
	logger.Info("embedder ready", "provider", cfg.Provider, "dimensions", e.Dimensions())

	if cfg.RPS > 0 {
		e = NewLimited(e, cfg.RPS)
	}
	return e, nil
}

// Combine mixes two vectors into one unit vector: (1-weight)*a + weight*b,
// each side normalized first. The result is deterministic for equal inputs.
func Combine(a, b []float32, weight float64) []float32 {
	if len(a) != len(b) {
		return index.Normalize(a)
	}
	na, nb := index.Normalize(a), index.Normalize(b)
	out := make([]float32, len(a))
	for i := range out {
		out[i] = float32((1-weight)*float64(na[i]) + weight*float64(nb[i]))
	}
	return index.Normalize(out)
}
