package embedding

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/mesh-intelligence/quotebot/pkg/types"
)

var _ types.Embedder = (*OpenAI)(nil)

// OpenAI calls an OpenAI-compatible embeddings endpoint.
type OpenAI struct {
	client openai.Client
	model  string
	dims   int
}

// NewOpenAI creates an embedder for model. An empty baseURL uses the
// client's default endpoint.
func NewOpenAI(apiKey, baseURL, model string, dims int) *OpenAI {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAI{
		client: openai.NewClient(opts...),
		model:  model,
		dims:   dims,
	}
}

// Dimensions returns the requested vector size.
func (o *OpenAI) Dimensions() int { return o.dims }

// Embed requests one embedding for text.
func (o *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := o.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: o.model,
		Input: openai.EmbeddingNewParamsInputUnion{
			OfString: param.Opt[string]{Value: text},
		},
		Dimensions: openai.Int(int64(o.dims)),
	})
	if err != nil {
		return nil, fmt.Errorf("requesting embedding: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, ErrEmptyEmbedding
	}
	raw := resp.Data[0].Embedding
	if len(raw) != o.dims {
		return nil, fmt.Errorf("%w: got %d, want %d", types.ErrDimensionMismatch, len(raw), o.dims)
	}
	vec := make([]float32, len(raw))
	for i, f := range raw {
		vec[i] = float32(f)
	}
	return vec, nil
}
