package embedding

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/quotebot/internal/index"
	"github.com/mesh-intelligence/quotebot/pkg/types"
)

func embedNormalized(t *testing.T, e types.Embedder, text string) []float32 {
	t.Helper()
	v, err := e.Embed(context.Background(), text)
	require.NoError(t, err)
	return index.Normalize(v)
}

func TestHashIsDeterministic(t *testing.T) {
	h := NewHash(64)
	a := embedNormalized(t, h, "I love rainy days")
	b := embedNormalized(t, h, "I love rainy days")
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestHashSimilarTextsAreCloser(t *testing.T) {
	h := NewHash(384)
	base := embedNormalized(t, h, "I love rainy days")
	near := embedNormalized(t, h, "do you love rainy days too?")
	far := embedNormalized(t, h, "the quarterly budget spreadsheet is broken")

	assert.Less(t, index.Distance(base, near), index.Distance(base, far))
	assert.InDelta(t, 0.0, index.Distance(base, base), 1e-6)
}

func TestCombine(t *testing.T) {
	a := []float32{1, 0}
	b := []float32{0, 1}

	tests := []struct {
		name   string
		weight float64
		want   []float32
	}{
		{name: "weight zero keeps a", weight: 0, want: []float32{1, 0}},
		{name: "weight one keeps b", weight: 1, want: []float32{0, 1}},
		{name: "even mix", weight: 0.5, want: []float32{0.70710677, 0.70710677}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Combine(a, b, tt.weight)
			require.Len(t, got, 2)
			assert.InDelta(t, tt.want[0], got[0], 1e-6)
			assert.InDelta(t, tt.want[1], got[1], 1e-6)
		})
	}

	assert.Equal(t, index.Normalize(a), Combine(a, []float32{1}, 0.5), "mismatched lengths keep a")
}

func TestLimitedHonoursContext(t *testing.T) {
	l := NewLimited(NewHash(8), 0.001)
	ctx := context.Background()

	_, err := l.Embed(ctx, "first call uses the burst")
	require.NoError(t, err)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = l.Embed(cancelled, "second call must wait")
	assert.Error(t, err)
	assert.Equal(t, 8, l.Dimensions())
}

func TestNewSelectsProvider(t *testing.T) {
	logger := log.New(io.Discard)

	e, err := New(types.EmbeddingConfig{Provider: types.EmbeddingHash, Dimensions: 16}, logger)
	require.NoError(t, err)
	assert.IsType(t, &Hash{}, e)

	e, err = New(types.EmbeddingConfig{Provider: types.EmbeddingHash, Dimensions: 16, RPS: 2}, logger)
	require.NoError(t, err)
	assert.IsType(t, &Limited{}, e)

	_, err = New(types.EmbeddingConfig{Provider: types.EmbeddingOpenAI, Dimensions: 16}, logger)
	assert.Error(t, err, "api key is required")

	_, err = New(types.EmbeddingConfig{Provider: "word2vec", Dimensions: 16}, logger)
	assert.ErrorIs(t, err, types.ErrProviderUnknown)
}

func TestOpenAIEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "hello", body["input"])
		assert.Equal(t, "test-model", body["model"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","model":"test-model",` +
			`"data":[{"object":"embedding","index":0,"embedding":[0.5,0.25,0.125]}],` +
			`"usage":{"prompt_tokens":1,"total_tokens":1}}`))
	}))
	defer srv.Close()

	o := NewOpenAI("test-key", srv.URL, "test-model", 3)
	vec, err := o.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 0.25, 0.125}, vec)

	wrongDims := NewOpenAI("test-key", srv.URL, "test-model", 4)
	_, err = wrongDims.Embed(context.Background(), "hello")
	assert.ErrorIs(t, err, types.ErrDimensionMismatch)
}
