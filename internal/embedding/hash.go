package embedding

import (
	"context"
	"hash/fnv"
	"strings"
	"unicode"

	"github.com/mesh-intelligence/quotebot/pkg/types"
)

var _ types.Embedder = (*Hash)(nil)

// Hash is a deterministic feature-hashing embedder. Words and character
// trigrams are hashed into signed buckets, so texts that share vocabulary
// land close together. It needs no network and is used for local runs and
// tests.
type Hash struct {
	dims int
}

// NewHash returns a Hash embedder producing vectors of dims dimensions.
func NewHash(dims int) *Hash {
	return &Hash{dims: dims}
}

// Dimensions returns the vector size.
func (h *Hash) Dimensions() int { return h.dims }

// Embed returns the unnormalized feature vector for text.
func (h *Hash) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vec := make([]float32, h.dims)
	for _, word := range tokenize(text) {
		h.add(vec, "w:"+word, 1)
		padded := " " + word + " "
		runes := []rune(padded)
		for i := 0; i+3 <= len(runes); i++ {
			h.add(vec, "t:"+string(runes[i:i+3]), 0.5)
		}
	}
	return vec, nil
}

func (h *Hash) add(vec []float32, feature string, weight float32) {
	f := fnv.New64a()
	f.Write([]byte(feature))
	sum := f.Sum64()
	bucket := int(sum % uint64(h.dims))
	if sum&(1<<63) != 0 {
		weight = -weight
	}
	vec[bucket] += weight
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r) && r != '\''
	})
}
