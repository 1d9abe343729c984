package embedding

import (
	"context"
	"math"

	"golang.org/x/time/rate"

	"github.com/mesh-intelligence/quotebot/pkg/types"
)

// Limited wraps an Embedder with a token-bucket rate limit. Embed waits for
// a token or returns ctx's error.
type Limited struct {
	next    types.Embedder
	limiter *rate.Limiter
}

// NewLimited allows rps calls per second with a burst of ceil(rps).
func NewLimited(next types.Embedder, rps float64) *Limited {
	burst := int(math.Ceil(rps))
	if burst < 1 {
		burst = 1
	}
	return &Limited{next: next, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Embed waits for the limiter, then delegates.
func (l *Limited) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return l.next.Embed(ctx, text)
}

// Dimensions delegates to the wrapped embedder.
func (l *Limited) Dimensions() int { return l.next.Dimensions() }
