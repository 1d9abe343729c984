// Package visibility decides whether a learned message may be replayed to an
// audience. It fails closed: any doubt, including lookup errors, withholds
// the quote.
package visibility

import (
	"context"

	"github.com/charmbracelet/log"

	"github.com/mesh-intelligence/quotebot/pkg/types"
)

// ConsentReader is the consent lookup the oracle needs.
type ConsentReader interface {
	Get(ctx context.Context, author string) (types.ConsentLevel, error)
}

// Oracle answers reuse questions from current consent and membership.
// It holds no cache: membership and consent change over time.
type Oracle struct {
	consent  ConsentReader
	audience types.AudienceOracle
	logger   *log.Logger
}

// New creates an oracle.
func New(consent ConsentReader, audience types.AudienceOracle, logger *log.Logger) *Oracle {
	return &Oracle{consent: consent, audience: audience, logger: logger}
}

// CanReuse reports whether candidate may be shown to target. It never
// returns an error and never panics on a nil candidate.
func (o *Oracle) CanReuse(ctx context.Context, candidate *types.Message, target types.Audience) bool {
	if candidate == nil {
		return false
	}
	level, err := o.consent.Get(ctx, candidate.AuthorID)
	if err != nil {
		o.logger.Warn("consent lookup failed; withholding", "message", candidate.ID, "err", err)
		return false
	}

	switch level {
	case types.ConsentPublic:
		return true
	case types.ConsentScoped:
		return o.contained(ctx, candidate, target)
	default:
		return false
	}
}

// contained reports whether everyone who can see target could already see
// the candidate's origin.
func (o *Oracle) contained(ctx context.Context, candidate *types.Message, target types.Audience) bool {
	origin := candidate.Audience()
	if origin == target {
		return true
	}
	ok, err := o.audience.Contains(ctx, origin, target)
	if err != nil {
		o.logger.Warn("membership lookup failed; withholding", "message", candidate.ID, "err", err)
		return false
	}
	return ok
}
