// Package selector picks the stored message that best answers an incoming
// one, among those its author allows to be shown to the reply's audience.
package selector

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/charmbracelet/log"

	"github.com/mesh-intelligence/quotebot/internal/embedding"
	"github.com/mesh-intelligence/quotebot/internal/metrics"
	"github.com/mesh-intelligence/quotebot/pkg/types"
)

// Store is the persistence the selector reads and flags repairs in.
type Store interface {
	GetMessage(ctx context.Context, id string) (*types.Message, error)
	MessagesByIndexIDs(ctx context.Context, ids []int64) (map[int64]*types.Message, error)
	FlagRepair(ctx context.Context, kind types.RepairKind, ref string) error
}

// Visibility decides whether a stored message may be shown to an audience.
type Visibility interface {
	CanReuse(ctx context.Context, candidate *types.Message, target types.Audience) bool
}

// Request describes the message being answered.
type Request struct {
	Text       string         // Normalized incoming text.
	AnchorText string         // Text of the incoming message's context anchor, if any.
	Audience   types.Audience // Where the reply would be posted.
	ExcludeID  string         // Never return this message, typically the incoming one.
	K          int            // Candidate pool size; zero uses the configured default.
}

// Result is the selected quote. Quote is nil and Confidence is 0 when no
// candidate survived.
type Result struct {
	Quote      *types.Message
	Confidence float64
	Distance   float64
}

// Selector queries the index and filters candidates.
type Selector struct {
	store        Store
	index        types.Index
	embedder     types.Embedder
	visibility   Visibility
	curve        Curve
	k            int
	maxDistance  float64
	anchorWeight float64
	logger       *log.Logger
	metrics      *metrics.Metrics
}

// New creates a selector from cfg. m may be nil.
func New(store Store, idx types.Index, embedder types.Embedder, visibility Visibility,
	cfg types.SelectorConfig, logger *log.Logger, m *metrics.Metrics) (*Selector, error) {
	curve, err := CurveByName(cfg.Curve)
	if err != nil {
		return nil, err
	}
	return &Selector{
		store:        store,
		index:        idx,
		embedder:     embedder,
		visibility:   visibility,
		curve:        curve,
		k:            cfg.K,
		maxDistance:  cfg.MaxDistance,
		anchorWeight: cfg.AnchorWeight,
		logger:       logger,
		metrics:      m,
	}, nil
}

// Select returns the nearest candidate that may be shown to req.Audience.
// Equal distances prefer the most recently created message. Every candidate
// is checked against the store and the visibility rules at call time.
func (s *Selector) Select(ctx context.Context, req Request) (Result, error) {
	vec, err := s.contextVector(ctx, req)
	if err != nil || vec == nil {
		s.metrics.Selection(false, 0)
		return Result{}, err
	}
	k := req.K
	if k <= 0 {
		k = s.k
	}
	neighbors, err := s.index.Query(ctx, vec, k, s.maxDistance)
	if err != nil {
		return Result{}, fmt.Errorf("querying index: %w", err)
	}
	if len(neighbors) == 0 {
		s.metrics.Selection(false, 0)
		return Result{}, nil
	}

	ids := make([]int64, len(neighbors))
	for i, n := range neighbors {
		ids[i] = n.ID
	}
	messages, err := s.store.MessagesByIndexIDs(ctx, ids)
	if err != nil {
		return Result{}, fmt.Errorf("loading candidates: %w", err)
	}

	var best *candidate
	for _, n := range neighbors {
		m, ok := messages[n.ID]
		if !ok {
			s.flagOrphan(ctx, n.ID)
			continue
		}
		if m.ID == req.ExcludeID || n.Distance > s.maxDistance {
			continue
		}
		if !s.visibility.CanReuse(ctx, m, req.Audience) {
			continue
		}
		c := &candidate{message: m, distance: n.Distance}
		if best == nil || c.before(best) {
			best = c
		}
	}
	if best == nil {
		s.metrics.Selection(false, 0)
		return Result{}, nil
	}

	res := Result{
		Quote:      best.message,
		Confidence: s.curve.Confidence(best.distance, s.maxDistance),
		Distance:   best.distance,
	}
	s.metrics.Selection(true, res.Distance)
	s.logger.Debug("selected quote", "id", res.Quote.ID, "distance", res.Distance, "confidence", res.Confidence)
	return res, nil
}

// Revalidate reports whether quote still exists and may still be shown to
// target. Callers check it again right before sending, since consent can be
// withdrawn between selection and delivery.
func (s *Selector) Revalidate(ctx context.Context, quote *types.Message, target types.Audience) bool {
	if quote == nil {
		return false
	}
	current, err := s.store.GetMessage(ctx, quote.ID)
	if err != nil {
		if !errors.Is(err, types.ErrNotFound) {
			s.logger.Warn("revalidating quote", "id", quote.ID, "err", err)
		}
		return false
	}
	return s.visibility.CanReuse(ctx, current, target)
}

// contextVector embeds the incoming text, blended with its anchor when both
// exist. It returns nil when there is nothing to embed.
func (s *Selector) contextVector(ctx context.Context, req Request) ([]float32, error) {
	var text, anchor []float32
	var err error
	if req.Text != "" {
		if text, err = s.embedder.Embed(ctx, req.Text); err != nil {
			return nil, fmt.Errorf("embedding incoming text: %w", err)
		}
	}
	if req.AnchorText != "" {
		if anchor, err = s.embedder.Embed(ctx, req.AnchorText); err != nil {
			return nil, fmt.Errorf("embedding anchor text: %w", err)
		}
	}
	switch {
	case text != nil && anchor != nil:
		return embedding.Combine(text, anchor, s.anchorWeight), nil
	case text != nil:
		return text, nil
	default:
		return anchor, nil
	}
}

func (s *Selector) flagOrphan(ctx context.Context, id int64) {
	s.metrics.Repair(string(types.RepairOrphanVector), "flagged")
	if err := s.store.FlagRepair(ctx, types.RepairOrphanVector, strconv.FormatInt(id, 10)); err != nil {
		s.logger.Warn("flagging orphan vector", "index_id", id, "err", err)
	}
}

type candidate struct {
	message  *types.Message
	distance float64
}

// before orders candidates by distance, then by recency.
func (c *candidate) before(o *candidate) bool {
	if c.distance != o.distance {
		return c.distance < o.distance
	}
	return c.message.CreatedAt.After(o.message.CreatedAt)
}
