// Package consent owns authors' sharing preferences. Withdrawing consent
// deletes the author's learned messages in one store transaction and then
// removes their vectors from the index; removals that fail stay queued in
// the store until a later Converge drains them.
package consent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/mesh-intelligence/quotebot/internal/metrics"
	"github.com/mesh-intelligence/quotebot/internal/retry"
	"github.com/mesh-intelligence/quotebot/pkg/types"
)

// Backend is the persistence the consent store needs.
type Backend interface {
	types.ConsentBackend
	types.RepairBackend
}

// Store reads and writes consent and keeps the index in step with it.
type Store struct {
	backend Backend
	index   types.Index
	logger  *log.Logger
	metrics *metrics.Metrics
	policy  retry.Policy
}

// New creates a consent store. m may be nil.
func New(backend Backend, idx types.Index, logger *log.Logger, m *metrics.Metrics) *Store {
	return &Store{
		backend: backend,
		index:   idx,
		logger:  logger,
		metrics: m,
		policy:  retry.Transient,
	}
}

// Get returns the author's consent level; ConsentUnset when none was chosen.
func (s *Store) Get(ctx context.Context, author string) (types.ConsentLevel, error) {
	var level types.ConsentLevel
	err := retry.Do(ctx, s.policy, func() error {
		var err error
		level, err = s.backend.GetConsent(ctx, author)
		return permanentIfInput(err)
	}, s.notify("get consent", author))
	if err != nil {
		return types.ConsentUnset, fmt.Errorf("getting consent for %s: %w", author, err)
	}
	return level, nil
}

// Set records an explicit choice. Choosing denied deletes everything learned
// from the author before Set returns; the matching vectors are removed from
// the index or left queued for Converge.
func (s *Store) Set(ctx context.Context, author string, level types.ConsentLevel) error {
	if _, err := types.ParseConsent(string(level)); err != nil {
		return err
	}
	return s.write(ctx, author, level)
}

// Clear returns the author to the unset state, with the same cascade as
// denied.
func (s *Store) Clear(ctx context.Context, author string) error {
	return s.write(ctx, author, types.ConsentUnset)
}

func (s *Store) write(ctx context.Context, author string, level types.ConsentLevel) error {
	// Withdrawals retry their cascade until it commits or ctx ends.
	run := retry.Do
	if !level.AllowsLearning() {
		run = retry.Forever
	}
	var removed []int64
	err := run(ctx, s.policy, func() error {
		var err error
		removed, err = s.backend.SetConsent(ctx, author, level)
		return permanentIfInput(err)
	}, s.notify("set consent", author))
	if err != nil {
		return fmt.Errorf("setting consent for %s to %s: %w", author, level, err)
	}
	s.metrics.ConsentChange(level.String())
	s.logger.Info("consent changed", "author", author, "level", level.String(), "removed", len(removed))

	s.removeVectors(ctx, removed)
	return nil
}

// Converge removes every vector still queued for removal. It returns the
// number removed.
func (s *Store) Converge(ctx context.Context) (int, error) {
	pending, err := s.backend.PendingRemovals(ctx, 0)
	if err != nil {
		return 0, fmt.Errorf("listing pending removals: %w", err)
	}
	return s.removeVectors(ctx, pending), nil
}

// removeVectors removes ids from the index, resolving each pending row that
// succeeds. Failures stay queued.
func (s *Store) removeVectors(ctx context.Context, ids []int64) int {
	done := 0
	for _, id := range ids {
		err := retry.Do(ctx, s.policy, func() error {
			return s.index.Remove(ctx, id)
		}, s.notify("remove vector", fmt.Sprint(id)))
		if err == nil {
			err = s.backend.ResolveRemoval(ctx, id)
		}
		if err != nil {
			s.metrics.Removal("deferred")
			s.logger.Warn("vector removal deferred", "index_id", id, "err", err)
			continue
		}
		s.metrics.Removal("ok")
		done++
	}
	if done > 0 {
		if err := s.index.Save(); err != nil {
			s.logger.Warn("saving index after removal", "err", err)
		}
	}
	return done
}

// ShouldIntroduce reports whether the consent prompt should be sent to the
// author now: the author has made no choice and was never prompted. A true
// result is recorded, so it is returned at most once per author.
func (s *Store) ShouldIntroduce(ctx context.Context, author string) (bool, error) {
	level, err := s.Get(ctx, author)
	if err != nil {
		return false, err
	}
	if level != types.ConsentUnset {
		return false, nil
	}
	first, err := s.backend.MarkPrompted(ctx, author)
	if err != nil {
		return false, fmt.Errorf("recording prompt for %s: %w", author, err)
	}
	return first, nil
}

// Counts returns the number of authors per recorded level.
func (s *Store) Counts(ctx context.Context) (map[types.ConsentLevel]int, error) {
	return s.backend.ConsentCounts(ctx)
}

func (s *Store) notify(op, ref string) retry.Notify {
	return func(err error, wait time.Duration) {
		s.logger.Warn("retrying", "op", op, "ref", ref, "wait", wait, "err", err)
	}
}

// permanentIfInput stops retries for errors that another attempt cannot fix.
func permanentIfInput(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, types.ErrInvalidID) || errors.Is(err, types.ErrInvalidConsent) ||
		errors.Is(err, types.ErrStoreDetached) {
		return retry.Permanent(err)
	}
	return err
}
