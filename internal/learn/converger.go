package learn

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/log"

	"github.com/mesh-intelligence/quotebot/internal/metrics"
	"github.com/mesh-intelligence/quotebot/pkg/types"
)

// ConvergeStore is the persistence the converger reconciles.
type ConvergeStore interface {
	types.MessageStore
	types.RepairBackend
}

// RemovalDrainer removes vectors queued by consent withdrawal.
type RemovalDrainer interface {
	Converge(ctx context.Context) (int, error)
}

// EnumerableIndex is an index whose IDs can be listed.
type EnumerableIndex interface {
	types.Index
	IDs() []int64
	Contains(id int64) bool
}

// Report counts what one converge pass did.
type Report struct {
	Removed  int // Vectors removed for withdrawn or deleted messages.
	Repaired int // Flagged repairs resolved.
	Embedded int // Messages embedded that had no vector.
	Failed   int // Messages whose embedding failed again.
}

// Changed reports whether the pass modified the index or the store.
func (r Report) Changed() bool {
	return r.Removed+r.Repaired+r.Embedded > 0
}

// Converger repairs drift between the store and the index: vectors whose
// message is gone, messages whose vector is gone, and messages never
// embedded.
type Converger struct {
	store    ConvergeStore
	removals RemovalDrainer
	index    EnumerableIndex
	embedder types.Embedder
	interval time.Duration
	batch    int
	logger   *log.Logger
	metrics  *metrics.Metrics
}

// NewConverger creates a converger. m may be nil.
func NewConverger(store ConvergeStore, removals RemovalDrainer, idx EnumerableIndex, embedder types.Embedder,
	cfg types.ConvergeConfig, logger *log.Logger, m *metrics.Metrics) *Converger {
	return &Converger{
		store:    store,
		removals: removals,
		index:    idx,
		embedder: embedder,
		interval: cfg.Interval,
		batch:    cfg.BatchSize,
		logger:   logger,
		metrics:  m,
	}
}

// Reconcile compares every index ID with the store's assignments and flags
// the differences as repairs. Run it at startup, before RunOnce.
func (c *Converger) Reconcile(ctx context.Context) error {
	assigned, err := c.store.IndexAssignments(ctx)
	if err != nil {
		return fmt.Errorf("loading index assignments: %w", err)
	}
	for _, id := range c.index.IDs() {
		if _, ok := assigned[id]; ok {
			continue
		}
		if err := c.store.FlagRepair(ctx, types.RepairOrphanVector, strconv.FormatInt(id, 10)); err != nil {
			return fmt.Errorf("flagging orphan vector %d: %w", id, err)
		}
		c.metrics.Repair(string(types.RepairOrphanVector), "flagged")
	}
	for id, messageID := range assigned {
		if c.index.Contains(id) {
			continue
		}
		if err := c.store.FlagRepair(ctx, types.RepairStaleIndex, messageID); err != nil {
			return fmt.Errorf("flagging stale assignment of %s: %w", messageID, err)
		}
		c.metrics.Repair(string(types.RepairStaleIndex), "flagged")
	}
	return nil
}

// RunOnce drains pending removals, resolves flagged repairs, embeds up to
// one batch of unindexed messages, and saves the index if it changed.
func (c *Converger) RunOnce(ctx context.Context) (Report, error) {
	var rep Report

	removed, err := c.removals.Converge(ctx)
	if err != nil {
		return rep, err
	}
	rep.Removed = removed

	repairs, err := c.store.Repairs(ctx, 0)
	if err != nil {
		return rep, fmt.Errorf("listing repairs: %w", err)
	}
	for _, r := range repairs {
		if err := c.repair(ctx, r); err != nil {
			c.logger.Warn("repair failed", "kind", r.Kind, "ref", r.Ref, "err", err)
			continue
		}
		rep.Repaired++
	}

	pending, err := c.store.UnindexedMessages(ctx, c.batch)
	if err != nil {
		return rep, fmt.Errorf("listing unindexed messages: %w", err)
	}
	for _, m := range pending {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		if _, err := IndexMessage(ctx, c.store, c.index, c.embedder, m); err != nil {
			rep.Failed++
			c.metrics.EmbedFailure()
			c.logger.Warn("embedding failed", "id", m.ID, "err", err)
			continue
		}
		rep.Embedded++
	}

	if rep.Changed() {
		if err := c.index.Save(); err != nil {
			return rep, fmt.Errorf("saving index: %w", err)
		}
	}
	return rep, nil
}

// Run reconciles once and then converges every interval until ctx is done.
func (c *Converger) Run(ctx context.Context) error {
	if err := c.Reconcile(ctx); err != nil {
		c.logger.Warn("reconcile failed", "err", err)
	}
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		rep, err := c.RunOnce(ctx)
		switch {
		case errors.Is(err, context.Canceled):
			return nil
		case err != nil:
			c.logger.Warn("converge pass failed", "err", err)
		case rep.Changed() || rep.Failed > 0:
			c.logger.Info("converged", "removed", rep.Removed, "repaired", rep.Repaired,
				"embedded", rep.Embedded, "failed", rep.Failed)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (c *Converger) repair(ctx context.Context, r types.Repair) error {
	switch r.Kind {
	case types.RepairOrphanVector:
		id, err := strconv.ParseInt(r.Ref, 10, 64)
		if err != nil {
			return c.store.ResolveRepair(ctx, r.RepairID)
		}
		owners, err := c.store.MessagesByIndexIDs(ctx, []int64{id})
		if err != nil {
			return err
		}
		if len(owners) == 0 {
			if err := c.index.Remove(ctx, id); err != nil {
				return err
			}
		}
	case types.RepairStaleIndex:
		if c.staleStill(ctx, r.Ref) {
			if err := c.store.ClearIndexID(ctx, r.Ref); err != nil && !errors.Is(err, types.ErrNotFound) {
				return err
			}
		}
	}
	c.metrics.Repair(string(r.Kind), "resolved")
	return c.store.ResolveRepair(ctx, r.RepairID)
}

// staleStill reports whether the message still points at a missing vector.
func (c *Converger) staleStill(ctx context.Context, messageID string) bool {
	m, err := c.store.GetMessage(ctx, messageID)
	if err != nil || m.IndexID == nil {
		return false
	}
	return !c.index.Contains(*m.IndexID)
}
