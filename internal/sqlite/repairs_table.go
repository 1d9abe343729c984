// This file implements the pending_removals and repairs tables that keep
// the store and the index convergent.
package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/mesh-intelligence/quotebot/pkg/types"
)

// PendingRemovals returns index IDs still queued for removal, oldest first.
func (b *Backend) PendingRemovals(ctx context.Context, limit int) ([]int64, error) {
	db, release, err := b.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	rows, err := db.QueryContext(ctx,
		"SELECT index_id FROM pending_removals ORDER BY created_at, index_id"+limitClause(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("querying pending removals: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning pending removal: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ResolveRemoval forgets a pending removal.
func (b *Backend) ResolveRemoval(ctx context.Context, indexID int64) error {
	db, release, err := b.acquire()
	if err != nil {
		return err
	}
	defer release()

	if _, err := db.ExecContext(ctx, "DELETE FROM pending_removals WHERE index_id = ?", indexID); err != nil {
		return fmt.Errorf("resolving removal of %d: %w", indexID, err)
	}
	return nil
}

// FlagRepair records an inconsistency. Duplicate flags collapse into one.
func (b *Backend) FlagRepair(ctx context.Context, kind types.RepairKind, ref string) error {
	if ref == "" {
		return types.ErrInvalidID
	}
	db, release, err := b.acquire()
	if err != nil {
		return err
	}
	defer release()

	_, err = db.ExecContext(ctx,
		"INSERT OR IGNORE INTO repairs (repair_id, kind, ref, created_at) VALUES (?, ?, ?, ?)",
		newUUID(), string(kind), ref, formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("flagging %s repair for %s: %w", kind, ref, err)
	}
	return nil
}

// Repairs returns outstanding repairs, oldest first.
func (b *Backend) Repairs(ctx context.Context, limit int) ([]types.Repair, error) {
	db, release, err := b.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	rows, err := db.QueryContext(ctx,
		"SELECT repair_id, kind, ref, created_at FROM repairs ORDER BY created_at, repair_id"+limitClause(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("querying repairs: %w", err)
	}
	defer rows.Close()

	var repairs []types.Repair
	for rows.Next() {
		var r types.Repair
		var kind, createdAt string
		if err := rows.Scan(&r.RepairID, &kind, &r.Ref, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning repair: %w", err)
		}
		r.Kind = types.RepairKind(kind)
		if r.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		repairs = append(repairs, r)
	}
	return repairs, rows.Err()
}

// ResolveRepair deletes a repair entry.
func (b *Backend) ResolveRepair(ctx context.Context, repairID string) error {
	db, release, err := b.acquire()
	if err != nil {
		return err
	}
	defer release()

	if _, err := db.ExecContext(ctx, "DELETE FROM repairs WHERE repair_id = ?", repairID); err != nil {
		return fmt.Errorf("resolving repair %s: %w", repairID, err)
	}
	return nil
}
