// This file implements the consent, consent_history, and consent_prompts tables.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mesh-intelligence/quotebot/pkg/types"
)

// GetConsent returns the author's current consent level.
func (b *Backend) GetConsent(ctx context.Context, authorID string) (types.ConsentLevel, error) {
	if authorID == "" {
		return types.ConsentUnset, types.ErrInvalidID
	}
	db, release, err := b.acquire()
	if err != nil {
		return types.ConsentUnset, err
	}
	defer release()

	var level string
	err = db.QueryRowContext(ctx, "SELECT level FROM consent WHERE author_id = ?", authorID).Scan(&level)
	if isNoRows(err) {
		return types.ConsentUnset, nil
	}
	if err != nil {
		return types.ConsentUnset, fmt.Errorf("getting consent for %s: %w", authorID, err)
	}
	return types.ConsentLevel(level), nil
}

// SetConsent writes the author's level, appends it to the history, and for
// levels that forbid learning deletes the author's messages, the messages
// that used one of the author's messages as context, and the author's
// reactions, and queues the removal of their vectors. Everything commits together.
func (b *Backend) SetConsent(ctx context.Context, authorID string, level types.ConsentLevel) ([]int64, error) {
	if authorID == "" {
		return nil, types.ErrInvalidID
	}
	if level != types.ConsentUnset {
		if _, err := types.ParseConsent(string(level)); err != nil {
			return nil, err
		}
	}

	var removed []int64
	err := b.withTx(ctx, func(tx *sql.Tx) error {
		now := formatTime(time.Now())
		if level == types.ConsentUnset {
			if _, err := tx.ExecContext(ctx, "DELETE FROM consent WHERE author_id = ?", authorID); err != nil {
				return fmt.Errorf("clearing consent for %s: %w", authorID, err)
			}
		} else {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO consent (author_id, level, updated_at) VALUES (?, ?, ?)
    ON CONFLICT(author_id) DO UPDATE SET level = excluded.level, updated_at = excluded.updated_at`,
				authorID, string(level), now,
			)
			if err != nil {
				return fmt.Errorf("setting consent for %s: %w", authorID, err)
			}
		}
		_, err := tx.ExecContext(ctx,
			"INSERT INTO consent_history (history_id, author_id, level, created_at) VALUES (?, ?, ?, ?)",
			newUUID(), authorID, level.String(), now,
		)
		if err != nil {
			return fmt.Errorf("recording consent history for %s: %w", authorID, err)
		}

		if level.AllowsLearning() {
			return nil
		}
		for _, where := range []string{"author_id = ?", "anchor_author_id = ?"} {
			ids, err := cascadeDelete(ctx, tx, where, authorID)
			if err != nil {
				return fmt.Errorf("deleting messages by %s: %w", authorID, err)
			}
			removed = append(removed, ids...)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM reactions WHERE reactor_id = ?", authorID); err != nil {
			return fmt.Errorf("deleting reactions by %s: %w", authorID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

// MarkPrompted records that the consent prompt was sent to the author.
func (b *Backend) MarkPrompted(ctx context.Context, authorID string) (bool, error) {
	if authorID == "" {
		return false, types.ErrInvalidID
	}
	db, release, err := b.acquire()
	if err != nil {
		return false, err
	}
	defer release()

	res, err := db.ExecContext(ctx,
		"INSERT OR IGNORE INTO consent_prompts (author_id, prompted_at) VALUES (?, ?)",
		authorID, formatTime(time.Now()),
	)
	if err != nil {
		return false, fmt.Errorf("marking %s prompted: %w", authorID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("marking %s prompted: %w", authorID, err)
	}
	return n == 1, nil
}

// ConsentCounts returns the number of authors at each recorded level.
func (b *Backend) ConsentCounts(ctx context.Context) (map[types.ConsentLevel]int, error) {
	db, release, err := b.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	rows, err := db.QueryContext(ctx, "SELECT level, COUNT(*) FROM consent GROUP BY level")
	if err != nil {
		return nil, fmt.Errorf("counting consent: %w", err)
	}
	defer rows.Close()

	counts := make(map[types.ConsentLevel]int)
	for rows.Next() {
		var level string
		var n int
		if err := rows.Scan(&level, &n); err != nil {
			return nil, fmt.Errorf("scanning consent count: %w", err)
		}
		counts[types.ConsentLevel(level)] = n
	}
	return counts, rows.Err()
}
