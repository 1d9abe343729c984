// This file implements the settings table.
package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/mesh-intelligence/quotebot/pkg/types"
)

// GetSetting returns the override stored for exactly (name, kind, scopeID).
func (b *Backend) GetSetting(ctx context.Context, name string, kind types.ScopeKind, scopeID string) (string, bool, error) {
	db, release, err := b.acquire()
	if err != nil {
		return "", false, err
	}
	defer release()

	var value string
	err = db.QueryRowContext(ctx,
		"SELECT value FROM settings WHERE name = ? AND scope_kind = ? AND scope_id = ?",
		name, string(kind), scopeID,
	).Scan(&value)
	if isNoRows(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("getting setting %s for %s %s: %w", name, kind, scopeID, err)
	}
	return value, true, nil
}

// PutSetting creates or replaces the override for exactly (name, kind, scopeID).
func (b *Backend) PutSetting(ctx context.Context, name string, kind types.ScopeKind, scopeID, value string) error {
	if scopeID == "" {
		return types.ErrInvalidID
	}
	db, release, err := b.acquire()
	if err != nil {
		return err
	}
	defer release()

	_, err = db.ExecContext(ctx,
		`INSERT INTO settings (name, scope_kind, scope_id, value, updated_at) VALUES (?, ?, ?, ?, ?)
    ON CONFLICT(name, scope_kind, scope_id) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		name, string(kind), scopeID, value, formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("putting setting %s for %s %s: %w", name, kind, scopeID, err)
	}
	return nil
}

// DeleteSetting removes the override for exactly (name, kind, scopeID).
func (b *Backend) DeleteSetting(ctx context.Context, name string, kind types.ScopeKind, scopeID string) error {
	db, release, err := b.acquire()
	if err != nil {
		return err
	}
	defer release()

	_, err = db.ExecContext(ctx,
		"DELETE FROM settings WHERE name = ? AND scope_kind = ? AND scope_id = ?",
		name, string(kind), scopeID,
	)
	if err != nil {
		return fmt.Errorf("deleting setting %s for %s %s: %w", name, kind, scopeID, err)
	}
	return nil
}
