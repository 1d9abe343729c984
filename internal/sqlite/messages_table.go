// This file implements the message and reaction tables.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mesh-intelligence/quotebot/pkg/types"
)

const messageColumns = `message_id, text, author_id, channel_id, server_id, reply_to_id,
    anchor_id, anchor_author_id, context_text, index_id, created_at`

// RecordMessage inserts a learned message and any reactions it carries.
func (b *Backend) RecordMessage(ctx context.Context, m *types.Message) error {
	if m.ID == "" {
		return types.ErrInvalidID
	}
	if m.Text == "" {
		return types.ErrEmptyText
	}
	return b.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, "SELECT 1 FROM messages WHERE message_id = ?", m.ID).Scan(&exists)
		if err == nil {
			return types.ErrAlreadyExists
		}
		if !isNoRows(err) {
			return fmt.Errorf("checking message existence: %w", err)
		}

		var indexID sql.NullInt64
		if m.IndexID != nil {
			indexID = sql.NullInt64{Int64: *m.IndexID, Valid: true}
		}
		_, err = tx.ExecContext(ctx,
			"INSERT INTO messages ("+messageColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
			m.ID, m.Text, m.AuthorID, m.ChannelID, m.ServerID, m.ReplyToID,
			m.AnchorID, m.AnchorAuthorID, m.ContextText, indexID, formatTime(m.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("inserting message %s: %w", m.ID, err)
		}
		for _, r := range m.Reactions {
			if _, err := insertReaction(ctx, tx, m.ID, r); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetMessage returns a message with its reactions.
func (b *Backend) GetMessage(ctx context.Context, id string) (*types.Message, error) {
	if id == "" {
		return nil, types.ErrInvalidID
	}
	db, release, err := b.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	row := db.QueryRowContext(ctx, "SELECT "+messageColumns+" FROM messages WHERE message_id = ?", id)
	m, err := hydrateMessage(row)
	if err != nil {
		if isNoRows(err) {
			return nil, types.ErrNotFound
		}
		return nil, fmt.Errorf("getting message %s: %w", id, err)
	}
	if err := hydrateReactions(ctx, db, m); err != nil {
		return nil, err
	}
	return m, nil
}

// MessagesByIndexIDs maps index IDs to their messages.
func (b *Backend) MessagesByIndexIDs(ctx context.Context, ids []int64) (map[int64]*types.Message, error) {
	result := make(map[int64]*types.Message, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	db, release, err := b.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := db.QueryContext(ctx,
		"SELECT "+messageColumns+" FROM messages WHERE index_id IN ("+placeholders(len(ids))+")",
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("querying messages by index id: %w", err)
	}
	messages, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	for _, m := range messages {
		if err := hydrateReactions(ctx, db, m); err != nil {
			return nil, err
		}
		result[*m.IndexID] = m
	}
	return result, nil
}

// SetIndexID records the index assignment for a message.
func (b *Backend) SetIndexID(ctx context.Context, messageID string, indexID int64) error {
	return b.updateIndexID(ctx, messageID, sql.NullInt64{Int64: indexID, Valid: true})
}

// ClearIndexID removes the index assignment for a message.
func (b *Backend) ClearIndexID(ctx context.Context, messageID string) error {
	return b.updateIndexID(ctx, messageID, sql.NullInt64{})
}

func (b *Backend) updateIndexID(ctx context.Context, messageID string, indexID sql.NullInt64) error {
	if messageID == "" {
		return types.ErrInvalidID
	}
	db, release, err := b.acquire()
	if err != nil {
		return err
	}
	defer release()

	res, err := db.ExecContext(ctx, "UPDATE messages SET index_id = ? WHERE message_id = ?", indexID, messageID)
	if err != nil {
		return fmt.Errorf("updating index id for %s: %w", messageID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating index id for %s: %w", messageID, err)
	}
	if n == 0 {
		return types.ErrNotFound
	}
	return nil
}

// UnindexedMessages returns messages without an index assignment, oldest first.
func (b *Backend) UnindexedMessages(ctx context.Context, limit int) ([]*types.Message, error) {
	db, release, err := b.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	rows, err := db.QueryContext(ctx,
		"SELECT "+messageColumns+" FROM messages WHERE index_id IS NULL ORDER BY created_at, message_id"+limitClause(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("querying unindexed messages: %w", err)
	}
	return scanMessages(rows)
}

// IndexAssignments returns every index ID referenced by a message.
func (b *Backend) IndexAssignments(ctx context.Context) (map[int64]string, error) {
	db, release, err := b.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	rows, err := db.QueryContext(ctx, "SELECT index_id, message_id FROM messages WHERE index_id IS NOT NULL")
	if err != nil {
		return nil, fmt.Errorf("querying index assignments: %w", err)
	}
	defer rows.Close()

	result := make(map[int64]string)
	for rows.Next() {
		var indexID int64
		var messageID string
		if err := rows.Scan(&indexID, &messageID); err != nil {
			return nil, fmt.Errorf("scanning index assignment: %w", err)
		}
		result[indexID] = messageID
	}
	return result, rows.Err()
}

// AppendReaction attaches a learned reaction to an existing message.
func (b *Backend) AppendReaction(ctx context.Context, messageID string, r types.Reaction) (bool, error) {
	if messageID == "" {
		return false, types.ErrInvalidID
	}
	var added bool
	err := b.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, "SELECT 1 FROM messages WHERE message_id = ?", messageID).Scan(&exists)
		if isNoRows(err) {
			return types.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("checking message existence: %w", err)
		}
		added, err = insertReaction(ctx, tx, messageID, r)
		return err
	})
	return added, err
}

// DeleteChannel removes every message from a channel and queues the removal
// of their vectors.
func (b *Backend) DeleteChannel(ctx context.Context, channelID string) ([]int64, error) {
	if channelID == "" {
		return nil, types.ErrInvalidID
	}
	var removed []int64
	err := b.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		removed, err = cascadeDelete(ctx, tx, "channel_id = ?", channelID)
		return err
	})
	return removed, err
}

// DeleteMessages removes the messages with the given IDs and the messages
// anchored on them, and queues the removal of their vectors.
func (b *Backend) DeleteMessages(ctx context.Context, ids []string) ([]int64, error) {
	var removed []int64
	err := b.withTx(ctx, func(tx *sql.Tx) error {
		for _, id := range ids {
			if id == "" {
				return types.ErrInvalidID
			}
			for _, where := range []string{"message_id = ?", "anchor_id = ?"} {
				queued, err := cascadeDelete(ctx, tx, where, id)
				if err != nil {
					return fmt.Errorf("deleting message %s: %w", id, err)
				}
				removed = append(removed, queued...)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

// ReviseMessage replaces the text of message id and re-queues the messages
// anchored on it for embedding with the new context.
func (b *Backend) ReviseMessage(ctx context.Context, id, text string) ([]int64, error) {
	if id == "" {
		return nil, types.ErrInvalidID
	}
	if text == "" {
		return nil, types.ErrEmptyText
	}
	var removed []int64
	err := b.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "UPDATE messages SET text = ? WHERE message_id = ?", text, id); err != nil {
			return fmt.Errorf("revising message %s: %w", id, err)
		}
		var err error
		removed, err = queueRemovals(ctx, tx, "anchor_id = ?", id)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			"UPDATE messages SET context_text = ?, index_id = NULL WHERE anchor_id = ?", text, id)
		if err != nil {
			return fmt.Errorf("revising context of replies to %s: %w", id, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

// CountMessages returns the number of stored and indexed messages.
func (b *Backend) CountMessages(ctx context.Context) (int, int, error) {
	db, release, err := b.acquire()
	if err != nil {
		return 0, 0, err
	}
	defer release()

	var total, indexed int
	err = db.QueryRowContext(ctx,
		"SELECT COUNT(*), COUNT(index_id) FROM messages",
	).Scan(&total, &indexed)
	if err != nil {
		return 0, 0, fmt.Errorf("counting messages: %w", err)
	}
	return total, indexed, nil
}

// cascadeDelete deletes the messages matching where, queues their index IDs
// in pending_removals, and returns those IDs. Reactions go with their
// message through the foreign key.
func cascadeDelete(ctx context.Context, q queryer, where string, arg any) ([]int64, error) {
	ids, err := queueRemovals(ctx, q, where, arg)
	if err != nil {
		return nil, err
	}
	if _, err := q.ExecContext(ctx, "DELETE FROM messages WHERE "+where, arg); err != nil {
		return nil, fmt.Errorf("deleting messages: %w", err)
	}
	return ids, nil
}

// queueRemovals queues the index IDs of the messages matching where in
// pending_removals and returns them.
func queueRemovals(ctx context.Context, q queryer, where string, arg any) ([]int64, error) {
	rows, err := q.QueryContext(ctx, "SELECT index_id FROM messages WHERE index_id IS NOT NULL AND "+where, arg)
	if err != nil {
		return nil, fmt.Errorf("selecting index ids: %w", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning index id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	now := formatTime(time.Now())
	for _, id := range ids {
		if _, err := q.ExecContext(ctx,
			"INSERT OR IGNORE INTO pending_removals (index_id, created_at) VALUES (?, ?)", id, now,
		); err != nil {
			return nil, fmt.Errorf("queueing removal of %d: %w", id, err)
		}
	}
	return ids, nil
}

func insertReaction(ctx context.Context, q queryer, messageID string, r types.Reaction) (bool, error) {
	res, err := q.ExecContext(ctx,
		"INSERT OR IGNORE INTO reactions (reaction_id, message_id, symbol, reactor_id, created_at) VALUES (?, ?, ?, ?, ?)",
		newUUID(), messageID, r.Symbol, r.ReactorID, formatTime(r.CreatedAt),
	)
	if err != nil {
		return false, fmt.Errorf("inserting reaction on %s: %w", messageID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("inserting reaction on %s: %w", messageID, err)
	}
	return n == 1, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func hydrateMessage(row scanner) (*types.Message, error) {
	var (
		m         types.Message
		indexID   sql.NullInt64
		createdAt string
	)
	err := row.Scan(&m.ID, &m.Text, &m.AuthorID, &m.ChannelID, &m.ServerID, &m.ReplyToID,
		&m.AnchorID, &m.AnchorAuthorID, &m.ContextText, &indexID, &createdAt)
	if err != nil {
		return nil, err
	}
	if indexID.Valid {
		id := indexID.Int64
		m.IndexID = &id
	}
	if m.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &m, nil
}

func scanMessages(rows *sql.Rows) ([]*types.Message, error) {
	defer rows.Close()
	var messages []*types.Message
	for rows.Next() {
		m, err := hydrateMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}
	return messages, nil
}

func hydrateReactions(ctx context.Context, q queryer, m *types.Message) error {
	rows, err := q.QueryContext(ctx,
		"SELECT symbol, reactor_id, created_at FROM reactions WHERE message_id = ? ORDER BY created_at, reaction_id",
		m.ID,
	)
	if err != nil {
		return fmt.Errorf("querying reactions for %s: %w", m.ID, err)
	}
	defer rows.Close()

	m.Reactions = nil
	for rows.Next() {
		var r types.Reaction
		var createdAt string
		if err := rows.Scan(&r.Symbol, &r.ReactorID, &createdAt); err != nil {
			return fmt.Errorf("scanning reaction: %w", err)
		}
		if r.CreatedAt, err = parseTime(createdAt); err != nil {
			return err
		}
		m.Reactions = append(m.Reactions, r)
	}
	return rows.Err()
}
