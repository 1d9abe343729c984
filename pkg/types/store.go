package types

import "context"

// Store is the transactional record store behind messages, consent,
// settings, and repair bookkeeping. Callers attach to a backend, use it from
// any goroutine, and detach when done.
type Store interface {
	// Attach connects the Store to the backend described by config.
	// Creates the DataDir if it does not exist. Returns ErrAlreadyAttached if
	// called while already attached.
	Attach(config Config) error

	// Detach releases backend resources. Idempotent: multiple calls succeed.
	// After Detach, operations return ErrStoreDetached.
	Detach() error

	MessageStore
	ConsentBackend
	SettingsBackend
	RepairBackend
}

// MessageStore persists learned messages and their embedding assignments.
// Every message is written once; afterwards only reactions and the index
// assignment change.
type MessageStore interface {
	// RecordMessage inserts a learned message. Returns ErrAlreadyExists if a
	// message with the same ID is already stored.
	RecordMessage(ctx context.Context, m *Message) error

	// GetMessage returns the message with the given ID, reactions included.
	// Returns ErrNotFound if it does not exist.
	GetMessage(ctx context.Context, id string) (*Message, error)

	// MessagesByIndexIDs maps each index ID to its message. IDs without a
	// message are absent from the result.
	MessagesByIndexIDs(ctx context.Context, ids []int64) (map[int64]*Message, error)

	// SetIndexID records the index assignment for a message. Returns
	// ErrNotFound if the message no longer exists.
	SetIndexID(ctx context.Context, messageID string, indexID int64) error

	// ClearIndexID drops the index assignment so the message is embedded again.
	ClearIndexID(ctx context.Context, messageID string) error

	// UnindexedMessages returns up to limit messages that have no index
	// assignment, oldest first. A limit <= 0 returns all of them.
	UnindexedMessages(ctx context.Context, limit int) ([]*Message, error)

	// IndexAssignments returns every index ID currently referenced by a
	// message, mapped to the message ID.
	IndexAssignments(ctx context.Context) (map[int64]string, error)

	// AppendReaction attaches a learned reaction to an existing message.
	// Returns false if the same reactor already added the same symbol.
	AppendReaction(ctx context.Context, messageID string, r Reaction) (bool, error)

	// DeleteChannel removes every message observed in the channel and queues
	// their index IDs for removal in the same transaction.
	DeleteChannel(ctx context.Context, channelID string) ([]int64, error)

	// DeleteMessages removes the given messages and every message anchored
	// on one of them, queueing their index IDs for removal in the same
	// transaction. Unknown IDs are ignored.
	DeleteMessages(ctx context.Context, ids []string) ([]int64, error)

	// ReviseMessage replaces a message's text. Messages anchored on it take
	// the new text as context and lose their index assignment; their old
	// index IDs are queued for removal and returned. Unknown IDs change
	// nothing.
	ReviseMessage(ctx context.Context, id, text string) ([]int64, error)

	// CountMessages returns the total and the indexed number of messages.
	CountMessages(ctx context.Context) (total int, indexed int, err error)
}

// ConsentBackend persists consent records.
type ConsentBackend interface {
	// GetConsent returns the author's current level, ConsentUnset when no
	// record exists.
	GetConsent(ctx context.Context, authorID string) (ConsentLevel, error)

	// SetConsent writes the author's level and appends it to the history.
	// For ConsentDenied and ConsentUnset it also deletes every message the
	// author wrote or anchored and queues their index IDs for removal, all in
	// one transaction. Returns the queued index IDs.
	SetConsent(ctx context.Context, authorID string, level ConsentLevel) ([]int64, error)

	// MarkPrompted records that the consent prompt was sent to the author.
	// Returns true only the first time.
	MarkPrompted(ctx context.Context, authorID string) (bool, error)

	// ConsentCounts returns the number of authors at each recorded level.
	ConsentCounts(ctx context.Context) (map[ConsentLevel]int, error)
}

// SettingsBackend persists scoped setting overrides.
type SettingsBackend interface {
	// GetSetting returns the stored value for exactly (name, kind, scopeID).
	GetSetting(ctx context.Context, name string, kind ScopeKind, scopeID string) (string, bool, error)

	// PutSetting creates or replaces the value for exactly (name, kind, scopeID).
	PutSetting(ctx context.Context, name string, kind ScopeKind, scopeID, value string) error

	// DeleteSetting removes the override for exactly (name, kind, scopeID).
	// Deleting a missing override is not an error.
	DeleteSetting(ctx context.Context, name string, kind ScopeKind, scopeID string) error
}

// RepairBackend tracks work that keeps the store and the index convergent.
type RepairBackend interface {
	// PendingRemovals returns up to limit index IDs whose vectors must still
	// be removed from the index. A limit <= 0 returns all of them.
	PendingRemovals(ctx context.Context, limit int) ([]int64, error)

	// ResolveRemoval forgets a pending removal once the vector is gone.
	ResolveRemoval(ctx context.Context, indexID int64) error

	// FlagRepair records an inconsistency for asynchronous repair.
	// Flagging the same (kind, ref) twice keeps a single entry.
	FlagRepair(ctx context.Context, kind RepairKind, ref string) error

	// Repairs returns up to limit outstanding repairs, oldest first. A limit
	// <= 0 returns all of them.
	Repairs(ctx context.Context, limit int) ([]Repair, error)

	// ResolveRepair deletes a repair entry.
	ResolveRepair(ctx context.Context, repairID string) error
}
