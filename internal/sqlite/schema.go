// Package sqlite implements the transactional record store for quotebot on
// top of SQLite. Messages, reactions, consent, settings, and repair
// bookkeeping live in one database file so that a consent withdrawal and the
// queueing of its index removals commit together.
package sqlite

// Schema DDL for all tables. Statements are idempotent so a persistent
// database file is reused across restarts.
const (
	createMessages = `CREATE TABLE IF NOT EXISTS messages (
    message_id TEXT PRIMARY KEY,
    text TEXT NOT NULL,
    author_id TEXT NOT NULL,
    channel_id TEXT NOT NULL,
    server_id TEXT NOT NULL DEFAULT '',
    reply_to_id TEXT NOT NULL DEFAULT '',
    anchor_id TEXT NOT NULL DEFAULT '',
    anchor_author_id TEXT NOT NULL DEFAULT '',
    context_text TEXT NOT NULL DEFAULT '',
    index_id INTEGER UNIQUE,
    created_at TEXT NOT NULL
);`

	createReactions = `CREATE TABLE IF NOT EXISTS reactions (
    reaction_id TEXT PRIMARY KEY,
    message_id TEXT NOT NULL,
    symbol TEXT NOT NULL,
    reactor_id TEXT NOT NULL,
    created_at TEXT NOT NULL,
    UNIQUE (message_id, symbol, reactor_id),
    FOREIGN KEY (message_id) REFERENCES messages(message_id) ON DELETE CASCADE
);`

	createConsent = `CREATE TABLE IF NOT EXISTS consent (
    author_id TEXT PRIMARY KEY,
    level TEXT NOT NULL,
    updated_at TEXT NOT NULL
);`

	createConsentHistory = `CREATE TABLE IF NOT EXISTS consent_history (
    history_id TEXT PRIMARY KEY,
    author_id TEXT NOT NULL,
    level TEXT NOT NULL,
    created_at TEXT NOT NULL
);`

	createConsentPrompts = `CREATE TABLE IF NOT EXISTS consent_prompts (
    author_id TEXT PRIMARY KEY,
    prompted_at TEXT NOT NULL
);`

	createSettings = `CREATE TABLE IF NOT EXISTS settings (
    name TEXT NOT NULL,
    scope_kind TEXT NOT NULL,
    scope_id TEXT NOT NULL,
    value TEXT NOT NULL,
    updated_at TEXT NOT NULL,
    PRIMARY KEY (name, scope_kind, scope_id)
);`

	createPendingRemovals = `CREATE TABLE IF NOT EXISTS pending_removals (
    index_id INTEGER PRIMARY KEY,
    created_at TEXT NOT NULL
);`

	createRepairs = `CREATE TABLE IF NOT EXISTS repairs (
    repair_id TEXT PRIMARY KEY,
    kind TEXT NOT NULL,
    ref TEXT NOT NULL,
    created_at TEXT NOT NULL,
    UNIQUE (kind, ref)
);`
)

// Index DDL for common queries.
const (
	idxMessagesAuthor       = `CREATE INDEX IF NOT EXISTS idx_messages_author ON messages(author_id);`
	idxMessagesAnchorAuthor = `CREATE INDEX IF NOT EXISTS idx_messages_anchor_author ON messages(anchor_author_id);`
	idxMessagesAnchor       = `CREATE INDEX IF NOT EXISTS idx_messages_anchor ON messages(anchor_id);`
	idxMessagesChannel      = `CREATE INDEX IF NOT EXISTS idx_messages_channel ON messages(channel_id);`
	idxMessagesCreated      = `CREATE INDEX IF NOT EXISTS idx_messages_created ON messages(created_at);`
	idxReactionsReactor     = `CREATE INDEX IF NOT EXISTS idx_reactions_reactor ON reactions(reactor_id);`
	idxConsentHistoryAuthor = `CREATE INDEX IF NOT EXISTS idx_consent_history_author ON consent_history(author_id, created_at);`
	idxRepairsCreated       = `CREATE INDEX IF NOT EXISTS idx_repairs_created ON repairs(created_at);`
)

// schemaDDL lists all CREATE TABLE statements in dependency order.
var schemaDDL = []string{
	createMessages,
	createReactions,
	createConsent,
	createConsentHistory,
	createConsentPrompts,
	createSettings,
	createPendingRemovals,
	createRepairs,
}

// indexDDL lists all CREATE INDEX statements.
var indexDDL = []string{
	idxMessagesAuthor,
	idxMessagesAnchorAuthor,
	idxMessagesAnchor,
	idxMessagesChannel,
	idxMessagesCreated,
	idxReactionsReactor,
	idxConsentHistoryAuthor,
	idxRepairsCreated,
}
