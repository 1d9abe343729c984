// Package types defines the entities, collaborator interfaces, and standard
// error values shared by every quotebot component: messages and reactions,
// consent levels, setting scopes, audiences, and the Store, Index, Embedder,
// AudienceOracle, and Transport contracts.
package types
