// Package learn decides which observed messages and reactions are learned,
// records them, and keeps the index convergent with the store.
package learn

import (
	"context"
	"fmt"
	"time"

	"github.com/mesh-intelligence/quotebot/internal/settings"
	"github.com/mesh-intelligence/quotebot/pkg/types"
)

// Reason is the outcome of a learn decision. Every value except Learned is
// a skip reason.
type Reason string

// Learn outcomes.
const (
	Learned           Reason = "learned"
	SkipEmpty         Reason = "empty"
	SkipCommand       Reason = "command"
	SkipBot           Reason = "bot"
	SkipNoAnchor      Reason = "no_anchor"
	SkipConsent       Reason = "no_consent"
	SkipAnchorConsent Reason = "anchor_no_consent"
	SkipDisabled      Reason = "learning_disabled"
	SkipOwnMessage    Reason = "own_message"
	SkipUnknown       Reason = "unknown_message"
	SkipDuplicate     Reason = "duplicate"
)

// ConsentReader looks up an author's consent.
type ConsentReader interface {
	Get(ctx context.Context, author string) (types.ConsentLevel, error)
}

// BoolResolver resolves boolean settings.
type BoolResolver interface {
	Bool(ctx context.Context, name string, c types.Context) (bool, error)
}

// Gate holds the learn-eligibility rules.
type Gate struct {
	Normalizer Normalizer
	Consent    ConsentReader
	Settings   BoolResolver
	Window     time.Duration
}

// Content applies the checks that need no I/O to a normalized message:
// non-empty, not a command, human author.
func (g *Gate) Content(text string, authorBot bool) Reason {
	switch {
	case text == "":
		return SkipEmpty
	case g.Normalizer.IsCommand(text):
		return SkipCommand
	case authorBot:
		return SkipBot
	}
	return Learned
}

// ValidAnchor reports whether prev can anchor a message by author sent at
// at. A zero window skips the time check, as for explicit replies.
func (g *Gate) ValidAnchor(prev Observed, author string, at time.Time, window time.Duration) bool {
	if prev.Text == "" || prev.AuthorID == author {
		return false
	}
	if !prev.Human && !prev.FromAgent {
		return false
	}
	if window > 0 && (prev.At.After(at) || at.Sub(prev.At) > window) {
		return false
	}
	return true
}

// Allowed checks the author's consent and learning setting in context c.
func (g *Gate) Allowed(ctx context.Context, author string, c types.Context) (Reason, error) {
	level, err := g.Consent.Get(ctx, author)
	if err != nil {
		return "", fmt.Errorf("checking consent: %w", err)
	}
	if !level.AllowsLearning() {
		return SkipConsent, nil
	}
	enabled, err := g.Settings.Bool(ctx, settings.Learning, c)
	if err != nil {
		return "", fmt.Errorf("checking learning setting: %w", err)
	}
	if !enabled {
		return SkipDisabled, nil
	}
	return Learned, nil
}

// AnchorAllowed reports whether anchor's text may be stored as another
// message's context. The agent's own messages always may; anyone else's
// only with consent that allows learning.
func (g *Gate) AnchorAllowed(ctx context.Context, anchor Observed) (bool, error) {
	if anchor.FromAgent {
		return true, nil
	}
	level, err := g.Consent.Get(ctx, anchor.AuthorID)
	if err != nil {
		return false, fmt.Errorf("checking anchor consent: %w", err)
	}
	return level.AllowsLearning(), nil
}

// Reaction applies the reaction gate: a human reactor who is not the
// author of a learned message and who allows learning.
func (g *Gate) Reaction(ctx context.Context, ev types.ReactionEvent, target *types.Message) (Reason, error) {
	if ev.ReactorBot {
		return SkipBot, nil
	}
	if target == nil {
		return SkipUnknown, nil
	}
	if ev.ReactorID == target.AuthorID {
		return SkipOwnMessage, nil
	}
	if r := g.Content(g.Normalizer.Normalize(target.Text), false); r != Learned {
		return r, nil
	}
	return g.Allowed(ctx, ev.ReactorID, types.Context{User: ev.ReactorID, Channel: ev.ChannelID, Server: ev.ServerID})
}
