package types

import (
	"sort"
	"time"
)

// Message is a learned chat message: a candidate quote. A Message is written
// once when it passes the learn-eligibility gate and afterwards changes only
// by gaining reactions and an index assignment.
type Message struct {
	ID             string     // Platform message ID, stable and unique.
	Text           string     // Normalized text, non-empty.
	AuthorID       string     // Author principal.
	ChannelID      string     // Origin channel; also the audience handle.
	ServerID       string     // Origin server, empty for direct messages.
	ReplyToID      string     // Explicit reply parent, if any.
	AnchorID       string     // Context anchor chosen at learn time.
	AnchorAuthorID string     // Author of the anchor, used for mention rewriting.
	ContextText    string     // Anchor text the stored vector was built from.
	IndexID        *int64     // Index assignment, nil until embedded.
	CreatedAt      time.Time  // Platform timestamp of the message.
	Reactions      []Reaction // Learned reactions, in insertion order.
}

// Reaction is a learned reaction attached to a Message.
type Reaction struct {
	Symbol    string
	ReactorID string
	CreatedAt time.Time
}

// Audience returns the handle of the audience that could see the message
// when it was observed.
func (m *Message) Audience() Audience {
	return Audience{ChannelID: m.ChannelID, ServerID: m.ServerID}
}

// Indexed reports whether the message has a vector in the index.
func (m *Message) Indexed() bool {
	return m.IndexID != nil
}

// AddReaction appends a reaction unless the same reactor already added the
// same symbol. Returns true if the reaction was added.
func (m *Message) AddReaction(r Reaction) bool {
	for _, existing := range m.Reactions {
		if existing.Symbol == r.Symbol && existing.ReactorID == r.ReactorID {
			return false
		}
	}
	m.Reactions = append(m.Reactions, r)
	return true
}

// TopReaction returns the symbol learned most often for this message. Ties go
// to the symbol learned first. Returns "" when no reactions were learned.
func (m *Message) TopReaction() string {
	if len(m.Reactions) == 0 {
		return ""
	}
	counts := make(map[string]int)
	first := make(map[string]int)
	for i, r := range m.Reactions {
		if _, ok := first[r.Symbol]; !ok {
			first[r.Symbol] = i
		}
		counts[r.Symbol]++
	}
	symbols := make([]string, 0, len(counts))
	for s := range counts {
		symbols = append(symbols, s)
	}
	sort.Slice(symbols, func(i, j int) bool {
		if counts[symbols[i]] != counts[symbols[j]] {
			return counts[symbols[i]] > counts[symbols[j]]
		}
		return first[symbols[i]] < first[symbols[j]]
	})
	return symbols[0]
}
