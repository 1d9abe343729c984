package learn

import (
	"sync"
	"time"
)

// Observed is a message seen in a channel, learnable or not.
type Observed struct {
	ID        string
	AuthorID  string
	Human     bool
	FromAgent bool
	Text      string
	At        time.Time
}

// History keeps the most recent observed messages of every channel so
// anchors can be found without a platform round trip. It is safe for
// concurrent use.
type History struct {
	mu       sync.Mutex
	size     int
	channels map[string][]Observed
}

// NewHistory keeps up to size messages per channel.
func NewHistory(size int) *History {
	if size < 1 {
		size = 1
	}
	return &History{size: size, channels: make(map[string][]Observed)}
}

// Observe appends o to the channel's history, dropping the oldest entry
// when full.
func (h *History) Observe(channelID string, o Observed) {
	h.mu.Lock()
	defer h.mu.Unlock()

	entries := append(h.channels[channelID], o)
	if len(entries) > h.size {
		entries = append([]Observed(nil), entries[len(entries)-h.size:]...)
	}
	h.channels[channelID] = entries
}

// Last returns the most recent observed message in the channel.
func (h *History) Last(channelID string) (Observed, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	entries := h.channels[channelID]
	if len(entries) == 0 {
		return Observed{}, false
	}
	return entries[len(entries)-1], true
}

// Lookup finds a message by ID in the channel's history.
func (h *History) Lookup(channelID, id string) (Observed, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	entries := h.channels[channelID]
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].ID == id {
			return entries[i], true
		}
	}
	return Observed{}, false
}

// Revise replaces the text of a message still in the channel's history.
func (h *History) Revise(channelID, id, text string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i, o := range h.channels[channelID] {
		if o.ID == id {
			h.channels[channelID][i].Text = text
		}
	}
}

// Remove drops the messages with the given IDs from the channel's history.
func (h *History) Remove(channelID string, ids ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	gone := make(map[string]bool, len(ids))
	for _, id := range ids {
		gone[id] = true
	}
	entries := h.channels[channelID]
	kept := entries[:0:0]
	for _, o := range entries {
		if !gone[o.ID] {
			kept = append(kept, o)
		}
	}
	h.channels[channelID] = kept
}

// Participants counts the distinct human authors seen in the channel since
// the given time.
func (h *History) Participants(channelID string, since time.Time) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	seen := make(map[string]bool)
	for _, o := range h.channels[channelID] {
		if o.Human && !o.At.Before(since) {
			seen[o.AuthorID] = true
		}
	}
	return len(seen)
}

// Forget drops a channel's history.
func (h *History) Forget(channelID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.channels, channelID)
}
