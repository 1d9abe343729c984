package types

import (
	"context"
	"time"
)

// Transport is the chat platform surface the agent acts through.
type Transport interface {
	// Send posts text to a channel, optionally as a reply to replyTo, and
	// returns the new message's ID.
	Send(ctx context.Context, channelID, text, replyTo string) (string, error)

	// React adds a reaction symbol to a message.
	React(ctx context.Context, channelID, messageID, symbol string) error

	// Typing shows a presence indicator in the channel until stop is called.
	Typing(ctx context.Context, channelID string) (stop func())

	// Prompt sends a private message to a user.
	Prompt(ctx context.Context, userID, text string) error
}

// MessageEvent is an observed message-create event.
type MessageEvent struct {
	ID              string
	Text            string
	AuthorID        string
	AuthorBot       bool
	ChannelID       string
	ChannelName     string
	ServerID        string
	ReplyToID       string
	ReplyToAuthorID string
	Mentions        []string
	CreatedAt       time.Time
}

// Audience returns the audience of the channel the event arrived in.
func (e MessageEvent) Audience() Audience {
	return Audience{ChannelID: e.ChannelID, ServerID: e.ServerID}
}

// Direct reports whether the event arrived in a direct message channel.
func (e MessageEvent) Direct() bool {
	return e.ServerID == ""
}

// Mentioned reports whether id is mentioned by the event.
func (e MessageEvent) Mentioned(id string) bool {
	for _, m := range e.Mentions {
		if m == id {
			return true
		}
	}
	return false
}

// ReactionEvent is an observed reaction-add event.
type ReactionEvent struct {
	MessageID  string
	ChannelID  string
	ServerID   string
	Symbol     string
	ReactorID  string
	ReactorBot bool
	CreatedAt  time.Time
}

// ConsentEvent is a consent menu interaction.
type ConsentEvent struct {
	UserID string
	Choice string
}

// MessageDeleteEvent is an observed delete of one or more messages in a
// channel.
type MessageDeleteEvent struct {
	ChannelID string
	IDs       []string
}

// MessageEditEvent is an observed edit of a message's text.
type MessageEditEvent struct {
	ID        string
	ChannelID string
	ServerID  string
	AuthorID  string
	AuthorBot bool
	Text      string
	EditedAt  time.Time
}
