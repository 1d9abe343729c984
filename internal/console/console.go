// Package console is a line-oriented chat transport for running the agent
// locally. Input lines look like
//
//	#general alice: I love rainy days
//	@bob bob: what's the weather like?
//	#general carol ^m2: me too
//	/react m2 carol 👍
//	/consent alice scoped
//	/edit m2 I love sunny days
//	/unsend m2
//	/delete #general
//
// "@name" channels are direct messages with that user. "^id" marks a reply.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/mesh-intelligence/quotebot/pkg/types"
)

// Server is the server ID given to every non-direct console channel.
const Server = "console"

// Errors for malformed input lines.
var (
	ErrMalformedLine = errors.New("malformed line")
	ErrUnknownID     = errors.New("unknown message id")
)

// Handler receives parsed events.
type Handler interface {
	HandleMessage(ctx context.Context, ev types.MessageEvent) error
	HandleReaction(ctx context.Context, ev types.ReactionEvent) error
	HandleConsent(ctx context.Context, ev types.ConsentEvent) error
	HandleChannelDeleted(ctx context.Context, channelID string) error
	HandleMessageDeleted(ctx context.Context, ev types.MessageDeleteEvent) error
	HandleMessageEdited(ctx context.Context, ev types.MessageEditEvent) error
}

type record struct {
	channelID string
	authorID  string
}

// Console prints the agent's actions to out and turns input lines into
// events. It implements types.Transport.
type Console struct {
	agentID string
	now     func() time.Time

	mu       sync.Mutex
	out      io.Writer
	seq      int
	messages map[string]record
}

var _ types.Transport = (*Console)(nil)

// New creates a console writing to out.
func New(out io.Writer, agentID string) *Console {
	return &Console{agentID: agentID, now: time.Now, out: out, messages: make(map[string]record)}
}

// Send prints text as the agent and returns the new message's ID.
func (c *Console) Send(_ context.Context, channelID, text, replyTo string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextIDLocked(channelID, c.agentID)
	if replyTo != "" {
		fmt.Fprintf(c.out, "%s %s ^%s: %s  (%s)\n", channelID, c.agentID, replyTo, text, id)
	} else {
		fmt.Fprintf(c.out, "%s %s: %s  (%s)\n", channelID, c.agentID, text, id)
	}
	return id, nil
}

// React prints a reaction by the agent.
func (c *Console) React(_ context.Context, channelID, messageID, symbol string) error {
	c.printf("%s %s reacted %s to %s\n", channelID, c.agentID, symbol, messageID)
	return nil
}

// Typing prints a typing notice; stop prints nothing.
func (c *Console) Typing(_ context.Context, channelID string) func() {
	c.printf("%s %s is typing...\n", channelID, c.agentID)
	return func() {}
}

// Prompt prints a private message to the user.
func (c *Console) Prompt(_ context.Context, userID, text string) error {
	c.printf("@%s %s: %s\n", userID, c.agentID, text)
	return nil
}

// Run reads lines from in and dispatches them to h until in is exhausted or
// ctx is done. Bad lines are reported on the output and skipped.
func (c *Console) Run(ctx context.Context, in io.Reader, h Handler) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "//") {
			continue
		}
		if err := c.dispatch(ctx, line, h); err != nil {
			c.printf("error: %v\n", err)
		}
	}
	return scanner.Err()
}

func (c *Console) dispatch(ctx context.Context, line string, h Handler) error {
	if cmd, ok := strings.CutPrefix(line, "/"); ok {
		fields := strings.Fields(cmd)
		switch {
		case len(fields) == 4 && fields[0] == "react":
			ev, err := c.reaction(fields[1], fields[2], fields[3])
			if err != nil {
				return err
			}
			return h.HandleReaction(ctx, ev)
		case len(fields) == 3 && fields[0] == "consent":
			return h.HandleConsent(ctx, types.ConsentEvent{UserID: fields[1], Choice: fields[2]})
		case len(fields) == 2 && fields[0] == "delete":
			return h.HandleChannelDeleted(ctx, fields[1])
		case len(fields) == 2 && fields[0] == "unsend":
			ev, err := c.unsend(fields[1])
			if err != nil {
				return err
			}
			return h.HandleMessageDeleted(ctx, ev)
		case len(fields) >= 3 && fields[0] == "edit":
			ev, err := c.edit(line)
			if err != nil {
				return err
			}
			return h.HandleMessageEdited(ctx, ev)
		}
		return fmt.Errorf("%w: %q (commands: /react <id> <user> <symbol>, /consent <user> <choice>, "+
			"/edit <id> <text>, /unsend <id>, /delete <channel>)", ErrMalformedLine, line)
	}
	ev, err := c.Parse(line)
	if err != nil {
		return err
	}
	c.printf("(%s)\n", ev.ID)
	return h.HandleMessage(ctx, ev)
}

var linePattern = regexp.MustCompile(`^([#@][^\s:]+)\s+([^\s:^]+)(?:\s+\^(\S+))?:\s*(.*)$`)

var editPattern = regexp.MustCompile(`^/edit\s+(\S+)\s+(.*)$`)

var mentionPattern = regexp.MustCompile(`<@!?([^>\s]+)>|@(\w+)`)

// Parse turns a message line into an event with a fresh ID.
func (c *Console) Parse(line string) (types.MessageEvent, error) {
	m := linePattern.FindStringSubmatch(line)
	if m == nil {
		return types.MessageEvent{}, fmt.Errorf("%w: %q (expected \"<#channel|@user> <user>: <text>\")", ErrMalformedLine, line)
	}
	channelID, author, replyTo, text := m[1], m[2], m[3], m[4]
	ev := types.MessageEvent{
		Text:        text,
		AuthorID:    author,
		ChannelID:   channelID,
		ChannelName: channelKey(channelID),
		ReplyToID:   replyTo,
		CreatedAt:   c.now(),
	}
	if !strings.HasPrefix(channelID, "@") {
		ev.ServerID = Server
	}
	for _, mm := range mentionPattern.FindAllStringSubmatch(text, -1) {
		ev.Mentions = append(ev.Mentions, mm[1]+mm[2])
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if replyTo != "" {
		parent, ok := c.messages[replyTo]
		if !ok {
			return types.MessageEvent{}, fmt.Errorf("%w: %s", ErrUnknownID, replyTo)
		}
		ev.ReplyToAuthorID = parent.authorID
	}
	ev.ID = c.nextIDLocked(channelID, author)
	return ev, nil
}

func (c *Console) reaction(messageID, reactor, symbol string) (types.ReactionEvent, error) {
	c.mu.Lock()
	rec, ok := c.messages[messageID]
	c.mu.Unlock()
	if !ok {
		return types.ReactionEvent{}, fmt.Errorf("%w: %s", ErrUnknownID, messageID)
	}
	ev := types.ReactionEvent{
		MessageID: messageID,
		ChannelID: rec.channelID,
		Symbol:    symbol,
		ReactorID: reactor,
		CreatedAt: c.now(),
	}
	if !strings.HasPrefix(rec.channelID, "@") {
		ev.ServerID = Server
	}
	return ev, nil
}

// edit turns an "/edit <id> <text>" line into an edit by the message's
// author.
func (c *Console) edit(line string) (types.MessageEditEvent, error) {
	m := editPattern.FindStringSubmatch(line)
	if m == nil {
		return types.MessageEditEvent{}, fmt.Errorf("%w: %q", ErrMalformedLine, line)
	}
	c.mu.Lock()
	rec, ok := c.messages[m[1]]
	c.mu.Unlock()
	if !ok {
		return types.MessageEditEvent{}, fmt.Errorf("%w: %s", ErrUnknownID, m[1])
	}
	ev := types.MessageEditEvent{
		ID:        m[1],
		ChannelID: rec.channelID,
		AuthorID:  rec.authorID,
		Text:      m[2],
		EditedAt:  c.now(),
	}
	if !strings.HasPrefix(rec.channelID, "@") {
		ev.ServerID = Server
	}
	return ev, nil
}

// unsend forgets the message so later lines cannot reply to or react to it.
func (c *Console) unsend(id string) (types.MessageDeleteEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.messages[id]
	if !ok {
		return types.MessageDeleteEvent{}, fmt.Errorf("%w: %s", ErrUnknownID, id)
	}
	delete(c.messages, id)
	return types.MessageDeleteEvent{ChannelID: rec.channelID, IDs: []string{id}}, nil
}

func (c *Console) nextIDLocked(channelID, author string) string {
	c.seq++
	id := fmt.Sprintf("m%d", c.seq)
	c.messages[id] = record{channelID: channelID, authorID: author}
	return id
}

func (c *Console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}
