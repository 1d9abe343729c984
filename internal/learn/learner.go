package learn

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/mesh-intelligence/quotebot/internal/metrics"
	"github.com/mesh-intelligence/quotebot/internal/retry"
	"github.com/mesh-intelligence/quotebot/pkg/types"
)

// embedTimeout bounds one background embedding.
const embedTimeout = 30 * time.Second

// Observation is what the learner made of one message event.
type Observation struct {
	Reason  Reason
	Text    string         // Normalized text.
	Anchor  *Observed      // Context anchor, nil when none qualified.
	Message *types.Message // The stored message when Reason is Learned.
}

// Learner runs every observed message and reaction through the gate and
// records those that pass. Embedding happens in the background; a message
// whose embedding fails stays unindexed until the Converger retries it.
type Learner struct {
	gate     *Gate
	history  *History
	store    types.MessageStore
	index    types.Index
	embedder types.Embedder
	agentID  string
	logger   *log.Logger
	metrics  *metrics.Metrics
	policy   retry.Policy

	wg sync.WaitGroup
}

// NewLearner creates a learner. m may be nil.
func NewLearner(gate *Gate, history *History, store types.MessageStore, idx types.Index,
	embedder types.Embedder, agentID string, logger *log.Logger, m *metrics.Metrics) *Learner {
	return &Learner{
		gate:     gate,
		history:  history,
		store:    store,
		index:    idx,
		embedder: embedder,
		agentID:  agentID,
		logger:   logger,
		metrics:  m,
		policy:   retry.Transient,
	}
}

// History returns the channel history the learner maintains.
func (l *Learner) History() *History {
	return l.history
}

// Observe records ev in the channel history and learns it if it passes the
// gate. The anchor is chosen before ev itself enters the history.
func (l *Learner) Observe(ctx context.Context, ev types.MessageEvent) (Observation, error) {
	text := l.gate.Normalizer.Normalize(ev.Text)
	obs := Observation{Text: text}
	if anchor, ok := l.anchorFor(ctx, ev); ok {
		obs.Anchor = &anchor
	}
	l.history.Observe(ev.ChannelID, Observed{
		ID:        ev.ID,
		AuthorID:  ev.AuthorID,
		Human:     !ev.AuthorBot,
		FromAgent: ev.AuthorID == l.agentID,
		Text:      text,
		At:        ev.CreatedAt,
	})

	reason, err := l.decide(ctx, ev, obs)
	if err != nil {
		return obs, err
	}
	obs.Reason = reason
	if reason != Learned {
		l.metrics.Observed(string(reason))
		return obs, nil
	}

	msg := &types.Message{
		ID:             ev.ID,
		Text:           text,
		AuthorID:       ev.AuthorID,
		ChannelID:      ev.ChannelID,
		ServerID:       ev.ServerID,
		ReplyToID:      ev.ReplyToID,
		AnchorID:       obs.Anchor.ID,
		AnchorAuthorID: obs.Anchor.AuthorID,
		ContextText:    obs.Anchor.Text,
		CreatedAt:      ev.CreatedAt,
	}
	err = retry.Do(ctx, l.policy, func() error {
		err := l.store.RecordMessage(ctx, msg)
		if errors.Is(err, types.ErrAlreadyExists) || errors.Is(err, types.ErrInvalidID) ||
			errors.Is(err, types.ErrEmptyText) {
			return retry.Permanent(err)
		}
		return err
	}, l.notify("record message", ev.ID))
	if errors.Is(err, types.ErrAlreadyExists) {
		obs.Reason = SkipDuplicate
		l.metrics.Observed(string(SkipDuplicate))
		return obs, nil
	}
	if err != nil {
		return obs, fmt.Errorf("recording message %s: %w", ev.ID, err)
	}
	obs.Message = msg
	l.metrics.Observed(string(Learned))
	l.logger.Debug("learned message", "id", msg.ID, "anchor", msg.AnchorID)

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), embedTimeout)
		defer cancel()
		if _, err := IndexMessage(ctx, l.store, l.index, l.embedder, msg); err != nil {
			l.metrics.EmbedFailure()
			l.logger.Warn("embedding deferred", "id", msg.ID, "err", err)
		}
	}()
	return obs, nil
}

// ObserveOwn records a message the agent sent so it can anchor replies to
// it. The agent's own messages are never learned.
func (l *Learner) ObserveOwn(channelID, id, text string, at time.Time) {
	l.history.Observe(channelID, Observed{
		ID:        id,
		AuthorID:  l.agentID,
		FromAgent: true,
		Text:      l.gate.Normalizer.Normalize(text),
		At:        at,
	})
}

// ObserveReaction attaches ev to the stored message it targets if it passes
// the reaction gate.
func (l *Learner) ObserveReaction(ctx context.Context, ev types.ReactionEvent) (Reason, error) {
	target, err := l.store.GetMessage(ctx, ev.MessageID)
	if errors.Is(err, types.ErrNotFound) {
		target, err = nil, nil
	}
	if err != nil {
		return "", fmt.Errorf("loading reacted message %s: %w", ev.MessageID, err)
	}
	reason, err := l.gate.Reaction(ctx, ev, target)
	if err != nil {
		return "", err
	}
	if reason == Learned {
		added, err := l.store.AppendReaction(ctx, ev.MessageID, types.Reaction{
			Symbol:    ev.Symbol,
			ReactorID: ev.ReactorID,
			CreatedAt: ev.CreatedAt,
		})
		if errors.Is(err, types.ErrNotFound) {
			reason, err = SkipUnknown, nil
		} else if err == nil && !added {
			reason = SkipDuplicate
		}
		if err != nil {
			return "", fmt.Errorf("recording reaction on %s: %w", ev.MessageID, err)
		}
	}
	l.metrics.Reaction(string(reason))
	return reason, nil
}

// ObserveEdit applies an edited message. Stored text is replaced and replies
// anchored on the message are queued for re-embedding with the new context.
// When the new text no longer passes the content gate the message is dropped
// together with its anchored replies, and the gate's reason is returned.
func (l *Learner) ObserveEdit(ctx context.Context, ev types.MessageEditEvent) (Reason, error) {
	text := l.gate.Normalizer.Normalize(ev.Text)
	l.history.Revise(ev.ChannelID, ev.ID, text)

	reason := l.gate.Content(text, ev.AuthorBot)
	var removed []int64
	err := retry.Do(ctx, l.policy, func() error {
		var err error
		if reason != Learned {
			removed, err = l.store.DeleteMessages(ctx, []string{ev.ID})
		} else {
			removed, err = l.store.ReviseMessage(ctx, ev.ID, text)
		}
		if errors.Is(err, types.ErrInvalidID) || errors.Is(err, types.ErrEmptyText) {
			return retry.Permanent(err)
		}
		return err
	}, l.notify("edit message", ev.ID))
	if err != nil {
		return "", fmt.Errorf("applying edit to %s: %w", ev.ID, err)
	}
	l.metrics.Edit(string(reason))
	l.logger.Debug("message edited", "id", ev.ID, "reason", reason, "requeued", len(removed))
	return reason, nil
}

// ObserveDelete forgets deleted messages and removes them, and the replies
// anchored on them, from the store. It returns how many vectors were queued
// for removal.
func (l *Learner) ObserveDelete(ctx context.Context, ev types.MessageDeleteEvent) (int, error) {
	if len(ev.IDs) == 0 {
		return 0, nil
	}
	l.history.Remove(ev.ChannelID, ev.IDs...)

	var removed []int64
	err := retry.Do(ctx, l.policy, func() error {
		var err error
		removed, err = l.store.DeleteMessages(ctx, ev.IDs)
		if errors.Is(err, types.ErrInvalidID) {
			return retry.Permanent(err)
		}
		return err
	}, l.notify("delete messages", ev.ChannelID))
	if err != nil {
		return 0, fmt.Errorf("deleting messages in %s: %w", ev.ChannelID, err)
	}
	l.logger.Debug("messages deleted", "channel", ev.ChannelID, "count", len(ev.IDs), "vectors", len(removed))
	return len(removed), nil
}

// Wait blocks until background embeddings finish.
func (l *Learner) Wait() {
	l.wg.Wait()
}

func (l *Learner) decide(ctx context.Context, ev types.MessageEvent, obs Observation) (Reason, error) {
	if r := l.gate.Content(obs.Text, ev.AuthorBot); r != Learned {
		return r, nil
	}
	if obs.Anchor == nil {
		return SkipNoAnchor, nil
	}
	reason, err := l.gate.Allowed(ctx, ev.AuthorID, types.Context{User: ev.AuthorID, Channel: ev.ChannelID, Server: ev.ServerID})
	if err != nil || reason != Learned {
		return reason, err
	}
	ok, err := l.gate.AnchorAllowed(ctx, *obs.Anchor)
	if err != nil {
		return "", err
	}
	if !ok {
		return SkipAnchorConsent, nil
	}
	return Learned, nil
}

// anchorFor picks the message ev responds to. An explicit reply anchors on
// its parent if the parent is known and qualifies; otherwise the directly
// preceding message in the channel anchors if it qualifies and falls inside
// the window.
func (l *Learner) anchorFor(ctx context.Context, ev types.MessageEvent) (Observed, bool) {
	if ev.ReplyToID != "" {
		parent, ok := l.history.Lookup(ev.ChannelID, ev.ReplyToID)
		if !ok {
			m, err := l.store.GetMessage(ctx, ev.ReplyToID)
			if err != nil {
				return Observed{}, false
			}
			parent = Observed{ID: m.ID, AuthorID: m.AuthorID, Human: true, Text: m.Text, At: m.CreatedAt}
		}
		return parent, l.gate.ValidAnchor(parent, ev.AuthorID, ev.CreatedAt, 0)
	}
	prev, ok := l.history.Last(ev.ChannelID)
	if !ok {
		return Observed{}, false
	}
	return prev, l.gate.ValidAnchor(prev, ev.AuthorID, ev.CreatedAt, l.gate.Window)
}

func (l *Learner) notify(op, ref string) retry.Notify {
	return func(err error, wait time.Duration) {
		l.logger.Warn("retrying", "op", op, "ref", ref, "wait", wait, "err", err)
	}
}

// IndexMessage embeds the message's context and records the new vector's
// assignment. If the message was deleted meanwhile, the vector
// is removed again and the returned ID is zero.
func IndexMessage(ctx context.Context, store types.MessageStore, idx types.Index, embedder types.Embedder, m *types.Message) (int64, error) {
	text := m.ContextText
	if text == "" {
		text = m.Text
	}
	vec, err := embedder.Embed(ctx, text)
	if err != nil {
		return 0, fmt.Errorf("embedding %s: %w", m.ID, err)
	}
	id, err := idx.Insert(ctx, vec)
	if err != nil {
		return 0, fmt.Errorf("inserting vector for %s: %w", m.ID, err)
	}
	if err := store.SetIndexID(ctx, m.ID, id); err != nil {
		if rmErr := idx.Remove(ctx, id); rmErr != nil {
			return 0, errors.Join(fmt.Errorf("assigning vector to %s: %w", m.ID, err), rmErr)
		}
		if errors.Is(err, types.ErrNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("assigning vector to %s: %w", m.ID, err)
	}
	return id, nil
}
