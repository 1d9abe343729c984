// Package agent wires learning, selection, and reply timing to the chat
// transport. Every event for a channel runs on that channel's worker, in
// arrival order.
package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/mesh-intelligence/quotebot/internal/learn"
	"github.com/mesh-intelligence/quotebot/internal/metrics"
	"github.com/mesh-intelligence/quotebot/internal/selector"
	"github.com/mesh-intelligence/quotebot/internal/settings"
	"github.com/mesh-intelligence/quotebot/internal/timing"
	"github.com/mesh-intelligence/quotebot/pkg/types"
)

// Introduction is sent privately to people the agent has not asked yet.
const Introduction = "Hi! I learn from conversations and sometimes reply with things people have said. " +
	"Choose whether I may learn from your messages: denied, scoped (quoted only where everyone " +
	"could already see them), or public. You can change your mind at any time."

// Selector picks quotes.
type Selector interface {
	Select(ctx context.Context, req selector.Request) (selector.Result, error)
	Revalidate(ctx context.Context, quote *types.Message, target types.Audience) bool
}

// Consent is the consent service the agent drives.
type Consent interface {
	Set(ctx context.Context, author string, level types.ConsentLevel) error
	Clear(ctx context.Context, author string) error
	ShouldIntroduce(ctx context.Context, author string) (bool, error)
	Converge(ctx context.Context) (int, error)
}

// Settings resolves effective settings.
type Settings interface {
	Bool(ctx context.Context, name string, c types.Context) (bool, error)
	Effective(ctx context.Context, name string, c types.Context) (settings.Resolution, error)
}

// Deps are the collaborators an Agent is built from.
type Deps struct {
	Config    types.AgentConfig
	Window    time.Duration // How far back participants are counted.
	Transport types.Transport
	Store     types.MessageStore
	Learner   *learn.Learner
	Selector  Selector
	Consent   Consent
	Settings  Settings
	Policy    *timing.Policy
	Scheduler *timing.Scheduler
	Logger    *log.Logger
	Metrics   *metrics.Metrics
}

// Agent handles platform events.
type Agent struct {
	Deps
	now func() time.Time
}

// New creates an agent.
func New(deps Deps) *Agent {
	return &Agent{Deps: deps, now: time.Now}
}

// HandleMessage queues ev on its channel's worker.
func (a *Agent) HandleMessage(ctx context.Context, ev types.MessageEvent) error {
	return a.Scheduler.Submit(ev.ChannelID, func(ctx context.Context, slot *timing.Slot) {
		a.processMessage(ctx, ev, slot)
	})
}

// HandleReaction queues ev on its channel's worker so it sees the messages
// that arrived before it.
func (a *Agent) HandleReaction(ctx context.Context, ev types.ReactionEvent) error {
	return a.Scheduler.Submit(ev.ChannelID, func(ctx context.Context, _ *timing.Slot) {
		if ev.ReactorID == a.Config.ID {
			return
		}
		reason, err := a.Learner.ObserveReaction(ctx, ev)
		if err != nil {
			a.Logger.Error("observing reaction", "message", ev.MessageID, "err", err)
			return
		}
		a.Logger.Debug("reaction observed", "message", ev.MessageID, "outcome", reason)
	})
}

// HandleConsent applies a consent menu choice and confirms it privately.
// "unset" clears the choice. Invalid choices are returned to the caller
// with the valid ones listed.
func (a *Agent) HandleConsent(ctx context.Context, ev types.ConsentEvent) error {
	var level types.ConsentLevel
	var err error
	if ev.Choice == "unset" {
		err = a.Consent.Clear(ctx, ev.UserID)
	} else {
		if level, err = types.ParseConsent(ev.Choice); err != nil {
			return err
		}
		err = a.Consent.Set(ctx, ev.UserID, level)
	}
	if err != nil {
		return fmt.Errorf("updating consent: %w", err)
	}
	if err := a.Transport.Prompt(ctx, ev.UserID, "Saved: "+level.Describe()+"."); err != nil {
		a.Logger.Warn("confirming consent", "user", ev.UserID, "err", err)
	}
	return nil
}

// HandleChannelDeleted forgets everything learned in the channel and drops
// any reply pending there.
func (a *Agent) HandleChannelDeleted(ctx context.Context, channelID string) error {
	ids, err := a.Store.DeleteChannel(ctx, channelID)
	if err != nil {
		return fmt.Errorf("deleting channel %s: %w", channelID, err)
	}
	if _, err := a.Consent.Converge(ctx); err != nil {
		a.Logger.Warn("removing channel vectors deferred", "channel", channelID, "err", err)
	}
	a.Logger.Info("channel forgotten", "channel", channelID, "messages", len(ids))
	return a.Scheduler.Submit(channelID, func(_ context.Context, slot *timing.Slot) {
		slot.Cancel()
		a.Learner.History().Forget(channelID)
		a.Policy.Forget(channelID)
	})
}

// HandleMessageDeleted forgets deleted messages and the replies learned
// with them as context.
func (a *Agent) HandleMessageDeleted(ctx context.Context, ev types.MessageDeleteEvent) error {
	return a.Scheduler.Submit(ev.ChannelID, func(ctx context.Context, _ *timing.Slot) {
		n, err := a.Learner.ObserveDelete(ctx, ev)
		if err != nil {
			a.Logger.Error("observing deletion", "channel", ev.ChannelID, "ids", ev.IDs, "err", err)
			return
		}
		a.converge(ctx, n, ev.ChannelID)
	})
}

// HandleMessageEdited applies an edit on the channel's worker.
func (a *Agent) HandleMessageEdited(ctx context.Context, ev types.MessageEditEvent) error {
	return a.Scheduler.Submit(ev.ChannelID, func(ctx context.Context, _ *timing.Slot) {
		reason, err := a.Learner.ObserveEdit(ctx, ev)
		if err != nil {
			a.Logger.Error("observing edit", "id", ev.ID, "err", err)
			return
		}
		a.Logger.Debug("edit observed", "id", ev.ID, "outcome", reason)
		a.converge(ctx, 1, ev.ChannelID)
	})
}

func (a *Agent) converge(ctx context.Context, queued int, channelID string) {
	if queued == 0 {
		return
	}
	if _, err := a.Consent.Converge(ctx); err != nil {
		a.Logger.Warn("vector removal deferred", "channel", channelID, "err", err)
	}
}

// Drain waits for every queued event and background embedding to finish.
// Replies still waiting on their delay stay pending.
func (a *Agent) Drain() {
	a.Scheduler.Drain()
	a.Learner.Wait()
}

// Close stops every channel worker, cancelling pending replies, and waits
// for background embeddings.
func (a *Agent) Close() {
	a.Scheduler.Close()
	a.Learner.Wait()
}

func (a *Agent) processMessage(ctx context.Context, ev types.MessageEvent, slot *timing.Slot) {
	if ev.AuthorID == a.Config.ID {
		return
	}
	if !ev.AuthorBot {
		if slot.Cancel() {
			a.Logger.Debug("pending reply cancelled", "channel", ev.ChannelID, "by", ev.ID)
		}
		a.Policy.Observe(ev.ChannelID, ev.CreatedAt)
	}

	obs, err := a.Learner.Observe(ctx, ev)
	if err != nil {
		a.Logger.Error("observing message", "id", ev.ID, "err", err)
	}
	if ev.AuthorBot {
		return
	}
	scope := types.Context{User: ev.AuthorID, Channel: ev.ChannelID, Server: ev.ServerID}
	a.introduce(ctx, ev.AuthorID, scope)
	if obs.Reason == learn.SkipCommand || obs.Reason == learn.SkipEmpty {
		return
	}

	enabled, err := a.Settings.Bool(ctx, settings.Replies, scope)
	if err != nil || !enabled {
		if err != nil {
			a.Logger.Warn("resolving replies setting", "err", err)
		}
		return
	}
	trigger, err := a.trigger(ctx, ev, scope)
	if err != nil {
		a.Logger.Warn("building reply trigger", "err", err)
		return
	}

	d := a.Policy.Decide(ev.ChannelID, trigger)
	a.Logger.Debug("reply decided", "id", ev.ID, "state", d.State, "delay", d.Delay)
	switch d.State {
	case timing.Immediate:
		a.reply(ctx, ev, obs, d)
	case timing.Delayed:
		stop := a.Transport.Typing(ctx, ev.ChannelID)
		slot.Arm(d.Delay, func(ctx context.Context) {
			stop()
			a.reply(ctx, ev, obs, d)
		}, func() {
			stop()
			a.Metrics.Reply(string(timing.Cancelled))
		})
	default:
		a.Metrics.Reply(string(d.State))
	}
}

func (a *Agent) trigger(ctx context.Context, ev types.MessageEvent, scope types.Context) (timing.Trigger, error) {
	mode, err := a.Settings.Effective(ctx, settings.ReplyMode, scope)
	if err != nil {
		return timing.Trigger{}, err
	}
	t := timing.Trigger{
		Direct:       ev.Direct(),
		Mentioned:    ev.Mentioned(a.Config.ID),
		ReplyToAgent: ev.ReplyToID != "" && ev.ReplyToAuthorID == a.Config.ID,
		ChannelName:  ev.ChannelName,
		Mode:         mode.Value,
		Participants: a.Learner.History().Participants(ev.ChannelID, ev.CreatedAt.Add(-a.Window)),
	}
	if t.Mode == settings.ModeAmbient {
		if t.Learned, _, err = a.Store.CountMessages(ctx); err != nil {
			return timing.Trigger{}, err
		}
	}
	return t, nil
}

// reply selects a quote for ev and sends it if it clears the decision's
// floor and may still be shown.
func (a *Agent) reply(ctx context.Context, ev types.MessageEvent, obs learn.Observation, d timing.Decision) {
	req := selector.Request{Text: obs.Text, Audience: ev.Audience(), ExcludeID: ev.ID}
	if obs.Anchor != nil {
		req.AnchorText = obs.Anchor.Text
	}
	res, err := a.Selector.Select(ctx, req)
	if err != nil {
		a.Logger.Error("selecting quote", "id", ev.ID, "err", err)
		return
	}
	if !d.Accept(res.Confidence) || !a.Selector.Revalidate(ctx, res.Quote, ev.Audience()) {
		a.Metrics.Reply(string(timing.Suppressed))
		a.Logger.Debug("reply suppressed", "id", ev.ID, "confidence", res.Confidence, "floor", d.Floor)
		return
	}

	scope := types.Context{User: ev.AuthorID, Channel: ev.ChannelID, Server: ev.ServerID}
	if symbol := res.Quote.TopReaction(); symbol != "" {
		if ok, err := a.Settings.Bool(ctx, settings.Reactions, scope); err == nil && ok {
			if err := a.Transport.React(ctx, ev.ChannelID, ev.ID, symbol); err != nil {
				a.Logger.Warn("reacting", "id", ev.ID, "err", err)
			}
		}
	}

	text := rewriteMentions(res.Quote.Text, quoteReplacements(res.Quote, ev.AuthorID, a.Config.ID))
	replyTo := ev.ID
	if ev.Direct() {
		replyTo = ""
	}
	id, err := a.Transport.Send(ctx, ev.ChannelID, text, replyTo)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			a.Logger.Error("sending reply", "channel", ev.ChannelID, "err", err)
		}
		return
	}
	a.Learner.ObserveOwn(ev.ChannelID, id, text, a.now())
	a.Metrics.Reply("sent")
	a.Logger.Info("replied", "channel", ev.ChannelID, "quote", res.Quote.ID, "confidence", res.Confidence)
}

// introduce sends the consent prompt to an author seen for the first time,
// if introductions are enabled where they spoke.
func (a *Agent) introduce(ctx context.Context, author string, scope types.Context) {
	enabled, err := a.Settings.Bool(ctx, settings.Introductions, scope)
	if err != nil || !enabled {
		return
	}
	first, err := a.Consent.ShouldIntroduce(ctx, author)
	if err != nil {
		a.Logger.Warn("checking introduction", "author", author, "err", err)
		return
	}
	if !first {
		return
	}
	if err := a.Transport.Prompt(ctx, author, Introduction); err != nil {
		a.Logger.Warn("sending introduction", "author", author, "err", err)
	}
}
