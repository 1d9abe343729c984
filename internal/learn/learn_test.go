package learn

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/quotebot/internal/consent"
	"github.com/mesh-intelligence/quotebot/internal/embedding"
	"github.com/mesh-intelligence/quotebot/internal/index"
	"github.com/mesh-intelligence/quotebot/internal/logging"
	"github.com/mesh-intelligence/quotebot/internal/settings"
	"github.com/mesh-intelligence/quotebot/internal/sqlite"
	"github.com/mesh-intelligence/quotebot/pkg/types"
)

const dims = 64

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// switchEmbedder fails while broken is set.
type switchEmbedder struct {
	*embedding.Hash
	broken atomic.Bool
}

func (s *switchEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if s.broken.Load() {
		return nil, errors.New("embedding service unavailable")
	}
	return s.Hash.Embed(ctx, text)
}

type fixture struct {
	backend  *sqlite.Backend
	consent  *consent.Store
	settings *settings.Resolver
	index    *index.Index
	embedder *switchEmbedder
	learner  *Learner
}

func setup(t *testing.T) *fixture {
	t.Helper()
	b := sqlite.NewBackend()
	config := types.DefaultConfig()
	config.DataDir = t.TempDir()
	require.NoError(t, b.Attach(config))
	t.Cleanup(func() { b.Detach() })

	logs := logging.Discard()
	idx := index.New(dims)
	f := &fixture{
		backend:  b,
		consent:  consent.New(b, idx, logs.ForComponent("consent"), nil),
		settings: settings.NewResolver(b, settings.Defaults()),
		index:    idx,
		embedder: &switchEmbedder{Hash: embedding.NewHash(dims)},
	}
	gate := &Gate{
		Normalizer: Normalizer{AgentID: "bot", AgentName: "quotebot", Prefixes: []string{"/", "!"}},
		Consent:    f.consent,
		Settings:   f.settings,
		Window:     5 * time.Minute,
	}
	f.learner = NewLearner(gate, NewHistory(16), b, idx, f.embedder, "bot", logs.ForComponent("learn"), nil)
	t.Cleanup(f.learner.Wait)
	return f
}

func (f *fixture) consentTo(t *testing.T, author string, level types.ConsentLevel) {
	t.Helper()
	require.NoError(t, f.consent.Set(context.Background(), author, level))
}

func event(id, author, text string, at time.Duration) types.MessageEvent {
	return types.MessageEvent{
		ID:        id,
		Text:      text,
		AuthorID:  author,
		ChannelID: "general",
		ServerID:  "guild",
		CreatedAt: t0.Add(at),
	}
}

func TestNormalizer(t *testing.T) {
	n := Normalizer{AgentID: "42", AgentName: "quotebot", Prefixes: []string{"/", "!"}}
	tests := []struct {
		in      string
		want    string
		command bool
	}{
		{"  hello  ", "hello", false},
		{"<@42> hello", "hello", false},
		{"<@!42>, hello", "hello", false},
		{"@QuoteBot: hi there", "hi there", false},
		{"<@43> hello", "<@43> hello", false},
		{"<@42>", "", false},
		{"/consent", "/consent", true},
		{"!roll 2d6", "!roll 2d6", true},
		{"hello /there", "hello /there", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := n.Normalize(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.command, n.IsCommand(got))
		})
	}
}

func TestHistory(t *testing.T) {
	h := NewHistory(3)
	for i, author := range []string{"a", "b", "c", "d"} {
		h.Observe("ch", Observed{ID: author, AuthorID: author, Human: author != "c", At: t0.Add(time.Duration(i) * time.Minute)})
	}

	_, ok := h.Lookup("ch", "a")
	assert.False(t, ok, "oldest entry should be evicted")
	last, ok := h.Last("ch")
	require.True(t, ok)
	assert.Equal(t, "d", last.ID)

	assert.Equal(t, 2, h.Participants("ch", t0), "bots are not participants")
	assert.Equal(t, 1, h.Participants("ch", t0.Add(3*time.Minute)))

	h.Revise("ch", "c", "revised")
	c, ok := h.Lookup("ch", "c")
	require.True(t, ok)
	assert.Equal(t, "revised", c.Text)

	h.Remove("ch", "d", "missing")
	last, ok = h.Last("ch")
	require.True(t, ok)
	assert.Equal(t, "c", last.ID)

	h.Forget("ch")
	_, ok = h.Last("ch")
	assert.False(t, ok)
}

func TestLearner_Observe(t *testing.T) {
	tests := []struct {
		name   string
		prior  []types.MessageEvent
		own    bool // the agent sent the prior message
		ev     types.MessageEvent
		mutate func(t *testing.T, f *fixture)
		want   Reason
		anchor string
	}{
		{
			name: "first message has no anchor",
			ev:   event("m2", "bob", "fine thanks", 0),
			want: SkipNoAnchor,
		},
		{
			name:   "response to another human",
			prior:  []types.MessageEvent{event("m1", "alice", "how are you", 0)},
			ev:     event("m2", "bob", "fine thanks", time.Minute),
			want:   Learned,
			anchor: "m1",
		},
		{
			name:  "same author twice",
			prior: []types.MessageEvent{event("m1", "bob", "hello", 0)},
			ev:    event("m2", "bob", "anyone?", time.Minute),
			want:  SkipNoAnchor,
		},
		{
			name:  "outside the window",
			prior: []types.MessageEvent{event("m1", "alice", "how are you", 0)},
			ev:    event("m2", "bob", "fine thanks", 6*time.Minute),
			want:  SkipNoAnchor,
		},
		{
			name: "previous message from another bot",
			prior: []types.MessageEvent{func() types.MessageEvent {
				ev := event("m1", "otherbot", "beep", 0)
				ev.AuthorBot = true
				return ev
			}()},
			ev:   event("m2", "bob", "boop", time.Minute),
			want: SkipNoAnchor,
		},
		{
			name:   "previous message from the agent",
			own:    true,
			ev:     event("m2", "bob", "ha, good one", time.Minute),
			want:   Learned,
			anchor: "a1",
		},
		{
			name: "bot author",
			prior: []types.MessageEvent{event("m1", "alice", "how are you", 0)},
			ev: func() types.MessageEvent {
				ev := event("m2", "otherbot", "beep", time.Minute)
				ev.AuthorBot = true
				return ev
			}(),
			want: SkipBot,
		},
		{
			name:  "command",
			prior: []types.MessageEvent{event("m1", "alice", "how are you", 0)},
			ev:    event("m2", "bob", "/consent", time.Minute),
			want:  SkipCommand,
		},
		{
			name:  "empty after mention",
			prior: []types.MessageEvent{event("m1", "alice", "how are you", 0)},
			ev:    event("m2", "bob", "<@bot>", time.Minute),
			want:  SkipEmpty,
		},
		{
			name:  "author without consent",
			prior: []types.MessageEvent{event("m1", "alice", "how are you", 0)},
			ev:    event("m2", "carol", "fine thanks", time.Minute),
			want:  SkipConsent,
		},
		{
			name:  "anchor author without consent",
			prior: []types.MessageEvent{event("m1", "dave", "my bank pin is 4321", 0)},
			ev:    event("m2", "bob", "cool", time.Minute),
			want:  SkipAnchorConsent,
		},
		{
			name:  "anchor author denied",
			prior: []types.MessageEvent{event("m1", "alice", "how are you", 0)},
			ev:    event("m2", "bob", "fine thanks", time.Minute),
			mutate: func(t *testing.T, f *fixture) {
				f.consentTo(t, "alice", types.ConsentDenied)
			},
			want: SkipAnchorConsent,
		},
		{
			name:  "learning disabled in channel",
			prior: []types.MessageEvent{event("m1", "alice", "how are you", 0)},
			ev:    event("m2", "bob", "fine thanks", time.Minute),
			mutate: func(t *testing.T, f *fixture) {
				_, err := f.settings.Set(context.Background(), settings.Learning, types.ScopeChannel, "general", "false")
				require.NoError(t, err)
			},
			want: SkipDisabled,
		},
		{
			name: "explicit reply to an older message",
			prior: []types.MessageEvent{
				event("m1", "alice", "what's for lunch", 0),
				event("m2", "dave", "unrelated", time.Minute),
			},
			ev: func() types.MessageEvent {
				ev := event("m3", "bob", "pizza", 2*time.Minute)
				ev.ReplyToID = "m1"
				return ev
			}(),
			want:   Learned,
			anchor: "m1",
		},
		{
			name:  "explicit reply to an unknown message",
			prior: []types.MessageEvent{event("m1", "alice", "how are you", 0)},
			ev: func() types.MessageEvent {
				ev := event("m2", "bob", "fine thanks", time.Minute)
				ev.ReplyToID = "gone"
				return ev
			}(),
			want: SkipNoAnchor,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setup(t)
			ctx := context.Background()
			f.consentTo(t, "bob", types.ConsentPublic)
			f.consentTo(t, "alice", types.ConsentScoped)
			if tt.mutate != nil {
				tt.mutate(t, f)
			}
			if tt.own {
				f.learner.ObserveOwn("general", "a1", "why did the chicken cross the road", t0)
			}
			for _, ev := range tt.prior {
				_, err := f.learner.Observe(ctx, ev)
				require.NoError(t, err)
			}

			obs, err := f.learner.Observe(ctx, tt.ev)
			require.NoError(t, err)
			assert.Equal(t, tt.want, obs.Reason)

			_, err = f.backend.GetMessage(ctx, tt.ev.ID)
			if tt.want != Learned {
				assert.ErrorIs(t, err, types.ErrNotFound)
				assert.Nil(t, obs.Message)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, obs.Anchor)
			assert.Equal(t, tt.anchor, obs.Anchor.ID)
			assert.Equal(t, tt.anchor, obs.Message.AnchorID)
			assert.Equal(t, obs.Anchor.Text, obs.Message.ContextText)

			f.learner.Wait()
			stored, err := f.backend.GetMessage(ctx, tt.ev.ID)
			require.NoError(t, err)
			require.True(t, stored.Indexed())
			assert.True(t, f.index.Contains(*stored.IndexID))
		})
	}
}

func TestLearner_ObserveDuplicate(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.consentTo(t, "bob", types.ConsentPublic)
	f.consentTo(t, "alice", types.ConsentScoped)

	_, err := f.learner.Observe(ctx, event("m1", "alice", "how are you", 0))
	require.NoError(t, err)
	reply := event("m2", "bob", "fine thanks", time.Minute)
	obs, err := f.learner.Observe(ctx, reply)
	require.NoError(t, err)
	require.Equal(t, Learned, obs.Reason)

	f.learner.History().Observe("general", Observed{ID: "m1", AuthorID: "alice", Human: true, Text: "how are you", At: t0})
	obs, err = f.learner.Observe(ctx, reply)
	require.NoError(t, err)
	assert.Equal(t, SkipDuplicate, obs.Reason)
}

func TestLearner_ObserveReaction(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.consentTo(t, "bob", types.ConsentPublic)
	f.consentTo(t, "alice", types.ConsentScoped)

	_, err := f.learner.Observe(ctx, event("m1", "alice", "how are you", 0))
	require.NoError(t, err)
	obs, err := f.learner.Observe(ctx, event("m2", "bob", "fine thanks", time.Minute))
	require.NoError(t, err)
	require.Equal(t, Learned, obs.Reason)

	react := func(message, reactor string, bot bool) types.ReactionEvent {
		return types.ReactionEvent{
			MessageID: message, ChannelID: "general", ServerID: "guild",
			Symbol: "👍", ReactorID: reactor, ReactorBot: bot, CreatedAt: t0.Add(2 * time.Minute),
		}
	}
	tests := []struct {
		name string
		ev   types.ReactionEvent
		want Reason
	}{
		{"author reacting to own message", react("m2", "bob", false), SkipOwnMessage},
		{"bot reactor", react("m2", "otherbot", true), SkipBot},
		{"unlearned message", react("m1", "bob", false), SkipUnknown},
		{"reactor without consent", react("m2", "carol", false), SkipConsent},
		{"human reactor", react("m2", "alice", false), Learned},
		{"same reaction again", react("m2", "alice", false), SkipDuplicate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.learner.ObserveReaction(ctx, tt.ev)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	m, err := f.backend.GetMessage(ctx, "m2")
	require.NoError(t, err)
	require.Len(t, m.Reactions, 1)
	assert.Equal(t, "alice", m.Reactions[0].ReactorID)
}

func TestIndexMessage_DeletedMessage(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	gone := &types.Message{ID: "gone", Text: "hello", ContextText: "hi", AuthorID: "bob", ChannelID: "general"}
	id, err := IndexMessage(ctx, f.backend, f.index, f.embedder, gone)
	require.NoError(t, err)
	assert.Zero(t, id)
	assert.Zero(t, f.index.Len(), "vector must not outlive its message")
}

func TestConverger_EmbedsDeferredMessages(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.consentTo(t, "bob", types.ConsentPublic)
	f.consentTo(t, "alice", types.ConsentScoped)
	f.embedder.broken.Store(true)

	_, err := f.learner.Observe(ctx, event("m1", "alice", "how are you", 0))
	require.NoError(t, err)
	obs, err := f.learner.Observe(ctx, event("m2", "bob", "fine thanks", time.Minute))
	require.NoError(t, err)
	require.Equal(t, Learned, obs.Reason)
	f.learner.Wait()

	m, err := f.backend.GetMessage(ctx, "m2")
	require.NoError(t, err)
	assert.False(t, m.Indexed(), "failed embedding leaves the message unindexed")

	c := NewConverger(f.backend, f.consent, f.index, f.embedder, types.ConvergeConfig{Interval: time.Minute, BatchSize: 10},
		logging.Discard().ForComponent("converge"), nil)
	rep, err := c.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Failed)

	f.embedder.broken.Store(false)
	rep, err = c.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, Report{Embedded: 1}, rep)

	m, err = f.backend.GetMessage(ctx, "m2")
	require.NoError(t, err)
	require.True(t, m.Indexed())
	assert.True(t, f.index.Contains(*m.IndexID))
}

func TestConverger_Reconcile(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	c := NewConverger(f.backend, f.consent, f.index, f.embedder, types.ConvergeConfig{Interval: time.Minute, BatchSize: 10},
		logging.Discard().ForComponent("converge"), nil)

	vec := make([]float32, dims)
	vec[0] = 1
	orphan, err := f.index.Insert(ctx, vec)
	require.NoError(t, err)

	require.NoError(t, f.backend.RecordMessage(ctx, &types.Message{
		ID: "m1", Text: "fine thanks", ContextText: "how are you", AuthorID: "bob", ChannelID: "general", CreatedAt: t0,
	}))
	require.NoError(t, f.backend.SetIndexID(ctx, "m1", 999))

	require.NoError(t, c.Reconcile(ctx))
	repairs, err := f.backend.Repairs(ctx, 0)
	require.NoError(t, err)
	require.Len(t, repairs, 2)

	rep, err := c.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Repaired)
	assert.Equal(t, 1, rep.Embedded)

	assert.False(t, f.index.Contains(orphan))
	m, err := f.backend.GetMessage(ctx, "m1")
	require.NoError(t, err)
	require.True(t, m.Indexed())
	assert.NotEqual(t, int64(999), *m.IndexID)
	assert.True(t, f.index.Contains(*m.IndexID))

	repairs, err = f.backend.Repairs(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, repairs)
}

func TestConverger_RunStopsOnCancel(t *testing.T) {
	f := setup(t)
	c := NewConverger(f.backend, f.consent, f.index, f.embedder, types.ConvergeConfig{Interval: time.Millisecond, BatchSize: 10},
		logging.Discard().ForComponent("converge"), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestLearner_WithdrawnAnchorAuthorLeavesNoContext(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.consentTo(t, "bob", types.ConsentPublic)
	f.consentTo(t, "alice", types.ConsentScoped)

	_, err := f.learner.Observe(ctx, event("m1", "alice", "my bank pin is 4321", 0))
	require.NoError(t, err)
	obs, err := f.learner.Observe(ctx, event("m2", "bob", "cool", time.Minute))
	require.NoError(t, err)
	require.Equal(t, Learned, obs.Reason)
	f.learner.Wait()
	require.Equal(t, 1, f.index.Len())

	f.consentTo(t, "alice", types.ConsentDenied)

	_, err = f.backend.GetMessage(ctx, "m2")
	assert.ErrorIs(t, err, types.ErrNotFound, "bob's reply carried alice's text as context")
	assert.Zero(t, f.index.Len())
}

// learnThread stores a three-message thread: m1 by alice (no anchor, not
// learned), m2 by bob anchored on m1, and m3 by alice anchored on m2.
func (f *fixture) learnThread(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	f.consentTo(t, "alice", types.ConsentPublic)
	f.consentTo(t, "bob", types.ConsentPublic)
	for i, ev := range []types.MessageEvent{
		event("m1", "alice", "what a storm", 0),
		event("m2", "bob", "rainy days", time.Minute),
		event("m3", "alice", "they never end", 2*time.Minute),
	} {
		obs, err := f.learner.Observe(ctx, ev)
		require.NoError(t, err)
		if i > 0 {
			require.Equal(t, Learned, obs.Reason, ev.ID)
		}
	}
	f.learner.Wait()
	require.Equal(t, 2, f.index.Len())
}

func edit(id, author, text string) types.MessageEditEvent {
	return types.MessageEditEvent{
		ID: id, ChannelID: "general", ServerID: "guild", AuthorID: author, Text: text, EditedAt: t0.Add(time.Hour),
	}
}

func TestLearner_ObserveEdit(t *testing.T) {
	tests := []struct {
		name       string
		edit       types.MessageEditEvent
		wantReason Reason
		gone       []string
		check      func(t *testing.T, f *fixture)
	}{
		{
			name:       "unlearned anchor revises reply context",
			edit:       edit("m1", "alice", "what a sunny day"),
			wantReason: Learned,
			check: func(t *testing.T, f *fixture) {
				m2, err := f.backend.GetMessage(context.Background(), "m2")
				require.NoError(t, err)
				assert.Equal(t, "what a sunny day", m2.ContextText)
				assert.Nil(t, m2.IndexID, "queued for re-embedding")
				o, ok := f.learner.History().Lookup("general", "m1")
				require.True(t, ok)
				assert.Equal(t, "what a sunny day", o.Text)
			},
		},
		{
			name:       "learned message keeps its vector",
			edit:       edit("m2", "bob", "rainy weeks"),
			wantReason: Learned,
			check: func(t *testing.T, f *fixture) {
				m2, err := f.backend.GetMessage(context.Background(), "m2")
				require.NoError(t, err)
				assert.Equal(t, "rainy weeks", m2.Text)
				assert.NotNil(t, m2.IndexID)
				m3, err := f.backend.GetMessage(context.Background(), "m3")
				require.NoError(t, err)
				assert.Equal(t, "rainy weeks", m3.ContextText)
				assert.Nil(t, m3.IndexID)
			},
		},
		{
			name:       "edited into a command is dropped",
			edit:       edit("m2", "bob", "/roll 2d6"),
			wantReason: SkipCommand,
			gone:       []string{"m2", "m3"},
		},
		{
			name:       "edited to nothing is dropped",
			edit:       edit("m2", "bob", "<@bot>"),
			wantReason: SkipEmpty,
			gone:       []string{"m2", "m3"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setup(t)
			ctx := context.Background()
			f.learnThread(t)

			reason, err := f.learner.ObserveEdit(ctx, tt.edit)
			require.NoError(t, err)
			assert.Equal(t, tt.wantReason, reason)
			for _, id := range tt.gone {
				_, err := f.backend.GetMessage(ctx, id)
				assert.ErrorIs(t, err, types.ErrNotFound, id)
			}
			if tt.check != nil {
				tt.check(t, f)
			}
		})
	}
}

func TestLearner_EditedContextIsReembedded(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.learnThread(t)

	_, err := f.learner.ObserveEdit(ctx, edit("m1", "alice", "what a sunny day"))
	require.NoError(t, err)
	n, err := f.consent.Converge(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "old context vector removed")

	conv := NewConverger(f.backend, f.consent, f.index, f.embedder, types.ConvergeConfig{Interval: time.Minute, BatchSize: 10},
		logging.Discard().ForComponent("converge"), nil)
	_, err = conv.RunOnce(ctx)
	require.NoError(t, err)

	m2, err := f.backend.GetMessage(ctx, "m2")
	require.NoError(t, err)
	require.NotNil(t, m2.IndexID)
	want, err := f.embedder.Embed(ctx, "what a sunny day")
	require.NoError(t, err)
	hits, err := f.index.Query(ctx, want, 1, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, *m2.IndexID, hits[0].ID)
}

func TestLearner_ObserveDelete(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.learnThread(t)

	n, err := f.learner.ObserveDelete(ctx, types.MessageDeleteEvent{ChannelID: "general", IDs: []string{"m2"}})
	require.NoError(t, err)
	assert.Equal(t, 2, n, "the reply anchored on m2 goes with it")

	for _, id := range []string{"m2", "m3"} {
		_, err := f.backend.GetMessage(ctx, id)
		assert.ErrorIs(t, err, types.ErrNotFound, id)
	}
	_, ok := f.learner.History().Lookup("general", "m2")
	assert.False(t, ok)

	removed, err := f.consent.Converge(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.Zero(t, f.index.Len())

	n, err = f.learner.ObserveDelete(ctx, types.MessageDeleteEvent{ChannelID: "general"})
	require.NoError(t, err)
	assert.Zero(t, n)
}
