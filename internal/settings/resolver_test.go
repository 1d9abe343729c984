package settings

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/quotebot/internal/sqlite"
	"github.com/mesh-intelligence/quotebot/pkg/types"
)

func setupResolver(t *testing.T) *Resolver {
	t.Helper()
	b := sqlite.NewBackend()
	config := types.DefaultConfig()
	config.DataDir = t.TempDir()
	require.NoError(t, b.Attach(config))
	t.Cleanup(func() { b.Detach() })
	return NewResolver(b, Defaults())
}

func TestEffective_OverrideChainScoping(t *testing.T) {
	r := setupResolver(t)
	ctx := context.Background()

	_, err := r.Set(ctx, ReplyMode, types.ScopeServer, "guild", "ambient")
	require.NoError(t, err)

	general := types.Context{User: "alice", Channel: "general", Server: "guild"}
	random := types.Context{User: "alice", Channel: "random", Server: "guild"}
	serverOnly := types.Context{Server: "guild"}

	for _, c := range []types.Context{general, random, serverOnly, {Channel: "general", Server: "guild"}} {
		res, err := r.Effective(ctx, ReplyMode, c)
		require.NoError(t, err)
		assert.Equal(t, ModeAmbient, res.Value, "server value reaches %+v", c)
	}

	_, err = r.Set(ctx, ReplyMode, types.ScopeChannel, "general", "delayed")
	require.NoError(t, err)

	res, err := r.Effective(ctx, ReplyMode, general)
	require.NoError(t, err)
	assert.Equal(t, ModeDelayed, res.Value, "channel override wins in its channel")

	res, err = r.Effective(ctx, ReplyMode, random)
	require.NoError(t, err)
	assert.Equal(t, ModeAmbient, res.Value, "other channels keep the server value")

	_, err = r.Set(ctx, ReplyMode, types.ScopeUser, "alice", "ambient")
	require.NoError(t, err)
	res, err = r.Effective(ctx, ReplyMode, general)
	require.NoError(t, err)
	assert.Equal(t, ModeAmbient, res.Value, "user override is most specific")
}

func TestEffective_Trace(t *testing.T) {
	r := setupResolver(t)
	ctx := context.Background()
	_, err := r.Set(ctx, Learning, types.ScopeServer, "guild", "yes")
	require.NoError(t, err)
	_, err = r.Set(ctx, Learning, types.ScopeChannel, "general", "off")
	require.NoError(t, err)

	res, err := r.Effective(ctx, Learning, types.Context{User: "alice", Channel: "general", Server: "guild"})
	require.NoError(t, err)
	assert.Equal(t, False, res.Value)
	assert.False(t, res.FromDefault)

	want := []ScopeTrace{
		{Kind: types.ScopeUser, ID: "alice"},
		{Kind: types.ScopeChannel, ID: "general", Value: False, Set: true, Contributed: true},
		{Kind: types.ScopeServer, ID: "guild", Value: True, Set: true},
	}
	if diff := cmp.Diff(want, res.Scopes); diff != "" {
		t.Errorf("scopes mismatch (-want +got):\n%s", diff)
	}
	assert.Contains(t, res.Explanation, "learning = false (boolean-and)")
	assert.Contains(t, res.Explanation, "general: false  <- decides")
	assert.Contains(t, res.Explanation, "alice: not set")
}

func TestEffective_BooleanRules(t *testing.T) {
	tests := []struct {
		name    string
		setting string
		writes  []types.ScopedValue
		want    string
		dflt    bool
	}{
		{name: "and defaults to true", setting: Learning, want: True, dflt: true},
		{name: "and absent scopes are identity", setting: Learning,
			writes: []types.ScopedValue{{Kind: types.ScopeUser, ScopeID: "alice", Value: "true"}}, want: True},
		{name: "and any false denies", setting: Learning,
			writes: []types.ScopedValue{
				{Kind: types.ScopeUser, ScopeID: "alice", Value: "true"},
				{Kind: types.ScopeServer, ScopeID: "guild", Value: "false"},
			}, want: False},
		{name: "or defaults to false", setting: Introductions, want: False, dflt: true},
		{name: "or any true enables", setting: Introductions,
			writes: []types.ScopedValue{
				{Kind: types.ScopeChannel, ScopeID: "general", Value: "false"},
				{Kind: types.ScopeServer, ScopeID: "guild", Value: "true"},
			}, want: True},
		{name: "or all false stays false", setting: Introductions,
			writes: []types.ScopedValue{{Kind: types.ScopeUser, ScopeID: "alice", Value: "false"}}, want: False},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := setupResolver(t)
			ctx := context.Background()
			for _, w := range tt.writes {
				_, err := r.Set(ctx, tt.setting, w.Kind, w.ScopeID, w.Value)
				require.NoError(t, err)
			}
			res, err := r.Effective(ctx, tt.setting, types.Context{User: "alice", Channel: "general", Server: "guild"})
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Value)
			assert.Equal(t, tt.dflt, res.FromDefault)
		})
	}
}

func TestEffective_DirectMessageHasNoServer(t *testing.T) {
	r := setupResolver(t)
	ctx := context.Background()
	_, err := r.Set(ctx, Learning, types.ScopeServer, "guild", "false")
	require.NoError(t, err)

	ok, err := r.Bool(ctx, Learning, types.Context{User: "alice", Channel: "dm-alice"})
	require.NoError(t, err)
	assert.True(t, ok, "server overrides do not reach DMs")

	res, err := r.Effective(ctx, Learning, types.Context{User: "alice", Channel: "dm-alice"})
	require.NoError(t, err)
	assert.Contains(t, res.Explanation, "n/a")
}

func TestSet_UserInputErrors(t *testing.T) {
	r := setupResolver(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		setting  string
		kind     types.ScopeKind
		id       string
		value    string
		wantErr  error
		wantText string
	}{
		{name: "unknown setting", setting: "volume", kind: types.ScopeUser, id: "a", value: "true",
			wantErr: types.ErrUnknownSetting, wantText: "introductions, learning, reactions, replies, reply_mode"},
		{name: "bad bool", setting: Learning, kind: types.ScopeUser, id: "a", value: "maybe",
			wantErr: types.ErrInvalidValue, wantText: "true, false"},
		{name: "bad enum", setting: ReplyMode, kind: types.ScopeUser, id: "a", value: "eager",
			wantErr: types.ErrInvalidValue, wantText: "delayed, ambient"},
		{name: "bad scope", setting: Learning, kind: types.ScopeKind("guild"), id: "a", value: "true",
			wantErr: types.ErrInvalidScope, wantText: "user, channel, server"},
		{name: "missing scope id", setting: Learning, kind: types.ScopeUser, id: "", value: "true",
			wantErr: types.ErrInvalidScope},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Set(ctx, tt.setting, tt.kind, tt.id, tt.value)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Contains(t, err.Error(), tt.wantText)
		})
	}
}

func TestUnset(t *testing.T) {
	r := setupResolver(t)
	ctx := context.Background()
	c := types.Context{User: "alice", Channel: "general", Server: "guild"}

	_, err := r.Set(ctx, Reactions, types.ScopeUser, "alice", "off")
	require.NoError(t, err)
	ok, err := r.Bool(ctx, Reactions, c)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, r.Unset(ctx, Reactions, types.ScopeUser, "alice"))
	ok, err = r.Bool(ctx, Reactions, c)
	require.NoError(t, err)
	assert.True(t, ok)

	assert.ErrorIs(t, r.Unset(ctx, "volume", types.ScopeUser, "alice"), types.ErrUnknownSetting)
}

func TestCombiners(t *testing.T) {
	v := func(kind types.ScopeKind, value string) types.ScopedValue {
		return types.ScopedValue{Kind: kind, ScopeID: string(kind), Value: value}
	}
	tests := []struct {
		name     string
		rule     Combiner
		values   []types.ScopedValue
		want     string
		wantFrom []types.ScopeKind
		wantOK   bool
	}{
		{name: "chain empty", rule: OverrideChain{}, wantOK: false},
		{name: "chain first wins", rule: OverrideChain{},
			values: []types.ScopedValue{v(types.ScopeChannel, "a"), v(types.ScopeServer, "b")},
			want:   "a", wantFrom: []types.ScopeKind{types.ScopeChannel}, wantOK: true},
		{name: "and names deniers", rule: BooleanAnd{},
			values: []types.ScopedValue{v(types.ScopeUser, False), v(types.ScopeChannel, True), v(types.ScopeServer, False)},
			want:   False, wantFrom: []types.ScopeKind{types.ScopeUser, types.ScopeServer}, wantOK: true},
		{name: "and all allow", rule: BooleanAnd{},
			values: []types.ScopedValue{v(types.ScopeUser, True), v(types.ScopeServer, True)},
			want:   True, wantFrom: []types.ScopeKind{types.ScopeUser, types.ScopeServer}, wantOK: true},
		{name: "or names enablers", rule: BooleanOr{},
			values: []types.ScopedValue{v(types.ScopeUser, False), v(types.ScopeChannel, True)},
			want:   True, wantFrom: []types.ScopeKind{types.ScopeChannel}, wantOK: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, from, ok := tt.rule.Combine(tt.values)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
			var kinds []types.ScopeKind
			for _, f := range from {
				kinds = append(kinds, f.Kind)
			}
			assert.Equal(t, tt.wantFrom, kinds)
		})
	}
}
