package consent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/quotebot/internal/index"
	"github.com/mesh-intelligence/quotebot/internal/logging"
	"github.com/mesh-intelligence/quotebot/internal/retry"
	"github.com/mesh-intelligence/quotebot/internal/sqlite"
	"github.com/mesh-intelligence/quotebot/pkg/types"
)

// flakyIndex fails Remove while down is set.
type flakyIndex struct {
	*index.Index
	mu   sync.Mutex
	down bool
}

func (f *flakyIndex) Remove(ctx context.Context, id int64) error {
	f.mu.Lock()
	down := f.down
	f.mu.Unlock()
	if down {
		return errors.New("index unavailable")
	}
	return f.Index.Remove(ctx, id)
}

func (f *flakyIndex) setDown(down bool) {
	f.mu.Lock()
	f.down = down
	f.mu.Unlock()
}

// flakyBackend fails SetConsent a fixed number of times before passing
// through.
type flakyBackend struct {
	*sqlite.Backend
	mu       sync.Mutex
	failures int
	calls    int
}

func (f *flakyBackend) SetConsent(ctx context.Context, author string, level types.ConsentLevel) ([]int64, error) {
	f.mu.Lock()
	f.calls++
	fail := f.calls <= f.failures
	f.mu.Unlock()
	if fail {
		return nil, errors.New("database is locked")
	}
	return f.Backend.SetConsent(ctx, author, level)
}

type fixture struct {
	backend *sqlite.Backend
	index   *flakyIndex
	store   *Store
}

func setup(t *testing.T) *fixture {
	t.Helper()
	b := sqlite.NewBackend()
	config := types.DefaultConfig()
	config.DataDir = t.TempDir()
	require.NoError(t, b.Attach(config))
	t.Cleanup(func() { b.Detach() })

	idx := &flakyIndex{Index: index.New(2)}
	s := New(b, idx, logging.Discard().ForComponent("consent"), nil)
	s.policy = retry.Policy{Initial: time.Millisecond, Max: time.Millisecond, MaxAttempts: 2}
	return &fixture{backend: b, index: idx, store: s}
}

// learn records a message by author and gives it a vector.
func (f *fixture) learn(t *testing.T, id, author string) int64 {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.backend.RecordMessage(ctx, &types.Message{
		ID: id, Text: "text " + id, AuthorID: author, ChannelID: "general", CreatedAt: time.Now(),
	}))
	vecID, err := f.index.Insert(ctx, []float32{1, 0})
	require.NoError(t, err)
	require.NoError(t, f.backend.SetIndexID(ctx, id, vecID))
	return vecID
}

func TestStore_SetAndGet(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	level, err := f.store.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, types.ConsentUnset, level)

	require.NoError(t, f.store.Set(ctx, "alice", types.ConsentScoped))
	level, err = f.store.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, types.ConsentScoped, level)

	err = f.store.Set(ctx, "alice", types.ConsentUnset)
	assert.ErrorIs(t, err, types.ErrInvalidConsent, "unset is reached through Clear")
	err = f.store.Set(ctx, "alice", types.ConsentLevel("loud"))
	assert.ErrorIs(t, err, types.ErrInvalidConsent)
}

func TestStore_WithdrawalRemovesMessagesAndVectors(t *testing.T) {
	tests := []struct {
		name     string
		withdraw func(s *Store, ctx context.Context) error
	}{
		{
			name:     "set denied",
			withdraw: func(s *Store, ctx context.Context) error { return s.Set(ctx, "alice", types.ConsentDenied) },
		},
		{
			name:     "clear",
			withdraw: func(s *Store, ctx context.Context) error { return s.Clear(ctx, "alice") },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setup(t)
			ctx := context.Background()
			require.NoError(t, f.store.Set(ctx, "alice", types.ConsentPublic))
			a1 := f.learn(t, "a1", "alice")
			a2 := f.learn(t, "a2", "alice")
			b1 := f.learn(t, "b1", "bob")

			require.NoError(t, tt.withdraw(f.store, ctx))

			_, err := f.backend.GetMessage(ctx, "a1")
			assert.ErrorIs(t, err, types.ErrNotFound)
			_, err = f.backend.GetMessage(ctx, "a2")
			assert.ErrorIs(t, err, types.ErrNotFound)
			assert.False(t, f.index.Contains(a1))
			assert.False(t, f.index.Contains(a2))
			assert.True(t, f.index.Contains(b1), "other authors keep their vectors")

			pending, err := f.backend.PendingRemovals(ctx, 0)
			require.NoError(t, err)
			assert.Empty(t, pending)
		})
	}
}

func TestStore_FailedRemovalConverges(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	require.NoError(t, f.store.Set(ctx, "alice", types.ConsentScoped))
	a1 := f.learn(t, "a1", "alice")

	f.index.setDown(true)
	require.NoError(t, f.store.Set(ctx, "alice", types.ConsentDenied), "store commit succeeds even if the index lags")

	_, err := f.backend.GetMessage(ctx, "a1")
	assert.ErrorIs(t, err, types.ErrNotFound, "message is gone so selection cannot resolve the vector")
	assert.True(t, f.index.Contains(a1))
	pending, err := f.backend.PendingRemovals(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []int64{a1}, pending)

	n, err := f.store.Converge(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "still down")

	f.index.setDown(false)
	n, err = f.store.Converge(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.False(t, f.index.Contains(a1))
	pending, err = f.backend.PendingRemovals(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestStore_ConcurrentDenyIsIdempotent(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	require.NoError(t, f.store.Set(ctx, "alice", types.ConsentPublic))
	id := f.learn(t, "a1", "alice")

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, f.store.Set(ctx, "alice", types.ConsentDenied))
		}()
	}
	wg.Wait()

	level, err := f.store.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, types.ConsentDenied, level)
	assert.False(t, f.index.Contains(id))
}

func TestStore_ShouldIntroduce(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	first, err := f.store.ShouldIntroduce(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, first)

	again, err := f.store.ShouldIntroduce(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, again, "prompted once")

	require.NoError(t, f.store.Set(ctx, "bob", types.ConsentScoped))
	chosen, err := f.store.ShouldIntroduce(ctx, "bob")
	require.NoError(t, err)
	assert.False(t, chosen, "authors who chose are never prompted")

	counts, err := f.store.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[types.ConsentScoped])
}

func TestStore_WithdrawalRetriesPastPolicy(t *testing.T) {
	tests := []struct {
		name     string
		level    types.ConsentLevel
		failures int
		wantErr  bool
		wantGone bool
	}{
		{name: "deny outlasts attempt limit", level: types.ConsentDenied, failures: 6, wantGone: true},
		{name: "scoped gives up at attempt limit", level: types.ConsentScoped, failures: 6, wantErr: true},
		{name: "scoped recovers within limit", level: types.ConsentScoped, failures: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setup(t)
			ctx := context.Background()
			require.NoError(t, f.store.Set(ctx, "alice", types.ConsentPublic))
			a1 := f.learn(t, "a1", "alice")

			flaky := &flakyBackend{Backend: f.backend, failures: tt.failures}
			s := New(flaky, f.index, logging.Discard().ForComponent("consent"), nil)
			s.policy = f.store.policy

			err := s.Set(ctx, "alice", tt.level)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.failures+1, flaky.calls)

			_, err = f.backend.GetMessage(ctx, "a1")
			if tt.wantGone {
				assert.ErrorIs(t, err, types.ErrNotFound)
				assert.False(t, f.index.Contains(a1))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
