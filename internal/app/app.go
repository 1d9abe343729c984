// Package app assembles quotebot's components from a Config. Commands open
// an App, use the parts they need, and Close it.
package app

import (
	"context"
	"fmt"
	"math/rand"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mesh-intelligence/quotebot/internal/agent"
	"github.com/mesh-intelligence/quotebot/internal/consent"
	"github.com/mesh-intelligence/quotebot/internal/embedding"
	"github.com/mesh-intelligence/quotebot/internal/index"
	"github.com/mesh-intelligence/quotebot/internal/learn"
	"github.com/mesh-intelligence/quotebot/internal/logging"
	"github.com/mesh-intelligence/quotebot/internal/metrics"
	"github.com/mesh-intelligence/quotebot/internal/selector"
	"github.com/mesh-intelligence/quotebot/internal/settings"
	"github.com/mesh-intelligence/quotebot/internal/timing"
	"github.com/mesh-intelligence/quotebot/internal/visibility"
	"github.com/mesh-intelligence/quotebot/pkg/sqlite"
	"github.com/mesh-intelligence/quotebot/pkg/types"
)

// Channel worker tuning.
const (
	workerQueue = 64
	workerIdle  = 10 * time.Minute
)

// App holds the long-lived services.
type App struct {
	Config    types.Config
	Logs      *logging.Factory
	Metrics   *metrics.Metrics
	Store     types.Store
	Index     *index.Index
	Embedder  types.Embedder
	Consent   *consent.Store
	Settings  *settings.Resolver
	Converger *learn.Converger
}

// Open attaches the store, loads the index snapshot, and builds the
// services that need no chat platform.
func Open(cfg types.Config, logs *logging.Factory) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := metrics.New()

	store := sqlite.NewBackend()
	if err := store.Attach(cfg); err != nil {
		return nil, fmt.Errorf("attaching store: %w", err)
	}
	embedder, err := embedding.New(cfg.Embedding, logs.ForComponent("embedding"))
	if err != nil {
		store.Detach()
		return nil, err
	}
	idx, err := index.Open(filepath.Join(cfg.DataDir, index.SnapshotFile), embedder.Dimensions())
	if err != nil {
		store.Detach()
		return nil, fmt.Errorf("opening index: %w", err)
	}
	m.Gauge("index_vectors", "Vectors currently in the index.", func() float64 { return float64(idx.Len()) })

	cs := consent.New(store, idx, logs.ForComponent("consent"), m)
	a := &App{
		Config:   cfg,
		Logs:     logs,
		Metrics:  m,
		Store:    store,
		Index:    idx,
		Embedder: embedder,
		Consent:  cs,
		Settings: settings.NewResolver(store, settings.Defaults()),
	}
	a.Converger = learn.NewConverger(store, cs, idx, embedder, cfg.Converge, logs.ForComponent("converge"), m)
	return a, nil
}

// Agent builds an agent talking through transport, with membership answered
// by audience.
func (a *App) Agent(ctx context.Context, transport types.Transport, audience types.AudienceOracle) (*agent.Agent, error) {
	cfg := a.Config
	gate := &learn.Gate{
		Normalizer: learn.Normalizer{AgentID: cfg.Agent.ID, AgentName: cfg.Agent.Name, Prefixes: cfg.Agent.CommandPrefixes},
		Consent:    a.Consent,
		Settings:   a.Settings,
		Window:     cfg.Learn.AnchorWindow,
	}
	learner := learn.NewLearner(gate, learn.NewHistory(cfg.Learn.HistorySize), a.Store, a.Index, a.Embedder,
		cfg.Agent.ID, a.Logs.ForComponent("learn"), a.Metrics)

	oracle := visibility.New(a.Consent, audience, a.Logs.ForComponent("visibility"))
	sel, err := selector.New(a.Store, a.Index, a.Embedder, oracle, cfg.Selector, a.Logs.ForComponent("selector"), a.Metrics)
	if err != nil {
		return nil, err
	}
	policy, err := timing.NewPolicy(cfg.Timing, cfg.Agent.AlwaysRespond, rand.Float64)
	if err != nil {
		return nil, err
	}

	return agent.New(agent.Deps{
		Config:    cfg.Agent,
		Window:    cfg.Learn.AnchorWindow,
		Transport: transport,
		Store:     a.Store,
		Learner:   learner,
		Selector:  sel,
		Consent:   a.Consent,
		Settings:  a.Settings,
		Policy:    policy,
		Scheduler: timing.NewScheduler(ctx, workerQueue, workerIdle),
		Logger:    a.Logs.ForComponent("agent"),
		Metrics:   a.Metrics,
	}), nil
}

// Serve runs the agent with the converger and, if configured, the metrics
// endpoint. run drives the agent and returns when input ends; Serve then
// stops everything else.
func (a *App) Serve(ctx context.Context, transport types.Transport, audience types.AudienceOracle,
	run func(ctx context.Context, ag *agent.Agent) error) error {
	ag, err := a.Agent(ctx, transport, audience)
	if err != nil {
		return err
	}
	defer ag.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.Converger.Run(gctx) })
	if addr := a.Config.Metrics.Addr; addr != "" {
		g.Go(func() error { return a.Metrics.Serve(gctx, addr) })
	}
	g.Go(func() error {
		defer cancel()
		return run(gctx, ag)
	})
	return g.Wait()
}

// Close saves the index and detaches the store.
func (a *App) Close() error {
	saveErr := a.Index.Save()
	detachErr := a.Store.Detach()
	if saveErr != nil {
		return fmt.Errorf("saving index: %w", saveErr)
	}
	return detachErr
}
