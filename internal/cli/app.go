package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/makobot/mako/internal/affinity"
	"github.com/makobot/mako/internal/agent"
	"github.com/makobot/mako/internal/budget"
	"github.com/makobot/mako/internal/config"
	"github.com/makobot/mako/internal/dispatch"
	"github.com/makobot/mako/internal/kv"
	"github.com/makobot/mako/internal/memory"
	"github.com/makobot/mako/internal/notes"
	"github.com/makobot/mako/internal/policy"
	"github.com/makobot/mako/internal/precipitate"
	"github.com/makobot/mako/internal/provider"
	"github.com/makobot/mako/internal/recall"
	"github.com/makobot/mako/internal/relationship"
	"github.com/makobot/mako/internal/session"
	"github.com/makobot/mako/internal/timeline"
	"github.com/makobot/mako/internal/tools"
)

// app holds the wired engine for one command invocation.
type app struct {
	cfg        *config.Config
	store      kv.Store
	timeline   *timeline.Service
	http       *tools.HTTPClient
	blacklist  *policy.Blacklist
	ledger     *budget.Ledger
	memories   *memory.Store
	profiles   *relationship.Service
	dispatcher *dispatch.Dispatcher
	handler    *agent.Handler
	// precipitator is nil without a chat provider.
	precipitator *precipitate.Job
}

// newApp opens storage and wires every component. The OpenAI provider is
// only created when an API key is configured; without it the model-backed
// tools report "not configured" and recall falls back to keyword search.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	s := cfg.Storage
	store, err := kv.Open(ctx, kv.Options{
		Backend:  s.Backend,
		Addr:     s.RedisAddr,
		URL:      s.RedisURL,
		Password: s.RedisPassword,
		DB:       s.RedisDB,
	})
	if err != nil {
		return nil, fmt.Errorf("open kv store: %w", err)
	}
	tl, err := timeline.Open(s.SQLitePath)
	if err != nil {
		store.Close()
		return nil, err
	}

	var prov *provider.OpenAIProvider
	if cfg.Providers.OpenAI.APIKey != "" {
		prov = provider.NewOpenAIProvider(cfg.Providers.OpenAI)
	} else {
		slog.Info("OpenAI API key not set, model-backed features disabled")
	}

	var embedder recall.Embedder
	if prov != nil {
		embedder = prov
	}
	recallStore := recall.NewStore(tl.DB(), embedder)
	noteSvc := notes.NewService(tl.DB(), recallStore)
	affinitySvc := affinity.NewService(store, affinity.Config{
		Min:      cfg.Affinity.Min,
		Max:      cfg.Affinity.Max,
		Initial:  cfg.Affinity.Initial,
		DailyCap: cfg.Affinity.DailyCap,
	})

	hc := tools.NewHTTPClient(cfg.Tools.Timeout(), cfg.Tools.HTTPRateLimit)
	deps := tools.Deps{HTTP: hc, Affinity: affinitySvc, Notes: noteSvc}
	if prov != nil {
		deps.Describer = prov
		deps.Generator = prov
		deps.Translator = prov
		deps.Speaker = prov
		deps.Transcriber = prov
		deps.Summarizer = prov
	}
	registry := tools.NewDefaultRegistry(cfg, deps)

	blacklist := policy.NewBlacklist(store, cfg.Access.BlacklistUsers, cfg.Access.BlacklistGroups)
	engine := policy.NewDefaultEngine(cfg.Access, blacklist)
	ledger := budget.NewLedger(store, cfg.Cost)
	dispatcher := dispatch.New(registry, engine, ledger, dispatch.OptionsFromConfig(cfg.Tools))
	dispatcher.SetRecorder(tl)

	memories := memory.NewStore(store)
	relationships := relationship.NewService(memories, store, recallStore, noteSvc, cfg.Proactive)

	var replier agent.Replier
	if prov != nil {
		replier = prov
	}
	handler := agent.NewHandler(agent.Deps{
		Gate:          engine,
		Dispatcher:    dispatcher,
		Budget:        ledger,
		Relationships: relationships,
		Affinity:      affinitySvc,
		Recall:        recallStore,
		Replier:       replier,
		Sessions:      session.NewManager(store, cfg.Chat.MaxHistoryTurns),
		Feed:          tl,
	}, cfg.Chat, cfg.Recall)

	var job *precipitate.Job
	if prov != nil {
		job = precipitate.New(cfg.Precipitation, tl, prov, recallStore, relationships)
	}

	return &app{
		cfg:          cfg,
		store:        store,
		timeline:     tl,
		http:         hc,
		blacklist:    blacklist,
		ledger:       ledger,
		memories:     memories,
		profiles:     relationships,
		dispatcher:   dispatcher,
		handler:      handler,
		precipitator: job,
	}, nil
}

// Close releases storage handles.
func (a *app) Close() error {
	a.http.CloseIdle()
	return errors.Join(a.timeline.Close(), a.store.Close())
}

// withApp loads the configuration, wires the app and runs fn.
func withApp(ctx context.Context, fn func(a *app) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			slog.Warn("Failed to close storage", "error", err)
		}
	}()
	return fn(a)
}
