package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/sawpanic/niftyrun/internal/audit"
	"github.com/sawpanic/niftyrun/internal/cache"
	"github.com/sawpanic/niftyrun/internal/config"
	"github.com/sawpanic/niftyrun/internal/decision"
	"github.com/sawpanic/niftyrun/internal/domain"
	"github.com/sawpanic/niftyrun/internal/domain/guards"
	"github.com/sawpanic/niftyrun/internal/domain/signals"
	"github.com/sawpanic/niftyrun/internal/infrastructure/db"
	"github.com/sawpanic/niftyrun/internal/instruments"
	httpapi "github.com/sawpanic/niftyrun/internal/interfaces/http"
	"github.com/sawpanic/niftyrun/internal/marketdata"
	"github.com/sawpanic/niftyrun/internal/persistence"
	"github.com/sawpanic/niftyrun/internal/pipeline"
	"github.com/sawpanic/niftyrun/internal/riskstate"
	"github.com/sawpanic/niftyrun/internal/stream"
)

// app holds every component wired from the configuration
type app struct {
	cfg       config.Config
	store     *riskstate.Store
	publisher *riskstate.Publisher
	bus       *stream.MemoryBus
	metrics   *httpapi.MetricsRegistry
	db        *db.Manager
	events    *audit.EventRecorder
	emitter   *audit.Emitter
	snapshots *marketdata.SnapshotBuilder
	pipeline  *pipeline.Pipeline

	closers []func() error
}

type appOptions struct {
	backtest bool
}

// newApp wires the pipeline, its sinks and the shared risk state. The caller
// must Close the app.
func newApp(ctx context.Context, cfg config.Config, opts appOptions) (*app, error) {
	a := &app{cfg: cfg, metrics: httpapi.NewMetricsRegistry()}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	if overrides := cfg.LotSizeOverrides(); len(overrides) > 0 {
		if err := instruments.OverrideLotSizes(overrides); err != nil {
			return nil, fmt.Errorf("instruments: %w", err)
		}
	}

	manager, err := db.NewManager(cfg.Database)
	if err != nil {
		return nil, err
	}
	a.db = manager
	a.closers = append(a.closers, manager.Close)

	logSink := audit.NewLogSink(log.Logger)
	sinks := []audit.Sink{logSink}

	var file *audit.FileSink
	if cfg.Audit.JSONLPath != "" {
		file, err = audit.NewFileSink(cfg.Audit.JSONLPath)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, file.Close)
		sinks = append(sinks, file)
	}

	var eventRepo persistence.EventRepo
	if manager.IsEnabled() {
		repos := manager.Repository()
		sinks = append(sinks, audit.NewRepoSink(repos.Audit))
		eventRepo = repos.Events
	}
	a.events = audit.NewEventRecorder(logSink, file, eventRepo)
	a.emitter = audit.NewEmitter(sinks...)
	log.Info().Strs("sinks", a.emitter.Sinks()).Msg("audit sinks configured")

	a.store = riskstate.NewStore(domain.RiskState{})
	var mirror riskstate.Mirror
	if cfg.Redis.Addr != "" {
		rm, err := riskstate.NewRedisMirror(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.RiskStateKey)
		if err != nil {
			log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("risk state mirror unavailable, continuing in memory")
		} else {
			mirror = rm
			a.closers = append(a.closers, rm.Close)
		}
	}
	a.publisher = riskstate.NewPublisher(a.store, mirror)
	a.publisher.OnPublish(a.metrics.ObserveRiskState)
	if _, err := a.publisher.Restore(ctx); err != nil {
		log.Warn().Err(err).Msg("risk state restore failed")
	}
	a.metrics.ObserveRiskState(a.store.Current())

	a.bus = stream.NewMemoryBus(256, a.metrics.StreamCallback())
	if err := a.bus.Start(ctx); err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() error { return a.bus.Stop(context.Background()) })

	chainCache := a.metrics.InstrumentCache(cache.NewAuto(cfg.Redis.Addr, cfg.Redis.DB), "option_chain")
	chain, err := marketdata.NewOptionChainProvider(cfg.OptionChain.Source, cfg.OptionChainHTTP(), chainCache)
	if err != nil {
		return nil, err
	}
	a.snapshots, err = marketdata.NewSnapshotBuilder(cfg.Feed.Levels, chain, marketdata.NeutralBreadth{})
	if err != nil {
		return nil, err
	}

	guardChain, err := guards.NewChain(cfg.GuardConfig())
	if err != nil {
		return nil, fmt.Errorf("guards: %w", err)
	}
	registry, err := signals.NewRegistryFromConfig(cfg.Signals)
	if err != nil {
		return nil, fmt.Errorf("signals: %w", err)
	}
	policy := cfg.DecisionPolicy()
	policy.Backtest = opts.backtest
	assembler, err := decision.NewAssembler(policy)
	if err != nil {
		return nil, fmt.Errorf("decision policy: %w", err)
	}

	a.pipeline, err = pipeline.New(pipeline.Options{
		Guards:    guardChain,
		Registry:  registry,
		Assembler: assembler,
		Emitter:   a.emitter,
		Risk:      a.store,
		Sizing: pipeline.Sizing{
			Capital:         decimal.NewFromFloat(cfg.Risk.Capital),
			PerTradeRiskPct: decimal.NewFromFloat(cfg.Risk.PerTradeRiskPct),
			PointValue:      decimal.NewFromFloat(cfg.Policy.PointValue),
			Stop:            cfg.Policy.Stop,
		},
		Handler:  pipeline.PublishDecisions(a.bus),
		Observer: a.metrics,
	})
	if err != nil {
		return nil, err
	}

	ok = true
	return a, nil
}

// feed opens the configured tick source
func (a *app) feed() (marketdata.Feed, error) {
	switch a.cfg.Feed.Mode {
	case config.FeedWebSocket:
		return marketdata.NewWSFeed(a.cfg.Feed.WSURL, a.cfg.Universe.Indices, a.cfg.Feed.Interval)
	default:
		if len(a.cfg.Universe.Indices) > 1 {
			log.Warn().Strs("indices", a.cfg.Universe.Indices).Msg("heartbeat feed drives the first index only")
		}
		return marketdata.NewHeartbeatFeed(a.cfg.Universe.Indices[0], a.cfg.Feed.Interval), nil
	}
}

// server builds the monitor server; runner may be nil
func (a *app) server(runner httpapi.StatsSource) *httpapi.Server {
	deps := httpapi.HealthDeps{
		Risk:    a.store,
		Bus:     a.bus,
		Version: version,
	}
	if runner != nil {
		deps.Runner = runner
	}
	if a.db.IsEnabled() {
		deps.Database = a.db.Health()
	}

	sc := httpapi.DefaultServerConfig()
	sc.Host = a.cfg.HTTP.Host
	sc.Port = a.cfg.HTTP.Port
	return httpapi.NewServer(sc, a.metrics, deps)
}

// Close releases resources in reverse order of acquisition
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Warn().Err(err).Msg("close failed")
		}
	}
	a.closers = nil
}
