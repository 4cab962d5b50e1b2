package main

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/intelbrief/intelbrief/config"
	"github.com/intelbrief/intelbrief/internal/agent"
	"github.com/intelbrief/intelbrief/internal/dedup"
	"github.com/intelbrief/intelbrief/internal/pipeline"
	"github.com/intelbrief/intelbrief/internal/provider"
	"github.com/intelbrief/intelbrief/internal/scheduler"
	"github.com/intelbrief/intelbrief/internal/server"
	"github.com/intelbrief/intelbrief/internal/source"
	"github.com/intelbrief/intelbrief/internal/store"
	"github.com/intelbrief/intelbrief/internal/telemetry"
	"github.com/intelbrief/intelbrief/models"
)

// App holds the wired service graph shared by serve and the one-shot
// subcommands.
type App struct {
	Store        *store.Store
	Redis        *redis.Client
	Collector    *source.Collector
	Registry     *agent.Registry
	Ledger       *telemetry.Ledger
	Orchestrator *pipeline.Orchestrator
	Scheduler    *scheduler.Scheduler
	Server       *server.Server

	reportStop func()
}

func buildApp(ctx context.Context, cfg *config.Config, withScheduler bool) (*App, error) {
	dsn, err := cfg.Storage.Postgres.DSN()
	if err != nil {
		return nil, err
	}
	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		return nil, err
	}
	rdb := newRedis(ctx, cfg.Storage.Redis)

	gateOpts := []dedup.Option{}
	if rdb != nil {
		gateOpts = append(gateOpts, dedup.WithCache(rdb, cfg.Dedup.CacheTTL))
	}
	if min, ok, err := cfg.Dedup.MinimumDate(); err != nil {
		return nil, err
	} else if ok {
		gateOpts = append(gateOpts, dedup.WithMinimumDate(min))
	}
	gate := dedup.NewGate(st, nil, gateOpts...)

	collector := source.NewCollector(gate, st, nil)
	for _, sc := range cfg.Sources {
		adapter, err := newAdapter(sc, cfg.General.DefaultTimeout)
		if err != nil {
			return nil, err
		}
		if err := st.UpsertSource(ctx, sc.ID, sc.Name, models.Category(sc.Category)); err != nil {
			return nil, err
		}
		collector.Register(adapter)
	}

	llm, err := provider.New(cfg.LLM)
	if err != nil {
		return nil, err
	}
	registry := agent.NewRegistry(cfg, llm, nil)
	ledger := telemetry.NewLedger(cfg.Telemetry, st, nil, nil)
	orch := pipeline.NewOrchestrator(cfg.Pipeline, st, registry, ledger, nil)

	sched := scheduler.New(cfg.Scheduler, rdb, nil, nil)
	for _, id := range collector.SourceIDs() {
		id := id
		sched.Register("collect:"+id, cfg.Scheduler.CollectSchedule, func(ctx context.Context) error {
			_, err := collector.CollectSource(ctx, id)
			return err
		})
	}
	sched.Register("process", cfg.Scheduler.ProcessSchedule, func(ctx context.Context) error {
		_, err := orch.RunCycle(ctx)
		return err
	})

	var srv *server.Server
	schedForServer := sched
	if !withScheduler {
		schedForServer = nil
	}
	srv = server.New(cfg.Server, st, collector, orch, ledger, schedForServer, registry.CircuitStates, nil)

	var reportStop func()
	if cfg.Telemetry.PeriodicLogs {
		reportStop = ledger.ReportEvery(10 * time.Minute)
	}

	return &App{
		Store:        st,
		Redis:        rdb,
		Collector:    collector,
		Registry:     registry,
		Ledger:       ledger,
		Orchestrator: orch,
		Scheduler:    sched,
		Server:       srv,
		reportStop:   reportStop,
	}, nil
}

func newAdapter(sc config.SourceConfig, timeout time.Duration) (source.Adapter, error) {
	switch sc.Kind {
	case "httpfeed":
		return source.NewHTTPFeedAdapter(sc.ID, sc.Name, models.Category(sc.Category), sc.Endpoint, timeout), nil
	case "static":
		return &source.StaticAdapter{SourceID: sc.ID, SourceName: sc.Name, Cat: models.Category(sc.Category)}, nil
	default:
		return nil, fmt.Errorf("source %s: %w: %q", sc.ID, source.ErrUnknownKind, sc.Kind)
	}
}

func (a *App) Close() {
	if a.reportStop != nil {
		a.reportStop()
	}
	if a.Redis != nil {
		a.Redis.Close()
	}
	if a.Store != nil && a.Store.DB != nil {
		a.Store.DB.Close()
	}
}
