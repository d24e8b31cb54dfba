package cli

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"offline-contest/internal/app"
	"offline-contest/internal/config"
	"offline-contest/internal/connectivity"
	"offline-contest/internal/contestapi"
	"offline-contest/internal/domain"
	"offline-contest/internal/identity"
	"offline-contest/internal/infra/memory"
	infraredis "offline-contest/internal/infra/redis"
	"offline-contest/internal/infra/sqlite"
	"offline-contest/internal/logging"
	"offline-contest/internal/preparation"
	"offline-contest/internal/problems"
	"offline-contest/internal/sandbox"
	"offline-contest/internal/scheduler"
	"offline-contest/internal/storage"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// contestRuntime is the participant-side object graph shared by the
// client commands.
type contestRuntime struct {
	cfg      config.Config
	log      *zap.Logger
	store    storage.Store
	sched    scheduler.Scheduler
	monitor  *connectivity.Monitor
	sandbox  *sandbox.Sandbox
	lua      *sandbox.LuaRuntime
	resolver *problems.Resolver
	pipeline *preparation.Pipeline
	identity *identity.Provider
	api      *contestapi.Client

	closers []func() error
}

func newContestRuntime(ctx context.Context, opts *rootOptions) (*contestRuntime, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	rt := &contestRuntime{cfg: cfg, log: log, sched: scheduler.NewReal()}
	rt.closers = append(rt.closers, func() error {
		_ = log.Sync()
		return nil
	})

	if err := rt.openStore(); err != nil {
		rt.Close()
		return nil, err
	}

	rt.identity = identity.NewProvider(cfg.Identity.TokenPath, opts.token, rt.store)
	apiTimeout := config.Duration(cfg.API.Timeout, 10*time.Second)
	rt.api = contestapi.New(cfg.API.BaseURL, &http.Client{Timeout: apiTimeout}, rt.identity)

	probeTimeout := config.Duration(cfg.Connectivity.Timeout, connectivity.DefaultProbeTimeout)
	prober := connectivity.NewHTTPProber(&http.Client{Timeout: probeTimeout}, cfg.Connectivity.ProbeURL)
	rt.monitor = connectivity.NewMonitor(prober, connectivity.InterfaceLinkState{}, rt.sched, rt.store, log, probeTimeout)
	rt.closers = append(rt.closers, func() error {
		rt.monitor.StopMonitoring()
		return nil
	})

	rt.lua = sandbox.NewLuaRuntime()
	rt.closers = append(rt.closers, func() error {
		rt.lua.Close()
		return nil
	})
	timeLimit := config.Duration(cfg.Sandbox.TimeLimit, sandbox.DefaultTimeLimit)
	rt.sandbox = sandbox.New(log, timeLimit, sandbox.NewJavaScriptRuntime(), rt.lua)
	go func() {
		if err := rt.lua.Load(ctx); err != nil {
			log.Warn("lua runtime failed to load", zap.Error(err))
		}
	}()

	rt.resolver = problems.NewResolver(rt.store, rt.api, rt.monitor, log)
	stageDelay := config.Duration(cfg.Preparation.StageDelay, preparation.DefaultStageDelay)
	rt.pipeline = preparation.NewPipeline(rt.sandbox, rt.resolver, rt.store, rt.sched, stageDelay, log)
	return rt, nil
}

func (rt *contestRuntime) openStore() error {
	cfg := rt.cfg.Storage
	switch cfg.Driver {
	case "memory":
		rt.store = memory.NewKVStore()
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		namespace := cfg.Redis.Namespace
		if namespace == "" {
			namespace = "offline-contest"
		}
		rt.store = infraredis.NewKVStore(client, namespace, config.TTLDuration(cfg.Redis.TTL, 0))
		rt.closers = append(rt.closers, client.Close)
	case "", "sqlite":
		store, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return fmt.Errorf("open local store: %w", err)
		}
		rt.store = store
		rt.closers = append(rt.closers, store.Close)
	default:
		return fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
	return nil
}

// newSession builds the contest controller for contestID and loads any
// persisted state for the current user.
func (rt *contestRuntime) newSession(ctx context.Context, contestID string) (*app.ContestSession, bool, error) {
	cfg := rt.cfg
	session := app.NewContestSession(app.Deps{
		Connectivity: rt.monitor,
		Executor:     rt.sandbox,
		Readiness:    rt.pipeline,
		Contests:     rt.resolver,
		Identity:     rt.identity,
		Submitter:    rt.api,
		Store:        rt.store,
		Scheduler:    rt.sched,
	}, app.SessionConfig{
		ContestID:       contestID,
		DefaultDuration: config.Duration(cfg.Contest.DefaultDuration, app.DefaultDuration),
		MaxProblems:     cfg.Contest.MaxProblems,
		PenaltyPoints:   cfg.Contest.PenaltyPoints,
		WarningDuration: config.Duration(cfg.Contest.WarningDuration, app.DefaultWarningDuration),
		RefreshWindow:   config.Duration(cfg.Contest.RefreshWindow, app.DefaultRefreshWindow),
		MonitorInterval: config.Duration(cfg.Connectivity.Interval, connectivity.DefaultInterval),
		DefaultLanguage: domain.LanguageJavaScript,
		Retry: app.RetryPolicy{
			MaxAttempts: cfg.Submission.MaxAttempts,
			BaseDelay:   config.Duration(cfg.Submission.BaseDelay, app.DefaultBaseDelay),
		},
	}, rt.log)
	reset, err := session.Load(ctx)
	if err != nil {
		session.Close()
		return nil, false, err
	}
	return session, reset, nil
}

// Close releases resources in reverse order of acquisition.
func (rt *contestRuntime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil && rt.log != nil {
			rt.log.Debug("close failed", zap.Error(err))
		}
	}
	rt.closers = nil
}
