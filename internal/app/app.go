// Package app wires the bot together: config, logging, storage, the
// Discord adapter, the leaderboard service, maintenance jobs and the
// slash-command surface. It owns startup and shutdown ordering.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rankbot/internal/commands"
	"rankbot/internal/config"
	"rankbot/internal/eventbus"
	"rankbot/internal/jobs"
	"rankbot/internal/leaderboard"
	"rankbot/internal/storage"
	"rankbot/internal/transport/discord"
	logx "rankbot/pkg/logx"
)

type App struct {
	cfgm *config.Manager

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store   storage.Store
	adapter *discord.Adapter
	svc     *leaderboard.Service
	jobs    *jobs.Runner
	cmds    *commands.Handler

	metricsSrv *http.Server

	runCtx    context.Context
	runCancel context.CancelFunc
	wg        sync.WaitGroup

	// stopReq is closed when the shutdown command asks the process to
	// exit; main selects on Done().
	stopReq  chan struct{}
	stopOnce sync.Once
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	// Bootstrap with the Discord sink disabled: the adapter does not
	// exist yet. SetSender + Apply turn it on once the gateway is up.
	baseLogCfg := mapLogxConfig(cfg)
	baseLogCfg.Discord.Enabled = false
	logSvc, log := logx.New(baseLogCfg, nil)
	log = log.With(logx.String("comp", "app"))

	cfgm.SetLogger(log.With(logx.String("comp", "config")))
	cfgm.SetValidator(func(_ context.Context, c *config.Config) error {
		if _, err := mapOptions(c); err != nil {
			return err
		}
		_, err := mapStorageConfig(c)
		return err
	})

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}

	adapter, err := discord.New(discord.Config{
		Token:          cfg.Discord.Token,
		GuildID:        cfg.Discord.GuildID,
		RequestsPerSec: cfg.Discord.RequestsPerSec,
	}, log.With(logx.String("comp", "discord")))
	if err != nil {
		store.Close()
		return nil, err
	}

	bus := eventbus.New()

	var metrics *leaderboard.Metrics
	var metricsSrv *http.Server
	if cfg.Metrics != nil && cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		metrics = leaderboard.NewMetrics(reg)

		addr := cfg.Metrics.Addr
		if addr == "" {
			addr = "127.0.0.1:9190"
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		metricsSrv = &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	opts, err := mapOptions(cfg)
	if err != nil {
		store.Close()
		return nil, err
	}
	svc, err := leaderboard.New(store, adapter, bus, metrics,
		log.With(logx.String("comp", "leaderboard")), opts)
	if err != nil {
		store.Close()
		return nil, err
	}

	a := &App{
		cfgm:       cfgm,
		log:        log,
		logs:       logSvc,
		bus:        bus,
		store:      store,
		adapter:    adapter,
		svc:        svc,
		metricsSrv: metricsSrv,
		stopReq:    make(chan struct{}),
	}

	a.cmds = commands.New(svc, adapter, cfg.Discord.OwnerUserIDs, a.RequestStop,
		log.With(logx.String("comp", "commands")))

	a.jobs = jobs.New(log.With(logx.String("comp", "jobs")))
	if err := a.addJobs(cfg); err != nil {
		store.Close()
		return nil, err
	}

	return a, nil
}

// RequestStop signals main to begin a graceful shutdown. Safe to call
// more than once.
func (a *App) RequestStop() { a.stopOnce.Do(func() { close(a.stopReq) }) }

// Done is closed when something inside the app (the shutdown command)
// wants the process to exit.
func (a *App) Done() <-chan struct{} { return a.stopReq }

func (a *App) Start(ctx context.Context) error {
	a.runCtx, a.runCancel = context.WithCancel(context.WithoutCancel(ctx))

	if err := a.adapter.Start(ctx); err != nil {
		return fmt.Errorf("app: discord: %w", err)
	}

	// Gateway is up; route warn/error logs to the log channel now.
	a.logs.SetSender(a.adapter)
	a.logs.Apply(mapLogxConfig(a.cfgm.Get()))

	if err := a.svc.Start(ctx); err != nil {
		return err
	}
	if err := a.cmds.Register(ctx); err != nil {
		return err
	}
	if err := a.jobs.Start(a.runCtx); err != nil {
		return err
	}

	if a.metricsSrv != nil {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.log.Info("metrics listening", logx.String("addr", a.metricsSrv.Addr))
			if err := a.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.log.Error("metrics server", logx.Err(err))
			}
		}()
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.watchEvents(a.runCtx)
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.watchConfig(a.runCtx)
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.cfgm.Watch(a.runCtx); err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("config watcher exited", logx.Err(err))
		}
	}()

	a.log.Info("app started")
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	a.log.Info("stopping")

	// Each stop step gets an upper bound so one component cannot stall
	// the whole shutdown.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		start := time.Now()
		if err := fn(stepCtx); err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step done", logx.String("name", name), logx.Duration("took", time.Since(start)))
	}

	a.cmds.Close()
	step("jobs", 3*time.Second, a.jobs.Stop)
	step("leaderboard", 5*time.Second, a.svc.Stop)

	if a.runCancel != nil {
		a.runCancel()
	}
	if a.metricsSrv != nil {
		step("metrics", 2*time.Second, a.metricsSrv.Shutdown)
	}

	// Detach the Discord log sink before closing the session so queued
	// log sends do not race the disconnect.
	a.logs.SetSender(nil)
	step("discord", 3*time.Second, a.adapter.Stop)
	step("storage", 2*time.Second, func(context.Context) error { return a.store.Close() })

	a.wg.Wait()
	a.log.Info("stopped")
	a.logs.Close()
	return nil
}

func (a *App) addJobs(cfg *config.Config) error {
	jc := config.JobsConfig{}
	if cfg.Jobs != nil {
		jc = *cfg.Jobs
	}
	if jc.Enabled != nil && !*jc.Enabled {
		a.log.Info("maintenance jobs disabled via config")
		return nil
	}
	driftSpec := jc.DriftSpec
	if driftSpec == "" {
		driftSpec = "17 * * * *"
	}
	compactSpec := jc.CompactSpec
	if compactSpec == "" {
		compactSpec = "40 4 * * *"
	}

	if err := a.jobs.Add("schedule.drift", driftSpec, 30*time.Second, a.svc.CheckDrift); err != nil {
		return err
	}
	return a.jobs.Add("storage.compact", compactSpec, 2*time.Minute, a.store.Compact)
}

func (a *App) watchEvents(ctx context.Context) {
	events, unsub := a.bus.Subscribe(64)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
		}
	}
}

// watchConfig applies hot-reloadable sections (logging only). Discord,
// storage and leaderboard tuning need a restart; say so instead of
// half-applying them.
func (a *App) watchConfig(ctx context.Context) {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)

	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			a.logs.Apply(mapLogxConfig(cfg))
			if last != nil && restartNeeded(last, cfg) {
				a.log.Warn("discord/storage/leaderboard config changed; restart required to take effect")
			}
			last = cfg
			a.log.Info("config reloaded")
		}
	}
}

func mapLogxConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Discord: logx.DiscordConfig{
			Enabled:    cfg.Logging.Discord.Enabled,
			ChannelID:  cfg.Logging.Discord.ChannelID,
			MinLevel:   cfg.Logging.Discord.MinLevel,
			RatePerSec: cfg.Logging.Discord.RatePerSec,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, nil
}

func mapOptions(cfg *config.Config) (leaderboard.Options, error) {
	rule := leaderboard.DefaultRule
	if cfg.Leaderboard.Weekday != nil {
		rule.Weekday = time.Weekday(*cfg.Leaderboard.Weekday)
	}
	if cfg.Leaderboard.At != "" {
		h, m, err := config.ParseHHMM(cfg.Leaderboard.At)
		if err != nil {
			return leaderboard.Options{}, err
		}
		rule.Hour, rule.Minute = h, m
	}
	window, err := config.ParseDurationField("leaderboard.window", cfg.Leaderboard.Window)
	if err != nil {
		return leaderboard.Options{}, err
	}
	pageTimeout, err := config.ParseDurationField("leaderboard.page_timeout", cfg.Leaderboard.PageTimeout)
	if err != nil {
		return leaderboard.Options{}, err
	}
	return leaderboard.Options{
		Rule:            rule,
		Window:          window,
		ScanCap:         cfg.Leaderboard.ScanCap,
		PageTimeout:     pageTimeout,
		SyncConcurrency: cfg.Leaderboard.SyncConcurrency,
	}, nil
}

func restartNeeded(old, next *config.Config) bool {
	if old.Discord.Token != next.Discord.Token ||
		old.Discord.GuildID != next.Discord.GuildID ||
		old.Discord.RequestsPerSec != next.Discord.RequestsPerSec ||
		!sliceEq(old.Discord.OwnerUserIDs, next.Discord.OwnerUserIDs) {
		return true
	}
	if old.Storage != next.Storage {
		return true
	}
	lo, ln := old.Leaderboard, next.Leaderboard
	if (lo.Weekday == nil) != (ln.Weekday == nil) ||
		(lo.Weekday != nil && *lo.Weekday != *ln.Weekday) {
		return true
	}
	lo.Weekday, ln.Weekday = nil, nil
	return lo != ln
}

func sliceEq(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
