package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"sheetcast/internal/config"
	"sheetcast/internal/eventbus"
	"sheetcast/internal/notifier"
	"sheetcast/internal/observability/metrics"
	"sheetcast/internal/observability/opsserver"
	"sheetcast/internal/pipeline"
	"sheetcast/internal/post"
	"sheetcast/internal/publish"
	rtsup "sheetcast/internal/runtime/supervisor"
	"sheetcast/internal/sheet"
	"sheetcast/internal/storage"
	"sheetcast/internal/task/scheduler"
	telegram "sheetcast/internal/transport/telegram/adapter"
	logx "sheetcast/pkg/logx"
	"sheetcast/pkg/systemd"
)

// Version is stamped at build time with -ldflags "-X sheetcast/internal/app.Version=...".
var Version = "dev"

type StopReason string

const (
	StopUnknown    StopReason = "unknown"
	StopSIGINT     StopReason = "sigint"
	StopSIGTERM    StopReason = "sigterm"
	StopFatalError StopReason = "fatal_error"
	StopAppStop    StopReason = "app_stop"
)

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log     logx.Logger
	logs    *logx.Service
	bus     eventbus.Bus
	store   storage.Store
	metrics *metrics.Metrics

	adapter *telegram.Adapter
	runner  *pipeline.Runner
	sched   *scheduler.Service
	ops     *opsserver.Service
	alerts  *notifier.Service

	refresh   time.Duration
	grace     time.Duration
	history   *history
	startedAt time.Time

	// last destination set handed to the scheduler
	destMu sync.Mutex
	dests  []post.Destination
}

// New loads config from cfgm, builds every component and validates startup
// prerequisites. Nothing runs until Start.
func New(ctx context.Context, cfgm *config.Manager) (*App, error) {
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	// The Telegram log sink needs the adapter, which needs a logger; attach it after.
	logSvc, log := logx.New(mapLogConfig(cfg), nil)
	logSvc.SetSecrets(cfg.Telegram.Token, cfg.Ops.Token)
	fail := func(err error) (*App, error) {
		_ = logSvc.Close()
		return nil, err
	}

	tgCfg, err := mapTelegramConfig(cfg)
	if err != nil {
		return fail(err)
	}
	ad, err := telegram.New(tgCfg, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return fail(fmt.Errorf("telegram: %w", err))
	}
	logSvc.SetSender(ad)

	bus := eventbus.New()
	m := metrics.New(Version)

	src, err := newSource(ctx, cfg)
	if err != nil {
		return fail(err)
	}
	fopt, err := mapFetcherOptions(cfg)
	if err != nil {
		return fail(err)
	}
	fopt.Logger = log.With(logx.String("comp", "sheet"))
	fopt.OnAttempt = func(source string, _ int) { m.FetchAttempt(source) }
	fetcher, err := sheet.NewFetcher(src, fopt)
	if err != nil {
		return fail(err)
	}

	pcfg, err := mapPipelineConfig(cfg)
	if err != nil {
		return fail(err)
	}
	runner := pipeline.New(pcfg, pipeline.Deps{
		Fetcher:   fetcher,
		Publisher: publish.New(ad, log.With(logx.String("comp", "publish"))),
		Bus:       bus,
		Metrics:   m,
		Logger:    log.With(logx.String("comp", "run")),
	})

	scfg, refresh, err := mapSchedulerConfig(cfg)
	if err != nil {
		return fail(err)
	}
	sched, err := scheduler.New(scfg, runner, log.With(logx.String("comp", "scheduler")), bus, scheduler.WithMetrics(m))
	if err != nil {
		return fail(err)
	}

	acfg, err := mapAlertsConfig(cfg)
	if err != nil {
		return fail(err)
	}
	alerts := notifier.New(acfg, ad, log.With(logx.String("comp", "alerts")), bus)

	var store storage.Store
	if sc, ok, err := mapStorageConfig(cfg); err != nil {
		return fail(err)
	} else if ok {
		store, err = storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return fail(err)
		}
		log.Info("destination store enabled", logx.String("driver", sc.Driver))
	}

	a := &App{
		cfgm:    cfgm,
		log:     log.With(logx.String("comp", "app")),
		logs:    logSvc,
		bus:     bus,
		store:   store,
		metrics: m,
		adapter: ad,
		runner:  runner,
		sched:   sched,
		alerts:  alerts,
		refresh: refresh,
		grace:   scfg.GracePeriod,
		history: newHistory(50),
	}

	ocfg, err := mapOpsConfig(cfg)
	if err != nil {
		return fail(err)
	}
	a.ops = opsserver.New(ocfg, opsserver.Sources{
		Status:  func() any { return a.Status() },
		Ready:   a.ready,
		Metrics: m.Handler(),
	}, log.With(logx.String("comp", "ops")))

	return a, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.startedAt = time.Now()

	// transactional config reload: Parse already validated; reject what would break the running app
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if strings.TrimSpace(cfg.Telegram.Token) == "" {
			return fmt.Errorf("telegram.token is required")
		}
		if _, _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		if _, err := mapOpsConfig(cfg); err != nil {
			return err
		}
		if _, err := mapAlertsConfig(cfg); err != nil {
			return err
		}
		return nil
	})

	if err := a.refreshDestinations(a.sup.Context(), true); err != nil {
		a.log.Warn("initial destination load incomplete", logx.Err(err))
	}
	a.alerts.Start(a.sup.Context())
	if err := a.sched.Start(a.sup.Context()); err != nil {
		return err
	}
	a.ops.Start(a.sup.Context())

	if a.store != nil {
		a.sup.GoRestart("registry.refresh", func(c context.Context) error {
			t := time.NewTicker(a.refresh)
			defer t.Stop()
			for {
				select {
				case <-c.Done():
					return nil
				case <-t.C:
					if err := a.refreshDestinations(c, false); err != nil {
						a.log.Warn("destination refresh failed; keeping previous set", logx.Err(err))
					}
				}
			}
		})
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.history", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				if out, ok := e.Data.(post.Outcome); ok {
					a.history.add(out)
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.sup.Go("systemd.watchdog", func(c context.Context) error {
		return systemd.Watchdog(c, func() bool { return a.ready() == nil })
	})

	if _, err := systemd.Ready(); err != nil {
		a.log.Debug("sd_notify ready failed", logx.Err(err))
	}
	a.log.Info("app started",
		logx.String("version", Version),
		logx.Bool("scheduler", a.sched.Enabled()),
		logx.Int("destinations", len(a.currentDestinations())),
	)
	return nil
}

func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	_, _ = systemd.Reloading()
	defer func() { _, _ = systemd.Ready() }()

	sections, attrs, restart := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)
	if len(restart) > 0 {
		a.log.Warn("some config changes take effect after restart", logx.String("sections", strings.Join(restart, ",")))
	}

	a.logs.Apply(mapLogConfig(newCfg))
	// the running adapter still uses the old token; mask both
	a.logs.SetSecrets(oldCfg.Telegram.Token, newCfg.Telegram.Token, newCfg.Ops.Token)

	if err := a.refreshDestinations(ctx, false); err != nil {
		a.log.Warn("destination refresh after reload failed", logx.Err(err))
	}

	if acfg, err := mapAlertsConfig(newCfg); err != nil {
		a.log.Warn("invalid alerts config; keeping previous", logx.Err(err))
	} else {
		a.applyAlerts(ctx, acfg)
	}

	if ocfg, err := mapOpsConfig(newCfg); err != nil {
		a.log.Warn("invalid ops config; keeping previous", logx.Err(err))
	} else {
		a.ops.Reconfigure(ctx, ocfg)
	}

	a.log.Info("config reloaded", logx.String("changed", strings.Join(sections, ",")))
}

func (a *App) applyAlerts(ctx context.Context, cfg notifier.Config) {
	a.alerts.Apply(cfg)
	if cfg.Enabled {
		a.alerts.Start(a.sup.Context())
		return
	}
	a.alerts.Stop(ctx)
}

// refreshDestinations merges config and stored destinations and hands them to the
// scheduler. On a store error the previous set stays unless force is set, in which
// case the config list alone is applied.
func (a *App) refreshDestinations(ctx context.Context, force bool) error {
	var static []post.Destination
	if cfg := a.cfgm.Get(); cfg != nil {
		static = cfg.Destinations
	}
	dests, err := loadDestinations(ctx, static, a.store, a.log)
	if err != nil && !force {
		return err
	}
	a.destMu.Lock()
	a.dests = dests
	a.destMu.Unlock()
	a.sched.Reload(dests)
	return err
}

func (a *App) currentDestinations() []post.Destination {
	a.destMu.Lock()
	defer a.destMu.Unlock()
	return append([]post.Destination(nil), a.dests...)
}

// Reload re-reads the config file now (SIGHUP). Accepted changes reach applyConfig
// through the config subscription like watched edits.
func (a *App) Reload(ctx context.Context) error {
	changed, err := a.cfgm.Reload(ctx)
	if err != nil {
		a.log.Warn("config reload rejected", logx.Err(err))
		return err
	}
	if !changed {
		a.log.Info("config reload requested; file unchanged")
	}
	return nil
}

// RunOnce posts one destination immediately, outside the daily schedule.
func (a *App) RunOnce(ctx context.Context, dest post.Destination) post.Outcome {
	return a.sched.RunNow(ctx, dest)
}

// Close releases resources of an app that was never started.
func (a *App) Close() error {
	if a.store != nil {
		_ = a.store.Close()
	}
	if a.logs != nil {
		return a.logs.Close()
	}
	return nil
}

func (a *App) ready() error {
	if a.sup == nil {
		return fmt.Errorf("not started")
	}
	if err := a.sup.Err(); err != nil {
		return err
	}
	if a.sched.Enabled() && !a.sched.Snapshot().Running {
		return fmt.Errorf("scheduler not running")
	}
	return nil
}

// Status is the /status document.
type Status struct {
	Version     string                    `json:"version"`
	StartedAt   time.Time                 `json:"started_at"`
	Uptime      string                    `json:"uptime"`
	Scheduler   scheduler.Snapshot        `json:"scheduler"`
	RecentRuns  []post.Outcome            `json:"recent_runs"`
	Alerts      []notifier.HistoryItem    `json:"alerts,omitempty"`
	Supervisors map[string]rtsup.Snapshot `json:"supervisors"`
}

func (a *App) Status() Status {
	st := Status{
		Version:     Version,
		StartedAt:   a.startedAt,
		Scheduler:   a.sched.Snapshot(),
		RecentRuns:  a.history.list(),
		Alerts:      a.alerts.Snapshot(),
		Supervisors: map[string]rtsup.Snapshot{},
	}
	if !a.startedAt.IsZero() {
		st.Uptime = time.Since(a.startedAt).Truncate(time.Second).String()
	}
	if a.sup != nil {
		st.Supervisors["app"] = a.sup.Snapshot()
	}
	return st
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return a.Close()
	}
	_, _ = systemd.Stopping()
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Cancel the app run context first so background loops start unwinding.
	// Runs already in flight are detached from it and get the grace period below.
	a.sup.Cancel()

	a.step(ctx, "scheduler", a.grace+2*time.Second, func(c context.Context) error { return a.sched.Stop(c) })
	a.step(ctx, "alerts", time.Second, func(c context.Context) error { a.alerts.Stop(c); return nil })
	a.step(ctx, "ops", time.Second, func(c context.Context) error { a.ops.Stop(c); return nil })
	a.step(ctx, "storage", time.Second, func(c context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})
	// Finally, wait for supervised goroutines (config watch/reload, registry refresh).
	a.step(ctx, "supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// step runs one shutdown step with an upper bound so one component can't stall the whole stop.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

	stepCtx := ctx
	if max > 0 {
		// respect the caller's deadline; never extend it
		if dl, ok := ctx.Deadline(); ok && time.Until(dl) < max {
			max = time.Until(dl)
		}
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, max)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		took := time.Since(start)
		if took >= 500*time.Millisecond {
			a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		} else {
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Err(stepCtx.Err()),
			logx.Duration("elapsed", time.Since(start)),
		)
		go func() {
			err := <-done
			took := time.Since(start)
			if err != nil {
				a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
			} else {
				a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
			}
		}()
	}
}
