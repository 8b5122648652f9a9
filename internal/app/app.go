// Package app wires configuration, storage, fetching, delivery and the
// cycle scheduler into a running service.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"stockwatch/internal/config"
	"stockwatch/internal/fetch"
	"stockwatch/internal/metrics"
	"stockwatch/internal/monitor"
	"stockwatch/internal/notifier"
	"stockwatch/internal/ops"
	"stockwatch/internal/runtime/supervisor"
	"stockwatch/internal/stock"
	"stockwatch/internal/storage"
	logx "stockwatch/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service

	reg     *prometheus.Registry
	metrics *metrics.Metrics

	store       storage.Store
	fetcher     fetch.Fetcher
	disp        *notifier.Dispatcher
	closeSender func()
	mon         *monitor.Monitor
	sched       *monitor.Scheduler
	ops         *ops.Server
	sd          *sdNotifier

	cycleTimeout time.Duration
	startedAt    time.Time
}

// New loads the config at cfgPath and builds every component. Nothing runs
// until Start or RunOnce.
func New(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfgm.SetValidator(validateConfig)
	cfg, err := cfgm.Load(ctx)
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	a := &App{
		cfgm:        cfgm,
		log:         log.With(logx.String("comp", "app")),
		logs:        logSvc,
		reg:         prometheus.NewRegistry(),
		closeSender: func() {},
		sd:          newSDNotifier(log.With(logx.String("comp", "systemd"))),
	}
	a.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = metrics.New(a.reg)

	if err := a.build(ctx, cfg, log); err != nil {
		a.release()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, cfg *config.Config, log logx.Logger) error {
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return err
	}
	a.store, err = storage.Open(ctx, sc, log)
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}

	a.fetcher, err = fetch.New(cfg.Fetch, log, fetch.WithAttemptObserver(a.metrics.ObserveFetchAttempt))
	if err != nil {
		return err
	}

	sender, closeSender, err := newSender(ctx, cfg, log.With(logx.String("comp", "notify")))
	if err != nil {
		return err
	}
	a.closeSender = closeSender
	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return err
	}
	a.disp = notifier.New(ncfg, sender, log, a.metrics)

	a.mon, err = monitor.New(monitor.Deps{
		Fetcher:  a.fetcher,
		Parser:   stock.NewParser(mapParserKeys(cfg)),
		Store:    a.store,
		Notifier: a.disp,
		Log:      log,
		Metrics:  a.metrics,
		OnCycle:  a.onCycle,
	})
	if err != nil {
		return err
	}

	scfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		return err
	}
	a.cycleTimeout = scfg.CycleTimeout
	a.sched, err = monitor.NewScheduler(scfg, a.mon, log)
	if err != nil {
		return err
	}

	if cfg.Ops.Enabled {
		a.ops = ops.New(mapOpsConfig(cfg), ops.Deps{
			Gatherer: a.reg,
			Status:   func() any { return a.Status() },
			Healthy:  a.healthy,
		}, log)
	}

	a.log.Info("configured",
		logx.String("source", a.fetcher.Source()),
		logx.String("state", a.store.Driver()),
		logx.String("sink", a.disp.Sink()),
		logx.Bool("alerts_configured", a.disp.Configured()),
		logx.String("schedule", scfg.Schedule),
	)
	return nil
}

// Done is closed when the app supervisor context ends (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start runs the scheduler and the background services.
func (a *App) Start(ctx context.Context) error {
	a.startedAt = time.Now()
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	if err := a.sched.Start(a.sup.Context()); err != nil {
		return err
	}

	if a.ops != nil {
		// listener failures restart with backoff and show up in the
		// supervisor snapshot; they do not fail /healthz
		a.sup.GoRestart("ops.serve", a.ops.Serve,
			supervisor.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		)
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
		return nil
	})
	a.sup.GoRestart("config.watch", a.cfgm.Watch)
	a.sup.Go("systemd.watchdog", a.sd.watchdogLoop)

	a.sd.Ready()
	a.log.Info("app started")
	return nil
}

// RunOnce runs a single cycle without the scheduler.
func (a *App) RunOnce(ctx context.Context) (monitor.Report, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cycleTimeout)
	defer cancel()
	return a.mon.RunOnce(ctx)
}

func (a *App) onCycle(rep monitor.Report) {
	if rep.Error == "" {
		a.sd.Watchdog()
	}
}

// healthy fails only once the supervisor has shut down on a fatal error.
// Errors latched by restarting goroutines that recovered do not count.
func (a *App) healthy() error {
	if a.sup == nil || a.sup.Context().Err() == nil {
		return nil
	}
	if err := a.sup.Err(); err != nil {
		return err
	}
	return errors.New("stopping")
}

// Stop shuts components down in dependency order. Each step is bounded so
// one stuck component cannot stall the rest.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sd.Stopping()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if dl, ok := ctx.Deadline(); !ok || time.Until(dl) > max {
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
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	// the in-flight cycle finishes (or is cancelled) before its store closes
	if a.sched != nil {
		step("scheduler", 10*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	}
	if a.sup != nil {
		a.sup.Cancel()
		step("supervisor", 3*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	}
	step("sender", 2*time.Second, func(context.Context) error { a.closeSender(); return nil })
	if a.store != nil {
		step("storage", 2*time.Second, func(context.Context) error { return a.store.Close() })
	}

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// release closes what build managed to open.
func (a *App) release() {
	a.closeSender()
	if a.store != nil {
		_ = a.store.Close()
	}
	if a.logs != nil {
		_ = a.logs.Close()
	}
}
