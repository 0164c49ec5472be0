// Package app wires config, logging, storage, the presenter, the schedule
// manager and the HTTP surface into one process lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"pushbridge/internal/bridge"
	"pushbridge/internal/config"
	"pushbridge/internal/eventbus"
	"pushbridge/internal/httpapi"
	"pushbridge/internal/presenter"
	"pushbridge/internal/runtime/supervisor"
	"pushbridge/internal/scheduler"
	"pushbridge/internal/storage"
	logx "pushbridge/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	logs *logx.Service
	log  logx.Logger

	bus  eventbus.Bus
	reg  *prometheus.Registry
	hm   *httpapi.Metrics
	opts []scheduler.Option

	store  storage.Store
	pres   presenter.Presenter
	mgr    *scheduler.Manager
	bridge *bridge.Bridge
	http   *httpapi.Service
}

// New loads the config file and opens the store and presenter. Nothing runs
// until Start.
func New(cfgPath string, opts ...scheduler.Option) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logs, root := logx.New(config.LoggingOf(cfg))
	log := root.With(logx.Comp("app"))

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	bus := eventbus.New()

	store, err := storage.Open(storageConfig(cfg), root.With(logx.Comp("storage")))
	if err != nil {
		_ = logs.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}
	pres, err := presenter.Open(presenterConfig(cfg), root.With(logx.Comp("presenter")), bus)
	if err != nil {
		_ = store.Close()
		_ = logs.Close()
		return nil, fmt.Errorf("open presenter: %w", err)
	}

	return &App{
		cfgm:  cfgm,
		logs:  logs,
		log:   log,
		bus:   bus,
		reg:   reg,
		hm:    httpapi.NewMetrics(reg),
		opts:  opts,
		store: store,
		pres:  pres,
	}, nil
}

// Done is closed when the supervisor context ends (fatal task error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Bridge() *bridge.Bridge { return a.bridge }

func (a *App) Scheduler() *scheduler.Manager { return a.mgr }

// HTTPAddr is the bound API address, empty when the API is disabled.
func (a *App) HTTPAddr() string {
	if a.http == nil {
		return ""
	}
	return a.http.Addr()
}

func (a *App) Start(ctx context.Context) error {
	cfg := a.cfgm.Get()
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.Comp("config")))
	a.cfgm.SetValidator(func(_ context.Context, c *config.Config) error { return config.Validate(c) })

	root := a.logs.Logger()
	opts := []scheduler.Option{
		scheduler.WithLogger(root.With(logx.Comp("scheduler"))),
		scheduler.WithBus(a.bus),
		scheduler.WithRegisterer(a.reg),
		scheduler.WithLocation(scheduler.LoadLocation(cfg.Scheduler.Timezone, a.log)),
		scheduler.WithPresenterTimeout(config.DurationOr(cfg.Scheduler.PresenterTimeout, 0)),
		scheduler.WithMaxBatch(cfg.Scheduler.MaxBatch),
	}
	mgr, err := scheduler.Init(a.sup.Context(), a.store, a.pres, append(opts, a.opts...)...)
	if err != nil {
		_ = a.sup.Stop(context.Background())
		return fmt.Errorf("start scheduler: %w", err)
	}
	a.mgr = mgr
	a.bridge = bridge.New(mgr, root)

	deps := httpapi.Deps{
		API:      a.bridge,
		Health:   mgr.Snapshot,
		Gatherer: a.reg,
		Metrics:  a.hm,
		Log:      root.With(logx.Comp("http")),
	}
	a.http = httpapi.NewService(func(c httpapi.Config) http.Handler { return httpapi.NewRouter(deps, c) }, root)
	if err := a.http.Reconfigure(ctx, httpConfig(cfg)); err != nil {
		_ = scheduler.Shutdown(context.Background())
		_ = a.sup.Stop(context.Background())
		return fmt.Errorf("start http: %w", err)
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
		return nil
	})
	a.sup.GoRestart("config.watch", a.cfgm.Watch, time.Second, 30*time.Second)
	a.sup.Go("events.log", func(c context.Context) error {
		a.logEvents(c)
		return nil
	})

	a.log.Info("app started",
		logx.String("storage", cfg.Storage.Driver),
		logx.String("presenter", cfg.Presenter.Driver),
		logx.String("http", a.http.Addr()),
	)
	return nil
}

// reloadLoop applies hot-reloadable sections of each committed config.
func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						next = newer
					}
				default:
					break drain
				}
			}
			a.apply(ctx, last, next)
			last = next
		}
	}
}

func (a *App) apply(ctx context.Context, prev, next *config.Config) {
	sections, attrs, restart := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}

	if err := a.logs.Apply(config.LoggingOf(next)); err != nil {
		a.log.Warn("log sink unavailable", logx.Err(err))
	}

	if prev.Scheduler.Timezone != next.Scheduler.Timezone {
		a.mgr.SetLocation(ctx, scheduler.LoadLocation(next.Scheduler.Timezone, a.log))
	}

	if rl, ok := a.pres.(*presenter.RateLimited); ok {
		rl.SetLimit(next.Presenter.RatePerSec, next.Presenter.Burst)
	}

	if err := a.http.Reconfigure(ctx, httpConfig(next)); err != nil {
		a.log.Warn("http reconfigure failed", logx.Err(err))
	}

	if len(restart) > 0 {
		a.log.Warn("config change needs a restart to take effect", logx.Strings("sections", restart))
	}
	a.log.Info("config reloaded", append([]logx.Field{logx.Strings("changed", sections)}, attrs...)...)
}

// logEvents mirrors lifecycle events to the debug log.
func (a *App) logEvents(ctx context.Context) {
	ch, unsubscribe := a.bus.Subscribe(64, "schedule.", "notification.")
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			a.log.Debug("event", logx.String("type", ev.Type), logx.Time("at", ev.Time), logx.Any("data", ev.Data))
		}
	}
}

// Stop drains in reverse start order: http, scheduler, supervised tasks,
// store, logging. Each step is bounded so one component cannot stall the rest.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		err := a.store.Close()
		_ = a.logs.Close()
		return err
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	var errs []error
	step := func(name string, max time.Duration, fn func(context.Context) error) error {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		err := fn(stepCtx)
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		return err
	}

	if a.http != nil {
		step("http", 3*time.Second, func(c context.Context) error { a.http.Stop(c); return nil })
	}
	// The scheduler may be waiting on one presenter call and then on the
	// post-fire writes.
	schedBudget := 3 * time.Second
	if a.mgr != nil {
		schedBudget += a.mgr.PresenterTimeout()
	}
	schedErr := step("scheduler", schedBudget, scheduler.Shutdown)
	step("supervisor", 2*time.Second, func(c context.Context) error {
		err := a.sup.Stop(c)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	if errors.Is(schedErr, scheduler.ErrBookkeepingPending) {
		a.log.Error("store left open: scheduler is still recording fire results")
	} else {
		step("store", time.Second, func(context.Context) error { return a.store.Close() })
	}

	a.log.Info("stopped")
	_ = a.logs.Close()
	return errors.Join(errs...)
}
