// Package app wires the components together: config, logging, crypto,
// storage, the Telegram adapter, the dispatch pipeline, the notification
// router, the subscription checker, and the scheduler that drives both.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"cyclebot/internal/commands"
	"cyclebot/internal/config"
	"cyclebot/internal/crypt"
	"cyclebot/internal/eventbus"
	"cyclebot/internal/notify"
	"cyclebot/internal/router"
	"cyclebot/internal/scheduler"
	"cyclebot/internal/storage"
	"cyclebot/internal/subscription"
	kit "cyclebot/internal/transport"
	telegram "cyclebot/internal/transport/telegram"
	logx "cyclebot/pkg/logx"
)

type App struct {
	cfgm *config.Manager

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter *telegram.Adapter
	notif   *notify.Service
	router  *router.Router
	subs    *subscription.Checker
	sched   *scheduler.Service
	cmds    *commands.Handler

	updates chan kit.Update

	runCancel context.CancelFunc
	wg        sync.WaitGroup
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole(cfg.Logging.Level)

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, bootLog.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogging(cfg), ad)
	log = log.With(logx.String("comp", "app"))

	codec, err := crypt.New(cfg.Crypt.Key)
	if err != nil {
		return nil, fmt.Errorf("crypt: %w", err)
	}

	bus := eventbus.New()

	store, err := storage.Open(mapStorage(cfg), codec, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	if store == nil {
		// The rules and the ledger need somewhere to live even without a
		// database file; estimates and dedup state then die with the process.
		log.Warn("storage disabled, running on the in-memory store")
		store = storage.NewMemory()
	}

	ncfg, err := mapNotifier(cfg)
	if err != nil {
		return nil, err
	}
	notif := notify.New(ncfg, ad, log.With(logx.String("comp", "notify")), bus)

	sweepTimeout, err := config.ParseDurationOrDefault("sweep.timeout", cfg.Sweep.Timeout, 10*time.Minute)
	if err != nil {
		return nil, err
	}
	rt := router.New(router.Config{
		Workers:     cfg.Sweep.Workers,
		Timeout:     sweepTimeout,
		DefaultHour: defaultHour(cfg),
	}, store, notif, log.With(logx.String("comp", "router")), bus)

	warnDays := 0
	if cfg.Subscription != nil {
		warnDays = cfg.Subscription.WarnDays
	}
	subs := subscription.New(subscription.Config{WarnDays: warnDays},
		store, notif, log.With(logx.String("comp", "subscription")))

	sched, err := scheduler.New(cfg.Sweep.Timezone, log.With(logx.String("comp", "scheduler")))
	if err != nil {
		return nil, err
	}

	sweepSchedule := cfg.Sweep.Schedule
	if sweepSchedule == "" {
		sweepSchedule = "@hourly"
	}
	if err := sched.Add(scheduler.Job{
		Name:     "sweep",
		Schedule: sweepSchedule,
		Timeout:  sweepTimeout,
		Run: func(ctx context.Context, now time.Time) error {
			_, err := rt.Sweep(ctx, now)
			return err
		},
	}); err != nil {
		return nil, err
	}

	subSchedule := "0 9 * * *"
	if cfg.Subscription != nil && cfg.Subscription.Schedule != "" {
		subSchedule = cfg.Subscription.Schedule
	}
	if err := sched.Add(scheduler.Job{
		Name:     "subscription-check",
		Schedule: subSchedule,
		Run: func(ctx context.Context, now time.Time) error {
			_, err := subs.Check(ctx, now)
			return err
		},
	}); err != nil {
		return nil, err
	}

	cmds := commands.New(commands.Config{}, store, ad, log.With(logx.String("comp", "commands")))

	return &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		adapter: ad,
		notif:   notif,
		router:  rt,
		subs:    subs,
		sched:   sched,
		cmds:    cmds,
		updates: make(chan kit.Update, 256),
	}, nil
}

// Router exposes the sweep for one-shot invocations (cmd flag -sweep-once).
func (a *App) Router() *router.Router { return a.router }

func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.runCancel = cancel

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return config.Validate(cfg)
	})

	if err := a.adapter.Start(runCtx, a.updates); err != nil {
		return err
	}
	a.notif.Start(runCtx)
	if err := a.sched.Start(runCtx); err != nil {
		return err
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		_ = a.cmds.DispatchLoop(runCtx, a.updates)
	}()

	// Hot reload: re-parse on file change, apply what can change live.
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		_ = a.cfgm.Watch(runCtx)
	}()
	cfgCh := a.cfgm.Subscribe(4)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.cfgm.Unsubscribe(cfgCh)
		for {
			select {
			case <-runCtx.Done():
				return
			case cfg, ok := <-cfgCh:
				if !ok {
					return
				}
				a.applyReload(cfg)
			}
		}
	}()

	// Surface pipeline events at debug level for diagnosis.
	events, unsub := a.bus.Subscribe(128)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer unsub()
		for {
			select {
			case <-runCtx.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	}()

	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	a.log.Info("started")
	return nil
}

// applyReload pushes a committed config into the services that can apply it
// live. Storage, adapter, and schedules need a restart.
func (a *App) applyReload(cfg *config.Config) {
	a.logs.Apply(mapLogging(cfg))
	if ncfg, err := mapNotifier(cfg); err == nil {
		a.notif.Apply(ncfg)
	}
	a.log.Info("config reloaded")
}

func (a *App) Stop(ctx context.Context) error {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	a.log.Info("stopping")

	a.sched.Stop(ctx)
	if a.runCancel != nil {
		a.runCancel()
	}
	_ = a.adapter.Stop(ctx)
	a.notif.Stop(ctx)
	a.wg.Wait()

	var firstErr error
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			firstErr = err
		}
	}
	if err := a.logs.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
