package app

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"

	"hitgrab/internal/claimqueue"
	"hitgrab/internal/config"
	"hitgrab/internal/control"
	"hitgrab/internal/eventbus"
	"hitgrab/internal/fetch"
	"hitgrab/internal/grouping"
	"hitgrab/internal/job"
	"hitgrab/internal/notifier"
	"hitgrab/internal/observability/debug"
	"hitgrab/internal/registry"
	"hitgrab/internal/runtime/loop"
	"hitgrab/internal/runtime/supervisor"
	"hitgrab/internal/search"
	"hitgrab/internal/storage"
	"hitgrab/internal/task/scheduler"
	kit "hitgrab/internal/transport"
	telegram "hitgrab/internal/transport/telegram/adapter"
	"hitgrab/internal/transport/telegram/router"
	logx "hitgrab/pkg/logx"
)

// App owns every component of the daemon. The registry, scheduler,
// groupings, search bridge and claim queue belong to the event loop; all
// other goroutines reach them through loop.Post or loop.Call.
type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   *eventbus.MemBus
	store storage.Store

	// adapter is nil when no bot token is configured.
	adapter *telegram.Adapter
	notif   *notifier.Service
	cmdm    *router.CommandManager

	loop       *loop.Loop
	sched      *scheduler.Service
	clock      *scheduler.Clock
	queue      *claimqueue.Tracker
	reg        *registry.Registry
	bridge     *search.Bridge
	jobGroups  *grouping.Service
	trigGroups *grouping.Service

	pool    *fetch.Pool
	remote  *remote
	fetcher *fetch.JobFetcher
	debug   *debug.Server

	// polls and the timers below are loop-owned.
	polls    pollers
	timers   timers
	pageSize int

	updates   chan kit.Update
	halts     chan error
	startedAt time.Time
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logs, log := logx.New(mapLogConfig(cfg))
	appLog := log.With(logx.String("comp", "app"))

	t, err := mapTimers(cfg)
	if err != nil {
		return nil, err
	}
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	a := &App{
		cfgm:      cfgm,
		log:       appLog,
		logs:      logs,
		bus:       eventbus.New(),
		store:     store,
		timers:    t,
		pageSize:  cfg.Remote.SearchPageSize,
		updates:   make(chan kit.Update, 256),
		halts:     make(chan error, 1),
		startedAt: time.Now(),
	}
	if err := a.build(cfg, log); err != nil {
		_ = store.Close()
		return nil, err
	}
	return a, nil
}

// build wires the components. Nothing runs yet, so it may touch loop-owned
// state directly.
func (a *App) build(cfg *config.Config, log logx.Logger) error {
	var err error
	a.sched = scheduler.New(a.timers.sched, log.With(logx.String("comp", "scheduler")))
	a.loop = loop.New(mapLoopConfig(a.timers), log.With(logx.String("comp", "loop")))
	a.loop.OnTick(a.sched.Tick)

	fcfg, err := mapFetchConfig(cfg)
	if err != nil {
		return err
	}
	a.pool = fetch.New(fcfg, log.With(logx.String("comp", "fetch")), a.bus)
	if a.remote, err = newRemote(cfg); err != nil {
		return err
	}

	var sender kit.Sender = notifier.LogSender{Log: log.With(logx.String("comp", "notifier.log"))}
	if tcfg, err := mapTelegramConfig(cfg); err != nil {
		return err
	} else if tcfg.Token != "" {
		if a.adapter, err = telegram.New(tcfg, log.With(logx.String("comp", "telegram"))); err != nil {
			return err
		}
		sender = a.adapter
	} else {
		a.log.Warn("no telegram token; commands disabled and alerts go to the log")
	}
	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return err
	}
	a.notif = notifier.New(ncfg, sender, log.With(logx.String("comp", "notifier")), a.bus, a.store)
	if a.adapter != nil {
		a.logs.SetForwarder(a.notif.Forward)
	}

	scfg, err := mapSearchConfig(cfg)
	if err != nil {
		return err
	}
	a.bridge = search.New(scfg, log.With(logx.String("comp", "search")), nil)
	a.queue = claimqueue.New()
	a.fetcher = fetch.NewJobFetcher(a.pool, a.remote, a.loop, nil)

	rcfg, err := mapRegistryConfig(cfg, a.timers)
	if err != nil {
		return err
	}
	a.reg = registry.New(rcfg, registry.Deps{
		Sched:  a.sched,
		Store:  a.store,
		Queue:  a.queue,
		Fetch:  a.fetcher,
		UI:     eventbus.RegistrySink{Bus: a.bus},
		Search: a.bridge,
		Notify: a.notif,
		Log:    log.With(logx.String("comp", "registry")),
		OnHalt: a.onHalt,
	})
	a.fetcher.SetResults(a.reg)
	a.bridge.SetFound(a.onFound)

	gcfg, err := mapGroupingConfig(cfg)
	if err != nil {
		return err
	}
	loc, err := mapLocation(cfg)
	if err != nil {
		return err
	}
	a.jobGroups = grouping.New(grouping.KindJobs, gcfg, a.store, a.reg.GroupMembers(), a.sched,
		log.With(logx.String("comp", "groupings.jobs")), grouping.WithLocation(loc))
	a.trigGroups = grouping.New(grouping.KindTriggers, gcfg, a.store, a.bridge, a.sched,
		log.With(logx.String("comp", "groupings.triggers")), grouping.WithLocation(loc))
	a.clock = scheduler.NewClock(cfg.Groupings.Timezone, log.With(logx.String("comp", "clock")))

	if err := a.restore(rcfg.StoreTimeout); err != nil {
		return err
	}

	a.cmdm = router.NewCommandManager(log.With(logx.String("comp", "commands")), sender, cfg.Telegram.OwnerUserIDs)
	a.cmdm.SetAuditor(a.store)
	ctl := control.New(control.Deps{
		Loop:      a.loop,
		Registry:  a.reg,
		Sched:     a.sched,
		Queue:     a.queue,
		Jobs:      a.jobGroups,
		Triggers:  a.trigGroups,
		Search:    a.bridge,
		Pool:      a.pool,
		HamDelay:  a.timers.hamDelay,
		StartedAt: a.startedAt,
	})
	a.cmdm.SetRegistry(ctl.Commands())

	a.debug = debug.New(mapDebugConfig(cfg), a.state, log.With(logx.String("comp", "debug")))
	return nil
}

// restore loads stored jobs and groupings. Jobs come back stopped; a bad
// record is logged and skipped rather than failing the start.
func (a *App) restore(timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), 4*timeout)
	defer cancel()

	recs, err := a.store.ScanJobs(ctx)
	if err != nil {
		return errors.Wrap(err, "load jobs")
	}
	for _, rec := range recs {
		if _, err := a.reg.Add(rec, registry.AddOptions{}); err != nil {
			a.log.Warn("stored job skipped", logx.Int64("db", rec.ID), logx.Err(err))
		}
	}
	if err := a.jobGroups.Load(ctx); err != nil {
		return err
	}
	if err := a.trigGroups.Load(ctx); err != nil {
		return err
	}
	a.log.Info("state restored", logx.Int("jobs", len(recs)))
	return nil
}

// onHalt runs on the loop when the registry halts. The registry signals at
// most once, so the send never blocks.
func (a *App) onHalt(err error) {
	select {
	case a.halts <- err:
	default:
	}
}

// watchHalt turns a registry halt into a fatal error, which cancels the
// supervisor.
func (a *App) watchHalt(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return nil
	case err := <-a.halts:
		return err
	}
}

// onFound runs on the loop from search.Bridge.Match.
func (a *App) onFound(jobID int64, found job.Descriptor) {
	id, err := a.reg.FoundByTrigger(jobID, found)
	if err != nil {
		a.log.Warn("search match not collected", logx.Int64("trigger", jobID), logx.String("gid", found.GroupID), logx.Err(err))
		return
	}
	a.log.Info("search match collecting", logx.Int64("trigger", jobID), logx.Int("id", id), logx.String("gid", found.GroupID))
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

// Call runs fn on the event loop and waits for it.
func (a *App) Call(ctx context.Context, fn func()) error { return a.loop.Call(ctx, fn) }

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return validateMapped(cfg) })

	a.schedulePollers(a.timers, a.pageSize)
	a.sup.Go("event.loop", a.loop.Run)

	a.pool.Start(a.sup.Context())
	a.notif.Start(a.sup.Context())
	a.debug.Start(a.sup.Context())

	if err := a.clock.Add("groupings.start_times", "@every 1s", func() {
		a.loop.Post(func() {
			now := time.Now()
			a.jobGroups.CheckStartTimes(now)
			a.trigGroups.CheckStartTimes(now)
		})
	}); err != nil {
		return err
	}
	if err := a.clock.Add("daily.reset", "@midnight", func() {
		a.loop.Post(a.reg.ResetDaily)
	}); err != nil {
		return err
	}
	a.clock.Start()

	if a.adapter != nil {
		if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
			return err
		}
		a.sup.Go("commands.dispatch", func(c context.Context) error {
			return a.cmdm.DispatchLoop(c, a.updates)
		})
	}

	a.sup.Go("registry.halt", a.watchHalt)

	events, unsub := a.bus.Subscribe(256)
	a.sup.Go("eventbus.watch", func(c context.Context) error {
		defer unsub()
		return a.watchEvents(c, events)
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
		return nil
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started", logx.Bool("telegram", a.adapter != nil), logx.String("config", a.cfgm.Path()))
	return nil
}

// watchEvents logs bus traffic. The bus may drop events, so a halt is only
// logged here; watchHalt owns the shutdown.
func (a *App) watchEvents(ctx context.Context, events <-chan eventbus.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-events:
			if !ok {
				return nil
			}
			a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			if e.Type == string(registry.EventHalted) {
				if ev, ok := e.Data.(registry.Event); ok {
					a.log.Warn("registry halted", logx.String("detail", ev.Detail))
				}
			}
		}
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Cancel first so loops start unwinding immediately.
	a.sup.Cancel()

	// step bounds one shutdown step so a stuck component can't stall the stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem < max {
					max = rem
				}
			}
			if max <= 0 {
				a.log.Warn("stop step skipped (deadline reached)", logx.String("name", name))
				return
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
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
			go func() {
				err := <-done
				a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", time.Since(start)), logx.Err(err))
			}()
		}
	}

	step("clock", time.Second, func(c context.Context) error { a.clock.Stop(c); return nil })
	step("loop", 2*time.Second, func(c context.Context) error {
		select {
		case <-a.loop.Done():
			return nil
		case <-c.Done():
			return c.Err()
		}
	})
	step("debug", time.Second, func(c context.Context) error { a.debug.Stop(c); return nil })
	step("fetch", 3*time.Second, func(c context.Context) error { a.pool.Stop(c); return nil })
	step("notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("adapter", 2*time.Second, func(c context.Context) error {
		if a.adapter == nil {
			return nil
		}
		return a.adapter.Stop(c)
	})
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	a.logs.SetForwarder(nil)
	return a.logs.Close()
}
