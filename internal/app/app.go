package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"tabhop/internal/config"
	"tabhop/internal/control"
	"tabhop/internal/eventbus"
	"tabhop/internal/hop/scheduler"
	"tabhop/internal/nativehost"
	"tabhop/internal/observability/pprof"
	"tabhop/internal/provider"
	"tabhop/internal/remote/telegram"
	"tabhop/internal/rpc"
	"tabhop/internal/runtime/supervisor"
	"tabhop/internal/storage"
	"tabhop/internal/trigger"
	logx "tabhop/pkg/logx"
)

// Options selects how the daemon reaches the browser.
type Options struct {
	ConfigPath string
	// NativeIn and NativeOut carry the extension's native messaging stream.
	// Without them the in-memory demo provider is used.
	NativeIn  io.Reader
	NativeOut io.Writer
	// DemoItems is the size of the demo pool; 0 means 8.
	DemoItems int
}

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   *eventbus.MemBus
	store storage.Store

	prov   scheduler.ItemProvider
	bridge *nativehost.Bridge
	in     io.Reader

	sched    *scheduler.Service
	ctl      *control.Controller
	rpc      *rpc.Server
	triggers *trigger.Service
	tg       *telegram.Service
	debug    *pprof.Service
}

func NewApp(opts Options) (*App, error) {
	cfgm := config.NewManager(opts.ConfigPath)
	cfg, err := cfgm.LoadOrDefault()
	if err != nil {
		return nil, err
	}
	if err := checkExposure(cfg); err != nil {
		return nil, err
	}

	logSvc, root := logx.New(loggingConfig(cfg))
	log := root.With(logx.String("comp", "app"))
	cfgm.SetLogger(root.With(logx.String("comp", "config")))

	bus := eventbus.New()

	sc, err := cfg.StorageConfig()
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, root.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	if store != nil {
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	a := &App{
		cfgm:  cfgm,
		log:   log,
		logs:  logSvc,
		bus:   bus,
		store: store,
	}
	if err := a.build(cfg, opts, root); err != nil {
		if store != nil {
			_ = store.Close()
		}
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *config.Config, opts Options, root logx.Logger) error {
	if opts.NativeIn != nil && opts.NativeOut != nil {
		nh, err := cfg.NativeHostConfig()
		if err != nil {
			return err
		}
		a.bridge = nativehost.New(opts.NativeIn, opts.NativeOut, nh, root.With(logx.String("comp", "nativehost")))
		a.prov = a.bridge
		a.in = opts.NativeIn
	} else {
		n := opts.DemoItems
		if n <= 0 {
			n = 8
		}
		a.prov = provider.Demo(n, root.With(logx.String("comp", "provider")))
	}

	tun, err := cfg.Tunables()
	if err != nil {
		return err
	}
	a.sched = scheduler.New(a.prov, tun, root.With(logx.String("comp", "scheduler")), a.bus)

	set, err := cfg.ControlSettings()
	if err != nil {
		return err
	}
	a.ctl = control.New(a.sched, a.store, set, root.With(logx.String("comp", "control")))
	if a.bridge != nil {
		a.bridge.Bind(a.sched, a.ctl)
	}

	if cfg.RPC.Enabled {
		a.rpc = rpc.NewServer(cfg.RPCServerConfig(), a.ctl, root.With(logx.String("comp", "rpc")))
	}

	a.triggers = trigger.New(a.ctl, root.With(logx.String("comp", "trigger")), a.bus)
	if err := a.triggers.Apply(cfg.TriggerConfig()); err != nil {
		a.log.Warn("some triggers were not registered", logx.Err(err))
	}

	if telegramEnabled(cfg) {
		tg, err := telegram.New(telegramConfig(cfg), a.ctl, root.With(logx.String("comp", "telegram")))
		if err != nil {
			return fmt.Errorf("telegram: %w", err)
		}
		a.tg = tg
	}

	a.debug = pprof.New(cfg.DebugServerConfig(), a.status, root.With(logx.String("comp", "debug")))
	return nil
}

// Status is the document served by the debug endpoint.
type Status struct {
	Scheduler  scheduler.State    `json:"scheduler"`
	Tunables   scheduler.Tunables `json:"tunables"`
	Triggers   []trigger.Info     `json:"triggers"`
	Goroutines []supervisor.Stats `json:"goroutines"`
	Bus        eventbus.Stats     `json:"bus"`
}

func (a *App) status(context.Context) any {
	st := Status{
		Scheduler: a.sched.State(),
		Tunables:  a.sched.Tunables(),
		Triggers:  a.triggers.Snapshot(),
		Bus:       a.bus.Stats(),
	}
	if a.sup != nil {
		st.Goroutines = a.sup.Snapshot()
	}
	return st
}

// Controller exposes the operation surface, mainly for tests.
func (a *App) Controller() *control.Controller { return a.ctl }

// Done is closed when the app supervisor context is canceled (fatal error,
// extension disconnect or Stop()).
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
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))), supervisor.WithCancelOnError(true))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return checkExposure(cfg)
	})

	// Forwarders subscribe when built, so build them before anything that can start a run.
	if a.store != nil {
		a.sup.Go0("journal", journal(a.bus, a.store, a.log.With(logx.String("comp", "journal"))))
	}

	if a.bridge != nil {
		a.sup.Go("nativehost.forward", a.bridge.Forwarder(a.bus))
		a.sup.Go("nativehost", func(c context.Context) error {
			err := a.bridge.Run(c)
			// the browser owns our lifetime in native messaging mode
			a.log.Info("native host connection closed")
			a.sup.Cancel()
			return err
		})
	}

	if a.rpc != nil {
		a.sup.Go("rpc.forward", a.rpc.Forwarder(a.bus))
		a.sup.GoRestart("rpc", a.rpc.ListenAndServe,
			supervisor.WithRestartBackoff(time.Second, 30*time.Second),
			supervisor.WithMaxRestarts(5))
	}

	a.triggers.Start(a.sup.Context())

	if a.tg != nil {
		a.sup.Go0("telegram.notify", a.tg.Notifier(a.bus))
		if err := a.tg.Start(a.sup.Context()); err != nil {
			return err
		}
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				// hop.state fires on every transition
				if e.Type == scheduler.TopicState {
					continue
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	a.debug.Start(a.sup.Context())
	a.startReload()

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})
	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		watchdog(c, a.log)
	})

	sdNotify(a.log, daemon.SdNotifyReady)
	a.log.Info("app started",
		logx.Bool("nativehost", a.bridge != nil),
		logx.Bool("rpc", a.rpc != nil),
		logx.Bool("storage", a.store != nil),
		logx.Bool("telegram", a.tg != nil),
		logx.Int("triggers", len(a.triggers.Snapshot())))
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	sdNotify(a.log, daemon.SdNotifyStopping)

	// Triggers go first so nothing restarts the run being stopped.
	a.step(ctx, "triggers", time.Second, func(c context.Context) error { a.triggers.Stop(c); return nil })
	a.step(ctx, "scheduler", time.Second, func(c context.Context) error {
		a.sched.StopWithReason(c, scheduler.ReasonShutdown)
		return nil
	})

	a.sup.Cancel()

	a.step(ctx, "telegram", 3*time.Second, func(c context.Context) error {
		if a.tg != nil {
			return a.tg.Stop(c)
		}
		return nil
	})
	a.step(ctx, "debug", time.Second, func(c context.Context) error { a.debug.Stop(c); return nil })
	a.step(ctx, "rpc", time.Second, func(context.Context) error {
		if a.rpc != nil {
			a.rpc.Close()
		}
		return nil
	})
	a.step(ctx, "nativehost", time.Second, func(context.Context) error {
		// Run is blocked in a read; closing stdin is the only way out.
		if cl, ok := a.in.(io.Closer); ok {
			return cl.Close()
		}
		return nil
	})

	a.step(ctx, "supervisor", 2*time.Second, func(c context.Context) error {
		err := a.sup.Wait(c)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	a.step(ctx, "storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// step runs one shutdown step with an upper bound so one component can't stall the whole stop.
func (a *App) step(ctx context.Context, name string, limit time.Duration, fn func(context.Context) error) {
	start := time.Now()
	a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", limit))

	// respect the caller's deadline; never extend it
	if dl, ok := ctx.Deadline(); ok {
		limit = min(limit, time.Until(dl))
	}
	if limit <= 0 {
		a.log.Warn("stop step skipped, no time left", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

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
			logx.Duration("elapsed", time.Since(start)))
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
