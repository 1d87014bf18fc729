// Package app wires configuration, logging, storage, the delivery queue and
// its HTTP surface into one process lifecycle.
package app

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"mailqueue/internal/config"
	"mailqueue/internal/delivery"
	"mailqueue/internal/eventbus"
	"mailqueue/internal/housekeeping"
	"mailqueue/internal/httpapi"
	"mailqueue/internal/mailflows"
	"mailqueue/internal/notifications"
	rtsup "mailqueue/internal/runtime/supervisor"
	"mailqueue/internal/storage"
	"mailqueue/internal/transport/telegram/alert"
	logx "mailqueue/pkg/logx"
)

type StopReason string

const (
	StopSignal     StopReason = "signal"
	StopFatalError StopReason = "fatal_error"
	StopAppStop    StopReason = "app_stop"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store     storage.Store
	transport *transport
	queue     *delivery.Queue
	feed      *notifications.Service
	flows     *mailflows.Service
	http      *httpapi.Server
	hk        *housekeeping.Service
}

// New loads the config at cfgPath (plus the optional .env at envPath) and
// builds every component. Nothing runs until Start.
func New(cfgPath, envPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath, envPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "app"))

	// A nil *alert.Alerter must not end up inside the interface.
	var alerter logx.Alerter
	if cfg.Telegram.Token != "" && cfg.Telegram.AlertChatID != 0 {
		al, err := alert.New(cfg.Telegram.Token, cfg.Telegram.AlertChatID)
		if err != nil {
			bootLog.Warn("telegram alerts disabled", logx.Err(err))
		} else {
			alerter = al
		}
	} else if cfg.Logging.Alert.Enabled {
		bootLog.Warn("logging.alert enabled but telegram token/alert_chat_id missing")
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg), alerter)
	appLog := log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store = st
		appLog.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	feed := notifications.New(store, log)

	tr := &transport{}
	if err := tr.rebuild(cfg, log); err != nil {
		closeStore(store)
		return nil, err
	}

	policy, err := mapPolicy(cfg)
	if err != nil {
		closeStore(store)
		return nil, err
	}
	opts := []delivery.Option{delivery.WithLogger(log), delivery.WithBus(bus)}
	if store != nil {
		opts = append(opts, delivery.WithArchive(store), delivery.WithMirror(feed))
	}
	queue := delivery.NewQueue(tr, policy, opts...)

	flows := mailflows.New(queue, queue.History(), tr.Configured, mapFlowsConfig(cfg), log)

	hc, err := mapHTTPConfig(cfg)
	if err != nil {
		closeStore(store)
		return nil, err
	}
	var archive httpapi.Archive
	var pruner housekeeping.Pruner
	if store != nil {
		archive, pruner = store, store
	}
	httpSrv := httpapi.New(hc, httpapi.Deps{Queue: queue, Archive: archive, Flows: flows, Feed: feed}, log)

	hkc, err := mapHousekeepingConfig(cfg)
	if err != nil {
		closeStore(store)
		return nil, err
	}
	hk := housekeeping.New(hkc, pruner, log.With(logx.String("comp", "housekeeping")))

	return &App{
		cfgm:      cfgm,
		log:       appLog,
		logs:      logSvc,
		bus:       bus,
		store:     store,
		transport: tr,
		queue:     queue,
		feed:      feed,
		flows:     flows,
		http:      httpSrv,
		hk:        hk,
	}, nil
}

func closeStore(st storage.Store) {
	if st != nil {
		_ = st.Close()
	}
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

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	// Reject a reload before commit when any component would refuse it.
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := mapPolicy(cfg); err != nil {
			return err
		}
		if _, err := mapHTTPConfig(cfg); err != nil {
			return err
		}
		if _, _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		if _, err := mapHousekeepingConfig(cfg); err != nil {
			return err
		}
		_, err := newCarrier(cfg, logx.Nop())
		return err
	})

	if err := a.hk.Start(); err != nil {
		return fmt.Errorf("housekeeping: %w", err)
	}
	a.http.Start(a.sup.Context())

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go("eventbus.log", func(c context.Context) error {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				fields := []logx.Field{logx.String("type", e.Type), logx.Time("time", e.Time)}
				if me, ok := e.Data.(delivery.MailEvent); ok {
					fields = append(fields, logx.String("to", me.To), logx.Int("attempt", me.Attempt))
				}
				a.log.Debug("event", fields...)
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
		return nil
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("app started", logx.String("transport", a.transport.Mode()), logx.Bool("storage", a.store != nil))
	return nil
}

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		var newCfg *config.Config
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			newCfg = cfg
		}
		// Coalesce bursts: keep only the latest config.
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
		a.apply(ctx, lastApplied, newCfg)
		lastApplied = newCfg
	}
}

func (a *App) apply(ctx context.Context, prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	if slices.Contains(sections, "storage") {
		a.log.Warn("storage config changed; restart required for changes to take effect")
	}
	if slices.Contains(sections, "telegram") {
		a.log.Warn("telegram config changed; restart required for alert delivery changes")
	}

	a.logs.Apply(mapLoggingConfig(next))

	if p, err := mapPolicy(next); err != nil {
		a.log.Warn("invalid delivery config; keeping previous", logx.Err(err))
	} else {
		a.queue.Apply(p)
	}

	if slices.Contains(sections, "smtp") || slices.Contains(sections, "mail") {
		if err := a.transport.rebuild(next, a.log); err != nil {
			a.log.Warn("invalid smtp config; keeping previous transport", logx.Err(err))
		} else {
			a.log.Info("transport rebuilt", logx.String("mode", a.transport.Mode()))
		}
	}

	if hc, err := mapHTTPConfig(next); err != nil {
		a.log.Warn("invalid http config; keeping previous", logx.Err(err))
	} else {
		a.http.Apply(ctx, hc)
	}

	if hkc, err := mapHousekeepingConfig(next); err != nil {
		a.log.Warn("invalid housekeeping config; keeping previous", logx.Err(err))
	} else if slices.Contains(sections, "housekeeping") {
		if err := a.hk.Apply(hkc); err != nil {
			a.log.Warn("housekeeping reschedule failed", logx.Err(err))
		}
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	// step bounds one shutdown stage so a stuck component cannot stall the rest.
	step := func(name string, budget time.Duration, fn func(context.Context) error) {
		start := time.Now()
		if dl, ok := ctx.Deadline(); ok {
			budget = min(budget, time.Until(dl))
		}
		stepCtx, cancel := context.WithTimeout(ctx, max(budget, 0))
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
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	// HTTP first so no new mail is submitted while the queue drains.
	step("http", 3*time.Second, func(c context.Context) error { a.http.Stop(c); return nil })
	step("queue", 10*time.Second, a.queue.Close)
	step("housekeeping", 2*time.Second, func(c context.Context) error { a.hk.Stop(c); return nil })
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})
	step("supervisor", 2*time.Second, a.sup.Wait)

	st := a.queue.Stats()
	a.log.Info("stopped", logx.Uint64("sent", st.Sent), logx.Uint64("failed", st.Failed), logx.Uint64("skipped", st.Skipped))
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
