// Package app wires the bot together and owns its lifecycle.
package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"surveybot/internal/address"
	"surveybot/internal/backend/limesurvey"
	"surveybot/internal/bot"
	"surveybot/internal/config"
	"surveybot/internal/eventbus"
	"surveybot/internal/i18n"
	"surveybot/internal/observability/health"
	"surveybot/internal/outbox"
	rtsup "surveybot/internal/runtime/supervisor"
	"surveybot/internal/storage"
	"surveybot/internal/survey"
	"surveybot/internal/task/scheduler"
	kit "surveybot/internal/transport"
	telegram "surveybot/internal/transport/telegram/adapter"
	"surveybot/internal/transport/telegram/router"
	"surveybot/pkg/logx"
	"surveybot/pkg/tgui"
)

type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor
	regs *rtsup.Registry

	log    logx.Logger
	logs   *logx.Service
	bus    eventbus.Bus
	events *eventbus.Counter
	store  storage.Store

	adapter *telegram.Adapter
	backend *limesurvey.Backend
	exec    *bot.Executor
	outbox  *outbox.Service
	survey  *survey.Service
	addr    *address.Service
	holder  *address.Holder
	bot     *bot.Bot
	cmdm    *router.CommandManager
	sched   *scheduler.Service
	http    *health.Service

	updates chan kit.Update
}

// NewApp loads the config and builds every component. Nothing runs until Start.
func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	adCfg, err := mapAdapterConfig(cfg)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(adCfg, logx.NewConsole(cfg.Logging.Level).With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	// Operator logging starts disabled so Apply does not warn before the
	// target chat is set.
	logCfg := mapLogConfig(cfg)
	bootCfg := logCfg
	bootCfg.Operator.Enabled = false
	logSvc, log := logx.New(bootCfg, ad)
	logSvc.SetOperatorTarget(operatorChat(cfg), cfg.Logging.Telegram.ThreadID)
	logSvc.Apply(logCfg)
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	if store != nil {
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	tr, err := i18n.New(cfg.Survey.Locale)
	if err != nil {
		return nil, err
	}

	bc, err := mapBackendConfig(cfg)
	if err != nil {
		return nil, err
	}
	backend := limesurvey.NewBackend(
		limesurvey.New(bc, log.With(logx.String("comp", "limesurvey"))),
		limesurvey.CatalogOptions{AddressQuestions: cfg.Address.QuestionCodes, KeepImages: cfg.Survey.ExtractImages},
	)

	tokens := tgui.NewTokenStore(0, 0)
	exec := bot.NewExecutor(bot.ExecutorOptions{
		Adapter:    ad,
		Translator: tr,
		Submitter:  backend,
		Store:      store,
		Tokens:     tokens,
		Bus:        bus,
		Log:        log,
		Classify:   telegram.ClassifySendError,
	})

	oc, err := mapOutboxConfig(cfg)
	if err != nil {
		return nil, err
	}
	ob := outbox.New(oc, exec, log.With(logx.String("comp", "outbox")), bus)

	botSet, surveySet, err := mapBotSettings(cfg)
	if err != nil {
		return nil, err
	}
	svc := survey.NewService(survey.Options{
		Catalogs: survey.NewCachedCatalogs(backend),
		Sink:     ob,
		Bus:      bus,
		Log:      log.With(logx.String("comp", "survey")),
		Settings: surveySet,
	})

	holder := address.NewHolder()
	var addrSvc *address.Service
	if src := mapAddressSource(cfg, log.With(logx.String("comp", "address"))); src != nil {
		addrSvc = address.NewService(src, holder, log.With(logx.String("comp", "address")), bus)
	}

	opts := bot.Options{
		Survey:     svc,
		Executor:   exec,
		Translator: tr,
		Store:      store,
		Addresses:  holder,
		Surveys:    backend,
		Bus:        bus,
		Log:        log,
		Settings:   botSet,
	}
	if addrSvc != nil {
		opts.RefreshAddresses = addrSvc.Refresh
	}
	b := bot.New(opts)

	username := cfg.Telegram.BotUsername
	if username == "" {
		username = ad.Username()
	}
	cmdm := router.NewCommandManager(log.With(logx.String("comp", "commands")), ad, router.Options{
		Owners:    cfg.Telegram.OwnerUserIDs,
		Username:  username,
		Tokens:    tokens,
		Workers:   cfg.Telegram.Workers,
		QueueSize: cfg.Telegram.QueueSize,
		Timeout:   handlerTimeout(cfg),
	})

	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		return nil, err
	}
	sched := scheduler.New(schedCfg, log.With(logx.String("comp", "scheduler")), bus)

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		regs:    rtsup.NewRegistry(),
		log:     log,
		logs:    logSvc,
		bus:     bus,
		events:  eventbus.NewCounter(),
		store:   store,
		adapter: ad,
		backend: backend,
		exec:    exec,
		outbox:  ob,
		survey:  svc,
		addr:    addrSvc,
		holder:  holder,
		bot:     b,
		cmdm:    cmdm,
		sched:   sched,
		updates: make(chan kit.Update, 256),
	}

	hc, err := mapHealthConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.http = health.New(hc, a.healthSources(adCfg.WebhookURL != ""), log)
	return a, nil
}

func (a *App) healthSources(webhook bool) health.Sources {
	src := health.Sources{
		Sessions: func() any {
			return map[string]any{"stats": a.survey.Stats(), "sessions": a.survey.Snapshot()}
		},
		Events: func() any {
			return map[string]any{
				"counts":               a.events.Snapshot(),
				"dropped":              eventbus.Dropped(a.bus),
				"operator_log_dropped": a.logs.Dropped(),
			}
		},
		Supervisors: func() any { return a.regs.Snapshots() },
		Scheduler:   func() any { return a.sched.Snapshot() },
		Outbox:      func() any { return a.outbox.Stats() },
		Address: func() any {
			snap := a.holder.Load()
			out := map[string]any{"enabled": a.addr != nil}
			if snap != nil && snap.Index != nil {
				out["words"] = snap.Index.Len()
				out["source"] = snap.Source
				out["built_at"] = snap.BuiltAt
			}
			return out
		},
	}
	if webhook {
		src.Webhook = func() http.Handler { return a.adapter.WebhookHandler() }
	}
	return src
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

// Reloaded delivers every applied config; main uses it for sd_notify.
func (a *App) Reloaded(buffer int) (<-chan *config.Config, func()) {
	ch := a.cfgm.Subscribe(buffer)
	return ch, func() { a.cfgm.Unsubscribe(ch) }
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.regs.Set("app", a.sup)
	run := a.sup.Context()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		// everything the live apply path maps must map cleanly
		if _, _, err := mapBotSettings(cfg); err != nil {
			return err
		}
		if _, err := mapOutboxConfig(cfg); err != nil {
			return err
		}
		if _, err := mapSchedulerConfig(cfg); err != nil {
			return err
		}
		_, err := mapHealthConfig(cfg)
		return err
	})

	// the event counter subscribes first so startup events are counted
	events, unsub := a.bus.Subscribe(256)
	a.sup.Go0("eventbus.count", func(c context.Context) {
		defer unsub()
		a.events.Run(c, events)
	})

	a.outbox.Start(run)
	a.regs.Set("outbox", a.outbox.Supervisor())

	a.http.Start(run)
	a.regs.Set("http", a.http.Supervisor())

	if err := a.adapter.Start(run, a.updates); err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	a.regs.Set("telegram.adapter", a.adapter.Supervisor())

	a.cmdm.SetMenuSupervisor(a.sup)
	a.bot.Register(a.cmdm)
	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.cmdm.DispatchLoop(c, a.updates)
	})

	cfg := a.cfgm.Get()
	a.syncJobs(cfg)
	if a.sched.Enabled() {
		a.sched.Start(run)
	}
	if a.addr != nil {
		// first build in the background; suggestions are empty until it lands
		a.sup.Go0("address.initial", func(c context.Context) {
			if err := a.addr.Refresh(c); err != nil {
				a.log.Warn("initial address index build failed", logx.Err(err))
			}
		})
	}

	a.sup.Go0("config.reload", a.reloadLoop)
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	// router supervisor exists once the dispatch loop runs
	a.sup.Go0("registry.router", func(c context.Context) {
		t := time.NewTicker(100 * time.Millisecond)
		defer t.Stop()
		for {
			if sup := a.cmdm.Supervisor(); sup != nil {
				a.regs.Set("telegram.router", sup)
				return
			}
			select {
			case <-c.Done():
				return
			case <-t.C:
			}
		}
	})

	a.log.Info("app started",
		logx.Int64("survey_id", cfg.Survey.SurveyID),
		logx.Bool("webhook", cfg.Telegram.Webhook.URL != ""),
		logx.Bool("storage", a.store != nil),
		logx.Bool("address", a.addr != nil),
	)
	return nil
}

// reloadLoop applies hot-reloadable sections. Restart-only sections are
// logged and left alone.
func (a *App) reloadLoop(c context.Context) {
	sub := a.cfgm.Subscribe(8)
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
			// coalesce bursts
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
}

func (a *App) applyConfig(c context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if restart := config.RestartRequired(sections); len(restart) > 0 {
		a.log.Warn("config sections changed that need a restart", logx.String("sections", strings.Join(restart, ",")))
	}

	// target before Apply so enabling operator logs does not warn
	a.logs.SetOperatorTarget(operatorChat(newCfg), newCfg.Logging.Telegram.ThreadID)
	a.logs.Apply(mapLogConfig(newCfg))

	a.cmdm.SetOwners(newCfg.Telegram.OwnerUserIDs)

	if botSet, surveySet, err := mapBotSettings(newCfg); err != nil {
		a.log.Warn("invalid survey config; keeping previous", logx.Err(err))
	} else {
		a.bot.Apply(botSet)
		a.survey.SetSettings(surveySet)
		if oldCfg.Survey.SurveyID != newCfg.Survey.SurveyID {
			a.survey.Catalogs().Invalidate(oldCfg.Survey.SurveyID)
		}
	}

	if oc, err := mapOutboxConfig(newCfg); err != nil {
		a.log.Warn("invalid outbox config; keeping previous", logx.Err(err))
	} else {
		a.outbox.Apply(oc)
	}

	if sc, err := mapSchedulerConfig(newCfg); err != nil {
		a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
	} else {
		a.sched.Apply(sc)
		a.syncJobs(newCfg)
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Cancel the run context first so loops start unwinding.
	a.sup.Cancel()

	// step bounds one shutdown step so a stuck component cannot stall the rest.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				rem := time.Until(dl)
				if rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
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

	// Inputs first, then timers, then the effect pipeline so queued messages drain.
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("survey", time.Second, func(context.Context) error { a.survey.Stop(); return nil })
	step("outbox", 3*time.Second, func(c context.Context) error { a.outbox.Stop(c); return nil })
	step("http", time.Second, func(c context.Context) error { a.http.Stop(c); return nil })
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
