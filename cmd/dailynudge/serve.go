package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"daily-nudge/internal/api"
	"daily-nudge/internal/bot"
	"daily-nudge/internal/config"
	"daily-nudge/internal/llm"
	"daily-nudge/internal/logging"
	"daily-nudge/internal/metrics"
	"daily-nudge/internal/model"
	"daily-nudge/internal/planner"
	"daily-nudge/internal/push"
	"daily-nudge/internal/repository"
	"daily-nudge/internal/service"
	"daily-nudge/internal/timers"
)

const shutdownTimeout = 10 * time.Second

func serve(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	log := logging.New(cfg.Log)
	m := metrics.New()

	stores, closeStores, err := openStores(cfg, log)
	if err != nil {
		return err
	}
	defer closeStores()

	senders := map[string]push.Sender{}
	if cfg.Push.VAPIDPrivateKey != "" {
		senders[model.KindWebPush] = push.NewWebPushSender(cfg.Push, &http.Client{Timeout: 15 * time.Second})
	} else {
		log.Warn().Msg("VAPID keys not configured, web push disabled")
	}

	var tgAPI *tgbotapi.BotAPI
	if cfg.Telegram.Token != "" {
		tgAPI, err = tgbotapi.NewBotAPI(cfg.Telegram.Token)
		if err != nil {
			return fmt.Errorf("create bot api: %w", err)
		}
		senders[model.KindTelegram] = push.NewTelegramSender(tgAPI)
	}

	limiter := rate.NewLimiter(rate.Limit(cfg.Push.RatePerSec), cfg.Push.Burst)
	dispatcher := push.NewDispatcher(stores.Subscriptions, senders, limiter, m, logging.Component(log, "push"))

	registry := timers.NewRegistry(dispatcher, timers.DefaultQueueSize, m, logging.Component(log, "timers"))
	defer registry.Stop()
	go registry.Run(ctx)

	var completer llm.Completer
	if c := llm.NewClient(cfg.LLM, logging.Component(log, "llm")); c != nil {
		completer = c
	} else {
		log.Warn().Msg("no inference backend configured, plans fall back to empty")
	}
	gen := planner.NewGenerator(completer, cfg.LLM.Timeout, m, logging.Component(log, "planner"))
	coach := planner.NewCoach(gen, logging.Component(log, "coach"))

	plans := service.NewPlanService(stores, repository.NewGate(), registry, gen, m, logging.Component(log, "plans"))
	calendar := service.NewCalendarService(stores.Plans)
	reminders := service.NewReminderService(stores, dispatcher, m, logging.Component(log, "reminders"))

	scheduler := service.NewSchedulerService(time.UTC, logging.Component(log, "cron"))
	if err := reminders.Register(ctx, scheduler); err != nil {
		return fmt.Errorf("schedule reminders: %w", err)
	}
	if err := reminders.RegisterMaintenance(ctx, scheduler, cfg.MaintenanceAt); err != nil {
		return fmt.Errorf("schedule maintenance: %w", err)
	}
	scheduler.Start()
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		scheduler.Stop(stopCtx)
	}()

	server := api.NewServer(api.Deps{
		Planner:        plans,
		Calendar:       calendar,
		Preferences:    stores.Preferences,
		Subscriptions:  stores.Subscriptions,
		Notifier:       dispatcher,
		Coach:          coach,
		VAPIDPublicKey: cfg.Push.VAPIDPublicKey,
		CORSOrigins:    cfg.CORSOrigins,
		Metrics:        m.Handler(),
	}, logging.Component(log, "http"))
	httpSrv := server.NewHTTPServer(cfg.HTTPAddr)

	ln, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.HTTPAddr, err)
	}
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- httpSrv.Serve(ln)
	}()
	log.Info().Str("addr", ln.Addr().String()).Msg("API up")

	if tgAPI != nil {
		telegramBot := bot.New(tgAPI, plans, stores, logging.Component(log, "bot"))
		go func() {
			if err := telegramBot.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("bot stopped with error")
			}
		}()
	}

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Warn().Err(err).Msg("sd_notify ready")
	} else if ok {
		log.Debug().Msg("notified systemd")
	}

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
	}

	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}
	log.Info().Msg("shutdown complete")
	return nil
}

// openStores selects the SQLite stores when DATABASE_URL is set and the
// in-memory stores otherwise.
func openStores(cfg config.Config, log zerolog.Logger) (repository.Stores, func(), error) {
	if cfg.DatabaseURL == "" {
		return repository.NewMemoryStores(cfg.DefaultTimezone), func() {}, nil
	}
	db, err := repository.NewDB(cfg.DatabaseURL, logging.Component(log, "db"))
	if err != nil {
		return repository.Stores{}, nil, fmt.Errorf("db: %w", err)
	}
	closeFn := func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	return repository.NewSQLStores(db, cfg.DefaultTimezone), closeFn, nil
}
