package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"eventapp-telegram-bot/internal/bot"
	"eventapp-telegram-bot/internal/common/config"
	"eventapp-telegram-bot/internal/common/logger"
	accrepo "eventapp-telegram-bot/internal/features/account/repository/postgres"
	idrepo "eventapp-telegram-bot/internal/features/identity/repository/postgres"
	idsvc "eventapp-telegram-bot/internal/features/identity/service"
	linksvc "eventapp-telegram-bot/internal/features/linking/service"
	sessionrepo "eventapp-telegram-bot/internal/features/session/repository"
	sessionmem "eventapp-telegram-bot/internal/features/session/repository/memory"
	sessionredis "eventapp-telegram-bot/internal/features/session/repository/redis"
	tokensvc "eventapp-telegram-bot/internal/features/token/service"
	apihttp "eventapp-telegram-bot/internal/http"
	"eventapp-telegram-bot/internal/metrics"
	"eventapp-telegram-bot/internal/platform/postgres"
	"eventapp-telegram-bot/internal/platform/redis"
	"eventapp-telegram-bot/internal/service/eventapp"
	"eventapp-telegram-bot/internal/service/telegram"
)

const (
	janitorInterval = time.Minute
	shutdownTimeout = 30 * time.Second
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server and the Telegram long-poll loop",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx)
		},
	}
}

func serve(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger.Init(serviceName, cfg.Debug, cfg.IsProduction())
	logger.Info().
		Str("env", cfg.Env).
		Bool("debug", cfg.Debug).
		Str("session_backend", cfg.Session.Backend).
		Msg("Starting EventApp Telegram bot")

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(registry)

	// Database
	if cfg.Postgres.AutoMigrate {
		if err := postgres.RunMigrations(cfg.Postgres.DatabaseURL); err != nil {
			return err
		}
		logger.Info().Msg("Database migrations applied")
	}

	pg, err := postgres.NewClient(ctx, cfg)
	if err != nil {
		return err
	}
	defer pg.Close()

	readiness := []apihttp.ReadinessCheck{{Name: "postgres", Check: pg.HealthCheck}}

	// Sessions
	var sessions sessionrepo.Store
	switch cfg.Session.Backend {
	case config.SessionBackendRedis:
		rc, err := redis.Open(ctx, cfg)
		if err != nil {
			return err
		}
		defer rc.Close()
		sessions = sessionredis.New(rc.Client, cfg.Session.IdleTimeout)
		readiness = append(readiness, apihttp.ReadinessCheck{Name: "redis", Check: rc.HealthCheck})
	default:
		store := sessionmem.New(cfg.Session.IdleTimeout, cfg.Session.MaxEntries,
			sessionmem.WithEvictionHook(collector.RecordSessionEvictions))
		go store.Run(runCtx, janitorInterval)
		sessions = store
	}

	// Services
	identities := idsvc.NewResolver(idrepo.NewRepository(pg.DB()))
	accounts := accrepo.NewRepository(pg.DB())

	issuer, err := tokensvc.NewIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	if err != nil {
		return err
	}

	limiter := linksvc.NewAttemptLimiter(cfg.Linking.AttemptsPerMinute, cfg.Linking.AttemptBurst)
	go limiter.Run(runCtx, janitorInterval)

	linking := linksvc.NewService(sessions, identities, accounts, issuer, limiter, collector)

	// Telegram
	tg := telegram.NewClient(&http.Client{Timeout: cfg.Telegram.PollTimeout + 10*time.Second},
		cfg.Telegram.APIBaseURL, cfg.Telegram.BotToken)
	me, err := tg.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("telegram getMe: %w", err)
	}
	logger.Info().Str("bot", me.Username).Int64("bot_id", me.ID).Msg("Telegram bot authorized")

	events := eventapp.NewClient(&http.Client{Timeout: 15 * time.Second}, cfg.EventApp.APIURL, collector)
	if cfg.EventApp.APIURL == "" {
		logger.Warn().Msg("EVENTAPP_API_URL is not set, event listing is disabled")
	}

	dispatcher := bot.NewDispatcher(tg, collector)
	bot.NewHandlers(tg, identities, linking, issuer, events, cfg.EventApp.MiniAppURL).Register(dispatcher)
	poller := bot.NewPoller(tg, dispatcher, cfg.Dispatch.Workers, cfg.Telegram.PollTimeout, collector)

	// HTTP
	router := apihttp.NewRouter(apihttp.RouterConfig{
		Debug:       cfg.Debug,
		CORSOrigins: cfg.Server.CORSOrigins,
		BotToken:    cfg.Telegram.BotToken,
		InitDataTTL: cfg.Telegram.InitDataTTL,
		Telegram:    apihttp.NewTelegramHandlers(identities, linking, issuer),
		Readiness:   readiness,
		Gatherer:    registry,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Int("port", cfg.Server.Port).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	pollDone := make(chan struct{})
	go func() {
		defer close(pollDone)
		_ = poller.Run(runCtx)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("Shutdown signal received")
	case runErr = <-errCh:
		logger.Error().Err(runErr).Msg("HTTP server failed, shutting down")
	}
	cancelRun()

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server forced to shutdown")
	}

	select {
	case <-pollDone:
	case <-shutdownCtx.Done():
		logger.Warn().Msg("Timed out waiting for in-flight bot events")
	}

	logger.Info().Msg("Server exited")
	return runErr
}
