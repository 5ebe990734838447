package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"telegram-weather-bot/internal/application"
	"telegram-weather-bot/internal/config"
	"telegram-weather-bot/internal/domain/ports/adapter"
	"telegram-weather-bot/internal/domain/ports/repository"
	tele "telegram-weather-bot/internal/infra/adapters/telegram"
	"telegram-weather-bot/internal/infra/adapters/weather"
	"telegram-weather-bot/internal/infra/db/mongodb"
	pg "telegram-weather-bot/internal/infra/db/postgres"
	"telegram-weather-bot/internal/infra/i18n"
	"telegram-weather-bot/internal/infra/logging"
	"telegram-weather-bot/internal/infra/metrics"
	red "telegram-weather-bot/internal/infra/redis"
	"telegram-weather-bot/internal/infra/sched"
	"telegram-weather-bot/internal/infra/web"
	"telegram-weather-bot/internal/infra/worker"
	"telegram-weather-bot/internal/usecase"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (logging bot, console logs)")
	flag.Parse()

	mgr := config.NewManager(*cfgPath, *devMode)
	cfg, err := mgr.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("[DEV MODE] enabled")
	}
	metrics.SetBuildInfo(version, commit)

	// ---- Storage ----
	users, closeStore, err := openUserStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.Database.Driver).Msg("storage init failed")
	}
	defer closeStore()

	// ---- Redis (optional) ----
	var (
		limiter tele.CommandLimiter
		locker  red.Locker
	)
	if cfg.Redis.URL != "" {
		redisClient, err := red.NewClient(ctx, &cfg.Redis)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis init failed")
		}
		defer redisClient.Close()
		limiter = red.NewRateLimiter(redisClient)
		locker = red.NewLocker(redisClient)
	} else {
		logger.Info().Msg("redis not configured; rate limiting and broadcast lock disabled")
	}

	// ---- Weather provider ----
	// The key is read on every request so a panel update applies at once.
	provider := weather.NewOpenWeatherMapClient(
		cfg.Weather.BaseURL,
		cfg.Weather.Units,
		func() string { return mgr.Get().Weather.APIKey },
		&http.Client{Timeout: 10 * time.Second},
		logger,
	)

	tr := i18n.MustDefault()

	// ---- Use cases ----
	userUC := usecase.NewUserUseCase(users, cfg.Users.CityHistoryCap, logger)
	weatherUC := usecase.NewWeatherUseCase(provider, tr, logger)
	statsUC := usecase.NewStatsUseCase(users, logger)

	// ---- Telegram ----
	var (
		bot     adapter.TelegramBotAdapter
		realBot *tele.RealTelegramBotAdapter
	)
	if cfg.Bot.Token != "" {
		realBot, err = tele.NewRealTelegramBotAdapter(cfg.Bot.Token, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("telegram bot init failed")
		}
		bot = realBot
	} else {
		logger.Warn().Msg("no bot token; outgoing messages are logged only")
		bot = tele.NewNoopBotAdapter(logger)
	}

	dispatcher := application.NewDispatcher(userUC, weatherUC, tr, logger, cfg.Bot.RejectBlockedUsers)
	ingress := tele.NewIngress(dispatcher, bot, limiter, cfg.Redis.CommandLimit, tr, logger)

	if realBot != nil {
		if err := configureBot(ctx, realBot, cfg.Bot, tr, logger); err != nil {
			logger.Fatal().Err(err).Str("mode", cfg.Bot.Mode).Msg("telegram bot setup failed")
		}
		if cfg.Bot.Mode == "polling" {
			go func() {
				if err := realBot.StartPolling(ctx, ingress, cfg.Bot.Workers); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error().Err(err).Msg("polling stopped")
				}
			}()
			logger.Info().Int("workers", cfg.Bot.Workers).Msg("polling started")
		}
	}

	// ---- Broadcast ----
	pool := worker.NewPool(cfg.Scheduler.Workers, logger)
	pool.Start(ctx)
	defer pool.Stop()

	broadcastUC := usecase.NewBroadcastUseCase(users, weatherUC, bot, pool, logger)
	schedule, err := sched.ParseSchedule(cfg.Scheduler.BroadcastCron, cfg.Scheduler.BroadcastInterval)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid broadcast schedule")
	}
	broadcaster := sched.NewBroadcastWorker(schedule, broadcastUC, locker, cfg.Scheduler.LockTTL, cfg.Scheduler.RunOnStart, logger)
	go func() {
		if err := broadcaster.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("broadcast worker stopped")
		}
	}()

	// ---- Config reload ----
	go applyReloads(ctx, mgr.Subscribe(4), dispatcher, logger)
	go func() {
		if err := mgr.Watch(ctx, logger); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn().Err(err).Msg("config watcher stopped")
		}
	}()

	// ---- HTTP ----
	secret := cfg.Admin.JWTSecret
	if secret == "" && cfg.AdminEnabled() {
		logger.Warn().Msg("admin.jwt_secret not set; using an ephemeral secret, sessions end on restart")
		secret = uuid.NewString()
	}
	srv := web.NewServer(web.Deps{
		Webhook:  ingress,
		Users:    userUC,
		Stats:    statsUC,
		Settings: mgr,
		Auth:     web.NewAuthManager(secret, cfg.Admin.SecureCookie, cfg.Admin.SessionTTL),
		Dev:      cfg.Runtime.Dev,
		Logger:   logger,
	})
	go srv.LoginLimiter().Cleanup(ctx, 5*time.Minute)

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Admin.Port),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", httpSrv.Addr).Str("mode", cfg.Bot.Mode).Msg("http server listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	// ---- Graceful shutdown ----
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info().Msg("shutting down")

	if realBot != nil {
		realBot.StopPolling()
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown")
	}
	cancel()
	logger.Info().Msg("bye")
}

// openUserStore connects the configured backend and returns the user
// repository with its cleanup func.
func openUserStore(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (repository.UserRepository, func(), error) {
	switch cfg.Database.Driver {
	case "mongo":
		client, db, err := mongodb.Connect(ctx, cfg.Database.URL, cfg.Database.Name, uint64(cfg.Database.MaxConns))
		if err != nil {
			return nil, nil, err
		}
		closeFn := func() {
			dctx, dcancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer dcancel()
			_ = client.Disconnect(dctx)
		}
		return mongodb.NewMongoUserRepo(db), closeFn, nil

	default:
		pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
		if err != nil {
			return nil, nil, err
		}
		if err := pg.Migrate(ctx, pool, logger); err != nil {
			pool.Close()
			return nil, nil, err
		}
		go pg.ReportPoolStats(ctx, pool, 15*time.Second)
		return pg.NewPostgresUserRepo(pool), pool.Close, nil
	}
}
