package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cleanbook/internal/api"
	"cleanbook/internal/config"
	"cleanbook/internal/database"
	"cleanbook/internal/domain"
	"cleanbook/internal/events"
	"cleanbook/internal/export"
	"cleanbook/internal/google"
	"cleanbook/internal/logging"
	"cleanbook/internal/metrics"
	"cleanbook/internal/notify"
	"cleanbook/internal/pricing"
	"cleanbook/internal/repository"
	"cleanbook/internal/scheduling"
	"cleanbook/internal/service"
	"cleanbook/internal/servicearea"
	"cleanbook/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, catalog, err := initDatabase(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	gate := servicearea.NewGate(db, logging.Component(logger, "servicearea"))
	if n, err := gate.Seed(ctx, cfg.ServiceArea.SeedPath); err != nil {
		logger.Error().Err(err).Str("seed_path", cfg.ServiceArea.SeedPath).Msg("seed service area")
		return err
	} else if n > 0 {
		logger.Info().Int("zip_codes", n).Msg("Service area seeded")
	}

	rules, err := scheduling.NewRules(cfg.Schedule.OperatingDays, cfg.Schedule.DailyCapacity, cfg.Schedule.TimeSlots)
	if err != nil {
		return fmt.Errorf("schedule rules: %w", err)
	}

	redisClient := initRedis(ctx, cfg, logger)
	if redisClient != nil {
		defer func() { _ = repository.Close(redisClient) }()
	}
	drafts := initDraftRepository(cfg, redisClient, logger)

	bus := events.NewEventBus(logging.Component(logger, "events"))
	bus.Subscribe(events.AllEvents, logEvent(logger))

	notifier, telegram := initNotifier(cfg, logger)
	if telegram != nil {
		reminder, err := notify.NewReminder(db, telegram, cfg.Notifications.Telegram.ReminderTime, cfg.App.Location(), logging.Component(logger, "reminder"))
		if err != nil {
			return err
		}
		go reminder.Start(ctx)
	}

	var (
		syncWorker domain.SyncWorker
		replayer   api.SyncReplayer
	)
	if sheetsWorker := initSheetsSync(ctx, cfg, db, redisClient, logger); sheetsWorker != nil {
		go sheetsWorker.Start(ctx)
		syncWorker, replayer = sheetsWorker, sheetsWorker
	}

	if cfg.Backup.Enabled && db.Driver() == "sqlite3" {
		go database.NewBackupService(db, cfg.Backup, logging.Component(logger, "backup")).Start(ctx)
	}

	bookings := service.NewBookingService(service.Dependencies{
		Store:    db,
		Core:     scheduling.NewCore(rules, db),
		Pricing:  pricing.NewEngine(catalog),
		Gate:     gate,
		Events:   bus,
		Sync:     syncWorker,
		Notifier: notifier,
		Logger:   logging.Component(logger, "bookings"),
	})
	draftService := service.NewDraftService(drafts, bookings, gate, logging.Component(logger, "drafts"))

	ready := func(ctx context.Context) error {
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
		return nil
	}

	httpServer := api.NewHTTPServer(cfg.API, api.Deps{
		Bookings: bookings,
		Drafts:   draftService,
		Zips:     gate,
		Exporter: export.NewExporter(db, rules.Slots, cfg.Exports.Path, logging.Component(logger, "export")),
		Sync:     replayer,
		Ready:    ready,
	}, logger)

	var grpcServer *api.GRPCServer
	if cfg.API.GRPC.Enabled {
		grpcServer, err = api.NewGRPCServer(&cfg.API, ready, logger)
		if err != nil {
			logger.Error().Err(err).Msg("create grpc server")
			return err
		}
	}

	startMetrics(ctx, cfg, logger)

	return startServers(ctx, grpcServer, httpServer, cfg, logger)
}

func loadConfigAndLogger() (*config.Config, *zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, logging.Component(baseLogger, "api-main"), closer, nil
}

// initDatabase opens the store and mirrors the price list into it. The
// priced catalog itself always comes from the file or the defaults.
func initDatabase(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*database.DB, *pricing.Catalog, error) {
	catalog := pricing.DefaultCatalog()
	if cfg.Catalog.Path != "" {
		loaded, err := pricing.LoadCatalog(cfg.Catalog.Path)
		if err != nil {
			logger.Error().Err(err).Str("catalog_path", cfg.Catalog.Path).Msg("load catalog")
			return nil, nil, err
		}
		catalog = loaded
	}

	db, err := database.Open(cfg.Database, logging.Component(logger, "database"))
	if err != nil {
		logger.Error().Err(err).Str("driver", cfg.Database.Driver).Msg("init database")
		return nil, nil, err
	}

	if err := db.SyncCatalog(ctx, catalog.Services, catalog.RoomTypes); err != nil {
		db.Close()
		logger.Error().Err(err).Msg("sync catalog")
		return nil, nil, err
	}
	return db, catalog, nil
}

func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	client := repository.NewRedisClient(cfg.Redis)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := repository.Ping(pingCtx, client); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		_ = client.Close()
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return client
}

func initDraftRepository(cfg *config.Config, client *redis.Client, logger *zerolog.Logger) domain.DraftRepository {
	memory := repository.NewMemoryDraftRepository(cfg.Schedule.DraftTTL)
	if client == nil {
		logger.Info().Msg("Drafts kept in memory")
		return memory
	}
	return repository.NewFailoverDraftRepository(
		repository.NewRedisDraftRepository(client, cfg.Schedule.DraftTTL),
		memory,
		logging.Component(logger, "drafts-store"),
	)
}

// initNotifier always includes the email stub. The Telegram notifier is
// also returned so the reminder can post to the same chat.
func initNotifier(cfg *config.Config, logger *zerolog.Logger) (notify.Notifier, *notify.TelegramNotifier) {
	multi := notify.Multi{notify.NewEmailNotifier(cfg.Notifications.Email, logging.Component(logger, "email"))}

	tg := cfg.Notifications.Telegram
	if !tg.Enabled {
		return multi, nil
	}
	bot, err := notify.NewTelegramBot(tg)
	if err != nil {
		logger.Warn().Err(err).Msg("telegram init failed, continuing without telegram")
		return multi, nil
	}
	telegram := notify.NewTelegramNotifier(bot, tg.AdminChatID, logging.Component(logger, "telegram"))
	logger.Info().Str("bot", bot.Self.UserName).Msg("telegram connected")
	return append(multi, telegram), telegram
}

func initSheetsSync(ctx context.Context, cfg *config.Config, db *database.DB, client *redis.Client, logger *zerolog.Logger) *worker.SheetsWorker {
	if !cfg.Google.Enabled {
		return nil
	}

	sheets, err := google.NewSheetsService(ctx, cfg.Google.GoogleCredentialsFile, cfg.Google.BookingSpreadSheetID)
	if err != nil {
		logger.Warn().Err(err).Msg("google sheets init failed, continuing without sheets")
		return nil
	}
	if err := sheets.TestConnection(ctx); err != nil {
		logger.Warn().Err(err).Msg("google sheets unreachable, continuing without sheets")
		return nil
	}
	if err := sheets.EnsureHeader(ctx); err != nil {
		logger.Warn().Err(err).Msg("write sheets header")
	}
	go sheets.StartCacheRefresh(ctx, time.Hour, logging.Component(logger, "sheets"))

	logger.Info().Msg("google sheets connected")
	return worker.NewSheetsWorker(db, sheets, client, worker.DefaultRetryPolicy, logging.Component(logger, "sheets-worker"))
}

func logEvent(logger *zerolog.Logger) events.EventHandler {
	l := logging.Component(logger, "events")
	return func(e *events.Event) error {
		var p events.BookingEventPayload
		if err := e.Decode(&p); err != nil {
			return err
		}
		l.Info().Str("type", e.Type).Str("event_id", e.ID).Int64("booking_id", p.BookingID).Str("status", p.Status).Str("changed_by", p.ChangedBy).Msg("Booking event")
		return nil
	}
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	port := cfg.Monitoring.PrometheusPort
	if port == 0 {
		port = 9090
	}
	go startMetricsServer(ctx, port, logger)
}

func startServers(
	ctx context.Context,
	grpcServer *api.GRPCServer,
	httpServer *api.HTTPServer,
	cfg *config.Config,
	logger *zerolog.Logger,
) error {
	if grpcServer != nil {
		go grpcServer.WatchReadiness(ctx, 15*time.Second)
		go func() {
			if err := grpcServer.Serve(); err != nil {
				logger.Error().Err(err).Msg("grpc server stopped")
			}
		}()
	}

	go func() {
		if !cfg.API.HTTP.Enabled {
			return
		}
		if err := httpServer.Start(); err != nil {
			logger.Error().Err(err).Msg("http server stopped")
		}
	}()

	logger.Info().Int("http_port", cfg.API.HTTP.Port).Bool("grpc", grpcServer != nil).Msg("API server started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if grpcServer != nil {
		grpcServer.Shutdown(shutdownCtx)
	}
	_ = httpServer.Shutdown(shutdownCtx)

	logger.Info().Msg("API server stopped")
	return nil
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
