package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-telegram/bot"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/Freeeeeet/conference_booking/internal/app"
	"github.com/Freeeeeet/conference_booking/internal/cache"
	"github.com/Freeeeeet/conference_booking/internal/clock"
	"github.com/Freeeeeet/conference_booking/internal/config"
	"github.com/Freeeeeet/conference_booking/internal/controller"
	"github.com/Freeeeeet/conference_booking/internal/controller/api"
	"github.com/Freeeeeet/conference_booking/internal/events"
	"github.com/Freeeeeet/conference_booking/internal/model"
	"github.com/Freeeeeet/conference_booking/internal/repository"
	"github.com/Freeeeeet/conference_booking/internal/repository/memstore"
	"github.com/Freeeeeet/conference_booking/internal/seed"
	"github.com/Freeeeeet/conference_booking/internal/service"
)

const shutdownTimeout = 10 * time.Second

type flags struct {
	envFile     string
	storage     string
	httpAddr    string
	seedFile    string
	migrateOnly bool
}

func main() {
	var f flags
	pflag.StringVar(&f.envFile, "env-file", ".env", "path to the .env file")
	pflag.StringVar(&f.storage, "storage", "", "storage backend: memory or postgres (overrides STORAGE)")
	pflag.StringVar(&f.httpAddr, "http-addr", "", "HTTP listen address (overrides HTTP_ADDR)")
	pflag.StringVar(&f.seedFile, "seed", "", "YAML file with conferences and users to add on start")
	pflag.BoolVar(&f.migrateOnly, "migrate-only", false, "apply migrations and exit")
	pflag.Parse()

	cfg, err := config.Load(f.envFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if f.storage != "" {
		cfg.Storage = f.storage
	}
	if f.httpAddr != "" {
		cfg.HTTPAddr = f.httpAddr
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	logger, err := app.NewLogger(cfg.Environment, cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting conference booking",
		zap.String("environment", cfg.Environment),
		zap.String("storage", cfg.Storage),
		zap.String("promotion_mode", cfg.PromotionMode),
		zap.Bool("env_file_loaded", cfg.EnvFileLoaded),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, f, logger); err != nil {
		logger.Error("Server stopped with error", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	logger.Info("Server stopped")
}

func run(ctx context.Context, cfg *config.Config, f flags, logger *zap.Logger) error {
	// ── Хранилище ─────────────────────────────────────────────────────────
	uow, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	if f.migrateOnly {
		if cfg.Storage != config.StoragePostgres {
			return errors.New("--migrate-only needs postgres storage")
		}
		logger.Info("Migrations applied, exiting")
		return nil
	}

	// ── Кэш каталога ──────────────────────────────────────────────────────
	var catalogCache service.Cache
	if cfg.RedisAddr != "" {
		client, err := cache.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return err
		}
		defer client.Close()
		catalogCache = cache.NewRedisCache(client, "catalog", cfg.CacheTTL)
		logger.Info("Catalog cache enabled", zap.String("redis_addr", cfg.RedisAddr))
	}

	// ── События ───────────────────────────────────────────────────────────
	var publishers service.Publishers
	if catalogCache != nil {
		publishers = append(publishers, service.CacheInvalidator{Cache: catalogCache})
	}
	if cfg.RabbitMQURL != "" {
		publisher := events.NewPublisher(cfg.RabbitMQURL, logger)
		defer publisher.Close()
		publishers = append(publishers, publisher)
	}
	var eventPublisher service.EventPublisher
	if len(publishers) > 0 {
		eventPublisher = publishers
	}

	// ── Сервисы ───────────────────────────────────────────────────────────
	clk := clock.Real()
	allocator := service.NewAllocationService(
		uow,
		clk,
		service.NewConfirmationWindow(cfg.ConfirmationWindow),
		eventPublisher,
		logger,
	)
	catalog := service.NewCatalogService(uow, clk, catalogCache, logger)

	if f.seedFile != "" {
		file, err := seed.Load(f.seedFile)
		if err != nil {
			return err
		}
		res, err := file.Apply(ctx, catalog, logger)
		if err != nil {
			return err
		}
		logger.Info("Seed applied",
			zap.String("file", f.seedFile),
			zap.Int("conferences", res.Conferences),
			zap.Int("users", res.Users),
			zap.Int("skipped", res.Skipped),
		)
	}

	// ── Фоновые задачи ────────────────────────────────────────────────────
	var wg sync.WaitGroup
	defer wg.Wait()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if cfg.PromotionMode == config.PromotionPush {
		consumer := events.NewPromotionConsumer(cfg.RabbitMQURL, allocator, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Promotion consumer stopped", zap.Error(err))
			}
		}()
	}

	if cfg.SweepInterval > 0 {
		scheduler := app.NewScheduler(allocator, cfg.SweepInterval, logger)
		scheduler.Start(ctx)
		defer scheduler.Stop()
	}

	if cfg.TelegramToken != "" {
		b, err := bot.New(cfg.TelegramToken)
		if err != nil {
			return fmt.Errorf("create telegram bot: %w", err)
		}
		botController := controller.NewBotController(b, allocator, catalog, logger)
		if err := botController.RegisterHandlers(ctx); err != nil {
			logger.Warn("Bot commands menu not set", zap.Error(err))
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			botController.Start(ctx)
		}()
	}

	// ── HTTP сервер ───────────────────────────────────────────────────────
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api.NewRouter(api.NewHandler(allocator, catalog, logger), logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	logger.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}

// openStore подключает выбранное хранилище. Для postgres сразу применяются миграции.
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (model.UnitOfWork, func(), error) {
	if cfg.Storage == config.StorageMemory {
		logger.Warn("Using in-memory storage, data is lost on restart")
		return memstore.New(), func() {}, nil
	}

	pool, err := app.NewPool(ctx, cfg.DBDSN, logger)
	if err != nil {
		return nil, nil, err
	}

	migrator, err := app.NewMigrator(pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	defer func() {
		if err := migrator.Close(); err != nil {
			logger.Warn("Failed to close migrator", zap.Error(err))
		}
	}()
	if err := migrator.Run(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}

	return repository.NewStore(pool), pool.Close, nil
}
