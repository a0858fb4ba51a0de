package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/iconidentify/tubeconv/internal/api"
	"github.com/iconidentify/tubeconv/internal/api/handler"
	"github.com/iconidentify/tubeconv/internal/config"
	"github.com/iconidentify/tubeconv/internal/converter"
	"github.com/iconidentify/tubeconv/internal/repository"
	"github.com/iconidentify/tubeconv/internal/service"
	"github.com/iconidentify/tubeconv/internal/worker"
	"github.com/iconidentify/tubeconv/pkg/ffmpeg"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "", "Path to config file")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("tubeconv %s (built %s)\n", Version, BuildTime)
		os.Exit(0)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(os.Getenv("LOG_LEVEL")),
	}))
	slog.SetDefault(logger)

	logger.Info("starting tubeconv",
		"version", Version,
		"build_time", BuildTime,
	)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	initCtx, cancelInit := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelInit()

	store, storagePath, err := newArtifactStore(cfg)
	if err != nil {
		logger.Error("failed to initialize artifact store", "backend", cfg.Storage.Backend, "error", err)
		os.Exit(1)
	}

	ledger, err := newLedger(initCtx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize ledger", "driver", cfg.Ledger.Driver, "error", err)
		os.Exit(1)
	}

	var cache repository.FormatCache
	var redisCache *repository.RedisFormatCache
	if cfg.Cache.Enabled() {
		redisCache, err = repository.NewRedisFormatCache(initCtx, cfg.Cache, logger)
		if err != nil {
			logger.Warn("format cache unavailable, continuing without it", "addr", cfg.Cache.RedisAddr, "error", err)
		} else {
			cache = redisCache
		}
	}

	driver := newDriver(cfg, logger)

	svc := service.NewConversionService(driver, ledger, store, cache, cfg.Converter.Timeout, logger)

	sweeper := worker.NewSweeper(
		worker.Config{
			Interval:  cfg.Sweeper.Interval,
			Retention: cfg.Sweeper.Retention,
		},
		ledger,
		store,
		logger,
	)
	sweeper.Start()

	conversionHandler := handler.NewConversionHandler(svc, logger)
	healthHandler := handler.NewHealthHandler(ledger, svc.Strategy(), storagePath)
	uiHandler := handler.NewUIHandler()

	router := api.NewRouter(conversionHandler, healthHandler, uiHandler, api.RouterConfig{
		APIKey:         cfg.Server.APIKey,
		RequestTimeout: cfg.Server.RequestTimeout,
		EnablePreview:  cfg.Converter.Strategy == config.StrategyRelay,
		RateLimit:      cfg.RateLimit.RequestsPerSecond,
		RateBurst:      cfg.RateLimit.Burst,
	}, logger)

	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("starting HTTP server",
			"addr", srv.Addr,
			"strategy", svc.Strategy(),
			"ledger", cfg.Ledger.Driver,
			"storage", cfg.Storage.Backend,
		)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	if err := sweeper.Stop(10 * time.Second); err != nil {
		logger.Error("sweeper shutdown error", "error", err)
	}

	if err := ledger.Close(); err != nil {
		logger.Error("ledger close error", "error", err)
	}
	if redisCache != nil {
		if err := redisCache.Close(); err != nil {
			logger.Error("format cache close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// newArtifactStore returns the configured store and the local path whose
// disk usage is reported by the stats endpoint.
func newArtifactStore(cfg *config.Config) (repository.ArtifactStore, string, error) {
	switch cfg.Storage.Backend {
	case config.BackendS3:
		if err := os.MkdirAll(cfg.Storage.TempPath, 0755); err != nil {
			return nil, "", fmt.Errorf("create temp directory: %w", err)
		}
		store, err := repository.NewS3Store(cfg.S3)
		if err != nil {
			return nil, "", err
		}
		return store, cfg.Storage.TempPath, nil
	default:
		store, err := repository.NewFilesystemStore(cfg.Storage.BasePath, cfg.Storage.TempPath)
		if err != nil {
			return nil, "", err
		}
		return store, cfg.Storage.BasePath, nil
	}
}

func newLedger(ctx context.Context, cfg *config.Config, logger *slog.Logger) (repository.Ledger, error) {
	schema := cfg.LedgerSchema()

	if cfg.Ledger.Driver == config.DriverMemory {
		return repository.NewInMemoryLedger(schema), nil
	}

	dialect := repository.DialectSQLite
	if cfg.Ledger.Driver == config.DriverPostgres {
		dialect = repository.DialectPostgres
	}
	ledger, err := repository.NewSQLLedger(ctx, dialect, cfg.Ledger.DSN, schema, logger)
	if err != nil {
		return nil, err
	}
	return ledger, nil
}

func newDriver(cfg *config.Config, logger *slog.Logger) converter.Driver {
	if cfg.Converter.Strategy != config.StrategyLocal {
		return converter.NewRelayDriver(cfg.Relay, logger)
	}

	extractor := converter.NewYtDlpExtractor(cfg.Local.YtDlpPath)

	var prober converter.MediaProber
	if p, err := ffmpeg.NewProber(cfg.Local.FFprobePath); err != nil {
		logger.Warn("ffprobe not found, output verification disabled", "error", err)
	} else {
		prober = p
	}

	return converter.NewLocalDriver(extractor, prober, cfg.Storage.TempPath, logger)
}
