package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/loonworks/loonflow/api"
	"github.com/loonworks/loonflow/config"
	"github.com/loonworks/loonflow/store"
	"github.com/loonworks/loonflow/ticket"
)

var (
	configFile = flag.String("config", "", "Path to configuration YAML file")
	addr       = flag.String("addr", "", "HTTP listen address (overrides config)")
)

func main() {
	flag.Parse()

	cfg := config.Default()
	if *configFile != "" {
		var err error
		cfg, err = config.LoadFromFile(*configFile)
		if err != nil {
			slog.Error("failed to load configuration", "path", *configFile, "error", err)
			os.Exit(1)
		}
	}
	if *addr != "" {
		cfg.HTTP.Addr = *addr
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.Log.Level),
	}))
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stores, err := openStores(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open storage", "driver", cfg.Storage.Driver, "error", err)
		os.Exit(1)
	}
	defer stores.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Error("failed to reach redis", "addr", cfg.Redis.Addr, "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	tz, err := cfg.SNLocation()
	if err != nil {
		logger.Error("invalid sn timezone", "timezone", cfg.SN.Timezone, "error", err)
		os.Exit(1)
	}

	metrics := ticket.NewMetrics()
	svc := ticket.NewService(stores, ticket.NewSNAllocator(redisClient, stores.Tickets(), tz)).
		WithLogger(logger).
		WithHooks(ticket.LogHooks{Logger: logger}).
		WithMetrics(metrics)

	apiCfg := api.Config{WriteRateLimit: cfg.HTTP.WriteRateLimit}
	if cfg.Metrics.Enabled {
		apiCfg.MetricsPath = cfg.Metrics.Path
	}
	router, mw := api.NewRouter(svc, metrics, logger, apiCfg)
	defer mw.Stop()

	server := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", cfg.HTTP.Addr, "storage", cfg.Storage.Driver)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		logger.Error("server failed", "error", err)
		os.Exit(1)
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout())
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown incomplete", "error", err)
	}
}

// openStores connects the configured backend and runs migrations.
func openStores(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Stores, error) {
	switch cfg.Storage.Driver {
	case "postgres":
		pg, err := store.NewPGStore(ctx, store.PGConfig{URL: cfg.Storage.Postgres.URL})
		if err != nil {
			return nil, err
		}
		if err := store.NewMigrator(pg.Pool()).Migrate(ctx); err != nil {
			pg.Close()
			return nil, err
		}
		logger.Info("postgres storage ready")
		return pg, nil
	default:
		// SQLite applies its embedded schema on open.
		lite, err := store.NewSQLiteStore(store.SQLiteConfig{Path: cfg.Storage.SQLite.Path})
		if err != nil {
			return nil, err
		}
		logger.Info("sqlite storage ready", "path", cfg.Storage.SQLite.Path)
		return lite, nil
	}
}

func logLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
