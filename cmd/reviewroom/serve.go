package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"reviewroom/api/internal/app"
	"reviewroom/api/internal/auth"
	"reviewroom/api/internal/config"
	"reviewroom/api/internal/event"
	"reviewroom/api/internal/export"
	"reviewroom/api/internal/gateway"
	"reviewroom/api/internal/notify"
	"reviewroom/api/internal/presence"
	"reviewroom/api/internal/search"
	"reviewroom/api/internal/store"
)

const shutdownTimeout = 10 * time.Second

type serveStore interface {
	app.Store
	SearchComments(ctx context.Context, sessionID, text string, limit int) ([]store.Comment, error)
}

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the realtime gateway",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serveRun(cmd.Context(), configFrom(cmd))
		},
	}
}

func serveRun(parent context.Context, cfg config.Config) error {
	logger := commonRun(cfg)
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	readyChecks := map[string]func(context.Context) error{}

	dataStore, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	var (
		tracker   presence.Tracker = presence.NewMemoryTracker()
		publisher notify.Publisher = notify.NewLogPublisher(logger)
	)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse REDIS_URL: %w", err)
		}
		client := redis.NewClient(opts)
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		tracker = presence.NewRedisTrackerWithClient(client)
		publisher = notify.NewRedisPublisher(client, cfg.NotifyChannel)
		readyChecks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
		logger.Info("using redis for presence and notifications")
	} else {
		logger.Info("using in-process presence; notifications are logged only")
	}

	bus := event.NewBus(reg, logger)
	defer bus.Stop()

	var engine search.Engine
	if cfg.MeiliURL != "" {
		meiliClient := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		defer meiliClient.Close()
		engine = meiliClient
	}
	searchService := search.NewService(engine, search.NewStoreSearcher(dataStore), logger)
	bus.SubscribeAsync("search-indexer", event.DefaultAsyncQueueSize, searchService.HandleEvent)
	bus.SubscribeAsync("notifications", event.DefaultAsyncQueueSize, notify.NewForwarder(publisher, logger).HandleEvent)

	var archive export.Archive
	if cfg.MinioEndpoint != "" {
		objectArchive, err := export.NewObjectArchive(ctx, export.ObjectArchiveConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
			URLTTL:    cfg.ExportURLTTL,
		})
		if err != nil {
			logger.Warn("export archive disabled", "error", err)
		} else {
			archive = objectArchive
		}
	}
	exporter := export.NewService(export.NewChromeRenderer(cfg.ChromePath).Render, archive, logger)

	coordinator := app.NewCoordinator(app.Options{
		Store:      dataStore,
		Presence:   tracker,
		Events:     bus,
		Logger:     logger,
		Registerer: reg,
		RetryDelay: cfg.StoreRetryDelay,
	})
	verifier := auth.NewVerifier(cfg.JWTSecret, cfg.TokenTTL)

	gw := gateway.New(gateway.Options{
		Coordinator:        coordinator,
		Authenticator:      verifier,
		Events:             bus,
		Logger:             logger,
		Registerer:         reg,
		SendQueue:          cfg.WSSendQueue,
		MaxFramesPerSecond: cfg.WSMaxFramesPerSecond,
	})
	api := app.NewHTTPServer(app.HTTPOptions{
		Coordinator: coordinator,
		Verifier:    verifier,
		Exporter:    exporter,
		Searcher:    searchService,
		Logger:      logger,
		CORSOrigin:  cfg.CORSOrigin,
		ReadyChecks: readyChecks,
	})

	mux := http.NewServeMux()
	mux.Handle("/ws", gw.Handler())
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.Handle("/api/", api.Handler())

	// No read or write timeout: websocket connections are long lived and the
	// gateway manages its own write deadlines.
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		gw.Close()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// openStore returns Postgres when DATABASE_URL is set, applying migrations
// first, and the in-memory store otherwise.
func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (serveStore, func(), error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL not set, sessions are kept in memory")
		return store.NewMemoryStore(), func() {}, nil
	}
	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("database connection failed: %w", err)
	}
	migrations, err := store.Migrations(cfg.MigrationsDir)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	if err := store.ApplyMigrations(ctx, db, migrations); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migrations failed: %w", err)
	}
	return store.NewPostgresStore(db), func() { _ = db.Close() }, nil
}
