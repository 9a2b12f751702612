package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"

	"anonrelay/internal/api"
	"anonrelay/internal/auth"
	"anonrelay/internal/config"
	"anonrelay/internal/logging"
	"anonrelay/internal/membership"
	"anonrelay/internal/notify"
	"anonrelay/internal/redis"
	"anonrelay/internal/relay"
	"anonrelay/internal/storage"
	"anonrelay/internal/store"
)

func main() {
	cfg, err := config.Load(os.Getenv("ANONRELAY_CONFIG"))
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}
	logger := logging.Setup(cfg.BasicConfig.LogLevel)

	if err := run(cfg, logger); err != nil {
		logger.Error("relay stopped", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbType := os.Getenv("ANONRELAY_DB")
	if dbType == "" {
		dbType = "sqlite3"
	}
	logger.Info("opening database", "driver", dbType)
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := storage.Migrate(db, dbType); err != nil {
		return err
	}

	var rdb *redis.Client
	if cfg.Redis.Enabled() {
		rdb, err = redis.NewRedisClient(cfg)
		if err != nil {
			return err
		}
		defer rdb.Close()
	}

	var hub *notify.Hub
	var notifier notify.Notifier
	switch cfg.BasicConfig.Notifier {
	case "redis":
		notifier = notify.NewRedisNotifier(rdb)
	case "websocket":
		hub = notify.NewHub(logger, checkOrigin(cfg.BasicConfig.AllowedOrigins))
		defer hub.CloseAll()
		notifier = hub
	default:
		notifier = notify.NewLogNotifier(logger)
	}
	dispatcher := notify.NewDispatcher(notifier, cfg.BasicConfig.NotifyWorkers, cfg.BasicConfig.NotifyQueueSize, logger)
	dispatcher.Start(ctx)

	index := membership.NewIndex()
	engine := relay.NewEngine(cfg.BasicConfig, store.New(db, storage.DriverName(dbType)), index, dispatcher, logger)
	if rdb != nil {
		syncer := membership.NewSyncer(rdb, index, logger)
		if err := syncer.Start(ctx); err != nil {
			return err
		}
		engine.SetSyncer(syncer)
	}

	if cfg.BasicConfig.ShouldRebuildMembership() {
		if _, err := engine.Rebuild(ctx); err != nil {
			return err
		}
	} else {
		logger.Warn("membership rebuild disabled; existing sessions lose their routing until re-joined")
	}
	sweeperDone := engine.StartSweeper(ctx, cfg.BasicConfig.SweepInterval())

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(api.RequestLogger(logger), gin.Recovery())
	api.NewHandler(engine, auth.NewService(cfg.BasicConfig.BotToken), hub, logger).RegisterRoutes(router)

	var handler http.Handler = router
	if len(cfg.BasicConfig.AllowedOrigins) > 0 {
		handler = cors.New(cors.Options{
			AllowedOrigins: cfg.BasicConfig.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
			AllowedHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
		}).Handler(router)
	}

	srv := &http.Server{
		Addr:              cfg.BasicConfig.ServerAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()
	logger.Info("relay started", "addr", srv.Addr, "notifier", cfg.BasicConfig.Notifier)

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			return err
		}
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	<-sweeperDone
	logger.Info("relay stopped cleanly")
	return nil
}

// checkOrigin allows non-browser gateways and the configured browser origins.
func checkOrigin(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(allowed, origin)
	}
}
