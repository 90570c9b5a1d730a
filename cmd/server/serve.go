package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/lalith-99/capyboard/internal/api"
	"github.com/lalith-99/capyboard/internal/board"
	"github.com/lalith-99/capyboard/internal/config"
	"github.com/lalith-99/capyboard/internal/notify"
	"github.com/lalith-99/capyboard/internal/observ"
	"github.com/lalith-99/capyboard/internal/repository"
	"github.com/lalith-99/capyboard/internal/slot"
	"github.com/lalith-99/capyboard/internal/stream"
)

const shutdownTimeout = 10 * time.Second

func loadConfigAndLogger(cfgFile string) (*config.Config, *zap.Logger, error) {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := observ.NewLogger(cfg.Env, cfg.Log.Level, observ.FileOptions{
		Path:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create logger: %w", err)
	}
	return cfg, logger, nil
}

func boardOptions(cfg *config.Config, logger *zap.Logger, metrics *observ.Metrics) ([]board.Option, error) {
	loc, err := slot.LoadLocation(cfg.Board.Timezone)
	if err != nil {
		return nil, err
	}
	return []board.Option{
		board.WithLocation(loc),
		board.WithContent(board.Content{
			DefaultMessage: cfg.Board.DefaultMessage,
			MaxLength:      cfg.Board.MaxMessageLength,
		}),
		board.WithLogger(logger),
		board.WithMetrics(metrics),
	}, nil
}

func runServe(ctx context.Context, cfgFile string) error {
	// ---------------------------------------------------------------
	// 1. Load config and create logger
	// ---------------------------------------------------------------
	cfg, logger, err := loadConfigAndLogger(cfgFile)
	if err != nil {
		return err
	}
	defer logger.Sync()

	// ---------------------------------------------------------------
	// 2. Metrics registry
	//
	// A private registry instead of the global default: /metrics then
	// exposes exactly the runtime collectors plus the board's own series,
	// and tests can build as many registries as they like.
	// ---------------------------------------------------------------
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observ.NewMetrics(registry)

	// ---------------------------------------------------------------
	// 3. Open the record store
	//
	// Every backend satisfies repository.Repository. Only postgres, redis
	// and the file store also satisfy repository.Watcher, which lets the
	// notifier see writes made by other processes.
	// ---------------------------------------------------------------
	store, err := openBackend(ctx, cfg.Store, logger)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Store.Backend, err)
	}
	defer store.Close()

	// ---------------------------------------------------------------
	// 4. Change notifier
	//
	// The notifier is created before the board because the board publishes
	// into it, and started after because the board is its activation
	// source. Pushes are triggered by, in order of latency:
	//   - a mutation through this process (Notify, no delay)
	//   - a store change seen by the watcher (debounced)
	//   - the activation timer at the next scheduled start (plus skew)
	//   - the resync ticker, which catches anything the others missed
	// ---------------------------------------------------------------
	notifyOpts := []notify.Option{
		notify.WithDebounce(cfg.Push.WatchDebounce),
		notify.WithActivationSkew(cfg.Push.ActivationSkew),
		notify.WithResyncInterval(cfg.Push.ResyncInterval),
		notify.WithLogger(logger),
		notify.WithMetrics(metrics),
	}
	if cfg.Push.MaxActivationDelay > 0 {
		notifyOpts = append(notifyOpts, notify.WithMaxActivationDelay(cfg.Push.MaxActivationDelay))
	}
	if w, ok := store.repo.(repository.Watcher); ok {
		notifyOpts = append(notifyOpts, notify.WithWatcher(w))
	}
	notifier, err := notify.New(notifyOpts...)
	if err != nil {
		return fmt.Errorf("create notifier: %w", err)
	}

	// ---------------------------------------------------------------
	// 5. Board service
	// ---------------------------------------------------------------
	opts, err := boardOptions(cfg, logger, metrics)
	if err != nil {
		return err
	}
	svc, err := board.NewService(store.repo, append(opts, board.WithPublisher(notifier))...)
	if err != nil {
		return fmt.Errorf("create board service: %w", err)
	}

	if err := notifier.Start(ctx, svc); err != nil {
		return fmt.Errorf("start notifier: %w", err)
	}
	defer notifier.Stop()

	// ---------------------------------------------------------------
	// 6. Stream hub and HTTP server
	// ---------------------------------------------------------------
	hub := stream.NewHub(svc, cfg.Push.Heartbeat, logger, metrics)

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := api.NewRouter(api.RouterDeps{
		Board:       svc,
		Streamer:    hub,
		Counter:     hub,
		Gatherer:    registry,
		Logger:      logger,
		StoreHealth: store.health,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	// Streams never finish on their own. Shutdown closes the listeners and
	// then runs this, so no new channel can open afterwards.
	srv.RegisterOnShutdown(hub.Shutdown)

	logger.Info("starting capyboard",
		zap.String("port", cfg.Port),
		zap.String("env", cfg.Env),
		zap.String("store", cfg.Store.Backend),
		zap.String("timezone", svc.Location().String()),
	)

	// ---------------------------------------------------------------
	// 7. Serve until the context is cancelled
	//
	// main wires SIGINT/SIGTERM into ctx. ListenAndServe runs in its own
	// goroutine so this one can wait on either a listener failure or the
	// signal, whichever comes first.
	// ---------------------------------------------------------------
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http: %w", err)
	}
	return nil
}
