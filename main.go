package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/collabcore/docserver/internal/auth"
	"github.com/collabcore/docserver/internal/cache"
	"github.com/collabcore/docserver/internal/config"
	"github.com/collabcore/docserver/internal/dispatch"
	"github.com/collabcore/docserver/internal/durable"
	"github.com/collabcore/docserver/internal/lifecycle"
	"github.com/collabcore/docserver/internal/registry"
	"github.com/collabcore/docserver/internal/wire"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Durable store: unreachable at startup is fatal.
	pool, err := pgxpool.New(ctx, cfg.DurableStoreURL)
	if err != nil {
		return fmt.Errorf("durable store config: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("durable store unreachable: %w", err)
	}
	defer pool.Close()
	store := durable.NewPostgresStore(pool)

	// Hot tier: degraded operation is tolerated after startup, but the
	// initial flush needs a live connection.
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.HotTierURL,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()
	hot := cache.NewRedisCache(rdb, logger)

	reg := registry.New()
	lanes := dispatch.NewLanes()
	disp := dispatch.New(hot, store, reg, lanes, logger)
	life := lifecycle.New(hot, store, reg, disp, lanes, logger)

	if err := life.Startup(ctx); err != nil {
		return fmt.Errorf("startup rehydrate: %w", err)
	}

	verifier := auth.NewVerifier(cfg.TokenSecret)
	ws := wire.NewServer(reg, disp, life, store, store, hot, verifier, cfg.ServiceVersion, logger)
	authHandler := auth.NewGoogleHandler(cfg.GoogleClientID, cfg.GoogleClientSecret, verifier, store, logger)

	r := mux.NewRouter()
	r.HandleFunc("/ws", ws.HandleWS)
	r.Handle("/auth/google", authHandler).Methods(http.MethodPost)
	r.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.ListenPort),
		Handler: r,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	ws.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
	life.Shutdown(shutdownCtx)
	return nil
}
