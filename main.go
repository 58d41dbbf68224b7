// Package main our entry point.
package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/johndosdos/relay/internal/config"
	"github.com/johndosdos/relay/internal/handler"
	"github.com/johndosdos/relay/internal/presence"
	ratelimiter "github.com/johndosdos/relay/internal/rate_limiter"
	"github.com/johndosdos/relay/internal/relay"
	"github.com/johndosdos/relay/internal/store"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.SetOutput(os.Stdout)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Init store
	log.Println("Starting relay...")
	log.Printf("Initializing %s message store...", cfg.StoreBackend)

	st, closeStore := initStore(ctx, cfg)
	defer closeStore()

	// hub.Run is our central hub that is always listening for
	// connection related events.
	registry := presence.NewRegistry()
	hub := relay.NewHub(st, registry, cfg.HistoryLimit, cfg.StoreTimeout, slog.Default())
	go hub.Run(ctx)

	limiter := ratelimiter.NewIPRateLimiter(60, time.Minute, ratelimiter.CleanupOpts{
		TTL:      10 * time.Minute,
		Interval: time.Minute,
	})
	defer limiter.Cancel()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", handler.ServeHealth(st))
	r.Get("/ws", limiter.Middleware(handler.ServeWs(hub, cfg.AllowedOrigins)))

	server := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       30 * time.Second,
	}

	go func() {
		log.Printf("Server starting at 0.0.0.0:%s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("Shutdown signal received; shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Println(err)
	}

	log.Println("Server stopped")
}

// initStore builds the configured backend. External backends are wrapped
// so a failure degrades to the in-memory log instead of taking the relay
// down; the startup health probe can trigger that degradation right away.
func initStore(ctx context.Context, cfg config.Config) (store.Store, func()) {
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		pg, err := store.NewPostgres(ctx, cfg.DatabaseURL, cfg.HistoryLimit, slog.Default())
		if err != nil {
			// Persistence loss is never fatal; serve from memory instead.
			log.Printf("could not initialize the postgresql store, using in-memory log: %v", err)
			return store.NewMemory(cfg.HistoryLimit), func() {}
		}
		return probed(ctx, store.NewFallback(pg, cfg.HistoryLimit, slog.Default()), cfg.StoreTimeout), pg.Close

	case config.BackendBadger:
		db, err := badger.Open(badger.DefaultOptions(cfg.BadgerPath).WithLogger(nil))
		if err != nil {
			log.Printf("could not open the badger store, using in-memory log: %v", err)
			return store.NewMemory(cfg.HistoryLimit), func() {}
		}
		kv := store.NewBadger(db, cfg.HistoryLimit, slog.Default())
		closeDB := func() {
			if err := db.Close(); err != nil {
				log.Printf("couldn't close badger db: %+v", err)
			}
		}
		return probed(ctx, store.NewFallback(kv, cfg.HistoryLimit, slog.Default()), cfg.StoreTimeout), closeDB

	default:
		return store.NewMemory(cfg.HistoryLimit), func() {}
	}
}

func probed(ctx context.Context, fb *store.Fallback, timeout time.Duration) *store.Fallback {
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	// The wrapper absorbs a failed probe and degrades instead of
	// returning it, so check the degraded flag rather than the error.
	_ = fb.HealthCheck(probeCtx)
	if fb.Degraded() {
		log.Printf("store health probe failed; starting on the in-memory log")
	}
	return fb
}
