package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"

	"github.com/antoniostano/codepair/internal/auth"
	"github.com/antoniostano/codepair/internal/backplane"
	"github.com/antoniostano/codepair/internal/config"
	"github.com/antoniostano/codepair/internal/httpapi"
	"github.com/antoniostano/codepair/internal/observability"
	"github.com/antoniostano/codepair/internal/room"
	"github.com/antoniostano/codepair/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	st, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("store init failed: %v", err)
	}
	defer st.Close()
	storageMode := "in-memory"
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		storageMode = "postgres"
	}
	log.Printf("session storage: %s", storageMode)

	instanceID := uuid.NewString()
	bp, err := backplane.New(ctx, cfg.RedisURL, instanceID)
	if err != nil {
		log.Fatalf("backplane init failed: %v", err)
	}
	defer bp.Close()
	backplaneMode := "local"
	if strings.TrimSpace(cfg.RedisURL) != "" {
		backplaneMode = "redis"
		log.Printf("backplane: redis, instance %s", instanceID)
	}

	verifier := auth.NewVerifier(cfg.JWTSecret)
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		log.Printf("no JWT secret configured, trusting identity headers (dev mode)")
	}

	rooms := room.NewManager(room.ManagerConfig{
		IdleTimeout:            cfg.SessionIdleTimeout,
		DefaultMaxParticipants: cfg.DefaultMaxParticipants,
		Room: room.Options{
			PresenceFlushInterval: cfg.PresenceFlushInterval,
		},
	}, st, bp, metrics)
	defer rooms.Close()

	if err := rooms.Hydrate(ctx); err != nil {
		log.Fatalf("session rehydration failed: %v", err)
	}

	api := httpapi.New(cfg, rooms, verifier, metrics, httpapi.Modes{
		Storage:   storageMode,
		Backplane: backplaneMode,
	})
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	rooms.StartJanitor(runCtx, cfg.EvictionInterval)

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}
	rooms.Close()

	log.Printf("shutdown complete")
}
