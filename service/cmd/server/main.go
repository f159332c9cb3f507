package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	engine "github.com/jason-s-yu/cloister/engine"
	"github.com/jason-s-yu/cloister/service/internal/auth"
	"github.com/jason-s-yu/cloister/service/internal/cache"
	"github.com/jason-s-yu/cloister/service/internal/config"
	"github.com/jason-s-yu/cloister/service/internal/game"
	"github.com/jason-s-yu/cloister/service/internal/geometry"
	"github.com/jason-s-yu/cloister/service/internal/integrity"
	"github.com/jason-s-yu/cloister/service/internal/server"
	"github.com/jason-s-yu/cloister/service/internal/storage"
	"github.com/jason-s-yu/cloister/service/internal/storage/postgres"
	"github.com/jason-s-yu/cloister/service/internal/storage/sqlite"
	"github.com/jason-s-yu/cloister/service/internal/telemetry"
	"github.com/jason-s-yu/cloister/service/internal/ws"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration.")
	}
	logrus.SetLevel(cfg.Level())
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	log := logrus.WithField("service", "cloister")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, "cloister", cfg.OTelEndpoint)
	if err != nil {
		log.WithError(err).Fatal("Failed to set up tracing.")
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			log.WithError(err).Warn("Failed to flush spans.")
		}
	}()

	journal, err := openJournal(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("Failed to open journal.")
	}
	defer journal.Close()

	var snapshots *cache.SnapshotCache
	if cfg.RedisAddr != "" {
		client, err := cache.Dial(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			log.WithError(err).Fatal("Failed to connect to redis.")
		}
		defer client.Close()
		snapshots = cache.New(client, cfg.CacheTTL)
		log.WithField("addr", cfg.RedisAddr).Info("Snapshot cache enabled.")
	}

	chain, err := integrity.NewChain(integrity.DeriveKey(cfg.JWTSecret))
	if err != nil {
		log.WithError(err).Fatal("Failed to build event chain.")
	}
	signer, err := auth.NewSigner(cfg.JWTSecret, cfg.TokenTTL)
	if err != nil {
		log.WithError(err).Fatal("Failed to build token signer.")
	}

	caps := make([]engine.CapabilityID, len(cfg.Capabilities))
	for i, c := range cfg.Capabilities {
		caps[i] = engine.CapabilityID(c)
	}
	registry := game.NewRegistry(journal, snapshots, chain, geometry.EdgeMatcher{}, game.Defaults{
		Seed:         cfg.Seed,
		TurnDuration: cfg.TurnDuration,
		BridgeTokens: cfg.BridgeTokens,
		Capabilities: caps,
	}, log)
	hub := ws.NewHub(registry, signer, cfg.AllowedOrigins, log)
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.New(registry, signer, hub, cfg.AllowedOrigins, log).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("Graceful shutdown failed.")
		}
	}()

	log.WithField("addr", cfg.Addr).Info("Server listening.")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.WithError(err).Fatal("Server stopped.")
	}
	log.Info("Server stopped.")
}

func openJournal(ctx context.Context, cfg config.Config) (storage.Journal, error) {
	if cfg.PostgresDSN != "" {
		logrus.Info("Using postgres journal.")
		return postgres.Open(ctx, cfg.PostgresDSN)
	}
	logrus.WithField("path", cfg.SQLitePath).Info("Using sqlite journal.")
	return sqlite.Open(cfg.SQLitePath)
}
