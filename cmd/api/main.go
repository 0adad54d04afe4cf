package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/IlyasAtabaev731/voice-wallet/internal/api"
	"github.com/IlyasAtabaev731/voice-wallet/internal/command"
	"github.com/IlyasAtabaev731/voice-wallet/internal/config"
	"github.com/IlyasAtabaev731/voice-wallet/internal/ledger"
	"github.com/IlyasAtabaev731/voice-wallet/internal/lib/sealer"
	"github.com/IlyasAtabaev731/voice-wallet/internal/messaging/nats"
	"github.com/IlyasAtabaev731/voice-wallet/internal/storage/postgres"
	"github.com/IlyasAtabaev731/voice-wallet/internal/storage/redis"
	"github.com/IlyasAtabaev731/voice-wallet/internal/wallet"

	_ "github.com/lib/pq"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

func main() {
	cfg := config.MustLoad()

	log := setupLogger(cfg.Env)

	log.Info("Starting application",
		slog.String("env", cfg.Env),
		slog.String("host", cfg.ApiHost),
		slog.Int("port", cfg.ApiPort),
	)

	dbUrl := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		cfg.Postgres.User,
		cfg.Postgres.Pass,
		cfg.Postgres.Host,
		cfg.Postgres.Port,
		cfg.Postgres.Db,
	)

	storage, err := postgres.New(dbUrl)
	if err != nil {
		log.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}

	inMemoryCache := sync.Map{}

	if err := storage.LoadCacheFromDB(&inMemoryCache, log); err != nil {
		log.Error("Failed to load cache from database", "error", err)
		os.Exit(1)
	}

	ledgerClient := ledger.New(cfg.Ledger.URL, log,
		ledger.WithTimeout(cfg.Ledger.RequestTimeout),
		ledger.WithPollInterval(cfg.Ledger.PollInterval),
	)
	faucet := ledger.NewFaucet(cfg.Ledger.FaucetURL, cfg.Ledger.RequestTimeout)

	cache := redis.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, log)

	publisher, err := nats.Connect(cfg.Nats.URL, log)
	if err != nil {
		log.Error("Failed to connect to NATS", "error", err)
		os.Exit(1)
	}

	walletService := wallet.New(log, storage, &inMemoryCache, ledgerClient, faucet,
		sealer.New(cfg.SealKey), cfg.JwtSecret,
		wallet.WithAccountCache(cache, cfg.Ledger.CacheTTL),
		wallet.WithPublisher(publisher),
	)
	interpreter := command.NewInterpreter(walletService, log)

	apiServer := api.New(cfg, log, walletService, interpreter, cache, []byte(cfg.JwtSecret))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		apiServer.MustStart()
	}()

	<-sigChan
	log.Info("Got signal to shutdown server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Stop(ctx); err != nil {
		log.Error("Stopping server error", "error", err)
	}

	publisher.Close()
	if err := cache.Close(); err != nil {
		log.Error("Closing redis error", "error", err)
	}
	if err := ledgerClient.Close(); err != nil {
		log.Error("Closing ledger client error", "error", err)
	}
	if err := storage.Stop(); err != nil {
		log.Error("Closing database error", "error", err)
	}
}

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger
	switch env {
	case envLocal:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	}
	return log
}
