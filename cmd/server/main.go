package main

import (
	"context"
	"log/slog"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"patronrelay/internal/config"
	"patronrelay/internal/idempotency"
	"patronrelay/internal/server"
	"patronrelay/internal/treasury"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(log)

	cfg, err := config.Load()
	if err != nil {
		log.Error("config error", "err", err)
		os.Exit(1)
	}

	store, err := buildStore(cfg, log)
	if err != nil {
		log.Error("processed-payment store error", "err", err)
		os.Exit(1)
	}

	client, err := buildClient(cfg, log)
	if err != nil {
		log.Error("treasury client error", "err", err)
		os.Exit(1)
	}

	apiServer := server.NewServer(cfg, client, store, log)

	go func() {
		if err := apiServer.Start(); err != nil {
			log.Info("server stopped", "err", err)
		}
	}()

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = apiServer.Shutdown(ctx)
}

func buildStore(cfg *config.AppConfig, log *slog.Logger) (idempotency.Store, error) {
	if cfg.Service.PostgresDSN != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return idempotency.NewPostgresStore(ctx, cfg.Service.PostgresDSN)
	}
	log.Info("using file-backed processed-payment store", "path", cfg.Service.ProcessedStorePath)
	return idempotency.NewFileStore(cfg.Service.ProcessedStorePath)
}

func buildClient(cfg *config.AppConfig, log *slog.Logger) (treasury.Client, error) {
	if cfg.Chain.TreasuryPrivateKey == "" {
		log.Warn("TREASURY_PRIVATE_KEY not set, using fake treasury client")
		return treasury.NewFakeClient(new(big.Int)), nil
	}
	return treasury.NewEthClient(context.Background(), treasury.EthClientConfig{
		RPCURL:        cfg.Chain.RPCURL,
		PrivateKeyHex: cfg.Chain.TreasuryPrivateKey,
		TokenAddress:  cfg.Chain.PatronTokenAddress,
	})
}
