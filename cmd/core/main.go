package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/zaebee/aura/internal/config"
	"github.com/zaebee/aura/internal/core"
	"github.com/zaebee/aura/internal/embedding"
	"github.com/zaebee/aura/internal/hive"
	"github.com/zaebee/aura/internal/logger"
	"github.com/zaebee/aura/internal/market"
	"github.com/zaebee/aura/internal/reasoner"
	"github.com/zaebee/aura/internal/solana"
	"github.com/zaebee/aura/internal/store"
	"github.com/zaebee/aura/internal/telemetry"
)

var version = "dev"

func main() {
	logger.Banner(version)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("CONFIG", fmt.Sprintf("Load failed: %v", err))
		os.Exit(1)
	}

	logger.Section("storage")
	st, err := store.Open(cfg.Database.URL, cfg.Database.VectorDimension)
	if err != nil {
		logger.Error("DB", fmt.Sprintf("Failed to open store: %v", err))
		os.Exit(1)
	}
	defer st.Close()

	telemetryCache := telemetry.NewCache(cfg.Server.PrometheusURL)
	embedder := embedding.NewClient(cfg.LLM.APIKey, cfg.LLM.BaseURL, cfg.LLM.EmbeddingModel, cfg.Database.VectorDimension)

	// Crypto-lock mode: wire the Solana provider and the market.
	var mkt *market.Market
	var converter *market.PriceConverter
	if cfg.Crypto.Enabled {
		logger.Section("crypto")
		provider, err := solana.NewProvider(cfg.Crypto.SolanaPrivateKey, cfg.Crypto.SolanaRPCURL, cfg.Crypto.SolanaNetwork, cfg.Crypto.SolanaUSDCMint)
		if err != nil {
			logger.Error("SOLANA", fmt.Sprintf("Provider init failed: %v", err))
			os.Exit(1)
		}
		secrets, err := market.NewSecretBox(cfg.Crypto.SecretEncryptionKey)
		if err != nil {
			logger.Error("MARKET", fmt.Sprintf("Secret box init failed: %v", err))
			os.Exit(1)
		}
		mkt = market.New(st, provider, secrets, cfg.Crypto.DealTTLSeconds)
		converter = market.NewPriceConverter(cfg.Crypto.SolUSDRate)
		logger.Stats("currency", cfg.Crypto.Currency)
		logger.Stats("network", cfg.Crypto.SolanaNetwork)
		logger.Stats("secret_key", config.Mask(cfg.Crypto.SecretEncryptionKey))
	}

	// Event sink: NATS when configured, process log otherwise.
	var sink hive.EventSink = hive.LogSink{}
	if cfg.Server.NATSURL != "" {
		natsSink, err := hive.NewNATSSink(cfg.Server.NATSURL)
		if err != nil {
			logger.Warn("EMIT", fmt.Sprintf("NATS unavailable, falling back to log sink: %v", err))
		} else {
			sink = natsSink
			logger.Success("EMIT", "Connected to NATS")
		}
	}
	emitter := hive.NewEmitter(sink)
	defer emitter.Close()

	metabolism := hive.NewMetabolism(
		hive.NewAggregator(st, telemetryCache),
		hive.NewMembrane(cfg.Logic.MinMargin, cfg.Logic.MaxDiscountPercent, cfg.Logic.AllowedAddons),
		hive.NewConnector(mkt, converter, cfg.Crypto.Currency, cfg.Crypto.Enabled),
		emitter,
	)

	// The server accepts RPCs immediately; until the reasoner finishes
	// loading, Negotiate answers 503 and readiness stays false.
	go func() {
		metabolism.SetReasoner(reasoner.New(cfg))
	}()

	srv := core.NewServer(cfg, metabolism, mkt, st, telemetryCache, embedder)
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	httpServer := &http.Server{Addr: addr, Handler: srv.Handler()}

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		logger.Info("CORE", "Shutting down")
		httpServer.Close()
	}()

	logger.Success("CORE", fmt.Sprintf("Listening on %s", addr))
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("CORE", fmt.Sprintf("Server failed: %v", err))
		os.Exit(1)
	}
}
