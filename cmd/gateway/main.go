package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/zaebee/aura/internal/config"
	"github.com/zaebee/aura/internal/gateway"
	"github.com/zaebee/aura/internal/logger"
	"github.com/zaebee/aura/internal/rpc"
)

var version = "dev"

func main() {
	logger.Banner(version)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("CONFIG", fmt.Sprintf("Load failed: %v", err))
		os.Exit(1)
	}

	core := rpc.NewClient(cfg.Server.CoreAddr, 30*time.Second)
	srv := gateway.NewServer(cfg, core, version)

	addr := fmt.Sprintf(":%d", cfg.Server.GatewayPort)
	httpServer := &http.Server{Addr: addr, Handler: srv.Handler()}

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		logger.Info("GATEWAY", "Shutting down")
		httpServer.Close()
	}()

	logger.Stats("core_addr", cfg.Server.CoreAddr)
	logger.Success("GATEWAY", fmt.Sprintf("Listening on %s", addr))
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("GATEWAY", fmt.Sprintf("Server failed: %v", err))
		os.Exit(1)
	}
}
