package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"sterling-gateway/internal/api"
	"sterling-gateway/internal/events"
	"sterling-gateway/internal/ledger"
	"sterling-gateway/internal/position"
	"sterling-gateway/internal/session"
	"sterling-gateway/internal/terminal"
	"sterling-gateway/pkg/config"
	"sterling-gateway/pkg/venue"
)

const version = "0.3.0"

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	log.Printf("starting order gateway v%s on :%s (bridge=%s)", version, cfg.Port, cfg.BridgeURL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Core services
	bus := events.NewBus()
	led := ledger.New()
	positions := position.NewStore()

	driver := terminal.NewBridgeDriver(cfg.BridgeURL, cfg.BridgeAuthToken)
	adapter := terminal.NewAdapter(driver, led, positions, bus, terminal.Config{
		DefaultRoute: cfg.DefaultRoute,
		DefaultTIF:   cfg.DefaultTIF,
		QueryTimeout: cfg.PositionQueryTimeout,
	})

	if cfg.IdempotencyDBPath != "" {
		sessions, err := session.Open(cfg.IdempotencyDBPath)
		if err != nil {
			log.Fatalf("session store init failed: %v", err)
		}
		defer sessions.Close()
		adapter.SetSessionStore(sessions)
	}

	if cfg.VenuePolicyPath != "" {
		policy, err := venue.Load(cfg.VenuePolicyPath)
		if err != nil {
			log.Fatalf("venue policy load failed: %v", err)
		}
		adapter.SetVenuePolicy(policy)
		log.Printf("venue policy loaded from %s", cfg.VenuePolicyPath)
	}

	// Automation goroutine: the only writer of ledger and position state.
	go adapter.Run(ctx)

	// Wait for the terminal's automation interface; a timeout is not fatal.
	supervisor := terminal.NewSupervisor(adapter, cfg.ReadyMaxWait, cfg.PollInterval)
	if len(cfg.TerminalCheckCmd) > 0 || len(cfg.TerminalLaunchCmd) > 0 {
		supervisor.Proc = &terminal.ExecSupervisor{
			CheckCommand:  cfg.TerminalCheckCmd,
			LaunchCommand: cfg.TerminalLaunchCmd,
		}
	}
	if err := supervisor.AwaitReady(ctx); err != nil {
		log.Printf("terminal not ready: %v; serving degraded, retrying in background", err)
		supervisor.RetryInBackground(ctx)
	}

	server := api.NewServer(bus, led, positions, adapter, api.SystemMeta{
		Version:      version,
		DefaultRoute: cfg.DefaultRoute,
	}, cfg.JWTSecret)

	httpServer := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: server.Router,
	}

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server failed: %v", err)
		}
	}()
	log.Printf("gateway API listening on :%s", cfg.Port)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutdown requested")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
	cancel()
	log.Println("gateway stopped")
}
