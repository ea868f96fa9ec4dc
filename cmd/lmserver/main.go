package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/raaihank/langmodel/internal/app"
	"github.com/raaihank/langmodel/internal/config"
	"github.com/raaihank/langmodel/internal/server"
	"github.com/raaihank/langmodel/internal/websocket"
)

var (
	version = "0.1.0"
	commit  = "dev"
	date    = "unknown"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Path to configuration file")
		showVersion = flag.Bool("version", false, "Show version information")
		healthCheck = flag.String("health-check", "", "Check the server at this base URL and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("langmodel %s (commit: %s, built: %s)\n", version, commit, date)
		os.Exit(0)
	}

	if *healthCheck != "" {
		performHealthCheck(*healthCheck)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := app.NewLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting langmodel",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("build_date", date),
		zap.Int("port", cfg.Server.Port),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	services, err := app.Initialize(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	var wsHub *websocket.Hub
	if cfg.WebSocket.Enabled {
		wsHub = websocket.NewHub(&cfg.WebSocket, log.WithComponent("websocket").Logger)
		go wsHub.Run()
		defer wsHub.Stop()
	}

	var searcher server.Searcher
	if services.Store != nil {
		searcher = services.Store
	}

	server.Version = version
	srv := server.New(cfg, log, services.Inferencer, wsHub, searcher)

	if err := config.Watch(log.WithComponent("config").Logger, func(newCfg *config.Config) {
		reload := websocket.ConfigReloadEvent{
			Strategy:         string(newCfg.Inference.Extraction.Strategy),
			Layer:            newCfg.Inference.Extraction.Layer,
			IgnoreFirstToken: newCfg.Inference.Extraction.IgnoreFirstToken,
		}
		if err := services.Inferencer.SetExtraction(newCfg.Inference.Extraction); err != nil {
			log.Error("Rejected extraction from reloaded config", zap.Error(err))
			reload.Error = err.Error()
		}
		if newCfg.Model.NameOrPath != cfg.Model.NameOrPath {
			log.Warn("Model changes require a restart",
				zap.String("loaded", cfg.Model.NameOrPath),
				zap.String("configured", newCfg.Model.NameOrPath))
		}
		if wsHub != nil {
			wsHub.BroadcastEvent(websocket.Event{
				Type:      websocket.EventTypeConfigReload,
				Timestamp: time.Now(),
				Data:      reload,
			})
		}
	}); err != nil {
		log.Warn("Config hot reload disabled", zap.Error(err))
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", zap.Int("port", cfg.Server.Port))
		serverErrors <- srv.Start()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server error", zap.Error(err))
		}
	case sig := <-shutdown:
		log.Info("Shutdown signal received", zap.String("signal", sig.String()))
		cancel()

		// Give outstanding requests 30 seconds to complete
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := srv.Stop(shutdownCtx); err != nil {
			log.Error("Failed to shutdown server gracefully", zap.Error(err))
			return
		}

		log.Info("Server shutdown complete")
	}
}

// performHealthCheck performs a health check against a running server
func performHealthCheck(baseURL string) {
	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	resp, err := client.Get(baseURL + "/health")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: HTTP %d\n", resp.StatusCode)
		os.Exit(1)
	}

	fmt.Println("Health check passed")
}
