// Package main is the entry point for the door panel bridge.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/door-panel-bridge/runtime/internal/api"
	"github.com/door-panel-bridge/runtime/internal/archive"
	"github.com/door-panel-bridge/runtime/internal/bridge"
	"github.com/door-panel-bridge/runtime/internal/config"
	"github.com/door-panel-bridge/runtime/internal/websocket"
)

// version is set at build time via -ldflags "-X main.version=x.y.z".
// Defaults to "dev" when not provided.
var version = "dev"

func main() {
	healthCheck := flag.Bool("health-check", false, "Run health check and exit")
	noArchive := flag.Bool("no-archive", false, "Run without the SQLite event archive")
	listenAddr := flag.String("listen", "", "Listen address (overrides LISTEN_ADDR)")
	archivePath := flag.String("archive", "", "Event archive path (overrides ARCHIVE_PATH)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}
	if *archivePath != "" {
		cfg.ArchivePath = *archivePath
	}

	// Health check mode for Docker HEALTHCHECK
	if *healthCheck {
		if err := runHealthCheck(cfg.ListenAddr); err != nil {
			log.Fatalf("Health check failed: %v", err)
		}
		os.Exit(0)
	}

	if envVer := os.Getenv("VERSION"); envVer != "" {
		version = envVer
	}
	log.Printf("Starting door panel bridge (version: %s)...", version)

	var events *archive.Archive
	if !*noArchive {
		events, err = archive.Open(cfg.ArchivePath)
		if err != nil {
			log.Fatalf("Failed to open event archive: %v", err)
		}
		defer events.Close()
	}

	runtime := bridge.New(cfg, events)

	// WebSocket hub for local consumers
	hub := websocket.NewHub()
	go hub.Run()

	broadcaster := websocket.NewEventBroadcaster(hub)
	runtime.SetCacheChangeNotify(func() {
		broadcaster.BroadcastCodesChanged()
		broadcaster.BroadcastSchedulesChanged()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := runtime.Start(ctx); err != nil {
		log.Fatalf("Failed to start runtime: %v", err)
	}

	changes, unsubscribe := runtime.Subscribe(0, 256)
	defer unsubscribe()
	go broadcaster.PumpChanges(changes)
	go broadcaster.PumpStreamStatus(ctx, runtime.StreamStatus, 2*time.Second)

	router := api.NewRouter(runtime, hub)
	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Server listening on %s", cfg.ListenAddr)
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down...")

	runtime.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server shutdown error: %v", err)
	}

	log.Println("Bridge stopped")
}

// runHealthCheck probes the running bridge.
func runHealthCheck(addr string) error {
	url := "http://localhost" + addr + "/api/health"
	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return http.ErrAbortHandler
	}
	return nil
}
