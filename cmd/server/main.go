package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"doc-collab/internal/api"
	"doc-collab/internal/collab"
	"doc-collab/internal/config"
	"doc-collab/internal/db"
	"doc-collab/internal/hub"
	"doc-collab/internal/repository"
	"doc-collab/internal/telemetry"
)

func main() {
	log.Println("🚀 Starting Document Store...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}

	// Initialize Jaeger tracing first so every operation is traced
	jaegerShutdown, err := telemetry.InitJaeger("doc-collab-store", cfg.JaegerEndpoint)
	if err != nil {
		log.Printf("⚠️  Failed to initialize Jaeger: %v (continuing without tracing)", err)
		jaegerShutdown = func(ctx context.Context) error { return nil }
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := jaegerShutdown(ctx); err != nil {
			log.Printf("⚠️  Failed to shutdown Jaeger: %v", err)
		}
	}()

	// Initialize GORM database
	database, err := db.NewGorm(cfg)
	if err != nil {
		log.Fatalf("❌ Failed to connect to database: %v", err)
	}
	defer database.Close()

	// Initialize repositories
	docRepo := repository.NewDocumentRepository(database.DB)
	lockRepo := repository.NewLockRepository(database.DB)
	versionRepo := repository.NewVersionRepository(database.DB)

	// In-memory collaboration state and the WebSocket event feed
	tracker := collab.NewTracker()
	eventHub := hub.NewHub(tracker)
	eventHub.Start()

	// Initialize handlers with dependency injection
	handler := api.NewHandler(docRepo, lockRepo, versionRepo, tracker, eventHub, cfg.LockTTL)
	router := api.SetupRoutes(handler)

	addr := fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("🌐 Server listening on http://%s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("❌ Server error: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("\n🛑 Shutting down server...")

	// Give the server time to finish in-flight requests
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("⚠️  Server forced to shutdown: %v", err)
	}

	// Close all WebSocket feeds
	eventHub.Shutdown()

	log.Println("✓ Server shutdown complete")
}
