// Package startup prepares the application server
package startup

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fashionmirror/fashionmirror-go/internal/application/container"
	"github.com/fashionmirror/fashionmirror-go/internal/infrastructure/merchant"
	"github.com/fashionmirror/fashionmirror-go/internal/infrastructure/observability/logging"
	"github.com/fashionmirror/fashionmirror-go/internal/infrastructure/sessions"
	"github.com/fashionmirror/fashionmirror-go/internal/presentation/http/server"
	"github.com/fashionmirror/fashionmirror-go/pkg/config"
)

// Initialize performs the complete startup sequence: merchant registry,
// dependency container, broadcaster loop, session cleanup worker, HTTP server,
// and graceful shutdown.
func Initialize() error {
	setupLogging()

	start := time.Now().UTC()

	ctx, cancelBackgroundTasks := context.WithCancel(context.Background())
	defer cancelBackgroundTasks()

	log.Println("\033[35m" + `
  ___        _    _            __  ___
 | __|_ _ __| |_ (_)___ _ _   |  \/  (_)_ _ _ _ ___ _ _
 | _/ _` + "`" + ` (_-< ' \| / _ \ ' \  | |\/| | | '_| '_/ _ \ '_|
 |_|\__,_/__/_||_|_\___/_||_| |_|  |_|_|_| |_| \___/_|
` + "\033[0m")

	// Step 1: Structured logging
	logger, err := logging.NewChanneledLogger(logging.DefaultLoggerConfig())
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	logger.Startup().Info("Channeled logging initialized")

	// Step 2: Merchant registry
	logger.Startup().Info("Loading merchant registry...", "path", config.MerchantRegistryPath)
	registry, err := merchant.LoadRegistry(config.MerchantRegistryPath, logger)
	if err != nil {
		return fmt.Errorf("failed to load merchant registry: %w", err)
	}
	logger.Startup().Info("Merchant registry loaded", "merchants", registry.Count())

	// Step 3: Dependency injection container
	logger.Startup().Info("Initializing dependency injection container...")
	appContainer := container.NewContainer(registry, logger)
	logger.Startup().Info("Container initialization complete")

	// Step 4: Widget message relay loop
	go appContainer.Broadcaster.Run()
	logger.Startup().Info("Widget broadcaster started")

	// Step 5: Session cleanup worker
	if store, ok := appContainer.SessionStore.(*sessions.MemoryStore); ok {
		go store.StartCleanup(ctx, time.Minute)
		logger.Startup().Info("Session cleanup worker started", "interval", time.Minute)
	}

	// Step 6: HTTP server
	port := config.Port
	httpServer := server.New(port, appContainer)
	logger.Startup().Info("HTTP server initialized", "port", port)

	// Step 7: Graceful shutdown
	gracefulShutdown := make(chan os.Signal, 1)
	signal.Notify(gracefulShutdown, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.System().Info("Starting HTTP server", "address", ":"+port)
		if err := httpServer.Start(); err != nil {
			logger.System().Error("HTTP server failed", "error", err.Error())
		}
	}()

	logger.Startup().Info("Application startup complete",
		"totalDuration", time.Since(start),
		"port", port)

	<-gracefulShutdown
	logger.Shutdown().Info("Shutdown signal received, starting graceful shutdown...")

	shutdownStart := time.Now()
	cancelBackgroundTasks()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger.Shutdown().Info("Stopping HTTP server...")
	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Shutdown().Error("Error during server shutdown", "error", err.Error())
	} else {
		logger.Shutdown().Info("HTTP server stopped successfully")
	}

	logger.Shutdown().Info("Application shutdown complete",
		"totalUptime", time.Since(start),
		"shutdownDuration", time.Since(shutdownStart))

	return nil
}

// setupLogging configures application logging
func setupLogging() {
	if os.Getenv("GIN_MODE") == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}
