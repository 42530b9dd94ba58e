package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"api_gateway/internal/config"
	"api_gateway/internal/utils"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		utils.NewLogger("gateway").Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	if err := utils.ConfigureLogging(cfg.Log.Level, cfg.Log.Format); err != nil {
		utils.NewLogger("gateway").Error("Invalid logging configuration", "error", err)
		os.Exit(1)
	}
	logger := utils.NewLogger("gateway")
	gin.SetMode(gin.ReleaseMode)

	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	a, err := buildApp(startCtx, cfg)
	cancelStart()
	if err != nil {
		logger.Error("Failed to start gateway", "error", err)
		os.Exit(1)
	}

	// Create HTTP server
	addr := ":" + cfg.HTTPPort
	server := &http.Server{
		Addr:         addr,
		Handler:      a.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("API gateway listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("Server forced to shutdown", "error", err)
	}

	// Flush audit entries, usage counters and events
	a.close(ctx)

	logger.Info("Server exited")
	_ = logger.Sync()
}
