package main

import (
	"flag"
	"io"
	"log"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/logger"
	"secretfriend/internal/config"
	"secretfriend/internal/emailjs"
	"secretfriend/internal/handlers"
	"secretfriend/internal/services"
)

func main() {
	cfgPath := flag.String("config", "", "path to an optional YAML config file")
	flag.Parse()

	// 1. Load configuration (YAML file, .env and environment overrides)
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 2. Initialize logging
	logOut := io.Discard
	if cfg.Log.File != "" {
		f, err := os.OpenFile(cfg.Log.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
		if err != nil {
			log.Fatalf("Failed to open log file: %v", err)
		}
		defer f.Close()
		logOut = f
	}
	defer logger.Init("secretfriend", cfg.Log.Verbose, false, logOut).Close()

	// 3. Initialize the draw pipeline: generator, EmailJS client and dispatcher
	generator := services.NewGenerator(nil, cfg.Draw.MaxAttempts)
	client := emailjs.NewClient(cfg.EmailJS.Endpoint, cfg.EmailJS.Timeout, nil)
	dispatcher := services.NewDispatcher(client, nil)
	drawService := services.NewDrawService(generator, dispatcher, services.Options{
		MinParticipants:  cfg.Draw.MinParticipants,
		PacingDelay:      cfg.Draw.PacingDelay,
		KeepParticipants: cfg.Draw.KeepParticipants,
		IdleTTL:          cfg.Sessions.IdleTTL,
		DefaultConfig:    cfg.EmailJS.Credentials(),
	})

	// 4. Initialize the HTTP Handler
	httpHandler := handlers.NewHTTPHandler(drawService)

	// 5. Set up the Gin router
	r := gin.Default()

	// 6. Register public routes (before middleware)
	httpHandler.RegisterPublicRoutes(r)

	// 7. Group routes that require tenant identification and apply middleware
	tenantRoutes := r.Group("/")
	tenantRoutes.Use(httpHandler.TenantMiddleware())
	httpHandler.RegisterTenantRoutes(tenantRoutes)

	// 8. Start the background janitor to clean up inactive sessions
	go func() {
		ticker := time.NewTicker(cfg.Sessions.CleanupInterval)
		defer ticker.Stop()
		for range ticker.C {
			drawService.CleanUpInactiveSessions()
			logger.Info("Performed cleanup of inactive sessions.")
		}
	}()

	// 9. Run the server
	logger.Infof("Server starting on %s", cfg.Server.Addr)
	if err := r.Run(cfg.Server.Addr); err != nil {
		logger.Fatalf("Failed to run server: %v", err)
	}
}
