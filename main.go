package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"cartscout/internal/config"
	"cartscout/internal/handlers"
	"cartscout/internal/pkg/logger"
	"cartscout/internal/services"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:    cfg.Log.Level,
		Format:   cfg.Log.Format,
		Output:   cfg.Log.Output,
		FilePath: cfg.Log.FilePath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		os.Exit(1)
	}

	log.Info("Starting cartscout", "environment", cfg.Environment, "port", cfg.HTTP.Port)

	llmService, err := services.NewLLMService(cfg.LLM, log)
	if err != nil {
		log.WithError(err).Error("LLM service init failed")
		os.Exit(1)
	}

	scraperService, err := services.NewScraperService(cfg.Scraper, log)
	if err != nil {
		log.WithError(err).Error("Scraper service init failed")
		os.Exit(1)
	}

	cacheService, err := services.NewCacheService(cfg.Redis, log)
	if err != nil {
		log.WithError(err).Error("Cache service init failed")
		os.Exit(1)
	}
	defer cacheService.Close()

	orchestrator := services.NewOrchestrator(
		services.NewInterpreterService(llmService, cfg.Pipeline, log),
		scraperService,
		services.NewScorerService(cfg.Pipeline, log),
		services.NewValidatorService(llmService, cfg.Pipeline, log),
		services.NewSummaryService(llmService, cfg.Pipeline, log),
		cacheService,
		cfg.Pipeline,
		log,
	)

	handler := handlers.NewQueryHandler(orchestrator, map[string]handlers.HealthChecker{
		"llm":     llmService,
		"scraper": scraperService,
		"cache":   cacheService,
	}, log)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	router.POST("/api/query", handler.ExecuteQuery)
	router.GET("/health", handler.Health)
	router.GET("/stats", handler.Stats)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("HTTP server stopped unexpectedly")
			os.Exit(1)
		}
	}()
	log.Info("HTTP server listening", "addr", server.Addr)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutdown signal received, draining")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("HTTP server shutdown failed")
	}
	if err := orchestrator.Close(shutdownCtx); err != nil {
		log.WithError(err).Error("Orchestrator drain failed")
	}

	log.Info("Shutdown complete")
}
