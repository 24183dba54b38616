// Package main is the entry point for the risk engine valuation service.
// It exposes Monte Carlo AMC exposure simulation over HTTP: clients
// submit a portfolio with scenario parameters and get back an NPV cube
// summary, with live progress streamed over a websocket.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/riskengine/internal/config"
	"github.com/aristath/riskengine/internal/database"
	"github.com/aristath/riskengine/internal/market"
	"github.com/aristath/riskengine/internal/scheduler"
	"github.com/aristath/riskengine/internal/server"
	"github.com/aristath/riskengine/pkg/logger"
)

func main() {
	// Load configuration first to get log level.
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{
			Level:  "info",
			Pretty: true,
		})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: true,
	})

	log.Info().Msg("Starting risk engine")

	// Open the market database and make sure the schema exists. All
	// market quotes used to build models and markets live here.
	marketDB, err := database.New(database.Config{
		Path:    cfg.MarketDBPath,
		Profile: database.ProfileStandard,
		Name:    "market",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open market database")
	}
	defer marketDB.Close()

	repo := market.NewRepository(marketDB, log)
	if err := repo.InitSchema(); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize market schema")
	}

	srv := server.New(server.Config{
		Port:    cfg.Port,
		Log:     log,
		Config:  cfg,
		Repo:    repo,
		DevMode: cfg.DevMode,
	})

	// Scheduled end-of-day valuation, if configured.
	sched := scheduler.New(log)
	if cfg.ValuationSchedule != "" {
		job := scheduler.NewEODValuationJob(srv.Runs(), cfg.DataDir, cfg.Samples, cfg.Threads, cfg.Seed, log)
		if err := sched.AddJob(cfg.ValuationSchedule, job); err != nil {
			log.Fatal().Err(err).Str("schedule", cfg.ValuationSchedule).Msg("Failed to register valuation job")
		}
		sched.Start()
		defer sched.Stop()
	}

	// Start server in goroutine so shutdown signals can be handled on
	// the main thread.
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	// Wait for interrupt signal for graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server shutdown failed")
	}
	log.Info().Msg("Shutdown complete")
}
