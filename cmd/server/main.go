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
	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mukhametgalin/predict-trading-system/execution-engine/internal/api"
	"github.com/mukhametgalin/predict-trading-system/execution-engine/internal/config"
	"github.com/mukhametgalin/predict-trading-system/execution-engine/internal/engine"
	"github.com/mukhametgalin/predict-trading-system/execution-engine/internal/eventbus"
	"github.com/mukhametgalin/predict-trading-system/execution-engine/internal/executor"
	"github.com/mukhametgalin/predict-trading-system/execution-engine/internal/marketdata"
	"github.com/mukhametgalin/predict-trading-system/execution-engine/internal/storage"
	"github.com/mukhametgalin/predict-trading-system/execution-engine/internal/strategies"
)

func main() {
	// Setup logger
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})

	cfg := config.Load()
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	log.Info().Msg("Starting Execution Engine...")

	// Setup storage
	store, err := storage.Open(cfg.StoreDriver, cfg.PostgresURL, cfg.SQLitePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open store")
	}
	defer store.Close()

	// Redis is optional: without it there is no bar cache and no event stream.
	var (
		rdb    *redis.Client
		bus    *eventbus.RedisEventBus
		events engine.Publisher
		reader api.EventReader
	)
	if cfg.RedisHost != "" {
		rdb, err = eventbus.Dial(cfg.RedisHost, cfg.RedisPort)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		bus = eventbus.NewRedisEventBus(rdb)
		defer bus.Close()
		events, reader = bus, bus
	}

	bars := marketdata.NewCache(rdb, marketdata.NewREST(cfg.MarketDataURL), cfg.MarketCacheTTL)

	// Setup venue
	var (
		venue   engine.Venue
		account engine.Account
	)
	if cfg.DryRun {
		paper := executor.NewPaper(cfg.PaperBalance, cfg.PaperFeeRate, cfg.PaperSlippage)
		venue, account = paper, paper
		log.Warn().Float64("balance", cfg.PaperBalance).Msg("Dry run: orders go to the paper venue")
	} else {
		client := executor.NewClient(cfg.VenueURL, cfg.VenueAPIKey, cfg.VenueRateLimit)
		venue, account = client, client
	}

	registry := strategies.DefaultRegistry()
	live := engine.Default()
	deps := engine.Deps{
		Venue:      venue,
		Account:    account,
		MarketData: bars,
		Store:      store,
		Events:     events,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The first definition in the strategy file starts immediately.
	if cfg.StrategyFile != "" {
		specs, err := config.LoadStrategies(cfg.StrategyFile)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to load strategy file")
		}
		if len(specs) > 0 {
			s, err := registry.Build(specs[0])
			if err != nil {
				log.Fatal().Err(err).Msg("Invalid strategy definition")
			}
			if err := live.StartWith(ctx, s, cfg.PollInterval, deps); err != nil {
				log.Error().Err(err).Msg("Failed to start live strategy")
			}
		}
	}

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := api.NewServer(api.Options{
		Live:         live,
		Registry:     registry,
		LiveDeps:     deps,
		History:      bars,
		Runs:         store,
		Events:       reader,
		PollInterval: cfg.PollInterval,
	})
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	log.Info().Str("addr", cfg.HTTPAddr).Msg("Execution Engine started")

	// Wait for interrupt
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	if err := live.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Live engine did not stop cleanly")
	}
}
