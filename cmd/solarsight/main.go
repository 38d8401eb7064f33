package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/rafamrn/solarsight/internal/config"
	"github.com/rafamrn/solarsight/internal/refresh"
	"github.com/rafamrn/solarsight/internal/server"
	"github.com/rafamrn/solarsight/pkg/aggregate"
	"github.com/rafamrn/solarsight/pkg/cache"
	"github.com/rafamrn/solarsight/pkg/performance"
	"github.com/rafamrn/solarsight/pkg/store"
	"github.com/rafamrn/solarsight/pkg/tokens"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]

	switch command {
	case "serve":
		runServe()

	case "refresh":
		runRefresh()

	case "help":
		printUsage()

	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("SolarSight - Multi-Provider Solar Telemetry Aggregation")
	fmt.Println()
	fmt.Println("Usage: solarsight <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve       Start the HTTP API and the daily cache refresher")
	fmt.Println("  refresh     Recompute every account's reports once and exit")
	fmt.Println("  help        Show this message")
	fmt.Println()
	fmt.Println("Environment Variables:")
	fmt.Println("  API_ADDR           Listen address (default :8000)")
	fmt.Println("  DB_DRIVER          sqlite3 or pgx (default sqlite3)")
	fmt.Println("  DB_DSN             Database path or connection string")
	fmt.Println("  REDIS_ADDR         Optional shared cache tier (empty disables)")
	fmt.Println("  PROVIDER_TIMEOUT   Provider HTTP timeout (default 30s)")
	fmt.Println("  CACHE_WINDOW       Result freshness window (default 23h)")
	fmt.Println("  REFRESH_HOUR       Hour of day for the batch refresh (default 1)")
	fmt.Println("  LOG_LEVEL          trace, debug, info, warn, error (default info)")
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Logger()
}

// buildCore wires storage, token lifecycle, the tiered cache and the
// aggregation layers shared by every command.
func buildCore(cfg *config.Config, log zerolog.Logger) (*store.Store, *aggregate.Aggregator, *performance.Service, error) {
	st, err := store.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open store: %w", err)
	}

	tiers := []cache.Tier{cache.NewMemoryTier()}
	if cfg.RedisAddr != "" {
		redisTier, err := cache.NewRedisTier(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.CacheWindow)
		if err != nil {
			log.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("redis tier unavailable, continuing without it")
		} else {
			tiers = append(tiers, redisTier)
		}
	}
	tiers = append(tiers, cache.NewDurableTier(st))

	tm := tokens.NewManager(st)
	agg := aggregate.New(st, tm, log)
	agg.SetProviderTimeout(cfg.ProviderTimeout)
	resultCache := cache.New(cfg.CacheWindow, log, tiers...)
	perf := performance.NewService(agg, st, resultCache, log)
	return st, agg, perf, nil
}

func runServe() {
	cfg := config.Load()
	log := newLogger(cfg.LogLevel)

	st, agg, perf, err := buildCore(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}
	defer st.Close()

	srv := server.New(agg, perf, st, log)
	runner := refresh.New(st, perf, cfg.RefreshHour, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := runner.Start(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("refresher stopped")
		}
	}()

	go func() {
		<-ctx.Done()
		log.Info().Msg("shutting down")
		if err := srv.Shutdown(); err != nil {
			log.Error().Err(err).Msg("shutdown failed")
		}
	}()

	log.Info().Str("addr", cfg.APIAddr).Msg("listening")
	if err := srv.Listen(cfg.APIAddr); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
}

func runRefresh() {
	cfg := config.Load()
	log := newLogger(cfg.LogLevel)

	st, _, perf, err := buildCore(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}
	defer st.Close()

	runner := refresh.New(st, perf, cfg.RefreshHour, log)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	if err := runner.RunOnce(ctx); err != nil {
		log.Fatal().Err(err).Msg("refresh failed")
	}
}
