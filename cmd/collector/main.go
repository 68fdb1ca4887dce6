package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/buswatch/buswatch_core/internal/collector"
	"github.com/buswatch/buswatch_core/internal/db"
	"github.com/buswatch/buswatch_core/internal/lta"
	"github.com/buswatch/buswatch_core/internal/store"
)

func main() {
	once := flag.Bool("once", false, "Run a single collection cycle and exit")
	interval := flag.Duration("interval", 0, "Collection interval (overrides COLLECT_INTERVAL)")
	purgeDays := flag.Int("purge", 0, "Purge records older than N days and exit")

	flag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Info().Msg("Starting BusWatch collector...")

	pool, err := db.GetDB()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	st := store.New(pool)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := st.EnsureSchema(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure schema")
	}

	if *purgeDays > 0 {
		cutoff := time.Now().UTC().AddDate(0, 0, -*purgeDays)
		purged, err := st.PurgeArrivals(ctx, cutoff)
		if err != nil {
			log.Fatal().Err(err).Msg("Purge failed")
		}
		log.Info().Int64("purged", purged).Time("cutoff", cutoff).Msg("Purge complete")
		os.Exit(0)
	}

	cfg := lta.LoadConfigFromEnv()
	if cfg.APIKey == "" {
		fmt.Println("LTA_API_KEY is required")
		os.Exit(1)
	}
	provider := lta.NewClient(cfg)

	tickEvery := collector.IntervalFromEnv()
	if *interval > 0 {
		tickEvery = *interval
	}
	coll := collector.New(provider, st, tickEvery)

	if *once {
		result, err := coll.CollectOnce(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("Collection failed")
		}
		log.Info().Int("fetched", result.Fetched).Int("appended", result.Appended).
			Time("recorded_at", result.RecordedAt).Msg("Collection complete")
		os.Exit(0)
	}

	coll.Run(ctx)
	log.Info().Msg("Collector stopped")
}
