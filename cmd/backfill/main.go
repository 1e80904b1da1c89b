// Command backfill drives a resumable historical-tick backfill for a
// single symbol over a date range.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"ticksync/internal/backfill"
	"ticksync/internal/config"
	"ticksync/internal/domain"
	"ticksync/internal/gapdetect"
	"ticksync/internal/gateway"
	"ticksync/internal/jobstate"
	"ticksync/internal/kv"
	"ticksync/internal/ratelimit"
	"ticksync/internal/tickstore"
	"ticksync/internal/util"
)

func main() {
	symbol := flag.String("symbol", "", "symbol to backfill (required)")
	startDate := flag.String("start-date", "", "range start, YYYY-MM-DD (required)")
	endDate := flag.String("end-date", "", "range end, YYYY-MM-DD (required)")
	configPath := flag.String("config", "config.yaml", "path to YAML configuration file")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: backfill --symbol S --start-date YYYY-MM-DD --end-date YYYY-MM-DD [--config path]\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *symbol == "" || *startDate == "" || *endDate == "" {
		flag.Usage()
		os.Exit(2)
	}

	if err := run(*configPath, *symbol, *startDate, *endDate); err != nil {
		fmt.Fprintf(os.Stderr, "backfill: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, symbol, startDate, endDate string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := util.NewLogger(cfg.Logging.Level)
	util.SetDefault(logger)

	start, err := time.Parse("2006-01-02", startDate)
	if err != nil {
		return fmt.Errorf("parsing start-date: %w", err)
	}
	end, err := time.Parse("2006-01-02", endDate)
	if err != nil {
		return fmt.Errorf("parsing end-date: %w", err)
	}

	ctx := context.Background()

	kvClient, err := kv.Open(ctx, cfg.Backfill.KVURL)
	if err != nil {
		return fmt.Errorf("connecting to kv store: %w", err)
	}
	defer kvClient.Close()

	windows := []ratelimit.Window{
		{Name: "long", Limit: cfg.RateLimit.Long.Limit, Duration: time.Duration(cfg.RateLimit.Long.DurationSeconds) * time.Second},
		{Name: "contract", Limit: cfg.RateLimit.Contract.Limit, Duration: time.Duration(cfg.RateLimit.Contract.DurationSeconds) * time.Second},
		{Name: "duplicate", Limit: cfg.RateLimit.Duplicate.Limit, Duration: time.Duration(cfg.RateLimit.Duplicate.DurationSeconds) * time.Second},
	}
	limiter := ratelimit.NewRedisLimiter(kvClient.Raw(), cfg.RateLimit.AccountID, windows)

	jobs := jobstate.NewRedisStore(kvClient.Raw())
	detector := gapdetect.NewFileDetector(cfg.Storage.DataDir)
	gw := gateway.NewAlpacaGateway(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.DataURL, limiter)
	ticks := tickstore.NewParquetStore(cfg.Storage.DataDir)

	coordinator := backfill.New(jobs, detector, gw, ticks, logger).
		WithHeartbeatTimeout(time.Duration(cfg.Backfill.HeartbeatTimeoutS) * time.Second)

	r, err := domain.NewDateRange(start, end)
	if err != nil {
		return fmt.Errorf("building date range: %w", err)
	}

	report, err := coordinator.BackfillRange(ctx, symbol, r)
	if err != nil {
		return fmt.Errorf("running backfill: %w", err)
	}

	logger.Info("backfill finished",
		"symbol", report.Symbol,
		"days_processed", report.DaysProcessed,
		"total_ticks", report.TotalTicks,
		"failed_days", len(report.FailedDays),
	)
	fmt.Printf("%s: %d days processed, %d ticks, %d failed\n", report.Symbol, report.DaysProcessed, report.TotalTicks, len(report.FailedDays))
	for _, fd := range report.FailedDays {
		fmt.Printf("  FAILED %s: %s\n", fd.Date.Format("2006-01-02"), fd.Message)
	}

	return nil
}
