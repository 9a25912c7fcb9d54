package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ducminhle1904/crypto-risk-engine/cmd/common"
	"github.com/ducminhle1904/crypto-risk-engine/pkg/data"
	"github.com/ducminhle1904/crypto-risk-engine/pkg/types"
)

const dateLayout = "2006-01-02"

func main() {
	fs := flag.NewFlagSet("download", flag.ExitOnError)
	flags := common.RegisterCommonFlags(fs)
	var (
		symbol   = fs.String("symbol", "", "Trading symbol (overrides data.symbol)")
		interval = fs.String("interval", "", "Kline interval, e.g. 5m, 1h, 4h, 1d (overrides data.interval)")
		category = fs.String("category", "", "Market category: spot, linear, inverse (overrides data.category)")
		days     = fs.Int("days", 365, "Days of history to download when -start is empty")
		startStr = fs.String("start", "", "Start date (YYYY-MM-DD)")
		endStr   = fs.String("end", "", "End date (YYYY-MM-DD), defaults to now")
		out      = fs.String("out", "", "Output CSV (default data/bybit/<category>/<SYMBOL>/<interval>/candles.csv)")
		merge    = fs.Bool("merge", true, "Merge with bars already in the output file")
		testnet  = fs.Bool("testnet", false, "Use the bybit testnet")
		timeout  = fs.Duration("timeout", 5*time.Minute, "Upper bound on the whole download")
	)
	_ = fs.Parse(os.Args[1:])

	if *flags.Version {
		common.PrintVersion("download")
		return
	}

	env, err := common.Bootstrap(flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}
	defer env.Close()
	cfg := env.Config
	log := env.Logger

	if s := strings.TrimSpace(*symbol); s != "" {
		cfg.Data.Symbol = strings.ToUpper(s)
	}
	if s := strings.TrimSpace(*interval); s != "" {
		cfg.Data.Interval = s
	}
	if s := strings.TrimSpace(*category); s != "" {
		cfg.Data.Category = s
	}

	end := time.Now().UTC()
	if *endStr != "" {
		if end, err = time.Parse(dateLayout, *endStr); err != nil {
			log.Fatal().Err(err).Msg("Invalid -end")
		}
	}
	start := end.AddDate(0, 0, -*days)
	if *startStr != "" {
		if start, err = time.Parse(dateLayout, *startStr); err != nil {
			log.Fatal().Err(err).Msg("Invalid -start")
		}
	}

	if err := common.NewFlagValidator().
		ValidateInt("days", *days, 1, 3650).
		Err(); err != nil {
		log.Fatal().Err(err).Msg("Invalid flags")
	}

	path := *out
	if path == "" {
		path = data.DataFilePath(common.DefaultDataRoot, common.DefaultExchange, cfg.Data.Category, cfg.Data.Symbol, cfg.Data.Interval)
	}

	ctx, cancel := common.SignalContext()
	defer cancel()
	if *timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, *timeout)
		defer cancel()
	}

	provider := data.NewBybitProvider(*testnet,
		data.WithCategory(cfg.Data.Category),
		data.WithBybitLogger(log),
		data.WithRateLimiter(cfg.Data.DownloadLimiter()),
		data.WithRetry(cfg.Data.Retry),
	)
	log.Info().
		Str("symbol", cfg.Data.Symbol).
		Str("interval", cfg.Data.Interval).
		Str("category", cfg.Data.Category).
		Time("start", start).
		Time("end", end).
		Msg("Downloading klines")

	series, err := provider.LoadKlines(ctx, cfg.Data.Symbol, cfg.Data.Interval, start, end)
	if err != nil {
		log.Fatal().Err(err).Msg("Download failed")
	}

	if *merge {
		series = mergeExisting(path, series)
	}
	if err := data.ValidateSeries(series); err != nil {
		log.Fatal().Err(err).Msg("Downloaded data failed validation")
	}
	if err := data.WriteCSV(path, series); err != nil {
		log.Fatal().Err(err).Msg("Failed to write CSV")
	}
	fmt.Printf("✅ %d bars written to %s (%s → %s)\n", len(series), path,
		series[0].Timestamp.Format(dateLayout), series[len(series)-1].Timestamp.Format(dateLayout))
}

// mergeExisting prepends bars already on disk; fresh bars win on overlap.
func mergeExisting(path string, fresh types.Series) types.Series {
	if _, err := os.Stat(path); err != nil {
		return fresh
	}
	existing, err := data.NewCSVProvider().LoadData(path)
	if err != nil {
		return fresh
	}
	// Normalize keeps the first occurrence, so fresh bars go first.
	return data.Normalize(append(append(types.Series{}, fresh...), existing...))
}
