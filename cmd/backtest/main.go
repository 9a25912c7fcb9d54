package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ducminhle1904/crypto-risk-engine/cmd/common"
	"github.com/ducminhle1904/crypto-risk-engine/internal/backtest"
	"github.com/ducminhle1904/crypto-risk-engine/internal/monitoring"
	"github.com/ducminhle1904/crypto-risk-engine/internal/notifications"
	"github.com/ducminhle1904/crypto-risk-engine/internal/risk"
	"github.com/ducminhle1904/crypto-risk-engine/internal/runner"
	"github.com/ducminhle1904/crypto-risk-engine/internal/sizing"
	"github.com/ducminhle1904/crypto-risk-engine/internal/store"
	"github.com/ducminhle1904/crypto-risk-engine/pkg/reporting"
	"github.com/ducminhle1904/crypto-risk-engine/pkg/types"
)

func main() {
	fs := flag.NewFlagSet("backtest", flag.ExitOnError)
	flags := common.RegisterCommonFlags(fs)
	var (
		symbols      = fs.String("symbols", "", "Comma-separated symbols (default data.symbol)")
		period       = fs.String("period", "", "Limit data to trailing window (e.g., 30d, 180d)")
		modelVersion = fs.Int("model-version", 0, "Model version to load (0 = latest)")
		retrain      = fs.Bool("retrain", false, "Train a fresh model even when one is stored")
		workers      = fs.Int("workers", 0, "Concurrent backtests (0 = number of CPUs)")
		timeout      = fs.Duration("timeout", 10*time.Minute, "Upper bound per backtest (0 = none)")
		metricsAddr  = fs.String("metrics-addr", "", "Serve /metrics and /health on this address (overrides metrics.addr)")
		consoleOnly  = fs.Bool("console-only", false, "Console output only (no report files, no run history)")
		listRuns     = fs.Int("runs", 0, "List the N most recent stored runs and exit")
		allocation   = fs.String("allocation", string(sizing.MethodRiskParity), "Allocation method across symbols: risk_parity, minimum_variance, max_sharpe, equal_risk_contribution, volatility_targeted")
	)
	_ = fs.Parse(os.Args[1:])

	if *flags.Version {
		common.PrintVersion("backtest")
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

	if *metricsAddr != "" {
		cfg.Metrics.Addr = *metricsAddr
	}
	if *consoleOnly {
		cfg.Report.EnableFiles = false
	}
	tokens := parseSymbols(*symbols, cfg.Data.Symbol)
	if len(tokens) > 1 && cfg.Data.File != "" {
		log.Fatal().Msg("-data selects a single file; use the data root layout for multiple symbols")
	}

	ctx, cancel := common.SignalContext()
	defer cancel()

	health := monitoring.NewHealthChecker()
	if cfg.Metrics.Addr != "" {
		srv := serveMetrics(cfg.Metrics.Addr, health, log)
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	var runs *store.RunStore
	if !*consoleOnly || *listRuns > 0 {
		if runs, err = store.Open(cfg.Store.RunDSN, store.WithLogger(log)); err != nil {
			log.Fatal().Err(err).Msg("Failed to open run store")
		}
		defer runs.Close()
	}

	console := reporting.NewConsoleReporter(os.Stdout)
	if *listRuns > 0 {
		for _, tok := range tokens {
			summaries, err := runs.ListRuns(ctx, tok, *listRuns)
			if err != nil {
				log.Fatal().Err(err).Msg("Failed to list runs")
			}
			console.PrintRuns(summaries)
		}
		return
	}

	models, err := cfg.OpenModelStore(log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open model store")
	}

	var jobs []runner.Job
	seriesByToken := make(map[string]types.Series, len(tokens))
	for _, tok := range tokens {
		series, err := env.LoadSeries(env.DataFile(tok), *period)
		if err != nil {
			health.RecordError(err)
			log.Error().Err(err).Str("token", tok).Msg("Skipping symbol")
			continue
		}

		m, err := resolveModel(ctx, env, models, tok, series, *modelVersion, *retrain)
		if err != nil {
			health.RecordError(err)
			log.Error().Err(err).Str("token", tok).Msg("Skipping symbol")
			continue
		}

		opts, err := cfg.BacktestOptions(log)
		if err != nil {
			log.Fatal().Err(err).Msg("Invalid backtest configuration")
		}
		btCfg := cfg.BacktestConfig()
		btCfg.Token = tok
		jobs = append(jobs, runner.Job{
			ID:      uuid.NewString(),
			Config:  btCfg,
			Series:  series,
			Signals: m,
			Timeout: *timeout,
			Options: opts,
		})
		seriesByToken[tok] = series
	}
	if len(jobs) == 0 {
		log.Fatal().Msg("Nothing to backtest")
	}

	results, err := runner.NewBatchRunner(runner.WithWorkers(*workers), runner.WithLogger(log)).Run(ctx, jobs)
	if err != nil {
		log.Error().Err(err).Msg("Batch interrupted")
	}

	manager := reporting.NewManager(cfg.Report, os.Stdout, log)
	alerts := &alerter{
		notifier: notifications.New(cfg.Notify, log),
		minLevel: risk.Level(cfg.Notify.MinRiskLevel),
		logger:   log,
	}
	var done []*backtest.Report
	for _, res := range results {
		if res.Err != nil {
			health.RecordError(res.Err)
			alerts.failed(ctx, res.Token, res.Err)
			var runErr *backtest.RunError
			if errors.As(res.Err, &runErr) {
				log.Error().Err(runErr.Err).Str("token", res.Token).Int("bar", runErr.BarIndex).
					Time("at", runErr.Timestamp).Msg("Backtest aborted")
			} else {
				log.Error().Err(res.Err).Str("token", res.Token).Msg("Backtest failed")
			}
			continue
		}
		rep := res.Report

		summary, err := reviewRisk(env, rep, seriesByToken[res.Token])
		if err != nil {
			log.Warn().Err(err).Str("token", res.Token).Msg("Risk review skipped")
		}
		alerts.reviewed(ctx, rep, summary)
		if _, err := manager.ReportResults(rep, summary, res.Token, cfg.Data.Interval); err != nil {
			log.Error().Err(err).Str("token", res.Token).Msg("Failed to write reports")
		}
		if runs != nil {
			id, err := runs.SaveRun(ctx, rep)
			if err != nil {
				log.Error().Err(err).Msg("Failed to store run")
			} else {
				log.Info().Str("run_id", id).Str("token", res.Token).Dur("duration", res.Duration).Msg("Run stored")
			}
		}
		health.RecordRun(res.Token)
		done = append(done, rep)
	}

	if len(done) > 1 {
		if err := printAllocation(env, console, done, sizing.Method(*allocation)); err != nil {
			log.Warn().Err(err).Msg("Allocation skipped")
		}
	}
}

func parseSymbols(list, fallback string) []string {
	var out []string
	for _, s := range strings.Split(list, ",") {
		if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		out = []string{strings.ToUpper(fallback)}
	}
	return out
}

func serveMetrics(addr string, health *monitoring.HealthChecker, log zerolog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", monitoring.NewMetricsHandler())
	mux.Handle("/health", health)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Info().Str("addr", addr).Msg("Serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Metrics server stopped")
		}
	}()
	return srv
}
