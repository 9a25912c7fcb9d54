package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ducminhle1904/crypto-risk-engine/cmd/common"
	"github.com/ducminhle1904/crypto-risk-engine/pkg/reporting"
)

func main() {
	fs := flag.NewFlagSet("train", flag.ExitOnError)
	flags := common.RegisterCommonFlags(fs)
	var (
		symbol  = fs.String("symbol", "", "Trading symbol (overrides data.symbol)")
		period  = fs.String("period", "", "Limit data to trailing window (e.g., 30d, 180d)")
		folds   = fs.Int("folds", -1, "Rolling validation folds (overrides model.folds; 0 disables)")
		timeout = fs.Duration("timeout", 10*time.Minute, "Upper bound on the final fit (0 = none)")
		noSave  = fs.Bool("no-save", false, "Evaluate only, do not write to the model store")
	)
	_ = fs.Parse(os.Args[1:])

	if *flags.Version {
		common.PrintVersion("train")
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
	if *folds >= 0 {
		cfg.Model.Folds = *folds
	}
	if err := common.NewFlagValidator().
		ValidateInt("folds", cfg.Model.Folds, 0, 50).
		Err(); err != nil {
		log.Fatal().Err(err).Msg("Invalid flags")
	}

	ctx, cancel := common.SignalContext()
	defer cancel()

	series, err := env.LoadSeries(env.DataFile(cfg.Data.Symbol), *period)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load market data")
	}

	res, err := env.Train(ctx, cfg.Data.Symbol, series, cfg.Model.Folds, *timeout)
	if err != nil {
		log.Fatal().Err(err).Msg("Training failed")
	}

	console := reporting.NewConsoleReporter(os.Stdout)
	if res.WalkForward != nil {
		console.PrintWalkForward(res.WalkForward)
	}
	console.PrintEvaluation(fmt.Sprintf("HOLDOUT %s (%d train / %d test rows)", res.Token, res.TrainRows, res.TestRows), res.Holdout)
	console.PrintFeatureImportance(res.TopFeatures)

	if cfg.Report.EnableFiles && cfg.Report.JSONEnabled {
		dir := cfg.Report.OutputDir
		if dir == "" {
			dir = reporting.DefaultOutputDir(cfg.Data.Symbol, cfg.Data.Interval)
		}
		path := filepath.Join(dir, "training.json")
		if err := reporting.WriteJSON(res, path); err != nil {
			log.Error().Err(err).Msg("Failed to write training summary")
		}
	}

	if *noSave {
		log.Info().Msg("Model not saved (-no-save)")
		return
	}
	store, err := cfg.OpenModelStore(log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open model store")
	}
	path, err := store.Save(res.Model, res.Token, res.Labels(cfg.Data.Interval))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to save model")
	}
	fmt.Printf("✅ Model saved to %s\n", path)
}
