package common

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/ducminhle1904/crypto-risk-engine/internal/config"
	"github.com/ducminhle1904/crypto-risk-engine/internal/logger"
	"github.com/ducminhle1904/crypto-risk-engine/pkg/data"
	"github.com/ducminhle1904/crypto-risk-engine/pkg/types"
)

const (
	DefaultDataRoot = "data"
	DefaultExchange = "bybit"
)

// Env is the state every command builds at startup.
type Env struct {
	Config *config.Config
	Logger zerolog.Logger

	closer io.Closer
	loader *data.CachedProvider
}

// Bootstrap loads configuration and builds the logger.
func Bootstrap(flags *CommonFlags) (*Env, error) {
	cfg, err := config.Load(*flags.ConfigFile, *flags.EnvFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if *flags.DataFile != "" {
		cfg.Data.File = *flags.DataFile
	}
	if *flags.Verbose {
		cfg.Log.Level = "debug"
	}

	l, closer, err := logger.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	return &Env{
		Config: cfg,
		Logger: l,
		closer: closer,
		loader: data.NewCachedProvider(data.NewCSVProvider(data.WithLogger(l)), l),
	}, nil
}

// Close releases the log output
func (e *Env) Close() {
	if e.closer != nil {
		_ = e.closer.Close()
	}
}

// DataFile resolves the CSV for symbol: the configured file when set,
// otherwise the downloader layout under the data root.
func (e *Env) DataFile(symbol string) string {
	if e.Config.Data.File != "" {
		return e.Config.Data.File
	}
	return data.FindDataFile(DefaultDataRoot, DefaultExchange, symbol, e.Config.Data.Interval)
}

// LoadSeries reads and validates the CSV at path, optionally limited to a
// trailing period such as "30d".
func (e *Env) LoadSeries(path, period string) (types.Series, error) {
	if path == "" {
		return nil, fmt.Errorf("no data file found; set -data or run download first")
	}
	series, err := e.loader.LoadData(path)
	if err != nil {
		return nil, err
	}
	if p := strings.TrimSpace(period); p != "" {
		d, ok := data.ParseTrailingPeriod(p)
		if !ok {
			return nil, fmt.Errorf("invalid period %q", period)
		}
		series = data.FilterByPeriod(series, d)
	}
	if err := data.ValidateSeries(series); err != nil {
		return nil, err
	}
	e.Logger.Info().Str("file", path).Int("bars", len(series)).
		Time("start", series[0].Timestamp).Time("end", series[len(series)-1].Timestamp).
		Msg("Market data loaded")
	return series, nil
}

// SignalContext is cancelled on SIGINT or SIGTERM
func SignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
