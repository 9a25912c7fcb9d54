package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/ducminhle1904/crypto-risk-engine/internal/backtest"
	engineerrors "github.com/ducminhle1904/crypto-risk-engine/internal/errors"
	"github.com/ducminhle1904/crypto-risk-engine/internal/features"
	"github.com/ducminhle1904/crypto-risk-engine/internal/model"
	"github.com/ducminhle1904/crypto-risk-engine/internal/risk"
	"github.com/ducminhle1904/crypto-risk-engine/internal/safety"
	"github.com/ducminhle1904/crypto-risk-engine/internal/sizing"
	"github.com/ducminhle1904/crypto-risk-engine/internal/valueatrisk"
	"github.com/ducminhle1904/crypto-risk-engine/pkg/reporting"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefaultMatchesComponentDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, backtest.DefaultConfig(), cfg.Backtest)
	assert.Equal(t, risk.DefaultLimits(), cfg.RiskLimits())
	assert.Equal(t, sizing.DefaultBudget(), cfg.SizerBudget())
	assert.Equal(t, model.DefaultParams(), cfg.ModelParams())

	assert.Equal(t, 0.95, cfg.VaR.Confidence)
	assert.Equal(t, 1, cfg.VaR.Horizon)
	assert.Equal(t, 10000, cfg.VaR.Simulations)
	assert.Equal(t, uint64(42), cfg.VaR.Seed)
	assert.Equal(t, "forward", cfg.Features.Fill)
	assert.Equal(t, 30*time.Second, cfg.Store.LockTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Store.StaleLockAge)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, reporting.DefaultConfig(), cfg.Report)
	assert.Equal(t, safety.DefaultBackoff(), cfg.Data.Retry)
	assert.Equal(t, 10.0, cfg.Data.RequestsPerSecond)
	lim := cfg.Data.DownloadLimiter()
	assert.Equal(t, rate.Limit(10), lim.Limit())
	assert.Equal(t, 10, lim.Burst())
	assert.Equal(t, "HIGH", cfg.Notify.MinRiskLevel)
	assert.False(t, cfg.Notify.Enabled())
	assert.NoError(t, cfg.Validate())
}

func TestParseOverridesOnlyGivenKeys(t *testing.T) {
	cfg, err := Parse([]byte(`
backtest:
  initial_capital: 50000
  close_at_end: false
  sizing: kelly
risk:
  max_positions: 3
var:
  method: monte_carlo
  seed: 7
features:
  fill: drop
`))
	require.NoError(t, err)

	assert.Equal(t, 50000.0, cfg.Backtest.InitialCapital)
	assert.False(t, cfg.Backtest.CloseAtEnd)
	assert.Equal(t, backtest.SizingKelly, cfg.Backtest.Sizing)
	assert.Equal(t, 0.001, cfg.Backtest.Commission, "unset keys keep defaults")
	assert.Equal(t, 3, cfg.Risk.MaxPositions)
	assert.Equal(t, 0.05, cfg.Risk.MaxDailyLoss)

	method, err := cfg.VaRMethod()
	require.NoError(t, err)
	assert.Equal(t, valueatrisk.MethodMonteCarlo, method)
	assert.Equal(t, uint64(7), cfg.VaR.Seed)

	fill, err := cfg.Features.FillPolicy()
	require.NoError(t, err)
	assert.Equal(t, features.FillDrop, fill)
}

func TestParseEmptyDocument(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestParseRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"ratio above one", "risk:\n  max_daily_loss: 2\n"},
		{"unknown sizing", "backtest:\n  sizing: martingale\n"},
		{"confidence out of range", "var:\n  confidence: 1\n"},
		{"bad fill policy", "features:\n  fill: backward\n"},
		{"unknown key", "risk:\n  max_daily_los: 0.1\n"},
		{"zero versions", "store:\n  max_versions: 0\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.True(t, errors.Is(err, engineerrors.ErrInvalidParameter), "got %v", err)
		})
	}
}

func TestValidationMessageNamesField(t *testing.T) {
	_, err := Parse([]byte("var:\n  method: bootstrap\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "VaR.Method must be one of: historical, parametric, monte_carlo")
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	path := writeFile(t, "engine.yaml", "log:\n  level: warn\nstore:\n  model_dir: from-file\n")
	t.Setenv(EnvLogLevel, "debug")

	cfg, err := Load(path, "")
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "from-file", cfg.Store.ModelDir)
}

func TestLoadReadsEnvFile(t *testing.T) {
	envFile := writeFile(t, ".env", EnvStoreDSN+"=file::memory:\n"+EnvDataFile+"=data/btc.csv\n")
	t.Cleanup(func() {
		os.Unsetenv(EnvStoreDSN)
		os.Unsetenv(EnvDataFile)
	})

	cfg, err := Load("", envFile)
	require.NoError(t, err)
	assert.Equal(t, "file::memory:", cfg.Store.RunDSN)
	assert.Equal(t, "data/btc.csv", cfg.Data.File)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), "")
	require.Error(t, err)

	var engErr *engineerrors.EngineError
	require.True(t, errors.As(err, &engErr))
	assert.Equal(t, engineerrors.ErrorCategoryStorage, engErr.Category)
}

func TestSaveRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Backtest.StopLoss = 0.03
	cfg.Store.LockTimeout = 10 * time.Second
	path := filepath.Join(t.TempDir(), "out.yaml")

	require.NoError(t, cfg.Save(path))
	loaded, err := Load(path, "")
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestBuilders(t *testing.T) {
	cfg := Default()
	cfg.Backtest.Token = ""
	cfg.Data.Symbol = "ETHUSDT"
	cfg.Store.ModelDir = t.TempDir()
	l := zerolog.Nop()

	assert.Equal(t, "ETHUSDT", cfg.BacktestConfig().Token)

	calc, err := cfg.NewVaRCalculator(l)
	require.NoError(t, err)
	assert.Equal(t, 0.95, calc.Confidence())

	_, err = cfg.NewEngineer(l)
	require.NoError(t, err)

	m := cfg.NewSignalModel(l)
	assert.False(t, m.IsTrained())

	_, err = cfg.OpenModelStore(l)
	require.NoError(t, err)

	mgr, err := cfg.NewRiskManager(10000, l)
	require.NoError(t, err)
	assert.Equal(t, 10000.0, mgr.Metrics().Value)

	opts, err := cfg.BacktestOptions(l)
	require.NoError(t, err)
	assert.Len(t, opts, 4)
}
