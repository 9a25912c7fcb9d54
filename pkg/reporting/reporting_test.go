package reporting

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/ducminhle1904/crypto-risk-engine/internal/backtest"
	"github.com/ducminhle1904/crypto-risk-engine/internal/risk"
)

var t0 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func sampleReport() *backtest.Report {
	return &backtest.Report{
		Token:          "BTCUSDT",
		Start:          t0,
		End:            t0.Add(2 * time.Hour),
		Bars:           3,
		InitialCapital: 10000,
		FinalValue:     10120,
		FinalCash:      10120,
		TotalReturn:    0.012,
		SharpeRatio:    1.5,
		SortinoRatio:   math.Inf(1),
		CalmarRatio:    math.Inf(1),
		ProfitFactor:   math.Inf(1),
		TotalTrades:    2,
		ClosedTrades:   1,
		WinningTrades:  1,
		WinRate:        1,
		Signals:        map[string]int{"BUY": 1, "SELL": 1, "HOLD": 1},
		Trades: []backtest.Trade{
			{Timestamp: t0, Side: backtest.SideBuy, Price: 100.1, QuotePrice: 100, Quantity: 10, Confidence: 0.8, Reason: "signal", Commission: 1, CashAfter: 8998},
			{Timestamp: t0.Add(2 * time.Hour), Side: backtest.SideSell, Price: 112.2, QuotePrice: 112.3, Quantity: 10, Confidence: 0.7, Reason: "signal", Commission: 1.1, GrossPnL: 121, PnL: 118.9, CashAfter: 10120},
		},
		Equity: []backtest.EquityPoint{
			{Timestamp: t0, Price: 100, Cash: 8998, PositionValue: 1000, PortfolioValue: 9998},
			{Timestamp: t0.Add(time.Hour), Price: 105, Cash: 8998, PositionValue: 1050, PortfolioValue: 10048},
			{Timestamp: t0.Add(2 * time.Hour), Price: 112.3, Cash: 10120, PortfolioValue: 10120},
		},
	}
}

func TestConsoleReporterPrintsReport(t *testing.T) {
	var buf bytes.Buffer
	NewConsoleReporter(&buf).PrintReport(sampleReport())

	out := buf.String()
	assert.Contains(t, out, "BACKTEST RESULTS BTCUSDT")
	assert.Contains(t, out, "$10120.00")
	assert.Contains(t, out, "1.20%")
	assert.Contains(t, out, "inf")
	assert.Contains(t, out, "BUY=1 HOLD=1 SELL=1")
}

func TestConsoleReporterPrintsRisk(t *testing.T) {
	var buf bytes.Buffer
	r := NewConsoleReporter(&buf)
	r.PrintAssessment(risk.Assessment{Level: risk.LevelHigh, Score: 5, Warnings: []string{"drawdown above limit"}})
	r.PrintStressReport(risk.StressReport{
		Results:         []risk.ScenarioResult{{Name: "market_crash", Loss: 300, LossPct: 0.03, PostValue: 9700}},
		WorstScenario:   "market_crash",
		WorstLoss:       300,
		Recommendations: []string{"reduce exposure"},
	})

	out := buf.String()
	assert.Contains(t, out, "RISK ASSESSMENT")
	assert.Contains(t, out, "drawdown above limit")
	assert.Contains(t, out, "market_crash")
	assert.Contains(t, out, "reduce exposure")
}

func TestWriteTradesCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "trades.csv")
	require.NoError(t, WriteTradesCSV(sampleReport(), path))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)

	require.Len(t, records, 3)
	assert.Equal(t, tradeHeader, records[0])
	assert.Equal(t, "BUY", records[1][1])
	assert.Equal(t, "118.9", records[2][10])
}

func TestWriteWorkbook(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.xlsx")
	require.NoError(t, WriteWorkbook(sampleReport(), path))

	fx, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer fx.Close()

	assert.Equal(t, []string{SummarySheet, TradesSheet, EquitySheet}, fx.GetSheetList())

	rows, err := fx.GetRows(TradesSheet)
	require.NoError(t, err)
	assert.Len(t, rows, 3)

	rows, err = fx.GetRows(EquitySheet)
	require.NoError(t, err)
	assert.Len(t, rows, 4)

	// Sortino is on row 18 of the summary.
	v, err := fx.GetCellValue(SummarySheet, "B18")
	require.NoError(t, err)
	assert.Equal(t, "inf", v)
}

func TestWriteJSONWritesNullForInfiniteRatios(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.json")
	require.NoError(t, WriteJSON(sampleReport(), path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Nil(t, doc["profit_factor"])
	assert.Equal(t, 1.5, doc["sharpe_ratio"])
}

func TestManagerWritesEnabledOutputs(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.OutputDir = dir
	var buf bytes.Buffer

	files, err := NewManager(cfg, &buf, zerolog.Nop()).ReportResults(sampleReport(), &RiskSummary{
		Assessment: &risk.Assessment{Level: risk.LevelLow},
	}, "BTCUSDT", "60")
	require.NoError(t, err)

	assert.Len(t, files, 4)
	for _, f := range files {
		assert.FileExists(t, f)
	}
	assert.Contains(t, buf.String(), "RISK ASSESSMENT")

	cfg.EnableFiles = false
	files, err = NewManager(cfg, &buf, zerolog.Nop()).ReportResults(sampleReport(), nil, "BTCUSDT", "60")
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestPathsHelpers(t *testing.T) {
	assert.Equal(t, filepath.Join("results", "BTCUSDT_1h"), DefaultOutputDir("btcusdt", "1H"))
	assert.Equal(t, "5m", ExtractIntervalFromPath("data/bybit/linear/BTCUSDT/5m/candles.csv"))
	assert.Equal(t, "60", ExtractIntervalFromPath("data/bybit/spot/BTCUSDT/60/candles.csv"))
	assert.Equal(t, "", ExtractIntervalFromPath(""))
	assert.Equal(t, "n/a", ratioText(math.NaN()))
}
