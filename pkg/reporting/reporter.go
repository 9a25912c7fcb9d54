package reporting

import (
	"io"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/ducminhle1904/crypto-risk-engine/internal/backtest"
	"github.com/ducminhle1904/crypto-risk-engine/internal/risk"
)

// Config selects the outputs written by a Manager.
type Config struct {
	EnableConsole bool   `yaml:"console" default:"true"`
	EnableFiles   bool   `yaml:"files" default:"true"`
	CSVEnabled    bool   `yaml:"csv" default:"true"`
	ExcelEnabled  bool   `yaml:"excel" default:"true"`
	JSONEnabled   bool   `yaml:"json" default:"true"`
	OutputDir     string `yaml:"output_dir"` // empty means results/<SYMBOL>_<interval>
}

// DefaultConfig enables every output.
func DefaultConfig() Config {
	return Config{
		EnableConsole: true,
		EnableFiles:   true,
		CSVEnabled:    true,
		ExcelEnabled:  true,
		JSONEnabled:   true,
	}
}

// RiskSummary is the risk section of report.json.
type RiskSummary struct {
	Assessment *risk.Assessment   `json:"assessment,omitempty"`
	Stress     *risk.StressReport `json:"stress,omitempty"`
}

// Manager writes every enabled output of a run.
type Manager struct {
	config  Config
	console *ConsoleReporter
	logger  zerolog.Logger
}

// NewManager creates a manager; console output goes to out (stdout when nil).
func NewManager(config Config, out io.Writer, logger zerolog.Logger) *Manager {
	return &Manager{
		config:  config,
		console: NewConsoleReporter(out),
		logger:  logger,
	}
}

// Console returns the table renderer used for console output.
func (m *Manager) Console() *ConsoleReporter { return m.console }

// OutputDir resolves the directory files are written to.
func (m *Manager) OutputDir(symbol, interval string) string {
	if m.config.OutputDir != "" {
		return m.config.OutputDir
	}
	return DefaultOutputDir(symbol, interval)
}

// ReportResults prints and writes the backtest report with its risk
// section and returns the paths of written files.
func (m *Manager) ReportResults(rep *backtest.Report, riskSummary *RiskSummary, symbol, interval string) ([]string, error) {
	if m.config.EnableConsole {
		m.console.PrintReport(rep)
		if riskSummary != nil && riskSummary.Assessment != nil {
			m.console.PrintAssessment(*riskSummary.Assessment)
		}
		if riskSummary != nil && riskSummary.Stress != nil {
			m.console.PrintStressReport(*riskSummary.Stress)
		}
	}
	if !m.config.EnableFiles {
		return nil, nil
	}

	dir := m.OutputDir(symbol, interval)
	var written []string
	if m.config.CSVEnabled {
		tradesPath := filepath.Join(dir, "trades.csv")
		if err := WriteTradesCSV(rep, tradesPath); err != nil {
			return written, err
		}
		equityPath := filepath.Join(dir, "equity.csv")
		if err := WriteEquityCSV(rep, equityPath); err != nil {
			return written, err
		}
		written = append(written, tradesPath, equityPath)
	}
	if m.config.ExcelEnabled {
		xlsxPath := filepath.Join(dir, "report.xlsx")
		if err := WriteWorkbook(rep, xlsxPath); err != nil {
			return written, err
		}
		written = append(written, xlsxPath)
	}
	if m.config.JSONEnabled {
		jsonPath := filepath.Join(dir, "report.json")
		doc := struct {
			Report *backtest.Report `json:"report"`
			Risk   *RiskSummary     `json:"risk,omitempty"`
		}{rep, riskSummary}
		if err := WriteJSON(doc, jsonPath); err != nil {
			return written, err
		}
		written = append(written, jsonPath)
	}

	m.logger.Info().Str("dir", dir).Strs("files", written).Msg("Reports written")
	return written, nil
}
