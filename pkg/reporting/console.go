package reporting

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/ducminhle1904/crypto-risk-engine/internal/backtest"
	"github.com/ducminhle1904/crypto-risk-engine/internal/model"
	"github.com/ducminhle1904/crypto-risk-engine/internal/risk"
	"github.com/ducminhle1904/crypto-risk-engine/internal/sizing"
	"github.com/ducminhle1904/crypto-risk-engine/internal/store"
	"github.com/ducminhle1904/crypto-risk-engine/internal/valueatrisk"
	"github.com/ducminhle1904/crypto-risk-engine/pkg/validation"
)

// ConsoleReporter renders reports as tables
type ConsoleReporter struct {
	out io.Writer
}

// NewConsoleReporter writes to out, or stdout when out is nil
func NewConsoleReporter(out io.Writer) *ConsoleReporter {
	if out == nil {
		out = os.Stdout
	}
	return &ConsoleReporter{out: out}
}

func (r *ConsoleReporter) newTable(title string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(r.out)
	t.SetTitle(title)
	t.SetStyle(table.StyleRounded)
	t.Style().Format.Footer = text.FormatDefault
	return t
}

func (r *ConsoleReporter) keyValueColumns(t table.Writer) {
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, WidthMin: 22, Align: text.AlignLeft},
		{Number: 2, WidthMin: 18, Align: text.AlignRight},
	})
}

// PrintReport prints performance and trade statistics of a backtest.
func (r *ConsoleReporter) PrintReport(rep *backtest.Report) {
	t := r.newTable(fmt.Sprintf("BACKTEST RESULTS %s", rep.Token))
	t.AppendRows([]table.Row{
		{"Period", fmt.Sprintf("%s → %s", rep.Start.Format("2006-01-02 15:04"), rep.End.Format("2006-01-02 15:04"))},
		{"Bars", rep.Bars},
		{"Initial Capital", money(rep.InitialCapital)},
		{"Final Value", money(rep.FinalValue)},
		{"Final Cash", money(rep.FinalCash)},
		{"Open Position Value", money(rep.FinalPositionValue)},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"Total Return", pct(rep.TotalReturn)},
		{"Annualized Return", pct(rep.AnnualizedReturn)},
		{"Volatility (ann.)", pct(rep.Volatility)},
		{"Sharpe Ratio", ratioText(rep.SharpeRatio)},
		{"Sortino Ratio", ratioText(rep.SortinoRatio)},
		{"Calmar Ratio", ratioText(rep.CalmarRatio)},
		{"Max Drawdown", pct(rep.MaxDrawdown)},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"Trades (closed)", fmt.Sprintf("%d (%d)", rep.TotalTrades, rep.ClosedTrades)},
		{"Winning / Losing", fmt.Sprintf("%d / %d", rep.WinningTrades, rep.LosingTrades)},
		{"Win Rate", pct(rep.WinRate)},
		{"Profit Factor", ratioText(rep.ProfitFactor)},
		{"Avg Win / Avg Loss", fmt.Sprintf("%s / %s", money(rep.AvgWin), money(rep.AvgLoss))},
		{"Largest Win / Loss", fmt.Sprintf("%s / %s", money(rep.LargestWin), money(rep.LargestLoss))},
		{"Realized P&L", money(rep.RealizedPnL)},
		{"Commission / Slippage", fmt.Sprintf("%s / %s", money(rep.TotalCommission), money(rep.TotalSlippage))},
	})
	if len(rep.Signals) > 0 {
		t.AppendSeparator()
		t.AppendRow(table.Row{"Signals", countsText(rep.Signals)})
	}
	if len(rep.RejectedSignals) > 0 {
		t.AppendRow(table.Row{"Rejected", countsText(rep.RejectedSignals)})
	}
	r.keyValueColumns(t)
	t.Render()
	fmt.Fprintln(r.out)
}

// PrintAssessment prints a portfolio risk assessment.
func (r *ConsoleReporter) PrintAssessment(a risk.Assessment) {
	t := r.newTable(fmt.Sprintf("RISK ASSESSMENT: %s (score %d)", a.Level, a.Score))
	t.AppendRows([]table.Row{
		{"Positions", a.Positions},
		{"Total Exposure", money(a.TotalExposure)},
		{"Exposure Ratio", pct(a.ExposureRatio)},
		{"Concentration", pct(a.Concentration)},
		{"Correlation Risk", fmt.Sprintf("%.2f", a.CorrelationRisk)},
		{"Avg Volatility", pct(a.AvgVolatility)},
		{"Drawdown", pct(a.Drawdown)},
		{"Daily P&L", money(a.DailyPnL)},
	})
	if a.VaR != nil {
		t.AppendSeparator()
		t.AppendRows([]table.Row{
			{fmt.Sprintf("VaR %.0f%% (%s, %dp)", a.VaR.Confidence*100, a.VaR.Method, a.VaR.Horizon), money(a.VaR.VaR)},
			{"Expected Shortfall", money(a.VaR.ExpectedShortfall)},
		})
	}
	for _, w := range a.Warnings {
		t.AppendFooter(table.Row{"warning", w})
	}
	r.keyValueColumns(t)
	t.Render()
	fmt.Fprintln(r.out)
}

// PrintStressReport prints one row per scenario with the worst case last.
func (r *ConsoleReporter) PrintStressReport(s risk.StressReport) {
	t := r.newTable("STRESS TEST")
	t.AppendHeader(table.Row{"Scenario", "Loss", "Loss %", "Post Value", "Breaches"})
	for _, res := range s.Results {
		t.AppendRow(table.Row{res.Name, money(res.Loss), pct(res.LossPct), money(res.PostValue), strings.Join(res.Breaches, ", ")})
	}
	if s.WorstScenario != "" {
		t.AppendFooter(table.Row{"worst: " + s.WorstScenario, money(s.WorstLoss), pct(s.WorstLossPct), "", ""})
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight},
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
	})
	t.Render()
	for _, rec := range s.Recommendations {
		fmt.Fprintf(r.out, "  • %s\n", rec)
	}
	fmt.Fprintln(r.out)
}

// PrintWalkForward prints per-fold accuracies and the overfitting verdict.
func (r *ConsoleReporter) PrintWalkForward(s *validation.Summary) {
	t := r.newTable("WALK-FORWARD VALIDATION")
	t.AppendHeader(table.Row{"Fold", "Train Window", "Test Window", "Train Acc", "Test Acc", "Win Rate", "Log Loss"})
	for _, f := range s.Results {
		t.AppendRow(table.Row{
			f.Fold,
			fmt.Sprintf("%s → %s", f.Window.TrainStart.Format("2006-01-02"), f.Window.TrainEnd.Format("2006-01-02")),
			fmt.Sprintf("%s → %s", f.Window.TestStart.Format("2006-01-02"), f.Window.TestEnd.Format("2006-01-02")),
			pct(f.Training.TrainAccuracy),
			pct(f.Test.Accuracy),
			pct(f.Test.WinRate),
			fmt.Sprintf("%.4f", f.Test.LogLoss),
		})
	}
	t.AppendFooter(table.Row{
		"avg", "", "",
		pct(s.AverageTrainAccuracy),
		fmt.Sprintf("%s ± %s", pct(s.AverageTestAccuracy), pct(s.TestAccuracyStdDev)),
		pct(s.AverageTestWinRate),
		fmt.Sprintf("%.4f", s.AverageTestLogLoss),
	})
	t.Render()
	fmt.Fprintf(r.out, "  Degradation %.1f%%, overfitting risk %s\n\n", s.Degradation, s.OverfittingRisk)
}

// PrintEvaluation prints holdout classification metrics.
func (r *ConsoleReporter) PrintEvaluation(title string, ev model.Evaluation) {
	t := r.newTable(title)
	t.AppendRows([]table.Row{
		{"Samples", ev.Samples},
		{"Accuracy", pct(ev.Accuracy)},
		{"Precision", pct(ev.Precision)},
		{"Recall", pct(ev.Recall)},
		{"Specificity", pct(ev.Specificity)},
		{"Log Loss", fmt.Sprintf("%.4f", ev.LogLoss)},
		{"Confusion [actual][pred]", fmt.Sprintf("%v", ev.Confusion)},
	})
	r.keyValueColumns(t)
	t.Render()
	fmt.Fprintln(r.out)
}

// PrintFeatureImportance prints ranked feature scores.
func (r *ConsoleReporter) PrintFeatureImportance(scores []model.FeatureScore) {
	t := r.newTable("FEATURE IMPORTANCE")
	t.AppendHeader(table.Row{"#", "Feature", "Score"})
	for i, s := range scores {
		t.AppendRow(table.Row{i + 1, s.Name, fmt.Sprintf("%.4f", s.Score)})
	}
	t.Render()
	fmt.Fprintln(r.out)
}

// PrintAllocation prints suggested portfolio weights with each asset's share
// of portfolio VaR. contrib may be nil.
func (r *ConsoleReporter) PrintAllocation(tokens []string, a sizing.Allocation, contrib *valueatrisk.Contribution) {
	t := r.newTable(fmt.Sprintf("ALLOCATION (%s)", a.Method))
	header := table.Row{"Asset", "Weight"}
	if contrib != nil {
		header = append(header, "VaR Contribution", "VaR Share")
	}
	t.AppendHeader(header)
	for i, tok := range tokens {
		if i >= len(a.Weights) {
			break
		}
		row := table.Row{tok, pct(a.Weights[i])}
		if contrib != nil && i < len(contrib.Components) {
			row = append(row, money(contrib.Components[i]), pct(contrib.Percent[i]))
		}
		t.AppendRow(row)
	}
	t.AppendFooter(table.Row{"exp. return / vol", fmt.Sprintf("%s / %s", pct(a.ExpectedReturn), pct(a.Volatility))})
	t.Render()
	if a.Fallback {
		fmt.Fprintf(r.out, "  fallback: %s\n", a.Warning)
	}
	fmt.Fprintln(r.out)
}

// PrintRuns lists stored backtest runs.
func (r *ConsoleReporter) PrintRuns(runs []store.RunSummary) {
	t := r.newTable("RUN HISTORY")
	t.AppendHeader(table.Row{"ID", "Token", "Created", "Bars", "Return", "Sharpe", "Max DD", "Trades"})
	for _, run := range runs {
		t.AppendRow(table.Row{
			run.ID[:min(8, len(run.ID))],
			run.Token,
			run.CreatedAt.Format("2006-01-02 15:04"),
			run.Bars,
			pct(run.TotalReturn),
			ratioText(run.SharpeRatio),
			pct(run.MaxDrawdown),
			run.TotalTrades,
		})
	}
	t.Render()
	fmt.Fprintln(r.out)
}

func money(v float64) string {
	if !finite(v) {
		return ratioText(v)
	}
	return fmt.Sprintf("$%.2f", v)
}

func pct(v float64) string {
	if !finite(v) {
		return ratioText(v)
	}
	return fmt.Sprintf("%.2f%%", v*100)
}

func countsText(m map[string]int) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%d", k, m[k])
	}
	return strings.Join(parts, " ")
}
