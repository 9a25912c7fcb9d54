package reporting

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/ducminhle1904/crypto-risk-engine/internal/backtest"
	engineerrors "github.com/ducminhle1904/crypto-risk-engine/internal/errors"
)

const component = "reporting"

// Sheet names of the backtest workbook
const (
	SummarySheet = "Summary"
	TradesSheet  = "Trades"
	EquitySheet  = "Equity"
)

// excelStyles holds the workbook cell styles
type excelStyles struct {
	header   int
	currency int
	percent  int
	number   int
	base     int
	profit   int
	loss     int
}

// WriteWorkbook writes a Summary, Trades and Equity workbook for rep.
func WriteWorkbook(rep *backtest.Report, path string) error {
	const op = "WriteWorkbook"
	if err := ensureDir(path); err != nil {
		return engineerrors.NewStorageError(component, op, err)
	}

	fx := excelize.NewFile()
	defer fx.Close()

	if err := fx.SetSheetName(fx.GetSheetName(0), SummarySheet); err != nil {
		return engineerrors.NewStorageError(component, op, err)
	}
	for _, name := range []string{TradesSheet, EquitySheet} {
		if _, err := fx.NewSheet(name); err != nil {
			return engineerrors.NewStorageError(component, op, err)
		}
	}

	styles, err := createStyles(fx)
	if err != nil {
		return engineerrors.NewStorageError(component, op, err)
	}

	writers := []func(*excelize.File, *backtest.Report, excelStyles) error{
		writeSummarySheet,
		writeTradesSheet,
		writeEquitySheet,
	}
	for _, w := range writers {
		if err := w(fx, rep, styles); err != nil {
			return engineerrors.NewStorageError(component, op, err)
		}
	}

	if err := fx.SaveAs(path); err != nil {
		return engineerrors.NewStorageError(component, op, err).WithContext("path", path)
	}
	return nil
}

func createStyles(fx *excelize.File) (excelStyles, error) {
	var s excelStyles
	var err error
	border := []excelize.Border{
		{Type: "left", Color: "E0E0E0", Style: 1},
		{Type: "right", Color: "E0E0E0", Style: 1},
		{Type: "bottom", Color: "E0E0E0", Style: 1},
	}

	s.header, err = fx.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Size: 11, Color: "FFFFFF", Family: "Calibri"},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"2F4F4F"}, Pattern: 1},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
		},
	})
	if err != nil {
		return s, err
	}
	if s.currency, err = fx.NewStyle(&excelize.Style{NumFmt: 7, Alignment: &excelize.Alignment{Horizontal: "right"}, Border: border}); err != nil {
		return s, err
	}
	if s.percent, err = fx.NewStyle(&excelize.Style{NumFmt: 10, Alignment: &excelize.Alignment{Horizontal: "right"}, Border: border}); err != nil {
		return s, err
	}
	if s.number, err = fx.NewStyle(&excelize.Style{NumFmt: 4, Alignment: &excelize.Alignment{Horizontal: "right"}, Border: border}); err != nil {
		return s, err
	}
	if s.base, err = fx.NewStyle(&excelize.Style{Border: border}); err != nil {
		return s, err
	}
	if s.profit, err = fx.NewStyle(&excelize.Style{NumFmt: 7, Font: &excelize.Font{Color: "008000"}, Border: border}); err != nil {
		return s, err
	}
	if s.loss, err = fx.NewStyle(&excelize.Style{NumFmt: 7, Font: &excelize.Font{Color: "FF0000"}, Border: border}); err != nil {
		return s, err
	}
	return s, nil
}

// cellValue writes non-finite ratios as text; spreadsheets cannot hold them.
func cellValue(v float64) interface{} {
	if finite(v) {
		return v
	}
	return ratioText(v)
}

func writeHeader(fx *excelize.File, sheet string, headers []string, styles excelStyles) error {
	for i, h := range headers {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if err := fx.SetCellValue(sheet, cell, h); err != nil {
			return err
		}
		if err := fx.SetCellStyle(sheet, cell, cell, styles.header); err != nil {
			return err
		}
	}
	return fx.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})
}

// setCell writes value with style at (col,row), 1-based.
func setCell(fx *excelize.File, sheet string, col, row int, value interface{}, style int) error {
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return err
	}
	if err := fx.SetCellValue(sheet, cell, value); err != nil {
		return err
	}
	return fx.SetCellStyle(sheet, cell, cell, style)
}

func writeSummarySheet(fx *excelize.File, rep *backtest.Report, styles excelStyles) error {
	if err := writeHeader(fx, SummarySheet, []string{"Metric", "Value"}, styles); err != nil {
		return err
	}
	type line struct {
		name  string
		value interface{}
		style int
	}
	lines := []line{
		{"Token", rep.Token, styles.base},
		{"Start", rep.Start.Format("2006-01-02 15:04:05"), styles.base},
		{"End", rep.End.Format("2006-01-02 15:04:05"), styles.base},
		{"Bars", rep.Bars, styles.base},
		{"Initial Capital", rep.InitialCapital, styles.currency},
		{"Final Value", rep.FinalValue, styles.currency},
		{"Final Cash", rep.FinalCash, styles.currency},
		{"Final Position Value", rep.FinalPositionValue, styles.currency},
		{"Realized P&L", rep.RealizedPnL, styles.currency},
		{"Unrealized P&L", rep.UnrealizedPnL, styles.currency},
		{"Total Commission", rep.TotalCommission, styles.currency},
		{"Total Slippage", rep.TotalSlippage, styles.currency},
		{"Total Return", rep.TotalReturn, styles.percent},
		{"Annualized Return", rep.AnnualizedReturn, styles.percent},
		{"Volatility", rep.Volatility, styles.percent},
		{"Sharpe Ratio", cellValue(rep.SharpeRatio), styles.number},
		{"Sortino Ratio", cellValue(rep.SortinoRatio), styles.number},
		{"Calmar Ratio", cellValue(rep.CalmarRatio), styles.number},
		{"Max Drawdown", rep.MaxDrawdown, styles.percent},
		{"Total Trades", rep.TotalTrades, styles.base},
		{"Closed Trades", rep.ClosedTrades, styles.base},
		{"Winning Trades", rep.WinningTrades, styles.base},
		{"Losing Trades", rep.LosingTrades, styles.base},
		{"Win Rate", rep.WinRate, styles.percent},
		{"Profit Factor", cellValue(rep.ProfitFactor), styles.number},
		{"Average Win", rep.AvgWin, styles.currency},
		{"Average Loss", rep.AvgLoss, styles.currency},
		{"Largest Win", rep.LargestWin, styles.currency},
		{"Largest Loss", rep.LargestLoss, styles.currency},
	}
	for i, l := range lines {
		row := i + 2
		if err := setCell(fx, SummarySheet, 1, row, l.name, styles.base); err != nil {
			return err
		}
		if err := setCell(fx, SummarySheet, 2, row, l.value, l.style); err != nil {
			return err
		}
	}
	return fx.SetColWidth(SummarySheet, "A", "B", 22)
}

func writeTradesSheet(fx *excelize.File, rep *backtest.Report, styles excelStyles) error {
	headers := []string{"Timestamp", "Side", "Reason", "Fill Price", "Quote Price", "Quantity",
		"Confidence", "Commission", "Slippage", "Gross P&L", "Net P&L", "Cash After"}
	if err := writeHeader(fx, TradesSheet, headers, styles); err != nil {
		return err
	}
	for i, tr := range rep.Trades {
		row := i + 2
		pnlStyle := styles.currency
		if tr.Side == backtest.SideSell {
			pnlStyle = styles.profit
			if tr.PnL < 0 {
				pnlStyle = styles.loss
			}
		}
		values := []struct {
			v     interface{}
			style int
		}{
			{tr.Timestamp.Format("2006-01-02 15:04:05"), styles.base},
			{string(tr.Side), styles.base},
			{tr.Reason, styles.base},
			{tr.Price, styles.number},
			{tr.QuotePrice, styles.number},
			{tr.Quantity, styles.number},
			{tr.Confidence, styles.percent},
			{tr.Commission, styles.currency},
			{tr.Slippage, styles.currency},
			{tr.GrossPnL, pnlStyle},
			{tr.PnL, pnlStyle},
			{tr.CashAfter, styles.currency},
		}
		for col, cell := range values {
			if err := setCell(fx, TradesSheet, col+1, row, cell.v, cell.style); err != nil {
				return fmt.Errorf("trade %d: %w", i, err)
			}
		}
	}
	if err := fx.SetColWidth(TradesSheet, "A", "A", 20); err != nil {
		return err
	}
	return fx.SetColWidth(TradesSheet, "B", "L", 13)
}

func writeEquitySheet(fx *excelize.File, rep *backtest.Report, styles excelStyles) error {
	headers := []string{"Timestamp", "Price", "Cash", "Position Value", "Portfolio Value"}
	if err := writeHeader(fx, EquitySheet, headers, styles); err != nil {
		return err
	}
	for i, p := range rep.Equity {
		row := i + 2
		cell, err := excelize.CoordinatesToCellName(1, row)
		if err != nil {
			return err
		}
		// SetSheetRow keeps large equity curves fast; styles are applied per column below.
		if err := fx.SetSheetRow(EquitySheet, cell, &[]interface{}{
			p.Timestamp.Format("2006-01-02 15:04:05"), p.Price, p.Cash, p.PositionValue, p.PortfolioValue,
		}); err != nil {
			return err
		}
	}
	if n := len(rep.Equity); n > 0 {
		last, err := excelize.CoordinatesToCellName(5, n+1)
		if err != nil {
			return err
		}
		if err := fx.SetCellStyle(EquitySheet, "B2", last, styles.currency); err != nil {
			return err
		}
	}
	if err := fx.SetColWidth(EquitySheet, "A", "A", 20); err != nil {
		return err
	}
	return fx.SetColWidth(EquitySheet, "B", "E", 16)
}
