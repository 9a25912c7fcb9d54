package reporting

import (
	"encoding/csv"
	"os"
	"strconv"
	"strings"

	"github.com/ducminhle1904/crypto-risk-engine/internal/backtest"
	engineerrors "github.com/ducminhle1904/crypto-risk-engine/internal/errors"
)

var tradeHeader = []string{
	"timestamp", "side", "reason", "fill_price", "quote_price", "quantity",
	"confidence", "commission", "slippage", "gross_pnl", "pnl", "cash_after",
}

// WriteTradesCSV writes the trade log. An .xlsx path writes the full workbook instead.
func WriteTradesCSV(rep *backtest.Report, path string) error {
	const op = "WriteTradesCSV"
	if strings.HasSuffix(strings.ToLower(path), ".xlsx") {
		return WriteWorkbook(rep, path)
	}
	if err := ensureDir(path); err != nil {
		return engineerrors.NewStorageError(component, op, err)
	}

	f, err := os.Create(path)
	if err != nil {
		return engineerrors.NewStorageError(component, op, err).WithContext("path", path)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(tradeHeader); err != nil {
		return engineerrors.NewStorageError(component, op, err)
	}
	for _, tr := range rep.Trades {
		record := []string{
			tr.Timestamp.Format("2006-01-02 15:04:05"),
			string(tr.Side),
			tr.Reason,
			num(tr.Price),
			num(tr.QuotePrice),
			num(tr.Quantity),
			num(tr.Confidence),
			num(tr.Commission),
			num(tr.Slippage),
			num(tr.GrossPnL),
			num(tr.PnL),
			num(tr.CashAfter),
		}
		if err := w.Write(record); err != nil {
			return engineerrors.NewStorageError(component, op, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return engineerrors.NewStorageError(component, op, err)
	}
	return nil
}

// WriteEquityCSV writes the per-bar equity curve.
func WriteEquityCSV(rep *backtest.Report, path string) error {
	const op = "WriteEquityCSV"
	if err := ensureDir(path); err != nil {
		return engineerrors.NewStorageError(component, op, err)
	}
	f, err := os.Create(path)
	if err != nil {
		return engineerrors.NewStorageError(component, op, err).WithContext("path", path)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	_ = w.Write([]string{"timestamp", "price", "cash", "position_value", "portfolio_value"})
	for _, p := range rep.Equity {
		_ = w.Write([]string{
			p.Timestamp.Format("2006-01-02 15:04:05"),
			num(p.Price), num(p.Cash), num(p.PositionValue), num(p.PortfolioValue),
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return engineerrors.NewStorageError(component, op, err)
	}
	return nil
}

func num(v float64) string {
	if !finite(v) {
		return ratioText(v)
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
