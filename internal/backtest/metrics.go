package backtest

import (
	"encoding/json"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"
)

// Report is the outcome of a completed run. Ratios are fractions; MaxDrawdown
// is reported as a non-positive number.
type Report struct {
	Token  string    `json:"token"`
	Config Config    `json:"config"`
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	Bars   int       `json:"bars"`

	InitialCapital     float64 `json:"initial_capital"`
	FinalValue         float64 `json:"final_value"`
	FinalCash          float64 `json:"final_cash"`
	FinalPositionValue float64 `json:"final_position_value"`
	TotalCommission    float64 `json:"total_commission"`
	TotalSlippage      float64 `json:"total_slippage"`
	RealizedPnL        float64 `json:"realized_pnl"`
	UnrealizedPnL      float64 `json:"unrealized_pnl"`

	TotalReturn      float64 `json:"total_return"`
	AnnualizedReturn float64 `json:"annualized_return"`
	Volatility       float64 `json:"volatility"`
	SharpeRatio      float64 `json:"sharpe_ratio"`
	SortinoRatio     float64 `json:"sortino_ratio"`
	MaxDrawdown      float64 `json:"max_drawdown"`
	CalmarRatio      float64 `json:"calmar_ratio"`
	PeriodsPerYear   float64 `json:"periods_per_year"`

	TotalTrades   int     `json:"total_trades"`
	ClosedTrades  int     `json:"closed_trades"`
	WinningTrades int     `json:"winning_trades"`
	LosingTrades  int     `json:"losing_trades"`
	WinRate       float64 `json:"win_rate"`
	ProfitFactor  float64 `json:"profit_factor"`
	AvgWin        float64 `json:"avg_win"`
	AvgLoss       float64 `json:"avg_loss"`
	LargestWin    float64 `json:"largest_win"`
	LargestLoss   float64 `json:"largest_loss"`

	Signals         map[string]int `json:"signals"`
	RejectedSignals map[string]int `json:"rejected_signals"`
	Trades          []Trade        `json:"trades"`
	Equity          []EquityPoint  `json:"equity"`
}

// MarshalJSON writes infinite ratios as null.
func (r Report) MarshalJSON() ([]byte, error) {
	type alias Report
	return json.Marshal(struct {
		alias
		SortinoRatio *float64 `json:"sortino_ratio"`
		CalmarRatio  *float64 `json:"calmar_ratio"`
		ProfitFactor *float64 `json:"profit_factor"`
	}{alias(r), finitePtr(r.SortinoRatio), finitePtr(r.CalmarRatio), finitePtr(r.ProfitFactor)})
}

// UnmarshalJSON reads null ratios back as +Inf.
func (r *Report) UnmarshalJSON(data []byte) error {
	type alias Report
	aux := struct {
		*alias
		SortinoRatio *float64 `json:"sortino_ratio"`
		CalmarRatio  *float64 `json:"calmar_ratio"`
		ProfitFactor *float64 `json:"profit_factor"`
	}{alias: (*alias)(r)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	r.SortinoRatio = infIfNil(aux.SortinoRatio)
	r.CalmarRatio = infIfNil(aux.CalmarRatio)
	r.ProfitFactor = infIfNil(aux.ProfitFactor)
	return nil
}

func finitePtr(v float64) *float64 {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return nil
	}
	return &v
}

func infIfNil(v *float64) float64 {
	if v == nil {
		return math.Inf(1)
	}
	return *v
}

// buildReport computes performance metrics from a finished account.
func buildReport(cfg Config, acct *Account, signals, rejected map[string]int) *Report {
	r := &Report{
		Token:              cfg.Token,
		Config:             cfg,
		Bars:               len(acct.Equity),
		InitialCapital:     acct.InitialCapital,
		FinalValue:         acct.PortfolioValue(),
		FinalCash:          acct.Cash,
		FinalPositionValue: acct.PositionValue(),
		TotalCommission:    acct.TotalCommission,
		TotalSlippage:      acct.TotalSlippage,
		RealizedPnL:        acct.RealizedPnL,
		TotalTrades:        len(acct.Trades),
		Signals:            signals,
		RejectedSignals:    rejected,
		Trades:             acct.Trades,
		Equity:             acct.Equity,
	}
	if acct.Position != nil {
		r.UnrealizedPnL = (acct.LastPrice - acct.Position.EntryQuote) * acct.Position.Quantity
	}
	if len(acct.Equity) > 0 {
		r.Start = acct.Equity[0].Timestamp
		r.End = acct.Equity[len(acct.Equity)-1].Timestamp
	}
	r.TotalReturn = r.FinalValue/r.InitialCapital - 1

	r.PeriodsPerYear = cfg.PeriodsPerYear
	if r.PeriodsPerYear == 0 {
		r.PeriodsPerYear = derivePeriodsPerYear(acct.Equity)
	}
	r.calculateReturnMetrics(cfg.RiskFreeRate)
	r.calculateTradeMetrics()
	return r
}

// derivePeriodsPerYear infers bar frequency from the median bar spacing,
// defaulting to daily bars.
func derivePeriodsPerYear(points []EquityPoint) float64 {
	if len(points) < 2 {
		return 365
	}
	gaps := make([]float64, 0, len(points)-1)
	for i := 1; i < len(points); i++ {
		gaps = append(gaps, points[i].Timestamp.Sub(points[i-1].Timestamp).Seconds())
	}
	sort.Float64s(gaps)
	median := gaps[len(gaps)/2]
	if median <= 0 {
		return 365
	}
	return 365.25 * 24 * 3600 / median
}

func (r *Report) calculateReturnMetrics(riskFree float64) {
	values := make([]float64, 0, len(r.Equity)+1)
	values = append(values, r.InitialCapital)
	for _, p := range r.Equity {
		values = append(values, p.PortfolioValue)
	}

	peak := values[0]
	for _, v := range values {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			if dd := v/peak - 1; dd < r.MaxDrawdown {
				r.MaxDrawdown = dd
			}
		}
	}

	returns := make([]float64, 0, len(values)-1)
	for i := 1; i < len(values); i++ {
		if values[i-1] > 0 {
			returns = append(returns, values[i]/values[i-1]-1)
		}
	}
	periods := float64(len(returns))
	if periods == 0 {
		return
	}

	if r.FinalValue > 0 {
		r.AnnualizedReturn = math.Pow(r.FinalValue/r.InitialCapital, r.PeriodsPerYear/periods) - 1
	} else {
		r.AnnualizedReturn = -1
	}

	mean := stat.Mean(returns, nil)
	excess := mean*r.PeriodsPerYear - riskFree
	if len(returns) > 1 {
		r.Volatility = stat.StdDev(returns, nil) * math.Sqrt(r.PeriodsPerYear)
	}
	if r.Volatility > 0 {
		r.SharpeRatio = excess / r.Volatility
	}

	// downside deviation over losing periods only
	downside, count := 0.0, 0
	for _, ret := range returns {
		if ret < 0 {
			downside += ret * ret
			count++
		}
	}
	switch {
	case count > 0:
		dd := math.Sqrt(downside/float64(count)) * math.Sqrt(r.PeriodsPerYear)
		r.SortinoRatio = excess / dd
	case excess > 0:
		r.SortinoRatio = math.Inf(1)
	}

	switch {
	case r.MaxDrawdown < 0:
		r.CalmarRatio = r.AnnualizedReturn / math.Abs(r.MaxDrawdown)
	case r.AnnualizedReturn > 0:
		r.CalmarRatio = math.Inf(1)
	}
}

func (r *Report) calculateTradeMetrics() {
	grossWin, grossLoss := 0.0, 0.0
	for _, t := range r.Trades {
		if t.Side != SideSell {
			continue
		}
		r.ClosedTrades++
		if t.PnL > 0 {
			r.WinningTrades++
			grossWin += t.PnL
			r.LargestWin = math.Max(r.LargestWin, t.PnL)
		} else {
			r.LosingTrades++
			grossLoss += -t.PnL
			r.LargestLoss = math.Min(r.LargestLoss, t.PnL)
		}
	}
	if r.ClosedTrades > 0 {
		r.WinRate = float64(r.WinningTrades) / float64(r.ClosedTrades)
	}
	if r.WinningTrades > 0 {
		r.AvgWin = grossWin / float64(r.WinningTrades)
	}
	if r.LosingTrades > 0 {
		r.AvgLoss = -grossLoss / float64(r.LosingTrades)
	}
	switch {
	case grossLoss > 0:
		r.ProfitFactor = grossWin / grossLoss
	case grossWin > 0:
		r.ProfitFactor = math.Inf(1)
	}
}
