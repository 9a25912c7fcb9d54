package backtest

import (
	"fmt"
	"time"
)

// Side of a trade
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Exit reasons
const (
	ReasonSignal     = "signal"
	ReasonStopLoss   = "stop loss"
	ReasonTakeProfit = "take profit"
	ReasonEndOfRun   = "end of backtest"
)

// Trade is an append-only log entry. Price is the executed (slipped) price.
type Trade struct {
	Timestamp  time.Time `json:"timestamp"`
	Side       Side      `json:"side"`
	Price      float64   `json:"price"`
	QuotePrice float64   `json:"quote_price"`
	Quantity   float64   `json:"quantity"`
	Confidence float64   `json:"confidence"`
	Reason     string    `json:"reason"`
	Commission float64   `json:"commission"`
	Slippage   float64   `json:"slippage"`
	// GrossPnL is the quoted-price P&L of the round trip, PnL is net of its
	// entry and exit costs. Both are zero on BUY trades.
	GrossPnL  float64 `json:"gross_pnl"`
	PnL       float64 `json:"pnl"`
	CashAfter float64 `json:"cash_after"`
}

// Position is the single open holding of an account.
type Position struct {
	Token      string    `json:"token"`
	EntryTime  time.Time `json:"entry_time"`
	EntryQuote float64   `json:"entry_quote"`
	EntryPrice float64   `json:"entry_price"`
	Quantity   float64   `json:"quantity"`
	EntryCost  float64   `json:"entry_cost"`
	Volatility float64   `json:"volatility"`
	RiskAmount float64   `json:"risk_amount"`
}

// EquityPoint is one observation of the account after a bar is processed.
type EquityPoint struct {
	Timestamp      time.Time `json:"timestamp"`
	Price          float64   `json:"price"`
	Cash           float64   `json:"cash"`
	PositionValue  float64   `json:"position_value"`
	PortfolioValue float64   `json:"portfolio_value"`
}

// Account is the mutable state of one backtest run.
type Account struct {
	InitialCapital  float64
	Cash            float64
	Position        *Position
	Trades          []Trade
	Equity          []EquityPoint
	TotalCommission float64
	TotalSlippage   float64
	RealizedPnL     float64
	LastPrice       float64
}

func newAccount(capital float64) *Account {
	return &Account{
		InitialCapital: capital,
		Cash:           capital,
	}
}

// PositionValue marks the open position at the last seen price.
func (a *Account) PositionValue() float64 {
	if a.Position == nil {
		return 0
	}
	return a.Position.Quantity * a.LastPrice
}

// PortfolioValue is cash plus position value.
func (a *Account) PortfolioValue() float64 {
	return a.Cash + a.PositionValue()
}

// open buys quantity at quote, paying slippage against the trader and commission on the fill.
func (a *Account) open(token string, at time.Time, quote, quantity, slippage, commission, confidence, volatility float64) Trade {
	fill := quote * (1 + slippage)
	fee := quantity * fill * commission
	slip := quantity * quote * slippage

	a.Cash -= quantity*fill + fee
	a.TotalCommission += fee
	a.TotalSlippage += slip
	a.LastPrice = quote
	a.Position = &Position{
		Token:      token,
		EntryTime:  at,
		EntryQuote: quote,
		EntryPrice: fill,
		Quantity:   quantity,
		EntryCost:  fee + slip,
		Volatility: volatility,
		RiskAmount: quantity * quote * volatility,
	}

	t := Trade{
		Timestamp:  at,
		Side:       SideBuy,
		Price:      fill,
		QuotePrice: quote,
		Quantity:   quantity,
		Confidence: confidence,
		Reason:     ReasonSignal,
		Commission: fee,
		Slippage:   slip,
		CashAfter:  a.Cash,
	}
	a.Trades = append(a.Trades, t)
	return t
}

// close sells the whole position at quote.
func (a *Account) close(at time.Time, quote, slippage, commission, confidence float64, reason string) Trade {
	p := a.Position
	fill := quote * (1 - slippage)
	fee := p.Quantity * fill * commission
	slip := p.Quantity * quote * slippage
	gross := (quote - p.EntryQuote) * p.Quantity

	a.Cash += p.Quantity*fill - fee
	a.TotalCommission += fee
	a.TotalSlippage += slip
	a.RealizedPnL += gross
	a.LastPrice = quote
	a.Position = nil

	t := Trade{
		Timestamp:  at,
		Side:       SideSell,
		Price:      fill,
		QuotePrice: quote,
		Quantity:   p.Quantity,
		Confidence: confidence,
		Reason:     reason,
		Commission: fee,
		Slippage:   slip,
		GrossPnL:   gross,
		PnL:        gross - p.EntryCost - fee - slip,
		CashAfter:  a.Cash,
	}
	a.Trades = append(a.Trades, t)
	return t
}

func (a *Account) record(at time.Time) {
	a.Equity = append(a.Equity, EquityPoint{
		Timestamp:      at,
		Price:          a.LastPrice,
		Cash:           a.Cash,
		PositionValue:  a.PositionValue(),
		PortfolioValue: a.PortfolioValue(),
	})
}

// Snapshot is a copy of account state for diagnostics.
type Snapshot struct {
	Cash           float64   `json:"cash"`
	PositionValue  float64   `json:"position_value"`
	PortfolioValue float64   `json:"portfolio_value"`
	Position       *Position `json:"position,omitempty"`
	Trades         int       `json:"trades"`
	RealizedPnL    float64   `json:"realized_pnl"`
}

// Snapshot copies the current account state.
func (a *Account) Snapshot() Snapshot {
	s := Snapshot{
		Cash:           a.Cash,
		PositionValue:  a.PositionValue(),
		PortfolioValue: a.PortfolioValue(),
		Trades:         len(a.Trades),
		RealizedPnL:    a.RealizedPnL,
	}
	if a.Position != nil {
		p := *a.Position
		s.Position = &p
	}
	return s
}

// RunError aborts a run at a specific bar.
type RunError struct {
	BarIndex  int
	Timestamp time.Time
	Snapshot  Snapshot
	Err       error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("backtest aborted at bar %d (%s): portfolio value %.2f: %v",
		e.BarIndex, e.Timestamp.Format(time.RFC3339), e.Snapshot.PortfolioValue, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}
