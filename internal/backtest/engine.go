package backtest

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	engineerrors "github.com/ducminhle1904/crypto-risk-engine/internal/errors"
	"github.com/ducminhle1904/crypto-risk-engine/internal/features"
	"github.com/ducminhle1904/crypto-risk-engine/internal/model"
	"github.com/ducminhle1904/crypto-risk-engine/internal/monitoring"
	"github.com/ducminhle1904/crypto-risk-engine/internal/risk"
	"github.com/ducminhle1904/crypto-risk-engine/internal/sizing"
	"github.com/ducminhle1904/crypto-risk-engine/pkg/types"
)

const component = "backtest"

// volatilityColumn is the per-period return volatility used for sizing and risk checks.
const volatilityColumn = "volatility_20"

// SignalSource produces a trading signal for one feature row.
// *model.SignalModel implements it.
type SignalSource interface {
	GenerateSignal(row features.Row, threshold, minProbability float64) (model.TradingSignal, error)
}

// State of a Backtester
type State int

const (
	StateIdle State = iota
	StateRunning
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Backtester replays a price series bar by bar against a signal source.
// One instance owns one account; it is not shared between runs.
type Backtester struct {
	cfg      Config
	signals  SignalSource
	engineer *features.Engineer
	limits   risk.Limits
	sizer    *sizing.Sizer
	logger   zerolog.Logger

	mu      sync.Mutex
	state   State
	account *Account
	report  *Report
}

// Option configures a Backtester
type Option func(*Backtester)

// WithEngineer sets the feature engineer
func WithEngineer(e *features.Engineer) Option {
	return func(b *Backtester) { b.engineer = e }
}

// WithRiskLimits sets the limits of the per-run risk manager
func WithRiskLimits(l risk.Limits) Option {
	return func(b *Backtester) { b.limits = l }
}

// WithSizer sets the sizer used by the kelly and fixed_fractional modes
func WithSizer(s *sizing.Sizer) Option {
	return func(b *Backtester) { b.sizer = s }
}

// WithLogger sets the logger
func WithLogger(l zerolog.Logger) Option {
	return func(b *Backtester) { b.logger = l }
}

// NewBacktester validates cfg and builds an idle backtester.
func NewBacktester(cfg Config, signals SignalSource, opts ...Option) (*Backtester, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if signals == nil {
		return nil, engineerrors.NewInvalidParameter(component, "NewBacktester", "signal source is required")
	}
	b := &Backtester{
		cfg:     cfg,
		signals: signals,
		limits:  risk.DefaultLimits(),
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.engineer == nil {
		b.engineer = features.NewEngineer(features.WithLogger(b.logger))
	}
	if err := b.limits.Validate(); err != nil {
		return nil, err
	}
	if b.sizer == nil {
		budget := sizing.DefaultBudget()
		budget.MaxPortfolioRisk = b.limits.RiskPerTrade
		budget.MaxSinglePosition = b.limits.MaxSinglePosition
		budget.RiskFreeRate = cfg.RiskFreeRate
		s, err := sizing.NewSizer(budget, sizing.WithLogger(b.logger))
		if err != nil {
			return nil, err
		}
		b.sizer = s
	}
	b.account = newAccount(cfg.InitialCapital)
	return b, nil
}

// State returns the current state
func (b *Backtester) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Account returns a snapshot of the account, including after an aborted run.
func (b *Backtester) Account() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.account.Snapshot()
}

// Report returns the last completed report, nil if none.
func (b *Backtester) Report() *Report {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.report
}

// Reset returns a closed backtester to idle with a fresh account.
func (b *Backtester) Reset() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateRunning {
		return engineerrors.NewInvalidParameter(component, "Reset", "cannot reset a running backtest")
	}
	b.state = StateIdle
	b.account = newAccount(b.cfg.InitialCapital)
	b.report = nil
	return nil
}

// Run replays series. It fails with ErrInsufficientData before touching the
// account when fewer than MinFeatureRows feature rows are available, and
// returns a *RunError when a bar fails.
func (b *Backtester) Run(ctx context.Context, series types.Series) (*Report, error) {
	b.mu.Lock()
	if b.state != StateIdle {
		state := b.state
		b.mu.Unlock()
		return nil, engineerrors.NewInvalidParameter(component, "Run", "backtester is %s; call Reset before another run", state)
	}
	// claimed here so a concurrent Run sees Running; released on setup failure
	b.state = StateRunning
	b.mu.Unlock()

	table, riskMgr, err := b.prepare(series)
	if err != nil {
		b.mu.Lock()
		b.state = StateIdle
		b.mu.Unlock()
		return nil, err
	}

	b.mu.Lock()
	b.account = newAccount(b.cfg.InitialCapital)
	b.report = nil
	b.mu.Unlock()

	b.logger.Info().Str("token", b.cfg.Token).Int("bars", len(series)).Int("feature_rows", table.Len()).
		Float64("initial_capital", b.cfg.InitialCapital).Msg("backtest started")
	started := time.Now()

	r := &run{
		Backtester: b,
		risk:       riskMgr,
		counts:     map[string]int{},
		rejected:   map[string]int{},
	}
	runErr := r.replay(ctx, series, table)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	if runErr != nil {
		monitoring.RecordBacktest(b.cfg.Token, "aborted")
		b.logger.Error().Err(runErr).Str("token", b.cfg.Token).Msg("backtest aborted")
		return nil, runErr
	}

	b.report = buildReport(b.cfg, b.account, r.counts, r.rejected)
	monitoring.RecordBacktest(b.cfg.Token, "completed")
	b.logger.Info().
		Str("token", b.cfg.Token).
		Float64("total_return", b.report.TotalReturn).
		Float64("max_drawdown", b.report.MaxDrawdown).
		Int("trades", b.report.TotalTrades).
		Dur("elapsed", time.Since(started)).
		Msg("backtest finished")
	return b.report, nil
}

// prepare builds the feature table and a fresh risk manager without
// touching the account.
func (b *Backtester) prepare(series types.Series) (*features.Table, *risk.Manager, error) {
	table, err := b.engineer.CreateFeatures(series)
	if err != nil {
		return nil, nil, err
	}
	if table.Len() < b.cfg.MinFeatureRows {
		return nil, nil, engineerrors.NewInsufficientData(component, "Run", table.Len(), b.cfg.MinFeatureRows)
	}
	riskMgr, err := risk.NewManager(b.limits, b.cfg.InitialCapital, risk.WithSizer(b.sizer), risk.WithLogger(b.logger))
	if err != nil {
		return nil, nil, err
	}
	return table, riskMgr, nil
}

// run carries per-run collaborators that do not belong on the Backtester.
type run struct {
	*Backtester
	risk     *risk.Manager
	counts   map[string]int
	rejected map[string]int
}

func (r *run) replay(ctx context.Context, series types.Series, table *features.Table) error {
	acct := r.account
	cursor := 0
	for i, row := range table.Rows {
		fail := func(err error) error {
			return &RunError{BarIndex: i, Timestamp: row.Timestamp, Snapshot: acct.Snapshot(), Err: err}
		}
		if err := ctx.Err(); err != nil {
			return fail(err)
		}

		for cursor < len(series) && series[cursor].Timestamp.Before(row.Timestamp) {
			cursor++
		}
		if cursor >= len(series) || !series[cursor].Timestamp.Equal(row.Timestamp) {
			return fail(engineerrors.NewInvalidParameter(component, "Run", "feature row %s has no matching bar", row.Timestamp.Format(time.RFC3339)))
		}
		bar := series[cursor]

		// mark to market
		acct.LastPrice = bar.Close
		if acct.Position != nil {
			if err := r.risk.UpdatePrice(r.cfg.Token, bar.Close); err != nil {
				return fail(err)
			}
		}
		if err := r.risk.UpdatePortfolioMetrics(acct.PortfolioValue(), bar.Timestamp); err != nil {
			return fail(err)
		}

		exited := r.checkExits(bar)

		sig, err := r.signals.GenerateSignal(row, r.cfg.ConfidenceThreshold, r.cfg.MinProbability)
		if err != nil {
			return fail(err)
		}
		r.counts[string(sig.Direction)]++

		if !exited {
			switch {
			case sig.Direction == model.DirectionBuy && acct.Position == nil:
				if err := r.enter(bar, row, sig); err != nil {
					return fail(err)
				}
			case sig.Direction == model.DirectionSell && acct.Position != nil:
				r.exit(bar, sig.Confidence, ReasonSignal)
			}
		}
		acct.record(bar.Timestamp)
	}

	if r.cfg.CloseAtEnd && acct.Position != nil && len(acct.Equity) > 0 {
		last := acct.Equity[len(acct.Equity)-1]
		r.exit(types.OHLCV{Timestamp: last.Timestamp, Close: last.Price}, 0, ReasonEndOfRun)
		acct.Equity = acct.Equity[:len(acct.Equity)-1]
		acct.record(last.Timestamp)
	}
	return nil
}

// checkExits force-closes the position on a stop-loss or take-profit breach
// measured against the entry quote.
func (r *run) checkExits(bar types.OHLCV) bool {
	p := r.account.Position
	if p == nil {
		return false
	}
	move := bar.Close/p.EntryQuote - 1
	switch {
	case r.cfg.StopLoss > 0 && move <= -r.cfg.StopLoss:
		r.exit(bar, 0, ReasonStopLoss)
		return true
	case r.cfg.TakeProfit > 0 && move >= r.cfg.TakeProfit:
		r.exit(bar, 0, ReasonTakeProfit)
		return true
	}
	return false
}

func (r *run) exit(bar types.OHLCV, confidence float64, reason string) {
	t := r.account.close(bar.Timestamp, bar.Close, r.cfg.Slippage, r.cfg.Commission, confidence, reason)
	r.risk.RemovePosition(r.cfg.Token)
	monitoring.RecordTrade(r.cfg.Token, string(SideSell))
	r.logger.Debug().Str("reason", reason).Float64("price", t.Price).Float64("pnl", t.PnL).Msg("position closed")
}

func (r *run) enter(bar types.OHLCV, row features.Row, sig model.TradingSignal) error {
	acct := r.account
	if acct.Cash <= 0 {
		r.rejected["no cash"]++
		return nil
	}
	volatility := row.Values[volatilityColumn]
	if math.IsNaN(volatility) || volatility < 0 {
		volatility = 0
	}

	value, err := r.positionValue(acct.Cash, bar.Close, volatility, sig)
	if err != nil {
		return err
	}
	perUnit := 1 + r.cfg.Slippage + (1+r.cfg.Slippage)*r.cfg.Commission
	if value*perUnit > acct.Cash {
		value = acct.Cash / perUnit
	}
	if value <= 0 {
		r.rejected["no size"]++
		return nil
	}

	decision := r.risk.CheckRiskLimits(value, volatility)
	if !decision.Allowed {
		r.rejected[decision.Reason]++
		return nil
	}

	qty := value / bar.Close
	t := acct.open(r.cfg.Token, bar.Timestamp, bar.Close, qty, r.cfg.Slippage, r.cfg.Commission, sig.Confidence, volatility)
	if err := r.risk.AddPosition(risk.Position{
		Token:      r.cfg.Token,
		EntryPrice: bar.Close,
		Quantity:   qty,
		Volatility: volatility,
		OpenedAt:   bar.Timestamp,
	}); err != nil {
		return err
	}
	monitoring.RecordTrade(r.cfg.Token, string(SideBuy))
	r.logger.Debug().Float64("price", t.Price).Float64("quantity", qty).Float64("confidence", sig.Confidence).Msg("position opened")
	return nil
}

const kellyEpsilon = 1e-9

// positionValue sizes a new position in quote currency.
func (r *run) positionValue(equity, price, volatility float64, sig model.TradingSignal) (float64, error) {
	stop := r.stopDistance(volatility)
	switch r.cfg.Sizing {
	case SizingKelly:
		win := r.cfg.TakeProfit
		if win == 0 {
			win = stop
		}
		// Kelly needs a win rate strictly inside (0,1); a certain signal sizes at the cap
		p := math.Min(math.Max(sig.Probability, kellyEpsilon), 1-kellyEpsilon)
		size, err := r.sizer.Kelly(p, win, -stop, equity)
		if err != nil {
			return 0, err
		}
		return size.Amount, nil
	case SizingFixedFractional:
		size, err := r.sizer.FixedFractional(equity, 0, volatility)
		if err != nil {
			return 0, err
		}
		return size.Amount, nil
	default:
		s, err := r.risk.CalculatePositionSize(sig.Confidence, price, volatility, equity, stop)
		if err != nil {
			return 0, err
		}
		return s.Value, nil
	}
}

// stopDistance is the configured stop loss, or twice the bar volatility when stops are off.
func (r *run) stopDistance(volatility float64) float64 {
	if r.cfg.StopLoss > 0 {
		return r.cfg.StopLoss
	}
	return math.Min(math.Max(2*volatility, 0.005), 0.5)
}
