package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/ducminhle1904/crypto-risk-engine/internal/backtest"
	engineerrors "github.com/ducminhle1904/crypto-risk-engine/internal/errors"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    id                TEXT PRIMARY KEY,
    token             TEXT    NOT NULL,
    created_at        INTEGER NOT NULL,
    start_at          INTEGER NOT NULL DEFAULT 0,
    end_at            INTEGER NOT NULL DEFAULT 0,
    bars              INTEGER NOT NULL DEFAULT 0,
    initial_capital   REAL    NOT NULL DEFAULT 0,
    final_value       REAL    NOT NULL DEFAULT 0,
    total_return      REAL    NOT NULL DEFAULT 0,
    sharpe_ratio      REAL    NOT NULL DEFAULT 0,
    max_drawdown      REAL    NOT NULL DEFAULT 0,
    win_rate          REAL    NOT NULL DEFAULT 0,
    total_trades      INTEGER NOT NULL DEFAULT 0,
    report            TEXT    NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_token_created ON runs(token, created_at DESC);
`

// ErrRunNotFound is returned when a run id is unknown
var ErrRunNotFound = errors.New("run not found")

// RunSummary is the indexed part of a stored run.
type RunSummary struct {
	ID             string    `json:"id"`
	Token          string    `json:"token"`
	CreatedAt      time.Time `json:"created_at"`
	Start          time.Time `json:"start"`
	End            time.Time `json:"end"`
	Bars           int       `json:"bars"`
	InitialCapital float64   `json:"initial_capital"`
	FinalValue     float64   `json:"final_value"`
	TotalReturn    float64   `json:"total_return"`
	SharpeRatio    float64   `json:"sharpe_ratio"`
	MaxDrawdown    float64   `json:"max_drawdown"`
	WinRate        float64   `json:"win_rate"`
	TotalTrades    int       `json:"total_trades"`
}

// RunStore persists backtest reports in SQLite.
type RunStore struct {
	db     *sql.DB
	logger zerolog.Logger
	now    func() time.Time
}

// Option configures a RunStore
type Option func(*RunStore)

// WithLogger sets the logger
func WithLogger(l zerolog.Logger) Option {
	return func(s *RunStore) { s.logger = l }
}

// Open opens (or creates) the database at dsn, e.g. a file path or ":memory:".
func Open(dsn string, opts ...Option) (*RunStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, engineerrors.NewStorageError("store", "Open", fmt.Errorf("open %q: %w", dsn, err))
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, engineerrors.NewStorageError("store", "Open", fmt.Errorf("apply schema: %w", err))
	}
	s := &RunStore{db: db, logger: zerolog.Nop(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the database
func (s *RunStore) Close() error {
	return s.db.Close()
}

// SaveRun stores a report under a new id.
func (s *RunStore) SaveRun(ctx context.Context, report *backtest.Report) (string, error) {
	if report == nil {
		return "", engineerrors.NewInvalidParameter("store", "SaveRun", "nil report")
	}
	payload, err := json.Marshal(report)
	if err != nil {
		return "", engineerrors.NewStorageError("store", "SaveRun", fmt.Errorf("encode report: %w", err))
	}

	id := uuid.NewString()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, token, created_at, start_at, end_at, bars, initial_capital, final_value,
		                  total_return, sharpe_ratio, max_drawdown, win_rate, total_trades, report)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, report.Token, s.now().UTC().UnixMilli(), unixMilli(report.Start), unixMilli(report.End), report.Bars,
		finite(report.InitialCapital), finite(report.FinalValue), finite(report.TotalReturn),
		finite(report.SharpeRatio), finite(report.MaxDrawdown), finite(report.WinRate), report.TotalTrades,
		string(payload),
	)
	if err != nil {
		return "", engineerrors.NewStorageError("store", "SaveRun", fmt.Errorf("insert run: %w", err))
	}
	s.logger.Info().Str("run_id", id).Str("token", report.Token).Float64("total_return", report.TotalReturn).Msg("backtest run saved")
	return id, nil
}

// GetRun loads a stored run.
func (s *RunStore) GetRun(ctx context.Context, id string) (RunSummary, *backtest.Report, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+summaryColumns+`, report FROM runs WHERE id = ?`, id)
	var payload string
	sum, err := scanSummary(row, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return RunSummary{}, nil, fmt.Errorf("run %s: %w", id, ErrRunNotFound)
	}
	if err != nil {
		return RunSummary{}, nil, engineerrors.NewStorageError("store", "GetRun", err)
	}
	var report backtest.Report
	if err := json.Unmarshal([]byte(payload), &report); err != nil {
		return RunSummary{}, nil, engineerrors.NewStorageError("store", "GetRun", fmt.Errorf("decode report: %w", err))
	}
	return sum, &report, nil
}

// ListRuns returns the most recent runs for token, newest first. An empty
// token lists all tokens; a non-positive limit returns every run.
func (s *RunStore) ListRuns(ctx context.Context, token string, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+summaryColumns+` FROM runs
		WHERE (? = '' OR token = ?)
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`, token, token, limit)
	if err != nil {
		return nil, engineerrors.NewStorageError("store", "ListRuns", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		sum, err := scanSummary(rows)
		if err != nil {
			return nil, engineerrors.NewStorageError("store", "ListRuns", err)
		}
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, engineerrors.NewStorageError("store", "ListRuns", err)
	}
	return out, nil
}

const summaryColumns = `id, token, created_at, start_at, end_at, bars, initial_capital, final_value,
	total_return, sharpe_ratio, max_drawdown, win_rate, total_trades`

type scanner interface {
	Scan(dest ...any) error
}

func scanSummary(sc scanner, extra ...any) (RunSummary, error) {
	var s RunSummary
	var created, start, end int64
	dest := []any{&s.ID, &s.Token, &created, &start, &end, &s.Bars, &s.InitialCapital, &s.FinalValue,
		&s.TotalReturn, &s.SharpeRatio, &s.MaxDrawdown, &s.WinRate, &s.TotalTrades}
	if err := sc.Scan(append(dest, extra...)...); err != nil {
		return RunSummary{}, err
	}
	s.CreatedAt = time.UnixMilli(created).UTC()
	if start != 0 {
		s.Start = time.UnixMilli(start).UTC()
	}
	if end != 0 {
		s.End = time.UnixMilli(end).UTC()
	}
	return s, nil
}

func unixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
