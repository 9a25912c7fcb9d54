package runner

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ducminhle1904/crypto-risk-engine/internal/backtest"
	"github.com/ducminhle1904/crypto-risk-engine/pkg/types"
)

// Job is one independent backtest. Each job gets its own Backtester.
type Job struct {
	ID      string
	Config  backtest.Config
	Series  types.Series
	Signals backtest.SignalSource
	// Timeout bounds the run; zero means no deadline.
	Timeout time.Duration
	Options []backtest.Option
}

// Result is the outcome of a Job
type Result struct {
	ID       string
	Token    string
	Report   *backtest.Report
	Duration time.Duration
	Err      error
}

// BatchRunner runs independent backtests on a bounded number of workers.
type BatchRunner struct {
	workers int
	logger  zerolog.Logger
}

// Option configures a BatchRunner
type Option func(*BatchRunner)

// WithWorkers sets the worker count; non-positive uses runtime.NumCPU
func WithWorkers(n int) Option {
	return func(b *BatchRunner) { b.workers = n }
}

// WithLogger sets the logger
func WithLogger(l zerolog.Logger) Option {
	return func(b *BatchRunner) { b.logger = l }
}

// NewBatchRunner creates a batch runner
func NewBatchRunner(opts ...Option) *BatchRunner {
	b := &BatchRunner{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(b)
	}
	if b.workers <= 0 {
		b.workers = runtime.NumCPU()
	}
	return b
}

// Run executes jobs and returns results in job order. A failing job does not
// stop the others; only cancellation of ctx does.
func (b *BatchRunner) Run(ctx context.Context, jobs []Job) ([]Result, error) {
	results := make([]Result, len(jobs))
	progress := NewProgressTracker(len(jobs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers)
	for i := range jobs {
		job := jobs[i]
		if job.ID == "" {
			job.ID = uuid.NewString()
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				results[i] = Result{ID: job.ID, Token: job.Config.Token, Err: err}
				return err
			}
			results[i] = b.process(gctx, job)
			done, total, pct, _ := progress.Increment()
			b.logger.Debug().Str("job", job.ID).Int("done", done).Int("total", total).
				Float64("progress", pct).Dur("eta", progress.EstimateTimeRemaining()).Msg("backtest job finished")
			return nil
		})
	}
	err := g.Wait()
	return results, err
}

func (b *BatchRunner) process(ctx context.Context, job Job) Result {
	start := time.Now()
	res := Result{ID: job.ID, Token: job.Config.Token}

	opts := append([]backtest.Option{backtest.WithLogger(b.logger.With().Str("job", job.ID).Logger())}, job.Options...)
	bt, err := backtest.NewBacktester(job.Config, job.Signals, opts...)
	if err != nil {
		res.Err = err
		return res
	}
	res.Report, res.Err = WithDeadline(ctx, job.Timeout, "backtest", func(ctx context.Context) (*backtest.Report, error) {
		return bt.Run(ctx, job.Series)
	})
	res.Duration = time.Since(start)
	if res.Err != nil {
		b.logger.Warn().Err(res.Err).Str("job", job.ID).Str("token", job.Config.Token).Msg("backtest job failed")
	}
	return res
}

// ProgressTracker tracks completion of a batch.
type ProgressTracker struct {
	total     int
	completed int
	startTime time.Time
	mu        sync.RWMutex
}

// NewProgressTracker creates a tracker for total items
func NewProgressTracker(total int) *ProgressTracker {
	return &ProgressTracker{total: total, startTime: time.Now()}
}

// Increment marks one item done and returns the new progress.
func (pt *ProgressTracker) Increment() (completed, total int, percent float64, elapsed time.Duration) {
	pt.mu.Lock()
	pt.completed++
	pt.mu.Unlock()
	return pt.Progress()
}

// Progress returns completed, total, percent complete and elapsed time.
func (pt *ProgressTracker) Progress() (int, int, float64, time.Duration) {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	pct := 100.0
	if pt.total > 0 {
		pct = float64(pt.completed) / float64(pt.total) * 100
	}
	return pt.completed, pt.total, pct, time.Since(pt.startTime)
}

// EstimateTimeRemaining extrapolates from the average time per completed item.
func (pt *ProgressTracker) EstimateTimeRemaining() time.Duration {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	if pt.completed == 0 {
		return 0
	}
	avg := time.Since(pt.startTime) / time.Duration(pt.completed)
	return avg * time.Duration(pt.total-pt.completed)
}
