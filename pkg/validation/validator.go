package validation

import (
	"context"
	"math"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	engineerrors "github.com/ducminhle1904/crypto-risk-engine/internal/errors"
	"github.com/ducminhle1904/crypto-risk-engine/internal/features"
	"github.com/ducminhle1904/crypto-risk-engine/internal/model"
)

// Overfitting risk levels
const (
	RiskLow      = "LOW"
	RiskModerate = "MODERATE"
	RiskHigh     = "HIGH"
)

// FoldResult holds the in-sample and out-of-sample metrics of one fold.
type FoldResult struct {
	Fold     int                   `json:"fold"`
	Training model.TrainingMetrics `json:"training"`
	Test     model.Evaluation      `json:"test"`
	Window   Fold                  `json:"-"`
}

// Summary aggregates walk-forward results.
type Summary struct {
	Results              []FoldResult `json:"results"`
	AverageTrainAccuracy float64      `json:"average_train_accuracy"`
	AverageTestAccuracy  float64      `json:"average_test_accuracy"`
	TestAccuracyStdDev   float64      `json:"test_accuracy_std_dev"`
	AverageTestLogLoss   float64      `json:"average_test_log_loss"`
	AverageTestWinRate   float64      `json:"average_test_win_rate"`
	Degradation          float64      `json:"degradation"` // percent drop from train to test accuracy
	IsRobust             bool         `json:"is_robust"`
	OverfittingRisk      string       `json:"overfitting_risk"`
}

// WalkForward trains a fresh model on every fold and scores it on the
// following out-of-sample window.
type WalkForward struct {
	newModel func() *model.SignalModel
	logger   zerolog.Logger
}

// Option configures a WalkForward
type Option func(*WalkForward)

// WithLogger sets the logger
func WithLogger(l zerolog.Logger) Option {
	return func(w *WalkForward) { w.logger = l }
}

// NewWalkForward creates a validator that builds models with newModel.
func NewWalkForward(newModel func() *model.SignalModel, opts ...Option) *WalkForward {
	w := &WalkForward{newModel: newModel, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Holdout runs a single chronological train/test split.
func (w *WalkForward) Holdout(ctx context.Context, table *features.Table, ratio float64) (*Summary, error) {
	train, test, err := SplitByRatio(table, ratio)
	if err != nil {
		return nil, err
	}
	return w.Run(ctx, []Fold{{
		Train:      train,
		Test:       test,
		TrainStart: train.Rows[0].Timestamp,
		TrainEnd:   train.Rows[train.Len()-1].Timestamp,
		TestStart:  test.Rows[0].Timestamp,
		TestEnd:    test.Rows[test.Len()-1].Timestamp,
	}})
}

// Run validates every fold in order.
func (w *WalkForward) Run(ctx context.Context, folds []Fold) (*Summary, error) {
	if len(folds) == 0 {
		return nil, engineerrors.NewInsufficientData(component, "Run", 0, 1)
	}

	results := make([]FoldResult, 0, len(folds))
	for i, fold := range folds {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		m := w.newModel()
		training, err := m.Train(fold.Train.Matrix(), nil)
		if err != nil {
			return nil, engineerrors.New(engineerrors.ErrorCategoryModel, nil, component, "Run", "training failed").
				Wrap(err).
				WithContext("fold", i+1)
		}
		eval, err := m.Evaluate(fold.Test.Matrix())
		if err != nil {
			return nil, engineerrors.New(engineerrors.ErrorCategoryModel, nil, component, "Run", "evaluation failed").
				Wrap(err).
				WithContext("fold", i+1)
		}

		w.logger.Info().
			Int("fold", i+1).
			Int("folds", len(folds)).
			Time("train_start", fold.TrainStart).
			Time("test_end", fold.TestEnd).
			Float64("train_accuracy", training.TrainAccuracy).
			Float64("test_accuracy", eval.Accuracy).
			Msg("Fold validated")

		results = append(results, FoldResult{Fold: i + 1, Training: training, Test: eval, Window: fold})
	}

	summary := summarize(results)
	w.logger.Info().
		Float64("avg_train_accuracy", summary.AverageTrainAccuracy).
		Float64("avg_test_accuracy", summary.AverageTestAccuracy).
		Float64("degradation_pct", summary.Degradation).
		Str("overfitting_risk", summary.OverfittingRisk).
		Msg("Walk-forward validation complete")
	return summary, nil
}

func summarize(results []FoldResult) *Summary {
	train := make([]float64, len(results))
	test := make([]float64, len(results))
	logLoss := make([]float64, len(results))
	winRate := make([]float64, len(results))
	for i, r := range results {
		train[i] = r.Training.TrainAccuracy
		test[i] = r.Test.Accuracy
		logLoss[i] = r.Test.LogLoss
		winRate[i] = r.Test.WinRate
	}

	s := &Summary{
		Results:              results,
		AverageTrainAccuracy: stat.Mean(train, nil),
		AverageTestAccuracy:  stat.Mean(test, nil),
		AverageTestLogLoss:   stat.Mean(logLoss, nil),
		AverageTestWinRate:   stat.Mean(winRate, nil),
	}
	if len(test) > 1 {
		s.TestAccuracyStdDev = stat.StdDev(test, nil)
	}

	s.Degradation = (s.AverageTrainAccuracy - s.AverageTestAccuracy) / math.Max(0.01, math.Abs(s.AverageTrainAccuracy)) * 100
	s.IsRobust = s.Degradation <= 30
	switch {
	case s.Degradation > 30:
		s.OverfittingRisk = RiskHigh
	case s.Degradation > 15:
		s.OverfittingRisk = RiskModerate
	default:
		s.OverfittingRisk = RiskLow
	}
	return s
}
