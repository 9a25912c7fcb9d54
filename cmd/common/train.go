package common

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/ducminhle1904/crypto-risk-engine/internal/features"
	"github.com/ducminhle1904/crypto-risk-engine/internal/model"
	"github.com/ducminhle1904/crypto-risk-engine/internal/runner"
	"github.com/ducminhle1904/crypto-risk-engine/pkg/types"
	"github.com/ducminhle1904/crypto-risk-engine/pkg/validation"
)

// TrainResult is what a training session reports.
type TrainResult struct {
	Token       string                `json:"token"`
	Rows        int                   `json:"rows"`
	TrainRows   int                   `json:"train_rows"`
	TestRows    int                   `json:"test_rows"`
	Training    model.TrainingMetrics `json:"training"`
	Holdout     model.Evaluation      `json:"holdout"`
	TopFeatures []model.FeatureScore  `json:"top_features"`
	WalkForward *validation.Summary   `json:"walk_forward,omitempty"`
	Duration    time.Duration         `json:"duration"`
	Table       *features.Table       `json:"-"`
	Model       *model.SignalModel    `json:"-"`
}

// Labels returns model store labels describing the session.
func (r *TrainResult) Labels(interval string) map[string]string {
	return map[string]string{
		"interval":         interval,
		"rows":             strconv.Itoa(r.Rows),
		"holdout_accuracy": strconv.FormatFloat(r.Holdout.Accuracy, 'f', 4, 64),
		"holdout_log_loss": strconv.FormatFloat(r.Holdout.LogLoss, 'f', 4, 64),
	}
}

// Train builds features, runs optional rolling validation, then fits a
// model on the chronological train split and scores it on the holdout.
// A non-zero timeout bounds the final fit.
func (e *Env) Train(ctx context.Context, token string, series types.Series, folds int, timeout time.Duration) (*TrainResult, error) {
	cfg := e.Config
	start := time.Now()

	eng, err := cfg.NewEngineer(e.Logger)
	if err != nil {
		return nil, err
	}
	table, err := eng.CreateFeatures(series)
	if err != nil {
		return nil, err
	}

	res := &TrainResult{Token: token, Rows: table.Len(), Table: table}

	if folds > 0 {
		windows, err := validation.RollingFoldsByCount(table, folds, cfg.Model.TrainRatio)
		if err != nil {
			return nil, err
		}
		wf := validation.NewWalkForward(func() *model.SignalModel { return cfg.NewSignalModel(e.Logger) },
			validation.WithLogger(e.Logger))
		if res.WalkForward, err = wf.Run(ctx, windows); err != nil {
			return nil, err
		}
	}

	train, test, err := validation.SplitByRatio(table, cfg.Model.TrainRatio)
	if err != nil {
		return nil, err
	}
	res.TrainRows, res.TestRows = train.Len(), test.Len()

	m := cfg.NewSignalModel(e.Logger)
	res.Training, err = runner.WithDeadline(ctx, timeout, "train", func(context.Context) (model.TrainingMetrics, error) {
		return m.Train(train.Matrix(), nil)
	})
	if err != nil {
		return nil, fmt.Errorf("training failed: %w", err)
	}
	if res.Holdout, err = m.Evaluate(test.Matrix()); err != nil {
		return nil, err
	}
	res.TopFeatures = m.TopFeatures(cfg.Model.TopFeatures)
	res.Model = m
	res.Duration = time.Since(start)

	e.Logger.Info().
		Str("token", token).
		Int("train_rows", res.TrainRows).
		Int("test_rows", res.TestRows).
		Float64("train_accuracy", res.Training.TrainAccuracy).
		Float64("holdout_accuracy", res.Holdout.Accuracy).
		Dur("duration", res.Duration).
		Msg("Model trained")
	return res, nil
}
