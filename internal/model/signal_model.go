package model

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"

	engineerrors "github.com/ducminhle1904/crypto-risk-engine/internal/errors"
	"github.com/ducminhle1904/crypto-risk-engine/internal/features"
)

const component = "model"

// DefaultTopFeatures is the length of the ranking attached to each signal.
const DefaultTopFeatures = 5

// TrainingMetrics summarises one training run.
type TrainingMetrics struct {
	TrainSamples   int     `json:"train_samples"`
	ValSamples     int     `json:"val_samples"`
	PositiveWeight float64 `json:"positive_weight"`
	Rounds         int     `json:"rounds"`
	TrainLogLoss   float64 `json:"train_log_loss"`
	ValLogLoss     float64 `json:"val_log_loss,omitempty"`
	TrainAccuracy  float64 `json:"train_accuracy"`
	ValAccuracy    float64 `json:"val_accuracy,omitempty"`
}

// Evaluation holds classification metrics at the 0.5 decision boundary.
type Evaluation struct {
	Samples     int       `json:"samples"`
	Accuracy    float64   `json:"accuracy"`
	Precision   float64   `json:"precision"`
	Recall      float64   `json:"recall"`
	Specificity float64   `json:"specificity"`
	WinRate     float64   `json:"win_rate"` // share of predicted longs that went up
	LogLoss     float64   `json:"log_loss"`
	Confusion   [2][2]int `json:"confusion"` // [actual][predicted]
}

// SignalModel is a boosted-tree up/down classifier over a fixed feature schema.
type SignalModel struct {
	params        Params
	booster       *booster
	columns       []string
	schemaVersion int
	importance    map[string]float64
	metrics       TrainingMetrics
	trainedAt     time.Time
	topN          int
	logger        zerolog.Logger
}

// Option configures a SignalModel
type Option func(*SignalModel)

// WithLogger sets the logger
func WithLogger(l zerolog.Logger) Option {
	return func(m *SignalModel) { m.logger = l }
}

// WithTopFeatures sets how many ranked features a signal carries.
func WithTopFeatures(n int) Option {
	return func(m *SignalModel) { m.topN = n }
}

// NewSignalModel creates an untrained model
func NewSignalModel(params Params, opts ...Option) *SignalModel {
	m := &SignalModel{
		params: params,
		topN:   DefaultTopFeatures,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// IsTrained reports whether Train has completed
func (m *SignalModel) IsTrained() bool {
	return m.booster != nil
}

// Columns returns the training schema
func (m *SignalModel) Columns() []string {
	return append([]string(nil), m.columns...)
}

// Metrics returns the metrics of the last training run
func (m *SignalModel) Metrics() TrainingMetrics {
	return m.metrics
}

// TrainedAt returns the completion time of training
func (m *SignalModel) TrainedAt() time.Time {
	return m.trainedAt
}

// Train fits the model. The positive class is weighted by neg/pos of the
// training labels. A validation matrix enables early stopping.
func (m *SignalModel) Train(train features.Matrix, val *features.Matrix) (TrainingMetrics, error) {
	if err := m.validateParams(); err != nil {
		return TrainingMetrics{}, err
	}
	if err := validateMatrix(train, "Train"); err != nil {
		return TrainingMetrics{}, err
	}
	if train.Len() == 0 {
		return TrainingMetrics{}, engineerrors.NewInsufficientData(component, "Train", 0, 1)
	}

	var valX [][]float64
	var valY []int
	if val != nil && val.Len() > 0 {
		if err := validateMatrix(*val, "Train"); err != nil {
			return TrainingMetrics{}, err
		}
		if missing := missingColumns(train.Columns, val.Columns); len(missing) > 0 || len(val.Columns) != len(train.Columns) {
			return TrainingMetrics{}, engineerrors.NewSchemaMismatch(component, "Train", missing).
				WithContext("train_columns", len(train.Columns)).
				WithContext("val_columns", len(val.Columns))
		}
		valX = reorder(*val, train.Columns)
		valY = val.Y
	}

	pos, neg := train.LabelBalance()
	posWeight := 1.0
	if pos > 0 && neg > 0 {
		posWeight = float64(neg) / float64(pos)
	}

	res := fit(m.params, train.X, train.Y, posWeight, valX, valY)

	m.booster = res.booster
	m.columns = append([]string(nil), train.Columns...)
	m.schemaVersion = features.SchemaVersion
	m.importance = normalise(train.Columns, res.gains)
	m.trainedAt = time.Now().UTC()
	m.metrics = TrainingMetrics{
		TrainSamples:   train.Len(),
		ValSamples:     len(valY),
		PositiveWeight: posWeight,
		Rounds:         res.bestIteration,
		TrainLogLoss:   res.trainLoss,
		ValLogLoss:     res.valLoss,
		TrainAccuracy:  accuracy(m.booster, train.X, train.Y),
	}
	if len(valY) > 0 {
		m.metrics.ValAccuracy = accuracy(m.booster, valX, valY)
	}

	m.logger.Info().
		Int("samples", train.Len()).
		Int("val_samples", len(valY)).
		Int("rounds", res.bestIteration).
		Float64("pos_weight", posWeight).
		Float64("train_logloss", res.trainLoss).
		Msg("signal model trained")
	return m.metrics, nil
}

// PredictProbability returns the probability that the next move is up. values
// must contain every training column; extra keys are ignored.
func (m *SignalModel) PredictProbability(values map[string]float64) (float64, error) {
	x, err := m.vector(values, "PredictProbability")
	if err != nil {
		return 0, err
	}
	return m.booster.predict(x), nil
}

// GenerateSignal maps the row's probability to BUY/SELL/HOLD.
func (m *SignalModel) GenerateSignal(row features.Row, threshold, minProbability float64) (TradingSignal, error) {
	if threshold < 0 || threshold > 1 || math.IsNaN(threshold) {
		return TradingSignal{}, engineerrors.NewInvalidParameter(component, "GenerateSignal", "confidence threshold %v outside [0,1]", threshold)
	}
	if minProbability < 0 || minProbability > 1 || math.IsNaN(minProbability) {
		return TradingSignal{}, engineerrors.NewInvalidProbability(component, "GenerateSignal", "min probability %v outside [0,1]", minProbability)
	}
	p, err := m.PredictProbability(row.Values)
	if err != nil {
		return TradingSignal{}, err
	}
	direction, confidence := classify(p, threshold, minProbability)
	return TradingSignal{
		Direction:   direction,
		Confidence:  confidence,
		Probability: p,
		Timestamp:   row.Timestamp,
		TopFeatures: m.TopFeatures(m.topN),
	}, nil
}

// Evaluate scores the model on a labelled matrix.
func (m *SignalModel) Evaluate(data features.Matrix) (Evaluation, error) {
	if !m.IsTrained() {
		return Evaluation{}, engineerrors.NewUntrainedModel(component, "Evaluate")
	}
	if err := validateMatrix(data, "Evaluate"); err != nil {
		return Evaluation{}, err
	}
	if missing := missingColumns(m.columns, data.Columns); len(missing) > 0 {
		return Evaluation{}, engineerrors.NewSchemaMismatch(component, "Evaluate", missing)
	}
	if data.Len() == 0 {
		return Evaluation{}, engineerrors.NewInsufficientData(component, "Evaluate", 0, 1)
	}

	x := reorder(data, m.columns)
	ev := Evaluation{Samples: data.Len(), LogLoss: logLoss(m.booster, x, data.Y)}
	for i, row := range x {
		pred := 0
		if m.booster.predict(row) > 0.5 {
			pred = 1
		}
		ev.Confusion[data.Y[i]][pred]++
	}
	tn, fp := ev.Confusion[0][0], ev.Confusion[0][1]
	fn, tp := ev.Confusion[1][0], ev.Confusion[1][1]
	ev.Accuracy = ratio(tp+tn, ev.Samples)
	ev.Precision = ratio(tp, tp+fp)
	ev.Recall = ratio(tp, tp+fn)
	ev.Specificity = ratio(tn, tn+fp)
	ev.WinRate = ev.Precision
	return ev, nil
}

// FeatureImportance returns gain importance normalised to sum to 1.
func (m *SignalModel) FeatureImportance() map[string]float64 {
	out := make(map[string]float64, len(m.importance))
	for k, v := range m.importance {
		out[k] = v
	}
	return out
}

// TopFeatures returns the n most important features, ties broken by name.
func (m *SignalModel) TopFeatures(n int) []FeatureScore {
	scores := make([]FeatureScore, 0, len(m.importance))
	for name, s := range m.importance {
		if s > 0 {
			scores = append(scores, FeatureScore{Name: name, Score: s})
		}
	}
	sort.Slice(scores, func(i, j int) bool {
		if scores[i].Score != scores[j].Score {
			return scores[i].Score > scores[j].Score
		}
		return scores[i].Name < scores[j].Name
	})
	if n >= 0 && len(scores) > n {
		scores = scores[:n]
	}
	return scores
}

func (m *SignalModel) vector(values map[string]float64, op string) ([]float64, error) {
	if !m.IsTrained() {
		return nil, engineerrors.NewUntrainedModel(component, op)
	}
	x := make([]float64, len(m.columns))
	var missing []string
	for j, col := range m.columns {
		v, ok := values[col]
		if !ok {
			missing = append(missing, col)
			continue
		}
		x[j] = v
	}
	if len(missing) > 0 {
		return nil, engineerrors.NewSchemaMismatch(component, op, missing)
	}
	return x, nil
}

func (m *SignalModel) validateParams() error {
	p := m.params
	switch {
	case p.Rounds < 1:
		return engineerrors.NewInvalidParameter(component, "Train", "rounds must be >= 1")
	case p.LearningRate <= 0 || p.LearningRate > 1:
		return engineerrors.NewInvalidParameter(component, "Train", "learning rate must be in (0,1]")
	case p.MaxDepth < 1:
		return engineerrors.NewInvalidParameter(component, "Train", "max depth must be >= 1")
	case p.MinSamplesLeaf < 1:
		return engineerrors.NewInvalidParameter(component, "Train", "min samples per leaf must be >= 1")
	case p.Lambda < 0:
		return engineerrors.NewInvalidParameter(component, "Train", "lambda must be >= 0")
	case p.Bins < 2:
		return engineerrors.NewInvalidParameter(component, "Train", "bins must be >= 2")
	}
	return nil
}

func validateMatrix(data features.Matrix, op string) error {
	if len(data.X) != len(data.Y) {
		return engineerrors.NewInvalidParameter(component, op, "%d rows but %d labels", len(data.X), len(data.Y))
	}
	for i, row := range data.X {
		if len(row) != len(data.Columns) {
			return engineerrors.NewInvalidParameter(component, op, "row %d has %d values for %d columns", i, len(row), len(data.Columns))
		}
		if y := data.Y[i]; y != 0 && y != 1 {
			return engineerrors.NewInvalidParameter(component, op, "label %d at row %d is not binary", y, i)
		}
	}
	return nil
}

func missingColumns(required, have []string) []string {
	set := make(map[string]struct{}, len(have))
	for _, c := range have {
		set[c] = struct{}{}
	}
	var missing []string
	for _, c := range required {
		if _, ok := set[c]; !ok {
			missing = append(missing, c)
		}
	}
	return missing
}

// reorder returns data.X with columns permuted into the given order.
func reorder(data features.Matrix, columns []string) [][]float64 {
	pos := make(map[string]int, len(data.Columns))
	for j, c := range data.Columns {
		pos[c] = j
	}
	out := make([][]float64, len(data.X))
	for i, row := range data.X {
		x := make([]float64, len(columns))
		for j, c := range columns {
			x[j] = row[pos[c]]
		}
		out[i] = x
	}
	return out
}

func normalise(columns []string, gains []float64) map[string]float64 {
	total := 0.0
	for _, g := range gains {
		total += g
	}
	out := make(map[string]float64, len(columns))
	for j, c := range columns {
		if total > 0 {
			out[c] = gains[j] / total
		} else {
			out[c] = 0
		}
	}
	return out
}

func accuracy(b *booster, x [][]float64, y []int) float64 {
	correct := 0
	for i, row := range x {
		pred := 0
		if b.predict(row) > 0.5 {
			pred = 1
		}
		if pred == y[i] {
			correct++
		}
	}
	return ratio(correct, len(y))
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

func (m *SignalModel) String() string {
	if !m.IsTrained() {
		return "SignalModel(untrained)"
	}
	return fmt.Sprintf("SignalModel(features=%d, trees=%d)", len(m.columns), len(m.booster.Trees))
}

// SchemaVersion returns the feature schema version the model was trained on
func (m *SignalModel) SchemaVersion() int {
	return m.schemaVersion
}
