package model

import (
	"encoding/json"
	"fmt"
	"time"

	engineerrors "github.com/ducminhle1904/crypto-risk-engine/internal/errors"
)

// Artifact is the serialisable state of a trained SignalModel.
type Artifact struct {
	SchemaVersion int                `json:"schema_version"`
	Columns       []string           `json:"columns"`
	Params        Params             `json:"params"`
	Booster       json.RawMessage    `json:"booster"`
	Importance    map[string]float64 `json:"importance"`
	Metrics       TrainingMetrics    `json:"metrics"`
	TrainedAt     time.Time          `json:"trained_at"`
}

// Artifact snapshots the trained model.
func (m *SignalModel) Artifact() (*Artifact, error) {
	if !m.IsTrained() {
		return nil, engineerrors.NewUntrainedModel(component, "Artifact")
	}
	raw, err := json.Marshal(m.booster)
	if err != nil {
		return nil, fmt.Errorf("marshal booster: %w", err)
	}
	return &Artifact{
		SchemaVersion: m.schemaVersion,
		Columns:       m.Columns(),
		Params:        m.params,
		Booster:       raw,
		Importance:    m.FeatureImportance(),
		Metrics:       m.metrics,
		TrainedAt:     m.trainedAt,
	}, nil
}

// FromArtifact restores a trained model.
func FromArtifact(a *Artifact, opts ...Option) (*SignalModel, error) {
	if a == nil || len(a.Booster) == 0 {
		return nil, engineerrors.NewInvalidParameter(component, "FromArtifact", "empty artifact")
	}
	var b booster
	if err := json.Unmarshal(a.Booster, &b); err != nil {
		return nil, fmt.Errorf("unmarshal booster: %w", err)
	}
	if b.NumFeatures != len(a.Columns) {
		return nil, engineerrors.NewInvalidParameter(component, "FromArtifact",
			"booster expects %d features, artifact lists %d", b.NumFeatures, len(a.Columns))
	}
	m := NewSignalModel(a.Params, opts...)
	m.booster = &b
	m.columns = append([]string(nil), a.Columns...)
	m.schemaVersion = a.SchemaVersion
	m.importance = a.Importance
	if m.importance == nil {
		m.importance = map[string]float64{}
	}
	m.metrics = a.Metrics
	m.trainedAt = a.TrainedAt
	return m, nil
}
