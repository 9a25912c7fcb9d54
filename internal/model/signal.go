package model

import (
	"math"
	"time"
)

// Direction is the action recommended by a signal
type Direction string

const (
	DirectionBuy  Direction = "BUY"
	DirectionSell Direction = "SELL"
	DirectionHold Direction = "HOLD"
)

// FeatureScore is a feature name with its normalised importance.
type FeatureScore struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

// TradingSignal is the model's recommendation for one feature row.
type TradingSignal struct {
	Direction   Direction      `json:"direction"`
	Confidence  float64        `json:"confidence"`
	Probability float64        `json:"probability"`
	Timestamp   time.Time      `json:"timestamp"`
	TopFeatures []FeatureScore `json:"top_features,omitempty"`
}

// classify maps an up-probability to a direction and confidence.
//
// BUY when p > (1+threshold)/2, SELL when p < (1-threshold)/2. A probability
// closer to 0.5 than minProbability is always HOLD.
func classify(p, threshold, minProbability float64) (Direction, float64) {
	confidence := math.Abs(p-0.5) * 2
	if math.Abs(p-0.5) < math.Abs(minProbability-0.5) {
		return DirectionHold, confidence
	}
	switch {
	case p > (1+threshold)/2:
		return DirectionBuy, confidence
	case p < (1-threshold)/2:
		return DirectionSell, confidence
	default:
		return DirectionHold, confidence
	}
}
