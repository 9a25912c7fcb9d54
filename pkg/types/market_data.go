package types

import (
	"fmt"
	"time"
)

// OHLCV is a single bar of market data.
type OHLCV struct {
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	Timestamp time.Time `json:"timestamp"`
}

// Series is an ordered sequence of bars with strictly increasing timestamps.
type Series []OHLCV

// Closes returns the close prices of the series.
func (s Series) Closes() []float64 {
	out := make([]float64, len(s))
	for i, bar := range s {
		out[i] = bar.Close
	}
	return out
}

// Highs returns the high prices of the series.
func (s Series) Highs() []float64 {
	out := make([]float64, len(s))
	for i, bar := range s {
		out[i] = bar.High
	}
	return out
}

// Lows returns the low prices of the series.
func (s Series) Lows() []float64 {
	out := make([]float64, len(s))
	for i, bar := range s {
		out[i] = bar.Low
	}
	return out
}

// Volumes returns the traded volumes of the series.
func (s Series) Volumes() []float64 {
	out := make([]float64, len(s))
	for i, bar := range s {
		out[i] = bar.Volume
	}
	return out
}

// HasVolume reports whether any bar carries non-zero volume.
func (s Series) HasVolume() bool {
	for _, bar := range s {
		if bar.Volume != 0 {
			return true
		}
	}
	return false
}

// Index returns the position of the bar with the given timestamp.
func (s Series) Index(ts time.Time) (int, bool) {
	lo, hi := 0, len(s)
	for lo < hi {
		mid := (lo + hi) / 2
		if s[mid].Timestamp.Before(ts) {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < len(s) && s[lo].Timestamp.Equal(ts) {
		return lo, true
	}
	return -1, false
}

// Validate checks ordering and price sanity of every bar.
func (s Series) Validate() error {
	for i, bar := range s {
		if bar.Open <= 0 || bar.High <= 0 || bar.Low <= 0 || bar.Close <= 0 {
			return fmt.Errorf("bar %d: prices must be positive", i)
		}
		if bar.High < bar.Low {
			return fmt.Errorf("bar %d: high %.8f below low %.8f", i, bar.High, bar.Low)
		}
		if bar.Volume < 0 {
			return fmt.Errorf("bar %d: negative volume", i)
		}
		if i > 0 && !bar.Timestamp.After(s[i-1].Timestamp) {
			return fmt.Errorf("bar %d: timestamp %s not after %s", i,
				bar.Timestamp.Format(time.RFC3339), s[i-1].Timestamp.Format(time.RFC3339))
		}
	}
	return nil
}
