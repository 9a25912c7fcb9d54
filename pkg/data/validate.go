package data

import (
	engineerrors "github.com/ducminhle1904/crypto-risk-engine/internal/errors"
	"github.com/ducminhle1904/crypto-risk-engine/pkg/types"
)

// ValidateSeries checks that series is non-empty, strictly increasing in time
// and carries positive prices with high >= low.
func ValidateSeries(series types.Series) error {
	if len(series) == 0 {
		return engineerrors.NewInvalidParameter(component, "ValidateSeries", "series is empty")
	}
	if err := series.Validate(); err != nil {
		return engineerrors.NewInvalidParameter(component, "ValidateSeries", "%v", err)
	}
	return nil
}
