package validation

import (
	"time"

	engineerrors "github.com/ducminhle1904/crypto-risk-engine/internal/errors"
	"github.com/ducminhle1904/crypto-risk-engine/internal/features"
	"github.com/ducminhle1904/crypto-risk-engine/pkg/types"
)

const component = "validation"

// Fold is one chronological train/test window over a feature table.
type Fold struct {
	Train      *features.Table
	Test       *features.Table
	TrainStart time.Time
	TrainEnd   time.Time
	TestStart  time.Time
	TestEnd    time.Time
}

// SplitByRatio splits a table chronologically: the first ratio share of rows
// trains, the remainder tests. Rows are never shuffled.
func SplitByRatio(table *features.Table, ratio float64) (*features.Table, *features.Table, error) {
	if ratio <= 0 || ratio >= 1 {
		return nil, nil, engineerrors.NewInvalidParameter(component, "SplitByRatio", "ratio %v outside (0,1)", ratio)
	}
	n := int(float64(table.Len()) * ratio)
	if n < 1 || n >= table.Len() {
		return nil, nil, engineerrors.NewInsufficientData(component, "SplitByRatio", table.Len(), 2)
	}
	return table.Slice(0, n), table.Slice(n, table.Len()), nil
}

// SplitSeries splits a price series by ratio. An unusable ratio returns the
// whole series as the first part.
func SplitSeries(data types.Series, ratio float64) (types.Series, types.Series) {
	if ratio <= 0 || ratio >= 1 {
		return data, nil
	}
	n := int(float64(len(data)) * ratio)
	if n < 1 || n >= len(data) {
		return data, nil
	}
	return data[:n], data[n:]
}

// CreateRollingFolds slides a trainRows+testRows window over the table,
// advancing by step rows, until the test window would run past the end.
func CreateRollingFolds(table *features.Table, trainRows, testRows, step int) ([]Fold, error) {
	const op = "CreateRollingFolds"
	if trainRows < 1 || testRows < 1 || step < 1 {
		return nil, engineerrors.NewInvalidParameter(component, op,
			"train %d, test %d and step %d must all be >= 1", trainRows, testRows, step)
	}
	if table.Len() < trainRows+testRows {
		return nil, engineerrors.NewInsufficientData(component, op, table.Len(), trainRows+testRows)
	}

	var folds []Fold
	for start := 0; start+trainRows+testRows <= table.Len(); start += step {
		trainEnd := start + trainRows
		testEnd := trainEnd + testRows
		folds = append(folds, Fold{
			Train:      table.Slice(start, trainEnd),
			Test:       table.Slice(trainEnd, testEnd),
			TrainStart: table.Rows[start].Timestamp,
			TrainEnd:   table.Rows[trainEnd-1].Timestamp,
			TestStart:  table.Rows[trainEnd].Timestamp,
			TestEnd:    table.Rows[testEnd-1].Timestamp,
		})
	}
	return folds, nil
}

// RollingFoldsByCount sizes folds so that n non-overlapping test windows
// follow an initial training window of trainRatio of the table.
func RollingFoldsByCount(table *features.Table, n int, trainRatio float64) ([]Fold, error) {
	if n < 1 || trainRatio <= 0 || trainRatio >= 1 {
		return nil, engineerrors.NewInvalidParameter(component, "RollingFoldsByCount", "need n >= 1 and train ratio in (0,1)")
	}
	trainRows := int(float64(table.Len()) * trainRatio)
	testRows := (table.Len() - trainRows) / n
	return CreateRollingFolds(table, trainRows, testRows, max(testRows, 1))
}
