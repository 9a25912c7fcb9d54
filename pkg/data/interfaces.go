package data

import (
	"context"
	"time"

	"github.com/ducminhle1904/crypto-risk-engine/pkg/types"
)

const component = "data"

// DataProvider loads a historical price series from a source
type DataProvider interface {
	// LoadData loads the series identified by source
	LoadData(source string) (types.Series, error)

	// GetName returns the name of the data provider
	GetName() string
}

// KlineProvider downloads bars from an exchange
type KlineProvider interface {
	LoadKlines(ctx context.Context, symbol, interval string, start, end time.Time) (types.Series, error)
}

// DataCache caches loaded series by source key
type DataCache interface {
	Get(key string) (types.Series, bool)
	Set(key string, data types.Series)
	Clear()
	Size() int
}

// CSVColumnMapping defines the column positions of a CSV format
type CSVColumnMapping struct {
	TimestampCol int
	OpenCol      int
	HighCol      int
	LowCol       int
	CloseCol     int
	VolumeCol    int
	MinColumns   int
	DateFormat   string
}

// DefaultCSVFormat is timestamp,open,high,low,close,volume with a header row.
var DefaultCSVFormat = CSVColumnMapping{
	TimestampCol: 0,
	OpenCol:      1,
	HighCol:      2,
	LowCol:       3,
	CloseCol:     4,
	VolumeCol:    5,
	MinColumns:   6,
	DateFormat:   "2006-01-02 15:04:05",
}
