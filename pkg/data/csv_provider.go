package data

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	engineerrors "github.com/ducminhle1904/crypto-risk-engine/internal/errors"
	"github.com/ducminhle1904/crypto-risk-engine/pkg/types"
)

// CSVProvider implements DataProvider for CSV files
type CSVProvider struct {
	format CSVColumnMapping
	logger zerolog.Logger
}

// CSVOption configures a CSVProvider
type CSVOption func(*CSVProvider)

// WithFormat sets the column mapping
func WithFormat(format CSVColumnMapping) CSVOption {
	return func(p *CSVProvider) { p.format = format }
}

// WithLogger sets the logger used for skipped-row warnings
func WithLogger(l zerolog.Logger) CSVOption {
	return func(p *CSVProvider) { p.logger = l }
}

// NewCSVProvider creates a CSV data provider with the default format
func NewCSVProvider(opts ...CSVOption) *CSVProvider {
	p := &CSVProvider{
		format: DefaultCSVFormat,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// GetName returns the name of the data provider
func (p *CSVProvider) GetName() string {
	return "CSV Provider"
}

// LoadData loads historical data from a CSV file. Malformed rows are skipped
// with a warning.
func (p *CSVProvider) LoadData(source string) (types.Series, error) {
	file, err := os.Open(source)
	if err != nil {
		return nil, engineerrors.NewStorageError(component, "LoadData", err).WithContext("path", source)
	}
	defer file.Close()
	return p.Read(file)
}

// Read parses CSV bars from r.
func (p *CSVProvider) Read(r io.Reader) (types.Series, error) {
	format := p.format
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	// Skip header
	if _, err := reader.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, engineerrors.NewInsufficientData(component, "LoadData", 0, 1)
		}
		return nil, engineerrors.NewInvalidParameter(component, "LoadData", "read header: %v", err)
	}

	var data types.Series
	lineNum := 1
	for {
		record, err := reader.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, engineerrors.NewInvalidParameter(component, "LoadData", "line %d: %v", lineNum+1, err)
		}
		lineNum++

		if len(record) < format.MinColumns {
			p.logger.Warn().Int("line", lineNum).Int("columns", len(record)).Msg("Insufficient columns, skipping row")
			continue
		}

		timestamp, err := parseTimestamp(record[format.TimestampCol], format.DateFormat)
		if err != nil {
			p.logger.Warn().Int("line", lineNum).Str("value", record[format.TimestampCol]).Msg("Invalid timestamp, skipping row")
			continue
		}

		var values [5]float64
		cols := [5]int{format.OpenCol, format.HighCol, format.LowCol, format.CloseCol, format.VolumeCol}
		valid := true
		for i, col := range cols {
			v, err := strconv.ParseFloat(strings.TrimSpace(record[col]), 64)
			if err != nil {
				p.logger.Warn().Int("line", lineNum).Str("value", record[col]).Msg("Invalid number, skipping row")
				valid = false
				break
			}
			values[i] = v
		}
		if !valid {
			continue
		}
		bar := types.OHLCV{
			Timestamp: timestamp,
			Open:      values[0],
			High:      values[1],
			Low:       values[2],
			Close:     values[3],
			Volume:    values[4],
		}

		if bar.Open <= 0 || bar.High <= 0 || bar.Low <= 0 || bar.Close <= 0 {
			p.logger.Warn().Int("line", lineNum).Msg("Non-positive price, skipping row")
			continue
		}
		if bar.High < bar.Low || bar.High < bar.Open || bar.High < bar.Close || bar.Low > bar.Open || bar.Low > bar.Close {
			p.logger.Warn().Int("line", lineNum).Msg("Inconsistent high/low, skipping row")
			continue
		}

		data = append(data, bar)
	}

	return data, nil
}

// parseTimestamp accepts the configured layout, RFC3339, or unix time in
// seconds or milliseconds.
func parseTimestamp(s, layout string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(layout, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n > 1e11 {
			return time.UnixMilli(n).UTC(), nil
		}
		return time.Unix(n, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

// WriteCSV writes series in the default format, creating parent directories.
func WriteCSV(path string, series types.Series) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return engineerrors.NewStorageError(component, "WriteCSV", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return engineerrors.NewStorageError(component, "WriteCSV", err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if err := w.Write([]string{"timestamp", "open", "high", "low", "close", "volume"}); err != nil {
		return engineerrors.NewStorageError(component, "WriteCSV", err)
	}
	for _, bar := range series {
		record := []string{
			bar.Timestamp.UTC().Format(DefaultCSVFormat.DateFormat),
			formatFloat(bar.Open),
			formatFloat(bar.High),
			formatFloat(bar.Low),
			formatFloat(bar.Close),
			formatFloat(bar.Volume),
		}
		if err := w.Write(record); err != nil {
			return engineerrors.NewStorageError(component, "WriteCSV", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return engineerrors.NewStorageError(component, "WriteCSV", err)
	}
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
