package reporting

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	engineerrors "github.com/ducminhle1904/crypto-risk-engine/internal/errors"
)

// WriteJSON writes v as indented JSON.
func WriteJSON(v interface{}, path string) error {
	const op = "WriteJSON"
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return engineerrors.New(engineerrors.ErrorCategoryInternal, nil, component, op, "marshal failed").Wrap(err)
	}
	if err := ensureDir(path); err != nil {
		return engineerrors.NewStorageError(component, op, err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return engineerrors.NewStorageError(component, op, err).WithContext("path", path)
	}
	return nil
}

// ExtractIntervalFromPath finds the interval segment of a data file path.
// Example: "data/bybit/linear/BTCUSDT/5m/candles.csv" -> "5m"
func ExtractIntervalFromPath(dataPath string) string {
	if dataPath == "" {
		return ""
	}
	parts := strings.Split(filepath.ToSlash(dataPath), "/")
	for i := len(parts) - 1; i >= 0; i-- {
		part := parts[i]
		if len(part) < 2 {
			continue
		}
		switch part[len(part)-1] {
		case 'm', 'h', 'd', 'w':
			if _, err := strconv.Atoi(part[:len(part)-1]); err == nil {
				return part
			}
		}
		if _, err := strconv.Atoi(part); err == nil && i == len(parts)-2 {
			return part
		}
	}
	return ""
}
