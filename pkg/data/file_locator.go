package data

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ConvertIntervalToMinutes converts interval strings like "5m", "1h", "4h" to
// the bybit kline interval ("5", "60", "240"). Daily and longer map to "D",
// "W" and "M". Anything unrecognised is returned unchanged.
func ConvertIntervalToMinutes(interval string) string {
	if _, err := strconv.Atoi(interval); err == nil {
		return interval
	}

	interval = strings.ToLower(strings.TrimSpace(interval))
	switch interval {
	case "1d", "d":
		return "D"
	case "1w", "w":
		return "W"
	case "1mo", "1mth", "m":
		return "M"
	}
	if len(interval) < 2 {
		return interval
	}

	num, err := strconv.Atoi(interval[:len(interval)-1])
	if err != nil {
		return interval
	}
	switch interval[len(interval)-1:] {
	case "m":
		return strconv.Itoa(num)
	case "h":
		return strconv.Itoa(num * 60)
	default:
		return interval
	}
}

// DataFilePath returns the canonical location of a downloaded series:
// {root}/{exchange}/{category}/{SYMBOL}/{interval}/candles.csv
func DataFilePath(root, exchange, category, symbol, interval string) string {
	return filepath.Join(root, strings.ToLower(exchange), category, strings.ToUpper(symbol),
		ConvertIntervalToMinutes(interval), "candles.csv")
}

// FindDataFile searches the known categories for a downloaded series and
// returns "" when none exists.
func FindDataFile(root, exchange, symbol, interval string) string {
	var categories []string
	switch strings.ToLower(exchange) {
	case "bybit":
		categories = []string{"spot", "linear", "inverse"}
	default:
		categories = []string{"spot", "futures", "linear", "inverse"}
	}

	for _, category := range categories {
		path := DataFilePath(root, exchange, category, symbol, interval)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}
