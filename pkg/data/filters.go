package data

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ducminhle1904/crypto-risk-engine/pkg/types"
)

// FilterByPeriod keeps the trailing period of data, measured from the last bar
func FilterByPeriod(data types.Series, period time.Duration) types.Series {
	if period <= 0 || len(data) == 0 {
		return data
	}

	cutoff := data[len(data)-1].Timestamp.Add(-period)
	start := sort.Search(len(data), func(i int) bool {
		return !data[i].Timestamp.Before(cutoff)
	})
	return data[start:]
}

// FilterByDateRange keeps bars within [start, end]. A zero bound is open.
func FilterByDateRange(data types.Series, start, end time.Time) types.Series {
	var filtered types.Series
	for _, bar := range data {
		if !start.IsZero() && bar.Timestamp.Before(start) {
			continue
		}
		if !end.IsZero() && bar.Timestamp.After(end) {
			continue
		}
		filtered = append(filtered, bar)
	}
	return filtered
}

// Normalize sorts bars by timestamp and drops duplicate timestamps, keeping
// the first occurrence.
func Normalize(data types.Series) types.Series {
	if len(data) <= 1 {
		return data
	}

	sorted := make(types.Series, len(data))
	copy(sorted, data)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	out := sorted[:1]
	for _, bar := range sorted[1:] {
		if bar.Timestamp.Equal(out[len(out)-1].Timestamp) {
			continue
		}
		out = append(out, bar)
	}
	return out
}

// ParseTrailingPeriod parses period strings like "7d", "30d", "180days" or a
// Go duration such as "168h".
func ParseTrailingPeriod(s string) (time.Duration, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if strings.HasSuffix(s, "days") {
		s = strings.TrimSuffix(s, "days") + "d"
	}
	if strings.HasSuffix(s, "d") {
		n, err := strconv.Atoi(strings.TrimSuffix(s, "d"))
		if err != nil || n <= 0 {
			return 0, false
		}
		return time.Duration(n) * 24 * time.Hour, true
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d, true
	}
	return 0, false
}
