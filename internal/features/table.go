package features

import (
	"math"
	"time"
)

// Row is one timestamped feature vector with an optional binary label.
type Row struct {
	Timestamp time.Time          `json:"timestamp"`
	Values    map[string]float64 `json:"values"`
	Label     int                `json:"label"`
	HasLabel  bool               `json:"has_label"`
}

// Table is an ordered feature table aligned with the tail of a price series.
type Table struct {
	SchemaVersion int      `json:"schema_version"`
	Columns       []string `json:"columns"`
	Rows          []Row    `json:"rows"`
}

// Len returns the number of rows
func (t *Table) Len() int {
	return len(t.Rows)
}

// Slice returns a table sharing rows [from, to).
func (t *Table) Slice(from, to int) *Table {
	return &Table{
		SchemaVersion: t.SchemaVersion,
		Columns:       t.Columns,
		Rows:          t.Rows[from:to],
	}
}

// Matrix is a dense, column-ordered view of the labelled rows of a table.
type Matrix struct {
	Columns    []string
	X          [][]float64
	Y          []int
	Timestamps []time.Time
}

// Len returns the number of samples
func (m Matrix) Len() int {
	return len(m.X)
}

// Matrix converts labelled rows to a dense matrix in column order.
func (t *Table) Matrix() Matrix {
	m := Matrix{Columns: append([]string(nil), t.Columns...)}
	for _, row := range t.Rows {
		if !row.HasLabel {
			continue
		}
		x := make([]float64, len(t.Columns))
		for j, col := range t.Columns {
			x[j] = row.Values[col]
		}
		m.X = append(m.X, x)
		m.Y = append(m.Y, row.Label)
		m.Timestamps = append(m.Timestamps, row.Timestamp)
	}
	return m
}

// LabelBalance returns the number of positive and negative labels.
func (m Matrix) LabelBalance() (pos, neg int) {
	for _, y := range m.Y {
		if y == 1 {
			pos++
		} else {
			neg++
		}
	}
	return pos, neg
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
