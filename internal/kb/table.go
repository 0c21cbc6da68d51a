// Package kb is the vetted helper library available to generated strategies.
// Everything exported here is visible to candidates through the interpreter,
// so the API stays small, allocation-friendly and free of side effects.
package kb

import (
	"math"
	"sort"
	"time"
)

// PriceTable is a dense close-price panel: one row per date, one column per symbol.
// Missing observations are NaN.
type PriceTable struct {
	Dates   []time.Time
	Symbols []string
	Closes  [][]float64 // [row][column]
}

// NewPriceTable allocates a NaN-filled table for the given axes.
func NewPriceTable(dates []time.Time, symbols []string) *PriceTable {
	closes := make([][]float64, len(dates))
	for i := range closes {
		row := make([]float64, len(symbols))
		for j := range row {
			row[j] = math.NaN()
		}
		closes[i] = row
	}
	return &PriceTable{Dates: dates, Symbols: symbols, Closes: closes}
}

// Len returns the number of rows.
func (t *PriceTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Dates)
}

// Width returns the number of columns.
func (t *PriceTable) Width() int {
	if t == nil {
		return 0
	}
	return len(t.Symbols)
}

// Index returns the column index of symbol, or -1.
func (t *PriceTable) Index(symbol string) int {
	for i, s := range t.Symbols {
		if s == symbol {
			return i
		}
	}
	return -1
}

// Column returns a copy of one symbol's closes, or nil if the symbol is absent.
func (t *PriceTable) Column(symbol string) []float64 {
	j := t.Index(symbol)
	if j < 0 {
		return nil
	}
	out := make([]float64, t.Len())
	for i, row := range t.Closes {
		out[i] = row[j]
	}
	return out
}

// Empty reports whether the table has no rows or no finite observation at all.
func (t *PriceTable) Empty() bool {
	if t.Len() == 0 || t.Width() == 0 {
		return true
	}
	for _, row := range t.Closes {
		for _, v := range row {
			if !math.IsNaN(v) {
				return false
			}
		}
	}
	return true
}

// Slice returns the rows with start <= date <= end. Rows where every close is
// missing are dropped.
func (t *PriceTable) Slice(start, end time.Time) *PriceTable {
	out := &PriceTable{Symbols: append([]string(nil), t.Symbols...)}
	for i, d := range t.Dates {
		if d.Before(start) || d.After(end) {
			continue
		}
		if allNaN(t.Closes[i]) {
			continue
		}
		out.Dates = append(out.Dates, d)
		out.Closes = append(out.Closes, append([]float64(nil), t.Closes[i]...))
	}
	return out
}

// Select returns the requested columns in the requested order. Unknown symbols
// become all-NaN columns so callers can detect them with Empty/Column.
func (t *PriceTable) Select(symbols []string) *PriceTable {
	out := NewPriceTable(append([]time.Time(nil), t.Dates...), append([]string(nil), symbols...))
	for j, s := range symbols {
		src := t.Index(s)
		if src < 0 {
			continue
		}
		for i := range t.Closes {
			out.Closes[i][j] = t.Closes[i][src]
		}
	}
	return out
}

// FillForward carries the last finite close forward in every column.
func (t *PriceTable) FillForward() *PriceTable {
	out := NewPriceTable(append([]time.Time(nil), t.Dates...), append([]string(nil), t.Symbols...))
	for j := range t.Symbols {
		last := math.NaN()
		for i := range t.Closes {
			v := t.Closes[i][j]
			if !math.IsNaN(v) {
				last = v
			}
			out.Closes[i][j] = last
		}
	}
	return out
}

// Merge unions two tables on dates and symbols. Values from t win on overlap.
func (t *PriceTable) Merge(other *PriceTable) *PriceTable {
	if other == nil || other.Len() == 0 {
		return t
	}
	if t == nil || t.Len() == 0 {
		return other
	}

	seenDates := make(map[int64]time.Time)
	for _, d := range t.Dates {
		seenDates[d.Unix()] = d
	}
	for _, d := range other.Dates {
		seenDates[d.Unix()] = d
	}
	dates := make([]time.Time, 0, len(seenDates))
	for _, d := range seenDates {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	symbols := append([]string(nil), t.Symbols...)
	for _, s := range other.Symbols {
		if t.Index(s) < 0 {
			symbols = append(symbols, s)
		}
	}

	rowOf := make(map[int64]int, len(dates))
	for i, d := range dates {
		rowOf[d.Unix()] = i
	}
	out := NewPriceTable(dates, symbols)
	for _, src := range []*PriceTable{other, t} {
		for i, d := range src.Dates {
			r := rowOf[d.Unix()]
			for j, s := range src.Symbols {
				v := src.Closes[i][j]
				if math.IsNaN(v) {
					continue
				}
				out.Closes[r][out.Index(s)] = v
			}
		}
	}
	return out
}

func allNaN(row []float64) bool {
	for _, v := range row {
		if !math.IsNaN(v) {
			return false
		}
	}
	return true
}

// Series is a date-indexed scalar series.
type Series struct {
	Dates  []time.Time
	Values []float64
}

// NewSeries pairs dates with values. The slices must have equal length.
func NewSeries(dates []time.Time, values []float64) Series {
	return Series{Dates: dates, Values: values}
}

// Len returns the number of observations.
func (s Series) Len() int { return len(s.Values) }

// Between returns the observations with start <= date <= end.
func (s Series) Between(start, end time.Time) Series {
	var out Series
	for i, d := range s.Dates {
		if d.Before(start) || d.After(end) {
			continue
		}
		out.Dates = append(out.Dates, d)
		out.Values = append(out.Values, s.Values[i])
	}
	return out
}

// FillNaN replaces NaN values with v.
func (s Series) FillNaN(v float64) Series {
	out := Series{Dates: s.Dates, Values: make([]float64, len(s.Values))}
	for i, x := range s.Values {
		if math.IsNaN(x) {
			x = v
		}
		out.Values[i] = x
	}
	return out
}
