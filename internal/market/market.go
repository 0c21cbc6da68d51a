// Package market loads close-price windows for a symbol universe from local
// CSV files, a SQLite cache and Alpha Vantage, in that order.
package market

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"backforge/internal/kb"
)

// Source is the data-access collaborator used by the executor.
type Source interface {
	FetchWindow(ctx context.Context, symbols []string, start, end time.Time) (*kb.PriceTable, error)
}

// Point is one dated close.
type Point struct {
	Date  time.Time
	Close float64
}

// DataUnavailableError is returned when no rows exist for the requested window.
type DataUnavailableError struct {
	Symbols []string
	Start   time.Time
	End     time.Time
}

func (e *DataUnavailableError) Error() string {
	return fmt.Sprintf("no price data for %s in %s..%s",
		strings.Join(e.Symbols, ","), e.Start.Format("2006-01-02"), e.End.Format("2006-01-02"))
}

// buildTable assembles per-symbol series into a dense table whose dates are
// the union across symbols and whose columns follow symbols.
func buildTable(symbols []string, series map[string][]Point) *kb.PriceTable {
	seen := map[int64]time.Time{}
	for _, pts := range series {
		for _, p := range pts {
			seen[p.Date.Unix()] = p.Date
		}
	}
	dates := make([]time.Time, 0, len(seen))
	for _, d := range seen {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	row := make(map[int64]int, len(dates))
	for i, d := range dates {
		row[d.Unix()] = i
	}

	t := kb.NewPriceTable(dates, append([]string(nil), symbols...))
	for j, sym := range symbols {
		for _, p := range series[sym] {
			t.Closes[row[p.Date.Unix()]][j] = p.Close
		}
	}
	return t
}

func window(pts []Point, start, end time.Time) []Point {
	var out []Point
	for _, p := range pts {
		if p.Date.Before(start) || p.Date.After(end) {
			continue
		}
		out = append(out, p)
	}
	return out
}

func normalize(symbols []string) []string {
	out := make([]string, len(symbols))
	for i, s := range symbols {
		out[i] = strings.ToUpper(strings.TrimSpace(s))
	}
	return out
}

func day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
