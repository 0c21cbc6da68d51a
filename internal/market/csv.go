package market

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// CSVStore reads the frozen per-symbol files <Dir>/<SYMBOL>.csv. Each file has
// a header with a date column and one of SYMBOL, "Adj Close", "Close" or a
// single value column.
type CSVStore struct {
	Dir string
}

// Read returns the symbol's full history. A missing file yields os.ErrNotExist.
func (s CSVStore) Read(symbol string) ([]Point, error) {
	f, err := os.Open(filepath.Join(s.Dir, symbol+".csv"))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("%s: read header: %w", symbol, err)
	}
	dateCol, valueCol := columns(header, symbol)
	if dateCol < 0 || valueCol < 0 {
		return nil, fmt.Errorf("%s: cannot interpret columns %v", symbol, header)
	}

	var pts []Point
	for line := 2; ; line++ {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", symbol, line, err)
		}
		field := strings.TrimSpace(rec[dateCol])
		if len(field) > 10 {
			field = field[:10]
		}
		d, err := time.Parse("2006-01-02", field)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: bad date %q", symbol, line, rec[dateCol])
		}
		raw := strings.TrimSpace(rec[valueCol])
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: bad close %q", symbol, line, raw)
		}
		pts = append(pts, Point{Date: d, Close: v})
	}
	sort.Slice(pts, func(i, j int) bool { return pts[i].Date.Before(pts[j].Date) })
	return pts, nil
}

// Write stores pts as <Dir>/<symbol>.csv with a date,close header.
func (s CSVStore) Write(symbol string, pts []Point) error {
	if err := os.MkdirAll(s.Dir, 0755); err != nil {
		return err
	}
	f, err := os.Create(filepath.Join(s.Dir, symbol+".csv"))
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	_ = w.Write([]string{"date", "close"})
	for _, p := range pts {
		_ = w.Write([]string{p.Date.Format("2006-01-02"), strconv.FormatFloat(p.Close, 'f', -1, 64)})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func columns(header []string, symbol string) (int, int) {
	dateCol, valueCol := -1, -1
	prefs := map[string]int{strings.ToLower(symbol): 0, "adj close": 1, "adj_close": 1, "close": 2}
	best := len(prefs) + 1
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(h))
		if key == "date" || key == "timestamp" {
			dateCol = i
			continue
		}
		if rank, ok := prefs[key]; ok && rank < best {
			best, valueCol = rank, i
		}
	}
	if valueCol < 0 && len(header) == 2 && dateCol >= 0 {
		valueCol = 1 - dateCol
	}
	return dateCol, valueCol
}
