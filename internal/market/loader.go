package market

import (
	"context"
	"errors"
	"io/fs"
	"time"

	"backforge/internal/kb"
	"backforge/internal/logging"
)

// Loader resolves each symbol from the CSV store, then the cache, then the
// remote fetcher. Remote rows are written back to the cache. Any layer may be
// nil.
type Loader struct {
	CSV    *CSVStore
	Cache  *Cache
	Remote Fetcher
}

// FetchWindow implements Source. Columns follow the requested symbol order;
// symbols with no data stay as NaN columns. An empty window is a
// *DataUnavailableError.
func (l *Loader) FetchWindow(ctx context.Context, symbols []string, start, end time.Time) (*kb.PriceTable, error) {
	syms := normalize(symbols)
	start, end = day(start), day(end)
	timer := logging.StartTimer(logging.CategoryData, "fetch window")
	defer timer.Stop()

	series := make(map[string][]Point, len(syms))
	for _, sym := range syms {
		pts, src, err := l.symbol(ctx, sym, start, end)
		if err != nil {
			return nil, err
		}
		if len(pts) == 0 {
			logging.DataWarn("no data for %s", sym)
			continue
		}
		logging.DataDebug("%s: %d rows from %s", sym, len(pts), src)
		series[sym] = pts
	}

	table := buildTable(syms, series).Slice(start, end)
	if table.Empty() {
		return nil, &DataUnavailableError{Symbols: syms, Start: start, End: end}
	}
	logging.Data("loaded %d rows x %d symbols (%s..%s)", table.Len(), table.Width(),
		start.Format("2006-01-02"), end.Format("2006-01-02"))
	return table, nil
}

func (l *Loader) symbol(ctx context.Context, sym string, start, end time.Time) ([]Point, string, error) {
	if l.CSV != nil {
		pts, err := l.CSV.Read(sym)
		switch {
		case err == nil:
			return window(pts, start, end), "disk", nil
		case !errors.Is(err, fs.ErrNotExist):
			return nil, "", err
		}
	}
	if l.Cache != nil {
		pts, err := l.Cache.Load(ctx, sym, start, end)
		if err != nil {
			return nil, "", err
		}
		if len(pts) > 0 {
			return pts, "cache", nil
		}
	}
	if l.Remote == nil {
		return nil, "", nil
	}
	pts, err := l.Remote.Fetch(ctx, sym, start, end)
	if err != nil {
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}
		logging.DataWarn("remote fetch for %s failed: %v", sym, err)
		return nil, "", nil
	}
	pts = window(pts, start, end)
	if l.Cache != nil && len(pts) > 0 {
		if err := l.Cache.Store(ctx, sym, pts); err != nil {
			logging.DataWarn("failed to cache %s: %v", sym, err)
		}
	}
	return pts, "remote", nil
}
