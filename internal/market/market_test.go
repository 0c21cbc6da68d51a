package market

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

type fakeFetcher struct {
	calls   int
	FetchFn func(symbol string) ([]Point, error)
}

func (f *fakeFetcher) Fetch(_ context.Context, symbol string, _, _ time.Time) ([]Point, error) {
	f.calls++
	return f.FetchFn(symbol)
}

func TestCSVStoreRead(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "SPY.csv"),
		[]byte("Date,Open,Close,Adj Close\n2020-01-03,1,2,3.5\n2020-01-02,1,2,3\n"), 0644))

	pts, err := CSVStore{Dir: dir}.Read("SPY")
	require.NoError(t, err)
	require.Len(t, pts, 2)
	assert.Equal(t, d("2020-01-02"), pts[0].Date)
	assert.Equal(t, 3.0, pts[0].Close, "adjusted close wins over close")

	_, err = CSVStore{Dir: dir}.Read("QQQ")
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestLoaderLayers(t *testing.T) {
	dir := t.TempDir()
	store := CSVStore{Dir: dir}
	require.NoError(t, store.Write("SPY", []Point{
		{d("2020-01-02"), 100}, {d("2020-01-03"), 101}, {d("2020-01-06"), 102},
	}))

	cache, err := OpenCache(filepath.Join(dir, "cache", "prices.db"))
	require.NoError(t, err)
	defer cache.Close()

	remote := &fakeFetcher{FetchFn: func(symbol string) ([]Point, error) {
		if symbol != "TLT" {
			return nil, nil
		}
		return []Point{{d("2020-01-03"), 50}, {d("2020-01-06"), 51}, {d("2021-01-01"), 99}}, nil
	}}
	loader := &Loader{CSV: &store, Cache: cache, Remote: remote}

	ctx := context.Background()
	table, err := loader.FetchWindow(ctx, []string{"tlt", "SPY", "GLD"}, d("2020-01-01"), d("2020-12-31"))
	require.NoError(t, err)
	assert.Equal(t, []string{"TLT", "SPY", "GLD"}, table.Symbols)
	require.Equal(t, 3, table.Len())
	assert.True(t, math.IsNaN(table.Closes[0][0]), "TLT has no 2020-01-02 row")
	assert.Equal(t, 51.0, table.Closes[2][0])
	assert.True(t, math.IsNaN(table.Closes[0][2]), "GLD is unavailable everywhere")

	// Second fetch is served from the cache.
	calls := remote.calls
	_, err = loader.FetchWindow(ctx, []string{"TLT"}, d("2020-01-01"), d("2020-12-31"))
	require.NoError(t, err)
	assert.Equal(t, calls, remote.calls)

	syms, err := cache.Symbols(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"TLT"}, syms)

	require.NoError(t, cache.Invalidate(ctx, "TLT"))
	_, err = loader.FetchWindow(ctx, []string{"TLT"}, d("2020-01-01"), d("2020-12-31"))
	require.NoError(t, err)
	assert.Greater(t, remote.calls, calls)
}

func TestLoaderEmptyWindow(t *testing.T) {
	loader := &Loader{Remote: &fakeFetcher{FetchFn: func(string) ([]Point, error) {
		return nil, errors.New("boom")
	}}}
	_, err := loader.FetchWindow(context.Background(), []string{"SPY"}, d("2020-01-01"), d("2020-02-01"))

	var du *DataUnavailableError
	require.True(t, errors.As(err, &du), "got %v", err)
	assert.Equal(t, []string{"SPY"}, du.Symbols)
}

func TestAlphaVantageFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "TIME_SERIES_DAILY_ADJUSTED", r.URL.Query().Get("function"))
		assert.Equal(t, "key", r.URL.Query().Get("apikey"))
		_, _ = w.Write([]byte(`{"Time Series (Daily)": {
			"2020-01-03": {"4. close": "10", "5. adjusted close": "9.5"},
			"2020-01-02": {"4. close": "11", "5. adjusted close": "10.5"},
			"2019-12-31": {"4. close": "12", "5. adjusted close": "11.5"}
		}}`))
	}))
	defer srv.Close()

	av := NewAlphaVantage("key", 600, time.Second)
	av.BaseURL = srv.URL
	pts, err := av.Fetch(context.Background(), "SPY", d("2020-01-01"), d("2020-12-31"))
	require.NoError(t, err)
	require.Len(t, pts, 2)
	assert.Equal(t, 10.5, pts[0].Close)
	assert.Equal(t, d("2020-01-03"), pts[1].Date)
}

func TestAlphaVantageWithoutKeyIsSilent(t *testing.T) {
	pts, err := NewAlphaVantage("", 0, 0).Fetch(context.Background(), "SPY", d("2020-01-01"), d("2020-12-31"))
	require.NoError(t, err)
	assert.Empty(t, pts)
}
