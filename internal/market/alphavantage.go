package market

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"backforge/internal/logging"
)

// DefaultAlphaVantageURL is the public query endpoint.
const DefaultAlphaVantageURL = "https://www.alphavantage.co/query"

// Fetcher retrieves a symbol's history from a remote provider.
type Fetcher interface {
	Fetch(ctx context.Context, symbol string, start, end time.Time) ([]Point, error)
}

// AlphaVantage fetches adjusted daily closes. Requests are paced by a token
// bucket because the free tier allows only a handful of calls per minute.
type AlphaVantage struct {
	APIKey  string
	BaseURL string
	Client  *http.Client
	limiter *rate.Limiter
}

// NewAlphaVantage creates a client allowing perMinute requests per minute.
func NewAlphaVantage(apiKey string, perMinute int, timeout time.Duration) *AlphaVantage {
	if perMinute <= 0 {
		perMinute = 5
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &AlphaVantage{
		APIKey:  apiKey,
		BaseURL: DefaultAlphaVantageURL,
		Client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1),
	}
}

type alphaResponse struct {
	Series map[string]map[string]string `json:"Time Series (Daily)"`
	Note   string                       `json:"Note"`
	Info   string                       `json:"Information"`
	Error  string                       `json:"Error Message"`
}

// Fetch implements Fetcher. A response without a daily series yields no
// points and no error, matching how a missing symbol is treated locally.
func (a *AlphaVantage) Fetch(ctx context.Context, symbol string, start, end time.Time) ([]Point, error) {
	if a.APIKey == "" {
		return nil, nil
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("function", "TIME_SERIES_DAILY_ADJUSTED")
	q.Set("symbol", symbol)
	q.Set("outputsize", "full")
	q.Set("apikey", a.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.BaseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	timer := logging.StartTimer(logging.CategoryData, "alphavantage "+symbol)
	resp, err := a.Client.Do(req)
	timer.Stop()
	if err != nil {
		return nil, fmt.Errorf("alphavantage %s: %w", symbol, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("alphavantage %s: status %d", symbol, resp.StatusCode)
	}

	var body alphaResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("alphavantage %s: decode: %w", symbol, err)
	}
	if len(body.Series) == 0 {
		if msg := firstNonEmpty(body.Error, body.Note, body.Info); msg != "" {
			logging.DataWarn("alphavantage %s: %s", symbol, msg)
		}
		return nil, nil
	}

	pts := make([]Point, 0, len(body.Series))
	for ds, fields := range body.Series {
		d, err := time.Parse("2006-01-02", ds)
		if err != nil || d.Before(start) || d.After(end) {
			continue
		}
		raw, ok := fields["5. adjusted close"]
		if !ok {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			continue
		}
		pts = append(pts, Point{Date: d, Close: v})
	}
	sort.Slice(pts, func(i, j int) bool { return pts[i].Date.Before(pts[j].Date) })
	logging.Data("alphavantage returned %d rows for %s", len(pts), symbol)
	return pts, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
