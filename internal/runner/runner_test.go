package runner

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"backforge/internal/kb"
	"backforge/internal/market"
	"backforge/internal/spec"
)

// MockSource is a hand-written market.Source.
type MockSource struct {
	FetchWindowFunc func(ctx context.Context, symbols []string, start, end time.Time) (*kb.PriceTable, error)
	calls           int
}

func (m *MockSource) FetchWindow(ctx context.Context, symbols []string, start, end time.Time) (*kb.PriceTable, error) {
	m.calls++
	return m.FetchWindowFunc(ctx, symbols, start, end)
}

// MockLoader hands out a fixed strategy for every path.
type MockLoader struct {
	Strategy Strategy
	Err      error
}

func (m *MockLoader) Load(context.Context, string) (Strategy, error) {
	return m.Strategy, m.Err
}

func businessDays(start time.Time, n int) []time.Time {
	out := make([]time.Time, 0, n)
	for d := start; len(out) < n; d = d.AddDate(0, 0, 1) {
		if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			continue
		}
		out = append(out, d)
	}
	return out
}

func priceTable(symbols []string, n int) *kb.PriceTable {
	t := kb.NewPriceTable(businessDays(time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC), n), symbols)
	for j := range symbols {
		p := 100.0
		for i := 0; i < n; i++ {
			p *= 1 + 0.001*float64(j+1) + 0.01*math.Sin(float64(i*(j+2)))
			t.Closes[i][j] = p
		}
	}
	return t
}

func testSpec(t *testing.T, task string, table *kb.PriceTable) spec.StrategySpec {
	t.Helper()
	s, err := spec.NewValidator(nil).Validate(task)
	require.NoError(t, err)
	s.StartDate = table.Dates[0]
	s.EndDate = table.Dates[table.Len()-1]
	return s
}

func staticSource(table *kb.PriceTable) *MockSource {
	return &MockSource{FetchWindowFunc: func(context.Context, []string, time.Time, time.Time) (*kb.PriceTable, error) {
		return table, nil
	}}
}

// alternating yields +1% / -0.8% returns aligned to the price dates.
func alternating(prices *kb.PriceTable, _ map[string]interface{}) (interface{}, error) {
	out := make([]float64, prices.Len())
	for i := range out {
		out[i] = 0.01
		if i%2 == 1 {
			out[i] = -0.008
		}
	}
	return map[string]interface{}{"returns": out, "turnover": 0.5, "lookback": 63, "label": "x"}, nil
}

func TestExecuteMapOutput(t *testing.T) {
	defer goleak.VerifyNone(t)

	table := priceTable(spec.BaseUniverse[:6], 300)
	s := testSpec(t, "momentum_daily", table)
	e := NewExecutor(staticSource(table), &MockLoader{Strategy: StrategyFunc(alternating)}, time.Second)

	out, err := e.Execute(context.Background(), "/tmp/c.go", s)
	require.NoError(t, err)
	assert.Equal(t, 0.5, out.Turnover)
	assert.Equal(t, 63.0, out.Diagnostics["lookback"])
	assert.NotContains(t, out.Diagnostics, "label")
	assert.InDelta(t, 0.5, out.HitRate, 1e-9)
	assert.Equal(t, []string{"/tmp/c.go"}, out.ArtifactPaths)
}

func TestExecuteMissingReturnsIsContractViolation(t *testing.T) {
	table := priceTable(spec.BaseUniverse[:6], 50)
	s := testSpec(t, "momentum_daily", table)
	loader := &MockLoader{Strategy: StrategyFunc(func(*kb.PriceTable, map[string]interface{}) (interface{}, error) {
		return map[string]interface{}{"turnover": 0.1}, nil
	})}

	_, err := NewExecutor(staticSource(table), loader, 0).Execute(context.Background(), "c.go", s)
	var cve *ContractViolationError
	require.True(t, errors.As(err, &cve), "got %v", err)
	assert.Contains(t, cve.Rule, `"returns"`)
}

func TestExecuteCachesAndRefetchesOnce(t *testing.T) {
	table := priceTable(spec.BaseUniverse[:6], 100)
	s := testSpec(t, "momentum_daily", table)
	src := staticSource(table)
	e := NewExecutor(src, &MockLoader{Strategy: StrategyFunc(alternating)}, 0)

	_, err := e.Execute(context.Background(), "a.go", s)
	require.NoError(t, err)
	_, err = e.Execute(context.Background(), "b.go", s)
	require.NoError(t, err)
	assert.Equal(t, 1, src.calls, "second run reuses the cached window")

	empty := &MockSource{FetchWindowFunc: func(_ context.Context, syms []string, start, end time.Time) (*kb.PriceTable, error) {
		return nil, &market.DataUnavailableError{Symbols: syms, Start: start, End: end}
	}}
	_, err = NewExecutor(empty, &MockLoader{Strategy: StrategyFunc(alternating)}, 0).Execute(context.Background(), "c.go", s)
	var due *market.DataUnavailableError
	require.True(t, errors.As(err, &due), "got %v", err)
	assert.Equal(t, 2, empty.calls)
}

func TestExecuteRefetchRecovers(t *testing.T) {
	table := priceTable(spec.BaseUniverse[:6], 100)
	s := testSpec(t, "momentum_daily", table)
	src := &MockSource{}
	src.FetchWindowFunc = func(context.Context, []string, time.Time, time.Time) (*kb.PriceTable, error) {
		if src.calls == 1 {
			return kb.NewPriceTable(table.Dates, table.Symbols), nil
		}
		return table, nil
	}

	_, err := NewExecutor(src, &MockLoader{Strategy: StrategyFunc(alternating)}, 0).Execute(context.Background(), "c.go", s)
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls)
}

func TestExecuteRuntimeErrors(t *testing.T) {
	table := priceTable(spec.BaseUniverse[:6], 50)
	s := testSpec(t, "momentum_daily", table)

	tests := []struct {
		name string
		fn   StrategyFunc
	}{
		{"returned error", func(*kb.PriceTable, map[string]interface{}) (interface{}, error) {
			return nil, errors.New("lookback too long")
		}},
		{"panic", func(p *kb.PriceTable, _ map[string]interface{}) (interface{}, error) {
			var rows [][]float64
			return rows[p.Len()], nil
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer goleak.VerifyNone(t)
			_, err := NewExecutor(staticSource(table), &MockLoader{Strategy: tt.fn}, time.Second).
				Execute(context.Background(), "c.go", s)
			var rte *RuntimeError
			assert.True(t, errors.As(err, &rte), "got %v", err)
		})
	}
}

func TestExecuteTimeout(t *testing.T) {
	defer goleak.VerifyNone(t)

	table := priceTable(spec.BaseUniverse[:6], 50)
	s := testSpec(t, "momentum_daily", table)
	release := make(chan struct{})
	loader := &MockLoader{Strategy: StrategyFunc(func(*kb.PriceTable, map[string]interface{}) (interface{}, error) {
		<-release
		return nil, nil
	})}

	_, err := NewExecutor(staticSource(table), loader, 20*time.Millisecond).Execute(context.Background(), "slow.go", s)
	close(release)

	var te *TimeoutError
	require.True(t, errors.As(err, &te), "got %v", err)
	assert.Equal(t, "slow.go", te.Path)
}

func TestDecodeOutput(t *testing.T) {
	dates := businessDays(time.Date(2021, 3, 1, 0, 0, 0, 0, time.UTC), 3)

	tests := []struct {
		name     string
		raw      interface{}
		wantErr  bool
		turnover float64
	}{
		{name: "bare slice", raw: []float64{0.1, 0.2, 0.3}},
		{name: "series", raw: kb.NewSeries(dates, []float64{1, 2, 3})},
		{name: "series pointer", raw: &kb.Series{Values: []float64{1, 2, 3}}},
		{name: "map with turnover", raw: map[string]interface{}{"returns": []float64{0, 0, 0}, "turnover": 2}, turnover: 2},
		{name: "misaligned slice", raw: []float64{0.1}, wantErr: true},
		{name: "string", raw: "0.1", wantErr: true},
		{name: "nil", raw: nil, wantErr: true},
		{name: "map without returns", raw: map[string]interface{}{"sharpe": 1.0}, wantErr: true},
		{name: "non numeric turnover", raw: map[string]interface{}{"returns": []float64{0, 0, 0}, "turnover": "high"}, wantErr: true},
		{name: "negative turnover", raw: map[string]interface{}{"returns": []float64{0, 0, 0}, "turnover": -1.0}, wantErr: true},
		{name: "NaN turnover", raw: map[string]interface{}{"returns": []float64{0, 0, 0}, "turnover": math.NaN()}, wantErr: true},
		{name: "infinite turnover", raw: map[string]interface{}{"returns": []float64{0, 0, 0}, "turnover": math.Inf(1)}, wantErr: true},
		{name: "zero turnover", raw: map[string]interface{}{"returns": []float64{0, 0, 0}, "turnover": 0.0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := DecodeOutput(tt.raw, dates)
			if tt.wantErr {
				var cve *ContractViolationError
				assert.True(t, errors.As(err, &cve), "got %v", err)
				return
			}
			require.NoError(t, err)
			res := out.Result()
			assert.Equal(t, 3, res.Returns.Len())
			assert.Equal(t, dates[0], res.Returns.Dates[0])
			assert.Equal(t, tt.turnover, res.Turnover)
		})
	}
}

func writeCandidate(t *testing.T, src string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "candidate.go")
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))
	return path
}

const referenceCandidate = `package main

import "backforge/kb"

func RunStrategy(prices *kb.PriceTable, spec map[string]interface{}) (interface{}, error) {
	return kb.RunReference("momentum_daily", prices, spec)
}
`

const handWrittenCandidate = `package main

import (
	"math"

	"backforge/kb"
)

func RunStrategy(prices *kb.PriceTable, spec map[string]interface{}) (interface{}, error) {
	lookback := kb.ParamInt(spec, "lookback", 20)
	rets := kb.PctReturns(prices)
	out := make([]float64, prices.Len())
	for i := lookback + 1; i < len(out); i++ {
		sum := 0.0
		for _, r := range rets[i] {
			sum += r
		}
		out[i] = sum / float64(prices.Width())
	}
	return map[string]interface{}{
		"returns":  out,
		"turnover": 0.0,
		"floor":    math.Floor(1.5),
	}, nil
}
`

func TestYaegiLoaderRunsCandidates(t *testing.T) {
	table := priceTable(spec.BaseUniverse[:6], 200)
	s := testSpec(t, "momentum_daily", table)

	for name, src := range map[string]string{"reference": referenceCandidate, "hand written": handWrittenCandidate} {
		t.Run(name, func(t *testing.T) {
			e := NewExecutor(staticSource(table), NewYaegiLoader(), 10*time.Second)
			out, err := e.Execute(context.Background(), writeCandidate(t, src), s)
			require.NoError(t, err)
			assert.False(t, math.IsNaN(out.Sharpe))
		})
	}
}

func TestYaegiLoaderRejectsForbiddenImport(t *testing.T) {
	path := writeCandidate(t, `package main

import "os"

func RunStrategy(prices interface{}, spec map[string]interface{}) (interface{}, error) {
	return os.Getpid(), nil
}
`)
	_, err := NewYaegiLoader().Load(context.Background(), path)
	assert.Error(t, err)
}

func TestYaegiLoaderWrongSignature(t *testing.T) {
	path := writeCandidate(t, `package main

func RunStrategy(a, b int) (int, error) { return a + b, nil }
`)
	_, err := NewYaegiLoader().Load(context.Background(), path)
	var cve *ContractViolationError
	assert.True(t, errors.As(err, &cve), "got %v", err)
}

func TestAllowedStdlibFiltersImports(t *testing.T) {
	require.NotPanics(t, func() { allowedStdlib() })

	exports := allowedStdlib()
	assert.Contains(t, exports, "math/math")
	assert.NotContains(t, exports, "os/os")
	assert.NotContains(t, exports, "os/exec/exec")
	assert.NotContains(t, exports, ".")
}
