package spec

import (
	"sort"
	"time"
)

// DateLayout is the ISO date format used on the wire and in spec maps.
const DateLayout = "2006-01-02"

// Data-availability window of the frozen price set.
var (
	DataStart    = mustDate("2005-01-03")
	DataEnd      = mustDate("2025-10-31")
	DefaultStart = mustDate("2012-01-03")
)

// BaseUniverse is the whitelist of tradable symbols.
var BaseUniverse = []string{
	"SPY", "QQQ", "IWM", "EFA", "EEM", "TLT", "IEF", "GLD", "USO", "VNQ", "HYG", "LQD",
	"DBC", "XLK", "XLF", "XLE", "XLU", "XLY", "XLI", "XLB", "XLP", "XOM", "CVX",
}

// DefaultTools are requested when a template names nothing else.
var DefaultTools = []string{"returns", "sharpe", "drawdown", "normalize_weights", "compute_turnover"}

// TaskOrder lists the frozen suite in its canonical order. The first entry
// is the task run when a request names nothing.
var TaskOrder = []string{
	"momentum_daily",
	"momentum_weekly",
	"mean_reversion",
	"breakout",
	"pair_trading",
	"volatility_targeting",
	"risk_parity",
	"atr_bandit",
	"weekday_mask",
	"regime_filter_ma",
	"cost_sensitivity",
}

// Catalog maps task names to their template specs.
type Catalog map[string]StrategySpec

// Names returns the task names in TaskOrder, followed by any tasks outside
// it in sorted order.
func (c Catalog) Names() []string {
	names := make([]string, 0, len(c))
	seen := make(map[string]bool, len(c))
	for _, n := range TaskOrder {
		if _, ok := c[n]; ok {
			names = append(names, n)
			seen[n] = true
		}
	}
	var extra []string
	for n := range c {
		if !seen[n] {
			extra = append(extra, n)
		}
	}
	sort.Strings(extra)
	return append(names, extra...)
}

// Template returns a deep copy of the named template.
func (c Catalog) Template(task string) (StrategySpec, bool) {
	t, ok := c[task]
	if !ok {
		return StrategySpec{}, false
	}
	return t.Clone(), true
}

func base(task, description string) StrategySpec {
	return StrategySpec{
		Name:            task,
		Task:            task,
		Description:     description,
		Universe:        append([]string(nil), BaseUniverse[:6]...),
		Frequency:       Daily,
		Rules:           map[string]string{},
		Tools:           append([]string(nil), DefaultTools...),
		RequiredMetrics: []string{"ann_return", "sharpe", "max_dd"},
		Params:          map[string]interface{}{},
		CostsBps:        1.0,
		StartDate:       DefaultStart,
		EndDate:         DataEnd,
		Seed:            42,
		MaxLeverage:     1.0,
	}
}

// DefaultCatalog returns the frozen task suite.
func DefaultCatalog() Catalog {
	c := Catalog{}
	add := func(s StrategySpec) { c[s.Task] = s }

	s := base("momentum_daily", "Daily top-k cross-sectional momentum on ETFs.")
	s.Signal = "Rank compounded 63-day return and go long top decile."
	s.Rules = map[string]string{"entry": "rank_desc top_k", "exit": "hold N days"}
	s.Params = params("lookback", 63, "top_k", 3, "holding_period", 20)
	add(s)

	s = base("momentum_weekly", "Weekly momentum with slower turnover.")
	s.Frequency = Weekly
	s.Signal = "Weekly returns ranked over trailing 26 weeks."
	s.Rules = map[string]string{"entry": "top_2", "exit": "stop if rank drops below 5"}
	s.Params = params("lookback", 26, "top_k", 2, "holding_period", 8)
	add(s)

	s = base("mean_reversion", "Short-term contrarian rotation on equities.")
	s.Signal = "Fade 5-day z-score; dollar-neutral weights."
	s.Rules = map[string]string{"entry": "zscore below -1 buys, above +1 sells", "exit": "revert to mean"}
	s.Params = params("lookback", 5, "z_entry", 1.0, "z_exit", 0.2)
	add(s)

	s = base("breakout", "Donchian-style breakout with trailing stop.")
	s.Signal = "Price crossing above 55-day high triggers entry."
	s.Rules = map[string]string{"entry": "close > rolling_high", "exit": "close < trailing_stop"}
	s.Params = params("window", 55, "stop_window", 20)
	add(s)

	s = base("pair_trading", "Stat-arb pair trading toggling between cointegration & distance tests. "+
		"You must test correlation >= correlation_threshhold before trading. "+
		"if all correlation < correlation_threshhold, report and do not trade.")
	s.Universe = []string{"XOM", "CVX"}
	s.Signal = "Spread z-score between highly correlated pair."
	s.Rules = map[string]string{"entry": "spread zscore > entry_z", "exit": "zscore < exit_z"}
	s.Params = params("lookback", 60, "mode", "cointegration", "correlation_threshhold", 0.6, "entry_z", 1.5, "exit_z", 0.5)
	s.Tools = append(s.Tools, "returns")
	add(s)

	s = base("volatility_targeting", "Vol-targeted exposure using realized vol estimates.")
	s.Signal = "Scale exposure inversely with trailing volatility."
	s.Rules = map[string]string{"entry": "target_vol / realized_vol", "exit": "vol > cap"}
	s.Params = params("lookback", 20, "target_vol", 0.12)
	add(s)

	s = base("risk_parity", "Toy risk-parity allocating inverse vol weights.")
	s.Universe = []string{"SPY", "TLT", "GLD", "IEF"}
	s.Signal = "Inverse volatility weights across asset classes."
	s.Rules = map[string]string{"entry": "allocate inverse std", "exit": "rebalance monthly"}
	s.Params = params("lookback", 60)
	add(s)

	s = base("atr_bandit", "ATR-driven stop/take-profit allocation bandit.")
	s.Signal = "Allocate risk budget via ATR sizing."
	s.Rules = map[string]string{"entry": "atr < threshold", "exit": "stop loss atr multiple"}
	s.Params = params("atr_window", 14, "risk_budget", 0.02, "tp_mult", 1.5, "sl_mult", 1.0)
	add(s)

	s = base("weekday_mask", "Mask exposures by weekday seasonality.")
	s.Signal = "Hold only on weekdays with positive expected alpha."
	s.Rules = map[string]string{"entry": "allowed weekdays long the basket", "exit": "otherwise flat"}
	s.Params = params("allowed_weekdays", []interface{}{0.0, 2.0, 4.0}) // Monday, Wednesday, Friday
	add(s)

	s = base("regime_filter_ma", "Regime filter using moving average crossover.")
	s.Signal = "Stay invested when fast MA > slow MA."
	s.Rules = map[string]string{"entry": "fast_ma > slow_ma", "exit": "fast_ma <= slow_ma"}
	s.Params = params("fast", 50, "slow", 200)
	add(s)

	s = base("cost_sensitivity", "Stress test strategy under multiple cost assumptions.")
	s.Signal = "Replay base strategy under multiple cost grids."
	s.Rules = map[string]string{"entry": "base weights", "exit": "cost grid analysis"}
	s.Params = params("costs_bps_grid", []interface{}{0.0, 1.0, 5.0, 10.0, 25.0})
	s.Tools = append(s.Tools, "walk_forward")
	s.RequiredMetrics = []string{"ann_return", "sharpe", "max_dd", "turnover", "cost_elasticity"}
	add(s)

	return c
}

// params builds a parameter map from alternating keys and values. Integer
// values are stored as float64 so templates match decoded JSON.
func params(kv ...interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		v := kv[i+1]
		if n, ok := v.(int); ok {
			v = float64(n)
		}
		out[kv[i].(string)] = v
	}
	return out
}

func mustDate(s string) time.Time {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}
