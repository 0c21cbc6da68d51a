package kb

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/stat"
)

// StrategyFunc is the shape of a reference strategy. It matches the candidate
// entry point except that the result is always the map form.
type StrategyFunc func(prices *PriceTable, spec map[string]interface{}) (map[string]interface{}, error)

// Strategies holds a reference implementation for every catalog task.
var Strategies = map[string]StrategyFunc{
	"momentum_daily":       MomentumDaily,
	"momentum_weekly":      MomentumWeekly,
	"mean_reversion":       MeanReversion,
	"breakout":             Breakout,
	"pair_trading":         PairTrading,
	"volatility_targeting": VolatilityTargeting,
	"risk_parity":          RiskParity,
	"atr_bandit":           ATRBandit,
	"weekday_mask":         WeekdayMask,
	"regime_filter_ma":     RegimeFilterMA,
	"cost_sensitivity":     CostSensitivity,
}

// RunReference dispatches to the reference strategy for task.
func RunReference(task string, prices *PriceTable, spec map[string]interface{}) (map[string]interface{}, error) {
	fn, ok := Strategies[task]
	if !ok {
		return nil, fmt.Errorf("no reference strategy for task %q", task)
	}
	return fn(prices, spec)
}

// MomentumDaily holds the top_k names by trailing lookback return.
func MomentumDaily(prices *PriceTable, spec map[string]interface{}) (map[string]interface{}, error) {
	px, err := sanitize(prices, spec)
	if err != nil {
		return nil, err
	}
	lookback := ParamInt(spec, "lookback", 63)
	topK := ParamInt(spec, "top_k", 3)

	weights := make([][]float64, px.Len())
	for i := range weights {
		signal := make([]float64, px.Width())
		for j := range signal {
			signal[j] = math.NaN()
			if i >= lookback {
				signal[j] = px.Closes[i][j]/px.Closes[i-lookback][j] - 1
			}
		}
		weights[i] = TopK(signal, topK)
	}
	weights = NormalizeWeights(weights, 1)
	return pack(px, weights, PctReturns(px), map[string]interface{}{"lookback": float64(lookback)}), nil
}

// MomentumWeekly ranks on week-end closes and holds the weekly book through the week.
func MomentumWeekly(prices *PriceTable, spec map[string]interface{}) (map[string]interface{}, error) {
	px, err := sanitize(prices, spec)
	if err != nil {
		return nil, err
	}
	lookback := ParamInt(spec, "lookback", 26)
	topK := ParamInt(spec, "top_k", 2)

	weekEnds := weekEndRows(px.Dates)
	weights := make([][]float64, px.Len())
	current := make([]float64, px.Width())
	for n, row := range weekEnds {
		end := px.Len()
		if n+1 < len(weekEnds) {
			end = weekEnds[n+1]
		}
		if n >= lookback {
			prev := weekEnds[n-lookback]
			signal := make([]float64, px.Width())
			for j := range signal {
				signal[j] = px.Closes[row][j]/px.Closes[prev][j] - 1
			}
			current = NormalizeWeights([][]float64{TopK(signal, topK)}, 1)[0]
		}
		for i := row; i < end; i++ {
			weights[i] = current
		}
	}
	for i := range weights {
		if weights[i] == nil {
			weights[i] = make([]float64, px.Width())
		}
	}
	return pack(px, weights, PctReturns(px), map[string]interface{}{"lookback": float64(lookback)}), nil
}

// MeanReversion fades the trailing z-score of cumulative returns, dollar neutral.
func MeanReversion(prices *PriceTable, spec map[string]interface{}) (map[string]interface{}, error) {
	px, err := sanitize(prices, spec)
	if err != nil {
		return nil, err
	}
	lookback := ParamInt(spec, "lookback", 5)
	zEntry := ParamFloat(spec, "z_entry", 1.0)
	rets := PctReturns(px)

	cols := Columns(rets)
	sums := make([][]float64, len(cols))
	stds := make([][]float64, len(cols))
	for j, c := range cols {
		sums[j] = RollingSum(c, lookback)
		stds[j] = RollingStd(c, lookback)
	}
	weights := make([][]float64, px.Len())
	for i := range weights {
		signal := make([]float64, px.Width())
		mean := 0.0
		for j := range signal {
			z := sums[j][i] / stds[j][i]
			if math.IsNaN(z) || math.IsInf(z, 0) {
				z = 0
			}
			signal[j] = clip(-z/(zEntry+1e-6), -1, 1)
			mean += signal[j]
		}
		mean /= float64(len(signal))
		for j := range signal {
			signal[j] -= mean
		}
		weights[i] = signal
	}
	weights = NormalizeWeights(weights, 1)
	return pack(px, weights, rets, map[string]interface{}{"z_entry": zEntry}), nil
}

// Breakout goes long names closing above their prior rolling high and exits on a
// close below the prior stop-window low.
func Breakout(prices *PriceTable, spec map[string]interface{}) (map[string]interface{}, error) {
	px, err := sanitize(prices, spec)
	if err != nil {
		return nil, err
	}
	window := ParamInt(spec, "window", 55)
	stopWindow := ParamInt(spec, "stop_window", 20)

	cols := Columns(px.Closes)
	highs := make([][]float64, len(cols))
	lows := make([][]float64, len(cols))
	for j, c := range cols {
		highs[j] = RollingMax(c, window)
		lows[j] = RollingMin(c, stopWindow)
	}
	raw := make([][]float64, px.Len())
	stops := make([][]bool, px.Len())
	for i := range raw {
		raw[i] = make([]float64, px.Width())
		stops[i] = make([]bool, px.Width())
		if i == 0 {
			continue
		}
		for j := range raw[i] {
			if px.Closes[i][j] > highs[j][i-1] {
				raw[i][j] = 1
			}
			stops[i][j] = px.Closes[i][j] < lows[j][i-1]
		}
	}
	weights := NormalizeWeights(raw, 1)
	for i := range weights {
		for j := range weights[i] {
			if stops[i][j] {
				weights[i][j] = 0
			}
		}
	}
	return pack(px, weights, PctReturns(px), map[string]interface{}{"window": float64(window)}), nil
}

// PairTrading trades the spread of the first two symbols. The pair is only
// traded when its return correlation reaches correlation_threshhold; otherwise
// the book stays flat and the diagnostics say so.
func PairTrading(prices *PriceTable, spec map[string]interface{}) (map[string]interface{}, error) {
	px, err := sanitize(prices, spec)
	if err != nil {
		return nil, err
	}
	if px.Width() < 2 {
		return nil, fmt.Errorf("pair trading requires at least two assets")
	}
	px = px.Select(px.Symbols[:2])
	rets := PctReturns(px)
	cols := Columns(rets)

	threshold := ParamFloat(spec, "correlation_threshhold", ParamFloat(spec, "correlation_threshold", 0.6))
	corr := Correlation(cols[0], cols[1])
	if math.IsNaN(corr) || corr < threshold {
		flat := make([][]float64, px.Len())
		for i := range flat {
			flat[i] = make([]float64, 2)
		}
		return pack(px, flat, rets, map[string]interface{}{
			"correlation": nanZero(corr),
			"traded":      0.0,
		}), nil
	}

	lookback := ParamInt(spec, "lookback", 60)
	entryZ := ParamFloat(spec, "entry_z", 2.0)
	exitZ := ParamFloat(spec, "exit_z", 0.5)
	mode := ParamString(spec, "mode", "cointegration")

	a, b := px.Column(px.Symbols[0]), px.Column(px.Symbols[1])
	beta := make([]float64, len(a))
	for i := range beta {
		beta[i] = 1
		if mode != "cointegration" || i+1 < lookback {
			continue
		}
		wa, wb := a[i+1-lookback:i+1], b[i+1-lookback:i+1]
		if v := stat.Variance(wb, nil); v > 0 {
			beta[i] = stat.Covariance(wa, wb, nil) / v
		}
	}
	spread := make([]float64, len(a))
	for i := range spread {
		spread[i] = a[i] - beta[i]*b[i]
	}
	means := RollingMean(spread, lookback)
	stds := RollingStd(spread, lookback)

	weights := make([][]float64, len(a))
	for i := range weights {
		weights[i] = make([]float64, 2)
		z := (spread[i] - means[i]) / (stds[i] + 1e-6)
		switch {
		case math.IsNaN(z), math.Abs(z) < exitZ:
		case z < -entryZ:
			weights[i][0], weights[i][1] = 0.5, -0.5
		case z > entryZ:
			weights[i][0], weights[i][1] = -0.5, 0.5
		}
	}
	modeFlag := 0.0
	if mode == "cointegration" {
		modeFlag = 1
	}
	return pack(px, weights, rets, map[string]interface{}{
		"mode_cointegration": modeFlag,
		"entry_z":            entryZ,
		"correlation":        corr,
		"traded":             1.0,
	}), nil
}

// VolatilityTargeting scales an equal-weight book by target over realized vol.
func VolatilityTargeting(prices *PriceTable, spec map[string]interface{}) (map[string]interface{}, error) {
	px, err := sanitize(prices, spec)
	if err != nil {
		return nil, err
	}
	lookback := ParamInt(spec, "lookback", 20)
	targetVol := ParamFloat(spec, "target_vol", 0.12)
	maxLev := specFloat(spec, "max_leverage", 2.0)
	rets := PctReturns(px)

	eq := equalWeights(px)
	base := PortfolioReturns(eq, rets)
	realized := RollingStd(base, lookback)
	weights := make([][]float64, px.Len())
	for i := range weights {
		weights[i] = make([]float64, px.Width())
		if math.IsNaN(realized[i]) {
			continue
		}
		scale := clip(targetVol/(realized[i]*math.Sqrt(TradingPeriods)+1e-6), 0, maxLev)
		for j := range weights[i] {
			weights[i][j] = eq[i][j] * scale
		}
	}
	weights = NormalizeWeights(weights, 1)
	return pack(px, weights, rets, map[string]interface{}{"target_vol": targetVol}), nil
}

// RiskParity allocates inverse trailing volatility weights.
func RiskParity(prices *PriceTable, spec map[string]interface{}) (map[string]interface{}, error) {
	px, err := sanitize(prices, spec)
	if err != nil {
		return nil, err
	}
	lookback := ParamInt(spec, "lookback", 60)
	rets := PctReturns(px)
	vols := make([][]float64, px.Width())
	for j, c := range Columns(rets) {
		vols[j] = RollingStd(c, lookback)
	}
	weights := inverseWeights(px.Len(), px.Width(), func(i, j int) float64 {
		if vols[j][i] == 0 {
			return math.NaN()
		}
		return 1 / (vols[j][i] + 1e-6)
	})
	return pack(px, weights, rets, map[string]interface{}{"lookback": float64(lookback)}), nil
}

// ATRBandit sizes by inverse ATR and clips per-period PnL at take-profit and
// stop-loss multiples of the risk budget.
func ATRBandit(prices *PriceTable, spec map[string]interface{}) (map[string]interface{}, error) {
	px, err := sanitize(prices, spec)
	if err != nil {
		return nil, err
	}
	window := ParamInt(spec, "atr_window", 14)
	budget := ParamFloat(spec, "risk_budget", 0.02)
	tp := ParamFloat(spec, "tp_mult", 1.5)
	sl := ParamFloat(spec, "sl_mult", 1.0)
	rets := PctReturns(px)

	atr := make([][]float64, px.Width())
	for j, c := range Columns(px.Closes) {
		tr := make([]float64, len(c))
		tr[0] = math.NaN()
		for i := 1; i < len(c); i++ {
			tr[i] = math.Abs(c[i] - c[i-1])
		}
		atr[j] = RollingMean(tr, window)
		for i := range atr[j] {
			if i == 0 {
				atr[j][i] = math.NaN()
				continue
			}
			atr[j][i] /= c[i-1]
		}
	}
	weights := inverseWeights(px.Len(), px.Width(), func(i, j int) float64 {
		return clip(budget/(atr[j][i]+1e-6), 0, 5)
	})
	pnl := PortfolioReturns(weights, rets)
	for i, v := range pnl {
		pnl[i] = clip(v, -sl*budget, tp*budget)
	}
	return map[string]interface{}{
		"returns":     NewSeries(px.Dates, pnl),
		"turnover":    ComputeTurnover(weights),
		"risk_budget": budget,
	}, nil
}

// WeekdayMask holds an equal-weight basket only on allowed weekdays (0 = Monday).
func WeekdayMask(prices *PriceTable, spec map[string]interface{}) (map[string]interface{}, error) {
	px, err := sanitize(prices, spec)
	if err != nil {
		return nil, err
	}
	allowed := map[int]bool{}
	for _, d := range ParamFloats(spec, "allowed_weekdays", []float64{0, 2, 4}) {
		allowed[int(d)] = true
	}
	eq := equalWeights(px)
	for i, d := range px.Dates {
		if !allowed[(int(d.Weekday())+6)%7] {
			eq[i] = make([]float64, px.Width())
		}
	}
	return pack(px, eq, PctReturns(px), map[string]interface{}{"active_days": float64(len(allowed))}), nil
}

// RegimeFilterMA is invested only while the first symbol's fast MA is above its slow MA.
func RegimeFilterMA(prices *PriceTable, spec map[string]interface{}) (map[string]interface{}, error) {
	px, err := sanitize(prices, spec)
	if err != nil {
		return nil, err
	}
	fast := ParamInt(spec, "fast", 50)
	slow := ParamInt(spec, "slow", 200)
	bench := px.Column(px.Symbols[0])
	fastMA, slowMA := RollingMean(bench, fast), RollingMean(bench, slow)

	eq := equalWeights(px)
	for i := range eq {
		if !(fastMA[i] > slowMA[i]) {
			eq[i] = make([]float64, px.Width())
		}
	}
	return pack(px, eq, PctReturns(px), map[string]interface{}{
		"fast": float64(fast),
		"slow": float64(slow),
	}), nil
}

// CostSensitivity replays daily momentum across a grid of cost assumptions and
// reports the slope of annualized return against cost.
func CostSensitivity(prices *PriceTable, spec map[string]interface{}) (map[string]interface{}, error) {
	base, err := MomentumDaily(prices, spec)
	if err != nil {
		return nil, err
	}
	rets := base["returns"].(Series)
	turnover := base["turnover"].(float64)
	grid := ParamFloats(spec, "costs_bps_grid", []float64{0, 1, 5, 10, 25})

	annualized := make([]float64, len(grid))
	for n, cost := range grid {
		slip := turnover * cost / 10000
		gross := 1.0
		for _, r := range rets.Values {
			gross *= 1 + r - slip
		}
		periods := math.Max(float64(rets.Len()), 1)
		annualized[n] = math.Pow(gross, TradingPeriods/periods) - 1
	}
	elasticity := 0.0
	if len(grid) >= 2 {
		_, elasticity = stat.LinearRegression(grid, annualized, nil, false)
	}
	base["cost_elasticity"] = elasticity
	return base, nil
}

func sanitize(prices *PriceTable, spec map[string]interface{}) (*PriceTable, error) {
	universe := SpecStrings(spec, "universe")
	var cols []string
	for _, s := range universe {
		if prices.Index(s) >= 0 {
			cols = append(cols, s)
		}
	}
	if len(universe) == 0 {
		cols = prices.Symbols
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("strategy universe is empty")
	}
	px := prices.Select(cols).FillForward()
	first := 0
	for first < px.Len() && hasNaN(px.Closes[first]) {
		first++
	}
	px.Dates = px.Dates[first:]
	px.Closes = px.Closes[first:]
	if px.Len() == 0 {
		return nil, fmt.Errorf("no complete price rows for universe %v", cols)
	}
	return px, nil
}

func pack(px *PriceTable, weights, rets [][]float64, extra map[string]interface{}) map[string]interface{} {
	out := map[string]interface{}{
		"returns":  NewSeries(px.Dates, PortfolioReturns(weights, rets)),
		"turnover": ComputeTurnover(weights),
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

func equalWeights(px *PriceTable) [][]float64 {
	w := make([][]float64, px.Len())
	for i := range w {
		w[i] = make([]float64, px.Width())
		for j := range w[i] {
			w[i][j] = 1 / float64(px.Width())
		}
	}
	return w
}

// inverseWeights normalizes raw(i, j) scores to sum to one per row; rows with
// any undefined score are flat.
func inverseWeights(rows, cols int, raw func(i, j int) float64) [][]float64 {
	w := make([][]float64, rows)
	for i := range w {
		w[i] = make([]float64, cols)
		sum := 0.0
		for j := range w[i] {
			w[i][j] = raw(i, j)
			sum += w[i][j]
		}
		if math.IsNaN(sum) || sum == 0 {
			w[i] = make([]float64, cols)
			continue
		}
		for j := range w[i] {
			w[i][j] /= sum
		}
	}
	return w
}

// weekEndRows returns the index of the last row of each ISO week.
func weekEndRows(dates []time.Time) []int {
	var rows []int
	for i, d := range dates {
		if i+1 == len(dates) {
			rows = append(rows, i)
			break
		}
		y1, w1 := d.ISOWeek()
		y2, w2 := dates[i+1].ISOWeek()
		if y1 != y2 || w1 != w2 {
			rows = append(rows, i)
		}
	}
	return rows
}

func clip(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}
