// Package runner loads candidate strategies, runs them over a price window
// and turns their output into an evaluated outcome.
package runner

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"backforge/internal/kb"
	"backforge/internal/logging"
	"backforge/internal/market"
	"backforge/internal/metrics"
	"backforge/internal/spec"
)

// DefaultTimeout bounds a candidate run when nothing else is configured.
const DefaultTimeout = 60 * time.Second

// TimeoutError reports a candidate that did not return in time.
type TimeoutError struct {
	Path    string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("candidate %s exceeded %s", e.Path, e.Timeout)
}

// RuntimeError wraps an error returned or panicked by candidate code.
type RuntimeError struct {
	Path string
	Err  error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("candidate %s failed: %v", e.Path, e.Err)
}

func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// Executor runs candidates. It keeps the last price window it fetched and is
// not safe for concurrent use; give each pipeline its own.
type Executor struct {
	source  market.Source
	loader  Loader
	timeout time.Duration

	cache    *kb.PriceTable
	cacheKey string
}

// NewExecutor creates an executor. A zero timeout disables the limit.
func NewExecutor(source market.Source, loader Loader, timeout time.Duration) *Executor {
	if loader == nil {
		loader = NewYaegiLoader()
	}
	return &Executor{source: source, loader: loader, timeout: timeout}
}

// Invalidate drops the cached price window.
func (e *Executor) Invalidate() {
	e.cache = nil
	e.cacheKey = ""
}

// Execute loads the candidate at path, runs it over s's window and evaluates
// the result.
func (e *Executor) Execute(ctx context.Context, path string, s spec.StrategySpec) (metrics.EvaluatedOutcome, error) {
	timer := logging.StartTimer(logging.CategoryRunner, "execute "+path)
	defer timer.Stop()

	prices, err := e.window(ctx, s)
	if err != nil {
		return metrics.EvaluatedOutcome{}, err
	}

	strategy, err := e.loader.Load(ctx, path)
	if err != nil {
		return metrics.EvaluatedOutcome{}, e.classify(path, err)
	}

	raw, err := e.call(ctx, path, strategy, prices, s.AsMap())
	if err != nil {
		return metrics.EvaluatedOutcome{}, err
	}

	out, err := DecodeOutput(raw, prices.Dates)
	if err != nil {
		return metrics.EvaluatedOutcome{}, err
	}
	res := out.Result()
	res.Returns = res.Returns.Between(s.StartDate, s.EndDate).FillNaN(0)
	logging.RunnerDebug("%s returned %d observations (%T)", path, res.Returns.Len(), out)

	outcome, err := metrics.Evaluate(res, s, path)
	if err != nil {
		return metrics.EvaluatedOutcome{}, &RuntimeError{Path: path, Err: err}
	}
	return outcome, nil
}

// window returns the spec's price window, re-fetching once with the cache
// dropped when the cached or fetched window is empty.
func (e *Executor) window(ctx context.Context, s spec.StrategySpec) (*kb.PriceTable, error) {
	key := fmt.Sprintf("%s|%s|%s", strings.Join(s.Universe, ","),
		s.StartDate.Format(spec.DateLayout), s.EndDate.Format(spec.DateLayout))

	for try := 0; try < 2; try++ {
		if e.cache == nil || e.cacheKey != key {
			table, err := e.source.FetchWindow(ctx, s.Universe, s.StartDate, s.EndDate)
			var due *market.DataUnavailableError
			switch {
			case errors.As(err, &due):
				logging.RunnerWarn("price window empty (try %d): %v", try+1, err)
				e.Invalidate()
				continue
			case err != nil:
				return nil, err
			}
			e.cache, e.cacheKey = table, key
		}
		w := e.cache.Select(s.Universe).Slice(s.StartDate, s.EndDate)
		if !w.Empty() {
			return w, nil
		}
		logging.RunnerWarn("price window empty (try %d), invalidating cache", try+1)
		e.Invalidate()
	}
	return nil, &market.DataUnavailableError{Symbols: s.Universe, Start: s.StartDate, End: s.EndDate}
}

type callResult struct {
	value interface{}
	err   error
}

// call runs the strategy on its own goroutine so a timeout can abandon it.
// An abandoned candidate keeps running until it returns.
func (e *Executor) call(ctx context.Context, path string, st Strategy, prices *kb.PriceTable, specMap map[string]interface{}) (interface{}, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	done := make(chan callResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logging.RunnerDebug("candidate panic stack:\n%s", debug.Stack())
				done <- callResult{err: &RuntimeError{Path: path, Err: fmt.Errorf("panic: %v", r)}}
			}
		}()
		v, err := st.Run(ctx, prices, specMap)
		done <- callResult{value: v, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, e.classify(path, r.err)
		}
		return r.value, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) && e.timeout > 0 {
			return nil, &TimeoutError{Path: path, Timeout: e.timeout}
		}
		return nil, ctx.Err()
	}
}

// classify leaves typed errors alone and wraps the rest as RuntimeError.
func (e *Executor) classify(path string, err error) error {
	var (
		rte *RuntimeError
		cve *ContractViolationError
	)
	if errors.As(err, &rte) || errors.As(err, &cve) {
		return err
	}
	return &RuntimeError{Path: path, Err: err}
}
