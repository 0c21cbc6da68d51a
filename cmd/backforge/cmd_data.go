package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"backforge/internal/logging"
	"backforge/internal/market"
	"backforge/internal/spec"
)

// dataCmd manages local price data
var dataCmd = &cobra.Command{
	Use:   "data",
	Short: "Manage local price data (CSV files and the SQLite cache)",
}

var dataPullCmd = &cobra.Command{
	Use:   "pull [symbol...]",
	Short: "Download daily closes from Alpha Vantage into the CSV directory",
	Long: `Fetches the full data window for each symbol (default: the base universe),
writes <data.dir>/<SYMBOL>.csv and refreshes the cache. Needs
ALPHAVANTAGE_API_KEY or data.alpha_vantage_key.`,
	RunE: runDataPull,
}

var dataCachedCmd = &cobra.Command{
	Use:   "cached",
	Short: "List symbols held in the price cache",
	Args:  cobra.NoArgs,
	RunE:  runDataCached,
}

var dataClearCmd = &cobra.Command{
	Use:   "clear [symbol...]",
	Short: "Drop cached prices (all symbols when none are given)",
	RunE:  runDataClear,
}

func init() {
	dataCmd.AddCommand(dataPullCmd)
	dataCmd.AddCommand(dataCachedCmd)
	dataCmd.AddCommand(dataClearCmd)
}

func runDataPull(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd.Context())
	defer cancel()

	if cfg.Data.AlphaVantageKey == "" {
		return errors.New("no Alpha Vantage key configured (set ALPHAVANTAGE_API_KEY)")
	}
	symbols := args
	if len(symbols) == 0 {
		symbols = spec.BaseUniverse
	}

	remote := market.NewAlphaVantage(cfg.Data.AlphaVantageKey, 0, cfg.GetDataTimeout())
	disk := market.CSVStore{Dir: cfg.Data.Dir}
	cache, err := market.OpenCache(cfg.Data.CachePath)
	if err != nil {
		return err
	}
	defer cache.Close()

	w := cmd.OutOrStdout()
	var failed []string
	for _, sym := range symbols {
		sym = strings.ToUpper(sym)
		pts, err := remote.Fetch(ctx, sym, spec.DataStart, spec.DataEnd)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logging.DataWarn("pull %s: %v", sym, err)
			failed = append(failed, sym)
			continue
		}
		if err := disk.Write(sym, pts); err != nil {
			return fmt.Errorf("write %s: %w", sym, err)
		}
		if err := cache.Store(ctx, sym, pts); err != nil {
			logging.DataWarn("cache %s: %v", sym, err)
		}
		fmt.Fprintf(w, "%s %d rows\n", labelStyle.Render(sym), len(pts))
	}
	if len(failed) > 0 {
		return fmt.Errorf("failed to pull %s", strings.Join(failed, ", "))
	}
	return nil
}

func runDataCached(cmd *cobra.Command, args []string) error {
	cache, err := market.OpenCache(cfg.Data.CachePath)
	if err != nil {
		return err
	}
	defer cache.Close()

	syms, err := cache.Symbols(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), strings.Join(syms, "\n"))
	return nil
}

func runDataClear(cmd *cobra.Command, args []string) error {
	cache, err := market.OpenCache(cfg.Data.CachePath)
	if err != nil {
		return err
	}
	defer cache.Close()

	symbols := args
	if len(symbols) == 0 {
		if symbols, err = cache.Symbols(cmd.Context()); err != nil {
			return err
		}
	}
	if err := cache.Invalidate(cmd.Context(), symbols...); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "cleared %d symbol(s)\n", len(symbols))
	return nil
}
