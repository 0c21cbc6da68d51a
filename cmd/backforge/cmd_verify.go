package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"backforge/internal/logging"
	"backforge/internal/verification"
)

var (
	verifyWatch    bool
	verifyDebounce time.Duration
)

// verifyCmd runs the static checks on a candidate file
var verifyCmd = &cobra.Command{
	Use:   "verify [file]",
	Short: "Statically check a candidate strategy file",
	Long: `Runs the same checks the pipeline applies before execution: the file must
parse, be package main, import only allowed packages and declare
RunStrategy(prices *kb.PriceTable, spec map[string]interface{}) (interface{}, error).

With --watch the file is re-checked on every save until interrupted.`,
	Args: cobra.ExactArgs(1),
	RunE: runVerify,
}

func init() {
	verifyCmd.Flags().BoolVarP(&verifyWatch, "watch", "w", false, "Re-check on every change")
	verifyCmd.Flags().DurationVar(&verifyDebounce, "debounce", 200*time.Millisecond, "Quiet period before re-checking")
}

func runVerify(cmd *cobra.Command, args []string) error {
	path := args[0]
	v := verification.NewStaticVerifier()
	w := cmd.OutOrStdout()

	err := printVerify(w, path, v.Verify(path))
	if !verifyWatch {
		return err
	}

	ctx, cancel := commandContext(cmd.Context())
	defer cancel()
	err = watchFile(ctx, path, verifyDebounce, func() {
		_ = printVerify(w, path, v.Verify(path))
	})
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

func printVerify(w io.Writer, path string, err error) error {
	if err != nil {
		fmt.Fprintf(w, "%s %s\n", failStyle.Render("FAIL"), err)
		return err
	}
	fmt.Fprintf(w, "%s %s\n", passStyle.Render("OK"), path)
	return nil
}

// watchFile calls onChange after writes to path settle for debounce. The
// parent directory is watched so editors that replace the file are seen.
func watchFile(ctx context.Context, path string, debounce time.Duration, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	target, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(target), err)
	}
	logging.VerifyDebug("watching %s", target)

	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			name, _ := filepath.Abs(event.Name)
			if name != target || event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			timer.Reset(debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logging.Get(logging.CategoryVerify).Warn("watcher error: %v", err)

		case <-timer.C:
			onChange()
		}
	}
}
