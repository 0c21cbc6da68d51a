package synth

import (
	"fmt"
	"regexp"
	"strings"

	"backforge/internal/spec"
	"backforge/internal/tools"
	"backforge/internal/verification"
)

// InitialHint is the directive of a first attempt.
const InitialHint = "Initial synthesis. Produce fully runnable module."

const systemPrompt = `You are a quantitative developer writing backtest strategies in Go.

Write ONE complete Go source file:
- package main
- import only the Go standard library packages listed in the request plus "backforge/kb"
- declare exactly this entry point:

    func RunStrategy(prices *kb.PriceTable, spec map[string]interface{}) (interface{}, error)

The StrategySpec map carries: name, task, description, universe, frequency, signal,
rules, tools, required_metrics, params, costs_bps, start_date, end_date, seed,
max_leverage.

prices holds aligned daily closes: prices.Dates[i], prices.Symbols[j], prices.Closes[i][j].
Closes may be NaN where a symbol has no data.

Rules:
- Return either a kb.Series / []float64 of per-period portfolio returns aligned to
  prices.Dates, or a map[string]interface{} with a "returns" entry of that shape plus
  float64 diagnostics such as "turnover".
- Positions decided on day t earn the return of day t+1 (no look-ahead).
- Gross leverage must not exceed max_leverage.
- Do not read files, open network connections or spawn processes.
- Answer with a single fenced go code block and nothing else.`

const userTemplate = `Attempt: %d
Task: %s
Seed: %d
Repair hint: %s

StrategySpec:
%s

Helpers available in backforge/kb:
%s

Allowed imports: %s

Requirements:
- implement the %s signal described above using the spec params
- charge nothing for costs; the harness applies costs_bps itself
- report "turnover" as the mean absolute daily weight change
`

// BuildPrompts renders the system and user prompts of one attempt.
func BuildPrompts(s spec.StrategySpec, ds []tools.Descriptor, attempt int, hint string) (string, string) {
	if hint == "" {
		hint = InitialHint
	}
	var helpers strings.Builder
	for _, d := range ds {
		fmt.Fprintf(&helpers, "- %s: %s - %s\n", d.Name, d.Ref(), d.Description)
	}
	if helpers.Len() == 0 {
		helpers.WriteString("- (none)\n")
	}
	user := fmt.Sprintf(userTemplate,
		attempt,
		s.Task,
		s.Seed,
		hint,
		s.JSON(),
		strings.TrimRight(helpers.String(), "\n"),
		strings.Join(verification.AllowedImports(), ", "),
		s.Task,
	)
	return systemPrompt, user
}

var fencedBlock = regexp.MustCompile("(?s)```(?:go|golang)?[ \\t]*\\r?\\n(.*?)```")

// ExtractCode returns the last fenced block of reply, or the whole reply
// when it holds none.
func ExtractCode(reply string) string {
	matches := fencedBlock.FindAllStringSubmatch(reply, -1)
	code := reply
	if len(matches) > 0 {
		code = matches[len(matches)-1][1]
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return ""
	}
	return code + "\n"
}
