// Package pipeline drives a strategy request through validation, tool
// resolution, synthesis, verification, execution and reporting, repairing
// and retrying within an attempt budget.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"backforge/internal/logging"
	"backforge/internal/market"
	"backforge/internal/metrics"
	"backforge/internal/report"
	"backforge/internal/runner"
	"backforge/internal/spec"
	"backforge/internal/synth"
	"backforge/internal/tools"
	"backforge/internal/verification"
)

// DefaultMaxAttempts is the attempt budget when none is configured.
const DefaultMaxAttempts = 5

// SpecValidator builds a StrategySpec from raw intent.
type SpecValidator interface {
	Validate(input interface{}) (spec.StrategySpec, error)
}

// ToolResolver maps capability names to helper descriptors.
type ToolResolver interface {
	Resolve(names []string) []tools.Descriptor
}

// Synthesizer produces candidates.
type Synthesizer interface {
	Synthesize(ctx context.Context, s spec.StrategySpec, ds []tools.Descriptor, attempt int) (synth.Candidate, error)
	Repair(ctx context.Context, s spec.StrategySpec, ds []tools.Descriptor, attempt int, f synth.Failure) (synth.Candidate, error)
}

// CodeVerifier statically checks a candidate file.
type CodeVerifier interface {
	Verify(path string) error
}

// Executor runs a candidate and evaluates its output.
type Executor interface {
	Execute(ctx context.Context, path string, s spec.StrategySpec) (metrics.EvaluatedOutcome, error)
}

// ResultVerifier checks an evaluated outcome.
type ResultVerifier interface {
	Verify(o metrics.EvaluatedOutcome) (bool, []string)
}

// Deps are the stage collaborators of an Orchestrator.
type Deps struct {
	Validator    SpecValidator
	Resolver     ToolResolver
	Synthesizer  Synthesizer
	CodeVerifier CodeVerifier
	Executor     Executor
	Results      ResultVerifier
	Reporter     report.Reporter
	DefaultTools []string
}

// Orchestrator runs the state machine. One instance serves one run at a time.
type Orchestrator struct {
	deps        Deps
	maxAttempts int
	runID       string

	// Observe, when set, is called on entry to every state.
	Observe func(State, AttemptContext)
}

// New creates an orchestrator. maxAttempts < 1 means DefaultMaxAttempts.
func New(deps Deps, maxAttempts int) *Orchestrator {
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxAttempts
	}
	if len(deps.DefaultTools) == 0 {
		deps.DefaultTools = spec.DefaultTools
	}
	o := &Orchestrator{deps: deps, maxAttempts: maxAttempts}
	if s, ok := deps.Synthesizer.(interface{ RunID() string }); ok {
		o.runID = s.RunID()
	}
	return o
}

// MaxAttempts returns the attempt budget.
func (o *Orchestrator) MaxAttempts() int {
	return o.maxAttempts
}

// Execute runs prompt through the pipeline. Spec validation failures,
// cancellation before validation and report write failures are returned as
// errors. Every other failure ends in a fail verdict.
func (o *Orchestrator) Execute(ctx context.Context, prompt interface{}) (WorkflowOutcome, error) {
	ac := newAttemptContext()
	state := StateGuard

	for {
		if o.Observe != nil {
			o.Observe(state, ac)
		}
		if err := ctx.Err(); err != nil && state != StateReport {
			if state == StateGuard {
				return WorkflowOutcome{}, err
			}
			ac.FinalReason = fmt.Sprintf("cancelled in %s: %v", state, err)
			state = StateReport
			continue
		}

		var out Outcome
		switch state {
		case StateGuard:
			s, err := o.deps.Validator.Validate(prompt)
			if err != nil {
				logging.PipelineWarn("spec rejected: %v", err)
				return WorkflowOutcome{}, err
			}
			ac.Spec = s
		case StateRetrieve:
			ac = o.retrieve(ac)
		case StateCode:
			ac, out = o.code(ctx, ac)
		case StateCodeVerify:
			ac, out = o.codeVerify(ac)
		case StateRun:
			ac, out = o.run(ctx, ac)
		case StateResultVerify:
			ac, out = o.resultVerify(ac)
		case StateReport:
			return o.report(ac)
		}

		next := Transition(state, out)
		logging.PipelineDebug("attempt %d: %s -[%s]-> %s", ac.Attempt, state, out, next)
		state = next
	}
}

func (o *Orchestrator) retrieve(ac AttemptContext) AttemptContext {
	names := ac.Spec.Tools
	if len(names) == 0 {
		names = o.deps.DefaultTools
	}
	ac.Tools = o.deps.Resolver.Resolve(names)
	logging.Pipeline("resolved %d tools: %s", len(ac.Tools), strings.Join(tools.DescriptorNames(ac.Tools), ","))
	return ac
}

func (o *Orchestrator) code(ctx context.Context, ac AttemptContext) (AttemptContext, Outcome) {
	var (
		c   synth.Candidate
		err error
	)
	repairing := ac.repairing()
	if repairing {
		c, err = o.deps.Synthesizer.Repair(ctx, ac.Spec, ac.Tools, ac.Attempt, ac.Failure)
	} else {
		c, err = o.deps.Synthesizer.Synthesize(ctx, ac.Spec, ac.Tools, ac.Attempt)
	}
	if err != nil {
		return o.fail(ac, err, fmt.Sprintf("attempt %d: generation failed -> %v", ac.Attempt, err))
	}

	ac.Candidate = c
	ac = ac.withArtifact(c.Path)
	if repairing {
		ac = ac.withLog(fmt.Sprintf("attempt %d: fixer regenerated strategy with hint '%s'", ac.Attempt, c.Hint))
		ac.Failure = synth.Failure{}
	} else {
		ac = ac.withLog(fmt.Sprintf("attempt %d: coder generated strategy at %s", ac.Attempt, c.Path))
	}
	return ac, Succeeded
}

func (o *Orchestrator) codeVerify(ac AttemptContext) (AttemptContext, Outcome) {
	if err := o.deps.CodeVerifier.Verify(ac.Candidate.Path); err != nil {
		return o.fail(ac, err, fmt.Sprintf("attempt %d: code verification failed -> %v", ac.Attempt, err))
	}
	return ac.withLog(fmt.Sprintf("attempt %d: code verification passed", ac.Attempt)), Succeeded
}

func (o *Orchestrator) run(ctx context.Context, ac AttemptContext) (AttemptContext, Outcome) {
	res, err := o.deps.Executor.Execute(ctx, ac.Candidate.Path, ac.Spec)
	if err != nil {
		return o.fail(ac, err, fmt.Sprintf("attempt %d: runtime error -> %v", ac.Attempt, err))
	}
	ac.Result = &res
	return ac.withLog(fmt.Sprintf("attempt %d: runner executed successfully", ac.Attempt)), Succeeded
}

func (o *Orchestrator) resultVerify(ac AttemptContext) (AttemptContext, Outcome) {
	if ac.Result == nil {
		return o.fail(ac, errors.New("no backtest result to verify"),
			fmt.Sprintf("attempt %d: verifier skipped (missing result)", ac.Attempt))
	}
	ok, failed := o.deps.Results.Verify(*ac.Result)
	res := *ac.Result
	res.Issues = failed
	ac.Result = &res
	if ok {
		ac.Verdict = VerdictPass
		return ac.withLog(fmt.Sprintf("attempt %d: verifier passed", ac.Attempt)), Succeeded
	}

	msg := fmt.Sprintf("verifier failed checks: [%s]", strings.Join(failed, ", "))
	next, out := o.fail(ac, &checksFailedError{msg: msg}, fmt.Sprintf("attempt %d: %s", ac.Attempt, msg))
	next.Failure.FailedChecks = append([]string(nil), failed...)
	return next, out
}

type checksFailedError struct{ msg string }

func (e *checksFailedError) Error() string { return e.msg }

// fail records a stage failure, spends one attempt and bumps the seed. The
// returned outcome says whether budget remains for another Code visit.
func (o *Orchestrator) fail(ac AttemptContext, err error, line string) (AttemptContext, Outcome) {
	logging.PipelineWarn("%s", line)
	ac = ac.withLog(line)
	ac.Failure = synth.Failure{Kind: Classify(err), Message: err.Error()}
	ac.Attempt++
	ac.Spec = ac.Spec.WithSeed(ac.Spec.Seed + 1)
	if ac.Attempt > o.maxAttempts {
		ac.FinalReason = err.Error()
		return ac, Exhausted
	}
	return ac, Failed
}

// Classify maps a stage error to the failure kind used for repair hints.
func Classify(err error) synth.FailureKind {
	var (
		ge  *synth.GenerationError
		sie *verification.StaticInvalidError
		due *market.DataUnavailableError
		cve *runner.ContractViolationError
		te  *runner.TimeoutError
		cfe *checksFailedError
	)
	switch {
	case err == nil:
		return synth.FailureNone
	case errors.As(err, &ge):
		return synth.FailureGeneration
	case errors.As(err, &sie):
		return synth.FailureStatic
	case errors.As(err, &due):
		return synth.FailureData
	case errors.As(err, &cve):
		return synth.FailureContract
	case errors.As(err, &te):
		return synth.FailureTimeout
	case errors.As(err, &cfe):
		return synth.FailureChecks
	default:
		return synth.FailureRuntime
	}
}

func (o *Orchestrator) report(ac AttemptContext) (WorkflowOutcome, error) {
	out := WorkflowOutcome{
		RunID:       o.runID,
		Spec:        ac.Spec,
		Verdict:     ac.Verdict,
		Attempts:    min(ac.Attempt, o.maxAttempts),
		MaxAttempts: o.maxAttempts,
		Artifacts:   ac.Artifacts,
		Logs:        ac.Logs,
		Metrics:     map[string]float64{},
		Tools:       tools.DescriptorNames(ac.Tools),
	}

	var (
		path string
		err  error
	)
	if ac.Verdict == VerdictPass && ac.Result != nil {
		out.Outcome = ac.Result
		out.Metrics = ac.Result.AsMap()
		path, err = o.deps.Reporter.WriteSuccess(ac.Spec.Name, *ac.Result)
	} else {
		out.Verdict = VerdictFail
		reason := ac.FinalReason
		if reason == "" {
			reason = ac.Failure.Message
		}
		if reason == "" {
			reason = "unknown failure"
		}
		out.FinalReason = reason
		path, err = o.deps.Reporter.WriteFailure(ac.Spec.Name, reason, ac.Logs)
	}
	out.ReportPath = path
	logging.Pipeline("run %s finished: verdict=%s attempts=%d report=%s", ac.Spec.Name, out.Verdict, out.Attempts, path)
	if err != nil {
		return out, fmt.Errorf("write report: %w", err)
	}
	return out, nil
}
