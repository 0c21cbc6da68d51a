package pipeline

import (
	"slices"

	"backforge/internal/metrics"
	"backforge/internal/spec"
	"backforge/internal/synth"
	"backforge/internal/tools"
)

// Verdict is the terminal classification of a run.
type Verdict string

const (
	VerdictPass Verdict = "pass"
	VerdictFail Verdict = "fail"
)

// AttemptContext is the state threaded through the stages. Stages take it by
// value and return the updated copy; the helpers below never append into a
// slice another copy can see.
type AttemptContext struct {
	Spec        spec.StrategySpec
	Tools       []tools.Descriptor
	Attempt     int
	Candidate   synth.Candidate
	Failure     synth.Failure
	Result      *metrics.EvaluatedOutcome
	Verdict     Verdict
	FinalReason string
	Artifacts   []string
	Logs        []string
}

func newAttemptContext() AttemptContext {
	return AttemptContext{Attempt: 1, Verdict: VerdictFail}
}

func (c AttemptContext) withLog(line string) AttemptContext {
	c.Logs = append(slices.Clip(c.Logs), line)
	return c
}

func (c AttemptContext) withArtifact(path string) AttemptContext {
	c.Artifacts = append(slices.Clip(c.Artifacts), path)
	return c
}

// repairing reports whether the next Code visit is a repair.
func (c AttemptContext) repairing() bool {
	return c.Attempt > 1 || !c.Failure.IsZero()
}

// WorkflowOutcome is the result of one pipeline run.
type WorkflowOutcome struct {
	RunID       string
	Spec        spec.StrategySpec
	Verdict     Verdict
	Attempts    int
	MaxAttempts int
	Artifacts   []string
	Logs        []string
	Metrics     map[string]float64
	Outcome     *metrics.EvaluatedOutcome
	Tools       []string
	ReportPath  string
	FinalReason string
}

// Passed reports whether the verdict is pass.
func (w WorkflowOutcome) Passed() bool {
	return w.Verdict == VerdictPass
}

// LastArtifact is the path of the final candidate, or "".
func (w WorkflowOutcome) LastArtifact() string {
	if len(w.Artifacts) == 0 {
		return ""
	}
	return w.Artifacts[len(w.Artifacts)-1]
}
