// Package synth generates strategy candidates and repairs them from the
// failure of the previous attempt.
package synth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/google/uuid"

	"backforge/internal/llm"
	"backforge/internal/logging"
	"backforge/internal/spec"
	"backforge/internal/tools"
)

// Candidate is one generated implementation.
type Candidate struct {
	Path    string
	Hint    string
	Source  string
	Attempt int
}

// Synthesizer turns specs into candidate files under workDir/<runID>.
type Synthesizer struct {
	client  llm.Client
	workDir string
	runID   string
}

// New creates a synthesizer with a fresh run ID.
func New(client llm.Client, workDir string) *Synthesizer {
	return &Synthesizer{
		client:  client,
		workDir: workDir,
		runID:   uuid.NewString(),
	}
}

// RunID identifies the directory holding this synthesizer's candidates.
func (s *Synthesizer) RunID() string {
	return s.runID
}

// Dir is the directory candidates are written to.
func (s *Synthesizer) Dir() string {
	return filepath.Join(s.workDir, s.runID)
}

// Synthesize performs direct synthesis.
func (s *Synthesizer) Synthesize(ctx context.Context, sp spec.StrategySpec, ds []tools.Descriptor, attempt int) (Candidate, error) {
	return s.generate(ctx, sp, ds, attempt, InitialHint)
}

// Repair performs synthesis with a hint derived from f.
func (s *Synthesizer) Repair(ctx context.Context, sp spec.StrategySpec, ds []tools.Descriptor, attempt int, f Failure) (Candidate, error) {
	hint := BuildHint(sp.Task, attempt, f)
	logging.CoderDebug("repair hint for attempt %d (%s): %s", attempt, f.Kind, hint)
	return s.generate(ctx, sp, ds, attempt, hint)
}

func (s *Synthesizer) generate(ctx context.Context, sp spec.StrategySpec, ds []tools.Descriptor, attempt int, hint string) (Candidate, error) {
	timer := logging.StartTimer(logging.CategoryCoder, fmt.Sprintf("generate attempt %d", attempt))
	defer timer.Stop()

	system, user := BuildPrompts(sp, ds, attempt, hint)
	reply, err := s.client.CompleteWithSystem(ctx, system, user)
	if err != nil {
		logging.CoderWarn("attempt %d: generation call failed: %v", attempt, err)
		return Candidate{}, &GenerationError{Attempt: attempt, Err: err}
	}
	code := ExtractCode(reply)
	if code == "" {
		return Candidate{}, &GenerationError{Attempt: attempt, Err: llm.ErrEmptyResponse}
	}

	path, err := s.writeFresh(sp.Name, attempt, code)
	if err != nil {
		return Candidate{}, fmt.Errorf("write candidate: %w", err)
	}
	logging.Coder("attempt %d: wrote %d bytes to %s", attempt, len(code), path)
	return Candidate{Path: path, Hint: hint, Source: code, Attempt: attempt}, nil
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9_]+`)

// writeFresh creates a new file for the candidate, never reusing a path.
func (s *Synthesizer) writeFresh(name string, attempt int, code string) (string, error) {
	dir := s.Dir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	base := unsafeName.ReplaceAllString(name, "_")
	if base == "" {
		base = "candidate"
	}
	for n := 1; ; n++ {
		file := fmt.Sprintf("strategy_%s_attempt%d.go", base, attempt)
		if n > 1 {
			file = fmt.Sprintf("strategy_%s_attempt%d_%d.go", base, attempt, n)
		}
		path := filepath.Join(dir, file)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", err
		}
		if _, err := f.WriteString(code); err != nil {
			f.Close()
			return "", err
		}
		return path, f.Close()
	}
}
