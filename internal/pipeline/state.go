package pipeline

import "fmt"

// State is a node of the pipeline state machine.
type State int

const (
	StateGuard State = iota
	StateRetrieve
	StateCode
	StateCodeVerify
	StateRun
	StateResultVerify
	StateReport
)

func (s State) String() string {
	switch s {
	case StateGuard:
		return "guard"
	case StateRetrieve:
		return "retrieve"
	case StateCode:
		return "code"
	case StateCodeVerify:
		return "code_verify"
	case StateRun:
		return "run"
	case StateResultVerify:
		return "result_verify"
	case StateReport:
		return "report"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Outcome is what a stage reports back to the state machine.
type Outcome int

const (
	// Succeeded moves forward.
	Succeeded Outcome = iota
	// Failed returns to Code; the attempt budget is not yet spent.
	Failed
	// Exhausted goes to Report; the attempt budget is spent.
	Exhausted
)

func (o Outcome) String() string {
	switch o {
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	case Exhausted:
		return "exhausted"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Transition is the pipeline's edge table.
func Transition(s State, o Outcome) State {
	switch s {
	case StateGuard:
		return StateRetrieve
	case StateRetrieve:
		return StateCode
	case StateCode:
		return route(o, StateCodeVerify)
	case StateCodeVerify:
		return route(o, StateRun)
	case StateRun:
		return route(o, StateResultVerify)
	case StateResultVerify:
		return route(o, StateReport)
	case StateReport:
		return StateReport
	}
	panic(fmt.Sprintf("pipeline: no transition from %s", s))
}

func route(o Outcome, next State) State {
	switch o {
	case Succeeded:
		return next
	case Failed:
		return StateCode
	case Exhausted:
		return StateReport
	}
	panic(fmt.Sprintf("pipeline: unknown outcome %s", o))
}
