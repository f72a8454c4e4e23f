package cognition

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrInvalidConfig       = errors.New("invalid cognition configuration")
	ErrEffectorUnavailable = errors.New("effector unavailable")
	ErrEffectorTimeout     = errors.New("effector timeout")
	ErrNoViableAction      = errors.New("no viable action")
	ErrExecutionFailed     = errors.New("execution failed")
	ErrNoCandidateActions  = errors.New("no candidate actions")
	ErrDuplicateEdge       = errors.New("duplicate memory edge")
)

// Phase names the point of the cycle at which a StepError was raised.
type Phase string

const (
	PhaseEncode   Phase = "encode"
	PhasePropose  Phase = "propose"
	PhaseSimulate Phase = "simulate"
	PhaseExecute  Phase = "execute"
)

// StepError reports a failed cycle. It matches both Kind and Cause with errors.Is.
type StepError struct {
	Phase  Phase
	Action string
	Kind   error
	Cause  error
}

func (e *StepError) Error() string {
	msg := fmt.Sprintf("cognitive step failed during %s", e.Phase)
	if e.Action != "" {
		msg += fmt.Sprintf(" of %q", e.Action)
	}
	msg += ": " + e.Kind.Error()
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *StepError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

func newStepError(phase Phase, action string, kind, cause error) *StepError {
	return &StepError{Phase: phase, Action: action, Kind: kind, Cause: cause}
}
