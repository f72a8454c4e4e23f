package cognition

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// SimResult is one predicted outcome of taking an action in a situation.
type SimResult struct {
	NextContext string  `json:"next_context"`
	Risk        float64 `json:"risk"`
	Benefit     float64 `json:"benefit"`
	Uncertainty float64 `json:"uncertainty"`
}

// Effector is the agent's only way to touch the world. Simulate predicts and
// must not have side effects; Execute acts and is called at most once per cycle.
type Effector interface {
	Simulate(ctx context.Context, situation Situation, action string) ([]SimResult, error)
	Execute(ctx context.Context, action string) (string, error)
}

const (
	defaultRisk        = 0.3
	defaultUncertainty = 0.3
	observeBenefit     = 0.2
	actBenefit         = 0.6
)

// WorldModel is the built-in effector. It predicts the context is unchanged,
// takes risk and uncertainty from the situation's signals and rates observing
// as less beneficial than acting. Execution yields "outcome_of_<action>".
type WorldModel struct{}

var _ Effector = WorldModel{}

func (WorldModel) Simulate(ctx context.Context, situation Situation, action string) ([]SimResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	benefit := actBenefit
	if action == ActionObserve {
		benefit = observeBenefit
	}
	return []SimResult{{
		NextContext: situation.Context(),
		Risk:        situation.SignalOr(SignalRisk, defaultRisk),
		Benefit:     benefit,
		Uncertainty: situation.SignalOr(SignalUncertainty, defaultUncertainty),
	}}, nil
}

func (WorldModel) Execute(ctx context.Context, action string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return "outcome_of_" + action, nil
}

// TimeoutEffector bounds every call of the wrapped effector and normalises its
// failures to ErrEffectorTimeout or ErrEffectorUnavailable.
type TimeoutEffector struct {
	next            Effector
	simulateTimeout time.Duration
	executeTimeout  time.Duration
}

var _ Effector = (*TimeoutEffector)(nil)

// NewTimeoutEffector wraps next. A zero timeout leaves that call unbounded.
func NewTimeoutEffector(next Effector, simulateTimeout, executeTimeout time.Duration) *TimeoutEffector {
	return &TimeoutEffector{next: next, simulateTimeout: simulateTimeout, executeTimeout: executeTimeout}
}

func (t *TimeoutEffector) Simulate(ctx context.Context, situation Situation, action string) ([]SimResult, error) {
	ctx, cancel := withOptionalTimeout(ctx, t.simulateTimeout)
	defer cancel()

	type result struct {
		sims []SimResult
		err  error
	}
	done := make(chan result, 1)
	go func() {
		sims, err := t.next.Simulate(ctx, situation, action)
		done <- result{sims: sims, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, classifyEffectorError(ctx, r.err, "simulate %q", action)
		}
		return r.sims, nil
	case <-ctx.Done():
		return nil, classifyEffectorError(ctx, ctx.Err(), "simulate %q", action)
	}
}

func (t *TimeoutEffector) Execute(ctx context.Context, action string) (string, error) {
	ctx, cancel := withOptionalTimeout(ctx, t.executeTimeout)
	defer cancel()

	type result struct {
		outcome string
		err     error
	}
	done := make(chan result, 1)
	go func() {
		outcome, err := t.next.Execute(ctx, action)
		done <- result{outcome: outcome, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return "", classifyEffectorError(ctx, r.err, "execute %q", action)
		}
		return r.outcome, nil
	case <-ctx.Done():
		return "", classifyEffectorError(ctx, ctx.Err(), "execute %q", action)
	}
}

func withOptionalTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func classifyEffectorError(ctx context.Context, err error, format string, args ...any) error {
	if stderrors.Is(err, ErrEffectorTimeout) || stderrors.Is(err, ErrEffectorUnavailable) {
		return errors.Wrapf(err, format, args...)
	}
	kind := ErrEffectorUnavailable
	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
		kind = ErrEffectorTimeout
	}
	return errors.Wrapf(fmt.Errorf("%w: %w", kind, err), format, args...)
}
