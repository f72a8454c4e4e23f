package cognition

import (
	"context"
	"errors"
	"sync"
	"time"
)

var epoch = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// scriptedEffector wraps WorldModel and lets tests fail or stall individual actions.
type scriptedEffector struct {
	mu          sync.Mutex
	simulateErr map[string]error
	executeErr  error
	blockExec   bool
	simulated   []string
	executed    []string
}

func (e *scriptedEffector) Simulate(ctx context.Context, s Situation, action string) ([]SimResult, error) {
	e.mu.Lock()
	e.simulated = append(e.simulated, action)
	err := e.simulateErr[action]
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return WorldModel{}.Simulate(ctx, s, action)
}

func (e *scriptedEffector) Execute(ctx context.Context, action string) (string, error) {
	e.mu.Lock()
	e.executed = append(e.executed, action)
	block, err := e.blockExec, e.executeErr
	e.mu.Unlock()
	if block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if err != nil {
		return "", err
	}
	return WorldModel{}.Execute(ctx, action)
}

func (e *scriptedEffector) executions() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.executed...)
}

var errWorldDown = errors.New("world is down")

func edgeAt(context, action string, ts time.Time) MemoryEdge {
	return MemoryEdge{
		Situation:  NewSituation(context, nil, map[string]float64{SignalUncertainty: 0.5}, ts),
		Action:     action,
		Outcome:    "outcome_of_" + action,
		Strength:   initialStrength,
		Importance: initialImportance,
		LastUsed:   ts,
	}
}
