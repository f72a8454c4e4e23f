package cognition

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/cogniagent/internal/core/events/bus"
	"github.com/zeusync/cogniagent/internal/core/observability/log"
)

func newTestAgent(t *testing.T, cfg Config, opts ...Option) *Agent {
	t.Helper()
	opts = append([]Option{WithClock(fixedClock(epoch)), WithLogger(log.Nop())}, opts...)
	a, err := NewAgent(cfg, opts...)
	require.NoError(t, err)
	return a
}

func securityQuestion() Input {
	return Input{
		Context:  "user_security_question",
		Entities: []string{"api_key", "local_machine"},
		Signals:  map[string]float64{SignalRisk: 0.9, SignalUncertainty: 0.6, SignalNovelty: 0.4},
	}
}

func TestNewAgentRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DecayWindow = 0
	_, err := NewAgent(cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestNewAgentDefaults(t *testing.T) {
	a, err := NewAgent(DefaultConfig())
	require.NoError(t, err)
	assert.NotEmpty(t, a.ID())
	assert.Equal(t, DefaultConfig(), a.Config())

	named := newTestAgent(t, DefaultConfig(), WithID("agent-7"))
	assert.Equal(t, "agent-7", named.ID())
}

func TestFirstStepExploresClarification(t *testing.T) {
	a := newTestAgent(t, DefaultConfig())
	in := Input{Context: "c1", Signals: map[string]float64{SignalUncertainty: 0.6, SignalRisk: 0.9}}

	res, err := a.StepInput(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, StatusExploration, res.Status)
	assert.Equal(t, ActionAskClarification, res.Action)
	assert.Equal(t, "outcome_of_ask_clarification", res.Outcome)
	assert.Equal(t, 0.1, res.Confidence)
	assert.Equal(t, 1.0, res.Surprise)
	assert.InDelta(t, 0.3, res.Situation.SignalOr(SignalUncertainty, -1), 1e-9)

	edges := a.Snapshot()
	require.Len(t, edges, 1)
	e := edges[0]
	assert.Equal(t, "c1", e.Context())
	assert.Equal(t, ActionAskClarification, e.Action)
	assert.Equal(t, 1, e.UsageCount)
	assert.InDelta(t, 0.2, e.Fatigue, 1e-9)
	assert.InDelta(t, 1.2, e.Strength, 1e-9)
	assert.InDelta(t, 2.0, e.Importance, 1e-9)
	assert.False(t, e.Completed)
	require.NotNil(t, res.Edge)
	assert.Equal(t, e.UsageCount, res.Edge.UsageCount)
}

func TestConfidentAgentExecutes(t *testing.T) {
	a := newTestAgent(t, DefaultConfig())
	seeded := edgeAt("c1", "assist", epoch)
	seeded.UsageCount = 5
	seeded.Importance = 2
	seeded.Strength = 3
	require.NoError(t, a.Seed(seeded))

	res, err := a.StepInput(context.Background(), Input{Context: "c1", Signals: map[string]float64{SignalRisk: 0.1}})
	require.NoError(t, err)

	assert.Equal(t, StatusExecuted, res.Status)
	assert.Equal(t, "assist", res.Action)
	assert.Greater(t, res.Confidence, 0.65)

	e, ok := a.store.Find("c1", "assist")
	require.True(t, ok)
	assert.Equal(t, 6, e.UsageCount)
	assert.InDelta(t, 3+1.1, e.Strength, 1e-9)
}

func TestGateExploresWithLittleExperience(t *testing.T) {
	a := newTestAgent(t, DefaultConfig())
	seeded := edgeAt("c1", "assist", epoch)
	seeded.Strength = 0
	seeded.Importance = 2
	seeded.UsageCount = 2
	require.NoError(t, a.Seed(seeded))

	res, err := a.StepInput(context.Background(), Input{Context: "c1"})
	require.NoError(t, err)
	assert.Equal(t, StatusExploration, res.Status)
	assert.Equal(t, "assist", res.Action)
	assert.Equal(t, 0.5, res.Confidence)
}

func TestGateAbstainsWithExperienceButNoConfidence(t *testing.T) {
	a := newTestAgent(t, DefaultConfig())
	seeded := edgeAt("c1", "assist", epoch)
	seeded.Strength = 0
	seeded.Importance = 2
	seeded.UsageCount = 5
	require.NoError(t, a.Seed(seeded))
	before := a.Snapshot()

	in := Input{Context: "c1", Signals: map[string]float64{SignalRisk: 0.4}}
	res, err := a.StepInput(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, StatusNoAction, res.Status)
	assert.Equal(t, NoAction, res.Outcome)
	assert.Empty(t, res.Action)
	assert.Nil(t, res.Edge)
	assert.Equal(t, 0.4, res.Situation.SignalOr(SignalRisk, -1))
	assert.Equal(t, before, a.Snapshot())
}

func TestExecuteFailureLeavesStoreUntouched(t *testing.T) {
	eff := &scriptedEffector{executeErr: errWorldDown}
	a := newTestAgent(t, DefaultConfig(), WithEffector(eff))

	_, err := a.StepInput(context.Background(), securityQuestion())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExecutionFailed)
	assert.ErrorIs(t, err, ErrEffectorUnavailable)
	assert.ErrorIs(t, err, errWorldDown)

	var serr *StepError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, PhaseExecute, serr.Phase)
	assert.Equal(t, ActionAskClarification, serr.Action)
	assert.Empty(t, a.Snapshot())
}

func TestExecuteTimeoutLeavesStoreUntouched(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ExecuteTimeout = 20 * time.Millisecond
	eff := &scriptedEffector{blockExec: true}
	a := newTestAgent(t, cfg, WithEffector(eff))

	_, err := a.StepInput(context.Background(), securityQuestion())
	assert.ErrorIs(t, err, ErrExecutionFailed)
	assert.ErrorIs(t, err, ErrEffectorTimeout)
	assert.Empty(t, a.Snapshot())
	assert.Equal(t, []string{ActionAskClarification}, eff.executions())
}

func TestPartialSimulationFailureStillDecides(t *testing.T) {
	eff := &scriptedEffector{simulateErr: map[string]error{ActionAskClarification: errWorldDown}}
	a := newTestAgent(t, DefaultConfig(), WithEffector(eff))

	res, err := a.StepInput(context.Background(), securityQuestion())
	require.NoError(t, err)
	assert.Equal(t, ActionObserve, res.Action)
	assert.Equal(t, StatusExploration, res.Status)
}

func TestAllSimulationsFailing(t *testing.T) {
	eff := &scriptedEffector{simulateErr: map[string]error{
		ActionAskClarification: errWorldDown,
		ActionObserve:          errWorldDown,
	}}
	a := newTestAgent(t, DefaultConfig(), WithEffector(eff))

	_, err := a.StepInput(context.Background(), securityQuestion())
	assert.ErrorIs(t, err, ErrNoViableAction)
	assert.Empty(t, eff.executions())
	assert.Empty(t, a.Snapshot())
}

func TestNoFallbackSurfacesAtCycleTime(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FallbackActions = nil
	a := newTestAgent(t, cfg)

	_, err := a.StepInput(context.Background(), securityQuestion())
	assert.ErrorIs(t, err, ErrNoCandidateActions)
	var serr *StepError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, PhasePropose, serr.Phase)
}

func TestInvalidInput(t *testing.T) {
	events := bus.New()
	var failures []StepFailure
	a := newTestAgent(t, DefaultConfig(), WithID("a1"), WithEventBus(events))
	_, err := events.SubscribeTopic("a1", EventStepFailed, func(e bus.Event) error {
		failures = append(failures, e.Data().(StepFailure))
		return nil
	})
	require.NoError(t, err)

	_, err = a.StepInput(context.Background(), Input{Signals: map[string]float64{SignalRisk: 1}})
	assert.ErrorIs(t, err, ErrInvalidInput)
	require.Len(t, failures, 1)
	assert.Equal(t, PhaseEncode, failures[0].Phase)
	assert.Empty(t, a.Snapshot())
}

func TestDemoReplay(t *testing.T) {
	a := newTestAgent(t, DefaultConfig())

	situation, err := Encode(securityQuestion())
	require.NoError(t, err)

	var statuses []StepStatus
	var uncertainty []float64
	var results []StepResult
	for i := 0; i < 6; i++ {
		res, err := a.Step(context.Background(), situation)
		require.NoError(t, err, "step %d", i+1)
		statuses = append(statuses, res.Status)
		uncertainty = append(uncertainty, res.Situation.SignalOr(SignalUncertainty, -1))
		results = append(results, res)
		situation = res.Situation
	}

	assert.Equal(t, []StepStatus{
		StatusExploration,
		StatusExecuted,
		StatusExecuted,
		StatusNoAction,
		StatusNoAction,
		StatusNoAction,
	}, statuses)
	assert.InDeltaSlice(t, []float64{0.3, 0, 0, 0, 0, 0}, uncertainty, 1e-9)
	assert.InDelta(t, 0, results[5].Situation.SignalOr(SignalNovelty, -1), 1e-9)
	for _, res := range results[:3] {
		assert.Equal(t, ActionAskClarification, res.Action)
	}
	assert.True(t, results[2].Edge.Completed)
	assert.Equal(t, 0.1, results[3].Confidence)
	assert.Equal(t, results[3].Situation.Signals(), results[2].Situation.Signals())

	edges := a.Snapshot()
	require.Len(t, edges, 1)
	assert.Equal(t, 3, edges[0].UsageCount)
	assert.True(t, edges[0].Completed)
	assert.InDelta(t, 0.6, edges[0].Fatigue, 1e-9)
}

func TestAtMostOneEdgePerContextAndAction(t *testing.T) {
	a := newTestAgent(t, DefaultConfig())
	for i := 0; i < 4; i++ {
		_, err := a.StepInput(context.Background(), Input{Context: "c1"})
		require.NoError(t, err)
		_, err = a.StepInput(context.Background(), Input{Context: "c2", Signals: map[string]float64{SignalRisk: 0.1}})
		require.NoError(t, err)
	}

	seen := map[edgeKey]bool{}
	for _, e := range a.Snapshot() {
		k := e.key()
		assert.False(t, seen[k], "duplicate edge %v", k)
		seen[k] = true
	}
}

func TestStepsPublishEvents(t *testing.T) {
	events := bus.New()
	a := newTestAgent(t, DefaultConfig(), WithID("agent-1"), WithEventBus(events))

	var mu sync.Mutex
	var types []string
	_, err := events.SubscribeTopic("agent-1", bus.AnyType, func(e bus.Event) error {
		mu.Lock()
		defer mu.Unlock()
		types = append(types, e.Type())
		assert.Equal(t, "agent-1", e.Source())
		return nil
	})
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		_, err := a.StepInput(context.Background(), securityQuestion())
		require.NoError(t, err)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{
		EventStepExploration,
		EventStepExecuted,
		EventStepExecuted,
		EventStepAbstained,
	}, types)
}

func TestPruneRemovesDecayedEdges(t *testing.T) {
	now := epoch
	a := newTestAgent(t, DefaultConfig(), WithClock(func() time.Time { return now }))
	_, err := a.StepInput(context.Background(), securityQuestion())
	require.NoError(t, err)
	require.Len(t, a.Inspect(), 1)
	assert.Greater(t, a.Inspect()[0].ForgettingScore, 1.0)

	now = epoch.Add(10 * time.Hour)
	assert.Equal(t, 1, a.Prune())
	assert.Empty(t, a.Snapshot())
}

func TestConcurrentStepsAreSerialised(t *testing.T) {
	a := newTestAgent(t, DefaultConfig())

	var mu sync.Mutex
	acted := 0
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := a.StepInput(context.Background(), Input{Context: "shared", Signals: map[string]float64{SignalRisk: 0.1}})
			if !assert.NoError(t, err) {
				return
			}
			if res.Status != StatusNoAction {
				mu.Lock()
				acted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	// every action taken is accounted for exactly once
	total := 0
	for _, e := range a.Snapshot() {
		total += e.UsageCount
	}
	assert.Equal(t, acted, total)
}
