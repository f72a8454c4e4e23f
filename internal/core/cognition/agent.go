package cognition

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zeusync/cogniagent/internal/core/events/bus"
	"github.com/zeusync/cogniagent/internal/core/observability/log"
)

// NoAction is the outcome reported when the agent abstains.
const NoAction = "NO_ACTION"

type StepStatus string

const (
	StatusExecuted    StepStatus = "executed"
	StatusExploration StepStatus = "exploration"
	StatusNoAction    StepStatus = "no_action"
)

// Events published on the agent's topic of the bus.
const (
	EventStepExecuted    = "cognition.step.executed"
	EventStepExploration = "cognition.step.exploration"
	EventStepAbstained   = "cognition.step.abstained"
	EventStepFailed      = "cognition.step.failed"
	EventMemoryPruned    = "cognition.memory.pruned"
)

// StepResult is the outcome of one decision-act-learn cycle.
type StepResult struct {
	ID         string     `json:"id"`
	Status     StepStatus `json:"status"`
	Action     string     `json:"action,omitempty"`
	Outcome    string     `json:"outcome"`
	Confidence float64    `json:"confidence"`
	Surprise   float64    `json:"surprise,omitempty"`
	// Situation is the derived situation after acting, or the input situation on abstention.
	Situation Situation `json:"situation"`
	// Edge is the reinforced edge as it stood before pruning; nil on abstention.
	Edge   *MemoryEdge `json:"edge,omitempty"`
	Pruned int         `json:"pruned"`
}

// EdgeReport pairs an edge with its current forgetting score.
type EdgeReport struct {
	MemoryEdge
	ForgettingScore float64 `json:"forgetting_score"`
}

// Agent runs cognitive steps against its own experience store. Steps on one
// agent are serialised; separate agents share nothing and run in parallel.
// Bus handlers run while the agent's lock is held and must not call back into it.
type Agent struct {
	mu       sync.Mutex
	id       string
	cfg      Config
	store    *ExperienceStore
	policy   *Policy
	effector Effector
	events   bus.EventBus
	logger   log.Log
	clock    func() time.Time
}

type Option func(*Agent)

func WithID(id string) Option { return func(a *Agent) { a.id = id } }

// WithEffector sets the effector; it is wrapped with the configured timeouts.
func WithEffector(e Effector) Option { return func(a *Agent) { a.effector = e } }

func WithEventBus(b bus.EventBus) Option { return func(a *Agent) { a.events = b } }

func WithLogger(l log.Log) Option { return func(a *Agent) { a.logger = l } }

func WithClock(clock func() time.Time) Option { return func(a *Agent) { a.clock = clock } }

func NewAgent(cfg Config, opts ...Option) (*Agent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &Agent{cfg: cfg, clock: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	if a.id == "" {
		a.id = uuid.NewString()
	}
	if a.effector == nil {
		a.effector = WorldModel{}
	}
	if a.logger == nil {
		a.logger = log.Provide()
	}
	a.logger = a.logger.With(log.String("component", "agent"), log.String("agent_id", a.id))
	a.effector = NewTimeoutEffector(a.effector, cfg.SimulateTimeout, cfg.ExecuteTimeout)
	a.store = NewExperienceStore(cfg)
	a.policy = NewPolicy(cfg, a.logger)
	return a, nil
}

func (a *Agent) ID() string     { return a.id }
func (a *Agent) Config() Config { return a.cfg }

// StepInput encodes raw and runs one step on it.
func (a *Agent) StepInput(ctx context.Context, raw Input) (StepResult, error) {
	situation, err := encodeAt(raw, a.clock())
	if err != nil {
		serr := newStepError(PhaseEncode, "", ErrInvalidInput, err)
		a.publish(EventStepFailed, StepFailure{Error: serr.Error(), Phase: serr.Phase})
		return StepResult{}, serr
	}
	return a.Step(ctx, situation)
}

// Step runs one decision-act-learn cycle. On any error the store is left as it was.
func (a *Agent) Step(ctx context.Context, situation Situation) (StepResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	stepID := uuid.NewString()
	logger := a.logger.WithContext(ctx).With(
		log.String("step_id", stepID),
		log.String("context", situation.Context()),
	)

	relevant := a.store.Relevant(situation.Context())
	decision, err := a.policy.Decide(ctx, a.effector, situation, relevant)
	if err != nil {
		return StepResult{}, a.fail(logger, err)
	}
	best := decision.Best

	if decision.Mode == ModeAbstain {
		logger.Info("confidence too low, abstaining",
			log.String("action", best.Action),
			log.Float64("confidence", best.Confidence),
			log.Int("total_experience", decision.TotalExperience),
		)
		result := StepResult{
			ID:         stepID,
			Status:     StatusNoAction,
			Outcome:    NoAction,
			Confidence: best.Confidence,
			Situation:  situation,
		}
		a.publish(EventStepAbstained, result)
		return result, nil
	}
	if decision.Mode == ModeExplore {
		logger.Info("exploring with low confidence",
			log.String("action", best.Action),
			log.Float64("confidence", best.Confidence),
			log.Int("total_experience", decision.TotalExperience),
		)
	}

	outcome, err := a.effector.Execute(ctx, best.Action)
	if err != nil {
		return StepResult{}, a.fail(logger, newStepError(PhaseExecute, best.Action, ErrExecutionFailed, err))
	}

	now := a.clock()
	next := withUpdatedSignalsAt(situation, best.Action, now)
	a.store.Upsert(situation.Context(), best.Action, next, outcome, now)
	surprise := Surprise(outcome, best.SimulatedContexts())
	edge, _ := a.store.Reinforce(situation.Context(), best.Action, Reward, surprise, now)
	edge.Completed = a.store.MarkCompletedIf(situation.Context(), best.Action, next)
	pruned := a.store.Prune(now)

	status := StatusExecuted
	event := EventStepExecuted
	if decision.Mode == ModeExplore {
		status = StatusExploration
		event = EventStepExploration
	}
	result := StepResult{
		ID:         stepID,
		Status:     status,
		Action:     best.Action,
		Outcome:    outcome,
		Confidence: best.Confidence,
		Surprise:   surprise,
		Situation:  next,
		Edge:       &edge,
		Pruned:     pruned,
	}

	logger.Info("action taken",
		log.String("status", string(status)),
		log.String("action", best.Action),
		log.Float64("confidence", best.Confidence),
		log.Float64("uncertainty", next.SignalOr(SignalUncertainty, unknownSignal)),
		log.Float64("fatigue", edge.Fatigue),
		log.Bool("completed", edge.Completed),
		log.Int("pruned", pruned),
	)
	a.publish(event, result)
	if pruned > 0 {
		a.publish(EventMemoryPruned, PruneReport{Removed: pruned, Remaining: a.store.Len()})
	}
	return result, nil
}

// Seed imports edges into the store, for restoring experience or priming an agent.
func (a *Agent) Seed(edges ...MemoryEdge) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.store.Import(edges...)
}

// Inspect returns every edge with its forgetting score at the current time.
func (a *Agent) Inspect() []EdgeReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	now := a.clock()
	edges := a.store.Snapshot()
	out := make([]EdgeReport, len(edges))
	for i, e := range edges {
		out[i] = EdgeReport{MemoryEdge: e, ForgettingScore: a.store.ForgettingScore(e, now)}
	}
	return out
}

// Snapshot returns a copy of every edge in store order.
func (a *Agent) Snapshot() []MemoryEdge {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.store.Snapshot()
}

// Prune forgets decayed edges outside of a step.
func (a *Agent) Prune() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	removed := a.store.Prune(a.clock())
	if removed > 0 {
		a.publish(EventMemoryPruned, PruneReport{Removed: removed, Remaining: a.store.Len()})
	}
	return removed
}

// StepFailure is the payload of EventStepFailed.
type StepFailure struct {
	Error  string `json:"error"`
	Phase  Phase  `json:"phase"`
	Action string `json:"action,omitempty"`
}

// PruneReport is the payload of EventMemoryPruned.
type PruneReport struct {
	Removed   int `json:"removed"`
	Remaining int `json:"remaining"`
}

func (a *Agent) fail(logger log.Log, err error) error {
	f := StepFailure{Error: err.Error()}
	var serr *StepError
	if errors.As(err, &serr) {
		f.Phase = serr.Phase
		f.Action = serr.Action
	}
	logger.Error("cognitive step failed", log.String("phase", string(f.Phase)), log.Error(err))
	a.publish(EventStepFailed, f)
	return err
}

func (a *Agent) publish(eventType string, data any) {
	if a.events == nil {
		return
	}
	if err := a.events.PublishToTopic(a.id, bus.NewEvent(eventType, a.id, data, nil)); err != nil {
		a.logger.Warn("event handler failed", log.String("event", eventType), log.Error(err))
	}
}
