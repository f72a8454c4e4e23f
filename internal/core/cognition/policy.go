package cognition

import (
	"context"
	"slices"

	"github.com/zeusync/cogniagent/internal/core/observability/log"
)

// Mode is the outcome of the confidence gate.
type Mode int

const (
	ModeAbstain Mode = iota
	ModeExecute
	ModeExplore
)

func (m Mode) String() string {
	switch m {
	case ModeExecute:
		return "execute"
	case ModeExplore:
		return "explore"
	default:
		return "abstain"
	}
}

// Candidate is one scored action.
type Candidate struct {
	Action      string      `json:"action"`
	Score       float64     `json:"score"`
	Confidence  float64     `json:"confidence"`
	Simulations []SimResult `json:"simulations"`
}

// SimulatedContexts lists the next contexts the simulations predicted.
func (c Candidate) SimulatedContexts() []string {
	out := make([]string, len(c.Simulations))
	for i, s := range c.Simulations {
		out[i] = s.NextContext
	}
	return out
}

// Decision is what the policy concluded for one situation.
type Decision struct {
	Mode            Mode
	Best            Candidate
	Candidates      []Candidate
	TotalExperience int
}

// Policy proposes, scores and gates actions. It only reads edges.
type Policy struct {
	cfg    Config
	logger log.Log
}

func NewPolicy(cfg Config, logger log.Log) *Policy {
	if logger == nil {
		logger = log.Nop()
	}
	return &Policy{cfg: cfg, logger: logger.With(log.String("component", "policy"))}
}

// Propose returns the distinct actions of relevant edges that are not completed,
// in first-seen order, or the configured fallback actions if there are none.
func (p *Policy) Propose(_ Situation, relevant []MemoryEdge) ([]string, error) {
	var actions []string
	for _, e := range relevant {
		if e.Completed || slices.Contains(actions, e.Action) {
			continue
		}
		actions = append(actions, e.Action)
	}
	if len(actions) > 0 {
		return actions, nil
	}
	if len(p.cfg.FallbackActions) == 0 {
		return nil, ErrNoCandidateActions
	}
	return slices.Clone(p.cfg.FallbackActions), nil
}

// EvaluateSimulations averages benefit-risk-uncertainty. An empty slice scores 0.
func EvaluateSimulations(sims []SimResult) float64 {
	var sum float64
	for _, s := range sims {
		sum += s.Benefit - s.Risk - s.Uncertainty
	}
	return sum / float64(max(len(sims), 1))
}

// Score simulates every action and returns candidates sorted by descending
// score, ties kept in proposal order. Actions whose simulation fails are
// dropped; ErrNoViableAction is returned only when all of them fail.
func (p *Policy) Score(ctx context.Context, effector Effector, situation Situation, relevant []MemoryEdge, actions []string) ([]Candidate, error) {
	candidates := make([]Candidate, 0, len(actions))
	var lastErr error
	for _, action := range actions {
		sims, err := effector.Simulate(ctx, situation, action)
		if err != nil {
			lastErr = err
			p.logger.Warn("simulation failed, dropping candidate",
				log.String("context", situation.Context()),
				log.String("action", action),
				log.Error(err),
			)
			continue
		}

		matching := edgesForAction(relevant, action)
		var fatigue float64
		for _, e := range matching {
			fatigue += e.Fatigue
		}
		candidates = append(candidates, Candidate{
			Action:      action,
			Score:       EvaluateSimulations(sims) - fatigue,
			Confidence:  Confidence(matching),
			Simulations: sims,
		})
	}

	if len(candidates) == 0 {
		return nil, newStepError(PhaseSimulate, "", ErrNoViableAction, lastErr)
	}

	slices.SortStableFunc(candidates, func(a, b Candidate) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		default:
			return 0
		}
	})
	return candidates, nil
}

// Gate decides whether best may be executed given the experience in relevant.
func (p *Policy) Gate(best Candidate, relevant []MemoryEdge) (Mode, int) {
	total := 0
	for _, e := range relevant {
		total += e.UsageCount
	}
	switch {
	case best.Confidence >= p.cfg.ConfidenceThreshold:
		return ModeExecute, total
	case total < p.cfg.MinExperience:
		return ModeExplore, total
	default:
		return ModeAbstain, total
	}
}

// Decide runs propose, score and gate for situation.
func (p *Policy) Decide(ctx context.Context, effector Effector, situation Situation, relevant []MemoryEdge) (Decision, error) {
	actions, err := p.Propose(situation, relevant)
	if err != nil {
		return Decision{}, newStepError(PhasePropose, "", err, nil)
	}
	candidates, err := p.Score(ctx, effector, situation, relevant, actions)
	if err != nil {
		return Decision{}, err
	}
	mode, total := p.Gate(candidates[0], relevant)
	return Decision{
		Mode:            mode,
		Best:            candidates[0],
		Candidates:      candidates,
		TotalExperience: total,
	}, nil
}

func edgesForAction(edges []MemoryEdge, action string) []MemoryEdge {
	var out []MemoryEdge
	for _, e := range edges {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}
