package cognition

import (
	"math"
	"slices"
	"time"
)

const (
	// Reward is applied to every confirmed outcome. Outcomes carry no quality
	// signal yet, so negative or partial rewards cannot occur.
	Reward = 1.0

	surpriseUnexpected = 1.0
	surpriseExpected   = 0.2

	completionMaxUncertainty = 0.3
	completionMinFatigue     = 0.6
	completionMinUsage       = 3
)

// Surprise is 1.0 when outcome matches none of the simulated next contexts and 0.2 otherwise.
func Surprise(outcome string, simulatedContexts []string) float64 {
	if slices.Contains(simulatedContexts, outcome) {
		return surpriseExpected
	}
	return surpriseUnexpected
}

func hebbianUpdate(e *MemoryEdge, reward, surprise float64, now time.Time) {
	e.Strength += (hebbianBaseRate + surprise) * reward
	e.Importance = math.Max(e.Importance, math.Abs(reward)+surprise)
	e.UsageCount++
	e.Fatigue += fatiguePerUse
	e.LastUsed = now
}

// detectCompletion never clears the flag once set.
func detectCompletion(e *MemoryEdge, situation Situation) {
	lowUncertainty := situation.SignalOr(SignalUncertainty, unknownSignal) <= completionMaxUncertainty
	if lowUncertainty && e.Fatigue > completionMinFatigue && e.UsageCount >= completionMinUsage {
		e.Completed = true
	}
}
