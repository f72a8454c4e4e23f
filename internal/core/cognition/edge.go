package cognition

import (
	"math"
	"time"
)

const (
	initialStrength   = 0.1
	initialImportance = 0.1
	fatiguePerUse     = 0.2
	hebbianBaseRate   = 0.1
)

// MemoryEdge associates a context and an action with the last observed outcome.
// Values returned by the store are copies; mutating them has no effect on the store.
type MemoryEdge struct {
	Situation  Situation `json:"situation"`
	Action     string    `json:"action"`
	Outcome    string    `json:"outcome"`
	Strength   float64   `json:"strength"`
	Importance float64   `json:"importance"`
	UsageCount int       `json:"usage_count"`
	LastUsed   time.Time `json:"last_used"`
	Fatigue    float64   `json:"fatigue"`
	Completed  bool      `json:"completed"`
}

// Context is the context of the situation the edge was last associated with.
func (e MemoryEdge) Context() string { return e.Situation.Context() }

func (e MemoryEdge) key() edgeKey { return edgeKey{context: e.Context(), action: e.Action} }

type edgeKey struct {
	context string
	action  string
}

// ForgettingScore is importance * ln(1+usage) * exp(-age/window).
// It is zero for never-reinforced edges and strictly decreases with age.
func ForgettingScore(e MemoryEdge, now time.Time, window time.Duration) float64 {
	age := now.Sub(e.LastUsed).Seconds()
	return e.Importance * math.Log1p(float64(e.UsageCount)) * math.Exp(-age/window.Seconds())
}
