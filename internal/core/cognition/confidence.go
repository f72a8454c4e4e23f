package cognition

import "math"

// baselineConfidence is reported for a context/action pair with no experience.
const baselineConfidence = 0.1

// Confidence maps the accumulated strength*importance of edges through the
// logistic function. It is exactly baselineConfidence when edges is empty.
func Confidence(edges []MemoryEdge) float64 {
	if len(edges) == 0 {
		return baselineConfidence
	}
	var x float64
	for _, e := range edges {
		x += e.Strength * e.Importance
	}
	return 1 / (1 + math.Exp(-x))
}
