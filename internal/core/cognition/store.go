package cognition

import (
	"fmt"
	"time"
)

type slot struct {
	key  edgeKey
	edge MemoryEdge
}

// ExperienceStore owns the memory edges of one agent in insertion order.
// Edges live in a dense arena addressed through a (context, action) index;
// callers only ever receive copies.
//
// The store is not safe for concurrent use. Agent serialises every cycle
// and every read that goes through it.
type ExperienceStore struct {
	slots     []slot
	index     map[edgeKey]int
	threshold float64
	window    time.Duration
}

func NewExperienceStore(cfg Config) *ExperienceStore {
	return &ExperienceStore{
		slots:     make([]slot, 0, 16),
		index:     make(map[edgeKey]int),
		threshold: cfg.ForgetThreshold,
		window:    cfg.DecayWindow,
	}
}

func (s *ExperienceStore) Len() int { return len(s.slots) }

// Relevant returns every edge recorded under context, in store order.
func (s *ExperienceStore) Relevant(context string) []MemoryEdge {
	var out []MemoryEdge
	for _, sl := range s.slots {
		if sl.key.context == context {
			out = append(out, sl.edge)
		}
	}
	return out
}

func (s *ExperienceStore) Find(context, action string) (MemoryEdge, bool) {
	i, ok := s.index[edgeKey{context: context, action: action}]
	if !ok {
		return MemoryEdge{}, false
	}
	return s.slots[i].edge, true
}

// Upsert records situation and outcome for (context, action). A new edge starts
// with baseline strength and importance; an existing edge keeps what it learned.
func (s *ExperienceStore) Upsert(context, action string, situation Situation, outcome string, now time.Time) MemoryEdge {
	key := edgeKey{context: context, action: action}
	if i, ok := s.index[key]; ok {
		s.slots[i].edge.Situation = situation
		s.slots[i].edge.Outcome = outcome
		return s.slots[i].edge
	}

	edge := MemoryEdge{
		Situation:  situation,
		Action:     action,
		Outcome:    outcome,
		Strength:   initialStrength,
		Importance: initialImportance,
		LastUsed:   now,
	}
	s.index[key] = len(s.slots)
	s.slots = append(s.slots, slot{key: key, edge: edge})
	return edge
}

// Reinforce applies the Hebbian update to the edge for (context, action).
func (s *ExperienceStore) Reinforce(context, action string, reward, surprise float64, now time.Time) (MemoryEdge, bool) {
	i, ok := s.index[edgeKey{context: context, action: action}]
	if !ok {
		return MemoryEdge{}, false
	}
	hebbianUpdate(&s.slots[i].edge, reward, surprise, now)
	return s.slots[i].edge, true
}

// MarkCompletedIf flags the edge completed when situation and the edge's own
// history say the action has run its course. It reports the edge's flag afterwards.
func (s *ExperienceStore) MarkCompletedIf(context, action string, situation Situation) bool {
	i, ok := s.index[edgeKey{context: context, action: action}]
	if !ok {
		return false
	}
	detectCompletion(&s.slots[i].edge, situation)
	return s.slots[i].edge.Completed
}

// ForgettingScore scores e with this store's decay window.
func (s *ExperienceStore) ForgettingScore(e MemoryEdge, now time.Time) float64 {
	return ForgettingScore(e, now, s.window)
}

// Prune drops every edge whose forgetting score is not above the threshold and
// returns how many were removed. Survivors keep their relative order.
func (s *ExperienceStore) Prune(now time.Time) int {
	kept := s.slots[:0]
	for _, sl := range s.slots {
		if ForgettingScore(sl.edge, now, s.window) > s.threshold {
			kept = append(kept, sl)
		}
	}
	removed := len(s.slots) - len(kept)
	if removed == 0 {
		return 0
	}

	for i := len(kept); i < len(s.slots); i++ {
		s.slots[i] = slot{}
	}
	s.slots = kept
	s.reindex()
	return removed
}

// Snapshot copies every edge in store order.
func (s *ExperienceStore) Snapshot() []MemoryEdge {
	out := make([]MemoryEdge, len(s.slots))
	for i, sl := range s.slots {
		out[i] = sl.edge
	}
	return out
}

// Import appends edges as they are, keyed by their situation context.
// Nothing is imported if any edge collides with an existing or earlier one.
func (s *ExperienceStore) Import(edges ...MemoryEdge) error {
	seen := make(map[edgeKey]struct{}, len(edges))
	for _, e := range edges {
		k := e.key()
		if k.context == "" || k.action == "" {
			return fmt.Errorf("%w: edge needs a context and an action", ErrInvalidInput)
		}
		if _, ok := s.index[k]; ok {
			return fmt.Errorf("%w: %s/%s", ErrDuplicateEdge, k.context, k.action)
		}
		if _, ok := seen[k]; ok {
			return fmt.Errorf("%w: %s/%s", ErrDuplicateEdge, k.context, k.action)
		}
		seen[k] = struct{}{}
	}
	for _, e := range edges {
		s.index[e.key()] = len(s.slots)
		s.slots = append(s.slots, slot{key: e.key(), edge: e})
	}
	return nil
}

func (s *ExperienceStore) reindex() {
	clear(s.index)
	for i, sl := range s.slots {
		s.index[sl.key] = i
	}
}
