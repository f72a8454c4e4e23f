package cognition

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	ActionObserve          = "observe"
	ActionAskClarification = "ask_clarification"

	SignalRisk        = "risk"
	SignalUncertainty = "uncertainty"
	SignalNovelty     = "novelty"
)

const (
	clarificationUncertaintyDrop = 0.3
	clarificationNoveltyDrop     = 0.2
	// missing signals read as fully unknown when a reduction or threshold applies to them
	unknownSignal = 1.0
)

// Input is the raw record a cycle starts from.
type Input struct {
	Context  string             `json:"context" yaml:"context"`
	Entities []string           `json:"entities,omitempty" yaml:"entities,omitempty"`
	Signals  map[string]float64 `json:"signals,omitempty" yaml:"signals,omitempty"`
}

// DecodeInput parses a JSON input record.
func DecodeInput(data []byte) (Input, error) {
	var in Input
	if err := json.Unmarshal(data, &in); err != nil {
		return Input{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return in, nil
}

// Situation is an immutable snapshot of context, entities and numeric signals.
// Its collections are private and only ever handed out as copies.
type Situation struct {
	context   string
	entities  []string
	signals   map[string]float64
	timestamp time.Time
}

// NewSituation copies entities and signals so later changes by the caller do not leak in.
func NewSituation(context string, entities []string, signals map[string]float64, ts time.Time) Situation {
	return Situation{
		context:   context,
		entities:  cloneStrings(entities),
		signals:   cloneSignals(signals),
		timestamp: ts,
	}
}

// Encode builds a Situation from an input record, stamped with the current time.
func Encode(raw Input) (Situation, error) {
	return encodeAt(raw, time.Now())
}

func encodeAt(raw Input, now time.Time) (Situation, error) {
	if raw.Context == "" {
		return Situation{}, fmt.Errorf("%w: context is required", ErrInvalidInput)
	}
	return NewSituation(raw.Context, raw.Entities, raw.Signals, now), nil
}

func (s Situation) Context() string      { return s.context }
func (s Situation) Timestamp() time.Time { return s.timestamp }
func (s Situation) Entities() []string   { return cloneStrings(s.entities) }
func (s Situation) Signals() map[string]float64 {
	return cloneSignals(s.signals)
}

// Signal returns the named signal and whether it is present.
func (s Situation) Signal(name string) (float64, bool) {
	v, ok := s.signals[name]
	return v, ok
}

// SignalOr returns the named signal or def when it is absent.
func (s Situation) SignalOr(name string, def float64) float64 {
	if v, ok := s.signals[name]; ok {
		return v
	}
	return def
}

func (s Situation) IsZero() bool { return s.context == "" && s.timestamp.IsZero() }

// WithUpdatedSignals derives the situation that follows action.
// Only ask_clarification changes signals.
func WithUpdatedSignals(s Situation, action string) Situation {
	return withUpdatedSignalsAt(s, action, time.Now())
}

func withUpdatedSignalsAt(s Situation, action string, now time.Time) Situation {
	signals := cloneSignals(s.signals)
	if action == ActionAskClarification {
		signals[SignalUncertainty] = max(0, s.SignalOr(SignalUncertainty, unknownSignal)-clarificationUncertaintyDrop)
		signals[SignalNovelty] = max(0, s.SignalOr(SignalNovelty, unknownSignal)-clarificationNoveltyDrop)
	}
	return Situation{
		context:   s.context,
		entities:  cloneStrings(s.entities),
		signals:   signals,
		timestamp: now,
	}
}

type situationJSON struct {
	Context   string             `json:"context"`
	Entities  []string           `json:"entities"`
	Signals   map[string]float64 `json:"signals"`
	Timestamp time.Time          `json:"timestamp"`
}

func (s Situation) MarshalJSON() ([]byte, error) {
	entities := s.entities
	if entities == nil {
		entities = []string{}
	}
	return json.Marshal(situationJSON{
		Context:   s.context,
		Entities:  entities,
		Signals:   s.signals,
		Timestamp: s.timestamp,
	})
}

func (s *Situation) UnmarshalJSON(data []byte) error {
	var raw situationJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = NewSituation(raw.Context, raw.Entities, raw.Signals, raw.Timestamp)
	return nil
}

func cloneStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func cloneSignals(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
