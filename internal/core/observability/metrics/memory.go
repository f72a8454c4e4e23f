package metrics

import (
	"maps"
	"math"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
)

var _ Collector = (*InMemory)(nil)

// InMemory keeps every series in process. Series are created on first use
// and live as long as the collector.
type InMemory struct {
	mu     sync.RWMutex
	series map[uint64]*series
}

func NewInMemory() *InMemory {
	return &InMemory{series: make(map[uint64]*series)}
}

type series struct {
	name string
	kind Kind
	tags map[string]string
	bits atomic.Uint64
}

func (s *series) Value() float64 { return math.Float64frombits(s.bits.Load()) }

func (s *series) Set(v float64) { s.bits.Store(math.Float64bits(v)) }

func (s *series) Add(delta float64) {
	for {
		old := s.bits.Load()
		next := math.Float64bits(math.Float64frombits(old) + delta)
		if s.bits.CompareAndSwap(old, next) {
			return
		}
	}
}

func (s *series) Inc()              { s.Add(1) }
func (s *series) Dec()              { s.Add(-1) }
func (s *series) Sub(delta float64) { s.Add(-delta) }

type counter struct{ *series }

// Add ignores negative deltas.
func (c counter) Add(delta float64) {
	if delta > 0 {
		c.series.Add(delta)
	}
}

func (m *InMemory) Counter(name string, tags map[string]string) Counter {
	return counter{m.get(name, KindCounter, tags)}
}

func (m *InMemory) Gauge(name string, tags map[string]string) Gauge {
	return m.get(name, KindGauge, tags)
}

func (m *InMemory) get(name string, kind Kind, tags map[string]string) *series {
	key := seriesKey(name, kind, tags)

	m.mu.RLock()
	s, ok := m.series[key]
	m.mu.RUnlock()
	if ok {
		return s
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok = m.series[key]; ok {
		return s
	}
	s = &series{name: name, kind: kind, tags: maps.Clone(tags)}
	m.series[key] = s
	return s
}

func (m *InMemory) Export() []Family {
	m.mu.RLock()
	out := make([]Family, 0, len(m.series))
	for _, s := range m.series {
		out = append(out, Family{Name: s.name, Kind: s.kind, Tags: maps.Clone(s.tags), Value: s.Value()})
	}
	m.mu.RUnlock()

	slices.SortFunc(out, func(a, b Family) int {
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		if c := strings.Compare(string(a.Kind), string(b.Kind)); c != 0 {
			return c
		}
		return strings.Compare(tagString(a.Tags), tagString(b.Tags))
	})
	return out
}

// seriesKey separates counters and gauges that share a name and tags.
func seriesKey(name string, kind Kind, tags map[string]string) uint64 {
	return xxhash.Sum64String(string(kind) + ":" + name + "{" + tagString(tags) + "}")
}

func tagString(tags map[string]string) string {
	keys := slices.Sorted(maps.Keys(tags))
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(tags[k])
	}
	return b.String()
}
