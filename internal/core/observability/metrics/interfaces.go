package metrics

type Collector interface {
	Counter(name string, tags map[string]string) Counter
	Gauge(name string, tags map[string]string) Gauge

	// Export returns every series, sorted by name, kind and then tags.
	Export() []Family
}

// Family is one exported series.
type Family struct {
	Name  string            `json:"name"`
	Kind  Kind              `json:"kind"`
	Tags  map[string]string `json:"tags,omitempty"`
	Value float64           `json:"value"`
}

type Kind string

const (
	KindCounter Kind = "counter"
	KindGauge   Kind = "gauge"
)

// Counter only goes up.
type Counter interface {
	Inc()
	Add(float64)
	Value() float64
}

type Gauge interface {
	Set(float64)
	Inc()
	Dec()
	Add(float64)
	Sub(float64)
	Value() float64
}
