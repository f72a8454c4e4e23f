package agents

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"github.com/zeusync/cogniagent/internal/core/cognition"
	"github.com/zeusync/cogniagent/internal/core/events/bus"
	"github.com/zeusync/cogniagent/internal/core/observability/log"
	"github.com/zeusync/cogniagent/internal/core/observability/metrics"
	"github.com/zeusync/cogniagent/pkg/concurrent"
	"github.com/zeusync/cogniagent/pkg/sequence"
)

var (
	ErrAgentExists   = errors.New("agent already exists")
	ErrAgentNotFound = errors.New("agent not found")
	ErrRegistryFull  = errors.New("maximum agents reached")
)

// Config sizes the registry.
type Config struct {
	Shards    int `yaml:"shards" json:"shards"`
	MaxAgents int `yaml:"max_agents" json:"max_agents"`
	// Parallelism bounds how many agents StepAll and PruneAll run at once.
	Parallelism int `yaml:"parallelism" json:"parallelism"`
}

func DefaultConfig() Config {
	return Config{
		Shards:      16,
		MaxAgents:   10_000,
		Parallelism: 8,
	}
}

// EffectorFactory builds the effector of a newly created agent.
type EffectorFactory func(agentID string) cognition.Effector

// Outcome is the result of one agent's step within StepAll.
type Outcome struct {
	Result cognition.StepResult
	Err    error
}

type shard struct {
	mx     sync.RWMutex
	agents map[string]*cognition.Agent
}

// Registry owns many independent agents keyed by ID. Agents share the event
// bus and the logger but nothing else.
type Registry struct {
	cfg       Config
	tuning    cognition.Config
	shards    []shard
	count     atomic.Int64
	events    bus.EventBus
	effectors EffectorFactory
	metrics   metrics.Collector
	root      log.Log
	logger    log.Log
}

// NewRegistry creates an empty registry. tuning is the default agent config
// that per-agent overrides are merged onto.
func NewRegistry(cfg Config, tuning cognition.Config, events bus.EventBus, logger log.Log) (*Registry, error) {
	if err := tuning.Validate(); err != nil {
		return nil, err
	}
	defaults := DefaultConfig()
	if cfg.Shards <= 0 {
		cfg.Shards = defaults.Shards
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = defaults.Parallelism
	}
	if logger == nil {
		logger = log.Nop()
	}

	r := &Registry{
		cfg:    cfg,
		tuning: tuning,
		shards: make([]shard, cfg.Shards),
		events: events,
		root:   logger,
		logger: logger.With(log.String("component", "registry")),
	}
	for i := range r.shards {
		r.shards[i].agents = make(map[string]*cognition.Agent)
	}
	return r, nil
}

// WithMetrics counts every agent's step and prune events into m. It must be
// called before agents are created.
func (r *Registry) WithMetrics(m metrics.Collector) *Registry {
	r.metrics = m
	return r
}

// Metrics returns the collector set by WithMetrics, or nil.
func (r *Registry) Metrics() metrics.Collector {
	return r.metrics
}

// WithEffectors sets the factory used for agents created afterwards.
func (r *Registry) WithEffectors(f EffectorFactory) *Registry {
	r.effectors = f
	return r
}

func (r *Registry) shardFor(id string) *shard {
	return &r.shards[xxhash.Sum64String(id)%uint64(len(r.shards))]
}

// Create registers a new agent. An empty id gets a random one; override, if
// not nil, is merged onto the registry's default tuning.
func (r *Registry) Create(id string, override *cognition.Config) (*cognition.Agent, error) {
	if id == "" {
		id = uuid.NewString()
	}
	tuning := r.tuning
	if override != nil {
		tuning = tuning.Merge(*override)
	}

	sh := r.shardFor(id)
	sh.mx.Lock()
	defer sh.mx.Unlock()

	// duplicates are rejected before a slot is reserved
	if _, exists := sh.agents[id]; exists {
		return nil, fmt.Errorf("%w: %s", ErrAgentExists, id)
	}
	if n := r.count.Add(1); r.cfg.MaxAgents > 0 && n > int64(r.cfg.MaxAgents) {
		r.count.Add(-1)
		return nil, ErrRegistryFull
	}

	opts := []cognition.Option{
		cognition.WithID(id),
		cognition.WithLogger(r.root),
	}
	if r.events != nil {
		opts = append(opts, cognition.WithEventBus(r.events))
	}
	if r.effectors != nil {
		opts = append(opts, cognition.WithEffector(r.effectors(id)))
	}
	agent, err := cognition.NewAgent(tuning, opts...)
	if err != nil {
		r.count.Add(-1)
		return nil, err
	}
	if err := r.instrument(id); err != nil {
		r.count.Add(-1)
		return nil, err
	}
	sh.agents[id] = agent

	r.logger.Info("Agent created", log.String("agent_id", id), log.Int64("total_agents", r.count.Load()))
	return agent, nil
}

func (r *Registry) Get(id string) (*cognition.Agent, error) {
	sh := r.shardFor(id)
	sh.mx.RLock()
	defer sh.mx.RUnlock()

	agent, ok := sh.agents[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, id)
	}
	return agent, nil
}

// Remove forgets the agent and drops its event topic.
func (r *Registry) Remove(id string) error {
	sh := r.shardFor(id)
	sh.mx.Lock()
	_, ok := sh.agents[id]
	delete(sh.agents, id)
	sh.mx.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrAgentNotFound, id)
	}
	r.count.Add(-1)
	if r.events != nil {
		r.events.DropTopic(id)
	}
	if r.metrics != nil {
		r.metrics.Gauge("cognition_agents", nil).Dec()
	}
	r.logger.Info("Agent removed", log.String("agent_id", id), log.Int64("total_agents", r.count.Load()))
	return nil
}

func (r *Registry) Len() int {
	return int(r.count.Load())
}

// IDs returns every agent ID in lexical order.
func (r *Registry) IDs() []string {
	return sequence.ToArray(r.all(), (*cognition.Agent).ID)
}

// Step runs one cycle on the agent with the given ID.
func (r *Registry) Step(ctx context.Context, id string, in cognition.Input) (cognition.StepResult, error) {
	agent, err := r.Get(id)
	if err != nil {
		return cognition.StepResult{}, err
	}
	return agent.StepInput(ctx, in)
}

// StepAll runs one cycle on each listed agent, in parallel. Unknown IDs fail
// the whole call before any agent runs; a failing agent only fails its own Outcome.
func (r *Registry) StepAll(ctx context.Context, inputs map[string]cognition.Input) (map[string]Outcome, error) {
	targets := make(map[string]*cognition.Agent, len(inputs))
	for id := range inputs {
		agent, err := r.Get(id)
		if err != nil {
			return nil, err
		}
		targets[id] = agent
	}

	var mx sync.Mutex
	out := make(map[string]Outcome, len(inputs))
	ids := sequence.Keys(inputs).Sort(func(a, b string) bool { return a < b })
	err := concurrent.ForEach(ctx, ids, r.cfg.Parallelism, func(ctx context.Context, id string) error {
		res, err := targets[id].StepInput(ctx, inputs[id])
		mx.Lock()
		out[id] = Outcome{Result: res, Err: err}
		mx.Unlock()
		return nil
	})
	if err != nil {
		return out, err
	}
	return out, ctx.Err()
}

// PruneAll forgets decayed edges in every agent and returns how many were removed.
func (r *Registry) PruneAll() int {
	removed := concurrent.ParallelMap(r.all(), r.cfg.Parallelism, (*cognition.Agent).Prune)
	total := 0
	for _, n := range removed {
		total += n
	}
	if total > 0 {
		r.logger.Debug("Registry pruned", log.Int("removed", total))
	}
	return total
}

func (r *Registry) all() *sequence.Iterator[*cognition.Agent] {
	var agents []*cognition.Agent
	for i := range r.shards {
		sh := &r.shards[i]
		sh.mx.RLock()
		agents = append(agents, sequence.Values(sh.agents).Collect()...)
		sh.mx.RUnlock()
	}
	return sequence.From(agents).Sort(func(a, b *cognition.Agent) bool { return a.ID() < b.ID() })
}

// instrument counts the agent in the metrics collector and subscribes the
// collector to the agent's topic.
func (r *Registry) instrument(id string) error {
	if r.metrics == nil {
		return nil
	}
	m := r.metrics
	if r.events != nil {
		_, err := r.events.SubscribeTopic(id, bus.AnyType, func(e bus.Event) error {
			switch data := e.Data().(type) {
			case cognition.StepResult:
				m.Counter("cognition_steps_total", map[string]string{"status": string(data.Status)}).Inc()
			case cognition.StepFailure:
				m.Counter("cognition_step_failures_total", map[string]string{"phase": string(data.Phase)}).Inc()
			case cognition.PruneReport:
				m.Counter("cognition_edges_pruned_total", nil).Add(float64(data.Removed))
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	m.Gauge("cognition_agents", nil).Inc()
	return nil
}
