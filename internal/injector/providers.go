package injector

import (
	"github.com/google/wire"

	"github.com/zeusync/cogniagent/internal/agents"
	"github.com/zeusync/cogniagent/internal/config"
	"github.com/zeusync/cogniagent/internal/core/events/bus"
	"github.com/zeusync/cogniagent/internal/core/observability/log"
	"github.com/zeusync/cogniagent/internal/core/observability/metrics"
	"github.com/zeusync/cogniagent/internal/server"
)

// HostSet provides everything cmd/cognid needs from a loaded config.
var HostSet = wire.NewSet(
	ProvideLogger,
	ProvideEventBus,
	ProvideMetrics,
	ProvideRegistry,
	ProvideServer,
)

func ProvideLogger(cfg config.Config) log.Log {
	return log.NewWithOptions(cfg.Log)
}

func ProvideEventBus() bus.EventBus {
	return bus.New()
}

func ProvideMetrics() metrics.Collector {
	return metrics.NewInMemory()
}

func ProvideRegistry(cfg config.Config, events bus.EventBus, m metrics.Collector, logger log.Log) (*agents.Registry, error) {
	registry, err := agents.NewRegistry(cfg.Registry, cfg.Cognition, events, logger)
	if err != nil {
		return nil, err
	}
	return registry.WithMetrics(m), nil
}

func ProvideServer(cfg config.Config, registry *agents.Registry, events bus.EventBus, logger log.Log) *server.Server {
	return server.NewServer(cfg.Server, registry, events, logger)
}
