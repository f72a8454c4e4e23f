//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final build.

package injector

import (
	"github.com/google/wire"

	"github.com/zeusync/cogniagent/internal/agents"
	"github.com/zeusync/cogniagent/internal/config"
	"github.com/zeusync/cogniagent/internal/core/observability/log"
	"github.com/zeusync/cogniagent/internal/server"
)

// Host is the assembled process: its logger, agents and API server.
type Host struct {
	Logger   log.Log
	Registry *agents.Registry
	Server   *server.Server
}

func InitializeHost(cfg config.Config) (*Host, error) {
	wire.Build(HostSet, wire.Struct(new(Host), "*"))
	return nil, nil
}
