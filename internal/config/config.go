// Package config loads the host process configuration: a YAML file layered
// over defaults, then COGNI_* environment overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zeusync/cogniagent/internal/agents"
	"github.com/zeusync/cogniagent/internal/core/cognition"
	"github.com/zeusync/cogniagent/internal/core/observability/log"
	"github.com/zeusync/cogniagent/internal/server"
)

const envPrefix = "COGNI_"

type Config struct {
	Server    server.Config    `yaml:"server"`
	Log       log.Options      `yaml:"log"`
	Registry  agents.Config    `yaml:"registry"`
	Cognition cognition.Config `yaml:"cognition"`
}

func Default() Config {
	return Config{
		Server:    server.DefaultServerConfig(),
		Log:       log.Options{Level: log.LevelInfo},
		Registry:  agents.DefaultConfig(),
		Cognition: cognition.DefaultConfig(),
	}
}

// Load reads path (if not empty) and applies environment overrides. Keys
// missing from the file keep their defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if cfg, err = Parse(data); err != nil {
			return Config{}, fmt.Errorf("config %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// Parse decodes a YAML document over Default.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode: %w", err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return err
	}
	return c.Cognition.Validate()
}

// applyEnv overrides fields from COGNI_* variables. Unlike the file, a
// malformed variable is an error rather than silently ignored.
func applyEnv(c *Config, lookup func(string) (string, bool)) error {
	var errs []string
	str := func(key string, dst *string) {
		if v, ok := lookup(envPrefix + key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *float64) {
		if v, ok := lookup(envPrefix + key); ok && v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, envPrefix+key)
				return
			}
			*dst = f
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := lookup(envPrefix + key); ok && v != "" {
			i, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, envPrefix+key)
				return
			}
			*dst = i
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v, ok := lookup(envPrefix + key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, envPrefix+key)
				return
			}
			*dst = d
		}
	}

	str("LISTEN_ADDR", &c.Server.ListenAddr)
	str("AUTH_TOKEN", &c.Server.AuthToken)
	duration("PRUNE_INTERVAL", &c.Server.PruneInterval)
	integer("MAX_AGENTS", &c.Registry.MaxAgents)
	integer("PARALLELISM", &c.Registry.Parallelism)

	if v, ok := lookup(envPrefix + "LOG_LEVEL"); ok && v != "" {
		lvl, err := log.ParseLevel(v)
		if err != nil {
			errs = append(errs, envPrefix+"LOG_LEVEL")
		} else {
			c.Log.Level = lvl
		}
	}
	str("LOG_ENCODING", &c.Log.Encoding)

	num("FORGET_THRESHOLD", &c.Cognition.ForgetThreshold)
	duration("DECAY_WINDOW", &c.Cognition.DecayWindow)
	num("CONFIDENCE_THRESHOLD", &c.Cognition.ConfidenceThreshold)
	integer("MIN_EXPERIENCE", &c.Cognition.MinExperience)
	duration("SIMULATE_TIMEOUT", &c.Cognition.SimulateTimeout)
	duration("EXECUTE_TIMEOUT", &c.Cognition.ExecuteTimeout)
	if v, ok := lookup(envPrefix + "FALLBACK_ACTIONS"); ok {
		c.Cognition.FallbackActions = splitList(v)
	}

	if len(errs) > 0 {
		return fmt.Errorf("malformed environment overrides: %s", strings.Join(errs, ", "))
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
