// Command cognidemo runs a fresh agent through a chain of cycles that start
// from a security question, feeding each result's situation into the next
// cycle, and logs how confidence, uncertainty, fatigue and completion evolve.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/zeusync/cogniagent/internal/core/cognition"
	"github.com/zeusync/cogniagent/internal/core/observability/log"
)

func main() {
	steps := flag.Int("steps", 6, "number of cycles to run")
	level := flag.String("log-level", "info", "log level")
	tuningPath := flag.String("tuning", "", "optional YAML file with cognition tuning")
	flag.Parse()

	lvl, err := log.ParseLevel(*level)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logger := log.NewWithOptions(log.Options{Level: lvl, Encoding: "console"})
	defer func() { _ = logger.Sync() }()

	cfg := cognition.DefaultConfig()
	if *tuningPath != "" {
		f, err := os.Open(*tuningPath)
		if err != nil {
			logger.Fatal("Cannot open tuning file", log.Error(err))
		}
		cfg, err = cognition.LoadConfigYAML(f)
		_ = f.Close()
		if err != nil {
			logger.Fatal("Invalid tuning file", log.Error(err))
		}
	}

	agent, err := cognition.NewAgent(cfg, cognition.WithID("demo"), cognition.WithLogger(logger))
	if err != nil {
		logger.Fatal("Cannot create agent", log.Error(err))
	}

	input := cognition.Input{
		Context:  "user_security_question",
		Entities: []string{"api_key", "local_machine"},
		Signals: map[string]float64{
			cognition.SignalRisk:        0.9,
			cognition.SignalUncertainty: 0.6,
			cognition.SignalNovelty:     0.4,
		},
	}

	situation, err := cognition.Encode(input)
	if err != nil {
		logger.Fatal("Invalid demo input", log.Error(err))
	}

	// each cycle starts from the situation the previous one left behind
	ctx := context.Background()
	for i := 1; i <= *steps; i++ {
		res, err := agent.Step(ctx, situation)
		if err != nil {
			logger.Error("Step failed", log.Int("step", i), log.Error(err))
			continue
		}
		situation = res.Situation
		fields := []log.Field{
			log.Int("step", i),
			log.String("status", string(res.Status)),
			log.String("outcome", res.Outcome),
			log.Float64("confidence", res.Confidence),
			log.Float64("uncertainty", res.Situation.SignalOr(cognition.SignalUncertainty, 1)),
		}
		if res.Edge != nil {
			fields = append(fields,
				log.Float64("fatigue", res.Edge.Fatigue),
				log.Bool("completed", res.Edge.Completed))
		}
		logger.Info("Cycle finished", fields...)
	}

	for _, e := range agent.Inspect() {
		logger.Info("Memory edge",
			log.String("context", e.Context()),
			log.String("action", e.Action),
			log.Float64("strength", e.Strength),
			log.Float64("importance", e.Importance),
			log.Int("usage_count", e.UsageCount),
			log.Float64("forgetting_score", e.ForgettingScore))
	}
}
