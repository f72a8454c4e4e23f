package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/zeusync/cogniagent/internal/agents"
	"github.com/zeusync/cogniagent/internal/core/cognition"
	"github.com/zeusync/cogniagent/internal/core/observability/log"
	"github.com/zeusync/cogniagent/internal/core/observability/metrics"
	"github.com/zeusync/cogniagent/pkg/generic"
)

const requestIDHeader = "X-Request-ID"

var buffers = generic.NewPool(
	func() *bytes.Buffer { return new(bytes.Buffer) },
	func(b *bytes.Buffer) { b.Reset() },
)

// tuningRequest is the JSON form of a cognition.Config override. Durations
// are Go duration strings such as "30m".
type tuningRequest struct {
	ForgetThreshold     float64  `json:"forget_threshold"`
	DecayWindow         string   `json:"decay_window"`
	ConfidenceThreshold float64  `json:"confidence_threshold"`
	MinExperience       int      `json:"min_experience"`
	FallbackActions     []string `json:"fallback_actions"`
	SimulateTimeout     string   `json:"simulate_timeout"`
	ExecuteTimeout      string   `json:"execute_timeout"`
}

func (t tuningRequest) config() (cognition.Config, error) {
	cfg := cognition.Config{
		ForgetThreshold:     t.ForgetThreshold,
		ConfidenceThreshold: t.ConfidenceThreshold,
		MinExperience:       t.MinExperience,
		FallbackActions:     t.FallbackActions,
	}
	for _, d := range []struct {
		raw string
		dst *time.Duration
	}{
		{t.DecayWindow, &cfg.DecayWindow},
		{t.SimulateTimeout, &cfg.SimulateTimeout},
		{t.ExecuteTimeout, &cfg.ExecuteTimeout},
	} {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return cognition.Config{}, fmt.Errorf("%w: %w", cognition.ErrInvalidConfig, err)
		}
		*d.dst = v
	}
	return cfg, nil
}

type createAgentRequest struct {
	ID     string         `json:"id"`
	Config *tuningRequest `json:"config,omitempty"`
}

type agentResponse struct {
	ID     string           `json:"id"`
	Config cognition.Config `json:"config"`
}

type memoryResponse struct {
	AgentID string                 `json:"agent_id"`
	Edges   []cognition.EdgeReport `json:"edges"`
}

type stepAllResponse struct {
	Results map[string]cognition.StepResult `json:"results"`
	Errors  map[string]string               `json:"errors,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.withRequestID)
	r.Use(s.recoverPanics)

	r.Get("/healthz", s.handleHealth)

	auth := tokenAuth{token: s.config.AuthToken, logger: s.logger}
	r.Group(func(r chi.Router) {
		r.Use(auth.wrap)

		r.Get("/metrics", s.handleMetrics)
		r.Post("/step", s.handleStepAll)
		r.Get("/ws", s.handleWebSocket)

		r.Route("/agents", func(r chi.Router) {
			r.Get("/", s.handleListAgents)
			r.Post("/", s.handleCreateAgent)
			r.Delete("/{id}", s.handleRemoveAgent)
			r.Post("/{id}/step", s.handleStep)
			r.Get("/{id}/memory", s.handleMemory)
		})
	})
	return r
}

// withRequestID tags every request with an ID, echoes it back and makes it
// visible to loggers through the request context.
func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		ctx := log.ContextWithRequestID(r.Context(), id)

		start := time.Now()
		next.ServeHTTP(w, r.WithContext(ctx))
		s.logger.WithContext(ctx).Debug("Handled request",
			log.String("method", r.Method),
			log.String("path", r.URL.Path),
			log.Duration("elapsed", time.Since(start)))
	})
}

func (s *Server) recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.WithContext(r.Context()).Error("Handler panicked",
					log.Any("panic", rec),
					log.String("path", r.URL.Path))
				writeError(w, http.StatusInternalServerError, errors.New("internal server error"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.GetStats())
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	m := s.registry.Metrics()
	if m == nil {
		writeJSON(w, http.StatusOK, map[string][]metrics.Family{"metrics": {}})
		return
	}
	writeJSON(w, http.StatusOK, map[string][]metrics.Family{"metrics": m.Export()})
}

func (s *Server) handleListAgents(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"agents": s.registry.IDs()})
}

func (s *Server) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	var req createAgentRequest
	if err := s.decodeBody(w, r, &req); err != nil {
		writeError(w, bodyStatus(err), err)
		return
	}

	var override *cognition.Config
	if req.Config != nil {
		cfg, err := req.Config.config()
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		override = &cfg
	}

	agent, err := s.registry.Create(req.ID, override)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, agentResponse{ID: agent.ID(), Config: agent.Config()})
}

func (s *Server) handleRemoveAgent(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.Remove(chi.URLParam(r, "id")); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStep(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes))
	if err != nil {
		writeError(w, bodyStatus(err), fmt.Errorf("%w: %w", ErrInvalidMessage, err))
		return
	}
	in, err := cognition.DecodeInput(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	res, err := s.registry.Step(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleStepAll(w http.ResponseWriter, r *http.Request) {
	var inputs map[string]cognition.Input
	if err := s.decodeBody(w, r, &inputs); err != nil {
		writeError(w, bodyStatus(err), err)
		return
	}

	out, err := s.registry.StepAll(r.Context(), inputs)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	resp := stepAllResponse{Results: make(map[string]cognition.StepResult, len(out))}
	for id, o := range out {
		if o.Err != nil {
			if resp.Errors == nil {
				resp.Errors = make(map[string]string)
			}
			resp.Errors[id] = o.Err.Error()
			continue
		}
		resp.Results[id] = o.Result
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMemory(w http.ResponseWriter, r *http.Request) {
	agent, err := s.registry.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, memoryResponse{AgentID: agent.ID(), Edges: agent.Inspect()})
}

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes))
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}
	return nil
}

// bodyStatus is 413 when the request body exceeded MaxBodyBytes and 400 for
// any other read or decode failure.
func bodyStatus(err error) int {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}

// statusFor maps registry and cognition errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, agents.ErrAgentNotFound):
		return http.StatusNotFound
	case errors.Is(err, agents.ErrAgentExists):
		return http.StatusConflict
	case errors.Is(err, agents.ErrRegistryFull):
		return http.StatusServiceUnavailable
	case errors.Is(err, cognition.ErrInvalidInput), errors.Is(err, cognition.ErrInvalidConfig):
		return http.StatusBadRequest
	case errors.Is(err, cognition.ErrNoCandidateActions), errors.Is(err, cognition.ErrNoViableAction):
		return http.StatusUnprocessableEntity
	case errors.Is(err, cognition.ErrEffectorTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, cognition.ErrExecutionFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	buf := buffers.Get()
	defer buffers.Put(buf)

	if err := json.NewEncoder(buf).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
