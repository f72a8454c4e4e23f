package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/cogniagent/internal/agents"
	"github.com/zeusync/cogniagent/internal/core/cognition"
	"github.com/zeusync/cogniagent/internal/core/events/bus"
	"github.com/zeusync/cogniagent/internal/core/observability/log"
	"github.com/zeusync/cogniagent/internal/core/observability/metrics"
)

func newTestServer(t *testing.T, mutate func(*Config)) (*Server, *agents.Registry, *httptest.Server) {
	t.Helper()
	events := bus.New()
	registry, err := agents.NewRegistry(agents.DefaultConfig(), cognition.DefaultConfig(), events, log.Nop())
	require.NoError(t, err)
	registry.WithMetrics(metrics.NewInMemory())

	cfg := DefaultServerConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	if mutate != nil {
		mutate(&cfg)
	}
	srv := NewServer(cfg, registry, events, log.Nop())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, registry, ts
}

func do(t *testing.T, method, url string, body any, header http.Header) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, buf.Bytes()
}

var securityQuestion = map[string]any{
	"context":  "user_security_question",
	"entities": []string{"api_key", "local_machine"},
	"signals":  map[string]float64{"risk": 0.9, "uncertainty": 0.6, "novelty": 0.4},
}

func TestAgentLifecycleOverHTTP(t *testing.T) {
	_, _, ts := newTestServer(t, nil)

	resp, body := do(t, http.MethodPost, ts.URL+"/agents", map[string]any{
		"id":     "a1",
		"config": map[string]any{"decay_window": "30m", "confidence_threshold": 0.7},
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var created agentResponse
	require.NoError(t, json.Unmarshal(body, &created))
	assert.Equal(t, "a1", created.ID)
	assert.Equal(t, 30*time.Minute, created.Config.DecayWindow)
	assert.Equal(t, 0.7, created.Config.ConfidenceThreshold)
	assert.NotEmpty(t, resp.Header.Get(requestIDHeader))

	resp, _ = do(t, http.MethodPost, ts.URL+"/agents", map[string]any{"id": "a1"}, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body = do(t, http.MethodPost, ts.URL+"/agents/a1/step", securityQuestion, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var step struct {
		Status string `json:"status"`
		Action string `json:"action"`
		Edge   struct {
			UsageCount int     `json:"usage_count"`
			Fatigue    float64 `json:"fatigue"`
		} `json:"edge"`
	}
	require.NoError(t, json.Unmarshal(body, &step))
	assert.Equal(t, "exploration", step.Status)
	assert.Equal(t, cognition.ActionAskClarification, step.Action)
	assert.Equal(t, 1, step.Edge.UsageCount)

	resp, body = do(t, http.MethodGet, ts.URL+"/agents/a1/memory", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var mem struct {
		AgentID string `json:"agent_id"`
		Edges   []struct {
			Action          string  `json:"action"`
			ForgettingScore float64 `json:"forgetting_score"`
			Situation       struct {
				Context string `json:"context"`
			} `json:"situation"`
		} `json:"edges"`
	}
	require.NoError(t, json.Unmarshal(body, &mem))
	assert.Equal(t, "a1", mem.AgentID)
	require.Len(t, mem.Edges, 1)
	assert.Equal(t, cognition.ActionAskClarification, mem.Edges[0].Action)
	assert.Equal(t, "user_security_question", mem.Edges[0].Situation.Context)
	assert.Greater(t, mem.Edges[0].ForgettingScore, 1.0)

	resp, _ = do(t, http.MethodDelete, ts.URL+"/agents/a1", nil, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = do(t, http.MethodGet, ts.URL+"/agents/a1/memory", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStepRejectsInvalidInput(t *testing.T) {
	_, registry, ts := newTestServer(t, nil)
	_, err := registry.Create("a1", nil)
	require.NoError(t, err)

	resp, _ := do(t, http.MethodPost, ts.URL+"/agents/a1/step", map[string]any{"signals": map[string]float64{"risk": 1}}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, http.MethodPost, ts.URL+"/agents/missing/step", securityQuestion, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = do(t, http.MethodPost, ts.URL+"/agents", map[string]any{"config": map[string]any{"decay_window": "soon"}}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStepAllOverHTTP(t *testing.T) {
	_, registry, ts := newTestServer(t, nil)
	for _, id := range []string{"a", "b"} {
		_, err := registry.Create(id, nil)
		require.NoError(t, err)
	}

	resp, body := do(t, http.MethodPost, ts.URL+"/step", map[string]any{"a": securityQuestion, "b": securityQuestion}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var out stepAllResponse
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Len(t, out.Results, 2)
	assert.Empty(t, out.Errors)
	assert.Equal(t, cognition.StatusExploration, out.Results["a"].Status)

	resp, _ = do(t, http.MethodPost, ts.URL+"/step", map[string]any{"zzz": securityQuestion}, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListAgentsAndHealth(t *testing.T) {
	_, registry, ts := newTestServer(t, nil)
	for _, id := range []string{"b", "a"} {
		_, err := registry.Create(id, nil)
		require.NoError(t, err)
	}

	resp, body := do(t, http.MethodGet, ts.URL+"/agents", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"agents":["a","b"]}`, string(body))

	resp, body = do(t, http.MethodGet, ts.URL+"/healthz", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var stats Stats
	require.NoError(t, json.Unmarshal(body, &stats))
	assert.Equal(t, 2, stats.AgentCount)
}

func TestMetricsEndpoint(t *testing.T) {
	_, registry, ts := newTestServer(t, nil)
	_, err := registry.Create("a1", nil)
	require.NoError(t, err)
	resp, _ := do(t, http.MethodPost, ts.URL+"/agents/a1/step", securityQuestion, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := do(t, http.MethodGet, ts.URL+"/metrics", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out struct {
		Metrics []metrics.Family `json:"metrics"`
	}
	require.NoError(t, json.Unmarshal(body, &out))

	values := make(map[string]float64)
	for _, f := range out.Metrics {
		values[f.Name+f.Tags["status"]] = f.Value
	}
	assert.Equal(t, 1.0, values["cognition_agents"])
	assert.Equal(t, 1.0, values["cognition_steps_totalexploration"])
}

func TestAuthToken(t *testing.T) {
	_, _, ts := newTestServer(t, func(c *Config) { c.AuthToken = "s3cret" })

	resp, _ := do(t, http.MethodGet, ts.URL+"/agents", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = do(t, http.MethodGet, ts.URL+"/agents", nil, http.Header{"Authorization": {"Bearer wrong"}})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = do(t, http.MethodGet, ts.URL+"/agents", nil, http.Header{"Authorization": {"Bearer s3cret"}})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = do(t, http.MethodGet, ts.URL+"/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRequestIDIsEchoed(t *testing.T) {
	_, _, ts := newTestServer(t, nil)
	resp, _ := do(t, http.MethodGet, ts.URL+"/healthz", nil, http.Header{requestIDHeader: {"req-42"}})
	assert.Equal(t, "req-42", resp.Header.Get(requestIDHeader))
}

func TestStartStop(t *testing.T) {
	srv, _, _ := newTestServer(t, func(c *Config) { c.PruneInterval = 10 * time.Millisecond })

	require.NoError(t, srv.Start(context.Background()))
	assert.ErrorIs(t, srv.Start(context.Background()), ErrServerAlreadyRunning)
	require.NotNil(t, srv.Addr())

	resp, err := http.Get("http://" + srv.Addr().String() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, srv.GetStats().Running)

	require.NoError(t, srv.Stop(context.Background()))
	assert.ErrorIs(t, srv.Stop(context.Background()), ErrServerNotRunning)
	require.NoError(t, srv.Close())
	assert.ErrorIs(t, srv.Start(context.Background()), ErrServerClosed)
}

func TestRestartWithEncodingLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.log")
	logger := log.NewWithOptions(log.Options{Level: log.LevelDebug, OutputPaths: []string{path}})
	events := bus.New()
	registry, err := agents.NewRegistry(agents.DefaultConfig(), cognition.DefaultConfig(), events, logger)
	require.NoError(t, err)

	cfg := DefaultServerConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.PruneInterval = 5 * time.Millisecond
	srv := NewServer(cfg, registry, events, logger)

	for round := 0; round < 2; round++ {
		require.NoError(t, srv.Start(context.Background()), "round %d", round)
		time.Sleep(20 * time.Millisecond)
		assert.NotPanics(t, func() {
			assert.NoError(t, srv.Stop(context.Background()))
		}, "round %d", round)
		assert.False(t, srv.GetStats().Running)
	}
	require.NoError(t, srv.Close())
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(data), "Server stopped"))
	assert.Equal(t, 2, strings.Count(string(data), "Janitor stopped"))
}

type brokenBody struct{}

func (brokenBody) Read([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestBodyErrorStatus(t *testing.T) {
	srv, registry, ts := newTestServer(t, func(c *Config) { c.MaxBodyBytes = 64 })
	_, err := registry.Create("a1", nil)
	require.NoError(t, err)

	big := map[string]any{"context": strings.Repeat("x", 256)}
	resp, _ := do(t, http.MethodPost, ts.URL+"/agents/a1/step", big, nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	resp, _ = do(t, http.MethodPost, ts.URL+"/step", map[string]any{"a1": big}, nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)

	for _, path := range []string{"/agents/a1/step", "/step", "/agents"} {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, brokenBody{}))
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
	}
	a, err := registry.Get("a1")
	require.NoError(t, err)
	assert.Empty(t, a.Snapshot())
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, statusFor(agents.ErrAgentNotFound))
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(agents.ErrRegistryFull))
	assert.Equal(t, http.StatusUnprocessableEntity, statusFor(&cognition.StepError{Kind: cognition.ErrNoViableAction}))
	assert.Equal(t, http.StatusGatewayTimeout, statusFor(&cognition.StepError{Kind: cognition.ErrExecutionFailed, Cause: cognition.ErrEffectorTimeout}))
	assert.Equal(t, http.StatusBadGateway, statusFor(&cognition.StepError{Kind: cognition.ErrExecutionFailed}))
	assert.Equal(t, http.StatusInternalServerError, statusFor(assert.AnError))
}

func TestRecoverPanics(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)
	h := srv.recoverPanics(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/agents", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal server error"}`, rec.Body.String())
}
