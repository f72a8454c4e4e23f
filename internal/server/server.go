package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zeusync/cogniagent/internal/agents"
	"github.com/zeusync/cogniagent/internal/core/events/bus"
	"github.com/zeusync/cogniagent/internal/core/observability/log"
)

// Server exposes an agent registry over HTTP and websocket.
type Server struct {
	registry *agents.Registry
	events   bus.EventBus

	httpServer *http.Server
	listener   net.Listener
	handler    http.Handler

	sessions     sync.Map // map[string]*session
	sessionCount int64    // atomic

	// Server state
	running int32 // atomic bool
	closed  int32 // atomic bool

	config Config
	logger log.Log

	// Background workers
	workerGroup sync.WaitGroup
	stopChan    chan struct{}
}

// Config holds server configuration
type Config struct {
	ListenAddr string `yaml:"listen_addr" json:"listen_addr"`
	// AuthToken, when set, is required as a bearer token on HTTP requests
	// and as the token query parameter on websocket upgrades.
	AuthToken string `yaml:"auth_token" json:"-"`

	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes" json:"max_body_bytes"`

	MaxSessions     int   `yaml:"max_sessions" json:"max_sessions"`
	SessionBuffer   int   `yaml:"session_buffer" json:"session_buffer"`
	MaxMessageBytes int64 `yaml:"max_message_bytes" json:"max_message_bytes"`

	// PruneInterval is how often every agent's memory is pruned outside of
	// steps. Zero disables the janitor.
	PruneInterval time.Duration `yaml:"prune_interval" json:"prune_interval"`
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() Config {
	return Config{
		ListenAddr:      "127.0.0.1:8080",
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		MaxBodyBytes:    1 << 20,
		MaxSessions:     1000,
		SessionBuffer:   64,
		MaxMessageBytes: 1 << 20,
		PruneInterval:   time.Minute,
	}
}

func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("%w: listen_addr is required", ErrInvalidConfig)
	}
	if c.MaxBodyBytes <= 0 || c.MaxMessageBytes <= 0 {
		return fmt.Errorf("%w: body and message limits must be positive", ErrInvalidConfig)
	}
	if c.SessionBuffer <= 0 {
		return fmt.Errorf("%w: session_buffer must be positive", ErrInvalidConfig)
	}
	if c.PruneInterval < 0 {
		return fmt.Errorf("%w: prune_interval must not be negative", ErrInvalidConfig)
	}
	return nil
}

// NewServer creates a server over registry. events must be the bus the
// registry's agents publish on.
func NewServer(config Config, registry *agents.Registry, events bus.EventBus, logger log.Log) *Server {
	if logger == nil {
		logger = log.Nop()
	}

	server := &Server{
		registry: registry,
		events:   events,
		config:   config,
		logger:   logger.With(log.String("component", "server")),
	}
	server.handler = server.routes()

	server.logger.Info("Server created",
		log.String("listen_addr", config.ListenAddr),
		log.Int("max_sessions", config.MaxSessions),
		log.Bool("auth", config.AuthToken != ""))

	return server
}

// Handler returns the HTTP handler, for embedding or httptest.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start(_ context.Context) error {
	if atomic.LoadInt32(&s.closed) == 1 {
		return ErrServerClosed
	}
	if err := s.config.Validate(); err != nil {
		return err
	}
	if !atomic.CompareAndSwapInt32(&s.running, 0, 1) {
		return ErrServerAlreadyRunning
	}
	s.stopChan = make(chan struct{})

	s.logger.Info("Starting server")

	listener, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		atomic.StoreInt32(&s.running, 0)
		s.logger.Error("Failed to create listener", log.Error(err))
		return fmt.Errorf("%w: %w", ErrListenerFailed, err)
	}
	s.listener = listener
	s.httpServer = &http.Server{
		Handler:      s.handler,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("Server listening", log.String("addr", listener.Addr().String()))

	s.startWorkers()

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server stopped unexpectedly", log.Error(err))
		}
	}()

	s.logger.Info("Server started successfully")
	return nil
}

// Addr is the bound listener address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop stops the server
func (s *Server) Stop(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.running, 1, 0) {
		return ErrServerNotRunning
	}

	s.logger.Info("Stopping server")

	// Signal stop
	close(s.stopChan)

	if s.config.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.ShutdownTimeout)
		defer cancel()
	}
	err := s.httpServer.Shutdown(ctx)

	// Hijacked websocket connections are not tracked by Shutdown.
	s.sessions.Range(func(_, value any) bool {
		value.(*session).close()
		return true
	})

	// Wait for workers to stop
	s.stopWorkers()

	if err != nil {
		s.logger.Warn("Server stopped with error", log.Error(err))
		return err
	}
	s.logger.Info("Server stopped")
	return nil
}

// Close closes the server and releases all resources
func (s *Server) Close() error {
	if !atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		return nil // Already closed
	}

	s.logger.Info("Closing server")

	if atomic.LoadInt32(&s.running) == 1 {
		_ = s.Stop(context.Background())
	}

	s.logger.Info("Server closed")
	return nil
}

// GetStats returns server statistics
func (s *Server) GetStats() Stats {
	return Stats{
		AgentCount:   s.registry.Len(),
		SessionCount: atomic.LoadInt64(&s.sessionCount),
		Running:      atomic.LoadInt32(&s.running) == 1,
		Events:       s.events.GetMetrics(),
	}
}

// Stats contains server statistics
type Stats struct {
	AgentCount   int                 `json:"agents"`
	SessionCount int64               `json:"sessions"`
	Running      bool                `json:"running"`
	Events       bus.EventBusMetrics `json:"events"`
}

// startWorkers starts background worker goroutines
func (s *Server) startWorkers() {
	if s.config.PruneInterval <= 0 {
		return
	}
	stop := s.stopChan
	s.workerGroup.Add(1)
	go func() {
		defer s.workerGroup.Done()
		s.janitor(stop)
	}()
}

// stopWorkers stops background worker goroutines
func (s *Server) stopWorkers() {
	s.workerGroup.Wait()
}

// janitor prunes every agent's memory on a fixed interval so idle agents
// forget too.
func (s *Server) janitor(stop <-chan struct{}) {
	s.logger.Debug("Janitor started")

	ticker := time.NewTicker(s.config.PruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if removed := s.registry.PruneAll(); removed > 0 {
				s.logger.Info("Janitor pruned memory", log.Int("removed", removed), log.Int("agents", s.registry.Len()))
			}
		case <-stop:
			s.logger.Debug("Janitor stopped")
			return
		}
	}
}
