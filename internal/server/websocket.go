package server

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/zeusync/cogniagent/internal/core/cognition"
	"github.com/zeusync/cogniagent/internal/core/events/bus"
	"github.com/zeusync/cogniagent/internal/core/observability/log"
)

// Websocket frame types.
const (
	MessageStep   = "step"
	MessageResult = "result"
	MessageEvent  = "event"
	MessageError  = "error"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Message is the envelope of every websocket frame. Clients send step frames
// carrying an Input; the server answers with a result or error frame echoing
// the client's ID, and forwards the agent's bus events as event frames.
type Message struct {
	Type  string           `json:"type"`
	ID    string           `json:"id,omitempty"`
	Input *cognition.Input `json:"input,omitempty"`
	Event string           `json:"event,omitempty"`
	Data  any              `json:"data,omitempty"`
	Error string           `json:"error,omitempty"`
}

// session is one websocket client attached to one agent.
type session struct {
	id      string
	agentID string
	conn    *websocket.Conn
	out     chan Message
	done    chan struct{}
	cancel  context.CancelFunc
	sub     bus.Subscription
	logger  log.Log

	closeOnce sync.Once
}

// enqueue blocks until msg is queued or the session is closed.
func (ss *session) enqueue(msg Message) {
	select {
	case ss.out <- msg:
	case <-ss.done:
	}
}

// offer queues msg only if there is room. Bus handlers run under the agent's
// lock and must never wait on a slow client.
func (ss *session) offer(msg Message) bool {
	select {
	case ss.out <- msg:
		return true
	case <-ss.done:
		return false
	default:
		return false
	}
}

func (ss *session) close() {
	ss.closeOnce.Do(func() {
		close(ss.done)
		ss.cancel()
		if ss.sub != nil {
			_ = ss.sub.Cancel()
		}
		_ = ss.conn.Close()
	})
}

func (ss *session) writeLoop() {
	for {
		select {
		case msg := <-ss.out:
			_ = ss.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ss.conn.WriteJSON(msg); err != nil {
				ss.logger.Debug("Websocket write failed", log.Error(err))
				ss.close()
				return
			}
		case <-ss.done:
			return
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	agentID := r.URL.Query().Get("agent")
	agent, err := s.registry.Get(agentID)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	if n := atomic.AddInt64(&s.sessionCount, 1); s.config.MaxSessions > 0 && n > int64(s.config.MaxSessions) {
		atomic.AddInt64(&s.sessionCount, -1)
		s.logger.Warn("Maximum sessions reached, rejecting websocket", log.String("remote_addr", r.RemoteAddr))
		writeError(w, http.StatusServiceUnavailable, ErrMaxSessionsReached)
		return
	}
	defer atomic.AddInt64(&s.sessionCount, -1)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader has already replied
		s.logger.WithContext(r.Context()).Warn("Websocket upgrade failed", log.Error(err))
		return
	}
	conn.SetReadLimit(s.config.MaxMessageBytes)

	ctx, cancel := context.WithCancel(context.Background())
	if reqID, ok := log.RequestIDFromContext(r.Context()); ok {
		ctx = log.ContextWithRequestID(ctx, reqID)
	}
	ss := &session{
		id:      uuid.NewString(),
		agentID: agentID,
		conn:    conn,
		out:     make(chan Message, s.config.SessionBuffer),
		done:    make(chan struct{}),
		cancel:  cancel,
	}
	ss.logger = s.logger.WithContext(ctx).With(
		log.String("session_id", ss.id),
		log.String("agent_id", agentID))

	ss.sub, err = s.events.SubscribeTopic(agentID, bus.AnyType, func(e bus.Event) error {
		if !ss.offer(Message{Type: MessageEvent, Event: e.Type(), Data: e.Data()}) {
			ss.logger.Warn("Session buffer full, dropping event", log.String("event", e.Type()))
		}
		return nil
	})
	if err != nil {
		ss.logger.Error("Failed to subscribe session to agent events", log.Error(err))
		ss.close()
		return
	}

	s.sessions.Store(ss.id, ss)
	defer s.sessions.Delete(ss.id)
	defer ss.close()

	ss.logger.Info("Session opened", log.String("remote_addr", conn.RemoteAddr().String()))
	go ss.writeLoop()

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				ss.logger.Warn("Session read failed", log.Error(err))
			}
			break
		}
		if msg.Type != MessageStep || msg.Input == nil {
			ss.enqueue(Message{Type: MessageError, ID: msg.ID, Error: ErrInvalidMessage.Error()})
			continue
		}

		res, err := agent.StepInput(ctx, *msg.Input)
		if err != nil {
			ss.enqueue(Message{Type: MessageError, ID: msg.ID, Error: err.Error()})
			continue
		}
		ss.enqueue(Message{Type: MessageResult, ID: msg.ID, Data: res})
	}

	ss.logger.Info("Session closed")
}
