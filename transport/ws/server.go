// Package ws exposes the sync manager's notification stream over WebSocket:
// connected clients subscribe to component ids and receive component_update,
// conflict_detected, lifecycle_event and performance_alert pushes.
package ws

import (
	"encoding/json"
	"log/slog"
	"net/http"
	stdSync "sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/c0deZ3R0/go-registry-kit/lifecycle"
	"github.com/c0deZ3R0/go-registry-kit/registry"
	syncmgr "github.com/c0deZ3R0/go-registry-kit/sync"
)

// Capabilities advertised in the welcome message.
var capabilities = []string{
	"subscribe",
	"unsubscribe",
	"component_update",
	"conflict_detected",
	"lifecycle_event",
	"performance_alert",
}

// inbound is a client-to-server message.
type inbound struct {
	Type         string   `json:"type"`
	ComponentIDs []string `json:"component_ids,omitempty"`
}

// outbound is a server-to-client message.
type outbound struct {
	Type         string                 `json:"type"`
	ComponentID  string                 `json:"component_id,omitempty"`
	ConnectionID string                 `json:"connection_id,omitempty"`
	Capabilities []string               `json:"capabilities,omitempty"`
	ComponentIDs []string               `json:"component_ids,omitempty"`
	Payload      map[string]interface{} `json:"payload,omitempty"`
	Error        string                 `json:"error,omitempty"`
	Timestamp    time.Time              `json:"timestamp"`
}

// Options configures the WebSocket server.
type Options struct {
	// Logger for structured logging. Defaults to slog.Default().
	Logger *slog.Logger

	// MaxMessageSize bounds inbound messages in bytes. Default 8192.
	MaxMessageSize int64

	// PingInterval is how often server pings are sent. Default 30s.
	PingInterval time.Duration

	// PongTimeout is how long to wait for a pong before dropping the
	// connection. Default 10s.
	PongTimeout time.Duration

	// WriteTimeout bounds each write. Default 10s.
	WriteTimeout time.Duration

	// SendBuffer is the per-client outbound queue. A client that cannot
	// keep up is disconnected. Default 64.
	SendBuffer int

	// CheckOrigin overrides the upgrader's origin check. Defaults to
	// allowing all origins.
	CheckOrigin func(r *http.Request) bool
}

func (o *Options) setDefaults() {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 8192
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.PongTimeout <= 0 {
		o.PongTimeout = 10 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
	if o.CheckOrigin == nil {
		o.CheckOrigin = func(r *http.Request) bool { return true }
	}
}

// Server upgrades HTTP connections and bridges them onto the sync manager's
// subscription model.
type Server struct {
	sync     *syncmgr.Manager
	upgrader websocket.Upgrader
	opts     Options
	logger   *slog.Logger

	mu      stdSync.Mutex
	clients map[string]*client
}

// NewServer creates a WebSocket server on top of a sync manager.
func NewServer(sm *syncmgr.Manager, opts Options) *Server {
	opts.setDefaults()
	return &Server{
		sync: sm,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     opts.CheckOrigin,
		},
		opts:    opts,
		logger:  opts.Logger.With(slog.String("component", "ws")),
		clients: make(map[string]*client),
	}
}

// client is one upgraded connection with its outbound queue.
type client struct {
	connID string
	conn   *websocket.Conn
	send   chan outbound

	closeOnce stdSync.Once
	done      chan struct{}
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// ServeHTTP upgrades the connection and runs its read and write pumps.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	cl := &client{
		conn: conn,
		send: make(chan outbound, s.opts.SendBuffer),
		done: make(chan struct{}),
	}

	// Bridge sync notifications into the client's queue. A full queue
	// drops the client rather than blocking the broadcaster.
	cl.connID = s.sync.Connect(func(n syncmgr.Notification) {
		msg := outbound{
			Type:        n.Type,
			ComponentID: n.ComponentID,
			Payload:     n.Payload,
			Timestamp:   n.Timestamp,
		}
		select {
		case cl.send <- msg:
		case <-cl.done:
		default:
			s.logger.Warn("dropping slow websocket client", "connection_id", cl.connID)
			s.disconnect(cl)
		}
	})

	s.mu.Lock()
	s.clients[cl.connID] = cl
	s.mu.Unlock()

	s.logger.Info("websocket client connected",
		"connection_id", cl.connID,
		"remote_addr", r.RemoteAddr)

	cl.send <- outbound{
		Type:         "welcome",
		ConnectionID: cl.connID,
		Capabilities: capabilities,
		Timestamp:    time.Now(),
	}

	go s.writePump(cl)
	s.readPump(cl)
}

func (s *Server) disconnect(cl *client) {
	s.mu.Lock()
	delete(s.clients, cl.connID)
	s.mu.Unlock()
	s.sync.Disconnect(cl.connID)
	cl.close()
}

// readPump handles inbound messages until the connection drops.
func (s *Server) readPump(cl *client) {
	defer s.disconnect(cl)

	cl.conn.SetReadLimit(s.opts.MaxMessageSize)
	cl.conn.SetReadDeadline(time.Now().Add(s.opts.PingInterval + s.opts.PongTimeout))
	cl.conn.SetPongHandler(func(string) error {
		cl.conn.SetReadDeadline(time.Now().Add(s.opts.PingInterval + s.opts.PongTimeout))
		return nil
	})

	for {
		_, raw, err := cl.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				s.logger.Error("websocket read error",
					"connection_id", cl.connID, "error", err)
			}
			return
		}

		var msg inbound
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.sendError(cl, "invalid message format")
			continue
		}

		switch msg.Type {
		case "subscribe":
			s.sync.SubscribeComponents(cl.connID, msg.ComponentIDs...)
			s.ack(cl, "subscribed")
		case "unsubscribe":
			s.sync.UnsubscribeComponents(cl.connID, msg.ComponentIDs...)
			s.ack(cl, "unsubscribed")
		case "ping":
			s.enqueue(cl, outbound{Type: "pong", Timestamp: time.Now()})
		default:
			s.sendError(cl, "unknown message type: "+msg.Type)
		}
	}
}

// writePump drains the outbound queue and keeps the connection alive with
// pings.
func (s *Server) writePump(cl *client) {
	ticker := time.NewTicker(s.opts.PingInterval)
	defer func() {
		ticker.Stop()
		s.disconnect(cl)
	}()

	for {
		select {
		case msg := <-cl.send:
			cl.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
			if err := cl.conn.WriteJSON(msg); err != nil {
				s.logger.Debug("websocket write failed",
					"connection_id", cl.connID, "error", err)
				return
			}
		case <-ticker.C:
			cl.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-cl.done:
			return
		}
	}
}

func (s *Server) ack(cl *client, msgType string) {
	s.enqueue(cl, outbound{
		Type:         msgType,
		ComponentIDs: s.sync.Subscriptions(cl.connID),
		Timestamp:    time.Now(),
	})
}

func (s *Server) sendError(cl *client, message string) {
	s.enqueue(cl, outbound{Type: "error", Error: message, Timestamp: time.Now()})
}

func (s *Server) enqueue(cl *client, msg outbound) {
	select {
	case cl.send <- msg:
	case <-cl.done:
	default:
	}
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Close drops every connected client.
func (s *Server) Close() error {
	s.mu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for _, cl := range s.clients {
		clients = append(clients, cl)
	}
	s.mu.Unlock()

	for _, cl := range clients {
		s.disconnect(cl)
	}
	return nil
}

// performanceAlertThreshold is the failure ratio above which a
// performance_alert is pushed for a component.
const performanceAlertThreshold = 0.5

// WireLifecycle forwards lifecycle transitions and phase failures to
// subscribed clients, and raises performance alerts for components whose
// failure ratio crosses the threshold.
func (s *Server) WireLifecycle(lm *lifecycle.Manager, reg *registry.Registry) {
	lm.Subscribe(func(ev lifecycle.Event) {
		s.sync.NotifyComponent("lifecycle_event", ev.ComponentID, map[string]interface{}{
			"operation": ev.Operation,
			"from":      string(ev.From),
			"to":        string(ev.To),
			"error":     ev.Error,
		})

		if ev.Type != "phase_failure" {
			return
		}
		c, err := reg.GetComponent(ev.ComponentID)
		if err != nil || c.Performance.OperationCount == 0 {
			return
		}
		ratio := float64(c.Performance.ErrorCount) / float64(c.Performance.OperationCount)
		if ratio >= performanceAlertThreshold {
			s.sync.NotifyComponent("performance_alert", ev.ComponentID, map[string]interface{}{
				"error_count":     c.Performance.ErrorCount,
				"operation_count": c.Performance.OperationCount,
				"failure_ratio":   ratio,
				"avg_latency_ms":  c.Performance.AvgLatencyMs,
			})
		}
	})
}
