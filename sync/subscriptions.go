package sync

import (
	"time"

	"github.com/google/uuid"
)

// notifyBuffer bounds each connection's pending notifications.
const notifyBuffer = 64

// Notification is a broadcast message delivered to subscribed connections.
// ComponentID is empty for system-wide notifications, which reach every
// connection regardless of subscription.
type Notification struct {
	Type        string                 `json:"type"`
	ComponentID string                 `json:"component_id,omitempty"`
	Payload     map[string]interface{} `json:"payload,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
}

// connection is one subscribed consumer and its component-id filter.
// Notifications queue on a bounded channel drained by a single goroutine, so
// each consumer observes them in broadcast order.
type connection struct {
	ch         chan Notification
	components map[string]struct{}
}

// Connect registers a consumer and returns its connection id. The handler
// runs on a dedicated goroutine, one notification at a time, in broadcast
// order; panics are recovered per notification. A consumer that falls behind
// loses its oldest pending notifications.
func (m *Manager) Connect(handler func(Notification)) string {
	id := uuid.NewString()
	conn := &connection{
		ch:         make(chan Notification, notifyBuffer),
		components: make(map[string]struct{}),
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return id
	}
	m.conns[id] = conn
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for n := range conn.ch {
			m.invokeHandler(id, handler, n)
		}
	}()

	m.logger.Debug("sync consumer connected", "connection_id", id)
	return id
}

func (m *Manager) invokeHandler(connID string, handler func(Notification), n Notification) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("sync subscriber panic recovered",
				"connection_id", connID, "panic", r)
		}
	}()
	handler(n)
}

// Disconnect removes a consumer and stops its delivery goroutine.
func (m *Manager) Disconnect(connID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if conn, ok := m.conns[connID]; ok {
		delete(m.conns, connID)
		close(conn.ch)
	}
}

// SubscribeComponents adds component ids to a connection's filter.
func (m *Manager) SubscribeComponents(connID string, componentIDs ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conn, ok := m.conns[connID]
	if !ok {
		return
	}
	for _, id := range componentIDs {
		conn.components[id] = struct{}{}
	}
}

// UnsubscribeComponents removes component ids from a connection's filter.
func (m *Manager) UnsubscribeComponents(connID string, componentIDs ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conn, ok := m.conns[connID]
	if !ok {
		return
	}
	for _, id := range componentIDs {
		delete(conn.components, id)
	}
}

// Subscriptions returns the component ids a connection is subscribed to.
func (m *Manager) Subscriptions(connID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	conn, ok := m.conns[connID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(conn.components))
	for id := range conn.components {
		out = append(out, id)
	}
	return out
}

// broadcast queues a notification for every matching connection. Component
// scoped notifications reach only subscribers of that id; system-wide ones
// (empty ComponentID) reach everyone. Queueing never blocks: when a
// connection's buffer is full its oldest pending notification is dropped
// first.
func (m *Manager) broadcast(n Notification) {
	m.metrics.RecordBroadcast(n.Type)

	m.mu.Lock()
	defer m.mu.Unlock()
	for id, conn := range m.conns {
		if n.ComponentID != "" {
			if _, subscribed := conn.components[n.ComponentID]; !subscribed {
				continue
			}
		}
		select {
		case conn.ch <- n:
		default:
			select {
			case old := <-conn.ch:
				m.logger.Warn("sync consumer lagging, dropped oldest notification",
					"connection_id", id,
					"dropped_type", old.Type)
			default:
			}
			select {
			case conn.ch <- n:
			default:
			}
		}
	}
}
