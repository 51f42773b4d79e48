// Package realtime serves the voice loop over a WebSocket.
package realtime

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// SessionManager tracks the voice connection of each customer tab. A tab has
// at most one voice loop; a newer connection replaces the older one.
type SessionManager struct {
	mu     sync.RWMutex
	active map[string]map[string]*websocket.Conn
}

// NewSessionManager creates a new session manager.
func NewSessionManager() *SessionManager {
	return &SessionManager{
		active: make(map[string]map[string]*websocket.Conn),
	}
}

// GetActive returns the active connection for a customer and session.
func (m *SessionManager) GetActive(customerID, sessionID string) *websocket.Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if sessions, ok := m.active[customerID]; ok {
		return sessions[sessionID]
	}
	return nil
}

// Register adds a voice connection, closing any previous one for the same tab.
func (m *SessionManager) Register(customerID, sessionID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.active[customerID]; !exists {
		m.active[customerID] = make(map[string]*websocket.Conn)
	}

	if existing, exists := m.active[customerID][sessionID]; exists && existing != conn {
		_ = existing.Close(websocket.StatusNormalClosure, "session replaced")
	}

	m.active[customerID][sessionID] = conn
	slog.Info("Voice session registered", "customer_id", customerID, "session_id", sessionID)
}

// Unregister removes conn if it is still the tab's active connection.
func (m *SessionManager) Unregister(customerID, sessionID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sessions, ok := m.active[customerID]; ok {
		if current, exists := sessions[sessionID]; exists && current == conn {
			delete(sessions, sessionID)
			if len(sessions) == 0 {
				delete(m.active, customerID)
			}
			slog.Info("Voice session unregistered", "customer_id", customerID, "session_id", sessionID)
		}
	}
}

// CloseSession terminates the voice connection of one tab.
func (m *SessionManager) CloseSession(customerID, sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sessions, ok := m.active[customerID]
	if !ok {
		return
	}
	conn, ok := sessions[sessionID]
	if !ok {
		return
	}
	_ = conn.Close(websocket.StatusNormalClosure, "session closed")
	delete(sessions, sessionID)
	if len(sessions) == 0 {
		delete(m.active, customerID)
	}
	slog.Info("Voice session closed", "customer_id", customerID, "session_id", sessionID)
}

// Len returns the number of live voice connections.
func (m *SessionManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, sessions := range m.active {
		n += len(sessions)
	}
	return n
}
