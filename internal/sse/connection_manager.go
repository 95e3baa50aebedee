package sse

import (
	"sync"
)

// ConnectionManager tracks open streams and enforces the stream limit.
type ConnectionManager struct {
	mu          sync.RWMutex
	connections map[string]*Connection // connID -> Connection
	config      Config
}

// NewConnectionManager creates a new ConnectionManager with the given config.
func NewConnectionManager(config Config) *ConnectionManager {
	return &ConnectionManager{
		connections: make(map[string]*Connection),
		config:      config,
	}
}

// AddConnection registers a stream, or fails with ErrConnectionLimitExceeded.
func (cm *ConnectionManager) AddConnection(conn *Connection) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.config.MaxConnections > 0 && len(cm.connections) >= cm.config.MaxConnections {
		return ErrConnectionLimitExceeded
	}
	cm.connections[conn.ID] = conn
	return nil
}

// RemoveConnection closes and forgets a stream.
func (cm *ConnectionManager) RemoveConnection(connID string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if conn, ok := cm.connections[connID]; ok {
		conn.Close()
		delete(cm.connections, connID)
	}
}

// CountConnections returns the number of open streams.
func (cm *ConnectionManager) CountConnections() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.connections)
}

// CloseAll closes every stream, letting their handlers return before an
// HTTP server shutdown.
func (cm *ConnectionManager) CloseAll() {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	for id, conn := range cm.connections {
		conn.Close()
		delete(cm.connections, id)
	}
}
