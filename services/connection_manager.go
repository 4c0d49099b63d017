package services

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/nickcoast/IBKR-notional/interfaces"
	"github.com/nickcoast/IBKR-notional/logging"
	"github.com/sirupsen/logrus"
)

// DelayedMarketData requests delayed quotes so no live data subscription is needed
const DelayedMarketData = 3

const (
	minClientID = 1000
	maxClientID = 9999
)

// ConnectionInfo describes the current or most recent session
type ConnectionInfo struct {
	Initialized bool
	Host        string
	Port        int
	ClientID    int
	ConnectedAt time.Time
}

// ConnectionManager owns the single broker session of the process
type ConnectionManager struct {
	factory interfaces.SessionFactory
	session interfaces.BrokerSession
	info    ConnectionInfo

	// connectMu serializes Connect and Disconnect; mu guards session and info
	connectMu sync.Mutex
	mu        sync.RWMutex
	logger    *logrus.Logger

	randomClientID func() int
}

// NewConnectionManager creates a connection manager that builds sessions with factory
func NewConnectionManager(factory interfaces.SessionFactory, logger *logrus.Logger) *ConnectionManager {
	return &ConnectionManager{
		factory: factory,
		logger:  logging.OrDefault(logger),
		randomClientID: func() int {
			return minClientID + rand.IntN(maxClientID-minClientID+1)
		},
	}
}

// Connect replaces any existing session with a new one. A nil clientID picks
// a random id in [1000, 9999]. Failures are logged and reported as false.
// The broker handshake runs without holding the state lock, so readers see the
// previous session until the new one is swapped in.
func (cm *ConnectionManager) Connect(ctx context.Context, host string, port int, clientID *int) bool {
	cm.connectMu.Lock()
	defer cm.connectMu.Unlock()

	var id int
	if clientID != nil {
		id = *clientID
	} else {
		id = cm.randomClientID()
	}

	cm.mu.RLock()
	previous, previousID := cm.session, cm.info.ClientID
	cm.mu.RUnlock()

	if previous != nil && previous.IsConnected() {
		cm.logger.WithField("client_id", previousID).Info("Disconnecting existing session before reconnect")
		if err := previous.Disconnect(); err != nil {
			cm.logger.WithError(err).Warn("Failed to disconnect existing session")
		}
	}

	session := cm.factory()
	info := ConnectionInfo{
		Initialized: true,
		Host:        host,
		Port:        port,
		ClientID:    id,
	}

	log := cm.logger.WithFields(logrus.Fields{
		"host":      host,
		"port":      port,
		"client_id": id,
	})
	log.Info("Connecting to broker")

	connected := cm.handshake(ctx, session, info, log)
	if connected {
		info.ConnectedAt = time.Now()
	}

	cm.mu.Lock()
	cm.session = session
	cm.info = info
	cm.mu.Unlock()

	if connected {
		log.Info("Connected to broker")
	}
	return connected
}

// handshake connects session and switches it to delayed market data
func (cm *ConnectionManager) handshake(ctx context.Context, session interfaces.BrokerSession, info ConnectionInfo, log *logrus.Entry) bool {
	if err := session.Connect(ctx, info.Host, info.Port, info.ClientID); err != nil {
		log.WithError(err).Error("Connection error")
		return false
	}
	if !session.IsConnected() {
		log.Error("Session reported not connected after connect")
		return false
	}

	if err := session.RequestMarketDataType(DelayedMarketData); err != nil {
		log.WithError(err).Warn("Failed to request delayed market data")
	}
	return true
}

// Disconnect tears down the session. It reports false when no session was
// ever created; calling it on a dead session is a no-op.
func (cm *ConnectionManager) Disconnect() bool {
	cm.connectMu.Lock()
	defer cm.connectMu.Unlock()

	cm.mu.RLock()
	session, clientID := cm.session, cm.info.ClientID
	cm.mu.RUnlock()

	if session == nil {
		return false
	}
	if session.IsConnected() {
		if err := session.Disconnect(); err != nil {
			cm.logger.WithError(err).Warn("Failed to disconnect session")
		} else {
			cm.logger.WithField("client_id", clientID).Info("Disconnected from broker")
		}
	}
	return true
}

// IsConnected queries the live session state on every call
func (cm *ConnectionManager) IsConnected() bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	return cm.session != nil && cm.session.IsConnected()
}

// Session returns the live session or ErrNotConnected
func (cm *ConnectionManager) Session() (interfaces.BrokerSession, error) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	if cm.session == nil || !cm.session.IsConnected() {
		return nil, interfaces.ErrNotConnected
	}
	return cm.session, nil
}

// Info returns the parameters of the current or most recent session
func (cm *ConnectionManager) Info() ConnectionInfo {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	return cm.info
}

// ClientID returns the active client id, or false when not connected
func (cm *ConnectionManager) ClientID() (int, bool) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	if cm.session == nil || !cm.session.IsConnected() {
		return 0, false
	}
	return cm.info.ClientID, true
}
