package chat

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultHeartbeatInterval = 30 * time.Second
	defaultIdleTimeout       = 2 * time.Minute
	defaultSweepInterval     = time.Minute
)

// Teardown reasons reported when the monitor reclaims a connection.
const (
	ReasonTransportGone = "transport_disconnected"
	ReasonPingFailed    = "ping_failed"
	ReasonIdleReaped    = "idle_reaped"
)

// MonitorConfig configures liveness detection.
type MonitorConfig struct {
	Registry          *Registry
	Teardown          func(connID, reason string)
	HeartbeatInterval time.Duration
	IdleTimeout       time.Duration
	SweepInterval     time.Duration
	Clock             func() time.Time
	Logger            *zap.Logger
}

// Monitor detects abandoned connections with two tiers: a cheap per
// connection heartbeat probe, and a global sweep that reclaims any record
// idle longer than twice the idle timeout. Worst case cleanup latency is
// bounded by idleTimeout + sweepInterval.
type Monitor struct {
	registry          *Registry
	teardown          func(connID, reason string)
	heartbeatInterval time.Duration
	idleTimeout       time.Duration
	sweepInterval     time.Duration
	clock             func() time.Time
	logger            *zap.Logger

	mu     sync.Mutex
	probes map[string]*time.Timer
	closed bool
	done   chan struct{}
}

// NewMonitor constructs a monitor. Run must be called to start the sweep.
func NewMonitor(cfg MonitorConfig) *Monitor {
	heartbeat := cfg.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}
	idle := cfg.IdleTimeout
	if idle <= 0 {
		idle = defaultIdleTimeout
	}
	sweep := cfg.SweepInterval
	if sweep <= 0 {
		sweep = defaultSweepInterval
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		registry:          cfg.Registry,
		teardown:          cfg.Teardown,
		heartbeatInterval: heartbeat,
		idleTimeout:       idle,
		sweepInterval:     sweep,
		clock:             clock,
		logger:            logger,
		probes:            make(map[string]*time.Timer),
		done:              make(chan struct{}),
	}
}

// Run starts the periodic system-wide sweep. It returns immediately.
func (m *Monitor) Run() {
	go func() {
		ticker := time.NewTicker(m.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.sweep()
			case <-m.done:
				return
			}
		}
	}()
}

// StartProbe schedules the recurring heartbeat probe for a connection.
func (m *Monitor) StartProbe(connID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	if existing, ok := m.probes[connID]; ok {
		existing.Stop()
	}
	m.probes[connID] = time.AfterFunc(m.heartbeatInterval, func() {
		m.probe(connID)
	})
}

// StopProbe cancels the probe for a connection. Called from the single
// teardown path; calling it for an unknown connection is a no-op.
func (m *Monitor) StopProbe(connID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if timer, ok := m.probes[connID]; ok {
		timer.Stop()
		delete(m.probes, connID)
	}
}

// Close stops the sweep and every outstanding probe.
func (m *Monitor) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	for connID, timer := range m.probes {
		timer.Stop()
		delete(m.probes, connID)
	}
	m.mu.Unlock()
	close(m.done)
}

func (m *Monitor) probe(connID string) {
	conn, ok := m.registry.connOf(connID)
	if !ok {
		m.StopProbe(connID)
		return
	}
	if !conn.IsConnected() {
		m.logger.Debug("transport reports disconnected", zap.String("conn_id", connID))
		m.teardown(connID, ReasonTransportGone)
		return
	}
	if err := conn.Ping(); err != nil {
		m.logger.Debug("heartbeat ping failed", zap.String("conn_id", connID), zap.Error(err))
		m.teardown(connID, ReasonPingFailed)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	if _, present := m.probes[connID]; !present {
		return
	}
	m.probes[connID] = time.AfterFunc(m.heartbeatInterval, func() {
		m.probe(connID)
	})
}

// sweep reclaims records whose last activity is older than twice the idle
// timeout. The record set is a snapshot; teardown re-checks existence.
func (m *Monitor) sweep() {
	cutoff := 2 * m.idleTimeout
	now := m.clock()
	for _, rec := range m.registry.All() {
		if now.Sub(rec.LastActivityAt) <= cutoff {
			continue
		}
		m.logger.Info("reaping idle connection",
			zap.String("conn_id", rec.ConnID),
			zap.Time("last_activity", rec.LastActivityAt))
		if conn, ok := m.registry.connOf(rec.ConnID); ok {
			_ = conn.Close(ReasonIdleReaped)
		}
		m.teardown(rec.ConnID, ReasonIdleReaped)
	}
}
