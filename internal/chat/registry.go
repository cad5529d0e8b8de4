package chat

import (
	"sync"
	"time"
)

// Record is a point-in-time snapshot of a live connection's state. Snapshots
// are value copies; callers never hold a reference into the registry.
type Record struct {
	ConnID         string
	TenantID       string
	SessionID      string
	Role           Role
	ConnectedAt    time.Time
	LastActivityAt time.Time
	Rooms          []string
}

// Joined reports whether the connection currently belongs to a tenant room.
func (r Record) Joined() bool {
	return r.TenantID != ""
}

type record struct {
	connID         string
	tenantID       string
	sessionID      string
	role           Role
	connectedAt    time.Time
	lastActivityAt time.Time
	rooms          map[string]struct{}
	conn           Conn
	auth           *AuthContext
}

func (r *record) snapshot() Record {
	rooms := make([]string, 0, len(r.rooms))
	for room := range r.rooms {
		rooms = append(rooms, room)
	}
	return Record{
		ConnID:         r.connID,
		TenantID:       r.tenantID,
		SessionID:      r.sessionID,
		Role:           r.role,
		ConnectedAt:    r.connectedAt,
		LastActivityAt: r.lastActivityAt,
		Rooms:          rooms,
	}
}

// Registry is the authoritative mapping from connection id to connection
// state. It owns the records exclusively; room membership is always derived
// from it and never duplicated elsewhere.
type Registry struct {
	mu      sync.RWMutex
	records map[string]*record
	clock   func() time.Time
}

// NewRegistry constructs an empty registry. A nil clock defaults to time.Now
// so tests can pin time.
func NewRegistry(clock func() time.Time) *Registry {
	if clock == nil {
		clock = time.Now
	}
	return &Registry{
		records: make(map[string]*record),
		clock:   clock,
	}
}

// Register creates a record for a freshly attached connection. The record has
// no tenant or session until a join event arrives.
func (reg *Registry) Register(conn Conn, auth *AuthContext) Record {
	now := reg.clock()
	entry := &record{
		connID:         conn.ID(),
		connectedAt:    now,
		lastActivityAt: now,
		rooms:          make(map[string]struct{}),
		conn:           conn,
		auth:           auth,
	}

	reg.mu.Lock()
	reg.records[entry.connID] = entry
	snapshot := entry.snapshot()
	reg.mu.Unlock()
	return snapshot
}

// JoinTenant scopes the connection to a tenant room, leaving any previously
// joined rooms first so a connection is a member of at most one room. It
// returns the updated snapshot together with the pre-join snapshot, so the
// caller can clear state still keyed by the old tenant, session and role.
func (reg *Registry) JoinTenant(connID, tenantID, sessionID string, role Role) (Record, Record, error) {
	if tenantID == "" {
		return Record{}, Record{}, newError(CodeInvalidJoin, "tenant_id is required to join")
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()

	entry, ok := reg.records[connID]
	if !ok {
		return Record{}, Record{}, newError(CodeNotFound, "connection %s is not registered", connID)
	}

	previous := entry.snapshot()
	entry.rooms = map[string]struct{}{tenantID: {}}
	entry.tenantID = tenantID
	entry.sessionID = sessionID
	entry.role = role
	entry.lastActivityAt = reg.monotonicNow(entry)
	return entry.snapshot(), previous, nil
}

// Touch records inbound activity. The activity timestamp never moves backwards.
func (reg *Registry) Touch(connID string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if entry, ok := reg.records[connID]; ok {
		entry.lastActivityAt = reg.monotonicNow(entry)
	}
}

// Deregister removes the record. It is idempotent: a second call for the same
// connection reports ok=false and has no effect, so the teardown path can be
// reached from client disconnect, idle reaping and error handling alike.
func (reg *Registry) Deregister(connID string) (Record, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	entry, ok := reg.records[connID]
	if !ok {
		return Record{}, false
	}
	snapshot := entry.snapshot()
	delete(reg.records, connID)
	return snapshot, true
}

// Get returns the snapshot for a connection.
func (reg *Registry) Get(connID string) (Record, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	if entry, ok := reg.records[connID]; ok {
		return entry.snapshot(), true
	}
	return Record{}, false
}

// ListByTenant returns snapshots of every connection joined to the tenant.
func (reg *Registry) ListByTenant(tenantID string) []Record {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	matches := make([]Record, 0)
	for _, entry := range reg.records {
		if entry.tenantID == tenantID {
			matches = append(matches, entry.snapshot())
		}
	}
	return matches
}

// All returns snapshots of every registered connection, for the liveness sweep.
func (reg *Registry) All() []Record {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	all := make([]Record, 0, len(reg.records))
	for _, entry := range reg.records {
		all = append(all, entry.snapshot())
	}
	return all
}

// Len reports the number of live records.
func (reg *Registry) Len() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.records)
}

// connOf exposes the transport handle for a connection to the coordinator and
// the liveness monitor. The handle is safe to use without the registry lock.
func (reg *Registry) connOf(connID string) (Conn, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	entry, ok := reg.records[connID]
	if !ok {
		return nil, false
	}
	return entry.conn, true
}

// authOf exposes the validated identity attached at connect time.
func (reg *Registry) authOf(connID string) *AuthContext {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	if entry, ok := reg.records[connID]; ok {
		return entry.auth
	}
	return nil
}

// connsByTenant collects transport handles for a fan-out, optionally skipping
// one connection and optionally filtering by role.
func (reg *Registry) connsByTenant(tenantID string, exclude string, role *Role) []Conn {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	conns := make([]Conn, 0)
	for _, entry := range reg.records {
		if entry.tenantID != tenantID {
			continue
		}
		if entry.connID == exclude {
			continue
		}
		if role != nil && entry.role != *role {
			continue
		}
		conns = append(conns, entry.conn)
	}
	return conns
}

func (reg *Registry) monotonicNow(entry *record) time.Time {
	now := reg.clock()
	if now.Before(entry.lastActivityAt) {
		return entry.lastActivityAt
	}
	return now
}
