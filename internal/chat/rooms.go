package chat

import (
	"go.uber.org/zap"
)

// RoomStats is a read-only snapshot of a tenant room, computed by scanning
// the registry at call time. There are no counters to keep in sync.
type RoomStats struct {
	MemberCount      int      `json:"member_count"`
	ActiveSessionIDs []string `json:"active_session_ids"`
}

// Coordinator fans payloads out to every connection registered under a
// tenant. Membership is derived live from the registry on every call, so a
// partially torn down connection can never linger in a stale index.
type Coordinator struct {
	registry *Registry
	logger   *zap.Logger
}

// NewCoordinator constructs a coordinator over the given registry.
func NewCoordinator(registry *Registry, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{registry: registry, logger: logger}
}

// Broadcast delivers the event to every current member of the tenant room,
// skipping exclude when non-empty. Send failures are logged and isolated; one
// broken connection never blocks delivery to the rest of the room.
func (c *Coordinator) Broadcast(tenantID, event string, payload any, exclude string) {
	for _, conn := range c.registry.connsByTenant(tenantID, exclude, nil) {
		if err := conn.Send(event, payload); err != nil {
			c.logger.Warn("broadcast delivery failed",
				zap.String("tenant_id", tenantID),
				zap.String("event", event),
				zap.String("conn_id", conn.ID()),
				zap.Error(err))
		}
	}
}

// BroadcastToRole is Broadcast restricted to members with the given role,
// used for operator- or admin-only notifications.
func (c *Coordinator) BroadcastToRole(tenantID string, role Role, event string, payload any) {
	for _, conn := range c.registry.connsByTenant(tenantID, "", &role) {
		if err := conn.Send(event, payload); err != nil {
			c.logger.Warn("role broadcast delivery failed",
				zap.String("tenant_id", tenantID),
				zap.String("role", string(role)),
				zap.String("event", event),
				zap.String("conn_id", conn.ID()),
				zap.Error(err))
		}
	}
}

// RoomStats reports the current member count and the distinct visitor
// session ids present in the room.
func (c *Coordinator) RoomStats(tenantID string) RoomStats {
	members := c.registry.ListByTenant(tenantID)
	seen := make(map[string]struct{})
	sessionIDs := make([]string, 0)
	for _, member := range members {
		if member.Role != RoleVisitor || member.SessionID == "" {
			continue
		}
		if _, dup := seen[member.SessionID]; dup {
			continue
		}
		seen[member.SessionID] = struct{}{}
		sessionIDs = append(sessionIDs, member.SessionID)
	}
	return RoomStats{MemberCount: len(members), ActiveSessionIDs: sessionIDs}
}
