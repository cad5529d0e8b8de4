package chat

// Conn abstracts a live transport connection. The websocket layer provides
// the production implementation; tests substitute in-memory fakes.
//
// Send and Ping must not block the caller indefinitely; a slow peer is the
// transport's problem to detect and drop, not the session manager's.
type Conn interface {
	ID() string
	Send(event string, payload any) error
	Ping() error
	IsConnected() bool
	Close(reason string) error
}

// AuthContext carries the validated identity of an elevated connection.
// Visitor connections attach without one.
type AuthContext struct {
	Subject  string
	TenantID string
	Role     Role
}

// allows reports whether the authenticated identity may act as the requested
// role for the tenant. Admins may also act as operators.
func (a *AuthContext) allows(tenantID string, role Role) bool {
	if a == nil {
		return false
	}
	if a.TenantID != tenantID {
		return false
	}
	if a.Role == role {
		return true
	}
	return a.Role == RoleAdmin && role == RoleOperator
}
