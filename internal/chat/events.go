package chat

import (
	"encoding/json"
	"errors"
	"strings"
)

// Role identifies the capacity a connection participates in within a tenant room.
type Role string

const (
	RoleVisitor  Role = "visitor"
	RoleOperator Role = "operator"
	RoleAdmin    Role = "admin"
)

// ErrUnknownRole indicates a role string outside the closed set.
var ErrUnknownRole = errors.New("chat: unknown role")

// ParseRole validates a raw role string.
func ParseRole(raw string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case RoleVisitor:
		return RoleVisitor, nil
	case RoleOperator:
		return RoleOperator, nil
	case RoleAdmin:
		return RoleAdmin, nil
	default:
		return "", ErrUnknownRole
	}
}

// Elevated reports whether the role carries operator-side privileges.
func (r Role) Elevated() bool {
	return r == RoleOperator || r == RoleAdmin
}

// Outbound event names. Typing events carry a side prefix so the widget and
// the dashboard can subscribe to the counterpart's previews only.
const (
	EventNewMessage     = "new_message"
	EventUserJoined     = "user_joined"
	EventUserLeft       = "user_left"
	EventActiveSessions = "active_sessions"
	EventSessionClosed  = "session_closed"
	EventError          = "error"
)

// typingSide collapses admin into the operator side so the widget only ever
// needs to know about "operator" previews.
func typingSide(role Role) string {
	if role.Elevated() {
		return "operator"
	}
	return "visitor"
}

// TypingPreviewEvent returns the outbound event name for a preview update.
func TypingPreviewEvent(role Role) string {
	return typingSide(role) + "_typing_preview"
}

// TypingClearedEvent returns the outbound event name for a preview clear.
func TypingClearedEvent(role Role) string {
	return typingSide(role) + "_typing_cleared"
}

// Inbound event type tags.
const (
	inboundJoinSite     = "join_site"
	inboundSendMessage  = "send_message"
	inboundTyping       = "typing"
	inboundStopTyping   = "stop_typing"
	inboundAdminJoin    = "admin_join"
	inboundCloseSession = "close_session"
)

// InboundEvent is the closed set of client-originated events. Each variant
// carries only the fields its handler requires; decoding rejects payloads
// with missing required fields instead of tolerating partial ones.
type InboundEvent interface {
	inboundEvent()
}

// JoinSiteEvent scopes the connection to a tenant room.
type JoinSiteEvent struct {
	TenantID  string
	SessionID string
	Role      Role
}

// SendMessageEvent persists and fans out a chat message.
type SendMessageEvent struct {
	TenantID  string
	SessionID string
	Text      string
	Role      Role
}

// TypingEvent updates the typing preview for the sender's session.
type TypingEvent struct {
	TenantID   string
	SessionID  string
	Text       string
	Role       Role
	Confidence *float64
}

// StopTypingEvent explicitly clears the sender's typing preview.
type StopTypingEvent struct {
	TenantID  string
	SessionID string
	Role      Role
}

// AdminJoinEvent joins an elevated connection to a tenant room.
type AdminJoinEvent struct {
	TenantID string
}

// CloseSessionEvent force-disconnects the connections of a visitor session.
type CloseSessionEvent struct {
	SessionID string
}

func (JoinSiteEvent) inboundEvent()     {}
func (SendMessageEvent) inboundEvent()  {}
func (TypingEvent) inboundEvent()       {}
func (StopTypingEvent) inboundEvent()   {}
func (AdminJoinEvent) inboundEvent()    {}
func (CloseSessionEvent) inboundEvent() {}

type inboundEnvelope struct {
	Type       string   `json:"type"`
	TenantID   string   `json:"tenant_id"`
	SessionID  string   `json:"session_id"`
	Role       string   `json:"role"`
	Text       string   `json:"text"`
	Confidence *float64 `json:"confidence"`
}

// ParseInbound decodes a raw client payload into one of the inbound event
// variants, validating the fields each variant requires.
func ParseInbound(payload []byte) (InboundEvent, error) {
	var envelope inboundEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, newError(CodeInvalidEvent, "malformed event payload")
	}

	switch envelope.Type {
	case inboundJoinSite:
		if strings.TrimSpace(envelope.TenantID) == "" {
			return nil, newError(CodeInvalidJoin, "tenant_id is required to join")
		}
		role, err := ParseRole(envelope.Role)
		if err != nil {
			return nil, newError(CodeInvalidJoin, "role %q is not recognized", envelope.Role)
		}
		return JoinSiteEvent{
			TenantID:  strings.TrimSpace(envelope.TenantID),
			SessionID: strings.TrimSpace(envelope.SessionID),
			Role:      role,
		}, nil
	case inboundSendMessage:
		if strings.TrimSpace(envelope.Text) == "" {
			return nil, newError(CodeInvalidEvent, "message text is required")
		}
		role, err := ParseRole(envelope.Role)
		if err != nil {
			return nil, newError(CodeInvalidEvent, "role %q is not recognized", envelope.Role)
		}
		return SendMessageEvent{
			TenantID:  strings.TrimSpace(envelope.TenantID),
			SessionID: strings.TrimSpace(envelope.SessionID),
			Text:      envelope.Text,
			Role:      role,
		}, nil
	case inboundTyping:
		role, err := ParseRole(envelope.Role)
		if err != nil {
			return nil, newError(CodeInvalidEvent, "role %q is not recognized", envelope.Role)
		}
		return TypingEvent{
			TenantID:   strings.TrimSpace(envelope.TenantID),
			SessionID:  strings.TrimSpace(envelope.SessionID),
			Text:       envelope.Text,
			Role:       role,
			Confidence: envelope.Confidence,
		}, nil
	case inboundStopTyping:
		role, err := ParseRole(envelope.Role)
		if err != nil {
			return nil, newError(CodeInvalidEvent, "role %q is not recognized", envelope.Role)
		}
		return StopTypingEvent{
			TenantID:  strings.TrimSpace(envelope.TenantID),
			SessionID: strings.TrimSpace(envelope.SessionID),
			Role:      role,
		}, nil
	case inboundAdminJoin:
		if strings.TrimSpace(envelope.TenantID) == "" {
			return nil, newError(CodeInvalidJoin, "tenant_id is required to join")
		}
		return AdminJoinEvent{TenantID: strings.TrimSpace(envelope.TenantID)}, nil
	case inboundCloseSession:
		if strings.TrimSpace(envelope.SessionID) == "" {
			return nil, newError(CodeInvalidEvent, "session_id is required")
		}
		return CloseSessionEvent{SessionID: strings.TrimSpace(envelope.SessionID)}, nil
	default:
		return nil, newError(CodeInvalidEvent, "unknown event type %q", envelope.Type)
	}
}
