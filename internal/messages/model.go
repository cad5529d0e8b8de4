package messages

import (
	"errors"
	"time"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidTenantID indicates an empty or oversized tenant identifier.
	ErrInvalidTenantID = errors.New("messages: invalid tenant id")
	// ErrInvalidSessionID indicates an empty or oversized session identifier.
	ErrInvalidSessionID = errors.New("messages: invalid session id")
	// ErrEmptyBody indicates a message with no text.
	ErrEmptyBody = errors.New("messages: empty body")
)

// Message models a persisted chat message.
type Message struct {
	MessageID string    `gorm:"column:message_id;primaryKey;size:190;not null"`
	TenantID  string    `gorm:"column:tenant_id;size:190;not null;index:idx_messages_tenant_session,priority:1"`
	SessionID string    `gorm:"column:session_id;size:190;not null;index:idx_messages_tenant_session,priority:2"`
	Sender    string    `gorm:"column:sender;size:190;not null"`
	Role      string    `gorm:"column:role;size:32;not null"`
	Body      string    `gorm:"column:body;type:text;not null"`
	CreatedAt time.Time `gorm:"column:created_at;not null;index:idx_messages_tenant_session,priority:3"`
}

// TableName provides the explicit table binding for GORM.
func (Message) TableName() string {
	return "chat_messages"
}
