package messages

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/parleylabs/parley/backend/internal/chat"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

// StoreError carries a dotted operation code alongside the underlying cause.
type StoreError struct {
	code string
	err  error
}

func (e *StoreError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *StoreError) Unwrap() error {
	return e.err
}

func (e *StoreError) Code() string {
	return e.code
}

const (
	opStoreNew = "messages.store.new"
	opSave     = "messages.save"
	opRecent   = "messages.recent_for_session"
)

func newStoreError(operation, reason string, cause error) error {
	return &StoreError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// StoreConfig wires the message store's dependencies.
type StoreConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Store persists chat messages in the relational database. It implements
// chat.MessageStore.
type Store struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewStore constructs the message store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, newStoreError(opStoreNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newStoreError(opStoreNew, "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Store{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// Save durably stores one message and returns the stored form echoed to the
// room. Validation failures and database errors both surface as coded store
// errors; nothing is written on failure.
func (s *Store) Save(ctx context.Context, tenantID, sessionID, sender string, role chat.Role, text string) (chat.StoredMessage, error) {
	if tenantID == "" || len(tenantID) > maxIdentifierLength {
		return chat.StoredMessage{}, newStoreError(opSave, "invalid_tenant", ErrInvalidTenantID)
	}
	if sessionID == "" || len(sessionID) > maxIdentifierLength {
		return chat.StoredMessage{}, newStoreError(opSave, "invalid_session", ErrInvalidSessionID)
	}
	if text == "" {
		return chat.StoredMessage{}, newStoreError(opSave, "empty_body", ErrEmptyBody)
	}

	messageID, err := s.idProvider.NewID()
	if err != nil {
		return chat.StoredMessage{}, newStoreError(opSave, "id_generation", err)
	}

	row := Message{
		MessageID: messageID,
		TenantID:  tenantID,
		SessionID: sessionID,
		Sender:    sender,
		Role:      string(role),
		Body:      text,
		CreatedAt: s.clock().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return chat.StoredMessage{}, newStoreError(opSave, "insert_failed", err)
	}

	s.logger.Debug("message stored",
		zap.String("tenant_id", tenantID),
		zap.String("session_id", sessionID),
		zap.String("message_id", messageID))
	return storedFromRow(row), nil
}

// RecentForSession returns up to limit messages for the session in
// chronological order.
func (s *Store) RecentForSession(ctx context.Context, tenantID, sessionID string, limit int) ([]chat.StoredMessage, error) {
	if tenantID == "" {
		return nil, newStoreError(opRecent, "invalid_tenant", ErrInvalidTenantID)
	}
	if sessionID == "" {
		return nil, newStoreError(opRecent, "invalid_session", ErrInvalidSessionID)
	}
	if limit <= 0 {
		limit = 50
	}

	var rows []Message
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND session_id = ?", tenantID, sessionID).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, newStoreError(opRecent, "query_failed", err)
	}

	// Query newest-first to honor the limit, then flip to chronological.
	stored := make([]chat.StoredMessage, len(rows))
	for i, row := range rows {
		stored[len(rows)-1-i] = storedFromRow(row)
	}
	return stored, nil
}

func storedFromRow(row Message) chat.StoredMessage {
	return chat.StoredMessage{
		ID:        row.MessageID,
		TenantID:  row.TenantID,
		SessionID: row.SessionID,
		Sender:    row.Sender,
		Role:      chat.Role(row.Role),
		Text:      row.Body,
		CreatedAt: row.CreatedAt,
	}
}
