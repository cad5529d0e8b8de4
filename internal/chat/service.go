package chat

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

const defaultHistoryLimit = 50

// Teardown reasons originating outside the liveness monitor.
const (
	ReasonClientDisconnect = "client_disconnect"
	ReasonClosedByAdmin    = "closed_by_admin"
	ReasonShutdown         = "server_shutdown"
)

var (
	errMissingStore      = errors.New("chat: message store is required")
	errMissingAuthorizer = errors.New("chat: authorizer is required")
)

// StoredMessage is a durably persisted chat message as echoed to the room.
type StoredMessage struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	SessionID string    `json:"session_id"`
	Sender    string    `json:"sender"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// MessageStore persists chat messages. Save must complete before the message
// is fanned out; its latency is a suspension point for the calling handler.
type MessageStore interface {
	Save(ctx context.Context, tenantID, sessionID, sender string, role Role, text string) (StoredMessage, error)
	RecentForSession(ctx context.Context, tenantID, sessionID string, limit int) ([]StoredMessage, error)
}

// Authorizer answers whether a caller may participate in a tenant under the
// requested role, consulting tenant standing (existence, suspension,
// payment state) as needed.
type Authorizer interface {
	Authorize(ctx context.Context, tenantID string, role Role) error
}

// ServiceConfig wires the session manager's collaborators and tunables.
type ServiceConfig struct {
	Store      MessageStore
	Authorizer Authorizer
	Logger     *zap.Logger
	Clock      func() time.Time

	HeartbeatInterval time.Duration
	IdleTimeout       time.Duration
	SweepInterval     time.Duration
	TypingClearDelay  time.Duration
	HistoryLimit      int
}

// Service is the presence and messaging session manager: it multiplexes
// connections into tenant rooms, coordinates typing previews, and reclaims
// dead connections. Each Service instance is fully independent; nothing is
// shared at package level.
type Service struct {
	registry *Registry
	rooms    *Coordinator
	typing   *TypingTable
	monitor  *Monitor

	store        MessageStore
	authorizer   Authorizer
	logger       *zap.Logger
	historyLimit int
}

// NewService constructs and starts a session manager. Close releases every
// timer it owns.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	if cfg.Authorizer == nil {
		return nil, errMissingAuthorizer
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	historyLimit := cfg.HistoryLimit
	if historyLimit <= 0 {
		historyLimit = defaultHistoryLimit
	}

	registry := NewRegistry(cfg.Clock)
	rooms := NewCoordinator(registry, logger)
	service := &Service{
		registry:     registry,
		rooms:        rooms,
		typing:       NewTypingTable(rooms, cfg.TypingClearDelay, logger),
		store:        cfg.Store,
		authorizer:   cfg.Authorizer,
		logger:       logger,
		historyLimit: historyLimit,
	}
	service.monitor = NewMonitor(MonitorConfig{
		Registry:          registry,
		Teardown:          service.Disconnect,
		HeartbeatInterval: cfg.HeartbeatInterval,
		IdleTimeout:       cfg.IdleTimeout,
		SweepInterval:     cfg.SweepInterval,
		Clock:             cfg.Clock,
		Logger:            logger,
	})
	service.monitor.Run()
	return service, nil
}

// Rooms exposes the broadcast coordinator for read-only stats endpoints.
func (s *Service) Rooms() *Coordinator {
	return s.rooms
}

// ConnectionCount reports the number of live connections.
func (s *Service) ConnectionCount() int {
	return s.registry.Len()
}

// Connect registers a freshly attached transport connection and starts its
// heartbeat probe. auth is nil for anonymous visitor connections.
func (s *Service) Connect(conn Conn, auth *AuthContext) Record {
	rec := s.registry.Register(conn, auth)
	s.monitor.StartProbe(rec.ConnID)
	s.logger.Info("connection registered", zap.String("conn_id", rec.ConnID))
	return rec
}

// Disconnect tears down a connection: timers cancelled, typing previews
// cleared, peers notified. It is the single teardown path and is idempotent;
// whichever of client close, idle reap or admin close arrives second is a
// no-op.
func (s *Service) Disconnect(connID, reason string) {
	rec, removed := s.registry.Deregister(connID)
	if !removed {
		return
	}
	s.monitor.StopProbe(connID)
	if rec.Joined() {
		s.typing.ClearOwned(rec.TenantID, rec.SessionID, rec.Role)
		s.rooms.Broadcast(rec.TenantID, EventUserLeft, presencePayload{
			TenantID:  rec.TenantID,
			SessionID: rec.SessionID,
			Role:      rec.Role,
		}, "")
	}
	s.logger.Info("connection deregistered",
		zap.String("conn_id", connID),
		zap.String("reason", reason))
}

// Touch records inbound transport activity (pongs included).
func (s *Service) Touch(connID string) {
	s.registry.Touch(connID)
}

// Close tears the whole manager down: sweep and probes stopped, typing
// timers cancelled, transports closed. Peers get transport-level closes
// rather than a storm of user_left events.
func (s *Service) Close() {
	s.monitor.Close()
	s.typing.Close()
	for _, rec := range s.registry.All() {
		if conn, ok := s.registry.connOf(rec.ConnID); ok {
			_ = conn.Close(ReasonShutdown)
		}
		s.registry.Deregister(rec.ConnID)
	}
}

// HandleEvent dispatches one inbound payload for the connection. Every
// failure is converted to an error event on the originating connection; no
// error ever propagates into another connection's handling path.
func (s *Service) HandleEvent(ctx context.Context, connID string, payload []byte) {
	s.registry.Touch(connID)

	event, err := ParseInbound(payload)
	if err != nil {
		s.sendError(connID, err)
		return
	}

	switch ev := event.(type) {
	case JoinSiteEvent:
		err = s.handleJoin(ctx, connID, ev.TenantID, ev.SessionID, ev.Role)
	case AdminJoinEvent:
		err = s.handleAdminJoin(ctx, connID, ev.TenantID)
	case SendMessageEvent:
		err = s.handleSendMessage(ctx, connID, ev)
	case TypingEvent:
		err = s.handleTyping(connID, ev)
	case StopTypingEvent:
		err = s.handleStopTyping(connID, ev)
	case CloseSessionEvent:
		err = s.handleCloseSession(connID, ev)
	default:
		err = newError(CodeInvalidEvent, "unhandled event variant")
	}
	if err != nil {
		s.sendError(connID, err)
	}
}

type presencePayload struct {
	TenantID  string `json:"tenant_id"`
	SessionID string `json:"session_id,omitempty"`
	Role      Role   `json:"role"`
}

type activeSessionsPayload struct {
	TenantID    string          `json:"tenant_id"`
	MemberCount int             `json:"member_count"`
	SessionIDs  []string        `json:"session_ids"`
	History     []StoredMessage `json:"history,omitempty"`
}

type sessionClosedPayload struct {
	TenantID  string `json:"tenant_id"`
	SessionID string `json:"session_id"`
}

type errorPayload struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

func (s *Service) handleJoin(ctx context.Context, connID, tenantID, sessionID string, role Role) error {
	if role.Elevated() && !s.registry.authOf(connID).allows(tenantID, role) {
		return newError(CodeUnauthorized, "role %s for tenant %s requires authentication", role, tenantID)
	}
	if err := s.authorizer.Authorize(ctx, tenantID, role); err != nil {
		if chatErr := (*Error)(nil); errors.As(err, &chatErr) {
			return chatErr
		}
		return newError(CodeUnauthorized, "tenant %s refused the join", tenantID)
	}

	rec, previous, err := s.registry.JoinTenant(connID, tenantID, sessionID, role)
	if err != nil {
		return err
	}
	if previous.Joined() && previous.TenantID != tenantID {
		// Leaving one site for another behaves like a departure for the old room.
		s.typing.ClearOwned(previous.TenantID, previous.SessionID, previous.Role)
		s.rooms.Broadcast(previous.TenantID, EventUserLeft, presencePayload{
			TenantID:  previous.TenantID,
			SessionID: previous.SessionID,
			Role:      previous.Role,
		}, connID)
	}

	s.rooms.Broadcast(tenantID, EventUserJoined, presencePayload{
		TenantID:  tenantID,
		SessionID: rec.SessionID,
		Role:      rec.Role,
	}, connID)

	s.replyActiveSessions(ctx, connID, rec)
	s.logger.Info("connection joined tenant",
		zap.String("conn_id", connID),
		zap.String("tenant_id", tenantID),
		zap.String("role", string(role)))
	return nil
}

func (s *Service) handleAdminJoin(ctx context.Context, connID, tenantID string) error {
	auth := s.registry.authOf(connID)
	if auth == nil || !auth.Role.Elevated() || auth.TenantID != tenantID {
		return newError(CodeUnauthorized, "admin join for tenant %s requires an elevated token", tenantID)
	}
	return s.handleJoin(ctx, connID, tenantID, "", auth.Role)
}

func (s *Service) handleSendMessage(ctx context.Context, connID string, ev SendMessageEvent) error {
	rec, ok := s.registry.Get(connID)
	if !ok {
		return newError(CodeNotFound, "connection %s is not registered", connID)
	}
	if !rec.Joined() {
		return newError(CodeNotJoined, "join a site before sending messages")
	}
	if ev.TenantID != "" && ev.TenantID != rec.TenantID {
		return newError(CodeNotJoined, "connection is joined to a different site")
	}

	sessionID := ev.SessionID
	if rec.Role == RoleVisitor || sessionID == "" {
		// Visitors always write into their own session.
		sessionID = rec.SessionID
	}
	if sessionID == "" {
		return newError(CodeNotJoined, "no session to send into")
	}

	sender := rec.SessionID
	if auth := s.registry.authOf(connID); auth != nil {
		sender = auth.Subject
	}

	// Suspension point: persistence completes before any fan-out, so a
	// broadcast new_message always refers to a durably stored message.
	stored, err := s.store.Save(ctx, rec.TenantID, sessionID, sender, rec.Role, ev.Text)
	if err != nil {
		s.logger.Error("message save failed",
			zap.String("conn_id", connID),
			zap.String("tenant_id", rec.TenantID),
			zap.Error(err))
		return newError(CodePersistenceFailure, "message could not be stored")
	}

	// A delivered message supersedes any in-flight preview from its author.
	s.typing.Stop(rec.TenantID, sessionID, rec.Role)
	s.rooms.Broadcast(rec.TenantID, EventNewMessage, stored, connID)
	return nil
}

func (s *Service) handleTyping(connID string, ev TypingEvent) error {
	rec, err := s.requireJoined(connID, ev.TenantID)
	if err != nil {
		return err
	}
	sessionID := ev.SessionID
	if rec.Role == RoleVisitor || sessionID == "" {
		sessionID = rec.SessionID
	}
	s.typing.Update(rec.TenantID, sessionID, rec.Role, ev.Text, ev.Confidence, connID)
	return nil
}

func (s *Service) handleStopTyping(connID string, ev StopTypingEvent) error {
	rec, err := s.requireJoined(connID, ev.TenantID)
	if err != nil {
		return err
	}
	sessionID := ev.SessionID
	if rec.Role == RoleVisitor || sessionID == "" {
		sessionID = rec.SessionID
	}
	s.typing.Stop(rec.TenantID, sessionID, rec.Role)
	return nil
}

func (s *Service) handleCloseSession(connID string, ev CloseSessionEvent) error {
	rec, ok := s.registry.Get(connID)
	if !ok {
		return newError(CodeNotFound, "connection %s is not registered", connID)
	}
	auth := s.registry.authOf(connID)
	if auth == nil || auth.Role != RoleAdmin || !rec.Joined() {
		return newError(CodeUnauthorized, "closing sessions requires an admin joined to the tenant")
	}

	closed := sessionClosedPayload{TenantID: rec.TenantID, SessionID: ev.SessionID}
	targets := 0
	for _, member := range s.registry.ListByTenant(rec.TenantID) {
		if member.SessionID != ev.SessionID || member.ConnID == connID {
			continue
		}
		targets++
		if conn, okConn := s.registry.connOf(member.ConnID); okConn {
			_ = conn.Send(EventSessionClosed, closed)
			_ = conn.Close(ReasonClosedByAdmin)
		}
		s.Disconnect(member.ConnID, ReasonClosedByAdmin)
	}

	// Already-gone sessions count as success: the desired state holds.
	s.rooms.BroadcastToRole(rec.TenantID, RoleAdmin, EventSessionClosed, closed)
	if targets == 0 {
		s.logger.Info("close_session for absent session",
			zap.String("tenant_id", rec.TenantID),
			zap.String("session_id", ev.SessionID))
	}
	return nil
}

func (s *Service) requireJoined(connID, tenantID string) (Record, error) {
	rec, ok := s.registry.Get(connID)
	if !ok {
		return Record{}, newError(CodeNotFound, "connection %s is not registered", connID)
	}
	if !rec.Joined() {
		return Record{}, newError(CodeNotJoined, "join a site first")
	}
	if tenantID != "" && tenantID != rec.TenantID {
		return Record{}, newError(CodeNotJoined, "connection is joined to a different site")
	}
	return rec, nil
}

// replyActiveSessions answers a join with the current room snapshot, plus
// recent history when an elevated connection named a session.
func (s *Service) replyActiveSessions(ctx context.Context, connID string, rec Record) {
	stats := s.rooms.RoomStats(rec.TenantID)
	reply := activeSessionsPayload{
		TenantID:    rec.TenantID,
		MemberCount: stats.MemberCount,
		SessionIDs:  stats.ActiveSessionIDs,
	}
	if rec.Role.Elevated() && rec.SessionID != "" {
		history, err := s.store.RecentForSession(ctx, rec.TenantID, rec.SessionID, s.historyLimit)
		if err != nil {
			s.logger.Warn("history lookup failed",
				zap.String("tenant_id", rec.TenantID),
				zap.String("session_id", rec.SessionID),
				zap.Error(err))
		} else {
			reply.History = history
		}
	}
	if conn, ok := s.registry.connOf(connID); ok {
		_ = conn.Send(EventActiveSessions, reply)
	}
}

func (s *Service) sendError(connID string, err error) {
	conn, ok := s.registry.connOf(connID)
	if !ok {
		return
	}
	code := CodeOf(err)
	message := err.Error()
	if chatErr, isChat := err.(*Error); isChat {
		message = chatErr.Message
	}
	_ = conn.Send(EventError, errorPayload{Code: code, Message: message})
}
