package ws

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/parleylabs/parley/backend/internal/auth"
	"github.com/parleylabs/parley/backend/internal/chat"
	"go.uber.org/zap"
)

const defaultReadWait = 75 * time.Second

var (
	errMissingService   = errors.New("ws: chat service dependency required")
	errMissingValidator = errors.New("ws: token validator dependency required")
)

// TokenValidator checks the JWT presented by elevated connections.
type TokenValidator interface {
	ValidateToken(token string) (auth.OperatorClaims, error)
}

// HandlerConfig wires the websocket endpoint.
type HandlerConfig struct {
	Service   *chat.Service
	Validator TokenValidator
	ReadWait  time.Duration
	Logger    *zap.Logger
}

// Handler upgrades HTTP requests to websocket connections and attaches them
// to the session manager. Visitors connect anonymously; operators and admins
// present a token query parameter.
type Handler struct {
	service   *chat.Service
	validator TokenValidator
	readWait  time.Duration
	logger    *zap.Logger
	upgrader  websocket.Upgrader
}

// NewHandler constructs the websocket handler.
func NewHandler(cfg HandlerConfig) (*Handler, error) {
	if cfg.Service == nil {
		return nil, errMissingService
	}
	if cfg.Validator == nil {
		return nil, errMissingValidator
	}
	readWait := cfg.ReadWait
	if readWait <= 0 {
		readWait = defaultReadWait
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		service:   cfg.Service,
		validator: cfg.Validator,
		readWait:  readWait,
		logger:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The widget is embedded on arbitrary customer sites, so origin
			// checks cannot be a fixed allowlist here. Tenant scoping happens
			// at join time instead.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}, nil
}

// Serve handles one websocket session. It blocks for the lifetime of the
// connection; gin keeps the request goroutine alive for us.
func (h *Handler) Serve(c *gin.Context) {
	var authCtx *chat.AuthContext
	if token := c.Query("token"); token != "" {
		claims, err := h.validator.ValidateToken(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		role, err := chat.ParseRole(claims.Role)
		if err != nil || !role.Elevated() {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		authCtx = &chat.AuthContext{
			Subject:  claims.Subject,
			TenantID: claims.TenantID,
			Role:     role,
		}
	}

	socket, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	conn := newConn(uuid.NewString(), socket, h.logger)
	rec := h.service.Connect(conn, authCtx)

	ctx := c.Request.Context()
	go conn.writePump()
	conn.readPump(h.readWait,
		func(payload []byte) {
			h.service.HandleEvent(ctx, rec.ConnID, payload)
		},
		func() {
			h.service.Touch(rec.ConnID)
		},
		func() {
			h.service.Disconnect(rec.ConnID, chat.ReasonClientDisconnect)
		},
	)
}
