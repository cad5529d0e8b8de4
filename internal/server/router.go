package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/parleylabs/parley/backend/internal/auth"
	"github.com/parleylabs/parley/backend/internal/chat"
	"github.com/parleylabs/parley/backend/internal/tenants"
	"go.uber.org/zap"
)

const (
	tenantIDContextKey = "parley_tenant_id"
	subjectContextKey  = "parley_subject"
	roleContextKey     = "parley_role"
)

var (
	errMissingTokenManager  = errors.New("token manager dependency required")
	errMissingOperators     = errors.New("operator directory dependency required")
	errMissingChatService   = errors.New("chat service dependency required")
	errMissingSocketHandler = errors.New("socket handler dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// BackendTokenManager issues and validates operator JWTs.
type BackendTokenManager interface {
	IssueOperatorToken(ctx context.Context, subject, tenantID, role string) (string, int64, error)
	ValidateToken(token string) (auth.OperatorClaims, error)
}

// OperatorDirectory resolves operator logins.
type OperatorDirectory interface {
	FindOperatorByKey(ctx context.Context, tenantID, apiKey string) (tenants.Operator, error)
}

// Dependencies wires the HTTP surface.
type Dependencies struct {
	TokenManager  BackendTokenManager
	Operators     OperatorDirectory
	ChatService   *chat.Service
	SocketHandler gin.HandlerFunc
	Logger        *zap.Logger
}

// NewHTTPHandler assembles the gin router: health, operator token exchange,
// the websocket upgrade endpoint, and the protected stats surface.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.Operators == nil {
		return nil, errMissingOperators
	}
	if deps.ChatService == nil {
		return nil, errMissingChatService
	}
	if deps.SocketHandler == nil {
		return nil, errMissingSocketHandler
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens:      deps.TokenManager,
		operators:   deps.Operators,
		chatService: deps.ChatService,
		logger:      logger,
	}

	router.GET("/healthz", handler.handleHealth)
	router.POST("/auth/token", handler.handleTokenExchange)
	router.GET("/ws", deps.SocketHandler)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/tenants/:tenant_id/stats", handler.handleTenantStats)

	return router, nil
}

type httpHandler struct {
	tokens      BackendTokenManager
	operators   OperatorDirectory
	chatService *chat.Service
	logger      *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type tokenRequestPayload struct {
	TenantID string `json:"tenant_id"`
	APIKey   string `json:"api_key"`
}

type tokenResponsePayload struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
	Role        string `json:"role"`
}

func (h *httpHandler) handleTokenExchange(c *gin.Context) {
	var request tokenRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil ||
		strings.TrimSpace(request.TenantID) == "" || strings.TrimSpace(request.APIKey) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	operator, err := h.operators.FindOperatorByKey(c.Request.Context(), request.TenantID, request.APIKey)
	if err != nil {
		h.logger.Warn("operator credential lookup failed",
			zap.String("tenant_id", request.TenantID), zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	token, expiresIn, err := h.tokens.IssueOperatorToken(
		c.Request.Context(), operator.OperatorID, operator.TenantID, operator.Role)
	if err != nil {
		h.logger.Error("failed to issue operator token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	c.JSON(http.StatusOK, tokenResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
		Role:        operator.Role,
	})
}

type tenantStatsPayload struct {
	TenantID         string   `json:"tenant_id"`
	MemberCount      int      `json:"member_count"`
	ActiveSessionIDs []string `json:"active_session_ids"`
	TotalConnections int      `json:"total_connections"`
}

func (h *httpHandler) handleTenantStats(c *gin.Context) {
	tenantID := c.Param("tenant_id")
	if c.GetString(tenantIDContextKey) != tenantID {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}

	stats := h.chatService.Rooms().RoomStats(tenantID)
	c.JSON(http.StatusOK, tenantStatsPayload{
		TenantID:         tenantID,
		MemberCount:      stats.MemberCount,
		ActiveSessionIDs: stats.ActiveSessionIDs,
		TotalConnections: h.chatService.ConnectionCount(),
	})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	claims, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(tenantIDContextKey, claims.TenantID)
	c.Set(subjectContextKey, claims.Subject)
	c.Set(roleContextKey, claims.Role)
	c.Next()
}
