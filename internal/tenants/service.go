package tenants

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/parleylabs/parley/backend/internal/chat"
	"github.com/parleylabs/parley/backend/internal/payments"
	"gorm.io/gorm"
)

var (
	// ErrTenantNotFound indicates no tenant exists for the identifier.
	ErrTenantNotFound = errors.New("tenants: tenant not found")
	// ErrOperatorNotFound indicates no operator matched the credentials.
	ErrOperatorNotFound = errors.New("tenants: operator not found")
)

// cacheTTL bounds how stale a cached tenant row may be before standing is
// re-checked against the database. Suspension must take effect promptly.
const cacheTTL = 30 * time.Second

type cachedTenant struct {
	tenant   Tenant
	loadedAt time.Time
}

// ServiceConfig describes the dependencies for tenant resolution.
type ServiceConfig struct {
	Database *gorm.DB
	Payments *payments.Service
	Clock    func() time.Time
}

// Service resolves tenants and answers authorization questions for the chat
// core. It implements chat.Authorizer.
type Service struct {
	db       *gorm.DB
	payments *payments.Service
	now      func() time.Time
	cache    sync.Map
}

// NewService constructs the tenant service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("tenants: database connection required")
	}
	if cfg.Payments == nil {
		return nil, fmt.Errorf("tenants: payments service required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		db:       cfg.Database,
		payments: cfg.Payments,
		now:      clock,
	}, nil
}

// GetTenant returns the tenant row, serving recent lookups from cache.
func (s *Service) GetTenant(ctx context.Context, tenantID string) (Tenant, error) {
	tenantID = normalize(tenantID)
	if tenantID == "" {
		return Tenant{}, ErrTenantNotFound
	}

	if cached, ok := s.cache.Load(tenantID); ok {
		entry, valid := cached.(cachedTenant)
		if valid && s.now().Sub(entry.loadedAt) < cacheTTL {
			return entry.tenant, nil
		}
	}

	var tenant Tenant
	err := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID).First(&tenant).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Tenant{}, ErrTenantNotFound
	}
	if err != nil {
		return Tenant{}, err
	}

	s.cache.Store(tenantID, cachedTenant{tenant: tenant, loadedAt: s.now()})
	return tenant, nil
}

// Authorize answers whether a caller may join the tenant under the requested
// role. A missing, suspended, or payment-lapsed tenant refuses all joins.
func (s *Service) Authorize(ctx context.Context, tenantID string, role chat.Role) error {
	tenant, err := s.GetTenant(ctx, tenantID)
	if err != nil {
		if errors.Is(err, ErrTenantNotFound) {
			return &chat.Error{Code: chat.CodeUnauthorized, Message: "unknown site"}
		}
		return err
	}
	// Admins can still reach a suspended site to wind it down.
	if tenant.Suspended && role != chat.RoleAdmin {
		return &chat.Error{Code: chat.CodeUnauthorized, Message: "site is suspended"}
	}

	standing, err := s.payments.CurrentStanding(ctx, tenant.TenantID)
	if err != nil {
		return err
	}
	if standing == payments.StandingLapsed {
		return &chat.Error{Code: chat.CodeUnauthorized, Message: "site subscription has lapsed"}
	}
	return nil
}

// FindOperatorByKey resolves an operator login by tenant and API key and
// records the sighting.
func (s *Service) FindOperatorByKey(ctx context.Context, tenantID, apiKey string) (Operator, error) {
	tenantID = normalize(tenantID)
	apiKey = normalize(apiKey)
	if tenantID == "" || apiKey == "" {
		return Operator{}, ErrOperatorNotFound
	}

	var operator Operator
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND api_key = ?", tenantID, apiKey).
		First(&operator).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Operator{}, ErrOperatorNotFound
	}
	if err != nil {
		return Operator{}, err
	}

	_ = s.db.WithContext(ctx).Model(&Operator{}).
		Where("operator_id = ?", operator.OperatorID).
		Update("last_seen_at", s.now()).Error
	return operator, nil
}
