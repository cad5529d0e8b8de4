package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Standing summarizes whether a tenant's subscription is current.
type Standing string

const (
	// StandingActive means the latest paid period covers now.
	StandingActive Standing = "active"
	// StandingGrace means the latest paid period lapsed within the grace window.
	StandingGrace Standing = "grace"
	// StandingLapsed means no paid period covers now or the grace window.
	StandingLapsed Standing = "lapsed"
)

const gracePeriod = 7 * 24 * time.Hour

// ServiceConfig wires the payments lookup.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// Service answers payment-standing questions for tenant authorization.
type Service struct {
	db    *gorm.DB
	clock func() time.Time
}

// NewService constructs the payments service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("payments: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{db: cfg.Database, clock: clock}, nil
}

// CurrentStanding reports the tenant's subscription standing. A tenant with
// no payment history is treated as active, covering trial accounts that have
// never been billed.
func (s *Service) CurrentStanding(ctx context.Context, tenantID string) (Standing, error) {
	var latest Payment
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND status = ?", tenantID, StatusPaid).
		Order("period_end DESC").
		First(&latest).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		var count int64
		if err := s.db.WithContext(ctx).Model(&Payment{}).Where("tenant_id = ?", tenantID).Count(&count).Error; err != nil {
			return StandingLapsed, err
		}
		if count == 0 {
			return StandingActive, nil
		}
		return StandingLapsed, nil
	}
	if err != nil {
		return StandingLapsed, err
	}

	now := s.clock()
	if latest.PeriodEnd.After(now) {
		return StandingActive, nil
	}
	if latest.PeriodEnd.Add(gracePeriod).After(now) {
		return StandingGrace, nil
	}
	return StandingLapsed, nil
}
