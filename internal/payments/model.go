package payments

import "time"

// Payment records one settled or attempted charge for a tenant's plan.
// Payment processing correctness lives with the upstream billing provider;
// this table only captures the outcome needed to judge standing.
type Payment struct {
	PaymentID   string    `gorm:"column:payment_id;primaryKey;size:190;not null"`
	TenantID    string    `gorm:"column:tenant_id;size:190;not null;index:idx_payments_tenant_period,priority:1"`
	AmountCents int64     `gorm:"column:amount_cents;not null"`
	Currency    string    `gorm:"column:currency;size:8;not null;default:'USD'"`
	Status      string    `gorm:"column:status;size:32;not null"`
	PeriodStart time.Time `gorm:"column:period_start;not null"`
	PeriodEnd   time.Time `gorm:"column:period_end;not null;index:idx_payments_tenant_period,priority:2"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Payment) TableName() string {
	return "payments"
}

// StatusPaid marks a charge that settled successfully.
const StatusPaid = "paid"
