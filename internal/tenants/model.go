package tenants

import (
	"strings"
	"time"
)

// Tenant captures one customer's isolated chat environment.
type Tenant struct {
	TenantID  string    `gorm:"column:tenant_id;primaryKey;size:190;not null"`
	Name      string    `gorm:"column:name;size:320;not null"`
	Plan      string    `gorm:"column:plan;size:64;not null;default:'starter'"`
	Suspended bool      `gorm:"column:suspended;not null;default:false"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing tenants.
func (Tenant) TableName() string {
	return "tenants"
}

// Operator is a dashboard login scoped to one tenant.
type Operator struct {
	OperatorID  string    `gorm:"column:operator_id;primaryKey;size:190;not null"`
	TenantID    string    `gorm:"column:tenant_id;size:190;not null;index"`
	DisplayName string    `gorm:"column:display_name;size:320"`
	Email       string    `gorm:"column:email;size:320"`
	APIKey      string    `gorm:"column:api_key;size:190;not null;uniqueIndex"`
	Role        string    `gorm:"column:role;size:32;not null;default:'operator'"`
	LastSeenAt  time.Time `gorm:"column:last_seen_at"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing operators.
func (Operator) TableName() string {
	return "tenant_operators"
}

// normalize value helper used across service implementation.
func normalize(value string) string {
	return strings.TrimSpace(value)
}
