package database

import (
	"errors"
	"time"

	"github.com/parleylabs/parley/backend/internal/tenants"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationBackfillOperatorRoles = "2026-07-18_backfill_operator_roles"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationBackfillOperatorRoles, apply: backfillOperatorRoles},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// backfillOperatorRoles repairs operator rows created before the role column
// carried a default.
func backfillOperatorRoles(db *gorm.DB) error {
	return db.Model(&tenants.Operator{}).
		Where("role IS NULL OR role = ''").
		Update("role", "operator").Error
}
