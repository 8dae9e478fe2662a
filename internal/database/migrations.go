package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/signin/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationBackfillUserProvider = "2026-10-01_backfill_user_provider"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migration struct {
	name  string
	apply func(tx *gorm.DB) error
}

// schemaMigrations lists data migrations in the order they must run.
// provider is the configured tag stamped onto rows that lack one.
func schemaMigrations(provider string) []migration {
	return []migration{
		{
			name: migrationBackfillUserProvider,
			apply: func(tx *gorm.DB) error {
				return tx.Model(&users.User{}).
					Where("provider = '' OR provider IS NULL").
					Update("provider", provider).Error
			},
		},
	}
}

// applyMigrations runs every pending migration in its own transaction and records it in db_migrations.
func applyMigrations(db *gorm.DB, provider string, logger *zap.Logger) error {
	for _, pending := range schemaMigrations(provider) {
		applied, err := migrationApplied(db, pending.name)
		if err != nil {
			return err
		}
		if applied {
			continue
		}

		err = db.Transaction(func(tx *gorm.DB) error {
			if err := pending.apply(tx); err != nil {
				return err
			}
			return tx.Create(&migrationRecord{
				Name:             pending.name,
				AppliedAtSeconds: time.Now().UTC().Unix(),
			}).Error
		})
		if err != nil {
			return err
		}
		logger.Info("database migration applied", zap.String("migration", pending.name), zap.String("provider", provider))
	}
	return nil
}

func migrationApplied(db *gorm.DB, name string) (bool, error) {
	err := db.Where("name = ?", name).Take(&migrationRecord{}).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	return err == nil, err
}
