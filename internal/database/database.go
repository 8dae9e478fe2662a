package database

import (
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/signin/internal/users"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	driverSQLite   = "sqlite"
	driverPostgres = "postgres"
)

// Open establishes the store connection described by dsn and performs schema migrations.
// postgres:// and postgresql:// URLs select Postgres; anything else is treated as a SQLite path.
// provider is the tag backfilled onto user rows stored without one.
func Open(dsn string, provider string, logger *zap.Logger) (*gorm.DB, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("database dsn is required")
	}
	provider = strings.TrimSpace(provider)
	if provider == "" {
		return nil, fmt.Errorf("database provider tag is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	driver, dialector := dialectorFor(dsn)
	db, err := gorm.Open(dialector, &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, err
	}

	if driver == driverSQLite {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(&users.User{}, &migrationRecord{}); err != nil {
		return nil, err
	}

	if err := applyMigrations(db, provider, logger); err != nil {
		return nil, err
	}

	logger.Info("database initialized", zap.String("driver", driver))
	return db, nil
}

func dialectorFor(dsn string) (string, gorm.Dialector) {
	lower := strings.ToLower(dsn)
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		return driverPostgres, postgres.Open(dsn)
	}
	return driverSQLite, sqlite.Open(dsn)
}
