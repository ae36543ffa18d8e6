package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/homefix/marketplace-api/models"
	"github.com/homefix/marketplace-api/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// oneLiveSubscriptionIndex guarantees at most one active or trialing
// subscription per customer, even when two requests race past the
// application level check.
const oneLiveSubscriptionIndex = `CREATE UNIQUE INDEX IF NOT EXISTS idx_subscriptions_one_live
ON subscriptions (customer_id) WHERE status IN ('active', 'trialing')`

// ConnectDatabase opens the database described by databaseURL. URLs starting
// with "sqlite:" or "file:" use the SQLite driver, everything else PostgreSQL.
func ConnectDatabase(databaseURL string, log logrus.FieldLogger) (*gorm.DB, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database URL is empty")
	}

	gormConfig := &gorm.Config{
		Logger:         utils.NewGormLogger(log, logger.Warn),
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	var dialector gorm.Dialector
	switch {
	case strings.HasPrefix(databaseURL, "sqlite:"):
		dialector = sqlite.Open(strings.TrimPrefix(databaseURL, "sqlite:"))
	case strings.HasPrefix(databaseURL, "file:"):
		dialector = sqlite.Open(databaseURL)
	default:
		dialector = postgres.Open(databaseURL)
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if dialector.Name() == "sqlite" {
		// SQLite allows a single writer; serialising through one connection
		// also keeps shared in-memory databases alive
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to access sqlite pool: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	log.WithField("driver", dialector.Name()).Info("Database connection established successfully")
	return db, nil
}

// Migrate creates or updates every table and the indexes AutoMigrate cannot
// express
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(models.All()...); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	if err := db.Exec(oneLiveSubscriptionIndex).Error; err != nil {
		return fmt.Errorf("failed to create subscription index: %w", err)
	}
	return nil
}

// PingDatabase checks connectivity of the underlying pool
func PingDatabase(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}
	return sqlDB.Ping()
}
