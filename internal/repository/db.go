package repository

import (
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/lib/pq"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/cliffng14/accountably/internal/logger"
	"github.com/cliffng14/accountably/internal/models"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	// MemoryDSN is an in-memory SQLite database with foreign keys enforced.
	MemoryDSN = "file::memory:?_foreign_keys=1"

	openMaxElapsed = 30 * time.Second
)

// Open connects to the store, retrying transient failures with exponential backoff.
// Postgres goes through lib/pq; SQLite is limited to a single connection since
// it only allows one writer.
func Open(driver, dsn string, log *logger.Logger) (*gorm.DB, error) {
	cfg := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)}

	var db *gorm.DB
	open := func() error {
		var dialector gorm.Dialector
		switch driver {
		case DriverPostgres:
			dialector = postgres.New(postgres.Config{DriverName: "postgres", DSN: dsn})
		case DriverSQLite:
			dialector = sqlite.Open(dsn)
		default:
			return backoff.Permanent(fmt.Errorf("unsupported database driver %q", driver))
		}
		var err error
		db, err = gorm.Open(dialector, cfg)
		if err != nil {
			log.Warn("database open failed, retrying", "driver", driver, "error", err)
		}
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = openMaxElapsed
	if err := backoff.Retry(open, bo); err != nil {
		return nil, fmt.Errorf("open %s database: %w", driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if driver == DriverSQLite {
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
		sqlDB.SetConnMaxLifetime(0)
	} else {
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}
	return db, nil
}

// OpenMemory opens a migrated in-memory SQLite store.
func OpenMemory() (*gorm.DB, error) {
	db, err := Open(DriverSQLite, MemoryDSN, logger.Nop())
	if err != nil {
		return nil, err
	}
	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate creates or updates every table the bot uses.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.Group{},
		&models.GroupMember{},
		&models.Goal{},
		&models.GoalMember{},
		&models.Challenge{},
		&models.ChallengeResponse{},
		&models.PrizeFightProposal{},
		&models.PrizeFight{},
		&models.PrizeFightParticipant{},
		&models.PendingPrompt{},
	)
}
