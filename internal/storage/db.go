package storage

import (
	"fmt"
	"log"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"emberchat/backend/internal/models"
)

// OpenDatabase connects to the database named by databaseURL. A
// "postgres://" prefix selects PostgreSQL, "sqlite://" a local SQLite file.
func OpenDatabase(databaseURL string) (*gorm.DB, error) {
	var dialector gorm.Dialector

	switch {
	case strings.HasPrefix(databaseURL, "postgres://"):
		dialector = postgres.Open(databaseURL)
		log.Println("Connecting to PostgreSQL database...")
	case strings.HasPrefix(databaseURL, "sqlite://"):
		dsn := strings.TrimPrefix(databaseURL, "sqlite://")
		dialector = sqlite.Open(dsn)
		log.Println("Connecting to SQLite database at", dsn)
	default:
		return nil, fmt.Errorf("invalid DATABASE_URL %q: must start with postgres:// or sqlite://", databaseURL)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	return db, nil
}

// Migrate creates the five tables of the logical schema.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.QueueEntry{},
		&models.ChatSession{},
		&models.Message{},
		&models.Report{},
		&models.Feedback{},
	)
}
