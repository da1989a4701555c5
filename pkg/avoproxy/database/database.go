package database

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/mikepea/avoproxy/pkg/avoproxy/models"
)

// Open connects to the SQLite database at dsn.
// In-memory databases are pinned to one connection, otherwise every pooled
// connection would see its own empty database.
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory") {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return db, nil
}

// OpenAndMigrate opens the database and brings the schema up to date.
func OpenAndMigrate(dsn string) (*gorm.DB, error) {
	db, err := Open(dsn)
	if err != nil {
		return nil, err
	}
	if err := models.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	log.Debug().Str("dsn", dsn).Msg("database migrated")
	return db, nil
}
