// Package storage opens the relational store and keeps the schema current.
package storage

import (
	"fmt"
	"log/slog"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/campus-board/community-auth-backend/internal/config"
	"github.com/campus-board/community-auth-backend/internal/domain"
)

// Open connects to postgres when DATABASE_URL is set, otherwise to a
// local sqlite file. TranslateError is required: the engines rely on
// gorm.ErrDuplicatedKey to arbitrate first-insert races.
func Open(cfg *config.Config, logger *slog.Logger) (*gorm.DB, error) {
	gormCfg := &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	}

	var (
		db  *gorm.DB
		err error
	)
	if cfg.DatabaseURL != "" {
		db, err = gorm.Open(postgres.Open(cfg.DatabaseURL), gormCfg)
	} else {
		logger.Warn("DATABASE_URL not set, using sqlite", "path", cfg.SQLitePath)
		db, err = gorm.Open(sqlite.Open(cfg.SQLitePath), gormCfg)
	}
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.User{},
		&domain.EmailOtp{},
		&domain.Session{},
	)
}
