package db

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"task-lifecycle-service/internal/config"
)

// Printf is the sink gorm's logger writes through. A zap SugaredLogger's
// Warnf satisfies it.
type Printf func(format string, args ...interface{})

func (p Printf) Printf(format string, args ...interface{}) { p(format, args...) }

// NewGormDB opens the configured dialect. sqlite is the default for local
// development; mysql and postgres are selected by cfg.Type.
func NewGormDB(cfg config.DatabaseConfig, sink Printf) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Type {
	case "mysql":
		dsn := cfg.DSN
		if dsn == "" {
			dsn = "root:@tcp(127.0.0.1:3306)/bootcamp?charset=utf8mb4&parseTime=True&loc=UTC"
		}
		dialector = mysql.Open(dsn)
	case "postgres":
		dsn := cfg.DSN
		if dsn == "" {
			dsn = "host=127.0.0.1 port=5432 user=postgres dbname=bootcamp sslmode=disable TimeZone=UTC"
		}
		dialector = postgres.Open(dsn)
	default:
		dsn := cfg.DSN
		if dsn == "" {
			dsn = "gorm.db"
		}
		dialector = sqlite.Open(dsn)
	}

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		// Stored timestamps are always UTC so string-compared sqlite columns
		// order correctly.
		NowFunc: func() time.Time { return time.Now().UTC() },
	}
	if sink != nil {
		gormConfig.Logger = logger.New(sink, logger.Config{
			SlowThreshold:             cfg.SlowThreshold,
			LogLevel:                  parseLogLevel(cfg.LogLevel),
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		})
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

func parseLogLevel(level string) logger.LogLevel {
	switch level {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "info":
		return logger.Info
	default:
		return logger.Warn
	}
}

// AutoMigrate performs auto-migration for the given GORM models.
func AutoMigrate(db *gorm.DB, models ...interface{}) error {
	if err := db.AutoMigrate(models...); err != nil {
		return fmt.Errorf("failed to auto-migrate database: %w", err)
	}
	return nil
}

// Ping checks that the underlying connection pool can reach the server.
func Ping(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
