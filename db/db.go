package db

import (
	"database/sql"
	"fmt"
	"time"

	"teamspace/config"
	"teamspace/types"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// InitSQLite opens a sqlite file with foreign keys on and a busy timeout.
// SQLite allows one writer, so the pool is capped at a single connection.
func InitSQLite(path string) (*sql.DB, error) {
	sqlDB, err := sql.Open("sqlite3", path+"?_foreign_keys=1&_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	var enabled int
	if err := sqlDB.QueryRow("PRAGMA foreign_keys").Scan(&enabled); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("error checking foreign keys: %w", err)
	}
	if enabled != 1 {
		sqlDB.Close()
		return nil, fmt.Errorf("foreign keys are not enabled")
	}
	return sqlDB, nil
}

// Open connects using the configured driver and migrates the schema.
func Open(cfg *config.Config, log *zap.Logger) (*gorm.DB, error) {
	gormCfg := &gorm.Config{
		Logger:  gormlogger.Default.LogMode(gormLogLevel(cfg.DB.LogLevel)),
		NowFunc: func() time.Time { return time.Now().UTC() },
	}

	var (
		gdb *gorm.DB
		err error
	)
	switch cfg.DB.Driver {
	case "postgres":
		gdb, err = gorm.Open(postgres.New(postgres.Config{
			DSN:                  cfg.PostgresDSN(),
			PreferSimpleProtocol: true,
		}), gormCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		sqlDB, err := gdb.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get database instance: %w", err)
		}
		sqlDB.SetMaxIdleConns(cfg.DB.MaxIdleConns)
		sqlDB.SetMaxOpenConns(cfg.DB.MaxOpenConns)
		sqlDB.SetConnMaxLifetime(cfg.DB.ConnMaxLifetime)
	default:
		gdb, err = OpenSQLite(cfg.DB.File, gormCfg)
		if err != nil {
			return nil, err
		}
	}

	start := time.Now()
	if err := Migrate(gdb); err != nil {
		log.Error("database migration failed", zap.Error(err))
		return nil, err
	}
	log.Info("database ready", zap.String("driver", cfg.DB.Driver), zap.Duration("migration", time.Since(start)))
	return gdb, nil
}

// OpenSQLite wraps InitSQLite in a gorm handle. A nil gorm config means silent logging.
func OpenSQLite(path string, gormCfg *gorm.Config) (*gorm.DB, error) {
	sqlDB, err := InitSQLite(path)
	if err != nil {
		return nil, fmt.Errorf("error opening sqlite: %w", err)
	}
	if gormCfg == nil {
		gormCfg = &gorm.Config{
			Logger:  gormlogger.Default.LogMode(gormlogger.Silent),
			NowFunc: func() time.Time { return time.Now().UTC() },
		}
	}
	gdb, err := gorm.Open(sqlite.New(sqlite.Config{DriverName: "sqlite3", Conn: sqlDB}), gormCfg)
	if err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to open gorm over sqlite: %w", err)
	}
	return gdb, nil
}

func Migrate(gdb *gorm.DB) error {
	if err := gdb.AutoMigrate(types.AllModels()...); err != nil {
		return fmt.Errorf("failed to migrate database schema: %w", err)
	}
	return nil
}

func CloseDB(gdb *gorm.DB) {
	if gdb == nil {
		return
	}
	if sqlDB, err := gdb.DB(); err == nil {
		sqlDB.Close()
		zap.L().Info("database connection closed")
	}
}

func gormLogLevel(level string) gormlogger.LogLevel {
	switch level {
	case "silent":
		return gormlogger.Silent
	case "error":
		return gormlogger.Error
	case "info":
		return gormlogger.Info
	default:
		return gormlogger.Warn
	}
}
