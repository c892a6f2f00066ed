// Package db 提供 GORM 初始化与连接池配置
package db

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Config 数据库配置
type Config struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int
}

// Init 初始化数据库连接
func Init(cfg Config, logger *slog.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: newSlogAdapter(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get database instance: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)

	if err := sqlDB.PingContext(context.Background()); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// Close 关闭数据库连接
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// slogAdapter 把 GORM 日志桥接到 slog
type slogAdapter struct {
	logger    *slog.Logger
	slowQuery time.Duration
}

func newSlogAdapter(logger *slog.Logger) *slogAdapter {
	return &slogAdapter{
		logger:    logger.With("module", "gorm"),
		slowQuery: time.Second,
	}
}

func (l *slogAdapter) LogMode(gormlogger.LogLevel) gormlogger.Interface { return l }

func (l *slogAdapter) Info(ctx context.Context, msg string, data ...interface{}) {
	l.logger.InfoContext(ctx, msg, "data", data)
}

func (l *slogAdapter) Warn(ctx context.Context, msg string, data ...interface{}) {
	l.logger.WarnContext(ctx, msg, "data", data)
}

func (l *slogAdapter) Error(ctx context.Context, msg string, data ...interface{}) {
	l.logger.ErrorContext(ctx, msg, "data", data)
}

func (l *slogAdapter) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	elapsed := time.Since(begin)
	sqlStr, rows := fc()

	switch {
	case err != nil:
		l.logger.ErrorContext(ctx, "sql failed", "duration", elapsed, "rows", rows, "sql", sqlStr, "error", err)
	case elapsed > l.slowQuery:
		l.logger.WarnContext(ctx, "slow query", "duration", elapsed, "rows", rows, "sql", sqlStr)
	}
}
