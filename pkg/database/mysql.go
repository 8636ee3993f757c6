package database

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"mind-namo-go/pkg/log"
)

// Opener 打开一个新的 GORM 连接。默认为 MySQL，测试中可替换为 SQLite。
type Opener func(ctx context.Context) (*gorm.DB, error)

// Handle 是进程内共享的数据库句柄。
// 首次 Acquire 时才建立连接；同一时刻只允许一个连接尝试在进行，
// 失败不会被缓存，下一次 Acquire 会重新尝试。
type Handle struct {
	mu     sync.Mutex
	open   Opener
	db     *gorm.DB
	models []interface{}
}

// NewHandle 创建一个新的 Handle，models 会在首次连接成功后自动迁移。
func NewHandle(open Opener, models ...interface{}) *Handle {
	return &Handle{open: open, models: models}
}

// MySQLOpener 返回一个基于 DSN 的 MySQL Opener，并配置连接池。
func MySQLOpener(dsn string, maxIdle, maxOpen int) Opener {
	return func(ctx context.Context) (*gorm.DB, error) {
		db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
		if err != nil {
			return nil, fmt.Errorf("failed to connect database: %w", err)
		}

		// 配置连接池
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get sql.DB: %w", err)
		}
		sqlDB.SetMaxIdleConns(maxIdle)
		sqlDB.SetMaxOpenConns(maxOpen)
		sqlDB.SetConnMaxLifetime(time.Hour)

		if err := sqlDB.PingContext(ctx); err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
		return db, nil
	}
}

// Acquire 返回共享的数据库句柄，必要时建立连接。
func (h *Handle) Acquire(ctx context.Context) (*gorm.DB, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.db != nil {
		return h.db, nil
	}

	log.Info("Creating new database connection...")
	db, err := h.open(ctx)
	if err != nil {
		return nil, err
	}
	if len(h.models) > 0 {
		if err := db.WithContext(ctx).AutoMigrate(h.models...); err != nil {
			if sqlDB, derr := db.DB(); derr == nil {
				_ = sqlDB.Close()
			}
			return nil, fmt.Errorf("failed to migrate schema: %w", err)
		}
	}
	h.db = db
	log.Info("Database connection established")
	return h.db, nil
}

// Close 关闭已建立的连接。未连接时为空操作。
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.db == nil {
		return nil
	}
	sqlDB, err := h.db.DB()
	if err != nil {
		return err
	}
	h.db = nil
	return sqlDB.Close()
}
