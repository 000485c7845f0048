package database

import (
	"Patronage/internal/api/config"
	"Patronage/internal/model"
	"Patronage/internal/pkg/logger"
	"fmt"
	log "log/slog"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

// gormConfig 指针与会话表均为单行写入，不需要默认事务
func gormConfig() *gorm.Config {
	return &gorm.Config{
		Logger:                 logger.NewGormLogger(),
		PrepareStmt:            true,
		SkipDefaultTransaction: true,
	}
}

// NewGormDB 初始化指针库连接并配置连接池
func NewGormDB(cfg *config.DBConfig) (*gorm.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database dsn is empty")
	}

	db, err := gorm.Open(mysql.Open(cfg.DSN), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying DB: %w", err)
	}

	sqlDB.SetMaxIdleConns(cfg.MaxIdle)
	sqlDB.SetMaxOpenConns(cfg.MaxOpen)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.MaxLifetime) * time.Minute)

	if err = sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("database connection check failed: %w", err)
	}

	log.Info("Database connection established successfully.")
	return db, nil
}

// Migrate 同步私信相关表结构；用户资料表由用户服务维护
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&model.ChatThread{}, &model.ChatPointer{}); err != nil {
		return fmt.Errorf("failed to migrate chat tables: %w", err)
	}
	log.Info("Chat tables migrated.")
	return nil
}
