package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"fleetguard-alert/internal/config"

	_ "github.com/lib/pq"
)

// 连接池兜底值（配置未给出时生效）
const (
	defaultMaxConns    = 25
	defaultMaxIdle     = 5
	defaultMaxLifetime = 30 * time.Minute
	pingTimeout        = 5 * time.Second
)

// NewPostgresDB 打开PostgreSQL连接池并验证连通性
// 引擎的全部仓库共享同一个连接池
func NewPostgresDB(cfg *config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	maxConns := cfg.MaxConns
	if maxConns <= 0 {
		maxConns = defaultMaxConns
	}
	maxIdle := cfg.MaxIdle
	if maxIdle <= 0 {
		maxIdle = defaultMaxIdle
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(defaultMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}
