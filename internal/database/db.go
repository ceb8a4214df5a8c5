package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PoolConfig はコネクションプールの設定。ゼロ値のフィールドはdatabase/sqlの既定値のまま。
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultPoolConfig はAPIサーバー向けのプール設定を返す。
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
	}
}

// Open はPostgreSQLデータベース接続を開く。
// databaseURLはPostgreSQLの接続URLを指定する（例: "postgres://taskman:taskman@db:5432/taskman?sslmode=disable"）。
// sql.Openは接続を試行しないため、実際の接続確認にはPingContextを使用すること。
func Open(databaseURL string, pool PoolConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if pool.MaxOpenConns > 0 {
		db.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		db.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}

	return db, nil
}

// Connect はOpenした上で疎通確認まで行う。失敗時は接続を閉じて返す。
func Connect(ctx context.Context, databaseURL string, pool PoolConfig) (*sql.DB, error) {
	db, err := Open(databaseURL, pool)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return db, nil
}
