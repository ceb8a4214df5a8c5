// Package database はデータベース接続とスキーママイグレーションを提供する。
package database

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// MigrationStatus はマイグレーション適用後のスキーマ状態。
type MigrationStatus struct {
	Version uint
	Dirty   bool
	Applied bool // 今回の実行で新たに適用したものがあればtrue
}

// NewMigrator は埋め込みSQLを読み込むmigrateインスタンスを生成する。
func NewMigrator(databaseURL string) (*migrate.Migrate, error) {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}

	return m, nil
}

// RunMigrations は未適用のマイグレーションをすべて適用する。
// すでに最新の場合はエラーなしで返る。
func RunMigrations(databaseURL string) error {
	_, err := ApplyMigrations(databaseURL)
	return err
}

// ApplyMigrations はRunMigrationsと同じ処理を行い、適用後のバージョンを返す。
func ApplyMigrations(databaseURL string) (*MigrationStatus, error) {
	m, err := NewMigrator(databaseURL)
	if err != nil {
		return nil, err
	}
	defer m.Close()

	status := &MigrationStatus{Applied: true}
	if err := m.Up(); err != nil {
		if !errors.Is(err, migrate.ErrNoChange) {
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		status.Applied = false
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return nil, fmt.Errorf("failed to read migration version: %w", err)
	}
	status.Version = version
	status.Dirty = dirty

	return status, nil
}
