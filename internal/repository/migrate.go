package repository

import (
	"embed"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const migrateAttempts = 5

// RunMigrations применяет встроенные миграции каталога и шины сообщений
func RunMigrations(databaseURL string, retryDelay time.Duration) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to open migrations source: %w", err)
	}

	var m *migrate.Migrate
	for i := 0; i < migrateAttempts; i++ {
		m, err = migrate.NewWithSourceInstance("iofs", source, databaseURL)
		if err == nil {
			break
		}
		log.Printf("[Migrate] Failed to create migrate instance (attempt %d/%d): %v", i+1, migrateAttempts, err)
		time.Sleep(retryDelay)
	}
	if err != nil {
		return fmt.Errorf("failed to create migrate instance after retries: %w", err)
	}
	defer m.Close()

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("failed to get migration version: %w", err)
	}

	if dirty {
		log.Printf("[Migrate] Found dirty database state at version %d, attempting to force version", version)
		if err := m.Force(int(version)); err != nil {
			return fmt.Errorf("failed to force version: %w", err)
		}
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}
