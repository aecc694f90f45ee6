package postgres

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/rs/zerolog"

	"github.com/iho/botledger/migrations"
)

// SchemaURL returns databaseURL with search_path pinned to schema, so that
// migrations and their version table land inside the identity's schema.
func SchemaURL(databaseURL, schema string) (string, error) {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse database URL: %w", err)
	}
	q := u.Query()
	q.Set("search_path", schema)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func newMigrate(databaseURL, schema string) (*migrate.Migrate, error) {
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}

	target, err := SchemaURL(databaseURL, schema)
	if err != nil {
		return nil, err
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, target)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	return m, nil
}

// RunMigrations applies every pending migration to schema.
func RunMigrations(databaseURL, schema string, log zerolog.Logger) error {
	m, err := newMigrate(databaseURL, schema)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.Info().Str("schema", schema).Msg("database migrations: no change")
			return nil
		}
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	log.Info().Str("schema", schema).Msg("database migrations: applied successfully")
	return nil
}

// RunMigrationsDown rolls back the last migration of schema.
func RunMigrationsDown(databaseURL, schema string, log zerolog.Logger) error {
	m, err := newMigrate(databaseURL, schema)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Steps(-1); err != nil {
		return fmt.Errorf("failed to rollback migration: %w", err)
	}

	log.Info().Str("schema", schema).Msg("database migrations: rolled back successfully")
	return nil
}

// MigrationVersion reports the applied version of schema.
func MigrationVersion(databaseURL, schema string) (uint, bool, error) {
	m, err := newMigrate(databaseURL, schema)
	if err != nil {
		return 0, false, err
	}
	defer m.Close()

	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return v, dirty, err
}
