package app

import (
	"errors"
	"fmt"
	"strings"

	migrate "github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// RunMigrations applies pending schema migrations from the given directory.
// ErrNoChange is not an error: an up-to-date schema is the common case.
func RunMigrations(migrationsPath, databaseURL string) error {
	m, err := migrate.New("file://"+strings.TrimPrefix(migrationsPath, "file://"), migrateURL(databaseURL))
	if err != nil {
		return fmt.Errorf("app: open migrations: %w", err)
	}
	defer func() { _, _ = m.Close() }()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("app: apply migrations: %w", err)
	}
	return nil
}

// migrateURL rewrites the connection scheme to select the pgx/v5 driver.
func migrateURL(databaseURL string) string {
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(databaseURL, scheme) {
			return "pgx5://" + strings.TrimPrefix(databaseURL, scheme)
		}
	}
	return databaseURL
}
