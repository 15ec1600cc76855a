package main

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratepostgres "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jmoiron/sqlx"

	"github.com/onem2m-cse/cse/infrastructure/logging"
)

// runMigrations applies every pending sqlstore migration under
// migrationsPath to db, grounded on the teacher's migrate-on-start
// deployment convention (DatabaseConfig.MigrateOnStart/MigrationsPath).
func runMigrations(db *sqlx.DB, migrationsPath string, log *logging.Logger) error {
	driver, err := migratepostgres.WithInstance(db.DB, &migratepostgres.Config{})
	if err != nil {
		return fmt.Errorf("build postgres migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+migrationsPath, "postgres", driver)
	if err != nil {
		return fmt.Errorf("build migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	if log != nil {
		log.Info("database migrations applied")
	}
	return nil
}
