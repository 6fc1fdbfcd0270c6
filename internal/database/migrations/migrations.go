// Package migrations applies the SQL files under migrations/ with
// golang-migrate.
package migrations

import (
	"errors"
	"fmt"
	"os"

	"ms-raffle/internal/logger"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/uptrace/bun"
)

// SchemaVersion is the last migration that only creates schema. Later
// versions load demo data.
const SchemaVersion uint = 1

type Options struct {
	Dir string
	// SeedData also applies the demo data migrations.
	SeedData bool
}

// Runner wraps a lazily built migrator. Closing it closes the database
// handle it was given.
type Runner struct {
	db       *bun.DB
	opts     Options
	log      *logger.Logger
	migrator *migrate.Migrate
}

func NewRunner(db *bun.DB, opts Options, log *logger.Logger) *Runner {
	return &Runner{db: db, opts: opts, log: log}
}

func (r *Runner) load() (*migrate.Migrate, error) {
	if r.migrator != nil {
		return r.migrator, nil
	}
	if _, err := os.Stat(r.opts.Dir); err != nil {
		return nil, fmt.Errorf("migrations directory %s: %w", r.opts.Dir, err)
	}
	driver, err := postgres.WithInstance(r.db.DB, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("postgres migration driver: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance("file://"+r.opts.Dir, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("create migrator: %w", err)
	}
	r.migrator = m
	return m, nil
}

func noChange(err error) error {
	if errors.Is(err, migrate.ErrNoChange) {
		return nil
	}
	return err
}

// RunMigrations brings the schema up to date, plus demo data when SeedData
// is set. A dirty schema version is reported, never forced.
func (r *Runner) RunMigrations() error {
	m, err := r.load()
	if err != nil {
		return err
	}

	current, dirty, err := r.Version()
	if err != nil {
		return err
	}
	if dirty {
		return fmt.Errorf("schema version %d is dirty; fix it and run cmd/migrate force", current)
	}

	switch {
	case r.opts.SeedData:
		r.log.Info("MIGRATION", "Applying schema and seed migrations")
		err = noChange(m.Up())
	case current < SchemaVersion:
		r.log.Info("MIGRATION", fmt.Sprintf("Applying schema migrations %d..%d", current+1, SchemaVersion))
		err = noChange(m.Migrate(SchemaVersion))
	}
	if err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}

	if current, _, err = r.Version(); err != nil {
		return err
	}
	r.log.Info("MIGRATION", fmt.Sprintf("Schema at version %d", current))
	return nil
}

// MigrateDown rolls back every migration, seed data included.
func (r *Runner) MigrateDown() error {
	m, err := r.load()
	if err != nil {
		return err
	}
	if err := noChange(m.Down()); err != nil {
		return fmt.Errorf("migrate down: %w", err)
	}
	return nil
}

func (r *Runner) MigrateTo(version uint) error {
	m, err := r.load()
	if err != nil {
		return err
	}
	if err := noChange(m.Migrate(version)); err != nil {
		return fmt.Errorf("migrate to %d: %w", version, err)
	}
	return nil
}

// Force marks version as applied and clean without running anything.
func (r *Runner) Force(version int) error {
	m, err := r.load()
	if err != nil {
		return err
	}
	if err := m.Force(version); err != nil {
		return fmt.Errorf("force version %d: %w", version, err)
	}
	r.log.LogSecurity("MIGRATION_FORCED", fmt.Sprintf("schema version forced to %d", version))
	return nil
}

// Version reports 0 for a database that has never been migrated.
func (r *Runner) Version() (uint, bool, error) {
	m, err := r.load()
	if err != nil {
		return 0, false, err
	}
	v, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		return 0, false, nil
	case err != nil:
		return 0, false, fmt.Errorf("read schema version: %w", err)
	}
	return v, dirty, nil
}

func (r *Runner) Close() error {
	if r.migrator == nil {
		return nil
	}
	srcErr, dbErr := r.migrator.Close()
	return errors.Join(srcErr, dbErr)
}
