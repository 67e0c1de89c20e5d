package database

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
)

// MigrateUp applies steps pending migrations, or all of them when steps is 0.
func MigrateUp(connString string, steps uint) error {
	return withMigrator(connString, func(m Migrator) error {
		var err error
		if steps == 0 {
			err = m.Up()
		} else {
			err = m.Steps(int(steps))
		}
		if errors.Is(err, migrate.ErrNoChange) {
			return nil
		}
		return err
	})
}

// MigrateDown reverts steps migrations, or all of them when steps is 0.
func MigrateDown(connString string, steps uint) error {
	return withMigrator(connString, func(m Migrator) error {
		var err error
		if steps == 0 {
			err = m.Down()
		} else {
			err = m.Steps(-int(steps))
		}
		if errors.Is(err, migrate.ErrNoChange) {
			return nil
		}
		return err
	})
}

// GetVersion returns the current schema version and whether it is dirty.
func GetVersion(connString string) (uint, bool, error) {
	var (
		version uint
		dirty   bool
	)
	err := withMigrator(connString, func(m Migrator) error {
		var err error
		version, dirty, err = m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			return nil
		}
		return err
	})
	return version, dirty, err
}

func withMigrator(connString string, fn func(Migrator) error) (err error) {
	m, err := NewFromConnectionString(connString)
	if err != nil {
		return err
	}
	defer func() {
		srcErr, dbErr := m.Close()
		if closeErr := errors.Join(srcErr, dbErr); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close migrator: %w", closeErr)
		}
	}()
	return fn(m)
}
