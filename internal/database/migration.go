package database

import (
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/pkg/errors"
)

type MigrationLogger struct {
	ectologger.Logger
}

func (l MigrationLogger) Verbose() bool {
	return false
}

func (l MigrationLogger) Printf(format string, v ...any) {
	l.Infof(strings.TrimSuffix(format, "\n"), v...)
}

type MigrationService struct {
	config *MigrationConfig
	logger ectologger.Logger
}

type MigrationConfig struct {
	// Migrations holds one sub-directory per dialect, "postgres/" and "sqlite/".
	Migrations   fs.FS
	Version      uint
	Force        int
	AutoRollback bool // revert a dirty database to the previous version when a migration fails
}

func NewMigrationService(logger ectologger.Logger, config *MigrationConfig) *MigrationService {
	return &MigrationService{
		config: config,
		logger: logger,
	}
}

// Migrate applies the embedded migrations for db's driver.
func (ms *MigrationService) Migrate(db DB) error {
	driverName := db.DriverName()

	var (
		driver migratedb.Driver
		err    error
	)
	switch driverName {
	case DriverPostgres:
		driver, err = postgres.WithInstance(db.SQL(), &postgres.Config{})
	case DriverSQLite:
		driver, err = sqlite3.WithInstance(db.SQL(), &sqlite3.Config{})
	default:
		return fmt.Errorf("no migration driver for %q", driverName)
	}
	if err != nil {
		return errors.Wrap(err, "failed to create migration driver")
	}

	dir := migrationDir(driverName)
	source, err := iofs.New(ms.config.Migrations, dir)
	if err != nil {
		return errors.Wrap(err, fmt.Sprintf("migrations for %s are not embedded", driverName))
	}

	m, err := migrate.NewWithInstance("iofs", source, driverName, driver)
	if err != nil {
		ms.logger.WithError(err).Error("Failed to create migrate instance")
		return err
	}

	m.Log = MigrationLogger{Logger: ms.logger}

	return ms.runMigration(m, dir)
}

func migrationDir(driverName string) string {
	if driverName == DriverSQLite {
		return "sqlite"
	}
	return driverName
}

func (ms *MigrationService) runMigration(m *migrate.Migrate, dir string) error {
	if ms.config.Force != 0 {
		if err := m.Force(ms.config.Force); err != nil {
			ms.logger.WithError(err).Errorf("Failed to force database to version %d", ms.config.Force)
			return err
		}
	}

	version, _, versionErr := m.Version()
	if versionErr != nil && versionErr != migrate.ErrNilVersion {
		ms.logger.WithError(versionErr).Error("Failed to get current migration version")
	}

	startTime := time.Now()

	var migrationErr error
	if ms.config.Version != 0 {
		migrationErr = m.Migrate(ms.config.Version)
	} else {
		migrationErr = m.Up()
	}

	ms.logger.Debugf("Database migrations finished in %v", time.Since(startTime))

	return ms.handleMigrationError(m, migrationErr, version, dir)
}

func (ms *MigrationService) handleMigrationError(m *migrate.Migrate, err error, previousVersion uint, dir string) error {
	if err == nil {
		ms.logger.Info("Successfully applied migrations")
		return nil
	}

	if err == migrate.ErrNoChange {
		ms.logger.Debug("No new migrations to apply")
		return nil
	}

	// usually a rollback to a binary that predates the recorded version
	if strings.Contains(err.Error(), "no migration found for version") {
		latest, latestErr := latestVersion(ms.config.Migrations, dir)
		if latestErr != nil {
			ms.logger.WithError(latestErr).Error("Failed to get latest migration version")
			return latestErr
		}
		ms.logger.Warnf("No migration found for version %d. Forcing latest version %d", previousVersion, latest)
		return m.Force(latest)
	}

	ms.logger.WithError(err).Errorf("Migration failed with error: %v", err)

	version, dirty, versionErr := m.Version()
	if versionErr != nil && versionErr != migrate.ErrNilVersion {
		ms.logger.WithError(versionErr).Error("Failed to get current migration version")
		return err
	}

	if ms.config.AutoRollback && dirty {
		if previousVersion == 0 && version > 0 {
			previousVersion = version - 1
		}
		ms.logger.Warnf("Database is dirty at version %d. Reverting to version %d", version, previousVersion)
		if forceErr := m.Force(int(previousVersion)); forceErr != nil {
			ms.logger.WithError(forceErr).Errorf("Failed to force database to version %d", previousVersion)
			return forceErr
		}
	}

	// still fail so the service does not start against a half-migrated schema
	return err
}

var migrationFilePattern = regexp.MustCompile(`^(\d+)_.*\.up\.sql$`)

func latestVersion(fsys fs.FS, dir string) (int, error) {
	files, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return 0, err
	}

	var versions []int
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		matches := migrationFilePattern.FindStringSubmatch(file.Name())
		if len(matches) < 2 {
			continue
		}
		version, err := strconv.Atoi(matches[1])
		if err != nil {
			return 0, err
		}
		versions = append(versions, version)
	}

	if len(versions) == 0 {
		return 0, fmt.Errorf("no migration files found in %s", dir)
	}

	sort.Ints(versions)
	return versions[len(versions)-1], nil
}
