package migrations

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/ipdsynth/pkg/constants"
	"github.com/inferloop/ipdsynth/pkg/errors"
)

// Dialect selects placeholder syntax for a database/sql driver.
type Dialect string

const (
	DialectPostgres Dialect = constants.SQLDriverPostgres
	DialectSQLite   Dialect = constants.SQLDriverSQLite
)

// Placeholder returns the i-th (1-based) bind parameter.
func (d Dialect) Placeholder(i int) string {
	if d == DialectPostgres {
		return "$" + strconv.Itoa(i)
	}
	return "?"
}

// Migration is one forward schema step.
type Migration struct {
	Version int    `json:"version"`
	Name    string `json:"name"`
	Up      string `json:"up"`
}

// MigrationConfig contains migration configuration
type MigrationConfig struct {
	TableName string `json:"table_name"`
}

// MigrationManager applies migrations in version order and records each one.
type MigrationManager struct {
	db         *sql.DB
	dialect    Dialect
	logger     *logrus.Logger
	migrations []*Migration
	config     *MigrationConfig
}

// NewMigrationManager creates a new migration manager
func NewMigrationManager(db *sql.DB, dialect Dialect, config *MigrationConfig, logger *logrus.Logger) *MigrationManager {
	if config == nil {
		config = &MigrationConfig{TableName: "schema_migrations"}
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &MigrationManager{db: db, dialect: dialect, logger: logger, config: config}
}

// RegisterMigration registers a new migration
func (m *MigrationManager) RegisterMigration(migration *Migration) error {
	if migration.Version <= 0 {
		return errors.NewConfigurationError("migration version must be positive, got %d", migration.Version)
	}
	if migration.Up == "" {
		return errors.NewConfigurationError("migration %d has no statement", migration.Version)
	}
	for _, existing := range m.migrations {
		if existing.Version == migration.Version {
			return errors.NewConfigurationError("migration %d registered twice", migration.Version)
		}
	}
	m.migrations = append(m.migrations, migration)
	sort.Slice(m.migrations, func(i, j int) bool { return m.migrations[i].Version < m.migrations[j].Version })
	return nil
}

// Migrate applies every pending migration and returns how many ran.
func (m *MigrationManager) Migrate(ctx context.Context) (int, error) {
	create := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TEXT NOT NULL
	)`, m.config.TableName)
	if _, err := m.db.ExecContext(ctx, create); err != nil {
		return 0, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "Failed to create migration table")
	}

	current, err := m.CurrentVersion(ctx)
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, migration := range m.migrations {
		if migration.Version <= current {
			continue
		}
		start := time.Now()
		if err := m.run(ctx, migration); err != nil {
			m.logger.WithError(err).WithField("version", migration.Version).Error("Migration failed")
			return applied, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed,
				fmt.Sprintf("Migration %d failed", migration.Version))
		}
		applied++
		m.logger.WithFields(logrus.Fields{
			"version":        migration.Version,
			"name":           migration.Name,
			"execution_time": time.Since(start),
		}).Info("Migration completed successfully")
	}
	if applied == 0 {
		m.logger.Debug("No pending migrations")
	}
	return applied, nil
}

// CurrentVersion returns the highest applied version, zero for a fresh database.
func (m *MigrationManager) CurrentVersion(ctx context.Context) (int, error) {
	var version sql.NullInt64
	row := m.db.QueryRowContext(ctx, fmt.Sprintf("SELECT MAX(version) FROM %s", m.config.TableName))
	if err := row.Scan(&version); err != nil {
		return 0, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed, "Failed to read migration version")
	}
	return int(version.Int64), nil
}

func (m *MigrationManager) run(ctx context.Context, migration *Migration) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, migration.Up); err != nil {
		return err
	}
	record := fmt.Sprintf("INSERT INTO %s (version, name, applied_at) VALUES (%s, %s, %s)",
		m.config.TableName, m.dialect.Placeholder(1), m.dialect.Placeholder(2), m.dialect.Placeholder(3))
	if _, err := tx.ExecContext(ctx, record, migration.Version, migration.Name, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return err
	}
	return tx.Commit()
}
