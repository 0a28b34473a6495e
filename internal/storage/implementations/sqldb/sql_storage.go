package sqldb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/inferloop/ipdsynth/internal/storage/interfaces"
	"github.com/inferloop/ipdsynth/internal/storage/migrations"
	"github.com/inferloop/ipdsynth/pkg/constants"
	"github.com/inferloop/ipdsynth/pkg/errors"
)

// SQLConfig holds configuration for the SQL backend
type SQLConfig struct {
	// Driver is "postgres" (lib/pq) or "sqlite" (modernc.org/sqlite).
	Driver          string        `json:"driver"`
	DSN             string        `json:"dsn"`
	TablePrefix     string        `json:"table_prefix"`
	ConnectTimeout  time.Duration `json:"connect_timeout"`
	MaxConnections  int           `json:"max_connections"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
}

// SQLStorage stores each sheet as a header row plus one row per record, cells encoded
// as a JSON array. Every sheet and row is keyed by the run id of the bundle it belongs
// to; reads resolve the run written last.
type SQLStorage struct {
	config  *SQLConfig
	dialect migrations.Dialect
	db      *sql.DB
	logger  *logrus.Logger
	mu      sync.RWMutex

	runsTable   string
	sheetsTable string
	rowsTable   string
}

// NewSQLStorage creates a new SQL storage instance
func NewSQLStorage(config *SQLConfig, logger *logrus.Logger) (*SQLStorage, error) {
	if config == nil {
		return nil, errors.NewConfigurationError("SQL config cannot be nil")
	}
	var dialect migrations.Dialect
	switch config.Driver {
	case constants.SQLDriverPostgres:
		dialect = migrations.DialectPostgres
	case constants.SQLDriverSQLite:
		dialect = migrations.DialectSQLite
	default:
		return nil, errors.NewConfigurationError("unsupported SQL driver %q", config.Driver)
	}
	if config.DSN == "" {
		return nil, errors.NewConfigurationError("SQL DSN is required")
	}
	if config.TablePrefix == "" {
		config.TablePrefix = constants.AppName
	}
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = constants.DefaultConnectTimeout
	}
	if logger == nil {
		logger = logrus.New()
	}

	return &SQLStorage{
		config:      config,
		dialect:     dialect,
		logger:      logger,
		runsTable:   pq.QuoteIdentifier(config.TablePrefix + "_runs"),
		sheetsTable: pq.QuoteIdentifier(config.TablePrefix + "_sheets"),
		rowsTable:   pq.QuoteIdentifier(config.TablePrefix + "_sheet_rows"),
	}, nil
}

// Connect opens the database, checks it is reachable and applies the schema migrations.
func (s *SQLStorage) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return nil
	}

	db, err := sql.Open(s.config.Driver, s.config.DSN)
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed, "Failed to open database connection")
	}

	// an in-memory SQLite database lives in a single connection
	if s.dialect == migrations.DialectSQLite && strings.Contains(s.config.DSN, ":memory:") {
		db.SetMaxOpenConns(1)
	} else if s.config.MaxConnections > 0 {
		db.SetMaxOpenConns(s.config.MaxConnections)
		db.SetMaxIdleConns(s.config.MaxConnections / 2)
	}
	if s.config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(s.config.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, s.config.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed, "Failed to ping database")
	}

	manager := migrations.NewMigrationManager(db, s.dialect, &migrations.MigrationConfig{
		TableName: pq.QuoteIdentifier(s.config.TablePrefix + "_schema_migrations"),
	}, s.logger)
	for _, m := range s.schema() {
		if err := manager.RegisterMigration(m); err != nil {
			db.Close()
			return err
		}
	}
	if _, err := manager.Migrate(ctx); err != nil {
		db.Close()
		return err
	}

	s.db = db
	s.logger.WithFields(logrus.Fields{
		"driver": s.config.Driver,
		"prefix": s.config.TablePrefix,
	}).Info("Connected to SQL storage")
	return nil
}

func (s *SQLStorage) schema() []*migrations.Migration {
	return []*migrations.Migration{
		{
			Version: 1,
			Name:    "create_runs",
			Up: fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
				run_id TEXT PRIMARY KEY,
				seq BIGINT NOT NULL,
				written_at TEXT NOT NULL
			)`, s.runsTable),
		},
		{
			Version: 2,
			Name:    "create_sheets",
			Up: fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
				run_id TEXT NOT NULL,
				name TEXT NOT NULL,
				header TEXT NOT NULL,
				PRIMARY KEY (run_id, name)
			)`, s.sheetsTable),
		},
		{
			Version: 3,
			Name:    "create_sheet_rows",
			Up: fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
				run_id TEXT NOT NULL,
				sheet TEXT NOT NULL,
				row_index INTEGER NOT NULL,
				cells TEXT NOT NULL,
				PRIMARY KEY (run_id, sheet, row_index)
			)`, s.rowsTable),
		},
	}
}

// Backend implements interfaces.SheetStorage
func (s *SQLStorage) Backend() string {
	return constants.StorageBackendSQL + ":" + s.config.Driver
}

// WriteSheets implements interfaces.BundleWriter. The run becomes the latest one only
// when every sheet is committed; rewriting an existing run id replaces it.
func (s *SQLStorage) WriteSheets(ctx context.Context, runID string, sheets []*interfaces.Sheet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return errors.NewStorageError(errors.CodeWriteFailed, "SQL storage not connected")
	}
	if runID == "" {
		runID = uuid.New().String()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "Failed to begin transaction")
	}
	defer tx.Rollback()

	if err := s.replaceRun(ctx, tx, runID); err != nil {
		return err
	}
	for _, sheet := range sheets {
		if err := s.insertSheet(ctx, tx, runID, sheet); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "Failed to commit run "+runID)
	}
	s.logger.WithFields(logrus.Fields{
		"run_id": runID,
		"sheets": len(sheets),
	}).Debug("Wrote bundle sheets")
	return nil
}

// WriteSheet replaces one sheet of the latest run, starting a run when there is none.
func (s *SQLStorage) WriteSheet(ctx context.Context, sheet *interfaces.Sheet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return errors.NewStorageError(errors.CodeWriteFailed, "SQL storage not connected")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "Failed to begin transaction")
	}
	defer tx.Rollback()

	runID, err := s.latestRun(ctx, tx)
	if errors.IsNotFound(err) {
		runID = uuid.New().String()
		err = s.replaceRun(ctx, tx, runID)
	}
	if err != nil {
		return err
	}

	p := s.dialect.Placeholder
	for _, table := range []string{s.rowsTable, s.sheetsTable} {
		column := "sheet"
		if table == s.sheetsTable {
			column = "name"
		}
		query := fmt.Sprintf("DELETE FROM %s WHERE run_id = %s AND %s = %s", table, p(1), column, p(2))
		if _, err := tx.ExecContext(ctx, query, runID, sheet.Name); err != nil {
			return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "Failed to clear sheet "+sheet.Name)
		}
	}
	if err := s.insertSheet(ctx, tx, runID, sheet); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "Failed to commit sheet "+sheet.Name)
	}
	return nil
}

// replaceRun drops any earlier copy of runID and registers it as the newest run.
func (s *SQLStorage) replaceRun(ctx context.Context, tx *sql.Tx, runID string) error {
	p := s.dialect.Placeholder
	for _, table := range []string{s.rowsTable, s.sheetsTable, s.runsTable} {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE run_id = %s", table, p(1)), runID); err != nil {
			return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "Failed to clear run "+runID)
		}
	}

	var seq int64
	if err := tx.QueryRowContext(ctx, fmt.Sprintf("SELECT COALESCE(MAX(seq), 0) + 1 FROM %s", s.runsTable)).Scan(&seq); err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "Failed to allocate run sequence")
	}
	query := fmt.Sprintf("INSERT INTO %s (run_id, seq, written_at) VALUES (%s, %s, %s)", s.runsTable, p(1), p(2), p(3))
	if _, err := tx.ExecContext(ctx, query, runID, seq, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "Failed to register run "+runID)
	}
	return nil
}

func (s *SQLStorage) insertSheet(ctx context.Context, tx *sql.Tx, runID string, sheet *interfaces.Sheet) error {
	header, err := json.Marshal(sheet.Header)
	if err != nil {
		return err
	}

	p := s.dialect.Placeholder
	query := fmt.Sprintf("INSERT INTO %s (run_id, name, header) VALUES (%s, %s, %s)", s.sheetsTable, p(1), p(2), p(3))
	if _, err := tx.ExecContext(ctx, query, runID, sheet.Name, string(header)); err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "Failed to write sheet "+sheet.Name)
	}

	insert, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s (run_id, sheet, row_index, cells) VALUES (%s, %s, %s, %s)",
		s.rowsTable, p(1), p(2), p(3), p(4)))
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "Failed to prepare insert")
	}
	defer insert.Close()

	for i, row := range sheet.Rows {
		cells, err := json.Marshal(row)
		if err != nil {
			return err
		}
		if _, err := insert.ExecContext(ctx, runID, sheet.Name, i, string(cells)); err != nil {
			return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed,
				fmt.Sprintf("Failed to insert row %d of %s", i, sheet.Name))
		}
	}
	return nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// latestRun returns the most recently written run id.
func (s *SQLStorage) latestRun(ctx context.Context, q queryRower) (string, error) {
	var runID string
	err := q.QueryRowContext(ctx, fmt.Sprintf("SELECT run_id FROM %s ORDER BY seq DESC LIMIT 1", s.runsTable)).Scan(&runID)
	if err == sql.ErrNoRows {
		return "", errors.NewStorageError(errors.CodeArtifactNotFound, "no bundle has been written")
	}
	if err != nil {
		return "", errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed, "Failed to resolve latest run")
	}
	return runID, nil
}

// ReadSheet loads the sheet header and rows of the latest run in order.
func (s *SQLStorage) ReadSheet(ctx context.Context, name string) (*interfaces.Sheet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, errors.NewStorageError(errors.CodeReadFailed, "SQL storage not connected")
	}

	runID, err := s.latestRun(ctx, s.db)
	if err != nil {
		return nil, err
	}

	p := s.dialect.Placeholder
	var header string
	err = s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT header FROM %s WHERE run_id = %s AND name = %s", s.sheetsTable, p(1), p(2)),
		runID, name).Scan(&header)
	if err == sql.ErrNoRows {
		return nil, errors.NewStorageError(errors.CodeArtifactNotFound, "sheet not found: "+name)
	}
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed, "Failed to read sheet "+name)
	}

	sheet := &interfaces.Sheet{Name: name}
	if err := json.Unmarshal([]byte(header), &sheet.Header); err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed, "Corrupt header of sheet "+name)
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("SELECT cells FROM %s WHERE run_id = %s AND sheet = %s ORDER BY row_index",
		s.rowsTable, p(1), p(2)), runID, name)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed, "Failed to query rows of "+name)
	}
	defer rows.Close()

	for rows.Next() {
		var cells string
		if err := rows.Scan(&cells); err != nil {
			return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed, "Failed to scan row of "+name)
		}
		var row []string
		if err := json.Unmarshal([]byte(cells), &row); err != nil {
			return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed, "Corrupt row in sheet "+name)
		}
		sheet.Rows = append(sheet.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed, "Failed to read rows of "+name)
	}
	return sheet, nil
}

// Ping implements interfaces.Pinger
func (s *SQLStorage) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return errors.NewStorageError(errors.CodeReadFailed, "SQL storage not connected")
	}
	if err := s.db.PingContext(ctx); err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed, "SQL storage unreachable")
	}
	return nil
}

// Close closes the database connection
func (s *SQLStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	s.logger.Info("SQL storage connection closed")
	return err
}
