/*
Package sqldb provides a relational implementation of ledger.Store.

PURPOSE:
  One implementation, two dialects: SQLite (mattn/go-sqlite3) for single
  node deployments and tests, PostgreSQL (jackc/pgx/v5) for production.
  Queries are written once with ? placeholders and rebound per dialect.

GUARDED INCREMENTS:
  Stock and running totals change through a single statement:

    UPDATE products
       SET quantity_in_stock = quantity_in_stock + ?
     WHERE id = ? AND quantity_in_stock + ? >= 0
    RETURNING quantity_in_stock

  Two concurrent units can never both pass the guard on the same
  quantity; the loser sees no row and the ledger reports NegativeStock.

CONCURRENCY:
  PostgreSQL: row locks (SELECT ... FOR UPDATE) on locked reads, and
  SET LOCAL lock_timeout per unit. Lock timeouts, serialization failures
  and deadlocks come back as ledger.TransientStoreError.
  SQLite: units begin IMMEDIATE and writers in this process serialize on
  a mutex; cross-process contention waits _busy_timeout, then surfaces
  SQLITE_BUSY as ledger.TransientStoreError.

USAGE:
  store, err := sqldb.Open(sqldb.DriverSQLite, "./data/backoffice.db", sqldb.Options{})
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on Open(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - ledger/store.go: Interface definitions
  - ledger/store/memory.go: In-memory implementation for testing
*/
package sqldb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/sirupsen/logrus"

	"github.com/warp/backoffice/ledger"
)

// Options tune the connection pool and lock behaviour.
type Options struct {
	// LockTimeout bounds how long a unit waits for a row lock (PostgreSQL)
	// or the database write lock (SQLite busy timeout). Default 5s.
	LockTimeout time.Duration
	// MaxOpenConns caps the pool. Ignored for SQLite :memory:, which
	// always uses one connection.
	MaxOpenConns int
	Logger       logrus.FieldLogger
}

// Store implements ledger.Store on database/sql.
type Store struct {
	conn
	db          *sql.DB
	lockTimeout time.Duration
	writeMu     sync.Mutex
	logger      logrus.FieldLogger
}

var _ ledger.Store = (*Store)(nil)

// New opens a SQLite store with default options.
// Use ":memory:" for an in-memory database.
func New(path string) (*Store, error) {
	return Open(DriverSQLite, path, Options{})
}

// Open connects to driver/dsn and migrates the schema.
func Open(driver, dsn string, opts Options) (*Store, error) {
	d, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}

	driverName := DriverPostgres
	if d == dialectSQLite {
		driverName = DriverSQLite
		dsn = sqliteDSN(dsn, opts.LockTimeout)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	switch {
	case d == dialectSQLite && strings.HasPrefix(dsn, ":memory:"):
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	case opts.MaxOpenConns > 0:
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}

	s := &Store{
		conn:        conn{ex: db, d: d},
		db:          db,
		lockTimeout: opts.LockTimeout,
		logger:      opts.Logger.WithField("module", "sqldb"),
	}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the pool for diagnostics and tests.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s: %w", firstLine(stmt), err)
		}
	}
	return nil
}

func firstLine(stmt string) string {
	for _, line := range strings.Split(strings.TrimSpace(stmt), "\n") {
		if line = strings.TrimSpace(line); line != "" && !strings.HasPrefix(line, "--") {
			return line
		}
	}
	return "statement"
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.Store.WithTx)
// =============================================================================

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Tx) error) error {
	if s.d == dialectSQLite {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()
	}

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return translate("begin", err)
	}
	defer sqlTx.Rollback()

	if s.d == dialectPostgres {
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())
		if _, err := sqlTx.ExecContext(ctx, stmt); err != nil {
			return translate("set lock timeout", err)
		}
	}

	if err := fn(&txConn{conn: conn{ex: sqlTx, d: s.d}}); err != nil {
		return err
	}
	return translate("commit", sqlTx.Commit())
}

// =============================================================================
// AUDIT LOG
// =============================================================================

func (s *Store) AppendAudit(ctx context.Context, e ledger.AuditEntry) error {
	changes, err := json.Marshal(e.Changes)
	if err != nil {
		return fmt.Errorf("encode audit changes: %w", err)
	}
	_, err = s.exec(ctx, `
		INSERT INTO audit_log (id, actor, action, entity_type, entity_id, changes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Actor, e.Action, e.EntityType, e.EntityID, string(changes), fmtTime(e.CreatedAt),
	)
	return translate("append audit", err)
}

// QueryAudit returns matching entries newest first.
func (s *Store) QueryAudit(ctx context.Context, f ledger.AuditFilter) ([]ledger.AuditEntry, error) {
	var (
		where []string
		args  []any
	)
	if f.EntityType != "" {
		where, args = append(where, "entity_type = ?"), append(args, f.EntityType)
	}
	if f.EntityID != "" {
		where, args = append(where, "entity_id = ?"), append(args, f.EntityID)
	}
	if f.Actor != "" {
		where, args = append(where, "actor = ?"), append(args, f.Actor)
	}
	if f.Action != "" {
		where, args = append(where, "action = ?"), append(args, f.Action)
	}
	query := `SELECT id, actor, action, entity_type, entity_id, changes, created_at FROM audit_log`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, translate("query audit", err)
	}
	defer rows.Close()

	var out []ledger.AuditEntry
	for rows.Next() {
		var (
			e                  ledger.AuditEntry
			changes, createdAt string
		)
		if err := rows.Scan(&e.ID, &e.Actor, &e.Action, &e.EntityType, &e.EntityID, &changes, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		if changes != "" {
			_ = json.Unmarshal([]byte(changes), &e.Changes)
		}
		e.CreatedAt = parseTime(createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

// =============================================================================
// RECONCILIATION RUNS
// =============================================================================

// SaveReconciliationRun inserts or updates a run.
func (s *Store) SaveReconciliationRun(ctx context.Context, r *ledger.ReconciliationRun) error {
	var completedAt sql.NullString
	if r.CompletedAt != nil {
		completedAt = sql.NullString{String: fmtTime(*r.CompletedAt), Valid: true}
	}
	_, err := s.exec(ctx, `
		INSERT INTO reconciliation_runs (id, started_at, completed_at, discrepancies, repaired, status, error)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			completed_at = excluded.completed_at,
			discrepancies = excluded.discrepancies,
			repaired = excluded.repaired,
			status = excluded.status,
			error = excluded.error`,
		r.ID, fmtTime(r.StartedAt), completedAt, r.Discrepancies, r.Repaired, r.Status, r.Error,
	)
	return translate("save reconciliation run", err)
}

// ListReconciliationRuns returns runs newest first.
func (s *Store) ListReconciliationRuns(ctx context.Context, limit int) ([]ledger.ReconciliationRun, error) {
	query := `
		SELECT id, started_at, completed_at, discrepancies, repaired, status, error
		FROM reconciliation_runs
		ORDER BY started_at DESC`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, translate("list reconciliation runs", err)
	}
	defer rows.Close()

	var runs []ledger.ReconciliationRun
	for rows.Next() {
		var (
			r           ledger.ReconciliationRun
			startedAt   string
			completedAt sql.NullString
		)
		if err := rows.Scan(&r.ID, &startedAt, &completedAt, &r.Discrepancies, &r.Repaired, &r.Status, &r.Error); err != nil {
			return nil, fmt.Errorf("failed to scan reconciliation run: %w", err)
		}
		r.StartedAt = parseTime(startedAt)
		if completedAt.Valid {
			t := parseTime(completedAt.String)
			r.CompletedAt = &t
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
