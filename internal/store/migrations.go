package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/rendis/stepwise/pkg/schema"
)

// MigrationMode controls what happens when a migration fails.
type MigrationMode string

const (
	// MigrateBestEffort rolls back and logs a failing migration, then keeps
	// applying the remaining ones.
	MigrateBestEffort MigrationMode = "best-effort"
	// MigrateStrict stops at the first failing migration and returns its error.
	MigrateStrict MigrationMode = "strict"
)

// ParseMigrationMode maps a config string to a mode. Empty means best-effort.
func ParseMigrationMode(s string) (MigrationMode, error) {
	switch MigrationMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", MigrateBestEffort:
		return MigrateBestEffort, nil
	case MigrateStrict:
		return MigrateStrict, nil
	default:
		return "", schema.NewErrorf(schema.ErrCodeValidation, "unknown migration mode %q", s)
	}
}

// Migration is a versioned schema change. Up must be idempotent; Down is
// optional and undoes Up.
type Migration struct {
	Version int
	Name    string
	Up      func(ctx context.Context, tx *sql.Tx) error
	Down    func(ctx context.Context, tx *sql.Tx) error
}

// Migrator applies migrations and records them in schema_version.
type Migrator struct {
	db         *sql.DB
	migrations []Migration
	mode       MigrationMode
	logger     *slog.Logger
}

// NewMigrator creates a Migrator over the given ordered migrations.
func NewMigrator(db *sql.DB, migrations []Migration, mode MigrationMode, logger *slog.Logger) *Migrator {
	if mode == "" {
		mode = MigrateBestEffort
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Migrator{db: db, migrations: migrations, mode: mode, logger: logger}
}

func (m *Migrator) ensureTable(ctx context.Context) error {
	if _, err := m.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}
	return nil
}

func (m *Migrator) applied(ctx context.Context) (map[int]time.Time, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT version, applied_at FROM schema_version`)
	if err != nil {
		return nil, fmt.Errorf("read schema_version: %w", err)
	}
	defer rows.Close()

	out := make(map[int]time.Time)
	for rows.Next() {
		var v int
		var at dbTime
		if err := rows.Scan(&v, &at); err != nil {
			return nil, err
		}
		out[v] = at.Time
	}
	return out, rows.Err()
}

// Up applies every migration not yet recorded, each in its own
// transaction. In best-effort mode failures are logged and skipped and the
// returned error is nil; the results still carry each failure.
func (m *Migrator) Up(ctx context.Context) ([]MigrationResult, error) {
	if err := m.ensureTable(ctx); err != nil {
		return nil, err
	}
	done, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}

	var results []MigrationResult
	for _, mig := range m.migrations {
		if _, ok := done[mig.Version]; ok {
			continue
		}
		err := m.apply(ctx, mig)
		results = append(results, MigrationResult{Version: mig.Version, Name: mig.Name, Err: err})
		if err == nil {
			m.logger.InfoContext(ctx, "migration applied", "version", mig.Version, "name", mig.Name)
			continue
		}
		if m.mode == MigrateStrict {
			return results, schema.NewErrorf(schema.ErrCodeMigration,
				"migration %d (%s) failed", mig.Version, mig.Name).WithCause(err)
		}
		m.logger.ErrorContext(ctx, "migration failed, continuing",
			"version", mig.Version, "name", mig.Name, "error", err)
	}
	return results, nil
}

func (m *Migrator) apply(ctx context.Context, mig Migration) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration %d: %w", mig.Version, err)
	}
	if err := mig.Up(ctx, tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_version (version, name) VALUES (?, ?)`, mig.Version, mig.Name); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("record migration %d: %w", mig.Version, err)
	}
	return tx.Commit()
}

// RollbackLast runs Down for the newest applied migration and removes its
// tracking row. Returns nil when nothing is applied.
func (m *Migrator) RollbackLast(ctx context.Context) (*MigrationState, error) {
	if err := m.ensureTable(ctx); err != nil {
		return nil, err
	}
	done, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}

	var last *Migration
	for i := range m.migrations {
		if _, ok := done[m.migrations[i].Version]; ok {
			if last == nil || m.migrations[i].Version > last.Version {
				last = &m.migrations[i]
			}
		}
	}
	if last == nil {
		return nil, nil
	}
	if last.Down == nil {
		return nil, schema.NewErrorf(schema.ErrCodeMigration,
			"migration %d (%s) has no down step", last.Version, last.Name)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin rollback %d: %w", last.Version, err)
	}
	if err := last.Down(ctx, tx); err != nil {
		_ = tx.Rollback()
		return nil, schema.NewErrorf(schema.ErrCodeMigration,
			"rollback of migration %d (%s) failed", last.Version, last.Name).WithCause(err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM schema_version WHERE version = ?`, last.Version); err != nil {
		_ = tx.Rollback()
		return nil, fmt.Errorf("unrecord migration %d: %w", last.Version, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	m.logger.InfoContext(ctx, "migration rolled back", "version", last.Version, "name", last.Name)
	return &MigrationState{Version: last.Version, Name: last.Name}, nil
}

// Status lists every known migration with its applied state.
func (m *Migrator) Status(ctx context.Context) ([]MigrationState, error) {
	if err := m.ensureTable(ctx); err != nil {
		return nil, err
	}
	done, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]MigrationState, 0, len(m.migrations))
	for _, mig := range m.migrations {
		st := MigrationState{Version: mig.Version, Name: mig.Name}
		if at, ok := done[mig.Version]; ok {
			st.Applied = true
			if !at.IsZero() {
				at := at
				st.AppliedAt = &at
			}
		}
		out = append(out, st)
	}
	return out, nil
}

// --- helpers for migration bodies ---

func execAll(ctx context.Context, tx *sql.Tx, script string) error {
	for _, stmt := range splitStatements(script) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s: %w", firstLine(stmt), err)
		}
	}
	return nil
}

func columnExists(ctx context.Context, tx *sql.Tx, table, column string) (bool, error) {
	rows, err := tx.QueryContext(ctx, fmt.Sprintf("SELECT name FROM pragma_table_info('%s')", table))
	if err != nil {
		return false, err
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

// addColumns adds each "name TYPE ..." definition unless the column exists.
func addColumns(ctx context.Context, tx *sql.Tx, table string, defs ...string) error {
	for _, def := range defs {
		name := strings.Fields(def)[0]
		ok, err := columnExists(ctx, tx, table, name)
		if err != nil {
			return err
		}
		if ok {
			continue
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", table, def)); err != nil {
			return fmt.Errorf("add %s.%s: %w", table, name, err)
		}
	}
	return nil
}

func dropColumns(ctx context.Context, tx *sql.Tx, table string, names ...string) error {
	for _, name := range names {
		ok, err := columnExists(ctx, tx, table, name)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", table, name)); err != nil {
			return fmt.Errorf("drop %s.%s: %w", table, name, err)
		}
	}
	return nil
}

// splitStatements splits a SQL script on semicolons, skipping comment-only chunks.
func splitStatements(script string) []string {
	var stmts []string
	for _, raw := range strings.Split(script, ";") {
		s := strings.TrimSpace(raw)
		if s == "" {
			continue
		}
		hasCode := false
		for _, l := range strings.Split(s, "\n") {
			l = strings.TrimSpace(l)
			if l != "" && !strings.HasPrefix(l, "--") {
				hasCode = true
				break
			}
		}
		if hasCode {
			stmts = append(stmts, s)
		}
	}
	return stmts
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}
