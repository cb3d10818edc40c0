package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/stepwise/pkg/schema"
)

// LibSQLStore implements Store on libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db       *sql.DB
	migrator *Migrator
	logger   *slog.Logger
}

// Option configures a LibSQLStore.
type Option func(*storeOptions)

type storeOptions struct {
	mode       MigrationMode
	logger     *slog.Logger
	migrations []Migration
}

// WithMigrationMode selects strict or best-effort migrations.
func WithMigrationMode(mode MigrationMode) Option {
	return func(o *storeOptions) { o.mode = mode }
}

// WithLogger sets the store logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *storeOptions) { o.logger = l }
}

// withMigrations replaces the migration list (tests only).
func withMigrations(m []Migration) Option {
	return func(o *storeOptions) { o.migrations = m }
}

// NewLibSQLStore opens a libSQL database at the given path.
// The path should be a file URI, e.g. "file:/path/to/stepwise.db".
func NewLibSQLStore(dbPath string, opts ...Option) (*LibSQLStore, error) {
	o := storeOptions{mode: MigrateBestEffort, migrations: defaultMigrations}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Some PRAGMAs return rows, so they go through QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{
		db:       db,
		migrator: NewMigrator(db, o.migrations, o.mode, o.logger),
		logger:   o.logger,
	}, nil
}

// DB returns the underlying *sql.DB.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate applies pending migrations according to the configured mode.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	_, err := s.migrator.Up(ctx)
	return err
}

// RollbackLast undoes the newest applied migration.
func (s *LibSQLStore) RollbackLast(ctx context.Context) (*MigrationState, error) {
	return s.migrator.RollbackLast(ctx)
}

// MigrationStatus lists known migrations and whether each is applied.
func (s *LibSQLStore) MigrationStatus(ctx context.Context) ([]MigrationState, error) {
	return s.migrator.Status(ctx)
}

// --- Workflows ---

func (s *LibSQLStore) SaveWorkflow(ctx context.Context, def *schema.WorkflowDefinition) error {
	data, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("marshal definition: %w", err)
	}
	version := def.Version
	if version == "" {
		version = "1.0.0"
	}
	now := dbTimeValue(time.Now())
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO workflows (id, name, version, definition, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name=excluded.name, version=excluded.version,
		   definition=excluded.definition, updated_at=excluded.updated_at`,
		def.ID, def.Name, version, string(data), now, now,
	)
	return wrapStore(err, "save workflow")
}

const workflowColumns = `id, name, version, definition, created_at, updated_at`

func (s *LibSQLStore) GetWorkflow(ctx context.Context, id string) (*WorkflowRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+workflowColumns+` FROM workflows WHERE id = ?`, id)
	wf, err := scanWorkflow(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("workflow", id)
	}
	return wf, err
}

func (s *LibSQLStore) ListWorkflows(ctx context.Context) ([]*WorkflowRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+workflowColumns+` FROM workflows ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*WorkflowRecord
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, wf)
	}
	return out, rows.Err()
}

func scanWorkflow(sc scanner) (*WorkflowRecord, error) {
	wf := &WorkflowRecord{}
	var def string
	var created, updated dbTime
	if err := sc.Scan(&wf.ID, &wf.Name, &wf.Version, &def, &created, &updated); err != nil {
		return nil, err
	}
	wf.Definition = &schema.WorkflowDefinition{}
	if err := json.Unmarshal([]byte(def), wf.Definition); err != nil {
		return nil, fmt.Errorf("unmarshal definition: %w", err)
	}
	wf.CreatedAt = created.Time
	wf.UpdatedAt = updated.Time
	return wf, nil
}

// --- Executions ---

func (s *LibSQLStore) CreateExecution(ctx context.Context, exec *Execution) error {
	trigger, err := marshalOrNil(exec.TriggerData)
	if err != nil {
		return fmt.Errorf("marshal trigger data: %w", err)
	}
	state, err := marshalOrNil(exec.State)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	mode := exec.Mode
	if mode == "" {
		mode = schema.ModeAuto
	}
	started := timeOrNow(exec.StartedAt)
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO executions (id, workflow_id, version_tag, trigger_type, trigger_data, status, execution_mode,
		   current_step_id, state, error, started_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		exec.ID, exec.WorkflowID, nullStr(exec.VersionTag), exec.TriggerType, trigger,
		string(exec.Status), string(mode), nullStr(exec.CurrentStepID), state, nullStr(exec.Error),
		dbTimeValue(started), dbTimeValue(started),
	)
	return wrapStore(err, "create execution")
}

const executionColumns = `id, workflow_id, version_tag, trigger_type, trigger_data, status, execution_mode,
	current_step_id, state, outcome, follow_up_suggestions, summary, error, started_at, completed_at, updated_at`

func (s *LibSQLStore) GetExecution(ctx context.Context, id string) (*Execution, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM executions WHERE id = ?`, id)
	exec, err := scanExecution(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("execution", id)
	}
	return exec, err
}

func (s *LibSQLStore) UpdateExecution(ctx context.Context, id string, update ExecutionUpdate) error {
	var sets []string
	var args []any

	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.CurrentStepID != nil {
		sets = append(sets, "current_step_id = ?")
		args = append(args, nullStr(*update.CurrentStepID))
	}
	if update.State != nil {
		data, err := json.Marshal(update.State)
		if err != nil {
			return fmt.Errorf("marshal state: %w", err)
		}
		sets = append(sets, "state = ?")
		args = append(args, string(data))
	}
	if update.Outcome != nil {
		sets = append(sets, "outcome = ?")
		args = append(args, nullStr(string(*update.Outcome)))
	}
	if update.FollowUpSuggestions != nil {
		data, err := json.Marshal(update.FollowUpSuggestions)
		if err != nil {
			return fmt.Errorf("marshal suggestions: %w", err)
		}
		sets = append(sets, "follow_up_suggestions = ?")
		args = append(args, string(data))
	}
	if update.Summary != nil {
		sets = append(sets, "summary = ?")
		args = append(args, nullStr(*update.Summary))
	}
	if update.Error != nil {
		sets = append(sets, "error = ?")
		args = append(args, nullStr(*update.Error))
	}
	if update.CompletedAt != nil {
		sets = append(sets, "completed_at = ?")
		args = append(args, dbTimeValue(*update.CompletedAt))
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, dbTimeValue(time.Now()), id)

	query := fmt.Sprintf("UPDATE executions SET %s WHERE id = ? AND status NOT IN ('completed', 'failed')",
		strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return wrapStore(err, "update execution")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	var status string
	err = s.db.QueryRowContext(ctx, `SELECT status FROM executions WHERE id = ?`, id).Scan(&status)
	if err == sql.ErrNoRows {
		return storeNotFound("execution", id)
	}
	if err != nil {
		return err
	}
	return schema.NewErrorf(schema.ErrCodeConflict, "execution %q is %s and can no longer change", id, status)
}

func (s *LibSQLStore) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*Execution, error) {
	var where []string
	var args []any

	if filter.WorkflowID != "" {
		where = append(where, "workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}
	if filter.VersionTag != "" {
		where = append(where, "version_tag = ?")
		args = append(args, filter.VersionTag)
	}
	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.Mode != "" {
		where = append(where, "execution_mode = ?")
		args = append(args, string(filter.Mode))
	}

	query := `SELECT ` + executionColumns + ` FROM executions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, exec)
	}
	return out, rows.Err()
}

func scanExecution(sc scanner) (*Execution, error) {
	e := &Execution{}
	var (
		versionTag, triggerData, currentStep, state sql.NullString
		outcome, suggestions, summary, errMsg       sql.NullString
		status, mode                                string
		started, completed, updated                 dbTime
	)
	if err := sc.Scan(&e.ID, &e.WorkflowID, &versionTag, &e.TriggerType, &triggerData, &status, &mode,
		&currentStep, &state, &outcome, &suggestions, &summary, &errMsg, &started, &completed, &updated); err != nil {
		return nil, err
	}
	e.VersionTag = versionTag.String
	e.Status = schema.ExecutionStatus(status)
	e.Mode = schema.ExecutionMode(mode)
	e.CurrentStepID = currentStep.String
	e.Outcome = schema.Outcome(outcome.String)
	e.Summary = summary.String
	e.Error = errMsg.String
	e.StartedAt = started.Time
	e.CompletedAt = completed.Ptr()
	e.UpdatedAt = updated.Time
	if triggerData.Valid && triggerData.String != "" {
		if err := json.Unmarshal([]byte(triggerData.String), &e.TriggerData); err != nil {
			return nil, fmt.Errorf("unmarshal trigger data: %w", err)
		}
	}
	if state.Valid && state.String != "" {
		e.State = &schema.RunState{}
		if err := json.Unmarshal([]byte(state.String), e.State); err != nil {
			return nil, fmt.Errorf("unmarshal state: %w", err)
		}
	}
	if suggestions.Valid && suggestions.String != "" {
		if err := json.Unmarshal([]byte(suggestions.String), &e.FollowUpSuggestions); err != nil {
			return nil, fmt.Errorf("unmarshal suggestions: %w", err)
		}
	}
	return e, nil
}

// --- Step executions ---

func (s *LibSQLStore) CreateStepExecution(ctx context.Context, se *StepExecution) error {
	inputs, err := marshalOrNil(se.Inputs)
	if err != nil {
		return fmt.Errorf("marshal inputs: %w", err)
	}
	status := se.Status
	if status == "" {
		status = schema.StepPending
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO step_executions (id, execution_id, step_id, module, action, inputs, status, started_at)
		 SELECT ?, ?, ?, ?, ?, ?, ?, ? WHERE EXISTS (SELECT 1 FROM executions WHERE id = ?)`,
		se.ID, se.ExecutionID, se.StepID, se.Module, se.Action, inputs, string(status),
		dbTimeValue(timeOrNow(se.StartedAt)), se.ExecutionID,
	)
	if err != nil {
		return wrapStore(err, "create step execution")
	}
	return checkRowsAffected(res, "execution", se.ExecutionID)
}

func (s *LibSQLStore) CompleteStepExecution(ctx context.Context, id string, c StepCompletion) error {
	outputs, err := marshalOrNil(c.Outputs)
	if err != nil {
		return fmt.Errorf("marshal outputs: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE step_executions SET status = ?, outputs = ?, return_code = ?, error = ?, duration_ms = ?, completed_at = ?
		 WHERE id = ? AND completed_at IS NULL`,
		string(c.Status), outputs, c.ReturnCode, nullStr(c.Error), c.DurationMs,
		dbTimeValue(timeOrNow(c.CompletedAt)), id,
	)
	if err != nil {
		return wrapStore(err, "complete step execution")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM step_executions WHERE id = ?`, id).Scan(&exists)
	if err == sql.ErrNoRows {
		return storeNotFound("step execution", id)
	}
	if err != nil {
		return err
	}
	return schema.NewErrorf(schema.ErrCodeConflict, "step execution %q is already completed", id)
}

func (s *LibSQLStore) ListStepExecutions(ctx context.Context, executionID string) ([]*StepExecution, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, execution_id, step_id, module, action, inputs, outputs, status, return_code, error,
		   duration_ms, started_at, completed_at
		 FROM step_executions WHERE execution_id = ? ORDER BY started_at ASC, rowid ASC`, executionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*StepExecution
	for rows.Next() {
		se := &StepExecution{}
		var inputs, outputs, errMsg sql.NullString
		var status string
		var started, completed dbTime
		if err := rows.Scan(&se.ID, &se.ExecutionID, &se.StepID, &se.Module, &se.Action, &inputs, &outputs,
			&status, &se.ReturnCode, &errMsg, &se.DurationMs, &started, &completed); err != nil {
			return nil, err
		}
		se.Status = schema.StepStatus(status)
		se.Error = errMsg.String
		se.StartedAt = started.Time
		se.CompletedAt = completed.Ptr()
		if err := unmarshalNullable(inputs, &se.Inputs); err != nil {
			return nil, fmt.Errorf("unmarshal inputs: %w", err)
		}
		if err := unmarshalNullable(outputs, &se.Outputs); err != nil {
			return nil, fmt.Errorf("unmarshal outputs: %w", err)
		}
		out = append(out, se)
	}
	return out, rows.Err()
}

// --- Decisions ---

func (s *LibSQLStore) CreateDecision(ctx context.Context, dec *PendingDecision) error {
	proposals, err := marshalOrNil(dec.Proposals)
	if err != nil {
		return fmt.Errorf("marshal proposals: %w", err)
	}
	status := dec.Status
	if status == "" {
		status = schema.DecisionPending
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO pending_decisions (id, execution_id, step_id, title, description, proposals, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		dec.ID, dec.ExecutionID, dec.StepID, dec.Title, nullStr(dec.Description), proposals,
		string(status), dbTimeValue(timeOrNow(dec.CreatedAt)),
	)
	return wrapStore(err, "create decision")
}

const decisionColumns = `id, execution_id, step_id, title, description, proposals, status, choice, notes, created_at, resolved_at`

func (s *LibSQLStore) GetDecision(ctx context.Context, id string) (*PendingDecision, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+decisionColumns+` FROM pending_decisions WHERE id = ?`, id)
	d, err := scanDecision(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("decision", id)
	}
	return d, err
}

func (s *LibSQLStore) ResolveDecision(ctx context.Context, id, choice, notes string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE pending_decisions SET status = 'resolved', choice = ?, notes = ?, resolved_at = ?
		 WHERE id = ? AND status = 'pending'`,
		choice, nullStr(notes), dbTimeValue(time.Now()), id,
	)
	if err != nil {
		return wrapStore(err, "resolve decision")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	if _, err := s.GetDecision(ctx, id); err != nil {
		return err
	}
	return schema.NewErrorf(schema.ErrCodeConflict, "decision %q is already resolved", id)
}

func (s *LibSQLStore) ListDecisions(ctx context.Context, filter DecisionFilter) ([]*PendingDecision, error) {
	var where []string
	var args []any
	if filter.ExecutionID != "" {
		where = append(where, "execution_id = ?")
		args = append(args, filter.ExecutionID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}

	query := `SELECT ` + decisionColumns + ` FROM pending_decisions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*PendingDecision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func scanDecision(sc scanner) (*PendingDecision, error) {
	d := &PendingDecision{}
	var description, proposals, choice, notes sql.NullString
	var status string
	var created, resolved dbTime
	if err := sc.Scan(&d.ID, &d.ExecutionID, &d.StepID, &d.Title, &description, &proposals,
		&status, &choice, &notes, &created, &resolved); err != nil {
		return nil, err
	}
	d.Description = description.String
	d.Status = schema.DecisionStatus(status)
	d.Choice = choice.String
	d.Notes = notes.String
	d.CreatedAt = created.Time
	d.ResolvedAt = resolved.Ptr()
	if err := unmarshalNullable(proposals, &d.Proposals); err != nil {
		return nil, fmt.Errorf("unmarshal proposals: %w", err)
	}
	return d, nil
}

// --- Helpers ---

type scanner interface {
	Scan(dest ...any) error
}

func storeNotFound(resource, id string) *schema.Error {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

// wrapStore maps driver errors to structured store errors. Unique
// constraint violations become CONFLICT.
func wrapStore(err error, op string) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return schema.NewErrorf(schema.ErrCodeConflict, "%s: duplicate record", op).WithCause(err)
	}
	return schema.NewErrorf(schema.ErrCodeStore, "%s failed", op).WithCause(err)
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func marshalOrNil(v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		if x == nil {
			return nil, nil
		}
	case []any:
		if x == nil {
			return nil, nil
		}
	case *schema.RunState:
		if x == nil {
			return nil, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func unmarshalNullable(ns sql.NullString, dst any) error {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(ns.String), dst)
}
