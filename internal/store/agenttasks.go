package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rendis/stepwise/pkg/schema"
)

// PutAgentTask writes the whole task record, replacing any previous
// version in a single statement.
func (s *LibSQLStore) PutAgentTask(ctx context.Context, task *schema.AgentTask) error {
	if task.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "agent task id is required")
	}
	if task.StartedAt.IsZero() {
		task.StartedAt = time.Now().UTC()
	}
	record, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal agent task: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO agent_tasks (id, status, type, execution_id, workstream_id, cloud_agent_id, started_at_ms,
		   lease_owner, lease_expires_ms, record, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET status=excluded.status, type=excluded.type,
		   execution_id=excluded.execution_id, workstream_id=excluded.workstream_id,
		   cloud_agent_id=excluded.cloud_agent_id, started_at_ms=excluded.started_at_ms,
		   lease_owner=excluded.lease_owner, lease_expires_ms=excluded.lease_expires_ms,
		   record=excluded.record, updated_at=excluded.updated_at`,
		task.ID, string(task.Status), string(task.Type), nullStr(task.ExecutionID), nullStr(task.WorkstreamID),
		nullStr(task.CloudAgentID), task.StartedAt.UnixMilli(),
		nullStr(task.LeaseOwner), leaseMillis(task.LeaseExpiresAt), string(record), dbTimeValue(time.Now()),
	)
	if err != nil {
		err = wrapStore(err, "put agent task")
		if schema.HasCode(err, schema.ErrCodeConflict) && task.WorkstreamID != "" {
			return schema.NewErrorf(schema.ErrCodeConflict,
				"workstream %q already has an active agent task", task.WorkstreamID).WithCause(err)
		}
		return err
	}
	return nil
}

func (s *LibSQLStore) GetAgentTask(ctx context.Context, id string) (*schema.AgentTask, error) {
	var record string
	err := s.db.QueryRowContext(ctx, `SELECT record FROM agent_tasks WHERE id = ?`, id).Scan(&record)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("agent task", id)
	}
	if err != nil {
		return nil, err
	}
	return decodeTask(record)
}

func (s *LibSQLStore) ListAgentTasks(ctx context.Context, filter AgentTaskFilter) ([]*schema.AgentTask, error) {
	var where []string
	var args []any

	if len(filter.Statuses) > 0 {
		marks := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			marks[i] = "?"
			args = append(args, string(st))
		}
		where = append(where, "status IN ("+strings.Join(marks, ", ")+")")
	}
	if filter.WorkstreamID != "" {
		where = append(where, "workstream_id = ?")
		args = append(args, filter.WorkstreamID)
	}
	if filter.ExecutionID != "" {
		where = append(where, "execution_id = ?")
		args = append(args, filter.ExecutionID)
	}
	if filter.CloudOnly {
		where = append(where, "cloud_agent_id IS NOT NULL")
	}
	if filter.LocalOnly {
		where = append(where, "cloud_agent_id IS NULL")
	}

	query := `SELECT record FROM agent_tasks`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at_ms ASC, id ASC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*schema.AgentTask
	for rows.Next() {
		var record string
		if err := rows.Scan(&record); err != nil {
			return nil, err
		}
		t, err := decodeTask(record)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ClaimAgentTask selects the oldest claimable local task and leases it with
// a conditional update, so two claimers can never both win the same task.
func (s *LibSQLStore) ClaimAgentTask(ctx context.Context, owner string, lease time.Duration, now time.Time) (*schema.AgentTask, error) {
	nowMs := now.UnixMilli()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin claim tx: %w", err)
	}
	defer tx.Rollback()

	var id, record string
	err = tx.QueryRowContext(ctx,
		`SELECT id, record FROM agent_tasks
		 WHERE cloud_agent_id IS NULL
		   AND (status = 'queued' OR (status = 'processing' AND lease_expires_ms < ?))
		 ORDER BY started_at_ms ASC, id ASC LIMIT 1`, nowMs,
	).Scan(&id, &record)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrapStore(err, "select claimable task")
	}

	task, err := decodeTask(record)
	if err != nil {
		return nil, err
	}
	expires := now.Add(lease).UTC()
	processed := now.UTC()
	task.Status = schema.AgentProcessing
	task.LeaseOwner = owner
	task.LeaseExpiresAt = &expires
	task.ProcessedAt = &processed

	updated, err := json.Marshal(task)
	if err != nil {
		return nil, fmt.Errorf("marshal agent task: %w", err)
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE agent_tasks SET status = 'processing', lease_owner = ?, lease_expires_ms = ?, record = ?, updated_at = ?
		 WHERE id = ? AND (status = 'queued' OR (status = 'processing' AND lease_expires_ms < ?))`,
		owner, expires.UnixMilli(), string(updated), dbTimeValue(now), id, nowMs,
	)
	if err != nil {
		return nil, wrapStore(err, "claim agent task")
	}
	if n, err := res.RowsAffected(); err != nil || n == 0 {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}
	return task, nil
}

func decodeTask(record string) (*schema.AgentTask, error) {
	t := &schema.AgentTask{}
	if err := json.Unmarshal([]byte(record), t); err != nil {
		return nil, fmt.Errorf("unmarshal agent task: %w", err)
	}
	return t, nil
}

func leaseMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

// --- Workstreams ---

func (s *LibSQLStore) PutWorkstream(ctx context.Context, ws *schema.Workstream) error {
	if ws.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "workstream id is required")
	}
	ws.UpdatedAt = time.Now().UTC()
	record, err := json.Marshal(ws)
	if err != nil {
		return fmt.Errorf("marshal workstream: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO workstreams (id, version_tag, status, record, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET version_tag=excluded.version_tag, status=excluded.status,
		   record=excluded.record, updated_at=excluded.updated_at`,
		ws.ID, nullStr(ws.VersionTag), string(ws.Status), string(record), dbTimeValue(ws.UpdatedAt),
	)
	return wrapStore(err, "put workstream")
}

func (s *LibSQLStore) GetWorkstream(ctx context.Context, id string) (*schema.Workstream, error) {
	var record string
	err := s.db.QueryRowContext(ctx, `SELECT record FROM workstreams WHERE id = ?`, id).Scan(&record)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("workstream", id)
	}
	if err != nil {
		return nil, err
	}
	ws := &schema.Workstream{}
	if err := json.Unmarshal([]byte(record), ws); err != nil {
		return nil, fmt.Errorf("unmarshal workstream: %w", err)
	}
	return ws, nil
}

func (s *LibSQLStore) ListWorkstreams(ctx context.Context) ([]*schema.Workstream, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT record FROM workstreams ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*schema.Workstream
	for rows.Next() {
		var record string
		if err := rows.Scan(&record); err != nil {
			return nil, err
		}
		ws := &schema.Workstream{}
		if err := json.Unmarshal([]byte(record), ws); err != nil {
			return nil, fmt.Errorf("unmarshal workstream: %w", err)
		}
		out = append(out, ws)
	}
	return out, rows.Err()
}

var _ Store = (*LibSQLStore)(nil)
