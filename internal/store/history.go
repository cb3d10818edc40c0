package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rendis/stepwise/pkg/schema"
)

// AppendHistory appends an entry with the next per-execution sequence
// number. Entries are never updated or deleted.
func (s *LibSQLStore) AppendHistory(ctx context.Context, entry *HistoryEntry) error {
	data, err := marshalOrNil(entry.Data)
	if err != nil {
		return fmt.Errorf("marshal history data: %w", err)
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin history tx: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM execution_history WHERE execution_id = ?`, entry.ExecutionID,
	).Scan(&seq); err != nil {
		return fmt.Errorf("next history sequence: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO execution_history (execution_id, sequence, event_type, step_id, data, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ExecutionID, seq, string(entry.Event), nullStr(entry.StepID), data, dbTimeValue(entry.CreatedAt),
	)
	if err != nil {
		return wrapStore(err, "append history")
	}
	if id, err := res.LastInsertId(); err == nil {
		entry.ID = id
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit history: %w", err)
	}
	entry.Sequence = seq
	return nil
}

// ListHistory returns an execution's history in sequence order.
func (s *LibSQLStore) ListHistory(ctx context.Context, executionID string) ([]*HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, execution_id, sequence, event_type, step_id, data, created_at
		 FROM execution_history WHERE execution_id = ? ORDER BY sequence ASC`, executionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*HistoryEntry
	for rows.Next() {
		h := &HistoryEntry{}
		var event string
		var stepID, data sql.NullString
		var created dbTime
		if err := rows.Scan(&h.ID, &h.ExecutionID, &h.Sequence, &event, &stepID, &data, &created); err != nil {
			return nil, err
		}
		h.Event = schema.HistoryEvent(event)
		h.StepID = stepID.String
		h.CreatedAt = created.Time
		if data.Valid && data.String != "" {
			if err := json.Unmarshal([]byte(data.String), &h.Data); err != nil {
				return nil, fmt.Errorf("unmarshal history data: %w", err)
			}
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
