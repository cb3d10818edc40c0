package store

import (
	"context"
	"database/sql"
)

// defaultMigrations is the ordered schema history of the store.
var defaultMigrations = []Migration{
	{
		Version: 1,
		Name:    "initial_schema",
		Up: func(ctx context.Context, tx *sql.Tx) error {
			return execAll(ctx, tx, initialSchema)
		},
		Down: func(ctx context.Context, tx *sql.Tx) error {
			return execAll(ctx, tx, `
				DROP TABLE IF EXISTS execution_history;
				DROP TABLE IF EXISTS pending_decisions;
				DROP TABLE IF EXISTS step_executions;
				DROP TABLE IF EXISTS executions;
				DROP TABLE IF EXISTS workflows;`)
		},
	},
	{
		Version: 2,
		Name:    "execution_outcome",
		Up: func(ctx context.Context, tx *sql.Tx) error {
			return addColumns(ctx, tx, "executions",
				"outcome TEXT",
				"follow_up_suggestions TEXT",
				"summary TEXT",
				"execution_mode TEXT NOT NULL DEFAULT 'auto'",
			)
		},
		Down: func(ctx context.Context, tx *sql.Tx) error {
			return dropColumns(ctx, tx, "executions", "outcome", "follow_up_suggestions", "summary", "execution_mode")
		},
	},
	{
		Version: 3,
		Name:    "step_return_code",
		Up: func(ctx context.Context, tx *sql.Tx) error {
			return addColumns(ctx, tx, "step_executions",
				"return_code INTEGER NOT NULL DEFAULT 0",
				"duration_ms INTEGER NOT NULL DEFAULT 0",
			)
		},
		Down: func(ctx context.Context, tx *sql.Tx) error {
			return dropColumns(ctx, tx, "step_executions", "return_code", "duration_ms")
		},
	},
	{
		Version: 4,
		Name:    "agent_tasks",
		Up: func(ctx context.Context, tx *sql.Tx) error {
			return execAll(ctx, tx, agentTaskSchema)
		},
		Down: func(ctx context.Context, tx *sql.Tx) error {
			return execAll(ctx, tx, `DROP TABLE IF EXISTS agent_tasks`)
		},
	},
	{
		Version: 5,
		Name:    "workstreams",
		Up: func(ctx context.Context, tx *sql.Tx) error {
			return execAll(ctx, tx, `
				CREATE TABLE IF NOT EXISTS workstreams (
					id TEXT PRIMARY KEY,
					version_tag TEXT,
					status TEXT NOT NULL,
					record TEXT NOT NULL,
					updated_at TEXT NOT NULL
				)`)
		},
		Down: func(ctx context.Context, tx *sql.Tx) error {
			return execAll(ctx, tx, `DROP TABLE IF EXISTS workstreams`)
		},
	},
}

const initialSchema = `
CREATE TABLE IF NOT EXISTS workflows (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	version TEXT NOT NULL DEFAULT '1.0.0',
	definition TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS executions (
	id TEXT PRIMARY KEY,
	workflow_id TEXT NOT NULL,
	version_tag TEXT,
	trigger_type TEXT NOT NULL,
	trigger_data TEXT,
	status TEXT NOT NULL,
	current_step_id TEXT,
	state TEXT,
	error TEXT,
	started_at TEXT NOT NULL,
	completed_at TEXT,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_executions_workflow ON executions(workflow_id);
CREATE INDEX IF NOT EXISTS idx_executions_status ON executions(status);

CREATE TABLE IF NOT EXISTS step_executions (
	id TEXT PRIMARY KEY,
	execution_id TEXT NOT NULL REFERENCES executions(id),
	step_id TEXT NOT NULL,
	module TEXT NOT NULL,
	action TEXT NOT NULL,
	inputs TEXT,
	outputs TEXT,
	status TEXT NOT NULL,
	error TEXT,
	started_at TEXT NOT NULL,
	completed_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_step_executions_execution ON step_executions(execution_id);

CREATE TABLE IF NOT EXISTS pending_decisions (
	id TEXT PRIMARY KEY,
	execution_id TEXT NOT NULL REFERENCES executions(id),
	step_id TEXT NOT NULL,
	title TEXT NOT NULL,
	description TEXT,
	proposals TEXT,
	status TEXT NOT NULL DEFAULT 'pending',
	choice TEXT,
	notes TEXT,
	created_at TEXT NOT NULL,
	resolved_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_pending_decisions_execution ON pending_decisions(execution_id);

CREATE TABLE IF NOT EXISTS execution_history (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	execution_id TEXT NOT NULL REFERENCES executions(id),
	sequence INTEGER NOT NULL,
	event_type TEXT NOT NULL,
	step_id TEXT,
	data TEXT,
	created_at TEXT NOT NULL,
	UNIQUE(execution_id, sequence)
);
`

// agent_tasks keeps the full record as JSON; the other columns are
// projections used for filtering, ordering and leasing.
const agentTaskSchema = `
CREATE TABLE IF NOT EXISTS agent_tasks (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	type TEXT NOT NULL,
	execution_id TEXT,
	workstream_id TEXT,
	cloud_agent_id TEXT,
	started_at_ms INTEGER NOT NULL,
	lease_owner TEXT,
	lease_expires_ms INTEGER,
	record TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_agent_tasks_queue ON agent_tasks(status, started_at_ms);
CREATE UNIQUE INDEX IF NOT EXISTS idx_agent_tasks_live_workstream ON agent_tasks(workstream_id)
	WHERE workstream_id IS NOT NULL AND status IN ('queued', 'processing', 'running');
`
