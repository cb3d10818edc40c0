package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/stepwise/pkg/schema"
)

func testMigrations() []Migration {
	return []Migration{
		{
			Version: 1,
			Name:    "widgets",
			Up: func(ctx context.Context, tx *sql.Tx) error {
				return execAll(ctx, tx, `CREATE TABLE widgets (id TEXT PRIMARY KEY)`)
			},
			Down: func(ctx context.Context, tx *sql.Tx) error {
				return execAll(ctx, tx, `DROP TABLE widgets`)
			},
		},
		{
			Version: 2,
			Name:    "broken",
			Up: func(ctx context.Context, tx *sql.Tx) error {
				return errors.New("boom")
			},
		},
		{
			Version: 3,
			Name:    "widget_color",
			Up: func(ctx context.Context, tx *sql.Tx) error {
				return addColumns(ctx, tx, "widgets", "color TEXT")
			},
			Down: func(ctx context.Context, tx *sql.Tx) error {
				return dropColumns(ctx, tx, "widgets", "color")
			},
		},
	}
}

func openRaw(t *testing.T, opts ...Option) *LibSQLStore {
	t.Helper()
	s, err := NewLibSQLStore("file:"+t.TempDir()+"/m.db", opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestMigrate_BestEffortSkipsFailures(t *testing.T) {
	s := openRaw(t, withMigrations(testMigrations()))
	ctx := context.Background()

	require.NoError(t, s.Migrate(ctx))

	status, err := s.MigrationStatus(ctx)
	require.NoError(t, err)
	require.Len(t, status, 3)
	assert.True(t, status[0].Applied)
	assert.False(t, status[1].Applied)
	assert.True(t, status[2].Applied)
	assert.NotNil(t, status[0].AppliedAt)
}

func TestMigrate_StrictStopsAtFirstFailure(t *testing.T) {
	s := openRaw(t, withMigrations(testMigrations()), WithMigrationMode(MigrateStrict))
	ctx := context.Background()

	err := s.Migrate(ctx)
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeMigration))

	status, err := s.MigrationStatus(ctx)
	require.NoError(t, err)
	assert.True(t, status[0].Applied)
	assert.False(t, status[1].Applied)
	assert.False(t, status[2].Applied)
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Migrate(ctx))

	status, err := s.MigrationStatus(ctx)
	require.NoError(t, err)
	for _, st := range status {
		assert.True(t, st.Applied, "migration %d should be applied", st.Version)
	}
}

func TestRollbackLast(t *testing.T) {
	s := openRaw(t, withMigrations(testMigrations()))
	ctx := context.Background()
	require.NoError(t, s.Migrate(ctx))

	undone, err := s.RollbackLast(ctx)
	require.NoError(t, err)
	require.NotNil(t, undone)
	assert.Equal(t, 3, undone.Version)

	status, err := s.MigrationStatus(ctx)
	require.NoError(t, err)
	assert.False(t, status[2].Applied)

	// Reapplying restores the column.
	require.NoError(t, s.Migrate(ctx))
	_, err = s.DB().ExecContext(ctx, `INSERT INTO widgets (id, color) VALUES ('w', 'red')`)
	require.NoError(t, err)
}

func TestRollbackLast_NothingApplied(t *testing.T) {
	s := openRaw(t, withMigrations(testMigrations()))
	got, err := s.RollbackLast(context.Background())
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestParseMigrationMode(t *testing.T) {
	m, err := ParseMigrationMode("")
	require.NoError(t, err)
	assert.Equal(t, MigrateBestEffort, m)

	m, err = ParseMigrationMode("strict")
	require.NoError(t, err)
	assert.Equal(t, MigrateStrict, m)

	_, err = ParseMigrationMode("yolo")
	assert.Error(t, err)
}
