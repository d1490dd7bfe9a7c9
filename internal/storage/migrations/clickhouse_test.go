package migrations

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingExecer struct {
	stmts []string
}

func (r *recordingExecer) Exec(_ context.Context, query string, _ ...any) error {
	r.stmts = append(r.stmts, query)
	return nil
}

func TestSplitStatements(t *testing.T) {
	input := `-- comment
CREATE TABLE a (x Int64) ENGINE = MergeTree() ORDER BY x;

CREATE TABLE b (y String)
ENGINE = MergeTree() ORDER BY y;
`
	stmts := splitStatements(input)
	require.Len(t, stmts, 2)
	assert.True(t, strings.HasPrefix(stmts[0], "CREATE TABLE a"))
	assert.Contains(t, stmts[1], "ENGINE = MergeTree() ORDER BY y")
}

func TestValidateNoSemicolonInStrings(t *testing.T) {
	assert.NoError(t, validateNoSemicolonInStrings("SELECT 'it''s'; SELECT 1;"))
	assert.Error(t, validateNoSemicolonInStrings("SELECT 'a;b';"))
}

func TestRunClickhouseMigrations_Embedded(t *testing.T) {
	exec := &recordingExecer{}
	require.NoError(t, RunClickhouseMigrations(context.Background(), exec))
	require.NotEmpty(t, exec.stmts)
	assert.Contains(t, exec.stmts[0], "payout_points")
}

func TestPostgresMigrations_Embedded(t *testing.T) {
	data, err := PostgresFS.ReadFile("postgres/001_ledger.sql")
	require.NoError(t, err)
	sql := string(data)
	assert.Contains(t, sql, "-- +migrate Up")
	assert.Contains(t, sql, "processed_transactions")
	assert.Contains(t, sql, "payout_ledger")
}

func TestPostgresMigrations_PendingEvents(t *testing.T) {
	data, err := PostgresFS.ReadFile("postgres/002_pending_events.sql")
	require.NoError(t, err)
	sql := string(data)
	assert.Contains(t, sql, "-- +migrate Up")
	assert.Contains(t, sql, "PRIMARY KEY (asset_id, block_number, event_type)")
}
