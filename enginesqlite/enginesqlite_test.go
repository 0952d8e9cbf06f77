package enginesqlite_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/relaycoder/opor/enginesqlite"
)

func newEngine(t *testing.T) *enginesqlite.Engine {
	t.Helper()
	eng, err := enginesqlite.New(enginesqlite.Options{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { eng.Close() })
	return eng
}

func TestExecFiresOnUpdate(t *testing.T) {
	eng := newEngine(t)
	ctx := context.Background()
	require.NoError(t, eng.Exec(ctx, `CREATE TABLE users (id TEXT PRIMARY KEY, name TEXT)`))

	var got []string
	unsub := eng.OnUpdate(func(changeType, dbName, table string) {
		got = append(got, table)
	})
	defer unsub()

	require.NoError(t, eng.Exec(ctx, `INSERT INTO users (id, name) VALUES (?, ?)`, "1", "Alice"))
	require.Equal(t, []string{"users"}, got)
}

func TestTxDefersNotificationUntilCommit(t *testing.T) {
	eng := newEngine(t)
	ctx := context.Background()
	require.NoError(t, eng.Exec(ctx, `CREATE TABLE users (id TEXT PRIMARY KEY, name TEXT)`))

	var notified int
	unsub := eng.OnUpdate(func(changeType, dbName, table string) { notified++ })
	defer unsub()

	tx, err := eng.ImperativeTxBegin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Exec(ctx, `INSERT INTO users (id, name) VALUES (?, ?)`, "1", "Alice"))
	require.Equal(t, 0, notified, "no notification before commit")

	require.NoError(t, tx.Commit())
	require.Equal(t, 1, notified)
}

func TestTxRollbackFiresNoNotification(t *testing.T) {
	eng := newEngine(t)
	ctx := context.Background()
	require.NoError(t, eng.Exec(ctx, `CREATE TABLE users (id TEXT PRIMARY KEY, name TEXT)`))

	var notified int
	unsub := eng.OnUpdate(func(changeType, dbName, table string) { notified++ })
	defer unsub()

	tx, err := eng.ImperativeTxBegin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Exec(ctx, `INSERT INTO users (id, name) VALUES (?, ?)`, "1", "Alice"))
	require.NoError(t, tx.Rollback())
	require.Equal(t, 0, notified)
}

func TestStmtRunAllGetValues(t *testing.T) {
	eng := newEngine(t)
	ctx := context.Background()
	require.NoError(t, eng.Exec(ctx, `CREATE TABLE users (id TEXT PRIMARY KEY, name TEXT)`))

	insert, err := eng.Prepare(`INSERT INTO users (id, name) VALUES (?, ?)`)
	require.NoError(t, err)
	require.NoError(t, insert.Run(ctx, "1", "Alice"))
	require.NoError(t, insert.Run(ctx, "2", "Bob"))
	require.NoError(t, insert.Close())

	all, err := eng.Prepare(`SELECT id, name FROM users ORDER BY id`)
	require.NoError(t, err)
	rows, err := all.All(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "Alice", rows[0]["name"])

	get, err := eng.Prepare(`SELECT id, name FROM users WHERE id = ?`)
	require.NoError(t, err)
	row, err := get.Get(ctx, "2")
	require.NoError(t, err)
	require.Equal(t, "Bob", row["name"])

	none, err := get.Get(ctx, "missing")
	require.NoError(t, err)
	require.Nil(t, none)

	values, err := eng.Prepare(`SELECT id FROM users ORDER BY id`)
	require.NoError(t, err)
	vs, err := values.Values(ctx)
	require.NoError(t, err)
	require.Equal(t, []interface{}{"1", "2"}, vs)
}

// S4: a changeset produced by one engine, applied to a fresh peer that
// already has the matching schema, converges to the same rows; applying it
// twice introduces no duplicates.
func TestChangesetRoundTripConverges(t *testing.T) {
	ctx := context.Background()
	db1 := newEngine(t)
	db2 := newEngine(t)

	schema := `CREATE TABLE users (id TEXT PRIMARY KEY, name TEXT)`
	require.NoError(t, db1.Exec(ctx, schema))
	require.NoError(t, db2.Exec(ctx, schema))

	require.NoError(t, db1.Exec(ctx, `INSERT INTO users (id, name) VALUES (?, ?)`, "1", "Alice"))

	tuples, err := db1.PullChanges(ctx, 0)
	require.NoError(t, err)
	require.NotEmpty(t, tuples)

	require.NoError(t, db2.ApplyChanges(ctx, tuples))

	rows, err := queryAll(ctx, db2, `SELECT id, name FROM users`)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "Alice", rows[0]["name"])

	// Applying twice must not duplicate rows.
	require.NoError(t, db2.ApplyChanges(ctx, tuples))
	rows, err = queryAll(ctx, db2, `SELECT id, name FROM users`)
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func queryAll(ctx context.Context, eng *enginesqlite.Engine, sql string) ([]map[string]interface{}, error) {
	stmt, err := eng.Prepare(sql)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()
	return stmt.All(ctx)
}

func TestPullChangesSinceExcludesEarlierHistory(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t)
	require.NoError(t, eng.Exec(ctx, `CREATE TABLE users (id TEXT PRIMARY KEY, name TEXT)`))
	require.NoError(t, eng.Exec(ctx, `INSERT INTO users (id, name) VALUES (?, ?)`, "1", "Alice"))

	first, err := eng.PullChanges(ctx, 0)
	require.NoError(t, err)
	require.NotEmpty(t, first)
	last := first[len(first)-1].DbVersion.Uint64()

	require.NoError(t, eng.Exec(ctx, `INSERT INTO users (id, name) VALUES (?, ?)`, "2", "Bob"))

	onlyNew, err := eng.PullChanges(ctx, last)
	require.NoError(t, err)
	for _, tup := range onlyNew {
		require.Greater(t, tup.DbVersion.Uint64(), last)
	}
	require.NotEmpty(t, onlyNew)
}

func TestDeleteProducesTombstoneChange(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t)
	require.NoError(t, eng.Exec(ctx, `CREATE TABLE users (id TEXT PRIMARY KEY, name TEXT)`))
	require.NoError(t, eng.Exec(ctx, `INSERT INTO users (id, name) VALUES (?, ?)`, "1", "Alice"))
	require.NoError(t, eng.Exec(ctx, `DELETE FROM users WHERE id = ?`, "1"))

	tuples, err := eng.PullChanges(ctx, 0)
	require.NoError(t, err)

	var sawTombstone bool
	for _, tup := range tuples {
		if tup.PK == "1" && tup.Value == nil {
			sawTombstone = true
		}
	}
	require.True(t, sawTombstone)
}

func TestApplyChangesToUnknownTableFails(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t)

	other := newEngine(t)
	require.NoError(t, other.Exec(ctx, `CREATE TABLE users (id TEXT PRIMARY KEY, name TEXT)`))
	require.NoError(t, other.Exec(ctx, `INSERT INTO users (id, name) VALUES (?, ?)`, "1", "Alice"))
	tuples, err := other.PullChanges(ctx, 0)
	require.NoError(t, err)

	require.Error(t, eng.ApplyChanges(ctx, tuples))
}

func TestExternalFileChangeIsObserved(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/external.db"

	writer, err := enginesqlite.New(enginesqlite.Options{Path: path})
	require.NoError(t, err)
	defer writer.Close()
	require.NoError(t, writer.Exec(context.Background(), `CREATE TABLE users (id TEXT PRIMARY KEY, name TEXT)`))
	require.NoError(t, writer.Close())

	reader, err := enginesqlite.New(enginesqlite.Options{Path: path, WatchExternal: true})
	require.NoError(t, err)
	defer reader.Close()

	var notified int32
	unsub := reader.OnUpdate(func(changeType, dbName, table string) { atomic.AddInt32(&notified, 1) })
	defer unsub()

	writer2, err := enginesqlite.New(enginesqlite.Options{Path: path})
	require.NoError(t, err)
	defer writer2.Close()
	require.NoError(t, writer2.Exec(context.Background(), `INSERT INTO users (id, name) VALUES (?, ?)`, "1", "Alice"))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && atomic.LoadInt32(&notified) == 0 {
		time.Sleep(10 * time.Millisecond)
	}
	require.Greater(t, atomic.LoadInt32(&notified), int32(0))
}
