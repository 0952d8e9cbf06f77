package migrate_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/relaycoder/opor/enginesqlite"
	"github.com/relaycoder/opor/livedb"
	"github.com/relaycoder/opor/migrate"
)

func newFacade(t *testing.T) *livedb.Facade {
	t.Helper()
	eng, err := enginesqlite.New(enginesqlite.Options{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { eng.Close() })

	f, err := livedb.CreateLiveDB(eng, livedb.Config{})
	require.NoError(t, err)
	return f
}

func rowCount(t *testing.T, f *livedb.Facade, table string) int64 {
	t.Helper()
	ctx := context.Background()
	stmt, err := f.Session.PrepareOneTimeQuery(rawSQL{clause: "SELECT COUNT(*) FROM " + table}, nil)
	require.NoError(t, err)
	values, err := stmt.Values(ctx)
	require.NoError(t, err)
	require.Len(t, values, 1)
	switch v := values[0].(type) {
	case int64:
		return v
	default:
		t.Fatalf("unexpected count type %T", v)
		return 0
	}
}

type rawSQL struct {
	clause string
	args   []interface{}
}

func (r rawSQL) ToSQL() (string, []interface{}) { return r.clause, r.args }

// S6: two migrations applied in order, re-running migrate is a no-op.
func TestMigrateEvolutionAndIdempotence(t *testing.T) {
	f := newFacade(t)

	migrations := []migrate.Migration{
		{
			ID:           "0001_customers_orders",
			FolderMillis: 1000,
			Statements: []string{
				`CREATE TABLE customers (id TEXT PRIMARY KEY, name TEXT)`,
				`CREATE TABLE orders (id TEXT PRIMARY KEY, customer_id TEXT)`,
			},
		},
		{
			ID:           "0002_orders_quantity",
			FolderMillis: 2000,
			Statements: []string{
				`ALTER TABLE orders ADD COLUMN quantity INTEGER DEFAULT 0`,
			},
		},
	}

	require.NoError(t, migrate.Migrate(f, migrate.Options{Migrations: migrations}))

	require.NoError(t, f.Session.Exec(context.Background(),
		`INSERT INTO orders (id, customer_id, quantity) VALUES (?, ?, ?)`, "o1", "c1", 5))

	require.EqualValues(t, 2, rowCount(t, f, "__drizzle_migrations"))

	require.NoError(t, migrate.Migrate(f, migrate.Options{Migrations: migrations}))
	require.EqualValues(t, 2, rowCount(t, f, "__drizzle_migrations"))
}

func TestMigrateEmptyIsNoop(t *testing.T) {
	f := newFacade(t)
	require.NoError(t, migrate.Migrate(f, migrate.Options{}))
}

func TestMigrateCustomTableName(t *testing.T) {
	f := newFacade(t)
	migrations := []migrate.Migration{
		{ID: "m1", FolderMillis: 1, Statements: []string{`CREATE TABLE widgets (id TEXT PRIMARY KEY)`}},
	}
	require.NoError(t, migrate.Migrate(f, migrate.Options{Migrations: migrations, MigrationsTable: "my_migrations"}))
	require.EqualValues(t, 1, rowCount(t, f, "my_migrations"))
}
