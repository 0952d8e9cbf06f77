// Package migrate implements spec component C10: applying an ordered list
// of SQL migrations against a livedb.Facade exactly once each, tracked by a
// bookkeeping table modeled on drizzle-kit's own migrations journal.
package migrate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/relaycoder/opor/livedb"
	"github.com/relaycoder/opor/oporerr"
)

// defaultMigrationsTable matches drizzle-kit's own bookkeeping table name,
// the pattern spec.md's migrator is modeled on.
const defaultMigrationsTable = "__drizzle_migrations"

// Migration is one ordered step: Statements runs sequentially inside a
// single transaction, and FolderMillis (a Unix-millis timestamp, the same
// units drizzle-kit derives from its migration folder names) orders it
// against every other migration and against what has already been applied.
type Migration struct {
	ID           string
	FolderMillis int64
	Statements   []string
}

// Options configures Migrate. MigrationsTable defaults to
// "__drizzle_migrations" when empty.
type Options struct {
	Migrations      []Migration
	MigrationsTable string
}

// Migrate applies opts.Migrations against f in ascending FolderMillis
// order, skipping any migration at or before the most recent one already
// recorded. It is a no-op when opts.Migrations is empty.
func Migrate(f *livedb.Facade, opts Options) error {
	if len(opts.Migrations) == 0 {
		return nil
	}

	ctx := context.Background()
	table := opts.MigrationsTable
	if table == "" {
		table = defaultMigrationsTable
	}

	if err := ensureTable(ctx, f, table); err != nil {
		return err
	}

	applied, lastApplied, err := loadApplied(ctx, f, table)
	if err != nil {
		return err
	}

	ordered := make([]Migration, len(opts.Migrations))
	copy(ordered, opts.Migrations)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].FolderMillis < ordered[j].FolderMillis })

	for _, m := range ordered {
		// Anything at or before the high-water mark was already applied:
		// verify its content hasn't drifted since, rather than silently
		// skip it.
		if lastApplied != noMigrationApplied && m.FolderMillis <= lastApplied {
			if recorded, ok := applied[m.FolderMillis]; ok && recorded != hashStatements(m.Statements) {
				return oporerr.NewMigrationError(m.ID, fmt.Errorf("migration content changed after being applied"))
			}
			continue
		}
		if err := apply(ctx, f, table, m); err != nil {
			return oporerr.NewMigrationError(m.ID, err)
		}
		lastApplied = m.FolderMillis
	}
	return nil
}

// noMigrationApplied marks an empty bookkeeping table. Real FolderMillis
// values are Unix-millis timestamps, always positive, so -1 is unambiguous.
const noMigrationApplied int64 = -1

func ensureTable(ctx context.Context, f *livedb.Facade, table string) error {
	return f.Session.Exec(ctx, fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s (id TEXT PRIMARY KEY, hash TEXT NOT NULL, created_at INTEGER)`,
		table,
	))
}

// loadApplied returns every already-recorded migration's hash keyed by its
// created_at (FolderMillis; the id column holds a random uuid), plus the
// highest created_at recorded, so Migrate can both skip what's already
// applied and detect drift in what was.
func loadApplied(ctx context.Context, f *livedb.Facade, table string) (map[int64]string, int64, error) {
	stmt, err := f.Session.PrepareOneTimeQuery(rawQuery{
		clause: fmt.Sprintf(`SELECT id, hash, created_at FROM %s`, table),
	}, nil)
	if err != nil {
		return nil, 0, err
	}
	result, err := stmt.All(ctx)
	if err != nil {
		return nil, 0, err
	}
	rows, _ := result.([]map[string]interface{})

	applied := make(map[int64]string, len(rows))
	lastApplied := int64(noMigrationApplied)
	for _, row := range rows {
		hash, _ := row["hash"].(string)
		millis := toInt64(row["created_at"])
		applied[millis] = hash
		if millis > lastApplied {
			lastApplied = millis
		}
	}
	return applied, lastApplied, nil
}

func apply(ctx context.Context, f *livedb.Facade, table string, m Migration) error {
	_, err := livedb.Transaction(ctx, f, func(ctx context.Context, tx *livedb.Facade) (struct{}, error) {
		for _, stmt := range m.Statements {
			if err := tx.Session.Exec(ctx, stmt); err != nil {
				return struct{}{}, err
			}
		}
		hash := hashStatements(m.Statements)
		insert := fmt.Sprintf(`INSERT INTO %s (id, hash, created_at) VALUES (?, ?, ?)`, table)
		if err := tx.Session.Exec(ctx, insert, uuid.NewString(), hash, m.FolderMillis); err != nil {
			return struct{}{}, err
		}
		return struct{}{}, nil
	})
	return err
}

func hashStatements(statements []string) string {
	sum := sha256.Sum256([]byte(strings.Join(statements, ";")))
	return hex.EncodeToString(sum[:])
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

// rawQuery adapts a pre-rendered clause to sqlgen.SQLQuery so the migrator
// can issue plain SQL through the same prepared-statement path every other
// query goes through.
type rawQuery struct {
	clause string
	args   []interface{}
}

func (r rawQuery) ToSQL() (string, []interface{}) { return r.clause, r.args }
