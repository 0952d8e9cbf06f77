package enginesqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/relaycoder/opor/changeset"
)

// execQuerier is satisfied by both *sql.DB and *sql.Tx, so trigger
// installation works identically whether it happens via Engine.Exec or
// inside an in-flight ImperativeTxBegin transaction.
type execQuerier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

func (e *Engine) initChangelog() error {
	_, err := e.db.Exec(`
		CREATE TABLE IF NOT EXISTS __opor_changes (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			table_name TEXT NOT NULL,
			pk TEXT,
			col TEXT NOT NULL,
			col_version INTEGER NOT NULL,
			db_version INTEGER NOT NULL,
			site_id TEXT NOT NULL,
			cl INTEGER NOT NULL,
			change_seq INTEGER NOT NULL,
			value TEXT
		);
		CREATE TABLE IF NOT EXISTS __opor_counters (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			db_version INTEGER NOT NULL DEFAULT 0,
			change_seq INTEGER NOT NULL DEFAULT 0
		);
		INSERT OR IGNORE INTO __opor_counters (id, db_version, change_seq) VALUES (1, 0, 0);
	`)
	if err != nil {
		return fmt.Errorf("enginesqlite: init changelog: %w", err)
	}
	return nil
}

func isBookkeepingTable(table string) bool {
	return strings.HasPrefix(table, "__opor_")
}

type columnInfo struct {
	name string
	pk   bool
}

func tableColumns(ctx context.Context, q execQuerier, table string) ([]columnInfo, error) {
	rows, err := q.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quoteIdent(table)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []columnInfo
	for rows.Next() {
		var (
			cid        int
			name, typ  string
			notnull    int
			dfltValue  sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &typ, &notnull, &dfltValue, &pk); err != nil {
			return nil, err
		}
		cols = append(cols, columnInfo{name: name, pk: pk == 1})
	}
	return cols, rows.Err()
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func primaryKeyColumn(cols []columnInfo) string {
	for _, c := range cols {
		if c.pk {
			return c.name
		}
	}
	return "rowid"
}

// ensureChangeTriggers installs (once, idempotently) the AFTER INSERT/
// UPDATE/DELETE triggers that append a row-level change record to
// __opor_changes whenever table is mutated. This is enginesqlite's stand-in
// for a real CRDT engine's own change tracking: spec.md delegates authoring
// the CRDT algorithm to the engine, so this reference implementation keeps
// its own tracking as simple as a convergent round-trip demands - one
// last-writer-wins record per row per mutation, not per-column versioning.
func (e *Engine) ensureChangeTriggers(table string) error {
	return e.installTriggers(context.Background(), e.db, table)
}

func (e *Engine) ensureChangeTriggersTx(t *sql.Tx, table string) error {
	return e.installTriggers(context.Background(), t, table)
}

func (e *Engine) installTriggers(ctx context.Context, q execQuerier, table string) error {
	cols, err := tableColumns(ctx, q, table)
	if err != nil || len(cols) == 0 {
		return err
	}
	pk := primaryKeyColumn(cols)

	jsonArgsNew := make([]string, 0, len(cols)*2)
	for _, c := range cols {
		jsonArgsNew = append(jsonArgsNew, "'"+c.name+"'", "NEW."+quoteIdent(c.name))
	}
	jsonObjNew := "json_object(" + strings.Join(jsonArgsNew, ", ") + ")"

	siteDecimal := e.siteID.String()
	qTable := quoteIdent(table)
	pkExpr := "rowid"
	if pk != "rowid" {
		pkExpr = quoteIdent(pk)
	}

	stmts := []string{
		fmt.Sprintf(`CREATE TRIGGER IF NOT EXISTS %s AFTER INSERT ON %s BEGIN
			UPDATE __opor_counters SET db_version = db_version + 1, change_seq = change_seq + 1 WHERE id = 1;
			INSERT INTO __opor_changes (table_name, pk, col, col_version, db_version, site_id, cl, change_seq, value)
			SELECT %s, CAST(NEW.%s AS TEXT), '__row__',
				(SELECT db_version FROM __opor_counters WHERE id = 1),
				(SELECT db_version FROM __opor_counters WHERE id = 1),
				%s, 1,
				(SELECT change_seq FROM __opor_counters WHERE id = 1),
				%s;
		END;`, quoteIdent(triggerName(table, "ai")), qTable, quoteSQLString(table), pkExpr, quoteSQLString(siteDecimal), jsonObjNew),

		fmt.Sprintf(`CREATE TRIGGER IF NOT EXISTS %s AFTER UPDATE ON %s BEGIN
			UPDATE __opor_counters SET db_version = db_version + 1, change_seq = change_seq + 1 WHERE id = 1;
			INSERT INTO __opor_changes (table_name, pk, col, col_version, db_version, site_id, cl, change_seq, value)
			SELECT %s, CAST(NEW.%s AS TEXT), '__row__',
				(SELECT db_version FROM __opor_counters WHERE id = 1),
				(SELECT db_version FROM __opor_counters WHERE id = 1),
				%s, 1,
				(SELECT change_seq FROM __opor_counters WHERE id = 1),
				%s;
		END;`, quoteIdent(triggerName(table, "au")), qTable, quoteSQLString(table), pkExpr, quoteSQLString(siteDecimal), jsonObjNew),

		fmt.Sprintf(`CREATE TRIGGER IF NOT EXISTS %s AFTER DELETE ON %s BEGIN
			UPDATE __opor_counters SET db_version = db_version + 1, change_seq = change_seq + 1 WHERE id = 1;
			INSERT INTO __opor_changes (table_name, pk, col, col_version, db_version, site_id, cl, change_seq, value)
			SELECT %s, CAST(OLD.%s AS TEXT), '__row__',
				(SELECT db_version FROM __opor_counters WHERE id = 1),
				(SELECT db_version FROM __opor_counters WHERE id = 1),
				%s, 1,
				(SELECT change_seq FROM __opor_counters WHERE id = 1),
				NULL;
		END;`, quoteIdent(triggerName(table, "ad")), qTable, quoteSQLString(table), pkExpr, quoteSQLString(siteDecimal)),
	}

	for _, s := range stmts {
		if _, err := q.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("enginesqlite: install trigger on %s: %w", table, err)
		}
	}
	return nil
}

func triggerName(table, suffix string) string {
	return "__opor_trg_" + table + "_" + suffix
}

func quoteSQLString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// PullChanges returns every change record with db_version > since, the
// complete history when since is 0.
func (e *Engine) PullChanges(ctx context.Context, since uint64) ([]changeset.Tuple, error) {
	rows, err := e.db.QueryContext(ctx, `
		SELECT table_name, pk, col_version, db_version, site_id, cl, change_seq, value
		FROM __opor_changes WHERE db_version > ? ORDER BY seq ASC`, since)
	if err != nil {
		return nil, fmt.Errorf("enginesqlite: pull changes: %w", err)
	}
	defer rows.Close()

	var tuples []changeset.Tuple
	for rows.Next() {
		var (
			table                     string
			pk                        sql.NullString
			colVersion, dbVersion     int64
			siteID                    string
			cl, seq                   int64
			value                     sql.NullString
		)
		if err := rows.Scan(&table, &pk, &colVersion, &dbVersion, &siteID, &cl, &seq, &value); err != nil {
			return nil, err
		}
		site, ok := new(big.Int).SetString(siteID, 10)
		if !ok {
			site = big.NewInt(0)
		}

		var decoded interface{}
		if value.Valid {
			if err := json.Unmarshal([]byte(value.String), &decoded); err != nil {
				return nil, fmt.Errorf("enginesqlite: decode change value: %w", err)
			}
		}

		tuples = append(tuples, changeset.Tuple{
			Table:      table,
			PK:         nullableString(pk),
			ColVersion: big.NewInt(colVersion),
			DbVersion:  big.NewInt(dbVersion),
			SiteID:     site,
			CL:         cl,
			Seq:        seq,
			Value:      decoded,
		})
	}
	return tuples, rows.Err()
}

func nullableString(s sql.NullString) interface{} {
	if !s.Valid {
		return nil
	}
	return s.String
}

// ApplyChanges applies each tuple to its target table: a nil Value deletes
// the row by primary key, otherwise the decoded JSON object is upserted via
// INSERT OR REPLACE. Applying the same changeset twice is idempotent - the
// second pass replaces rows with identical values rather than duplicating
// them - satisfying spec.md's convergence contract (§8, property 3).
func (e *Engine) ApplyChanges(ctx context.Context, tuples []changeset.Tuple) error {
	for _, t := range tuples {
		if err := e.applyOne(ctx, t); err != nil {
			return fmt.Errorf("enginesqlite: apply change to %s: %w", t.Table, err)
		}
	}
	return nil
}

func (e *Engine) applyOne(ctx context.Context, t changeset.Tuple) error {
	cols, err := tableColumns(ctx, e.db, t.Table)
	if err != nil {
		return err
	}
	if len(cols) == 0 {
		return fmt.Errorf("unknown table %q (apply the matching migrations first)", t.Table)
	}
	pk := primaryKeyColumn(cols)

	if t.Value == nil {
		pkExpr := "rowid"
		if pk != "rowid" {
			pkExpr = quoteIdent(pk)
		}
		return e.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE %s = ?", quoteIdent(t.Table), pkExpr), t.PK)
	}

	row, ok := t.Value.(map[string]interface{})
	if !ok {
		return fmt.Errorf("expected change value to be a row object, got %T", t.Value)
	}

	names := make([]string, 0, len(row))
	placeholders := make([]string, 0, len(row))
	args := make([]interface{}, 0, len(row))
	for _, c := range cols {
		v, ok := row[c.name]
		if !ok {
			continue
		}
		names = append(names, quoteIdent(c.name))
		placeholders = append(placeholders, "?")
		args = append(args, v)
	}
	if len(names) == 0 {
		return nil
	}

	sqlText := fmt.Sprintf("INSERT OR REPLACE INTO %s (%s) VALUES (%s)",
		quoteIdent(t.Table), strings.Join(names, ", "), strings.Join(placeholders, ", "))
	return e.Exec(ctx, sqlText, args...)
}
