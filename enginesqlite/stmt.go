package enginesqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/relaycoder/opor/engine"
)

// stmt adapts a *sql.Stmt to engine.Stmt's four execution modes, firing
// onMutate after a successful Run so INSERT/UPDATE/DELETE statements
// prepared ahead of time still feed the change-notification path.
type stmt struct {
	sql      *sql.Stmt
	sqlText  string
	onMutate func(string)
}

func newStmt(s *sql.Stmt, sqlText string, onMutate func(string)) *stmt {
	return &stmt{sql: s, sqlText: sqlText, onMutate: onMutate}
}

func (s *stmt) Run(ctx context.Context, args ...interface{}) error {
	if _, err := s.sql.ExecContext(ctx, args...); err != nil {
		return fmt.Errorf("enginesqlite: run: %w", err)
	}
	if s.onMutate != nil {
		s.onMutate(s.sqlText)
	}
	return nil
}

func (s *stmt) All(ctx context.Context, args ...interface{}) ([]map[string]interface{}, error) {
	rows, err := s.sql.QueryContext(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("enginesqlite: query: %w", err)
	}
	defer rows.Close()
	return scanRows(rows)
}

func (s *stmt) Get(ctx context.Context, args ...interface{}) (map[string]interface{}, error) {
	rows, err := s.All(ctx, args...)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (s *stmt) Values(ctx context.Context, args ...interface{}) ([]interface{}, error) {
	rows, err := s.sql.QueryContext(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("enginesqlite: query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []interface{}
	for rows.Next() {
		dest := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range dest {
			ptrs[i] = &dest[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		if len(dest) > 0 {
			out = append(out, normalizeValue(dest[0]))
		}
	}
	return out, rows.Err()
}

func (s *stmt) Close() error { return s.sql.Close() }

func scanRows(rows *sql.Rows) ([]map[string]interface{}, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []map[string]interface{}
	for rows.Next() {
		dest := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range dest {
			ptrs[i] = &dest[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]interface{}, len(cols))
		for i, c := range cols {
			row[c] = normalizeValue(dest[i])
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// normalizeValue turns the driver's []byte TEXT representation into a
// string, leaving every other scanned type (int64, float64, nil, bool)
// alone. modernc.org/sqlite otherwise hands back []byte for TEXT columns,
// which would defeat structural equality comparisons upstream in livedb.
func normalizeValue(v interface{}) interface{} {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

// tx adapts a *sql.Tx to engine.Tx, buffering the set of tables mutated
// during the transaction and firing their change notifications only after
// Commit succeeds - spec.md's "in-transaction mutations do not trigger
// refetches until commit" contract.
type tx struct {
	sql     *sql.Tx
	eng     *Engine
	touched map[string]string // table -> last changeType observed
}

func newTx(s *sql.Tx, e *Engine) *tx {
	return &tx{sql: s, eng: e, touched: make(map[string]string)}
}

func (t *tx) Exec(ctx context.Context, rawSQL string, args ...interface{}) error {
	if _, err := t.sql.ExecContext(ctx, rawSQL, args...); err != nil {
		return fmt.Errorf("enginesqlite: tx exec: %w", err)
	}
	t.record(rawSQL)
	return nil
}

func (t *tx) Prepare(sqlText string) (engine.Stmt, error) {
	s, err := t.sql.Prepare(sqlText)
	if err != nil {
		return nil, fmt.Errorf("enginesqlite: tx prepare: %w", err)
	}
	return newStmt(s, sqlText, t.record), nil
}

func (t *tx) record(rawSQL string) {
	for _, table := range extractMutatedTables(rawSQL) {
		if isBookkeepingTable(table) {
			continue
		}
		if isCreateTable(rawSQL) {
			_ = t.eng.ensureChangeTriggersTx(t.sql, table)
		}
		t.touched[table] = classifyChange(rawSQL)
	}
}

func (t *tx) Commit() error {
	if err := t.sql.Commit(); err != nil {
		return fmt.Errorf("enginesqlite: commit: %w", err)
	}
	for table, changeType := range t.touched {
		t.eng.dispatch(changeType, table)
	}
	return nil
}

func (t *tx) Rollback() error {
	if err := t.sql.Rollback(); err != nil {
		return fmt.Errorf("enginesqlite: rollback: %w", err)
	}
	return nil
}

// ImperativeTxBegin opens a *sql.Tx and returns it as an engine.Tx, the
// imperative-transaction primitive spec.md's Session.Transaction acquires
// on entry to a top-level transaction.
func (e *Engine) ImperativeTxBegin(ctx context.Context) (engine.Tx, error) {
	sqlTx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("enginesqlite: begin: %w", err)
	}
	return newTx(sqlTx, e), nil
}
