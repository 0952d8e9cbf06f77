// Package enginesqlite is opor's reference implementation of the engine
// seam (engine.Engine): a CRDT-capable embedded SQLite engine backed by
// modernc.org/sqlite (pure Go, no cgo, the same driver family as the
// hazyhaar-GoClode reference repo this package is grounded on). It is not
// the only engine opor can drive - sqlgen and livedb never import this
// package - but it is the one opor's own tests and examples run against.
//
// Change tracking is a deliberately simplified row-level last-writer-wins
// log, not a general CRDT: per spec.md, authoring the CRDT algorithm is the
// engine's job and out of scope for opor itself. enginesqlite exists to
// give opor's reactive/sync layers something real to drive end to end.
package enginesqlite

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
	"sync"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/relaycoder/opor/engine"
)

// Engine implements engine.Engine against a single on-disk SQLite file.
// All access is serialized through one connection (SetMaxOpenConns(1)),
// matching SQLite's single-writer model and spec.md's single-threaded
// cooperative scheduling assumption at the engine boundary.
type Engine struct {
	db     *sql.DB
	path   string
	dbName string
	siteID *big.Int

	mu          sync.Mutex
	subscribers []engine.ChangeCallback

	watch *fileWatcher
}

// Options configures New. Path may be ":memory:" for an ephemeral engine;
// an empty Path is treated as ":memory:" too.
type Options struct {
	Path           string
	DBName         string
	WatchExternal  bool // fsnotify-watch Path for externally-applied changes
}

// New opens (and, if absent, creates) the SQLite database at opts.Path,
// seeding the changelog bookkeeping tables used by PullChanges/ApplyChanges.
func New(opts Options) (*Engine, error) {
	path := opts.Path
	if path == "" {
		path = ":memory:"
	}
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("enginesqlite: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("enginesqlite: ping: %w", err)
	}

	dbName := opts.DBName
	if dbName == "" {
		dbName = path
	}

	e := &Engine{
		db:     db,
		path:   path,
		dbName: dbName,
		siteID: siteIDFromUUID(uuid.New()),
	}

	if err := e.initChangelog(); err != nil {
		db.Close()
		return nil, err
	}

	if opts.WatchExternal && path != ":memory:" {
		w, err := newFileWatcher(path, e.notifyExternalChange)
		if err != nil {
			db.Close()
			return nil, err
		}
		e.watch = w
	}

	return e, nil
}

func siteIDFromUUID(id uuid.UUID) *big.Int {
	b := id[:]
	return new(big.Int).SetBytes(b)
}

// Close releases the underlying connection and stops the external-change
// watcher, if any.
func (e *Engine) Close() error {
	if e.watch != nil {
		e.watch.Close()
	}
	return e.db.Close()
}

// DB exposes the raw *sql.DB for diagnostics; opor itself never needs it.
func (e *Engine) DB() *sql.DB { return e.db }

// Prepare compiles sql against the bare connection (outside any
// transaction), returning an engine.Stmt bound to it.
func (e *Engine) Prepare(sqlText string) (engine.Stmt, error) {
	stmt, err := e.db.Prepare(sqlText)
	if err != nil {
		return nil, fmt.Errorf("enginesqlite: prepare: %w", err)
	}
	return newStmt(stmt, sqlText, e.afterMutate), nil
}

// Exec runs rawSQL directly against the connection (not inside any active
// transaction) and, if it mutated a table, notifies subscribers once it
// commits (auto-commit mode commits immediately).
func (e *Engine) Exec(ctx context.Context, rawSQL string, args ...interface{}) error {
	if _, err := e.db.ExecContext(ctx, rawSQL, args...); err != nil {
		return fmt.Errorf("enginesqlite: exec: %w", err)
	}
	e.afterMutate(rawSQL)
	return nil
}

// OnUpdate registers cb to be invoked after every committed mutation,
// whether it originated from a local Exec/Stmt.Run, a committed
// ImperativeTxBegin transaction, ApplyChanges, or an externally-observed
// file write (when WatchExternal is set). The returned function removes cb.
func (e *Engine) OnUpdate(cb engine.ChangeCallback) func() {
	e.mu.Lock()
	idx := len(e.subscribers)
	e.subscribers = append(e.subscribers, cb)
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if idx < len(e.subscribers) {
			e.subscribers[idx] = nil
		}
	}
}

func (e *Engine) dispatch(changeType, tableName string) {
	e.mu.Lock()
	cbs := make([]engine.ChangeCallback, len(e.subscribers))
	copy(cbs, e.subscribers)
	e.mu.Unlock()

	for _, cb := range cbs {
		if cb != nil {
			cb(changeType, e.dbName, tableName)
		}
	}
}

// afterMutate extracts the tables rawSQL touches and, for any that are not
// opor's own bookkeeping tables, installs change-tracking triggers (if this
// is the first time the table has been seen) and fires the update callback.
func (e *Engine) afterMutate(rawSQL string) {
	for _, table := range extractMutatedTables(rawSQL) {
		if isBookkeepingTable(table) {
			continue
		}
		if isCreateTable(rawSQL) {
			_ = e.ensureChangeTriggers(table)
		}
		e.dispatch(classifyChange(rawSQL), table)
	}
}

func (e *Engine) notifyExternalChange() {
	// An external process wrote the file directly; opor has no cheap way
	// to know which tables it touched, so every tracked table is treated
	// as potentially changed (a superset, same lossiness spec.md accepts
	// from the SQL table extractor).
	rows, err := e.db.Query(`SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE '__opor_%' AND name NOT LIKE 'sqlite_%'`)
	if err != nil {
		return
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if rows.Scan(&name) == nil {
			e.dispatch("external", name)
		}
	}
}
