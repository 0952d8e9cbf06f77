// Package engine defines the seam between opor and the embedded,
// CRDT-capable SQLite engine it drives. opor never assumes a concrete
// engine: enginesqlite is one implementation, suitable for tests and for
// driving the reference stack end to end, but any type satisfying Engine
// can stand in for it.
package engine

import (
	"context"
	"io"

	"github.com/relaycoder/opor/changeset"
)

// Stmt is one compiled statement, run in any of the four modes a Session
// needs: discard-rows, all-rows, first-row, or raw first-column values.
type Stmt interface {
	Run(ctx context.Context, args ...interface{}) error
	All(ctx context.Context, args ...interface{}) ([]map[string]interface{}, error)
	Get(ctx context.Context, args ...interface{}) (map[string]interface{}, error)
	Values(ctx context.Context, args ...interface{}) ([]interface{}, error)
	Close() error
}

// Tx is an imperative transaction token obtained from the engine.
type Tx interface {
	Exec(ctx context.Context, sql string, args ...interface{}) error
	Prepare(sql string) (Stmt, error)
	Commit() error
	Rollback() error
}

// SyncOptions configures a continuous live-sync connection.
type SyncOptions struct {
	Endpoint  string // ws:// or wss://
	DBName    string
	AuthToken string
}

// ChangeCallback is invoked by the engine after a commit (local or
// remotely-applied) touches a table. changeType is engine-defined
// ("insert", "update", "delete", or "" when unknown).
type ChangeCallback func(changeType, dbName, tableName string)

// Engine is the embedded, CRDT-capable SQLite engine opor drives. It is
// assumed, not implemented, by spec — enginesqlite is opor's own reference
// implementation of this seam, not the only one opor can be pointed at.
type Engine interface {
	Prepare(sql string) (Stmt, error)
	ImperativeTxBegin(ctx context.Context) (Tx, error)
	OnUpdate(cb ChangeCallback) (unsubscribe func())
	Exec(ctx context.Context, sql string, args ...interface{}) error

	PullChanges(ctx context.Context, since uint64) ([]changeset.Tuple, error)
	ApplyChanges(ctx context.Context, tuples []changeset.Tuple) error
	Sync(ctx context.Context, opts SyncOptions) (io.Closer, error)
}
