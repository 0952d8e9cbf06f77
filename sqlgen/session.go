// Session and PreparedStatement implement spec component C3/C4: the layer
// that turns a query-builder SQLQuery into a prepared statement executed
// against the embedded engine, and the per-connection execution context
// that manages transactions (including nested savepoints) on top of it.
package sqlgen

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/relaycoder/opor/engine"
	"github.com/relaycoder/opor/logger"
	"github.com/relaycoder/opor/oporerr"
)

// ResultMapper turns the engine's raw row maps into a caller-chosen typed
// result; PreparedStatement.All applies it when one is supplied, otherwise
// the raw rows are returned unchanged.
type ResultMapper func([]map[string]interface{}) (interface{}, error)

// PreparedStatement owns one compiled statement. At most one of
// {registered with a GC finalizer, single-use} holds at a time; finalize
// runs exactly once, whichever path triggers it.
type PreparedStatement struct {
	sqlText string
	tables  []string
	mapper  ResultMapper
	logger  logger.Logger
	session *Session

	oneTime bool

	mu        sync.Mutex
	finalized bool
	engine    engine.Stmt
}

func newPreparedStatement(s *Session, sqlText string, mapper ResultMapper, oneTime bool, eng engine.Stmt) *PreparedStatement {
	stmt := &PreparedStatement{
		sqlText: sqlText,
		tables:  ExtractTables(sqlText),
		mapper:  mapper,
		logger:  s.logger,
		session: s,
		oneTime: oneTime,
		engine:  eng,
	}
	if !oneTime {
		runtime.SetFinalizer(stmt, func(st *PreparedStatement) { _ = st.Finalize() })
	}
	return stmt
}

func (st *PreparedStatement) checkLive() error {
	if st.session != nil && st.session.isReleased() {
		return oporerr.NewUsageError("prepared statement's session has been released")
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.finalized {
		return oporerr.NewUsageError("prepared statement already finalized")
	}
	return nil
}

func (st *PreparedStatement) before(ctx context.Context, args []interface{}) error {
	if err := st.checkLive(); err != nil {
		return err
	}
	st.logger.Debug("exec prepared statement", "sql", st.sqlText, "args", args)
	collectTables(ctx, st.sqlText)
	return nil
}

func (st *PreparedStatement) after() {
	if st.oneTime {
		_ = st.Finalize()
	}
}

// Run executes the statement, discarding any rows.
func (st *PreparedStatement) Run(ctx context.Context, args ...interface{}) error {
	if err := st.before(ctx, args); err != nil {
		return err
	}
	defer st.after()
	if err := st.engine.Run(ctx, args...); err != nil {
		return oporerr.NewEngineError(err)
	}
	return nil
}

// All executes the statement and returns every row, applying the mapper
// supplied at prepare time if there is one.
func (st *PreparedStatement) All(ctx context.Context, args ...interface{}) (interface{}, error) {
	if err := st.before(ctx, args); err != nil {
		return nil, err
	}
	defer st.after()
	rows, err := st.engine.All(ctx, args...)
	if err != nil {
		return nil, oporerr.NewEngineError(err)
	}
	if st.mapper != nil {
		return st.mapper(rows)
	}
	return rows, nil
}

// Get executes the statement and returns the first row, or nil if there are
// none.
func (st *PreparedStatement) Get(ctx context.Context, args ...interface{}) (map[string]interface{}, error) {
	if err := st.before(ctx, args); err != nil {
		return nil, err
	}
	defer st.after()
	row, err := st.engine.Get(ctx, args...)
	if err != nil {
		return nil, oporerr.NewEngineError(err)
	}
	return row, nil
}

// Values executes the statement in raw mode, returning the first column of
// each row.
func (st *PreparedStatement) Values(ctx context.Context, args ...interface{}) ([]interface{}, error) {
	if err := st.before(ctx, args); err != nil {
		return nil, err
	}
	defer st.after()
	values, err := st.engine.Values(ctx, args...)
	if err != nil {
		return nil, oporerr.NewEngineError(err)
	}
	return values, nil
}

// Tables reports the lowercase table names this statement references.
func (st *PreparedStatement) Tables() []string { return st.tables }

// Finalize releases the underlying engine statement. Safe to call more than
// once; only the first call has any effect.
func (st *PreparedStatement) Finalize() error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.finalized {
		return nil
	}
	st.finalized = true
	runtime.SetFinalizer(st, nil)
	return st.engine.Close()
}

// Session is a per-connection execution context: it prepares queries,
// executes one-shot statements, and opens transactions backed by the
// engine's imperative transaction primitive.
type Session struct {
	eng    engine.Engine
	tx     engine.Tx
	logger logger.Logger
	depth  int

	mu       sync.Mutex
	released bool
}

// NewSession constructs the top-level Session for an engine handle. log may
// be nil, in which case a no-op logger is used.
func NewSession(eng engine.Engine, log logger.Logger) *Session {
	if log == nil {
		log = logger.Noop()
	}
	return &Session{eng: eng, logger: log}
}

func (s *Session) isReleased() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}

func (s *Session) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released = true
}

// prepare returns an engine.Stmt bound to the session's active transaction,
// if any, else to the engine directly.
func (s *Session) prepare(sqlText string) (engine.Stmt, error) {
	if s.isReleased() {
		return nil, oporerr.NewUsageError("session has been released")
	}
	if s.tx != nil {
		return s.tx.Prepare(sqlText)
	}
	return s.eng.Prepare(sqlText)
}

// PrepareQuery prepares a long-lived statement, registered with a GC
// finalizer so it is released automatically when unreachable.
func (s *Session) PrepareQuery(query SQLQuery, mapper ResultMapper) (*PreparedStatement, error) {
	sqlText, _ := query.ToSQL()
	eng, err := s.prepare(sqlText)
	if err != nil {
		return nil, oporerr.NewEngineError(err)
	}
	return newPreparedStatement(s, sqlText, mapper, false, eng), nil
}

// PrepareOneTimeQuery prepares a single-use statement, finalized after its
// one execution (including on the error path).
func (s *Session) PrepareOneTimeQuery(query SQLQuery, mapper ResultMapper) (*PreparedStatement, error) {
	sqlText, _ := query.ToSQL()
	eng, err := s.prepare(sqlText)
	if err != nil {
		return nil, oporerr.NewEngineError(err)
	}
	return newPreparedStatement(s, sqlText, mapper, true, eng), nil
}

// Exec dispatches a raw SQL statement to the active transaction if present,
// else directly to the engine.
func (s *Session) Exec(ctx context.Context, rawSQL string, args ...interface{}) error {
	if s.isReleased() {
		return oporerr.NewUsageError("session has been released")
	}
	s.logger.Debug("exec", "sql", rawSQL, "args", args)
	collectTables(ctx, rawSQL)

	var err error
	if s.tx != nil {
		err = s.tx.Exec(ctx, rawSQL, args...)
	} else {
		err = s.eng.Exec(ctx, rawSQL, args...)
	}
	if err != nil {
		return oporerr.NewEngineError(err)
	}
	return nil
}

// HasTx reports whether this session is bound to an active transaction.
func (s *Session) HasTx() bool { return s.tx != nil }

// Engine exposes the raw engine handle for escape hatches.
func (s *Session) Engine() engine.Engine { return s.eng }

// Transaction acquires a transaction token and invokes fn with a child
// session bound to it, matching spec's nested-savepoint semantics: a
// top-level call commits on normal return (rolling back on error or panic),
// always releasing the token; a call nested inside an existing transaction
// issues a named savepoint sp<depth> instead, releasing it on success and
// rolling back to it on failure.
//
// Transaction is a free function rather than a *Session method because Go
// methods cannot carry their own type parameters.
func Transaction[T any](ctx context.Context, s *Session, fn func(ctx context.Context, tx *Session) (T, error)) (T, error) {
	var zero T

	if s.tx == nil {
		token, err := s.eng.ImperativeTxBegin(ctx)
		if err != nil {
			return zero, oporerr.NewEngineError(err)
		}
		child := &Session{eng: s.eng, tx: token, logger: s.logger, depth: 1}

		result, fnErr := invokeGuarded(ctx, child, fn)
		child.release()
		if fnErr != nil {
			_ = token.Rollback()
			return zero, fnErr
		}
		if err := token.Commit(); err != nil {
			return zero, oporerr.NewEngineError(err)
		}
		return result, nil
	}

	depth := s.depth + 1
	spName := fmt.Sprintf("sp%d", depth)
	if err := s.tx.Exec(ctx, "SAVEPOINT "+spName); err != nil {
		return zero, oporerr.NewEngineError(err)
	}
	child := &Session{eng: s.eng, tx: s.tx, logger: s.logger, depth: depth}

	result, fnErr := invokeGuarded(ctx, child, fn)
	child.release()
	if fnErr != nil {
		if rbErr := s.tx.Exec(ctx, "ROLLBACK TO savepoint "+spName); rbErr != nil {
			return zero, oporerr.NewEngineError(rbErr)
		}
		return zero, fnErr
	}
	if err := s.tx.Exec(ctx, "RELEASE savepoint "+spName); err != nil {
		return zero, oporerr.NewEngineError(err)
	}
	return result, nil
}

func invokeGuarded[T any](ctx context.Context, tx *Session, fn func(context.Context, *Session) (T, error)) (result T, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero T
			result = zero
			err = fmt.Errorf("panic in transaction: %v", r)
		}
	}()
	return fn(ctx, tx)
}

