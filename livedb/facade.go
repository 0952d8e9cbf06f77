package livedb

import (
	"context"
	"io"

	"github.com/relaycoder/opor/changeset"
	"github.com/relaycoder/opor/engine"
	"github.com/relaycoder/opor/logger"
	"github.com/relaycoder/opor/oporerr"
	"github.com/relaycoder/opor/sqlgen"
)

// Logger selects the logger a Facade uses. Go has no union type, so the
// true/false/concrete-value selector spec.md's Database facade construction
// calls for is modeled as three constructors producing the same type: the
// zero value behaves like LoggerOff.
type Logger struct {
	concrete logger.Logger
	on       bool
}

// LoggerOn selects the default stdout logger.
func LoggerOn() Logger { return Logger{on: true} }

// LoggerOff selects a no-op logger. This is also the zero value's behavior.
func LoggerOff() Logger { return Logger{} }

// WithLogger selects a caller-supplied logger.
func WithLogger(l logger.Logger) Logger { return Logger{concrete: l} }

func (l Logger) resolve() logger.Logger {
	if l.concrete != nil {
		return l.concrete
	}
	if l.on {
		return logger.New()
	}
	return logger.Noop()
}

// Config configures CreateLiveDB. Schema defaults to an empty
// sqlgen.NewSchema() if nil; Logger defaults to LoggerOff.
type Config struct {
	Schema *sqlgen.Schema
	Logger Logger
}

// Facade is spec's Database facade (C5): it combines the query-builder
// surface (embedded *sqlgen.Querier) with the live-query engine, the change
// router, and the raw engine handle, per spec.md §4.3/§6.
type Facade struct {
	*sqlgen.Querier

	eng      engine.Engine
	logger   logger.Logger
	registry *tableRegistry
	router   *router
}

// CreateLiveDB constructs a Facade bound to eng. It fails with a usage error
// if eng is nil.
func CreateLiveDB(eng engine.Engine, cfg Config) (*Facade, error) {
	if eng == nil {
		return nil, oporerr.NewUsageError("createLiveDB requires a non-nil engine handle")
	}

	schema := cfg.Schema
	if schema == nil {
		schema = sqlgen.NewSchema()
	}
	log := cfg.Logger.resolve()

	session := sqlgen.NewSession(eng, log)
	registry := newTableRegistry()

	return &Facade{
		Querier:  sqlgen.NewQuerier(session, schema),
		eng:      eng,
		logger:   log,
		registry: registry,
		router:   newRouter(eng, registry),
	}, nil
}

// Engine exposes the raw engine handle, per spec.md §6's facade surface.
func (f *Facade) Engine() engine.Engine { return f.eng }

// Transaction runs fn inside a transaction (or a nested savepoint, if f is
// itself already inside one), passing fn a child Facade bound to the
// transaction's Session but sharing f's live-query registry and router. It
// is a free function, not a method, because Go forbids generic methods.
func Transaction[T any](ctx context.Context, f *Facade, fn func(ctx context.Context, tx *Facade) (T, error)) (T, error) {
	return sqlgen.Transaction(ctx, f.Querier.Session, func(ctx context.Context, txSession *sqlgen.Session) (T, error) {
		child := &Facade{
			Querier:  sqlgen.NewQuerier(txSession, f.Querier.Schema),
			eng:      f.eng,
			logger:   f.logger,
			registry: f.registry,
			router:   f.router,
		}
		return fn(ctx, child)
	})
}

// Sync opens a continuous live-sync connection via the engine's own sync
// primitive. Connection management, retry, and authentication are the
// engine's responsibility; the facade only forwards the call and the
// resulting table-change callbacks are routed identically to local writes.
func (f *Facade) Sync(ctx context.Context, opts engine.SyncOptions) (io.Closer, error) {
	closer, err := f.eng.Sync(ctx, opts)
	if err != nil {
		return nil, oporerr.NewEngineError(err)
	}
	return closer, nil
}

// GetChangeset serializes the engine's complete change history into opor's
// bigint-safe JSON wire format. An empty history encodes as "[]".
func (f *Facade) GetChangeset(ctx context.Context) (string, error) {
	tuples, err := f.eng.PullChanges(ctx, 0)
	if err != nil {
		return "", oporerr.NewEngineError(err)
	}
	s, err := changeset.Encode(tuples)
	if err != nil {
		return "", err
	}
	return s, nil
}

// ApplyChangeset parses and validates a changeset produced by GetChangeset
// (or a peer's equivalent) and applies it to the engine. On success, the
// engine emits table-change callbacks for every touched table, and any live
// query depending on one of them refetches.
func (f *Facade) ApplyChangeset(ctx context.Context, s string) error {
	tuples, err := changeset.Decode(s)
	if err != nil {
		return err
	}
	if err := f.eng.ApplyChanges(ctx, tuples); err != nil {
		return oporerr.NewEngineError(err)
	}
	return nil
}

// Close tears down the facade's change router, unsubscribing from the
// engine's update callback.
func (f *Facade) Close() error {
	return f.router.Close()
}
