package livedb

import (
	"context"
	"fmt"
	"sync"

	"github.com/relaycoder/opor/batch"
	"github.com/relaycoder/opor/oporerr"
	"github.com/relaycoder/opor/reactive"
	"github.com/relaycoder/opor/sqlgen"
	"github.com/relaycoder/opor/structeq"
)

// DefaultMinRerunInterval is how long a live query waits between the start
// of one refetch and the next, including one triggered by Refetch. Opor's
// refetches are cheap embedded-SQLite reads, not the rate-limited network
// round trips the teacher package's MinRerunInterval = time.Second was sized
// for, so this is zero.
const DefaultMinRerunInterval = 0

// Builder is the function a live query reruns on every refetch. It receives
// the facade the query was registered against and produces the query's
// result, or an error if the attempt failed.
type Builder[T any] func(ctx context.Context, f *Facade) (T, error)

type subEntry[T any] struct {
	cb      func(T)
	removed bool
}

// Query is a registered read whose result is kept current by the reactive
// engine: its builder reruns whenever a table it touched last time changes,
// and subscribers are notified only when the new result differs from the
// previous one by structural equality.
type Query[T any] struct {
	facade  *Facade
	builder Builder[T]

	// manual is strobed by Refetch to trigger an out-of-band rerun; it is
	// depended on unconditionally every compute, alongside whatever tables
	// the builder actually touched that run.
	manual *reactive.Resource
	rerun  *reactive.Rerunner

	mu         sync.Mutex
	data       T
	hasData    bool
	err        error
	loading    bool
	destroyed  bool
	lastTables []string

	subMu sync.Mutex
	subs  []*subEntry[T]
}

// LiveQuery registers builder against f and triggers an initial refetch,
// returning a Query handle. It fails with a usage error if called from
// inside another live query's builder: ctx would still carry that query's
// table collector, and nested dependency capture is not supported.
func LiveQuery[T any](ctx context.Context, f *Facade, builder Builder[T]) (*Query[T], error) {
	if sqlgen.HasTableCollector(ctx) {
		return nil, oporerr.NewUsageError("a live query builder cannot register another live query")
	}

	q := &Query[T]{
		facade:  f,
		builder: builder,
		manual:  reactive.NewResource(),
		loading: true,
	}
	q.rerun = reactive.NewRerunner(ctx, q.compute, DefaultMinRerunInterval)
	return q, nil
}

// compute implements the refetch protocol: it always depends on q.manual,
// installs a fresh table collector for this run, invokes the builder, and
// stores the outcome. It never returns a non-nil error: a real builder
// failure is captured on the Query's error field instead of stopping the
// underlying Rerunner, since a failed refetch must still listen for the
// next table change.
func (q *Query[T]) compute(ctx context.Context) (interface{}, error) {
	reactive.AddDependency(ctx, q.manual, nil)
	q.setLoading(true)

	collectorCtx, collector := sqlgen.WithTableCollector(ctx)
	// Give every refetch its own batching scope so a builder that issues
	// several Querier.BatchQueryRow calls against the same table (e.g.
	// resolving a list's per-row associations) gets them folded into one
	// SELECT instead of one round trip per row.
	if !batch.HasBatching(collectorCtx) {
		collectorCtx = batch.WithBatching(collectorCtx)
	}
	value, err := q.invoke(collectorCtx)

	if err != nil {
		// Keep depending on the table set from the last successful run,
		// per the table-dependency set being defined by the most recent
		// *successful* execution: a failed refetch must still be woken by
		// a change to the tables it last read successfully.
		q.facade.registry.dependOn(ctx, q.snapshotTables())
		q.setError(oporerr.NewQueryError(err))
		return nil, nil
	}

	tables := collector.Tables()
	q.setTables(tables)
	q.facade.registry.dependOn(ctx, tables)
	q.succeed(value)
	return nil, nil
}

func (q *Query[T]) invoke(ctx context.Context) (value T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in live query builder: %v", r)
		}
	}()
	return q.builder(ctx, q.facade)
}

func (q *Query[T]) setLoading(v bool) {
	q.mu.Lock()
	q.loading = v
	q.mu.Unlock()
}

func (q *Query[T]) snapshotTables() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lastTables
}

func (q *Query[T]) setTables(tables []string) {
	q.mu.Lock()
	q.lastTables = tables
	q.mu.Unlock()
}

func (q *Query[T]) setError(err error) {
	q.mu.Lock()
	if q.destroyed {
		q.mu.Unlock()
		return
	}
	q.err = err
	q.loading = false
	q.mu.Unlock()
	q.facade.logger.Warn("live query refetch failed", "error", err)
}

func (q *Query[T]) succeed(value T) {
	q.mu.Lock()
	if q.destroyed {
		q.mu.Unlock()
		return
	}
	changed := !q.hasData || !structeq.Equal(q.data, value)
	q.data = value
	q.hasData = true
	q.err = nil
	q.loading = false
	q.mu.Unlock()

	if changed {
		q.notify(value)
	}
}

// Result is a point-in-time snapshot of a live query.
type Result[T any] struct {
	Data    T
	HasData bool
	Err     error
	Loading bool
}

// Snapshot returns the live query's current result.
func (q *Query[T]) Snapshot() Result[T] {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Result[T]{Data: q.data, HasData: q.hasData, Err: q.err, Loading: q.loading}
}

// Subscribe registers cb to be called with the live query's data every time
// it changes by structural equality. If data is already available, cb is
// invoked once immediately with the current value. The returned function
// removes cb; calling it more than once is harmless.
func (q *Query[T]) Subscribe(cb func(T)) func() {
	entry := &subEntry[T]{cb: cb}
	q.subMu.Lock()
	q.subs = append(q.subs, entry)
	q.subMu.Unlock()

	q.mu.Lock()
	hasData, data := q.hasData, q.data
	q.mu.Unlock()
	if hasData {
		q.safeCall(cb, data)
	}

	return func() {
		q.subMu.Lock()
		entry.removed = true
		q.subMu.Unlock()
	}
}

func (q *Query[T]) notify(data T) {
	q.subMu.Lock()
	entries := make([]*subEntry[T], len(q.subs))
	copy(entries, q.subs)
	q.subMu.Unlock()

	for _, e := range entries {
		if e.removed {
			continue
		}
		q.safeCall(e.cb, data)
	}
}

// safeCall isolates one subscriber's panic so it can't prevent later
// subscribers in the same notification from being called.
func (q *Query[T]) safeCall(cb func(T), data T) {
	defer func() {
		if r := recover(); r != nil {
			q.facade.logger.Error("live query subscriber panicked", "panic", r)
		}
	}()
	cb(data)
}

// Refetch schedules a re-execution of the builder, as if a table it reads
// had just changed.
func (q *Query[T]) Refetch() {
	q.manual.Strobe()
}

// Destroy unregisters the live query. An in-flight refetch still completes,
// but its result is discarded rather than stored or notified; future table
// changes trigger no further work for this query.
func (q *Query[T]) Destroy() {
	q.mu.Lock()
	q.destroyed = true
	q.mu.Unlock()
	q.rerun.Stop()
}
