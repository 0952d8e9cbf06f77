// Package reactive provides the dependency-tracking primitives livedb builds
// its live queries on: a Resource is a leaf-level signal ("table X changed"),
// and a Rerunner repeatedly drives a computation (a live query's builder)
// until it stops, automatically waking it up again whenever a Resource it
// touched on its last run is invalidated or strobed.
package reactive

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// RetrySentinelError tells the rerunner to retry the computation without
	// discarding its dependency graph, instead of treating the error as
	// terminal.
	RetrySentinelError = errors.New("retry")

	// WriteThenReadDelay is how long a rerun waits after hearing that one of
	// its dependencies changed before actually recomputing, so a refetch
	// triggered by a just-applied local write observes that write rather
	// than racing it.
	WriteThenReadDelay = 200 * time.Millisecond
)

// computation is the node representing one run of a Rerunner's function: it
// accumulates out-edges to every Resource the run depended on, and is itself
// invalidated (and released) as a unit the next time the function reruns.
type computation struct {
	node node
}

// Resource represents a leaf-level dependency in a computation graph — in
// opor's case, one per lowercase table name, held by the change router and
// invalidated whenever a write touches that table.
type Resource struct {
	node
}

// NewResource creates a new Resource.
func NewResource() *Resource {
	return &Resource{node: node{}}
}

// Invalidate permanently invalidates r, waking every computation that
// depended on it and preventing it from being depended on again.
func (r *Resource) Invalidate() {
	go r.invalidate()
}

// Strobe wakes every computation currently depending on r without marking r
// itself permanently invalidated, so a later computation can still depend on
// it afresh. The change router uses this: a table edit should wake every
// live query that last read that table, but must not prevent a future
// refetch from depending on the same table again.
func (r *Resource) Strobe() {
	go r.strobe()
}

// Cleanup registers f to run once no computation depends on r any longer.
//
// NOTE: for f to ever run, at least one computation must call AddDependency
// on r first.
func (r *Resource) Cleanup(f func()) {
	r.node.handleRelease(f)
}

type computationKey struct{}

type dependencySetKey struct{}

// dependencySet accumulates the non-nil dep values passed to AddDependency
// during one computation, giving callers (e.g. a future sync layer wanting
// to know which tables a query actually touched) a way to inspect that set
// without livedb threading it through by hand.
type dependencySet struct {
	mu           sync.Mutex
	dependencies []Dependency
}

func (ds *dependencySet) add(dep Dependency) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.dependencies = append(ds.dependencies, dep)
}

func (ds *dependencySet) get() []Dependency {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return ds.dependencies
}

// Dependency is an opaque value recorded alongside a dependency edge. opor
// threads lowercase table names through this seam (see livedb's registry),
// but the type itself carries no table-specific meaning.
type Dependency interface{}

// AddDependency records that the computation running in ctx depends on r: r
// must release before the computation's node is considered released, and
// invalidating r invalidates the computation. If dep is non-nil it is also
// appended to the computation's dependencySet, retrievable with
// Dependencies. Called outside a Rerunner's computation (HasRerunner(ctx) is
// false), it links r to an already-released placeholder node, so r is
// released at once and its Cleanup handlers run; it does not panic, so code
// that builds a table dependency list can run whether or not it is inside a
// live query.
func AddDependency(ctx context.Context, r *Resource, dep Dependency) {
	if !HasRerunner(ctx) {
		r.node.addOut(&node{released: true})
		return
	}

	computation := ctx.Value(computationKey{}).(*computation)
	r.node.addOut(&computation.node)

	if dep != nil {
		if depSet, ok := ctx.Value(dependencySetKey{}).(*dependencySet); ok && depSet != nil {
			depSet.add(dep)
		}
	}
}

// Dependencies returns every non-nil dep value recorded via AddDependency so
// far during the computation running in ctx.
func Dependencies(ctx context.Context) []Dependency {
	depSet, _ := ctx.Value(dependencySetKey{}).(*dependencySet)
	if depSet == nil {
		return nil
	}
	return depSet.get()
}

// ComputeFunc is the function a Rerunner drives repeatedly.
type ComputeFunc func(context.Context) (interface{}, error)

// runComputation executes f inside a freshly-scoped computation, returning
// the computation (so its node can be tracked for invalidation/release) and
// f's result.
func runComputation(ctx context.Context, f ComputeFunc) (*computation, interface{}, error) {
	c := &computation{node: node{}}
	childCtx := context.WithValue(ctx, computationKey{}, c)

	value, err := f(childCtx)
	if err != nil {
		go c.node.release()
		return nil, nil, err
	}
	return c, value, nil
}

// Rerunner automatically reruns a computation whenever a Resource it
// depended on during its last run changes.
//
// The computation stops when it returns an error other than
// RetrySentinelError, or after Stop is called. There is no way to pull the
// result out of a Rerunner directly; the computation must communicate its
// result itself (livedb's Query does this by storing the value and
// notifying subscribers from inside the builder's caller).
type Rerunner struct {
	ctx       context.Context
	cancelCtx context.CancelFunc

	f                ComputeFunc
	minRerunInterval time.Duration
	retryDelay       time.Duration

	// flushed tracks whether the next computation should run without delay.
	// It is set to false as soon as the next computation starts. flushCh is
	// closed when flushed is set to true.
	flushMu sync.Mutex
	flushCh chan struct{}
	flushed bool

	mu          sync.Mutex
	computation *computation
	stop        bool

	lastRun time.Time
}

// NewRerunner runs f continuously: once immediately, then again every time a
// Resource depended on in its most recent run is invalidated or strobed, at
// least minRerunInterval after the previous run started.
func NewRerunner(ctx context.Context, f ComputeFunc, minRerunInterval time.Duration) *Rerunner {
	ctx, cancelCtx := context.WithCancel(ctx)

	r := &Rerunner{
		ctx:       ctx,
		cancelCtx: cancelCtx,

		f:                f,
		minRerunInterval: minRerunInterval,
		retryDelay:       minRerunInterval,

		flushCh: make(chan struct{}),
	}
	go r.run()
	return r
}

// RerunImmediately removes the delay from the next recomputation.
func (r *Rerunner) RerunImmediately() {
	r.flushMu.Lock()
	defer r.flushMu.Unlock()

	if !r.flushed {
		close(r.flushCh)
		r.flushed = true
	}
}

// run performs one actual computation, then schedules the next one.
func (r *Rerunner) run() {
	delta := r.retryDelay - time.Now().Sub(r.lastRun)

	t := time.NewTimer(delta)
	select {
	case <-r.ctx.Done():
	case <-t.C:
	case <-r.flushCh:
	}
	t.Stop()
	if r.ctx.Err() != nil {
		return
	}

	r.flushMu.Lock()
	if r.flushed {
		r.flushCh = make(chan struct{})
		r.flushed = false
	}
	r.flushMu.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stop {
		return
	}

	if !r.lastRun.IsZero() {
		time.Sleep(WriteThenReadDelay)
	}

	ctx := context.WithValue(r.ctx, dependencySetKey{}, &dependencySet{})

	computation, _, err := runComputation(ctx, r.f)
	r.lastRun = time.Now()
	if err != nil {
		if err == RetrySentinelError {
			r.retryDelay = r.retryDelay * 2
			if r.retryDelay > time.Minute {
				r.retryDelay = time.Minute
			}
			go r.run()
		}
		// Any other error stops the rerunner: the function itself must
		// surface a non-retry error to its own caller before returning one
		// here, since there is no other channel back out.
		return
	}

	if r.computation != nil {
		go r.computation.node.release()
	}
	r.computation = computation
	r.retryDelay = r.minRerunInterval

	computation.node.handleInvalidate(r.run)
}

// Stop halts the rerunner. Any in-flight run completes, but no further run
// is scheduled afterward.
func (r *Rerunner) Stop() {
	r.cancelCtx()

	r.mu.Lock()
	r.stop = true
	if r.computation != nil {
		go r.computation.node.release()
		r.computation = nil
	}
	r.mu.Unlock()
}

// HasRerunner reports whether ctx was produced by a Rerunner's computation.
func HasRerunner(ctx context.Context) bool {
	return ctx.Value(computationKey{}) != nil
}
