// Package livedb implements spec components C5-C7: a facade over a
// sqlgen.Schema and an engine.Engine that adds live (reactively refetching)
// queries, keyed off the set of tables each query's builder touched.
package livedb

import (
	"context"
	"strings"
	"sync"

	"github.com/relaycoder/opor/engine"
	"github.com/relaycoder/opor/reactive"
)

// tableRegistry holds one persistent reactive.Resource per lowercase table
// name, created lazily the first time a live query depends on it. Resources
// are never removed: opor's table set is small and long-lived relative to
// the churn of live queries depending on it.
type tableRegistry struct {
	mu    sync.Mutex
	table map[string]*reactive.Resource
}

func newTableRegistry() *tableRegistry {
	return &tableRegistry{table: make(map[string]*reactive.Resource)}
}

func (t *tableRegistry) resource(name string) *reactive.Resource {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.table[name]
	if !ok {
		r = reactive.NewResource()
		t.table[name] = r
	}
	return r
}

// dependOn registers ctx's current computation as a dependent of every named
// table, creating each table's resource lazily. It must be called with a ctx
// derived from inside a reactive.ComputeFunc invocation (i.e. one carrying a
// live computation); otherwise reactive.AddDependency records nothing and
// releases each table's resource at once.
func (t *tableRegistry) dependOn(ctx context.Context, tables []string) {
	for _, name := range tables {
		lower := strings.ToLower(name)
		reactive.AddDependency(ctx, t.resource(lower), lower)
	}
}

// invalidate strobes the resource for tableName if one has ever been
// created, so every live query currently depending on it reruns. Strobe
// (rather than Invalidate) detaches the current dependents without
// poisoning the resource itself, so later live queries can keep depending
// on the same instance.
func (t *tableRegistry) invalidate(tableName string) {
	name := strings.ToLower(tableName)
	t.mu.Lock()
	r, ok := t.table[name]
	t.mu.Unlock()
	if ok {
		r.Strobe()
	}
}

// router subscribes to the engine's change callback and turns each
// notification into a table invalidation, normalizing the table name the
// same way the collector does. It owns the engine's unsubscribe handle.
type router struct {
	registry *tableRegistry
	unsub    func()
}

func newRouter(eng engine.Engine, registry *tableRegistry) *router {
	r := &router{registry: registry}
	r.unsub = eng.OnUpdate(func(changeType, dbName, tableName string) {
		registry.invalidate(tableName)
	})
	return r
}

// Close unsubscribes from the engine's change callback. Safe to call more
// than once.
func (r *router) Close() error {
	if r.unsub != nil {
		r.unsub()
		r.unsub = nil
	}
	return nil
}
