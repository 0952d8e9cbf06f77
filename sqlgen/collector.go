package sqlgen

import (
	"context"
	"sync"
)

// tableCollector accumulates the lowercase table names referenced by every
// statement executed through a Session call stack that installed one. It is
// threaded through context.Context rather than kept as package-level state
// (spec's design notes call out the process-scoped-global version as the
// thing to avoid in a reimplementation), so nested installs are simply
// independent values rather than a single contested slot.
type tableCollector struct {
	mu     sync.Mutex
	tables map[string]struct{}
}

type tableCollectorKey struct{}

// WithTableCollector installs a fresh table collector in ctx and returns the
// derived context alongside it, so the caller can read back the collected
// table set once the statements it guards have run.
func WithTableCollector(ctx context.Context) (context.Context, *tableCollector) {
	c := &tableCollector{tables: make(map[string]struct{})}
	return context.WithValue(ctx, tableCollectorKey{}, c), c
}

// Tables returns the collected table names, in no particular order.
func (c *tableCollector) Tables() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.tables))
	for t := range c.tables {
		out = append(out, t)
	}
	return out
}

func (c *tableCollector) add(tables []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range tables {
		c.tables[t] = struct{}{}
	}
}

// HasTableCollector reports whether ctx carries an active table collector.
// livedb uses this to reject a builder that tries to register a nested live
// query from within another live query's first-run refetch.
func HasTableCollector(ctx context.Context) bool {
	_, ok := ctx.Value(tableCollectorKey{}).(*tableCollector)
	return ok
}

// collectTables contributes sql's referenced tables to ctx's collector, if
// one is installed. It is a no-op outside of a collector's scope.
func collectTables(ctx context.Context, sql string) {
	c, ok := ctx.Value(tableCollectorKey{}).(*tableCollector)
	if !ok || c == nil {
		return
	}
	c.add(ExtractTables(sql))
}
