package sqlgen

import (
	"context"
	"sync"

	"github.com/relaycoder/opor/batch"
)

// rowBatcher adapts the teacher's dataloader-style row-batching trick (see
// the original db.go DB.batchFetch) to the engine-backed Querier: several
// independent QueryRow-shaped lookups against the same table, issued
// concurrently within one batch.WithBatching scope, get folded into a
// single SELECT (see makeBatchQuery for the WHERE clause it builds) instead
// of one round trip per lookup.
type rowBatcher struct {
	fn *batch.Func
}

func (q *Querier) newRowBatcher() *rowBatcher {
	return &rowBatcher{
		fn: &batch.Func{
			Shard: func(arg interface{}) interface{} {
				return arg.(*BaseSelectQuery).Table
			},
			Many: func(ctx context.Context, items []interface{}) ([]interface{}, error) {
				table := items[0].(*BaseSelectQuery).Table

				filters := make([]Filter, 0, len(items))
				for _, item := range items {
					filters = append(filters, item.(*BaseSelectQuery).Filter)
				}
				clause, args := makeBatchQuery(filters)

				query, err := q.Schema.makeSelect(table.Type, nil, &SelectOptions{
					Where:  clause,
					Values: args,
				})
				if err != nil {
					return nil, err
				}
				rows, err := q.baseQuery(ctx, query)
				if err != nil {
					return nil, err
				}

				matcher := newMatcher()
				for i, item := range items {
					bq := item.(*BaseSelectQuery)
					matcher.add(i, coerceMap(bq.Filter))
				}
				grouped := make([][]interface{}, len(items))
				for _, row := range rows {
					f := coerceMap(table.extractRow(row))
					for _, idx := range matcher.match(f) {
						i := idx.(int)
						grouped[i] = append(grouped[i], row)
					}
				}

				results := make([]interface{}, len(items))
				for i, rows := range grouped {
					results[i] = rows
				}
				return results, nil
			},
		},
	}
}

// BatchQueryRow fetches a single row, like QueryRow, but if ctx carries a
// batch.WithBatching scope, coalesces this call with any other
// BatchQueryRow calls against the same table made concurrently within that
// scope. Without a batching scope on ctx it degrades to a plain QueryRow -
// the caller opts into batching by wrapping the enclosing context once, not
// per call, exactly as the teacher's own resolvers did for GraphQL fan-out.
func (q *Querier) BatchQueryRow(ctx context.Context, result interface{}, filter Filter) error {
	if !batch.HasBatching(ctx) {
		return q.QueryRow(ctx, result, filter, nil)
	}

	bq, err := q.Schema.MakeSelectRow(result, filter, nil)
	if err != nil {
		return err
	}

	q.batcherOnce.Do(func() { q.batcher = q.newRowBatcher() })
	raw, err := q.batcher.fn.Invoke(ctx, bq)
	if err != nil {
		return err
	}
	rows, _ := raw.([]interface{})
	return CopySingletonSlice(result, rows)
}
