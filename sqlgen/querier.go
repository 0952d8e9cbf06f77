package sqlgen

import (
	"context"
	"errors"
	"reflect"
	"sync"
)

// Querier ties a Session's engine-backed execution to a Schema's struct<->SQL
// mapping. It is the concrete shape of spec's "translates query-builder
// objects into prepared statements" contract: every method below builds a
// SQLQuery with Schema, hands it to the Session to prepare/execute, and maps
// the engine's raw rows back into the caller's struct type.
type Querier struct {
	Session *Session
	Schema  *Schema

	batcherOnce sync.Once
	batcher     *rowBatcher
}

func NewQuerier(session *Session, schema *Schema) *Querier {
	return &Querier{Session: session, Schema: schema}
}

func (q *Querier) selectMapper(query *SelectQuery) ResultMapper {
	return func(rows []map[string]interface{}) (interface{}, error) {
		return q.Schema.ParseEngineRows(query, rows)
	}
}

func (q *Querier) baseQuery(ctx context.Context, query *BaseSelectQuery) ([]interface{}, error) {
	selectQuery, err := query.MakeSelectQuery()
	if err != nil {
		return nil, err
	}

	stmt, err := q.Session.PrepareOneTimeQuery(selectQuery, q.selectMapper(selectQuery))
	if err != nil {
		return nil, err
	}
	clause, args := selectQuery.ToSQL()
	_ = clause

	result, err := stmt.All(ctx, args...)
	if err != nil {
		return nil, err
	}
	return result.([]interface{}), nil
}

// Query fetches a collection of rows, writing them into result (a pointer
// to a slice of pointers to struct).
func (q *Querier) Query(ctx context.Context, result interface{}, filter Filter, options *SelectOptions) error {
	query, err := q.Schema.MakeSelect(result, filter, options)
	if err != nil {
		return err
	}
	rows, err := q.baseQuery(ctx, query)
	if err != nil {
		return err
	}
	return CopySlice(result, rows)
}

// QueryRow fetches a single row, writing it into result (a pointer to a
// pointer to struct).
func (q *Querier) QueryRow(ctx context.Context, result interface{}, filter Filter, options *SelectOptions) error {
	query, err := q.Schema.MakeSelectRow(result, filter, options)
	if err != nil {
		return err
	}
	rows, err := q.baseQuery(ctx, query)
	if err != nil {
		return err
	}
	return CopySingletonSlice(result, rows)
}

// Count returns the number of rows in model's table matching filter.
func (q *Querier) Count(ctx context.Context, model interface{}, filter Filter) (int64, error) {
	query, err := q.Schema.makeCount(model, filter)
	if err != nil {
		return 0, err
	}
	countQuery, err := query.makeCountQuery()
	if err != nil {
		return 0, err
	}
	clause, args := countQuery.ToSQL()

	stmt, err := q.Session.PrepareOneTimeQuery(countQuery, nil)
	if err != nil {
		return 0, err
	}
	_ = clause
	values, err := stmt.Values(ctx, args...)
	if err != nil {
		return 0, err
	}
	if len(values) == 0 {
		return 0, nil
	}
	return toInt64(values[0]), nil
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

func (q *Querier) exec(ctx context.Context, query SQLQuery) error {
	clause, args := query.ToSQL()
	stmt, err := q.Session.PrepareOneTimeQuery(&rawSQLQuery{clause: clause, args: args}, nil)
	if err != nil {
		return err
	}
	return stmt.Run(ctx, args...)
}

// rawSQLQuery adapts a pre-rendered clause+args pair to the SQLQuery
// interface so mutation queries (which already know their own SQL) can
// share PrepareOneTimeQuery's table-collection and logging path.
type rawSQLQuery struct {
	clause string
	args   []interface{}
}

func (r *rawSQLQuery) ToSQL() (string, []interface{}) { return r.clause, r.args }

// InsertRow inserts a single row, row being a pointer to a struct.
func (q *Querier) InsertRow(ctx context.Context, row interface{}) error {
	query, err := q.Schema.MakeInsertRow(row)
	if err != nil {
		return err
	}
	return q.exec(ctx, query)
}

// UpsertRow inserts or updates a single row, row being a pointer to a struct.
func (q *Querier) UpsertRow(ctx context.Context, row interface{}) error {
	query, err := q.Schema.MakeUpsertRow(row)
	if err != nil {
		return err
	}
	return q.exec(ctx, query)
}

// UpdateRow updates a single row, identified by its primary key.
func (q *Querier) UpdateRow(ctx context.Context, row interface{}) error {
	query, err := q.Schema.MakeUpdateRow(row)
	if err != nil {
		return err
	}
	return q.exec(ctx, query)
}

// DeleteRow deletes a single row, identified by its primary key.
func (q *Querier) DeleteRow(ctx context.Context, row interface{}) error {
	query, err := q.Schema.MakeDeleteRow(row)
	if err != nil {
		return err
	}
	return q.exec(ctx, query)
}

// InsertRows inserts multiple rows chunkSize at a time, in a transaction.
func (q *Querier) InsertRows(ctx context.Context, rows interface{}, chunkSize int) error {
	return q.batchMutate(ctx, rows, chunkSize, func(rows []interface{}) (SQLQuery, error) {
		return q.Schema.MakeBatchInsertRow(rows)
	})
}

// UpsertRows upserts multiple rows chunkSize at a time, in a transaction.
func (q *Querier) UpsertRows(ctx context.Context, rows interface{}, chunkSize int) error {
	return q.batchMutate(ctx, rows, chunkSize, func(rows []interface{}) (SQLQuery, error) {
		return q.Schema.MakeBatchUpsertRow(rows)
	})
}

func (q *Querier) batchMutate(ctx context.Context, rows interface{}, chunkSize int, makeQuery func([]interface{}) (SQLQuery, error)) error {
	val := reflect.ValueOf(rows)
	kind := val.Kind()
	if kind != reflect.Slice && kind != reflect.Array {
		return errors.New("expected array/slice of rows")
	}
	rowsData := make([]interface{}, val.Len())
	for i := 0; i < val.Len(); i++ {
		rowsData[i] = val.Index(i).Interface()
	}
	if chunkSize <= 0 {
		chunkSize = len(rowsData)
		if chunkSize == 0 {
			return nil
		}
	}

	_, err := Transaction(ctx, q.Session, func(ctx context.Context, tx *Session) (struct{}, error) {
		txQuerier := &Querier{Session: tx, Schema: q.Schema}
		for j := 0; j < len(rowsData); j += chunkSize {
			end := j + chunkSize
			if end > len(rowsData) {
				end = len(rowsData)
			}
			query, err := makeQuery(rowsData[j:end])
			if err != nil {
				return struct{}{}, err
			}
			if err := txQuerier.exec(ctx, query); err != nil {
				return struct{}{}, err
			}
		}
		return struct{}{}, nil
	})
	return err
}
