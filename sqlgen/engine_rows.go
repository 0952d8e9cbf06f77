package sqlgen

// This file adapts the struct<->column mapping Schema/Table/Column already
// provide (parseQueryRow, BuildStruct) to rows shaped the way engine.Stmt.All
// hands them back: []map[string]interface{}, one map per row, keyed by
// column name, rather than a *sql.Rows cursor. The Scannable machinery
// (sql.Scanner/driver.Valuer) is reused unchanged; only how a raw value gets
// into a Scannable differs.

// ParseEngineRows converts engine-returned row maps into the struct slice a
// SelectQuery's table describes, using the same Scannable pool parseQueryRow
// uses for *sql.Rows-backed queries.
func (s *Schema) ParseEngineRows(query *SelectQuery, rows []map[string]interface{}) ([]interface{}, error) {
	table, ok := s.ByName[query.Table]
	if !ok {
		return nil, errBadQueryType
	}

	result := make([]interface{}, 0, len(rows))
	for _, row := range rows {
		parsed, err := parseEngineRow(table, row)
		if err != nil {
			return nil, err
		}
		result = append(result, parsed)
	}
	return result, nil
}

// parseEngineRow parses one engine row map into a struct value, in the
// column order the table descriptor recorded.
func parseEngineRow(table *Table, row map[string]interface{}) (interface{}, error) {
	scannables := table.Scannables.Get().([]interface{})
	defer table.Scannables.Put(scannables)

	for i, column := range table.Columns {
		scanner := scannables[i].(interface{ Scan(interface{}) error })
		if err := scanner.Scan(row[column.Name]); err != nil {
			return nil, err
		}
	}

	return BuildStruct(table, scannables), nil
}
