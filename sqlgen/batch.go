package sqlgen

import (
	"bytes"
	"sort"
	"strings"
)

// makeBatchQuery combines a set of filters into a single SQL that matches any
// of the filters, in order to fulfill many independent queries with a single
// SQL SELECT.
//
// Single-column filters on the same column are combined into one IN query;
// each multi-column filter becomes its own (a=? AND b=?) term. For example,
// the filters
//   {"id": 10}
//   {"id": 20}
//   {"name": "Bob", "city": "San Francisco"}
// will get combined to form the query
//   WHERE (city=? AND name=?) OR id IN (?, ?)
// with args "San Francisco", "Bob", 10, 20.
func makeBatchQuery(filters []Filter) (string, []interface{}) {
	// A batchQueryGroup holds all value tuples for a given set of columns in the
	// WHERE statement.
	type batchQueryGroup struct {
		columns []string
		tuples  [][]interface{}
	}

	// Put every filter in its group.
	groups := make(map[string]*batchQueryGroup)
	for _, filter := range filters {
		// If any of the filters is empty (and matches all rows), short-circuit and
		// return an empty WHERE clause. This is special case logic because you can't
		// create an IN query with 0 columns.
		if len(filter) == 0 {
			return "", nil
		}

		// Figure out this filters' group.
		columns := extractColumns(filter)
		key := columnsKey(columns)

		// Maybe create the group.
		group, ok := groups[key]
		if !ok {
			group = &batchQueryGroup{
				columns: columns,
			}
			groups[key] = group
		}

		// Add the filter to the group.
		group.tuples = append(group.tuples, extractValuesTuple(filter, columns))
	}

	// Sort the groups by their key (for deterministic tests.)
	groupKeys := make([]string, 0, len(groups))
	for group := range groups {
		groupKeys = append(groupKeys, group)
	}
	sort.Strings(groupKeys)

	// Build the WHERE clause one group at a time.
	var clause bytes.Buffer
	var args []interface{}
	for i, key := range groupKeys {
		group := groups[key]

		// Insert OR between groups.
		if i > 0 {
			clause.WriteString(" OR ")
		}

		// A multi-column group prints one (a=? AND b=?) per tuple, joined by
		// OR; SQLite's IN does not take a list of row values.
		if len(group.columns) > 1 {
			match := "(" + strings.Join(group.columns, "=? AND ") + "=?)"
			for j, tuple := range group.tuples {
				if j > 0 {
					clause.WriteString(" OR ")
				}
				clause.WriteString(match)
				args = append(args, tuple...)
			}
			continue
		}

		// Print the group's columns, and build a (?, ?, ?) string for the tuples.
		var options bytes.Buffer
		if len(group.columns) > 1 {
			clause.WriteString("(")
			options.WriteString("(")
		}
		for i, column := range group.columns {
			if i > 0 {
				clause.WriteString(", ")
				options.WriteString(", ")
			}
			clause.WriteString(column)
			options.WriteString("?")
		}
		if len(group.columns) > 1 {
			clause.WriteString(")")
			options.WriteString(")")
		}

		// Print the group's tuples.
		clause.WriteString(" IN (")
		for j, tuple := range group.tuples {
			// Separate tuples with commas.
			if j > 0 {
				clause.WriteString(", ")
			}
			// Write (?, ?, ?) string for the tuple, and append the arguments.
			clause.Write(options.Bytes())
			args = append(args, tuple...)
		}
		clause.WriteString(")")
	}

	return clause.String(), args
}
