package sqlgen

import (
	"regexp"
	"strings"
)

// tableRefPattern recovers table names referenced by a SQL statement. It is
// intentionally lossy: a CTE alias or a string literal containing one of
// these keywords can produce a false positive, but it must never produce a
// false negative, since a missed dependency means a live query silently
// stops updating. A full tokenizer would fix the false positives; it is not
// worth the weight it would add to this one extractor.
var tableRefPattern = regexp.MustCompile(
	"(?i)(?:FROM|JOIN|UPDATE|INTO|DELETE FROM)\\s+`?([a-zA-Z_][a-zA-Z0-9_]*)`?",
)

// ExtractTables returns the lowercase, deduplicated set of table names a SQL
// statement references, in first-seen order.
func ExtractTables(sql string) []string {
	matches := tableRefPattern.FindAllStringSubmatch(sql, -1)
	if len(matches) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(matches))
	tables := make([]string, 0, len(matches))
	for _, m := range matches {
		name := strings.ToLower(m[1])
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		tables = append(tables, name)
	}
	return tables
}
