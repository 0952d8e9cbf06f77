package enginesqlite

import (
	"regexp"
	"strings"
)

// mutationTablePattern recognizes the table a raw SQL statement mutates, so
// enginesqlite knows which OnUpdate callbacks to fire. It is declared
// independently of sqlgen's table extractor and is narrower: it matches
// only the tables a statement writes (CREATE TABLE, INSERT [OR x] INTO,
// UPDATE, DELETE FROM, ALTER TABLE), not the FROM/JOIN tables a statement
// reads. It shares that extractor's case-insensitive, backtick-tolerant
// shape - see DESIGN.md.
var mutationTablePattern = regexp.MustCompile(
	"(?i)(?:CREATE TABLE(?:\\s+IF NOT EXISTS)?|INSERT(?:\\s+OR\\s+\\w+)?\\s+INTO|UPDATE|DELETE FROM|ALTER TABLE)\\s+`?([a-zA-Z_][a-zA-Z0-9_]*)`?",
)

var createTablePattern = regexp.MustCompile(`(?i)^\s*CREATE TABLE`)

func extractMutatedTables(sqlText string) []string {
	matches := mutationTablePattern.FindAllStringSubmatch(sqlText, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(matches))
	var tables []string
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

func isCreateTable(sqlText string) bool {
	return createTablePattern.MatchString(sqlText)
}

func classifyChange(sqlText string) string {
	upper := strings.ToUpper(strings.TrimSpace(sqlText))
	switch {
	case strings.HasPrefix(upper, "INSERT"):
		return "insert"
	case strings.HasPrefix(upper, "UPDATE"):
		return "update"
	case strings.HasPrefix(upper, "DELETE"):
		return "delete"
	case strings.HasPrefix(upper, "CREATE") || strings.HasPrefix(upper, "ALTER"):
		return "schema"
	default:
		return ""
	}
}
