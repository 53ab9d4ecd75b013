package metrics

import (
	"strings"
)

// ClassifySQL returns the statement type used as a metric label: the first
// keyword of sql in lower case, or "other".
func ClassifySQL(sql string) string {
	s := strings.TrimLeft(sql, " \t\r\n(")
	end := strings.IndexAny(s, " \t\r\n(;")
	if end >= 0 {
		s = s[:end]
	}
	switch kw := strings.ToLower(s); kw {
	case "select", "insert", "update", "delete", "create", "drop", "alter",
		"begin", "commit", "rollback", "with", "pragma":
		return kw
	default:
		return "other"
	}
}
