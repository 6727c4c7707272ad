package activity

import (
	"regexp"
	"strings"
)

// Operations a raw statement can be classified as.
const (
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
)

const ident = "([`\"\\[]?[a-z0-9_]+[`\"\\]]?(?:\\.[`\"\\[]?[a-z0-9_]+[`\"\\]]?)?)"

var tablePatterns = map[string]*regexp.Regexp{
	OpCreate: regexp.MustCompile(`(?i)insert\s+into\s+` + ident),
	OpUpdate: regexp.MustCompile(`(?i)update\s+(?:only\s+)?` + ident),
	OpDelete: regexp.MustCompile(`(?i)delete\s+from\s+(?:only\s+)?` + ident),
}

var identQuotes = strings.NewReplacer("`", "", `"`, "", "[", "", "]", "")

// ClassifyStatement returns the mutation kind of sql by its leading keyword,
// or "" for anything else.
func ClassifyStatement(sql string) string {
	s := strings.ToLower(strings.TrimLeft(sql, " \t\r\n"))
	switch {
	case strings.HasPrefix(s, "insert"):
		return OpCreate
	case strings.HasPrefix(s, "update"):
		return OpUpdate
	case strings.HasPrefix(s, "delete"):
		return OpDelete
	}
	return ""
}

// TableName extracts the target table of a classified statement.
func TableName(sql, op string) string {
	re, ok := tablePatterns[op]
	if !ok {
		return ""
	}
	m := re.FindStringSubmatch(sql)
	if m == nil {
		return ""
	}
	return identQuotes.Replace(m[1])
}

func recordEvent(op string) string {
	switch op {
	case OpCreate:
		return EventRecordCreated
	case OpUpdate:
		return EventRecordUpdated
	case OpDelete:
		return EventRecordDeleted
	}
	return op
}
