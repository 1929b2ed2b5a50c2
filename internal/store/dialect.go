package store

import (
	"fmt"
	"strconv"
	"strings"
)

// dialect captures the differences between the supported SQL engines.
type dialect struct {
	driver   string
	idColumn string
	refType  string
	numbered bool
}

var dialects = map[string]dialect{
	"sqlite3": {driver: "sqlite3", idColumn: "INTEGER PRIMARY KEY AUTOINCREMENT", refType: "INTEGER"},
	"pgx":     {driver: "pgx", idColumn: "BIGSERIAL PRIMARY KEY", refType: "BIGINT", numbered: true},
}

func dialectFor(driver string) (dialect, error) {
	d, ok := dialects[driver]
	if !ok {
		return dialect{}, fmt.Errorf("unsupported store driver %q", driver)
	}
	return d, nil
}

// rebind rewrites ? placeholders into $n for engines that number them.
func (d dialect) rebind(q string) string {
	if !d.numbered {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	inString := false
	for _, r := range q {
		switch {
		case r == '\'':
			inString = !inString
			b.WriteRune(r)
		case r == '?' && !inString:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// placeholders renders "?, ?, ?" for n values.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
