package memory

import (
	"fmt"
	"strconv"
	"strings"
)

// Filter is a parsed SCIM-style predicate over Message fields, as persistent
// implementations of SearchHistory accept per spec.md §4.6. The in-memory
// Store does not use this type; it is exported for memory/redis and
// memory/mongo to share one grammar and one set of semantics.
type Filter struct {
	clauses []clause
}

type clause struct {
	attr string
	op   string
	val  string
}

// ParseFilter parses a conjunction of clauses of the form
// `attr op "value"`, joined by the literal word "and" (case-insensitive).
// Supported attributes are "role" and "content"; supported operators are
// "eq" (exact match) and "co" ("contains", case-insensitive substring).
// An empty or all-whitespace expr parses to a Filter that matches
// everything.
func ParseFilter(expr string) (Filter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return Filter{}, nil
	}

	parts := splitAnd(expr)
	clauses := make([]clause, 0, len(parts))
	for _, part := range parts {
		c, err := parseClause(part)
		if err != nil {
			return Filter{}, err
		}
		clauses = append(clauses, c)
	}
	return Filter{clauses: clauses}, nil
}

// splitAnd splits on the literal token "and" at the top level. The grammar
// has no nesting or parentheses, so a plain case-insensitive word split is
// sufficient.
func splitAnd(expr string) []string {
	fields := strings.Fields(expr)
	var parts []string
	var current []string
	for _, f := range fields {
		// An odd number of quotes so far means f lies inside a quoted value.
		inValue := strings.Count(strings.Join(current, " "), `"`)%2 == 1
		if strings.EqualFold(f, "and") && !inValue {
			parts = append(parts, strings.Join(current, " "))
			current = nil
			continue
		}
		current = append(current, f)
	}
	parts = append(parts, strings.Join(current, " "))
	return parts
}

func parseClause(part string) (clause, error) {
	part = strings.TrimSpace(part)
	firstSpace := strings.IndexByte(part, ' ')
	if firstSpace < 0 {
		return clause{}, fmt.Errorf("memory: malformed filter clause %q", part)
	}
	attr := part[:firstSpace]
	rest := strings.TrimSpace(part[firstSpace+1:])

	secondSpace := strings.IndexByte(rest, ' ')
	if secondSpace < 0 {
		return clause{}, fmt.Errorf("memory: malformed filter clause %q", part)
	}
	op := rest[:secondSpace]
	rawValue := strings.TrimSpace(rest[secondSpace+1:])

	value, err := strconv.Unquote(rawValue)
	if err != nil {
		return clause{}, fmt.Errorf("memory: filter value must be a quoted string: %q", rawValue)
	}

	switch attr {
	case "role", "content":
	default:
		return clause{}, fmt.Errorf("memory: unsupported filter attribute %q", attr)
	}
	switch op {
	case "eq", "co":
	default:
		return clause{}, fmt.Errorf("memory: unsupported filter operator %q", op)
	}

	return clause{attr: attr, op: op, val: value}, nil
}

// Match reports whether msg satisfies every clause in the filter.
func (f Filter) Match(msg Message) bool {
	for _, c := range f.clauses {
		if !c.match(msg) {
			return false
		}
	}
	return true
}

func (c clause) match(msg Message) bool {
	var field string
	switch c.attr {
	case "role":
		field = string(msg.Role)
	case "content":
		field = msg.Content
	}

	switch c.op {
	case "eq":
		return field == c.val
	case "co":
		return strings.Contains(strings.ToLower(field), strings.ToLower(c.val))
	default:
		return false
	}
}
