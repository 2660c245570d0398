// Package grammar implements the closed grammar commands declare for their
// arguments: the allowed_args_length clause list and the allowed modifier tokens.
// Both are compiled once when a manifest is loaded and evaluated per message.
package grammar

import (
	"fmt"
	"strconv"
	"strings"
)

// ClauseKind is the operator of a single args-length clause.
type ClauseKind int

const (
	ClauseAny      ClauseKind = iota // *
	ClauseGreater                    // >N
	ClauseLess                       // <N, and bare N
	ClauseNotEqual                   // !N
)

// Clause is one comma-separated element of allowed_args_length.
type Clause struct {
	Kind ClauseKind
	N    int
	raw  string
}

func (c Clause) String() string { return c.raw }

func (c Clause) matches(count int) bool {
	switch c.Kind {
	case ClauseAny:
		return true
	case ClauseGreater:
		return count > c.N
	case ClauseLess:
		return count < c.N
	case ClauseNotEqual:
		return count != c.N
	}
	return false
}

// ArgsRule is a compiled allowed_args_length expression.
type ArgsRule struct {
	clauses []Clause
	raw     string
}

// SyntaxError reports an invalid grammar expression.
type SyntaxError struct {
	Expr   string
	Reason string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("invalid grammar %q: %s", e.Expr, e.Reason)
}

// ParseArgs compiles an allowed_args_length expression. An empty expression
// accepts any count.
func ParseArgs(expr string) (ArgsRule, error) {
	rule := ArgsRule{raw: strings.TrimSpace(expr)}
	if rule.raw == "" {
		rule.raw = "*"
	}

	for _, part := range strings.Split(rule.raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			return ArgsRule{}, &SyntaxError{Expr: expr, Reason: "empty clause"}
		}

		if part == "*" {
			rule.clauses = append(rule.clauses, Clause{Kind: ClauseAny, raw: part})
			continue
		}

		kind := ClauseLess
		num := part
		switch part[0] {
		case '>':
			kind, num = ClauseGreater, part[1:]
		case '<':
			kind, num = ClauseLess, part[1:]
		case '!':
			kind, num = ClauseNotEqual, part[1:]
		}

		n, err := strconv.Atoi(num)
		if err != nil || n < 0 || strings.HasPrefix(num, "+") {
			return ArgsRule{}, &SyntaxError{Expr: expr, Reason: fmt.Sprintf("clause %q is not *, >N, <N, !N or N", part)}
		}
		rule.clauses = append(rule.clauses, Clause{Kind: kind, N: n, raw: part})
	}

	return rule, nil
}

// MustParseArgs is ParseArgs for expressions known at compile time.
func MustParseArgs(expr string) ArgsRule {
	rule, err := ParseArgs(expr)
	if err != nil {
		panic(err)
	}
	return rule
}

// Allows reports whether count positional arguments satisfy the rule. Clauses
// are tried in order and the first match accepts.
func (r ArgsRule) Allows(count int) bool {
	if len(r.clauses) == 0 {
		return true
	}
	for _, c := range r.clauses {
		if c.matches(count) {
			return true
		}
	}
	return false
}

// Clauses returns the compiled clauses.
func (r ArgsRule) Clauses() []Clause {
	return append([]Clause(nil), r.clauses...)
}

func (r ArgsRule) String() string {
	if r.raw == "" {
		return "*"
	}
	return r.raw
}
