// Package version orders dotted, possibly alphanumeric version strings such as
// "1.0.0a2" or "2.1b". It never fails: segments it cannot read degrade the
// result to Incomparable instead of returning an error.
package version

import (
	"regexp"
	"strings"
)

// Result is the outcome of comparing an existing version against another one.
type Result int

const (
	Equal Result = iota
	OtherGreater
	ExistingGreater
	Incomparable
)

func (r Result) String() string {
	switch r {
	case Equal:
		return "equal"
	case OtherGreater:
		return "other_greater"
	case ExistingGreater:
		return "existing_greater"
	default:
		return "incomparable"
	}
}

var segmentRegex = regexp.MustCompile(`^[0-9]*([a-z][0-9]*)*$`)

// letterRun is one letter of a segment and the digits following it.
type letterRun struct {
	letter byte
	digits string
}

type segment struct {
	lead string
	runs []letterRun
}

// Compare orders existing against other. Earlier segments dominate; the
// shorter version is right-padded with zero segments.
func Compare(existing, other string) Result {
	a := strings.Split(strings.TrimSpace(existing), ".")
	b := strings.Split(strings.TrimSpace(other), ".")
	for len(a) < len(b) {
		a = append(a, "0")
	}
	for len(b) < len(a) {
		b = append(b, "0")
	}

	sawMalformed := false
	for i := range a {
		cmp, ok := compareSegments(a[i], b[i])
		if !ok {
			sawMalformed = true
			continue
		}
		switch {
		case cmp > 0:
			return ExistingGreater
		case cmp < 0:
			return OtherGreater
		}
	}

	if sawMalformed {
		return Incomparable
	}
	return Equal
}

// Less reports whether a orders strictly before b. Incomparable pairs are not less.
func Less(a, b string) bool {
	return Compare(a, b) == OtherGreater
}

// compareSegments returns -1, 0 or 1, and false when either side is malformed.
func compareSegments(a, b string) (int, bool) {
	if isDigits(a) && isDigits(b) {
		return compareDigits(a, b), true
	}

	sa, ok := parseSegment(a)
	if !ok {
		return 0, false
	}
	sb, ok := parseSegment(b)
	if !ok {
		return 0, false
	}

	if cmp := compareDigits(sa.lead, sb.lead); cmp != 0 {
		return cmp, true
	}

	// A segment without letters is a release and ranks above any pre-release.
	switch {
	case len(sa.runs) == 0 && len(sb.runs) == 0:
		return 0, true
	case len(sa.runs) == 0:
		return 1, true
	case len(sb.runs) == 0:
		return -1, true
	}

	for i := 0; i < len(sa.runs) || i < len(sb.runs); i++ {
		ra, hasA := runAt(sa.runs, i)
		rb, hasB := runAt(sb.runs, i)
		if !hasA {
			return -1, true
		}
		if !hasB {
			return 1, true
		}
		if ra.letter != rb.letter {
			if ra.letter < rb.letter {
				return -1, true
			}
			return 1, true
		}
		if cmp := compareDigits(runValue(ra), runValue(rb)); cmp != 0 {
			return cmp, true
		}
	}
	return 0, true
}

func runAt(runs []letterRun, i int) (letterRun, bool) {
	if i < len(runs) {
		return runs[i], true
	}
	return letterRun{}, false
}

// runValue treats a letter without trailing digits as "1".
func runValue(r letterRun) string {
	if r.digits == "" {
		return "1"
	}
	return r.digits
}

func parseSegment(s string) (segment, bool) {
	s = strings.ToLower(s)
	if s == "" || !segmentRegex.MatchString(s) {
		return segment{}, false
	}

	var seg segment
	i := 0
	for i < len(s) && isDigit(s[i]) {
		i++
	}
	seg.lead = s[:i]

	for i < len(s) {
		run := letterRun{letter: s[i]}
		i++
		start := i
		for i < len(s) && isDigit(s[i]) {
			i++
		}
		run.digits = s[start:i]
		seg.runs = append(seg.runs, run)
	}
	return seg, true
}

// compareDigits compares two unsigned decimal strings of any length. An empty
// string counts as zero.
func compareDigits(a, b string) int {
	a = strings.TrimLeft(a, "0")
	b = strings.TrimLeft(b, "0")
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	return strings.Compare(a, b)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isDigit(s[i]) {
			return false
		}
	}
	return true
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
