// Package query implements the kintone records query engine: normalizing
// user queries, planning a pagination strategy, driving the page loop and
// shaping the results.
package query

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/width"
)

// Normalized is a user query with its limit and offset clauses extracted.
type Normalized struct {
	Raw        string
	Clean      string
	Limit      int
	Offset     int
	HasLimit   bool
	HasOffset  bool
	HasOrderBy bool
}

// Digits may be ASCII or full-width; width.Narrow folds the latter.
var (
	limitClause    = regexp.MustCompile(`(?i)\blimit[\s\p{Zs}]+([0-9０-９]+)`)
	offsetClause   = regexp.MustCompile(`(?i)\boffset[\s\p{Zs}]+([0-9０-９]+)`)
	whitespaceRun  = regexp.MustCompile(`[\s\p{Zs}]+`)
	trailingJoiner = regexp.MustCompile(`(?i)(?:\b(?:and|or)\b|\border[\s\p{Zs}]+by\b)[\s\p{Zs}]*$`)
	orderByClause  = regexp.MustCompile(`(?i)\border[\s\p{Zs}]+by\b`)
)

// Normalize extracts the first "limit N" and "offset N" clauses from raw,
// removes every such clause, collapses whitespace and strips connectors left
// dangling at the end. Malformed fragments are left in place.
func Normalize(raw string) Normalized {
	n := Normalized{Raw: raw}
	q := strings.TrimSpace(raw)
	if q == "" {
		return n
	}

	if m := limitClause.FindStringSubmatch(q); m != nil {
		n.Limit, n.HasLimit = parseCount(m[1]), true
		q = limitClause.ReplaceAllString(q, "")
	}
	if m := offsetClause.FindStringSubmatch(q); m != nil {
		n.Offset, n.HasOffset = parseCount(m[1]), true
		q = offsetClause.ReplaceAllString(q, "")
	}

	q = strings.TrimSpace(whitespaceRun.ReplaceAllString(q, " "))
	n.Clean = StripTrailingConnectors(q)
	n.HasOrderBy = orderByClause.MatchString(n.Clean)
	return n
}

// parseCount reads a run of digits; values beyond int range saturate.
func parseCount(digits string) int {
	v, err := strconv.ParseInt(width.Narrow.String(digits), 10, 64)
	if err != nil || v > math.MaxInt {
		return math.MaxInt
	}
	return int(v)
}

// StripTrailingConnectors removes "and", "or" and "order by" from the end of
// q until none remain.
func StripTrailingConnectors(q string) string {
	for {
		loc := trailingJoiner.FindStringIndex(q)
		if loc == nil {
			return q
		}
		q = strings.TrimRightFunc(q[:loc[0]], unicode.IsSpace)
	}
}

// WithMinRecordID adds "$id > min" to q, before its order by clause when
// there is one. A non-empty filter is parenthesized so the guard applies to
// the whole of it.
func WithMinRecordID(q string, min int64) string {
	guard := fmt.Sprintf("$id > %d", min)
	base := strings.TrimSpace(q)
	if base == "" {
		return guard
	}

	loc := orderByClause.FindStringIndex(base)
	if loc == nil {
		return "(" + base + ") and " + guard
	}

	prefix := strings.TrimSpace(base[:loc[0]])
	suffix := strings.TrimSpace(base[loc[0]:])
	if prefix == "" {
		return guard + " " + suffix
	}
	return "(" + prefix + ") and " + guard + " " + suffix
}
