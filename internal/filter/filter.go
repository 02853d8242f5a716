// Package filter implements the predicate evaluators that run over scan
// output: byte-comparison and substring leaves, a regex leaf,
// and boolean combinators, wired together into a FilterSet that narrows a
// row's column-family scan down to matching versions.
package filter

import (
	"bytes"
	"regexp"
	"unicode/utf8"
)

// Kind tags which predicate a Filter evaluates.
type Kind int

// The leaf and combinator kinds.
const (
	KindEqual Kind = iota
	KindNotEqual
	KindGreaterThan
	KindGe
	KindLessThan
	KindLe
	KindContains
	KindStartsWith
	KindEndsWith
	KindRegex
	KindAnd
	KindOr
	KindNot
)

// Filter is a recursive tagged predicate evaluated against a cell's raw
// bytes. The zero value of each leaf constructor below builds a well-formed
// Filter; Filter itself has no exported fields to construct directly.
type Filter struct {
	kind     Kind
	operand  []byte
	pattern  string
	children []Filter
}

// Equal matches cells byte-equal to operand.
func Equal(operand []byte) Filter { return Filter{kind: KindEqual, operand: operand} }

// NotEqual matches cells not byte-equal to operand.
func NotEqual(operand []byte) Filter { return Filter{kind: KindNotEqual, operand: operand} }

// GreaterThan matches cells lexicographically greater than operand.
func GreaterThan(operand []byte) Filter { return Filter{kind: KindGreaterThan, operand: operand} }

// Ge matches cells lexicographically greater than or equal to operand.
func Ge(operand []byte) Filter { return Filter{kind: KindGe, operand: operand} }

// LessThan matches cells lexicographically less than operand.
func LessThan(operand []byte) Filter { return Filter{kind: KindLessThan, operand: operand} }

// Le matches cells lexicographically less than or equal to operand.
func Le(operand []byte) Filter { return Filter{kind: KindLe, operand: operand} }

// Contains matches cells containing operand as a byte-exact substring.
func Contains(operand []byte) Filter { return Filter{kind: KindContains, operand: operand} }

// StartsWith matches cells with operand as a byte-exact prefix.
func StartsWith(operand []byte) Filter { return Filter{kind: KindStartsWith, operand: operand} }

// EndsWith matches cells with operand as a byte-exact suffix.
func EndsWith(operand []byte) Filter { return Filter{kind: KindEndsWith, operand: operand} }

// Regex matches cells that decode as UTF-8 and satisfy pattern. Invalid
// UTF-8 or an unparseable pattern both evaluate to false rather than
// raising: filters are predicates, not typed queries.
func Regex(pattern string) Filter { return Filter{kind: KindRegex, pattern: pattern} }

// And is a short-circuiting conjunction; And() with no children is true.
func And(children ...Filter) Filter { return Filter{kind: KindAnd, children: children} }

// Or is a short-circuiting disjunction; Or() with no children is false.
func Or(children ...Filter) Filter { return Filter{kind: KindOr, children: children} }

// Not negates child.
func Not(child Filter) Filter { return Filter{kind: KindNot, children: []Filter{child}} }

// Eval evaluates f against value, never returning an error: malformed
// regexes and non-UTF-8 regex subjects both evaluate to false.
func (f Filter) Eval(value []byte) bool {
	switch f.kind {
	case KindEqual:
		return bytes.Equal(value, f.operand)
	case KindNotEqual:
		return !bytes.Equal(value, f.operand)
	case KindGreaterThan:
		return bytes.Compare(value, f.operand) > 0
	case KindGe:
		return bytes.Compare(value, f.operand) >= 0
	case KindLessThan:
		return bytes.Compare(value, f.operand) < 0
	case KindLe:
		return bytes.Compare(value, f.operand) <= 0
	case KindContains:
		return bytes.Contains(value, f.operand)
	case KindStartsWith:
		return bytes.HasPrefix(value, f.operand)
	case KindEndsWith:
		return bytes.HasSuffix(value, f.operand)
	case KindRegex:
		if !utf8.Valid(value) {
			return false
		}
		re, err := regexp.Compile(f.pattern)
		if err != nil {
			return false
		}
		return re.Match(value)
	case KindAnd:
		for _, c := range f.children {
			if !c.Eval(value) {
				return false
			}
		}
		return true
	case KindOr:
		for _, c := range f.children {
			if c.Eval(value) {
				return true
			}
		}
		return false
	case KindNot:
		if len(f.children) == 0 {
			return true
		}
		return !f.children[0].Eval(value)
	default:
		return false
	}
}

// Version is a single (timestamp, value) pair surfaced by a column-family
// scan, shared between the engine's scan results and filter/aggregation
// evaluation so neither package needs to depend on the other.
type Version struct {
	Timestamp uint64
	Value     []byte
}

// ColumnFilter pairs a column name with the Filter its versions must
// satisfy.
type ColumnFilter struct {
	Column []byte
	Filter Filter
}

// TimestampRange bounds a version's timestamp; either end may be nil to
// leave that side unbounded.
type TimestampRange struct {
	Min *uint64
	Max *uint64
}

func (r *TimestampRange) contains(ts uint64) bool {
	if r == nil {
		return true
	}
	if r.Min != nil && ts < *r.Min {
		return false
	}
	if r.Max != nil && ts > *r.Max {
		return false
	}
	return true
}

// Set is a set of per-column filters plus an optional timestamp range and
// version cap applied to a row's scan.
type Set struct {
	ColumnFilters  []ColumnFilter
	TimestampRange *TimestampRange
	MaxVersions    *int
}

// Apply narrows scanned — a column-family row scan's output, column name
// to its kept versions — down to the columns named in s.ColumnFilters,
// each filtered to versions in range and matching that column's predicate.
// If s.ColumnFilters is empty, scanned passes through unmodified: only
// listed columns are constrained, and no column is listed when the set
// carries no column filters.
func (s Set) Apply(scanned map[string][]Version) map[string][]Version {
	if len(s.ColumnFilters) == 0 {
		return scanned
	}

	result := make(map[string][]Version, len(s.ColumnFilters))
	for _, cf := range s.ColumnFilters {
		versions, ok := scanned[string(cf.Column)]
		if !ok {
			continue
		}
		var kept []Version
		for _, v := range versions {
			if !s.TimestampRange.contains(v.Timestamp) {
				continue
			}
			if !cf.Filter.Eval(v.Value) {
				continue
			}
			kept = append(kept, v)
		}
		if len(kept) > 0 {
			result[string(cf.Column)] = kept
		}
	}
	return result
}
