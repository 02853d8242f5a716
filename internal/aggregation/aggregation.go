// Package aggregation implements the per-column aggregations
// run over a column family's scan output: Count, Sum, Average, Min, Max.
package aggregation

import (
	"bytes"
	"fmt"
	"strconv"
	"unicode/utf8"

	"gravelcol/internal/filter"
)

// Kind names the aggregation function to apply to a column's versions.
type Kind int

// The supported aggregation functions.
const (
	Count Kind = iota
	Sum
	Average
	Min
	Max
)

// Aggregation names one column and the aggregation to run over its
// versions.
type Aggregation struct {
	Column []byte
	Type   Kind
}

// Set is an AggregationSet: a list of Aggregations to evaluate together
// over the same scan output.
type Set []Aggregation

// ResultKind tags which field of Result is populated.
type ResultKind int

// The result variants an aggregation can evaluate to.
const (
	ResultCount ResultKind = iota
	ResultSum
	ResultSumFloat
	ResultAverage
	ResultMin
	ResultMax
	ResultError
)

// Result is the tagged union an aggregation evaluates to. Exactly one of
// Count/Sum/SumFloat/Average/Bytes/Err is meaningful, selected by Kind.
type Result struct {
	Kind     ResultKind
	Count    uint64
	Sum      int64
	SumFloat float64
	Average  float64
	Bytes    []byte
	Err      string
}

// Apply evaluates every Aggregation in aggs against scanned (a row's
// column -> versions scan result, already filtered if a FilterSet was
// applied upstream), keyed by column name in the returned map.
func Apply(scanned map[string][]filter.Version, aggs Set) map[string]Result {
	out := make(map[string]Result, len(aggs))
	for _, agg := range aggs {
		out[string(agg.Column)] = evalOne(scanned, agg)
	}
	return out
}

func evalOne(scanned map[string][]filter.Version, agg Aggregation) Result {
	versions, ok := scanned[string(agg.Column)]
	if !ok {
		return Result{Kind: ResultError, Err: "Column not found"}
	}
	switch agg.Type {
	case Count:
		return Result{Kind: ResultCount, Count: uint64(len(versions))}
	case Sum:
		return sumResult(versions)
	case Average:
		return averageResult(versions)
	case Min:
		return minMaxResult(versions, true)
	case Max:
		return minMaxResult(versions, false)
	default:
		return Result{Kind: ResultError, Err: "unknown aggregation type"}
	}
}

// sumResult parses each value as an integer when possible; if every value
// parses as an integer the sum is integer, otherwise every value is
// re-parsed as a float and the sum is float. A single non-numeric value
// forces an Error.
func sumResult(versions []filter.Version) Result {
	if len(versions) == 0 {
		return Result{Kind: ResultSum, Sum: 0}
	}

	allInt := true
	var intSum int64
	var floatSum float64
	for _, v := range versions {
		s, err := numericString(v.Value)
		if err != nil {
			return Result{Kind: ResultError, Err: err.Error()}
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			intSum += n
			floatSum += float64(n)
			continue
		}
		allInt = false
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Result{Kind: ResultError, Err: fmt.Sprintf("non-numeric value %q", s)}
		}
		floatSum += f
	}
	if allInt {
		return Result{Kind: ResultSum, Sum: intSum}
	}
	return Result{Kind: ResultSumFloat, SumFloat: floatSum}
}

func averageResult(versions []filter.Version) Result {
	if len(versions) == 0 {
		return Result{Kind: ResultError, Err: "No values"}
	}
	var sum float64
	for _, v := range versions {
		s, err := numericString(v.Value)
		if err != nil {
			return Result{Kind: ResultError, Err: err.Error()}
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Result{Kind: ResultError, Err: fmt.Sprintf("non-numeric value %q", s)}
		}
		sum += f
	}
	return Result{Kind: ResultAverage, Average: sum / float64(len(versions))}
}

func minMaxResult(versions []filter.Version, wantMin bool) Result {
	if len(versions) == 0 {
		return Result{Kind: ResultError, Err: "No values"}
	}
	best := versions[0].Value
	for _, v := range versions[1:] {
		cmp := bytes.Compare(v.Value, best)
		if (wantMin && cmp < 0) || (!wantMin && cmp > 0) {
			best = v.Value
		}
	}
	if wantMin {
		return Result{Kind: ResultMin, Bytes: best}
	}
	return Result{Kind: ResultMax, Bytes: best}
}

func numericString(value []byte) (string, error) {
	if !utf8.Valid(value) {
		return "", fmt.Errorf("non-UTF-8 value")
	}
	return string(value), nil
}
