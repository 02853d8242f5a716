// Package gravelcol is an embedded, single-node, wide-column key/value
// store in the Bigtable/HBase mold: data is organized into tables, each
// holding one or more column families, and each column family stores
// versioned cells keyed by (row, column, timestamp).
//
// Writes are made durable by a write-ahead log, absorbed by an in-memory
// sorted map, and flushed to immutable sorted files once the map grows past
// a threshold. A per-CF background compactor merges those files; explicit
// compactions can also prune old versions and expired tombstones. Reads return the latest live
// cell or a bounded version history, with predicate filters and per-column
// aggregations available over scan results.
//
// Example usage:
//
//	tbl, err := gravelcol.Open("/path/to/table", nil)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer tbl.Close()
//
//	cf, err := tbl.CreateCF("metrics")
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	err = cf.Put([]byte("host1"), []byte("cpu"), []byte("42"))
//	if err != nil {
//		log.Printf("put failed: %v", err)
//	}
//
//	value, exists := cf.Get([]byte("host1"), []byte("cpu"))
//	if exists {
//		fmt.Printf("cpu: %s\n", string(value))
//	}
package gravelcol

import (
	"gravelcol/internal/aggregation"
	"gravelcol/internal/config"
	"gravelcol/internal/engine"
	"gravelcol/internal/filter"
	"gravelcol/internal/table"
)

// Config is an alias for config.Config, re-exported for user convenience.
type Config = config.Config

// DefaultConfig returns a Config populated with default values. Re-exported
// for user convenience.
var DefaultConfig = config.DefaultConfig

// LoadConfig reads tunable overrides from an INI file. Re-exported for user
// convenience.
var LoadConfig = config.LoadFile

// Table is a named directory owning a set of column families.
type Table = table.Table

// ColumnFamily is the handle every read and write operation goes through:
// one memtable, one WAL, one SSTable set, one background compactor.
type ColumnFamily = engine.ColumnFamily

// ErrCFExists is returned by (*Table).CreateCF for a name that already
// exists.
var ErrCFExists = table.ErrCFExists

// Open opens or creates a table at the specified directory.
//
// The directory is created if it doesn't exist. Column families already on
// disk are rediscovered and opened, each replaying its WAL.
func Open(dir string, cfg *Config) (*Table, error) {
	return table.Open(dir, cfg)
}

// CompactOptions configures a single compaction pass.
type CompactOptions = engine.CompactOptions

// CompactionType selects minor or major input selection.
type CompactionType = engine.CompactionType

// Compaction types accepted by CompactOptions.
const (
	Minor = engine.Minor
	Major = engine.Major
)

// Filter is a recursive predicate over a cell's bytes.
type Filter = filter.Filter

// FilterSet narrows a row scan to matching columns, versions and values.
type FilterSet = filter.Set

// ColumnFilter pairs a column with the Filter its versions must satisfy.
type ColumnFilter = filter.ColumnFilter

// TimestampRange bounds a version's timestamp; either end may be nil.
type TimestampRange = filter.TimestampRange

// Version is one (timestamp, value) pair from a scan result.
type Version = filter.Version

// Filter constructors, re-exported for user convenience.
var (
	Equal       = filter.Equal
	NotEqual    = filter.NotEqual
	GreaterThan = filter.GreaterThan
	Ge          = filter.Ge
	LessThan    = filter.LessThan
	Le          = filter.Le
	Contains    = filter.Contains
	StartsWith  = filter.StartsWith
	EndsWith    = filter.EndsWith
	Regex       = filter.Regex
	And         = filter.And
	Or          = filter.Or
	Not         = filter.Not
)

// Aggregation names one column and the function to run over its versions.
type Aggregation = aggregation.Aggregation

// AggregationSet is a list of Aggregations evaluated together.
type AggregationSet = aggregation.Set

// AggregationResult is the tagged union an aggregation evaluates to.
type AggregationResult = aggregation.Result

// Aggregation functions accepted by Aggregation.Type.
const (
	Count   = aggregation.Count
	Sum     = aggregation.Sum
	Average = aggregation.Average
	Min     = aggregation.Min
	Max     = aggregation.Max
)
