// Package config provides configuration structures and defaults for the
// column-family engine: flush thresholds, compaction cadence, and the
// minor-compaction selection fraction.
package config

import (
	"fmt"
	"time"

	"github.com/go-ini/ini"
)

const (
	// DefaultMemtableMax is the entry count at which a memtable is flushed
	// synchronously on the writer that crossed the threshold.
	DefaultMemtableMax = 10_000
	// DefaultCompactInterval is how often the background compactor wakes to
	// run compact(default) for a column family.
	DefaultCompactInterval = 60 * time.Second
	// DefaultMinorFraction is the fraction of the oldest SSTables a minor
	// compaction selects, clamped to [2, n].
	DefaultMinorFraction = 0.5
	// DefaultBloomFalsePositiveRate governs the size of the per-SSTable
	// bloom filter each SSTable reader builds on open.
	DefaultBloomFalsePositiveRate = 0.01
)

// Config holds all tunable parameters for a column family's engine.
type Config struct {
	// MemtableMax is the entry-count flush threshold.
	MemtableMax int
	// CompactInterval is the background compactor's sleep period.
	CompactInterval time.Duration
	// MinorFraction is the oldest-SSTables fraction a minor compaction
	// selects before the max(2, n*fraction) clamp.
	MinorFraction float64
	// BloomFalsePositiveRate sizes new SSTables' bloom filters.
	BloomFalsePositiveRate float64
}

// DefaultConfig returns a Config populated with the engine's tunable
// defaults.
func DefaultConfig() *Config {
	return &Config{
		MemtableMax:            DefaultMemtableMax,
		CompactInterval:        DefaultCompactInterval,
		MinorFraction:          DefaultMinorFraction,
		BloomFalsePositiveRate: DefaultBloomFalsePositiveRate,
	}
}

// FillDefaults sets any zero-value fields in c to their default values.
func (c *Config) FillDefaults() {
	def := DefaultConfig()
	if c.MemtableMax == 0 {
		c.MemtableMax = def.MemtableMax
	}
	if c.CompactInterval == 0 {
		c.CompactInterval = def.CompactInterval
	}
	if c.MinorFraction == 0 {
		c.MinorFraction = def.MinorFraction
	}
	if c.BloomFalsePositiveRate == 0 {
		c.BloomFalsePositiveRate = def.BloomFalsePositiveRate
	}
}

// LoadFile reads CF tunable overrides from an INI file. Only keys present in
// the file override the returned Config; everything else falls back to
// DefaultConfig. The file is expected to carry an [engine] section:
//
//	[engine]
//	memtable_max = 5000
//	compact_interval_seconds = 30
//	minor_fraction = 0.5
//	bloom_false_positive_rate = 0.01
func LoadFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	f, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("config: load %s: %w", path, err)
	}

	sec := f.Section("engine")
	if key, err := sec.GetKey("memtable_max"); err == nil {
		if v, err := key.Int(); err == nil {
			cfg.MemtableMax = v
		}
	}
	if key, err := sec.GetKey("compact_interval_seconds"); err == nil {
		if v, err := key.Int(); err == nil {
			cfg.CompactInterval = time.Duration(v) * time.Second
		}
	}
	if key, err := sec.GetKey("minor_fraction"); err == nil {
		if v, err := key.Float64(); err == nil {
			cfg.MinorFraction = v
		}
	}
	if key, err := sec.GetKey("bloom_false_positive_rate"); err == nil {
		if v, err := key.Float64(); err == nil {
			cfg.BloomFalsePositiveRate = v
		}
	}

	return cfg, nil
}
