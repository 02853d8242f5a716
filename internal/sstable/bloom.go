package sstable

import (
	"math"

	"github.com/bits-and-blooms/bitset"
	"github.com/twmb/murmur3"
)

// bloomFilter is a per-SSTable membership sketch over the rows present in
// the file, consulted by the point-get path before it scans a reader's
// in-memory entries. False positives are possible and cost an extra
// harmless scan; false negatives are not possible, so read correctness is
// unaffected.
type bloomFilter struct {
	bits      *bitset.BitSet
	numBits   uint
	numHashes uint
}

// newBloomFilter sizes a filter for expectedItems rows at the given target
// false-positive rate using the standard optimal-bits/optimal-hashes
// formulas.
func newBloomFilter(expectedItems int, falsePositiveRate float64) *bloomFilter {
	if expectedItems < 1 {
		expectedItems = 1
	}
	if falsePositiveRate <= 0 || falsePositiveRate >= 1 {
		falsePositiveRate = 0.01
	}
	numBits := optimalNumBits(expectedItems, falsePositiveRate)
	numHashes := optimalNumHashes(expectedItems, numBits)
	return &bloomFilter{
		bits:      bitset.New(numBits),
		numBits:   numBits,
		numHashes: numHashes,
	}
}

func optimalNumBits(n int, p float64) uint {
	m := -1 * float64(n) * math.Log(p) / (math.Ln2 * math.Ln2)
	if m < 1 {
		m = 1
	}
	return uint(math.Ceil(m))
}

func optimalNumHashes(n int, numBits uint) uint {
	k := (float64(numBits) / float64(n)) * math.Ln2
	if k < 1 {
		k = 1
	}
	return uint(math.Round(k))
}

// positions computes bf.numHashes bit indices for key using Kirsch-Mitzenmacher
// double hashing over a single murmur3 128-bit hash of key.
func (bf *bloomFilter) positions(key []byte) []uint {
	h1, h2 := murmur3.SeedSum128(0, 0, key)
	out := make([]uint, bf.numHashes)
	for i := uint(0); i < bf.numHashes; i++ {
		combined := h1 + uint64(i)*h2
		out[i] = uint(combined % uint64(bf.numBits))
	}
	return out
}

func (bf *bloomFilter) add(key []byte) {
	for _, pos := range bf.positions(key) {
		bf.bits.Set(pos)
	}
}

func (bf *bloomFilter) mayContain(key []byte) bool {
	for _, pos := range bf.positions(key) {
		if !bf.bits.Test(pos) {
			return false
		}
	}
	return true
}
