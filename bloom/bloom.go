// Package bloom implements the membership filter (§4.A): a Bloom-style
// probabilistic set, plus a partitioned variant that shards a logical
// filter across independent sub-filters for parallel batch lookups. Bit
// storage is github.com/bits-and-blooms/bitset, the same library the
// teacher pulled in for its SSTable writer; the two keyed hashes the
// filter needs come from hash/fnv's FNV-1a, salted with fixed constants
// (see DESIGN.md for why this isn't hash/maphash: maphash's seed can't be
// serialized, and its underlying hash is only consistent within a single
// process, so it cannot round-trip a filter through an SSTable at all).
package bloom

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"math"
	"sync"

	"github.com/bits-and-blooms/bitset"
)

const (
	maxBits   = 100_000_000
	maxHashes = 20
	minN      = 1
	maxParts  = 64

	tagStandard    byte = 0
	tagPartitioned byte = 1

	// Fixed salts for the filter's keyed hashes. A filter is written by
	// one process and read back by another (or the same process after
	// restart), so the hash must be identical across processes; unlike
	// hash/maphash's per-process seed, these are compile-time constants.
	saltH1    byte = 0x5a
	saltH2    byte = 0xa5
	saltRoute byte = 0xc3
)

// ErrShapeMismatch is returned by Merge when the two filters have
// different bit counts or hash counts.
var ErrShapeMismatch = errors.New("bloom: shape mismatch")

// Filter is the capability every filter variant (standard, partitioned)
// implements, per the "dynamic dispatch" design note: a tagged variant
// with a common {insert, may_contain, serialize} surface rather than a
// single inheritance root.
type Filter interface {
	Insert(x []byte)
	MayContain(x []byte) bool
	TypeTag() byte
	WriteTo(w io.Writer) (int64, error)
}

func clampParams(n uint64, p float64) (m uint64, k uint32) {
	if n < minN {
		n = minN
	}
	if p <= 0 || p >= 1 {
		p = 0.01
	}

	mf := math.Ceil(-float64(n) * math.Log(p) / (math.Ln2 * math.Ln2))
	m = uint64(mf)
	if m < 1 {
		m = 1
	}
	if m > maxBits {
		m = maxBits
	}

	kf := math.Ceil((float64(m) / float64(n)) * math.Ln2)
	k = uint32(kf)
	if k < 1 {
		k = 1
	}
	if k > maxHashes {
		k = maxHashes
	}
	return m, k
}

// saltedHash computes a deterministic FNV-1a digest of salt prepended to
// x. Unlike hash/maphash, this gives the same value for the same input on
// every process and every run, which a filter persisted to an SSTable and
// read back elsewhere requires.
func saltedHash(salt byte, x []byte) uint64 {
	h := fnv.New64a()
	h.Write([]byte{salt})
	h.Write(x)
	return h.Sum64()
}

// Standard is a single Bloom filter with m bits and k hash functions,
// using double hashing: the i-th bit index is (h1 + i*h2) mod m, with h2
// forced odd so it is coprime with any power-of-two m.
type Standard struct {
	mu   sync.RWMutex
	bits *bitset.BitSet
	m    uint64
	k    uint32
}

// NewStandard constructs a filter sized for expectedN elements at target
// false-positive rate fpRate. Parameters are silently clamped, never
// errored: construction never fails.
func NewStandard(expectedN uint64, fpRate float64) *Standard {
	m, k := clampParams(expectedN, fpRate)
	return &Standard{
		bits: bitset.New(uint(m)),
		m:    m,
		k:    k,
	}
}

func (f *Standard) locations(x []byte) (h1, h2 uint64) {
	h1 = saltedHash(saltH1, x)
	h2 = saltedHash(saltH2, x) | 1
	return h1, h2
}

// Insert sets all k bits for x.
func (f *Standard) Insert(x []byte) {
	h1, h2 := f.locations(x)
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := uint32(0); i < f.k; i++ {
		idx := (h1 + uint64(i)*h2) % f.m
		f.bits.Set(uint(idx))
	}
}

// MayContain reports whether x is possibly present (all k bits set) or
// definitely absent.
func (f *Standard) MayContain(x []byte) bool {
	h1, h2 := f.locations(x)
	f.mu.RLock()
	defer f.mu.RUnlock()
	for i := uint32(0); i < f.k; i++ {
		idx := (h1 + uint64(i)*h2) % f.m
		if !f.bits.Test(uint(idx)) {
			return false
		}
	}
	return true
}

// Merge ORs other's bits into f. Both filters must share (m, k).
func (f *Standard) Merge(other *Standard) error {
	if f.m != other.m || f.k != other.k {
		return fmt.Errorf("%w: (m=%d,k=%d) vs (m=%d,k=%d)", ErrShapeMismatch, f.m, f.k, other.m, other.k)
	}
	f.mu.Lock()
	other.mu.RLock()
	defer f.mu.Unlock()
	defer other.mu.RUnlock()
	f.bits.InPlaceUnion(other.bits)
	return nil
}

// TypeTag identifies this as a standard filter in the SSTable bloom
// section (§4.D).
func (f *Standard) TypeTag() byte { return tagStandard }

// WriteTo serialises the filter's (size_bits, num_hashes, bits) fields,
// matching §4.D's "standard" bloom section layout exactly. The caller is
// responsible for writing the preceding type_tag byte.
func (f *Standard) WriteTo(w io.Writer) (int64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	var n int64
	if err := binary.Write(w, binary.LittleEndian, f.m); err != nil {
		return n, err
	}
	n += 8
	if err := binary.Write(w, binary.LittleEndian, f.k); err != nil {
		return n, err
	}
	n += 4

	raw := f.bits.Bytes()
	buf := make([]byte, len(raw)*8)
	for i, word := range raw {
		binary.LittleEndian.PutUint64(buf[i*8:], word)
	}
	nn, err := w.Write(buf[:(f.m+7)/8])
	n += int64(nn)
	return n, err
}

// ReadStandard reads back a Standard filter written by WriteTo (without
// its leading type_tag, which the caller already consumed).
func ReadStandard(r io.Reader) (*Standard, error) {
	var m uint64
	var k uint32
	if err := binary.Read(r, binary.LittleEndian, &m); err != nil {
		return nil, err
	}
	if m > maxBits {
		return nil, fmt.Errorf("bloom: size_bits %d exceeds maximum %d", m, maxBits)
	}
	if err := binary.Read(r, binary.LittleEndian, &k); err != nil {
		return nil, err
	}
	if k > maxHashes {
		return nil, fmt.Errorf("bloom: num_hashes %d exceeds maximum %d", k, maxHashes)
	}

	nbytes := (m + 7) / 8
	buf := make([]byte, nbytes)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}

	words := make([]uint64, (nbytes+7)/8)
	padded := make([]byte, len(words)*8)
	copy(padded, buf)
	for i := range words {
		words[i] = binary.LittleEndian.Uint64(padded[i*8:])
	}

	return &Standard{
		bits: bitset.From(words),
		m:    m,
		k:    k,
	}, nil
}

// Partitioned shards a logical filter across up to 64 independent
// sub-filters, routing elements by a third seeded hash. It offers a
// parallel-friendly batch MayContain.
type Partitioned struct {
	parts []*Standard
}

// NewPartitioned constructs a partitioned filter with numParts shards
// (clamped to maxParts), each sized for expectedN/numParts elements.
func NewPartitioned(numParts int, expectedN uint64, fpRate float64) *Partitioned {
	if numParts < 1 {
		numParts = 1
	}
	if numParts > maxParts {
		numParts = maxParts
	}

	perPart := expectedN / uint64(numParts)
	if perPart < minN {
		perPart = minN
	}

	parts := make([]*Standard, numParts)
	for i := range parts {
		parts[i] = NewStandard(perPart, fpRate)
	}

	return &Partitioned{parts: parts}
}

func (p *Partitioned) partitionFor(x []byte) int {
	h := saltedHash(saltRoute, x)
	return int(h % uint64(len(p.parts)))
}

// Insert routes x to one partition and sets its bits.
func (p *Partitioned) Insert(x []byte) {
	p.parts[p.partitionFor(x)].Insert(x)
}

// MayContain checks only the single partition x would have been routed
// to.
func (p *Partitioned) MayContain(x []byte) bool {
	return p.parts[p.partitionFor(x)].MayContain(x)
}

// MayContainBatch evaluates MayContain for every key in keys. When
// parallel is true, the work is fanned out across the filter's
// partitions with a bounded worker pool, one goroutine per distinct
// partition touched by the batch — the Rust original's rayon-style
// parallel iterator, reproduced with goroutines and a WaitGroup so a
// single-key caller pays no goroutine cost.
func (p *Partitioned) MayContainBatch(keys [][]byte, parallel bool) []bool {
	results := make([]bool, len(keys))
	if !parallel || len(keys) < 2 {
		for i, k := range keys {
			results[i] = p.MayContain(k)
		}
		return results
	}

	byPart := make(map[int][]int, len(p.parts))
	for i, k := range keys {
		part := p.partitionFor(k)
		byPart[part] = append(byPart[part], i)
	}

	var wg sync.WaitGroup
	for part, idxs := range byPart {
		wg.Add(1)
		go func(part int, idxs []int) {
			defer wg.Done()
			for _, i := range idxs {
				results[i] = p.parts[part].MayContain(keys[i])
			}
		}(part, idxs)
	}
	wg.Wait()
	return results
}

// TypeTag identifies this as a partitioned filter in the SSTable bloom
// section.
func (p *Partitioned) TypeTag() byte { return tagPartitioned }

// WriteTo serialises (num_parts, meta_bits, meta_hashes, per-part
// length-prefixed bit arrays), matching §4.D's "partitioned" bloom
// section layout. meta_bits/meta_hashes describe the first partition's
// shape, giving readers a representative (m, k) without re-deriving it.
func (p *Partitioned) WriteTo(w io.Writer) (int64, error) {
	var n int64
	if err := binary.Write(w, binary.LittleEndian, uint32(len(p.parts))); err != nil {
		return n, err
	}
	n += 4

	metaBits, metaHashes := uint64(0), uint32(0)
	if len(p.parts) > 0 {
		metaBits, metaHashes = p.parts[0].m, p.parts[0].k
	}
	if err := binary.Write(w, binary.LittleEndian, metaBits); err != nil {
		return n, err
	}
	n += 8
	if err := binary.Write(w, binary.LittleEndian, metaHashes); err != nil {
		return n, err
	}
	n += 4

	for _, part := range p.parts {
		var buf bytes.Buffer
		if _, err := part.WriteTo(&buf); err != nil {
			return n, err
		}
		// part.WriteTo emits (size_bits, num_hashes, bits); the
		// partitioned section only needs the raw bits per part, so
		// re-encode just the bit array length-prefixed.
		bits := buf.Bytes()[8+4:]
		if err := binary.Write(w, binary.LittleEndian, uint32(len(bits))); err != nil {
			return n, err
		}
		n += 4
		nn, err := w.Write(bits)
		n += int64(nn)
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// ReadPartitioned reads back a Partitioned filter written by WriteTo
// (without its leading type_tag).
func ReadPartitioned(r io.Reader) (*Partitioned, error) {
	var numParts uint32
	if err := binary.Read(r, binary.LittleEndian, &numParts); err != nil {
		return nil, err
	}
	if numParts > maxParts {
		return nil, fmt.Errorf("bloom: num_parts %d exceeds maximum %d", numParts, maxParts)
	}

	var metaBits uint64
	var metaHashes uint32
	if err := binary.Read(r, binary.LittleEndian, &metaBits); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &metaHashes); err != nil {
		return nil, err
	}
	if metaHashes > maxHashes {
		return nil, fmt.Errorf("bloom: meta_hashes %d exceeds maximum %d", metaHashes, maxHashes)
	}

	parts := make([]*Standard, numParts)
	for i := range parts {
		var bitsLen uint32
		if err := binary.Read(r, binary.LittleEndian, &bitsLen); err != nil {
			return nil, err
		}
		buf := make([]byte, bitsLen)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}

		words := make([]uint64, (uint64(bitsLen)+7)/8)
		padded := make([]byte, len(words)*8)
		copy(padded, buf)
		for j := range words {
			words[j] = binary.LittleEndian.Uint64(padded[j*8:])
		}

		parts[i] = &Standard{bits: bitset.From(words), m: metaBits, k: metaHashes}
	}

	return &Partitioned{parts: parts}, nil
}
