// Package sstable implements the on-disk sorted-table codec (§4.D): an
// immutable, sorted file with CRC-32-protected entries, an optional
// membership filter section, and atomic publish semantics handled by the
// durability package. The binary layout is adapted from the teacher's
// sst.writer (header/footer/CRC style, bits-and-blooms bloom filter) but
// generalised to the spec's exact byte-for-byte format, and a reader is
// added (the teacher never wrote one).
package sstable

import "errors"

const (
	// Magic is the stable file-format identifier; it must never change
	// across versions (§6).
	Magic uint64 = 0x4C534D5353544142

	// CurrentVersion is the version writers always emit. Readers accept
	// any version <= CurrentVersion (§6 forward compatibility).
	CurrentVersion uint32 = 3

	// HeaderSize is the exact on-disk header size in bytes (§4.D).
	HeaderSize = 49
	// headerCRCSpan is the number of leading header bytes the header_crc
	// field covers (everything except header_crc itself).
	headerCRCSpan = HeaderSize - 4

	// MaxKeySize and MaxValueSize bound a single entry (§3).
	MaxKeySize   = 1 << 20       // 1 MiB
	MaxValueSize = 10 << 20      // 10 MiB
	maxFilterBits = 100_000_000  // mirrors bloom.maxBits
	maxPartitions = 64
	maxHashFuncs  = 20

	// tombstoneValueLen is the sentinel value_len marking a tombstone
	// entry: a live value can never reach this length (MaxValueSize is
	// far smaller), so it is safe to reserve. §4.D's byte layout has no
	// separate per-entry type tag, so this sentinel is the only tombstone
	// marker in the file.
	tombstoneValueLen uint32 = 0xFFFFFFFF

	bloomTagStandard    byte = 0
	bloomTagPartitioned byte = 1
)

// Sentinel errors for the failure taxonomy in §4.D / §7. All are
// distinguishable via errors.Is; the reader never panics on a malformed
// file, it always returns one of these (or wraps one with context).
var (
	ErrUnreadable       = errors.New("sstable: unreadable file")
	ErrMagicMismatch    = errors.New("sstable: magic mismatch")
	ErrVersionMismatch  = errors.New("sstable: version mismatch")
	ErrHeaderCorrupt    = errors.New("sstable: header crc mismatch")
	ErrEntryCorrupt     = errors.New("sstable: entry crc mismatch")
	ErrStructuralOverrun = errors.New("sstable: structural overrun")
	ErrUnreasonableSize = errors.New("sstable: unreasonable length")
	ErrKeyNotFound      = errors.New("sstable: key not found")
)

// header mirrors the 49-byte on-disk header exactly.
type header struct {
	magic       uint64
	version     uint32
	entryCount  uint64
	indexOffset uint64 // offset where the data section ends
	bloomOffset uint64
	bloomSize   uint64
	hasBloom    uint8
	headerCRC   uint32
}
