package sstable

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"sync"

	"github.com/arjvr/lsmkv/bloom"
)

// Reader opens an immutable SSTable for point lookups and full scans.
// Each Reader is internally single-threaded (guarded by a mutex) so it
// can be safely pooled or shared through a path-keyed cache (§4.G, §9).
type Reader struct {
	mu     sync.Mutex
	f      *os.File
	path   string
	hdr    header
	filter bloom.Filter
}

// Entry is one decoded record from a full scan (Entries, Get).
type Entry struct {
	Key       []byte
	Value     []byte
	Tombstone bool
}

// Open validates magic, version (<= CurrentVersion), and the header CRC,
// then loads the bloom section if present. It never panics; every
// malformed-file condition surfaces as one of the sentinel errors in
// format.go.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}

	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(f, buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}

	h := header{
		magic:       binary.LittleEndian.Uint64(buf[0:]),
		version:     binary.LittleEndian.Uint32(buf[8:]),
		entryCount:  binary.LittleEndian.Uint64(buf[12:]),
		indexOffset: binary.LittleEndian.Uint64(buf[20:]),
		bloomOffset: binary.LittleEndian.Uint64(buf[28:]),
		bloomSize:   binary.LittleEndian.Uint64(buf[36:]),
		hasBloom:    buf[44],
		headerCRC:   binary.LittleEndian.Uint32(buf[45:]),
	}

	if h.magic != Magic {
		f.Close()
		return nil, ErrMagicMismatch
	}
	if h.version > CurrentVersion {
		f.Close()
		return nil, ErrVersionMismatch
	}
	if crc32.ChecksumIEEE(buf[:headerCRCSpan]) != h.headerCRC {
		f.Close()
		return nil, ErrHeaderCorrupt
	}

	r := &Reader{f: f, path: path, hdr: h}

	if h.hasBloom == 1 {
		const maxBloomSectionBytes = maxFilterBits/8 + 4096
		if h.bloomSize == 0 || h.bloomSize > maxBloomSectionBytes {
			f.Close()
			return nil, fmt.Errorf("%w: bloom section size %d", ErrUnreasonableSize, h.bloomSize)
		}
		if _, err := f.Seek(int64(h.bloomOffset), io.SeekStart); err != nil {
			f.Close()
			return nil, fmt.Errorf("%w: %v", ErrStructuralOverrun, err)
		}
		tagBuf := make([]byte, 1)
		if _, err := io.ReadFull(f, tagBuf); err != nil {
			f.Close()
			return nil, fmt.Errorf("%w: %v", ErrStructuralOverrun, err)
		}

		section := io.LimitReader(f, int64(h.bloomSize)-1)
		var filter bloom.Filter
		switch tagBuf[0] {
		case bloomTagStandard:
			filter, err = bloom.ReadStandard(section)
		case bloomTagPartitioned:
			filter, err = bloom.ReadPartitioned(section)
		default:
			err = fmt.Errorf("%w: unknown bloom type tag %d", ErrStructuralOverrun, tagBuf[0])
		}
		if err != nil {
			f.Close()
			return nil, err
		}
		r.filter = filter
	}

	return r, nil
}

// EntryCount returns the number of entries recorded in the header.
func (r *Reader) EntryCount() uint64 { return r.hdr.entryCount }

// HasBloom reports whether this SSTable carries a membership filter.
func (r *Reader) HasBloom() bool { return r.hdr.hasBloom == 1 }

// MayContain reports possibly-present/definitely-absent for key. When no
// filter is present, every key is treated as possibly present (§4.D).
func (r *Reader) MayContain(key []byte) bool {
	if r.filter == nil {
		return true
	}
	return r.filter.MayContain(key)
}

// MayContainBatch evaluates MayContain for each key, using the
// partitioned filter's parallel-friendly batch path when available.
func (r *Reader) MayContainBatch(keys [][]byte, parallel bool) []bool {
	if part, ok := r.filter.(*bloom.Partitioned); ok {
		return part.MayContainBatch(keys, parallel)
	}
	out := make([]bool, len(keys))
	for i, k := range keys {
		out[i] = r.MayContain(k)
	}
	return out
}

// Get performs a linear scan for key with per-entry CRC verification,
// returning io.EOF-free ErrKeyNotFound on a clean miss, or ErrEntryCorrupt
// if a checksum fails along the way.
func (r *Reader) Get(key []byte) (Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.f.Seek(int64(HeaderSize), io.SeekStart); err != nil {
		return Entry{}, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	br := bufio.NewReader(io.LimitReader(r.f, int64(r.hdr.indexOffset)-int64(HeaderSize)))

	for i := uint64(0); i < r.hdr.entryCount; i++ {
		e, _, err := decodeEntry(br)
		if err != nil {
			return Entry{}, err
		}
		if string(e.Key) == string(key) {
			return e, nil
		}
	}
	return Entry{}, ErrKeyNotFound
}

// Entries returns every entry in the table in the order it was written
// (ascending key order for tables the durability manager writes), with
// per-entry CRC verification — used to materialise a recovery base table
// (§4.F) and for deep integrity verification.
func (r *Reader) Entries() ([]Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.f.Seek(int64(HeaderSize), io.SeekStart); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	br := bufio.NewReader(io.LimitReader(r.f, int64(r.hdr.indexOffset)-int64(HeaderSize)))

	out := make([]Entry, 0, r.hdr.entryCount)
	for i := uint64(0); i < r.hdr.entryCount; i++ {
		e, _, err := decodeEntry(br)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func decodeEntry(r io.Reader) (Entry, uint32, error) {
	crc := crc32.NewIEEE()
	mr := io.TeeReader(r, crc)

	var keyLen uint32
	if err := binary.Read(mr, binary.LittleEndian, &keyLen); err != nil {
		return Entry{}, 0, fmt.Errorf("%w: %v", ErrStructuralOverrun, err)
	}
	if keyLen == 0 || keyLen > MaxKeySize {
		return Entry{}, 0, fmt.Errorf("%w: key length %d", ErrUnreasonableSize, keyLen)
	}
	key := make([]byte, keyLen)
	if _, err := io.ReadFull(mr, key); err != nil {
		return Entry{}, 0, fmt.Errorf("%w: %v", ErrStructuralOverrun, err)
	}

	var valLen uint32
	if err := binary.Read(mr, binary.LittleEndian, &valLen); err != nil {
		return Entry{}, 0, fmt.Errorf("%w: %v", ErrStructuralOverrun, err)
	}

	tombstone := valLen == tombstoneValueLen
	var value []byte
	if !tombstone {
		if valLen > MaxValueSize {
			return Entry{}, 0, fmt.Errorf("%w: value length %d", ErrUnreasonableSize, valLen)
		}
		value = make([]byte, valLen)
		if _, err := io.ReadFull(mr, value); err != nil {
			return Entry{}, 0, fmt.Errorf("%w: %v", ErrStructuralOverrun, err)
		}
	}

	var storedCRC uint32
	if err := binary.Read(r, binary.LittleEndian, &storedCRC); err != nil {
		return Entry{}, 0, fmt.Errorf("%w: %v", ErrStructuralOverrun, err)
	}
	if crc.Sum32() != storedCRC {
		return Entry{}, 0, ErrEntryCorrupt
	}

	return Entry{Key: key, Value: value, Tombstone: tombstone}, storedCRC, nil
}

// VerifyIntegrity is the "deep" verification mode of §4.F: it scans every
// entry, checking per-entry CRCs, and fails fast on the first corruption.
func (r *Reader) VerifyIntegrity() error {
	_, err := r.Entries()
	return err
}

// Close releases the underlying file handle.
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.f.Close()
}

// Path returns the file path this reader was opened from.
func (r *Reader) Path() string { return r.path }
