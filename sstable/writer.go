package sstable

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"

	"github.com/arjvr/lsmkv/bloom"
)

// Writer builds one immutable SSTable file. Keys must be supplied in
// caller order (the writer does not sort); entry_count and offsets are
// only known once Finalize patches the header, matching the teacher's
// "write data, then rewrite header" two-pass discipline.
type Writer struct {
	f            *os.File
	bw           *bufio.Writer
	path         string
	entryCount   uint64
	crcTable     []uint32
	useBloom     bool
	filter       bloom.Filter
	partitions   int
	bloomIsPart  bool
	dataBytesLen int64
}

// NewWriterOptions configures bloom filter construction for a new SSTable.
type NewWriterOptions struct {
	ExpectedEntries uint64
	UseBloom        bool
	FalsePositiveRate float64
	// Partitions > 1 selects the partitioned filter variant sharded
	// across that many sub-filters.
	Partitions int
}

// NewWriter opens path for exclusive creation and prepares to append
// entries. The header is written immediately with placeholder offsets,
// patched by Finalize.
func NewWriter(path string, opts NewWriterOptions) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("sstable: create %s: %w", path, err)
	}

	w := &Writer{
		f:          f,
		bw:         bufio.NewWriter(f),
		path:       path,
		useBloom:   opts.UseBloom,
		partitions: opts.Partitions,
	}

	if opts.UseBloom {
		fp := opts.FalsePositiveRate
		if fp <= 0 {
			fp = 0.01
		}
		if opts.Partitions > 1 {
			w.filter = bloom.NewPartitioned(opts.Partitions, opts.ExpectedEntries, fp)
			w.bloomIsPart = true
		} else {
			w.filter = bloom.NewStandard(opts.ExpectedEntries, fp)
		}
	}

	// Placeholder header; patched in Finalize once offsets are known.
	if err := w.writeHeader(header{magic: Magic, version: CurrentVersion}); err != nil {
		f.Close()
		return nil, err
	}
	// writeHeader uses WriteAt, which leaves the file offset untouched;
	// data entries start immediately after the header.
	if _, err := f.Seek(HeaderSize, io.SeekStart); err != nil {
		f.Close()
		return nil, err
	}

	return w, nil
}

func (w *Writer) writeHeader(h header) error {
	buf := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint64(buf[0:], h.magic)
	binary.LittleEndian.PutUint32(buf[8:], h.version)
	binary.LittleEndian.PutUint64(buf[12:], h.entryCount)
	binary.LittleEndian.PutUint64(buf[20:], h.indexOffset)
	binary.LittleEndian.PutUint64(buf[28:], h.bloomOffset)
	binary.LittleEndian.PutUint64(buf[36:], h.bloomSize)
	buf[44] = h.hasBloom
	crc := crc32.ChecksumIEEE(buf[:headerCRCSpan])
	binary.LittleEndian.PutUint32(buf[45:], crc)

	if _, err := w.f.WriteAt(buf, 0); err != nil {
		return fmt.Errorf("sstable: write header: %w", err)
	}
	return nil
}

// WriteEntry appends one live entry. Entries must arrive in ascending key
// order; the writer trusts the caller and does not sort or check.
func (w *Writer) WriteEntry(key, value []byte) error {
	return w.writeRaw(key, value, false)
}

// WriteTombstone appends a tombstone entry for key.
func (w *Writer) WriteTombstone(key []byte) error {
	return w.writeRaw(key, nil, true)
}

func (w *Writer) writeRaw(key, value []byte, tombstone bool) error {
	if len(key) == 0 {
		return fmt.Errorf("sstable: key must be non-empty")
	}
	if len(key) > MaxKeySize {
		return fmt.Errorf("%w: key length %d", ErrUnreasonableSize, len(key))
	}
	if len(value) > MaxValueSize {
		return fmt.Errorf("%w: value length %d", ErrUnreasonableSize, len(value))
	}

	valLen := uint32(len(value))
	if tombstone {
		valLen = tombstoneValueLen
	}

	crc := crc32.NewIEEE()
	mw := io.MultiWriter(w.bw, crc)

	if err := binary.Write(mw, binary.LittleEndian, uint32(len(key))); err != nil {
		return err
	}
	if _, err := mw.Write(key); err != nil {
		return err
	}
	if err := binary.Write(mw, binary.LittleEndian, valLen); err != nil {
		return err
	}
	if !tombstone {
		if _, err := mw.Write(value); err != nil {
			return err
		}
	}

	entryCRC := crc.Sum32()
	if err := binary.Write(w.bw, binary.LittleEndian, entryCRC); err != nil {
		return err
	}

	written := int64(4 + len(key) + 4 + 4)
	if !tombstone {
		written += int64(len(value))
	}
	w.dataBytesLen += written

	w.crcTable = append(w.crcTable, entryCRC)
	w.entryCount++

	if w.filter != nil {
		w.filter.Insert(key)
	}
	return nil
}

// Finalize writes the bloom section (if any) and the trailing
// block-checksum table, rewrites the header with final offsets and CRC,
// and fsyncs the file durably before returning.
func (w *Writer) Finalize() error {
	if err := w.bw.Flush(); err != nil {
		return fmt.Errorf("sstable: flush data: %w", err)
	}

	dataEnd := int64(HeaderSize) + w.dataBytesLen

	var bloomOffset, bloomSize int64
	hasBloom := uint8(0)
	if w.filter != nil {
		hasBloom = 1
		bloomOffset = dataEnd
		if _, err := w.f.Seek(bloomOffset, io.SeekStart); err != nil {
			return err
		}
		bw := bufio.NewWriter(w.f)
		if _, err := bw.Write([]byte{w.filter.TypeTag()}); err != nil {
			return err
		}
		if _, err := w.filter.WriteTo(bw); err != nil {
			return fmt.Errorf("sstable: write bloom section: %w", err)
		}
		if err := bw.Flush(); err != nil {
			return err
		}
		pos, err := w.f.Seek(0, io.SeekCurrent)
		if err != nil {
			return err
		}
		bloomSize = pos - bloomOffset
	}

	// Trailing block-checksum table: one u32 CRC per entry, in data
	// order. Always written; its length is derivable from entry_count
	// alone so no extra offset field is needed in the header.
	tableStart := dataEnd
	if hasBloom == 1 {
		tableStart = bloomOffset + bloomSize
	}
	if _, err := w.f.Seek(tableStart, io.SeekStart); err != nil {
		return err
	}
	tw := bufio.NewWriter(w.f)
	for _, c := range w.crcTable {
		if err := binary.Write(tw, binary.LittleEndian, c); err != nil {
			return err
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if err := w.writeHeader(header{
		magic:       Magic,
		version:     CurrentVersion,
		entryCount:  w.entryCount,
		indexOffset: uint64(dataEnd),
		bloomOffset: uint64(bloomOffset),
		bloomSize:   uint64(bloomSize),
		hasBloom:    hasBloom,
	}); err != nil {
		return err
	}

	if err := w.f.Sync(); err != nil {
		return fmt.Errorf("sstable: sync: %w", err)
	}
	return w.f.Close()
}

// Abort closes and removes a partially written SSTable file, used when a
// checkpoint is cancelled before Finalize (§5 "partial publish is
// forbidden").
func (w *Writer) Abort() error {
	_ = w.f.Close()
	return os.Remove(w.path)
}
