package sstable

import (
	"os"
	"path/filepath"
	"testing"
)

func writeSimpleTable(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "table.sst")
	w, err := NewWriter(path, NewWriterOptions{ExpectedEntries: 3, UseBloom: true, FalsePositiveRate: 0.01})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, kv := range [][2]string{{"a", "1"}, {"b", "2"}, {"c", "3"}} {
		if err := w.WriteEntry([]byte(kv[0]), []byte(kv[1])); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if err := w.Finalize(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return path
}

func TestOpenRejectsBadMagic(t *testing.T) {
	dir := t.TempDir()
	path := writeSimpleTable(t, dir)

	flipByteAt(t, path, 0)

	if _, err := Open(path); err != ErrMagicMismatch {
		t.Fatalf("expected ErrMagicMismatch, got %v", err)
	}
}

func TestOpenRejectsBadHeaderCRC(t *testing.T) {
	dir := t.TempDir()
	path := writeSimpleTable(t, dir)

	// version field lives inside the CRC-covered span but outside magic.
	flipByteAt(t, path, 10)

	if _, err := Open(path); err != ErrHeaderCorrupt && err != ErrVersionMismatch {
		t.Fatalf("expected header CRC or version mismatch, got %v", err)
	}
}

// P5: flipping a bit within a data entry must surface Corruption on Get.
func TestGetDetectsEntryCorruption(t *testing.T) {
	dir := t.TempDir()
	path := writeSimpleTable(t, dir)

	// First data byte after the 49-byte header is the key_len field for
	// "a"; corrupt a byte further in, inside key/value payload region.
	flipByteAt(t, path, HeaderSize+4)

	r, err := Open(path)
	if err != nil {
		t.Fatalf("unexpected error opening (header untouched): %v", err)
	}
	defer r.Close()

	_, err = r.Get([]byte("a"))
	if err == nil {
		t.Fatalf("expected an error reading corrupted entry")
	}
}

func TestMayContainWithoutFilterAlwaysTrue(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "table.sst")
	w, err := NewWriter(path, NewWriterOptions{ExpectedEntries: 1, UseBloom: false})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := w.WriteEntry([]byte("a"), []byte("1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := w.Finalize(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	r, err := Open(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer r.Close()

	if !r.MayContain([]byte("anything")) {
		t.Fatalf("expected MayContain true when no filter is present")
	}
}

func flipByteAt(t *testing.T, path string, offset int64) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer f.Close()

	b := make([]byte, 1)
	if _, err := f.ReadAt(b, offset); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b[0] ^= 0xFF
	if _, err := f.WriteAt(b, offset); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
