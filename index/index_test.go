package index

import (
	"fmt"
	"testing"
)

func TestFindAbsent(t *testing.T) {
	ix := New()
	if _, ok := ix.Find([]byte("x")); ok {
		t.Fatalf("expected absent in empty index")
	}
}

func TestInsertAndFind(t *testing.T) {
	ix := New()
	ix.Insert([]byte("apple"), Value{Bytes: []byte{1, 2, 3}, HasBytes: true})

	v, ok := ix.Find([]byte("apple"))
	if !ok || string(v.Bytes) != "\x01\x02\x03" {
		t.Fatalf("expected apple value, got %v %v", v, ok)
	}
}

func TestInsertOverwrite(t *testing.T) {
	ix := New()
	ix.Insert([]byte("k"), Value{Bytes: []byte("v1"), HasBytes: true})
	ix.Insert([]byte("k"), Value{Bytes: []byte("v2"), HasBytes: true})

	if ix.Len() != 1 {
		t.Fatalf("expected single entry after overwrite, got %d", ix.Len())
	}
	v, _ := ix.Find([]byte("k"))
	if string(v.Bytes) != "v2" {
		t.Fatalf("expected v2, got %s", v.Bytes)
	}
}

func TestDeleteAbsentReturnsError(t *testing.T) {
	ix := New()
	if err := ix.Delete([]byte("missing")); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteExisting(t *testing.T) {
	ix := New()
	ix.Insert([]byte("k"), Value{Bytes: []byte("v"), HasBytes: true})

	if err := ix.Delete([]byte("k")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := ix.Find([]byte("k")); ok {
		t.Fatalf("expected key gone after delete")
	}
}

// TestManyInsertsSplitAndStayOrdered forces several internal-node splits
// (degree is 8) and checks Range still returns strictly ascending keys
// with no repeats — property P2.
func TestManyInsertsSplitAndStayOrdered(t *testing.T) {
	ix := New()
	const n = 500
	for i := n - 1; i >= 0; i-- {
		key := []byte(fmt.Sprintf("key-%05d", i))
		ix.Insert(key, Value{Bytes: []byte{byte(i)}, HasBytes: true})
	}

	if ix.Len() != n {
		t.Fatalf("expected %d entries, got %d", n, ix.Len())
	}

	recs := ix.Range(nil, nil)
	if len(recs) != n {
		t.Fatalf("expected %d records from full range, got %d", n, len(recs))
	}

	seen := map[string]bool{}
	for i, r := range recs {
		key := string(r.Key)
		if seen[key] {
			t.Fatalf("key %s appeared twice", key)
		}
		seen[key] = true

		if i > 0 {
			if string(recs[i-1].Key) >= key {
				t.Fatalf("range not strictly ascending at index %d: %s >= %s", i, recs[i-1].Key, key)
			}
		}
	}
}

func TestRangeBounds(t *testing.T) {
	ix := New()
	for _, k := range []string{"a", "b", "c", "d", "e"} {
		ix.Insert([]byte(k), Value{Bytes: []byte(k), HasBytes: true})
	}

	recs := ix.Range([]byte("b"), []byte("d"))
	if len(recs) != 2 || string(recs[0].Key) != "b" || string(recs[1].Key) != "c" {
		t.Fatalf("expected [b c], got %v", recs)
	}
}

func TestClear(t *testing.T) {
	ix := New()
	ix.Insert([]byte("a"), Value{Bytes: []byte("1"), HasBytes: true})
	ix.Clear()

	if !ix.IsEmpty() {
		t.Fatalf("expected empty index after clear")
	}
}

func TestTransientBothValueAndRef(t *testing.T) {
	ix := New()
	ix.Insert([]byte("k"), Value{Bytes: []byte("v"), HasBytes: true, Ref: &Ref{Path: "sstable_1_1", Offset: 0}})

	v, ok := ix.Find([]byte("k"))
	if !ok || !v.HasBytes || v.Ref == nil {
		t.Fatalf("expected both value and ref present transiently, got %v", v)
	}
}
