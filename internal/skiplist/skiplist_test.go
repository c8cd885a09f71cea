package skiplist

import (
	"bytes"
	"math/rand"
	"testing"
)

func init() {
	rand.Seed(1)
}

func lessBytes(a, b []byte) bool { return bytes.Compare(a, b) < 0 }

func TestEmpty(t *testing.T) {
	l := New[[]byte, int](lessBytes)
	if l.Len() != 0 {
		t.Fatalf("expected len 0, got %d", l.Len())
	}
	if _, ok := l.Get([]byte("x")); ok {
		t.Fatalf("expected not found in empty list")
	}
}

func TestPutAndGet(t *testing.T) {
	l := New[[]byte, int](lessBytes)
	l.Put([]byte("ten"), 10)

	v, ok := l.Get([]byte("ten"))
	if !ok || v != 10 {
		t.Fatalf("expected (10,true), got (%v,%v)", v, ok)
	}
}

func TestPutOverwriteReturnsPrior(t *testing.T) {
	l := New[[]byte, int](lessBytes)
	l.Put([]byte("k"), 1)
	prior, had := l.Put([]byte("k"), 2)
	if !had || prior != 1 {
		t.Fatalf("expected prior 1, got %v %v", prior, had)
	}
	v, _ := l.Get([]byte("k"))
	if v != 2 {
		t.Fatalf("expected updated value 2, got %v", v)
	}
	if l.Len() != 1 {
		t.Fatalf("expected len 1 after overwrite, got %d", l.Len())
	}
}

func TestDeleteMissingIsNoop(t *testing.T) {
	l := New[[]byte, int](lessBytes)
	if _, ok := l.Delete([]byte("missing")); ok {
		t.Fatalf("expected delete of missing key to report false")
	}
}

func TestOrderedIteration(t *testing.T) {
	l := New[[]byte, int](lessBytes)
	keys := []string{"banana", "apple", "cherry", "date"}
	for i, k := range keys {
		l.Put([]byte(k), i)
	}

	var got []string
	for r := range l.All() {
		got = append(got, string(r.Key))
	}

	want := []string{"apple", "banana", "cherry", "date"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected ascending order %v, got %v", want, got)
		}
	}
}

func TestRangeBounds(t *testing.T) {
	l := New[[]byte, int](lessBytes)
	for i, k := range []string{"a", "b", "c", "d", "e"} {
		l.Put([]byte(k), i)
	}

	lo, hi := []byte("b"), []byte("d")
	var got []string
	for r := range l.Range(&lo, &hi) {
		got = append(got, string(r.Key))
	}

	if len(got) != 2 || got[0] != "b" || got[1] != "c" {
		t.Fatalf("expected [b c], got %v", got)
	}
}

func TestClear(t *testing.T) {
	l := New[[]byte, int](lessBytes)
	l.Put([]byte("a"), 1)
	l.Put([]byte("b"), 2)
	l.Clear()
	if l.Len() != 0 {
		t.Fatalf("expected len 0 after clear, got %d", l.Len())
	}
	if _, ok := l.Get([]byte("a")); ok {
		t.Fatalf("expected empty list after clear")
	}
}
