package handle

import (
	"testing"

	"github.com/google/uuid"
)

func TestAllocFreeReuse(t *testing.T) {
	tbl := NewTable(2)

	idx1, id1 := tbl.Alloc()
	if idx1 != 0 {
		t.Fatalf("first alloc: got index %d, want 0", idx1)
	}
	if !tbl.Alive(idx1) {
		t.Fatalf("index %d should be alive after alloc", idx1)
	}
	if tbl.ID(idx1) != id1 {
		t.Fatalf("ID(%d) = %v, want %v", idx1, tbl.ID(idx1), id1)
	}

	idx2, _ := tbl.Alloc()
	if idx2 != 1 {
		t.Fatalf("second alloc: got index %d, want 1", idx2)
	}

	if idx, _ := tbl.Alloc(); idx != Invalid {
		t.Fatalf("alloc past capacity: got index %d, want Invalid", idx)
	}

	tbl.Free(idx1)
	if tbl.Alive(idx1) {
		t.Fatalf("index %d should not be alive after Free", idx1)
	}

	idx3, id3 := tbl.Alloc()
	if idx3 != idx1 {
		t.Fatalf("alloc after free: got index %d, want reused index %d", idx3, idx1)
	}
	if id3 == id1 {
		t.Fatalf("reused index got the same UUID as before freeing")
	}
}

func TestFreeIsIdempotent(t *testing.T) {
	tbl := NewTable(2)
	idx, _ := tbl.Alloc()
	tbl.Free(idx)
	tbl.Free(idx) // must not panic or double-enqueue the index onto the free list

	i1, _ := tbl.Alloc()
	i2, _ := tbl.Alloc()
	if i1 == i2 {
		t.Fatalf("double free corrupted the free list: got the same index %d twice", i1)
	}
	if i3, _ := tbl.Alloc(); i3 != Invalid {
		t.Fatalf("alloc past capacity after reuse: got index %d, want Invalid", i3)
	}
}

func TestAliveAndIDOnUnallocatedIndex(t *testing.T) {
	tbl := NewTable(4)
	if tbl.Alive(3) {
		t.Fatalf("never-allocated index should not be alive")
	}
	if id := tbl.ID(3); id != (uuid.UUID{}) {
		t.Fatalf("ID of a never-allocated index = %v, want the zero UUID", id)
	}
	if tbl.Alive(99) {
		t.Fatalf("out-of-range index should not be alive")
	}
}
