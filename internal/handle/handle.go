// Package handle allocates the dense integer indices the engine's public
// resource tables (textures, buffers, meshes, materials, compute programs,
// render lists) hand out, stamping each with a UUID
// that never repeats across the process so stale log lines and diagnostics
// from two different resources are never confused, even after the dense
// index is recycled.
package handle

import (
	"sync"

	"github.com/google/uuid"
)

// Invalid is returned for a handle that failed to allocate.
const Invalid uint32 = 0xFFFFFFFF

// Table hands out dense indices into a fixed-capacity slot array, reusing
// freed slots, and keeps a UUID per live slot for diagnostics.
type Table struct {
	mu    sync.Mutex
	free  []uint32
	ids   []uuid.UUID
	alive []bool
	cap   uint32
}

func NewTable(capacity uint32) *Table {
	return &Table{
		ids:   make([]uuid.UUID, 0, capacity),
		alive: make([]bool, 0, capacity),
		cap:   capacity,
	}
}

// Alloc returns a fresh dense index and its UUID, or (Invalid, zero-uuid) if
// the table is at capacity.
func (t *Table) Alloc() (uint32, uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var idx uint32
	if n := len(t.free); n > 0 {
		idx = t.free[n-1]
		t.free = t.free[:n-1]
	} else {
		idx = uint32(len(t.alive))
		if idx >= t.cap {
			return Invalid, uuid.UUID{}
		}
		t.alive = append(t.alive, false)
		t.ids = append(t.ids, uuid.UUID{})
	}
	id := uuid.New()
	t.ids[idx] = id
	t.alive[idx] = true
	return idx, id
}

// Free returns idx to the pool. Freeing an already-free index is a no-op,
// matching the idempotent-destroy contract.
func (t *Table) Free(idx uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if idx >= uint32(len(t.alive)) || !t.alive[idx] {
		return
	}
	t.alive[idx] = false
	t.free = append(t.free, idx)
}

func (t *Table) Alive(idx uint32) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return idx < uint32(len(t.alive)) && t.alive[idx]
}

func (t *Table) ID(idx uint32) uuid.UUID {
	t.mu.Lock()
	defer t.mu.Unlock()
	if idx >= uint32(len(t.ids)) {
		return uuid.UUID{}
	}
	return t.ids[idx]
}
