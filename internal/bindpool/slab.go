// Package bindpool implements C7: the descriptor-indirection bind-pool slab
// allocator and the material type built on top of it, plus the
// global+material descriptor-write builder the frame renderer and compute
// program both use to bind resources.
package bindpool

import (
	"fmt"
	"sort"
)

// Range is a contiguous run of bind-pool slots.
type Range struct {
	Start uint32
	Count uint32
}

// Slab is a first-fit free-range allocator over a fixed-capacity table of
// descriptor slots, with adjacent free ranges coalesced on every Free so
// fragmentation never accumulates across a session's worth of material
// churn.
type Slab struct {
	capacity uint32
	free     []Range // sorted by Start, non-adjacent, non-overlapping
	used     uint32
}

func NewSlab(capacity uint32) *Slab {
	return &Slab{capacity: capacity, free: []Range{{Start: 0, Count: capacity}}}
}

// Alloc reserves the first free range with at least count slots, splitting
// it if it is larger than needed.
func (s *Slab) Alloc(count uint32) (uint32, error) {
	if count == 0 {
		return 0, fmt.Errorf("bindpool: cannot allocate zero slots")
	}
	for i, r := range s.free {
		if r.Count >= count {
			start := r.Start
			if r.Count == count {
				s.free = append(s.free[:i], s.free[i+1:]...)
			} else {
				s.free[i] = Range{Start: r.Start + count, Count: r.Count - count}
			}
			s.used += count
			return start, nil
		}
	}
	return 0, fmt.Errorf("bindpool: no free range of %d slots (capacity %d, used %d)", count, s.capacity, s.used)
}

// Free returns a previously allocated range to the pool, coalescing it with
// any adjacent free ranges.
func (s *Slab) Free(start, count uint32) {
	if count == 0 {
		return
	}
	s.used -= count
	r := Range{Start: start, Count: count}

	i := sort.Search(len(s.free), func(i int) bool { return s.free[i].Start >= r.Start })
	s.free = append(s.free, Range{})
	copy(s.free[i+1:], s.free[i:])
	s.free[i] = r

	// Merge with the next entry first so index shifts only happen forward.
	if i+1 < len(s.free) && s.free[i].Start+s.free[i].Count == s.free[i+1].Start {
		s.free[i].Count += s.free[i+1].Count
		s.free = append(s.free[:i+1], s.free[i+2:]...)
	}
	if i > 0 && s.free[i-1].Start+s.free[i-1].Count == s.free[i].Start {
		s.free[i-1].Count += s.free[i].Count
		s.free = append(s.free[:i], s.free[i+1:]...)
	}
}

func (s *Slab) Used() uint32      { return s.used }
func (s *Slab) Capacity() uint32  { return s.capacity }
func (s *Slab) FreeRanges() int   { return len(s.free) }
