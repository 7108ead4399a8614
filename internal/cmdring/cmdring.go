// Package cmdring implements C3: a per-thread ring of command buffers, each
// slot fence-protected and carrying its own destroy list and bump
// allocators, with a reentrant acquire/release and a generation-counted
// future handle for external completion polling.
package cmdring

import (
	"fmt"
	"sync"

	vk "github.com/goki/vulkan"

	"github.com/NOT-REAL-GAMES/skr/internal/destroylist"
	"github.com/NOT-REAL-GAMES/skr/internal/gpubuf"
)

// SlotState is the command-slot state machine.
type SlotState int

const (
	SlotFree SlotState = iota
	SlotRecording
	SlotSubmitted
	SlotReused
)

// Slot owns one command buffer, its fence, its destroy list, and the two
// bump allocators (const/uniform, storage) scoped to its lifetime.
type Slot struct {
	Handle     vk.CommandBuffer
	Fence      vk.Fence
	Destroy    *destroylist.List
	ConstBump  *gpubuf.BumpAllocator
	StorageBump *gpubuf.BumpAllocator

	mu         sync.Mutex
	state      SlotState
	refCount   int
	generation uint64
}

// Generation returns the slot's current generation (tests/diagnostics).
func (s *Slot) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

func (s *Slot) State() SlotState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Backend is the thin seam into the Vulkan device the ring needs: begin/end
// a command buffer, wait/reset a fence, submit. Kept as an interface so the
// ring's acquire/release/submit logic is unit-testable without a device.
type Backend interface {
	AllocateCommandBuffer(pool vk.CommandPool) (vk.CommandBuffer, error)
	BeginCommandBuffer(cb vk.CommandBuffer) error
	EndCommandBuffer(cb vk.CommandBuffer) error
	CreateFence(signaled bool) (vk.Fence, error)
	WaitFence(f vk.Fence) error
	ResetFence(f vk.Fence) error
	Submit(queueFamily uint32, cb vk.CommandBuffer, wait, signal []vk.Semaphore, fence vk.Fence) error
}

// Ring is the per-thread ring of slots. Submissions from one ring are
// serialized by that ring's own submission mutex; submissions from
// different rings to the same queue family are not serialized here.
type Ring struct {
	backend     Backend
	pool        vk.CommandPool
	queueFamily uint32
	slots       []*Slot
	newBump     func() (*gpubuf.BumpAllocator, *gpubuf.BumpAllocator)

	mu           sync.Mutex
	submitMu     sync.Mutex
	activeSlot   int   // index of the slot currently recording on this ring, or -1
	submitOrder  []int // indices in the order they were last submitted, oldest first
}

func NewRing(backend Backend, pool vk.CommandPool, queueFamily uint32, size int,
	newBump func() (*gpubuf.BumpAllocator, *gpubuf.BumpAllocator),
	newDestroyList func() *destroylist.List) (*Ring, error) {

	r := &Ring{
		backend:     backend,
		pool:        pool,
		queueFamily: queueFamily,
		slots:       make([]*Slot, size),
		newBump:     newBump,
		activeSlot:  -1,
	}
	for i := range r.slots {
		f, err := backend.CreateFence(true)
		if err != nil {
			return nil, fmt.Errorf("cmdring: create fence %d: %w", i, err)
		}
		var cb, e *gpubuf.BumpAllocator
		if newBump != nil {
			cb, e = newBump()
		}
		r.slots[i] = &Slot{
			Fence:       f,
			Destroy:     newDestroyList(),
			ConstBump:   cb,
			StorageBump: e,
			state:       SlotFree,
		}
	}
	return r, nil
}

// Acquire is reentrant within one recording scope: the first call selects a
// slot (waiting on the oldest fence and draining its destroy list if the
// ring is exhausted), begins the command buffer, and returns it; subsequent
// calls before the matching number of Releases return the same slot and
// bump the ref-count.
func (r *Ring) Acquire() (*Slot, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.activeSlot >= 0 {
		s := r.slots[r.activeSlot]
		s.mu.Lock()
		s.refCount++
		s.mu.Unlock()
		return s, r.activeSlot, nil
	}

	idx, err := r.selectSlot()
	if err != nil {
		return nil, -1, err
	}
	s := r.slots[idx]

	cb, err := r.backend.AllocateCommandBuffer(r.pool)
	if err != nil {
		return nil, -1, fmt.Errorf("cmdring: allocate command buffer: %w", err)
	}
	s.Handle = cb
	if err := r.backend.BeginCommandBuffer(cb); err != nil {
		return nil, -1, fmt.Errorf("cmdring: begin command buffer: %w", err)
	}

	s.mu.Lock()
	s.state = SlotRecording
	s.refCount = 1
	s.mu.Unlock()

	r.activeSlot = idx
	return s, idx, nil
}

// selectSlot finds the next free slot, or if all are live, waits on the
// oldest (the earliest-submitted slot) and recycles it by
// bumping its generation and draining its destroy list.
func (r *Ring) selectSlot() (int, error) {
	for i, s := range r.slots {
		if s.State() == SlotFree {
			return i, nil
		}
	}
	// Ring exhausted: wait on the oldest still-submitted slot.
	if len(r.submitOrder) == 0 {
		return -1, fmt.Errorf("cmdring: ring exhausted with no submitted slot to reclaim")
	}
	oldest := r.submitOrder[0]
	r.submitOrder = r.submitOrder[1:]
	s := r.slots[oldest]
	if err := r.backend.WaitFence(s.Fence); err != nil {
		return -1, fmt.Errorf("cmdring: wait fence: %w", err)
	}
	s.mu.Lock()
	s.generation++
	s.state = SlotReused
	s.mu.Unlock()
	s.Destroy.Execute()
	if err := r.backend.ResetFence(s.Fence); err != nil {
		return -1, fmt.Errorf("cmdring: reset fence: %w", err)
	}
	s.mu.Lock()
	s.state = SlotFree
	s.mu.Unlock()
	return oldest, nil
}

// Release decrements the active scope's ref-count. On the outermost release
// it ends the command buffer and submits it under the ring's submission
// mutex, signaling the slot's fence.
func (r *Ring) Release(slotIdx int) error {
	return r.release(slotIdx, nil, nil)
}

// EndSubmit behaves like the outermost Release but attaches wait/signal
// semaphores (used by the swapchain present path) and returns a
// Future the caller can poll or block on.
func (r *Ring) EndSubmit(slotIdx int, wait, signal []vk.Semaphore) (*Future, error) {
	if err := r.release(slotIdx, wait, signal); err != nil {
		return nil, err
	}
	s := r.slots[slotIdx]
	return &Future{slot: s, generation: s.Generation()}, nil
}

func (r *Ring) release(slotIdx int, wait, signal []vk.Semaphore) error {
	s := r.slots[slotIdx]
	s.mu.Lock()
	s.refCount--
	outermost := s.refCount == 0
	s.mu.Unlock()
	if !outermost {
		return nil
	}

	if err := r.backend.EndCommandBuffer(s.Handle); err != nil {
		return fmt.Errorf("cmdring: end command buffer: %w", err)
	}

	r.submitMu.Lock()
	err := r.backend.Submit(r.queueFamily, s.Handle, wait, signal, s.Fence)
	r.submitMu.Unlock()
	if err != nil {
		return fmt.Errorf("cmdring: submit: %w", err)
	}

	s.mu.Lock()
	s.state = SlotSubmitted
	s.mu.Unlock()

	r.mu.Lock()
	if r.activeSlot == slotIdx {
		r.activeSlot = -1
	}
	r.submitOrder = append(r.submitOrder, slotIdx)
	r.mu.Unlock()
	return nil
}

// Future is a {slot, generation} capability to observe completion of a
// command-ring submission.
type Future struct {
	slot       *Slot
	generation uint64
}

// Check reports done once the slot's generation has moved on (it was reused
// and the future is stale). It never blocks and does not query the fence: a
// submission whose fence has signaled reports not done until its slot is
// reused.
func (f *Future) Check(backend Backend) bool {
	if f.slot.Generation() != f.generation {
		return true
	}
	f.slot.mu.Lock()
	signaled := f.slot.state == SlotReused
	f.slot.mu.Unlock()
	if signaled {
		return true
	}
	// Non-blocking poll: WaitFence with the backend's own zero-timeout path
	// is left to the backend implementation; cmdring only tracks state.
	return false
}

// Wait blocks on the slot's fence unless the generation has already moved
// on, in which case it returns immediately.
func (f *Future) Wait(backend Backend) error {
	if f.slot.Generation() != f.generation {
		return nil
	}
	return backend.WaitFence(f.slot.Fence)
}
