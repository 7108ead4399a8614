// Package arena implements C1: pluggable allocator hooks and a fixed
// reserve/commit scratch arena for short-lived per-call data (descriptor
// write scratch, push-constant staging buffers).
package arena

import (
	"unsafe"

	"github.com/NOT-REAL-GAMES/skr/config"
)

// Hooks is the active allocator hook set, defaulting to Go's own allocator.
// Set at Init and left immutable for the lifetime of the engine context.
type Hooks struct {
	alloc   func(size uintptr) unsafe.Pointer
	realloc func(ptr unsafe.Pointer, size uintptr) unsafe.Pointer
	free    func(ptr unsafe.Pointer)
}

func defaultAlloc(size uintptr) unsafe.Pointer {
	b := make([]byte, size+1)
	return unsafe.Pointer(&b[0])
}

func NewHooks(override *config.AllocatorHooks) *Hooks {
	if override != nil && override.Alloc != nil && override.Free != nil {
		realloc := override.Realloc
		if realloc == nil {
			realloc = func(ptr unsafe.Pointer, size uintptr) unsafe.Pointer {
				override.Free(ptr)
				return override.Alloc(size)
			}
		}
		return &Hooks{alloc: override.Alloc, realloc: realloc, free: override.Free}
	}
	return &Hooks{
		alloc:   defaultAlloc,
		realloc: func(ptr unsafe.Pointer, size uintptr) unsafe.Pointer { return defaultAlloc(size) },
		free:    func(unsafe.Pointer) {},
	}
}

func (h *Hooks) Alloc(size uintptr) unsafe.Pointer                        { return h.alloc(size) }
func (h *Hooks) Realloc(ptr unsafe.Pointer, size uintptr) unsafe.Pointer { return h.realloc(ptr, size) }
func (h *Hooks) Free(ptr unsafe.Pointer)                                  { h.free(ptr) }

// Scratch is a bump-only byte arena reset once per call scope. It never
// grows past its initial reservation; callers that overflow it fall back to
// a heap-allocated slice (mirroring the bump allocator's own overflow-buffer
// strategy, but for host memory rather than GPU buffers).
type Scratch struct {
	buf    []byte
	offset int
}

func NewScratch(reserve int) *Scratch {
	return &Scratch{buf: make([]byte, reserve)}
}

// Alloc returns a size-byte slice from the arena, or a fresh heap slice if
// the arena is exhausted.
func (s *Scratch) Alloc(size int) []byte {
	if s.offset+size > len(s.buf) {
		return make([]byte, size)
	}
	b := s.buf[s.offset : s.offset+size]
	s.offset += size
	return b
}

// Reset rewinds the arena for the next call scope without releasing memory.
func (s *Scratch) Reset() {
	s.offset = 0
}
