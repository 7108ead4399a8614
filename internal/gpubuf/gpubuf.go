// Package gpubuf implements C5: static and ring-mapped dynamic buffers, and
// the frame-scoped bump allocator used for per-draw uniform/storage data.
package gpubuf

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/NOT-REAL-GAMES/skr/vecmath"
)

// Type is the buffer's usage category.
type Type int

const (
	TypeVertex Type = iota
	TypeIndex
	TypeConstant // uniform
	TypeStorage
)

// Use selects the buffer's update pattern.
type Use int

const (
	UseStatic Use = iota
	UseDynamic
	UseComputeRead
	UseComputeWrite
	UseComputeReadWrite
)

// Device is the seam into the Vulkan device this package needs: create a
// buffer, allocate+bind its memory, map/unmap it, and stage an upload
// through a scratch buffer for static initial data.
type Device interface {
	CreateBuffer(size uint64, usage vk.BufferUsageFlags, hostVisible bool) (vk.Buffer, vk.DeviceMemory, error)
	DestroyBuffer(b vk.Buffer, m vk.DeviceMemory)
	MapMemory(m vk.DeviceMemory, size uint64) (unsafe.Pointer, error)
	UnmapMemory(m vk.DeviceMemory)
	// StageUpload copies data into dst via a staging buffer, enqueued onto
	// the currently active command slot rather than blocking the caller
	// queue or the GPU.
	StageUpload(dst vk.Buffer, data []byte) error
	MinUBOAlignment() uint64
	MinSSBOAlignment() uint64
	FramesInFlight() uint32
}

// Buffer is one GPU buffer, possibly backed by a ring of host-visible slots
// once a dynamic buffer has been written more than once.
type Buffer struct {
	dev    Device
	typ    Type
	use    Use
	stride uint32
	count  uint32
	size   uint64

	handle vk.Buffer
	memory vk.DeviceMemory
	mapped unsafe.Pointer

	// ring holds additional {handle, memory, mapped} slots once migrated;
	// ring[0] aliases the fields above conceptually once migration occurs.
	ring       []ringSlot
	ringActive int
	writes     int
}

type ringSlot struct {
	handle vk.Buffer
	memory vk.DeviceMemory
	mapped unsafe.Pointer
}

func usageFlags(t Type, use Use) vk.BufferUsageFlags {
	flags := vk.BufferUsageFlags(vk.BufferUsageTransferDstBit)
	switch t {
	case TypeVertex:
		flags |= vk.BufferUsageFlags(vk.BufferUsageVertexBufferBit)
	case TypeIndex:
		flags |= vk.BufferUsageFlags(vk.BufferUsageIndexBufferBit)
	case TypeConstant:
		flags |= vk.BufferUsageFlags(vk.BufferUsageUniformBufferBit)
	case TypeStorage:
		flags |= vk.BufferUsageFlags(vk.BufferUsageStorageBufferBit)
	}
	if use == UseComputeRead || use == UseComputeReadWrite {
		flags |= vk.BufferUsageFlags(vk.BufferUsageStorageBufferBit)
	}
	if use == UseComputeWrite || use == UseComputeReadWrite {
		flags |= vk.BufferUsageFlags(vk.BufferUsageStorageBufferBit | vk.BufferUsageTransferSrcBit)
	}
	return flags
}

// Create builds a buffer: device-local with staged upload when
// initial data is supplied and use is static; host-visible mapped when
// dynamic; uninitialized device-local otherwise.
func Create(dev Device, data []byte, count, stride uint32, t Type, use Use) (*Buffer, error) {
	if stride == 0 || count == 0 {
		return nil, fmt.Errorf("gpubuf: count and stride must be non-zero")
	}
	size := uint64(count) * uint64(stride)
	b := &Buffer{dev: dev, typ: t, use: use, stride: stride, count: count, size: size}

	hostVisible := use == UseDynamic
	handle, mem, err := dev.CreateBuffer(size, usageFlags(t, use), hostVisible)
	if err != nil {
		return nil, fmt.Errorf("gpubuf: create buffer: %w", err)
	}
	b.handle = handle
	b.memory = mem

	if hostVisible {
		ptr, err := dev.MapMemory(mem, size)
		if err != nil {
			dev.DestroyBuffer(handle, mem)
			return nil, fmt.Errorf("gpubuf: map memory: %w", err)
		}
		b.mapped = ptr
	} else if data != nil {
		if err := dev.StageUpload(handle, data); err != nil {
			dev.DestroyBuffer(handle, mem)
			return nil, fmt.Errorf("gpubuf: stage upload: %w", err)
		}
	}
	return b, nil
}

func (b *Buffer) Handle() vk.Buffer { return b.activeHandle() }
func (b *Buffer) Size() uint64      { return b.size }
func (b *Buffer) Stride() uint32    { return b.stride }
func (b *Buffer) Mapped() bool      { return b.mapped != nil || len(b.ring) > 0 }

// Alloc is one (vk.Buffer, vk.DeviceMemory) pair backing a Buffer. A static
// or not-yet-migrated dynamic buffer has exactly one; a buffer migrated to a
// ring (see Set) has one per ring slot.
type Alloc struct {
	Buffer vk.Buffer
	Memory vk.DeviceMemory
}

// Allocs reports every (vk.Buffer, vk.DeviceMemory) pair this buffer owns,
// for a caller that wants to enqueue them onto a deferred destroy list
// itself instead of calling Destroy immediately.
func (b *Buffer) Allocs() []Alloc {
	if len(b.ring) > 0 {
		out := make([]Alloc, len(b.ring))
		for i, s := range b.ring {
			out[i] = Alloc{Buffer: s.handle, Memory: s.memory}
		}
		return out
	}
	return []Alloc{{Buffer: b.handle, Memory: b.memory}}
}

func (b *Buffer) activeHandle() vk.Buffer {
	if len(b.ring) > 0 {
		return b.ring[b.ringActive].handle
	}
	return b.handle
}

func (b *Buffer) activeMapped() unsafe.Pointer {
	if len(b.ring) > 0 {
		return b.ring[b.ringActive].mapped
	}
	return b.mapped
}

// Set writes data into a dynamic buffer. The first write goes directly to
// the mapped pointer; the second write migrates the buffer to an internal
// ring of up to FramesInFlight host-visible slots, and that write and every
// later one advance the active slot so an in-flight GPU read sees a stable
// copy.
//
// This module resolves the open question of "mapped vs unmapped after
// initial upload" by keeping dynamic buffers mapped for their
// entire lifetime — the first Create call already maps it, and Set never
// unmaps — rather than lazily mapping only on first Set.
func (b *Buffer) Set(data []byte) error {
	if b.use != UseDynamic {
		return fmt.Errorf("gpubuf: Set is only valid on dynamic buffers")
	}
	if uint64(len(data)) > b.size {
		return fmt.Errorf("gpubuf: write of %d bytes exceeds buffer size %d", len(data), b.size)
	}

	b.writes++
	if b.writes > 1 && len(b.ring) == 0 {
		if err := b.migrateToRing(); err != nil {
			return err
		}
	}

	if len(b.ring) > 0 {
		b.ringActive = (b.ringActive + 1) % len(b.ring)
	}

	dst := b.activeMapped()
	copyToMapped(dst, data)
	return nil
}

func (b *Buffer) migrateToRing() error {
	n := int(b.dev.FramesInFlight())
	if n < 1 {
		n = 1
	}
	ring := make([]ringSlot, n)
	// Slot 0 reuses the buffer created at Create time.
	ring[0] = ringSlot{handle: b.handle, memory: b.memory, mapped: b.mapped}
	for i := 1; i < n; i++ {
		handle, mem, err := b.dev.CreateBuffer(b.size, usageFlags(b.typ, b.use), true)
		if err != nil {
			return fmt.Errorf("gpubuf: migrate to ring slot %d: %w", i, err)
		}
		ptr, err := b.dev.MapMemory(mem, b.size)
		if err != nil {
			return fmt.Errorf("gpubuf: map ring slot %d: %w", i, err)
		}
		ring[i] = ringSlot{handle: handle, memory: mem, mapped: ptr}
	}
	b.ring = ring
	b.ringActive = 0
	return nil
}

func (b *Buffer) Destroy() {
	if len(b.ring) > 0 {
		for _, s := range b.ring {
			b.dev.DestroyBuffer(s.handle, s.memory)
		}
		b.ring = nil
		return
	}
	if b.handle != nil {
		b.dev.DestroyBuffer(b.handle, b.memory)
		b.handle = nil
	}
}

func copyToMapped(dst unsafe.Pointer, data []byte) {
	if dst == nil || len(data) == 0 {
		return
	}
	out := unsafe.Slice((*byte)(dst), len(data))
	copy(out, data)
}

// Write is a (buffer, offset) result produced by the bump allocator.
type Write struct {
	Buffer *Buffer
	Offset uint64
}

// BumpAllocator is a frame-scoped linear allocator producing aligned
// (buffer, offset) pairs.
type BumpAllocator struct {
	dev       Device
	alignment uint64
	isUBO     bool

	main       *Buffer
	used       uint64
	hwm        uint64
	overflow   []*Buffer
}

// NewBumpAllocator creates an allocator with an initial 4 KiB main buffer.
func NewBumpAllocator(dev Device, isUBO bool) (*BumpAllocator, error) {
	alignment := dev.MinSSBOAlignment()
	if isUBO {
		alignment = dev.MinUBOAlignment()
	}
	a := &BumpAllocator{dev: dev, alignment: alignment, isUBO: isUBO}
	buf, err := a.newBuffer(4096)
	if err != nil {
		return nil, err
	}
	a.main = buf
	return a, nil
}

func (a *BumpAllocator) newBuffer(size uint64) (*Buffer, error) {
	t := TypeStorage
	if a.isUBO {
		t = TypeConstant
	}
	count := size
	return Create(a.dev, nil, uint32(count), 1, t, UseDynamic)
}

// AllocWrite writes data into the main buffer at the next aligned offset,
// falling back to a size-fitted overflow buffer, destroyed by the next
// Reset, if the main buffer is full.
func (a *BumpAllocator) AllocWrite(data []byte) (Write, error) {
	size := uint64(len(data))
	alignedUsed := vecmath.AlignUp(a.used, a.alignment)

	if alignedUsed+size <= a.main.Size() {
		if err := writeAt(a.main, alignedUsed, data); err != nil {
			return Write{}, err
		}
		a.used = alignedUsed + size
		a.bumpHWM()
		return Write{Buffer: a.main, Offset: alignedUsed}, nil
	}

	buf, err := a.newBuffer(size)
	if err != nil {
		return Write{}, fmt.Errorf("bump allocator: overflow buffer: %w", err)
	}
	if err := writeAt(buf, 0, data); err != nil {
		return Write{}, err
	}
	a.overflow = append(a.overflow, buf)
	a.used = alignedUsed + size
	a.bumpHWM()
	return Write{Buffer: buf, Offset: 0}, nil
}

func (a *BumpAllocator) bumpHWM() {
	if a.used > a.hwm {
		a.hwm = a.used
	}
}

// Reset is called at frame start: if the high-water mark exceeds the main
// buffer's size, a new main buffer is created at hwm*1.25 (min 4 KiB); all
// overflow buffers from the prior frame are destroyed.
func (a *BumpAllocator) Reset() error {
	for _, o := range a.overflow {
		o.Destroy()
	}
	a.overflow = nil

	if a.hwm > a.main.Size() {
		newSize := uint64(float64(a.hwm) * 1.25)
		if newSize < 4096 {
			newSize = 4096
		}
		newMain, err := a.newBuffer(newSize)
		if err != nil {
			return fmt.Errorf("bump allocator: grow main buffer: %w", err)
		}
		a.main.Destroy()
		a.main = newMain
	}

	a.used = 0
	a.hwm = 0
	return nil
}

func (a *BumpAllocator) HighWaterMark() uint64 { return a.hwm }
func (a *BumpAllocator) MainSize() uint64       { return a.main.Size() }
func (a *BumpAllocator) Used() uint64           { return a.used }

func writeAt(b *Buffer, offset uint64, data []byte) error {
	if offset+uint64(len(data)) > b.Size() {
		return fmt.Errorf("gpubuf: write at %d of %d bytes exceeds buffer size %d", offset, len(data), b.Size())
	}
	base := b.activeMapped()
	if base == nil {
		return fmt.Errorf("gpubuf: buffer is not mapped")
	}
	dst := unsafe.Add(base, offset)
	copyToMapped(dst, data)
	return nil
}
