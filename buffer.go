package skr

import (
	vk "github.com/goki/vulkan"
	"github.com/google/uuid"

	"github.com/NOT-REAL-GAMES/skr/internal/destroylist"
	"github.com/NOT-REAL-GAMES/skr/internal/gpubuf"
	"github.com/NOT-REAL-GAMES/skr/internal/handle"
)

// Buffer is a handle to one GPU buffer: vertex, index, constant, or storage.
type Buffer struct {
	eng *Engine
	idx uint32
	id  uuid.UUID
	buf *gpubuf.Buffer
}

// CreateBuffer allocates a buffer of the given type and use. data supplies
// the initial contents for a static buffer; it is ignored (and should be
// nil) for a dynamic buffer, which is written later via Set.
func (e *Engine) CreateBuffer(data []byte, count, stride uint32, typ gpubuf.Type, use gpubuf.Use) (*Buffer, error) {
	idx, id := e.buffers.Alloc()
	if idx == handle.Invalid {
		return nil, ErrOutOfMemory("create buffer: table exhausted", nil)
	}

	buf, err := gpubuf.Create(e.backend, data, count, stride, typ, use)
	if err != nil {
		e.buffers.Free(idx)
		return nil, ErrDevice("create buffer", err)
	}

	b := &Buffer{eng: e, idx: idx, id: id, buf: buf}
	e.mu.Lock()
	e.buffersByIdx[idx] = b
	e.mu.Unlock()
	return b, nil
}

func (b *Buffer) Size() uint64      { return b.buf.Size() }
func (b *Buffer) Stride() uint32    { return b.buf.Stride() }
func (b *Buffer) Handle() vk.Buffer { return b.buf.Handle() }

// Set writes data into a dynamic buffer; see gpubuf.Buffer.Set for the
// mapped-ring migration the second call triggers and the slot advance of
// every later call.
func (b *Buffer) Set(data []byte) error {
	if err := b.buf.Set(data); err != nil {
		return ErrInvalidParam(err.Error())
	}
	return nil
}

// gpu exposes the wrapped buffer to other package-internal wrapper types
// (Mesh, Material, ComputeProgram) without making it part of the public API.
func (b *Buffer) gpu() *gpubuf.Buffer { return b.buf }

// Destroy enqueues the buffer onto threadID's active command slot's destroy
// list and frees the handle for reuse immediately.
func (b *Buffer) Destroy(threadID uint64) error {
	ring := b.eng.Ring(threadID)
	if ring == nil {
		return ErrInvalidParam("destroy buffer: thread not initialized")
	}
	slot, idx, err := ring.Acquire()
	if err != nil {
		return ErrDevice("destroy buffer: acquire command slot", err)
	}
	for _, a := range b.buf.Allocs() {
		slot.Destroy.Add(destroylist.Entry{Kind: destroylist.KindBuffer, Buffer: a.Buffer})
		slot.Destroy.Add(destroylist.Entry{Kind: destroylist.KindDeviceMemory, Memory: a.Memory})
	}
	if err := ring.Release(idx); err != nil {
		return ErrDevice("destroy buffer: release command slot", err)
	}

	b.eng.mu.Lock()
	delete(b.eng.buffersByIdx, b.idx)
	b.eng.mu.Unlock()
	b.eng.buffers.Free(b.idx)
	return nil
}
