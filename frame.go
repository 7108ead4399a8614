package skr

import (
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/NOT-REAL-GAMES/skr/internal/cmdring"
	"github.com/NOT-REAL-GAMES/skr/renderer"
)

// Frame is the in-progress recording scope returned by FrameBegin and
// consumed by FrameEnd, BeginPass/EndPass, and DrawList.
type Frame struct {
	ring    *cmdring.Ring
	slot    *cmdring.Slot
	slotIdx int
}

// CommandBuffer is the raw command buffer this frame is recording into, for
// a caller issuing Vulkan calls BeginPass/EndPass/DrawList don't cover.
func (f *Frame) CommandBuffer() vk.CommandBuffer { return f.slot.Handle }

// FrameBegin acquires threadID's next command slot, resets its bump
// allocators, and writes the frame-start GPU timestamp.
func (e *Engine) FrameBegin(threadID uint64) (*Frame, error) {
	ring := e.Ring(threadID)
	if ring == nil {
		return nil, ErrInvalidParam("frame begin: thread not initialized")
	}
	slot, idx, err := e.renderFE.FrameBegin(ring)
	if err != nil {
		return nil, ErrDevice("frame begin", err)
	}
	return &Frame{ring: ring, slot: slot, slotIdx: idx}, nil
}

// FrameEnd writes the frame-end timestamp, submits under wait/signal
// semaphores, and returns a Future for the submission.
func (e *Engine) FrameEnd(f *Frame, wait, signal []vk.Semaphore) (*Future, error) {
	future, err := e.renderFE.FrameEnd(f.ring, f.slot, f.slotIdx, wait, signal)
	if err != nil {
		return nil, ErrDevice("frame end", err)
	}
	return newFuture(e, future), nil
}

// GetGPUTimeMs returns the most recently read-back full-frame GPU duration,
// lagging real time by up to Settings.FramesInFlight frames.
func (e *Engine) GetGPUTimeMs() float64 { return e.renderFE.GetGPUTimeMs() }

// BeginPass and EndPass bracket one render pass within a frame. See
// renderer.PassDesc for the attachment and clear-value fields.
func (e *Engine) BeginPass(f *Frame, desc renderer.PassDesc) (renderPassIdx uint32, err error) {
	idx, err := e.renderFE.BeginPass(f.CommandBuffer(), desc)
	if err != nil {
		return 0, ErrDevice("begin pass", err)
	}
	return idx, nil
}

func (e *Engine) EndPass(f *Frame, desc renderer.PassDesc) {
	e.renderFE.EndPass(f.CommandBuffer(), desc)
}

// SetGlobalConstants and SetGlobalTexture install a named global binding
// visible to every material that declares a same-named binding and does
// not override it itself. Compute programs do not read the global table.
func (e *Engine) SetGlobalConstants(name string, buf *Buffer, offset, rng uint64) {
	e.renderFE.SetGlobalConstants(name, buf.Handle(), offset, rng)
}

func (e *Engine) SetGlobalTexture(name string, tex *Texture) {
	e.renderFE.SetGlobalTexture(name, tex.Tracked(), tex.View(), tex.Sampler())
}

// DrawList writes through the system-constants and instance-data buffers,
// sorts and batches list, and issues one push-descriptor-bound (indexed)
// draw per batch. systemBuf and instanceBuf may be nil if list never uses
// the corresponding global binding.
func (e *Engine) DrawList(f *Frame, list *RenderList, systemData []byte, systemBuf, instanceBuf *Buffer, renderPassIdx uint32, instanceMultiplier uint32) error {
	var rawSystemBuf, rawInstanceBuf = rawBuffer(systemBuf), rawBuffer(instanceBuf)

	err := e.renderFE.DrawList(f.CommandBuffer(), list.Raw(), systemData, rawSystemBuf, rawInstanceBuf,
		renderPassIdx, instanceMultiplier, resolveMeshBinding, resolveMaterialBinding)
	if err != nil {
		return ErrDevice("draw list", err)
	}
	return nil
}

// resolveMeshBinding and resolveMaterialBinding recover the *Mesh/*Material
// a render-list item's identity key was minted from — Mesh.Handle and
// Material.Handle are each that object's own pointer value — and resolve
// them to the raw buffer/pipeline handles renderer.DrawList needs.
func resolveMeshBinding(ptr uintptr) renderer.MeshBinding {
	m := (*Mesh)(unsafe.Pointer(ptr))
	b := renderer.MeshBinding{VertexBuffer: m.vertexBuf.Handle()}
	if m.indexBuf != nil {
		b.IndexBuffer = m.indexBuf.Handle()
		b.IndexType = indexType(m.indexBuf.Stride())
	}
	return b
}

func resolveMaterialBinding(ptr uintptr) renderer.MaterialBinding {
	mat := (*Material)(unsafe.Pointer(ptr))
	return renderer.MaterialBinding{Material: mat.raw(), VertexFormat: mat.vertexFormatIdx}
}

func indexType(stride uint32) vk.IndexType {
	if stride == 2 {
		return vk.IndexTypeUint16
	}
	return vk.IndexTypeUint32
}
