package skr

import (
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/google/uuid"

	"github.com/NOT-REAL-GAMES/skr/internal/bindpool"
	"github.com/NOT-REAL-GAMES/skr/internal/destroylist"
	"github.com/NOT-REAL-GAMES/skr/internal/gpubuf"
	"github.com/NOT-REAL-GAMES/skr/internal/handle"
	"github.com/NOT-REAL-GAMES/skr/internal/pipelinecache"
	"github.com/NOT-REAL-GAMES/skr/shader"
)

// Material is one shader instance bound to this engine's pipeline cache and
// bind pool: its reflected $Global mirror, texture/buffer bindings, and the
// descriptor range the push-descriptor writer reads at draw time.
type Material struct {
	eng *Engine
	idx uint32
	id  uuid.UUID
	mat *bindpool.Material

	// vertexFormatIdx is fixed at creation: a material's shader declares a
	// specific vertex layout, so every mesh drawn with it must share the
	// same interned format. DrawList's material resolver reads this back
	// since a render-list item's material identity alone has no other path
	// to the vertex format its pipeline was built against.
	vertexFormatIdx uint32
}

// CreateMaterial interns sh's pipeline-affecting key and vf's vertex format,
// and reserves the material's bind-pool range. hasSystemBuffer and
// instanceStride pass through to the reflected binding layout unchanged.
func (e *Engine) CreateMaterial(sh *shader.Shader, key pipelinecache.MaterialKey, vf pipelinecache.VertexFormat, hasSystemBuffer bool, instanceStride uint32) (*Material, error) {
	idx, id := e.materials.Alloc()
	if idx == handle.Invalid {
		return nil, ErrOutOfMemory("create material: table exhausted", nil)
	}

	mat, err := e.pool.CreateMaterial(sh, key, hasSystemBuffer, instanceStride)
	if err != nil {
		e.materials.Free(idx)
		return nil, ErrDevice("create material", err)
	}
	vfIdx := e.cache.RegisterVertexFormat(vf)

	m := &Material{eng: e, idx: idx, id: id, mat: mat, vertexFormatIdx: vfIdx}
	e.mu.Lock()
	e.materialsByIdx[idx] = m
	e.mu.Unlock()
	return m, nil
}

func (m *Material) PipelineIndex() uint32     { return m.mat.PipelineIndex() }
func (m *Material) VertexFormatIndex() uint32 { return m.vertexFormatIdx }

// raw exposes the wrapped bind-pool material to the frame renderer's
// DrawList resolver, which needs the concrete type renderer.DrawList takes.
func (m *Material) raw() *bindpool.Material { return m.mat }

// Handle is this material's identity key for renderlist.Item.Material.
func (m *Material) Handle() uintptr { return uintptr(unsafe.Pointer(m)) }

func (m *Material) SetTexture(name string, tex *Texture) error {
	return wrapBindErr(m.mat.SetTexture(name, tex.View(), tex.Sampler(), vk.ImageLayoutShaderReadOnlyOptimal))
}

func (m *Material) SetStorageTexture(name string, tex *Texture, layout vk.ImageLayout) error {
	return wrapBindErr(m.mat.SetTexture(name, tex.View(), nil, layout))
}

func (m *Material) SetBuffer(name string, buf *Buffer, offset, rng uint64) error {
	return wrapBindErr(m.mat.SetBuffer(name, rawBuffer(buf), offset, rng))
}

func (m *Material) SetParam(name string, data []byte) error {
	return wrapBindErr(m.mat.SetParam(name, data))
}

func (m *Material) SetParams(values map[string][]byte) error {
	return wrapBindErr(m.mat.SetParams(values))
}

func wrapBindErr(err error) error {
	if err == nil {
		return nil
	}
	return ErrInvalidParam(err.Error())
}

// rawBuffer reaches into the underlying gpubuf.Buffer a skr.Buffer wraps,
// for pass-through calls into bindpool/compute that operate on it directly.
func rawBuffer(b *Buffer) *gpubuf.Buffer {
	if b == nil {
		return nil
	}
	return b.gpu()
}

// Destroy unregisters the material from the pipeline cache and enqueues its
// bind-pool range onto threadID's active command slot's destroy list, so
// in-flight draws that still reference the range finish before its slots
// are reused.
func (m *Material) Destroy(threadID uint64) error {
	ring := m.eng.Ring(threadID)
	if ring == nil {
		return ErrInvalidParam("destroy material: thread not initialized")
	}
	slot, idx, err := ring.Acquire()
	if err != nil {
		return ErrDevice("destroy material: acquire command slot", err)
	}
	start, count := m.mat.Range()
	if count > 0 {
		slot.Destroy.Add(destroylist.Entry{Kind: destroylist.KindBindPoolRange, Start: start, Count: count})
	}
	if err := ring.Release(idx); err != nil {
		return ErrDevice("destroy material: release command slot", err)
	}

	m.mat.Destroy(m.eng.cache)

	m.eng.mu.Lock()
	delete(m.eng.materialsByIdx, m.idx)
	m.eng.mu.Unlock()
	m.eng.materials.Free(m.idx)
	return nil
}
