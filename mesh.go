package skr

import (
	"unsafe"

	"github.com/google/uuid"

	"github.com/NOT-REAL-GAMES/skr/internal/gpubuf"
	"github.com/NOT-REAL-GAMES/skr/internal/handle"
	"github.com/NOT-REAL-GAMES/skr/internal/pipelinecache"
)

// Mesh is a vertex format plus the vertex (and optionally index) buffers
// drawn against it. A mesh either owns the buffers it was built with, in
// which case destroying the mesh destroys them too, or wraps buffers the
// caller created and keeps ownership of, for meshes sharing a vertex pool.
type Mesh struct {
	eng *Engine
	idx uint32
	id  uuid.UUID

	vertexFormat    pipelinecache.VertexFormat
	vertexFormatIdx uint32

	vertexBuf   *Buffer
	indexBuf    *Buffer
	ownsVertex  bool
	ownsIndex   bool
	vertexCount uint32
	indexCount  uint32
}

// CreateMesh builds a mesh that owns its vertex buffer and, if indexData is
// non-nil, its index buffer. vf is interned into the shared vertex-format
// table; equal formats across many meshes collapse to one pipeline cache
// entry.
func (e *Engine) CreateMesh(vf pipelinecache.VertexFormat, vertexData []byte, vertexCount uint32, indexData []byte, indexCount uint32, indexStride uint32) (*Mesh, error) {
	vbuf, err := e.CreateBuffer(vertexData, vertexCount, vf.Stride, gpubuf.TypeVertex, gpubuf.UseStatic)
	if err != nil {
		return nil, err
	}

	var ibuf *Buffer
	if indexData != nil {
		ibuf, err = e.CreateBuffer(indexData, indexCount, indexStride, gpubuf.TypeIndex, gpubuf.UseStatic)
		if err != nil {
			vbuf.Destroy(0)
			return nil, err
		}
	}

	return e.newMesh(vf, vbuf, vertexCount, true, ibuf, indexCount, indexData != nil)
}

// CreateMeshFromBuffers builds a mesh over buffers the caller already owns
// (a shared vertex/index pool, for instance). Destroying the mesh leaves
// vertexBuf and indexBuf alive; the caller destroys them independently.
func (e *Engine) CreateMeshFromBuffers(vf pipelinecache.VertexFormat, vertexBuf *Buffer, vertexCount uint32, indexBuf *Buffer, indexCount uint32) (*Mesh, error) {
	return e.newMesh(vf, vertexBuf, vertexCount, false, indexBuf, indexCount, indexBuf != nil)
}

func (e *Engine) newMesh(vf pipelinecache.VertexFormat, vbuf *Buffer, vertexCount uint32, ownsVertex bool, ibuf *Buffer, indexCount uint32, hasIndex bool) (*Mesh, error) {
	idx, id := e.meshes.Alloc()
	if idx == handle.Invalid {
		return nil, ErrOutOfMemory("create mesh: table exhausted", nil)
	}

	vfIdx := e.cache.RegisterVertexFormat(vf)

	m := &Mesh{
		eng: e, idx: idx, id: id,
		vertexFormat: vf, vertexFormatIdx: vfIdx,
		vertexBuf: vbuf, vertexCount: vertexCount, ownsVertex: ownsVertex,
	}
	if hasIndex {
		m.indexBuf = ibuf
		m.indexCount = indexCount
		m.ownsIndex = ownsVertex
	}

	e.mu.Lock()
	e.meshesByIdx[idx] = m
	e.mu.Unlock()
	return m, nil
}

func (m *Mesh) VertexFormatIndex() uint32 { return m.vertexFormatIdx }
func (m *Mesh) VertexBuffer() *Buffer     { return m.vertexBuf }
func (m *Mesh) IndexBuffer() *Buffer      { return m.indexBuf }
func (m *Mesh) VertexCount() uint32       { return m.vertexCount }
func (m *Mesh) IndexCount() uint32        { return m.indexCount }
func (m *Mesh) Indexed() bool             { return m.indexBuf != nil }

// Handle is this mesh's identity key for renderlist.Item.Mesh.
func (m *Mesh) Handle() uintptr { return uintptr(unsafe.Pointer(m)) }

// Destroy destroys any buffer this mesh owns (on threadID's ring, via
// Buffer.Destroy's own deferred-destruction path) and frees the mesh's
// handle for reuse. Buffers passed in via CreateMeshFromBuffers are left
// untouched.
func (m *Mesh) Destroy(threadID uint64) error {
	if m.ownsVertex {
		if err := m.vertexBuf.Destroy(threadID); err != nil {
			return err
		}
	}
	if m.ownsIndex && m.indexBuf != nil {
		if err := m.indexBuf.Destroy(threadID); err != nil {
			return err
		}
	}

	m.eng.mu.Lock()
	delete(m.eng.meshesByIdx, m.idx)
	m.eng.mu.Unlock()
	m.eng.meshes.Free(m.idx)
	return nil
}
