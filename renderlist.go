package skr

import (
	"github.com/google/uuid"

	"github.com/NOT-REAL-GAMES/skr/internal/handle"
	"github.com/NOT-REAL-GAMES/skr/renderlist"
)

// RenderList accumulates draw items for one frame: Add/AddIndexed append,
// Sort/Batches order and merge them, Clear empties it for reuse next frame.
type RenderList struct {
	eng  *Engine
	idx  uint32
	id   uuid.UUID
	list *renderlist.List
}

func (e *Engine) CreateRenderList() (*RenderList, error) {
	idx, id := e.lists.Alloc()
	if idx == handle.Invalid {
		return nil, ErrOutOfMemory("create render list: table exhausted", nil)
	}

	l := &RenderList{eng: e, idx: idx, id: id, list: renderlist.New()}
	e.mu.Lock()
	e.listsByIdx[idx] = l
	e.mu.Unlock()
	return l, nil
}

// Add appends a non-indexed draw item drawing mesh with material, using the
// instance data's byte contents as this item's slice of the packed
// instance-data blob.
func (l *RenderList) Add(queueOffset int32, mesh *Mesh, material *Material, vertexCount, instanceCount, firstVertex, firstInstance uint32, instanceData []byte) {
	l.list.Add(queueOffset, mesh.Handle(), material.Handle(), vertexCount, instanceCount, firstVertex, firstInstance, instanceData)
}

// AddIndexed appends an indexed draw item.
func (l *RenderList) AddIndexed(queueOffset int32, mesh *Mesh, material *Material, indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32, instanceData []byte) {
	l.list.AddIndexed(queueOffset, mesh.Handle(), material.Handle(), indexCount, instanceCount, firstIndex, vertexOffset, firstInstance, instanceData)
}

func (l *RenderList) Clear()            { l.list.Clear() }
func (l *RenderList) Len() int          { return l.list.Len() }
func (l *RenderList) Sort()             { l.list.Sort() }
func (l *RenderList) InstanceBlob() []byte { return l.list.InstanceBlob() }
func (l *RenderList) Batches() []renderlist.Batch { return l.list.Batches() }

// Raw exposes the wrapped list for DrawList, which needs the concrete type
// renderer.DrawList takes.
func (l *RenderList) Raw() *renderlist.List { return l.list }

// Destroy frees the render list's handle for reuse. A render list owns no
// GPU objects of its own, so nothing is enqueued on a destroy list.
func (l *RenderList) Destroy() {
	l.eng.mu.Lock()
	delete(l.eng.listsByIdx, l.idx)
	l.eng.mu.Unlock()
	l.eng.lists.Free(l.idx)
}
